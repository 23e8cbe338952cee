package continuity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Corphon/StoryReel/internal/models"
	"github.com/Corphon/StoryReel/internal/storage"
)

type countingImager struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (c *countingImager) GenerateReference(ctx context.Context, key, descriptor string) (string, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.err != nil {
		return "", c.err
	}
	return "/refs/" + key + ".png", nil
}

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	fs, err := storage.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStorage: %v", err)
	}
	return NewFileStore(fs)
}

func scriptWith(chapter int, scenes ...[]string) *models.VideoScript {
	s := &models.VideoScript{
		ChapterIndex: chapter,
		Title:        fmt.Sprintf("Chapter %d", chapter),
		TimePeriod:   "1870s",
		Setting:      "St. Petersburg",
		VisualStyle:  "oil painting",
	}
	for i, names := range scenes {
		s.Scenes = append(s.Scenes, models.Scene{Number: i + 1, Narration: "n", Characters: names})
	}
	return s
}

func TestResolveCreatesThenReusesDescriptor(t *testing.T) {
	store := newFileStore(t)
	imager := &countingImager{}
	r := NewResolver(store, TemplateDescriber{}, imager)
	ctx := context.Background()

	first, err := r.Resolve(ctx, scriptWith(1, []string{"Anna"}, []string{"Anna", "Vronsky"}))
	if err != nil {
		t.Fatalf("Resolve chapter 1: %v", err)
	}

	// A later chapter with a different setting must not change the stored descriptor.
	later := scriptWith(2, []string{"anna  "})
	later.Setting = "Moscow"
	second, err := r.Resolve(ctx, later)
	if err != nil {
		t.Fatalf("Resolve chapter 2: %v", err)
	}

	if first.Descriptor("Anna") != second.Descriptor("Anna") {
		t.Errorf("Descriptor changed across appearances:\n%q\n%q", first.Descriptor("Anna"), second.Descriptor("Anna"))
	}
	if imager.calls.Load() != 2 {
		t.Errorf("Expected 2 image calls (Anna, Vronsky), got %d", imager.calls.Load())
	}

	anna, err := store.Get(ctx, "anna")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if anna.Appearances != 3 {
		t.Errorf("Expected 3 appearances, got %d", anna.Appearances)
	}
	if anna.ReferenceImage != "/refs/anna.png" {
		t.Errorf("Unexpected reference image %q", anna.ReferenceImage)
	}
}

func TestConcurrentResolveCreatesOnce(t *testing.T) {
	store := newFileStore(t)
	imager := &countingImager{delay: 20 * time.Millisecond}
	r := NewResolver(store, TemplateDescriber{}, imager)

	const workers = 12
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.Resolve(context.Background(), scriptWith(i, []string{"Levin"}))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
	}

	if got := imager.calls.Load(); got != 1 {
		t.Errorf("Expected exactly one image call, got %d", got)
	}
	all, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("Expected exactly one store entry, got %d", len(all))
	}
	if all[0].Appearances != workers {
		t.Errorf("Expected %d appearances, got %d", workers, all[0].Appearances)
	}
}

// gatedImager blocks until released or until its ctx ends.
type gatedImager struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedImager) GenerateReference(ctx context.Context, key, descriptor string) (string, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
		return "/refs/" + key + ".png", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestCancelledChapterDoesNotFailSharedCreation(t *testing.T) {
	store := newFileStore(t)
	imager := &gatedImager{started: make(chan struct{}), release: make(chan struct{})}
	r := NewResolver(store, TemplateDescriber{}, imager)

	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	first := make(chan error, 1)
	go func() {
		_, err := r.Resolve(ctx1, scriptWith(1, []string{"Anna"}))
		first <- err
	}()
	<-imager.started

	second := make(chan error, 1)
	go func() {
		_, err := r.Resolve(context.Background(), scriptWith(2, []string{"Anna"}))
		second <- err
	}()
	// Let chapter 2 join the in-flight creation before chapter 1 is cancelled.
	time.Sleep(50 * time.Millisecond)
	cancel1()

	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected chapter 1 to be cancelled, got %v", err)
	}
	close(imager.release)

	select {
	case err := <-second:
		if err != nil {
			t.Fatalf("Expected chapter 2 to resolve, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Chapter 2 did not finish")
	}

	anna, err := store.Get(context.Background(), "anna")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if anna.ReferenceImage != "/refs/anna.png" {
		t.Errorf("Expected the shared creation to store the image, got %q", anna.ReferenceImage)
	}
}

func TestImageFailureKeepsDescriptor(t *testing.T) {
	store := newFileStore(t)
	r := NewResolver(store, TemplateDescriber{}, &countingImager{err: errors.New("quota")})

	res, err := r.Resolve(context.Background(), scriptWith(1, []string{"Kitty"}))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	c := res.Characters["kitty"]
	if c.Descriptor == "" || c.ReferenceImage != "" {
		t.Errorf("Expected descriptor without image, got %+v", c)
	}
}

func TestFileStoreInsertConflict(t *testing.T) {
	store := newFileStore(t)
	ctx := context.Background()
	c := &models.Character{Key: "oblonsky", Name: "Oblonsky", Descriptor: "d", Appearances: 1}
	if err := store.Insert(ctx, c); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := store.Insert(ctx, c); err == nil {
		t.Errorf("Expected conflict on second insert")
	}
	if _, err := store.Get(ctx, "nobody"); err == nil {
		t.Errorf("Expected not found")
	}
}

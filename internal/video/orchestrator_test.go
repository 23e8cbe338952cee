package video

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/Corphon/StoryReel/internal/errors"
	"github.com/Corphon/StoryReel/internal/models"
	"github.com/Corphon/StoryReel/internal/storage"
	"github.com/Corphon/StoryReel/internal/utils"
)

// scriptedProvider replays results in order, repeating the last one.
type scriptedProvider struct {
	name    string
	results []Result
	calls   atomic.Int32
	rate    float64
	delay   time.Duration

	mu       sync.Mutex
	inFlight int
	peak     int
}

func (p *scriptedProvider) Name() string                  { return p.name }
func (p *scriptedProvider) CostPerSecond() float64        { return p.rate }
func (p *scriptedProvider) TypicalLatency() time.Duration { return time.Second }

func (p *scriptedProvider) Submit(ctx context.Context, req ClipRequest) Result {
	i := int(p.calls.Add(1)) - 1

	p.mu.Lock()
	p.inFlight++
	if p.inFlight > p.peak {
		p.peak = p.inFlight
	}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}()

	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return TransientFailure(ctx.Err().Error())
		case <-time.After(p.delay):
		}
	}
	if i >= len(p.results) {
		i = len(p.results) - 1
	}
	res := p.results[i]
	if res.Kind == ResultSuccess && res.Clip.Path == "" {
		res.Clip = Clip{Path: req.OutputPath, DurationSeconds: req.DurationSeconds}
	}
	return res
}

type fakeFallback struct {
	calls atomic.Int32
	err   error
}

func (f *fakeFallback) RenderFallback(ctx context.Context, req ClipRequest) (Clip, error) {
	f.calls.Add(1)
	if f.err != nil {
		return Clip{}, f.err
	}
	return Clip{Path: req.OutputPath, DurationSeconds: req.DurationSeconds}, nil
}

type memoryJobs struct {
	mu   sync.Mutex
	jobs []models.GenerationJob
}

func (m *memoryJobs) Append(ctx context.Context, job models.GenerationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
	return nil
}

func (m *memoryJobs) List(ctx context.Context, chapterIndex int) ([]models.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.GenerationJob(nil), m.jobs...), nil
}

func policy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, BaseBackoff: time.Second, MaxBackoff: 4 * time.Second, MaxConcurrent: 2}
}

func newTestOrchestrator(entries []Entry, fb FallbackRenderer, jobs JobStore) (*Orchestrator, *[]time.Duration) {
	o := NewOrchestrator(entries, fb, jobs, utils.NewPipelineMetrics(utils.NewMetricsCollector()))
	var delays []time.Duration
	var mu sync.Mutex
	o.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return ctx.Err()
	}
	return o, &delays
}

func request(scene int) ClipRequest {
	return ClipRequest{RunID: "run", ChapterIndex: 1, SceneNumber: scene, DurationSeconds: 10, AspectRatio: "9:16", OutputPath: "/tmp/clip.mp4"}
}

func TestGenerateEscalatesOnFatalFailure(t *testing.T) {
	a := &scriptedProvider{name: "A", results: []Result{FatalFailure("unauthorized")}, rate: 0.05}
	b := &scriptedProvider{name: "B", results: []Result{Success(Clip{})}, rate: 0.02}
	jobs := &memoryJobs{}
	o, _ := newTestOrchestrator([]Entry{{a, policy(3)}, {b, policy(3)}}, &fakeFallback{}, jobs)

	out, err := o.Generate(context.Background(), request(1))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.Provider != "B" || out.Fallback {
		t.Errorf("Expected clip from B, got %+v", out)
	}
	if a.calls.Load() != 1 {
		t.Errorf("Fatal failure must not be retried, A called %d times", a.calls.Load())
	}

	if len(out.Jobs) != 2 {
		t.Fatalf("Expected 2 jobs, got %d", len(out.Jobs))
	}
	if out.Jobs[0].Provider != "A" || out.Jobs[0].Status != models.JobExhausted {
		t.Errorf("First job should be A exhausted, got %+v", out.Jobs[0])
	}
	if out.Jobs[1].Provider != "B" || out.Jobs[1].Status != models.JobSucceeded {
		t.Errorf("Second job should be B succeeded, got %+v", out.Jobs[1])
	}
	if math.Abs(out.Cost-0.2) > 1e-9 {
		t.Errorf("Expected cost 0.2 (10s at 0.02), got %v", out.Cost)
	}
	if len(jobs.jobs) != 2 {
		t.Errorf("Expected 2 persisted jobs, got %d", len(jobs.jobs))
	}
}

func TestGenerateRetriesTransientWithBackoff(t *testing.T) {
	a := &scriptedProvider{name: "A", results: []Result{
		TransientFailure("503"), TransientFailure("503"), TransientFailure("503"), Success(Clip{}),
	}}
	o, delays := newTestOrchestrator([]Entry{{a, policy(4)}}, &fakeFallback{}, nil)

	out, err := o.Generate(context.Background(), request(1))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.Provider != "A" || a.calls.Load() != 4 {
		t.Errorf("Expected success on 4th attempt, calls=%d out=%+v", a.calls.Load(), out)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(*delays) != len(want) {
		t.Fatalf("Expected delays %v, got %v", want, *delays)
	}
	for i := range want {
		if (*delays)[i] != want[i] {
			t.Errorf("delay %d: expected %v, got %v", i, want[i], (*delays)[i])
		}
	}
	for i, job := range out.Jobs[:3] {
		if job.Status != models.JobFailed || job.Attempt != i+1 {
			t.Errorf("job %d: unexpected %+v", i, job)
		}
	}
}

func TestGenerateFallsBackWhenAllProvidersFail(t *testing.T) {
	a := &scriptedProvider{name: "A", results: []Result{TransientFailure("timeout")}}
	b := &scriptedProvider{name: "B", results: []Result{FatalFailure("quota")}}
	fb := &fakeFallback{}
	o, _ := newTestOrchestrator([]Entry{{a, policy(2)}, {b, policy(2)}}, fb, nil)

	out, err := o.Generate(context.Background(), request(2))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !out.Fallback || out.Provider != "fallback" || fb.calls.Load() != 1 {
		t.Errorf("Expected fallback clip, got %+v", out)
	}
	if out.Clip.DurationSeconds != 10 {
		t.Errorf("Fallback clip must keep scene duration, got %v", out.Clip.DurationSeconds)
	}
	if a.calls.Load() != 2 || b.calls.Load() != 1 {
		t.Errorf("Unexpected call counts A=%d B=%d", a.calls.Load(), b.calls.Load())
	}
	if n := len(out.Jobs); n != 3 {
		t.Errorf("Expected 3 jobs, got %d", n)
	}
}

func TestGenerateFallbackFailure(t *testing.T) {
	a := &scriptedProvider{name: "A", results: []Result{FatalFailure("bad")}}
	o, _ := newTestOrchestrator([]Entry{{a, policy(1)}}, &fakeFallback{err: errors.New("ffmpeg missing")}, nil)

	_, err := o.Generate(context.Background(), request(1))
	if !apperrors.IsProvidersExhaustedError(err) {
		t.Errorf("Expected providers exhausted error, got %v", err)
	}
}

func TestGenerateStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &scriptedProvider{name: "A", results: []Result{TransientFailure("slow")}, delay: time.Hour}
	b := &scriptedProvider{name: "B", results: []Result{Success(Clip{})}}
	fb := &fakeFallback{}
	o, _ := newTestOrchestrator([]Entry{{a, policy(5)}, {b, policy(1)}}, fb, nil)

	done := make(chan error, 1)
	go func() {
		_, err := o.Generate(ctx, request(1))
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Generate did not return after cancel")
	}
	if a.calls.Load() != 1 || b.calls.Load() != 0 || fb.calls.Load() != 0 {
		t.Errorf("Cancellation must stop retries and escalation: A=%d B=%d fallback=%d",
			a.calls.Load(), b.calls.Load(), fb.calls.Load())
	}
}

// lateProvider delivers its clip just as the run is cancelled.
type lateProvider struct {
	scriptedProvider
	cancel context.CancelFunc
}

func (p *lateProvider) Submit(ctx context.Context, req ClipRequest) Result {
	p.cancel()
	return Success(Clip{Path: req.OutputPath, DurationSeconds: req.DurationSeconds})
}

func TestGenerateKeepsClipDeliveredAtCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := &lateProvider{scriptedProvider: scriptedProvider{name: "A", rate: 0.05}, cancel: cancel}
	jobs := &memoryJobs{}
	o, _ := newTestOrchestrator([]Entry{{a, policy(3)}}, &fakeFallback{}, jobs)

	out, err := o.Generate(ctx, request(1))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	recorded, _ := jobs.List(context.Background(), 1)
	if len(recorded) != 1 {
		t.Fatalf("Expected 1 job, got %d", len(recorded))
	}
	if recorded[0].Status != models.JobSucceeded || recorded[0].ClipPath != "/tmp/clip.mp4" {
		t.Errorf("Expected the delivered clip to be recorded as succeeded, got %s %q", recorded[0].Status, recorded[0].ClipPath)
	}
	if out.Clip.Path != "/tmp/clip.mp4" || out.Cost <= 0 {
		t.Errorf("Expected the clip and its cost in the result, got %+v", out)
	}
}

func TestGenerateCallTimeoutIsTransient(t *testing.T) {
	a := &scriptedProvider{name: "A", results: []Result{FatalFailure("adapter saw deadline")}, delay: time.Hour}
	b := &scriptedProvider{name: "B", results: []Result{Success(Clip{})}}
	p := policy(2)
	p.CallTimeout = 10 * time.Millisecond
	o, _ := newTestOrchestrator([]Entry{{a, p}, {b, policy(1)}}, &fakeFallback{}, nil)

	out, err := o.Generate(context.Background(), request(1))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if a.calls.Load() != 2 {
		t.Errorf("Timed out calls should be retried, A called %d times", a.calls.Load())
	}
	if out.Provider != "B" {
		t.Errorf("Expected escalation to B, got %q", out.Provider)
	}
}

func TestProviderConcurrencyLimit(t *testing.T) {
	a := &scriptedProvider{name: "A", results: []Result{Success(Clip{})}, delay: 20 * time.Millisecond}
	p := policy(1)
	p.MaxConcurrent = 2
	o, _ := newTestOrchestrator([]Entry{{a, p}}, &fakeFallback{}, nil)

	var wg sync.WaitGroup
	for i := 1; i <= 6; i++ {
		wg.Add(1)
		go func(scene int) {
			defer wg.Done()
			if _, err := o.Generate(context.Background(), request(scene)); err != nil {
				t.Errorf("scene %d: %v", scene, err)
			}
		}(i)
	}
	wg.Wait()

	if a.peak > 2 {
		t.Errorf("Expected at most 2 concurrent calls, saw %d", a.peak)
	}
}

func TestPolicyBackoffCapped(t *testing.T) {
	p := Policy{BaseBackoff: 2 * time.Second, MaxBackoff: 5 * time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestFileJobStoreOrdersByStart(t *testing.T) {
	fs, err := storage.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	store := NewFileJobStore(fs)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, offset := range []int{3, 1, 2} {
		job := models.GenerationJob{ID: string(rune('a' + offset)), ChapterIndex: 4, StartedAt: base.Add(time.Duration(offset) * time.Minute)}
		if err := store.Append(context.Background(), job); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	jobs, err := store.List(context.Background(), 4)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 3 || jobs[0].ID != "b" || jobs[2].ID != "d" {
		t.Errorf("Unexpected order %+v", jobs)
	}
	if empty, _ := store.List(context.Background(), 9); len(empty) != 0 {
		t.Errorf("Expected no jobs for unknown chapter")
	}
}

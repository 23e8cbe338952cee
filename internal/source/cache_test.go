package source

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Corphon/StoryReel/internal/models"
)

func TestCacheReparsesOnlyOnChange(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write("01-opening.txt", "It was a bright cold day.")

	c := NewCache(4, time.Hour)
	parses := 0
	parse := func(path string) ([]models.SourceChapter, error) {
		parses++
		return parseCorpus(path)
	}

	for i := 0; i < 3; i++ {
		chapters, err := c.Load(dir, parse)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if len(chapters) != 1 {
			t.Fatalf("Expected 1 chapter, got %d", len(chapters))
		}
		chapters[0].Title = "mutated"
	}
	if parses != 1 {
		t.Errorf("Expected 1 parse for an unchanged corpus, got %d", parses)
	}

	write("02-letters.txt", "The letters arrived at noon.")
	chapters, err := c.Load(dir, parse)
	if err != nil {
		t.Fatal(err)
	}
	if parses != 2 || len(chapters) != 2 {
		t.Errorf("Expected a reparse with 2 chapters, got %d parses and %d chapters", parses, len(chapters))
	}
	if chapters[0].Title == "mutated" {
		t.Error("Callers must not share the cached slice")
	}
}

func TestCacheExpiresAndEvicts(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "book.txt"), []byte("Chapter 1\nOnce."), 0644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "book.txt")

	now := time.Now()
	c := NewCache(1, time.Minute)
	c.now = func() time.Time { return now }

	parses := 0
	parse := func(p string) ([]models.SourceChapter, error) {
		parses++
		return parseCorpus(p)
	}
	c.Load(path, parse)
	now = now.Add(2 * time.Minute)
	c.Load(path, parse)
	if parses != 2 {
		t.Errorf("Expected an expired entry to be reparsed, got %d parses", parses)
	}

	c.Load(dir, parse)
	if len(c.entries) != 1 {
		t.Errorf("Expected eviction to keep 1 entry, got %d", len(c.entries))
	}

	if _, err := c.Load(filepath.Join(dir, "missing"), parse); err == nil {
		t.Error("Expected an error for a missing corpus")
	}
}

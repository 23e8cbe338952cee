package lock

import (
	"sync"
	"testing"
)

func TestExecuteWithLockSerializesPerKey(t *testing.T) {
	lm := NewLockManager()
	counter := 0
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.ExecuteWithLock("chapter-1", func() error {
				v := counter
				counter = v + 1
				return nil
			})
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("Expected 50 increments, got %d", counter)
	}
	if lm.Len() != 0 {
		t.Errorf("Expected lock entries to be released, got %d", lm.Len())
	}
}

func TestDifferentKeysDoNotBlock(t *testing.T) {
	lm := NewLockManager()
	done := make(chan struct{})

	go lm.ExecuteWithLock("a", func() error {
		<-done
		return nil
	})

	// Holding "a" must not block "b".
	if err := lm.ExecuteWithReadLock("b", func() error { return nil }); err != nil {
		t.Errorf("Unexpected error %v", err)
	}
	close(done)
}

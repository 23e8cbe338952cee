// internal/progress/events.go
package progress

import (
	"sync"
	"time"

	"github.com/Corphon/StoryReel/internal/models"
)

// Broadcaster fans progress events out to subscribers. Slow subscribers miss
// events rather than blocking the pipeline.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[chan models.ProgressEvent]bool
	last        map[int]models.ProgressEvent
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan models.ProgressEvent]bool),
		last:        make(map[int]models.ProgressEvent),
	}
}

// Publish stamps and delivers ev.
func (b *Broadcaster) Publish(ev models.ProgressEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.last[ev.ChapterIndex] = ev
	for sub := range b.subscribers {
		select {
		case sub <- ev:
		default:
		}
	}
}

// Subscribe returns a buffered channel that first receives the latest event of
// every chapter, then live events. Call the returned func to unsubscribe.
func (b *Broadcaster) Subscribe() (<-chan models.ProgressEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(chan models.ProgressEvent, 32)
	for _, ev := range b.last {
		select {
		case sub <- ev:
		default:
		}
	}
	b.subscribers[sub] = true

	var once sync.Once
	return sub, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subscribers, sub)
			close(sub)
		})
	}
}

// Last returns the most recent event of a chapter.
func (b *Broadcaster) Last(chapterIndex int) (models.ProgressEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev, ok := b.last[chapterIndex]
	return ev, ok
}

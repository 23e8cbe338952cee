// internal/progress/tracker.go
package progress

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/Corphon/StoryReel/internal/errors"
	"github.com/Corphon/StoryReel/internal/lock"
	"github.com/Corphon/StoryReel/internal/models"
	"github.com/Corphon/StoryReel/internal/utils"
)

// CompletionResult is what a finished chapter reports to the checkpoint.
type CompletionResult struct {
	ArtifactPath string
	Degraded     bool
	Cost         float64
}

// Tracker is the durable checkpoint of corpus progress. Every Mark call returns
// only after the new state is persisted.
type Tracker struct {
	store  Store
	locks  *lock.LockManager
	logger *utils.Logger

	mu     sync.RWMutex
	record *models.ProgressRecord

	maxAttempts int
	backoff     time.Duration
	now         func() time.Time
}

// NewTracker loads the existing checkpoints from store.
func NewTracker(ctx context.Context, store Store) (*Tracker, error) {
	t := &Tracker{
		store:       store,
		locks:       lock.NewLockManager(),
		logger:      utils.GetLogger().With(map[string]interface{}{"component": "progress"}),
		record:      &models.ProgressRecord{Chapters: make(map[int]*models.ChapterProgress)},
		maxAttempts: 4,
		backoff:     250 * time.Millisecond,
		now:         time.Now,
	}
	if err := t.Reload(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// Reload replaces the in-memory view with the persisted checkpoints.
func (t *Tracker) Reload(ctx context.Context) error {
	all, err := t.store.LoadAll(ctx)
	if err != nil {
		return apperrors.NewPersistenceError("load progress", err)
	}

	rec := &models.ProgressRecord{Chapters: make(map[int]*models.ChapterProgress, len(all))}
	var latest time.Time
	for index, cp := range all {
		cp := cp
		rec.Chapters[index] = &cp
		if cp.UpdatedAt.After(latest) || (cp.UpdatedAt.Equal(latest) && index > rec.CurrentChapter) {
			latest = cp.UpdatedAt
			rec.CurrentChapter = index
		}
	}

	t.mu.Lock()
	t.record = rec
	t.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the current record.
func (t *Tracker) Snapshot() *models.ProgressRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.record.Clone()
}

// Chapter returns the checkpoint of one chapter; unknown chapters are pending.
func (t *Tracker) Chapter(index int) models.ChapterProgress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if cp, ok := t.record.Chapters[index]; ok {
		return *cp
	}
	return models.ChapterProgress{Status: models.ChapterPending}
}

// ResumePoint returns the lowest chapter in 1..total that is not complete.
// ok is false when every chapter is complete.
func (t *Tracker) ResumePoint(total int) (index int, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := 1; i <= total; i++ {
		cp, exists := t.record.Chapters[i]
		if !exists || cp.Status != models.ChapterComplete {
			return i, true
		}
	}
	return 0, false
}

func (t *Tracker) MarkInProgress(ctx context.Context, index int) error {
	return t.transition(ctx, index, models.ChapterProgress{Status: models.ChapterInProgress})
}

func (t *Tracker) MarkComplete(ctx context.Context, index int, result CompletionResult) error {
	return t.transition(ctx, index, models.ChapterProgress{
		Status:       models.ChapterComplete,
		Degraded:     result.Degraded,
		Cost:         result.Cost,
		ArtifactPath: result.ArtifactPath,
	})
}

func (t *Tracker) MarkFailed(ctx context.Context, index int, reason string) error {
	return t.transition(ctx, index, models.ChapterProgress{Status: models.ChapterFailed, Reason: reason})
}

// MarkNeedsReview records a failure that only a human can fix, such as a
// chapter too short for its scene count.
func (t *Tracker) MarkNeedsReview(ctx context.Context, index int, reason string) error {
	return t.transition(ctx, index, models.ChapterProgress{Status: models.ChapterFailed, Reason: reason, NeedsReview: true})
}

// transition persists cp for chapter index. Writers of the same chapter are
// serialized; the in-memory view changes only after the store accepted the write.
func (t *Tracker) transition(ctx context.Context, index int, cp models.ChapterProgress) error {
	if index < 1 {
		return apperrors.NewValidationError(fmt.Sprintf("invalid chapter index %d", index), nil)
	}
	return t.locks.ExecuteWithLock(strconv.Itoa(index), func() error {
		cp.UpdatedAt = t.now().UTC()
		if err := t.persist(ctx, index, cp); err != nil {
			return err
		}

		t.mu.Lock()
		t.record.Chapters[index] = &cp
		t.record.CurrentChapter = index
		t.mu.Unlock()

		t.logger.Info("chapter checkpoint written", map[string]interface{}{
			"chapter": index,
			"status":  string(cp.Status),
		})
		return nil
	})
}

func (t *Tracker) persist(ctx context.Context, index int, cp models.ChapterProgress) error {
	// Checkpoints are written even while a run is being cancelled.
	ctx = context.WithoutCancel(ctx)

	var err error
	delay := t.backoff
	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		if err = t.store.Put(ctx, index, cp); err == nil {
			return nil
		}
		if attempt == t.maxAttempts {
			break
		}
		t.logger.Warn("checkpoint write failed, retrying", map[string]interface{}{
			"chapter": index,
			"attempt": attempt,
			"error":   err.Error(),
		})
		time.Sleep(delay)
		delay *= 2
	}
	return apperrors.NewPersistenceError(fmt.Sprintf("write checkpoint for chapter %d", index), err)
}

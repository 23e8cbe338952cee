// internal/script/store.go
package script

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/Corphon/StoryReel/internal/errors"
	"github.com/Corphon/StoryReel/internal/lock"
	"github.com/Corphon/StoryReel/internal/models"
	"github.com/Corphon/StoryReel/internal/storage"
)

const scriptsDir = "scripts"

// Store keeps one VideoScript per chapter and enforces the review workflow:
// only drafts can be edited, approved or rejected.
type Store struct {
	fs    *storage.FileStorage
	locks *lock.LockManager
	now   func() time.Time
}

func NewStore(fs *storage.FileStorage) *Store {
	return &Store{fs: fs, locks: lock.NewLockManager(), now: time.Now}
}

func scriptFile(index int) string {
	return fmt.Sprintf("chapter-%04d.json", index)
}

func (s *Store) load(index int) (*models.VideoScript, error) {
	var sc models.VideoScript
	if err := s.fs.LoadJSONFile(scriptsDir, scriptFile(index), &sc); err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("no script for chapter %d", index), err)
		}
		return nil, apperrors.NewPersistenceError("load script", err)
	}
	return &sc, nil
}

func (s *Store) save(sc *models.VideoScript) error {
	if err := s.fs.SaveJSONFile(scriptsDir, scriptFile(sc.ChapterIndex), sc); err != nil {
		return apperrors.NewPersistenceError("save script", err)
	}
	return nil
}

// Get returns a copy of the chapter's script.
func (s *Store) Get(index int) (*models.VideoScript, error) {
	var sc *models.VideoScript
	err := s.locks.ExecuteWithReadLock(strconv.Itoa(index), func() error {
		var err error
		sc, err = s.load(index)
		return err
	})
	return sc, err
}

// Put stores a freshly generated draft. An approved script is never replaced.
func (s *Store) Put(sc *models.VideoScript) error {
	return s.locks.ExecuteWithLock(strconv.Itoa(sc.ChapterIndex), func() error {
		if existing, err := s.load(sc.ChapterIndex); err == nil && existing.Status == models.ScriptApproved {
			return apperrors.NewConflictError(fmt.Sprintf("chapter %d already has an approved script", sc.ChapterIndex), nil)
		}
		return s.save(sc)
	})
}

// update applies fn to the stored draft under the chapter lock.
func (s *Store) update(index int, fn func(sc *models.VideoScript) error) (*models.VideoScript, error) {
	var out *models.VideoScript
	err := s.locks.ExecuteWithLock(strconv.Itoa(index), func() error {
		sc, err := s.load(index)
		if err != nil {
			return err
		}
		if sc.Status != models.ScriptDraft {
			return apperrors.NewConflictError(
				fmt.Sprintf("chapter %d script is %s, only drafts can be reviewed", index, sc.Status), nil)
		}
		if err := fn(sc); err != nil {
			return err
		}
		sc.UpdatedAt = s.now()
		if err := s.save(sc); err != nil {
			return err
		}
		out = sc
		return nil
	})
	return out, err
}

// Edit replaces the reviewable content of a draft. The edit must still
// satisfy the continuity rules.
func (s *Store) Edit(index int, edited *models.VideoScript) (*models.VideoScript, error) {
	return s.update(index, func(sc *models.VideoScript) error {
		next := edited.Clone()
		next.ChapterIndex = sc.ChapterIndex
		next.Status = models.ScriptDraft
		next.CreatedAt = sc.CreatedAt
		if next.NarrationStyle == "" {
			next.NarrationStyle = sc.NarrationStyle
		}
		for i := range next.Scenes {
			next.Scenes[i].Number = i + 1
		}
		if len(next.Scenes) > 0 {
			next.Scenes[0].Transition = ""
		}
		if err := next.Validate(); err != nil {
			return apperrors.NewValidationError(err.Error(), err)
		}
		*sc = *next
		return nil
	})
}

func (s *Store) Approve(index int, note string) (*models.VideoScript, error) {
	return s.update(index, func(sc *models.VideoScript) error {
		sc.Status = models.ScriptApproved
		sc.ReviewNote = strings.TrimSpace(note)
		return nil
	})
}

func (s *Store) Reject(index int, reason string) (*models.VideoScript, error) {
	return s.update(index, func(sc *models.VideoScript) error {
		sc.Status = models.ScriptRejected
		sc.ReviewNote = strings.TrimSpace(reason)
		return nil
	})
}

// Delete drops the chapter's script so it is generated again.
func (s *Store) Delete(index int) error {
	return s.locks.ExecuteWithLock(strconv.Itoa(index), func() error {
		return s.fs.DeleteFile(scriptsDir, scriptFile(index))
	})
}

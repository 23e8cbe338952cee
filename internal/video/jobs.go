// internal/video/jobs.go
package video

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"gorm.io/gorm"

	apperrors "github.com/Corphon/StoryReel/internal/errors"
	"github.com/Corphon/StoryReel/internal/lock"
	"github.com/Corphon/StoryReel/internal/models"
	"github.com/Corphon/StoryReel/internal/storage"
)

// JobStore keeps the attempt history used for cost auditing.
type JobStore interface {
	Append(ctx context.Context, job models.GenerationJob) error
	// List returns a chapter's jobs ordered by start time.
	List(ctx context.Context, chapterIndex int) ([]models.GenerationJob, error)
}

const jobsDir = "jobs"

// FileJobStore keeps one JSON array per chapter.
type FileJobStore struct {
	fs    *storage.FileStorage
	locks *lock.LockManager
}

func NewFileJobStore(fs *storage.FileStorage) *FileJobStore {
	return &FileJobStore{fs: fs, locks: lock.NewLockManager()}
}

func jobsFile(chapterIndex int) string {
	return fmt.Sprintf("chapter-%04d.json", chapterIndex)
}

func (s *FileJobStore) load(chapterIndex int) ([]models.GenerationJob, error) {
	var jobs []models.GenerationJob
	err := s.fs.LoadJSONFile(jobsDir, jobsFile(chapterIndex), &jobs)
	if errors.Is(err, storage.ErrNotExist) {
		return nil, nil
	}
	return jobs, err
}

func (s *FileJobStore) Append(ctx context.Context, job models.GenerationJob) error {
	return s.locks.ExecuteWithLock(strconv.Itoa(job.ChapterIndex), func() error {
		jobs, err := s.load(job.ChapterIndex)
		if err != nil {
			return apperrors.NewPersistenceError("load job history", err)
		}
		jobs = append(jobs, job)
		if err := s.fs.SaveJSONFile(jobsDir, jobsFile(job.ChapterIndex), jobs); err != nil {
			return apperrors.NewPersistenceError("save job history", err)
		}
		return nil
	})
}

func (s *FileJobStore) List(ctx context.Context, chapterIndex int) ([]models.GenerationJob, error) {
	var jobs []models.GenerationJob
	err := s.locks.ExecuteWithReadLock(strconv.Itoa(chapterIndex), func() error {
		var err error
		jobs, err = s.load(chapterIndex)
		return err
	})
	if err != nil {
		return nil, apperrors.NewPersistenceError("load job history", err)
	}
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].StartedAt.Before(jobs[j].StartedAt) })
	return jobs, nil
}

// GormJobStore keeps jobs in the generation_jobs table.
type GormJobStore struct {
	db *gorm.DB
}

func NewGormJobStore(db *gorm.DB) *GormJobStore {
	return &GormJobStore{db: db}
}

func (s *GormJobStore) Append(ctx context.Context, job models.GenerationJob) error {
	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		return apperrors.NewPersistenceError("insert generation job", err)
	}
	return nil
}

func (s *GormJobStore) List(ctx context.Context, chapterIndex int) ([]models.GenerationJob, error) {
	var jobs []models.GenerationJob
	err := s.db.WithContext(ctx).
		Where("chapter_index = ?", chapterIndex).
		Order("started_at").
		Find(&jobs).Error
	if err != nil {
		return nil, apperrors.NewPersistenceError("list generation jobs", err)
	}
	return jobs, nil
}

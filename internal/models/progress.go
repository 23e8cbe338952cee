// internal/models/progress.go
package models

import "time"

type ChapterStatus string

const (
	ChapterPending    ChapterStatus = "pending"
	ChapterInProgress ChapterStatus = "in_progress"
	ChapterComplete   ChapterStatus = "complete"
	ChapterFailed     ChapterStatus = "failed"
)

// ChapterProgress is the checkpoint of a single chapter.
type ChapterProgress struct {
	Status ChapterStatus `json:"status"`
	Reason string        `json:"reason,omitempty"`
	// NeedsReview marks a failure that automatic runs must not retry.
	NeedsReview  bool      `json:"needs_review,omitempty"`
	Degraded     bool      `json:"degraded,omitempty"`
	Cost         float64   `json:"cost,omitempty"`
	ArtifactPath string    `json:"artifact_path,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ProgressRecord is the durable checkpoint of the whole corpus.
type ProgressRecord struct {
	CurrentChapter int                      `json:"current_chapter"`
	Chapters       map[int]*ChapterProgress `json:"chapters"`
}

// Clone returns a deep copy safe to hand to readers.
func (p *ProgressRecord) Clone() *ProgressRecord {
	c := &ProgressRecord{
		CurrentChapter: p.CurrentChapter,
		Chapters:       make(map[int]*ChapterProgress, len(p.Chapters)),
	}
	for i, ch := range p.Chapters {
		cp := *ch
		c.Chapters[i] = &cp
	}
	return c
}

// ProgressEventType enumerates what a ProgressEvent reports.
type ProgressEventType string

const (
	EventChapterStarted   ProgressEventType = "chapter_started"
	EventStageStarted     ProgressEventType = "stage_started"
	EventSceneFinished    ProgressEventType = "scene_finished"
	EventChapterComplete  ProgressEventType = "chapter_complete"
	EventChapterFailed    ProgressEventType = "chapter_failed"
	EventChapterCancelled ProgressEventType = "chapter_cancelled"
)

// ProgressEvent is pushed to subscribers while a chapter runs.
type ProgressEvent struct {
	Type         ProgressEventType `json:"type"`
	ChapterIndex int               `json:"chapter_index"`
	Stage        string            `json:"stage,omitempty"`
	SceneNumber  int               `json:"scene_number,omitempty"`
	Progress     float64           `json:"progress"`
	Message      string            `json:"message,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

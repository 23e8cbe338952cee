// internal/models/job.go
package models

import "time"

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobExhausted JobStatus = "exhausted"
)

// GenerationJob records one attempt of one scene against one provider.
type GenerationJob struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	RunID        string     `gorm:"index;size:36" json:"run_id"`
	ChapterIndex int        `gorm:"index;not null" json:"chapter_index"`
	SceneNumber  int        `gorm:"not null" json:"scene_number"`
	Provider     string     `gorm:"not null" json:"provider"`
	Attempt      int        `gorm:"not null" json:"attempt"`
	Status       JobStatus  `gorm:"not null" json:"status"`
	ClipPath     string     `json:"clip_path,omitempty"`
	Error        string     `gorm:"type:text" json:"error,omitempty"`
	Cost         float64    `json:"cost"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// TableName overrides the table name
func (GenerationJob) TableName() string {
	return "generation_jobs"
}

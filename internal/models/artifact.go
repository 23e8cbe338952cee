// internal/models/artifact.go
package models

import "time"

// FinalArtifact is the normalized video written for one chapter. Immutable after write.
type FinalArtifact struct {
	ChapterIndex int           `json:"chapter_index"`
	Path         string        `json:"path"`
	CreatedAt    time.Time     `json:"created_at"`
	Duration     float64       `json:"duration"`
	Width        int           `json:"width"`
	Height       int           `json:"height"`
	Scenes       []SceneOutput `json:"scenes"`
	Degraded     bool          `json:"degraded"`
	TotalCost    float64       `json:"total_cost"`
}

// MediaInfo is what a probe reports about a media file.
type MediaInfo struct {
	Duration float64 `json:"duration"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
}

// internal/pipeline/context.go
package pipeline

import (
	"github.com/Corphon/StoryReel/internal/continuity"
	"github.com/Corphon/StoryReel/internal/models"
)

// ChapterContext is the state a chapter run accumulates stage by stage.
// Stages never mutate a context they were given; each With method returns a
// new value carrying one more increment.
type ChapterContext struct {
	RunID      string
	Chapter    models.SourceChapter
	Script     *models.VideoScript
	Continuity continuity.Resolution
	Scenes     []models.SceneOutput
	Artifact   *models.FinalArtifact
}

func NewChapterContext(runID string, chapter models.SourceChapter) ChapterContext {
	return ChapterContext{RunID: runID, Chapter: chapter}
}

func (c ChapterContext) WithScript(s *models.VideoScript) ChapterContext {
	c.Script = s.Clone()
	return c
}

func (c ChapterContext) WithContinuity(r continuity.Resolution) ChapterContext {
	c.Continuity = r
	return c
}

func (c ChapterContext) WithScenes(outs []models.SceneOutput) ChapterContext {
	c.Scenes = append([]models.SceneOutput(nil), outs...)
	return c
}

func (c ChapterContext) WithArtifact(a models.FinalArtifact) ChapterContext {
	a.Scenes = append([]models.SceneOutput(nil), a.Scenes...)
	c.Artifact = &a
	return c
}

// Degraded reports whether any scene used a fallback clip.
func (c ChapterContext) Degraded() bool {
	for _, s := range c.Scenes {
		if s.Fallback {
			return true
		}
	}
	return false
}

// Cost sums what the scene clips cost.
func (c ChapterContext) Cost() float64 {
	var total float64
	for _, s := range c.Scenes {
		total += s.Cost
	}
	return total
}

package pipeline

import (
	"testing"

	"github.com/Corphon/StoryReel/internal/models"
)

func TestChapterContextIncrementsDoNotAlias(t *testing.T) {
	sc := testScript(1)
	base := NewChapterContext("run", models.SourceChapter{Index: 1})
	withScript := base.WithScript(sc)

	sc.Scenes[0].Narration = "changed after the fact"
	if withScript.Script.Scenes[0].Narration == "changed after the fact" {
		t.Errorf("WithScript must copy the script")
	}
	if base.Script != nil {
		t.Errorf("Base context was mutated")
	}

	outs := []models.SceneOutput{
		{SceneNumber: 1, Cost: 0.5},
		{SceneNumber: 2, Cost: 0.25, Fallback: true},
	}
	withScenes := withScript.WithScenes(outs)
	outs[0].Cost = 100
	if got := withScenes.Cost(); got != 0.75 {
		t.Errorf("Cost() = %f, want 0.75", got)
	}
	if !withScenes.Degraded() || withScript.Degraded() {
		t.Errorf("Degraded should follow the scene outputs")
	}
}

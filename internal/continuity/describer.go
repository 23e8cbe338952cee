// internal/continuity/describer.go
package continuity

import (
	"context"
	"fmt"
	"strings"

	"github.com/Corphon/StoryReel/internal/llm"
	"github.com/Corphon/StoryReel/internal/models"
	"github.com/Corphon/StoryReel/internal/utils"
)

// TemplateDescriber builds a descriptor from the script context without any model call.
type TemplateDescriber struct{}

func (TemplateDescriber) Describe(_ context.Context, name string, script *models.VideoScript) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s, a character of %s", strings.TrimSpace(name), script.TimePeriod)
	if script.Setting != "" {
		fmt.Fprintf(&b, " in %s", script.Setting)
	}
	b.WriteString(", period-accurate clothing and hairstyle")
	if script.VisualStyle != "" {
		fmt.Fprintf(&b, ", rendered in %s style", script.VisualStyle)
	}
	b.WriteString(", consistent face and build in every shot")
	return b.String(), nil
}

// LLMDescriber asks a text model for a fixed physical description and
// falls back to TemplateDescriber when the model call fails.
type LLMDescriber struct {
	provider llm.Provider
	fallback TemplateDescriber
	logger   *utils.Logger
}

func NewLLMDescriber(provider llm.Provider) *LLMDescriber {
	return &LLMDescriber{provider: provider, logger: utils.GetLogger()}
}

const describerSystemPrompt = `You write visual character sheets for video generation.
Answer with one paragraph of at most 60 words describing only stable physical traits:
apparent age, build, face, hair, clothing. No actions, no emotions, no camera directions.`

func (d *LLMDescriber) Describe(ctx context.Context, name string, script *models.VideoScript) (string, error) {
	var mentions []string
	for _, scene := range script.Scenes {
		for _, c := range scene.Characters {
			if models.NormalizeName(c) == models.NormalizeName(name) {
				mentions = append(mentions, scene.Narration)
				break
			}
		}
	}

	prompt := fmt.Sprintf("Character: %s\nStory: %s\nTime period: %s\nSetting: %s\nVisual style: %s\nScenes mentioning the character:\n- %s",
		name, script.Title, script.TimePeriod, script.Setting, script.VisualStyle, strings.Join(mentions, "\n- "))

	resp, err := d.provider.CompleteText(ctx, llm.CompletionRequest{
		SystemPrompt: describerSystemPrompt,
		Prompt:       prompt,
		MaxTokens:    200,
		Temperature:  0.4,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		d.logger.Warn("descriptor generation failed, using template", map[string]interface{}{
			"character": name,
			"error":     err.Error(),
		})
		return d.fallback.Describe(ctx, name, script)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return d.fallback.Describe(ctx, name, script)
	}
	return fmt.Sprintf("%s: %s", strings.TrimSpace(name), text), nil
}

// internal/script/generator.go
package script

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Corphon/StoryReel/internal/config"
	apperrors "github.com/Corphon/StoryReel/internal/errors"
	"github.com/Corphon/StoryReel/internal/llm"
	"github.com/Corphon/StoryReel/internal/models"
	"github.com/Corphon/StoryReel/internal/utils"
)

// Options control one script generation.
type Options struct {
	SceneCount     int
	TargetDuration float64
	Style          models.NarrationStyle
	VisualStyle    string
	AspectRatio    string
	// Feedback is the review note of a rejected previous script.
	Feedback string
}

// OptionsFromConfig returns the configured defaults.
func OptionsFromConfig(p *config.PipelineConfig) Options {
	return Options{
		SceneCount:     p.Scenes.Count,
		TargetDuration: p.Scenes.TargetDurationSeconds,
		Style:          models.NarrationStyle(p.Scenes.Style),
		VisualStyle:    p.Scenes.VisualStyle,
		AspectRatio:    p.Output.AspectRatio,
	}
}

// Generator turns a chapter into a draft VideoScript with one structured LLM call.
type Generator struct {
	provider         llm.Provider
	minWordsPerScene int
	maxSourceChars   int
	maxAttempts      int
	backoff          time.Duration
	logger           *utils.Logger
}

func NewGenerator(provider llm.Provider, scenes config.SceneConfig) *Generator {
	return &Generator{
		provider:         provider,
		minWordsPerScene: scenes.MinWordsPerScene,
		maxSourceChars:   scenes.MaxSourceChars,
		maxAttempts:      3,
		backoff:          2 * time.Second,
		logger:           utils.GetLogger().With(map[string]interface{}{"component": "script"}),
	}
}

// Generate returns a draft script, or a ContentError when the chapter is too
// short for the requested scenes or the model output is structurally invalid.
func (g *Generator) Generate(ctx context.Context, chapter models.SourceChapter, opts Options) (*models.VideoScript, error) {
	if opts.SceneCount < 1 {
		opts.SceneCount = 1
	}
	if opts.TargetDuration <= 0 {
		return nil, apperrors.NewValidationError("target duration must be positive", nil)
	}
	if opts.TargetDuration < float64(opts.SceneCount)*minSceneSeconds {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("target duration %.1fs is too short for %d scenes", opts.TargetDuration, opts.SceneCount), nil)
	}
	if opts.Style == "" {
		opts.Style = models.NarrationNarrated
	}

	words := chapter.WordCount()
	if need := opts.SceneCount * g.minWordsPerScene; words < need {
		return nil, apperrors.NewContentError(
			fmt.Sprintf("chapter %d has %d words, %d scenes need at least %d", chapter.Index, words, opts.SceneCount, need), nil)
	}

	log := g.logger.With(map[string]interface{}{"chapter": chapter.Index})
	log.Info("generating script", map[string]interface{}{"scenes": opts.SceneCount, "words": words})

	req := llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Prompt:       buildPrompt(chapter, truncateWords(chapter.Text, g.maxSourceChars), opts),
		Temperature:  0.7,
		Schema: &llm.ResponseSchema{
			Name:        "video_script",
			Description: "Scene-by-scene script of a short narrated video",
			Schema:      scriptResponseSchema,
		},
	}

	resp, err := g.complete(ctx, req)
	if err != nil {
		return nil, err
	}

	parsed, err := decodeResponse(resp.Text)
	if err != nil {
		return nil, apperrors.NewContentError("script generation returned invalid JSON", err)
	}
	if len(parsed.Scenes) != opts.SceneCount {
		return nil, apperrors.NewContentError(
			fmt.Sprintf("script generation returned %d scenes, wanted %d", len(parsed.Scenes), opts.SceneCount), nil)
	}

	script := toVideoScript(chapter, parsed, opts)
	NormalizeDurations(script.Scenes, opts.TargetDuration)
	for i := range script.Scenes {
		script.Scenes[i].VisualPrompt = ComposeVisualPrompt(script, script.Scenes[i], opts.AspectRatio, nil)
	}

	if err := script.Validate(); err != nil {
		return nil, apperrors.NewContentError("script violates continuity rules", err)
	}

	log.Info("script generated", map[string]interface{}{
		"scenes":   len(script.Scenes),
		"duration": script.TotalDuration(),
	})
	return script, nil
}

// complete retries transient provider failures with exponential backoff.
func (g *Generator) complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		resp, err := g.provider.CompleteText(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !apperrors.IsRetryable(err) || attempt == g.maxAttempts {
			break
		}

		delay := g.backoff * time.Duration(1<<(attempt-1))
		g.logger.Warn("script generation attempt failed, retrying", map[string]interface{}{
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   err.Error(),
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, apperrors.WrapError(lastErr, "generate script", apperrors.ErrorTypeError)
}

func toVideoScript(chapter models.SourceChapter, r *scriptResponse, opts Options) *models.VideoScript {
	now := time.Now()
	script := &models.VideoScript{
		ChapterIndex:   chapter.Index,
		Title:          strings.TrimSpace(r.Title),
		TimePeriod:     strings.TrimSpace(r.TimePeriod),
		Setting:        strings.TrimSpace(r.Setting),
		VisualStyle:    orDefault(strings.TrimSpace(r.VisualStyle), opts.VisualStyle),
		NarrationStyle: opts.Style,
		Status:         models.ScriptDraft,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if script.Title == "" {
		script.Title = chapter.Title
	}

	for i, s := range r.Scenes {
		scene := models.Scene{
			Number:            i + 1,
			Narration:         strings.TrimSpace(s.Narration),
			VisualDescription: strings.TrimSpace(s.VisualDescription),
			DurationSeconds:   s.DurationSeconds,
			Transition:        strings.TrimSpace(s.Transition),
			Mood:              strings.TrimSpace(s.Mood),
			CameraAngle:       strings.TrimSpace(s.CameraAngle),
		}
		if i == 0 {
			scene.Transition = ""
		}
		for _, name := range s.Characters {
			if name = strings.TrimSpace(name); name != "" {
				scene.Characters = append(scene.Characters, name)
			}
		}
		script.Scenes = append(script.Scenes, scene)
	}
	return script
}

// minSceneSeconds is the shortest scene NormalizeDurations assigns.
const minSceneSeconds = 1.0

// NormalizeDurations rescales scene durations so they sum to target, keeping
// their relative lengths. Durations are rounded to 0.1 s; the last scene absorbs
// the rounding remainder. Any non-positive input selects equal shares. Every
// scene gets at least minSceneSeconds when target allows it, and always a
// positive duration.
func NormalizeDurations(scenes []models.Scene, target float64) {
	if len(scenes) == 0 || target <= 0 {
		return
	}

	var sum float64
	proportional := true
	for _, s := range scenes {
		if s.DurationSeconds <= 0 {
			proportional = false
		}
		sum += s.DurationSeconds
	}

	n := float64(len(scenes))
	minimum := minSceneSeconds
	if target < minimum*n {
		minimum = math.Floor(target/n*10) / 10
		if minimum <= 0 {
			minimum = target / n
		}
	}

	var assigned float64
	for i := range scenes {
		if i == len(scenes)-1 {
			scenes[i].DurationSeconds = math.Round((target-assigned)*10) / 10
			break
		}
		share := target / n
		if proportional {
			share = scenes[i].DurationSeconds / sum * target
		}
		// Leave the minimum for every scene after this one.
		remaining := float64(len(scenes) - i - 1)
		ceiling := math.Floor((target-assigned-remaining*minimum)*10+1e-6) / 10
		d := math.Round(share*10) / 10
		d = min(max(d, minimum), max(ceiling, minimum))
		scenes[i].DurationSeconds = d
		assigned += d
	}
}

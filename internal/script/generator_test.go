package script

import (
	"context"
	"math"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/Corphon/StoryReel/internal/config"
	apperrors "github.com/Corphon/StoryReel/internal/errors"
	"github.com/Corphon/StoryReel/internal/llm"
	"github.com/Corphon/StoryReel/internal/models"
)

type fakeProvider struct {
	responses []string
	errs      []error
	calls     int
	lastReq   llm.CompletionRequest
}

func (f *fakeProvider) Initialize(map[string]string) error { return nil }
func (f *fakeProvider) GetName() string                    { return "fake" }
func (f *fakeProvider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	i := f.calls
	f.calls++
	f.lastReq = req
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	text := f.responses[len(f.responses)-1]
	if i < len(f.responses) {
		text = f.responses[i]
	}
	return &llm.CompletionResponse{Text: text}, nil
}

const threeScenes = `{
  "title": "The Station",
  "time_period": "1870s Russia",
  "setting": "Moscow railway station",
  "visual_style": "oil painting",
  "scenes": [
    {"narration": "Steam rolls across the platform.", "visual_description": "A crowded platform", "duration_seconds": 8, "characters": ["Anna"], "transition": "", "mood": "anxious", "camera_angle": "wide shot"},
    {"narration": "She meets his eyes.", "visual_description": "Two strangers by a carriage", "duration_seconds": 12, "characters": ["Anna", "Vronsky"], "transition": "The crowd parts and we follow Anna to the carriage", "mood": "charged", "camera_angle": "close-up"},
    {"narration": "A bell rings.", "visual_description": "The train departs", "duration_seconds": 10, "characters": [], "transition": "The carriage door closes behind them", "mood": "ominous", "camera_angle": "tracking shot"}
  ]
}`

func chapterOfWords(n int) models.SourceChapter {
	return models.SourceChapter{Index: 1, Title: "Chapter One", Text: strings.Repeat("word ", n)}
}

func newTestGenerator(p llm.Provider) *Generator {
	g := NewGenerator(p, config.SceneConfig{MinWordsPerScene: 40, MaxSourceChars: 2000})
	g.backoff = 0
	return g
}

func defaultOptions() Options {
	return Options{SceneCount: 3, TargetDuration: 30, Style: models.NarrationNarrated, AspectRatio: "9:16"}
}

func TestGenerateProducesContinuousScript(t *testing.T) {
	p := &fakeProvider{responses: []string{"```json\n" + threeScenes + "\n```"}}
	s, err := newTestGenerator(p).Generate(context.Background(), chapterOfWords(500), defaultOptions())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if len(s.Scenes) != 3 || s.Status != models.ScriptDraft {
		t.Fatalf("Unexpected script %+v", s)
	}
	if s.TimePeriod == "" || s.Setting == "" {
		t.Errorf("Script-level continuity fields empty")
	}
	for i, scene := range s.Scenes {
		if scene.Mood == "" || scene.CameraAngle == "" || scene.VisualDescription == "" {
			t.Errorf("scene %d: continuity fields empty: %+v", i+1, scene)
		}
		if i > 0 && scene.Transition == "" {
			t.Errorf("scene %d: missing transition", i+1)
		}
		if !strings.Contains(scene.VisualPrompt, "1870s Russia") {
			t.Errorf("scene %d: visual prompt lacks time period: %q", i+1, scene.VisualPrompt)
		}
	}
	if math.Abs(s.TotalDuration()-30) > 0.01 {
		t.Errorf("Expected total duration 30, got %.2f", s.TotalDuration())
	}
	if p.lastReq.Schema == nil || p.lastReq.Schema.Schema == nil {
		t.Errorf("Expected structured output schema in request")
	}
}

func TestGenerateRejectsShortChapter(t *testing.T) {
	p := &fakeProvider{responses: []string{threeScenes}}
	_, err := newTestGenerator(p).Generate(context.Background(), chapterOfWords(100), defaultOptions())
	if !apperrors.IsContentError(err) {
		t.Fatalf("Expected content error, got %v", err)
	}
	if p.calls != 0 {
		t.Errorf("Provider must not be called for short chapters")
	}
}

func TestGenerateRejectsInvalidOutput(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"not json", "Once upon a time"},
		{"wrong scene count", `{"title":"x","time_period":"p","setting":"s","visual_style":"v","scenes":[]}`},
		{"missing transition", strings.Replace(threeScenes, `"The carriage door closes behind them"`, `""`, 1)},
		{"unknown field", strings.Replace(threeScenes, `"title"`, `"extra": 1, "title"`, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{responses: []string{tt.response}}
			_, err := newTestGenerator(p).Generate(context.Background(), chapterOfWords(500), defaultOptions())
			if !apperrors.IsContentError(err) {
				t.Errorf("Expected content error, got %v", err)
			}
		})
	}
}

func TestGenerateRetriesTransientErrors(t *testing.T) {
	p := &fakeProvider{
		responses: []string{threeScenes},
		errs:      []error{apperrors.NewTransientProviderError("429", nil)},
	}
	if _, err := newTestGenerator(p).Generate(context.Background(), chapterOfWords(500), defaultOptions()); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if p.calls != 2 {
		t.Errorf("Expected 2 calls, got %d", p.calls)
	}

	fatal := &fakeProvider{responses: []string{threeScenes}, errs: []error{apperrors.NewFatalProviderError("401", nil)}}
	_, err := newTestGenerator(fatal).Generate(context.Background(), chapterOfWords(500), defaultOptions())
	if !apperrors.IsFatalProviderError(err) || fatal.calls != 1 {
		t.Errorf("Fatal errors must not be retried: calls=%d err=%v", fatal.calls, err)
	}
}

func TestNormalizeDurations(t *testing.T) {
	tests := []struct {
		name   string
		in     []float64
		target float64
	}{
		{"proportional", []float64{8, 12, 10}, 30},
		{"scaled up", []float64{1, 1, 1}, 45},
		{"zeros", []float64{0, 0, 0, 0}, 30},
		{"uneven rounding", []float64{3, 3, 3}, 10},
		{"one dominant scene", []float64{100, 1, 1}, 30},
		{"dominant scene last", []float64{1, 1, 100}, 30},
		{"target below one second per scene", []float64{0, 0, 0, 0}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scenes := make([]models.Scene, len(tt.in))
			for i, d := range tt.in {
				scenes[i].DurationSeconds = d
			}
			NormalizeDurations(scenes, tt.target)
			feasible := tt.target >= float64(len(scenes))
			var sum float64
			for _, s := range scenes {
				if s.DurationSeconds <= 0 {
					t.Errorf("Non-positive duration %v", s.DurationSeconds)
				}
				if feasible && s.DurationSeconds < 1 {
					t.Errorf("Expected at least 1s per scene, got %v", s.DurationSeconds)
				}
				sum += s.DurationSeconds
			}
			if math.Abs(sum-tt.target) > 0.05 {
				t.Errorf("Expected sum %.1f, got %.2f", tt.target, sum)
			}
		})
	}
}

func TestGenerateAcceptsSkewedDurations(t *testing.T) {
	skewed := strings.Replace(threeScenes, `"duration_seconds": 8`, `"duration_seconds": 100`, 1)
	skewed = strings.Replace(skewed, `"duration_seconds": 12`, `"duration_seconds": 1`, 1)
	skewed = strings.Replace(skewed, `"duration_seconds": 10`, `"duration_seconds": 1`, 1)

	s, err := newTestGenerator(&fakeProvider{responses: []string{skewed}}).Generate(context.Background(), chapterOfWords(500), defaultOptions())
	if err != nil {
		t.Fatalf("Expected skewed durations to be normalized, got %v", err)
	}
	for _, scene := range s.Scenes {
		if scene.DurationSeconds < 1 {
			t.Errorf("Expected at least 1s for scene %d, got %v", scene.Number, scene.DurationSeconds)
		}
	}
	if math.Abs(s.TotalDuration()-30) > 0.05 {
		t.Errorf("Expected 30s total, got %.2f", s.TotalDuration())
	}
}

func TestGenerateRejectsTargetShorterThanScenes(t *testing.T) {
	p := &fakeProvider{responses: []string{threeScenes}}
	opts := defaultOptions()
	opts.TargetDuration = 2

	_, err := newTestGenerator(p).Generate(context.Background(), chapterOfWords(500), opts)
	if !apperrors.IsValidationError(err) {
		t.Errorf("Expected validation error, got %v", err)
	}
	if p.calls != 0 {
		t.Errorf("Expected no LLM call, got %d", p.calls)
	}
}

func TestComposeVisualPromptUsesDescriptors(t *testing.T) {
	s := &models.VideoScript{TimePeriod: "1870s", Setting: "Moscow", VisualStyle: "noir"}
	scene := models.Scene{VisualDescription: "A ballroom.", CameraAngle: "wide", Mood: "festive", Characters: []string{"Anna"}}

	prompt := ComposeVisualPrompt(s, scene, "9:16", func(name string) string {
		return "Anna: tall woman, dark curls, black velvet gown"
	})
	for _, want := range []string{"noir", "A ballroom", "dark curls", "1870s, Moscow", "9:16"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("Prompt %q missing %q", prompt, want)
		}
	}
}

func TestTruncateWords(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  string
	}{
		{"short text kept", "one two", 20, "one two"},
		{"cut at word", "alpha beta gamma delta", 15, "alpha beta ..."},
		{"cjk without spaces", strings.Repeat("安娜", 10), 10, "安娜安 ..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateWords(tt.text, tt.limit)
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
			if !utf8.ValidString(got) {
				t.Errorf("Expected valid UTF-8, got %q", got)
			}
		})
	}
}

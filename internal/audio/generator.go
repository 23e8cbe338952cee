// internal/audio/generator.go
package audio

import (
	"context"
	"strings"
	"time"

	"github.com/Corphon/StoryReel/internal/config"
	apperrors "github.com/Corphon/StoryReel/internal/errors"
	"github.com/Corphon/StoryReel/internal/utils"
)

// Generator produces narration for a scene. Provider failures are retried a
// bounded number of times and then degrade to silence; only cancellation or a
// failure to write the silent track is returned as an error.
type Generator struct {
	synth       Synthesizer
	silence     SilenceRenderer
	maxAttempts int
	backoff     time.Duration
	callTimeout time.Duration
	metrics     *utils.PipelineMetrics
	logger      *utils.Logger
}

func NewGenerator(synth Synthesizer, silence SilenceRenderer, cfg config.AudioConfig, metrics *utils.PipelineMetrics) *Generator {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	if metrics == nil {
		metrics = utils.NewPipelineMetrics(nil)
	}
	return &Generator{
		synth:       synth,
		silence:     silence,
		maxAttempts: attempts,
		backoff:     cfg.Backoff,
		callTimeout: cfg.CallTimeout,
		metrics:     metrics,
		logger:      utils.GetLogger().With(map[string]interface{}{"component": "audio"}),
	}
}

func (g *Generator) Generate(ctx context.Context, text string, targetDuration float64, outputPath string) (AudioTrack, error) {
	if strings.TrimSpace(text) != "" && g.synth != nil {
		track, err := g.synthesize(ctx, text, targetDuration, outputPath)
		if err == nil {
			return track, nil
		}
		if ctx.Err() != nil {
			return AudioTrack{}, ctx.Err()
		}
		g.logger.Warn("narration failed, using silent track", map[string]interface{}{
			"path":  outputPath,
			"error": err.Error(),
		})
	}

	if err := g.silence.RenderSilence(ctx, targetDuration, outputPath); err != nil {
		if ctx.Err() != nil {
			return AudioTrack{}, ctx.Err()
		}
		return AudioTrack{}, apperrors.NewProcessingError("render silent track", err)
	}
	g.metrics.RecordSilentAudio()
	return AudioTrack{Path: outputPath, DurationSeconds: targetDuration, Silent: true}, nil
}

func (g *Generator) synthesize(ctx context.Context, text string, target float64, path string) (AudioTrack, error) {
	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		track, err := g.call(ctx, text, target, path)
		if err == nil {
			return track, nil
		}
		lastErr = err
		if ctx.Err() != nil || apperrors.IsFatalProviderError(err) || attempt == g.maxAttempts {
			break
		}

		delay := g.backoff * time.Duration(1<<(attempt-1))
		g.logger.Debug("narration attempt failed, retrying", map[string]interface{}{
			"provider": g.synth.Name(),
			"attempt":  attempt,
			"delay":    delay.String(),
			"error":    err.Error(),
		})
		select {
		case <-ctx.Done():
			return AudioTrack{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	return AudioTrack{}, lastErr
}

func (g *Generator) call(ctx context.Context, text string, target float64, path string) (AudioTrack, error) {
	if g.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.callTimeout)
		defer cancel()
	}
	return g.synth.Synthesize(ctx, text, target, path)
}

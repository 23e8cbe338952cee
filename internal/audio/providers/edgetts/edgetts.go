// internal/audio/providers/edgetts/edgetts.go
package edgetts

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Corphon/StoryReel/internal/audio"
	"github.com/Corphon/StoryReel/internal/config"
	apperrors "github.com/Corphon/StoryReel/internal/errors"
	"github.com/Corphon/StoryReel/internal/media"
)

const defaultVoice = "en-US-GuyNeural"

func init() {
	audio.Register("edge-tts", func(cfg config.AudioConfig, runner media.Runner) (audio.Synthesizer, error) {
		return New(cfg, runner), nil
	})
}

// Synthesizer shells out to the edge-tts command line tool.
type Synthesizer struct {
	runner media.Runner
	voice  string
}

func New(cfg config.AudioConfig, runner media.Runner) *Synthesizer {
	if runner == nil {
		runner = media.ExecRunner{}
	}
	voice := cfg.Voice
	// Edge voices are locale-qualified, e.g. en-US-AriaNeural.
	if !strings.Contains(voice, "-") {
		voice = defaultVoice
	}
	return &Synthesizer{runner: runner, voice: voice}
}

func (s *Synthesizer) Name() string { return "edge-tts" }

func (s *Synthesizer) Synthesize(ctx context.Context, text string, targetDuration float64, outputPath string) (audio.AudioTrack, error) {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return audio.AudioTrack{}, err
	}
	_, err := s.runner.Run(ctx, "edge-tts",
		"--voice", s.voice,
		"--text", text,
		"--write-media", outputPath,
	)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return audio.AudioTrack{}, apperrors.NewFatalProviderError("edge-tts is not installed", err)
		}
		return audio.AudioTrack{}, apperrors.ClassifyTransportError("edge-tts", err)
	}
	return audio.AudioTrack{Path: outputPath, DurationSeconds: targetDuration}, nil
}

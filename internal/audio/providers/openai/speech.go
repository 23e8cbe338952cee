// internal/audio/providers/openai/speech.go
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/Corphon/StoryReel/internal/audio"
	"github.com/Corphon/StoryReel/internal/config"
	apperrors "github.com/Corphon/StoryReel/internal/errors"
	"github.com/Corphon/StoryReel/internal/media"
)

func init() {
	audio.Register("openai", func(cfg config.AudioConfig, _ media.Runner) (audio.Synthesizer, error) {
		key := os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("openai speech: %s is not set", cfg.APIKeyEnv)
		}
		return New(cfg, option.WithAPIKey(key)), nil
	})
}

// Speech synthesizes narration with the audio speech endpoint.
type Speech struct {
	client openai.Client
	model  string
	voice  string
}

func New(cfg config.AudioConfig, opts ...option.RequestOption) *Speech {
	return &Speech{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		voice:  cfg.Voice,
	}
}

func (s *Speech) Name() string { return "openai" }

func (s *Speech) Synthesize(ctx context.Context, text string, targetDuration float64, outputPath string) (audio.AudioTrack, error) {
	resp, err := s.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(s.model),
		Input:          text,
		Voice:          openai.AudioSpeechNewParamsVoice(s.voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return audio.AudioTrack{}, apperrors.ClassifyHTTPStatus("openai speech", apiErr.StatusCode, apiErr.Message)
		}
		return audio.AudioTrack{}, apperrors.ClassifyTransportError("openai speech", err)
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return audio.AudioTrack{}, err
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return audio.AudioTrack{}, err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(outputPath)
		return audio.AudioTrack{}, apperrors.ClassifyTransportError("openai speech", err)
	}
	if err := f.Close(); err != nil {
		return audio.AudioTrack{}, err
	}
	return audio.AudioTrack{Path: outputPath, DurationSeconds: targetDuration}, nil
}

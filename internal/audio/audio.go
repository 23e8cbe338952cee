// internal/audio/audio.go
package audio

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Corphon/StoryReel/internal/config"
	"github.com/Corphon/StoryReel/internal/media"
)

// AudioTrack is a narration file for one scene.
type AudioTrack struct {
	Path            string  `json:"path"`
	DurationSeconds float64 `json:"duration_seconds"`
	Silent          bool    `json:"silent"`
}

// Synthesizer is a text-to-speech backend. The track it writes may be longer or
// shorter than targetDuration; assembly aligns it to the clip.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, text string, targetDuration float64, outputPath string) (AudioTrack, error)
}

// SilenceRenderer writes a silent track of a given length.
type SilenceRenderer interface {
	RenderSilence(ctx context.Context, seconds float64, path string) error
}

// SynthesizerFactory builds a backend from the audio block of the pipeline config.
type SynthesizerFactory func(cfg config.AudioConfig, runner media.Runner) (Synthesizer, error)

var (
	synthesizers   = make(map[string]SynthesizerFactory)
	synthesizersMu sync.RWMutex
)

func Register(name string, factory SynthesizerFactory) {
	synthesizersMu.Lock()
	defer synthesizersMu.Unlock()
	synthesizers[name] = factory
}

func NewSynthesizer(cfg config.AudioConfig, runner media.Runner) (Synthesizer, error) {
	synthesizersMu.RLock()
	factory, ok := synthesizers[cfg.Provider]
	synthesizersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown audio provider %q (registered: %v)", cfg.Provider, Registered())
	}
	return factory(cfg, runner)
}

func Registered() []string {
	synthesizersMu.RLock()
	defer synthesizersMu.RUnlock()
	names := make([]string, 0, len(synthesizers))
	for name := range synthesizers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// internal/video/provider.go
package video

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Corphon/StoryReel/internal/config"
	apperrors "github.com/Corphon/StoryReel/internal/errors"
)

// ClipRequest describes one scene clip to generate.
type ClipRequest struct {
	RunID           string
	ChapterIndex    int
	SceneNumber     int
	Prompt          string
	Narration       string
	DurationSeconds float64
	AspectRatio     string
	Width           int
	Height          int
	ReferenceImages []string
	// OutputPath is where the provider must write the clip.
	OutputPath string
}

// Clip is a generated video file.
type Clip struct {
	Path            string
	DurationSeconds float64
	// Cost is what the provider charged; zero means "use the declared rate".
	Cost float64
}

type ResultKind int

const (
	ResultSuccess ResultKind = iota
	ResultTransient
	ResultFatal
)

func (k ResultKind) String() string {
	switch k {
	case ResultSuccess:
		return "success"
	case ResultTransient:
		return "transient"
	case ResultFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Result is the tagged outcome of Provider.Submit. Exactly one of Clip or
// Reason is meaningful, depending on Kind.
type Result struct {
	Kind   ResultKind
	Clip   Clip
	Reason string
}

func Success(clip Clip) Result {
	return Result{Kind: ResultSuccess, Clip: clip}
}

func TransientFailure(reason string) Result {
	return Result{Kind: ResultTransient, Reason: reason}
}

func FatalFailure(reason string) Result {
	return Result{Kind: ResultFatal, Reason: reason}
}

// ResultFromError maps a typed provider error onto a failure Result.
// Untyped errors are treated as transient.
func ResultFromError(err error) Result {
	if apperrors.IsFatalProviderError(err) {
		return FatalFailure(err.Error())
	}
	return TransientFailure(err.Error())
}

// Provider is an external text-to-video service.
type Provider interface {
	Name() string
	Submit(ctx context.Context, req ClipRequest) Result
	// CostPerSecond is the declared price of one second of output.
	CostPerSecond() float64
	TypicalLatency() time.Duration
}

// FallbackRenderer produces the deterministic clip used when every provider failed.
type FallbackRenderer interface {
	RenderFallback(ctx context.Context, req ClipRequest) (Clip, error)
}

// ProviderFactory builds a provider from its configuration block.
type ProviderFactory func(cfg config.ProviderConfig) (Provider, error)

var (
	factories   = make(map[string]ProviderFactory)
	factoriesMu sync.RWMutex
)

// Register makes a provider adapter available under name. Called from adapter init functions.
func Register(name string, factory ProviderFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = factory
}

// NewProvider builds the adapter named by cfg.Name.
func NewProvider(cfg config.ProviderConfig) (Provider, error) {
	factoriesMu.RLock()
	factory, ok := factories[cfg.Name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown video provider %q (registered: %v)", cfg.Name, Registered())
	}
	return factory(cfg)
}

// Registered returns the names of all registered adapters, sorted.
func Registered() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

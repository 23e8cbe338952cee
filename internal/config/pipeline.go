// internal/config/pipeline.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StorageFile     = "file"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"

	FitPad  = "pad"
	FitCrop = "crop"

	StyleNarrated      = "narrated"
	StyleDirectAddress = "direct_address"
)

// PipelineConfig is the YAML pipeline file.
type PipelineConfig struct {
	Output    OutputConfig     `yaml:"output"`
	Scenes    SceneConfig      `yaml:"scenes"`
	Providers []ProviderConfig `yaml:"providers"`
	Workers   WorkerConfig     `yaml:"workers"`
	Audio     AudioConfig      `yaml:"audio"`
	LLM       LLMConfig        `yaml:"llm"`
	Images    ImageConfig      `yaml:"images"`
	Storage   StorageConfig    `yaml:"storage"`
	Schedule  ScheduleConfig   `yaml:"schedule"`
}

// OutputConfig is the canonical format every clip is normalized to.
type OutputConfig struct {
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	FPS         int    `yaml:"fps"`
	AspectRatio string `yaml:"aspect_ratio"`
	Fit         string `yaml:"fit"`
	PixelFormat string `yaml:"pixel_format"`
	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
	FontFile    string `yaml:"font_file"`
}

type SceneConfig struct {
	Count                 int     `yaml:"count"`
	TargetDurationSeconds float64 `yaml:"target_duration_seconds"`
	MinWordsPerScene      int     `yaml:"min_words_per_scene"`
	MaxSourceChars        int     `yaml:"max_source_chars"`
	Style                 string  `yaml:"style"`
	VisualStyle           string  `yaml:"visual_style"`
}

// ProviderConfig declares one video provider in priority order.
type ProviderConfig struct {
	Name          string        `yaml:"name"`
	APIKeyEnv     string        `yaml:"api_key_env"`
	BaseURL       string        `yaml:"base_url"`
	Model         string        `yaml:"model"`
	MaxAttempts   int           `yaml:"max_attempts"`
	BaseBackoff   time.Duration `yaml:"base_backoff"`
	MaxBackoff    time.Duration `yaml:"max_backoff"`
	CallTimeout   time.Duration `yaml:"call_timeout"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	CostPerSecond float64       `yaml:"cost_per_second"`
}

// APIKey resolves the provider key from its configured environment variable.
func (p ProviderConfig) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

type WorkerConfig struct {
	PoolSize int `yaml:"pool_size"`
}

type AudioConfig struct {
	Provider    string        `yaml:"provider"`
	Voice       string        `yaml:"voice"`
	Model       string        `yaml:"model"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

type LLMConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
}

// Settings returns the map handed to llm.Provider.Initialize.
func (l LLMConfig) Settings() map[string]string {
	settings := map[string]string{"model": l.Model}
	if l.APIKeyEnv != "" {
		settings["api_key"] = os.Getenv(l.APIKeyEnv)
	}
	if l.BaseURL != "" {
		settings["base_url"] = l.BaseURL
	}
	return settings
}

type ImageConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
}

type StorageConfig struct {
	Characters string `yaml:"characters"`
	Progress   string `yaml:"progress"`
	Jobs       string `yaml:"jobs"`
}

type ScheduleConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

// DefaultPipeline returns the configuration used when no file is present.
func DefaultPipeline() *PipelineConfig {
	p := &PipelineConfig{
		Providers: []ProviderConfig{
			{Name: "runway", APIKeyEnv: "RUNWAY_API_KEY", CostPerSecond: 0.05},
			{Name: "pika", APIKeyEnv: "PIKA_API_KEY", CostPerSecond: 0.04},
			{Name: "stability", APIKeyEnv: "STABILITY_API_KEY", CostPerSecond: 0.02},
		},
	}
	p.applyDefaults()
	return p
}

// LoadPipeline reads path; a missing file yields DefaultPipeline.
func LoadPipeline(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultPipeline(), nil
		}
		return nil, fmt.Errorf("read pipeline config: %w", err)
	}
	return ParsePipeline(data)
}

// ParsePipeline decodes YAML and fills every missing field with its default.
func ParsePipeline(data []byte) (*PipelineConfig, error) {
	var p PipelineConfig
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse pipeline config: %w", err)
	}
	if len(p.Providers) == 0 {
		p.Providers = DefaultPipeline().Providers
	}
	p.applyDefaults()
	return &p, nil
}

func (p *PipelineConfig) applyDefaults() {
	o := &p.Output
	if o.Width == 0 && o.Height == 0 {
		o.Width, o.Height = 1080, 1920
	}
	if o.FPS == 0 {
		o.FPS = 30
	}
	if o.AspectRatio == "" {
		o.AspectRatio = "9:16"
	}
	if o.Fit == "" {
		o.Fit = FitPad
	}
	if o.PixelFormat == "" {
		o.PixelFormat = "yuv420p"
	}
	if o.FFmpegPath == "" {
		o.FFmpegPath = "ffmpeg"
	}
	if o.FFprobePath == "" {
		o.FFprobePath = "ffprobe"
	}

	s := &p.Scenes
	if s.Count == 0 {
		s.Count = 3
	}
	if s.TargetDurationSeconds == 0 {
		s.TargetDurationSeconds = 30
	}
	if s.MinWordsPerScene == 0 {
		s.MinWordsPerScene = 40
	}
	if s.MaxSourceChars == 0 {
		s.MaxSourceChars = 2000
	}
	if s.Style == "" {
		s.Style = StyleNarrated
	}
	if s.VisualStyle == "" {
		s.VisualStyle = "cinematic"
	}

	for i := range p.Providers {
		pc := &p.Providers[i]
		if pc.MaxAttempts == 0 {
			pc.MaxAttempts = 3
		}
		if pc.BaseBackoff == 0 {
			pc.BaseBackoff = 2 * time.Second
		}
		if pc.MaxBackoff == 0 {
			pc.MaxBackoff = 30 * time.Second
		}
		if pc.CallTimeout == 0 {
			pc.CallTimeout = 10 * time.Minute
		}
		if pc.PollInterval == 0 {
			pc.PollInterval = 5 * time.Second
		}
		if pc.MaxConcurrent == 0 {
			pc.MaxConcurrent = 2
		}
	}

	if p.Workers.PoolSize == 0 {
		p.Workers.PoolSize = 3
	}

	a := &p.Audio
	if a.Provider == "" {
		a.Provider = "openai"
	}
	if a.Voice == "" {
		a.Voice = "alloy"
	}
	if a.Model == "" {
		a.Model = "tts-1"
	}
	if a.APIKeyEnv == "" {
		a.APIKeyEnv = "OPENAI_API_KEY"
	}
	if a.MaxAttempts == 0 {
		a.MaxAttempts = 3
	}
	if a.Backoff == 0 {
		a.Backoff = time.Second
	}
	if a.CallTimeout == 0 {
		a.CallTimeout = 2 * time.Minute
	}

	if p.LLM.Provider == "" {
		p.LLM.Provider = "openai"
	}
	if p.LLM.Model == "" {
		p.LLM.Model = "gpt-4o-mini"
	}
	if p.LLM.APIKeyEnv == "" {
		p.LLM.APIKeyEnv = "OPENAI_API_KEY"
	}

	if p.Images.Provider == "" {
		p.Images.Provider = "openai"
	}
	if p.Images.Model == "" {
		p.Images.Model = "dall-e-3"
	}
	if p.Images.APIKeyEnv == "" {
		p.Images.APIKeyEnv = "OPENAI_API_KEY"
	}

	if p.Storage.Characters == "" {
		p.Storage.Characters = StorageFile
	}
	if p.Storage.Progress == "" {
		p.Storage.Progress = StorageFile
	}
	if p.Storage.Jobs == "" {
		p.Storage.Jobs = StorageFile
	}

	if p.Schedule.Cron == "" {
		p.Schedule.Cron = "@every 1h"
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (p *PipelineConfig) Validate() error {
	if p.Output.Width <= 0 || p.Output.Height <= 0 || p.Output.FPS <= 0 {
		return fmt.Errorf("output width, height and fps must be positive")
	}
	if p.Output.Width%2 != 0 || p.Output.Height%2 != 0 {
		return fmt.Errorf("output dimensions must be even for %s", p.Output.PixelFormat)
	}
	if p.Output.Fit != FitPad && p.Output.Fit != FitCrop {
		return fmt.Errorf("unknown output fit %q", p.Output.Fit)
	}
	if p.Scenes.Count < 1 {
		return fmt.Errorf("scene count must be at least 1")
	}
	if p.Scenes.TargetDurationSeconds <= 0 {
		return fmt.Errorf("target duration must be positive")
	}
	if p.Scenes.Style != StyleNarrated && p.Scenes.Style != StyleDirectAddress {
		return fmt.Errorf("unknown narration style %q", p.Scenes.Style)
	}
	if len(p.Providers) == 0 {
		return fmt.Errorf("at least one video provider is required")
	}
	seen := make(map[string]bool, len(p.Providers))
	for i, pc := range p.Providers {
		name := strings.TrimSpace(pc.Name)
		if name == "" {
			return fmt.Errorf("provider %d has no name", i)
		}
		if seen[name] {
			return fmt.Errorf("provider %q declared twice", name)
		}
		seen[name] = true
		if pc.MaxAttempts < 1 || pc.MaxConcurrent < 1 {
			return fmt.Errorf("provider %q: max_attempts and max_concurrent must be positive", name)
		}
		if pc.CostPerSecond < 0 {
			return fmt.Errorf("provider %q: negative cost", name)
		}
	}
	if p.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}
	switch p.Storage.Characters {
	case StorageFile, StoragePostgres:
	default:
		return fmt.Errorf("unknown characters storage %q", p.Storage.Characters)
	}
	switch p.Storage.Progress {
	case StorageFile, StorageRedis:
	default:
		return fmt.Errorf("unknown progress storage %q", p.Storage.Progress)
	}
	switch p.Storage.Jobs {
	case StorageFile, StoragePostgres:
	default:
		return fmt.Errorf("unknown jobs storage %q", p.Storage.Jobs)
	}
	return nil
}

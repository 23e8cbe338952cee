package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultPipelineIsValid(t *testing.T) {
	p := DefaultPipeline()
	if err := p.Validate(); err != nil {
		t.Fatalf("default pipeline invalid: %v", err)
	}
	if p.Scenes.Count != 3 {
		t.Errorf("Expected default scene count 3, got %d", p.Scenes.Count)
	}
	if p.Output.AspectRatio != "9:16" || p.Output.Width != 1080 || p.Output.Height != 1920 {
		t.Errorf("Unexpected default output %+v", p.Output)
	}
	if p.Scenes.MinWordsPerScene != 40 {
		t.Errorf("Expected 40 min words per scene, got %d", p.Scenes.MinWordsPerScene)
	}
}

func TestParsePipelineAppliesDefaults(t *testing.T) {
	data := []byte(`
output:
  width: 1280
  height: 720
  fit: crop
providers:
  - name: pika
    max_attempts: 5
    base_backoff: 500ms
    cost_per_second: 0.1
  - name: stability
storage:
  progress: redis
`)
	p, err := ParsePipeline(data)
	if err != nil {
		t.Fatalf("ParsePipeline: %v", err)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if p.Output.Fit != FitCrop || p.Output.FPS != 30 {
		t.Errorf("Unexpected output %+v", p.Output)
	}
	if len(p.Providers) != 2 || p.Providers[0].Name != "pika" {
		t.Fatalf("Unexpected providers %+v", p.Providers)
	}
	if p.Providers[0].MaxAttempts != 5 || p.Providers[0].BaseBackoff != 500*time.Millisecond {
		t.Errorf("Explicit provider values lost: %+v", p.Providers[0])
	}
	if p.Providers[1].MaxAttempts != 3 || p.Providers[1].CallTimeout != 10*time.Minute {
		t.Errorf("Provider defaults not applied: %+v", p.Providers[1])
	}
	if p.Storage.Progress != StorageRedis || p.Storage.Characters != StorageFile {
		t.Errorf("Unexpected storage %+v", p.Storage)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *PipelineConfig)
	}{
		{"empty provider name", func(p *PipelineConfig) { p.Providers[0].Name = " " }},
		{"duplicate provider", func(p *PipelineConfig) { p.Providers[1].Name = p.Providers[0].Name }},
		{"no providers", func(p *PipelineConfig) { p.Providers = nil }},
		{"negative width", func(p *PipelineConfig) { p.Output.Width = -1 }},
		{"odd height", func(p *PipelineConfig) { p.Output.Height = 1081 }},
		{"unknown fit", func(p *PipelineConfig) { p.Output.Fit = "stretch" }},
		{"unknown characters backend", func(p *PipelineConfig) { p.Storage.Characters = "mongo" }},
		{"unknown progress backend", func(p *PipelineConfig) { p.Storage.Progress = "postgres" }},
		{"zero scenes", func(p *PipelineConfig) { p.Scenes.Count = 0 }},
		{"unknown style", func(p *PipelineConfig) { p.Scenes.Style = "musical" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPipeline()
			tt.mutate(p)
			if err := p.Validate(); err == nil {
				t.Errorf("Expected validation error")
			}
		})
	}
}

func TestLoadPipelineMissingFile(t *testing.T) {
	p, err := LoadPipeline(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadPipeline: %v", err)
	}
	if len(p.Providers) != 3 {
		t.Errorf("Expected default providers, got %d", len(p.Providers))
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	if err := os.WriteFile(path, []byte("scenes:\n  count: 4\n"), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PIPELINE_CONFIG", path)
	t.Setenv("DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("OUTPUT_DIR", filepath.Join(dir, "out"))
	t.Setenv("LOG_DIR", filepath.Join(dir, "logs"))
	t.Setenv("WORKER_POOL_SIZE", "6")
	t.Setenv("DEBUG_MODE", "yes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.Scenes.Count != 4 {
		t.Errorf("Expected 4 scenes, got %d", cfg.Pipeline.Scenes.Count)
	}
	if cfg.Pipeline.Workers.PoolSize != 6 {
		t.Errorf("Expected pool size 6, got %d", cfg.Pipeline.Workers.PoolSize)
	}
	if !cfg.DebugMode {
		t.Errorf("Expected debug mode")
	}
	if _, err := os.Stat(cfg.OutputDir); err != nil {
		t.Errorf("Output dir not created: %v", err)
	}
}

func TestLoadRequiresRedisURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  progress: redis\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PIPELINE_CONFIG", path)
	t.Setenv("DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("OUTPUT_DIR", filepath.Join(dir, "out"))
	t.Setenv("LOG_DIR", filepath.Join(dir, "logs"))
	t.Setenv("REDIS_URL", "")

	if _, err := Load(); err == nil {
		t.Errorf("Expected error without REDIS_URL")
	}
}

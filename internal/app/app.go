// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"github.com/Corphon/StoryReel/internal/api"
	"github.com/Corphon/StoryReel/internal/assembly"
	"github.com/Corphon/StoryReel/internal/audio"
	"github.com/Corphon/StoryReel/internal/config"
	"github.com/Corphon/StoryReel/internal/continuity"
	"github.com/Corphon/StoryReel/internal/di"
	"github.com/Corphon/StoryReel/internal/llm"
	"github.com/Corphon/StoryReel/internal/media"
	"github.com/Corphon/StoryReel/internal/pipeline"
	"github.com/Corphon/StoryReel/internal/platform"
	"github.com/Corphon/StoryReel/internal/progress"
	"github.com/Corphon/StoryReel/internal/script"
	"github.com/Corphon/StoryReel/internal/storage"
	"github.com/Corphon/StoryReel/internal/utils"
	"github.com/Corphon/StoryReel/internal/video"

	// Backends register themselves by name.
	_ "github.com/Corphon/StoryReel/internal/audio/providers/edgetts"
	_ "github.com/Corphon/StoryReel/internal/audio/providers/openai"
	_ "github.com/Corphon/StoryReel/internal/llm/providers/anthropic"
	_ "github.com/Corphon/StoryReel/internal/llm/providers/openai"
	_ "github.com/Corphon/StoryReel/internal/video/providers/pika"
	_ "github.com/Corphon/StoryReel/internal/video/providers/runway"
	_ "github.com/Corphon/StoryReel/internal/video/providers/stability"
)

// Component names in the container.
const (
	ComponentStorage   = "storage"
	ComponentTracker   = "tracker"
	ComponentScripts   = "scripts"
	ComponentLLM       = "llm"
	ComponentResolver  = "continuity"
	ComponentVideo     = "video"
	ComponentAudio     = "audio"
	ComponentAssembler = "assembler"
	ComponentRunner    = "runner"
	ComponentRouter    = "router"
	ComponentDatabase  = "database"
	ComponentRedis     = "redis"
)

// RunLimit caps generate and run requests per client per minute.
const RunLimit = 30

// App owns every wired component of one process.
type App struct {
	config    *config.Config
	container *di.Container
	metrics   *utils.PipelineMetrics
	logger    *utils.Logger

	runner  *pipeline.Runner
	tracker *progress.Tracker
	scripts *script.Store
	router  *gin.Engine
}

// Options let callers and tests swap in pieces that otherwise come from the
// environment.
type Options struct {
	// LLM replaces the provider named in the pipeline config.
	LLM llm.Provider
	// Media replaces the ffmpeg runner.
	Media media.Runner
	// LogFile enables the file sink of the global logger.
	LogFile string
}

// New wires the pipeline described by cfg. Call Close to release it.
func New(ctx context.Context, cfg *config.Config, opts Options) (_ *App, err error) {
	if cfg == nil || cfg.Pipeline == nil {
		return nil, fmt.Errorf("config with a pipeline section is required")
	}
	p := cfg.Pipeline

	logger := utils.GetLogger()
	logger.SetLogLevel(utils.ParseLogLevel(cfg.LogLevel))
	if opts.LogFile != "" {
		if err := utils.InitLogger(opts.LogFile); err != nil {
			return nil, err
		}
	}

	a := &App{
		config:    cfg,
		container: di.NewContainer(),
		metrics:   utils.NewPipelineMetrics(nil),
		logger:    logger.With(map[string]interface{}{"component": "app"}),
	}
	defer func() {
		if err != nil {
			a.container.Close()
		}
	}()

	for _, dir := range []string{cfg.DataDir, cfg.OutputDir, cfg.LogDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	fs, err := storage.NewFileStorage(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	a.container.Register(ComponentStorage, fs)

	db, err := a.openDatabase(p.Storage)
	if err != nil {
		return nil, err
	}
	rdb, err := a.openRedis(ctx, p.Storage)
	if err != nil {
		return nil, err
	}

	var progressStore progress.Store = progress.NewFileStore(fs)
	if rdb != nil {
		progressStore = progress.NewRedisStore(rdb, "storyreel:progress")
	}
	tracker, err := progress.NewTracker(ctx, progressStore)
	if err != nil {
		return nil, err
	}
	a.tracker = tracker
	a.container.Register(ComponentTracker, tracker)

	provider := opts.LLM
	if provider == nil {
		provider, err = llm.GetProvider(p.LLM.Provider, p.LLM.Settings())
		if err != nil {
			return nil, fmt.Errorf("llm provider %s: %w", p.LLM.Provider, err)
		}
	}
	a.container.Register(ComponentLLM, provider)

	scripts := script.NewStore(fs)
	a.scripts = scripts
	a.container.Register(ComponentScripts, scripts)

	var characters continuity.Store = continuity.NewFileStore(fs)
	if p.Storage.Characters == config.StoragePostgres {
		characters = continuity.NewGormStore(db)
	}
	resolver := continuity.NewResolver(characters, continuity.NewLLMDescriber(provider), a.referenceImager(p.Images, fs))
	a.container.Register(ComponentResolver, resolver)

	var jobs video.JobStore = video.NewFileJobStore(fs)
	if p.Storage.Jobs == config.StoragePostgres {
		jobs = video.NewGormJobStore(db)
	}

	mediaRunner := opts.Media
	if mediaRunner == nil {
		mediaRunner = media.ExecRunner{}
	}
	assembler := assembly.NewAssembler(mediaRunner, p.Output)
	a.container.Register(ComponentAssembler, assembler)

	entries := make([]video.Entry, 0, len(p.Providers))
	for _, pc := range p.Providers {
		vp, err := video.NewProvider(pc)
		if err != nil {
			return nil, err
		}
		if pc.APIKey() == "" {
			a.logger.Warn("video provider has no api key, every call will fail over", map[string]interface{}{
				"provider": pc.Name,
				"env":      pc.APIKeyEnv,
			})
		}
		entries = append(entries, video.Entry{Provider: vp, Policy: video.PolicyFromConfig(pc)})
	}
	orchestrator := video.NewOrchestrator(entries, assembler, jobs, a.metrics)
	a.container.Register(ComponentVideo, orchestrator)

	synth, err := audio.NewSynthesizer(p.Audio, mediaRunner)
	if err != nil {
		// Narration degrades to silence rather than blocking video output.
		a.logger.Warn("no narration backend, scenes get silent tracks", map[string]interface{}{"error": err.Error()})
		synth = nil
	}
	narration := audio.NewGenerator(synth, assembler, p.Audio, a.metrics)
	a.container.Register(ComponentAudio, narration)

	a.runner = pipeline.NewRunner(pipeline.Deps{
		Scripts:     script.NewGenerator(provider, p.Scenes),
		ScriptStore: scripts,
		Resolver:    resolver,
		Clips:       orchestrator,
		Audio:       narration,
		Assembler:   assembler,
		Tracker:     tracker,
		Jobs:        jobs,
		Storage:     fs,
		Metrics:     a.metrics,
	}, pipeline.Options{
		SourcePath: cfg.SourcePath,
		OutputDir:  cfg.OutputDir,
		WorkDir:    filepath.Join(cfg.DataDir, "work"),
		PoolSize:   p.Workers.PoolSize,
		Output:     p.Output,
		Script:     script.OptionsFromConfig(p),
	})
	a.container.Register(ComponentRunner, a.runner)
	a.container.OnClose(ComponentRunner, func() error {
		a.runner.Close()
		return nil
	})

	handler := api.NewHandler(a.runner, scripts, tracker, a.metrics)
	hub := api.NewProgressHub(a.runner.Events())
	a.router = api.SetupRouter(handler, hub, api.RouterOptions{DebugMode: cfg.DebugMode, RunLimit: RunLimit})
	a.container.Register(ComponentRouter, a.router)

	a.logger.Info("pipeline wired", map[string]interface{}{
		"providers":  len(entries),
		"components": len(a.container.GetNames()),
		"characters": p.Storage.Characters,
		"progress":   p.Storage.Progress,
		"jobs":       p.Storage.Jobs,
	})
	return a, nil
}

func (a *App) openDatabase(sc config.StorageConfig) (*gorm.DB, error) {
	if sc.Characters != config.StoragePostgres && sc.Jobs != config.StoragePostgres {
		return nil, nil
	}
	if a.config.DatabaseURL == "" {
		return nil, fmt.Errorf("postgres storage selected but DATABASE_URL is empty")
	}
	db, err := platform.NewDBConnection(a.config.DatabaseURL, a.config.DebugMode)
	if err != nil {
		return nil, err
	}
	a.container.Register(ComponentDatabase, db)
	a.container.OnClose(ComponentDatabase, func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	return db, nil
}

func (a *App) openRedis(ctx context.Context, sc config.StorageConfig) (*redis.Client, error) {
	if sc.Progress != config.StorageRedis {
		return nil, nil
	}
	rdb, err := platform.NewRedisClient(ctx, a.config.RedisURL)
	if err != nil {
		return nil, err
	}
	a.container.Register(ComponentRedis, rdb)
	a.container.OnClose(ComponentRedis, rdb.Close)
	return rdb, nil
}

// descriptorOnly stores characters without reference images.
type descriptorOnly struct{}

func (descriptorOnly) GenerateReference(context.Context, string, string) (string, error) {
	return "", nil
}

func (a *App) referenceImager(ic config.ImageConfig, fs *storage.FileStorage) continuity.ReferenceImager {
	if ic.Provider != "openai" {
		return descriptorOnly{}
	}
	key := os.Getenv(ic.APIKeyEnv)
	if key == "" {
		a.logger.Warn("image api key missing, characters keep text descriptors only", map[string]interface{}{"env": ic.APIKeyEnv})
		return descriptorOnly{}
	}
	return continuity.NewOpenAIImager(key, ic.Model, fs)
}

// Critical lists the components a healthy process must have.
var Critical = []string{ComponentStorage, ComponentTracker, ComponentLLM, ComponentVideo, ComponentRunner, ComponentRouter}

// HealthCheck reports a missing critical component.
func (a *App) HealthCheck() error {
	return a.container.Require(Critical...)
}

func (a *App) GetConfig() *config.Config       { return a.config }
func (a *App) IsDebugMode() bool               { return a.config.DebugMode }
func (a *App) Runner() *pipeline.Runner        { return a.runner }
func (a *App) Tracker() *progress.Tracker      { return a.tracker }
func (a *App) Scripts() *script.Store          { return a.scripts }
func (a *App) Router() *gin.Engine             { return a.router }
func (a *App) Metrics() *utils.PipelineMetrics { return a.metrics }
func (a *App) Container() *di.Container        { return a.container }

// Close cancels running chapters and releases connections.
func (a *App) Close() error {
	err := a.container.Close()
	if err != nil {
		a.logger.Error("shutdown incomplete", map[string]interface{}{"error": err.Error()})
	}
	return err
}

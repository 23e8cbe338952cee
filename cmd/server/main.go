// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Corphon/StoryReel/internal/app"
	"github.com/Corphon/StoryReel/internal/config"
	"github.com/Corphon/StoryReel/internal/pipeline"
	"github.com/Corphon/StoryReel/internal/utils"
)

func main() {
	log.Println("starting StoryReel server")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, app.Options{
		LogFile: filepath.Join(cfg.LogDir, "storyreel.log"),
	})
	if err != nil {
		log.Fatalf("wire pipeline: %v", err)
	}
	if err := application.HealthCheck(); err != nil {
		log.Printf("health check warning: %v", err)
	}

	logger := utils.GetLogger().With(map[string]interface{}{"component": "server"})
	application.Metrics().StartMetricsReport(ctx, 5*time.Minute)

	scheduler := startSchedule(ctx, cfg.Pipeline.Schedule, application.Runner(), logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           application.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("listening", map[string]interface{}{"port": cfg.Port})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", map[string]interface{}{"error": err.Error()})
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if scheduler != nil {
		// The signal already cancelled the active pass; wait for its checkpoint.
		select {
		case <-scheduler.Stop().Done():
		case <-shutdownCtx.Done():
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", map[string]interface{}{"error": err.Error()})
	}
	if err := application.Close(); err != nil {
		os.Exit(1)
	}
	logger.Info("shutdown complete", nil)
}

// startSchedule runs a corpus pass on the configured cron expression. Passes never
// overlap; a tick that finds one still running is skipped.
func startSchedule(ctx context.Context, sc config.ScheduleConfig, runner *pipeline.Runner, logger *utils.Logger) *cron.Cron {
	if !sc.Enabled {
		return nil
	}

	var busy atomic.Bool
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	_, err := c.AddFunc(sc.Cron, func() {
		if !busy.CompareAndSwap(false, true) {
			logger.Info("corpus pass still running, skipping tick", nil)
			return
		}
		defer busy.Store(false)

		report, err := runner.RunCorpus(ctx, pipeline.CorpusOptions{})
		if err != nil {
			logger.Error("scheduled corpus pass failed", map[string]interface{}{"error": err.Error()})
			return
		}
		logger.Info("scheduled corpus pass finished", map[string]interface{}{
			"completed":       report.Completed,
			"failed":          report.Failed,
			"awaiting_review": report.AwaitingReview,
			"needs_review":    report.NeedsReview,
		})
	})
	if err != nil {
		logger.Error("invalid schedule, scheduler disabled", map[string]interface{}{"cron": sc.Cron, "error": err.Error()})
		return nil
	}
	c.Start()
	logger.Info("corpus schedule started", map[string]interface{}{"cron": sc.Cron})
	return c
}

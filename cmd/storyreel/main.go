// cmd/storyreel/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Corphon/StoryReel/internal/app"
	"github.com/Corphon/StoryReel/internal/config"
	"github.com/Corphon/StoryReel/internal/models"
	"github.com/Corphon/StoryReel/internal/pipeline"
)

func main() {
	autoApprove := flag.Bool("auto-approve", false, "approve generated scripts without review")
	chapter := flag.Int("chapter", 0, "run only this chapter (its script must be approved unless -auto-approve)")
	limit := flag.Int("limit", 0, "stop after this many chapter runs (0 = no limit)")
	source := flag.String("source", "", "chapter directory or file (overrides SOURCE_PATH)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *source != "" {
		cfg.SourcePath = *source
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, app.Options{
		LogFile: filepath.Join(cfg.LogDir, "storyreel-batch.log"),
	})
	if err != nil {
		log.Fatalf("wire pipeline: %v", err)
	}

	code := 0
	if *chapter > 0 {
		err = runOne(ctx, application, *chapter, *autoApprove)
	} else {
		var report pipeline.CorpusReport
		report, err = application.Runner().RunCorpus(ctx, pipeline.CorpusOptions{AutoApprove: *autoApprove, Limit: *limit})
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(report)
		if len(report.Failed) > 0 {
			code = 1
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "storyreel: %v\n", err)
		code = 1
	}
	if err := application.Close(); err != nil {
		code = 1
	}
	os.Exit(code)
}

// runOne prepares and runs a single chapter.
func runOne(ctx context.Context, application *app.App, index int, autoApprove bool) error {
	sc, err := application.Runner().PrepareScript(ctx, index)
	if err != nil {
		return err
	}
	if autoApprove && sc.Status == models.ScriptDraft {
		if sc, err = application.Scripts().Approve(index, "auto-approved"); err != nil {
			return err
		}
	}
	art, err := application.Runner().RunChapter(ctx, index)
	if err != nil {
		return err
	}
	fmt.Printf("chapter %d (%s): %s, %.1fs, degraded=%v, cost=$%.2f\n",
		index, sc.Title, art.Path, art.Duration, art.Degraded, art.TotalCost)
	return nil
}

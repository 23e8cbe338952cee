// internal/pipeline/runner.go
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Corphon/StoryReel/internal/assembly"
	"github.com/Corphon/StoryReel/internal/audio"
	"github.com/Corphon/StoryReel/internal/config"
	"github.com/Corphon/StoryReel/internal/continuity"
	apperrors "github.com/Corphon/StoryReel/internal/errors"
	"github.com/Corphon/StoryReel/internal/models"
	"github.com/Corphon/StoryReel/internal/progress"
	"github.com/Corphon/StoryReel/internal/script"
	"github.com/Corphon/StoryReel/internal/source"
	"github.com/Corphon/StoryReel/internal/storage"
	"github.com/Corphon/StoryReel/internal/utils"
	"github.com/Corphon/StoryReel/internal/video"
)

const artifactsDir = "artifacts"

// ScriptGenerator turns a chapter into a draft script.
type ScriptGenerator interface {
	Generate(ctx context.Context, chapter models.SourceChapter, opts script.Options) (*models.VideoScript, error)
}

// ContinuityResolver looks up or creates every character of a script.
type ContinuityResolver interface {
	Resolve(ctx context.Context, s *models.VideoScript) (continuity.Resolution, error)
}

// ClipGenerator produces one scene clip, falling back when providers fail.
type ClipGenerator interface {
	Generate(ctx context.Context, req video.ClipRequest) (video.SceneClip, error)
	EstimateCost(durationSeconds float64) float64
}

// NarrationGenerator produces one narration track, degrading to silence.
type NarrationGenerator interface {
	Generate(ctx context.Context, text string, targetDuration float64, outputPath string) (audio.AudioTrack, error)
}

// ChapterAssembler writes the final chapter video.
type ChapterAssembler interface {
	Assemble(ctx context.Context, req assembly.Request) (assembly.Result, error)
}

// Deps are the stages and stores a Runner drives.
type Deps struct {
	Scripts     ScriptGenerator
	ScriptStore *script.Store
	Resolver    ContinuityResolver
	Clips       ClipGenerator
	Audio       NarrationGenerator
	Assembler   ChapterAssembler
	Tracker     *progress.Tracker
	Events      *progress.Broadcaster
	Jobs        video.JobStore
	Storage     *storage.FileStorage
	Metrics     *utils.PipelineMetrics
}

// Options locate the corpus and the working directories.
type Options struct {
	SourcePath string
	OutputDir  string
	WorkDir    string
	PoolSize   int
	Output     config.OutputConfig
	Script     script.Options
}

// Runner drives chapters through script, continuity, scene generation and
// assembly, checkpointing each chapter in the progress tracker.
type Runner struct {
	deps   Deps
	opts   Options
	logger *utils.Logger

	mu      sync.Mutex
	running map[int]context.CancelFunc

	base       context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	now func() time.Time
}

func NewRunner(deps Deps, opts Options) *Runner {
	if opts.PoolSize < 1 {
		opts.PoolSize = 1
	}
	if deps.Metrics == nil {
		deps.Metrics = utils.NewPipelineMetrics(nil)
	}
	if deps.Events == nil {
		deps.Events = progress.NewBroadcaster()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Runner{
		deps:       deps,
		opts:       opts,
		logger:     utils.GetLogger().With(map[string]interface{}{"component": "pipeline"}),
		running:    make(map[int]context.CancelFunc),
		base:       base,
		baseCancel: cancel,
		now:        time.Now,
	}
}

// Events exposes the progress broadcaster.
func (r *Runner) Events() *progress.Broadcaster {
	return r.deps.Events
}

// PrepareScript returns the chapter's current script, generating a draft when
// there is none or the last one was rejected. A rejection note is handed to
// the generator as feedback.
func (r *Runner) PrepareScript(ctx context.Context, index int) (*models.VideoScript, error) {
	existing, err := r.deps.ScriptStore.Get(index)
	switch {
	case err == nil && existing.Status != models.ScriptRejected:
		return existing, nil
	case err != nil && !apperrors.IsNotFoundError(err):
		return nil, err
	}

	chapter, err := source.ReadChapter(r.opts.SourcePath, index)
	if err != nil {
		return nil, err
	}

	opts := r.opts.Script
	if existing != nil {
		opts.Feedback = existing.ReviewNote
	}
	r.publish(models.ProgressEvent{Type: models.EventStageStarted, ChapterIndex: index, Stage: "script"})

	sc, err := r.deps.Scripts.Generate(ctx, chapter, opts)
	if err != nil {
		return nil, err
	}
	if err := r.deps.ScriptStore.Put(sc); err != nil {
		return nil, err
	}
	r.logger.Info("draft script ready for review", map[string]interface{}{
		"chapter": index,
		"scenes":  len(sc.Scenes),
	})
	return sc, nil
}

// RegenerateScript drops the stored script and generates a new draft.
func (r *Runner) RegenerateScript(ctx context.Context, index int, feedback string) (*models.VideoScript, error) {
	if r.Running(index) {
		return nil, apperrors.NewConflictError(fmt.Sprintf("chapter %d is running", index), nil)
	}
	if existing, err := r.deps.ScriptStore.Get(index); err == nil && existing.Status == models.ScriptApproved {
		return nil, apperrors.NewConflictError(fmt.Sprintf("chapter %d script is already approved", index), nil)
	}
	if err := r.deps.ScriptStore.Delete(index); err != nil {
		return nil, apperrors.NewPersistenceError("delete script", err)
	}

	chapter, err := source.ReadChapter(r.opts.SourcePath, index)
	if err != nil {
		return nil, err
	}
	opts := r.opts.Script
	opts.Feedback = feedback
	sc, err := r.deps.Scripts.Generate(ctx, chapter, opts)
	if err != nil {
		return nil, err
	}
	if err := r.deps.ScriptStore.Put(sc); err != nil {
		return nil, err
	}
	// A fresh draft lifts the review hold so corpus runs pick the chapter up again.
	if r.deps.Tracker.Chapter(index).NeedsReview {
		if err := r.deps.Tracker.MarkFailed(ctx, index, "script regenerated"); err != nil {
			return nil, err
		}
	}
	return sc, nil
}

// EstimateCost prices the chapter's script with the first provider's rate.
func (r *Runner) EstimateCost(index int) (float64, error) {
	sc, err := r.deps.ScriptStore.Get(index)
	if err != nil {
		return 0, err
	}
	return r.deps.Clips.EstimateCost(sc.TotalDuration()), nil
}

// Artifact returns the recorded artifact of a completed chapter.
func (r *Runner) Artifact(index int) (*models.FinalArtifact, error) {
	var art models.FinalArtifact
	if err := r.deps.Storage.LoadJSONFile(artifactsDir, artifactFile(index), &art); err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("chapter %d has no artifact", index), err)
		}
		return nil, apperrors.NewPersistenceError("load artifact", err)
	}
	return &art, nil
}

// Jobs returns the generation history of a chapter.
func (r *Runner) Jobs(ctx context.Context, index int) ([]models.GenerationJob, error) {
	if r.deps.Jobs == nil {
		return nil, nil
	}
	return r.deps.Jobs.List(ctx, index)
}

func artifactFile(index int) string {
	return fmt.Sprintf("chapter-%04d.json", index)
}

func (r *Runner) chapterWorkDir(index int) string {
	return filepath.Join(r.opts.WorkDir, fmt.Sprintf("chapter-%04d", index))
}

// approvedScript enforces the review gate.
func (r *Runner) approvedScript(index int) (*models.VideoScript, error) {
	sc, err := r.deps.ScriptStore.Get(index)
	if err != nil {
		return nil, err
	}
	if sc.Status != models.ScriptApproved {
		return nil, apperrors.NewConflictError(
			fmt.Sprintf("chapter %d script is %s, generation needs an approved script", index, sc.Status), nil)
	}
	return sc, nil
}

// begin registers a run of index so it can be cancelled. Only one run per
// chapter may be active.
func (r *Runner) begin(parent context.Context, index int) (context.Context, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.running[index]; busy {
		return nil, nil, apperrors.NewConflictError(fmt.Sprintf("chapter %d is already running", index), nil)
	}
	ctx, cancel := context.WithCancel(parent)
	r.running[index] = cancel
	return ctx, func() {
		r.mu.Lock()
		delete(r.running, index)
		r.mu.Unlock()
		cancel()
	}, nil
}

// Running reports whether index has an active run.
func (r *Runner) Running(index int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[index]
	return ok
}

// Cancel aborts the active run of index. It reports false when nothing runs.
func (r *Runner) Cancel(index int) bool {
	r.mu.Lock()
	cancel, ok := r.running[index]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Start runs an approved chapter in the background.
func (r *Runner) Start(index int) error {
	sc, err := r.approvedScript(index)
	if err != nil {
		return err
	}
	ctx, release, err := r.begin(r.base, index)
	if err != nil {
		return err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer release()
		if _, err := r.run(ctx, index, sc); err != nil {
			r.logger.Error("background chapter run failed", map[string]interface{}{
				"chapter": index,
				"error":   err.Error(),
			})
		}
	}()
	return nil
}

// Close cancels background runs and waits for them to checkpoint.
func (r *Runner) Close() {
	r.baseCancel()
	r.wg.Wait()
}

// RunChapter generates the video of an approved chapter and blocks until it
// is complete, failed or cancelled.
func (r *Runner) RunChapter(ctx context.Context, index int) (*models.FinalArtifact, error) {
	sc, err := r.approvedScript(index)
	if err != nil {
		return nil, err
	}
	ctx, release, err := r.begin(ctx, index)
	if err != nil {
		return nil, err
	}
	defer release()
	return r.run(ctx, index, sc)
}

func (r *Runner) run(ctx context.Context, index int, sc *models.VideoScript) (*models.FinalArtifact, error) {
	started := r.now()
	runID := uuid.NewString()
	log := r.logger.With(map[string]interface{}{"chapter": index, "run": runID})

	chapter, err := source.ReadChapter(r.opts.SourcePath, index)
	if err != nil {
		return nil, err
	}
	if err := r.deps.Tracker.MarkInProgress(ctx, index); err != nil {
		return nil, err
	}
	r.publish(models.ProgressEvent{Type: models.EventChapterStarted, ChapterIndex: index, Message: runID})
	log.Info("chapter run started", map[string]interface{}{"scenes": len(sc.Scenes)})

	cc, err := r.execute(ctx, NewChapterContext(runID, chapter).WithScript(sc))
	if err != nil {
		r.fail(ctx, index, err, started)
		return nil, err
	}

	result := progress.CompletionResult{
		ArtifactPath: cc.Artifact.Path,
		Degraded:     cc.Degraded(),
		Cost:         cc.Cost(),
	}
	if err := r.deps.Tracker.MarkComplete(ctx, index, result); err != nil {
		log.Error("artifact written but checkpoint failed", map[string]interface{}{
			"artifact": cc.Artifact.Path,
			"error":    err.Error(),
		})
		return nil, err
	}

	r.deps.Metrics.RecordChapter("complete", r.now().Sub(started))
	r.publish(models.ProgressEvent{
		Type:         models.EventChapterComplete,
		ChapterIndex: index,
		Progress:     1,
		Message:      cc.Artifact.Path,
	})
	log.Info("chapter complete", map[string]interface{}{
		"artifact": cc.Artifact.Path,
		"duration": cc.Artifact.Duration,
		"degraded": result.Degraded,
		"cost":     result.Cost,
	})
	return cc.Artifact, nil
}

// fail checkpoints a failed run. Content problems are parked for review so
// automatic runs do not retry them.
func (r *Runner) fail(ctx context.Context, index int, cause error, started time.Time) {
	ctx = context.WithoutCancel(ctx)
	ev := models.ProgressEvent{Type: models.EventChapterFailed, ChapterIndex: index, Message: cause.Error()}
	status := "failed"

	var err error
	switch {
	case errors.Is(cause, context.Canceled):
		status = "cancelled"
		ev.Type = models.EventChapterCancelled
		err = r.deps.Tracker.MarkFailed(ctx, index, "cancelled")
	case apperrors.IsContentError(cause):
		err = r.deps.Tracker.MarkNeedsReview(ctx, index, cause.Error())
	default:
		err = r.deps.Tracker.MarkFailed(ctx, index, cause.Error())
	}
	if err != nil {
		r.logger.Error("failed to checkpoint chapter failure", map[string]interface{}{
			"chapter": index,
			"error":   err.Error(),
		})
	}

	r.deps.Metrics.RecordChapter(status, r.now().Sub(started))
	r.publish(ev)
	r.logger.Error("chapter run "+status, map[string]interface{}{
		"chapter": index,
		"error":   cause.Error(),
	})
}

// execute runs the generation stages. Each stage extends the context it was
// given and hands the new value on.
func (r *Runner) execute(ctx context.Context, cc ChapterContext) (ChapterContext, error) {
	index := cc.Chapter.Index

	r.publish(models.ProgressEvent{Type: models.EventStageStarted, ChapterIndex: index, Stage: "continuity", Progress: 0.05})
	res, err := r.deps.Resolver.Resolve(ctx, cc.Script)
	if err != nil {
		return cc, err
	}
	cc = cc.WithContinuity(res)

	r.publish(models.ProgressEvent{Type: models.EventStageStarted, ChapterIndex: index, Stage: "scenes", Progress: 0.1})
	outs, err := r.generateScenes(ctx, cc)
	if err != nil {
		return cc, err
	}
	cc = cc.WithScenes(outs)

	r.publish(models.ProgressEvent{Type: models.EventStageStarted, ChapterIndex: index, Stage: "assembly", Progress: 0.85})
	req := assembly.Request{
		ChapterIndex: index,
		WorkDir:      r.chapterWorkDir(index),
		OutputDir:    r.opts.OutputDir,
	}
	for _, o := range cc.Scenes {
		req.Scenes = append(req.Scenes, assembly.SceneMedia{
			Number:    o.SceneNumber,
			ClipPath:  o.ClipPath,
			AudioPath: o.AudioPath,
			Duration:  o.Duration,
		})
	}
	result, err := r.deps.Assembler.Assemble(ctx, req)
	if err != nil {
		return cc, err
	}

	cc = cc.WithArtifact(models.FinalArtifact{
		ChapterIndex: index,
		Path:         result.Path,
		CreatedAt:    r.now().UTC(),
		Duration:     result.Duration,
		Width:        result.Width,
		Height:       result.Height,
		Scenes:       cc.Scenes,
		Degraded:     cc.Degraded(),
		TotalCost:    cc.Cost(),
	})
	if err := r.deps.Storage.SaveJSONFile(artifactsDir, artifactFile(index), cc.Artifact); err != nil {
		return cc, apperrors.NewPersistenceError("record artifact", err)
	}
	return cc, nil
}

// generateScenes runs a clip unit and a narration unit per scene on a bounded
// pool. A failing unit never cancels its siblings; the first error is
// reported once every unit has finished.
func (r *Runner) generateScenes(ctx context.Context, cc ChapterContext) ([]models.SceneOutput, error) {
	scenes := cc.Script.Scenes
	workDir := r.chapterWorkDir(cc.Chapter.Index)
	reuse := r.reusableClips(ctx, cc)

	clips := make([]video.SceneClip, len(scenes))
	tracks := make([]audio.AudioTrack, len(scenes))
	units := int64(2 * len(scenes))
	var finished int64

	var g errgroup.Group
	g.SetLimit(r.opts.PoolSize)

	step := func(scene int) {
		n := atomic.AddInt64(&finished, 1)
		r.publish(models.ProgressEvent{
			Type:         models.EventSceneFinished,
			ChapterIndex: cc.Chapter.Index,
			SceneNumber:  scene,
			Progress:     0.1 + 0.75*float64(n)/float64(units),
		})
	}

	for i, scene := range scenes {
		g.Go(func() error {
			defer step(scene.Number)
			if job, ok := reuse[scene.Number]; ok {
				clips[i] = video.SceneClip{
					Clip:     video.Clip{Path: job.ClipPath, DurationSeconds: scene.DurationSeconds},
					Provider: job.Provider,
				}
				return nil
			}
			out, err := r.deps.Clips.Generate(ctx, r.clipRequest(cc, scene, workDir))
			if err != nil {
				return fmt.Errorf("scene %d clip: %w", scene.Number, err)
			}
			clips[i] = out
			return nil
		})

		g.Go(func() error {
			defer step(scene.Number)
			path := filepath.Join(workDir, fmt.Sprintf("scene-%03d.mp3", scene.Number))
			track, err := r.deps.Audio.Generate(ctx, scene.Narration, scene.DurationSeconds, path)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				// Assembly lays a silent track under scenes without audio.
				r.logger.Warn("narration unavailable, scene stays silent", map[string]interface{}{
					"chapter": cc.Chapter.Index,
					"scene":   scene.Number,
					"error":   err.Error(),
				})
				track = audio.AudioTrack{DurationSeconds: scene.DurationSeconds, Silent: true}
			}
			tracks[i] = track
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	outs := make([]models.SceneOutput, len(scenes))
	for i, scene := range scenes {
		outs[i] = models.SceneOutput{
			SceneNumber: scene.Number,
			ClipPath:    clips[i].Clip.Path,
			AudioPath:   tracks[i].Path,
			Duration:    scene.DurationSeconds,
			Provider:    clips[i].Provider,
			Fallback:    clips[i].Fallback,
			SilentAudio: tracks[i].Silent,
			Cost:        clips[i].Cost,
		}
	}
	return outs, nil
}

func (r *Runner) clipRequest(cc ChapterContext, scene models.Scene, workDir string) video.ClipRequest {
	return video.ClipRequest{
		RunID:           cc.RunID,
		ChapterIndex:    cc.Chapter.Index,
		SceneNumber:     scene.Number,
		Prompt:          script.ComposeVisualPrompt(cc.Script, scene, r.opts.Output.AspectRatio, cc.Continuity.Descriptor),
		Narration:       scene.Narration,
		DurationSeconds: scene.DurationSeconds,
		AspectRatio:     r.opts.Output.AspectRatio,
		Width:           r.opts.Output.Width,
		Height:          r.opts.Output.Height,
		ReferenceImages: cc.Continuity.ReferenceImages(scene.Characters),
		OutputPath:      filepath.Join(workDir, fmt.Sprintf("scene-%03d.mp4", scene.Number)),
	}
}

// reusableClips finds clips a previous run of the same approved script already
// paid for. A clip qualifies when its job succeeded after the script's last
// change and the file is still in the work directory.
func (r *Runner) reusableClips(ctx context.Context, cc ChapterContext) map[int]models.GenerationJob {
	reuse := make(map[int]models.GenerationJob)
	if r.deps.Jobs == nil {
		return reuse
	}
	jobs, err := r.deps.Jobs.List(ctx, cc.Chapter.Index)
	if err != nil {
		r.logger.Warn("cannot read job history, regenerating every clip", map[string]interface{}{
			"chapter": cc.Chapter.Index,
			"error":   err.Error(),
		})
		return reuse
	}

	workDir := r.chapterWorkDir(cc.Chapter.Index)
	for _, job := range jobs {
		if job.Status != models.JobSucceeded || job.ClipPath == "" {
			continue
		}
		if job.StartedAt.Before(cc.Script.UpdatedAt) || filepath.Dir(job.ClipPath) != workDir {
			continue
		}
		if _, err := os.Stat(job.ClipPath); err != nil {
			continue
		}
		reuse[job.SceneNumber] = job
	}
	if len(reuse) > 0 {
		r.logger.Info("reusing clips from an earlier run", map[string]interface{}{
			"chapter": cc.Chapter.Index,
			"clips":   len(reuse),
		})
	}
	return reuse
}

func (r *Runner) publish(ev models.ProgressEvent) {
	ev.Timestamp = r.now()
	r.deps.Events.Publish(ev)
}

// internal/video/orchestrator.go
package video

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/Corphon/StoryReel/internal/config"
	apperrors "github.com/Corphon/StoryReel/internal/errors"
	"github.com/Corphon/StoryReel/internal/models"
	"github.com/Corphon/StoryReel/internal/utils"
)

// Policy is the retry and throttling policy of one provider.
type Policy struct {
	MaxAttempts   int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	CallTimeout   time.Duration
	MaxConcurrent int
}

// PolicyFromConfig copies the policy fields of a provider block.
func PolicyFromConfig(cfg config.ProviderConfig) Policy {
	return Policy{
		MaxAttempts:   cfg.MaxAttempts,
		BaseBackoff:   cfg.BaseBackoff,
		MaxBackoff:    cfg.MaxBackoff,
		CallTimeout:   cfg.CallTimeout,
		MaxConcurrent: cfg.MaxConcurrent,
	}
}

// Backoff returns the wait before retry number attempt (1-based), capped at MaxBackoff.
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return d
}

// Entry is one provider in priority order together with its policy.
type Entry struct {
	Provider Provider
	Policy   Policy
}

type slot struct {
	Entry
	sem *semaphore.Weighted
}

// SceneClip is the outcome of Orchestrator.Generate for one scene.
type SceneClip struct {
	Clip     Clip
	Provider string
	Fallback bool
	Cost     float64
	Jobs     []models.GenerationJob
}

// Orchestrator runs the per-scene retry/fallback state machine over an
// ordered provider list. It is safe for concurrent use by many scenes;
// each provider is throttled by its own semaphore.
type Orchestrator struct {
	slots    []slot
	fallback FallbackRenderer
	jobs     JobStore
	metrics  *utils.PipelineMetrics
	logger   *utils.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewOrchestrator(entries []Entry, fallback FallbackRenderer, jobs JobStore, metrics *utils.PipelineMetrics) *Orchestrator {
	slots := make([]slot, len(entries))
	for i, e := range entries {
		if e.Policy.MaxAttempts < 1 {
			e.Policy.MaxAttempts = 1
		}
		if e.Policy.MaxConcurrent < 1 {
			e.Policy.MaxConcurrent = 1
		}
		slots[i] = slot{Entry: e, sem: semaphore.NewWeighted(int64(e.Policy.MaxConcurrent))}
	}
	if metrics == nil {
		metrics = utils.NewPipelineMetrics(nil)
	}
	return &Orchestrator{
		slots:    slots,
		fallback: fallback,
		jobs:     jobs,
		metrics:  metrics,
		logger:   utils.GetLogger().With(map[string]interface{}{"component": "video"}),
		sleep:    sleepContext,
		now:      time.Now,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// EstimateCost is the declared price of dur seconds on the highest priority provider.
func (o *Orchestrator) EstimateCost(dur float64) float64 {
	if len(o.slots) == 0 {
		return 0
	}
	return o.slots[0].Provider.CostPerSecond() * dur
}

type stateKind int

const (
	stateTrying stateKind = iota
	stateExhausted
	stateFallback
	stateDone
)

// state is the FSM position: Trying(provider, attempt), Exhausted(provider), Fallback or Done.
type state struct {
	kind     stateKind
	provider int
	attempt  int
}

// Generate produces a clip for one scene. It returns an error only when the
// context is cancelled or when even the fallback clip could not be rendered.
func (o *Orchestrator) Generate(ctx context.Context, req ClipRequest) (SceneClip, error) {
	var out SceneClip
	log := o.logger.With(map[string]interface{}{"chapter": req.ChapterIndex, "scene": req.SceneNumber})

	st := state{kind: stateTrying}
	if len(o.slots) == 0 {
		st = state{kind: stateFallback}
	} else {
		st.attempt = 1
	}

	var lastReason string
	for {
		switch st.kind {
		case stateTrying:
			s := o.slots[st.provider]
			res, job := o.attempt(ctx, s, req, st.attempt)

			if ctx.Err() != nil && res.Kind != ResultSuccess {
				job.Status = models.JobFailed
				job.Error = "cancelled"
				o.record(ctx, log, &out, job)
				return out, ctx.Err()
			}

			switch res.Kind {
			case ResultSuccess:
				// A clip that arrived as the run was cancelled is paid for; keep it reusable.
				o.record(ctx, log, &out, job)
				out.Clip = res.Clip
				out.Provider = s.Provider.Name()
				out.Cost += job.Cost
				if err := ctx.Err(); err != nil {
					return out, err
				}
				st = state{kind: stateDone}

			case ResultTransient:
				lastReason = res.Reason
				if st.attempt < s.Policy.MaxAttempts {
					o.record(ctx, log, &out, job)
					delay := s.Policy.Backoff(st.attempt)
					log.Warn("transient provider failure, retrying", map[string]interface{}{
						"provider": s.Provider.Name(),
						"attempt":  st.attempt,
						"delay":    delay.String(),
						"reason":   res.Reason,
					})
					if err := o.sleep(ctx, delay); err != nil {
						return out, err
					}
					st.attempt++
				} else {
					job.Status = models.JobExhausted
					o.record(ctx, log, &out, job)
					st = state{kind: stateExhausted, provider: st.provider}
				}

			case ResultFatal:
				lastReason = res.Reason
				job.Status = models.JobExhausted
				o.record(ctx, log, &out, job)
				log.Warn("fatal provider failure", map[string]interface{}{
					"provider": s.Provider.Name(),
					"reason":   res.Reason,
				})
				st = state{kind: stateExhausted, provider: st.provider}
			}

		case stateExhausted:
			if next := st.provider + 1; next < len(o.slots) {
				log.Info("escalating to next provider", map[string]interface{}{
					"from": o.slots[st.provider].Provider.Name(),
					"to":   o.slots[next].Provider.Name(),
				})
				st = state{kind: stateTrying, provider: next, attempt: 1}
			} else {
				st = state{kind: stateFallback}
			}

		case stateFallback:
			log.Warn("all providers exhausted, rendering fallback clip", map[string]interface{}{"reason": lastReason})
			clip, err := o.fallback.RenderFallback(ctx, req)
			if err != nil {
				if ctx.Err() != nil {
					return out, ctx.Err()
				}
				return out, apperrors.NewProvidersExhaustedError(
					fmt.Sprintf("scene %d: providers exhausted and fallback failed", req.SceneNumber), err)
			}
			o.metrics.RecordFallbackClip()
			out.Clip = clip
			out.Provider = "fallback"
			out.Fallback = true
			st = state{kind: stateDone}

		case stateDone:
			return out, nil
		}
	}
}

// attempt runs one Submit under the provider's semaphore and call timeout.
func (o *Orchestrator) attempt(ctx context.Context, s slot, req ClipRequest, attempt int) (Result, models.GenerationJob) {
	name := s.Provider.Name()
	job := models.GenerationJob{
		ID:           uuid.NewString(),
		RunID:        req.RunID,
		ChapterIndex: req.ChapterIndex,
		SceneNumber:  req.SceneNumber,
		Provider:     name,
		Attempt:      attempt,
		Status:       models.JobPending,
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		job.StartedAt = o.now()
		return TransientFailure(err.Error()), job
	}
	defer s.sem.Release(1)

	callCtx := ctx
	var cancel context.CancelFunc
	if s.Policy.CallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, s.Policy.CallTimeout)
		defer cancel()
	}

	job.StartedAt = o.now()
	o.logger.Debug("submitting clip", map[string]interface{}{
		"provider": name,
		"chapter":  req.ChapterIndex,
		"scene":    req.SceneNumber,
		"attempt":  attempt,
	})
	res := s.Provider.Submit(callCtx, req)
	finished := o.now()
	job.FinishedAt = &finished

	// A call timeout is transient even if the adapter reported something else.
	if res.Kind != ResultSuccess && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		res = TransientFailure(fmt.Sprintf("%s call timed out after %s", name, s.Policy.CallTimeout))
	}

	o.metrics.RecordProviderAttempt(name, res.Kind.String(), finished.Sub(job.StartedAt))

	switch res.Kind {
	case ResultSuccess:
		job.Status = models.JobSucceeded
		job.ClipPath = res.Clip.Path
		job.Cost = res.Clip.Cost
		if job.Cost == 0 {
			dur := res.Clip.DurationSeconds
			if dur <= 0 {
				dur = req.DurationSeconds
			}
			job.Cost = s.Provider.CostPerSecond() * dur
		}
		o.metrics.AddCost(job.Cost)
	default:
		job.Status = models.JobFailed
		job.Error = res.Reason
	}
	return res, job
}

func (o *Orchestrator) record(ctx context.Context, log *utils.Logger, out *SceneClip, job models.GenerationJob) {
	out.Jobs = append(out.Jobs, job)
	if o.jobs == nil {
		return
	}
	// Audit history must not be lost to a cancelled run.
	if err := o.jobs.Append(context.WithoutCancel(ctx), job); err != nil {
		log.Warn("failed to persist generation job", map[string]interface{}{
			"job":   job.ID,
			"error": err.Error(),
		})
	}
}

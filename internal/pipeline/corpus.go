// internal/pipeline/corpus.go
package pipeline

import (
	"context"

	apperrors "github.com/Corphon/StoryReel/internal/errors"
	"github.com/Corphon/StoryReel/internal/models"
	"github.com/Corphon/StoryReel/internal/source"
)

// CorpusOptions control an unattended pass over the corpus.
type CorpusOptions struct {
	// AutoApprove approves draft scripts without human review.
	AutoApprove bool
	// Limit stops after this many chapter runs; zero means no limit.
	Limit int
}

// CorpusReport lists what a corpus pass did with each chapter it visited.
type CorpusReport struct {
	Completed      []int `json:"completed"`
	Failed         []int `json:"failed"`
	AwaitingReview []int `json:"awaiting_review"`
	NeedsReview    []int `json:"needs_review"`
}

// RunCorpus walks the corpus from the resume point. Chapters whose script
// waits for review are skipped so later chapters still make progress.
// It stops early only on cancellation or when checkpoints cannot be written.
func (r *Runner) RunCorpus(ctx context.Context, opts CorpusOptions) (CorpusReport, error) {
	var report CorpusReport

	total, err := source.CountChapters(r.opts.SourcePath)
	if err != nil {
		return report, err
	}
	start, ok := r.deps.Tracker.ResumePoint(total)
	if !ok {
		r.logger.Info("corpus already complete", map[string]interface{}{"chapters": total})
		return report, nil
	}
	r.logger.Info("corpus run started", map[string]interface{}{
		"chapters":     total,
		"resume_point": start,
		"auto_approve": opts.AutoApprove,
	})

	runs := 0
	for index := start; index <= total; index++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if opts.Limit > 0 && runs >= opts.Limit {
			break
		}

		cp := r.deps.Tracker.Chapter(index)
		switch {
		case cp.Status == models.ChapterComplete:
			continue
		case cp.NeedsReview:
			report.NeedsReview = append(report.NeedsReview, index)
			continue
		case r.Running(index):
			continue
		}

		sc, err := r.PrepareScript(ctx, index)
		if err != nil {
			if stop := r.corpusFailure(ctx, &report, index, err); stop != nil {
				return report, stop
			}
			continue
		}

		if sc.Status == models.ScriptDraft && opts.AutoApprove {
			if sc, err = r.deps.ScriptStore.Approve(index, "auto-approved"); err != nil {
				if stop := r.corpusFailure(ctx, &report, index, err); stop != nil {
					return report, stop
				}
				continue
			}
		}
		if sc.Status != models.ScriptApproved {
			report.AwaitingReview = append(report.AwaitingReview, index)
			continue
		}

		runs++
		if _, err := r.RunChapter(ctx, index); err != nil {
			if apperrors.IsConflictError(err) {
				continue
			}
			// RunChapter already checkpointed the failure.
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			if apperrors.IsPersistenceError(err) {
				return report, err
			}
			if apperrors.IsContentError(err) {
				report.NeedsReview = append(report.NeedsReview, index)
			} else {
				report.Failed = append(report.Failed, index)
			}
			continue
		}
		report.Completed = append(report.Completed, index)
	}

	r.logger.Info("corpus run finished", map[string]interface{}{
		"completed":       len(report.Completed),
		"failed":          len(report.Failed),
		"awaiting_review": len(report.AwaitingReview),
		"needs_review":    len(report.NeedsReview),
	})
	return report, nil
}

// corpusFailure checkpoints a chapter that failed before its run started and
// returns a non-nil error when the whole pass must stop.
func (r *Runner) corpusFailure(ctx context.Context, report *CorpusReport, index int, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if apperrors.IsPersistenceError(err) {
		return err
	}

	r.logger.Warn("chapter skipped", map[string]interface{}{
		"chapter": index,
		"error":   err.Error(),
	})
	if apperrors.IsContentError(err) {
		report.NeedsReview = append(report.NeedsReview, index)
		return r.checkpointFailure(ctx, index, r.deps.Tracker.MarkNeedsReview, err)
	}
	report.Failed = append(report.Failed, index)
	return r.checkpointFailure(ctx, index, r.deps.Tracker.MarkFailed, err)
}

func (r *Runner) checkpointFailure(ctx context.Context, index int, mark func(context.Context, int, string) error, cause error) error {
	if err := mark(ctx, index, cause.Error()); err != nil {
		return err
	}
	r.publish(models.ProgressEvent{Type: models.EventChapterFailed, ChapterIndex: index, Message: cause.Error()})
	return nil
}

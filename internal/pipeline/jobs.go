package pipeline

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"reelforge/internal/app/model"
	"reelforge/internal/apperr"
	"reelforge/internal/metrics"
	"reelforge/internal/notify"
	"reelforge/internal/store"
)

// jobWriter holds the store access shared by the pipeline and the completer.
// Every write is conditional on the status the writer last observed.
type jobWriter struct {
	jobs     store.JobStore
	notifier notify.Notifier
	logger   *zap.Logger
}

func (w *jobWriter) load(ctx context.Context, id string) (*model.Job, error) {
	job, err := w.jobs.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("job %s not found", id)
	}
	if err != nil {
		return nil, apperr.Persistence("load job "+id, err)
	}
	return job, nil
}

func (w *jobWriter) save(ctx context.Context, job *model.Job, expected ...model.JobStatus) error {
	err := w.jobs.Update(ctx, job, expected...)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrStale):
		return apperr.Conflict("job %s changed status concurrently", job.ID)
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound("job %s not found", job.ID)
	default:
		return apperr.Persistence("update job "+job.ID, err)
	}
}

// advance moves job to the next status and persists it, guarded by the
// status it had before.
func (w *jobWriter) advance(ctx context.Context, job *model.Job, to model.JobStatus) error {
	from := job.Status
	if err := job.Advance(to); err != nil {
		return err
	}
	if err := w.save(ctx, job, from); err != nil {
		job.Status = from
		return err
	}
	w.observe(ctx, job)
	return nil
}

// markFailed records cause on the job unless it already reached a terminal
// status. It runs detached from ctx's cancellation so a cancelled run still
// lands on the job.
func (w *jobWriter) markFailed(ctx context.Context, jobID string, cause error) error {
	ctx = context.WithoutCancel(ctx)

	job, err := w.load(ctx, jobID)
	if err != nil {
		w.logger.Error("Failed to load job to mark it failed", zap.String("job_id", jobID), zap.Error(err))
		return err
	}
	if job.Status.Terminal() {
		return nil
	}

	from := job.Status
	if err := job.Fail(apperr.Message(cause)); err != nil {
		return err
	}
	if err := w.save(ctx, job, from); err != nil {
		w.logger.Error("Failed to mark job failed", zap.String("job_id", jobID), zap.Error(err))
		return err
	}

	w.logger.Warn("Job failed", zap.String("job_id", jobID), zap.String("stage", string(from)), zap.Error(cause))
	w.observe(ctx, job)
	return nil
}

// complete finishes a rendering job. A job that left rendering meanwhile is
// left untouched.
func (w *jobWriter) complete(ctx context.Context, jobID, resultURL string) error {
	job, err := w.load(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != model.StatusRendering {
		w.logger.Info("Job is no longer rendering, dropping result",
			zap.String("job_id", jobID), zap.String("status", string(job.Status)))
		return nil
	}

	if err := job.Complete(resultURL); err != nil {
		return err
	}
	if err := w.save(ctx, job, model.StatusRendering); err != nil {
		if apperr.Is(err, apperr.KindConflict) {
			return nil
		}
		return err
	}

	w.logger.Info("Job completed", zap.String("job_id", jobID), zap.String("url", resultURL))
	w.observe(ctx, job)
	return nil
}

func (w *jobWriter) observe(ctx context.Context, job *model.Job) {
	metrics.JobTransitions.WithLabelValues(string(job.Kind), string(job.Status)).Inc()
	w.notifier.Notify(ctx, notify.Event{
		Type:    notify.TypeJob,
		ID:      job.ID,
		OwnerID: job.OwnerID,
		Status:  string(job.Status),
		Message: job.ErrorMessage,
	})
}

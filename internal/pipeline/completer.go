package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"reelforge/internal/app/model"
	"reelforge/internal/apperr"
	"reelforge/internal/notify"
	"reelforge/internal/provider"
	"reelforge/internal/storage"
	"reelforge/internal/store"
	"reelforge/internal/task"
)

// Renderer is the composition service: a provider adapter whose result is
// copied into our own storage.
type Renderer interface {
	provider.Adapter
	Fetch(ctx context.Context, src string, store storage.Store, jobID string) (string, error)
}

type CompleterConfig struct {
	RenderTimeout  time.Duration
	RenderInterval time.Duration
	WaitTimeout    time.Duration
	PollInterval   time.Duration
}

type CompleterDeps struct {
	Jobs      store.JobStore
	Renderer  Renderer
	Providers *provider.Registry
	Orch      *provider.Orchestrator
	Media     storage.Store
	Notifier  notify.Notifier
}

// Completer finishes jobs in rendering: it renders standard jobs and waits on
// provider-backed ones. Whatever goes wrong lands on the job as failed.
type Completer struct {
	jobWriter
	renderer  Renderer
	providers *provider.Registry
	orch      *provider.Orchestrator
	media     storage.Store
	cfg       CompleterConfig
}

func NewCompleter(deps CompleterDeps, cfg CompleterConfig, logger *zap.Logger) *Completer {
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Completer{
		jobWriter: jobWriter{jobs: deps.Jobs, notifier: notifier, logger: logger.Named("completer")},
		renderer:  deps.Renderer,
		providers: deps.Providers,
		orch:      deps.Orch,
		media:     deps.Media,
		cfg:       cfg,
	}
}

func (c *Completer) Register(r task.Registrar) {
	r.Handle(task.TypeRender, c.Render)
	r.Handle(task.TypeAwaitProvider, c.Await)
}

// Render submits a standard job's scenes to the renderer, waits for the file
// and stores it. A job that already carries a render submission resumes
// waiting on it instead of submitting again.
func (c *Completer) Render(ctx context.Context, jobID string) (err error) {
	job, ok, err := c.pending(ctx, jobID)
	if !ok {
		return err
	}
	defer c.boundary(ctx, jobID, &err)

	if job.Provider == nil || job.Provider.Name != c.renderer.Name() {
		sub, err := c.orch.Attempt(ctx, []provider.Adapter{c.renderer}, provider.Params{
			JobID:  job.ID,
			Kind:   job.Kind,
			Title:  job.Title(),
			Scenes: job.Scenes,
		})
		if err != nil {
			return c.fail(ctx, jobID, err)
		}
		job.Provider = &model.ProviderRef{Name: sub.Provider, ExternalID: sub.ExternalID}
		if err := c.save(ctx, job, model.StatusRendering); err != nil {
			return c.dropConflict(err)
		}
	}

	res, err := c.orch.WaitForCompletion(ctx, c.renderer, job.Provider.ExternalID, c.cfg.RenderTimeout, c.cfg.RenderInterval)
	if err != nil {
		return c.fail(ctx, jobID, err)
	}

	url, err := c.renderer.Fetch(ctx, res.ResultURL, c.media, job.ID)
	if err != nil {
		return c.fail(ctx, jobID, fmt.Errorf("store rendered video: %w", err))
	}
	return c.complete(ctx, jobID, url)
}

// Await waits for the provider recorded on a provider-backed job.
func (c *Completer) Await(ctx context.Context, jobID string) (err error) {
	job, ok, err := c.pending(ctx, jobID)
	if !ok {
		return err
	}
	defer c.boundary(ctx, jobID, &err)

	if job.Provider == nil {
		return c.fail(ctx, jobID, fmt.Errorf("job has no provider submission"))
	}
	adapter, err := c.providers.Lookup(job.Provider.Name)
	if err != nil {
		return c.fail(ctx, jobID, err)
	}

	res, err := c.orch.WaitForCompletion(ctx, adapter, job.Provider.ExternalID, c.cfg.WaitTimeout, c.cfg.PollInterval)
	if err != nil {
		return c.fail(ctx, jobID, err)
	}
	return c.complete(ctx, jobID, res.ResultURL)
}

// pending loads the job and reports whether it still waits for completion.
// Redelivered tasks for finished jobs are dropped.
func (c *Completer) pending(ctx context.Context, jobID string) (*model.Job, bool, error) {
	job, err := c.load(ctx, jobID)
	if apperr.Is(err, apperr.KindNotFound) {
		c.logger.Warn("Dropping task for unknown job", zap.String("job_id", jobID))
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if job.Status != model.StatusRendering {
		c.logger.Debug("Job is not rendering, nothing to do",
			zap.String("job_id", jobID), zap.String("status", string(job.Status)))
		return nil, false, nil
	}
	return job, true, nil
}

// fail records cause on the job. When ctx was cancelled the job is left in
// rendering and the error returned, so a queue backend can redeliver the task
// and resume waiting.
func (c *Completer) fail(ctx context.Context, jobID string, cause error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("job %s interrupted: %w", jobID, ctx.Err())
	}
	return c.markFailed(ctx, jobID, cause)
}

func (c *Completer) boundary(ctx context.Context, jobID string, err *error) {
	if r := recover(); r != nil {
		c.logger.Error("Completion panicked", zap.String("job_id", jobID), zap.Any("panic", r))
		*err = c.markFailed(ctx, jobID, fmt.Errorf("internal error: %v", r))
	}
}

func (c *Completer) dropConflict(err error) error {
	if apperr.Is(err, apperr.KindConflict) {
		return nil
	}
	return err
}

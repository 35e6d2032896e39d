package app

import (
	"context"

	"go.uber.org/zap"

	"reelforge/internal/app/model"
	"reelforge/internal/pipeline"
	"reelforge/internal/queue"
	"reelforge/internal/vault"
	"reelforge/pkg/response"
)

// App is the operation surface of the service. Every operation returns an
// envelope; response.StatusCode maps the error kinds for an HTTP layer.
type App struct {
	pipeline *pipeline.Pipeline
	queue    *queue.Service
	vault    *vault.Vault
	logger   *zap.Logger
}

type Options struct {
	Pipeline *pipeline.Pipeline
	Queue    *queue.Service
	Vault    *vault.Vault
	Logger   *zap.Logger
}

func New(opts Options) *App {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		pipeline: opts.Pipeline,
		queue:    opts.Queue,
		vault:    opts.Vault,
		logger:   logger.Named("app"),
	}
}

// CreateJob stores a draft and starts generating it in the background.
func (a *App) CreateJob(ctx context.Context, ownerID string, kind model.JobKind, req pipeline.GenerationRequest) (response.Envelope[*model.Job], error) {
	job, err := a.pipeline.CreateJob(ctx, ownerID, kind, req)
	if err != nil {
		return response.Fail[*model.Job](err), err
	}
	if err := a.pipeline.Start(ctx, job.ID); err != nil {
		a.logger.Error("Failed to start job", zap.String("job_id", job.ID), zap.Error(err))
		return response.Fail[*model.Job](err), err
	}
	return response.OK("Job created", job), nil
}

func (a *App) GetJob(ctx context.Context, ownerID, jobID string) (response.Envelope[*model.Job], error) {
	job, err := a.pipeline.GetStatus(ctx, jobID, ownerID)
	return response.From(job, "Job found", err), err
}

func (a *App) RegenerateJob(ctx context.Context, ownerID, jobID string) (response.Envelope[*model.Job], error) {
	job, err := a.pipeline.Regenerate(ctx, jobID, ownerID)
	return response.From(job, "Job restarted", err), err
}

func (a *App) Enqueue(ctx context.Context, userID string, req queue.EnqueueRequest) (response.Envelope[*model.QueueEntry], error) {
	entry, err := a.queue.Enqueue(ctx, userID, req)
	return response.From(entry, "Video queued", err), err
}

func (a *App) RemoveFromQueue(ctx context.Context, userID, entryID string) (response.Envelope[struct{}], error) {
	err := a.queue.Remove(ctx, userID, entryID)
	return response.From(struct{}{}, "Removed from queue", err), err
}

func (a *App) UpdateQueueEntry(ctx context.Context, userID, entryID string, req queue.UpdateRequest) (response.Envelope[*model.QueueEntry], error) {
	entry, err := a.queue.Update(ctx, userID, entryID, req)
	return response.From(entry, "Queue entry updated", err), err
}

func (a *App) PostNow(ctx context.Context, userID, entryID string) (response.Envelope[*model.QueueEntry], error) {
	entry, err := a.queue.PostNow(ctx, userID, entryID)
	if err != nil {
		return response.Fail[*model.QueueEntry](err), err
	}
	message := "Posted"
	if entry.Status != model.QueuePosted {
		message = "Posting failed on at least one platform"
	}
	return response.OK(message, entry), nil
}

func (a *App) ListQueue(ctx context.Context, userID string) (response.Envelope[[]*model.QueueEntry], error) {
	entries, err := a.queue.List(ctx, userID)
	return response.From(entries, "Queue listed", err), err
}

func (a *App) ListAccounts(ctx context.Context, userID string) (response.Envelope[[]model.Account], error) {
	accounts, err := a.vault.ListAccounts(ctx, userID)
	return response.From(accounts, "Accounts listed", err), err
}

func (a *App) ConnectAccount(ctx context.Context, userID string, p model.Platform, code string) (response.Envelope[*model.Account], error) {
	account, err := a.vault.Connect(ctx, userID, p, code)
	return response.From(account, "Account connected", err), err
}

func (a *App) DisconnectAccount(ctx context.Context, userID string, p model.Platform) (response.Envelope[struct{}], error) {
	err := a.vault.Disconnect(ctx, userID, p)
	return response.From(struct{}{}, "Account disconnected", err), err
}

func (a *App) AuthURL(p model.Platform, state string) (response.Envelope[string], error) {
	url, err := a.vault.AuthURL(p, state)
	return response.From(url, "Open the URL to authorize", err), err
}

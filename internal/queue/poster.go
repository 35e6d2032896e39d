package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"reelforge/internal/app/model"
	"reelforge/internal/apperr"
	"reelforge/internal/metrics"
	"reelforge/internal/notify"
	"reelforge/internal/platform"
	"reelforge/internal/store"
)

const (
	msgNotReady     = "video is not ready"
	msgNotConnected = "not connected"
)

// AccountSource hands out accounts with a usable access token, or nil when
// the user has none on the platform.
type AccountSource interface {
	GetValidAccount(ctx context.Context, userID string, p model.Platform) (*model.Account, error)
}

type Poster struct {
	entries    store.QueueStore
	jobs       store.JobStore
	accounts   AccountSource
	publishers map[model.Platform]platform.Publisher
	notifier   notify.Notifier
	now        func() time.Time
	logger     *zap.Logger
}

func NewPoster(entries store.QueueStore, jobs store.JobStore, accounts AccountSource, publishers []platform.Publisher, notifier notify.Notifier, logger *zap.Logger) *Poster {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	byPlatform := make(map[model.Platform]platform.Publisher, len(publishers))
	for _, p := range publishers {
		byPlatform[p.Platform()] = p
	}
	return &Poster{
		entries:    entries,
		jobs:       jobs,
		accounts:   accounts,
		publishers: byPlatform,
		notifier:   notifier,
		now:        time.Now,
		logger:     logger.Named("poster"),
	}
}

// Post publishes a claimed entry to each of its platforms concurrently and
// records the per-platform outcome. The entry is posted only when every
// platform succeeded. When the video cannot be loaded from the store the
// entry is released back to queued and a persistence error is returned.
func (p *Poster) Post(ctx context.Context, entry *model.QueueEntry) ([]model.PlatformResult, error) {
	log := p.logger.With(zap.String("entry", entry.ID), zap.String("video", entry.VideoID))

	results := make([]model.PlatformResult, len(entry.Platforms))
	job, reason, err := p.readyJob(ctx, entry)
	if err != nil {
		if rerr := p.entries.Release(context.WithoutCancel(ctx), entry.ID); rerr != nil {
			log.Error("Failed to release queue entry", zap.Error(rerr))
		}
		return nil, err
	}
	if reason != "" {
		for i, pl := range entry.Platforms {
			results[i] = p.failure(pl, reason)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		for i, pl := range entry.Platforms {
			g.Go(func() error {
				results[i] = p.publish(gctx, entry.UserID, pl, job)
				return nil
			})
		}
		_ = g.Wait()
	}

	status := model.OutcomeStatus(results)
	err = p.entries.Finish(context.WithoutCancel(ctx), entry.ID, status, results)
	if errors.Is(err, store.ErrStale) {
		log.Warn("Queue entry left processing before its results were recorded")
		return results, nil
	}
	if err != nil {
		return results, apperr.Persistence("record posting results", err)
	}

	entry.Status = status
	entry.Results = results
	log.Info("Queue entry finished", zap.String("status", string(status)), zap.Any("results", results))
	p.notifier.Notify(ctx, notify.Event{
		Type:    notify.TypeQueue,
		ID:      entry.ID,
		OwnerID: entry.UserID,
		Status:  string(status),
		Message: summary(results),
	})
	return results, nil
}

// readyJob returns the job behind the entry, or the reason it cannot be
// posted. A store failure is returned as an error and records no outcome.
func (p *Poster) readyJob(ctx context.Context, entry *model.QueueEntry) (*model.Job, string, error) {
	job, err := p.jobs.Get(ctx, entry.VideoID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, "video not found", nil
	case err != nil:
		return nil, "", apperr.Persistence("load video "+entry.VideoID, err)
	case job.Status != model.StatusCompleted || job.ResultURL == "":
		return nil, msgNotReady, nil
	}
	return job, "", nil
}

func (p *Poster) publish(ctx context.Context, userID string, pl model.Platform, job *model.Job) (result model.PlatformResult) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Publisher panicked", zap.String("platform", string(pl)), zap.Any("panic", r))
			result = p.failure(pl, fmt.Sprintf("internal error: %v", r))
		}
	}()

	publisher, ok := p.publishers[pl]
	if !ok {
		return p.failure(pl, "platform is not supported")
	}

	account, err := p.accounts.GetValidAccount(ctx, userID, pl)
	if err != nil {
		return p.failure(pl, apperr.Message(err))
	}
	if account == nil {
		return p.failure(pl, msgNotConnected)
	}

	postID, err := publisher.Publish(ctx, account, platform.Post{
		VideoURL:    job.ResultURL,
		Title:       job.Title(),
		Description: job.Caption(),
		Tags:        job.Hashtags(),
	})
	if err != nil {
		perr := apperr.PlatformPublish(string(pl), err)
		p.logger.Warn("Publish failed", zap.String("video", job.ID), zap.Error(perr))
		return p.failure(pl, apperr.Message(perr))
	}

	metrics.PlatformPublishes.WithLabelValues(string(pl), "success").Inc()
	p.logger.Info("Video published", zap.String("video", job.ID), zap.String("platform", string(pl)), zap.String("post_id", postID))
	return model.PlatformResult{Platform: pl, Success: true, PostID: postID, At: p.now().UTC()}
}

func (p *Poster) failure(pl model.Platform, message string) model.PlatformResult {
	metrics.PlatformPublishes.WithLabelValues(string(pl), "error").Inc()
	return model.PlatformResult{Platform: pl, Error: message, At: p.now().UTC()}
}

func summary(results []model.PlatformResult) string {
	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		}
	}
	return fmt.Sprintf("%d of %d platforms posted", ok, len(results))
}

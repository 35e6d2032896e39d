// Package store defines persistence for jobs, queue entries and connected accounts.
// Exclusivity between workers is expressed only through the conditional
// updates below; callers never hold locks across calls.
package store

import (
	"context"
	"errors"
	"time"

	"reelforge/internal/app/model"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrStale is returned when a conditional update finds the row in an unexpected status.
	ErrStale = errors.New("stale status")
	// ErrDuplicate is returned when a unique constraint would be violated.
	ErrDuplicate = errors.New("duplicate")
)

type JobStore interface {
	Create(ctx context.Context, job *model.Job) error
	Get(ctx context.Context, id string) (*model.Job, error)
	// Update writes the job if its stored status is one of expected.
	// With no expected statuses the write is unconditional.
	Update(ctx context.Context, job *model.Job, expected ...model.JobStatus) error
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*model.Job, error)
}

type QueueStore interface {
	// Create fails with ErrDuplicate when the user already has an active entry for the video.
	Create(ctx context.Context, entry *model.QueueEntry) error
	Get(ctx context.Context, id string) (*model.QueueEntry, error)
	ListByUser(ctx context.Context, userID string) ([]*model.QueueEntry, error)
	// ListDue returns queued entries scheduled at or before now, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.QueueEntry, error)
	// Claim moves an entry from queued to processing and reports whether this caller won.
	Claim(ctx context.Context, id string) (bool, error)
	// Release moves a processing entry back to queued without results.
	Release(ctx context.Context, id string) error
	// Finish records the outcome of an entry that is processing.
	Finish(ctx context.Context, id string, status model.QueueStatus, results []model.PlatformResult) error
	// Reschedule changes schedule and platforms of a queued entry.
	Reschedule(ctx context.Context, id string, scheduledAt time.Time, platforms []model.Platform) error
	// Delete removes a queued entry.
	Delete(ctx context.Context, id string) error
}

type AccountStore interface {
	// Upsert inserts or replaces the account for (user, platform) and marks it active.
	Upsert(ctx context.Context, account *model.Account) (*model.Account, error)
	Get(ctx context.Context, userID string, platform model.Platform) (*model.Account, error)
	ListByUser(ctx context.Context, userID string) ([]*model.Account, error)
	// UpdateTokens replaces the credentials of an active account.
	UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error
	Deactivate(ctx context.Context, id string) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

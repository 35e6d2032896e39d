// Package queue schedules completed videos for posting to connected
// platforms and posts them when they fall due.
package queue

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"reelforge/internal/app/model"
	"reelforge/internal/apperr"
	"reelforge/internal/metrics"
	"reelforge/internal/notify"
	"reelforge/internal/store"
	"reelforge/internal/validate"
)

const (
	sourceScheduler = "scheduler"
	sourceManual    = "manual"
)

type EnqueueRequest struct {
	VideoID     string           `json:"video_id" validate:"required"`
	Platforms   []model.Platform `json:"platforms" validate:"min=1,unique,dive,platform"`
	ScheduledAt time.Time        `json:"scheduled_at"`
}

// UpdateRequest changes a queued entry. Zero fields are left unchanged.
type UpdateRequest struct {
	ScheduledAt *time.Time       `json:"scheduled_at"`
	Platforms   []model.Platform `json:"platforms" validate:"omitempty,min=1,unique,dive,platform"`
}

type Service struct {
	entries   store.QueueStore
	jobs      store.JobStore
	poster    *Poster
	notifier  notify.Notifier
	validator *validate.Validator
	now       func() time.Time
	logger    *zap.Logger
}

func NewService(entries store.QueueStore, jobs store.JobStore, poster *Poster, notifier notify.Notifier, logger *zap.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{
		entries:   entries,
		jobs:      jobs,
		poster:    poster,
		notifier:  notifier,
		validator: validate.New(),
		now:       time.Now,
		logger:    logger.Named("queue"),
	}
}

// Enqueue schedules a video owned by userID. A video can have only one
// active entry per user.
func (s *Service) Enqueue(ctx context.Context, userID string, req EnqueueRequest) (*model.QueueEntry, error) {
	if userID == "" {
		return nil, apperr.Auth("missing user")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}

	job, err := s.jobs.Get(ctx, req.VideoID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && job.OwnerID != userID) {
		return nil, apperr.NotFound("video %s not found", req.VideoID)
	}
	if err != nil {
		return nil, apperr.Persistence("load video", err)
	}

	at := req.ScheduledAt
	if at.IsZero() {
		at = s.now()
	}
	entry := &model.QueueEntry{
		UserID:      userID,
		VideoID:     req.VideoID,
		ScheduledAt: at.UTC(),
		Platforms:   req.Platforms,
		Status:      model.QueueQueued,
	}
	if err := s.entries.Create(ctx, entry); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperr.Conflict("video is already in queue")
		}
		return nil, apperr.Persistence("create queue entry", err)
	}

	s.logger.Info("Video queued",
		zap.String("entry", entry.ID),
		zap.String("video", entry.VideoID),
		zap.Time("scheduled_at", entry.ScheduledAt),
		zap.Any("platforms", entry.Platforms))
	s.notify(ctx, entry, "")
	return entry, nil
}

func (s *Service) List(ctx context.Context, userID string) ([]*model.QueueEntry, error) {
	entries, err := s.entries.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Persistence("list queue", err)
	}
	return entries, nil
}

func (s *Service) Get(ctx context.Context, userID, entryID string) (*model.QueueEntry, error) {
	return s.owned(ctx, userID, entryID)
}

// Remove deletes an entry that has not been picked up yet.
func (s *Service) Remove(ctx context.Context, userID, entryID string) error {
	entry, err := s.owned(ctx, userID, entryID)
	if err != nil {
		return err
	}
	if err := s.entries.Delete(ctx, entryID); err != nil {
		return s.writeError(ctx, entry, err)
	}
	s.logger.Info("Queue entry removed", zap.String("entry", entryID))
	return nil
}

// Update reschedules an entry or changes its platforms while it is queued.
func (s *Service) Update(ctx context.Context, userID, entryID string, req UpdateRequest) (*model.QueueEntry, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}
	entry, err := s.owned(ctx, userID, entryID)
	if err != nil {
		return nil, err
	}

	at := entry.ScheduledAt
	if req.ScheduledAt != nil {
		at = req.ScheduledAt.UTC()
	}
	platforms := entry.Platforms
	if len(req.Platforms) > 0 {
		platforms = req.Platforms
	}
	if err := s.entries.Reschedule(ctx, entryID, at, platforms); err != nil {
		return nil, s.writeError(ctx, entry, err)
	}
	return s.owned(ctx, userID, entryID)
}

// PostNow claims a queued entry and posts it immediately. An entry that is
// already processing or finished is never posted twice.
func (s *Service) PostNow(ctx context.Context, userID, entryID string) (*model.QueueEntry, error) {
	entry, err := s.owned(ctx, userID, entryID)
	if err != nil {
		return nil, err
	}

	won, err := s.entries.Claim(ctx, entryID)
	metrics.QueueClaims.WithLabelValues(sourceManual, claimOutcome(won, err)).Inc()
	if err != nil {
		return nil, s.writeError(ctx, entry, err)
	}
	if !won {
		return nil, s.conflict(ctx, entry)
	}

	entry.Status = model.QueueProcessing
	s.notify(ctx, entry, "")
	if _, err := s.poster.Post(ctx, entry); err != nil {
		return nil, err
	}
	return s.owned(ctx, userID, entryID)
}

func (s *Service) owned(ctx context.Context, userID, entryID string) (*model.QueueEntry, error) {
	entry, err := s.entries.Get(ctx, entryID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && entry.UserID != userID) {
		return nil, apperr.NotFound("queue entry %s not found", entryID)
	}
	if err != nil {
		return nil, apperr.Persistence("load queue entry", err)
	}
	return entry, nil
}

// writeError translates a failed conditional write on entry.
func (s *Service) writeError(ctx context.Context, entry *model.QueueEntry, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound("queue entry %s not found", entry.ID)
	case errors.Is(err, store.ErrStale):
		return s.conflict(ctx, entry)
	default:
		return apperr.Persistence("update queue entry", err)
	}
}

func (s *Service) conflict(ctx context.Context, entry *model.QueueEntry) error {
	status := entry.Status
	if current, err := s.entries.Get(ctx, entry.ID); err == nil {
		status = current.Status
	}
	return apperr.Conflict("queue entry %s is %s", entry.ID, status)
}

func (s *Service) notify(ctx context.Context, entry *model.QueueEntry, message string) {
	s.notifier.Notify(ctx, notify.Event{
		Type:    notify.TypeQueue,
		ID:      entry.ID,
		OwnerID: entry.UserID,
		Status:  string(entry.Status),
		Message: message,
	})
}

func claimOutcome(won bool, err error) string {
	switch {
	case err != nil:
		return "error"
	case won:
		return "won"
	default:
		return "lost"
	}
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"reelforge/internal/app/model"
	"reelforge/internal/store"
)

var _ store.QueueStore = (*QueueStore)(nil)

type QueueStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewQueueStore(pool *pgxpool.Pool, logger *zap.Logger) *QueueStore {
	return &QueueStore{pool: pool, logger: logger.Named("queue_store")}
}

const queueColumns = `id, user_id, video_id, scheduled_at, platforms, status, results, created_at, updated_at`

const insertQueueEntryQuery = `
INSERT INTO queue_entries (id, user_id, video_id, scheduled_at, platforms, status, results, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, '[]', $7, $7)`

const getQueueEntryQuery = `SELECT ` + queueColumns + ` FROM queue_entries WHERE id = $1`

const listQueueByUserQuery = `SELECT ` + queueColumns + `
FROM queue_entries WHERE user_id = $1 ORDER BY scheduled_at`

const listDueQuery = `SELECT ` + queueColumns + `
FROM queue_entries
WHERE status = 'queued' AND scheduled_at <= $1
ORDER BY scheduled_at
LIMIT $2`

const claimQueueEntryQuery = `
UPDATE queue_entries SET status = 'processing', updated_at = now()
WHERE id = $1 AND status = 'queued'`

const releaseQueueEntryQuery = `
UPDATE queue_entries SET status = 'queued', updated_at = now()
WHERE id = $1 AND status = 'processing'`

const finishQueueEntryQuery = `
UPDATE queue_entries SET status = $2, results = $3, updated_at = now()
WHERE id = $1 AND status = 'processing'`

const rescheduleQueueEntryQuery = `
UPDATE queue_entries SET scheduled_at = $2, platforms = $3, updated_at = now()
WHERE id = $1 AND status = 'queued'`

const deleteQueueEntryQuery = `DELETE FROM queue_entries WHERE id = $1 AND status = 'queued'`

const queueEntryExistsQuery = `SELECT EXISTS (SELECT 1 FROM queue_entries WHERE id = $1)`

type queueRow struct {
	ID          string    `db:"id"`
	UserID      string    `db:"user_id"`
	VideoID     string    `db:"video_id"`
	ScheduledAt time.Time `db:"scheduled_at"`
	Platforms   []string  `db:"platforms"`
	Status      string    `db:"status"`
	Results     []byte    `db:"results"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r queueRow) toModel() (*model.QueueEntry, error) {
	entry := &model.QueueEntry{
		ID:          r.ID,
		UserID:      r.UserID,
		VideoID:     r.VideoID,
		ScheduledAt: r.ScheduledAt,
		Platforms:   make([]model.Platform, len(r.Platforms)),
		Status:      model.QueueStatus(r.Status),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	for i, p := range r.Platforms {
		entry.Platforms[i] = model.Platform(p)
	}
	if err := json.Unmarshal(r.Results, &entry.Results); err != nil {
		return nil, fmt.Errorf("decode results of entry %s: %w", r.ID, err)
	}
	return entry, nil
}

func platformStrings(platforms []model.Platform) []string {
	out := make([]string, len(platforms))
	for i, p := range platforms {
		out[i] = string(p)
	}
	return out
}

func (s *QueueStore) Create(ctx context.Context, entry *model.QueueEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Status == "" {
		entry.Status = model.QueueQueued
	}
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx, insertQueueEntryQuery,
		entry.ID, entry.UserID, entry.VideoID, entry.ScheduledAt,
		platformStrings(entry.Platforms), string(entry.Status), now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		s.logger.Error("Failed to create queue entry",
			zap.String("user_id", entry.UserID), zap.String("video_id", entry.VideoID), zap.Error(err))
		return fmt.Errorf("insert queue entry: %w", err)
	}
	entry.CreatedAt, entry.UpdatedAt = now, now
	return nil
}

func (s *QueueStore) Get(ctx context.Context, id string) (*model.QueueEntry, error) {
	var row queueRow
	if err := pgxscan.Get(ctx, s.pool, &row, getQueueEntryQuery, id); err != nil {
		if pgxscan.NotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get queue entry %s: %w", id, err)
	}
	return row.toModel()
}

func (s *QueueStore) ListByUser(ctx context.Context, userID string) ([]*model.QueueEntry, error) {
	return s.list(ctx, listQueueByUserQuery, userID)
}

func (s *QueueStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.QueueEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.list(ctx, listDueQuery, now, limit)
}

func (s *QueueStore) list(ctx context.Context, query string, args ...any) ([]*model.QueueEntry, error) {
	var rows []queueRow
	if err := pgxscan.Select(ctx, s.pool, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list queue entries: %w", err)
	}
	entries := make([]*model.QueueEntry, 0, len(rows))
	for _, r := range rows {
		e, err := r.toModel()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *QueueStore) Claim(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, claimQueueEntryQuery, id)
	if err != nil {
		return false, fmt.Errorf("claim queue entry %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if err := s.missingOrStale(ctx, id); !errors.Is(err, store.ErrStale) {
		return false, err
	}
	return false, nil
}

func (s *QueueStore) Release(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, releaseQueueEntryQuery, id)
	if err != nil {
		return fmt.Errorf("release queue entry %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrStale(ctx, id)
	}
	return nil
}

func (s *QueueStore) Finish(ctx context.Context, id string, status model.QueueStatus, results []model.PlatformResult) error {
	if results == nil {
		results = []model.PlatformResult{}
	}
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	tag, err := s.pool.Exec(ctx, finishQueueEntryQuery, id, string(status), data)
	if err != nil {
		s.logger.Error("Failed to finish queue entry", zap.String("entry_id", id), zap.Error(err))
		return fmt.Errorf("finish queue entry %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrStale(ctx, id)
	}
	return nil
}

func (s *QueueStore) Reschedule(ctx context.Context, id string, scheduledAt time.Time, platforms []model.Platform) error {
	tag, err := s.pool.Exec(ctx, rescheduleQueueEntryQuery, id, scheduledAt, platformStrings(platforms))
	if err != nil {
		return fmt.Errorf("reschedule queue entry %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrStale(ctx, id)
	}
	return nil
}

func (s *QueueStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, deleteQueueEntryQuery, id)
	if err != nil {
		return fmt.Errorf("delete queue entry %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrStale(ctx, id)
	}
	return nil
}

func (s *QueueStore) missingOrStale(ctx context.Context, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, queueEntryExistsQuery, id).Scan(&exists); err != nil {
		return fmt.Errorf("check queue entry %s: %w", id, err)
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrStale
}

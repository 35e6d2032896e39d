package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"reelforge/internal/app/model"
	"reelforge/internal/store"
)

var _ store.JobStore = (*JobStore)(nil)

type JobStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewJobStore(pool *pgxpool.Pool, logger *zap.Logger) *JobStore {
	return &JobStore{pool: pool, logger: logger.Named("job_store")}
}

const jobColumns = `id, owner_id, kind, status, scenes, provider_name, provider_external_id,
	result_url, error_message, metadata, created_at, updated_at`

const insertJobQuery = `
INSERT INTO jobs (id, owner_id, kind, status, scenes, provider_name, provider_external_id,
	result_url, error_message, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`

const getJobQuery = `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

const updateJobQuery = `
UPDATE jobs SET status = $2, scenes = $3, provider_name = $4, provider_external_id = $5,
	result_url = $6, error_message = $7, metadata = $8, updated_at = $9
WHERE id = $1`

const listJobsByOwnerQuery = `SELECT ` + jobColumns + `
FROM jobs WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2`

const jobExistsQuery = `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`

type jobRow struct {
	ID                 string    `db:"id"`
	OwnerID            string    `db:"owner_id"`
	Kind               string    `db:"kind"`
	Status             string    `db:"status"`
	Scenes             []byte    `db:"scenes"`
	ProviderName       string    `db:"provider_name"`
	ProviderExternalID string    `db:"provider_external_id"`
	ResultURL          string    `db:"result_url"`
	ErrorMessage       string    `db:"error_message"`
	Metadata           []byte    `db:"metadata"`
	CreatedAt          time.Time `db:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"`
}

func (r jobRow) toModel() (*model.Job, error) {
	job := &model.Job{
		ID:           r.ID,
		OwnerID:      r.OwnerID,
		Kind:         model.JobKind(r.Kind),
		Status:       model.JobStatus(r.Status),
		ResultURL:    r.ResultURL,
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if err := json.Unmarshal(r.Scenes, &job.Scenes); err != nil {
		return nil, fmt.Errorf("decode scenes of job %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(r.Metadata, &job.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of job %s: %w", r.ID, err)
	}
	if r.ProviderName != "" {
		job.Provider = &model.ProviderRef{Name: r.ProviderName, ExternalID: r.ProviderExternalID}
	}
	return job, nil
}

func encodeJob(job *model.Job) (scenes, metadata []byte, providerName, externalID string, err error) {
	sc := job.Scenes
	if sc == nil {
		sc = []model.Scene{}
	}
	if scenes, err = json.Marshal(sc); err != nil {
		return nil, nil, "", "", fmt.Errorf("encode scenes: %w", err)
	}
	md := job.Metadata
	if md == nil {
		md = map[string]any{}
	}
	if metadata, err = json.Marshal(md); err != nil {
		return nil, nil, "", "", fmt.Errorf("encode metadata: %w", err)
	}
	if job.Provider != nil {
		providerName, externalID = job.Provider.Name, job.Provider.ExternalID
	}
	return scenes, metadata, providerName, externalID, nil
}

func (s *JobStore) Create(ctx context.Context, job *model.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	scenes, metadata, providerName, externalID, err := encodeJob(job)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	_, err = s.pool.Exec(ctx, insertJobQuery,
		job.ID, job.OwnerID, string(job.Kind), string(job.Status), scenes,
		providerName, externalID, job.ResultURL, job.ErrorMessage, metadata, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		s.logger.Error("Failed to create job", zap.String("job_id", job.ID), zap.Error(err))
		return fmt.Errorf("insert job: %w", err)
	}
	job.CreatedAt, job.UpdatedAt = now, now
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*model.Job, error) {
	var row jobRow
	if err := pgxscan.Get(ctx, s.pool, &row, getJobQuery, id); err != nil {
		if pgxscan.NotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return row.toModel()
}

func (s *JobStore) Update(ctx context.Context, job *model.Job, expected ...model.JobStatus) error {
	scenes, metadata, providerName, externalID, err := encodeJob(job)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	query := updateJobQuery
	args := []any{job.ID, string(job.Status), scenes, providerName, externalID,
		job.ResultURL, job.ErrorMessage, metadata, now}
	if len(expected) > 0 {
		statuses := make([]string, len(expected))
		for i, st := range expected {
			statuses[i] = string(st)
		}
		query += ` AND status = ANY($10)`
		args = append(args, statuses)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		s.logger.Error("Failed to update job", zap.String("job_id", job.ID), zap.Error(err))
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrStale(ctx, job.ID)
	}
	job.UpdatedAt = now
	return nil
}

func (s *JobStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []jobRow
	if err := pgxscan.Select(ctx, s.pool, &rows, listJobsByOwnerQuery, ownerID, limit); err != nil {
		return nil, fmt.Errorf("list jobs of %s: %w", ownerID, err)
	}
	jobs := make([]*model.Job, 0, len(rows))
	for _, r := range rows {
		job, err := r.toModel()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *JobStore) missingOrStale(ctx context.Context, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, jobExistsQuery, id).Scan(&exists); err != nil {
		return fmt.Errorf("check job %s: %w", id, err)
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrStale
}

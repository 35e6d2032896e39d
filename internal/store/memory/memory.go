// Package memory implements the stores in process memory. It backs tests and
// single-process runs without a database.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"reelforge/internal/app/model"
	"reelforge/internal/store"
)

// clone deep-copies through JSON so callers never share maps or slices with the store.
func clone[T any](v *T) *T {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("memory store: clone: %v", err))
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("memory store: clone: %v", err))
	}
	return &out
}

type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*model.Job
	now  func() time.Time
}

func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*model.Job), now: time.Now}
}

var _ store.JobStore = (*JobStore)(nil)

func (s *JobStore) Create(_ context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if _, ok := s.jobs[job.ID]; ok {
		return store.ErrDuplicate
	}
	now := s.now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now
	s.jobs[job.ID] = clone(job)
	return nil
}

func (s *JobStore) Get(_ context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(job), nil
}

func (s *JobStore) Update(_ context.Context, job *model.Job, expected ...model.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[job.ID]
	if !ok {
		return store.ErrNotFound
	}
	if len(expected) > 0 && !slices.Contains(expected, current.Status) {
		return store.ErrStale
	}
	job.CreatedAt = current.CreatedAt
	job.UpdatedAt = s.now().UTC()
	s.jobs[job.ID] = clone(job)
	return nil
}

func (s *JobStore) ListByOwner(_ context.Context, ownerID string, limit int) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Job
	for _, job := range s.jobs {
		if job.OwnerID == ownerID {
			out = append(out, clone(job))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type QueueStore struct {
	mu      sync.Mutex
	entries map[string]*model.QueueEntry
	now     func() time.Time
}

func NewQueueStore() *QueueStore {
	return &QueueStore{entries: make(map[string]*model.QueueEntry), now: time.Now}
}

var _ store.QueueStore = (*QueueStore)(nil)

func (s *QueueStore) Create(_ context.Context, entry *model.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.UserID == entry.UserID && e.VideoID == entry.VideoID && e.Status.Active() {
			return store.ErrDuplicate
		}
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Status == "" {
		entry.Status = model.QueueQueued
	}
	now := s.now().UTC()
	entry.CreatedAt, entry.UpdatedAt = now, now
	s.entries[entry.ID] = clone(entry)
	return nil
}

func (s *QueueStore) Get(_ context.Context, id string) (*model.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(e), nil
}

func (s *QueueStore) ListByUser(_ context.Context, userID string) ([]*model.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.QueueEntry
	for _, e := range s.entries {
		if e.UserID == userID {
			out = append(out, clone(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (s *QueueStore) ListDue(_ context.Context, now time.Time, limit int) ([]*model.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.QueueEntry
	for _, e := range s.entries {
		if e.Status == model.QueueQueued && !e.ScheduledAt.After(now) {
			out = append(out, clone(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *QueueStore) Claim(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if e.Status != model.QueueQueued {
		return false, nil
	}
	e.Status = model.QueueProcessing
	e.UpdatedAt = s.now().UTC()
	return true, nil
}

func (s *QueueStore) Release(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return store.ErrNotFound
	}
	if e.Status != model.QueueProcessing {
		return store.ErrStale
	}
	e.Status = model.QueueQueued
	e.UpdatedAt = s.now().UTC()
	return nil
}

func (s *QueueStore) Finish(_ context.Context, id string, status model.QueueStatus, results []model.PlatformResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return store.ErrNotFound
	}
	if e.Status != model.QueueProcessing {
		return store.ErrStale
	}
	e.Status = status
	e.Results = slices.Clone(results)
	e.UpdatedAt = s.now().UTC()
	return nil
}

func (s *QueueStore) Reschedule(_ context.Context, id string, scheduledAt time.Time, platforms []model.Platform) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return store.ErrNotFound
	}
	if e.Status != model.QueueQueued {
		return store.ErrStale
	}
	e.ScheduledAt = scheduledAt
	e.Platforms = slices.Clone(platforms)
	e.UpdatedAt = s.now().UTC()
	return nil
}

func (s *QueueStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return store.ErrNotFound
	}
	if e.Status != model.QueueQueued {
		return store.ErrStale
	}
	delete(s.entries, id)
	return nil
}

type AccountStore struct {
	mu       sync.Mutex
	accounts map[string]*model.Account
	now      func() time.Time
}

func NewAccountStore() *AccountStore {
	return &AccountStore{accounts: make(map[string]*model.Account), now: time.Now}
}

var _ store.AccountStore = (*AccountStore)(nil)

// copyAccount copies by value; credentials are excluded from JSON so clone cannot be used.
func copyAccount(a *model.Account) *model.Account {
	c := *a
	return &c
}

func accountKey(userID string, platform model.Platform) string {
	return userID + "/" + string(platform)
}

func (s *AccountStore) Upsert(_ context.Context, account *model.Account) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	key := accountKey(account.UserID, account.Platform)
	stored := copyAccount(account)
	if existing, ok := s.accounts[key]; ok {
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
	} else {
		if stored.ID == "" {
			stored.ID = uuid.NewString()
		}
		stored.CreatedAt = now
	}
	stored.IsActive = true
	stored.UpdatedAt = now
	s.accounts[key] = stored
	return copyAccount(stored), nil
}

func (s *AccountStore) Get(_ context.Context, userID string, platform model.Platform) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountKey(userID, platform)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyAccount(a), nil
}

func (s *AccountStore) ListByUser(_ context.Context, userID string) ([]*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Account
	for _, a := range s.accounts {
		if a.UserID == userID {
			out = append(out, copyAccount(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out, nil
}

func (s *AccountStore) UpdateTokens(_ context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.byID(id)
	if a == nil {
		return store.ErrNotFound
	}
	if !a.IsActive {
		return store.ErrStale
	}
	a.AccessToken = accessToken
	if refreshToken != "" {
		a.RefreshToken = refreshToken
	}
	a.TokenExpiresAt = expiresAt
	a.UpdatedAt = s.now().UTC()
	return nil
}

func (s *AccountStore) Deactivate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.byID(id)
	if a == nil {
		return store.ErrNotFound
	}
	a.IsActive = false
	a.UpdatedAt = s.now().UTC()
	return nil
}

func (s *AccountStore) byID(id string) *model.Account {
	for _, a := range s.accounts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

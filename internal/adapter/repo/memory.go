package repo

import (
	"context"
	"sync"
	"time"

	"github.com/seobohdanov/maxagainst-sub001/internal/domain"
)

// JobStoreMemory is a process-local domain.JobStore. It backs the service when
// no DATABASE_URL is configured and every test that does not need Postgres.
type JobStoreMemory struct {
	mu   sync.RWMutex
	jobs map[string]domain.Job
}

// NewMemoryJobStore creates an empty in-memory job store.
func NewMemoryJobStore() *JobStoreMemory {
	return &JobStoreMemory{jobs: make(map[string]domain.Job)}
}

// Load fetches a copy of the job by its identifier.
func (s *JobStoreMemory) Load(ctx context.Context, id string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &job, nil
}

// LoadByProviderJobID resolves a provider correlation ID back to a job.
func (s *JobStoreMemory) LoadByProviderJobID(ctx context.Context, providerJobID string) (*domain.Job, error) {
	if providerJobID == "" {
		return nil, domain.ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, job := range s.jobs {
		if job.ProviderJobID == providerJobID {
			j := job
			return &j, nil
		}
	}
	return nil, domain.ErrNotFound
}

// Save upserts the job record.
func (s *JobStoreMemory) Save(ctx context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
	return nil
}

// ListUnfinished returns all jobs not yet in a terminal state.
func (s *JobStoreMemory) ListUnfinished(ctx context.Context) ([]*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var jobs []*domain.Job
	for _, job := range s.jobs {
		if !job.State.Terminal() {
			j := job
			jobs = append(jobs, &j)
		}
	}
	return jobs, nil
}

// PurgeStale deletes non-terminal jobs last updated before cutoff.
func (s *JobStoreMemory) PurgeStale(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, job := range s.jobs {
		if !job.State.Terminal() && job.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed, nil
}

var _ domain.JobStore = (*JobStoreMemory)(nil)

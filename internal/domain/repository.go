package domain

import (
	"context"
	"time"
)

// JobStore is the single durable source of truth for job records. Writes go
// through the reconciler; reads may come from anywhere.
type JobStore interface {
	// Load fetches the job by its identifier, ErrNotFound if unknown.
	Load(ctx context.Context, id string) (*Job, error)
	// LoadByProviderJobID resolves the provider's correlation ID back to a job,
	// ErrNotFound if no job references it.
	LoadByProviderJobID(ctx context.Context, providerJobID string) (*Job, error)
	// Save upserts the job record.
	Save(ctx context.Context, job *Job) error
	// ListUnfinished returns all jobs not yet in a terminal state.
	ListUnfinished(ctx context.Context) ([]*Job, error)
	// PurgeStale deletes non-terminal jobs last updated before cutoff and
	// returns how many were removed.
	PurgeStale(ctx context.Context, cutoff time.Time) (int64, error)
}

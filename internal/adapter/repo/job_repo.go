package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seobohdanov/maxagainst-sub001/internal/domain"
)

// JobStorePG implements domain.JobStore on PostgreSQL.
type JobStorePG struct {
	pool *pgxpool.Pool
}

// NewJobStore creates a job store backed by PostgreSQL.
func NewJobStore(pool *pgxpool.Pool) *JobStorePG {
	return &JobStorePG{pool: pool}
}

const jobColumns = `id, provider_job_id, state,
	recipient, occasion, style, language, notes,
	lyrics, audio_url, alt_audio_url, cover_url,
	failure, last_source, created_at, updated_at`

// Load fetches a job by its identifier.
func (s *JobStorePG) Load(ctx context.Context, id string) (*domain.Job, error) {
	query := `
SELECT ` + jobColumns + `
FROM song_jobs
WHERE id = $1;
`
	return s.scanJob(s.pool.QueryRow(ctx, query, id))
}

// LoadByProviderJobID resolves a provider correlation ID back to a job.
func (s *JobStorePG) LoadByProviderJobID(ctx context.Context, providerJobID string) (*domain.Job, error) {
	query := `
SELECT ` + jobColumns + `
FROM song_jobs
WHERE provider_job_id = $1;
`
	return s.scanJob(s.pool.QueryRow(ctx, query, providerJobID))
}

// Save upserts the job record.
func (s *JobStorePG) Save(ctx context.Context, job *domain.Job) error {
	query := `
INSERT INTO song_jobs (id, provider_job_id, state,
	recipient, occasion, style, language, notes,
	lyrics, audio_url, alt_audio_url, cover_url,
	failure, last_source, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (id) DO UPDATE SET
	provider_job_id = EXCLUDED.provider_job_id,
	state = EXCLUDED.state,
	lyrics = EXCLUDED.lyrics,
	audio_url = EXCLUDED.audio_url,
	alt_audio_url = EXCLUDED.alt_audio_url,
	cover_url = EXCLUDED.cover_url,
	failure = EXCLUDED.failure,
	last_source = EXCLUDED.last_source,
	updated_at = EXCLUDED.updated_at;
`
	_, err := s.pool.Exec(ctx, query,
		job.ID,
		job.ProviderJobID,
		job.State,
		job.Request.Recipient,
		job.Request.Occasion,
		job.Request.Style,
		job.Request.Language,
		job.Request.Notes,
		job.Artifacts.Lyrics,
		job.Artifacts.AudioURL,
		job.Artifacts.AltAudioURL,
		job.Artifacts.CoverURL,
		job.Failure,
		job.LastSource,
		job.CreatedAt,
		job.UpdatedAt,
	)
	return err
}

// ListUnfinished returns all jobs not yet in a terminal state.
func (s *JobStorePG) ListUnfinished(ctx context.Context) ([]*domain.Job, error) {
	query := `
SELECT ` + jobColumns + `
FROM song_jobs
WHERE state NOT IN ('SUCCEEDED', 'FAILED', 'AUDIO_FAILED')
ORDER BY created_at;
`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := s.scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// PurgeStale deletes non-terminal jobs last updated before cutoff.
func (s *JobStorePG) PurgeStale(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
DELETE FROM song_jobs
WHERE state NOT IN ('SUCCEEDED', 'FAILED', 'AUDIO_FAILED')
  AND updated_at < $1;
`
	tag, err := s.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *JobStorePG) scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.ProviderJobID,
		&job.State,
		&job.Request.Recipient,
		&job.Request.Occasion,
		&job.Request.Style,
		&job.Request.Language,
		&job.Request.Notes,
		&job.Artifacts.Lyrics,
		&job.Artifacts.AudioURL,
		&job.Artifacts.AltAudioURL,
		&job.Artifacts.CoverURL,
		&job.Failure,
		&job.LastSource,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

var _ domain.JobStore = (*JobStorePG)(nil)

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/seobohdanov/maxagainst-sub001/internal/domain"
	"github.com/seobohdanov/maxagainst-sub001/internal/infra"
	"github.com/seobohdanov/maxagainst-sub001/internal/notify"
)

// ProviderAdapter is the orchestrator's view of the generation service.
type ProviderAdapter interface {
	Submit(ctx context.Context, req domain.SongRequest) (string, error)
	PollOnce(ctx context.Context, providerJobID string) (domain.Observation, error)
	ParseCallback(raw []byte) (string, domain.Observation, error)
}

// Reconciler merges observations into the authoritative job record.
type Reconciler interface {
	Reconcile(ctx context.Context, jobID string, obs domain.Observation) (domain.JobState, bool, error)
}

// Config carries the polling cadence knobs. These are operational tuning
// parameters, not contracts; see infra.Config for their environment bindings.
type Config struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	BackoffFactor   float64
	Budget          time.Duration
	MaxConcurrent   int64
}

func (c *Config) fillDefaults() {
	if c.InitialInterval <= 0 {
		c.InitialInterval = 2 * time.Second
	}
	if c.MaxInterval < c.InitialInterval {
		c.MaxInterval = c.InitialInterval
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = 1.5
	}
	if c.Budget <= 0 {
		c.Budget = 10 * time.Minute
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 8
	}
}

// Orchestrator is the entry point of the subsystem: it creates jobs, feeds
// callback and poll observations into the reconciler, runs the polling
// fallback loop per job and exposes query/subscribe operations to the web
// layer.
type Orchestrator struct {
	store    domain.JobStore
	provider ProviderAdapter
	rec      Reconciler
	fanout   *notify.Fanout
	logger   infra.Logger
	cfg      Config

	// sem caps outstanding provider calls across all jobs.
	sem *semaphore.Weighted

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New wires an orchestrator. Close must be called to stop the polling loops.
func New(store domain.JobStore, provider ProviderAdapter, rec Reconciler, fanout *notify.Fanout, logger infra.Logger, cfg Config) *Orchestrator {
	cfg.fillDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:    store,
		provider: provider,
		rec:      rec,
		fanout:   fanout,
		logger:   logger,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// CreateJob allocates a Pending job, submits it to the provider and starts
// the polling fallback loop. A failed submission still leaves a queryable job
// record in a clean terminal FAILED state, and the error is returned as well.
func (o *Orchestrator) CreateJob(ctx context.Context, req domain.SongRequest) (domain.Snapshot, error) {
	now := time.Now()
	job := &domain.Job{
		ID:        uuid.NewString(),
		State:     domain.StatePending,
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.Save(ctx, job); err != nil {
		return domain.Snapshot{}, fmt.Errorf("create job: save: %w", err)
	}

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return domain.Snapshot{}, fmt.Errorf("create job: %w", err)
	}
	providerJobID, err := o.provider.Submit(ctx, req)
	o.sem.Release(1)
	if err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("orchestrator: submission failed")
		if _, _, rerr := o.rec.Reconcile(ctx, job.ID, domain.Observation{
			State:   domain.StateFailed,
			Source:  domain.SourceSubmit,
			Failure: err.Error(),
		}); rerr != nil {
			o.logger.Error().Err(rerr).Str("job_id", job.ID).Msg("orchestrator: failed to record submission failure")
		}
		snap, _ := o.GetStatus(ctx, job.ID)
		return snap, err
	}

	// The correlation ID is recorded before any callback for it can be
	// resolved; a callback racing this write is dropped and the polling loop
	// picks the status up on the next tick.
	job.ProviderJobID = providerJobID
	if err := o.store.Save(ctx, job); err != nil {
		return domain.Snapshot{}, fmt.Errorf("create job: record provider id: %w", err)
	}

	o.logger.Info().
		Str("job_id", job.ID).
		Str("provider_job_id", providerJobID).
		Msg("orchestrator: job created")

	o.startTracking(job.ID, providerJobID)
	return job.Snapshot(), nil
}

// GetStatus is a pure read of the current snapshot.
func (o *Orchestrator) GetStatus(ctx context.Context, jobID string) (domain.Snapshot, error) {
	job, err := o.store.Load(ctx, jobID)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("get status %s: %w", jobID, err)
	}
	return job.Snapshot(), nil
}

// SubscribeStatus opens a live snapshot stream for the job.
func (o *Orchestrator) SubscribeStatus(ctx context.Context, jobID string) (<-chan domain.Snapshot, notify.CancelFunc, error) {
	return o.fanout.Subscribe(ctx, jobID)
}

// HandleCallback ingests a raw provider callback. Callbacks are symmetric
// with poll results: both end up as observations in the reconciler, which is
// what makes duplicate and out-of-order delivery safe. Unparseable payloads
// and unknown correlation IDs are reported to the caller but change nothing.
func (o *Orchestrator) HandleCallback(ctx context.Context, raw []byte) error {
	providerJobID, obs, err := o.provider.ParseCallback(raw)
	if err != nil {
		o.logger.Warn().Err(err).Msg("orchestrator: dropping unparseable callback")
		return err
	}
	job, err := o.store.LoadByProviderJobID(ctx, providerJobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			o.logger.Warn().
				Str("provider_job_id", providerJobID).
				Msg("orchestrator: callback for unknown job")
			return fmt.Errorf("callback %s: %w", providerJobID, domain.ErrUnknownJob)
		}
		return fmt.Errorf("callback %s: %w", providerJobID, err)
	}
	_, _, err = o.rec.Reconcile(ctx, job.ID, obs)
	return err
}

// Recover restarts the polling loop for every non-terminal job found in the
// store, so tracking survives a process restart. Jobs that never got a
// provider correlation ID cannot be polled and are failed outright.
func (o *Orchestrator) Recover(ctx context.Context) error {
	jobs, err := o.store.ListUnfinished(ctx)
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	for _, job := range jobs {
		if job.ProviderJobID == "" {
			if _, _, err := o.rec.Reconcile(ctx, job.ID, domain.Observation{
				State:   domain.StateFailed,
				Source:  domain.SourceSubmit,
				Failure: "submission lost before provider acknowledged",
			}); err != nil {
				o.logger.Error().Err(err).Str("job_id", job.ID).Msg("orchestrator: recover fail-out")
			}
			continue
		}
		o.startTracking(job.ID, job.ProviderJobID)
	}
	if len(jobs) > 0 {
		o.logger.Info().Int("jobs", len(jobs)).Msg("orchestrator: resumed tracking")
	}
	return nil
}

// Close stops all polling loops and waits for them to drain.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

func (o *Orchestrator) startTracking(jobID, providerJobID string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.track(jobID, providerJobID)
	}()
}

// track is the polling fallback loop for one job: fast cadence first, backing
// off towards MaxInterval, bounded by the wall-clock budget. The loop stops
// when the job is terminal no matter which channel got it there; a client
// closing its subscription never stops it.
func (o *Orchestrator) track(jobID, providerJobID string) {
	ctx := o.baseCtx
	deadline := time.Now().Add(o.cfg.Budget)
	interval := o.cfg.InitialInterval

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			o.failOnTimeout(jobID)
			return
		}
		wait := interval
		if wait > remaining {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		// A callback may have finished the job while we slept.
		job, err := o.store.Load(ctx, jobID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				// Purged from under us; nothing left to track.
				return
			}
			o.logger.Error().Err(err).Str("job_id", jobID).Msg("orchestrator: poll loop load failed")
			continue
		}
		if job.State.Terminal() {
			o.forget(providerJobID)
			return
		}

		if err := o.sem.Acquire(ctx, 1); err != nil {
			return
		}
		obs, err := o.provider.PollOnce(ctx, providerJobID)
		o.sem.Release(1)

		if err != nil {
			switch {
			case errors.Is(err, context.Canceled):
				return
			case errors.Is(err, domain.ErrRateLimited), errors.Is(err, domain.ErrProviderUnavailable):
				// Transient; the budget, not this error, decides the job's fate.
				o.logger.Debug().Err(err).Str("job_id", jobID).Msg("orchestrator: transient poll failure")
			case errors.Is(err, domain.ErrProviderRejected):
				o.failOnRejection(jobID, job.State, err)
				o.forget(providerJobID)
				return
			default:
				o.logger.Warn().Err(err).Str("job_id", jobID).Msg("orchestrator: poll failed")
			}
		} else {
			state, _, rerr := o.rec.Reconcile(ctx, jobID, obs)
			if rerr != nil {
				o.logger.Error().Err(rerr).Str("job_id", jobID).Msg("orchestrator: reconcile poll result")
			} else if state.Terminal() {
				o.forget(providerJobID)
				return
			}
		}

		interval = time.Duration(float64(interval) * o.cfg.BackoffFactor)
		if interval > o.cfg.MaxInterval {
			interval = o.cfg.MaxInterval
		}
	}
}

// failOnTimeout force-fails a job whose budget is spent. The timeout source
// lets the reconciler apply FAILED from any non-terminal state, and the
// failure marker distinguishes it from a provider-reported failure.
func (o *Orchestrator) failOnTimeout(jobID string) {
	state, changed, err := o.rec.Reconcile(o.baseCtx, jobID, domain.Observation{
		State:   domain.StateFailed,
		Source:  domain.SourceTimeout,
		Failure: domain.FailureTimeout,
	})
	if err != nil {
		o.logger.Error().Err(err).Str("job_id", jobID).Msg("orchestrator: timeout fail-out")
		return
	}
	if changed {
		o.logger.Warn().Str("job_id", jobID).Str("state", string(state)).Msg("orchestrator: job timed out")
	}
}

// failOnRejection maps a permanent provider error onto the right terminal
// state for where the job currently is: a rejection after the draft stage is
// an audio failure, anything earlier is a plain failure.
func (o *Orchestrator) failOnRejection(jobID string, current domain.JobState, cause error) {
	state := domain.StateFailed
	if current == domain.StateDraftReady {
		state = domain.StateAudioFailed
	}
	if _, _, err := o.rec.Reconcile(o.baseCtx, jobID, domain.Observation{
		State:   state,
		Source:  domain.SourcePoll,
		Failure: cause.Error(),
	}); err != nil {
		o.logger.Error().Err(err).Str("job_id", jobID).Msg("orchestrator: rejection fail-out")
	}
}

func (o *Orchestrator) forget(providerJobID string) {
	if f, ok := o.provider.(interface{ Forget(string) }); ok {
		f.Forget(providerJobID)
	}
}

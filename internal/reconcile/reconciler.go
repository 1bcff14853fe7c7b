package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/seobohdanov/maxagainst-sub001/internal/domain"
	"github.com/seobohdanov/maxagainst-sub001/internal/infra"
)

// Publisher receives the new snapshot of a job after an accepted transition.
type Publisher interface {
	Publish(jobID string, snap domain.Snapshot)
}

// transitions is the allowed single-step transition table. Reachability is its
// transitive closure, so an observation may legitimately skip intermediate
// states when one channel outruns another.
var transitions = map[domain.JobState][]domain.JobState{
	domain.StatePending:    {domain.StateTextReady, domain.StateFailed},
	domain.StateTextReady:  {domain.StateDraftReady, domain.StateFailed},
	domain.StateDraftReady: {domain.StateSucceeded, domain.StateAudioFailed},
}

var reachable = buildClosure(transitions)

func buildClosure(table map[domain.JobState][]domain.JobState) map[domain.JobState]map[domain.JobState]bool {
	closure := make(map[domain.JobState]map[domain.JobState]bool, len(table))
	for from := range table {
		seen := map[domain.JobState]bool{}
		stack := append([]domain.JobState(nil), table[from]...)
		for len(stack) > 0 {
			next := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if seen[next] {
				continue
			}
			seen[next] = true
			stack = append(stack, table[next]...)
		}
		closure[from] = seen
	}
	return closure
}

// Reconciler is the only writer of job state. Observations from every channel
// funnel through Reconcile, which serializes per job and applies the
// merge/transition policy.
type Reconciler struct {
	store  domain.JobStore
	pub    Publisher
	logger infra.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a reconciler writing through store and announcing accepted
// transitions on pub.
func New(store domain.JobStore, pub Publisher, logger infra.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		pub:    pub,
		logger: logger,
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Reconcile merges one observation into the job's authoritative record and
// reports the resulting state. changed is false when the observation was
// absorbed without effect: post-terminal delivery, out-of-order regression, or
// an exact duplicate. Those are designed idempotence cases, not errors.
func (r *Reconciler) Reconcile(ctx context.Context, jobID string, obs domain.Observation) (domain.JobState, bool, error) {
	if !obs.State.Valid() {
		return "", false, fmt.Errorf("reconcile %s: state %q: %w", jobID, obs.State, domain.ErrInvalidState)
	}

	lock := r.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	job, err := r.store.Load(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", false, fmt.Errorf("reconcile %s: %w", jobID, domain.ErrUnknownJob)
		}
		return "", false, fmt.Errorf("reconcile %s: load: %w", jobID, err)
	}

	if job.State.Terminal() {
		r.logger.Debug().
			Str("job_id", jobID).
			Str("state", string(job.State)).
			Str("observed", string(obs.State)).
			Str("source", string(obs.Source)).
			Msg("reconcile: dropped update for terminal job")
		return job.State, false, nil
	}

	if !r.accepts(job.State, obs) {
		r.logger.Debug().
			Str("job_id", jobID).
			Str("state", string(job.State)).
			Str("observed", string(obs.State)).
			Str("source", string(obs.Source)).
			Msg("reconcile: dropped out-of-order observation")
		return job.State, false, nil
	}

	before := *job
	job.Artifacts.Merge(obs.Artifacts)
	job.State = obs.State
	if obs.State.Terminal() && obs.Failure != "" {
		job.Failure = obs.Failure
	}

	if job.State == before.State && job.Artifacts == before.Artifacts {
		// Exact re-delivery; nothing to persist or announce.
		return job.State, false, nil
	}

	job.UpdatedAt = r.now()
	job.LastSource = obs.Source
	if err := r.store.Save(ctx, job); err != nil {
		return before.State, false, fmt.Errorf("reconcile %s: save: %w", jobID, err)
	}

	r.logger.Info().
		Str("job_id", jobID).
		Str("from", string(before.State)).
		Str("state", string(job.State)).
		Str("source", string(obs.Source)).
		Msg("reconcile: transition applied")

	if job.State.Terminal() {
		r.releaseLock(jobID)
	}
	if r.pub != nil {
		r.pub.Publish(jobID, job.Snapshot())
	}
	return job.State, true, nil
}

// accepts reports whether the observed state may be applied on top of current.
// Same-state re-delivery is always acceptable (artifacts may still merge), and
// an internally computed timeout may force FAILED from any non-terminal state.
func (r *Reconciler) accepts(current domain.JobState, obs domain.Observation) bool {
	if obs.State == current {
		return true
	}
	if obs.Source == domain.SourceTimeout && obs.State == domain.StateFailed {
		return true
	}
	return reachable[current][obs.State]
}

func (r *Reconciler) jobLock(jobID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[jobID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[jobID] = lock
	}
	return lock
}

// releaseLock drops the per-job mutex entry once no further transitions are
// possible. Late observations will allocate a fresh one, hit the terminal
// check and be dropped.
func (r *Reconciler) releaseLock(jobID string) {
	r.mu.Lock()
	delete(r.locks, jobID)
	r.mu.Unlock()
}

package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/seobohdanov/maxagainst-sub001/internal/domain"
	"github.com/seobohdanov/maxagainst-sub001/internal/infra"
)

// subscriberBuffer bounds how far one slow consumer may lag. A job emits a
// handful of transitions over its whole life, so overflow means the consumer
// stopped reading; the stale intermediate snapshot is dropped in favour of the
// ones still queued.
const subscriberBuffer = 16

// CancelFunc detaches a subscriber. Idempotent and safe after completion.
type CancelFunc func()

// Fanout delivers job snapshots to any number of per-job subscribers. Each
// subscriber owns an independent buffered channel; a new subscriber is primed
// with the job's current snapshot so a reconnecting client catches up
// immediately instead of waiting for the next transition.
type Fanout struct {
	store  domain.JobStore
	logger infra.Logger

	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	subs   map[int]*subscriber
	nextID int
}

type subscriber struct {
	ch   chan domain.Snapshot
	last domain.Snapshot
}

// New creates a fan-out replaying initial snapshots from store.
func New(store domain.JobStore, logger infra.Logger) *Fanout {
	return &Fanout{
		store:  store,
		logger: logger,
		topics: make(map[string]*topic),
	}
}

// Subscribe attaches a new subscriber to jobID. The returned channel first
// carries the job's current snapshot, then one snapshot per accepted
// transition, and closes after a terminal snapshot or cancel. Unknown jobs
// fail with domain.ErrNotFound.
//
// The store read happens under the fan-out mutex. The reconciler persists
// before it publishes, so with publishes serialized on the same mutex the
// replayed snapshot is never older than the last published one and nothing
// can slip between replay and registration.
func (f *Fanout) Subscribe(ctx context.Context, jobID string) (<-chan domain.Snapshot, CancelFunc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, err := f.store.Load(ctx, jobID)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe %s: %w", jobID, err)
	}
	snap := job.Snapshot()

	ch := make(chan domain.Snapshot, subscriberBuffer)
	ch <- snap

	if snap.State.Terminal() {
		// Replay then immediately complete; no more events will ever come.
		close(ch)
		return ch, func() {}, nil
	}

	t, ok := f.topics[jobID]
	if !ok {
		t = &topic{subs: make(map[int]*subscriber)}
		f.topics[jobID] = t
	}
	id := t.nextID
	t.nextID++
	t.subs[id] = &subscriber{ch: ch, last: snap}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			t, ok := f.topics[jobID]
			if !ok {
				return
			}
			sub, ok := t.subs[id]
			if !ok {
				return
			}
			delete(t.subs, id)
			close(sub.ch)
			if len(t.subs) == 0 {
				delete(f.topics, jobID)
			}
		})
	}
	return ch, cancel, nil
}

// Publish delivers snap to every current subscriber of jobID. Publishing to
// one subscriber never blocks on another. A terminal snapshot additionally
// completes the topic: every channel is closed after delivery and future
// subscribers get replay-then-close.
func (f *Fanout) Publish(jobID string, snap domain.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.topics[jobID]
	if !ok {
		return
	}

	for id, sub := range t.subs {
		if sameSnapshot(snap, sub.last) {
			// Replay already covered this snapshot.
			continue
		}
		select {
		case sub.ch <- snap:
			sub.last = snap
		default:
			f.logger.Warn().
				Str("job_id", jobID).
				Int("subscriber", id).
				Msg("notify: subscriber buffer full, dropping snapshot")
		}
	}

	if snap.State.Terminal() {
		for id, sub := range t.subs {
			delete(t.subs, id)
			close(sub.ch)
		}
		delete(f.topics, jobID)
	}
}

// sameSnapshot compares snapshots field-wise. time.Time carries a monotonic
// reading that survives some copies and not others, so == on the whole struct
// would treat otherwise identical snapshots as distinct.
func sameSnapshot(a, b domain.Snapshot) bool {
	return a.ID == b.ID &&
		a.State == b.State &&
		a.Artifacts == b.Artifacts &&
		a.Failure == b.Failure &&
		a.UpdatedAt.Equal(b.UpdatedAt)
}

// SubscriberCount reports active subscribers for a job. Diagnostics only.
func (f *Fanout) SubscriberCount(jobID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.topics[jobID]; ok {
		return len(t.subs)
	}
	return 0
}

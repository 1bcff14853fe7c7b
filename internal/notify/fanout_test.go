package notify

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seobohdanov/maxagainst-sub001/internal/adapter/repo"
	"github.com/seobohdanov/maxagainst-sub001/internal/domain"
)

func newTestFanout(t *testing.T, state domain.JobState) (*repo.JobStoreMemory, *Fanout, *domain.Job) {
	t.Helper()
	store := repo.NewMemoryJobStore()
	job := &domain.Job{
		ID:        "job-1",
		State:     state,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, store.Save(context.Background(), job))
	return store, New(store, zerolog.New(io.Discard)), job
}

func recvOne(t *testing.T, ch <-chan domain.Snapshot) domain.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		require.True(t, ok, "stream closed unexpectedly")
		return snap
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
		return domain.Snapshot{}
	}
}

func expectClosed(t *testing.T, ch <-chan domain.Snapshot) {
	t.Helper()
	select {
	case _, ok := <-ch:
		require.False(t, ok, "expected closed stream")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close")
	}
}

func TestSubscribeReplaysCurrentSnapshot(t *testing.T) {
	_, f, job := newTestFanout(t, domain.StateTextReady)

	ch, cancel, err := f.Subscribe(context.Background(), job.ID)
	require.NoError(t, err)
	defer cancel()

	snap := recvOne(t, ch)
	assert.Equal(t, job.ID, snap.ID)
	assert.Equal(t, domain.StateTextReady, snap.State)
}

func TestSubscribeUnknownJob(t *testing.T) {
	_, f, _ := newTestFanout(t, domain.StatePending)
	_, _, err := f.Subscribe(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSubscribeToTerminalJobReplaysThenCloses(t *testing.T) {
	_, f, job := newTestFanout(t, domain.StateSucceeded)

	ch, cancel, err := f.Subscribe(context.Background(), job.ID)
	require.NoError(t, err)
	defer cancel()

	snap := recvOne(t, ch)
	assert.Equal(t, domain.StateSucceeded, snap.State)
	expectClosed(t, ch)
}

func TestIndependentSubscribers(t *testing.T) {
	_, f, job := newTestFanout(t, domain.StatePending)
	ctx := context.Background()

	ch1, cancel1, err := f.Subscribe(ctx, job.ID)
	require.NoError(t, err)
	defer cancel1()
	ch2, cancel2, err := f.Subscribe(ctx, job.ID)
	require.NoError(t, err)
	defer cancel2()

	assert.Equal(t, 2, f.SubscriberCount(job.ID))
	recvOne(t, ch1)
	recvOne(t, ch2)

	next := domain.Snapshot{ID: job.ID, State: domain.StateTextReady, UpdatedAt: time.Now()}
	f.Publish(job.ID, next)

	assert.Equal(t, domain.StateTextReady, recvOne(t, ch1).State)
	assert.Equal(t, domain.StateTextReady, recvOne(t, ch2).State)
}

func TestCancelIsIdempotentAndTargeted(t *testing.T) {
	_, f, job := newTestFanout(t, domain.StatePending)
	ctx := context.Background()

	ch1, cancel1, err := f.Subscribe(ctx, job.ID)
	require.NoError(t, err)
	ch2, cancel2, err := f.Subscribe(ctx, job.ID)
	require.NoError(t, err)
	defer cancel2()
	recvOne(t, ch1)
	recvOne(t, ch2)

	cancel1()
	cancel1() // safe to repeat
	expectClosed(t, ch1)
	assert.Equal(t, 1, f.SubscriberCount(job.ID))

	// The surviving subscriber keeps receiving.
	f.Publish(job.ID, domain.Snapshot{ID: job.ID, State: domain.StateTextReady, UpdatedAt: time.Now()})
	assert.Equal(t, domain.StateTextReady, recvOne(t, ch2).State)
}

func TestTerminalPublishClosesAllStreams(t *testing.T) {
	store, f, job := newTestFanout(t, domain.StateDraftReady)
	ctx := context.Background()

	ch1, cancel1, err := f.Subscribe(ctx, job.ID)
	require.NoError(t, err)
	defer cancel1()
	ch2, cancel2, err := f.Subscribe(ctx, job.ID)
	require.NoError(t, err)
	defer cancel2()
	recvOne(t, ch1)
	recvOne(t, ch2)

	job.State = domain.StateSucceeded
	job.UpdatedAt = time.Now()
	require.NoError(t, store.Save(ctx, job))
	f.Publish(job.ID, job.Snapshot())

	assert.Equal(t, domain.StateSucceeded, recvOne(t, ch1).State)
	expectClosed(t, ch1)
	assert.Equal(t, domain.StateSucceeded, recvOne(t, ch2).State)
	expectClosed(t, ch2)
	assert.Equal(t, 0, f.SubscriberCount(job.ID))

	// Late subscribers still get the terminal snapshot, then close.
	ch3, cancel3, err := f.Subscribe(ctx, job.ID)
	require.NoError(t, err)
	defer cancel3()
	assert.Equal(t, domain.StateSucceeded, recvOne(t, ch3).State)
	expectClosed(t, ch3)
}

func TestReplayedSnapshotNotDeliveredTwice(t *testing.T) {
	store, f, job := newTestFanout(t, domain.StatePending)
	ctx := context.Background()

	// The job advances and is persisted, then a subscriber attaches before
	// the corresponding publish lands.
	job.State = domain.StateTextReady
	job.UpdatedAt = time.Now()
	require.NoError(t, store.Save(ctx, job))

	ch, cancel, err := f.Subscribe(ctx, job.ID)
	require.NoError(t, err)
	defer cancel()
	assert.Equal(t, domain.StateTextReady, recvOne(t, ch).State)

	f.Publish(job.ID, job.Snapshot())

	select {
	case snap := <-ch:
		t.Fatalf("duplicate snapshot delivered: %+v", snap)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	_, f, job := newTestFanout(t, domain.StatePending)
	f.Publish(job.ID, domain.Snapshot{ID: job.ID, State: domain.StateTextReady})
	assert.Equal(t, 0, f.SubscriberCount(job.ID))
}

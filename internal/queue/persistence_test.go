package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hallmarket/courier/internal/kv"
)

func newStore(t *testing.T) kv.Store {
	t.Helper()
	store := kv.NewMemory()
	require.NoError(t, store.Connect())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	tx := &stubTransmitter{}

	q1 := New(Options{}, store, tx, testLogger())

	at := time.Now().Add(time.Hour)
	a, err := q1.Enqueue(rawPayload("a@example.com"), EnqueueRequest{Priority: PriorityHigh, IdempotencyKey: "order-1"})
	require.NoError(t, err)
	b, err := q1.Schedule(rawPayload("b@example.com"), at, EnqueueRequest{Priority: PriorityLow})
	require.NoError(t, err)
	done, err := q1.Enqueue(rawPayload("c@example.com"), EnqueueRequest{})
	require.NoError(t, err)

	// Terminal items are excluded from the snapshot
	q1.mu.Lock()
	q1.byID[done.ID].Status = StatusCompleted
	q1.mu.Unlock()

	q1.snapshot(ctx)

	q2 := New(Options{}, store, tx, testLogger())
	require.NoError(t, q2.restore(ctx))

	stats := q2.Stats()
	assert.Equal(t, 2, stats.Total)

	infoA, err := q2.Status(a.ID)
	require.NoError(t, err)
	assert.Equal(t, PriorityHigh, infoA.Priority)
	assert.Equal(t, ExternalQueued, infoA.Status)

	infoB, err := q2.Status(b.ID)
	require.NoError(t, err)
	assert.Equal(t, PriorityLow, infoB.Priority)
	assert.Equal(t, ExternalScheduled, infoB.Status)
	assert.WithinDuration(t, at, infoB.ScheduledFor, time.Second)

	_, err = q2.Status(done.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// The idempotency binding survives the restart
	_, err = q2.Enqueue(rawPayload("a@example.com"), EnqueueRequest{IdempotencyKey: "order-1"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestRestoreRevertsProcessingToPending(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	tx := &stubTransmitter{}

	q1 := New(Options{}, store, tx, testLogger())
	receipt, err := q1.Enqueue(rawPayload("a@example.com"), EnqueueRequest{})
	require.NoError(t, err)

	// Simulate a crash mid-flight
	q1.mu.Lock()
	q1.byID[receipt.ID].Status = StatusProcessing
	q1.byID[receipt.ID].Attempts = 1
	q1.mu.Unlock()
	q1.snapshot(ctx)

	q2 := New(Options{}, store, tx, testLogger())
	require.NoError(t, q2.restore(ctx))

	info, err := q2.Status(receipt.ID)
	require.NoError(t, err)
	assert.Equal(t, ExternalQueued, info.Status, "in-flight items revert to pending on restore")
	assert.Equal(t, 1, info.Attempts, "attempt count is preserved")
}

func TestRestoreDropsInvalidEntries(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	tx := &stubTransmitter{}

	good := Item{
		ID:           "good",
		Payload:      rawPayload("a@example.com"),
		Priority:     PriorityMedium,
		Status:       StatusPending,
		MaxAttempts:  3,
		CreatedAt:    time.Now(),
		ScheduledFor: time.Now(),
	}
	noID := good
	noID.ID = ""
	badPriority := good
	badPriority.ID = "bad-priority"
	badPriority.Priority = "express"
	badPayload := good
	badPayload.ID = "bad-payload"
	badPayload.Payload = Payload{Kind: PayloadRaw}

	record := snapshotRecord{
		SavedAt: time.Now(),
		Items:   []Item{good, noID, badPriority, badPayload},
	}
	data, err := json.Marshal(record)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, DefaultOptions().PersistenceKey, data, 0))

	q := New(Options{}, store, tx, testLogger())
	require.NoError(t, q.restore(ctx))

	assert.Equal(t, 1, q.Stats().Total, "only structurally valid entries restored")
	_, err = q.Status("good")
	assert.NoError(t, err)
}

func TestRestoreWithEmptyStore(t *testing.T) {
	store := newStore(t)
	q := New(Options{}, store, &stubTransmitter{}, testLogger())
	require.NoError(t, q.restore(context.Background()))
	assert.Equal(t, 0, q.Stats().Total)
}

func TestStopWritesFinalSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	tx := &stubTransmitter{}

	opts := fastOptions()
	opts.ProcessingInterval = time.Hour // nothing dispatches
	q := New(opts, store, tx, testLogger())
	require.NoError(t, q.Start())

	// Drain the enqueue nudge race by scheduling into the future
	receipt, err := q.Schedule(rawPayload("a@example.com"), time.Now().Add(time.Hour), EnqueueRequest{})
	require.NoError(t, err)
	require.NoError(t, q.Stop())

	q2 := New(opts, store, tx, testLogger())
	require.NoError(t, q2.restore(ctx))
	_, err = q2.Status(receipt.ID)
	assert.NoError(t, err, "final snapshot captured the pending item")
}

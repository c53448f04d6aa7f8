package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastOptions returns options tuned for timing tests: short ticks,
// testing-mode intervals, and cleanup/persist timers pushed out of the way.
func fastOptions() Options {
	return Options{
		MaxConcurrent:      5,
		BatchSize:          10,
		ProcessingInterval: 10 * time.Millisecond,
		CleanupInterval:    time.Hour,
		PersistInterval:    time.Hour,
		RetryDelays:        []time.Duration{50 * time.Millisecond},
		TestingMode:        true,
		TestingInterval:    time.Millisecond,
	}
}

func startTestQueue(t *testing.T, opts Options) (*Queue, *stubTransmitter) {
	t.Helper()
	q, tx := newTestQueue(t, opts)
	require.NoError(t, q.Start())
	t.Cleanup(func() { _ = q.Stop() })
	return q, tx
}

func waitForStatus(t *testing.T, q *Queue, id string, want ExternalStatus, within time.Duration) {
	t.Helper()
	require.Eventually(t, func() bool {
		info, err := q.Status(id)
		return err == nil && info.Status == want
	}, within, 5*time.Millisecond, "item %s did not reach %s", id, want)
}

func TestDispatchDeliversItem(t *testing.T) {
	q, tx := startTestQueue(t, fastOptions())

	receipt, err := q.Enqueue(rawPayload("buyer@example.com"), EnqueueRequest{Priority: PriorityHigh})
	require.NoError(t, err)

	waitForStatus(t, q, receipt.ID, ExternalSent, 2*time.Second)

	info, _ := q.Status(receipt.ID)
	assert.Equal(t, 1, info.Attempts)
	require.NotNil(t, info.Result)
	assert.True(t, info.Result.Success)
	assert.Equal(t, "msg-1", info.Result.MessageID)
	assert.Len(t, tx.sendTimes(), 1)
}

func TestDispatchRespectsMaxConcurrent(t *testing.T) {
	opts := fastOptions()
	opts.MaxConcurrent = 2
	q, tx := startTestQueue(t, opts)

	tx.mu.Lock()
	tx.delay = 50 * time.Millisecond
	tx.mu.Unlock()

	var ids []string
	for i := 0; i < 6; i++ {
		receipt, err := q.Enqueue(rawPayload("buyer@example.com"), EnqueueRequest{})
		require.NoError(t, err)
		ids = append(ids, receipt.ID)
	}

	for _, id := range ids {
		waitForStatus(t, q, id, ExternalSent, 5*time.Second)
	}

	tx.mu.Lock()
	maxInFlight := tx.maxInFlight
	tx.mu.Unlock()
	assert.LessOrEqual(t, maxInFlight, 2, "in-flight sends must never exceed max_concurrent")
}

func TestDispatchHonorsScheduledFor(t *testing.T) {
	q, tx := startTestQueue(t, fastOptions())

	at := time.Now().Add(150 * time.Millisecond)
	receipt, err := q.Schedule(rawPayload("buyer@example.com"), at, EnqueueRequest{})
	require.NoError(t, err)

	waitForStatus(t, q, receipt.ID, ExternalSent, 2*time.Second)

	times := tx.sendTimes()
	require.Len(t, times, 1)
	assert.False(t, times[0].Before(at), "scheduled item dispatched before its time")
}

func TestDispatchTierRateSpacing(t *testing.T) {
	opts := fastOptions()
	opts.RateLimit = map[Priority]int{PriorityHigh: 1}
	q, tx := startTestQueue(t, opts)

	first, err := q.Enqueue(rawPayload("buyer@example.com"), EnqueueRequest{Priority: PriorityHigh})
	require.NoError(t, err)
	second, err := q.Enqueue(rawPayload("buyer@example.com"), EnqueueRequest{Priority: PriorityHigh})
	require.NoError(t, err)

	waitForStatus(t, q, first.ID, ExternalSent, 2*time.Second)
	waitForStatus(t, q, second.ID, ExternalSent, 3*time.Second)

	times := tx.sendTimes()
	require.Len(t, times, 2)
	gap := times[1].Sub(times[0])
	assert.GreaterOrEqual(t, gap, 950*time.Millisecond,
		"second high send must wait out the one-second window, got %v", gap)
}

func TestDispatchDomainThrottle(t *testing.T) {
	opts := fastOptions()
	opts.DomainLimits = map[string]int{"example.com": 2}
	q, tx := startTestQueue(t, opts)

	start := time.Now()
	var ids []string
	for i := 0; i < 5; i++ {
		receipt, err := q.Enqueue(rawPayload("buyer@example.com"), EnqueueRequest{})
		require.NoError(t, err)
		ids = append(ids, receipt.ID)
	}

	for _, id := range ids {
		waitForStatus(t, q, id, ExternalSent, 5*time.Second)
	}

	times := tx.sendTimes()
	require.Len(t, times, 5)

	// The initial burst is capped at the bucket capacity
	burst := 0
	for _, ts := range times {
		if ts.Sub(start) < 400*time.Millisecond {
			burst++
		}
	}
	assert.LessOrEqual(t, burst, 2, "initial burst limited to bucket capacity")

	// At 2 tokens/second, draining 5 items takes over a second
	span := times[len(times)-1].Sub(times[0])
	assert.GreaterOrEqual(t, span, time.Second, "throttled domain drained too fast: %v", span)
}

func TestDispatchRetriesWithBackoff(t *testing.T) {
	opts := fastOptions()
	opts.RetryDelays = []time.Duration{100 * time.Millisecond, 300 * time.Millisecond}
	q, tx := startTestQueue(t, opts)

	tx.mu.Lock()
	tx.failures = 2
	tx.mu.Unlock()

	receipt, err := q.Enqueue(rawPayload("buyer@example.com"), EnqueueRequest{MaxAttempts: 3})
	require.NoError(t, err)

	waitForStatus(t, q, receipt.ID, ExternalSent, 3*time.Second)

	times := tx.sendTimes()
	require.Len(t, times, 3)
	assert.GreaterOrEqual(t, times[1].Sub(times[0]), 90*time.Millisecond,
		"first retry before retry_delays[0]")
	assert.GreaterOrEqual(t, times[2].Sub(times[1]), 290*time.Millisecond,
		"second retry before retry_delays[1]")

	info, _ := q.Status(receipt.ID)
	assert.Equal(t, 3, info.Attempts)
}

func TestDispatchExhaustsAttempts(t *testing.T) {
	opts := fastOptions()
	opts.RetryDelays = []time.Duration{30 * time.Millisecond}
	q, tx := startTestQueue(t, opts)

	tx.mu.Lock()
	tx.failures = 100
	tx.mu.Unlock()

	receipt, err := q.Enqueue(rawPayload("buyer@example.com"), EnqueueRequest{MaxAttempts: 3})
	require.NoError(t, err)

	waitForStatus(t, q, receipt.ID, ExternalFailed, 3*time.Second)

	info, _ := q.Status(receipt.ID)
	assert.Equal(t, 3, info.Attempts)
	require.NotNil(t, info.Result)
	assert.False(t, info.Result.Success)
	assert.Contains(t, info.Result.Error, "upstream rejected")

	// No further attempts are scheduled after the terminal failure
	calls := len(tx.sendTimes())
	time.Sleep(150 * time.Millisecond)
	assert.Len(t, tx.sendTimes(), calls)
}

func TestDispatchPriorityOrder(t *testing.T) {
	opts := fastOptions()
	opts.MaxConcurrent = 1
	opts.BatchSize = 1
	q, tx := startTestQueue(t, opts)

	tx.mu.Lock()
	tx.delay = 30 * time.Millisecond
	tx.mu.Unlock()

	// Fill the single slot so the next tick sees both waiting items
	blocker, err := q.Enqueue(rawPayload("buyer@example.com"), EnqueueRequest{Priority: PriorityLow})
	require.NoError(t, err)

	low, err := q.Enqueue(rawPayload("low@example.com"), EnqueueRequest{Priority: PriorityLow})
	require.NoError(t, err)
	crit, err := q.Enqueue(rawPayload("crit@example.com"), EnqueueRequest{Priority: PriorityCritical})
	require.NoError(t, err)

	waitForStatus(t, q, blocker.ID, ExternalSent, 2*time.Second)
	waitForStatus(t, q, crit.ID, ExternalSent, 2*time.Second)
	waitForStatus(t, q, low.ID, ExternalSent, 2*time.Second)

	tx.mu.Lock()
	order := append([]string(nil), tx.recipients...)
	tx.mu.Unlock()
	critIdx, lowIdx := -1, -1
	for i, rcpt := range order {
		if rcpt == "crit@example.com" {
			critIdx = i
		}
		if rcpt == "low@example.com" {
			lowIdx = i
		}
	}
	require.GreaterOrEqual(t, critIdx, 0)
	require.GreaterOrEqual(t, lowIdx, 0)
	assert.Less(t, critIdx, lowIdx, "critical item must be dispatched before the low one")
}

func TestEnqueueNudgesDispatcher(t *testing.T) {
	opts := fastOptions()
	opts.ProcessingInterval = 10 * time.Second // only the nudge can trigger a tick quickly
	q, _ := startTestQueue(t, opts)

	start := time.Now()
	receipt, err := q.Enqueue(rawPayload("buyer@example.com"), EnqueueRequest{})
	require.NoError(t, err)

	waitForStatus(t, q, receipt.ID, ExternalSent, 2*time.Second)
	assert.Less(t, time.Since(start), 5*time.Second)
}

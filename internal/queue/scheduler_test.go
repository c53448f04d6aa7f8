package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreTierWeights(t *testing.T) {
	now := time.Now()
	boost := BoostWeights{RetryCount: 2, WaitTime: 0.5}

	tests := []struct {
		priority Priority
		want     float64
	}{
		{PriorityCritical, 1000},
		{PriorityHigh, 100},
		{PriorityMedium, 10},
		{PriorityLow, 1},
	}
	for _, tt := range tests {
		it := &Item{Priority: tt.priority, CreatedAt: now}
		assert.InDelta(t, tt.want, score(it, boost, now), 0.01, "tier %s", tt.priority)
	}
}

func TestScoreBoosts(t *testing.T) {
	now := time.Now()
	boost := BoostWeights{RetryCount: 2, WaitTime: 0.5}

	it := &Item{
		Priority:  PriorityLow,
		Attempts:  3,
		CreatedAt: now.Add(-10 * time.Minute),
	}
	// 1 (tier) + 3*2 (retries) + 10*0.5 (wait minutes)
	assert.InDelta(t, 12.0, score(it, boost, now), 0.01)
}

func TestScoreWaitBoostUnbounded(t *testing.T) {
	now := time.Now()
	boost := BoostWeights{WaitTime: 0.5}

	// A low-priority item that has waited long enough outranks a fresh
	// critical one: the wait boost has no cap.
	old := &Item{Priority: PriorityLow, CreatedAt: now.Add(-48 * time.Hour)}
	fresh := &Item{Priority: PriorityCritical, CreatedAt: now}
	assert.Greater(t, score(old, boost, now), score(fresh, boost, now))
}

func TestRescoreOrdering(t *testing.T) {
	now := time.Now()
	q := New(Options{PriorityBoost: BoostWeights{RetryCount: 2, WaitTime: 0.5}}, nil, nil, nil)

	add := func(id string, p Priority, status Status, scheduledFor time.Time) *Item {
		it := &Item{ID: id, Priority: p, Status: status, CreatedAt: now, ScheduledFor: scheduledFor}
		q.items = append(q.items, it)
		q.byID[id] = it
		return it
	}

	add("done", PriorityCritical, StatusCompleted, now)
	add("low", PriorityLow, StatusPending, now)
	add("crit", PriorityCritical, StatusPending, now)
	add("high-b", PriorityHigh, StatusPending, now.Add(time.Second))
	add("high-a", PriorityHigh, StatusPending, now)

	q.mu.Lock()
	q.rescore(now)
	q.mu.Unlock()

	var order []string
	for _, it := range q.items {
		order = append(order, it.ID)
	}
	// Pending first, descending score; FIFO on scheduledFor within a tier
	require.Equal(t, []string{"crit", "high-a", "high-b", "low", "done"}, order)
}

func TestRescoreRetryBoostReorders(t *testing.T) {
	now := time.Now()
	q := New(Options{PriorityBoost: BoostWeights{RetryCount: 50}}, nil, nil, nil)

	plain := &Item{ID: "plain", Priority: PriorityMedium, Status: StatusPending, CreatedAt: now, ScheduledFor: now}
	retried := &Item{ID: "retried", Priority: PriorityMedium, Status: StatusPending, CreatedAt: now, ScheduledFor: now.Add(time.Second), Attempts: 2}
	q.items = append(q.items, plain, retried)

	q.mu.Lock()
	q.rescore(now)
	q.mu.Unlock()

	assert.Equal(t, "retried", q.items[0].ID)
	assert.Greater(t, retried.DynamicPriority, plain.DynamicPriority)
}

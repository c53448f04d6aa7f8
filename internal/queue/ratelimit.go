package queue

import (
	"sync"
	"time"
)

// tierLimiter enforces the per-priority-tier send-rate ceiling (sliding
// one-second window) and the minimum inter-send interval. All state is
// owned by the limiter; callers go through Allow and Record only.
type tierLimiter struct {
	mu        sync.Mutex
	limits    map[Priority]int
	intervals func(Priority) time.Duration
	sent      map[Priority][]time.Time
	lastSent  map[Priority]time.Time
}

func newTierLimiter(limits map[Priority]int, intervals func(Priority) time.Duration) *tierLimiter {
	return &tierLimiter{
		limits:    limits,
		intervals: intervals,
		sent:      make(map[Priority][]time.Time),
		lastSent:  make(map[Priority]time.Time),
	}
}

// Allow reports whether a send of the given tier may proceed at now.
// Both the rolling-window ceiling and the inter-send interval must pass.
func (l *tierLimiter) Allow(p Priority, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if interval := l.intervals(p); interval > 0 {
		if last, ok := l.lastSent[p]; ok && now.Sub(last) < interval {
			return false
		}
	}

	limit := l.limits[p]
	if limit <= 0 {
		return true // 0 = unlimited
	}
	return len(l.prune(p, now)) < limit
}

// Record consumes one send slot for the tier. Call only after Allow.
func (l *tierLimiter) Record(p Priority, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lastSent[p] = now
	if l.limits[p] > 0 {
		l.sent[p] = append(l.prune(p, now), now)
	}
}

// MarkSent refreshes the tier's last-sent timestamp after a delivery
// settles, so interval enforcement covers the full transmitter round trip.
func (l *tierLimiter) MarkSent(p Priority, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.After(l.lastSent[p]) {
		l.lastSent[p] = now
	}
}

// prune drops window entries older than one second. Caller holds mu.
func (l *tierLimiter) prune(p Priority, now time.Time) []time.Time {
	cutoff := now.Add(-time.Second)
	window := l.sent[p]
	keep := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			keep = append(keep, ts)
		}
	}
	l.sent[p] = keep
	return keep
}

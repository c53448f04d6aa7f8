package queue

import (
	"sync"
	"time"
)

// tokenBucket implements the token bucket algorithm for domain throttling
type tokenBucket struct {
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(capacity, refillRate float64, now time.Time) *tokenBucket {
	return &tokenBucket{
		capacity:   capacity,
		tokens:     capacity, // start full
		refillRate: refillRate,
		lastRefill: now,
	}
}

// tryConsume takes one token if at least one is available
func (tb *tokenBucket) tryConsume(now time.Time) bool {
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// domainThrottle rate-limits sends per recipient domain, independent of
// tier limits. Domains without a configured limit are never throttled.
type domainThrottle struct {
	mu      sync.Mutex
	limits  map[string]int
	buckets map[string]*tokenBucket
}

func newDomainThrottle(limits map[string]int) *domainThrottle {
	return &domainThrottle{
		limits:  limits,
		buckets: make(map[string]*tokenBucket),
	}
}

// Allow reports whether a send to the domain may proceed, consuming one
// token when it does. Unlike the tier limiter, check and consume are a
// single step: a passed check always corresponds to a dispatched send.
func (dt *domainThrottle) Allow(domain string, now time.Time) bool {
	if domain == "" {
		return true
	}
	dt.mu.Lock()
	defer dt.mu.Unlock()

	limit, ok := dt.limits[domain]
	if !ok || limit <= 0 {
		return true
	}

	bucket, ok := dt.buckets[domain]
	if !ok {
		bucket = newTokenBucket(float64(limit), float64(limit), now)
		dt.buckets[domain] = bucket
	}
	return bucket.tryConsume(now)
}

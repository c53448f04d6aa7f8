package queue

import "time"

// BoostWeights controls how much retries and queue wait time raise an
// item's dynamic priority score. The wait boost has no upper bound; it is
// an anti-starvation heuristic, not a fairness guarantee.
type BoostWeights struct {
	RetryCount float64 `json:"retry_count"`
	WaitTime   float64 `json:"wait_time"`
}

// Options is the process-wide queue configuration, loaded once at startup
type Options struct {
	// MaxConcurrent caps in-flight transmitter calls across a tick
	MaxConcurrent int
	// RateLimit is per-tier sends per rolling one-second window; 0 = unlimited
	RateLimit map[Priority]int
	// SendIntervals is the minimum gap between two sends of the same tier
	SendIntervals map[Priority]time.Duration
	// TestingInterval replaces all tier intervals when TestingMode is set
	TestingInterval time.Duration
	// RetryDelays is the ordered backoff table; attempt k waits RetryDelays[min(k-1, len-1)]
	RetryDelays []time.Duration
	// MaxQueueSize rejects non-critical enqueues once reached; 0 = unlimited
	MaxQueueSize int
	// BatchSize caps selections per tick
	BatchSize int
	// ProcessingInterval is the dispatcher tick period
	ProcessingInterval time.Duration
	// CleanupInterval is the terminal-item reaper period
	CleanupInterval time.Duration
	// PersistInterval is the snapshot period
	PersistInterval time.Duration
	// MaxAge is how long terminal items are retained before cleanup
	MaxAge time.Duration
	// PriorityBoost weights for the dynamic score
	PriorityBoost BoostWeights
	// PersistenceKey is the KV record key for snapshots
	PersistenceKey string
	// DomainLimits maps recipient domain to token-bucket rate (per second)
	DomainLimits map[string]int
	// IdempotencyCacheSize is the prune threshold for the dedup cache
	IdempotencyCacheSize int
	// DefaultMaxAttempts applies when an enqueue does not specify one
	DefaultMaxAttempts int
	// TestingMode shortens tier intervals for tests and dev runs
	TestingMode bool
}

// DefaultOptions returns sensible defaults for production use
func DefaultOptions() Options {
	return Options{
		MaxConcurrent: 5,
		RateLimit: map[Priority]int{
			PriorityCritical: 0, // unlimited
			PriorityHigh:     20,
			PriorityMedium:   10,
			PriorityLow:      5,
		},
		SendIntervals: map[Priority]time.Duration{
			PriorityCritical: 0,
			PriorityHigh:     50 * time.Millisecond,
			PriorityMedium:   100 * time.Millisecond,
			PriorityLow:      250 * time.Millisecond,
		},
		TestingInterval:    time.Millisecond,
		RetryDelays:        []time.Duration{time.Second, 5 * time.Second, 15 * time.Second, time.Minute, 5 * time.Minute},
		MaxQueueSize:       10000,
		BatchSize:          10,
		ProcessingInterval: time.Second,
		CleanupInterval:    time.Minute,
		PersistInterval:    30 * time.Second,
		MaxAge:             24 * time.Hour,
		PriorityBoost: BoostWeights{
			RetryCount: 2,
			WaitTime:   0.5,
		},
		PersistenceKey:       "courier:queue:snapshot",
		DomainLimits:         map[string]int{},
		IdempotencyCacheSize: 1000,
		DefaultMaxAttempts:   3,
	}
}

// withDefaults fills in zero values that would otherwise stall the queue
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = d.MaxConcurrent
	}
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.ProcessingInterval <= 0 {
		o.ProcessingInterval = d.ProcessingInterval
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = d.CleanupInterval
	}
	if o.PersistInterval <= 0 {
		o.PersistInterval = d.PersistInterval
	}
	if o.MaxAge <= 0 {
		o.MaxAge = d.MaxAge
	}
	if len(o.RetryDelays) == 0 {
		o.RetryDelays = d.RetryDelays
	}
	if o.PersistenceKey == "" {
		o.PersistenceKey = d.PersistenceKey
	}
	if o.IdempotencyCacheSize <= 0 {
		o.IdempotencyCacheSize = d.IdempotencyCacheSize
	}
	if o.DefaultMaxAttempts <= 0 {
		o.DefaultMaxAttempts = d.DefaultMaxAttempts
	}
	if o.TestingInterval <= 0 {
		o.TestingInterval = d.TestingInterval
	}
	if o.RateLimit == nil {
		o.RateLimit = map[Priority]int{}
	}
	if o.SendIntervals == nil {
		o.SendIntervals = map[Priority]time.Duration{}
	}
	if o.DomainLimits == nil {
		o.DomainLimits = map[string]int{}
	}
	return o
}

// interval returns the effective minimum send interval for a tier
func (o Options) interval(p Priority) time.Duration {
	if o.TestingMode {
		return o.TestingInterval
	}
	return o.SendIntervals[p]
}

// Package queue implements the outbound message delivery queue: priority
// scheduling, per-tier rate limits, per-domain throttling, retry with
// backoff, periodic snapshots, and idempotent enqueue.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hallmarket/courier/internal/kv"
	"github.com/hallmarket/courier/internal/transmitter"
)

// Queue owns all mutable delivery state: the item list, the id lookup
// map, the idempotency cache, and the rate-limiter counters. External
// callers reach it only through the exported methods, which serialize
// mutations under one lock so a dispatch tick cannot race a concurrent
// enqueue or cancel.
type Queue struct {
	opts   Options
	store  kv.Store
	tx     transmitter.Transmitter
	logger *slog.Logger

	mu    sync.RWMutex
	items []*Item
	byID  map[string]*Item
	idem  map[string]string // idempotency key -> item id

	limiter  *tierLimiter
	throttle *domainThrottle

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	nudge  chan struct{}

	active  atomic.Int32
	started bool
	stopped bool
}

// EnqueueRequest carries the caller-controlled fields of an enqueue
type EnqueueRequest struct {
	Priority       Priority
	MaxAttempts    int
	ScheduledFor   time.Time
	IdempotencyKey string
	Tags           []string
}

// Receipt is the provisional acknowledgment returned by an accepted
// enqueue. Delivery outcome is observed later via Status.
type Receipt struct {
	ID         string         `json:"id"`
	Status     ExternalStatus `json:"status"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// StatusInfo is the caller-facing view of one queue item
type StatusInfo struct {
	ID           string         `json:"id"`
	Status       ExternalStatus `json:"status"`
	Priority     Priority       `json:"priority"`
	Attempts     int            `json:"attempts"`
	MaxAttempts  int            `json:"max_attempts"`
	CreatedAt    time.Time      `json:"created_at"`
	ScheduledFor time.Time      `json:"scheduled_for"`
	NextAttempt  time.Time      `json:"next_attempt,omitempty"`
	Result       *SendResult    `json:"result,omitempty"`
	LastError    string         `json:"last_error,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
}

// Stats aggregates queue counts for monitoring
type Stats struct {
	Total       int              `json:"total"`
	ByStatus    map[Status]int   `json:"by_status"`
	ByPriority  map[Priority]int `json:"by_priority"`
	InFlight    int              `json:"in_flight"`
	LastUpdated time.Time        `json:"last_updated"`
}

// Health reports queue and transmitter health
type Health struct {
	Healthy            bool   `json:"healthy"`
	QueueDepth         int    `json:"queue_depth"`
	InFlight           int    `json:"in_flight"`
	Transmitter        string `json:"transmitter"`
	TransmitterHealthy bool   `json:"transmitter_healthy"`
	TransmitterError   string `json:"transmitter_error,omitempty"`
	BreakerState       string `json:"breaker_state,omitempty"`
}

// New creates a queue. Call Start to load the snapshot and begin
// dispatching.
func New(opts Options, store kv.Store, tx transmitter.Transmitter, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		opts:   opts,
		store:  store,
		tx:     tx,
		logger: logger.With("component", "queue"),
		byID:   make(map[string]*Item),
		idem:   make(map[string]string),
		ctx:    ctx,
		cancel: cancel,
		nudge:  make(chan struct{}, 1),
	}
	q.limiter = newTierLimiter(opts.RateLimit, opts.interval)
	q.throttle = newDomainThrottle(opts.DomainLimits)
	return q
}

// Start restores the last snapshot and launches the dispatch loop
func (q *Queue) Start() error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return nil
	}
	if q.stopped {
		q.mu.Unlock()
		return ErrStopped
	}
	q.started = true
	q.mu.Unlock()

	if err := q.restore(q.ctx); err != nil {
		q.logger.Warn("failed to restore queue snapshot, starting empty", "error", err)
	}

	q.wg.Add(1)
	go q.run()

	q.logger.Info("queue started",
		"max_concurrent", q.opts.MaxConcurrent,
		"batch_size", q.opts.BatchSize,
		"processing_interval", q.opts.ProcessingInterval,
		"testing_mode", q.opts.TestingMode)
	return nil
}

// Stop halts dispatching, waits for in-flight sends to settle, and
// writes a final snapshot.
func (q *Queue) Stop() error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	q.snapshot(ctx)

	q.logger.Info("queue stopped")
	return nil
}

// Enqueue validates and accepts a send request. Enqueue-time failures
// (validation, capacity, duplicate) are returned synchronously and
// never create an item.
func (q *Queue) Enqueue(p Payload, req EnqueueRequest) (*Receipt, error) {
	if err := validatePayload(p); err != nil {
		rejectedCounter.WithLabelValues("validation").Inc()
		return nil, err
	}

	prio := req.Priority
	if prio == "" {
		prio = PriorityMedium
	}
	if !prio.Valid() {
		rejectedCounter.WithLabelValues("validation").Inc()
		return nil, fmt.Errorf("%w: unknown priority %q", ErrInvalidPayload, req.Priority)
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.opts.DefaultMaxAttempts
	}

	now := time.Now()
	scheduledFor := req.ScheduledFor
	if scheduledFor.IsZero() {
		scheduledFor = now
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil, ErrStopped
	}

	// Critical messages bypass the capacity cap
	if q.opts.MaxQueueSize > 0 && prio != PriorityCritical && q.activeCountLocked() >= q.opts.MaxQueueSize {
		q.mu.Unlock()
		rejectedCounter.WithLabelValues("capacity").Inc()
		return nil, fmt.Errorf("%w: %d items queued", ErrQueueFull, q.opts.MaxQueueSize)
	}

	if req.IdempotencyKey != "" {
		if prevID, ok := q.idem[req.IdempotencyKey]; ok {
			if prev, ok := q.byID[prevID]; ok && !prev.Status.Terminal() {
				q.mu.Unlock()
				rejectedCounter.WithLabelValues("duplicate").Inc()
				return nil, fmt.Errorf("%w: key %q already bound to item %s", ErrDuplicate, req.IdempotencyKey, prevID)
			}
		}
	}

	it := &Item{
		ID:              uuid.New().String(),
		Payload:         p,
		Priority:        prio,
		Status:          StatusPending,
		MaxAttempts:     maxAttempts,
		CreatedAt:       now,
		UpdatedAt:       now,
		ScheduledFor:    scheduledFor,
		NextAttempt:     scheduledFor,
		RecipientDomain: extractDomain(p.Recipients()[0]),
		IdempotencyKey:  req.IdempotencyKey,
		Tags:            req.Tags,
	}

	q.items = append(q.items, it)
	q.byID[it.ID] = it
	if it.IdempotencyKey != "" {
		q.idem[it.IdempotencyKey] = it.ID
	}
	q.updateDepthGauges()
	q.mu.Unlock()

	enqueuedCounter.WithLabelValues(string(prio)).Inc()
	q.logger.Debug("message enqueued",
		"message_id", it.ID,
		"priority", prio,
		"domain", it.RecipientDomain,
		"scheduled_for", scheduledFor.Format(time.RFC3339))

	q.kick()

	return &Receipt{
		ID:         it.ID,
		Status:     it.ExternalStatus(now),
		EnqueuedAt: now,
	}, nil
}

// Schedule enqueues a send that becomes eligible at the given time
func (q *Queue) Schedule(p Payload, at time.Time, req EnqueueRequest) (*Receipt, error) {
	req.ScheduledFor = at
	return q.Enqueue(p, req)
}

// Cancel aborts a pending item. Items already handed to the transmitter
// or in a terminal state cannot be cancelled.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if it.Status != StatusPending {
		return fmt.Errorf("%w: cannot cancel item in status %q", ErrInvalidTransition, it.Status)
	}

	it.Status = StatusCancelled
	it.UpdatedAt = time.Now()
	cancelledCounter.Inc()
	q.updateDepthGauges()

	q.logger.Info("message cancelled", "message_id", id)
	return nil
}

// Resend clones a terminal item into a fresh pending one with the
// attempt counter reset. overrideTo, when non-empty, replaces the
// recipient list on the clone.
func (q *Queue) Resend(id string, overrideTo []string) (*Receipt, error) {
	q.mu.Lock()
	src, ok := q.byID[id]
	if !ok {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !src.Status.Terminal() {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot resend item in status %q", ErrInvalidTransition, src.Status)
	}

	payload := clonePayload(src.Payload)
	if len(overrideTo) > 0 {
		switch payload.Kind {
		case PayloadRaw:
			payload.Raw.To = overrideTo
		case PayloadTemplated:
			payload.Template.To = overrideTo
		}
	}
	priority := src.Priority
	maxAttempts := src.MaxAttempts
	tags := append([]string(nil), src.Tags...)
	q.mu.Unlock()

	// A resend is a new logical request, so the original idempotency
	// key is not carried over.
	return q.Enqueue(payload, EnqueueRequest{
		Priority:    priority,
		MaxAttempts: maxAttempts,
		Tags:        tags,
	})
}

// Status returns the caller-facing view of one item
func (q *Queue) Status(id string) (*StatusInfo, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	it, ok := q.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	info := &StatusInfo{
		ID:           it.ID,
		Status:       it.ExternalStatus(time.Now()),
		Priority:     it.Priority,
		Attempts:     it.Attempts,
		MaxAttempts:  it.MaxAttempts,
		CreatedAt:    it.CreatedAt,
		ScheduledFor: it.ScheduledFor,
		NextAttempt:  it.NextAttempt,
		LastError:    it.LastError,
		Tags:         it.Tags,
	}
	if it.Result != nil {
		result := *it.Result
		info.Result = &result
	}
	return info, nil
}

// Stats returns aggregate queue counts
func (q *Queue) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := Stats{
		Total:       len(q.items),
		ByStatus:    make(map[Status]int),
		ByPriority:  make(map[Priority]int),
		InFlight:    int(q.active.Load()),
		LastUpdated: time.Now(),
	}
	for _, it := range q.items {
		stats.ByStatus[it.Status]++
		stats.ByPriority[it.Priority]++
	}
	return stats
}

// CheckHealth reports queue health with the transmitter's own health
// proxied through.
func (q *Queue) CheckHealth(ctx context.Context) Health {
	stats := q.Stats()
	h := Health{
		Healthy:     true,
		QueueDepth:  stats.ByStatus[StatusPending] + stats.ByStatus[StatusProcessing],
		InFlight:    stats.InFlight,
		Transmitter: q.tx.Name(),
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := q.tx.Healthy(checkCtx); err != nil {
		h.Healthy = false
		h.TransmitterHealthy = false
		h.TransmitterError = err.Error()
	} else {
		h.TransmitterHealthy = true
	}

	if b, ok := q.tx.(interface{ State() string }); ok {
		h.BreakerState = b.State()
	}
	return h
}

// kick nudges the dispatcher to run a tick without waiting for the
// next interval. Non-blocking; a pending nudge is enough.
func (q *Queue) kick() {
	select {
	case q.nudge <- struct{}{}:
	default:
	}
}

// activeCountLocked counts non-terminal items. Caller holds q.mu.
func (q *Queue) activeCountLocked() int {
	n := 0
	for _, it := range q.items {
		if !it.Status.Terminal() {
			n++
		}
	}
	return n
}

// clonePayload deep-copies a payload so a resend cannot alias the
// original item's content.
func clonePayload(p Payload) Payload {
	out := Payload{Kind: p.Kind}
	if p.Raw != nil {
		raw := *p.Raw
		raw.To = append([]string(nil), p.Raw.To...)
		out.Raw = &raw
	}
	if p.Template != nil {
		tpl := *p.Template
		tpl.To = append([]string(nil), p.Template.To...)
		if p.Template.Data != nil {
			tpl.Data = make(map[string]any, len(p.Template.Data))
			for k, v := range p.Template.Data {
				tpl.Data[k] = v
			}
		}
		out.Template = &tpl
	}
	return out
}

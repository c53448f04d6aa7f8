package queue

import (
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hallmarket/courier/internal/transmitter"
)

// run is the single scheduling loop. Dispatch, cleanup, and persistence
// each run on their own timer; an enqueue nudge triggers an immediate
// tick.
func (q *Queue) run() {
	defer q.wg.Done()

	process := time.NewTicker(q.opts.ProcessingInterval)
	defer process.Stop()
	cleanup := time.NewTicker(q.opts.CleanupInterval)
	defer cleanup.Stop()
	persist := time.NewTicker(q.opts.PersistInterval)
	defer persist.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-process.C:
			q.tick()
		case <-q.nudge:
			q.tick()
		case <-cleanup.C:
			q.cleanupPass(time.Now())
		case <-persist.C:
			q.snapshot(q.ctx)
		}
	}
}

// tick runs one dispatch cycle: rescore and sort the queue, select due
// items within the batch and concurrency budget that pass the tier rate,
// tier interval, and domain throttle checks, then fan them out to the
// transmitter and wait for the whole batch to settle.
func (q *Queue) tick() {
	now := time.Now()

	q.mu.Lock()
	q.rescore(now)

	budget := q.opts.BatchSize
	if headroom := q.opts.MaxConcurrent - int(q.active.Load()); headroom < budget {
		budget = headroom
	}

	var selected []*Item
	for _, it := range q.items {
		if it.Status != StatusPending {
			break // sorted pending-first
		}
		if len(selected) >= budget {
			break
		}
		if !it.due(now) {
			continue
		}
		if !q.limiter.Allow(it.Priority, now) {
			continue
		}
		// The domain check consumes a token, so it runs last
		if !q.throttle.Allow(it.RecipientDomain, now) {
			continue
		}

		q.limiter.Record(it.Priority, now)
		it.Status = StatusProcessing
		it.Attempts++
		it.UpdatedAt = now
		selected = append(selected, it)
	}
	q.updateDepthGauges()
	q.mu.Unlock()

	if len(selected) == 0 {
		return
	}

	q.active.Add(int32(len(selected)))
	inFlightGauge.Set(float64(q.active.Load()))

	g := new(errgroup.Group)
	g.SetLimit(len(selected))
	for _, it := range selected {
		it := it
		g.Go(func() error {
			res, err := q.send(it)
			q.settle(it, res, err, time.Now())
			return nil
		})
	}
	_ = g.Wait()

	q.active.Add(-int32(len(selected)))
	inFlightGauge.Set(float64(q.active.Load()))

	q.snapshot(q.ctx)
}

// send hands one item to the transmitter. There is no enforced timeout
// here: a hung transmitter holds its slot for the remainder of the tick.
func (q *Queue) send(it *Item) (*transmitter.Result, error) {
	switch it.Payload.Kind {
	case PayloadTemplated:
		tpl := it.Payload.Template
		return q.tx.SendTemplated(q.ctx, tpl.Name, tpl.To, tpl.Data)
	default:
		raw := it.Payload.Raw
		return q.tx.SendRaw(q.ctx, transmitter.RawMessage{
			From:    raw.From,
			To:      raw.To,
			Subject: raw.Subject,
			HTML:    raw.HTML,
			Text:    raw.Text,
			ReplyTo: raw.ReplyTo,
		})
	}
}

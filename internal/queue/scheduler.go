package queue

import (
	"sort"
	"time"
)

// score computes the dynamic priority for a pending item:
// tier weight, plus a boost per retry, plus a boost per minute waited.
// The wait component grows without bound so long-waiting items eventually
// outrank fresher high-tier ones; starvation is mitigated, not prevented.
func score(it *Item, boost BoostWeights, now time.Time) float64 {
	s := it.Priority.tierWeight()
	s += float64(it.Attempts) * boost.RetryCount
	waited := now.Sub(it.CreatedAt).Minutes()
	if waited > 0 {
		s += waited * boost.WaitTime
	}
	return s
}

// rescore refreshes DynamicPriority on every pending item and sorts the
// queue: pending items first, then descending score, ties broken by
// ascending ScheduledFor (FIFO within equal score). Caller holds q.mu.
func (q *Queue) rescore(now time.Time) {
	for _, it := range q.items {
		if it.Status == StatusPending {
			it.DynamicPriority = score(it, q.opts.PriorityBoost, now)
		}
	}

	sort.SliceStable(q.items, func(i, j int) bool {
		a, b := q.items[i], q.items[j]
		ap, bp := a.Status == StatusPending, b.Status == StatusPending
		if ap != bp {
			return ap
		}
		if !ap {
			return false
		}
		if a.DynamicPriority != b.DynamicPriority {
			return a.DynamicPriority > b.DynamicPriority
		}
		return a.ScheduledFor.Before(b.ScheduledFor)
	})
}

package queue

import "time"

// cleanupPass removes terminal items older than MaxAge and, once the
// idempotency cache grows past its threshold, prunes keys no longer
// bound to an active item.
func (q *Queue) cleanupPass(now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := now.Add(-q.opts.MaxAge)
	kept := q.items[:0]
	removed := 0
	for _, it := range q.items {
		if it.Status.Terminal() && it.UpdatedAt.Before(cutoff) {
			delete(q.byID, it.ID)
			removed++
			continue
		}
		kept = append(kept, it)
	}
	// Clear trailing slots so removed items can be collected
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = kept

	pruned := 0
	if len(q.idem) > q.opts.IdempotencyCacheSize {
		for key, id := range q.idem {
			it, ok := q.byID[id]
			if !ok || it.Status.Terminal() {
				delete(q.idem, key)
				pruned++
			}
		}
	}
	q.updateDepthGauges()

	if removed > 0 || pruned > 0 {
		q.logger.Info("cleanup completed",
			"removed", removed,
			"idempotency_pruned", pruned,
			"remaining", len(q.items))
	}
}

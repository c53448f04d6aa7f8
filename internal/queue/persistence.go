package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hallmarket/courier/internal/kv"
)

// snapshotRecord is the single KV record holding all non-terminal items
type snapshotRecord struct {
	SavedAt time.Time `json:"saved_at"`
	Items   []Item    `json:"items"`
}

// snapshot serializes all pending and processing items to the store
// under the configured key. Best effort: a failed snapshot is logged and
// retried on the next interval; work mutated since the last successful
// snapshot is lost on crash.
func (q *Queue) snapshot(ctx context.Context) {
	if q.store == nil {
		return
	}

	q.mu.RLock()
	record := snapshotRecord{SavedAt: time.Now()}
	for _, it := range q.items {
		if it.Status == StatusPending || it.Status == StatusProcessing {
			record.Items = append(record.Items, *it)
		}
	}
	q.mu.RUnlock()

	data, err := json.Marshal(record)
	if err != nil {
		q.logger.Error("failed to marshal queue snapshot", "error", err)
		return
	}

	if err := q.store.Put(ctx, q.opts.PersistenceKey, data, 0); err != nil {
		q.logger.Error("failed to persist queue snapshot",
			"key", q.opts.PersistenceKey,
			"items", len(record.Items),
			"error", err)
		return
	}

	q.logger.Debug("queue snapshot persisted", "items", len(record.Items))
}

// restore loads the snapshot record written by a previous run. Entries
// failing structural validation are dropped with a warning rather than
// aborting startup. Items captured mid-flight revert to pending so the
// interrupted attempt is re-run.
func (q *Queue) restore(ctx context.Context) error {
	if q.store == nil {
		return nil
	}

	data, err := q.store.Get(ctx, q.opts.PersistenceKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var record snapshotRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return err
	}

	now := time.Now()
	restored, dropped := 0, 0

	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range record.Items {
		it := record.Items[i]
		if err := q.validateRestored(&it); err != nil {
			dropped++
			q.logger.Warn("dropping invalid snapshot entry",
				"message_id", it.ID,
				"error", err)
			continue
		}

		if it.Status == StatusProcessing {
			// The in-flight attempt was lost with the old process
			it.Status = StatusPending
			it.UpdatedAt = now
		}

		item := it
		q.items = append(q.items, &item)
		q.byID[item.ID] = &item
		if item.IdempotencyKey != "" {
			q.idem[item.IdempotencyKey] = item.ID
		}
		restored++
	}
	q.updateDepthGauges()

	if restored > 0 || dropped > 0 {
		q.logger.Info("queue snapshot restored",
			"saved_at", record.SavedAt.Format(time.RFC3339),
			"restored", restored,
			"dropped", dropped)
	}
	return nil
}

// validateRestored checks the structural invariants of a snapshot entry
func (q *Queue) validateRestored(it *Item) error {
	if it.ID == "" {
		return errors.New("empty id")
	}
	if _, exists := q.byID[it.ID]; exists {
		return errors.New("duplicate id")
	}
	if !it.Priority.Valid() {
		return errors.New("unknown priority " + string(it.Priority))
	}
	if it.Status != StatusPending && it.Status != StatusProcessing {
		return errors.New("unexpected status " + string(it.Status))
	}
	if it.Attempts > it.MaxAttempts {
		return errors.New("attempts exceed max attempts")
	}
	return validatePayload(it.Payload)
}

package queue

import (
	"time"

	"github.com/hallmarket/courier/internal/transmitter"
)

// retryDelay returns the backoff before the next attempt, given how many
// attempts have already been made. The last table entry repeats once the
// table is exhausted.
func retryDelay(delays []time.Duration, attempts int) time.Duration {
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(delays) {
		idx = len(delays) - 1
	}
	return delays[idx]
}

// settle applies a delivery outcome to an item: completed on success,
// back to pending with a backoff delay while attempts remain, failed
// once they are exhausted. Transient failures never escape the
// dispatcher; only exhausted items surface through Status and Health.
func (q *Queue) settle(it *Item, res *transmitter.Result, sendErr error, now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it.UpdatedAt = now

	if sendErr == nil && res != nil && res.Success {
		it.Status = StatusCompleted
		it.Result = &SendResult{
			Success:   true,
			MessageID: res.MessageID,
			SentAt:    now,
		}
		it.LastError = ""
		q.limiter.MarkSent(it.Priority, now)
		sentCounter.Inc()
		q.updateDepthGauges()

		q.logger.Info("message delivered",
			"message_id", it.ID,
			"provider_id", res.MessageID,
			"priority", it.Priority,
			"attempts", it.Attempts)
		return
	}

	errMsg := "delivery failed"
	if sendErr != nil {
		errMsg = sendErr.Error()
	} else if res != nil && res.Error != "" {
		errMsg = res.Error
	}
	it.LastError = errMsg

	if it.Attempts >= it.MaxAttempts {
		it.Status = StatusFailed
		it.Result = &SendResult{
			Success: false,
			Error:   errMsg,
		}
		failedCounter.Inc()
		q.updateDepthGauges()

		q.logger.Error("message failed permanently",
			"message_id", it.ID,
			"priority", it.Priority,
			"attempts", it.Attempts,
			"max_attempts", it.MaxAttempts,
			"error", errMsg)
		return
	}

	delay := retryDelay(q.opts.RetryDelays, it.Attempts)
	it.NextAttempt = now.Add(delay)
	it.Status = StatusPending
	retriedCounter.Inc()
	q.updateDepthGauges()

	q.logger.Warn("message deferred for retry",
		"message_id", it.ID,
		"priority", it.Priority,
		"attempts", it.Attempts,
		"next_attempt", it.NextAttempt.Format(time.RFC3339),
		"error", errMsg)
}

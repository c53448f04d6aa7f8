package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	enqueuedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_queue_enqueued_total",
			Help: "Total number of messages accepted into the queue",
		},
		[]string{"priority"},
	)

	rejectedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_queue_rejected_total",
			Help: "Total number of enqueue requests rejected before queueing",
		},
		[]string{"reason"},
	)

	sentCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_queue_sent_total",
			Help: "Total number of messages accepted by the transmitter",
		},
	)

	failedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_queue_failed_total",
			Help: "Total number of messages that exhausted all delivery attempts",
		},
	)

	retriedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_queue_retries_total",
			Help: "Total number of delivery attempts rescheduled after a transient failure",
		},
	)

	cancelledCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_queue_cancelled_total",
			Help: "Total number of messages cancelled while pending",
		},
	)

	queueDepthGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "courier_queue_depth",
			Help: "Current number of queue items by status",
		},
		[]string{"status"},
	)

	inFlightGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "courier_queue_in_flight",
			Help: "Number of sends currently handed to the transmitter",
		},
	)
)

// updateDepthGauges refreshes the per-status depth gauges. Caller holds q.mu.
func (q *Queue) updateDepthGauges() {
	counts := map[Status]int{
		StatusPending:    0,
		StatusProcessing: 0,
		StatusCompleted:  0,
		StatusFailed:     0,
		StatusCancelled:  0,
	}
	for _, it := range q.items {
		counts[it.Status]++
	}
	for status, n := range counts {
		queueDepthGauge.WithLabelValues(string(status)).Set(float64(n))
	}
}

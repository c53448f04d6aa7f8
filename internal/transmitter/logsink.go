package transmitter

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// LogSink is a transmitter for dev and test runs: it logs each send and
// reports success. A non-zero FailureRate makes a fraction of sends fail,
// which exercises the retry path end to end.
type LogSink struct {
	logger      *slog.Logger
	failureRate float64
	sent        atomic.Int64
	failed      atomic.Int64
}

// NewLogSink creates a logging transmitter
func NewLogSink(logger *slog.Logger, failureRate float64) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{
		logger:      logger.With("component", "log-transmitter"),
		failureRate: failureRate,
	}
}

// SendRaw logs the send and succeeds unless the simulated failure fires
func (l *LogSink) SendRaw(_ context.Context, msg RawMessage) (*Result, error) {
	if l.shouldFail() {
		l.failed.Add(1)
		return &Result{Success: false, Error: "simulated delivery failure"}, nil
	}

	id := uuid.New().String()
	l.sent.Add(1)
	l.logger.Info("message delivered",
		"message_id", id,
		"from", msg.From,
		"to", msg.To,
		"subject", msg.Subject,
		"delivered_at", time.Now().Format(time.RFC3339),
	)
	return &Result{Success: true, MessageID: id}, nil
}

// SendTemplated logs the send and succeeds unless the simulated failure fires
func (l *LogSink) SendTemplated(_ context.Context, name string, to []string, data map[string]any) (*Result, error) {
	if l.shouldFail() {
		l.failed.Add(1)
		return &Result{Success: false, Error: fmt.Sprintf("simulated delivery failure for template %s", name)}, nil
	}

	id := uuid.New().String()
	l.sent.Add(1)
	l.logger.Info("templated message delivered",
		"message_id", id,
		"template", name,
		"to", to,
		"data_keys", len(data),
	)
	return &Result{Success: true, MessageID: id}, nil
}

// Healthy always reports healthy
func (l *LogSink) Healthy(_ context.Context) error {
	return nil
}

// Name identifies this transmitter
func (l *LogSink) Name() string {
	return "log"
}

func (l *LogSink) shouldFail() bool {
	return l.failureRate > 0 && rand.Float64() < l.failureRate
}

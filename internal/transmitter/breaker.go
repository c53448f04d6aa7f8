package transmitter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig tunes the circuit breaker wrapped around a transmitter
type BreakerConfig struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
}

// DefaultBreakerConfig returns the settings used in production
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:        "transmitter",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
	}
}

// Breaker wraps a Transmitter with a circuit breaker. A run of failures
// trips the breaker; while open, sends fail fast without reaching the
// provider and Healthy reports ErrUnhealthy.
type Breaker struct {
	inner   Transmitter
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewBreaker wraps tx with a circuit breaker
func NewBreaker(tx Transmitter, config BreakerConfig, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "transmitter-breaker")

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &Breaker{
		inner:   tx,
		breaker: cb,
		logger:  logger,
	}
}

// SendRaw delivers through the breaker
func (b *Breaker) SendRaw(ctx context.Context, msg RawMessage) (*Result, error) {
	return b.execute(func() (*Result, error) {
		return b.inner.SendRaw(ctx, msg)
	})
}

// SendTemplated delivers through the breaker
func (b *Breaker) SendTemplated(ctx context.Context, name string, to []string, data map[string]any) (*Result, error) {
	return b.execute(func() (*Result, error) {
		return b.inner.SendTemplated(ctx, name, to, data)
	})
}

func (b *Breaker) execute(send func() (*Result, error)) (*Result, error) {
	out, err := b.breaker.Execute(func() (interface{}, error) {
		res, err := send()
		if err != nil {
			return res, err
		}
		if res != nil && !res.Success {
			// Count provider-side rejections against the breaker too
			return res, fmt.Errorf("send rejected: %s", res.Error)
		}
		return res, nil
	})
	res, _ := out.(*Result)
	if err != nil && res == nil {
		return &Result{Success: false, Error: err.Error()}, err
	}
	return res, err
}

// Healthy reports the inner transmitter's health unless the breaker is open
func (b *Breaker) Healthy(ctx context.Context) error {
	if b.breaker.State() == gobreaker.StateOpen {
		return fmt.Errorf("%w: circuit breaker open", ErrUnhealthy)
	}
	return b.inner.Healthy(ctx)
}

// Name identifies the wrapped transmitter
func (b *Breaker) Name() string {
	return b.inner.Name()
}

// State returns the current breaker state for health reporting
func (b *Breaker) State() string {
	return b.breaker.State().String()
}

// Package transmitter defines the outbound delivery collaborator. The
// queue treats delivery as an opaque operation: hand over content, get a
// result. Concrete provider integrations implement this interface
// outside the queue core.
package transmitter

import (
	"context"
	"errors"
)

// ErrUnhealthy is returned by health checks when the transmitter cannot
// currently accept sends.
var ErrUnhealthy = errors.New("transmitter unhealthy")

// Result is the outcome of a single delivery attempt
type Result struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RawMessage is pre-rendered content handed to SendRaw
type RawMessage struct {
	From    string
	To      []string
	Subject string
	HTML    string
	Text    string
	ReplyTo string
}

// Transmitter delivers messages to the outside world
type Transmitter interface {
	// SendRaw delivers pre-rendered content
	SendRaw(ctx context.Context, msg RawMessage) (*Result, error)

	// SendTemplated delivers a named template with render data
	SendTemplated(ctx context.Context, name string, to []string, data map[string]any) (*Result, error)

	// Healthy returns nil when the transmitter can accept sends
	Healthy(ctx context.Context) error

	// Name identifies the transmitter implementation
	Name() string
}

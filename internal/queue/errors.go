package queue

import (
	"errors"
	"fmt"
)

// Enqueue-time errors are returned synchronously and never create an item.
// Send failures are absorbed by the retry logic and only become visible
// through Status/Health once attempts are exhausted.
var (
	// ErrInvalidPayload means the payload failed structural validation
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrQueueFull means the queue is at capacity for non-critical priorities
	ErrQueueFull = errors.New("queue is full")
	// ErrDuplicate means the idempotency key is bound to an active item
	ErrDuplicate = errors.New("duplicate idempotency key")
	// ErrInvalidTransition means the requested state change is not allowed
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNotFound means no item with the given id exists
	ErrNotFound = errors.New("message not found")
	// ErrStopped means the queue has been shut down
	ErrStopped = errors.New("queue is stopped")
)

// validatePayload checks the structural invariants of a payload variant
func validatePayload(p Payload) error {
	switch p.Kind {
	case PayloadRaw:
		if p.Raw == nil || p.Template != nil {
			return fmt.Errorf("%w: raw payload missing content", ErrInvalidPayload)
		}
		if len(p.Raw.To) == 0 {
			return fmt.Errorf("%w: no recipients", ErrInvalidPayload)
		}
		if p.Raw.HTML == "" && p.Raw.Text == "" {
			return fmt.Errorf("%w: raw payload has neither html nor text body", ErrInvalidPayload)
		}
	case PayloadTemplated:
		if p.Template == nil || p.Raw != nil {
			return fmt.Errorf("%w: templated payload missing template reference", ErrInvalidPayload)
		}
		if p.Template.Name == "" {
			return fmt.Errorf("%w: empty template name", ErrInvalidPayload)
		}
		if len(p.Template.To) == 0 {
			return fmt.Errorf("%w: no recipients", ErrInvalidPayload)
		}
	default:
		return fmt.Errorf("%w: unknown payload kind %q", ErrInvalidPayload, p.Kind)
	}
	for _, rcpt := range p.Recipients() {
		if extractDomain(rcpt) == "" {
			return fmt.Errorf("%w: malformed recipient address %q", ErrInvalidPayload, rcpt)
		}
	}
	return nil
}

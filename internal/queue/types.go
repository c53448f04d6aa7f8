package queue

import (
	"strings"
	"time"
)

// Priority represents the delivery tier of a queued message
type Priority string

const (
	// PriorityCritical is for messages that must go out immediately (password resets)
	PriorityCritical Priority = "critical"
	// PriorityHigh is for time-sensitive transactional messages (order confirmations)
	PriorityHigh Priority = "high"
	// PriorityMedium is for ordinary transactional messages
	PriorityMedium Priority = "medium"
	// PriorityLow is for marketing and digest messages (cart abandonment)
	PriorityLow Priority = "low"
)

// tierWeight returns the base scheduling weight for a priority tier
func (p Priority) tierWeight() float64 {
	switch p {
	case PriorityCritical:
		return 1000
	case PriorityHigh:
		return 100
	case PriorityMedium:
		return 10
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether p is a known priority tier
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Status represents the lifecycle state of a queue item
type Status string

const (
	// StatusPending means the item is waiting to be selected for delivery
	StatusPending Status = "pending"
	// StatusProcessing means the item has been handed to the transmitter
	StatusProcessing Status = "processing"
	// StatusCompleted means the transmitter accepted the message
	StatusCompleted Status = "completed"
	// StatusFailed means all delivery attempts were exhausted
	StatusFailed Status = "failed"
	// StatusCancelled means the item was cancelled before dispatch
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are possible from s
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ExternalStatus is the caller-facing status vocabulary
type ExternalStatus string

const (
	ExternalScheduled ExternalStatus = "scheduled"
	ExternalQueued    ExternalStatus = "queued"
	ExternalSending   ExternalStatus = "sending"
	ExternalSent      ExternalStatus = "sent"
	ExternalFailed    ExternalStatus = "failed"
	ExternalCancelled ExternalStatus = "cancelled"
)

// PayloadKind discriminates the payload variants
type PayloadKind string

const (
	// PayloadRaw is pre-rendered message content
	PayloadRaw PayloadKind = "raw"
	// PayloadTemplated references a template rendered by the transmitter
	PayloadTemplated PayloadKind = "templated"
)

// RawContent is a pre-rendered message body
type RawContent struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
	ReplyTo string   `json:"reply_to,omitempty"`
}

// TemplateRef references a named template plus its render data
type TemplateRef struct {
	Name string         `json:"name"`
	To   []string       `json:"to"`
	Data map[string]any `json:"data,omitempty"`
}

// Payload is the tagged message-content variant carried by a queue item.
// Exactly one of Raw or Template is set, matching Kind.
type Payload struct {
	Kind     PayloadKind  `json:"kind"`
	Raw      *RawContent  `json:"raw,omitempty"`
	Template *TemplateRef `json:"template,omitempty"`
}

// Recipients returns the recipient list regardless of payload kind
func (p Payload) Recipients() []string {
	switch p.Kind {
	case PayloadRaw:
		if p.Raw != nil {
			return p.Raw.To
		}
	case PayloadTemplated:
		if p.Template != nil {
			return p.Template.To
		}
	}
	return nil
}

// SendResult records the transmitter outcome for a queue item
type SendResult struct {
	Success   bool      `json:"success"`
	MessageID string    `json:"message_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	SentAt    time.Time `json:"sent_at,omitempty"`
}

// Item is one pending, in-flight, or terminal send request
type Item struct {
	ID              string      `json:"id"`
	Payload         Payload     `json:"payload"`
	Priority        Priority    `json:"priority"`
	Status          Status      `json:"status"`
	Attempts        int         `json:"attempts"`
	MaxAttempts     int         `json:"max_attempts"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	ScheduledFor    time.Time   `json:"scheduled_for"`
	NextAttempt     time.Time   `json:"next_attempt"`
	DynamicPriority float64     `json:"dynamic_priority"`
	RecipientDomain string      `json:"recipient_domain,omitempty"`
	IdempotencyKey  string      `json:"idempotency_key,omitempty"`
	Tags            []string    `json:"tags,omitempty"`
	Result          *SendResult `json:"result,omitempty"`
	LastError       string      `json:"last_error,omitempty"`
}

// ExternalStatus maps the internal status to the caller-facing vocabulary
func (it *Item) ExternalStatus(now time.Time) ExternalStatus {
	switch it.Status {
	case StatusPending:
		if it.ScheduledFor.After(now) {
			return ExternalScheduled
		}
		return ExternalQueued
	case StatusProcessing:
		return ExternalSending
	case StatusCompleted:
		return ExternalSent
	case StatusCancelled:
		return ExternalCancelled
	default:
		return ExternalFailed
	}
}

// due reports whether the item is eligible for selection at now
func (it *Item) due(now time.Time) bool {
	if it.Status != StatusPending {
		return false
	}
	if it.ScheduledFor.After(now) {
		return false
	}
	if it.NextAttempt.After(now) {
		return false
	}
	return true
}

// extractDomain returns the lowercased domain of an email address,
// or empty string if the address has no usable domain part
func extractDomain(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at == -1 || at == len(addr)-1 {
		return ""
	}
	return strings.ToLower(addr[at+1:])
}

package fanout

import (
	"context"
	"encoding/json"
	"time"

	"github.com/luno/fate"
)

// EventStatus is the lifecycle state of a module event. It only moves
// pending → processing → {completed | pending (retry) | failed}. Once
// completed the event is permanently inert.
type EventStatus int

const (
	EventPending    EventStatus = 1
	EventProcessing EventStatus = 2
	EventCompleted  EventStatus = 3
	EventFailed     EventStatus = 4
)

func (s EventStatus) String() string {
	switch s {
	case EventPending:
		return "pending"
	case EventProcessing:
		return "processing"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Valid returns true if the status is one of the defined lifecycle states.
func (s EventStatus) Valid() bool {
	return s >= EventPending && s <= EventFailed
}

// Event is a durable module event row. It is created by any producer in the
// system (inside the producer's own transaction) and mutated exclusively by
// the Dispatcher.
type Event struct {
	ID           string
	TenantID     string
	Type         string
	EntityID     string
	Payload      json.RawMessage
	Status       EventStatus
	RetryCount   int
	MaxRetries   int
	ProcessedAt  *time.Time
	ErrorMessage string
	CreatedAt    time.Time
	Trace        []byte
}

// Subscription is a standing registration that a handler module wants to
// react to events matching a topic pattern. Subscriptions are maintained by
// system configuration and are read-only from the Dispatcher's perspective.
type Subscription struct {
	ID               string
	EventTypePattern string
	HandlerModule    string
	IsActive         bool
}

// DeliveryStatus is the outcome of a single handler invocation attempt.
type DeliveryStatus int

const (
	DeliverySuccess DeliveryStatus = 1
	DeliveryFailed  DeliveryStatus = 2
)

func (s DeliveryStatus) String() string {
	switch s {
	case DeliverySuccess:
		return "success"
	case DeliveryFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DeliveryEntry is one row of the append-only delivery log; one row per
// (event, subscription) attempt. Across retries multiple rows accumulate for
// the same pair. It is an audit trail, not deduplicated state.
type DeliveryEntry struct {
	ID             int64
	EventID        string
	SubscriptionID string
	TenantID       string
	Status         DeliveryStatus
	Response       string
	CreatedAt      time.Time
}

// Action classifies what a handler invocation did. It distinguishes real
// side effects from documented non-effects so that "no handler registered"
// and "registered but intentionally without effect" are inspectable results
// rather than ad hoc message strings.
type Action string

const (
	// ActionApplied indicates the handler performed its side effect.
	ActionApplied Action = "applied"

	// ActionSkipped indicates the handler ran but decided no effect was
	// required (ex. a non-customer return case).
	ActionSkipped Action = "skipped"

	// ActionNoop indicates no handler is registered for the (module, type)
	// pair. A subscription may exist purely for monitoring purposes, so a
	// router miss is a documented no-op, not an error.
	ActionNoop Action = "noop"

	// ActionAcknowledged indicates a registered placeholder handler that
	// deliberately has no effect yet.
	ActionAcknowledged Action = "acknowledged"
)

// HandlerResult is the structured result of a successful handler invocation.
// It is serialised as-is into the delivery log's response column.
type HandlerResult struct {
	// Action classifies the invocation outcome.
	Action Action `json:"action"`

	// Reference is the stable idempotency reference the side effects were
	// keyed on, if any. It is identical across retry passes of one event.
	Reference string `json:"reference,omitempty"`

	// Detail is a human readable summary for the delivery log.
	Detail string `json:"detail,omitempty"`
}

// EventStore provides lookup and lifecycle mutation of event rows. All
// mutations are scoped by the event's tenant id.
type EventStore interface {
	// Lookup returns the event or ErrEventNotFound.
	Lookup(ctx context.Context, eventID string) (*Event, error)

	// Claim transitions the event from pending to processing with a single
	// conditional update. It returns false without error if the event was
	// not in pending (already claimed, completed or failed).
	Claim(ctx context.Context, tenantID, eventID string) (bool, error)

	// FinalizeCompleted marks the event completed, sets processed_at and
	// clears any previous error message.
	FinalizeCompleted(ctx context.Context, ev *Event) error

	// ScheduleRetry returns the event to pending and increments retry_count,
	// making it eligible for another dispatch pass.
	ScheduleRetry(ctx context.Context, ev *Event) error

	// FinalizeFailed marks the event permanently failed with a summary of
	// the failed handlers.
	FinalizeFailed(ctx context.Context, ev *Event, summary string) error
}

// SubscriptionStore resolves the active subscriptions whose pattern matches
// an event topic, either exactly or via the topic's namespace wildcard.
type SubscriptionStore interface {
	ListMatching(ctx context.Context, eventType string) ([]Subscription, error)
}

// DeliveryLog appends per-attempt audit rows. Append only; the Dispatcher
// never reads it back during normal operation.
type DeliveryLog interface {
	Record(ctx context.Context, entry *DeliveryEntry) error
}

// Invoker executes the handler registered for a (module, event type) pair.
// A missing handler is not an error; it resolves to ActionNoop. Handler
// errors are returned to the caller for per-subscription isolation.
type Invoker interface {
	Invoke(ctx context.Context, f fate.Fate, module string, ev *Event) (HandlerResult, error)
}

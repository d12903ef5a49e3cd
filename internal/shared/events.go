package shared

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event names published to downstream consumers (notification, reputation,
// ledger). Delivery is fire-and-forget with at-least-once semantics.
const (
	EventFundsBlocked     = "escrow.funds_blocked"
	EventEscrowFragmented = "escrow.fragmented"
	EventEscrowRefunded   = "escrow.refunded"
	EventLaborReleased    = "escrow.labor_released"
	EventJetonGenerated   = "jeton.generated"
	EventJetonValidated   = "jeton.validated"
)

// Event is a domain event returned by use-case services. Aggregates never
// publish; the orchestrating layer hands events to a Publisher after the
// transaction commits.
type Event struct {
	Name       string
	OccurredAt time.Time
	EscrowID   uuid.UUID
	JetonID    uuid.UUID
	UserID     uuid.UUID
	Amount     Money
	Meta       map[string]string
}

// NewEvent builds an event stamped with the current time.
func NewEvent(name string) Event {
	return Event{Name: name, OccurredAt: time.Now(), Meta: map[string]string{}}
}

// Publisher delivers domain events to the bus. Implementations must tolerate
// duplicate publishes.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// NopPublisher discards events; used in tests and tooling.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, ...Event) error { return nil }

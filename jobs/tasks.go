package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/prosartisan/prosartisan/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueEvents carries domain event fan-out.
	QueueEvents = "events"

	// TaskTypeDomainEvent is the task type wrapping a published domain event.
	TaskTypeDomainEvent = "event:dispatch"
	// TaskTypeJetonExpirySweep marks overdue jetons expired.
	TaskTypeJetonExpirySweep = "jeton:expiry_sweep"
	// TaskTypeReconcilePending polls the providers for stale pending
	// transactions.
	TaskTypeReconcilePending = "ledger:reconcile_pending"
)

// DomainEventPayload is the serialized form of a published domain event.
type DomainEventPayload struct {
	Name       string            `json:"name"`
	OccurredAt time.Time         `json:"occurred_at"`
	EscrowID   string            `json:"escrow_id,omitempty"`
	JetonID    string            `json:"jeton_id,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	Amount     int64             `json:"amount_centimes"`
	Currency   string            `json:"currency,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// NewDomainEventTask constructs an Asynq task from a domain event.
func NewDomainEventTask(ev shared.Event) (*asynq.Task, error) {
	payload := DomainEventPayload{
		Name:       ev.Name,
		OccurredAt: ev.OccurredAt,
		Amount:     ev.Amount.Amount,
		Currency:   ev.Amount.Currency,
		Meta:       ev.Meta,
	}
	if ev.EscrowID != uuid.Nil {
		payload.EscrowID = ev.EscrowID.String()
	}
	if ev.JetonID != uuid.Nil {
		payload.JetonID = ev.JetonID.String()
	}
	if ev.UserID != uuid.Nil {
		payload.UserID = ev.UserID.String()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeDomainEvent, data), nil
}

// NewJetonExpirySweepTask constructs the hourly expiry sweep task.
func NewJetonExpirySweepTask() *asynq.Task {
	return asynq.NewTask(TaskTypeJetonExpirySweep, nil)
}

// NewReconcilePendingTask constructs the pending-transaction poll task.
func NewReconcilePendingTask() *asynq.Task {
	return asynq.NewTask(TaskTypeReconcilePending, nil)
}

package jobs

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/prosartisan/prosartisan/internal/shared"
)

// Publisher delivers domain events onto the asynq bus. Downstream consumers
// (notification, reputation, ledger subscribers) pick them up from the
// events queue with at-least-once delivery.
type Publisher struct {
	client *asynq.Client
}

// NewPublisher wraps an asynq client as a shared.Publisher.
func NewPublisher(redisOpts asynq.RedisClientOpt) *Publisher {
	return &Publisher{client: asynq.NewClient(redisOpts)}
}

// Publish implements shared.Publisher.
func (p *Publisher) Publish(ctx context.Context, events ...shared.Event) error {
	for _, ev := range events {
		task, err := NewDomainEventTask(ev)
		if err != nil {
			return fmt.Errorf("jobs: encode event %s: %w", ev.Name, err)
		}
		if _, err := p.client.EnqueueContext(ctx, task, asynq.Queue(QueueEvents)); err != nil {
			return fmt.Errorf("jobs: enqueue event %s: %w", ev.Name, err)
		}
	}
	return nil
}

// Close releases client resources.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// README: Lifecycle events emitted after confirmed remote writes.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"courier/internal/modules/order"
	"courier/internal/types"
)

type EventType string

const (
	EventStepChanged EventType = "order.step_changed"
	EventDelivered   EventType = "order.delivered"
	EventCancelled   EventType = "order.cancelled"
)

type Event struct {
	ID         string     `json:"id"`
	Type       EventType  `json:"type"`
	OrderID    types.ID   `json:"order_id"`
	DriverID   types.ID   `json:"driver_id"`
	Step       order.Step `json:"step,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}

type messagePublisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// MessagePublisher encodes events as JSON and sends them keyed by order id.
type MessagePublisher struct {
	client messagePublisher
	topic  string
}

func NewMessagePublisher(client messagePublisher, topic string) *MessagePublisher {
	return &MessagePublisher{client: client, topic: topic}
}

func (p *MessagePublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.client.Publish(ctx, p.topic, string(e.OrderID), payload)
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, Event) error { return nil }

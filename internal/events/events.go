// Package events announces committed order changes to other services.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/smartpick/internal/domain/order"
)

// Event types.
const (
	TypeOrderPlaced        = "order.placed"
	TypeOrderStatusChanged = "order.status_changed"
)

// DefaultTopic is the Kafka topic order events are written to.
const DefaultTopic = "smartpick.orders"

// Event is the JSON payload of every message.
type Event struct {
	Type           string       `json:"type"`
	OrderID        string       `json:"orderId"`
	UserID         string       `json:"userId"`
	Status         order.Status `json:"status"`
	PreviousStatus order.Status `json:"previousStatus,omitempty"`
	TrackingID     string       `json:"trackingId,omitempty"`
	OccurredAt     time.Time    `json:"occurredAt"`
	Order          *order.Order `json:"order,omitempty"`
}

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ order.Notifier = (*Publisher)(nil)

// Publisher writes order events keyed by order id, so all events of one
// order stay in one partition. Failures are logged and never reach the
// caller.
type Publisher struct {
	w       MessageWriter
	timeout time.Duration
	now     func() time.Time
}

// NewPublisher returns a Publisher on w.
func NewPublisher(w MessageWriter) *Publisher {
	return &Publisher{w: w, timeout: 5 * time.Second, now: time.Now}
}

// NewKafkaWriter returns an asynchronous writer for topic. Delivery errors
// are logged by lg.
func NewKafkaWriter(brokers []string, topic string, lg *zap.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				lg.Warn("Order events not delivered", zap.Int("count", len(messages)), zap.Error(err))
			}
		},
	}
}

// OrderPlaced publishes TypeOrderPlaced with the full order.
func (p *Publisher) OrderPlaced(ctx context.Context, o *order.Order) {
	p.publish(ctx, Event{
		Type:       TypeOrderPlaced,
		OrderID:    o.ID,
		UserID:     o.UserID,
		Status:     o.Status,
		OccurredAt: o.OrderDate,
		Order:      o,
	})
}

// StatusChanged publishes TypeOrderStatusChanged.
func (p *Publisher) StatusChanged(ctx context.Context, o *order.Order, from order.Status) {
	p.publish(ctx, Event{
		Type:           TypeOrderStatusChanged,
		OrderID:        o.ID,
		UserID:         o.UserID,
		Status:         o.Status,
		PreviousStatus: from,
		TrackingID:     o.TrackingID,
		OccurredAt:     o.UpdatedAt,
	})
}

// Close flushes pending messages.
func (p *Publisher) Close() error {
	return p.w.Close()
}

func (p *Publisher) publish(ctx context.Context, e Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = p.now().UTC()
	}
	if err := p.write(ctx, e); err != nil {
		zctx.From(ctx).Warn("Publish order event",
			zap.String("type", e.Type),
			zap.String("order_id", e.OrderID),
			zap.Error(err),
		)
	}
}

func (p *Publisher) write(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	err = p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.OrderID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	})
	if err != nil {
		return errors.Wrap(err, "write message")
	}
	return nil
}

// Nop discards all events.
type Nop struct{}

var _ order.Notifier = Nop{}

func (Nop) OrderPlaced(context.Context, *order.Order)                 {}
func (Nop) StatusChanged(context.Context, *order.Order, order.Status) {}

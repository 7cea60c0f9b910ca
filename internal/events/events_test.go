package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xenking/smartpick/internal/domain/order"
)

type mockWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (m *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msgs...)
	return nil
}

func (m *mockWriter) Close() error {
	m.closed = true
	return nil
}

func testOrder() *order.Order {
	t0 := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	return &order.Order{
		ID:        "ORD-1",
		UserID:    "u1",
		Status:    order.StatusConfirmed,
		OrderDate: t0,
		UpdatedAt: t0,
	}
}

func TestOrderPlaced(t *testing.T) {
	w := &mockWriter{}
	p := NewPublisher(w)

	p.OrderPlaced(context.Background(), testOrder())

	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, "ORD-1", string(msg.Key))
	assert.Equal(t, []kafka.Header{{Key: "event_type", Value: []byte(TypeOrderPlaced)}}, msg.Headers)

	var e Event
	require.NoError(t, json.Unmarshal(msg.Value, &e))
	assert.Equal(t, TypeOrderPlaced, e.Type)
	assert.Equal(t, "u1", e.UserID)
	require.NotNil(t, e.Order)
	assert.Equal(t, "ORD-1", e.Order.ID)
}

func TestStatusChanged(t *testing.T) {
	w := &mockWriter{}
	p := NewPublisher(w)
	o := testOrder()
	o.Status = order.StatusShipped
	o.TrackingID = "TRK1"

	p.StatusChanged(context.Background(), o, order.StatusProcessing)

	require.Len(t, w.messages, 1)
	var e Event
	require.NoError(t, json.Unmarshal(w.messages[0].Value, &e))
	assert.Equal(t, TypeOrderStatusChanged, e.Type)
	assert.Equal(t, order.StatusShipped, e.Status)
	assert.Equal(t, order.StatusProcessing, e.PreviousStatus)
	assert.Equal(t, "TRK1", e.TrackingID)
	assert.Nil(t, e.Order)
}

func TestPublishFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	ctx := zctx.Base(context.Background(), zap.New(core))
	w := &mockWriter{err: errors.New("broker down")}

	NewPublisher(w).OrderPlaced(ctx, testOrder())

	entries := logs.FilterMessage("Publish order event").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "ORD-1", entries[0].ContextMap()["order_id"])
}

func TestClose(t *testing.T) {
	w := &mockWriter{}
	require.NoError(t, NewPublisher(w).Close())
	assert.True(t, w.closed)
}

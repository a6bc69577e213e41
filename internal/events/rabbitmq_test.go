package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	declared   []string
	published  []published
	declareErr error
	publishErr error
	closed     bool
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	if f.declareErr != nil {
		return f.declareErr
	}
	f.declared = append(f.declared, name+":"+kind)
	return nil
}

func (f *fakeChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestRabbitPublisher_Publish(t *testing.T) {
	ch := &fakeChannel{}
	p, err := newRabbitPublisher(ch, "orders.events")
	require.NoError(t, err)
	p.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

	require.Equal(t, []string{"orders.events:topic"}, ch.declared)

	err = p.Publish(context.Background(), Event{Type: OrderCreated, OrderID: 12, UserID: 3, Status: "pending", TotalAmount: "100"})
	require.NoError(t, err)
	require.Len(t, ch.published, 1)

	got := ch.published[0]
	assert.Equal(t, "orders.events", got.exchange)
	assert.Equal(t, "order.created", got.key)
	assert.Equal(t, uint8(amqp.Persistent), got.msg.DeliveryMode)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.NotEmpty(t, got.msg.MessageId)

	var ev Event
	require.NoError(t, json.Unmarshal(got.msg.Body, &ev))
	assert.Equal(t, got.msg.MessageId, ev.ID)
	assert.Equal(t, int64(12), ev.OrderID)
	assert.Equal(t, "100", ev.TotalAmount)
	assert.True(t, ev.OccurredAt.Equal(p.now()))
}

func TestRabbitPublisher_Errors(t *testing.T) {
	_, err := newRabbitPublisher(&fakeChannel{declareErr: errors.New("access refused")}, "x")
	assert.Error(t, err)

	ch := &fakeChannel{publishErr: errors.New("channel closed")}
	p, err := newRabbitPublisher(ch, "x")
	require.NoError(t, err)
	assert.Error(t, p.Publish(context.Background(), Event{Type: OrderCancelled}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, Event{Type: OrderCancelled}), context.Canceled)
}

func TestRabbitPublisher_Close(t *testing.T) {
	ch := &fakeChannel{}
	p, err := newRabbitPublisher(ch, "x")
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
	assert.NoError(t, p.Close())
	assert.ErrorIs(t, p.Publish(context.Background(), Event{Type: OrderCreated}), ErrClosed)
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), Event{Type: OrderCreated}))
}

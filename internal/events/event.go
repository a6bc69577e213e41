package events

import (
	"context"
	"time"
)

type Type string

const (
	OrderCreated       Type = "order.created"
	OrderStatusChanged Type = "order.status_changed"
	OrderCancelled     Type = "order.cancelled"
)

// Event describes a committed change to an order.
type Event struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	OrderID     int64     `json:"order_id"`
	UserID      int       `json:"user_id"`
	Status      string    `json:"status"`
	TotalAmount string    `json:"total_amount,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Publisher delivers order events. Callers treat delivery as best effort.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

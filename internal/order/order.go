package order

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// Statuses lists every valid status in lifecycle order.
var Statuses = []Status{
	StatusPending,
	StatusConfirmed,
	StatusProcessing,
	StatusShipped,
	StatusDelivered,
	StatusCancelled,
}

var transitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped},
	StatusShipped:    {StatusDelivered},
}

// cancellable are the states an owner may cancel from.
var cancellable = []Status{StatusPending, StatusConfirmed}

func (s Status) IsValid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CanTransitionTo reports whether next directly follows s.
func (s Status) CanTransitionTo(next Status) bool {
	for _, v := range transitions[s] {
		if v == next {
			return true
		}
	}
	return false
}

// AllowedFrom returns the states from which next may be reached.
func AllowedFrom(next Status) []Status {
	from := make([]Status, 0, 2)
	for _, s := range Statuses {
		if s.CanTransitionTo(next) {
			from = append(from, s)
		}
	}
	return from
}

func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return s, nil
}

var (
	ErrEmptyOrder     = errors.New("order must contain at least one item")
	ErrInvalidItem    = errors.New("invalid order item")
	ErrInvalidStatus  = errors.New("invalid order status")
	ErrInvalidAddress = errors.New("invalid shipping address")
	ErrNotFound       = errors.New("order not found")
	ErrCannotCancel   = errors.New("order not found or cannot be cancelled")
	ErrPersistence    = errors.New("order persistence failed")
)

// TransitionError is returned when an order exists but its current status
// does not permit the requested move.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot change order status from %s to %s", e.From, e.To)
}

// Order is a purchase with its line items. TotalAmount is fixed at creation.
type Order struct {
	ID              int64           `json:"id"`
	UserID          int             `json:"user_id"`
	Status          Status          `json:"status"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	ShippingAddress json.RawMessage `json:"shipping_address"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Items           []Item          `json:"items"`
}

// Item is an order line. ProductName and Price are copied from the catalog
// when the order is created and never change afterwards. Price is the
// catalog price rounded half away from zero to two decimals, the precision
// of the price column, so the stored lines sum exactly to the order total.
type Item struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"order_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	CreatedAt   time.Time       `json:"created_at"`
}

// LineTotal is price × quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Total sums the line totals of items.
func Total(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal())
	}
	return total
}

// ListFilter selects a page of a user's orders.
type ListFilter struct {
	Page   int
	Limit  int
	Status Status
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

func (f ListFilter) normalize() ListFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	return f
}

func (f ListFilter) offset() int {
	return (f.Page - 1) * f.Limit
}

// Page is one page of orders plus the total matching count.
type Page struct {
	Orders []Order
	Page   int
	Limit  int
	Total  int
}

func (p Page) TotalPages() int {
	if p.Limit <= 0 {
		return 0
	}
	return (p.Total + p.Limit - 1) / p.Limit
}

package order

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Repository persists orders. Every read and write is scoped by owner.
type Repository interface {
	// Create stores the order and all of its items atomically and returns
	// them with ids and timestamps assigned.
	Create(ctx context.Context, ord Order) (Order, error)
	ListByUser(ctx context.Context, userID int, f ListFilter) ([]Order, int, error)
	GetByID(ctx context.Context, userID int, id int64) (Order, error)
	// UpdateStatus moves the order to status when its current status is in
	// allowedFrom. It returns ErrNotFound when the owner has no such order
	// and *TransitionError when the current status is not allowed.
	UpdateStatus(ctx context.Context, userID int, id int64, status Status, allowedFrom []Status) (Order, error)
}

// InMemoryRepository is a Repository backed by a map, used in tests and
// local runs without a database.
type InMemoryRepository struct {
	mu         sync.RWMutex
	orders     map[int64]Order
	nextID     int64
	nextItemID int64
	now        func() time.Time
}

var _ Repository = (*InMemoryRepository)(nil)

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{orders: make(map[int64]Order), now: time.Now}
}

func (r *InMemoryRepository) Create(ctx context.Context, ord Order) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	r.nextID++
	ord.ID = r.nextID
	ord.CreatedAt = now
	ord.UpdatedAt = now

	items := make([]Item, len(ord.Items))
	for i, it := range ord.Items {
		r.nextItemID++
		it.ID = r.nextItemID
		it.OrderID = ord.ID
		it.CreatedAt = now
		items[i] = it
	}
	ord.Items = items

	r.orders[ord.ID] = ord
	return clone(ord), nil
}

func (r *InMemoryRepository) ListByUser(ctx context.Context, userID int, f ListFilter) ([]Order, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	f = f.normalize()

	r.mu.RLock()
	matched := make([]Order, 0)
	for _, o := range r.orders {
		if o.UserID != userID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		matched = append(matched, clone(o))
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := f.offset()
	if start > total {
		start = total
	}
	end := start + f.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r *InMemoryRepository) GetByID(ctx context.Context, userID int, id int64) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok || o.UserID != userID {
		return Order{}, ErrNotFound
	}
	return clone(o), nil
}

func (r *InMemoryRepository) UpdateStatus(ctx context.Context, userID int, id int64, status Status, allowedFrom []Status) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok || o.UserID != userID {
		return Order{}, ErrNotFound
	}
	if !containsStatus(allowedFrom, o.Status) {
		return Order{}, &TransitionError{From: o.Status, To: status}
	}

	o.Status = status
	o.UpdatedAt = r.now().UTC()
	r.orders[id] = o
	return clone(o), nil
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func clone(o Order) Order {
	o.Items = append([]Item(nil), o.Items...)
	if o.ShippingAddress != nil {
		o.ShippingAddress = append([]byte(nil), o.ShippingAddress...)
	}
	return o
}

package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/wichananm65/shop-order-platform/internal/events"
	"github.com/wichananm65/shop-order-platform/internal/product"
)

const (
	DefaultLookupTimeout     = 5 * time.Second
	DefaultLookupConcurrency = 4
)

// ItemInput is one requested order line.
type ItemInput struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// CreateInput is the payload of an order creation request.
type CreateInput struct {
	Items           []ItemInput     `json:"items"`
	ShippingAddress json.RawMessage `json:"shippingAddress"`
}

type Option func(*Service)

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithLookupTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.lookupTimeout = d
		}
	}
}

// WithLookupConcurrency bounds the product lookups in flight per order.
// A limit of 1 validates strictly in input order.
func WithLookupConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithStrictTransitions turns on enforcement of the status transition
// table. By default any valid status may follow any other.
func WithStrictTransitions(strict bool) Option {
	return func(s *Service) { s.strict = strict }
}

func WithCounters(created, lookupFailures prometheus.Counter) Option {
	return func(s *Service) {
		s.created = created
		s.lookupFailures = lookupFailures
	}
}

// Service is the order orchestrator. It validates lines against the
// product catalog, snapshots prices and persists the result.
type Service struct {
	repo      Repository
	products  product.Lookup
	publisher events.Publisher
	logger    *slog.Logger

	lookupTimeout time.Duration
	concurrency   int
	strict        bool

	created        prometheus.Counter
	lookupFailures prometheus.Counter
}

func NewService(repo Repository, products product.Lookup, opts ...Option) *Service {
	s := &Service{
		repo:          repo,
		products:      products,
		publisher:     events.Nop{},
		logger:        slog.Default(),
		lookupTimeout: DefaultLookupTimeout,
		concurrency:   DefaultLookupConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates every line, prices it from the catalog and stores the
// order with status pending. Nothing is stored unless every line is valid.
func (s *Service) Create(ctx context.Context, userID int, in CreateInput) (Order, error) {
	if len(in.Items) == 0 {
		return Order{}, ErrEmptyOrder
	}
	for i, it := range in.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			return Order{}, fmt.Errorf("%w: item %d has no productId", ErrInvalidItem, i)
		}
		if it.Quantity <= 0 {
			return Order{}, fmt.Errorf("%w: item %d quantity must be positive", ErrInvalidItem, i)
		}
	}
	if len(in.ShippingAddress) > 0 && !json.Valid(in.ShippingAddress) {
		return Order{}, ErrInvalidAddress
	}

	catalog, err := s.lookupProducts(ctx, in.Items)
	if err != nil {
		if s.lookupFailures != nil {
			s.lookupFailures.Inc()
		}
		return Order{}, err
	}

	items := make([]Item, len(in.Items))
	for i, it := range in.Items {
		p := catalog[it.ProductID]
		items[i] = Item{
			ProductID:   it.ProductID,
			ProductName: p.Name,
			Quantity:    it.Quantity,
			Price:       p.Price.Round(2),
		}
	}

	created, err := s.repo.Create(ctx, Order{
		UserID:          userID,
		Status:          StatusPending,
		TotalAmount:     Total(items),
		ShippingAddress: in.ShippingAddress,
		Items:           items,
	})
	if err != nil {
		return Order{}, s.persistenceError("create order", err, "user_id", userID)
	}

	if s.created != nil {
		s.created.Inc()
	}
	s.publish(ctx, events.OrderCreated, created)
	return created, nil
}

// lookupProducts fetches each distinct product once, with at most
// s.concurrency calls in flight. A failure cancels only the lookups that
// come after it in input order, so the reported product is always the
// earliest failing one.
func (s *Service) lookupProducts(ctx context.Context, items []ItemInput) (map[string]product.Product, error) {
	ids := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if _, ok := seen[it.ProductID]; ok {
			continue
		}
		seen[it.ProductID] = struct{}{}
		ids = append(ids, it.ProductID)
	}

	var (
		mu        sync.Mutex
		results   = make([]product.Product, len(ids))
		errs      = make([]error, len(ids))
		cancels   = make([]context.CancelFunc, len(ids))
		firstFail = len(ids)
	)
	fail := func(i int, err error) {
		mu.Lock()
		defer mu.Unlock()
		errs[i] = err
		if i >= firstFail {
			return
		}
		firstFail = i
		for j := i + 1; j < len(cancels); j++ {
			if cancels[j] != nil {
				cancels[j]()
			}
		}
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			lctx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
			defer cancel()

			mu.Lock()
			if firstFail < i {
				mu.Unlock()
				return nil
			}
			cancels[i] = cancel
			mu.Unlock()

			if err := ctx.Err(); err != nil {
				fail(i, &product.NotFoundError{ProductID: id, Err: err})
				return nil
			}

			p, err := s.products.Fetch(lctx, id)
			if err != nil {
				var nf *product.NotFoundError
				if !errors.As(err, &nf) {
					err = &product.NotFoundError{ProductID: id, Err: err}
				}
				fail(i, err)
				return nil
			}
			results[i] = p
			return nil
		})
	}
	_ = g.Wait()

	if firstFail < len(ids) {
		err := errs[firstFail]
		s.logger.Info("product validation failed", "error", err)
		return nil, err
	}

	found := make(map[string]product.Product, len(ids))
	for i, id := range ids {
		found[id] = results[i]
	}
	return found, nil
}

func (s *Service) List(ctx context.Context, userID int, f ListFilter) (Page, error) {
	if f.Status != "" && !f.Status.IsValid() {
		return Page{}, fmt.Errorf("%w: %q", ErrInvalidStatus, f.Status)
	}
	f = f.normalize()

	orders, total, err := s.repo.ListByUser(ctx, userID, f)
	if err != nil {
		return Page{}, s.persistenceError("list orders", err, "user_id", userID)
	}
	return Page{Orders: orders, Page: f.Page, Limit: f.Limit, Total: total}, nil
}

// Get returns the order only when userID owns it. A foreign order is
// reported exactly like a missing one.
func (s *Service) Get(ctx context.Context, userID int, id int64) (Order, error) {
	o, err := s.repo.GetByID(ctx, userID, id)
	if errors.Is(err, ErrNotFound) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, s.persistenceError("get order", err, "user_id", userID, "order_id", id)
	}
	return o, nil
}

func (s *Service) UpdateStatus(ctx context.Context, userID int, id int64, raw string) (Order, error) {
	next, err := ParseStatus(raw)
	if err != nil {
		return Order{}, err
	}

	allowed := Statuses
	if s.strict {
		allowed = AllowedFrom(next)
	}

	o, err := s.repo.UpdateStatus(ctx, userID, id, next, allowed)
	if err != nil {
		var te *TransitionError
		switch {
		case errors.Is(err, ErrNotFound):
			return Order{}, ErrNotFound
		case errors.As(err, &te):
			return Order{}, te
		default:
			return Order{}, s.persistenceError("update order status", err, "user_id", userID, "order_id", id)
		}
	}

	evType := events.OrderStatusChanged
	if next == StatusCancelled {
		evType = events.OrderCancelled
	}
	s.publish(ctx, evType, o)
	return o, nil
}

// Cancel moves a pending or confirmed order to cancelled. Any other state,
// a missing order and a foreign order all yield ErrCannotCancel.
func (s *Service) Cancel(ctx context.Context, userID int, id int64) (Order, error) {
	o, err := s.repo.UpdateStatus(ctx, userID, id, StatusCancelled, cancellable)
	if err != nil {
		var te *TransitionError
		if errors.Is(err, ErrNotFound) || errors.As(err, &te) {
			return Order{}, ErrCannotCancel
		}
		return Order{}, s.persistenceError("cancel order", err, "user_id", userID, "order_id", id)
	}

	s.publish(ctx, events.OrderCancelled, o)
	return o, nil
}

// publish runs after the write has committed. Failures are logged only.
func (s *Service) publish(ctx context.Context, t events.Type, o Order) {
	err := s.publisher.Publish(context.WithoutCancel(ctx), events.Event{
		Type:        t,
		OrderID:     o.ID,
		UserID:      o.UserID,
		Status:      string(o.Status),
		TotalAmount: o.TotalAmount.StringFixed(2),
	})
	if err != nil {
		s.logger.Warn("order event not published", "type", t, "order_id", o.ID, "error", err)
	}
}

func (s *Service) persistenceError(op string, err error, attrs ...any) error {
	s.logger.Error(op+" failed", append(attrs, "error", err)...)
	return fmt.Errorf("%w: %s", ErrPersistence, op)
}

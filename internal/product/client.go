package product

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

const DefaultTimeout = 5 * time.Second

// Product is the subset of the catalog entry an order snapshots.
type Product struct {
	ID    string
	Name  string
	Price decimal.Decimal
}

// NotFoundError reports that a product could not be validated. The
// catalog's contract folds missing products, malformed ids and lookup
// failures into this one outcome.
type NotFoundError struct {
	ProductID string
	// Status is the upstream HTTP status, zero for transport failures.
	Status int
	Err    error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// Lookup fetches authoritative product data by id.
type Lookup interface {
	Fetch(ctx context.Context, id string) (Product, error)
}

// Client calls GET <baseURL>/products/:id on the product service.
type Client struct {
	baseURL string
	timeout time.Duration
}

var _ Lookup = (*Client)(nil)

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), timeout: timeout}
}

type productResponse struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// Fetch returns the product or a *NotFoundError. The call is bounded by
// the client timeout and by any deadline on ctx, whichever is sooner.
func (c *Client) Fetch(ctx context.Context, id string) (Product, error) {
	if strings.TrimSpace(id) == "" {
		return Product{}, &NotFoundError{ProductID: id, Err: errors.New("empty product id")}
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return Product{}, &NotFoundError{ProductID: id, Err: context.DeadlineExceeded}
	}

	type result struct {
		status int
		body   []byte
		err    error
	}
	done := make(chan result, 1)

	go func() {
		a := fiber.Get(c.baseURL + "/products/" + url.PathEscape(id))
		a.Timeout(timeout)
		a.Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)
		if err := a.Parse(); err != nil {
			done <- result{err: err}
			return
		}
		status, body, errs := a.Bytes()
		done <- result{status: status, body: body, err: errors.Join(errs...)}
	}()

	select {
	case <-ctx.Done():
		return Product{}, &NotFoundError{ProductID: id, Err: ctx.Err()}
	case r := <-done:
		if r.err != nil {
			return Product{}, &NotFoundError{ProductID: id, Err: r.err}
		}
		if r.status < 200 || r.status > 299 {
			return Product{}, &NotFoundError{ProductID: id, Status: r.status, Err: fmt.Errorf("upstream status %d", r.status)}
		}

		var resp productResponse
		if err := json.Unmarshal(r.body, &resp); err != nil {
			return Product{}, &NotFoundError{ProductID: id, Status: r.status, Err: fmt.Errorf("decode product: %w", err)}
		}
		if resp.Price.IsNegative() {
			return Product{}, &NotFoundError{ProductID: id, Status: r.status, Err: errors.New("negative price")}
		}
		return Product{ID: id, Name: resp.Name, Price: resp.Price}, nil
	}
}

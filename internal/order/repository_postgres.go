package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id SERIAL PRIMARY KEY,
		user_id INT NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending','confirmed','processing','shipped','delivered','cancelled')),
		total_amount NUMERIC(10,2) NOT NULL,
		shipping_address JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id SERIAL PRIMARY KEY,
		order_id INT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		product_id VARCHAR(64) NOT NULL,
		product_name VARCHAR(255) NOT NULL,
		quantity INT NOT NULL CHECK (quantity > 0),
		price NUMERIC(10,2) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user_created ON orders (user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items (order_id)`,
}

const (
	orderColumns = `id, user_id, status, total_amount, shipping_address, created_at, updated_at`
	itemColumns  = `id, order_id, product_id, product_name, quantity, price, created_at`

	insertOrderQuery = `INSERT INTO orders (user_id, status, total_amount, shipping_address)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	insertItemQuery = `INSERT INTO order_items (order_id, product_id, product_name, quantity, price)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	countOrdersQuery         = `SELECT COUNT(*) FROM orders WHERE user_id = $1`
	countOrdersByStatusQuery = `SELECT COUNT(*) FROM orders WHERE user_id = $1 AND status = $2`

	listOrdersQuery = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	listOrdersByStatusQuery = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1 AND status = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`

	getOrderQuery = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 AND user_id = $2`

	itemsByOrdersQuery = `SELECT ` + itemColumns + ` FROM order_items
		WHERE order_id = ANY($1::int[])
		ORDER BY order_id, id`

	updateStatusQuery = `UPDATE orders SET status = $1, updated_at = NOW()
		WHERE id = $2 AND user_id = $3 AND status = ANY($4::text[])
		RETURNING ` + orderColumns

	currentStatusQuery = `SELECT status FROM orders WHERE id = $1 AND user_id = $2`
)

// EnsureSchema creates the order tables and indexes if they are missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure order schema: %w", err)
		}
	}
	return nil
}

type PostgresRepository struct {
	db *sql.DB
}

var _ Repository = (*PostgresRepository)(nil)

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts the order row and one row per item in a single
// transaction. Any failure rolls the whole order back.
func (r *PostgresRepository) Create(ctx context.Context, ord Order) (Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Order{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var address interface{}
	if len(ord.ShippingAddress) > 0 {
		address = []byte(ord.ShippingAddress)
	}

	err = tx.QueryRowContext(ctx, insertOrderQuery, ord.UserID, ord.Status, ord.TotalAmount, address).
		Scan(&ord.ID, &ord.CreatedAt, &ord.UpdatedAt)
	if err != nil {
		return Order{}, fmt.Errorf("insert order: %w", err)
	}

	items := make([]Item, len(ord.Items))
	for i, it := range ord.Items {
		it.OrderID = ord.ID
		err := tx.QueryRowContext(ctx, insertItemQuery, ord.ID, it.ProductID, it.ProductName, it.Quantity, it.Price).
			Scan(&it.ID, &it.CreatedAt)
		if err != nil {
			return Order{}, fmt.Errorf("insert item %s: %w", it.ProductID, err)
		}
		items[i] = it
	}
	ord.Items = items

	if err := tx.Commit(); err != nil {
		return Order{}, fmt.Errorf("commit: %w", err)
	}
	return ord, nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID int, f ListFilter) ([]Order, int, error) {
	f = f.normalize()

	var total int
	var rows *sql.Rows
	var err error
	if f.Status != "" {
		err = r.db.QueryRowContext(ctx, countOrdersByStatusQuery, userID, f.Status).Scan(&total)
		if err == nil {
			rows, err = r.db.QueryContext(ctx, listOrdersByStatusQuery, userID, f.Status, f.Limit, f.offset())
		}
	} else {
		err = r.db.QueryRowContext(ctx, countOrdersQuery, userID).Scan(&total)
		if err == nil {
			rows, err = r.db.QueryContext(ctx, listOrdersQuery, userID, f.Limit, f.offset())
		}
	}
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	orders := make([]Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	if err := r.attachItems(ctx, orders); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, userID int, id int64) (Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, getOrderQuery, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}

	orders := []Order{o}
	if err := r.attachItems(ctx, orders); err != nil {
		return Order{}, err
	}
	return orders[0], nil
}

// UpdateStatus applies the change with one conditional UPDATE. When no row
// matches it reads the current status to tell a missing order from a
// disallowed transition.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, userID int, id int64, status Status, allowedFrom []Status) (Order, error) {
	from := make([]string, len(allowedFrom))
	for i, s := range allowedFrom {
		from[i] = string(s)
	}

	o, err := scanOrder(r.db.QueryRowContext(ctx, updateStatusQuery, status, id, userID, pq.Array(from)))
	if errors.Is(err, sql.ErrNoRows) {
		var current Status
		err := r.db.QueryRowContext(ctx, currentStatusQuery, id, userID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		if err != nil {
			return Order{}, err
		}
		return Order{}, &TransitionError{From: current, To: status}
	}
	if err != nil {
		return Order{}, err
	}

	orders := []Order{o}
	if err := r.attachItems(ctx, orders); err != nil {
		return Order{}, err
	}
	return orders[0], nil
}

// attachItems loads the items of every order in one query.
func (r *PostgresRepository) attachItems(ctx context.Context, orders []Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]int64, len(orders))
	index := make(map[int64]int, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		index[orders[i].ID] = i
		orders[i].Items = []Item{}
	}

	rows, err := r.db.QueryContext(ctx, itemsByOrdersQuery, pq.Array(ids))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Quantity, &it.Price, &it.CreatedAt); err != nil {
			return err
		}
		if i, ok := index[it.OrderID]; ok {
			orders[i].Items = append(orders[i].Items, it)
		}
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (Order, error) {
	var o Order
	var address []byte
	if err := row.Scan(&o.ID, &o.UserID, &o.Status, &o.TotalAmount, &address, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return Order{}, err
	}
	if len(address) > 0 {
		o.ShippingAddress = address
	}
	return o, nil
}

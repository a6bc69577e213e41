package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
)

var orderRowColumns = []string{"id", "user_id", "status", "total_amount", "shipping_address", "created_at", "updated_at"}
var itemRowColumns = []string{"id", "order_id", "product_id", "product_name", "quantity", "price", "created_at"}

func newMockRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(db), mock
}

func TestEnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock error: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS orders").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS order_items").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_orders_user_created").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_order_items_order").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreate_CommitsOrderAndItems(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO orders").
		WithArgs(7, "pending", "100", []byte(`{"city":"Bangkok"}`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(11, now, now))
	mock.ExpectQuery("INSERT INTO order_items").
		WithArgs(11, "p1", "Chew Toy", 2, "50").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(21, now))
	mock.ExpectCommit()

	items := []Item{{ProductID: "p1", ProductName: "Chew Toy", Quantity: 2, Price: decimal.RequireFromString("50")}}
	got, err := repo.Create(context.Background(), Order{
		UserID:          7,
		Status:          StatusPending,
		TotalAmount:     Total(items),
		ShippingAddress: []byte(`{"city":"Bangkok"}`),
		Items:           items,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got.ID != 11 || len(got.Items) != 1 || got.Items[0].ID != 21 || got.Items[0].OrderID != 11 {
		t.Fatalf("unexpected order %+v", got)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("created_at not taken from RETURNING: %v", got.CreatedAt)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreate_RollsBackOnItemFailure(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO orders").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(5, now, now))
	mock.ExpectQuery("INSERT INTO order_items").
		WithArgs(5, "p1", "A", 1, "1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, now))
	mock.ExpectQuery("INSERT INTO order_items").
		WithArgs(5, "p2", "B", 1, "2").
		WillReturnError(errors.New("violates check constraint"))
	mock.ExpectRollback()

	_, err := repo.Create(context.Background(), Order{
		UserID: 1,
		Status: StatusPending,
		Items: []Item{
			{ProductID: "p1", ProductName: "A", Quantity: 1, Price: decimal.NewFromInt(1)},
			{ProductID: "p2", ProductName: "B", Quantity: 1, Price: decimal.NewFromInt(2)},
		},
	})
	if err == nil {
		t.Fatal("expected error")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestListByUser_AttachesItems(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery("SELECT COUNT").WithArgs(7, "pending").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectQuery("FROM orders").WithArgs(7, "pending", 5, 5).
		WillReturnRows(sqlmock.NewRows(orderRowColumns).
			AddRow(12, 7, "pending", "30.00", nil, now, now).
			AddRow(11, 7, "pending", "10.00", []byte(`{"zip":"10110"}`), now, now))
	mock.ExpectQuery("FROM order_items").WithArgs("{12,11}").
		WillReturnRows(sqlmock.NewRows(itemRowColumns).
			AddRow(30, 11, "p1", "A", 1, "10.00", now).
			AddRow(31, 12, "p2", "B", 3, "10.00", now))

	orders, total, err := repo.ListByUser(context.Background(), 7, ListFilter{Page: 2, Limit: 5, Status: StatusPending})
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if total != 12 || len(orders) != 2 {
		t.Fatalf("expected 2 orders of 12, got %d of %d", len(orders), total)
	}
	if orders[0].ShippingAddress != nil {
		t.Errorf("expected null address, got %s", orders[0].ShippingAddress)
	}
	if string(orders[1].ShippingAddress) != `{"zip":"10110"}` {
		t.Errorf("unexpected address %s", orders[1].ShippingAddress)
	}
	if len(orders[0].Items) != 1 || orders[0].Items[0].ProductID != "p2" {
		t.Errorf("items not attached to order 12: %+v", orders[0].Items)
	}
	if !orders[0].TotalAmount.Equal(decimal.NewFromInt(30)) {
		t.Errorf("unexpected total %s", orders[0].TotalAmount)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetByID_ScopedByOwner(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("FROM orders WHERE id = \\$1 AND user_id = \\$2").WithArgs(3, 9).
		WillReturnRows(sqlmock.NewRows(orderRowColumns))

	if _, err := repo.GetByID(context.Background(), 9, 3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpdateStatus_Postgres(t *testing.T) {
	now := time.Now()

	t.Run("updated", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery("UPDATE orders SET status").
			WithArgs("confirmed", 4, 1, `{"pending"}`).
			WillReturnRows(sqlmock.NewRows(orderRowColumns).AddRow(4, 1, "confirmed", "5.00", nil, now, now))
		mock.ExpectQuery("FROM order_items").WithArgs("{4}").
			WillReturnRows(sqlmock.NewRows(itemRowColumns))

		o, err := repo.UpdateStatus(context.Background(), 1, 4, StatusConfirmed, []Status{StatusPending})
		if err != nil {
			t.Fatalf("UpdateStatus: %v", err)
		}
		if o.Status != StatusConfirmed || o.Items == nil {
			t.Errorf("unexpected order %+v", o)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})

	t.Run("disallowed", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery("UPDATE orders SET status").WillReturnRows(sqlmock.NewRows(orderRowColumns))
		mock.ExpectQuery("SELECT status FROM orders").WithArgs(4, 1).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("shipped"))

		_, err := repo.UpdateStatus(context.Background(), 1, 4, StatusCancelled, cancellable)
		var te *TransitionError
		if !errors.As(err, &te) || te.From != StatusShipped || te.To != StatusCancelled {
			t.Fatalf("expected transition error from shipped, got %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})

	t.Run("missing", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery("UPDATE orders SET status").WillReturnRows(sqlmock.NewRows(orderRowColumns))
		mock.ExpectQuery("SELECT status FROM orders").WithArgs(4, 2).
			WillReturnRows(sqlmock.NewRows([]string{"status"}))

		_, err := repo.UpdateStatus(context.Background(), 2, 4, StatusCancelled, cancellable)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

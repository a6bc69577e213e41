package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const DefaultMaxOpenConns = 10

// Open returns a pgx-backed pool that has answered a ping.
func Open(ctx context.Context, url string, maxOpen int) (*sql.DB, error) {
	if url == "" {
		return nil, errors.New("database url is empty")
	}
	if maxOpen <= 0 {
		maxOpen = DefaultMaxOpenConns
	}

	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		order_number TEXT PRIMARY KEY,
		status       TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		order_number TEXT NOT NULL REFERENCES orders(order_number),
		item_id      TEXT NOT NULL,
		name         TEXT NOT NULL DEFAULT '',
		position     INT  NOT NULL,
		PRIMARY KEY (order_number, item_id)
	)`,
	`CREATE TABLE IF NOT EXISTS components (
		order_number        TEXT    NOT NULL,
		item_id             TEXT    NOT NULL,
		component_id        TEXT    NOT NULL,
		position            INT     NOT NULL,
		type                TEXT    NOT NULL,
		name                TEXT    NOT NULL DEFAULT '',
		total_quantity      INT     NOT NULL CHECK (total_quantity > 0),
		decoration_approved BOOLEAN NOT NULL DEFAULT FALSE,
		version             BIGINT  NOT NULL DEFAULT 1,
		PRIMARY KEY (order_number, item_id, component_id),
		FOREIGN KEY (order_number, item_id) REFERENCES order_items(order_number, item_id)
	)`,
	`CREATE TABLE IF NOT EXISTS decoration_records (
		order_number    TEXT NOT NULL,
		item_id         TEXT NOT NULL,
		component_id    TEXT NOT NULL,
		team            TEXT NOT NULL,
		total_quantity  INT  NOT NULL CHECK (total_quantity > 0),
		completed_qty   INT  NOT NULL DEFAULT 0 CHECK (completed_qty BETWEEN 0 AND total_quantity),
		available_stock INT  NOT NULL DEFAULT 0,
		inventory_used  INT  NOT NULL DEFAULT 0 CHECK (inventory_used BETWEEN 0 AND available_stock),
		status          TEXT NOT NULL,
		dispatched_by   TEXT,
		dispatched_at   TIMESTAMPTZ,
		PRIMARY KEY (order_number, item_id, component_id, team),
		FOREIGN KEY (order_number, item_id, component_id) REFERENCES components(order_number, item_id, component_id)
	)`,
	`CREATE TABLE IF NOT EXISTS vehicle_records (
		order_number TEXT    NOT NULL,
		item_id      TEXT    NOT NULL,
		component_id TEXT    NOT NULL,
		idx          INT     NOT NULL,
		plate        TEXT    NOT NULL,
		destination  TEXT    NOT NULL DEFAULT '',
		departure_at TIMESTAMPTZ NOT NULL,
		status       TEXT    NOT NULL,
		received     BOOLEAN NOT NULL DEFAULT FALSE,
		approved     BOOLEAN NOT NULL DEFAULT FALSE CHECK (NOT approved OR received OR status = 'DELIVERED'),
		PRIMARY KEY (order_number, item_id, component_id, idx),
		FOREIGN KEY (order_number, item_id, component_id) REFERENCES components(order_number, item_id, component_id)
	)`,
	`CREATE TABLE IF NOT EXISTS production_history (
		id                BIGSERIAL PRIMARY KEY,
		order_number      TEXT NOT NULL,
		item_id           TEXT NOT NULL,
		component_id      TEXT NOT NULL,
		team              TEXT NOT NULL,
		date              TIMESTAMPTZ NOT NULL,
		actor             TEXT NOT NULL,
		quantity_produced INT  NOT NULL,
		stock_used        INT  NOT NULL,
		notes             TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_history_component ON production_history(order_number, item_id, component_id, team, id)`,
	`CREATE TABLE IF NOT EXISTS processed_requests (
		request_id   TEXT PRIMARY KEY,
		order_number TEXT NOT NULL,
		processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate creates the schema if it does not exist
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// IsRequestProcessed checks if a mutation request has already been applied
func (s *Store) IsRequestProcessed(ctx context.Context, requestID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_requests WHERE request_id = $1)", requestID)
	return exists, err
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 8
	}
	cfg.MaxConns = maxConns
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS products (
		product_id     TEXT PRIMARY KEY,
		shop_id        TEXT NOT NULL,
		name           TEXT NOT NULL,
		price_cents    INTEGER NOT NULL CHECK (price_cents >= 0),
		total_stock    INTEGER NOT NULL CHECK (total_stock >= 0),
		variants       JSONB NOT NULL DEFAULT '[]'::jsonb,
		target_amount  INTEGER,
		current_amount INTEGER NOT NULL DEFAULT 0 CHECK (current_amount >= 0),
		is_deleted     BOOLEAN NOT NULL DEFAULT false,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_products_shop_id ON products(shop_id)`,

	// order_id is the primary key: a generated id that collides fails the insert.
	`CREATE TABLE IF NOT EXISTS orders (
		order_id         TEXT PRIMARY KEY,
		shop_id          TEXT NOT NULL,
		customer_name    TEXT NOT NULL DEFAULT '',
		customer_phone   TEXT NOT NULL DEFAULT '',
		customer_address TEXT NOT NULL DEFAULT '',
		shipping_method  TEXT NOT NULL DEFAULT '',
		payment_last5    TEXT NOT NULL DEFAULT '',
		items            JSONB NOT NULL,
		total_cents      INTEGER NOT NULL,
		status           TEXT NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_shop_created ON orders(shop_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS reservations (
		reservation_id UUID PRIMARY KEY,
		order_ref      TEXT NOT NULL,
		product_id     TEXT NOT NULL REFERENCES products(product_id),
		variant_name   TEXT NOT NULL DEFAULT '',
		qty            INTEGER NOT NULL CHECK (qty > 0),
		status         TEXT NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		released_at    TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_order_ref ON reservations(order_ref)`,
}

// Migrate creates the schema. Statements are idempotent.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	for _, m := range migrations {
		if _, err := db.Exec(ctx, m); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

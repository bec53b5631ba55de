package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const productColumns = `product_id, shop_id, name, price_cents, total_stock, variants,
	target_amount, current_amount, is_deleted, updated_at`

// Postgres keeps stock in the products table. Every mutation runs in its own
// transaction holding the product row lock (SELECT ... FOR UPDATE), and every
// reservation is recorded in the reservations table so it can be released
// exactly once.
type Postgres struct {
	DB  *pgxpool.Pool
	Log *slog.Logger
}

func NewPostgres(db *pgxpool.Pool, log *slog.Logger) *Postgres {
	if log == nil {
		log = slog.Default()
	}
	return &Postgres{DB: db, Log: log}
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.ShopID, &p.Name, &p.PriceCents, &p.TotalStock, &p.Variants,
		&p.TargetAmount, &p.CommittedAmount, &p.Deleted, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	return p, err
}

func variantsOrEmpty(v []Variant) []Variant {
	if v == nil {
		return []Variant{}
	}
	return v
}

// Put upserts a product row. Product CRUD lives outside this service; Put is
// used for seeding and tests.
func (l *Postgres) Put(ctx context.Context, p Product) error {
	if err := p.CheckInvariant(); err != nil {
		return fmt.Errorf("put product: %w", err)
	}
	_, err := l.DB.Exec(ctx, `
		INSERT INTO products(product_id, shop_id, name, price_cents, total_stock, variants,
		                     target_amount, current_amount, is_deleted)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (product_id) DO UPDATE SET
			shop_id=EXCLUDED.shop_id, name=EXCLUDED.name, price_cents=EXCLUDED.price_cents,
			total_stock=EXCLUDED.total_stock, variants=EXCLUDED.variants,
			target_amount=EXCLUDED.target_amount, current_amount=EXCLUDED.current_amount,
			is_deleted=EXCLUDED.is_deleted, updated_at=now()`,
		p.ID, p.ShopID, p.Name, p.PriceCents, p.TotalStock, variantsOrEmpty(p.Variants),
		p.TargetAmount, p.CommittedAmount, p.Deleted)
	if err != nil {
		return fmt.Errorf("put product %s: %w", p.ID, err)
	}
	return nil
}

func (l *Postgres) Snapshot(ctx context.Context, productID string) (Product, error) {
	p, err := scanProduct(l.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE product_id=$1`, productID))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Product{}, fmt.Errorf("snapshot %s: %w", productID, err)
	}
	return p, err
}

func (l *Postgres) TryReserve(ctx context.Context, req ReserveRequest) (Reservation, error) {
	if req.Qty <= 0 {
		return Reservation{}, ErrInvalidQuantity
	}
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Reservation{}, fmt.Errorf("reserve begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := scanProduct(tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE product_id=$1 FOR UPDATE`, req.ProductID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Reservation{}, err
		}
		return Reservation{}, fmt.Errorf("reserve lock %s: %w", req.ProductID, err)
	}
	if p.Deleted {
		return Reservation{}, ErrDeleted
	}
	if err := p.apply(req.Variant, req.Qty); err != nil {
		return Reservation{}, err // rollback via defer
	}

	if _, err := tx.Exec(ctx, `
		UPDATE products SET total_stock=$2, variants=$3, current_amount=$4, updated_at=now()
		WHERE product_id=$1`,
		p.ID, p.TotalStock, variantsOrEmpty(p.Variants), p.CommittedAmount); err != nil {
		return Reservation{}, fmt.Errorf("reserve update %s: %w", p.ID, err)
	}

	r := Reservation{
		ID:        uuid.NewString(),
		Ref:       req.Ref,
		ProductID: p.ID,
		Variant:   req.Variant,
		Qty:       req.Qty,
		NewStock:  p.TotalStock,
		NewTotal:  p.TotalStock,
		Committed: p.CommittedAmount,
	}
	if req.Variant != "" {
		r.NewStock = p.Variants[p.VariantIndex(req.Variant)].Stock
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO reservations(reservation_id, order_ref, product_id, variant_name, qty, status)
		VALUES ($1,$2,$3,$4,$5,'RESERVED')`,
		r.ID, r.Ref, r.ProductID, r.Variant, r.Qty); err != nil {
		return Reservation{}, fmt.Errorf("reserve record %s: %w", p.ID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Reservation{}, fmt.Errorf("reserve commit %s: %w", p.ID, err)
	}
	return r, nil
}

// Release returns the reserved quantity. The RESERVED -> RELEASED flip is
// conditional, so only the first call for a reservation moves stock.
func (l *Postgres) Release(ctx context.Context, r Reservation) error {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("release begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var productID, variant string
	var qty int
	err = tx.QueryRow(ctx, `
		UPDATE reservations SET status='RELEASED', released_at=now()
		WHERE reservation_id=$1 AND status='RESERVED'
		RETURNING product_id, variant_name, qty`, r.ID).Scan(&productID, &variant, &qty)
	if errors.Is(err, pgx.ErrNoRows) {
		l.Log.Error("release without outstanding reservation",
			"reservation_id", r.ID, "product_id", r.ProductID, "variant", r.Variant, "qty", r.Qty)
		return ErrUnknownReservation
	}
	if err != nil {
		return fmt.Errorf("release mark %s: %w", r.ID, err)
	}

	p, err := scanProduct(tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE product_id=$1 FOR UPDATE`, productID))
	if err != nil {
		return fmt.Errorf("release lock %s: %w", productID, err)
	}
	if err := p.apply(variant, -qty); err != nil {
		return fmt.Errorf("release %s: %w", r.ID, err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE products SET total_stock=$2, variants=$3, current_amount=$4, updated_at=now()
		WHERE product_id=$1`,
		p.ID, p.TotalStock, variantsOrEmpty(p.Variants), p.CommittedAmount); err != nil {
		return fmt.Errorf("release update %s: %w", p.ID, err)
	}
	return tx.Commit(ctx)
}

// SweepOrphans releases reservations older than age whose order never got
// stored, which is what a failed rollback leaves behind. age must exceed
// the longest a submit can hold stock before inserting its order.
func (l *Postgres) SweepOrphans(ctx context.Context, age time.Duration) (int, error) {
	rows, err := l.DB.Query(ctx, `
		SELECT r.reservation_id::text, r.order_ref, r.product_id, r.variant_name, r.qty
		FROM reservations r
		WHERE r.status='RESERVED'
		  AND r.created_at < now() - make_interval(secs => $1)
		  AND NOT EXISTS (SELECT 1 FROM orders o WHERE o.order_id = r.order_ref)
		ORDER BY r.created_at
		LIMIT 500`, age.Seconds())
	if err != nil {
		return 0, fmt.Errorf("sweep query: %w", err)
	}
	var orphans []Reservation
	for rows.Next() {
		var r Reservation
		if err := rows.Scan(&r.ID, &r.Ref, &r.ProductID, &r.Variant, &r.Qty); err != nil {
			rows.Close()
			return 0, fmt.Errorf("sweep scan: %w", err)
		}
		orphans = append(orphans, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("sweep rows: %w", err)
	}

	released := 0
	for _, r := range orphans {
		err := l.Release(ctx, r)
		if errors.Is(err, ErrUnknownReservation) {
			continue // released concurrently
		}
		if err != nil {
			return released, fmt.Errorf("sweep release %s: %w", r.ID, err)
		}
		l.Log.Warn("released orphaned reservation",
			"reservation_id", r.ID, "order_ref", r.Ref, "product_id", r.ProductID, "variant", r.Variant, "qty", r.Qty)
		released++
	}
	return released, nil
}

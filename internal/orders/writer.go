package orders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/insbuy/groupbuy-orders/internal/ledger"
)

const defaultReserveTimeout = 2 * time.Second

// Committed is what a successful commit leaves behind.
type Committed struct {
	OrderID      string
	Reservations []ledger.Reservation
}

// Writer applies a plan's reservations and stores the order as one unit:
// either the order row exists with all its reservations, or neither does.
type Writer struct {
	Ledger Ledger
	Store  Store
	// ReserveTimeout bounds every ledger and store call of a commit.
	ReserveTimeout time.Duration
	Log            *slog.Logger
}

func (w *Writer) timeout() time.Duration {
	if w.ReserveTimeout <= 0 {
		return defaultReserveTimeout
	}
	return w.ReserveTimeout
}

func (w *Writer) Commit(ctx context.Context, order Order, plan Plan) (Committed, error) {
	if err := ctx.Err(); err != nil {
		return Committed{}, persistence(err)
	}

	applied := make([]ledger.Reservation, 0, len(plan.Lines))
	stepCtx := ctx
	for _, pl := range plan.Lines {
		r, err := w.reserve(stepCtx, order.ID, pl)
		if err != nil {
			w.rollback(ctx, order.ID, applied)
			return Committed{}, lineError(pl, err)
		}
		if len(applied) == 0 {
			// Stock is now held: the commit runs to success or rollback
			// regardless of what happens to the caller.
			stepCtx = context.WithoutCancel(ctx)
		}
		applied = append(applied, r)
	}

	insCtx, cancel := context.WithTimeout(stepCtx, w.timeout())
	err := w.Store.Insert(insCtx, order)
	cancel()
	if err != nil {
		w.rollback(ctx, order.ID, applied)
		return Committed{}, persistence(fmt.Errorf("insert order %s: %w", order.ID, err))
	}
	return Committed{OrderID: order.ID, Reservations: applied}, nil
}

func (w *Writer) reserve(ctx context.Context, orderID string, pl PlanLine) (ledger.Reservation, error) {
	rctx, cancel := context.WithTimeout(ctx, w.timeout())
	defer cancel()
	return w.Ledger.TryReserve(rctx, ledger.ReserveRequest{
		Ref:       orderID,
		ProductID: pl.ProductID,
		Variant:   pl.Variant,
		Qty:       pl.Qty,
	})
}

// rollback releases applied reservations newest first. A release that fails
// is logged; the reservation stays RESERVED for manual repair.
func (w *Writer) rollback(ctx context.Context, orderID string, applied []ledger.Reservation) {
	base := context.WithoutCancel(ctx)
	for i := len(applied) - 1; i >= 0; i-- {
		r := applied[i]
		rctx, cancel := context.WithTimeout(base, w.timeout())
		err := w.Ledger.Release(rctx, r)
		cancel()
		if err != nil {
			w.logger().Error("rollback release failed",
				"order_id", orderID, "reservation_id", r.ID, "product_id", r.ProductID,
				"variant", r.Variant, "qty", r.Qty, "err", err)
		}
	}
}

func (w *Writer) logger() *slog.Logger {
	if w.Log == nil {
		return slog.Default()
	}
	return w.Log
}

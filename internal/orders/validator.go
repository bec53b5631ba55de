package orders

import (
	"context"

	"github.com/insbuy/groupbuy-orders/internal/ledger"
)

// Ledger is the stock ledger as the order flow uses it. Implemented by
// ledger.Memory and ledger.Postgres.
type Ledger interface {
	Snapshot(ctx context.Context, productID string) (ledger.Product, error)
	TryReserve(ctx context.Context, req ledger.ReserveRequest) (ledger.Reservation, error)
	Release(ctx context.Context, r ledger.Reservation) error
}

// MaxLineQuantity caps the quantity of one merged cart line.
const MaxLineQuantity = 100_000

// Validator turns a cart into a Plan using read-only snapshots. Its stock
// check is advisory: the writer's reservations are authoritative.
type Validator struct {
	Ledger Ledger
}

type lineKey struct {
	productID string
	variant   string
}

func (v *Validator) Validate(ctx context.Context, shopID string, items []LineItem) (Plan, error) {
	if shopID == "" {
		return Plan{}, invalidRequest(-1, "missing shop id")
	}
	if len(items) == 0 {
		return Plan{}, invalidRequest(-1, "cart is empty")
	}

	// merge duplicate lines first so a large order cannot slip through as
	// many small ones
	lines := make([]PlanLine, 0, len(items))
	index := make(map[lineKey]int, len(items))
	for i, it := range items {
		if it.ProductID == "" {
			return Plan{}, invalidRequest(i, "item %d has no product id", i+1)
		}
		if it.Quantity <= 0 || it.Quantity > MaxLineQuantity {
			return Plan{}, InvalidQuantity(i, it.ProductID)
		}
		k := lineKey{it.ProductID, it.Variant}
		if j, ok := index[k]; ok {
			// both operands are capped, so the sum cannot overflow
			if lines[j].Qty+it.Quantity > MaxLineQuantity {
				return Plan{}, InvalidQuantity(i, it.ProductID)
			}
			lines[j].Qty += it.Quantity
			continue
		}
		index[k] = len(lines)
		lines = append(lines, PlanLine{Line: i, ProductID: it.ProductID, Variant: it.Variant, Qty: it.Quantity})
	}

	snapshots := make(map[string]ledger.Product, len(lines))
	total := 0
	for j := range lines {
		pl := &lines[j]
		p, ok := snapshots[pl.ProductID]
		if !ok {
			var err error
			p, err = v.Ledger.Snapshot(ctx, pl.ProductID)
			if err != nil {
				return Plan{}, lineError(*pl, err)
			}
			snapshots[pl.ProductID] = p
		}
		pl.ProductName = p.Name
		pl.UnitPriceCents = p.PriceCents

		if p.ShopID != shopID {
			// another shop's product is invisible to this cart
			return Plan{}, lineError(*pl, ledger.ErrNotFound)
		}
		avail, err := p.Available(pl.Variant)
		if err != nil {
			return Plan{}, lineError(*pl, err)
		}
		if pl.Qty > avail {
			return Plan{}, lineError(*pl, &ledger.StockError{
				ProductID: p.ID, Variant: pl.Variant, Requested: pl.Qty, Available: avail,
			})
		}
		total += p.PriceCents * pl.Qty
	}
	return Plan{Lines: lines, TotalCents: total}, nil
}

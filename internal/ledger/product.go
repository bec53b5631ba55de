// Package ledger owns the available-stock counters of products and their
// variants. It is the only code allowed to change those counters.
package ledger

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound           = errors.New("product not found")
	ErrDeleted            = errors.New("product deleted")
	ErrVariantNotFound    = errors.New("variant not found")
	ErrVariantRequired    = errors.New("product has variants, a variant name is required")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidQuantity    = errors.New("quantity must be positive")
	ErrUnknownReservation = errors.New("no outstanding reservation")
)

// StockError reports a reservation larger than the stock it targeted.
// It matches ErrInsufficientStock with errors.Is.
type StockError struct {
	ProductID string
	Variant   string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	if e.Variant != "" {
		return fmt.Sprintf("insufficient stock for %s/%s: requested %d, available %d", e.ProductID, e.Variant, e.Requested, e.Available)
	}
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Is(target error) bool { return target == ErrInsufficientStock }

type Variant struct {
	Name  string `json:"name"`
	Stock int    `json:"stock"`
}

type Product struct {
	ID         string    `json:"product_id"`
	ShopID     string    `json:"shop_id"`
	Name       string    `json:"name"`
	PriceCents int       `json:"price_cents"`
	TotalStock int       `json:"total_stock"`
	Variants   []Variant `json:"variants,omitempty"`
	// TargetAmount is the group-buy threshold; nil for plain stock products.
	TargetAmount    *int      `json:"target_amount,omitempty"`
	CommittedAmount int       `json:"current_amount"`
	Deleted         bool      `json:"is_deleted"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (p Product) HasVariants() bool { return len(p.Variants) > 0 }

// VariantIndex returns the position of the named variant or -1.
func (p Product) VariantIndex(name string) int {
	for i, v := range p.Variants {
		if v.Name == name {
			return i
		}
	}
	return -1
}

// Available reports the stock a reservation against variant (or the product
// when variant is empty) could take right now.
func (p Product) Available(variant string) (int, error) {
	if p.Deleted {
		return 0, ErrDeleted
	}
	if variant == "" {
		if p.HasVariants() {
			return 0, ErrVariantRequired
		}
		return p.TotalStock, nil
	}
	i := p.VariantIndex(variant)
	if i < 0 {
		return 0, ErrVariantNotFound
	}
	return p.Variants[i].Stock, nil
}

// RemainingToTarget is how many more units must sell before the group-buy
// target is reached. Products without a target report 0.
func (p Product) RemainingToTarget() int {
	if p.TargetAmount == nil || p.CommittedAmount >= *p.TargetAmount {
		return 0
	}
	return *p.TargetAmount - p.CommittedAmount
}

// CheckInvariant verifies non-negative counters, unique variant names and
// TotalStock == sum of variant stocks when variants exist.
func (p Product) CheckInvariant() error {
	if p.TotalStock < 0 || p.CommittedAmount < 0 {
		return fmt.Errorf("product %s: negative counter (stock=%d committed=%d)", p.ID, p.TotalStock, p.CommittedAmount)
	}
	if !p.HasVariants() {
		return nil
	}
	seen := make(map[string]bool, len(p.Variants))
	sum := 0
	for _, v := range p.Variants {
		if v.Stock < 0 {
			return fmt.Errorf("product %s: variant %q has negative stock %d", p.ID, v.Name, v.Stock)
		}
		if seen[v.Name] {
			return fmt.Errorf("product %s: duplicate variant %q", p.ID, v.Name)
		}
		seen[v.Name] = true
		sum += v.Stock
	}
	if sum != p.TotalStock {
		return fmt.Errorf("product %s: total stock %d != variant sum %d", p.ID, p.TotalStock, sum)
	}
	return nil
}

// Clone returns a deep copy so callers never share the variant slice.
func (p Product) Clone() Product {
	if p.Variants != nil {
		p.Variants = append([]Variant(nil), p.Variants...)
	}
	if p.TargetAmount != nil {
		t := *p.TargetAmount
		p.TargetAmount = &t
	}
	return p
}

// apply moves qty units out of (qty>0) or back into (qty<0) the product or
// the named variant, keeping the total equal to the variant sum. The caller
// must hold whatever lock guards p.
func (p *Product) apply(variant string, qty int) error {
	if variant == "" {
		if p.HasVariants() {
			return ErrVariantRequired
		}
		if p.TotalStock < qty {
			return &StockError{ProductID: p.ID, Requested: qty, Available: p.TotalStock}
		}
		p.TotalStock -= qty
		p.CommittedAmount += qty
		return nil
	}
	i := p.VariantIndex(variant)
	if i < 0 {
		return ErrVariantNotFound
	}
	if p.Variants[i].Stock < qty {
		return &StockError{ProductID: p.ID, Variant: variant, Requested: qty, Available: p.Variants[i].Stock}
	}
	p.Variants[i].Stock -= qty
	p.CommittedAmount += qty
	total := 0
	for _, v := range p.Variants {
		total += v.Stock
	}
	p.TotalStock = total
	return nil
}

type ReserveRequest struct {
	// Ref ties the reservation to the order being committed.
	Ref       string
	ProductID string
	Variant   string
	Qty       int
}

// Reservation is the receipt of a successful TryReserve. It is the only
// handle Release accepts.
type Reservation struct {
	ID        string `json:"reservation_id"`
	Ref       string `json:"ref"`
	ProductID string `json:"product_id"`
	Variant   string `json:"variant,omitempty"`
	Qty       int    `json:"qty"`
	// NewStock is the product stock, or the variant stock when Variant is set,
	// right after the decrement.
	NewStock  int `json:"new_stock"`
	NewTotal  int `json:"new_total"`
	Committed int `json:"committed"`
}

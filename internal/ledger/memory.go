package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// slot guards one product. The buffered channel is a mutex whose acquisition
// can be abandoned when the caller's context ends.
type slot struct {
	lock chan struct{}
	p    Product
}

func (s *slot) acquire(ctx context.Context) error {
	select {
	case s.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *slot) unlock() { <-s.lock }

// Memory is an in-process ledger that serializes mutations per product.
// Different products never contend with each other.
type Memory struct {
	mu       sync.RWMutex
	products map[string]*slot

	resMu       sync.Mutex
	outstanding map[string]Reservation

	Log *slog.Logger
	now func() time.Time
}

func NewMemory(log *slog.Logger) *Memory {
	if log == nil {
		log = slog.Default()
	}
	return &Memory{
		products:    make(map[string]*slot),
		outstanding: make(map[string]Reservation),
		Log:         log,
		now:         time.Now,
	}
}

// Put inserts or replaces a product. It rejects products that break the
// stock invariant.
func (m *Memory) Put(p Product) error {
	if p.ID == "" {
		return fmt.Errorf("put product: empty id")
	}
	if err := p.CheckInvariant(); err != nil {
		return fmt.Errorf("put product: %w", err)
	}
	p = p.Clone()
	p.UpdatedAt = m.now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.products[p.ID]; ok {
		s.lock <- struct{}{}
		s.p = p
		s.unlock()
		return nil
	}
	m.products[p.ID] = &slot{lock: make(chan struct{}, 1), p: p}
	return nil
}

func (m *Memory) slot(id string) (*slot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.products[id]
	return s, ok
}

func (m *Memory) Snapshot(ctx context.Context, productID string) (Product, error) {
	s, ok := m.slot(productID)
	if !ok {
		return Product{}, ErrNotFound
	}
	if err := s.acquire(ctx); err != nil {
		return Product{}, err
	}
	defer s.unlock()
	return s.p.Clone(), nil
}

func (m *Memory) TryReserve(ctx context.Context, req ReserveRequest) (Reservation, error) {
	if req.Qty <= 0 {
		return Reservation{}, ErrInvalidQuantity
	}
	s, ok := m.slot(req.ProductID)
	if !ok {
		return Reservation{}, ErrNotFound
	}
	if err := s.acquire(ctx); err != nil {
		return Reservation{}, err
	}
	defer s.unlock()

	if s.p.Deleted {
		return Reservation{}, ErrDeleted
	}
	if err := s.p.apply(req.Variant, req.Qty); err != nil {
		return Reservation{}, err
	}
	s.p.UpdatedAt = m.now().UTC()

	r := Reservation{
		ID:        uuid.NewString(),
		Ref:       req.Ref,
		ProductID: req.ProductID,
		Variant:   req.Variant,
		Qty:       req.Qty,
		NewStock:  s.p.TotalStock,
		NewTotal:  s.p.TotalStock,
		Committed: s.p.CommittedAmount,
	}
	if req.Variant != "" {
		r.NewStock = s.p.Variants[s.p.VariantIndex(req.Variant)].Stock
	}

	m.resMu.Lock()
	m.outstanding[r.ID] = r
	m.resMu.Unlock()
	return r, nil
}

func (m *Memory) Release(ctx context.Context, r Reservation) error {
	m.resMu.Lock()
	held, ok := m.outstanding[r.ID]
	if ok {
		delete(m.outstanding, r.ID)
	}
	m.resMu.Unlock()
	if !ok {
		m.Log.Error("release without outstanding reservation",
			"reservation_id", r.ID, "product_id", r.ProductID, "variant", r.Variant, "qty", r.Qty)
		return ErrUnknownReservation
	}

	s, found := m.slot(held.ProductID)
	if !found {
		return ErrNotFound
	}
	if err := s.acquire(ctx); err != nil {
		// keep the reservation releasable by a later attempt
		m.resMu.Lock()
		m.outstanding[held.ID] = held
		m.resMu.Unlock()
		return err
	}
	defer s.unlock()
	if err := s.p.apply(held.Variant, -held.Qty); err != nil {
		return fmt.Errorf("release %s: %w", held.ID, err)
	}
	s.p.UpdatedAt = m.now().UTC()
	return nil
}

// Outstanding counts reservations that have not been released.
func (m *Memory) Outstanding() int {
	m.resMu.Lock()
	defer m.resMu.Unlock()
	return len(m.outstanding)
}

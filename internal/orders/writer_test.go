package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insbuy/groupbuy-orders/internal/ledger"
)

func planFor(t *testing.T, l Ledger, items ...LineItem) Plan {
	t.Helper()
	plan, err := (&Validator{Ledger: l}).Validate(context.Background(), shop, items)
	require.NoError(t, err)
	return plan
}

func TestCommitAppliesReservationsAndStoresOrder(t *testing.T) {
	l := seed(t, productP(5), productQ())
	store := NewMemoryStore()
	w := &Writer{Ledger: l, Store: store}

	plan := planFor(t, l, LineItem{ProductID: "P", Quantity: 5}, LineItem{ProductID: "Q", Variant: "Red", Quantity: 2})
	c, err := w.Commit(context.Background(), Order{ID: "20261015-1111", ShopID: shop, Status: StatusCreated}, plan)
	require.NoError(t, err)
	assert.Equal(t, "20261015-1111", c.OrderID)
	require.Len(t, c.Reservations, 2)
	assert.Equal(t, "20261015-1111", c.Reservations[0].Ref)

	assert.Equal(t, 0, stockOf(t, l, "P").TotalStock)
	q := stockOf(t, l, "Q")
	assert.Equal(t, 0, q.Variants[0].Stock)
	assert.Equal(t, 3, q.TotalStock)

	_, err = store.Get(context.Background(), "20261015-1111")
	assert.NoError(t, err)
}

func TestCommitRollsBackWhenStockDrainedAfterValidation(t *testing.T) {
	l := seed(t, productP(5), productQ())
	store := NewMemoryStore()
	w := &Writer{Ledger: l, Store: store}
	plan := planFor(t, l, LineItem{ProductID: "P", Quantity: 2}, LineItem{ProductID: "Q", Variant: "Blue", Quantity: 3})

	// a concurrent buyer takes Blue between validation and commit
	_, err := l.TryReserve(context.Background(), ledger.ReserveRequest{ProductID: "Q", Variant: "Blue", Qty: 1})
	require.NoError(t, err)

	_, err = w.Commit(context.Background(), Order{ID: "o-1", ShopID: shop}, plan)
	var se *SubmitError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, KindInsufficientStock, se.Kind)
	assert.Equal(t, 1, se.Line)
	assert.Equal(t, "Blue", se.Variant)
	assert.Equal(t, 2, se.Available)

	assert.Equal(t, 5, stockOf(t, l, "P").TotalStock, "P reservation released")
	assert.Equal(t, 0, stockOf(t, l, "P").CommittedAmount)
	_, err = store.Get(context.Background(), "o-1")
	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.Equal(t, 1, l.Outstanding(), "only the concurrent buyer's reservation remains")
}

func TestCommitRollsBackOnPersistenceFailure(t *testing.T) {
	l := seed(t, productP(5), productQ())
	store := &failingStore{MemoryStore: NewMemoryStore(), n: 1, err: errDiskFull}
	w := &Writer{Ledger: l, Store: store}
	plan := planFor(t, l, LineItem{ProductID: "P", Quantity: 4}, LineItem{ProductID: "Q", Variant: "Red", Quantity: 1})

	_, err := w.Commit(context.Background(), Order{ID: "o-2", ShopID: shop}, plan)
	require.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, errDiskFull)

	assert.Equal(t, 5, stockOf(t, l, "P").TotalStock)
	assert.Equal(t, 2, stockOf(t, l, "Q").Variants[0].Stock)
	assert.Equal(t, 0, l.Outstanding())
}

func TestCommitTimesOutAndRollsBack(t *testing.T) {
	mem := seed(t, productP(5), productQ())
	l := &stallingLedger{Memory: mem, stall: "Q"}
	w := &Writer{Ledger: l, Store: NewMemoryStore(), ReserveTimeout: 30 * time.Millisecond}
	plan := planFor(t, mem, LineItem{ProductID: "P", Quantity: 1}, LineItem{ProductID: "Q", Variant: "Red", Quantity: 1})

	start := time.Now()
	_, err := w.Commit(context.Background(), Order{ID: "o-3", ShopID: shop}, plan)
	require.ErrorIs(t, err, ErrPersistence)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 5, stockOf(t, mem, "P").TotalStock)
}

func TestCommitIgnoresCancellationOnceStockIsHeld(t *testing.T) {
	l := seed(t, productP(5), productQ())
	ctx, cancel := context.WithCancel(context.Background())
	store := &cancellingStore{MemoryStore: NewMemoryStore(), cancel: cancel}
	w := &Writer{Ledger: &cancelOnReserve{Memory: l, cancel: cancel}, Store: store}
	plan := planFor(t, l, LineItem{ProductID: "P", Quantity: 1}, LineItem{ProductID: "Q", Variant: "Blue", Quantity: 1})

	_, err := w.Commit(ctx, Order{ID: "o-4", ShopID: shop}, plan)
	require.NoError(t, err)
	assert.Error(t, ctx.Err())
	assert.Equal(t, 4, stockOf(t, l, "P").TotalStock)
	assert.Equal(t, 2, stockOf(t, l, "Q").Variants[1].Stock)
}

func TestCommitRefusesAlreadyCancelledContext(t *testing.T) {
	l := seed(t, productP(5))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&Writer{Ledger: l, Store: NewMemoryStore()}).Commit(ctx, Order{ID: "o-5"}, planFor(t, l, LineItem{ProductID: "P", Quantity: 1}))
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, 5, stockOf(t, l, "P").TotalStock)
}

// cancelOnReserve cancels the caller's context right after the first
// successful reservation.
type cancelOnReserve struct {
	*ledger.Memory
	cancel context.CancelFunc
}

func (l *cancelOnReserve) TryReserve(ctx context.Context, req ledger.ReserveRequest) (ledger.Reservation, error) {
	r, err := l.Memory.TryReserve(ctx, req)
	l.cancel()
	return r, err
}

type cancellingStore struct {
	*MemoryStore
	cancel context.CancelFunc
}

func (s *cancellingStore) Insert(ctx context.Context, o Order) error {
	s.cancel()
	return s.MemoryStore.Insert(ctx, o)
}

package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/insbuy/groupbuy-orders/internal/ledger"
	"github.com/insbuy/groupbuy-orders/internal/orders"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memCache struct {
	mu sync.Mutex
	m  map[string]any
}

func (c *memCache) Set(_ context.Context, id string, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = map[string]any{}
	}
	c.m[id] = v
	return nil
}

func (c *memCache) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, id)
	return nil
}

func (c *memCache) get(id string) (StockView, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[id].(StockView)
	return v, ok
}

type memDedup struct {
	seen      map[string]bool
	forgotten []string
}

func (d *memDedup) FirstSeen(_ context.Context, id string) (bool, error) {
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

func (d *memDedup) Forget(_ context.Context, id string) error {
	delete(d.seen, id)
	d.forgotten = append(d.forgotten, id)
	return nil
}

type brokenLedger struct{}

func (brokenLedger) Snapshot(context.Context, string) (ledger.Product, error) {
	return ledger.Product{}, errors.New("connection reset")
}

var fixed = time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)

func stockEvent(t *testing.T, eventID, productID string) kafkago.Message {
	t.Helper()
	payload, err := json.Marshal(orders.StockChangedPayload{OrderID: "o-1", ProductID: productID, Delta: -1, TotalStock: 999})
	require.NoError(t, err)
	b, err := json.Marshal(orders.Envelope{EventID: eventID, EventType: orders.EventStockChanged, EventVersion: 1, Payload: payload})
	require.NoError(t, err)
	return kafkago.Message{Key: orders.StockPartitionKey(productID), Value: b}
}

func newService(t *testing.T) (*Service, *ledger.Memory, *memCache, *memDedup) {
	t.Helper()
	l := ledger.NewMemory(nil)
	target := 10
	require.NoError(t, l.Put(ledger.Product{
		ID: "Q", ShopID: "shop-1", Name: "Tote bag", PriceCents: 400, TotalStock: 5, TargetAmount: &target,
		Variants: []ledger.Variant{{Name: "Red", Stock: 2}, {Name: "Blue", Stock: 3}},
	}))
	cache, dedup := &memCache{}, &memDedup{}
	return &Service{Ledger: l, Cache: cache, Dedup: dedup, Now: func() time.Time { return fixed }}, l, cache, dedup
}

func TestStockChangedRefreshesViewFromLedger(t *testing.T) {
	svc, l, cache, _ := newService(t)
	_, err := l.TryReserve(context.Background(), ledger.ReserveRequest{ProductID: "Q", Variant: "Red", Qty: 2})
	require.NoError(t, err)

	require.NoError(t, svc.HandleStockChanged(context.Background(), stockEvent(t, "e-1", "Q")))

	v, ok := cache.get("Q")
	require.True(t, ok)
	assert.Equal(t, 3, v.TotalStock, "counters come from the ledger, not the event")
	assert.Equal(t, 0, v.Variants[0].Stock)
	assert.Equal(t, 2, v.CommittedAmount)
	assert.Equal(t, 8, v.RemainingToTarget)
	assert.False(t, v.SoldOut)
	assert.Equal(t, fixed, v.UpdatedAt)
}

func TestDuplicateEventIsSkipped(t *testing.T) {
	svc, _, cache, _ := newService(t)
	require.NoError(t, svc.HandleStockChanged(context.Background(), stockEvent(t, "e-1", "Q")))
	require.NoError(t, cache.Delete(context.Background(), "Q"))

	require.NoError(t, svc.HandleStockChanged(context.Background(), stockEvent(t, "e-1", "Q")))
	_, ok := cache.get("Q")
	assert.False(t, ok)
}

func TestUnknownProductIsEvicted(t *testing.T) {
	svc, _, cache, _ := newService(t)
	require.NoError(t, cache.Set(context.Background(), "gone", StockView{ProductID: "gone"}))

	require.NoError(t, svc.HandleStockChanged(context.Background(), stockEvent(t, "e-2", "gone")))
	_, ok := cache.get("gone")
	assert.False(t, ok)
}

func TestFailedRefreshForgetsEvent(t *testing.T) {
	svc, _, _, dedup := newService(t)
	svc.Ledger = brokenLedger{}

	err := svc.HandleStockChanged(context.Background(), stockEvent(t, "e-3", "Q"))
	assert.ErrorContains(t, err, "connection reset")
	assert.Equal(t, []string{"e-3"}, dedup.forgotten)
}

func TestIgnoresForeignAndMalformedMessages(t *testing.T) {
	svc, _, cache, _ := newService(t)

	b, err := json.Marshal(orders.Envelope{EventID: "e-4", EventType: orders.EventOrderCreated})
	require.NoError(t, err)
	assert.NoError(t, svc.HandleStockChanged(context.Background(), kafkago.Message{Value: b}))
	assert.NoError(t, svc.HandleStockChanged(context.Background(), kafkago.Message{Value: []byte("not json")}))
	assert.Empty(t, cache.m)
}

func TestViewOfSoldOut(t *testing.T) {
	v := ViewOf(ledger.Product{ID: "P", TotalStock: 0}, fixed)
	assert.True(t, v.SoldOut)
	assert.Equal(t, 0, v.RemainingToTarget)
}

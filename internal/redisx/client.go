package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/insbuy/groupbuy-orders/internal/orders"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

// Idempotency maps client idempotency keys to the order they created. A key
// holds pendingMarker while its submit is running.
type Idempotency struct{ RDB *redis.Client }

const pendingMarker = "\x00pending"

func (i *Idempotency) Claim(ctx context.Context, key string) (string, error) {
	k := fmt.Sprintf(KeyIdemOrderCreate, key)
	ok, err := i.RDB.SetNX(ctx, k, pendingMarker, TTLIdemPending).Result()
	if err != nil {
		return "", err
	}
	if ok {
		return "", nil
	}
	id, err := i.RDB.Get(ctx, k).Result()
	switch {
	case errors.Is(err, redis.Nil), err == nil && id == pendingMarker:
		// expired between SETNX and GET counts as still in flight
		return "", orders.ErrIdempotencyInFlight
	case err != nil:
		return "", err
	}
	return id, nil
}

// Remember replaces the pending claim with the order id.
func (i *Idempotency) Remember(ctx context.Context, key, orderID string) error {
	return i.RDB.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, key), orderID, TTLIdempotency).Err()
}

// Forget drops a pending claim so the client can retry.
func (i *Idempotency) Forget(ctx context.Context, key string) error {
	return i.RDB.Del(ctx, fmt.Sprintf(KeyIdemOrderCreate, key)).Err()
}

// Dedup marks event ids as processed.
type Dedup struct {
	RDB     *redis.Client
	Service string
}

// FirstSeen reports whether id had not been marked before, marking it.
func (d *Dedup) FirstSeen(ctx context.Context, id string) (bool, error) {
	return d.RDB.SetNX(ctx, fmt.Sprintf(KeyDedup, d.Service, id), "1", TTLDedup).Result()
}

// Forget removes the mark so a failed event can be processed again.
func (d *Dedup) Forget(ctx context.Context, id string) error {
	return d.RDB.Del(ctx, fmt.Sprintf(KeyDedup, d.Service, id)).Err()
}

// JSONCache stores JSON documents under a key template.
type JSONCache struct {
	RDB *redis.Client
	Key string
	TTL time.Duration
}

// Get decodes the cached value for id into out. ok is false on a miss.
func (c *JSONCache) Get(ctx context.Context, id string, out any) (bool, error) {
	b, err := c.RDB.Get(ctx, fmt.Sprintf(c.Key, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, fmt.Errorf("decode cache %s: %w", id, err)
	}
	return true, nil
}

func (c *JSONCache) Set(ctx context.Context, id string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.RDB.Set(ctx, fmt.Sprintf(c.Key, id), b, c.TTL).Err()
}

func (c *JSONCache) Delete(ctx context.Context, id string) error {
	return c.RDB.Del(ctx, fmt.Sprintf(c.Key, id)).Err()
}

func NewStatusCache(rdb *redis.Client) *JSONCache {
	return &JSONCache{RDB: rdb, Key: KeyOrderStatus, TTL: TTLStatusCache}
}

func NewStockCache(rdb *redis.Client) *JSONCache {
	return &JSONCache{RDB: rdb, Key: KeyStock, TTL: TTLStock}
}

package redisx

import "time"

const (
	// Idempotent submit: idem:order:create:{shop_id}:{key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s"

	// Order status cache: order_status:{order_id} -> {"orderId": "...", "status": "..."}
	KeyOrderStatus = "order_status:%s"

	// Remaining stock per product, written by the stock projector: stock:{product_id}
	KeyStock = "stock:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	// a pending claim outlives any submit (reserve timeouts and retries)
	TTLIdemPending = time.Minute
	TTLStatusCache = 5 * time.Minute
	TTLStock       = 10 * time.Minute
	TTLDedup       = 48 * time.Hour
)

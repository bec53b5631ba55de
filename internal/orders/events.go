package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventStockChanged       = "StockChanged"
	EventOrderStatusChanged = "OrderStatusChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type OrderCreatedPayload struct {
	OrderID    string     `json:"order_id"`
	ShopID     string     `json:"shop_id"`
	Items      []LineItem `json:"items"`
	TotalCents int        `json:"total_cents"`
	Status     Status     `json:"status"`
}

// StockChangedPayload carries the counters right after one reservation.
type StockChangedPayload struct {
	OrderID         string `json:"order_id"`
	ProductID       string `json:"product_id"`
	Variant         string `json:"variant,omitempty"`
	Delta           int    `json:"delta"`
	Stock           int    `json:"stock"`
	TotalStock      int    `json:"total_stock"`
	CommittedAmount int    `json:"current_amount"`
}

type OrderStatusChangedPayload struct {
	OrderID string `json:"order_id"`
	From    Status `json:"from"`
	To      Status `json:"to"`
}

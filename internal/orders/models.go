package orders

import "time"

// LineItem is one cart line exactly as the customer submitted it.
type LineItem struct {
	ProductID      string `json:"productId"`
	Variant        string `json:"variant,omitempty"`
	Quantity       int    `json:"qty"`
	LineTotalCents int    `json:"lineTotal"`
}

type Customer struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Address      string `json:"address"`
	Shipping     string `json:"shipping"`
	PaymentLast5 string `json:"last5"`
}

// Order is append-only: after creation only Status (and UpdatedAt) change.
type Order struct {
	ID         string     `json:"orderId"`
	ShopID     string     `json:"shopId"`
	Customer   Customer   `json:"customer"`
	Items      []LineItem `json:"items"`
	TotalCents int        `json:"total"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// PlanLine is one reservation the writer will attempt. Duplicate cart lines
// for the same product and variant are merged into one PlanLine; Line is the
// index of the first of them.
type PlanLine struct {
	Line           int
	ProductID      string
	ProductName    string
	Variant        string
	Qty            int
	UnitPriceCents int
}

type Plan struct {
	Lines      []PlanLine
	TotalCents int
}

type ListFilter struct {
	ShopID string
	Status Status
	Limit  int
}

package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/insbuy/groupbuy-orders/internal/inventory"
	"github.com/insbuy/groupbuy-orders/internal/ledger"
	"github.com/insbuy/groupbuy-orders/internal/orders"
)

type OrderService interface {
	Submit(ctx context.Context, req orders.SubmitRequest) (orders.Result, error)
	Get(ctx context.Context, id string) (orders.Order, error)
	List(ctx context.Context, f orders.ListFilter) ([]orders.Order, error)
	UpdateStatus(ctx context.Context, id string, to orders.Status, traceID string) (orders.Order, error)
}

// Cache is satisfied by redisx.JSONCache.
type Cache interface {
	Get(ctx context.Context, id string, out any) (bool, error)
	Set(ctx context.Context, id string, v any) error
	Delete(ctx context.Context, id string) error
}

// OrdersHandler serves the storefront API. The caches and limiter are
// optional.
type OrdersHandler struct {
	Orders      OrderService
	Ledger      inventory.Snapshotter
	StatusCache Cache
	StockCache  Cache
	Limiter     *ShopLimiter
	Log         *slog.Logger
}

type submitItem struct {
	ProductID string          `json:"productId"`
	Variant   string          `json:"variant"`
	Qty       json.RawMessage `json:"qty"`
	LineTotal json.RawMessage `json:"lineTotal"`
}

type SubmitOrderReq struct {
	ShopID   string          `json:"shopId"`
	Items    []submitItem    `json:"items"`
	Customer orders.Customer `json:"customer"`
}

type updateStatusReq struct {
	Status string `json:"status"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/orders", h.submitOrder)
		r.Get("/orders/{id}", h.getOrder)
		r.Patch("/orders/{id}/status", h.updateStatus)
		r.Get("/shops/{shopId}/orders", h.listOrders)
		r.Get("/products/{id}/stock", h.getStock)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, orders.Result{Status: orders.ResultError, Message: msg})
}

// integer parses a JSON integer literal; anything else (fractions,
// strings, missing) reports false.
func integer(raw json.RawMessage) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	return n, err == nil
}

func (req SubmitOrderReq) items() []orders.LineItem {
	out := make([]orders.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		// a non-integer quantity becomes 0 so the validator rejects it
		// as an invalid quantity at the right line
		qty, _ := integer(it.Qty)
		total, _ := integer(it.LineTotal)
		out = append(out, orders.LineItem{ProductID: it.ProductID, Variant: it.Variant, Quantity: qty, LineTotalCents: total})
	}
	return out
}

func submitStatus(err error) int {
	switch {
	case errors.Is(err, orders.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, orders.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrInsufficientStock), errors.Is(err, orders.ErrIdempotencyInFlight):
		return http.StatusConflict
	case errors.Is(err, orders.ErrInvalidQuantity):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusServiceUnavailable
	}
}

func (h *OrdersHandler) submitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: malformed json")
		return
	}
	if h.Limiter != nil && !h.Limiter.Allow(req.ShopID) {
		writeError(w, http.StatusTooManyRequests, "too many orders, please try again shortly")
		return
	}

	res, err := h.Orders.Submit(r.Context(), orders.SubmitRequest{
		ShopID:         req.ShopID,
		Items:          req.items(),
		Customer:       req.Customer,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		TraceID:        traceID(r),
	})
	if err != nil {
		writeJSON(w, submitStatus(err), res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func traceID(r *http.Request) string {
	if id := r.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return middleware.GetReqID(r.Context())
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) cache
	if h.StatusCache != nil {
		var o orders.Order
		if ok, err := h.StatusCache.Get(ctx, id, &o); err == nil && ok {
			writeJSON(w, http.StatusOK, o)
			return
		} else if err != nil {
			h.logger().Warn("order cache read failed", "order_id", id, "err", err)
		}
	}

	// 2) store
	o, err := h.Orders.Get(ctx, id)
	if errors.Is(err, orders.ErrOrderNotFound) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		h.logger().Error("get order", "order_id", id, "err", err)
		writeError(w, http.StatusServiceUnavailable, "could not load the order")
		return
	}
	if h.StatusCache != nil {
		if err := h.StatusCache.Set(ctx, id, o); err != nil {
			h.logger().Warn("order cache write failed", "order_id", id, "err", err)
		}
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: malformed json")
		return
	}
	to, err := orders.ParseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	o, err := h.Orders.UpdateStatus(r.Context(), id, to, traceID(r))
	switch {
	case errors.Is(err, orders.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order not found")
		return
	case errors.Is(err, orders.ErrInvalidTransition), errors.Is(err, orders.ErrStatusConflict):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.logger().Error("update order status", "order_id", id, "err", err)
		writeError(w, http.StatusServiceUnavailable, "could not update the order")
		return
	}
	if h.StatusCache != nil {
		if err := h.StatusCache.Delete(context.WithoutCancel(r.Context()), id); err != nil {
			h.logger().Warn("order cache evict failed", "order_id", id, "err", err)
		}
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	f := orders.ListFilter{ShopID: chi.URLParam(r, "shopId")}
	if s := r.URL.Query().Get("status"); s != "" {
		st, err := orders.ParseStatus(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Status = st
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	list, err := h.Orders.List(ctx, f)
	if err != nil {
		h.logger().Error("list orders", "shop_id", f.ShopID, "err", err)
		writeError(w, http.StatusServiceUnavailable, "could not list orders")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getStock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.StockCache != nil {
		var v inventory.StockView
		if ok, err := h.StockCache.Get(ctx, id, &v); err == nil && ok {
			writeJSON(w, http.StatusOK, v)
			return
		} else if err != nil {
			h.logger().Warn("stock cache read failed", "product_id", id, "err", err)
		}
	}

	p, err := h.Ledger.Snapshot(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	if err != nil {
		h.logger().Error("stock snapshot", "product_id", id, "err", err)
		writeError(w, http.StatusServiceUnavailable, "could not load stock")
		return
	}
	v := inventory.ViewOf(p, time.Now())
	if h.StockCache != nil {
		if err := h.StockCache.Set(ctx, id, v); err != nil {
			h.logger().Warn("stock cache write failed", "product_id", id, "err", err)
		}
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *OrdersHandler) logger() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}

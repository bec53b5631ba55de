package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/insbuy/groupbuy-orders/internal/ledger"
)

// EventSink publishes envelopes; the Kafka event bus implements it.
type EventSink interface {
	Emit(ctx context.Context, topic string, key []byte, env Envelope) error
}

// Idempotency remembers which order a client-supplied key produced.
//
// Claim atomically reserves key for the caller. It returns the order id when
// the key already completed, "" when the caller now holds the key, and
// ErrIdempotencyInFlight while another submit holds it. The holder ends the
// claim with Remember on success or Forget on failure.
type Idempotency interface {
	Claim(ctx context.Context, key string) (orderID string, err error)
	Remember(ctx context.Context, key, orderID string) error
	Forget(ctx context.Context, key string) error
}

// StockViews is the read-side stock cache; redisx.JSONCache implements it.
type StockViews interface {
	Delete(ctx context.Context, productID string) error
}

type SubmitRequest struct {
	ShopID         string
	Items          []LineItem
	Customer       Customer
	IdempotencyKey string
	TraceID        string
}

const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Result is the response shape handed to clients.
type Result struct {
	Status  string `json:"status"`
	OrderID string `json:"orderId,omitempty"`
	Message string `json:"message,omitempty"`
}

// ResultFromError renders err for the client. Non-SubmitErrors get a
// generic message so storage details never leak.
func ResultFromError(err error) Result {
	var se *SubmitError
	if errors.As(err, &se) {
		return Result{Status: ResultError, Message: se.Error()}
	}
	return Result{Status: ResultError, Message: "could not place the order, please try again"}
}

type Options struct {
	ReserveTimeout time.Duration
	// PersistRetries is the number of commit attempts made for persistence
	// failures, including the first one.
	PersistRetries int
	PersistBackoff time.Duration
	ServiceName    string
	Events         EventSink
	Idempotency    Idempotency
	// StockViews entries are evicted for every product an order reserved.
	StockViews StockViews
	NewID      IDFunc
	Log        *slog.Logger
}

// Service is the entry point of order submission. It drives the validator
// and writer and is the only place outcomes are turned into results.
type Service struct {
	validator *Validator
	writer    *Writer
	store     Store
	events    EventSink
	idem      Idempotency
	views     StockViews
	newID     IDFunc
	attempts  int
	backoff   time.Duration
	producer  string
	log       *slog.Logger
	now       func() time.Time
}

func NewService(l Ledger, store Store, opts Options) *Service {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		validator: &Validator{Ledger: l},
		writer:    &Writer{Ledger: l, Store: store, ReserveTimeout: opts.ReserveTimeout, Log: log},
		store:     store,
		events:    opts.Events,
		idem:      opts.Idempotency,
		views:     opts.StockViews,
		newID:     opts.NewID,
		attempts:  opts.PersistRetries,
		backoff:   opts.PersistBackoff,
		producer:  opts.ServiceName,
		log:       log,
		now:       time.Now,
	}
	if s.newID == nil {
		s.newID = DateSuffixID
	}
	if s.attempts <= 0 {
		s.attempts = 1
	}
	if s.producer == "" {
		s.producer = "groupbuy-api"
	}
	return s
}

func (s *Service) Submit(ctx context.Context, req SubmitRequest) (Result, error) {
	idemKey := ""
	if req.IdempotencyKey != "" && s.idem != nil {
		key := req.ShopID + ":" + req.IdempotencyKey
		id, err := s.idem.Claim(ctx, key)
		switch {
		case errors.Is(err, ErrIdempotencyInFlight):
			serr := inFlight(err)
			return ResultFromError(serr), serr
		case err != nil:
			s.log.Warn("idempotency claim failed", "key", key, "err", err)
		case id != "":
			return Result{Status: ResultSuccess, OrderID: id}, nil
		default:
			idemKey = key
		}
	}

	res, err := s.submit(ctx, req, idemKey)
	if err != nil && idemKey != "" {
		if ferr := s.idem.Forget(context.WithoutCancel(ctx), idemKey); ferr != nil {
			s.log.Warn("idempotency forget failed", "key", idemKey, "err", ferr)
		}
	}
	return res, err
}

func (s *Service) submit(ctx context.Context, req SubmitRequest, idemKey string) (Result, error) {
	plan, err := s.validator.Validate(ctx, req.ShopID, req.Items)
	if err != nil {
		s.log.Info("order rejected", "shop_id", req.ShopID, "err", err)
		return ResultFromError(err), err
	}

	for attempt := 1; ; attempt++ {
		now := s.now().UTC()
		order := Order{
			ID:         s.newID(now),
			ShopID:     req.ShopID,
			Customer:   req.Customer,
			Items:      append([]LineItem(nil), req.Items...),
			TotalCents: plan.TotalCents,
			Status:     StatusCreated,
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		c, err := s.writer.Commit(ctx, order, plan)
		if err == nil {
			s.log.Info("order created", "order_id", order.ID, "shop_id", order.ShopID,
				"total_cents", order.TotalCents, "lines", len(plan.Lines), "attempt", attempt)
			s.afterCommit(ctx, req, order, c, idemKey)
			return Result{Status: ResultSuccess, OrderID: order.ID}, nil
		}
		if !errors.Is(err, ErrPersistence) {
			s.log.Info("order rejected at commit", "shop_id", req.ShopID, "err", err)
			return ResultFromError(err), err
		}
		if attempt >= s.attempts {
			s.log.Error("order commit failed", "shop_id", req.ShopID, "attempts", attempt, "err", errors.Unwrap(err))
			return ResultFromError(err), err
		}
		s.log.Warn("order commit failed, retrying", "order_id", order.ID,
			"duplicate_id", errors.Is(err, ErrDuplicateID), "attempt", attempt, "err", errors.Unwrap(err))

		if s.backoff > 0 {
			t := time.NewTimer(s.backoff * time.Duration(attempt))
			select {
			case <-ctx.Done():
				t.Stop()
				return ResultFromError(err), err
			case <-t.C:
			}
		}
	}
}

func (s *Service) afterCommit(ctx context.Context, req SubmitRequest, o Order, c Committed, idemKey string) {
	// the order exists; side effects must not depend on the caller staying
	ctx = context.WithoutCancel(ctx)
	if idemKey != "" {
		if err := s.idem.Remember(ctx, idemKey, o.ID); err != nil {
			s.log.Warn("idempotency remember failed", "key", idemKey, "err", err)
		}
	}
	s.emit(ctx, TopicOrderCreated, PartitionKey(o.ID), EventOrderCreated, req.TraceID, o.ID, OrderCreatedPayload{
		OrderID: o.ID, ShopID: o.ShopID, Items: o.Items, TotalCents: o.TotalCents, Status: o.Status,
	})
	if s.views != nil {
		evicted := make(map[string]bool, len(c.Reservations))
		for _, r := range c.Reservations {
			if evicted[r.ProductID] {
				continue
			}
			evicted[r.ProductID] = true
			if err := s.views.Delete(ctx, r.ProductID); err != nil {
				s.log.Warn("stock view evict failed", "product_id", r.ProductID, "err", err)
			}
		}
	}
	for _, r := range c.Reservations {
		s.emit(ctx, TopicStockChanged, StockPartitionKey(r.ProductID), EventStockChanged, req.TraceID, o.ID, stockChanged(o.ID, r))
	}
}

func stockChanged(orderID string, r ledger.Reservation) StockChangedPayload {
	return StockChangedPayload{
		OrderID:         orderID,
		ProductID:       r.ProductID,
		Variant:         r.Variant,
		Delta:           -r.Qty,
		Stock:           r.NewStock,
		TotalStock:      r.NewTotal,
		CommittedAmount: r.Committed,
	}
}

func (s *Service) emit(ctx context.Context, topic string, key []byte, eventType, trace, orderID string, payload any) {
	if s.events == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("encode event", "event_type", eventType, "err", err)
		return
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    s.now().UTC(),
		Producer:      s.producer,
		TraceID:       trace,
		CorrelationID: orderID,
		Payload:       b,
	}
	if err := s.events.Emit(ctx, topic, key, env); err != nil {
		s.log.Warn("publish event failed", "event_type", eventType, "order_id", orderID, "err", err)
	}
}

func (s *Service) Get(ctx context.Context, id string) (Order, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]Order, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	return s.store.List(ctx, f)
}

// UpdateStatus moves an order along its lifecycle. Items and total are
// never touched.
func (s *Service) UpdateStatus(ctx context.Context, id string, to Status, traceID string) (Order, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if !CanTransition(o.Status, to) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}
	if err := s.store.UpdateStatus(ctx, id, o.Status, to); err != nil {
		return Order{}, err
	}
	from := o.Status
	o.Status = to
	o.UpdatedAt = s.now().UTC()
	s.log.Info("order status changed", "order_id", id, "from", from, "to", to)
	s.emit(context.WithoutCancel(ctx), TopicOrderStatusChanged, PartitionKey(id), EventOrderStatusChanged, traceID, id,
		OrderStatusChangedPayload{OrderID: id, From: from, To: to})
	return o, nil
}

// Package inventory keeps a read-side view of product stock in Redis,
// refreshed from stock events.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/insbuy/groupbuy-orders/internal/kafka"
	"github.com/insbuy/groupbuy-orders/internal/ledger"
	"github.com/insbuy/groupbuy-orders/internal/orders"
)

// StockView is what storefronts read for a product.
type StockView struct {
	ProductID         string           `json:"productId"`
	TotalStock        int              `json:"totalStock"`
	Variants          []ledger.Variant `json:"variants,omitempty"`
	CommittedAmount   int              `json:"currentAmount"`
	TargetAmount      *int             `json:"targetAmount,omitempty"`
	RemainingToTarget int              `json:"remainingToTarget"`
	SoldOut           bool             `json:"soldOut"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

func ViewOf(p ledger.Product, now time.Time) StockView {
	p = p.Clone()
	return StockView{
		ProductID:         p.ID,
		TotalStock:        p.TotalStock,
		Variants:          p.Variants,
		CommittedAmount:   p.CommittedAmount,
		TargetAmount:      p.TargetAmount,
		RemainingToTarget: p.RemainingToTarget(),
		SoldOut:           p.Deleted || p.TotalStock == 0,
		UpdatedAt:         now.UTC(),
	}
}

type Snapshotter interface {
	Snapshot(ctx context.Context, productID string) (ledger.Product, error)
}

type Cache interface {
	Set(ctx context.Context, id string, v any) error
	Delete(ctx context.Context, id string) error
}

// Dedup is satisfied by redisx.Dedup.
type Dedup interface {
	FirstSeen(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

// Service projects StockChanged events into the stock cache. Event payloads
// may arrive out of order across products, so the view is always rebuilt
// from the ledger rather than from the counters in the event.
type Service struct {
	Ledger Snapshotter
	Cache  Cache
	Dedup  Dedup
	Log    *slog.Logger
	Now    func() time.Time
}

func (s *Service) HandleStockChanged(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		s.logger().Warn("dropping undecodable message", "offset", m.Offset, "err", err)
		return nil
	}
	if env.EventType != orders.EventStockChanged {
		return nil
	}
	p, err := kafkax.UnwrapPayload[orders.StockChangedPayload](env.Payload)
	if err != nil {
		s.logger().Warn("dropping event with bad payload", "event_id", env.EventID, "err", err)
		return nil
	}

	if s.Dedup != nil {
		first, err := s.Dedup.FirstSeen(ctx, env.EventID)
		if err != nil {
			return fmt.Errorf("dedup %s: %w", env.EventID, err)
		}
		if !first {
			return nil
		}
	}

	if err := s.Refresh(ctx, p.ProductID); err != nil {
		if s.Dedup != nil {
			if ferr := s.Dedup.Forget(context.WithoutCancel(ctx), env.EventID); ferr != nil {
				s.logger().Warn("dedup forget failed", "event_id", env.EventID, "err", ferr)
			}
		}
		return err
	}
	s.logger().Debug("stock view refreshed", "product_id", p.ProductID, "order_id", p.OrderID, "delta", p.Delta)
	return nil
}

// Refresh rewrites the cached view of one product from the ledger. A
// product that no longer exists is evicted.
func (s *Service) Refresh(ctx context.Context, productID string) error {
	prod, err := s.Ledger.Snapshot(ctx, productID)
	if errors.Is(err, ledger.ErrNotFound) {
		return s.Cache.Delete(ctx, productID)
	}
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", productID, err)
	}
	return s.Cache.Set(ctx, productID, ViewOf(prod, s.now()))
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

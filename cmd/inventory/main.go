package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/insbuy/groupbuy-orders/internal/config"
	"github.com/insbuy/groupbuy-orders/internal/inventory"
	kafkax "github.com/insbuy/groupbuy-orders/internal/kafka"
	"github.com/insbuy/groupbuy-orders/internal/ledger"
	"github.com/insbuy/groupbuy-orders/internal/obs"
	"github.com/insbuy/groupbuy-orders/internal/orders"
	"github.com/insbuy/groupbuy-orders/internal/postgres"
	"github.com/insbuy/groupbuy-orders/internal/redisx"
)

// The stock projector reads order.stock.changed and keeps the Redis stock
// view current. It needs the Postgres ledger; the memory backend is
// process-local and cannot be projected.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := obs.Init(cfg.LogLevel).With("component", "stock-projector")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.DBMaxConns)
	if err != nil {
		fatal(log, "db connect", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	stock := ledger.NewPostgres(db, log)
	svc := &inventory.Service{
		Ledger: stock,
		Cache:  redisx.NewStockCache(rdb),
		Dedup:  &redisx.Dedup{RDB: rdb, Service: cfg.ServiceName + "-inventory"},
		Log:    log,
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.InventoryGroup, orders.TopicStockChanged, cfg.InventoryWorkers, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("consumer started", "group", cfg.InventoryGroup, "topic", orders.TopicStockChanged, "workers", cfg.InventoryWorkers)
		return cons.Start(gctx, svc.HandleStockChanged)
	})
	g.Go(func() error {
		sweepOrphans(gctx, log, stock, cfg.SweepInterval, cfg.SweepAge)
		return nil
	})
	if err := g.Wait(); err != nil {
		fatal(log, "consumer exit", err)
	}
	log.Info("consumer stopped")
}

// sweepOrphans returns stock held by reservations whose order was never
// stored, e.g. after a rollback release failed.
func sweepOrphans(ctx context.Context, log *slog.Logger, l *ledger.Postgres, every, age time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		n, err := l.SweepOrphans(ctx, age)
		if err != nil && ctx.Err() == nil {
			log.Error("sweep orphaned reservations", "err", err)
		}
		if n > 0 {
			log.Warn("released orphaned reservations", "count", n)
		}
	}
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "err", err)
	os.Exit(1)
}

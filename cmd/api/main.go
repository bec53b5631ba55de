package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/insbuy/groupbuy-orders/internal/config"
	"github.com/insbuy/groupbuy-orders/internal/httpx"
	kafkax "github.com/insbuy/groupbuy-orders/internal/kafka"
	"github.com/insbuy/groupbuy-orders/internal/ledger"
	"github.com/insbuy/groupbuy-orders/internal/obs"
	"github.com/insbuy/groupbuy-orders/internal/orders"
	"github.com/insbuy/groupbuy-orders/internal/postgres"
	"github.com/insbuy/groupbuy-orders/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := obs.Init(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ledger & store
	var (
		stock orders.Ledger
		store orders.Store
	)
	switch cfg.LedgerBackend {
	case config.LedgerMemory:
		log.Warn("using in-memory ledger; stock and orders are lost on restart")
		stock = ledger.NewMemory(log)
		store = orders.NewMemoryStore()
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.DBMaxConns)
		if err != nil {
			fatal(log, "db connect", err)
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			fatal(log, "db migrate", err)
		}
		stock = ledger.NewPostgres(db, log)
		store = &orders.PGStore{DB: db}
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers, one per topic
	bus := kafkax.NewEventBus(
		kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCreated, 1024, log),
		kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicStockChanged, 1024, log),
		kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderStatusChanged, 256, log),
	)
	bus.Start()

	stockCache := redisx.NewStockCache(rdb)
	svc := orders.NewService(stock, store, orders.Options{
		ReserveTimeout: cfg.ReserveTimeout,
		PersistRetries: cfg.PersistRetries,
		PersistBackoff: cfg.PersistBackoff,
		ServiceName:    cfg.ServiceName,
		Events:         bus,
		Idempotency:    &redisx.Idempotency{RDB: rdb},
		StockViews:     stockCache,
		Log:            log,
	})

	router := httpx.NewRouter(log)
	oh := &httpx.OrdersHandler{
		Orders:      svc,
		Ledger:      stock,
		StatusCache: redisx.NewStatusCache(rdb),
		StockCache:  stockCache,
		Limiter:     httpx.NewShopLimiter(cfg.SubmitRatePerSec, cfg.SubmitBurst),
		Log:         log,
	}
	oh.Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	// graceful shutdown
	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr, "ledger", cfg.LedgerBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(log, "listen", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Warn("http shutdown", "err", err)
	}
	bus.Close() // flush queued events after in-flight requests finished
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "err", err)
	os.Exit(1)
}

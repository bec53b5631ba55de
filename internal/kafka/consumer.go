package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

const maxBackoff = 10 * time.Second

// Handler returns nil only when the message was processed and its offset
// may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type Consumer struct {
	r       *kafka.Reader
	workers int
	log     *slog.Logger
	backoff time.Duration
	offsets *offsetTracker
	// commitMu keeps watermark commits of one partition in order.
	commitMu sync.Mutex
}

func NewConsumer(brokers []string, group, topic string, workers int, log *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{r: r, workers: workers, log: log, backoff: 200 * time.Millisecond, offsets: newOffsetTracker()}
}

// Start reads until ctx ends. Messages with the same key always go to the
// same worker, so per-key order is kept. A failing message is retried in
// place and offsets are committed only up to the oldest unhandled message.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	lanes := make([]chan kafka.Message, c.workers)
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 64)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range lanes {
		jobs := lanes[i]
		g.Go(func() error {
			for m := range jobs {
				if gctx.Err() != nil {
					continue // drain; never committed, so redelivered
				}
				c.handle(gctx, h, m)
			}
			return nil
		})
	}

	err := c.dispatch(ctx, lanes)
	for _, l := range lanes {
		close(l)
	}
	if werr := g.Wait(); err == nil {
		err = werr
	}
	return err
}

func (c *Consumer) dispatch(ctx context.Context, lanes []chan kafka.Message) error {
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		c.offsets.fetched(m)
		lane := lanes[xxhash.Sum64(m.Key)%uint64(len(lanes))]
		select {
		case lane <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) {
	wait := c.backoff
	for {
		err := h(ctx, m)
		if err == nil {
			break
		}
		c.log.Error("handle message", "topic", m.Topic, "partition", m.Partition, "offset", m.Offset, "err", err)
		sleep(ctx, wait)
		if ctx.Err() != nil {
			return
		}
		wait = min(2*wait, maxBackoff)
	}

	c.commitMu.Lock()
	defer c.commitMu.Unlock()
	if mark, ok := c.offsets.handled(m); ok {
		if err := c.r.CommitMessages(ctx, mark); err != nil && ctx.Err() == nil {
			c.log.Warn("commit offset", "topic", mark.Topic, "offset", mark.Offset, "err", err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/insbuy/groupbuy-orders/internal/orders"
)

// EventBus routes envelopes to the producer of their topic.
type EventBus struct {
	producers map[string]*Producer
}

func NewEventBus(ps ...*Producer) *EventBus {
	b := &EventBus{producers: make(map[string]*Producer, len(ps))}
	for _, p := range ps {
		b.producers[p.Topic()] = p
	}
	return b
}

func (b *EventBus) Emit(ctx context.Context, topic string, key []byte, env orders.Envelope) error {
	p, ok := b.producers[topic]
	if !ok {
		return fmt.Errorf("no producer for topic %s", topic)
	}
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return p.Publish(ctx, key, value,
		kafka.Header{Key: "x-event-type", Value: []byte(env.EventType)},
		kafka.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(env.EventVersion))},
	)
}

func (b *EventBus) Start() {
	for _, p := range b.producers {
		p.Start()
	}
}

func (b *EventBus) Close() {
	for _, p := range b.producers {
		p.Close()
	}
}

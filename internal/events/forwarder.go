// Package events bridges the in-process bus and Kafka: basket notifications go
// out, completed checkouts come in.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fjod/go_basket/internal/metrics"
	"github.com/fjod/go_basket/internal/notify"
	"github.com/fjod/go_basket/pkg/logger"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	BasketEventsTopic = "basket-events"

	defaultBuffer = 1024
)

// MessageWriter is the part of *kafka.Writer the forwarder uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaWriter(topic string, brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{}, // one basket, one partition
		AllowAutoTopicCreation: true,
	}
}

// Event is the Kafka payload of one bus notification
type Event struct {
	EventType  string    `json:"event_type"`
	BasketKey  string    `json:"basket_key"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Forwarder buffers bus notifications and writes them to Kafka in batches.
// Bus handlers never block on Kafka; when the buffer is full events are dropped.
type Forwarder struct {
	writer    MessageWriter
	topic     string
	flushTick time.Duration
	events    chan Event
	log       *zap.Logger
	metrics   *metrics.Metrics
}

func NewForwarder(writer MessageWriter, log *zap.Logger, m *metrics.Metrics) *Forwarder {
	return &Forwarder{
		writer:    writer,
		topic:     BasketEventsTopic,
		flushTick: 500 * time.Millisecond,
		events:    make(chan Event, defaultBuffer),
		log:       logger.OrNop(log),
		metrics:   m,
	}
}

// Subscribe attaches the forwarder to every basket topic. The returned
// function detaches it.
func (f *Forwarder) Subscribe(bus *notify.Bus) (unsubscribe func()) {
	topics := []string{notify.TopicBasketRefresh, notify.TopicBasketItemAdded, notify.TopicBasketRendered}
	unsubs := make([]func(), 0, len(topics))
	for _, topic := range topics {
		unsubs = append(unsubs, bus.Subscribe(topic, f.enqueue))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (f *Forwarder) enqueue(topic, payload string) {
	select {
	case f.events <- Event{EventType: topic, BasketKey: payload, OccurredAt: time.Now().UTC()}:
	default:
		f.log.Warn("event buffer full, dropping event", zap.String("event_type", topic))
		f.metrics.Forwarded(topic, false)
	}
}

// Run writes buffered events until ctx is done, then flushes what is left.
func (f *Forwarder) Run(ctx context.Context) {
	ticker := time.NewTicker(f.flushTick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.flush(ctx)
		case <-ctx.Done():
			// the run context is gone, give the final flush its own deadline
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			f.flush(drainCtx)
			cancel()
			return
		}
	}
}

func (f *Forwarder) flush(ctx context.Context) {
	var batch []Event
drain:
	for {
		select {
		case ev := <-f.events:
			batch = append(batch, ev)
		default:
			break drain
		}
	}
	if len(batch) == 0 {
		return
	}

	msgs := make([]kafka.Message, 0, len(batch))
	for _, ev := range batch {
		msg, err := f.message(ev)
		if err != nil {
			f.log.Error("failed to encode event", zap.String("event_type", ev.EventType), zap.Error(err))
			continue
		}
		msgs = append(msgs, msg)
	}

	err := f.writer.WriteMessages(ctx, msgs...)
	if err != nil {
		f.log.Error("failed to publish basket events", zap.Int("count", len(msgs)), zap.Error(err))
	}
	for _, ev := range batch {
		f.metrics.Forwarded(ev.EventType, err == nil)
	}
}

func (f *Forwarder) message(ev Event) (kafka.Message, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(ev.BasketKey), // basket key for ordering
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.EventType)},
		},
	}, nil
}

func (f *Forwarder) Close() error {
	return f.writer.Close()
}

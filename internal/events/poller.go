package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/fjod/go_basket/pkg/logger"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	CheckoutOutboxTopic = "checkout-outbox"
	ConsumerGroup       = "basket-service"
)

// MessageReader is the part of *kafka.Reader the poller uses
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Clearer empties a basket by id
type Clearer interface {
	Clear(ctx context.Context, basketID string) error
}

func NewKafkaReader(brokers ...string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    CheckoutOutboxTopic,
		GroupID:  ConsumerGroup,
		MaxBytes: 10e6, // 10MB
	})
}

type checkoutCompleted struct {
	BasketID string `json:"basket_id"`
}

// Poller clears baskets whose checkout completed elsewhere.
type Poller struct {
	reader  MessageReader
	baskets Clearer
	log     *zap.Logger

	// read errors back off from minBackoff, doubling up to maxBackoff
	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewPoller(reader MessageReader, baskets Clearer, log *zap.Logger) *Poller {
	return &Poller{
		reader:     reader,
		baskets:    baskets,
		log:        logger.OrNop(log),
		minBackoff: 100 * time.Millisecond,
		maxBackoff: 5 * time.Second,
	}
}

// Run reads until ctx is done or the reader is closed.
func (p *Poller) Run(ctx context.Context) {
	backoff := p.minBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		err := p.readAndClear(ctx)
		switch {
		case err == nil:
			backoff = p.minBackoff
			continue
		case errors.Is(err, io.EOF):
			p.log.Info("reader closed, poller stopping")
			return
		case ctx.Err() != nil:
			return
		}

		p.log.Warn("error reading message", zap.Error(err), zap.Duration("retry_in", backoff))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, p.maxBackoff)
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.log.Warn("error closing reader", zap.Error(err))
	}
}

// readAndClear handles one message. Only read errors are returned; bad payloads
// and clear failures are logged and skipped.
func (p *Poller) readAndClear(ctx context.Context) error {
	m, err := p.reader.ReadMessage(ctx)
	if err != nil {
		return err
	}

	var payload checkoutCompleted
	if err := json.Unmarshal(m.Value, &payload); err != nil {
		p.log.Warn("error parsing message", zap.Error(err), zap.Int64("offset", m.Offset))
		return nil
	}
	if payload.BasketID == "" {
		p.log.Warn("missing basket_id", zap.Int64("offset", m.Offset))
		return nil
	}

	if err := p.baskets.Clear(ctx, payload.BasketID); err != nil {
		p.log.Error("failed to clear basket", zap.String("basket_id", payload.BasketID), zap.Error(err))
		return nil
	}
	p.log.Info("basket cleared after checkout", zap.String("basket_id", payload.BasketID))
	return nil
}

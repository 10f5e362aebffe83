package repository

import (
	"context"
	"time"

	"SignalFeed/internal/domain/models"
	drepo "SignalFeed/internal/domain/repository"
	pkgkafka "SignalFeed/pkg/kafka"
)

// BatchProducer is the producer surface the publisher needs.
type BatchProducer interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
	Close() error
}

// PriceEvent is the Kafka payload for one resolved signal.
type PriceEvent struct {
	ComputationID string        `json:"computation_id"`
	SignalID      string        `json:"signal_id"`
	Status        models.Status `json:"status"`
	Price         string        `json:"price,omitempty"`
	Mantissa      string        `json:"mantissa,omitempty"`
	Timestamp     int64         `json:"timestamp"`
}

// KafkaPricePublisher publishes one message per signal keyed by signal id,
// so every signal keeps its order on a single partition.
type KafkaPricePublisher struct {
	producer BatchProducer
	topic    string
	now      func() time.Time
}

var _ drepo.PricePublisher = (*KafkaPricePublisher)(nil)

func NewKafkaPricePublisher(p BatchProducer, topic string) *KafkaPricePublisher {
	return &KafkaPricePublisher{producer: p, topic: topic, now: time.Now}
}

func (p *KafkaPricePublisher) PublishPrices(ctx context.Context, computationID string, prices []models.SignalPrice) error {
	if len(prices) == 0 {
		return nil
	}
	ts := p.now().UnixMilli()
	msgs := make([]pkgkafka.Message, 0, len(prices))
	for _, price := range prices {
		view := models.NewPriceView(price)
		msgs = append(msgs, pkgkafka.Message{
			Key: []byte(price.SignalID),
			Value: PriceEvent{
				ComputationID: computationID,
				SignalID:      price.SignalID,
				Status:        price.Status,
				Price:         view.Price,
				Mantissa:      view.Mantissa,
				Timestamp:     ts,
			},
			Headers: map[string]string{"computation_id": computationID},
		})
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaPricePublisher) Close() error {
	return p.producer.Close()
}

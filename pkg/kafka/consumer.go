package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// ConsumerOption configures Consumer.
type ConsumerOption func(*ConsumerConfig)

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	Brokers         []string
	GroupID         string
	AutoOffsetReset string
	MinBytes        int
	MaxBytes        int
	MaxWait         time.Duration
	CommitTimeout   time.Duration
}

// WithConsumerBrokers sets Kafka brokers.
func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.Brokers = brokers
	}
}

// WithConsumerGroupID sets consumer group ID. An empty group reads the
// partitions directly and never commits.
func WithConsumerGroupID(groupID string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.GroupID = groupID
	}
}

// WithConsumerAutoOffsetReset sets where a new group starts: "earliest" or "latest".
func WithConsumerAutoOffsetReset(autoOffsetReset string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.AutoOffsetReset = autoOffsetReset
	}
}

// WithConsumerFetch sets fetch min/max bytes.
func WithConsumerFetch(minBytes, maxBytes int) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.MinBytes = minBytes
		c.MaxBytes = maxBytes
	}
}

// WithConsumerMaxWait sets how long a fetch waits for MinBytes.
func WithConsumerMaxWait(d time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		if d > 0 {
			c.MaxWait = d
		}
	}
}

// Record is a fetched Kafka message.
type Record struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time

	km kafka.Message
}

// Consumer reads a single topic. Fetch and Commit must be called from one
// goroutine.
type Consumer struct {
	cfg    *ConsumerConfig
	topic  string
	reader *kafka.Reader
}

// NewConsumer creates a consumer for topic.
func NewConsumer(topic string, opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		AutoOffsetReset: "latest",
		MinBytes:        1,
		MaxBytes:        10e6, // 10MB
		MaxWait:         500 * time.Millisecond,
		CommitTimeout:   2 * time.Second,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	start := kafka.LastOffset
	if strings.EqualFold(cfg.AutoOffsetReset, "earliest") {
		start = kafka.FirstOffset
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.GroupID,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     cfg.MaxWait,
		StartOffset: start,
	})

	initConsumerMetricsOnce()
	return &Consumer{cfg: cfg, topic: topic, reader: reader}, nil
}

// Topic returns the consumed topic.
func (c *Consumer) Topic() string {
	return c.topic
}

// Fetch blocks until the next message or ctx is done.
func (c *Consumer) Fetch(ctx context.Context) (Record, error) {
	km, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return Record{}, err
	}
	if consumerMsgsTotal != nil {
		consumerMsgsTotal.WithLabelValues(c.topic).Inc()
		consumerLag.WithLabelValues(c.topic).Set(float64(c.reader.Lag()))
	}
	return Record{
		Topic:     km.Topic,
		Partition: km.Partition,
		Offset:    km.Offset,
		Key:       km.Key,
		Value:     km.Value,
		Time:      km.Time,
		km:        km,
	}, nil
}

// Commit marks records as processed. It is a no-op without a group.
func (c *Consumer) Commit(ctx context.Context, records ...Record) error {
	if c.cfg.GroupID == "" || len(records) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(records))
	for _, r := range records {
		msgs = append(msgs, r.km)
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CommitTimeout)
	defer cancel()
	if err := c.reader.CommitMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("commit %s: %w", c.topic, err)
	}
	return nil
}

// Close closes the reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

var (
	consumerMsgsTotal *prometheus.CounterVec
	consumerLag       *prometheus.GaugeVec
	consumerOnce      = make(chan struct{}, 1)
)

func initConsumerMetricsOnce() {
	select {
	case consumerOnce <- struct{}{}:
		consumerMsgsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "signalfeed_kafka_consumer_messages_total", Help: "Messages fetched from Kafka"},
			[]string{"topic"},
		)
		consumerLag = promauto.NewGaugeVec(
			prometheus.GaugeOpts{Name: "signalfeed_kafka_consumer_lag", Help: "Reader lag reported after the last fetch"},
			[]string{"topic"},
		)
	default:
		// already initialized
	}
}

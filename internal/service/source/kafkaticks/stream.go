// Package kafkaticks consumes normalized price ticks that other services
// publish to Kafka.
package kafkaticks

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"SignalFeed/internal/domain/models"
	"SignalFeed/internal/service/worker"
	"SignalFeed/pkg/kafka"
	"SignalFeed/pkg/util"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// Reader is the part of the Kafka consumer a connection needs.
type Reader interface {
	Fetch(ctx context.Context) (kafka.Record, error)
	Commit(ctx context.Context, records ...kafka.Record) error
	Close() error
}

// ReaderFactory opens a new reader for every connection.
type ReaderFactory func() (Reader, error)

// Dialer opens tick connections.
type Dialer struct {
	open ReaderFactory
}

var _ worker.StreamDialer = (*Dialer)(nil)

// NewDialer returns a dialer reading topic from brokers.
func NewDialer(topic string, opts ...kafka.ConsumerOption) *Dialer {
	return NewDialerWithFactory(func() (Reader, error) {
		return kafka.NewConsumer(topic, opts...)
	})
}

// NewDialerWithFactory returns a dialer using a custom reader factory.
func NewDialerWithFactory(open ReaderFactory) *Dialer {
	return &Dialer{open: open}
}

// Dial opens a reader. Kafka readers connect lazily so ctx is unused.
func (d *Dialer) Dial(_ context.Context) (worker.StreamConn, error) {
	r, err := d.open()
	if err != nil {
		return nil, fmt.Errorf("kafka ticks: %w", err)
	}
	return &Conn{reader: r, subs: make(map[string]struct{})}, nil
}

// Conn filters the tick topic down to the subscribed assets.
type Conn struct {
	reader Reader

	mu   sync.RWMutex
	subs map[string]struct{}
}

// Subscribe adds ids to the filter.
func (c *Conn) Subscribe(_ context.Context, ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		c.subs[id] = struct{}{}
	}
	return nil
}

// Unsubscribe removes ids from the filter.
func (c *Conn) Unsubscribe(_ context.Context, ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.subs, id)
	}
	return nil
}

func (c *Conn) subscribed(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subs[id]
	return ok
}

// Next returns the next tick for a subscribed asset. Offsets are committed
// once a record is consumed or skipped.
func (c *Conn) Next(ctx context.Context) ([]models.Observation, error) {
	for {
		rec, err := c.reader.Fetch(ctx)
		if err != nil {
			return nil, fmt.Errorf("kafka ticks fetch: %w", err)
		}

		obs, perr := parse(rec)
		if cerr := c.reader.Commit(ctx, rec); cerr != nil {
			return nil, cerr
		}
		if perr != nil {
			return nil, perr
		}
		if c.subscribed(obs.AssetID) {
			return []models.Observation{obs}, nil
		}
	}
}

// Close closes the reader.
func (c *Conn) Close() error {
	return c.reader.Close()
}

// parse decodes {"id":"BTC-USD","price":"67187.33","timestamp":1717171717123}.
// price may be a JSON string or number and timestamp may be seconds,
// milliseconds or RFC3339. The record key is used when id is absent.
func parse(rec kafka.Record) (models.Observation, error) {
	if !gjson.ValidBytes(rec.Value) {
		return models.Observation{}, fmt.Errorf("%w: invalid json at offset %d", worker.ErrMalformed, rec.Offset)
	}
	root := gjson.ParseBytes(rec.Value)

	id := strings.TrimSpace(root.Get("id").String())
	if id == "" {
		id = string(rec.Key)
	}
	p := root.Get("price")
	if id == "" || !p.Exists() {
		return models.Observation{}, fmt.Errorf("%w: tick without id or price at offset %d", worker.ErrMalformed, rec.Offset)
	}

	raw := p.Raw
	if p.Type == gjson.String {
		raw = p.Str
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return models.Observation{}, fmt.Errorf("%w: price %q: %v", worker.ErrMalformed, raw, err)
	}

	obs := models.Observation{AssetID: id, Price: price, ObservedAt: rec.Time}
	if ts := root.Get("timestamp"); ts.Exists() {
		if t, ok := util.ParseTime(ts.String()); ok {
			obs.ObservedAt = t
		}
	}
	return obs, nil
}

// Package worker keeps the asset cache fed from external price sources.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"SignalFeed/internal/domain/models"
	drepo "SignalFeed/internal/domain/repository"
	applogger "SignalFeed/pkg/logger"
	"SignalFeed/pkg/metrics"

	"github.com/shopspring/decimal"
)

var (
	ErrMalformed      = errors.New("worker: malformed payload")
	ErrReadTimeout    = errors.New("worker: read timeout")
	ErrAlreadyRunning = errors.New("worker: already running")
)

// SourceWorker maintains one source's subscription and writes its
// observations into a Sink.
type SourceWorker interface {
	Name() string
	Start(ctx context.Context, ids []string) error
	UpdateSubscription(ctx context.Context, ids []string) error
	Stop() error
	Liveness() uint64
	// Done is closed when the current run loop exits, including by panic.
	// It is nil before the first Start.
	Done() <-chan struct{}
}

// Sink receives normalized observations.
type Sink interface {
	Put(sourceID, assetID string, price decimal.Decimal, ts time.Time)
}

// Option configures a worker.
type Option func(*Config)

// Config holds worker configuration. Streaming and polling workers read the
// fields that apply to them.
type Config struct {
	Backoff           Backoff
	ConnectionTimeout time.Duration
	Interval          time.Duration
	FetchTimeout      time.Duration
	Logger            *applogger.Logger
	Telemetry         drepo.Telemetry
	Clock             func() time.Time
}

func defaultConfig() Config {
	return Config{
		Backoff:           DefaultBackoff(),
		ConnectionTimeout: 150 * time.Second,
		Interval:          30 * time.Second,
		Logger:            applogger.Nop(),
		Telemetry:         metrics.Nop{},
		Clock:             time.Now,
	}
}

// WithBackoff sets the reconnect policy.
func WithBackoff(b Backoff) Option {
	return func(c *Config) {
		c.Backoff = b
	}
}

// WithConnectionTimeout bounds dialing and the silence tolerated on an open stream.
func WithConnectionTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ConnectionTimeout = d
		}
	}
}

// WithInterval sets the polling period.
func WithInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Interval = d
		}
	}
}

// WithFetchTimeout bounds one polling cycle. Defaults to the interval.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.FetchTimeout = d
	}
}

func WithLogger(l *applogger.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

func WithTelemetry(t drepo.Telemetry) Option {
	return func(c *Config) {
		if t != nil {
			c.Telemetry = t
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		c.Clock = now
	}
}

// base carries the lifecycle shared by every worker kind.
type base struct {
	name string
	sink Sink
	cfg  Config
	log  *applogger.Logger

	mu      sync.Mutex
	desired []string
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	liveness atomic.Uint64
}

func (b *base) init(name string, sink Sink, opts []Option) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	b.name = name
	b.sink = sink
	b.cfg = cfg
	b.log = cfg.Logger.With(applogger.String("source_id", name))
}

func (b *base) Name() string { return b.name }

func (b *base) Liveness() uint64 { return b.liveness.Load() }

func (b *base) Done() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

// launch starts loop in a goroutine with panic recovery. A previous run that
// exited on its own may be relaunched.
func (b *base) launch(ctx context.Context, ids []string, loop func(ctx context.Context)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return fmt.Errorf("%s: %w", b.name, ErrAlreadyRunning)
	}

	b.desired = normalize(ids)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	b.cancel = cancel
	b.done = done
	b.running = true

	go func() {
		defer func() {
			if p := recover(); p != nil {
				b.log.Error("worker panicked",
					applogger.Any("panic", p),
					applogger.String("stack", string(debug.Stack())),
				)
				b.cfg.Telemetry.RecordConnectionEvent(b.name, "panic")
			}
			cancel()
			b.mu.Lock()
			if b.done == done {
				b.running = false
			}
			b.mu.Unlock()
			close(done)
		}()
		loop(runCtx)
	}()
	return nil
}

// Stop cancels the run loop and waits for it to exit.
func (b *base) Stop() error {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (b *base) setDesired(ids []string) {
	b.mu.Lock()
	b.desired = normalize(ids)
	b.mu.Unlock()
}

func (b *base) subscription() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.desired...)
}

// store writes valid observations to the sink and advances liveness.
func (b *base) store(obs []models.Observation) int {
	n := 0
	for _, o := range obs {
		if o.AssetID == "" || !o.Price.IsPositive() {
			b.log.Debug("dropping observation",
				applogger.String("asset_id", o.AssetID),
				applogger.Decimal("price", o.Price),
				applogger.Error(ErrMalformed),
			)
			continue
		}
		ts := o.ObservedAt
		if ts.IsZero() {
			ts = b.cfg.Clock()
		}
		b.sink.Put(b.name, o.AssetID, o.Price, ts)
		b.liveness.Add(1)
		n++
	}
	if n > 0 {
		b.cfg.Telemetry.RecordObservations(b.name, n)
	}
	return n
}

// normalize returns a sorted, deduplicated copy of ids.
func normalize(ids []string) []string {
	set := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := set[id]; ok {
			continue
		}
		set[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// diff returns ids present only in want and only in have. Both inputs are sorted.
func diff(have, want []string) (added, removed []string) {
	i, j := 0, 0
	for i < len(have) && j < len(want) {
		switch {
		case have[i] == want[j]:
			i++
			j++
		case have[i] < want[j]:
			removed = append(removed, have[i])
			i++
		default:
			added = append(added, want[j])
			j++
		}
	}
	removed = append(removed, have[i:]...)
	added = append(added, want[j:]...)
	return added, removed
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

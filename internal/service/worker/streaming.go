package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"SignalFeed/internal/domain/models"
	applogger "SignalFeed/pkg/logger"
)

// StreamDialer opens a push connection to a source.
type StreamDialer interface {
	Dial(ctx context.Context) (StreamConn, error)
}

// StreamConn is one open push connection. Next blocks until the next batch
// of observations arrives; it returns an error wrapping ErrMalformed for a
// payload that should be skipped, and any other error when the connection
// is lost. Close unblocks a pending Next.
type StreamConn interface {
	Subscribe(ctx context.Context, ids []string) error
	Unsubscribe(ctx context.Context, ids []string) error
	Next(ctx context.Context) ([]models.Observation, error)
	Close() error
}

// Streaming is a SourceWorker over a push connection. Only its run loop
// touches the connection; subscription changes are queued to it.
type Streaming struct {
	base
	dialer  StreamDialer
	updates chan struct{}
	state   atomic.Int32
}

var _ SourceWorker = (*Streaming)(nil)

// NewStreaming creates a streaming worker for source name.
func NewStreaming(name string, dialer StreamDialer, sink Sink, opts ...Option) *Streaming {
	w := &Streaming{dialer: dialer, updates: make(chan struct{}, 1)}
	w.init(name, sink, opts)
	return w
}

// State returns the current connection state.
func (w *Streaming) State() ConnState {
	return ConnState(w.state.Load())
}

func (w *Streaming) Start(ctx context.Context, ids []string) error {
	return w.launch(ctx, ids, w.run)
}

// UpdateSubscription replaces the desired id set. The run loop applies the
// difference on the open connection, or on the next one.
func (w *Streaming) UpdateSubscription(_ context.Context, ids []string) error {
	w.setDesired(ids)
	select {
	case w.updates <- struct{}{}:
	default:
	}
	return nil
}

func (w *Streaming) setState(s ConnState) {
	if ConnState(w.state.Swap(int32(s))) != s {
		w.cfg.Telemetry.RecordConnectionEvent(w.name, s.String())
	}
}

func (w *Streaming) run(ctx context.Context) {
	defer w.setState(StateIdle)

	attempt := 0
	for ctx.Err() == nil {
		w.setState(StateConnecting)
		connected, err := w.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			attempt = 0
		}
		attempt++

		wait := w.cfg.Backoff.Next(attempt)
		w.setState(StateBackoff)
		w.log.Warn("stream disconnected",
			applogger.Error(err),
			applogger.Int("attempt", attempt),
			applogger.Duration("backoff", wait),
		)
		if !sleepCtx(ctx, wait) {
			return
		}
	}
}

type readResult struct {
	obs []models.Observation
	err error
}

// session runs one connection until it fails. connected reports whether the
// dial succeeded.
func (w *Streaming) session(ctx context.Context) (connected bool, err error) {
	dctx, cancel := context.WithTimeout(ctx, w.cfg.ConnectionTimeout)
	conn, err := w.dialer.Dial(dctx)
	cancel()
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	w.setState(StateConnected)
	w.log.Info("stream connected")

	var active []string
	if want := w.subscription(); len(want) > 0 {
		if err := conn.Subscribe(ctx, want); err != nil {
			return true, fmt.Errorf("subscribe: %w", err)
		}
		active = want
	}

	rctx, rcancel := context.WithCancel(ctx)
	defer rcancel()
	results := make(chan readResult, 16)
	go w.read(rctx, conn, results)

	// The read deadline only runs while something is subscribed; an idle
	// connection is not expected to deliver data.
	timer := time.NewTimer(w.cfg.ConnectionTimeout)
	defer timer.Stop()
	armed := true
	rearm := func() {
		if armed && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		armed = len(active) > 0
		if armed {
			timer.Reset(w.cfg.ConnectionTimeout)
		}
	}
	rearm()

	for {
		var deadline <-chan time.Time
		if armed {
			deadline = timer.C
		}

		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case <-w.updates:
			want := w.subscription()
			added, removed := diff(active, want)
			if len(removed) > 0 {
				if err := conn.Unsubscribe(ctx, removed); err != nil {
					return true, fmt.Errorf("unsubscribe: %w", err)
				}
			}
			if len(added) > 0 {
				if err := conn.Subscribe(ctx, added); err != nil {
					return true, fmt.Errorf("subscribe: %w", err)
				}
			}
			active = want
			rearm()
		case r := <-results:
			if r.err != nil {
				return true, r.err
			}
			w.store(r.obs)
			rearm()
		case <-deadline:
			return true, ErrReadTimeout
		}
	}
}

// read pumps conn.Next into out until the connection fails or ctx ends.
func (w *Streaming) read(ctx context.Context, conn StreamConn, out chan<- readResult) {
	defer func() {
		if p := recover(); p != nil {
			select {
			case out <- readResult{err: fmt.Errorf("reader panic: %v", p)}:
			case <-ctx.Done():
			}
		}
	}()

	for {
		obs, err := conn.Next(ctx)
		if errors.Is(err, ErrMalformed) {
			w.log.Warn("dropping malformed payload", applogger.Error(err))
			continue
		}
		select {
		case out <- readResult{obs: obs, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

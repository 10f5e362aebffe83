package worker

import (
	"context"
	"time"

	"SignalFeed/internal/domain/models"
	applogger "SignalFeed/pkg/logger"
)

// Fetcher pulls current prices for ids from a request/response source.
type Fetcher interface {
	Fetch(ctx context.Context, ids []string) ([]models.Observation, error)
}

// Polling is a SourceWorker that fetches on a fixed interval. A failed cycle
// is recorded and not retried; the next tick proceeds regardless.
type Polling struct {
	base
	fetcher Fetcher
}

var _ SourceWorker = (*Polling)(nil)

// NewPolling creates a polling worker for source name.
func NewPolling(name string, fetcher Fetcher, sink Sink, opts ...Option) *Polling {
	w := &Polling{fetcher: fetcher}
	w.init(name, sink, opts)
	if w.cfg.FetchTimeout <= 0 {
		w.cfg.FetchTimeout = w.cfg.Interval
	}
	return w
}

func (w *Polling) Start(ctx context.Context, ids []string) error {
	return w.launch(ctx, ids, w.run)
}

// UpdateSubscription takes effect on the next cycle.
func (w *Polling) UpdateSubscription(_ context.Context, ids []string) error {
	w.setDesired(ids)
	return nil
}

func (w *Polling) run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Polling) poll(ctx context.Context) {
	ids := w.subscription()
	if len(ids) == 0 {
		return
	}

	fctx, cancel := context.WithTimeout(ctx, w.cfg.FetchTimeout)
	defer cancel()

	start := time.Now()
	obs, err := w.fetcher.Fetch(fctx, ids)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.cfg.Telemetry.RecordPollFailure(w.name)
		w.log.Warn("poll failed",
			applogger.Int("ids", len(ids)),
			applogger.Duration("elapsed", time.Since(start)),
			applogger.Error(err),
		)
		return
	}
	n := w.store(obs)
	w.log.Debug("poll completed",
		applogger.Int("ids", len(ids)),
		applogger.Int("observations", n),
		applogger.Duration("elapsed", time.Since(start)),
	)
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"SignalFeed/internal/domain/models"
	drepo "SignalFeed/internal/domain/repository"
	"SignalFeed/internal/service/worker"
	applogger "SignalFeed/pkg/logger"
	"SignalFeed/pkg/metrics"

	"golang.org/x/sync/errgroup"
)

// WorkerState is the supervisor's view of one source worker.
type WorkerState string

const (
	WorkerNotStarted WorkerState = "not_started"
	WorkerRunning    WorkerState = "running"
	WorkerDegraded   WorkerState = "degraded"
	WorkerStopped    WorkerState = "stopped"
)

// RequiredSetter receives the asset keys that must not be evicted.
type RequiredSetter interface {
	SetRequired(keys []models.AssetKey)
}

// SupervisorOption configures WorkerSupervisor.
type SupervisorOption func(*SupervisorConfig)

// SupervisorConfig holds supervisor configuration.
type SupervisorConfig struct {
	CheckInterval time.Duration
	GraceWindow   time.Duration
	Logger        *applogger.Logger
	Telemetry     drepo.Telemetry
	Clock         func() time.Time
}

func WithCheckInterval(d time.Duration) SupervisorOption {
	return func(c *SupervisorConfig) {
		if d > 0 {
			c.CheckInterval = d
		}
	}
}

// WithGraceWindow sets how long liveness may stall before a worker is degraded.
func WithGraceWindow(d time.Duration) SupervisorOption {
	return func(c *SupervisorConfig) {
		if d > 0 {
			c.GraceWindow = d
		}
	}
}

func WithSupervisorLogger(l *applogger.Logger) SupervisorOption {
	return func(c *SupervisorConfig) {
		if l != nil {
			c.Logger = l
		}
	}
}

func WithSupervisorTelemetry(t drepo.Telemetry) SupervisorOption {
	return func(c *SupervisorConfig) {
		if t != nil {
			c.Telemetry = t
		}
	}
}

func WithSupervisorClock(now func() time.Time) SupervisorOption {
	return func(c *SupervisorConfig) {
		c.Clock = now
	}
}

type workerEntry struct {
	worker       worker.SourceWorker
	state        WorkerState
	subscription []string
	liveness     uint64
	progressAt   time.Time
}

// WorkerSupervisor owns every source worker and keeps their subscriptions in
// line with the required asset set. A failing worker never affects another.
type WorkerSupervisor struct {
	cfg   SupervisorConfig
	cache RequiredSetter

	// workers run under base, not under any request context
	base   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	entries  map[string]*workerEntry
	unserved []string
}

// NewWorkerSupervisor creates a supervisor over workers, keyed by Name().
func NewWorkerSupervisor(workers []worker.SourceWorker, cache RequiredSetter, opts ...SupervisorOption) *WorkerSupervisor {
	cfg := SupervisorConfig{
		CheckInterval: 5 * time.Second,
		GraceWindow:   60 * time.Second,
		Logger:        applogger.Nop(),
		Telemetry:     metrics.Nop{},
		Clock:         time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	base, cancel := context.WithCancel(context.Background())
	s := &WorkerSupervisor{
		cfg:     cfg,
		cache:   cache,
		base:    base,
		cancel:  cancel,
		entries: make(map[string]*workerEntry, len(workers)),
	}
	for _, w := range workers {
		s.entries[w.Name()] = &workerEntry{worker: w, state: WorkerNotStarted}
		cfg.Telemetry.RecordWorkerState(w.Name(), string(WorkerNotStarted))
	}
	return s
}

// Reconcile diffs required (source id to asset ids) against each worker's
// current subscription and starts or updates only the affected workers.
func (s *WorkerSupervisor) Reconcile(ctx context.Context, required map[string][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]models.AssetKey, 0)
	var unserved []string
	for source, assets := range required {
		for _, a := range assets {
			keys = append(keys, models.AssetKey{SourceID: source, AssetID: a})
		}
		if _, ok := s.entries[source]; !ok && len(assets) > 0 {
			unserved = append(unserved, source)
		}
	}
	s.cache.SetRequired(keys)

	sort.Strings(unserved)
	if len(unserved) > 0 {
		s.cfg.Logger.Warn("required sources have no worker", applogger.Strings("sources", unserved))
	}
	s.unserved = unserved

	var errs []error
	for _, name := range s.namesLocked() {
		e := s.entries[name]
		if e.state == WorkerStopped {
			continue
		}
		want := sortedCopy(required[name])
		if slices.Equal(want, e.subscription) {
			continue
		}

		var err error
		if e.state == WorkerNotStarted {
			if len(want) == 0 {
				continue
			}
			err = e.worker.Start(s.base, want)
			if err == nil {
				e.progressAt = s.cfg.Clock()
				e.liveness = e.worker.Liveness()
				s.setStateLocked(name, e, WorkerRunning)
			}
		} else {
			err = e.worker.UpdateSubscription(ctx, want)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		e.subscription = want
		s.cfg.Logger.Info("subscription updated",
			applogger.String("source_id", name),
			applogger.Int("assets", len(want)),
		)
	}
	return errors.Join(errs...)
}

// Run checks worker health every CheckInterval until ctx ends.
func (s *WorkerSupervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.check()
		}
	}
}

// check restarts crashed workers and moves stalled workers between Running
// and Degraded.
func (s *WorkerSupervisor) check() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.Clock()
	for _, name := range s.namesLocked() {
		e := s.entries[name]
		if e.state == WorkerNotStarted || e.state == WorkerStopped {
			continue
		}

		if exited(e.worker.Done()) {
			s.cfg.Logger.Error("worker exited unexpectedly, restarting",
				applogger.String("source_id", name),
				applogger.Strings("subscription", e.subscription),
			)
			s.cfg.Telemetry.RecordConnectionEvent(name, "restart")
			if err := e.worker.Start(s.base, e.subscription); err != nil {
				s.cfg.Logger.Error("worker restart failed", applogger.String("source_id", name), applogger.Error(err))
				continue
			}
			e.progressAt = now
		}

		live := e.worker.Liveness()
		switch {
		case live != e.liveness:
			e.liveness = live
			e.progressAt = now
			if e.state == WorkerDegraded {
				s.cfg.Logger.Info("worker recovered", applogger.String("source_id", name))
				s.setStateLocked(name, e, WorkerRunning)
			}
		case e.state == WorkerRunning && len(e.subscription) > 0 && now.Sub(e.progressAt) > s.cfg.GraceWindow:
			s.cfg.Logger.Warn("worker degraded",
				applogger.String("source_id", name),
				applogger.Duration("stalled_for", now.Sub(e.progressAt)),
			)
			s.setStateLocked(name, e, WorkerDegraded)
		}
	}
}

// Shutdown stops every worker concurrently and waits for them or for ctx.
func (s *WorkerSupervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	var g errgroup.Group
	for _, name := range s.namesLocked() {
		e := s.entries[name]
		if e.state != WorkerNotStarted && e.state != WorkerStopped {
			w := e.worker
			g.Go(func() error {
				if err := w.Stop(); err != nil {
					return fmt.Errorf("%s: %w", w.Name(), err)
				}
				return nil
			})
		}
		s.setStateLocked(name, e, WorkerStopped)
	}
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	defer s.cancel()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("supervisor shutdown: %w", ctx.Err())
	}
}

// States returns the state of every worker.
func (s *WorkerSupervisor) States() map[string]WorkerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]WorkerState, len(s.entries))
	for name, e := range s.entries {
		out[name] = e.state
	}
	return out
}

// ActiveSources returns the sources holding a non-empty subscription.
func (s *WorkerSupervisor) ActiveSources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, name := range s.namesLocked() {
		if e := s.entries[name]; len(e.subscription) > 0 && e.state != WorkerStopped {
			out = append(out, name)
		}
	}
	return out
}

// Unserved returns required sources that have no configured worker.
func (s *WorkerSupervisor) Unserved() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.unserved...)
}

func (s *WorkerSupervisor) setStateLocked(name string, e *workerEntry, st WorkerState) {
	e.state = st
	s.cfg.Telemetry.RecordWorkerState(name, string(st))
}

func (s *WorkerSupervisor) namesLocked() []string {
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func exited(done <-chan struct{}) bool {
	if done == nil {
		return false
	}
	select {
	case <-done:
		return true
	default:
		return false
	}
}

func sortedCopy(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}

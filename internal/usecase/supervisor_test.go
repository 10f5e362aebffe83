package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"SignalFeed/internal/domain/models"
	"SignalFeed/internal/service/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWorker struct {
	name string

	mu      sync.Mutex
	starts  [][]string
	updates [][]string
	stops   int
	done    chan struct{}

	live atomic.Uint64
}

func newFakeWorker(name string) *fakeWorker { return &fakeWorker{name: name} }

func (w *fakeWorker) Name() string { return w.name }

func (w *fakeWorker) Start(_ context.Context, ids []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.starts = append(w.starts, ids)
	w.done = make(chan struct{})
	return nil
}

func (w *fakeWorker) UpdateSubscription(_ context.Context, ids []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.updates = append(w.updates, ids)
	return nil
}

func (w *fakeWorker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stops++
	return nil
}

func (w *fakeWorker) Liveness() uint64 { return w.live.Load() }

func (w *fakeWorker) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

func (w *fakeWorker) crash() {
	w.mu.Lock()
	defer w.mu.Unlock()
	close(w.done)
}

func (w *fakeWorker) calls() (starts, updates [][]string, stops int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.starts, w.updates, w.stops
}

type requiredRecorder struct {
	mu   sync.Mutex
	keys []models.AssetKey
}

func (r *requiredRecorder) SetRequired(keys []models.AssetKey) {
	r.mu.Lock()
	r.keys = keys
	r.mu.Unlock()
}

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newSupervisorFixture(workers ...*fakeWorker) (*WorkerSupervisor, *requiredRecorder, *manualClock) {
	ws := make([]worker.SourceWorker, 0, len(workers))
	for _, w := range workers {
		ws = append(ws, w)
	}
	req := &requiredRecorder{}
	clock := &manualClock{t: now}
	s := NewWorkerSupervisor(ws, req, WithGraceWindow(time.Minute), WithSupervisorClock(clock.Now))
	return s, req, clock
}

func TestReconcileStartsAndUpdatesOnlyAffectedWorkers(t *testing.T) {
	bn, cg := newFakeWorker("binance"), newFakeWorker("coingecko")
	s, req, _ := newSupervisorFixture(bn, cg)
	ctx := context.Background()

	require.NoError(t, s.Reconcile(ctx, map[string][]string{"binance": {"ethusdt", "btcusdt"}}))
	starts, _, _ := bn.calls()
	assert.Equal(t, [][]string{{"btcusdt", "ethusdt"}}, starts)
	cgStarts, _, _ := cg.calls()
	assert.Empty(t, cgStarts, "no subscription means no start")
	assert.Equal(t, map[string]WorkerState{"binance": WorkerRunning, "coingecko": WorkerNotStarted}, s.States())
	assert.Len(t, req.keys, 2)

	require.NoError(t, s.Reconcile(ctx, map[string][]string{
		"binance":   {"btcusdt", "ethusdt"},
		"coingecko": {"tether"},
	}))
	_, updates, _ := bn.calls()
	assert.Empty(t, updates, "unchanged subscription is not touched")
	cgStarts, _, _ = cg.calls()
	assert.Equal(t, [][]string{{"tether"}}, cgStarts)

	require.NoError(t, s.Reconcile(ctx, map[string][]string{"binance": {"btcusdt"}, "coingecko": {"tether"}}))
	_, updates, _ = bn.calls()
	assert.Equal(t, [][]string{{"btcusdt"}}, updates)
	assert.Equal(t, []string{"binance", "coingecko"}, s.ActiveSources())
}

func TestReconcileReportsUnservedSources(t *testing.T) {
	s, _, _ := newSupervisorFixture(newFakeWorker("binance"))

	require.NoError(t, s.Reconcile(context.Background(), map[string][]string{
		"binance": {"btcusdt"},
		"kraken":  {"XBTUSD"},
	}))
	assert.Equal(t, []string{"kraken"}, s.Unserved())
}

func TestCheckTracksDegradedAndRecovery(t *testing.T) {
	bn := newFakeWorker("binance")
	s, _, clock := newSupervisorFixture(bn)
	require.NoError(t, s.Reconcile(context.Background(), map[string][]string{"binance": {"btcusdt"}}))

	clock.Advance(30 * time.Second)
	s.check()
	assert.Equal(t, WorkerRunning, s.States()["binance"])

	clock.Advance(31 * time.Second)
	s.check()
	assert.Equal(t, WorkerDegraded, s.States()["binance"])

	bn.live.Add(1)
	clock.Advance(time.Second)
	s.check()
	assert.Equal(t, WorkerRunning, s.States()["binance"])
}

func TestCheckRestartsCrashedWorkerWithLastSubscription(t *testing.T) {
	bn, cg := newFakeWorker("binance"), newFakeWorker("coingecko")
	s, _, _ := newSupervisorFixture(bn, cg)
	require.NoError(t, s.Reconcile(context.Background(), map[string][]string{
		"binance":   {"btcusdt"},
		"coingecko": {"bitcoin"},
	}))

	bn.crash()
	s.check()

	starts, _, _ := bn.calls()
	assert.Equal(t, [][]string{{"btcusdt"}, {"btcusdt"}}, starts)
	cgStarts, _, _ := cg.calls()
	assert.Len(t, cgStarts, 1, "other workers are untouched")
	assert.Equal(t, WorkerRunning, s.States()["binance"])
}

func TestShutdownStopsStartedWorkers(t *testing.T) {
	bn, cg := newFakeWorker("binance"), newFakeWorker("coingecko")
	s, _, _ := newSupervisorFixture(bn, cg)
	require.NoError(t, s.Reconcile(context.Background(), map[string][]string{"binance": {"btcusdt"}}))

	require.NoError(t, s.Shutdown(context.Background()))
	_, _, stops := bn.calls()
	assert.Equal(t, 1, stops)
	_, _, cgStops := cg.calls()
	assert.Zero(t, cgStops)
	assert.Equal(t, map[string]WorkerState{"binance": WorkerStopped, "coingecko": WorkerStopped}, s.States())

	require.NoError(t, s.Reconcile(context.Background(), map[string][]string{"binance": {"ethusdt"}}))
	starts, updates, _ := bn.calls()
	assert.Len(t, starts, 1)
	assert.Empty(t, updates, "stopped workers ignore reconciliation")
}

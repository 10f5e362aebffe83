package usecase

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"SignalFeed/internal/domain/models"
	"SignalFeed/internal/service/assetcache"
	"SignalFeed/internal/service/registry"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type swappable struct {
	p atomic.Pointer[registry.Snapshot]
}

func (s *swappable) Current() *registry.Snapshot { return s.p.Load() }

func mustSnapshot(t *testing.T, doc string) *registry.Snapshot {
	t.Helper()
	snap, err := registry.NewSnapshot("QmTest", "0.1.0", []byte(doc), time.Time{})
	require.NoError(t, err)
	return snap
}

func newResolverFixture(t *testing.T, doc string, opts ...ResolverOption) (*SignalResolver, *assetcache.Cache, *swappable) {
	t.Helper()
	src := &swappable{}
	src.p.Store(mustSnapshot(t, doc))
	cache := assetcache.New(assetcache.WithStaleThreshold(5 * time.Minute))
	return NewSignalResolver(src, cache, opts...), cache, src
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const aggregationDoc = `{
  "MEAN":   {"sources": [{"source_id": "s", "id": "a"}, {"source_id": "s", "id": "b"}], "processor": {"function": "weighted_mean"}},
  "WMED":   {"sources": [{"source_id": "s", "id": "a"}, {"source_id": "s", "id": "b"}, {"source_id": "s", "id": "c", "weight": 2}], "processor": {"function": "weighted_median"}},
  "MED":    {"sources": [{"source_id": "s", "id": "a"}, {"source_id": "s", "id": "b"}], "processor": {"function": "median"}},
  "STRICT": {"sources": [{"source_id": "s", "id": "a"}, {"source_id": "s", "id": "missing"}], "processor": {"function": "median", "params": {"min_source_count": 2}}},
  "HEAVY":  {"sources": [{"source_id": "s", "id": "a"}], "processor": {"function": "weighted_mean", "params": {"minimum_cumulative_weight": "3"}}},
  "TICK":   {"sources": [{"source_id": "s", "id": "b"}], "processor": {"function": "median"}, "post_processors": [{"function": "tick_convertor"}]}
}`

func seedABC(cache *assetcache.Cache) {
	cache.Put("s", "a", dec("10"), now.Add(-time.Second))
	cache.Put("s", "b", dec("20"), now.Add(-time.Second))
	cache.Put("s", "c", dec("30"), now.Add(-time.Second))
}

func TestResolveAggregations(t *testing.T) {
	r, cache, _ := newResolverFixture(t, aggregationDoc)
	seedABC(cache)

	got := r.Resolve([]string{"MEAN", "WMED", "MED"}, now)
	require.Len(t, got, 3)
	for _, p := range got {
		assert.Equal(t, models.StatusAvailable, p.Status, p.SignalID)
	}
	assert.True(t, got[0].Price.Equal(dec("15")), got[0].Price.String())
	assert.True(t, got[1].Price.Equal(dec("20")), got[1].Price.String())
	assert.True(t, got[2].Price.Equal(dec("15")), got[2].Price.String())
	assert.Equal(t, "15000000000", got[0].Mantissa())
}

func TestResolveUnknownSignalIsUnsupported(t *testing.T) {
	r, _, _ := newResolverFixture(t, aggregationDoc)

	got := r.Resolve([]string{"NOPE"}, now)
	assert.Equal(t, []models.SignalPrice{{SignalID: "NOPE", Status: models.StatusUnsupported}}, got)
}

func TestResolveMissingOrStaleDataIsUnavailable(t *testing.T) {
	r, cache, _ := newResolverFixture(t, aggregationDoc)

	got := r.Resolve([]string{"MEAN"}, now)
	assert.Equal(t, models.StatusUnavailable, got[0].Status)
	assert.False(t, got[0].HasPrice())

	cache.Put("s", "a", dec("10"), now.Add(-time.Hour))
	cache.Put("s", "b", dec("20"), now.Add(-time.Hour))
	got = r.Resolve([]string{"MEAN"}, now)
	assert.Equal(t, models.StatusUnavailable, got[0].Status)

	cache.Put("s", "b", dec("20"), now)
	got = r.Resolve([]string{"MEAN"}, now)
	assert.Equal(t, models.StatusAvailable, got[0].Status)
	assert.True(t, got[0].Price.Equal(dec("20")), "only the fresh input contributes")
}

func TestResolveThresholds(t *testing.T) {
	r, cache, _ := newResolverFixture(t, aggregationDoc)
	seedABC(cache)

	got := r.Resolve([]string{"STRICT", "HEAVY"}, now)
	assert.Equal(t, models.StatusUnavailable, got[0].Status)
	assert.Equal(t, models.StatusUnavailable, got[1].Status)
}

func TestResolveTickConvertor(t *testing.T) {
	r, cache, _ := newResolverFixture(t, aggregationDoc)
	seedABC(cache)

	got := r.Resolve([]string{"TICK"}, now)
	require.Equal(t, models.StatusAvailable, got[0].Status)
	f, _ := got[0].Price.Float64()
	assert.InDelta(t, 292102.82057671349939971087257, f, 1e-6)
}

const graphDoc = `{
  "USDT": {"sources": [{"source_id": "cg", "id": "tether"}], "processor": {"function": "median"}},
  "BTC":  {"sources": [{"source_id": "bn", "id": "btcusdt", "routes": [{"signal_id": "USDT", "operation": "*"}]},
                       {"source_id": "cg", "id": "bitcoin"}],
           "processor": {"function": "weighted_mean"}},
  "L":    {"dependencies": [{"signal_id": "BASE"}], "processor": {"function": "weighted_mean"}},
  "R":    {"dependencies": [{"signal_id": "BASE", "weight": 3}], "processor": {"function": "weighted_mean"}},
  "TOP":  {"dependencies": [{"signal_id": "L"}, {"signal_id": "R"}], "processor": {"function": "weighted_mean"}},
  "BASE": {"sources": [{"source_id": "cg", "id": "base"}], "processor": {"function": "median"}}
}`

func TestResolveAppliesRoutes(t *testing.T) {
	r, cache, _ := newResolverFixture(t, graphDoc)
	cache.Put("cg", "tether", dec("0.5"), now)
	cache.Put("bn", "btcusdt", dec("200"), now)
	cache.Put("cg", "bitcoin", dec("110"), now)

	got := r.Resolve([]string{"BTC"}, now)
	require.Equal(t, models.StatusAvailable, got[0].Status)
	assert.True(t, got[0].Price.Equal(dec("105")), got[0].Price.String())
}

func TestResolveDropsSourceWhenRouteUnavailable(t *testing.T) {
	r, cache, _ := newResolverFixture(t, graphDoc)
	cache.Put("bn", "btcusdt", dec("200"), now)
	cache.Put("cg", "bitcoin", dec("110"), now)

	got := r.Resolve([]string{"BTC", "USDT"}, now)
	require.Equal(t, models.StatusAvailable, got[0].Status)
	assert.True(t, got[0].Price.Equal(dec("110")))
	assert.Equal(t, models.StatusUnavailable, got[1].Status)
}

func TestResolveComputesSharedDependencyOnce(t *testing.T) {
	var mu sync.Mutex
	counts := map[string]int{}
	r, cache, _ := newResolverFixture(t, graphDoc, WithObserver(func(rec models.ComputationRecord) {
		mu.Lock()
		counts[rec.SignalID]++
		mu.Unlock()
	}))
	cache.Put("cg", "base", dec("42"), now)

	got := r.Resolve([]string{"TOP", "L", "BASE"}, now)
	for _, p := range got {
		assert.Equal(t, models.StatusAvailable, p.Status, p.SignalID)
		assert.True(t, p.Price.Equal(dec("42")), p.SignalID)
	}
	assert.Equal(t, map[string]int{"BASE": 1, "L": 1, "R": 1, "TOP": 1}, counts)
}

func TestResolveDependencyUnavailablePropagates(t *testing.T) {
	r, _, _ := newResolverFixture(t, graphDoc)

	got := r.Resolve([]string{"TOP"}, now)
	assert.Equal(t, models.StatusUnavailable, got[0].Status)
}

type swapOnRead struct {
	inner AssetReader
	once  sync.Once
	swap  func()
}

func (s *swapOnRead) Get(sourceID, assetID string, now time.Time) assetcache.Lookup {
	s.once.Do(s.swap)
	return s.inner.Get(sourceID, assetID, now)
}

func TestResolveUsesSnapshotFromEntry(t *testing.T) {
	src := &swappable{}
	src.p.Store(mustSnapshot(t, graphDoc))
	cache := assetcache.New()
	cache.Put("cg", "base", dec("42"), now)

	replacement := mustSnapshot(t, `{"OTHER": {"sources": [{"source_id": "cg", "id": "base"}], "processor": {"function": "median"}}}`)
	reader := &swapOnRead{inner: cache, swap: func() { src.p.Store(replacement) }}
	r := NewSignalResolver(src, reader)

	got := r.Resolve([]string{"BASE", "TOP"}, now)
	assert.Equal(t, models.StatusAvailable, got[0].Status)
	assert.Equal(t, models.StatusAvailable, got[1].Status, "a swap during resolution does not affect the call in flight")

	got = r.Resolve([]string{"TOP", "OTHER"}, now)
	assert.Equal(t, models.StatusUnsupported, got[0].Status)
	assert.Equal(t, models.StatusAvailable, got[1].Status)
}

func TestWeightedMedianTieSelectsLowerValue(t *testing.T) {
	v := weightedMedian([]weighted{
		{value: dec("20"), weight: dec("1")},
		{value: dec("10"), weight: dec("1")},
	})
	assert.True(t, v.Equal(dec("10")))
}

func TestTickRejectsNonPositive(t *testing.T) {
	_, err := tick(decimal.Zero)
	assert.ErrorIs(t, err, ErrTickOutOfBounds)
}

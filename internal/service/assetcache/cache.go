package assetcache

import (
	"sync"
	"sync/atomic"
	"time"

	"SignalFeed/internal/domain/models"
	drepo "SignalFeed/internal/domain/repository"
	"SignalFeed/pkg/metrics"

	"github.com/cespare/xxhash/v2"
	"github.com/shopspring/decimal"
)

// State is the freshness classification of a cache lookup.
type State int

const (
	Missing State = iota
	Stale
	Fresh
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "missing"
	}
}

// Lookup is the result of Get. Price and ObservedAt are set for Fresh and Stale.
type Lookup struct {
	State      State
	Price      decimal.Decimal
	ObservedAt time.Time
}

// Option configures Cache.
type Option func(*Config)

// Config holds cache configuration.
type Config struct {
	StaleThreshold time.Duration
	Capacity       int // 0 disables eviction
	Shards         int
	Telemetry      drepo.Telemetry
}

// WithStaleThreshold sets the maximum age of a fresh entry.
func WithStaleThreshold(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.StaleThreshold = d
		}
	}
}

// WithCapacity bounds the number of entries; least recently updated entries
// outside the required set are evicted first.
func WithCapacity(n int) Option {
	return func(c *Config) {
		c.Capacity = n
	}
}

// WithShards sets the number of lock shards.
func WithShards(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.Shards = n
		}
	}
}

// WithTelemetry sets the metrics sink for lookups.
func WithTelemetry(t drepo.Telemetry) Option {
	return func(c *Config) {
		if t != nil {
			c.Telemetry = t
		}
	}
}

type entry struct {
	info models.AssetInfo
	seq  uint64 // write order, used for eviction
}

type shard struct {
	mu      sync.RWMutex
	entries map[models.AssetKey]entry
}

// Cache holds the latest observation per (source, asset).
type Cache struct {
	cfg      Config
	shards   []*shard
	perShard int
	required atomic.Pointer[map[models.AssetKey]struct{}]
	size     atomic.Int64
	seq      atomic.Uint64
}

// New creates an asset cache.
func New(opts ...Option) *Cache {
	cfg := Config{
		StaleThreshold: 300 * time.Second,
		Shards:         16,
		Telemetry:      metrics.Nop{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Cache{cfg: cfg, shards: make([]*shard, cfg.Shards)}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[models.AssetKey]entry)}
	}
	if cfg.Capacity > 0 {
		c.perShard = (cfg.Capacity + cfg.Shards - 1) / cfg.Shards
	}
	empty := map[models.AssetKey]struct{}{}
	c.required.Store(&empty)
	return c
}

func (c *Cache) shardFor(k models.AssetKey) *shard {
	h := xxhash.New()
	_, _ = h.WriteString(k.SourceID)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(k.AssetID)
	return c.shards[h.Sum64()%uint64(len(c.shards))]
}

// Put overwrites the entry for (sourceID, assetID). It never blocks on I/O.
func (c *Cache) Put(sourceID, assetID string, price decimal.Decimal, ts time.Time) {
	c.Store(models.AssetInfo{SourceID: sourceID, AssetID: assetID, Price: price, ObservedAt: ts})
}

// Store overwrites the entry keyed by info.
func (c *Cache) Store(info models.AssetInfo) {
	k := info.Key()
	s := c.shardFor(k)

	s.mu.Lock()
	if _, ok := s.entries[k]; !ok {
		c.size.Add(1)
	}
	s.entries[k] = entry{info: info, seq: c.seq.Add(1)}
	if c.perShard > 0 && len(s.entries) > c.perShard {
		c.evictLocked(s, k)
	}
	s.mu.Unlock()
}

// evictLocked removes the least recently updated entry of s that is neither
// required nor the entry just written. Must hold s.mu.
func (c *Cache) evictLocked(s *shard, keep models.AssetKey) {
	required := *c.required.Load()
	var (
		victim models.AssetKey
		oldest uint64
		found  bool
	)
	for k, e := range s.entries {
		if k == keep {
			continue
		}
		if _, ok := required[k]; ok {
			continue
		}
		if !found || e.seq < oldest {
			victim, oldest, found = k, e.seq, true
		}
	}
	if found {
		delete(s.entries, victim)
		c.size.Add(-1)
	}
}

// Get classifies the entry for (sourceID, assetID) relative to now.
func (c *Cache) Get(sourceID, assetID string, now time.Time) Lookup {
	k := models.AssetKey{SourceID: sourceID, AssetID: assetID}
	s := c.shardFor(k)

	s.mu.RLock()
	stored, ok := s.entries[k]
	s.mu.RUnlock()
	e := stored.info

	var l Lookup
	switch {
	case !ok:
		l = Lookup{State: Missing}
	case now.Sub(e.ObservedAt) > c.cfg.StaleThreshold:
		l = Lookup{State: Stale, Price: e.Price, ObservedAt: e.ObservedAt}
	default:
		l = Lookup{State: Fresh, Price: e.Price, ObservedAt: e.ObservedAt}
	}
	c.cfg.Telemetry.RecordCacheLookup(sourceID, l.State.String())
	return l
}

// SetRequired replaces the set of keys protected from eviction.
func (c *Cache) SetRequired(keys []models.AssetKey) {
	m := make(map[models.AssetKey]struct{}, len(keys))
	for _, k := range keys {
		m[k] = struct{}{}
	}
	c.required.Store(&m)
}

// Snapshot copies every entry.
func (c *Cache) Snapshot() []models.AssetInfo {
	out := make([]models.AssetInfo, 0, c.Len())
	for _, s := range c.shards {
		s.mu.RLock()
		for _, e := range s.entries {
			out = append(out, e.info)
		}
		s.mu.RUnlock()
	}
	return out
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	return int(c.size.Load())
}

// StaleThreshold returns the configured maximum age of a fresh entry.
func (c *Cache) StaleThreshold() time.Duration {
	return c.cfg.StaleThreshold
}

package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"SignalFeed/internal/domain/models"
	drepo "SignalFeed/internal/domain/repository"
	applogger "SignalFeed/pkg/logger"
	"SignalFeed/pkg/metrics"

	"golang.org/x/mod/semver"
	"golang.org/x/sync/singleflight"
)

// Snapshot is an immutable, validated registry document.
type Snapshot struct {
	IPFSHash string
	Version  string
	LoadedAt time.Time
	Raw      []byte
	signals  map[string]*models.SignalDefinition
}

// Signal returns the definition of id.
func (s *Snapshot) Signal(id string) (*models.SignalDefinition, bool) {
	d, ok := s.signals[id]
	return d, ok
}

// SignalIDs returns every signal id in lexical order.
func (s *Snapshot) SignalIDs() []string {
	return sortedIDs(s.signals)
}

// Len returns the number of signals.
func (s *Snapshot) Len() int {
	return len(s.signals)
}

// IsEmpty reports whether no document has been loaded.
func (s *Snapshot) IsEmpty() bool {
	return s.IPFSHash == "" && len(s.signals) == 0
}

// RequiredAssets returns, per source id, the sorted asset ids needed to
// resolve signalIDs including everything they transitively depend on.
// Unknown ids are ignored.
func (s *Snapshot) RequiredAssets(signalIDs []string) map[string][]string {
	seen := make(map[string]struct{})
	assets := make(map[string]map[string]struct{})
	stack := append([]string(nil), signalIDs...)

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		def, ok := s.signals[id]
		if !ok {
			continue
		}
		for _, src := range def.Sources {
			if assets[src.SourceID] == nil {
				assets[src.SourceID] = make(map[string]struct{})
			}
			assets[src.SourceID][src.AssetID] = struct{}{}
		}
		stack = append(stack, def.DependencyIDs()...)
	}

	out := make(map[string][]string, len(assets))
	for source, set := range assets {
		ids := make([]string, 0, len(set))
		for a := range set {
			ids = append(ids, a)
		}
		sort.Strings(ids)
		out[source] = ids
	}
	return out
}

// NewSnapshot decodes and validates raw into a snapshot.
func NewSnapshot(hash, version string, raw []byte, loadedAt time.Time) (*Snapshot, error) {
	signals, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	if err := Validate(signals); err != nil {
		return nil, err
	}
	return &Snapshot{IPFSHash: hash, Version: version, LoadedAt: loadedAt, Raw: raw, signals: signals}, nil
}

// Option configures Registry.
type Option func(*Config)

// Config holds registry configuration.
type Config struct {
	MinVersion string
	MaxVersion string
	Timeout    time.Duration
	Logger     *applogger.Logger
	Telemetry  drepo.Telemetry
	Clock      func() time.Time
}

// WithVersionRange accepts versions v with min <= v < max. An empty max is unbounded.
func WithVersionRange(min, max string) Option {
	return func(c *Config) {
		c.MinVersion = min
		c.MaxVersion = max
	}
}

// WithFetchTimeout bounds each document fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *applogger.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithTelemetry sets the metrics sink.
func WithTelemetry(t drepo.Telemetry) Option {
	return func(c *Config) {
		if t != nil {
			c.Telemetry = t
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		c.Clock = now
	}
}

// Registry publishes the active snapshot behind a single atomic pointer.
type Registry struct {
	cfg     Config
	fetcher drepo.DocumentFetcher
	current atomic.Pointer[Snapshot]
	group   singleflight.Group
}

// New creates a registry holding an empty snapshot.
func New(fetcher drepo.DocumentFetcher, opts ...Option) *Registry {
	cfg := Config{
		MinVersion: "0.0.0",
		Timeout:    30 * time.Second,
		Logger:     applogger.Nop(),
		Telemetry:  metrics.Nop{},
		Clock:      time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	r := &Registry{cfg: cfg, fetcher: fetcher}
	r.current.Store(&Snapshot{signals: map[string]*models.SignalDefinition{}})
	return r
}

// Current returns the active snapshot. Callers keep the returned reference for
// the whole of one operation.
func (r *Registry) Current() *Snapshot {
	return r.current.Load()
}

// VersionRequirement renders the accepted version range.
func (r *Registry) VersionRequirement() string {
	req := ">=" + r.cfg.MinVersion
	if r.cfg.MaxVersion != "" {
		req += ", <" + r.cfg.MaxVersion
	}
	return req
}

// Load fetches, validates and activates the document identified by hash.
// Loading the pair that is already active returns the active snapshot.
// On failure the active snapshot is unchanged.
func (r *Registry) Load(ctx context.Context, hash, version string) (*Snapshot, error) {
	if err := r.checkVersion(version); err != nil {
		return nil, r.fail(hash, version, err)
	}
	if cur := r.Current(); cur.IPFSHash == hash && cur.Version == version {
		r.cfg.Telemetry.RecordRegistryLoad("unchanged")
		return cur, nil
	}

	v, err, _ := r.group.Do(hash+"@"+version, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()

		raw, err := r.fetcher.Fetch(fctx, hash)
		if err != nil {
			return nil, fmt.Errorf("fetch: %w", err)
		}
		return r.activate(hash, version, raw)
	})
	if err != nil {
		return nil, r.fail(hash, version, err)
	}
	return v.(*Snapshot), nil
}

// LoadBytes validates and activates a document already in memory, such as
// one restored from the durable store.
func (r *Registry) LoadBytes(hash, version string, raw []byte) (*Snapshot, error) {
	if err := r.checkVersion(version); err != nil {
		return nil, r.fail(hash, version, err)
	}
	snap, err := r.activate(hash, version, raw)
	if err != nil {
		return nil, r.fail(hash, version, err)
	}
	return snap, nil
}

func (r *Registry) activate(hash, version string, raw []byte) (*Snapshot, error) {
	snap, err := NewSnapshot(hash, version, raw, r.cfg.Clock())
	if err != nil {
		return nil, err
	}
	r.current.Store(snap)
	r.cfg.Telemetry.RecordRegistryLoad("ok")
	r.cfg.Logger.Info("registry activated",
		applogger.String("ipfs_hash", hash),
		applogger.String("version", version),
		applogger.Int("signals", snap.Len()),
	)
	return snap, nil
}

func (r *Registry) fail(hash, version string, err error) error {
	result := "error"
	switch {
	case errors.Is(err, ErrAggregationCycle), errors.Is(err, ErrUnknownSignal),
		errors.Is(err, ErrInvalidDefinition), errors.Is(err, ErrMalformedDocument):
		result = "invalid"
	case errors.Is(err, ErrUnsupportedVersion):
		result = "unsupported_version"
	}
	r.cfg.Telemetry.RecordRegistryLoad(result)
	r.cfg.Logger.Warn("registry load rejected",
		applogger.String("ipfs_hash", hash),
		applogger.String("version", version),
		applogger.Error(err),
	)
	return &LoadError{Hash: hash, Version: version, Err: err}
}

func (r *Registry) checkVersion(version string) error {
	v := canonical(version)
	if !semver.IsValid(v) {
		return fmt.Errorf("%w: %q is not a semantic version", ErrUnsupportedVersion, version)
	}
	if semver.Compare(v, canonical(r.cfg.MinVersion)) < 0 {
		return fmt.Errorf("%w: %s does not satisfy %s", ErrUnsupportedVersion, version, r.VersionRequirement())
	}
	if r.cfg.MaxVersion != "" && semver.Compare(v, canonical(r.cfg.MaxVersion)) >= 0 {
		return fmt.Errorf("%w: %s does not satisfy %s", ErrUnsupportedVersion, version, r.VersionRequirement())
	}
	return nil
}

func canonical(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"SignalFeed/internal/domain/models"
	drepo "SignalFeed/internal/domain/repository"
	"SignalFeed/internal/service/registry"
	applogger "SignalFeed/pkg/logger"

	"github.com/google/uuid"
)

// Durable store keys.
const (
	keyRegistryDocument = "registry/document"
	keyRegistryMeta     = "registry/meta"
	keyActiveSignals    = "signals/active"
	assetKeyPrefix      = "asset/"
)

// ErrBootstrapFailed is returned by WarmStart when a configured bootstrap
// registry cannot be loaded and no stored registry is available.
var ErrBootstrapFailed = errors.New("price service: bootstrap registry unavailable")

// RegistryManager is the registry surface the service drives.
type RegistryManager interface {
	Current() *registry.Snapshot
	Load(ctx context.Context, hash, version string) (*registry.Snapshot, error)
	LoadBytes(hash, version string, raw []byte) (*registry.Snapshot, error)
	VersionRequirement() string
}

// Reconciler applies required asset sets to source workers.
type Reconciler interface {
	Reconcile(ctx context.Context, required map[string][]string) error
	ActiveSources() []string
	Unserved() []string
}

// AssetStore is the snapshot and restore side of the asset cache.
type AssetStore interface {
	Snapshot() []models.AssetInfo
	Store(info models.AssetInfo)
}

// PriceComputation is the result of one get_prices call.
type PriceComputation struct {
	ComputationID string
	Prices        []models.SignalPrice
}

// WarmStartOptions seeds the service when the durable store holds nothing.
type WarmStartOptions struct {
	BootstrapHash    string
	BootstrapVersion string
	ActiveSignalIDs  []string
}

type registryMeta struct {
	IPFSHash string `json:"ipfs_hash"`
	Version  string `json:"version"`
}

// PriceServiceOption configures PriceService.
type PriceServiceOption func(*PriceService)

// WithStore enables persistence to a durable store.
func WithStore(store drepo.DurableStore) PriceServiceOption {
	return func(s *PriceService) {
		s.store = store
	}
}

// WithPublisher enables publishing refreshed prices.
func WithPublisher(p drepo.PricePublisher) PriceServiceOption {
	return func(s *PriceService) {
		s.publisher = p
	}
}

// WithIOTimeout bounds each store or publish call.
func WithIOTimeout(d time.Duration) PriceServiceOption {
	return func(s *PriceService) {
		if d > 0 {
			s.ioTimeout = d
		}
	}
}

func WithServiceLogger(l *applogger.Logger) PriceServiceOption {
	return func(s *PriceService) {
		if l != nil {
			s.log = l
		}
	}
}

func WithServiceClock(now func() time.Time) PriceServiceOption {
	return func(s *PriceService) {
		s.clock = now
	}
}

// PriceService exposes get_prices, update_registry and set_active_signal_ids.
type PriceService struct {
	registry   RegistryManager
	resolver   *SignalResolver
	supervisor Reconciler
	cache      AssetStore

	store     drepo.DurableStore
	publisher drepo.PricePublisher
	ioTimeout time.Duration
	log       *applogger.Logger
	clock     func() time.Time

	// mu serializes changes to the active set with reconciliation.
	mu     sync.Mutex
	active []string
}

// NewPriceService wires the service.
func NewPriceService(reg RegistryManager, resolver *SignalResolver, sup Reconciler, cache AssetStore, opts ...PriceServiceOption) *PriceService {
	s := &PriceService{
		registry:   reg,
		resolver:   resolver,
		supervisor: sup,
		cache:      cache,
		ioTimeout:  5 * time.Second,
		log:        applogger.Nop(),
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetPrices resolves ids against the current registry. It never fails;
// unknown or unpriceable signals carry a status instead.
func (s *PriceService) GetPrices(_ context.Context, ids []string) PriceComputation {
	return PriceComputation{
		ComputationID: uuid.NewString(),
		Prices:        s.resolver.Resolve(ids, s.clock()),
	}
}

// UpdateRegistry loads and activates a registry document, then reconciles
// workers against the active signals. On failure the previous registry
// remains active.
func (s *PriceService) UpdateRegistry(ctx context.Context, hash, version string) (*registry.Snapshot, error) {
	snap, err := s.registry.Load(ctx, hash, version)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A concurrent update may have activated a newer registry since Load
	// returned. Workers and the store follow whatever is active now.
	cur := s.registry.Current()
	if cur == nil {
		cur = snap
	}
	s.reconcileLocked(ctx, cur)

	meta, err := json.Marshal(registryMeta{IPFSHash: cur.IPFSHash, Version: cur.Version})
	if err != nil {
		return nil, fmt.Errorf("encode registry meta: %w", err)
	}
	s.persist(ctx, map[string][]byte{
		keyRegistryDocument: cur.Raw,
		keyRegistryMeta:     meta,
	})
	return snap, nil
}

// SetActiveSignalIDs replaces the active set and reconciles workers. Ids not
// present in the registry are kept and resolve as unsupported.
func (s *PriceService) SetActiveSignalIDs(ctx context.Context, ids []string) error {
	ids = uniqueSorted(ids)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = ids
	s.reconcileLocked(ctx, s.registry.Current())

	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode active signals: %w", err)
	}
	s.persist(ctx, map[string][]byte{keyActiveSignals: raw})
	return nil
}

// ActiveSignalIDs returns the active set.
func (s *PriceService) ActiveSignalIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.active...)
}

// Info describes the active registry and sources.
func (s *PriceService) Info() models.ServiceInfo {
	snap := s.registry.Current()
	info := models.ServiceInfo{
		RegistryHash:       snap.IPFSHash,
		RegistryVersion:    snap.Version,
		VersionRequirement: s.registry.VersionRequirement(),
		ActiveSources:      nonNil(s.supervisor.ActiveSources()),
		ActiveSignalIDs:    nonNil(s.ActiveSignalIDs()),
		UnservedSources:    s.supervisor.Unserved(),
	}
	if !snap.LoadedAt.IsZero() {
		loadedAt := snap.LoadedAt
		info.RegistryLoadedAt = &loadedAt
	}
	return info
}

// WarmStart restores registry, active set and cached prices from the store,
// falling back to the bootstrap registry. It fails only when a bootstrap hash
// is configured, nothing was restored and the bootstrap load fails.
func (s *PriceService) WarmStart(ctx context.Context, opts WarmStartOptions) error {
	s.restoreRegistry(ctx)

	if s.registry.Current().IsEmpty() {
		if opts.BootstrapHash == "" {
			s.log.Warn("no registry configured, starting empty")
		} else if _, err := s.registry.Load(ctx, opts.BootstrapHash, opts.BootstrapVersion); err != nil {
			return fmt.Errorf("%w: %w", ErrBootstrapFailed, err)
		}
	}

	active, fromStore := s.restoreActive(ctx)
	if !fromStore {
		active = opts.ActiveSignalIDs
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = uniqueSorted(active)
	snap := s.registry.Current()
	restored := s.restoreAssets(ctx, snap.RequiredAssets(s.active))
	s.reconcileLocked(ctx, snap)

	s.log.Info("warm start complete",
		applogger.String("ipfs_hash", snap.IPFSHash),
		applogger.String("version", snap.Version),
		applogger.Time("loaded_at", snap.LoadedAt),
		applogger.Bool("active_from_store", fromStore),
		applogger.Int("active_signals", len(s.active)),
		applogger.Int("restored_assets", restored),
	)
	return nil
}

// RunRefresh calls Refresh every interval until ctx ends.
func (s *PriceService) RunRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.log.Warn("refresh failed", applogger.Error(err))
			}
		}
	}
}

// Refresh resolves the active set, publishes it and persists the cache.
func (s *PriceService) Refresh(ctx context.Context) error {
	ids := s.ActiveSignalIDs()
	if len(ids) == 0 {
		return nil
	}
	result := s.GetPrices(ctx, ids)

	var errs []error
	if s.publisher != nil {
		pctx, cancel := context.WithTimeout(ctx, s.ioTimeout)
		if err := s.publisher.PublishPrices(pctx, result.ComputationID, result.Prices); err != nil {
			errs = append(errs, fmt.Errorf("publish: %w", err))
		}
		cancel()
	}

	if s.store != nil {
		entries := make(map[string][]byte)
		for _, info := range s.cache.Snapshot() {
			b, err := json.Marshal(info)
			if err != nil {
				continue
			}
			entries[assetKey(info.SourceID, info.AssetID)] = b
		}
		if len(entries) > 0 {
			sctx, cancel := context.WithTimeout(ctx, s.ioTimeout)
			if err := s.store.BatchPut(sctx, entries); err != nil {
				errs = append(errs, fmt.Errorf("persist cache: %w", err))
			}
			cancel()
		}
	}
	return errors.Join(errs...)
}

func (s *PriceService) reconcileLocked(ctx context.Context, snap *registry.Snapshot) {
	if err := s.supervisor.Reconcile(ctx, snap.RequiredAssets(s.active)); err != nil {
		s.log.Warn("reconcile incomplete", applogger.Error(err))
	}
}

// persist writes entries to the store. Failures are logged; correctness
// never depends on the store.
func (s *PriceService) persist(ctx context.Context, entries map[string][]byte) {
	if s.store == nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, s.ioTimeout)
	defer cancel()
	if err := s.store.BatchPut(pctx, entries); err != nil {
		s.log.Warn("persist failed", applogger.Int("keys", len(entries)), applogger.Error(err))
	}
}

func (s *PriceService) get(ctx context.Context, key string) ([]byte, bool) {
	if s.store == nil {
		return nil, false
	}
	gctx, cancel := context.WithTimeout(ctx, s.ioTimeout)
	defer cancel()
	b, ok, err := s.store.Get(gctx, key)
	if err != nil {
		s.log.Warn("store read failed", applogger.String("key", key), applogger.Error(err))
		return nil, false
	}
	return b, ok
}

func (s *PriceService) restoreRegistry(ctx context.Context) {
	rawMeta, ok := s.get(ctx, keyRegistryMeta)
	if !ok {
		return
	}
	doc, ok := s.get(ctx, keyRegistryDocument)
	if !ok {
		return
	}
	var meta registryMeta
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		s.log.Warn("stored registry metadata unreadable", applogger.Error(err))
		return
	}
	if _, err := s.registry.LoadBytes(meta.IPFSHash, meta.Version, doc); err != nil {
		s.log.Warn("stored registry rejected", applogger.Error(err))
	}
}

func (s *PriceService) restoreActive(ctx context.Context) ([]string, bool) {
	raw, ok := s.get(ctx, keyActiveSignals)
	if !ok {
		return nil, false
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		s.log.Warn("stored active signals unreadable", applogger.Error(err))
		return nil, false
	}
	return ids, true
}

// restoreAssets reloads stored observations for required keys, keeping their
// original timestamps.
func (s *PriceService) restoreAssets(ctx context.Context, required map[string][]string) int {
	n := 0
	for source, assets := range required {
		for _, asset := range assets {
			raw, ok := s.get(ctx, assetKey(source, asset))
			if !ok {
				continue
			}
			var info models.AssetInfo
			if err := json.Unmarshal(raw, &info); err != nil || info.SourceID != source || info.AssetID != asset {
				continue
			}
			s.cache.Store(info)
			n++
		}
	}
	return n
}

func assetKey(source, asset string) string {
	return assetKeyPrefix + source + "/" + asset
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

package usecase

import (
	"time"

	"SignalFeed/internal/domain/models"
	drepo "SignalFeed/internal/domain/repository"
	"SignalFeed/internal/service/assetcache"
	"SignalFeed/internal/service/registry"
	"SignalFeed/pkg/metrics"

	"github.com/shopspring/decimal"
)

// AssetReader is the read side of the asset cache.
type AssetReader interface {
	Get(sourceID, assetID string, now time.Time) assetcache.Lookup
}

// SnapshotSource yields the active registry snapshot.
type SnapshotSource interface {
	Current() *registry.Snapshot
}

// ResolverOption configures SignalResolver.
type ResolverOption func(*SignalResolver)

// WithObserver receives one record per computed signal, including
// intermediate dependencies.
func WithObserver(fn func(models.ComputationRecord)) ResolverOption {
	return func(r *SignalResolver) {
		r.observe = fn
	}
}

// WithResolverTelemetry sets the metrics sink.
func WithResolverTelemetry(t drepo.Telemetry) ResolverOption {
	return func(r *SignalResolver) {
		if t != nil {
			r.telemetry = t
		}
	}
}

// SignalResolver prices signals from the registry and asset cache. It never
// performs I/O and is safe for concurrent use.
type SignalResolver struct {
	registry  SnapshotSource
	cache     AssetReader
	observe   func(models.ComputationRecord)
	telemetry drepo.Telemetry
}

// NewSignalResolver creates a resolver.
func NewSignalResolver(reg SnapshotSource, cache AssetReader, opts ...ResolverOption) *SignalResolver {
	r := &SignalResolver{
		registry:  reg,
		cache:     cache,
		observe:   func(models.ComputationRecord) {},
		telemetry: metrics.Nop{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve prices ids against the snapshot active at entry. Results follow
// the order of ids.
func (r *SignalResolver) Resolve(ids []string, now time.Time) []models.SignalPrice {
	start := time.Now()
	snap := r.registry.Current()

	memo := make(map[string]models.SignalPrice, len(ids))
	out := make([]models.SignalPrice, 0, len(ids))
	for _, id := range ids {
		r.evaluate(snap, id, now, memo)
		res := memo[id]
		out = append(out, res)
		r.telemetry.RecordSignalStatus(res.Status.String())
	}

	r.telemetry.RecordResolveLatency(time.Since(start).Seconds())
	return out
}

type frame struct {
	id       string
	expanded bool
}

// evaluate resolves root and its dependencies in post-order, storing every
// result in memo. Registry validation guarantees the graph is acyclic.
func (r *SignalResolver) evaluate(snap *registry.Snapshot, root string, now time.Time, memo map[string]models.SignalPrice) {
	stack := []frame{{id: root}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, done := memo[f.id]; done {
			continue
		}

		def, ok := snap.Signal(f.id)
		if !ok {
			memo[f.id] = models.SignalPrice{SignalID: f.id, Status: models.StatusUnsupported}
			continue
		}

		if !f.expanded {
			stack = append(stack, frame{id: f.id, expanded: true})
			deps := def.DependencyIDs()
			for i := len(deps) - 1; i >= 0; i-- {
				if _, done := memo[deps[i]]; !done {
					stack = append(stack, frame{id: deps[i]})
				}
			}
			continue
		}

		memo[f.id] = r.compute(def, now, memo)
	}
}

// compute prices def once all of its dependencies are in memo.
func (r *SignalResolver) compute(def *models.SignalDefinition, now time.Time, memo map[string]models.SignalPrice) models.SignalPrice {
	inputs := make([]weighted, 0, len(def.Sources)+len(def.Dependencies))

	for _, src := range def.Sources {
		l := r.cache.Get(src.SourceID, src.AssetID, now)
		if l.State != assetcache.Fresh {
			continue
		}
		v, ok := applyRoutes(l.Price, src.Routes, memo)
		if !ok {
			continue
		}
		inputs = append(inputs, weighted{value: v, weight: src.Weight})
	}
	for _, dep := range def.Dependencies {
		if p := memo[dep.SignalID]; p.Status == models.StatusAvailable {
			inputs = append(inputs, weighted{value: p.Price, weight: dep.Weight})
		}
	}

	res := models.SignalPrice{SignalID: def.SignalID, Status: models.StatusUnavailable}
	if price, err := aggregate(def.Processor, inputs); err == nil {
		if price, err = postProcess(def.PostProcessors, price); err == nil {
			res.Price = price
			res.Status = models.StatusAvailable
		}
	}

	r.observe(models.ComputationRecord{
		SignalID: def.SignalID,
		Status:   res.Status,
		Price:    res.Price,
		Inputs:   len(inputs),
	})
	return res
}

// applyRoutes rewrites v through each route. It reports false when a routed
// signal is unavailable or an operation fails.
func applyRoutes(v decimal.Decimal, routes []models.Route, memo map[string]models.SignalPrice) (decimal.Decimal, bool) {
	for _, route := range routes {
		p := memo[route.SignalID]
		if p.Status != models.StatusAvailable {
			return v, false
		}
		next, err := route.Operation.Apply(v, p.Price)
		if err != nil {
			return v, false
		}
		v = next
	}
	return v, true
}

package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// AggregationMethod names the function that combines contributing values.
type AggregationMethod string

const (
	AggregationWeightedMean   AggregationMethod = "weighted_mean"
	AggregationWeightedMedian AggregationMethod = "weighted_median"
	AggregationMedian         AggregationMethod = "median"
)

// Valid reports whether the method is known.
func (m AggregationMethod) Valid() bool {
	switch m {
	case AggregationWeightedMean, AggregationWeightedMedian, AggregationMedian:
		return true
	}
	return false
}

// PostProcessor names a transformation applied to an aggregated value.
type PostProcessor string

const (
	PostProcessorTick PostProcessor = "tick_convertor"
)

// Valid reports whether the post-processor is known.
func (p PostProcessor) Valid() bool {
	return p == PostProcessorTick
}

// Operation is an arithmetic operator used by source routes.
type Operation string

const (
	OperationAdd      Operation = "+"
	OperationSubtract Operation = "-"
	OperationMultiply Operation = "*"
	OperationDivide   Operation = "/"
)

var ErrDivisionByZero = errors.New("models: division by zero")

// Valid reports whether the operator is known.
func (o Operation) Valid() bool {
	switch o {
	case OperationAdd, OperationSubtract, OperationMultiply, OperationDivide:
		return true
	}
	return false
}

// Apply computes a <op> b.
func (o Operation) Apply(a, b decimal.Decimal) (decimal.Decimal, error) {
	switch o {
	case OperationAdd:
		return a.Add(b), nil
	case OperationSubtract:
		return a.Sub(b), nil
	case OperationMultiply:
		return a.Mul(b), nil
	case OperationDivide:
		if b.IsZero() {
			return decimal.Zero, ErrDivisionByZero
		}
		return a.Div(b), nil
	default:
		return decimal.Zero, fmt.Errorf("models: unknown operation %q", string(o))
	}
}

// Route rewrites a source value using the price of another signal.
type Route struct {
	SignalID  string
	Operation Operation
}

// SourceRef is a weighted reference to a raw asset on one source.
type SourceRef struct {
	SourceID string
	AssetID  string
	Weight   decimal.Decimal
	Routes   []Route
}

// Key returns the cache key the reference reads.
func (s SourceRef) Key() AssetKey {
	return AssetKey{SourceID: s.SourceID, AssetID: s.AssetID}
}

// SignalDependency is a weighted reference to another signal.
type SignalDependency struct {
	SignalID string
	Weight   decimal.Decimal
}

// Processor describes the aggregation and its admission thresholds.
type Processor struct {
	Method                  AggregationMethod
	MinSourceCount          int
	MinimumCumulativeWeight decimal.Decimal
}

// SignalDefinition is the immutable computation rule of one signal.
type SignalDefinition struct {
	SignalID       string
	Sources        []SourceRef
	Dependencies   []SignalDependency
	Processor      Processor
	PostProcessors []PostProcessor
}

// DependencyIDs returns every signal this definition reads, dependencies
// first and then route signals, without duplicates.
func (d *SignalDefinition) DependencyIDs() []string {
	seen := make(map[string]struct{}, len(d.Dependencies))
	ids := make([]string, 0, len(d.Dependencies))
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, dep := range d.Dependencies {
		add(dep.SignalID)
	}
	for _, src := range d.Sources {
		for _, r := range src.Routes {
			add(r.SignalID)
		}
	}
	return ids
}

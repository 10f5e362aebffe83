package usecase

import (
	"errors"
	"fmt"
	"sort"

	"SignalFeed/internal/domain/models"

	"github.com/shopspring/decimal"
)

var (
	ErrResolutionGap   = errors.New("resolver: not enough contributing inputs")
	ErrTickOutOfBounds = errors.New("resolver: tick value out of bounds")
)

// weighted is one contributing (value, weight) pair.
type weighted struct {
	value  decimal.Decimal
	weight decimal.Decimal
}

var (
	two        = decimal.NewFromInt(2)
	tickBase   = decimal.RequireFromString("1.0001")
	tickMid    = decimal.NewFromInt(262144)
	tickMin    = decimal.NewFromInt(1)
	tickMax    = decimal.NewFromInt(524287)
	tickDigits = int32(28)
)

// aggregate combines inputs according to p.
func aggregate(p models.Processor, inputs []weighted) (decimal.Decimal, error) {
	minCount := p.MinSourceCount
	if minCount < 1 {
		minCount = 1
	}
	if len(inputs) < minCount {
		return decimal.Zero, fmt.Errorf("%w: have %d, need %d", ErrResolutionGap, len(inputs), minCount)
	}

	switch p.Method {
	case models.AggregationMedian:
		values := make([]decimal.Decimal, len(inputs))
		for i, in := range inputs {
			values[i] = in.value
		}
		return median(values), nil
	case models.AggregationWeightedMean, models.AggregationWeightedMedian:
		total := totalWeight(inputs)
		if total.LessThan(p.MinimumCumulativeWeight) {
			return decimal.Zero, fmt.Errorf("%w: cumulative weight %s below %s", ErrResolutionGap, total, p.MinimumCumulativeWeight)
		}
		if p.Method == models.AggregationWeightedMean {
			return weightedMean(inputs), nil
		}
		return weightedMedian(inputs), nil
	default:
		return decimal.Zero, fmt.Errorf("resolver: unknown aggregation %q", p.Method)
	}
}

func totalWeight(inputs []weighted) decimal.Decimal {
	total := decimal.Zero
	for _, in := range inputs {
		total = total.Add(in.weight)
	}
	return total
}

// weightedMean returns Σ(v·w) / Σw. inputs must be non-empty with positive weights.
func weightedMean(inputs []weighted) decimal.Decimal {
	sum := decimal.Zero
	for _, in := range inputs {
		sum = sum.Add(in.value.Mul(in.weight))
	}
	return sum.Div(totalWeight(inputs))
}

// weightedMedian returns the first value, in ascending order, at which the
// cumulative weight reaches half of the total. A cumulative weight landing
// exactly on the midpoint selects the lower value.
func weightedMedian(inputs []weighted) decimal.Decimal {
	sorted := append([]weighted(nil), inputs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].value.LessThan(sorted[j].value)
	})

	total := totalWeight(sorted)
	acc := decimal.Zero
	for _, in := range sorted {
		acc = acc.Add(in.weight.Mul(two))
		if acc.GreaterThanOrEqual(total) {
			return in.value
		}
	}
	return sorted[len(sorted)-1].value
}

// median returns the middle value, averaging the middle pair for even counts.
func median(values []decimal.Decimal) decimal.Decimal {
	sorted := append([]decimal.Decimal(nil), values...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LessThan(sorted[j])
	})
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(two)
}

// postProcess applies each post-processor in order.
func postProcess(steps []models.PostProcessor, v decimal.Decimal) (decimal.Decimal, error) {
	var err error
	for _, step := range steps {
		switch step {
		case models.PostProcessorTick:
			v, err = tick(v)
		default:
			err = fmt.Errorf("resolver: unknown post processor %q", step)
		}
		if err != nil {
			return decimal.Zero, err
		}
	}
	return v, nil
}

// tick converts a price to its tick index: ln(v)/ln(1.0001) + 262144.
func tick(v decimal.Decimal) (decimal.Decimal, error) {
	if !v.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: price %s is not positive", ErrTickOutOfBounds, v)
	}
	lnV, err := v.Ln(tickDigits)
	if err != nil {
		return decimal.Zero, fmt.Errorf("tick: %w", err)
	}
	lnBase, err := tickBase.Ln(tickDigits)
	if err != nil {
		return decimal.Zero, fmt.Errorf("tick: %w", err)
	}
	t := lnV.DivRound(lnBase, tickDigits).Add(tickMid)
	if t.LessThan(tickMin) || t.GreaterThan(tickMax) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrTickOutOfBounds, t)
	}
	return t, nil
}

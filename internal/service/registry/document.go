package registry

import (
	"encoding/json"
	"fmt"
	"strings"

	"SignalFeed/internal/domain/models"

	"github.com/shopspring/decimal"
)

type rawRoute struct {
	SignalID  string `json:"signal_id"`
	Operation string `json:"operation"`
}

type rawSource struct {
	SourceID string           `json:"source_id"`
	ID       string           `json:"id"`
	Weight   *decimal.Decimal `json:"weight,omitempty"`
	Routes   []rawRoute       `json:"routes,omitempty"`
}

type rawDependency struct {
	SignalID string           `json:"signal_id"`
	Weight   *decimal.Decimal `json:"weight,omitempty"`
}

type rawProcessor struct {
	Function string `json:"function"`
	Params   struct {
		MinSourceCount          int              `json:"min_source_count"`
		MinimumCumulativeWeight *decimal.Decimal `json:"minimum_cumulative_weight,omitempty"`
	} `json:"params"`
}

type rawPostProcessor struct {
	Function string `json:"function"`
}

type rawSignal struct {
	Sources        []rawSource        `json:"sources"`
	Dependencies   []rawDependency    `json:"dependencies,omitempty"`
	Processor      rawProcessor       `json:"processor"`
	PostProcessors []rawPostProcessor `json:"post_processors,omitempty"`
}

var one = decimal.NewFromInt(1)

// Decode parses a registry document into signal definitions. It checks shape
// only; cross-signal rules are enforced by Validate.
func Decode(raw []byte) (map[string]*models.SignalDefinition, error) {
	var doc map[string]rawSignal
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: document is not an object", ErrMalformedDocument)
	}

	out := make(map[string]*models.SignalDefinition, len(doc))
	for id, rs := range doc {
		if strings.TrimSpace(id) == "" {
			return nil, &ValidationError{Kind: ErrInvalidDefinition, SignalID: id, Detail: "empty signal id"}
		}
		def, err := convert(id, rs)
		if err != nil {
			return nil, err
		}
		out[id] = def
	}
	return out, nil
}

func convert(id string, rs rawSignal) (*models.SignalDefinition, error) {
	invalid := func(format string, a ...interface{}) error {
		return &ValidationError{Kind: ErrInvalidDefinition, SignalID: id, Detail: fmt.Sprintf(format, a...)}
	}

	def := &models.SignalDefinition{
		SignalID: id,
		Processor: models.Processor{
			Method:                  models.AggregationMethod(rs.Processor.Function),
			MinSourceCount:          rs.Processor.Params.MinSourceCount,
			MinimumCumulativeWeight: decimal.Zero,
		},
	}
	if !def.Processor.Method.Valid() {
		return nil, invalid("unknown processor %q", rs.Processor.Function)
	}
	if def.Processor.MinSourceCount < 0 {
		return nil, invalid("min_source_count cannot be negative")
	}
	if w := rs.Processor.Params.MinimumCumulativeWeight; w != nil {
		if w.IsNegative() {
			return nil, invalid("minimum_cumulative_weight cannot be negative")
		}
		def.Processor.MinimumCumulativeWeight = *w
	}

	for i, s := range rs.Sources {
		if s.SourceID == "" || s.ID == "" {
			return nil, invalid("source %d needs source_id and id", i)
		}
		w, err := weightOf(s.Weight)
		if err != nil {
			return nil, invalid("source %s/%s: %v", s.SourceID, s.ID, err)
		}
		ref := models.SourceRef{SourceID: s.SourceID, AssetID: s.ID, Weight: w}
		for _, r := range s.Routes {
			op := models.Operation(r.Operation)
			if !op.Valid() {
				return nil, invalid("source %s/%s: unknown route operation %q", s.SourceID, s.ID, r.Operation)
			}
			if r.SignalID == "" {
				return nil, invalid("source %s/%s: route without signal_id", s.SourceID, s.ID)
			}
			ref.Routes = append(ref.Routes, models.Route{SignalID: r.SignalID, Operation: op})
		}
		def.Sources = append(def.Sources, ref)
	}

	for _, d := range rs.Dependencies {
		if d.SignalID == "" {
			return nil, invalid("dependency without signal_id")
		}
		w, err := weightOf(d.Weight)
		if err != nil {
			return nil, invalid("dependency %s: %v", d.SignalID, err)
		}
		def.Dependencies = append(def.Dependencies, models.SignalDependency{SignalID: d.SignalID, Weight: w})
	}

	if len(def.Sources) == 0 && len(def.Dependencies) == 0 {
		return nil, invalid("no sources or dependencies")
	}

	for _, pp := range rs.PostProcessors {
		p := models.PostProcessor(pp.Function)
		if !p.Valid() {
			return nil, invalid("unknown post processor %q", pp.Function)
		}
		def.PostProcessors = append(def.PostProcessors, p)
	}
	return def, nil
}

func weightOf(w *decimal.Decimal) (decimal.Decimal, error) {
	if w == nil {
		return one, nil
	}
	if !w.IsPositive() {
		return decimal.Zero, fmt.Errorf("weight must be positive, got %s", w.String())
	}
	return *w, nil
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetInfo is the latest observation of a single asset on a single source.
type AssetInfo struct {
	SourceID   string          `json:"source_id"`
	AssetID    string          `json:"asset_id"`
	Price      decimal.Decimal `json:"price"`
	ObservedAt time.Time       `json:"observed_at"`
}

// Key returns the cache key of the observation.
func (a AssetInfo) Key() AssetKey {
	return AssetKey{SourceID: a.SourceID, AssetID: a.AssetID}
}

// AssetKey identifies one (source, asset) pair.
type AssetKey struct {
	SourceID string
	AssetID  string
}

func (k AssetKey) String() string {
	return k.SourceID + ":" + k.AssetID
}

// Observation is a normalized price update emitted by a source before it is
// attributed to a source id.
type Observation struct {
	AssetID    string
	Price      decimal.Decimal
	ObservedAt time.Time
}

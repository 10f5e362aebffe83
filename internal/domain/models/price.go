package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Status tags a resolved signal.
type Status int32

const (
	StatusUnspecified Status = iota
	StatusUnsupported
	StatusUnavailable
	StatusAvailable
)

func (s Status) String() string {
	switch s {
	case StatusUnsupported:
		return "UNSUPPORTED"
	case StatusUnavailable:
		return "UNAVAILABLE"
	case StatusAvailable:
		return "AVAILABLE"
	default:
		return "UNSPECIFIED"
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// PricePrecision is the number of decimal places carried by integer prices.
const PricePrecision = 9

// SignalPrice is the resolution result of one requested signal. Price is
// meaningful only when Status is StatusAvailable.
type SignalPrice struct {
	SignalID string
	Price    decimal.Decimal
	Status   Status
}

// HasPrice reports whether the result carries a price.
func (p SignalPrice) HasPrice() bool {
	return p.Status == StatusAvailable
}

// Mantissa renders the price as an integer scaled by 10^PricePrecision.
func (p SignalPrice) Mantissa() string {
	if !p.HasPrice() {
		return ""
	}
	return p.Price.Shift(PricePrecision).Round(0).String()
}

// ComputationRecord describes how one signal was computed within a resolve call.
type ComputationRecord struct {
	SignalID string
	Status   Status
	Price    decimal.Decimal
	Inputs   int
}

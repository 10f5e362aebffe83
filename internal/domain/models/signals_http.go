package models

import "time"

// Requests and views for the price HTTP endpoints.

type GetPricesRequest struct {
	SignalIDs string `query:"signal_ids" json:"signal_ids" validate:"required"`
}

type UpdateRegistryRequest struct {
	IPFSHash string `json:"ipfs_hash" validate:"required"`
	Version  string `json:"version" validate:"required"`
}

type SetActiveSignalIDsRequest struct {
	SignalIDs []string `json:"signal_ids" validate:"omitempty,dive,required"`
}

type PriceView struct {
	SignalID string `json:"signal_id"`
	Price    string `json:"price,omitempty"`
	Mantissa string `json:"mantissa,omitempty"`
	Status   Status `json:"status"`
}

type PricesResponse struct {
	UUID   string      `json:"uuid"`
	Prices []PriceView `json:"prices"`
}

// ServiceInfo describes the running registry and active sources.
type ServiceInfo struct {
	RegistryHash       string     `json:"registry_ipfs_hash"`
	RegistryVersion    string     `json:"registry_version"`
	RegistryLoadedAt   *time.Time `json:"registry_loaded_at,omitempty"`
	VersionRequirement string     `json:"registry_version_requirement"`
	ActiveSources      []string   `json:"active_sources"`
	ActiveSignalIDs    []string   `json:"active_signal_ids"`
	UnservedSources    []string   `json:"unserved_sources,omitempty"`
}

// NewPriceView renders a resolution result for transport.
func NewPriceView(p SignalPrice) PriceView {
	v := PriceView{SignalID: p.SignalID, Status: p.Status}
	if p.HasPrice() {
		v.Price = p.Price.String()
		v.Mantissa = p.Mantissa()
	}
	return v
}

// RegistryView describes the registry activated by an update.
type RegistryView struct {
	IPFSHash string    `json:"ipfs_hash"`
	Version  string    `json:"version"`
	Signals  int       `json:"signals"`
	LoadedAt time.Time `json:"loaded_at"`
}

// ActiveSignalsView is the active signal set after an update.
type ActiveSignalsView struct {
	SignalIDs []string `json:"signal_ids"`
}

package repository

import (
	"context"

	"SignalFeed/internal/domain/models"
)

// DocumentFetcher retrieves content-addressed documents such as registries.
type DocumentFetcher interface {
	Fetch(ctx context.Context, hash string) ([]byte, error)
}

// DurableStore is an optional key/value store used to warm-start the service.
type DurableStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	BatchPut(ctx context.Context, entries map[string][]byte) error
	Close() error
}

// PricePublisher ships resolved prices to downstream consumers.
type PricePublisher interface {
	PublishPrices(ctx context.Context, computationID string, prices []models.SignalPrice) error
	Close() error
}

// Telemetry is a fire-and-forget metrics sink. Implementations must not block.
type Telemetry interface {
	RecordCacheLookup(sourceID, result string)
	RecordConnectionEvent(sourceID, event string)
	RecordPollFailure(sourceID string)
	RecordObservations(sourceID string, n int)
	RecordWorkerState(sourceID, state string)
	RecordResolveLatency(seconds float64)
	RecordSignalStatus(status string)
	RecordRegistryLoad(result string)
}

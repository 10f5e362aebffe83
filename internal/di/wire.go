//go:build wireinject
// +build wireinject

package di

import (
	drepo "SignalFeed/internal/domain/repository"
	"SignalFeed/pkg/config"
	"SignalFeed/pkg/metrics"
	"SignalFeed/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Infrastructure
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,
		wire.Bind(new(drepo.Telemetry), new(*metrics.Recorder)),
		ProvideDurableStore,
		ProvidePricePublisher,

		// Services
		ProvideAssetCache,
		ProvideDocumentFetcher,
		ProvideRegistry,
		ProvideSourceWorkers,

		// Use cases
		ProvideSupervisor,
		ProvideResolver,
		ProvidePriceService,

		// HTTP and lifecycle
		ProvideHTTPHandler,
		ProvideHTTPServer,
		ProvideApp,
	)
	return &server.App{}, nil
}

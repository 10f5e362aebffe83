package di

import (
	"context"
	"fmt"
	"time"

	drepo "SignalFeed/internal/domain/repository"
	"SignalFeed/internal/handler/api"
	internalrepo "SignalFeed/internal/repository"
	"SignalFeed/internal/service/assetcache"
	"SignalFeed/internal/service/ipfs"
	"SignalFeed/internal/service/registry"
	"SignalFeed/internal/service/source/binance"
	"SignalFeed/internal/service/source/coingecko"
	"SignalFeed/internal/service/source/kafkaticks"
	"SignalFeed/internal/service/worker"
	"SignalFeed/internal/usecase"
	pkgcache "SignalFeed/pkg/cache"
	pkgch "SignalFeed/pkg/clickhouse"
	"SignalFeed/pkg/config"
	xhttp "SignalFeed/pkg/http"
	pkgkafka "SignalFeed/pkg/kafka"
	applogger "SignalFeed/pkg/logger"
	"SignalFeed/pkg/metrics"
	"SignalFeed/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
)

const serviceName = "signalfeed"

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka publishing
// is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideLogger creates the application logger. Error logs are also shipped
// to kafka.logs_topic when a producer is available.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	l = l.With(applogger.String("service", serviceName), applogger.String("env", cfg.Environment))
	if producer != nil && cfg.Kafka.LogsTopic != "" {
		l.AddCollector(&applogger.CollectionConfig{
			Service:   serviceName,
			Topic:     cfg.Kafka.LogsTopic,
			Publisher: producer,
		})
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus telemetry recorder on the default registry.
func ProvideMetrics() *metrics.Recorder {
	return metrics.New(metrics.WithRegisterer(prometheus.DefaultRegisterer))
}

// ProvideAssetCache creates the shared price cache.
func ProvideAssetCache(cfg *config.Config, tel drepo.Telemetry) *assetcache.Cache {
	return assetcache.New(
		assetcache.WithStaleThreshold(cfg.Cache.StaleThreshold),
		assetcache.WithCapacity(cfg.Cache.Capacity),
		assetcache.WithTelemetry(tel),
	)
}

// ProvideDocumentFetcher creates the IPFS gateway client.
func ProvideDocumentFetcher(cfg *config.Config) *ipfs.Fetcher {
	return ipfs.NewFetcher(cfg.Registry.IPFSGateway, cfg.Registry.FetchTimeout)
}

// ProvideRegistry creates the signal registry.
func ProvideRegistry(cfg *config.Config, fetcher *ipfs.Fetcher, l *applogger.Logger, tel drepo.Telemetry) *registry.Registry {
	return registry.New(fetcher,
		registry.WithVersionRange(cfg.Registry.MinVersion, cfg.Registry.MaxVersion),
		registry.WithFetchTimeout(cfg.Registry.FetchTimeout),
		registry.WithLogger(l),
		registry.WithTelemetry(tel),
	)
}

// ProvideSourceWorkers builds one worker per enabled source.
func ProvideSourceWorkers(cfg *config.Config, cache *assetcache.Cache, l *applogger.Logger, tel drepo.Telemetry) []worker.SourceWorker {
	common := []worker.Option{worker.WithLogger(l), worker.WithTelemetry(tel)}
	var workers []worker.SourceWorker

	if bn := cfg.Sources.Binance; bn.Enabled {
		opts := append([]worker.Option{
			worker.WithConnectionTimeout(bn.ConnectionTimeout),
			worker.WithBackoff(backoff(bn.BackoffMin, bn.BackoffMax)),
		}, common...)
		workers = append(workers, worker.NewStreaming("binance", binance.NewDialer(bn.URL), cache, opts...))
	}

	if cg := cfg.Sources.CoinGecko; cg.Enabled {
		client := coingecko.New(cg.URL,
			coingecko.WithAPIKey(cg.APIKey),
			coingecko.WithUserAgent(cg.UserAgent),
			coingecko.WithTimeout(cg.Timeout),
			coingecko.WithRateLimit(cg.RateLimit, 1),
			coingecko.WithChunkSize(cg.ChunkSize),
		)
		opts := append([]worker.Option{
			worker.WithInterval(cg.Interval),
			worker.WithFetchTimeout(cg.Timeout),
		}, common...)
		workers = append(workers, worker.NewPolling("coingecko", client, cache, opts...))
	}

	if kt := cfg.Sources.Kafka; kt.Enabled {
		dialer := kafkaticks.NewDialer(kt.Topic,
			pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
			pkgkafka.WithConsumerGroupID(kt.GroupID),
		)
		opts := append([]worker.Option{
			worker.WithConnectionTimeout(kt.ConnectionTimeout),
			worker.WithBackoff(backoff(kt.BackoffMin, kt.BackoffMax)),
		}, common...)
		workers = append(workers, worker.NewStreaming(kt.SourceID, dialer, cache, opts...))
	}

	return workers
}

func backoff(min, max time.Duration) worker.Backoff {
	b := worker.DefaultBackoff()
	if min > 0 {
		b.Min = min
	}
	if max >= b.Min {
		b.Max = max
	}
	return b
}

// ProvideSupervisor creates the worker supervisor.
func ProvideSupervisor(cfg *config.Config, workers []worker.SourceWorker, cache *assetcache.Cache, l *applogger.Logger, tel drepo.Telemetry) *usecase.WorkerSupervisor {
	return usecase.NewWorkerSupervisor(workers, cache,
		usecase.WithCheckInterval(cfg.Supervisor.CheckInterval),
		usecase.WithGraceWindow(cfg.Supervisor.GraceWindow),
		usecase.WithSupervisorLogger(l),
		usecase.WithSupervisorTelemetry(tel),
	)
}

// ProvideResolver creates the signal resolver.
func ProvideResolver(reg *registry.Registry, cache *assetcache.Cache, tel drepo.Telemetry) *usecase.SignalResolver {
	return usecase.NewSignalResolver(reg, cache, usecase.WithResolverTelemetry(tel))
}

// ProvideDurableStore opens the configured store backend. It returns nil for
// backend "none".
func ProvideDurableStore(cfg *config.Config, l *applogger.Logger) (drepo.DurableStore, error) {
	switch cfg.Store.Backend {
	case "memory":
		return internalrepo.NewMemoryStore(), nil
	case "redis":
		rc := cfg.Store.Redis
		c, err := pkgcache.NewRedisCache(
			pkgcache.WithRedisAddr(rc.Addr),
			pkgcache.WithRedisPassword(rc.Password),
			pkgcache.WithRedisDB(rc.DB),
			pkgcache.WithRedisPrefix(rc.Prefix),
		)
		if err != nil {
			return nil, fmt.Errorf("redis store: %w", err)
		}
		return internalrepo.NewRedisStore(c, rc.TTL), nil
	case "clickhouse":
		cc := cfg.Store.ClickHouse
		client, err := pkgch.NewClient(
			pkgch.WithHost(cc.Host),
			pkgch.WithPort(cc.Port),
			pkgch.WithDatabase(cc.Database),
			pkgch.WithCredentials(cc.User, cc.Password),
			pkgch.WithHTTP(cc.UseHTTP),
			pkgch.WithTimeouts(cc.DialTimeout, cc.ReadTimeout, 0),
		)
		if err != nil {
			return nil, fmt.Errorf("clickhouse store: %w", err)
		}
		store := internalrepo.NewCHStore(client, cc.Database+"."+cc.Table, l)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.Init(ctx); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("clickhouse store schema: %w", err)
		}
		return store, nil
	default:
		return nil, nil
	}
}

// ProvidePricePublisher publishes refreshed prices, or returns nil without a producer.
func ProvidePricePublisher(cfg *config.Config, producer *pkgkafka.Producer) drepo.PricePublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaPricePublisher(producer, cfg.Kafka.PricesTopic)
}

// ProvidePriceService creates the price use case.
func ProvidePriceService(
	cfg *config.Config,
	reg *registry.Registry,
	resolver *usecase.SignalResolver,
	sup *usecase.WorkerSupervisor,
	cache *assetcache.Cache,
	store drepo.DurableStore,
	pub drepo.PricePublisher,
	l *applogger.Logger,
) *usecase.PriceService {
	return usecase.NewPriceService(reg, resolver, sup, cache,
		usecase.WithStore(store),
		usecase.WithPublisher(pub),
		usecase.WithIOTimeout(cfg.Refresh.PublishTimeout),
		usecase.WithServiceLogger(l),
	)
}

// ProvideHTTPHandler creates the Echo handler for the price API.
func ProvideHTTPHandler(l *applogger.Logger, svc *usecase.PriceService) xhttp.Handler {
	return api.NewPricesEchoHandler(l, svc)
}

// ProvideHTTPServer creates the HTTP server.
func ProvideHTTPServer(cfg *config.Config, h xhttp.Handler, l *applogger.Logger) *xhttp.Server {
	path := ""
	if cfg.Metrics.Enabled {
		path = cfg.Metrics.Path
	}
	return xhttp.NewServer(h,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetrics(path, prometheus.DefaultRegisterer, prometheus.DefaultGatherer),
		xhttp.WithLogger(l),
	)
}

// ProvideApp creates the application lifecycle.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	svc *usecase.PriceService,
	sup *usecase.WorkerSupervisor,
	httpServer *xhttp.Server,
	store drepo.DurableStore,
	producer *pkgkafka.Producer,
) *server.App {
	var h server.HTTPServer
	if cfg.Server.Enabled {
		h = httpServer
	}
	app := server.New(server.Options{
		WarmStart: usecase.WarmStartOptions{
			BootstrapHash:    cfg.Registry.BootstrapHash,
			BootstrapVersion: cfg.Registry.BootstrapVersion,
			ActiveSignalIDs:  cfg.ActiveSignalIDs,
		},
		RefreshInterval: cfg.Refresh.Interval,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, l, svc, sup, h)

	if producer != nil {
		app.AddCloser("kafka producer", producer)
		app.AddCloser("log collector", closerFunc(l.RemoveCollector))
	}
	if store != nil {
		app.AddCloser("durable store", store)
	}
	return app
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}

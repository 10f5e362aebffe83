package di

import (
	"context"
	"testing"
	"time"

	"SignalFeed/internal/repository"
	"SignalFeed/internal/service/assetcache"
	"SignalFeed/pkg/config"
	applogger "SignalFeed/pkg/logger"
	"SignalFeed/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	return cfg
}

func TestInitializeAppWithDefaults(t *testing.T) {
	cfg := testConfig(t)
	cfg.Log.Level = "error"
	cfg.Server.Enabled = false

	app, err := InitializeApp(cfg)
	require.NoError(t, err)
	require.NotNil(t, app)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.NoError(t, app.RunContext(ctx))
}

func TestProvideSourceWorkers(t *testing.T) {
	cfg := testConfig(t)
	cache := assetcache.New()

	assert.Empty(t, ProvideSourceWorkers(cfg, cache, applogger.Nop(), metrics.Nop{}))

	cfg.Sources.Binance.Enabled = true
	cfg.Sources.CoinGecko.Enabled = true
	cfg.Sources.Kafka.Enabled = true
	cfg.Sources.Kafka.SourceID = "ticks"
	cfg.Kafka.Brokers = []string{"localhost:9092"}

	workers := ProvideSourceWorkers(cfg, cache, applogger.Nop(), metrics.Nop{})
	names := make([]string, 0, len(workers))
	for _, w := range workers {
		names = append(names, w.Name())
	}
	assert.Equal(t, []string{"binance", "coingecko", "ticks"}, names)
}

func TestBackoffBounds(t *testing.T) {
	b := backoff(2*time.Second, 30*time.Second)
	assert.Equal(t, 2*time.Second, b.Min)
	assert.Equal(t, 30*time.Second, b.Max)

	b = backoff(0, 0)
	assert.Equal(t, time.Second, b.Min)
	assert.Equal(t, 64*time.Second, b.Max)
}

func TestProvideDurableStore(t *testing.T) {
	cfg := testConfig(t)

	store, err := ProvideDurableStore(cfg, applogger.Nop())
	require.NoError(t, err)
	assert.Nil(t, store)

	cfg.Store.Backend = "memory"
	store, err = ProvideDurableStore(cfg, applogger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &repository.MemoryStore{}, store)
}

func TestProvidePricePublisherDisabled(t *testing.T) {
	assert.Nil(t, ProvidePricePublisher(testConfig(t), nil))
}

package assetcache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"SignalFeed/internal/domain/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestGetClassifiesFreshness(t *testing.T) {
	c := New(WithStaleThreshold(time.Minute))
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	c.Put("binance", "btcusdt", decimal.NewFromInt(100), now.Add(-30*time.Second))
	c.Put("binance", "ethusdt", decimal.NewFromInt(5), now.Add(-2*time.Minute))

	fresh := c.Get("binance", "btcusdt", now)
	assert.Equal(t, Fresh, fresh.State)
	assert.True(t, fresh.Price.Equal(decimal.NewFromInt(100)))

	stale := c.Get("binance", "ethusdt", now)
	assert.Equal(t, Stale, stale.State)

	assert.Equal(t, Missing, c.Get("binance", "solusdt", now).State)
	assert.Equal(t, Missing, c.Get("coingecko", "btcusdt", now).State)
}

func TestStaleBoundaryIsInclusive(t *testing.T) {
	c := New(WithStaleThreshold(time.Minute))
	now := time.Unix(1_700_000_000, 0)
	c.Put("s", "a", decimal.NewFromInt(1), now.Add(-time.Minute))

	assert.Equal(t, Fresh, c.Get("s", "a", now).State)
	assert.Equal(t, Stale, c.Get("s", "a", now.Add(time.Nanosecond)).State)
}

func TestPutOverwrites(t *testing.T) {
	c := New()
	now := time.Now()
	c.Put("s", "a", decimal.NewFromInt(1), now.Add(-time.Second))
	c.Put("s", "a", decimal.NewFromInt(2), now.Add(-2*time.Second))

	l := c.Get("s", "a", now)
	assert.True(t, l.Price.Equal(decimal.NewFromInt(2)), "last write wins even with an older timestamp")
	assert.Equal(t, 1, c.Len())
}

func TestStaleEntriesAreKept(t *testing.T) {
	c := New(WithStaleThreshold(time.Second))
	c.Put("s", "a", decimal.NewFromInt(1), time.Now().Add(-time.Hour))

	assert.Equal(t, Stale, c.Get("s", "a", time.Now()).State)
	assert.Equal(t, 1, c.Len())
}

func TestEvictionSkipsRequiredKeys(t *testing.T) {
	c := New(WithShards(1), WithCapacity(2))
	now := time.Now()
	c.SetRequired([]models.AssetKey{{SourceID: "s", AssetID: "a"}})

	c.Put("s", "a", decimal.NewFromInt(1), now)
	c.Put("s", "b", decimal.NewFromInt(2), now)
	c.Put("s", "c", decimal.NewFromInt(3), now)

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, Fresh, c.Get("s", "a", now).State, "required key must survive")
	assert.Equal(t, Missing, c.Get("s", "b", now).State, "least recently updated unrequired key is evicted")
	assert.Equal(t, Fresh, c.Get("s", "c", now).State)
}

func TestEvictionWhenEverythingIsRequired(t *testing.T) {
	c := New(WithShards(1), WithCapacity(1))
	now := time.Now()
	c.SetRequired([]models.AssetKey{{SourceID: "s", AssetID: "a"}, {SourceID: "s", AssetID: "b"}})

	c.Put("s", "a", decimal.NewFromInt(1), now)
	c.Put("s", "b", decimal.NewFromInt(2), now)

	assert.Equal(t, 2, c.Len())
}

func TestConcurrentWritersAndReaders(t *testing.T) {
	c := New()
	now := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				price := decimal.NewFromInt(int64(w*1000 + i))
				c.Put("s", fmt.Sprintf("a%d", i%10), price, now)
				l := c.Get("s", fmt.Sprintf("a%d", i%10), now)
				assert.Equal(t, Fresh, l.State)
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 10, c.Len())
	assert.Len(t, c.Snapshot(), 10)
}

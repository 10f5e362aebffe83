package coingecko

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"SignalFeed/internal/service/worker"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	body := []byte(`{
		"bitcoin": {"usd": 67187.3312345678901234, "last_updated_at": 1717171717},
		"ethereum": {"usd": 3500.5},
		"tether": {"eur": 0.92},
		"extra": {"usd": 1}
	}`)

	obs, err := parse(body, []string{"bitcoin", "ethereum", "tether"})
	require.NoError(t, err)
	require.Len(t, obs, 2)

	sort.Slice(obs, func(i, j int) bool { return obs[i].AssetID < obs[j].AssetID })
	assert.Equal(t, "bitcoin", obs[0].AssetID)
	assert.True(t, obs[0].Price.Equal(decimal.RequireFromString("67187.3312345678901234")))
	assert.Equal(t, int64(1717171717), obs[0].ObservedAt.Unix())
	assert.True(t, obs[1].ObservedAt.IsZero())

	_, err = parse([]byte(`<html>`), []string{"bitcoin"})
	assert.ErrorIs(t, err, worker.ErrMalformed)

	_, err = parse([]byte(`[]`), []string{"bitcoin"})
	assert.ErrorIs(t, err, worker.ErrMalformed)
}

func TestFetchChunksRequests(t *testing.T) {
	var (
		mu    sync.Mutex
		calls [][]string
		keys  []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		assert.Equal(t, "full", r.URL.Query().Get("precision"))

		ids := strings.Split(r.URL.Query().Get("ids"), ",")
		mu.Lock()
		calls = append(calls, ids)
		keys = append(keys, r.Header.Get("x-cg-demo-api-key"))
		mu.Unlock()

		parts := make([]string, 0, len(ids))
		for _, id := range ids {
			parts = append(parts, `"`+id+`":{"usd":1.5,"last_updated_at":1717171717}`)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{" + strings.Join(parts, ",") + "}"))
	}))
	defer srv.Close()

	c := New(srv.URL, WithChunkSize(2), WithRateLimit(0, 0), WithAPIKey("k"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	obs, err := c.Fetch(ctx, []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	assert.Len(t, obs, 5)
	assert.Len(t, calls, 3)
	for _, k := range keys {
		assert.Equal(t, "k", k)
	}
}

func TestFetchStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"status":{"error_code":429}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, WithRateLimit(0, 0))
	_, err := c.Fetch(context.Background(), []string{"bitcoin"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestFetchEmpty(t *testing.T) {
	c := New("http://127.0.0.1:1", WithRateLimit(0, 0))
	obs, err := c.Fetch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, obs)
}

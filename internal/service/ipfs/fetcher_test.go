package ipfs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGateway(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ipfs/QmGood", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`  {"CS:BTC-USD": {}}` + "\n"))
	})
	mux.HandleFunc("/ipfs/QmHTML", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>gateway error</html>`))
	})
	mux.HandleFunc("/ipfs/QmEmpty", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/ipfs/QmSlow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	})
	mux.HandleFunc("/ipfs/QmBoom", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch(t *testing.T) {
	srv := newGateway(t)
	f := NewFetcher(srv.URL+"/", 5*time.Second)

	body, err := f.Fetch(context.Background(), "QmGood")
	require.NoError(t, err)
	assert.JSONEq(t, `{"CS:BTC-USD": {}}`, string(body))
}

func TestFetchErrors(t *testing.T) {
	srv := newGateway(t)
	f := NewFetcher(srv.URL, 5*time.Second)
	ctx := context.Background()

	_, err := f.Fetch(ctx, "QmMissing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.Fetch(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.Fetch(ctx, "QmHTML")
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = f.Fetch(ctx, "QmEmpty")
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = f.Fetch(ctx, "QmBoom")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "502")
}

func TestFetchTimeout(t *testing.T) {
	srv := newGateway(t)
	f := NewFetcher(srv.URL, 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, "QmSlow")
	assert.ErrorIs(t, err, ErrTimeout)
}

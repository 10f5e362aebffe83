package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	models "SignalFeed/internal/domain/models"
	"SignalFeed/internal/service/ipfs"
	"SignalFeed/internal/service/registry"
	"SignalFeed/internal/usecase"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDoc = `{"BTC": {"sources": [{"source_id": "bn", "id": "btcusdt"}], "processor": {"function": "median"}}}`

type fakeService struct {
	requested []string
	updateErr error
	activeErr error
	active    []string
}

func (f *fakeService) GetPrices(_ context.Context, ids []string) usecase.PriceComputation {
	f.requested = ids
	out := make([]models.SignalPrice, 0, len(ids))
	for _, id := range ids {
		if id == "BTC" {
			out = append(out, models.SignalPrice{SignalID: id, Price: decimal.RequireFromString("67187.33"), Status: models.StatusAvailable})
			continue
		}
		out = append(out, models.SignalPrice{SignalID: id, Status: models.StatusUnsupported})
	}
	return usecase.PriceComputation{ComputationID: "c-1", Prices: out}
}

func (f *fakeService) UpdateRegistry(_ context.Context, hash, version string) (*registry.Snapshot, error) {
	if f.updateErr != nil {
		return nil, &registry.LoadError{Hash: hash, Version: version, Err: f.updateErr}
	}
	return registry.NewSnapshot(hash, version, []byte(testDoc), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
}

func (f *fakeService) SetActiveSignalIDs(_ context.Context, ids []string) error {
	if f.activeErr != nil {
		return f.activeErr
	}
	f.active = ids
	return nil
}

func (f *fakeService) ActiveSignalIDs() []string { return f.active }

func (f *fakeService) Info() models.ServiceInfo {
	return models.ServiceInfo{RegistryHash: "QmA", RegistryVersion: "1.0.0", ActiveSources: []string{"bn"}, ActiveSignalIDs: f.active}
}

func serve(t *testing.T, svc PriceAPI, method, target, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	e := echo.New()
	NewPricesEchoHandler(nil, svc).RegisterRoutes(e)

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func TestGetPrices(t *testing.T) {
	svc := &fakeService{}
	rec, out := serve(t, svc, http.MethodGet, "/api/prices?signal_ids=BTC,%20NOPE,", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"BTC", "NOPE"}, svc.requested)

	data := out["data"].(map[string]interface{})
	assert.Equal(t, "c-1", data["uuid"])
	prices := data["prices"].([]interface{})
	require.Len(t, prices, 2)

	btc := prices[0].(map[string]interface{})
	assert.Equal(t, "67187.33", btc["price"])
	assert.Equal(t, "67187330000000", btc["mantissa"])
	assert.Equal(t, "AVAILABLE", btc["status"])

	nope := prices[1].(map[string]interface{})
	assert.Equal(t, "UNSUPPORTED", nope["status"])
	assert.NotContains(t, nope, "price")
}

func TestGetPricesValidation(t *testing.T) {
	rec, _ := serve(t, &fakeService{}, http.MethodGet, "/api/prices", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = serve(t, &fakeService{}, http.MethodGet, "/api/prices?signal_ids=,,", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateRegistry(t *testing.T) {
	rec, out := serve(t, &fakeService{}, http.MethodPost, "/api/registry", `{"ipfs_hash":"QmA","version":"1.0.0"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	data := out["data"].(map[string]interface{})
	assert.Equal(t, "QmA", data["ipfs_hash"])
	assert.Equal(t, float64(1), data["signals"])

	rec, _ = serve(t, &fakeService{}, http.MethodPost, "/api/registry", `{"version":"1.0.0"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateRegistryErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("fetch: %w", ipfs.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("fetch: %w", ipfs.ErrTimeout), http.StatusGatewayTimeout},
		{&registry.ValidationError{Kind: registry.ErrAggregationCycle, SignalID: "A"}, http.StatusBadRequest},
		{registry.ErrUnsupportedVersion, http.StatusBadRequest},
		{ipfs.ErrMalformed, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			rec, out := serve(t, &fakeService{updateErr: tc.err}, http.MethodPost, "/api/registry", `{"ipfs_hash":"QmA","version":"1.0.0"}`)
			assert.Equal(t, tc.code, rec.Code)
			assert.Equal(t, float64(tc.code), out["status"])
		})
	}
}

func TestSetActiveSignals(t *testing.T) {
	svc := &fakeService{}
	rec, out := serve(t, svc, http.MethodPut, "/api/signals/active", `{"signal_ids":["BTC","ETH"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"BTC", "ETH"}, svc.active)
	assert.Equal(t, []interface{}{"BTC", "ETH"}, out["data"].(map[string]interface{})["signal_ids"])

	rec, _ = serve(t, &fakeService{activeErr: errors.New("reconcile")}, http.MethodPut, "/api/signals/active", `{"signal_ids":["BTC"]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestInfo(t *testing.T) {
	rec, out := serve(t, &fakeService{active: []string{"BTC"}}, http.MethodGet, "/api/info", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := out["data"].(map[string]interface{})
	assert.Equal(t, "QmA", data["registry_ipfs_hash"])
	assert.Equal(t, []interface{}{"bn"}, data["active_sources"])
	assert.NotContains(t, data, "registry_loaded_at", "empty registry has no load time")
}

package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routes struct{}

type echoRequest struct {
	Name  string `query:"name" validate:"required,max=5"`
	Limit int    `query:"limit" default:"10"`
}

func (routes) RegisterRoutes(e *echo.Echo) {
	e.GET("/ok", func(c echo.Context) error {
		req := &echoRequest{}
		if verr := ReadAndValidateRequest(c, req); verr != nil {
			return BadRequestResponse(c, verr)
		}
		return SuccessResponse(c, req)
	})
	e.GET("/boom", func(c echo.Context) error {
		panic("boom")
	})
	e.GET("/missing", func(c echo.Context) error {
		return AppErrorResponse(c, NotFoundError("nothing here"))
	})
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewServer(routes{}, WithMetrics("/metrics", reg, reg))
}

func do(s *Server, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestServerResponses(t *testing.T) {
	s := newTestServer(t)

	rec := do(s, "/ok?name=abc")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":200,"message":"OK","data":{"Name":"abc","Limit":10}}`, rec.Body.String())

	rec = do(s, "/ok?name=toolong")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_MAX")

	rec = do(s, "/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_NOT_FOUND")

	rec = do(s, "/boom")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServerMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	do(s, "/ok?name=a")

	rec := do(s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{method="GET",route="/ok",status="200"} 1`)
}

func TestClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "v", r.Header.Get("X-Test"))
		if r.URL.Query().Get("fail") != "" {
			http.Error(w, strings.Repeat("x", 10), http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"a":1}`))
	}))
	defer srv.Close()

	c := NewClient(WithHeader("X-Test", "v"))

	var out map[string]int
	require.NoError(t, c.SendAndParse(context.Background(), &RequestOptions{Method: MethodGet, URL: srv.URL}, &out))
	assert.Equal(t, 1, out["a"])

	var raw []byte
	require.NoError(t, c.SendAndParse(context.Background(), &RequestOptions{Method: MethodGet, URL: srv.URL}, &raw))
	assert.Equal(t, `{"a":1}`, string(raw))

	err := c.SendAndParse(context.Background(), &RequestOptions{
		Method:      MethodGet,
		URL:         srv.URL,
		QueryParams: map[string][]string{"fail": {"1"}},
	}, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.Equal(t, "xxxxxxxxxx", se.Body)
}

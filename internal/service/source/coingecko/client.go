// Package coingecko polls USD prices from the CoinGecko simple price API.
package coingecko

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"SignalFeed/internal/domain/models"
	"SignalFeed/internal/service/worker"
	pkghttp "SignalFeed/pkg/http"
	"SignalFeed/pkg/util"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.coingecko.com/api/v3"
	ProBaseURL     = "https://pro-api.coingecko.com/api/v3"

	defaultChunkSize   = 250
	defaultConcurrency = 4
	quoteCurrency      = "usd"
)

// Option configures Client.
type Option func(*Client)

// Client implements worker.Fetcher.
type Client struct {
	baseURL     string
	apiKey      string
	userAgent   string
	timeout     time.Duration
	chunkSize   int
	concurrency int
	limiter     *rate.Limiter
	http        *pkghttp.Client
}

var _ worker.Fetcher = (*Client)(nil)

// WithAPIKey sets the API key. Keys are sent as the pro header when the base
// URL is the pro endpoint and as the demo header otherwise.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithChunkSize caps the ids sent in one request.
func WithChunkSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// WithRateLimit limits requests per second. Zero disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *pkghttp.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a client for baseURL. An empty baseURL uses DefaultBaseURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		timeout:     10 * time.Second,
		chunkSize:   defaultChunkSize,
		concurrency: defaultConcurrency,
		limiter:     rate.NewLimiter(rate.Limit(0.5), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		header := "x-cg-demo-api-key"
		if strings.HasPrefix(c.baseURL, ProBaseURL) {
			header = "x-cg-pro-api-key"
		}
		c.http = pkghttp.NewClient(
			pkghttp.WithTimeout(c.timeout),
			pkghttp.WithHeader("Accept", "application/json"),
			pkghttp.WithHeader(header, c.apiKey),
			pkghttp.WithHeader("User-Agent", c.userAgent),
		)
	}
	return c
}

// Fetch returns the latest USD price for every id CoinGecko knows. Unknown ids
// are absent from the result.
func (c *Client) Fetch(ctx context.Context, ids []string) ([]models.Observation, error) {
	chunks := util.Chunk(ids, c.chunkSize)
	results := make([][]models.Observation, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			if err := c.limiter.Wait(gctx); err != nil {
				return err
			}
			obs, err := c.fetchChunk(gctx, chunk)
			if err != nil {
				return err
			}
			results[i] = obs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []models.Observation
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

func (c *Client) fetchChunk(ctx context.Context, ids []string) ([]models.Observation, error) {
	var body []byte
	err := c.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method: pkghttp.MethodGet,
		URL:    c.baseURL + "/simple/price",
		QueryParams: map[string][]string{
			"ids":                     {strings.Join(ids, ",")},
			"vs_currencies":           {quoteCurrency},
			"include_last_updated_at": {"true"},
			"precision":               {"full"},
		},
	}, &body)
	if err != nil {
		var se *pkghttp.StatusError
		if errors.As(err, &se) && se.Code == 429 {
			return nil, fmt.Errorf("coingecko rate limited: %w", err)
		}
		return nil, fmt.Errorf("coingecko simple price: %w", err)
	}
	return parse(body, ids)
}

func parse(body []byte, ids []string) ([]models.Observation, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid json", worker.ErrMalformed)
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: expected object", worker.ErrMalformed)
	}

	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	out := make([]models.Observation, 0, len(ids))
	var bad error
	root.ForEach(func(key, value gjson.Result) bool {
		id := key.String()
		if _, ok := wanted[id]; !ok {
			return true
		}
		quote := value.Get(quoteCurrency)
		if !quote.Exists() || quote.Type != gjson.Number {
			return true
		}
		price, err := decimal.NewFromString(quote.Raw)
		if err != nil {
			bad = fmt.Errorf("%w: %s price %q", worker.ErrMalformed, id, quote.Raw)
			return false
		}
		o := models.Observation{AssetID: id, Price: price}
		if ts := value.Get("last_updated_at").Int(); ts > 0 {
			o.ObservedAt = util.UnixAuto(ts)
		}
		out = append(out, o)
		return true
	})
	if bad != nil {
		return nil, bad
	}
	return out, nil
}

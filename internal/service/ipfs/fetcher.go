// Package ipfs fetches content-addressed documents through an HTTP gateway.
package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	drepo "SignalFeed/internal/domain/repository"
	pkghttp "SignalFeed/pkg/http"
)

var (
	ErrNotFound  = errors.New("ipfs: document not found")
	ErrTimeout   = errors.New("ipfs: fetch timed out")
	ErrMalformed = errors.New("ipfs: malformed document")
)

// Option configures Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the gateway client.
func WithHTTPClient(c *pkghttp.Client) Option {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// Fetcher implements DocumentFetcher as GET {gateway}/ipfs/{hash}.
type Fetcher struct {
	gateway string
	client  *pkghttp.Client
}

var _ drepo.DocumentFetcher = (*Fetcher)(nil)

// NewFetcher creates a gateway fetcher.
func NewFetcher(gateway string, timeout time.Duration, opts ...Option) *Fetcher {
	f := &Fetcher{
		gateway: strings.TrimRight(gateway, "/"),
		client:  pkghttp.NewClient(pkghttp.WithTimeout(timeout), pkghttp.WithHeader("Accept", "application/json")),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch returns the raw document bytes. The body must be a JSON value.
func (f *Fetcher) Fetch(ctx context.Context, hash string) ([]byte, error) {
	if hash == "" || strings.ContainsAny(hash, "/?#") {
		return nil, fmt.Errorf("%w: invalid hash %q", ErrNotFound, hash)
	}

	var body []byte
	err := f.client.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method: pkghttp.MethodGet,
		URL:    f.gateway + "/ipfs/" + url.PathEscape(hash),
	}, &body)
	if err != nil {
		return nil, classify(hash, err)
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 || !json.Valid(body) {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, hash)
	}
	return body, nil
}

func classify(hash string, err error) error {
	var se *pkghttp.StatusError
	switch {
	case errors.As(err, &se) && (se.Code == http.StatusNotFound || se.Code == http.StatusGone):
		return fmt.Errorf("%w: %s", ErrNotFound, hash)
	case errors.As(err, &se) && se.Code == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s", ErrTimeout, hash)
	case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
		return fmt.Errorf("%w: %s: %v", ErrTimeout, hash, err)
	default:
		return fmt.Errorf("ipfs fetch %s: %w", hash, err)
	}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

package cache

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCacheMiss = errors.New("cache: key not found")
)

// Service defines the byte-oriented cache operations. Keys are relative to
// the implementation's prefix.
type Service interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
	MSet(ctx context.Context, values map[string][]byte, expiration time.Duration) error
	Close() error
}

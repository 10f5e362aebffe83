package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	drepo "SignalFeed/internal/domain/repository"
	"SignalFeed/pkg/cache"
)

// RedisStore implements DurableStore over the Redis cache.
type RedisStore struct {
	c   cache.Service
	ttl time.Duration
}

var _ drepo.DurableStore = (*RedisStore)(nil)

// NewRedisStore creates a store. A zero ttl keeps entries forever.
func NewRedisStore(c cache.Service, ttl time.Duration) *RedisStore {
	return &RedisStore{c: c, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.c.Get(ctx, key)
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return b, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	if err := s.c.Set(ctx, key, value, s.ttl); err != nil {
		return fmt.Errorf("redis put %s: %w", key, err)
	}
	return nil
}

// BatchPut writes all entries in one pipelined transaction.
func (s *RedisStore) BatchPut(ctx context.Context, entries map[string][]byte) error {
	if err := s.c.MSet(ctx, entries, s.ttl); err != nil {
		return fmt.Errorf("redis batch put: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.c.Close()
}

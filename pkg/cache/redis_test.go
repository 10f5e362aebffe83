package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapKey(t *testing.T) {
	c := NewRedisCacheFromClient(nil, "signalfeed")
	assert.Equal(t, "signalfeed:registry/document", c.wrapKey("registry/document"))

	bare := NewRedisCacheFromClient(nil, "")
	assert.Equal(t, "a", bare.wrapKey("a"))
}

func TestEmptyMSetSkipsRedis(t *testing.T) {
	c := NewRedisCacheFromClient(nil, "p")
	require.NoError(t, c.MSet(context.Background(), nil, 0))
}

func TestNewRedisCacheUnreachable(t *testing.T) {
	_, err := NewRedisCache(
		WithRedisHost("127.0.0.1"),
		WithRedisPort(1),
		WithRedisPingTimeout(200*time.Millisecond),
	)
	assert.Error(t, err)
}

func TestGetOnClosedClient(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	c := NewRedisCacheFromClient(client, "p")
	_, err := c.Get(context.Background(), "missing")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
	require.NoError(t, c.Close())
}

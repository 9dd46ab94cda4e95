package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONCache_RoundTripAndTTL(t *testing.T) {
	client, mr := newTestRedis(t)
	c := NewJSONCache(client)
	ctx := context.Background()

	type entry struct{ N int }
	require.NoError(t, c.Set(ctx, CacheKey("t", "1"), entry{N: 3}, 48*time.Hour))
	assert.Equal(t, MaxCacheTTL, mr.TTL(CacheKeyPrefix+"t:1"))

	var got entry
	ok, err := c.Get(ctx, CacheKey("t", "1"), &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, got.N)

	require.NoError(t, c.Delete(ctx, CacheKey("t", "1")))
	ok, err = c.Get(ctx, CacheKey("t", "1"), &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJSONCache_NilIsMiss(t *testing.T) {
	var c *JSONCache
	ok, err := c.Get(context.Background(), "k", &struct{}{})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, c.Set(context.Background(), "k", 1, 0))
}

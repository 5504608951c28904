package policy

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutela/pkg/platform/sentinel"
)

func TestMemoryCachePutGet(t *testing.T) {
	c := NewMemoryCache(8)
	ctx := context.Background()
	d := Decision{PolicyName: "offshore-block", Version: "1.0.0", Outcome: OutcomeDeny}

	require.NoError(t, c.Put(ctx, "k1", d, time.Minute))
	got, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, d, got)

	_, err = c.Get(ctx, "absent")
	assert.True(t, errors.Is(err, sentinel.ErrNotFound))
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache(8)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "k1", Decision{Version: "1.0.0"}, time.Nanosecond))
	time.Sleep(5 * time.Millisecond)

	_, err := c.Get(ctx, "k1")
	assert.True(t, errors.Is(err, sentinel.ErrNotFound))
}

func TestMemoryCacheZeroTTLIsNoop(t *testing.T) {
	c := NewMemoryCache(8)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "k1", Decision{}, 0))
	_, err := c.Get(ctx, "k1")
	assert.True(t, errors.Is(err, sentinel.ErrNotFound))
}

func TestMemoryCacheEvictsOldestFirst(t *testing.T) {
	c := NewMemoryCache(3)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		key := fmt.Sprintf("k%d", i)
		require.NoError(t, c.Put(ctx, key, Decision{Version: key}, time.Minute))
	}

	_, err := c.Get(ctx, "k0")
	assert.True(t, errors.Is(err, sentinel.ErrNotFound), "oldest entry must be evicted")
	for i := 1; i < 4; i++ {
		_, err := c.Get(ctx, fmt.Sprintf("k%d", i))
		assert.NoError(t, err)
	}
}

func TestMemoryCacheOverwriteDoesNotEvictReplacement(t *testing.T) {
	c := NewMemoryCache(2)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "a", Decision{Version: "1.0.0"}, time.Minute))
	require.NoError(t, c.Put(ctx, "b", Decision{Version: "1.0.0"}, time.Minute))
	// Overwriting "a" leaves a stale order slot behind; the next eviction
	// must skip it rather than drop the fresh value.
	require.NoError(t, c.Put(ctx, "a", Decision{Version: "2.0.0"}, time.Minute))
	require.NoError(t, c.Put(ctx, "c", Decision{Version: "1.0.0"}, time.Minute))

	got, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", got.Version)

	_, err = c.Get(ctx, "b")
	assert.True(t, errors.Is(err, sentinel.ErrNotFound), "b was the oldest live entry")

	_, err = c.Get(ctx, "c")
	assert.NoError(t, err)
}

func TestMemoryCacheDefaultSize(t *testing.T) {
	c := NewMemoryCache(0)
	assert.Equal(t, defaultCacheSize, c.maxSize)
}

func TestCacheKeyDistinguishesVersionAndInput(t *testing.T) {
	id := uuid.New()
	input := map[string]any{"amount": 100, "country": "AU"}

	k1, err := cacheKey(id, "1.0.0", input)
	require.NoError(t, err)
	k2, err := cacheKey(id, "1.0.1", input)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2, "version must partition the key space")

	k3, err := cacheKey(id, "1.0.0", map[string]any{"country": "AU", "amount": 100})
	require.NoError(t, err)
	assert.Equal(t, k1, k3, "key order in the input must not matter")

	k4, err := cacheKey(id, "1.0.0", map[string]any{"amount": 101, "country": "AU"})
	require.NoError(t, err)
	assert.NotEqual(t, k1, k4)
}

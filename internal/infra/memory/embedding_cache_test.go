package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingCache_PutGet(t *testing.T) {
	cache := NewEmbeddingCache(8, time.Hour)
	ctx := context.Background()

	miss, err := cache.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, miss.IsAbsent())

	vector := []float32{1, 2, 3}
	require.NoError(t, cache.Put(ctx, "k1", vector, time.Minute))
	vector[0] = 99

	hit, err := cache.Get(ctx, "k1")
	require.NoError(t, err)
	got, ok := hit.Get()
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, got)
}

func TestEmbeddingCache_PerEntryTTL(t *testing.T) {
	cache := NewEmbeddingCache(8, time.Hour)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "short", []float32{1}, time.Minute))
	require.NoError(t, cache.Put(ctx, "long", []float32{2}, 30*time.Minute))

	now = now.Add(2 * time.Minute)

	short, err := cache.Get(ctx, "short")
	require.NoError(t, err)
	assert.True(t, short.IsAbsent())

	long, err := cache.Get(ctx, "long")
	require.NoError(t, err)
	assert.True(t, long.IsPresent())
	assert.Equal(t, 1, cache.Len())
}

func TestEmbeddingCache_EvictsLeastRecentlyUsed(t *testing.T) {
	cache := NewEmbeddingCache(2, time.Hour)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "a", []float32{1}, time.Hour))
	require.NoError(t, cache.Put(ctx, "b", []float32{2}, time.Hour))
	_, _ = cache.Get(ctx, "a")
	require.NoError(t, cache.Put(ctx, "c", []float32{3}, time.Hour))

	b, _ := cache.Get(ctx, "b")
	assert.True(t, b.IsAbsent())
	a, _ := cache.Get(ctx, "a")
	assert.True(t, a.IsPresent())
}

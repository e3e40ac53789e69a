package pcache_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/context-optimizer/internal/pcache"
)

func openTestCache(t *testing.T) *pcache.Cache {
	t.Helper()
	path := filepath.Join(t.TempDir(), "response_cache.db")
	c, err := pcache.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestGet_MissingReturnsNotFound(t *testing.T) {
	c := openTestCache(t)
	resp, ok, err := c.Get(context.Background(), "tool", "fp1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, resp)
}

func TestPutThenGet_RoundTrips(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	err := c.Put(ctx, "tool", "fp1", `{"q":"x"}`, "the response", time.Minute)
	require.NoError(t, err)

	resp, ok, err := c.Get(ctx, "tool", "fp1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "the response", resp)
}

func TestGet_ExpiredRowTreatedAsAbsentAndDeleted(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	err := c.Put(ctx, "tool", "fp1", `{}`, "stale", -time.Minute)
	require.NoError(t, err)

	resp, ok, err := c.Get(ctx, "tool", "fp1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, resp)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalEntries)
}

func TestPut_UpsertsOnConflict(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "tool", "fp1", `{}`, "first", time.Minute))
	require.NoError(t, c.Put(ctx, "tool", "fp1", `{}`, "second", time.Minute))

	resp, ok, err := c.Get(ctx, "tool", "fp1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "second", resp)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalEntries)
}

func TestGet_IncrementsHitCount(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "tool", "fp1", `{}`, "r", time.Minute))

	for i := 0; i < 3; i++ {
		_, ok, err := c.Get(ctx, "tool", "fp1")
		require.NoError(t, err)
		require.True(t, ok)
	}

	entries, err := c.TopEntries(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(3), entries[0].HitCount)
}

func TestInvalidateTool_DropsOnlyThatTool(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "toolA", "fp1", `{}`, "a", time.Minute))
	require.NoError(t, c.Put(ctx, "toolB", "fp1", `{}`, "b", time.Minute))

	require.NoError(t, c.InvalidateTool(ctx, "toolA"))

	_, okA, _ := c.Get(ctx, "toolA", "fp1")
	_, okB, _ := c.Get(ctx, "toolB", "fp1")
	assert.False(t, okA)
	assert.True(t, okB)
}

func TestClear_DropsEverything(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "tool", "fp1", `{}`, "r", time.Minute))
	require.NoError(t, c.Clear(ctx))

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalEntries)
}

func TestCleanupExpired_ReturnsCountDeleted(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "tool", "fp1", `{}`, "stale1", -time.Minute))
	require.NoError(t, c.Put(ctx, "tool", "fp2", `{}`, "stale2", -time.Minute))
	require.NoError(t, c.Put(ctx, "tool", "fp3", `{}`, "fresh", time.Minute))

	n, err := c.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalEntries)
}

func TestStats_PerToolCounts(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "toolA", "fp1", `{}`, "a", time.Minute))
	require.NoError(t, c.Put(ctx, "toolA", "fp2", `{}`, "a2", time.Minute))
	require.NoError(t, c.Put(ctx, "toolB", "fp1", `{}`, "b", time.Minute))

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalEntries)
	assert.Equal(t, 2, stats.PerToolCounts["toolA"])
	assert.Equal(t, 1, stats.PerToolCounts["toolB"])
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "response_cache.db")
	c1, err := pcache.Open(path)
	require.NoError(t, err)
	require.NoError(t, c1.Put(context.Background(), "tool", "fp1", `{}`, "persisted", time.Minute))
	require.NoError(t, c1.Close())

	c2, err := pcache.Open(path)
	require.NoError(t, err)
	defer c2.Close()

	resp, ok, err := c2.Get(context.Background(), "tool", "fp1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "persisted", resp)
}

package retrieve

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cortex/internal/store"
)

func TestUsageRecordRoundTrip(t *testing.T) {
	dir := t.TempDir()
	u := LoadUsage(dir)
	assert.Equal(t, 0, u.Count("a"))

	now := time.Unix(1700000000, 0)
	u.Touch("a", now)
	u.Touch("a", now)
	u.Touch("b", now)
	require.NoError(t, u.Save(dir))

	loaded := LoadUsage(dir)
	assert.Equal(t, 2, loaded.Count("a"))
	assert.Equal(t, 1, loaded.Count("b"))
	assert.Equal(t, now.UnixMilli(), loaded.LastAccess["a"])
}

func TestUsageRecordCorruptStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "usage.json"), []byte("garbage"), 0o600))
	u := LoadUsage(dir)
	assert.Empty(t, u.Counts)
}

func TestUsageRecordPrune(t *testing.T) {
	dir := t.TempDir()
	u := LoadUsage(dir)
	u.Touch("a", time.Now())
	u.Touch("b", time.Now())
	u.Prune([]string{"a", "missing"})
	assert.Equal(t, 0, u.Count("a"))
	assert.Equal(t, 1, u.Count("b"))
	assert.NotContains(t, u.LastAccess, "a")
}

func TestWithPromotionPromotesAtThreshold(t *testing.T) {
	dir := t.TempDir()
	hot := store.NewHotIndex(store.HotConfig{Capacity: 10})
	cold := newMemDriver("sqlite-vec")
	cold.Upsert(context.Background(), []store.ChunkEmbedding{testEmb("c1", []float32{1, 0})})

	opts := Options{
		Hot:        hot,
		Colds:      []store.Driver{cold},
		TopK:       5,
		MinResults: 1,
	}
	policy := PromotionPolicy{Threshold: 3, BaseDir: dir}

	for i := 1; i <= 2; i++ {
		got, err := WithPromotion(context.Background(), []float32{1, 0}, opts, policy)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.False(t, hot.Has("c1"), "retrieval %d is below the threshold", i)
	}

	got, err := WithPromotion(context.Background(), []float32{1, 0}, opts, policy)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, hot.Has("c1"), "third retrieval reaches the threshold")

	usage := LoadUsage(dir)
	assert.Equal(t, 3, usage.Count("c1"))
}

func TestWithPromotionSkipsHotSourcedResults(t *testing.T) {
	dir := t.TempDir()
	hot := store.NewHotIndex(store.HotConfig{Capacity: 10})
	hot.Upsert([]store.ChunkEmbedding{testEmb("h1", []float32{1, 0})})

	opts := Options{Hot: hot, TopK: 5, MinResults: 0}
	policy := PromotionPolicy{Threshold: 1, BaseDir: dir}

	for i := 0; i < 3; i++ {
		_, err := WithPromotion(context.Background(), []float32{1, 0}, opts, policy)
		require.NoError(t, err)
	}

	// Usage is still tracked for hot hits even though no promotion happens.
	usage := LoadUsage(dir)
	assert.Equal(t, 3, usage.Count("h1"))
	assert.Equal(t, 1, hot.Size())
}

func TestWithPromotionDisabledThreshold(t *testing.T) {
	dir := t.TempDir()
	hot := store.NewHotIndex(store.HotConfig{Capacity: 10})
	cold := newMemDriver("sqlite-vec")
	cold.Upsert(context.Background(), []store.ChunkEmbedding{testEmb("c1", []float32{1, 0})})

	opts := Options{Hot: hot, Colds: []store.Driver{cold}, TopK: 5, MinResults: 1}
	policy := PromotionPolicy{Threshold: 0, BaseDir: dir}

	for i := 0; i < 5; i++ {
		_, err := WithPromotion(context.Background(), []float32{1, 0}, opts, policy)
		require.NoError(t, err)
	}
	assert.False(t, hot.Has("c1"), "zero threshold disables promotion")
	assert.Equal(t, 5, LoadUsage(dir).Count("c1"), "usage is still recorded")
}

package retrieve

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cortex/internal/store"
)

// memDriver is an in-memory cold store used across the package tests. It
// tracks how many searches it served so fall-through behavior is observable.
type memDriver struct {
	name      string
	items     map[string]store.ChunkEmbedding
	searches  int
	searchErr error
}

func newMemDriver(name string) *memDriver {
	return &memDriver{name: name, items: make(map[string]store.ChunkEmbedding)}
}

func (m *memDriver) Name() string                   { return m.name }
func (m *memDriver) Init(ctx context.Context) error { return nil }
func (m *memDriver) Close() error                   { return nil }

func (m *memDriver) Upsert(ctx context.Context, items []store.ChunkEmbedding) (int, error) {
	for _, it := range items {
		m.items[it.ID] = it
	}
	return len(items), nil
}

func (m *memDriver) Search(ctx context.Context, vector []float32, opts store.SearchOptions) ([]store.RetrievedChunk, error) {
	m.searches++
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	var out []store.RetrievedChunk
	for _, it := range m.items {
		if opts.ModelFilter != "" && it.Model != opts.ModelFilter {
			continue
		}
		score := store.Cosine(vector, it.Vector)
		if opts.ScoreThreshold > 0 && score < opts.ScoreThreshold {
			continue
		}
		out = append(out, store.RetrievedChunk{Score: score, Chunk: it, Source: m.name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > opts.TopK {
		out = out[:opts.TopK]
	}
	return out, nil
}

func (m *memDriver) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	n := 0
	for _, id := range ids {
		if _, ok := m.items[id]; ok {
			delete(m.items, id)
			n++
		}
	}
	return n, nil
}

func testEmb(id string, vector []float32) store.ChunkEmbedding {
	return store.ChunkEmbedding{ID: id, Vector: vector, Dim: len(vector), Model: "test-model"}
}

func TestByEmbeddingHotOnlyWhenSatisfied(t *testing.T) {
	hot := store.NewHotIndex(store.HotConfig{Capacity: 10})
	hot.Upsert([]store.ChunkEmbedding{
		testEmb("h1", []float32{1, 0}),
		testEmb("h2", []float32{0.9, 0.1}),
	})
	cold := newMemDriver("sqlite-vec")
	cold.Upsert(context.Background(), []store.ChunkEmbedding{testEmb("c1", []float32{1, 0})})

	got, err := ByEmbedding(context.Background(), []float32{1, 0}, Options{
		Hot:        hot,
		Colds:      []store.Driver{cold},
		TopK:       5,
		MinResults: 2,
	})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 0, cold.searches, "satisfied hot tier skips cold fan-out")
}

func TestByEmbeddingFallsThroughToAllColds(t *testing.T) {
	hot := store.NewHotIndex(store.HotConfig{Capacity: 10})
	hot.Upsert([]store.ChunkEmbedding{testEmb("h1", []float32{1, 0})})

	cold1 := newMemDriver("sqlite-vec")
	cold1.Upsert(context.Background(), []store.ChunkEmbedding{testEmb("c1", []float32{0.8, 0.2})})
	cold2 := newMemDriver("qdrant")
	cold2.Upsert(context.Background(), []store.ChunkEmbedding{testEmb("c2", []float32{0.7, 0.3})})

	got, err := ByEmbedding(context.Background(), []float32{1, 0}, Options{
		Hot:        hot,
		Colds:      []store.Driver{cold1, cold2},
		TopK:       5,
		MinResults: 3,
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 1, cold1.searches)
	assert.Equal(t, 1, cold2.searches, "every cold store is queried, no early exit")
	assert.Equal(t, "h1", got[0].Chunk.ID, "descending score order")
}

func TestByEmbeddingDedupesHotWins(t *testing.T) {
	hot := store.NewHotIndex(store.HotConfig{Capacity: 10})
	hot.Upsert([]store.ChunkEmbedding{testEmb("shared", []float32{1, 0})})

	cold := newMemDriver("sqlite-vec")
	cold.Upsert(context.Background(), []store.ChunkEmbedding{testEmb("shared", []float32{1, 0})})

	got, err := ByEmbedding(context.Background(), []float32{1, 0}, Options{
		Hot:        hot,
		Colds:      []store.Driver{cold},
		TopK:       5,
		MinResults: 3,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, store.SourceHot, got[0].Source, "hot copy is authoritative on id collision")
}

func TestByEmbeddingColdErrorAborts(t *testing.T) {
	cold := newMemDriver("qdrant")
	cold.searchErr = errors.New("connection refused")

	_, err := ByEmbedding(context.Background(), []float32{1, 0}, Options{
		Hot:        store.NewHotIndex(store.HotConfig{Capacity: 10}),
		Colds:      []store.Driver{cold},
		TopK:       5,
		MinResults: 1,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "qdrant")
}

func TestByEmbeddingEmptyInputs(t *testing.T) {
	got, err := ByEmbedding(context.Background(), nil, Options{TopK: 5})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = ByEmbedding(context.Background(), []float32{1, 0}, Options{TopK: 0})
	require.NoError(t, err)
	assert.Empty(t, got)

	// No tiers configured at all.
	got, err = ByEmbedding(context.Background(), []float32{1, 0}, Options{TopK: 5, MinResults: 1})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestByEmbeddingTruncatesToTopK(t *testing.T) {
	cold := newMemDriver("sqlite-vec")
	cold.Upsert(context.Background(), []store.ChunkEmbedding{
		testEmb("c1", []float32{1, 0}),
		testEmb("c2", []float32{0.9, 0.1}),
		testEmb("c3", []float32{0.8, 0.2}),
	})

	got, err := ByEmbedding(context.Background(), []float32{1, 0}, Options{
		Colds:      []store.Driver{cold},
		TopK:       2,
		MinResults: 1,
	})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestByEmbeddingScoreThreshold(t *testing.T) {
	cold := newMemDriver("sqlite-vec")
	cold.Upsert(context.Background(), []store.ChunkEmbedding{
		testEmb("near", []float32{1, 0}),
		testEmb("far", []float32{0, 1}),
	})

	got, err := ByEmbedding(context.Background(), []float32{1, 0}, Options{
		Colds:          []store.Driver{cold},
		TopK:           5,
		MinResults:     1,
		ScoreThreshold: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "near", got[0].Chunk.ID)
}

func TestByEmbeddingPromoteFromCold(t *testing.T) {
	hot := store.NewHotIndex(store.HotConfig{Capacity: 10})
	cold := newMemDriver("sqlite-vec")
	cold.Upsert(context.Background(), []store.ChunkEmbedding{testEmb("c1", []float32{1, 0})})

	got, err := ByEmbedding(context.Background(), []float32{1, 0}, Options{
		Hot:             hot,
		Colds:           []store.Driver{cold},
		TopK:            5,
		MinResults:      1,
		PromoteFromCold: true,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, hot.Has("c1"), "cold hit promoted by write-through")
}

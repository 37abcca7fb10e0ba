package store

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cortex/internal/config"
)

func newTestQdrant(t *testing.T, handler http.HandlerFunc) *QdrantDriver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewQdrantDriver("qdrant", config.QdrantConfig{URL: srv.URL, Collection: "chunks"})
}

func TestQdrantSearchWithoutInitHitsExistingCollection(t *testing.T) {
	var searched bool
	d := newTestQdrant(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.True(t, strings.HasSuffix(r.URL.Path, "/collections/chunks/points/search"))
		searched = true
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":[{"score":0.92,"vector":[1,0],"payload":{
			"chunk_id":"abc123","file_path":"a.txt","start_line":1,"end_line":3,
			"model":"test-model","tokens":4,"dim":2}}]}`))
	})

	// A freshly constructed driver, no Init, no prior Upsert: the search must
	// still reach the backend rather than short-circuit in-process.
	got, err := d.Search(context.Background(), []float32{1, 0}, SearchOptions{TopK: 5})
	require.NoError(t, err)
	require.True(t, searched, "search request never left the driver")
	require.Len(t, got, 1)
	assert.Equal(t, "abc123", got[0].Chunk.ID)
	assert.Equal(t, "a.txt", got[0].Chunk.FilePath)
	assert.InDelta(t, 0.92, got[0].Score, 1e-9)
	assert.Equal(t, "qdrant", got[0].Source)
}

func TestQdrantSearchMissingCollectionIsEmpty(t *testing.T) {
	d := newTestQdrant(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":{"error":"Collection chunks doesn't exist"}}`, http.StatusNotFound)
	})

	got, err := d.Search(context.Background(), []float32{1, 0}, SearchOptions{TopK: 5})
	require.NoError(t, err, "not-yet-created collections answer as empty, not as an error")
	assert.Empty(t, got)
}

func TestQdrantDeleteMissingCollectionIsNoop(t *testing.T) {
	d := newTestQdrant(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":{"error":"Collection chunks doesn't exist"}}`, http.StatusNotFound)
	})

	n, err := d.DeleteByIDs(context.Background(), []string{"abc123"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQdrantSearchServerErrorPropagates(t *testing.T) {
	d := newTestQdrant(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := d.Search(context.Background(), []float32{1, 0}, SearchOptions{TopK: 5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestUUIDFromChunkID(t *testing.T) {
	id := "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"
	assert.Equal(t, "9f86d081-884c-7d65-9a2f-eaa0c55ad015", uuidFromChunkID(id))
	// Same input, same point id: upserts and deletes stay idempotent.
	assert.Equal(t, uuidFromChunkID(id), uuidFromChunkID(id))
}

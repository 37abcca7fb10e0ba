package store

import (
	"context"
	"fmt"

	"cortex/internal/config"
)

// SearchOptions parameterizes a cold-driver similarity search.
type SearchOptions struct {
	TopK int
	// ModelFilter, when set, restricts hits to embeddings produced by that
	// model.
	ModelFilter string
	// ScoreThreshold drops results scoring below it. A threshold <= 0
	// disables the filter.
	ScoreThreshold float64
}

// Driver is the uniform contract over durable vector stores. Variants
// differ only in how they translate it to their backend's native query
// language; every variant loads its backend client lazily so the engine has
// no hard dependency on any single backend being reachable.
//
// Scores returned by Search are normalized to the higher-is-more-similar
// convention shared with the hot index.
type Driver interface {
	// Name identifies the driver in retrieval results.
	Name() string
	// Init is idempotent. A backing collection or table that does not exist
	// yet is a normal precondition, not an error: creation happens lazily
	// on the first upsert, when the vector dimensionality is known.
	Init(ctx context.Context) error
	// Upsert writes embeddings keyed by chunk id, overwriting vector and
	// payload on id collision, and returns the number of items written.
	Upsert(ctx context.Context, items []ChunkEmbedding) (int, error)
	// Search runs a nearest-neighbor query.
	Search(ctx context.Context, vector []float32, opts SearchOptions) ([]RetrievedChunk, error)
	// DeleteByIDs removes matching rows and returns the count. Missing ids
	// are not an error.
	DeleteByIDs(ctx context.Context, ids []string) (int, error)
	// Close releases held resources; safe on a driver that never connected.
	Close() error
}

// NewDriver constructs a cold driver from configuration. Construction never
// touches the backend; connections are established on first use.
func NewDriver(cfg config.ColdStoreConfig) (Driver, error) {
	switch cfg.Type {
	case "sqlite-vec":
		if cfg.SQLite == nil || cfg.SQLite.Path == "" {
			return nil, fmt.Errorf("sqlite-vec store requires a path")
		}
		return NewSQLiteVecDriver(cfg.Name, cfg.SQLite.Path), nil
	case "qdrant":
		if cfg.Qdrant == nil || cfg.Qdrant.URL == "" {
			return nil, fmt.Errorf("qdrant store requires a url")
		}
		return NewQdrantDriver(cfg.Name, *cfg.Qdrant), nil
	case "pgvector":
		if cfg.Postgres == nil {
			return nil, fmt.Errorf("pgvector store requires postgres settings")
		}
		return NewPostgresDriver(cfg.Name, *cfg.Postgres)
	default:
		return nil, fmt.Errorf("unsupported cold store type: %s", cfg.Type)
	}
}

package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

const sqliteDDL = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS chunks (
    id         TEXT PRIMARY KEY,
    file_path  TEXT NOT NULL DEFAULT '',
    start_line INTEGER NOT NULL DEFAULT 0,
    end_line   INTEGER NOT NULL DEFAULT 0,
    model      TEXT NOT NULL DEFAULT '',
    tokens     INTEGER NOT NULL DEFAULT 0,
    dim        INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// SQLiteVecDriver is the embedded-local cold driver, backed by SQLite with
// the sqlite-vec extension. The vec0 virtual table is created on the first
// upsert, when the vector dimensionality is known.
type SQLiteVecDriver struct {
	name string
	path string

	mu  sync.Mutex
	db  *sql.DB
	dim int
}

// NewSQLiteVecDriver creates a driver for the database file at path without
// opening it.
func NewSQLiteVecDriver(name, path string) *SQLiteVecDriver {
	if name == "" {
		name = "sqlite-vec"
	}
	return &SQLiteVecDriver{name: name, path: path}
}

func (d *SQLiteVecDriver) Name() string { return d.name }

// Init opens the database and ensures the metadata schema. The vector table
// itself may not exist yet; that is the normal not-yet-created state.
func (d *SQLiteVecDriver) Init(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ensureLocked(ctx)
}

func (d *SQLiteVecDriver) ensureLocked(ctx context.Context) error {
	if d.db != nil {
		return nil
	}
	db, err := sql.Open("sqlite3", d.path)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteDDL); err != nil {
		db.Close()
		return fmt.Errorf("init schema: %w", err)
	}
	d.db = db

	// Recover a previously inferred dimension, if any.
	var dimStr string
	err = db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'dim'").Scan(&dimStr)
	if err == nil {
		fmt.Sscanf(dimStr, "%d", &d.dim)
	} else if err != sql.ErrNoRows {
		return err
	}
	if d.dim > 0 {
		return d.ensureVecTableLocked(ctx)
	}
	return nil
}

func (d *SQLiteVecDriver) ensureVecTableLocked(ctx context.Context) error {
	ddl := fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(embedding float[%d] distance_metric=cosine)",
		d.dim,
	)
	if _, err := d.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create vec table: %w", err)
	}
	if _, err := d.db.ExecContext(ctx,
		"INSERT INTO meta (key, value) VALUES ('dim', ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		fmt.Sprintf("%d", d.dim),
	); err != nil {
		return err
	}
	return nil
}

func (d *SQLiteVecDriver) Upsert(ctx context.Context, items []ChunkEmbedding) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureLocked(ctx); err != nil {
		return 0, err
	}
	if d.dim == 0 {
		d.dim = items[0].Dim
		if err := d.ensureVecTableLocked(ctx); err != nil {
			return 0, err
		}
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	upsert, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, file_path, start_line, end_line, model, tokens, dim)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    file_path = excluded.file_path,
		    start_line = excluded.start_line,
		    end_line = excluded.end_line,
		    model = excluded.model,
		    tokens = excluded.tokens,
		    dim = excluded.dim
	`)
	if err != nil {
		return 0, err
	}
	defer upsert.Close()

	count := 0
	for _, it := range items {
		if _, err := upsert.ExecContext(ctx, it.ID, it.FilePath, it.StartLine, it.EndLine, it.Model, it.TokensEstimated, it.Dim); err != nil {
			return 0, fmt.Errorf("upsert chunk %s: %w", it.ID, err)
		}

		var rowid int64
		if err := tx.QueryRowContext(ctx, "SELECT rowid FROM chunks WHERE id = ?", it.ID).Scan(&rowid); err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM vec_chunks WHERE rowid = ?", rowid); err != nil {
			return 0, err
		}
		blob, err := sqlite_vec.SerializeFloat32(it.Vector)
		if err != nil {
			return 0, fmt.Errorf("serialize embedding for %s: %w", it.ID, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO vec_chunks (rowid, embedding) VALUES (?, ?)", rowid, blob); err != nil {
			return 0, fmt.Errorf("insert embedding for %s: %w", it.ID, err)
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

func (d *SQLiteVecDriver) Search(ctx context.Context, vector []float32, opts SearchOptions) ([]RetrievedChunk, error) {
	if len(vector) == 0 || opts.TopK <= 0 {
		return nil, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureLocked(ctx); err != nil {
		return nil, err
	}
	if d.dim == 0 {
		// Nothing upserted yet.
		return nil, nil
	}

	blob, err := sqlite_vec.SerializeFloat32(vector)
	if err != nil {
		return nil, fmt.Errorf("serialize query embedding: %w", err)
	}

	// Over-fetch from the KNN subquery so Go-side model filtering still
	// yields up to topK hits.
	limit := opts.TopK
	if opts.ModelFilter != "" {
		limit *= 4
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT c.id, c.file_path, c.start_line, c.end_line, c.model, c.tokens, c.dim, v.embedding, v.distance
		FROM (SELECT rowid, embedding, distance FROM vec_chunks WHERE embedding MATCH ? ORDER BY distance LIMIT ?) v
		JOIN chunks c ON c.rowid = v.rowid
		ORDER BY v.distance
	`, blob, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RetrievedChunk
	for rows.Next() {
		var (
			emb      ChunkEmbedding
			raw      []byte
			distance float64
		)
		if err := rows.Scan(&emb.ID, &emb.FilePath, &emb.StartLine, &emb.EndLine, &emb.Model, &emb.TokensEstimated, &emb.Dim, &raw, &distance); err != nil {
			return nil, err
		}
		if opts.ModelFilter != "" && emb.Model != opts.ModelFilter {
			continue
		}
		score := 1 - distance // cosine distance -> similarity
		if opts.ScoreThreshold > 0 && score < opts.ScoreThreshold {
			continue
		}
		emb.Vector = deserializeFloat32(raw)
		results = append(results, RetrievedChunk{Score: score, Chunk: emb, Source: d.name})
		if len(results) == opts.TopK {
			break
		}
	}
	return results, rows.Err()
}

func (d *SQLiteVecDriver) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureLocked(ctx); err != nil {
		return 0, err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	count := 0
	for _, id := range ids {
		var rowid int64
		err := tx.QueryRowContext(ctx, "SELECT rowid FROM chunks WHERE id = ?", id).Scan(&rowid)
		if err == sql.ErrNoRows {
			continue // missing ids are not an error
		}
		if err != nil {
			return 0, err
		}
		if d.dim > 0 {
			if _, err := tx.ExecContext(ctx, "DELETE FROM vec_chunks WHERE rowid = ?", rowid); err != nil {
				return 0, err
			}
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE rowid = ?", rowid); err != nil {
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

func (d *SQLiteVecDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

// deserializeFloat32 decodes the little-endian float32 blob format used by
// sqlite-vec for vector columns.
func deserializeFloat32(raw []byte) []float32 {
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}

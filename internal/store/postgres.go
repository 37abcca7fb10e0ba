package store

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"cortex/internal/config"
)

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresDriver is the relational cold driver, backed by Postgres with the
// pgvector extension. The table is created on the first upsert with the
// vector dimensionality of the incoming batch; similarity uses the cosine
// distance operator normalized to a higher-is-better score.
type PostgresDriver struct {
	name  string
	dsn   string
	table string

	mu   sync.Mutex
	pool *pgxpool.Pool
	dim  int
}

// NewPostgresDriver creates a driver without connecting. The DSN comes from
// cfg.DSN or, when cfg.DSNEnv is set, from that environment variable.
func NewPostgresDriver(name string, cfg config.PostgresConfig) (*PostgresDriver, error) {
	if name == "" {
		name = "pgvector"
	}
	dsn := cfg.DSN
	if cfg.DSNEnv != "" {
		if v := os.Getenv(cfg.DSNEnv); v != "" {
			dsn = v
		}
	}
	if dsn == "" {
		return nil, fmt.Errorf("pgvector store requires a dsn")
	}
	table := cfg.Table
	if table == "" {
		table = "cortex_chunks"
	}
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PostgresDriver{name: name, dsn: dsn, table: table}, nil
}

func (d *PostgresDriver) Name() string { return d.name }

// Init connects and ensures the pgvector extension. The chunk table may not
// exist yet; it is created on the first upsert.
func (d *PostgresDriver) Init(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connectLocked(ctx)
}

func (d *PostgresDriver) connectLocked(ctx context.Context) error {
	if d.pool != nil {
		return nil
	}
	poolCfg, err := pgxpool.ParseConfig(d.dsn)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		pool.Close()
		return fmt.Errorf("ensure vector extension: %w", err)
	}
	d.pool = pool

	// Recover the dimension from an existing table, if present.
	var dim *int
	err = pool.QueryRow(ctx, fmt.Sprintf(
		"SELECT atttypmod FROM pg_attribute WHERE attrelid = to_regclass('%s') AND attname = 'embedding'",
		d.table,
	)).Scan(&dim)
	if err == nil && dim != nil && *dim > 0 {
		d.dim = *dim
	}
	return nil
}

func (d *PostgresDriver) ensureTableLocked(ctx context.Context, dim int) error {
	if d.dim > 0 {
		return nil
	}
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
		    id         TEXT PRIMARY KEY,
		    embedding  vector(%d) NOT NULL,
		    file_path  TEXT NOT NULL DEFAULT '',
		    start_line INT NOT NULL DEFAULT 0,
		    end_line   INT NOT NULL DEFAULT 0,
		    model      TEXT NOT NULL DEFAULT '',
		    tokens     INT NOT NULL DEFAULT 0,
		    dim        INT NOT NULL DEFAULT 0
		)`, d.table, dim)
	if _, err := d.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", d.table, err)
	}
	d.dim = dim
	return nil
}

func (d *PostgresDriver) Upsert(ctx context.Context, items []ChunkEmbedding) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.connectLocked(ctx); err != nil {
		return 0, err
	}
	if err := d.ensureTableLocked(ctx, items[0].Dim); err != nil {
		return 0, err
	}

	sql := fmt.Sprintf(`
		INSERT INTO %s (id, embedding, file_path, start_line, end_line, model, tokens, dim)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
		    embedding = EXCLUDED.embedding,
		    file_path = EXCLUDED.file_path,
		    start_line = EXCLUDED.start_line,
		    end_line = EXCLUDED.end_line,
		    model = EXCLUDED.model,
		    tokens = EXCLUDED.tokens,
		    dim = EXCLUDED.dim`, d.table)

	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(sql, it.ID, pgvector.NewVector(it.Vector), it.FilePath, it.StartLine, it.EndLine, it.Model, it.TokensEstimated, it.Dim)
	}
	br := d.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range items {
		if _, err := br.Exec(); err != nil {
			return 0, fmt.Errorf("upsert batch: %w", err)
		}
	}
	return len(items), nil
}

func (d *PostgresDriver) Search(ctx context.Context, vector []float32, opts SearchOptions) ([]RetrievedChunk, error) {
	if len(vector) == 0 || opts.TopK <= 0 {
		return nil, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.connectLocked(ctx); err != nil {
		return nil, err
	}
	if d.dim == 0 {
		// Table never created; nothing to search.
		return nil, nil
	}

	sql := fmt.Sprintf(`
		SELECT id, embedding, file_path, start_line, end_line, model, tokens, dim,
		       1 - (embedding <=> $1) AS score
		FROM %s
		WHERE ($2 = '' OR model = $2)
		ORDER BY embedding <=> $1
		LIMIT $3`, d.table)

	rows, err := d.pool.Query(ctx, sql, pgvector.NewVector(vector), opts.ModelFilter, opts.TopK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RetrievedChunk
	for rows.Next() {
		var (
			emb ChunkEmbedding
			vec pgvector.Vector
			sc  float64
		)
		if err := rows.Scan(&emb.ID, &vec, &emb.FilePath, &emb.StartLine, &emb.EndLine, &emb.Model, &emb.TokensEstimated, &emb.Dim, &sc); err != nil {
			return nil, err
		}
		if opts.ScoreThreshold > 0 && sc < opts.ScoreThreshold {
			continue
		}
		emb.Vector = vec.Slice()
		results = append(results, RetrievedChunk{Score: sc, Chunk: emb, Source: d.name})
	}
	return results, rows.Err()
}

func (d *PostgresDriver) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.connectLocked(ctx); err != nil {
		return 0, err
	}
	if d.dim == 0 {
		return 0, nil
	}
	tag, err := d.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", d.table), ids)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (d *PostgresDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pool != nil {
		d.pool.Close()
		d.pool = nil
	}
	return nil
}

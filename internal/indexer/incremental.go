// Package indexer drives incremental indexing: it detects file changes
// against a persisted manifest, embeds only chunks it has not seen before,
// and applies precise upserts and deletions to every configured cold store.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"cortex/internal/chunker"
	"cortex/internal/embedder"
	"cortex/internal/retrieve"
	"cortex/internal/store"
	"cortex/internal/walker"
)

const embedBatchSize = 32

// Params configures one incremental indexing run.
type Params struct {
	// RootDir is the project root to scan.
	RootDir string
	// Paths, when non-empty, restricts the run to these project-relative
	// paths. Removal detection is restricted to the same set.
	Paths []string

	ChunkConfig chunker.Config
	Gateway     embedder.Gateway
	Colds       []store.Driver

	// StateDir holds the manifest and the usage record.
	StateDir string

	Logger *slog.Logger
}

// Stats reports what one indexing run did.
type Stats struct {
	Unchanged []string
	Changed   []string
	Removed   []string

	ChunksEmbedded int
	ChunksUpserted int
	ChunksDeleted  int

	TruncatedFiles []string
	SkippedFiles   []string

	// Per-phase timing breakdown, in execution order.
	ScanDuration    time.Duration // manifest load, filesystem scan, classification
	ChunkDuration   time.Duration
	EmbedDuration   time.Duration
	StoreDuration   time.Duration // cold driver upserts and deletes
	PersistDuration time.Duration // manifest rewrite and usage pruning

	Duration time.Duration
}

// Run executes an incremental indexing pass. Files whose size, mtime, and
// embedding model all match the manifest are untouched. Changed and new
// files are re-chunked; only chunk ids absent from the file's previous
// manifest entry are embedded. Stale ids (present before, absent now) and
// all ids of removed files are deleted from every cold store. Driver writes
// are sequential and fail fast; the manifest is rewritten only after every
// store accepted its writes.
func Run(ctx context.Context, p Params) (*Stats, error) {
	log := p.Logger
	if log == nil {
		log = slog.Default()
	}
	start := time.Now()
	model := p.Gateway.Model()

	manifest := LoadManifest(p.StateDir)
	scan, err := walker.Collect(p.RootDir, p.Paths)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", p.RootDir, err)
	}

	stats := &Stats{SkippedFiles: scan.Skipped}

	// Classify against the manifest.
	var changed []walker.File
	present := make(map[string]bool, len(scan.Included))
	for _, f := range scan.Included {
		present[f.RelPath] = true
		entry, ok := manifest.Files[f.RelPath]
		if ok && entry.Size == f.Size && entry.MtimeMs == f.MtimeMs && entry.Model == model {
			stats.Unchanged = append(stats.Unchanged, f.RelPath)
			continue
		}
		changed = append(changed, f)
		stats.Changed = append(stats.Changed, f.RelPath)
	}
	for rel := range manifest.Files {
		if present[rel] {
			continue
		}
		if len(p.Paths) > 0 && !inScope(rel, p.Paths) {
			continue
		}
		stats.Removed = append(stats.Removed, rel)
	}
	sort.Strings(stats.Unchanged)
	sort.Strings(stats.Changed)
	sort.Strings(stats.Removed)
	stats.ScanDuration = time.Since(start)

	log.Info("scan classified",
		"unchanged", len(stats.Unchanged),
		"changed", len(stats.Changed),
		"removed", len(stats.Removed),
		"skipped", len(stats.SkippedFiles))

	// Re-chunk changed files and compute the embed and delete sets.
	type fileChunks struct {
		file   walker.File
		chunks []chunker.Chunk
	}
	var rechunked []fileChunks
	var toEmbed []chunker.Chunk
	embedSeen := make(map[string]bool)
	deleteSet := make(map[string]bool)
	chunkStart := time.Now()

	for _, f := range changed {
		chunks, truncated := chunker.ChunkFileContent(f.RelPath, f.Content, p.ChunkConfig)
		if truncated {
			stats.TruncatedFiles = append(stats.TruncatedFiles, f.RelPath)
			log.Warn("chunk stream capped", "file", f.RelPath, "max", p.ChunkConfig.MaxChunksPerFile)
		}
		rechunked = append(rechunked, fileChunks{file: f, chunks: chunks})

		oldIDs := make(map[string]bool)
		if entry, ok := manifest.Files[f.RelPath]; ok {
			for _, id := range entry.ChunkIDs {
				oldIDs[id] = true
			}
		}
		newIDs := make(map[string]bool, len(chunks))
		for i := range chunks {
			c := &chunks[i]
			newIDs[c.SHA256] = true
			if !oldIDs[c.SHA256] && !embedSeen[c.SHA256] {
				embedSeen[c.SHA256] = true
				toEmbed = append(toEmbed, *c)
			}
		}
		for id := range oldIDs {
			if !newIDs[id] {
				deleteSet[id] = true
			}
		}
	}
	for _, rel := range stats.Removed {
		for _, id := range manifest.Files[rel].ChunkIDs {
			deleteSet[id] = true
		}
	}
	// An id scheduled for deletion may reappear in a changed file; the
	// upsert restores it, so keep the write order delete-free.
	for id := range deleteSet {
		if embedSeen[id] {
			delete(deleteSet, id)
		}
	}
	stats.ChunkDuration = time.Since(chunkStart)

	// Embed new chunks in batches.
	embedStart := time.Now()
	embedded := make([]store.ChunkEmbedding, 0, len(toEmbed))
	for i := 0; i < len(toEmbed); i += embedBatchSize {
		end := min(i+embedBatchSize, len(toEmbed))
		batch := toEmbed[i:end]
		texts := make([]string, len(batch))
		for j := range batch {
			texts[j] = batch[j].Content
		}
		vectors, err := p.Gateway.Embed(ctx, texts)
		if err != nil {
			return stats, fmt.Errorf("embed batch: %w", err)
		}
		for j := range batch {
			embedded = append(embedded, store.NewChunkEmbedding(&batch[j], vectors[j], model))
		}
	}
	stats.ChunksEmbedded = len(embedded)
	stats.EmbedDuration = time.Since(embedStart)

	deleteIDs := make([]string, 0, len(deleteSet))
	for id := range deleteSet {
		deleteIDs = append(deleteIDs, id)
	}
	sort.Strings(deleteIDs)

	// Apply to every cold store, sequentially, failing fast.
	storeStart := time.Now()
	for _, d := range p.Colds {
		if err := d.Init(ctx); err != nil {
			return stats, fmt.Errorf("init %s: %w", d.Name(), err)
		}
		if len(embedded) > 0 {
			n, err := d.Upsert(ctx, embedded)
			if err != nil {
				return stats, fmt.Errorf("upsert into %s: %w", d.Name(), err)
			}
			stats.ChunksUpserted += n
		}
		if len(deleteIDs) > 0 {
			n, err := d.DeleteByIDs(ctx, deleteIDs)
			if err != nil {
				return stats, fmt.Errorf("delete from %s: %w", d.Name(), err)
			}
			stats.ChunksDeleted += n
		}
	}
	stats.StoreDuration = time.Since(storeStart)

	// Rewrite the manifest.
	persistStart := time.Now()
	for _, fc := range rechunked {
		ids := make([]string, len(fc.chunks))
		for i := range fc.chunks {
			ids[i] = fc.chunks[i].SHA256
		}
		manifest.Files[fc.file.RelPath] = ManifestEntry{
			MtimeMs:  fc.file.MtimeMs,
			Size:     fc.file.Size,
			Model:    model,
			ChunkIDs: ids,
		}
	}
	for _, rel := range stats.Removed {
		delete(manifest.Files, rel)
	}
	if err := manifest.Save(p.StateDir); err != nil {
		return stats, fmt.Errorf("save manifest: %w", err)
	}

	// Deleted chunks lose their usage history too.
	if len(deleteIDs) > 0 {
		usage := retrieve.LoadUsage(p.StateDir)
		usage.Prune(deleteIDs)
		if err := usage.Save(p.StateDir); err != nil {
			log.Warn("prune usage record", "err", err)
		}
	}

	stats.PersistDuration = time.Since(persistStart)
	stats.Duration = time.Since(start)
	log.Info("index run complete",
		"embedded", stats.ChunksEmbedded,
		"deleted", len(deleteIDs),
		"stores", len(p.Colds),
		"took", stats.Duration.Round(time.Millisecond))
	return stats, nil
}

func inScope(rel string, paths []string) bool {
	for _, p := range paths {
		if p == rel {
			return true
		}
	}
	return false
}

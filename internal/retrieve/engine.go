// Package retrieve merges hot and cold index tiers into a single ranked
// result set and applies the usage-driven promotion policy.
package retrieve

import (
	"context"
	"fmt"
	"sort"

	"cortex/internal/store"
)

// Options parameterizes a tiered retrieval.
type Options struct {
	Hot   *store.HotIndex
	Colds []store.Driver

	// TopKHot caps the hot-tier query; zero falls back to TopK.
	TopKHot int
	// TopK caps the merged result set.
	TopK int
	// MinResults is the fall-through trigger: when the hot tier returns fewer
	// hits than this, every cold driver is queried.
	MinResults int

	ModelFilter    string
	ScoreThreshold float64

	// PromoteFromCold writes cold-sourced results into the hot index after
	// the merge.
	PromoteFromCold bool
}

// ByEmbedding retrieves the best-matching chunks for a query vector across
// the hot tier and, when the hot tier comes up short, all cold drivers.
// Results are deduplicated by chunk id with the hot tier authoritative,
// sorted by descending score, and truncated to TopK. A cold driver error
// aborts the retrieval.
func ByEmbedding(ctx context.Context, vector []float32, opts Options) ([]store.RetrievedChunk, error) {
	if len(vector) == 0 || opts.TopK <= 0 {
		return nil, nil
	}
	topKHot := opts.TopKHot
	if topKHot <= 0 {
		topKHot = opts.TopK
	}

	var hot []store.RetrievedChunk
	if opts.Hot != nil {
		hot = opts.Hot.Query(store.HotQuery{
			Vector:      vector,
			TopK:        topKHot,
			ModelFilter: opts.ModelFilter,
		})
	}

	merged := make([]store.RetrievedChunk, 0, len(hot))
	seen := make(map[string]bool, len(hot))
	for _, r := range hot {
		if seen[r.Chunk.ID] {
			continue
		}
		seen[r.Chunk.ID] = true
		merged = append(merged, r)
	}

	if len(hot) < opts.MinResults && len(opts.Colds) > 0 {
		for _, d := range opts.Colds {
			results, err := d.Search(ctx, vector, store.SearchOptions{
				TopK:           opts.TopK,
				ModelFilter:    opts.ModelFilter,
				ScoreThreshold: opts.ScoreThreshold,
			})
			if err != nil {
				return nil, fmt.Errorf("cold search %s: %w", d.Name(), err)
			}
			for _, r := range results {
				if seen[r.Chunk.ID] {
					continue // hot copy wins on id collision
				}
				seen[r.Chunk.ID] = true
				merged = append(merged, r)
			}
		}
	}

	filtered := merged[:0]
	for _, r := range merged {
		if opts.ModelFilter != "" && r.Chunk.Model != opts.ModelFilter {
			continue
		}
		if opts.ScoreThreshold > 0 && r.Score < opts.ScoreThreshold {
			continue
		}
		filtered = append(filtered, r)
	}

	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].Score != filtered[j].Score {
			return filtered[i].Score > filtered[j].Score
		}
		return filtered[i].Chunk.ID < filtered[j].Chunk.ID
	})
	if len(filtered) > opts.TopK {
		filtered = filtered[:opts.TopK]
	}

	if opts.PromoteFromCold && opts.Hot != nil {
		var promote []store.ChunkEmbedding
		for _, r := range filtered {
			if r.Source != store.SourceHot {
				promote = append(promote, r.Chunk)
			}
		}
		if len(promote) > 0 {
			opts.Hot.Upsert(promote)
		}
	}

	return filtered, nil
}

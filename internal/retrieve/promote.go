package retrieve

import (
	"context"
	"time"

	"cortex/internal/store"
)

// PromotionPolicy controls threshold promotion of frequently retrieved
// chunks into the hot tier.
type PromotionPolicy struct {
	// Threshold is the cumulative retrieval count at which a cold-resident
	// chunk is promoted. Zero or negative disables promotion.
	Threshold int
	// BaseDir is where the usage record persists.
	BaseDir string

	now func() time.Time
}

// WithPromotion runs ByEmbedding and applies the usage-driven promotion
// policy: every returned chunk's retrieval count is bumped and persisted, and
// chunks whose count reaches the threshold are written into the hot index.
// Usage persistence failures do not fail the retrieval.
func WithPromotion(ctx context.Context, vector []float32, opts Options, policy PromotionPolicy) ([]store.RetrievedChunk, error) {
	results, err := ByEmbedding(ctx, vector, opts)
	if err != nil {
		return nil, err
	}
	if policy.BaseDir == "" || len(results) == 0 {
		return results, nil
	}
	nowFn := policy.now
	if nowFn == nil {
		nowFn = time.Now
	}

	usage := LoadUsage(policy.BaseDir)
	now := nowFn()

	var promote []store.ChunkEmbedding
	for _, r := range results {
		usage.Touch(r.Chunk.ID, now)
		if policy.Threshold <= 0 || opts.Hot == nil {
			continue
		}
		if r.Source == store.SourceHot || opts.Hot.Has(r.Chunk.ID) {
			continue
		}
		if usage.Count(r.Chunk.ID) >= policy.Threshold {
			promote = append(promote, r.Chunk)
		}
	}
	if len(promote) > 0 {
		opts.Hot.Upsert(promote)
	}
	_ = usage.Save(policy.BaseDir)

	return results, nil
}

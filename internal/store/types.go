package store

import (
	"math"

	"cortex/internal/chunker"
)

// SourceHot marks results served from the in-memory hot index. Cold-sourced
// results carry the originating driver's name instead.
const SourceHot = "hot"

// ChunkEmbedding is a chunk's vector representation. ID equals the chunk's
// content sha256. File path, line range, and token count are denormalized
// for display without dereferencing the original chunk. Embeddings are
// duplicated by value across tiers; there is no shared mutable state
// between hot and cold.
type ChunkEmbedding struct {
	ID              string         `json:"id"`
	Vector          []float32      `json:"vector"`
	Dim             int            `json:"dim"`
	Model           string         `json:"model"`
	FilePath        string         `json:"filePath"`
	StartLine       int            `json:"startLine"`
	EndLine         int            `json:"endLine"`
	TokensEstimated int            `json:"tokensEstimated"`
	Chunk           *chunker.Chunk `json:"-"`
}

// NewChunkEmbedding pairs a chunk with its vector, stamping the model that
// produced it.
func NewChunkEmbedding(c *chunker.Chunk, vector []float32, model string) ChunkEmbedding {
	return ChunkEmbedding{
		ID:              c.SHA256,
		Vector:          vector,
		Dim:             len(vector),
		Model:           model,
		FilePath:        c.FilePath,
		StartLine:       c.StartLine,
		EndLine:         c.EndLine,
		TokensEstimated: c.TokensEstimated,
		Chunk:           c,
	}
}

// RetrievedChunk is a single similarity hit. Score follows the
// higher-is-more-similar convention across all tiers. Source is either
// SourceHot or the name of the cold driver that produced the hit.
type RetrievedChunk struct {
	Score  float64
	Chunk  ChunkEmbedding
	Source string
}

// Cosine returns the cosine similarity of a and b, or 0 when either vector
// is empty, zero-length, or the dimensions differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

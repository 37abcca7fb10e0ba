package chunker

import (
	"cortex/internal/walker"
)

// IngestResult is the outcome of chunking a set of project paths.
type IngestResult struct {
	Chunks []Chunk
	// TruncatedFiles lists files whose chunk stream was capped at
	// MaxChunksPerFile.
	TruncatedFiles []string
	Skipped        []string
}

// IngestAndChunkPaths scans root through the ignore filter and chunks every
// included file. When paths is non-empty, only those project-relative paths
// are considered.
func IngestAndChunkPaths(root string, paths []string, cfg Config) (*IngestResult, error) {
	scan, err := walker.Collect(root, paths)
	if err != nil {
		return nil, err
	}

	res := &IngestResult{Skipped: scan.Skipped}
	for _, f := range scan.Included {
		chunks, truncated := ChunkFileContent(f.RelPath, f.Content, cfg)
		res.Chunks = append(res.Chunks, chunks...)
		if truncated {
			res.TruncatedFiles = append(res.TruncatedFiles, f.RelPath)
		}
	}
	return res, nil
}

package indexer

import (
	"encoding/json"
	"os"
	"path/filepath"
)

const manifestFile = "manifest.json"

// ManifestEntry records what was indexed for one file: the change-detection
// fingerprint (size and mtime), the embedding model used, and the chunk ids
// the file produced.
type ManifestEntry struct {
	MtimeMs  int64    `json:"mtimeMs"`
	Size     int64    `json:"size"`
	Model    string   `json:"model"`
	ChunkIDs []string `json:"chunkIds"`
}

// Manifest maps project-relative file paths to their indexed state. It is
// the source of truth for incremental change detection.
type Manifest struct {
	Version int                      `json:"version"`
	Files   map[string]ManifestEntry `json:"files"`
}

// NewManifest returns an empty manifest.
func NewManifest() *Manifest {
	return &Manifest{Version: 1, Files: make(map[string]ManifestEntry)}
}

// LoadManifest reads the manifest from baseDir. A missing or corrupt file
// yields an empty manifest, which causes a full re-index rather than an
// error.
func LoadManifest(baseDir string) *Manifest {
	data, err := os.ReadFile(filepath.Join(baseDir, manifestFile))
	if err != nil {
		return NewManifest()
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil || m.Files == nil {
		return NewManifest()
	}
	return &m
}

// Save writes the manifest to baseDir.
func (m *Manifest) Save(baseDir string) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(baseDir, manifestFile), data, 0o600)
}

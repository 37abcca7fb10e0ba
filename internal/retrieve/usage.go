package retrieve

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

const usageFile = "usage.json"

// UsageRecord tracks per-chunk retrieval counts across process restarts. It
// drives promotion of frequently retrieved chunks into the hot tier.
type UsageRecord struct {
	Version    int              `json:"version"`
	Counts     map[string]int   `json:"counts"`
	LastAccess map[string]int64 `json:"lastAccess"` // epoch millis
}

// NewUsageRecord returns an empty record.
func NewUsageRecord() *UsageRecord {
	return &UsageRecord{
		Version:    1,
		Counts:     make(map[string]int),
		LastAccess: make(map[string]int64),
	}
}

// LoadUsage reads the usage record from baseDir. A missing or corrupt file
// starts the record empty rather than failing.
func LoadUsage(baseDir string) *UsageRecord {
	data, err := os.ReadFile(filepath.Join(baseDir, usageFile))
	if err != nil {
		return NewUsageRecord()
	}
	var rec UsageRecord
	if err := json.Unmarshal(data, &rec); err != nil || rec.Counts == nil {
		return NewUsageRecord()
	}
	if rec.LastAccess == nil {
		rec.LastAccess = make(map[string]int64)
	}
	return &rec
}

// Save writes the record to baseDir.
func (u *UsageRecord) Save(baseDir string) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(baseDir, usageFile), data, 0o600)
}

// Touch bumps the retrieval count for id and stamps its access time.
func (u *UsageRecord) Touch(id string, now time.Time) {
	u.Counts[id]++
	u.LastAccess[id] = now.UnixMilli()
}

// Count returns the recorded retrieval count for id.
func (u *UsageRecord) Count(id string) int { return u.Counts[id] }

// Prune drops usage entries for the given ids. Used when chunks are deleted
// from the index so stale counts do not survive a re-index.
func (u *UsageRecord) Prune(ids []string) {
	for _, id := range ids {
		delete(u.Counts, id)
		delete(u.LastAccess, id)
	}
}

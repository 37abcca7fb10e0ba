package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// HotConfig configures a HotIndex.
type HotConfig struct {
	Capacity int
	// SnapshotPath, when set, is loaded on construction and rewritten after
	// every mutating operation if Autosave is true.
	SnapshotPath string
	Autosave     bool
}

type hotEntry struct {
	Embedding  ChunkEmbedding `json:"embedding"`
	UseCount   int            `json:"useCount"`
	LastAccess int64          `json:"lastAccess"` // epoch millis
	InsertedAt int64          `json:"insertedAt"` // epoch millis
}

type hotSnapshot struct {
	Version int                  `json:"version"`
	Items   map[string]*hotEntry `json:"items"`
}

// HotIndex is a capacity-bounded in-memory vector cache with brute-force
// cosine search and usage-based eviction. None of its operations fail: a
// query against an empty index returns an empty result, and an index that
// cannot satisfy topK returns fewer hits.
type HotIndex struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*hotEntry
	cfg      HotConfig
	now      func() time.Time
}

// NewHotIndex creates a hot index, loading the snapshot at
// cfg.SnapshotPath if one exists. An unreadable or corrupt snapshot starts
// the index empty rather than failing.
func NewHotIndex(cfg HotConfig) *HotIndex {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1024
	}
	h := &HotIndex{
		capacity: cfg.Capacity,
		items:    make(map[string]*hotEntry),
		cfg:      cfg,
		now:      time.Now,
	}
	if cfg.SnapshotPath != "" {
		h.load()
	}
	return h
}

// HotQuery parameterizes a hot-index similarity query.
type HotQuery struct {
	Vector      []float32
	TopK        int
	ModelFilter string
}

// Upsert inserts or replaces embeddings by id. Replacing an existing id
// swaps its vector and payload but preserves its usage metadata (useCount,
// lastAccess, insertedAt). When the batch would push the index past
// capacity, the least-used existing items are evicted first (ties broken by
// oldest insertedAt, then oldest lastAccess); items in the incoming batch
// are never evicted. Replacement alone never triggers eviction.
func (h *HotIndex) Upsert(items []ChunkEmbedding) {
	if len(items) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	nowMs := h.now().UnixMilli()

	incoming := make(map[string]bool, len(items))
	newCount := 0
	for _, it := range items {
		if incoming[it.ID] {
			continue
		}
		incoming[it.ID] = true
		if _, ok := h.items[it.ID]; !ok {
			newCount++
		}
	}

	if need := len(h.items) + newCount - h.capacity; need > 0 {
		h.evictLocked(need, incoming)
	}

	for _, it := range items {
		if e, ok := h.items[it.ID]; ok {
			e.Embedding = it
			continue
		}
		// A batch larger than capacity drops its trailing items: once the
		// index is full and nothing evictable remains, new ids are skipped.
		if len(h.items) >= h.capacity {
			continue
		}
		h.items[it.ID] = &hotEntry{
			Embedding:  it,
			InsertedAt: nowMs,
			LastAccess: nowMs,
		}
	}
	h.autosaveLocked()
}

// evictLocked removes n victims, chosen by ascending useCount with ties
// broken by oldest insertedAt then oldest lastAccess. Ids in keep are
// exempt.
func (h *HotIndex) evictLocked(n int, keep map[string]bool) {
	type victim struct {
		id string
		e  *hotEntry
	}
	candidates := make([]victim, 0, len(h.items))
	for id, e := range h.items {
		if keep[id] {
			continue
		}
		candidates = append(candidates, victim{id, e})
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.e.UseCount != b.e.UseCount {
			return a.e.UseCount < b.e.UseCount
		}
		if a.e.InsertedAt != b.e.InsertedAt {
			return a.e.InsertedAt < b.e.InsertedAt
		}
		if a.e.LastAccess != b.e.LastAccess {
			return a.e.LastAccess < b.e.LastAccess
		}
		return a.id < b.id
	})
	if n > len(candidates) {
		n = len(candidates)
	}
	for _, v := range candidates[:n] {
		delete(h.items, v.id)
	}
}

// Query scores every stored item against q.Vector (restricted to q's model
// filter when set) and returns the topK best in descending score order.
// Usage metadata is bumped only for the items actually returned, not for
// every candidate scanned.
func (h *HotIndex) Query(q HotQuery) []RetrievedChunk {
	if len(q.Vector) == 0 || q.TopK <= 0 {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	scored := make([]RetrievedChunk, 0, len(h.items))
	for _, e := range h.items {
		if q.ModelFilter != "" && e.Embedding.Model != q.ModelFilter {
			continue
		}
		scored = append(scored, RetrievedChunk{
			Score:  Cosine(q.Vector, e.Embedding.Vector),
			Chunk:  e.Embedding,
			Source: SourceHot,
		})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Chunk.ID < scored[j].Chunk.ID
	})
	if len(scored) > q.TopK {
		scored = scored[:q.TopK]
	}

	nowMs := h.now().UnixMilli()
	for _, r := range scored {
		if e, ok := h.items[r.Chunk.ID]; ok {
			e.UseCount++
			e.LastAccess = nowMs
		}
	}
	if len(scored) > 0 {
		h.autosaveLocked()
	}
	return scored
}

// Has reports whether id is currently cached.
func (h *HotIndex) Has(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.items[id]
	return ok
}

// Size returns the number of cached embeddings.
func (h *HotIndex) Size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}

// Save writes the full index, including per-item usage metadata, to the
// configured snapshot path.
func (h *HotIndex) Save() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.saveLocked()
}

func (h *HotIndex) saveLocked() error {
	if h.cfg.SnapshotPath == "" {
		return nil
	}
	snap := hotSnapshot{Version: 1, Items: h.items}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(h.cfg.SnapshotPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(h.cfg.SnapshotPath, data, 0o600)
}

func (h *HotIndex) autosaveLocked() {
	if h.cfg.Autosave {
		// Best-effort write-through; the in-memory state stays authoritative.
		_ = h.saveLocked()
	}
}

func (h *HotIndex) load() {
	data, err := os.ReadFile(h.cfg.SnapshotPath)
	if err != nil {
		return
	}
	var snap hotSnapshot
	if err := json.Unmarshal(data, &snap); err != nil || snap.Items == nil {
		return
	}
	h.items = snap.Items
}

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"cortex/internal/config"
)

// QdrantDriver is the remote REST cold driver. It speaks Qdrant's HTTP API
// directly: collection ensure on first write, points upsert, filtered
// search. Qdrant point ids must be UUIDs, so the driver derives a
// deterministic UUID from each chunk's sha256 and keeps the full sha256 in
// the point payload.
type QdrantDriver struct {
	name       string
	baseURL    string
	apiKey     string
	collection string
	client     *http.Client

	created bool
}

// NewQdrantDriver creates a driver for the given Qdrant instance without
// contacting it.
func NewQdrantDriver(name string, cfg config.QdrantConfig) *QdrantDriver {
	if name == "" {
		name = "qdrant"
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "cortex_chunks"
	}
	return &QdrantDriver{
		name:       name,
		baseURL:    cfg.URL,
		apiKey:     apiKey,
		collection: collection,
		client:     &http.Client{Timeout: timeout},
	}
}

func (d *QdrantDriver) Name() string { return d.name }

// Init probes for the collection. A missing collection is the normal
// not-yet-created state; it is created on the first upsert, when the vector
// dimensionality is known.
func (d *QdrantDriver) Init(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/collections/%s", d.baseURL, d.collection), nil)
	if err != nil {
		return err
	}
	d.auth(req)
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant probe: %w", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil
	case resp.StatusCode >= 300:
		return fmt.Errorf("qdrant probe %s: %s", d.collection, resp.Status)
	}
	d.created = true
	return nil
}

func (d *QdrantDriver) ensureCollection(ctx context.Context, dim int) error {
	if d.created {
		return nil
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dim,
			"distance": "Cosine",
		},
	}
	// Qdrant answers 409 when the collection already exists; that is fine.
	if _, err := d.doJSON(ctx, http.MethodPut,
		fmt.Sprintf("%s/collections/%s", d.baseURL, d.collection), body, nil, http.StatusConflict); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	d.created = true
	return nil
}

func (d *QdrantDriver) Upsert(ctx context.Context, items []ChunkEmbedding) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	if err := d.ensureCollection(ctx, items[0].Dim); err != nil {
		return 0, err
	}

	points := make([]map[string]any, len(items))
	for i, it := range items {
		points[i] = map[string]any{
			"id":     uuidFromChunkID(it.ID),
			"vector": it.Vector,
			"payload": map[string]any{
				"chunk_id":   it.ID,
				"file_path":  it.FilePath,
				"start_line": it.StartLine,
				"end_line":   it.EndLine,
				"model":      it.Model,
				"tokens":     it.TokensEstimated,
				"dim":        it.Dim,
			},
		}
	}
	_, err := d.doJSON(ctx, http.MethodPut,
		fmt.Sprintf("%s/collections/%s/points?wait=true", d.baseURL, d.collection),
		map[string]any{"points": points}, nil)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

func (d *QdrantDriver) Search(ctx context.Context, vector []float32, opts SearchOptions) ([]RetrievedChunk, error) {
	if len(vector) == 0 || opts.TopK <= 0 {
		return nil, nil
	}

	body := map[string]any{
		"vector":       vector,
		"limit":        opts.TopK,
		"with_payload": true,
		"with_vector":  true,
	}
	if opts.ModelFilter != "" {
		body["filter"] = map[string]any{
			"must": []map[string]any{
				{"key": "model", "match": map[string]any{"value": opts.ModelFilter}},
			},
		}
	}
	if opts.ScoreThreshold > 0 {
		body["score_threshold"] = opts.ScoreThreshold
	}

	var resp struct {
		Result []struct {
			Score   float64         `json:"score"`
			Vector  []float32       `json:"vector"`
			Payload json.RawMessage `json:"payload"`
		} `json:"result"`
	}
	// A missing collection is the normal not-yet-created state, never an
	// error: it answers as an empty result.
	status, err := d.doJSON(ctx, http.MethodPost,
		fmt.Sprintf("%s/collections/%s/points/search", d.baseURL, d.collection),
		body, &resp, http.StatusNotFound)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	d.created = true

	results := make([]RetrievedChunk, 0, len(resp.Result))
	for _, r := range resp.Result {
		var payload struct {
			ChunkID   string `json:"chunk_id"`
			FilePath  string `json:"file_path"`
			StartLine int    `json:"start_line"`
			EndLine   int    `json:"end_line"`
			Model     string `json:"model"`
			Tokens    int    `json:"tokens"`
			Dim       int    `json:"dim"`
		}
		if err := json.Unmarshal(r.Payload, &payload); err != nil {
			continue // drop malformed rows rather than fail the whole search
		}
		results = append(results, RetrievedChunk{
			Score: r.Score,
			Chunk: ChunkEmbedding{
				ID:              payload.ChunkID,
				Vector:          r.Vector,
				Dim:             payload.Dim,
				Model:           payload.Model,
				FilePath:        payload.FilePath,
				StartLine:       payload.StartLine,
				EndLine:         payload.EndLine,
				TokensEstimated: payload.Tokens,
			},
			Source: d.name,
		})
	}
	return results, nil
}

func (d *QdrantDriver) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	points := make([]string, len(ids))
	for i, id := range ids {
		points[i] = uuidFromChunkID(id)
	}
	// Deleting from a collection that was never created is a no-op.
	status, err := d.doJSON(ctx, http.MethodPost,
		fmt.Sprintf("%s/collections/%s/points/delete?wait=true", d.baseURL, d.collection),
		map[string]any{"points": points}, nil, http.StatusNotFound)
	if err != nil {
		return 0, err
	}
	if status == http.StatusNotFound {
		return 0, nil
	}
	// Qdrant does not report how many points matched; missing ids are not
	// an error, so the requested count is returned.
	return len(ids), nil
}

// Close is a no-op: the HTTP client holds no per-driver resources.
func (d *QdrantDriver) Close() error { return nil }

func (d *QdrantDriver) auth(req *http.Request) {
	if d.apiKey != "" {
		req.Header.Set("api-key", d.apiKey)
	}
}

// doJSON issues one JSON request and returns the response status. Statuses
// >= 300 are errors unless listed in okStatuses; out is decoded only from a
// successful response.
func (d *QdrantDriver) doJSON(ctx context.Context, method, url string, body, out any, okStatuses ...int) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	d.auth(req)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		tolerated := false
		for _, s := range okStatuses {
			if resp.StatusCode == s {
				tolerated = true
				break
			}
		}
		if !tolerated {
			return resp.StatusCode, fmt.Errorf("qdrant %s %s failed: %s", method, url, resp.Status)
		}
		return resp.StatusCode, nil
	}
	if out != nil {
		return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode, nil
}

// uuidFromChunkID folds the leading 32 hex digits of a chunk sha256 into
// RFC 4122 text form so Qdrant accepts it as a point id. The mapping is
// deterministic, keeping upserts and deletes idempotent by chunk id.
func uuidFromChunkID(id string) string {
	hex := id
	for len(hex) < 32 {
		hex += "0"
	}
	return fmt.Sprintf("%s-%s-%s-%s-%s", hex[0:8], hex[8:12], hex[12:16], hex[16:20], hex[20:32])
}

package config

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ChunkingConfig controls how files are split into chunks.
type ChunkingConfig struct {
	ChunkSizeTokens  int `yaml:"chunk_size_tokens"`
	OverlapTokens    int `yaml:"overlap_tokens"`
	MaxChunksPerFile int `yaml:"max_chunks_per_file"`
}

// OllamaConfig configures the Ollama embedding gateway.
type OllamaConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// OpenAIConfig configures an OpenAI-compatible embedding gateway.
type OpenAIConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// EmbedderConfig selects and configures the embedding gateway.
type EmbedderConfig struct {
	Type   string        `yaml:"type"` // "ollama" or "openai"
	Ollama OllamaConfig  `yaml:"ollama"`
	OpenAI *OpenAIConfig `yaml:"openai,omitempty"`
}

// HotConfig configures the in-memory hot index.
type HotConfig struct {
	Capacity     int    `yaml:"capacity"`
	SnapshotPath string `yaml:"snapshot_path"` // default <state_dir>/hot.json
	Autosave     bool   `yaml:"autosave"`
}

// SQLiteConfig contains settings for the embedded sqlite-vec store.
type SQLiteConfig struct {
	Path string `yaml:"path"` // default <state_dir>/cold.db
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// PostgresConfig contains connection details for Postgres with pgvector.
type PostgresConfig struct {
	DSN    string `yaml:"dsn"`
	DSNEnv string `yaml:"dsn_env"` // read DSN from this env var when set
	Table  string `yaml:"table"`
}

// ColdStoreConfig selects and configures one cold index driver.
type ColdStoreConfig struct {
	Type     string          `yaml:"type"` // "sqlite-vec", "qdrant", "pgvector"
	Name     string          `yaml:"name,omitempty"`
	SQLite   *SQLiteConfig   `yaml:"sqlite,omitempty"`
	Qdrant   *QdrantConfig   `yaml:"qdrant,omitempty"`
	Postgres *PostgresConfig `yaml:"postgres,omitempty"`
}

// RetrievalConfig holds default retrieval parameters.
type RetrievalConfig struct {
	TopK            int     `yaml:"top_k"`
	TopKHot         int     `yaml:"top_k_hot"`
	MinResults      int     `yaml:"min_results"`
	ScoreThreshold  float64 `yaml:"score_threshold"`
	PromoteFromCold bool    `yaml:"promote_from_cold"`
}

// PromotionConfig holds the usage-driven promotion policy settings.
type PromotionConfig struct {
	Threshold int `yaml:"threshold"`
}

// Config is the root application configuration.
type Config struct {
	StateDir   string            `yaml:"state_dir"` // default <project>/.cortex
	Chunking   ChunkingConfig    `yaml:"chunking"`
	Embedder   EmbedderConfig    `yaml:"embedder"`
	Hot        HotConfig         `yaml:"hot"`
	ColdStores []ColdStoreConfig `yaml:"cold_stores"`
	Retrieval  RetrievalConfig   `yaml:"retrieval"`
	Promotion  PromotionConfig   `yaml:"promotion"`
}

// Load reads a config from path. If the file does not exist, defaults are
// returned.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./cortex.yaml first, then ~/.config/cortex/config.yaml,
// falling back to built-in defaults when neither exists.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat("cortex.yaml"); err == nil {
		return Load("cortex.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return Default(), nil
	}
	userPath := filepath.Join(home, ".config", "cortex", "config.yaml")
	if _, err := os.Stat(userPath); err == nil {
		return Load(userPath)
	}
	return Default(), nil
}

// Default returns the built-in configuration: local embedded sqlite-vec
// cold store, Ollama embeddings, and a 1024-item hot tier.
func Default() *Config {
	cfg := &Config{
		ColdStores: []ColdStoreConfig{{Type: "sqlite-vec"}},
	}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Chunking.ChunkSizeTokens == 0 {
		cfg.Chunking.ChunkSizeTokens = 800
	}
	if cfg.Chunking.OverlapTokens == 0 {
		cfg.Chunking.OverlapTokens = 200
	}
	if cfg.Chunking.MaxChunksPerFile == 0 {
		cfg.Chunking.MaxChunksPerFile = 200
	}
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "ollama"
	}
	if cfg.Embedder.Ollama.BaseURL == "" {
		cfg.Embedder.Ollama.BaseURL = "http://localhost:11434"
	}
	if cfg.Embedder.Ollama.Model == "" {
		cfg.Embedder.Ollama.Model = "nomic-embed-text"
	}
	if cfg.Embedder.Type == "openai" && cfg.Embedder.OpenAI != nil {
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
	}
	if cfg.Hot.Capacity == 0 {
		cfg.Hot.Capacity = 1024
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 10
	}
	if cfg.Retrieval.TopKHot == 0 {
		cfg.Retrieval.TopKHot = cfg.Retrieval.TopK
	}
	if cfg.Retrieval.MinResults == 0 {
		cfg.Retrieval.MinResults = 3
	}
	if cfg.Promotion.Threshold == 0 {
		cfg.Promotion.Threshold = 3
	}
	for i := range cfg.ColdStores {
		cs := &cfg.ColdStores[i]
		if cs.Name == "" {
			cs.Name = cs.Type
		}
		if cs.Type == "qdrant" && cs.Qdrant != nil {
			if cs.Qdrant.Collection == "" {
				cs.Qdrant.Collection = "cortex_chunks"
			}
			if cs.Qdrant.TimeoutSecs == 0 {
				cs.Qdrant.TimeoutSecs = 15
			}
		}
		if cs.Type == "pgvector" && cs.Postgres != nil && cs.Postgres.Table == "" {
			cs.Postgres.Table = "cortex_chunks"
		}
	}
}

// ResolveStateDir returns the state directory for a project root, honoring
// an explicit state_dir in the config.
func (c *Config) ResolveStateDir(root string) string {
	if c.StateDir != "" {
		return c.StateDir
	}
	return filepath.Join(root, ".cortex")
}

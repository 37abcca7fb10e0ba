package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"cortex/internal/chunker"
	"cortex/internal/config"
	"cortex/internal/embedder"
	"cortex/internal/store"
)

var (
	flagConfig  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "cortex",
	Short: "Tiered semantic index for codebases and docs",
	Long: "cortex chunks project files, embeds them, and serves similarity\n" +
		"search from a hot in-memory tier backed by one or more durable\n" +
		"vector stores.",
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(func() {
		// Optional .env for API keys and DSNs; absence is fine.
		_ = godotenv.Load()

		level := slog.LevelInfo
		if flagVerbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	})
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ./cortex.yaml, then ~/.config/cortex/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
}

func loadConfig() (*config.Config, error) {
	if flagConfig != "" {
		return config.Load(flagConfig)
	}
	return config.LoadDefault()
}

// engine bundles the pieces every command needs: the embedding gateway, the
// hot index, and the configured cold drivers.
type engine struct {
	cfg      *config.Config
	stateDir string
	gateway  embedder.Gateway
	hot      *store.HotIndex
	colds    []store.Driver
}

// buildEngine assembles an engine for the project rooted at root. Drivers
// are constructed but not connected.
func buildEngine(cfg *config.Config, root string) (*engine, error) {
	stateDir := cfg.ResolveStateDir(root)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	gw, err := embedder.New(cfg.Embedder)
	if err != nil {
		return nil, err
	}

	snapshot := cfg.Hot.SnapshotPath
	if snapshot == "" {
		snapshot = filepath.Join(stateDir, "hot.json")
	}
	hot := store.NewHotIndex(store.HotConfig{
		Capacity:     cfg.Hot.Capacity,
		SnapshotPath: snapshot,
		Autosave:     cfg.Hot.Autosave,
	})

	var colds []store.Driver
	for _, cs := range cfg.ColdStores {
		if cs.Type == "sqlite-vec" && (cs.SQLite == nil || cs.SQLite.Path == "") {
			cs.SQLite = &config.SQLiteConfig{Path: filepath.Join(stateDir, "cold.db")}
		}
		d, err := store.NewDriver(cs)
		if err != nil {
			return nil, fmt.Errorf("cold store %s: %w", cs.Name, err)
		}
		colds = append(colds, d)
	}

	return &engine{cfg: cfg, stateDir: stateDir, gateway: gw, hot: hot, colds: colds}, nil
}

func chunkConfig(cfg *config.Config) chunker.Config {
	return chunker.Config{
		ChunkSizeTokens:  cfg.Chunking.ChunkSizeTokens,
		OverlapTokens:    cfg.Chunking.OverlapTokens,
		MaxChunksPerFile: cfg.Chunking.MaxChunksPerFile,
	}
}

func (e *engine) close() {
	for _, d := range e.colds {
		if err := d.Close(); err != nil {
			slog.Warn("close cold store", "store", d.Name(), "err", err)
		}
	}
}

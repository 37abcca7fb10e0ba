package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"cortex/internal/indexer"
)

var flagIndexPaths []string

var indexCmd = &cobra.Command{
	Use:   "index <path>",
	Short: "Incrementally index a project for search",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		eng, err := buildEngine(cfg, root)
		if err != nil {
			return err
		}
		defer eng.close()

		fmt.Println(titleStyle.Render("Indexing ") + pathStyle.Render(root))

		stats, err := indexer.Run(cmd.Context(), indexer.Params{
			RootDir:     root,
			Paths:       flagIndexPaths,
			ChunkConfig: chunkConfig(cfg),
			Gateway:     eng.gateway,
			Colds:       eng.colds,
			StateDir:    eng.stateDir,
			Logger:      slog.Default(),
		})
		if stats != nil {
			fmt.Printf("\nDone in %s\n", stats.Duration.Round(time.Millisecond))
			fmt.Printf("  Files:   %d unchanged, %d changed, %d removed, %d skipped\n",
				len(stats.Unchanged), len(stats.Changed), len(stats.Removed), len(stats.SkippedFiles))
			fmt.Printf("  Chunks:  %d embedded, %d upserted, %d deleted\n",
				stats.ChunksEmbedded, stats.ChunksUpserted, stats.ChunksDeleted)
			for _, f := range stats.TruncatedFiles {
				fmt.Println(warnStyle.Render("  truncated: " + f))
			}
		}
		return err
	},
}

func init() {
	indexCmd.Flags().StringSliceVar(&flagIndexPaths, "paths", nil, "restrict the run to these project-relative paths")
	rootCmd.AddCommand(indexCmd)
}

package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"cortex/internal/retrieve"
)

var (
	flagSearchRoot      string
	flagSearchTopK      int
	flagSearchThreshold float64
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the index for chunks similar to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		root, err := filepath.Abs(flagSearchRoot)
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

		ctx := cmd.Context()
		for _, d := range eng.colds {
			if err := d.Init(ctx); err != nil {
				return fmt.Errorf("init %s: %w", d.Name(), err)
			}
		}

		vectors, err := eng.gateway.Embed(ctx, []string{query})
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}

		topK := cfg.Retrieval.TopK
		if flagSearchTopK > 0 {
			topK = flagSearchTopK
		}
		threshold := cfg.Retrieval.ScoreThreshold
		if flagSearchThreshold > 0 {
			threshold = flagSearchThreshold
		}

		results, err := retrieve.WithPromotion(ctx, vectors[0], retrieve.Options{
			Hot:             eng.hot,
			Colds:           eng.colds,
			TopKHot:         cfg.Retrieval.TopKHot,
			TopK:            topK,
			MinResults:      cfg.Retrieval.MinResults,
			ModelFilter:     eng.gateway.Model(),
			ScoreThreshold:  threshold,
			PromoteFromCold: cfg.Retrieval.PromoteFromCold,
		}, retrieve.PromotionPolicy{
			Threshold: cfg.Promotion.Threshold,
			BaseDir:   eng.stateDir,
		})
		if err != nil {
			return err
		}
		if err := eng.hot.Save(); err != nil {
			return fmt.Errorf("save hot snapshot: %w", err)
		}

		if len(results) == 0 {
			fmt.Println(dimStyle.Render("No results."))
			return nil
		}
		fmt.Println(titleStyle.Render(fmt.Sprintf("%d results for %q", len(results), query)))
		for i, r := range results {
			loc := fmt.Sprintf("%s:%d-%d", r.Chunk.FilePath, r.Chunk.StartLine, r.Chunk.EndLine)
			fmt.Printf("%2d. %s  %s  %s\n",
				i+1,
				pathStyle.Render(loc),
				scoreStyle.Render(fmt.Sprintf("%.4f", r.Score)),
				dimStyle.Render(r.Source))
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVar(&flagSearchRoot, "root", ".", "project root whose index to search")
	searchCmd.Flags().IntVarP(&flagSearchTopK, "top-k", "k", 0, "maximum results (default from config)")
	searchCmd.Flags().Float64Var(&flagSearchThreshold, "threshold", 0, "minimum similarity score")
	rootCmd.AddCommand(searchCmd)
}

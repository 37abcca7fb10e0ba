package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"cortex/internal/indexer"
	"cortex/internal/retrieve"
)

var flagMCPRoot string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start an MCP server exposing index search tools",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	root, err := filepath.Abs(flagMCPRoot)
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

	for _, d := range eng.colds {
		if err := d.Init(cmd.Context()); err != nil {
			return fmt.Errorf("init %s: %w", d.Name(), err)
		}
	}

	s := mcpserver.NewMCPServer("cortex", "1.0.0", mcpserver.WithToolCapabilities(false))
	s.AddTool(searchCodebaseTool(), makeSearchHandler(eng))
	s.AddTool(indexStatusTool(), makeStatusHandler(eng))

	return mcpserver.ServeStdio(s)
}

func init() {
	mcpCmd.Flags().StringVar(&flagMCPRoot, "root", ".", "project root whose index to serve")
	rootCmd.AddCommand(mcpCmd)
}

// --- Tool schema builders ---

var readOnlyAnnotation = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

func searchCodebaseTool() mcp.Tool {
	return mcp.NewTool("search_codebase",
		mcp.WithDescription("Semantically search the indexed project using vector similarity across the hot and cold index tiers. Returns relevant chunks with file paths, line numbers, and scores."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural language or keyword query"),
		),
		mcp.WithNumber("k",
			mcp.Description("Maximum number of chunks to return (default 10)"),
		),
	)
}

func indexStatusTool() mcp.Tool {
	return mcp.NewTool("index_status",
		mcp.WithDescription("Report what is indexed: file and chunk counts per the manifest, hot tier occupancy, and the most-retrieved chunks."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
	)
}

// --- Handler factories ---

func makeSearchHandler(eng *engine) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := req.GetString("query", "")
		if query == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		k := req.GetInt("k", eng.cfg.Retrieval.TopK)
		if k <= 0 {
			k = 10
		}

		vectors, err := eng.gateway.Embed(ctx, []string{query})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("embed query failed: %v", err)), nil
		}

		results, err := retrieve.WithPromotion(ctx, vectors[0], retrieve.Options{
			Hot:             eng.hot,
			Colds:           eng.colds,
			TopKHot:         eng.cfg.Retrieval.TopKHot,
			TopK:            k,
			MinResults:      eng.cfg.Retrieval.MinResults,
			ModelFilter:     eng.gateway.Model(),
			ScoreThreshold:  eng.cfg.Retrieval.ScoreThreshold,
			PromoteFromCold: eng.cfg.Retrieval.PromoteFromCold,
		}, retrieve.PromotionPolicy{
			Threshold: eng.cfg.Promotion.Threshold,
			BaseDir:   eng.stateDir,
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}

		var sb strings.Builder
		if len(results) == 0 {
			fmt.Fprintf(&sb, "No results found for query: %q", query)
			return mcp.NewToolResultText(sb.String()), nil
		}
		fmt.Fprintf(&sb, "## Search results for %q (%d chunks)\n\n", query, len(results))
		for i, r := range results {
			fmt.Fprintf(&sb, "### Result %d: `%s`\n\n", i+1, r.Chunk.FilePath)
			fmt.Fprintf(&sb, "**Lines:** %d-%d  \n**Score:** %.4f  \n**Tier:** %s\n\n",
				r.Chunk.StartLine, r.Chunk.EndLine, r.Score, r.Source)
			if r.Chunk.Chunk != nil {
				fmt.Fprintf(&sb, "```\n%s\n```\n\n", r.Chunk.Chunk.Content)
			}
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func makeStatusHandler(eng *engine) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		manifest := indexer.LoadManifest(eng.stateDir)
		usage := retrieve.LoadUsage(eng.stateDir)

		totalChunks := 0
		for _, e := range manifest.Files {
			totalChunks += len(e.ChunkIDs)
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "## Index status\n\n")
		fmt.Fprintf(&sb, "- **Files indexed:** %d\n", len(manifest.Files))
		fmt.Fprintf(&sb, "- **Chunks indexed:** %d\n", totalChunks)
		fmt.Fprintf(&sb, "- **Hot tier:** %d / %d\n", eng.hot.Size(), eng.cfg.Hot.Capacity)
		fmt.Fprintf(&sb, "- **Cold stores:** ")
		names := make([]string, len(eng.colds))
		for i, d := range eng.colds {
			names[i] = d.Name()
		}
		fmt.Fprintf(&sb, "%s\n", strings.Join(names, ", "))

		if len(usage.Counts) > 0 {
			type hit struct {
				id    string
				count int
			}
			hits := make([]hit, 0, len(usage.Counts))
			for id, c := range usage.Counts {
				hits = append(hits, hit{id, c})
			}
			sort.Slice(hits, func(i, j int) bool {
				if hits[i].count != hits[j].count {
					return hits[i].count > hits[j].count
				}
				return hits[i].id < hits[j].id
			})
			if len(hits) > 10 {
				hits = hits[:10]
			}
			fmt.Fprintf(&sb, "\n### Most retrieved chunks\n\n")
			for _, h := range hits {
				fmt.Fprintf(&sb, "- `%s` — %d retrievals\n", h.id, h.count)
			}
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectFileType(t *testing.T) {
	tests := []struct {
		path    string
		content string
		want    FileType
	}{
		{"README.md", "hello", FileTypeMarkdown},
		{"notes.MDX", "hello", FileTypeMarkdown},
		{"main.go", "package main", FileTypeCode},
		{"app.TS", "const x = 1;", FileTypeCode},
		{"data.json", "{}", FileTypeJSON},
		{"LICENSE", "# Title\n\nbody", FileTypeMarkdown},
		{"LICENSE", "plain text only", FileTypeText},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectFileType(tt.path, tt.content), "path=%s", tt.path)
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}

func TestChunkSmallFileIsSingleChunk(t *testing.T) {
	content := "line one\nline two\nline three"
	chunks, truncated := ChunkFileContent("a.txt", content, DefaultConfig())

	require.Len(t, chunks, 1)
	assert.False(t, truncated)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 3, chunks[0].EndLine)
	assert.Equal(t, content, chunks[0].Content)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, 1, chunks[0].ChunkCount)
}

func TestChunkingIsDeterministic(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 400; i++ {
		fmt.Fprintf(&sb, "line %d with some padding text to fill the budget\n", i)
	}
	content := sb.String()

	a, _ := ChunkFileContent("big.txt", content, DefaultConfig())
	b, _ := ChunkFileContent("big.txt", content, DefaultConfig())

	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].SHA256, b[i].SHA256)
		assert.Equal(t, a[i].StartLine, b[i].StartLine)
		assert.Equal(t, a[i].EndLine, b[i].EndLine)
	}
}

func TestChunksCoverEveryLine(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 500; i++ {
		fmt.Fprintf(&sb, "line %d with enough text that chunks split well before the end\n", i)
	}
	content := strings.TrimSuffix(sb.String(), "\n")
	totalLines := 500

	chunks, truncated := ChunkFileContent("big.txt", content, Config{ChunkSizeTokens: 200, OverlapTokens: 50})
	require.False(t, truncated)
	require.Greater(t, len(chunks), 1)

	covered := make([]bool, totalLines+1)
	for _, c := range chunks {
		for l := c.StartLine; l <= c.EndLine; l++ {
			covered[l] = true
		}
	}
	for l := 1; l <= totalLines; l++ {
		assert.True(t, covered[l], "line %d not covered", l)
	}

	// Consecutive chunks overlap or at worst abut.
	for i := 1; i < len(chunks); i++ {
		assert.LessOrEqual(t, chunks[i].StartLine, chunks[i-1].EndLine+1)
		assert.Greater(t, chunks[i].StartLine, chunks[i-1].StartLine, "must make forward progress")
	}
}

func TestChunkContentMatchesLineRange(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 300; i++ {
		fmt.Fprintf(&sb, "content of line number %d goes here\n", i)
	}
	content := strings.TrimSuffix(sb.String(), "\n")
	lines := strings.Split(content, "\n")

	chunks, _ := ChunkFileContent("f.txt", content, Config{ChunkSizeTokens: 150, OverlapTokens: 30})
	for _, c := range chunks {
		want := strings.Join(lines[c.StartLine-1:c.EndLine], "\n")
		assert.Equal(t, want, c.Content)
	}
}

func TestMarkdownChunksNeverEndInsideFence(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("# Doc\n\nintro paragraph\n\n")
	sb.WriteString("```go\n")
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&sb, "func generated%dlongEnoughToEatTheBudgetQuickly() {}\n", i)
	}
	sb.WriteString("```\n\ntrailing text\n")
	content := sb.String()
	lines := strings.Split(content, "\n")

	chunks, _ := ChunkFileContent("doc.md", content, Config{ChunkSizeTokens: 100, OverlapTokens: 20})
	require.NotEmpty(t, chunks)

	fences := indexFences(lines)
	for _, c := range chunks {
		endIdx := c.EndLine - 1
		assert.False(t, fences.openAfter(endIdx),
			"chunk %d..%d ends inside an open fence", c.StartLine, c.EndLine)
	}
}

func TestMarkdownBreakBeforeHeading(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("# First\n")
	for i := 0; i < 30; i++ {
		sb.WriteString("body text for the first section padding padding padding\n")
	}
	sb.WriteString("## Second\n")
	for i := 0; i < 30; i++ {
		sb.WriteString("body text for the second section padding padding padding\n")
	}
	content := sb.String()

	chunks, _ := ChunkFileContent("doc.md", content, Config{ChunkSizeTokens: 450, OverlapTokens: 0})
	require.Greater(t, len(chunks), 1)

	// The first boundary cuts before the "## Second" heading, not after it.
	lines := strings.Split(content, "\n")
	firstEnd := chunks[0].EndLine // 1-based
	require.Less(t, firstEnd, len(lines))
	assert.True(t, isHeading(lines[firstEnd]) || strings.TrimSpace(lines[firstEnd-1]) == "",
		"boundary at line %d should sit at a heading or blank line", firstEnd)
}

func TestCodeBreaksPreferStatementEnds(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 120; i++ {
		if i%3 == 2 {
			fmt.Fprintf(&sb, "}\n")
		} else {
			fmt.Fprintf(&sb, "    value%d := computeSomethingWithPadding(%d)\n", i, i)
		}
	}
	content := strings.TrimSuffix(sb.String(), "\n")

	chunks, _ := ChunkFileContent("main.go", content, Config{ChunkSizeTokens: 120, OverlapTokens: 0})
	require.Greater(t, len(chunks), 1)

	lines := strings.Split(content, "\n")
	for _, c := range chunks[:len(chunks)-1] {
		last := strings.TrimRight(lines[c.EndLine-1], " \t")
		ok := strings.HasSuffix(last, ";") || strings.HasSuffix(last, "}") || strings.TrimSpace(last) == ""
		assert.True(t, ok, "chunk ends mid-statement at line %d: %q", c.EndLine, last)
	}
}

func TestMaxChunksPerFileTruncates(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 2000; i++ {
		fmt.Fprintf(&sb, "line %d with a decent amount of filler text on it\n", i)
	}
	chunks, truncated := ChunkFileContent("huge.txt", sb.String(),
		Config{ChunkSizeTokens: 50, OverlapTokens: 10, MaxChunksPerFile: 5})

	assert.True(t, truncated)
	assert.Len(t, chunks, 5)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, 5, c.ChunkCount)
	}
}

func TestIdenticalContentSharesIdentity(t *testing.T) {
	content := "shared text"
	a, _ := ChunkFileContent("one.txt", content, DefaultConfig())
	b, _ := ChunkFileContent("two.txt", content, DefaultConfig())
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, a[0].SHA256, b[0].SHA256, "identity is content-addressed, not path-addressed")
}

func TestSingleOversizedLineStillProgresses(t *testing.T) {
	long := strings.Repeat("x", 10000)
	content := long + "\n" + long + "\n" + long
	chunks, truncated := ChunkFileContent("wall.txt", content, Config{ChunkSizeTokens: 100, OverlapTokens: 50})
	require.False(t, truncated)
	require.Len(t, chunks, 3, "each oversized line becomes its own chunk")
	for i, c := range chunks {
		assert.Equal(t, i+1, c.StartLine)
		assert.Equal(t, i+1, c.EndLine)
	}
}

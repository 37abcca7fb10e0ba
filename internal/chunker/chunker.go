package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// bytesPerToken is the approximation ratio used throughout: one token is
// roughly four bytes of UTF-8 text. Token budgets convert to byte budgets
// by the same ratio.
const bytesPerToken = 4

// breakFloorLines forces a break candidate every N lines when no better
// candidate (blank line, heading boundary, statement end) has occurred.
const breakFloorLines = 50

// Config controls chunk sizing.
type Config struct {
	ChunkSizeTokens  int
	OverlapTokens    int
	MaxChunksPerFile int
}

// DefaultConfig returns the standard chunking configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSizeTokens:  800,
		OverlapTokens:    200,
		MaxChunksPerFile: 200,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ChunkSizeTokens <= 0 {
		c.ChunkSizeTokens = d.ChunkSizeTokens
	}
	if c.OverlapTokens < 0 {
		c.OverlapTokens = d.OverlapTokens
	}
	if c.MaxChunksPerFile <= 0 {
		c.MaxChunksPerFile = d.MaxChunksPerFile
	}
	return c
}

// Chunk is a contiguous line range cut from one file. Its SHA256 is computed
// over the exact chunk text and is the chunk's stable identity: two chunks
// with identical content collapse to one identity downstream.
type Chunk struct {
	FilePath        string
	StartLine       int // 1-based, inclusive
	EndLine         int // 1-based, inclusive
	ChunkIndex      int
	ChunkCount      int
	SHA256          string
	Content         string
	TokensEstimated int
	FileType        FileType
}

// EstimateTokens approximates the token count of s as ceil(len(s)/4).
func EstimateTokens(s string) int {
	return (len(s) + bytesPerToken - 1) / bytesPerToken
}

// ChunkFileContent splits content into overlapping chunks sized to the
// configured token budget. Boundaries prefer blank lines, markdown heading
// boundaries, and statement-ending lines over mid-statement cuts, and a
// chunk never ends inside a markdown fenced code block. The second return
// value reports whether the chunk stream was truncated at MaxChunksPerFile.
//
// Chunking is deterministic: the same (path, content) always yields the
// same boundaries and the same chunk ids.
func ChunkFileContent(filePath, content string, cfg Config) ([]Chunk, bool) {
	cfg = cfg.withDefaults()
	fileType := DetectFileType(filePath, content)

	lines := strings.Split(content, "\n")
	n := len(lines)
	byteBudget := cfg.ChunkSizeTokens * bytesPerToken
	overlapBudget := cfg.OverlapTokens * bytesPerToken

	var fences *fenceIndex
	if fileType == FileTypeMarkdown {
		fences = indexFences(lines)
	}

	var chunks []Chunk
	truncated := false

	for start := 0; start < n; {
		if len(chunks) == cfg.MaxChunksPerFile {
			truncated = true
			break
		}

		end := growChunk(lines, start, byteBudget, fileType, fences)

		// Never end a chunk inside an open fence: extend past budget until
		// the fence closes or the file ends.
		if fences != nil {
			for end < n-1 && fences.openAfter(end) {
				end++
			}
		}

		chunks = append(chunks, buildChunk(filePath, fileType, lines, start, end))

		if end >= n-1 {
			break
		}
		start = nextStart(lines, start, end, overlapBudget, fences)
	}

	for i := range chunks {
		chunks[i].ChunkIndex = i
		chunks[i].ChunkCount = len(chunks)
	}
	return chunks, truncated
}

// growChunk grows a chunk from start line by line while the running byte
// count stays within the budget, recording the most recent good break
// candidate as it goes, and returns the inclusive end line.
func growChunk(lines []string, start, byteBudget int, fileType FileType, fences *fenceIndex) int {
	n := len(lines)
	end := start
	running := len(lines[start])
	lastBreak := -1

	if isBreakCandidate(lines, start, start, fileType, fences) {
		lastBreak = start
	}

	budgetHit := false
	for i := start + 1; i < n; i++ {
		next := len(lines[i]) + 1 // +1 for the line separator
		if running+next > byteBudget {
			budgetHit = true
			break
		}
		running += next
		end = i
		if isBreakCandidate(lines, i, start, fileType, fences) {
			lastBreak = i
		}
	}

	// Cut at the last good break rather than mid-statement, when one exists.
	if budgetHit && lastBreak >= start && lastBreak < end {
		end = lastBreak
	}
	return end
}

// isBreakCandidate reports whether line i is a good place to end a chunk:
// a blank line; for markdown, the line immediately before a heading; for
// code, a line ending in ';' or '}'; and, as a floor, every 50th line.
func isBreakCandidate(lines []string, i, start int, fileType FileType, fences *fenceIndex) bool {
	if fences != nil && (fences.openBefore(i) || fences.isDelimiter(i)) {
		return false
	}
	if strings.TrimSpace(lines[i]) == "" {
		return true
	}
	if fileType == FileTypeMarkdown && i+1 < len(lines) &&
		!fences.openBefore(i+1) && isHeading(lines[i+1]) {
		return true
	}
	if fileType == FileTypeCode {
		t := strings.TrimRight(lines[i], " \t")
		if strings.HasSuffix(t, ";") || strings.HasSuffix(t, "}") {
			return true
		}
	}
	return (i-start+1)%breakFloorLines == 0
}

// nextStart walks backward from end accumulating bytes until the overlap
// budget is met. The result never lands at or before the current start
// (minimum one line of forward progress) and, for markdown, never on a
// fence delimiter or inside an open fence.
func nextStart(lines []string, start, end, overlapBudget int, fences *fenceIndex) int {
	ns := end + 1
	if overlapBudget > 0 {
		acc := 0
		for k := end; k > start; k-- {
			acc += len(lines[k]) + 1
			ns = k
			if acc >= overlapBudget {
				break
			}
		}
	}
	if ns <= start {
		ns = start + 1
	}
	if fences != nil {
		for ns <= end && (fences.openBefore(ns) || fences.isDelimiter(ns)) {
			ns++
		}
	}
	return ns
}

func buildChunk(filePath string, fileType FileType, lines []string, start, end int) Chunk {
	text := strings.Join(lines[start:end+1], "\n")
	sum := sha256.Sum256([]byte(text))
	return Chunk{
		FilePath:        filePath,
		StartLine:       start + 1,
		EndLine:         end + 1,
		SHA256:          hex.EncodeToString(sum[:]),
		Content:         text,
		TokensEstimated: EstimateTokens(text),
		FileType:        fileType,
	}
}

// fenceIndex precomputes, for markdown input, which lines are fence
// delimiters (three or more backticks or tildes) and the inside-fence state
// before each line. The state is a simple boolean toggled by every
// delimiter line.
type fenceIndex struct {
	delim []bool
	open  []bool // open[i]: inside a fence before line i
}

func indexFences(lines []string) *fenceIndex {
	f := &fenceIndex{
		delim: make([]bool, len(lines)),
		open:  make([]bool, len(lines)+1),
	}
	inside := false
	for i, line := range lines {
		f.open[i] = inside
		t := strings.TrimLeft(line, " \t")
		if strings.HasPrefix(t, "```") || strings.HasPrefix(t, "~~~") {
			f.delim[i] = true
			inside = !inside
		}
	}
	f.open[len(lines)] = inside
	return f
}

func (f *fenceIndex) isDelimiter(i int) bool {
	return f != nil && i < len(f.delim) && f.delim[i]
}

func (f *fenceIndex) openBefore(i int) bool {
	return f != nil && i < len(f.open) && f.open[i]
}

// openAfter reports whether a fence is still open after line i, i.e. a
// chunk ending at i would cut a fenced block in half.
func (f *fenceIndex) openAfter(i int) bool {
	return f != nil && i+1 < len(f.open) && f.open[i+1]
}

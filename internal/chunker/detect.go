package chunker

import (
	"path/filepath"
	"regexp"
	"strings"
)

// FileType steers the chunk-boundary heuristics. It has no other effect on
// chunk identity beyond the boundaries it produces.
type FileType string

const (
	FileTypeMarkdown FileType = "markdown"
	FileTypeCode     FileType = "code"
	FileTypeJSON     FileType = "json"
	FileTypeText     FileType = "text"
)

var codeExtensions = map[string]bool{
	".go":    true,
	".py":    true,
	".js":    true,
	".jsx":   true,
	".ts":    true,
	".tsx":   true,
	".java":  true,
	".c":     true,
	".cpp":   true,
	".cc":    true,
	".h":     true,
	".hpp":   true,
	".rs":    true,
	".rb":    true,
	".php":   true,
	".sh":    true,
	".cs":    true,
	".kt":    true,
	".swift": true,
	".scala": true,
	".sql":   true,
	".css":   true,
	".proto": true,
}

var headingRe = regexp.MustCompile(`^#{1,6}\s`)
var markdownRe = regexp.MustCompile(`(?m)^#\s`)

// DetectFileType classifies a file from its extension, falling back to a
// markdown heuristic (a "# " heading at the start of a line) and finally
// plain text. It is pure and deterministic given path and content, and is
// reused by the incremental indexer without running the full pipeline.
func DetectFileType(path, content string) FileType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".mdx":
		return FileTypeMarkdown
	case ".json":
		return FileTypeJSON
	}
	if codeExtensions[strings.ToLower(filepath.Ext(path))] {
		return FileTypeCode
	}
	if markdownRe.MatchString(content) {
		return FileTypeMarkdown
	}
	return FileTypeText
}

func isHeading(line string) bool {
	return headingRe.MatchString(line)
}

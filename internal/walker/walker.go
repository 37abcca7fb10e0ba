package walker

import (
	"bufio"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// File is a source file selected for indexing, with its content already
// loaded. RelPath is project-relative with forward slashes.
type File struct {
	Path    string
	RelPath string
	Size    int64
	MtimeMs int64
	Content string
}

// ScanResult is the outcome of one ingestion scan.
type ScanResult struct {
	Included []File
	Skipped  []string
}

// maxFileSize is the largest file we'll consider (1 MB).
const maxFileSize = 1 << 20

// defaultIgnores are used when no .cortexignore file exists.
var defaultIgnores = []string{
	".git",
	".svn",
	".hg",
	"node_modules",
	"vendor",
	"__pycache__",
	".idea",
	".vscode",
	".cortex",
	"dist",
	"build",
}

// indexableExtensions is the set of file extensions the engine ingests
// (without dot).
var indexableExtensions = map[string]bool{
	"txt": true, "md": true, "markdown": true, "mdx": true,
	"go": true, "py": true, "js": true, "jsx": true, "ts": true, "tsx": true,
	"java": true, "c": true, "cpp": true, "cc": true, "h": true, "hpp": true,
	"rs": true, "rb": true, "php": true, "sh": true, "cs": true, "kt": true,
	"swift": true, "scala": true, "sql": true, "css": true, "proto": true,
	"json": true, "yaml": true, "yml": true, "toml": true, "xml": true,
	"html": true,
}

// Collect walks the tree rooted at root and returns the includable files
// with their content, plus the relative paths it skipped (unsupported
// extension, too large, or unreadable). When paths is non-empty, only files
// whose relative path is in that set are considered.
func Collect(root string, paths []string) (*ScanResult, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	var only map[string]bool
	if len(paths) > 0 {
		only = make(map[string]bool, len(paths))
		for _, p := range paths {
			only[filepath.ToSlash(p)] = true
		}
	}

	ignores := loadIgnorePatterns(absRoot)
	result := &ScanResult{}

	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip errors, keep walking
		}

		if d.IsDir() {
			if path == absRoot {
				return nil
			}
			rel, _ := filepath.Rel(absRoot, path)
			if matchesIgnore(d.Name(), filepath.ToSlash(rel), ignores) {
				return filepath.SkipDir
			}
			return nil
		}

		// Skip symlinks.
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		relPath, _ := filepath.Rel(absRoot, path)
		relPath = filepath.ToSlash(relPath)
		if only != nil && !only[relPath] {
			return nil
		}
		if matchesIgnore(d.Name(), relPath, ignores) {
			return nil
		}

		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
		if !indexableExtensions[ext] {
			result.Skipped = append(result.Skipped, relPath)
			return nil
		}

		info, err := d.Info()
		if err != nil {
			result.Skipped = append(result.Skipped, relPath)
			return nil
		}
		if info.Size() > maxFileSize {
			result.Skipped = append(result.Skipped, relPath)
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			result.Skipped = append(result.Skipped, relPath)
			return nil
		}

		result.Included = append(result.Included, File{
			Path:    path,
			RelPath: relPath,
			Size:    info.Size(),
			MtimeMs: info.ModTime().UnixMilli(),
			Content: string(content),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// loadIgnorePatterns reads .cortexignore from the project root.
// If the file doesn't exist, the default patterns are used.
func loadIgnorePatterns(root string) []string {
	f, err := os.Open(filepath.Join(root, ".cortexignore"))
	if err != nil {
		return defaultIgnores
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if len(patterns) == 0 {
		return defaultIgnores
	}
	return patterns
}

// matchesIgnore checks if a name or relative path matches any ignore pattern.
func matchesIgnore(name, relPath string, patterns []string) bool {
	for _, p := range patterns {
		// Exact name match (e.g. "node_modules", ".git").
		if name == p {
			return true
		}
		// Path prefix match (e.g. "third_party/vendor").
		if strings.HasPrefix(relPath, p) {
			return true
		}
		// Glob match against the relative path or the name.
		if matched, _ := filepath.Match(p, relPath); matched {
			return true
		}
		if matched, _ := filepath.Match(p, name); matched {
			return true
		}
	}
	return false
}

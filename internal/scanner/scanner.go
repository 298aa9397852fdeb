// Package scanner walks a directory tree and selects the files eligible
// for indexing: recognized source languages, not hidden, not vendored,
// not binary.
package scanner

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/semdex/semdex/pkg/types"
)

// MaxFileSize caps eligible files; anything larger is skipped as
// generated or data, not source.
const MaxFileSize = 1 << 20 // 1 MiB

// Languages by file extension.
var extensionLanguages = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".mjs":   "javascript",
	".jsx":   "jsx",
	".ts":    "typescript",
	".tsx":   "tsx",
	".java":  "java",
	".kt":    "kotlin",
	".rs":    "rust",
	".rb":    "ruby",
	".c":     "c",
	".h":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".php":   "php",
	".swift": "swift",
	".scala": "scala",
	".sh":    "shell",
	".sql":   "sql",
	".md":    "markdown",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".json":  "json",
}

// Directories never descended into.
var skipDirs = map[string]bool{
	"vendor":       true,
	"node_modules": true,
	"dist":         true,
	"build":        true,
	"target":       true,
	"__pycache__":  true,
}

// DetectLanguage returns the language tag for a path, or "" when the file
// is not eligible for chunking at all.
func DetectLanguage(path string) string {
	return extensionLanguages[strings.ToLower(filepath.Ext(path))]
}

// ScanRecursive walks dir and returns eligible files with paths relative
// to root. Unreadable files are skipped; an unreadable directory fails the
// whole scan, since a partial listing is indistinguishable from deleted
// files to callers reconciling the index against the tree.
func ScanRecursive(dir, root string) ([]types.ScannedFile, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan %s: not a directory", dir)
	}

	var files []types.ScannedFile
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if d == nil || d.IsDir() {
				return fmt.Errorf("read %s: %w", path, walkErr)
			}
			return nil
		}

		name := d.Name()
		if d.IsDir() {
			if path != dir && (strings.HasPrefix(name, ".") || skipDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}

		language := DetectLanguage(path)
		if language == "" {
			return nil
		}

		fi, statErr := d.Info()
		if statErr != nil || fi.Size() > MaxFileSize || fi.Size() == 0 {
			return nil
		}
		if isBinary(path) {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		files = append(files, types.ScannedFile{
			Path:         path,
			RelativePath: filepath.ToSlash(rel),
			Language:     language,
			SizeBytes:    fi.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	return files, nil
}

// isBinary sniffs the first bytes for NUL, the cheap reliable signal. A file
// that cannot be opened is not provably binary; it stays in the scan so the
// ingestion read decides what to do with it.
func isBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() {
		_ = f.Close()
	}()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return false
	}
	return bytes.IndexByte(buf[:n], 0) >= 0
}

// Package walker enumerates candidate files inside a cloned repository.
// It only lists paths; file bytes are always read at a pinned commit by
// the processor, never from the working tree.
package walker

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMaxFileSize is the maximum file size to consider (1 MB).
const DefaultMaxFileSize int64 = 1 << 20

// sniffLen is how many leading bytes are read for binary and language
// detection.
const sniffLen = 8192

// FileInfo holds metadata about a single file discovered during traversal.
type FileInfo struct {
	Path     string // Absolute path on disk.
	RelPath  string // Slash-separated path relative to the root.
	Size     int64  // File size in bytes.
	Language string // Detected language; empty when detection fails.
}

// Config controls the behaviour of Walk.
type Config struct {
	RootDir     string   // Root directory to walk.
	Include     []string // Glob patterns; only matching files are included.
	Exclude     []string // Glob patterns; matching files are excluded.
	MaxFileSize int64    // Files larger than this are skipped (0 = default).
}

// Walk traverses the clone rooted at cfg.RootDir and returns metadata for
// every file that passes filtering. Binary files, vendored paths, and
// oversized files are skipped.
func Walk(cfg Config) ([]FileInfo, error) {
	root, err := filepath.Abs(cfg.RootDir)
	if err != nil {
		return nil, fmt.Errorf("walker: resolve root: %w", err)
	}

	maxSize := cfg.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	gitignorePatterns := loadGitignore(filepath.Join(root, ".gitignore"))

	var files []FileInfo

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			// Skip entries we cannot read instead of aborting.
			return nil
		}

		if d.IsDir() {
			if shouldExcludeDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		relSlash := filepath.ToSlash(relPath)

		if matchesGitignore(relSlash, gitignorePatterns) {
			return nil
		}
		if IsVendored(relSlash) {
			return nil
		}
		if !MatchesInclude(relSlash, cfg.Include) {
			return nil
		}
		if MatchesExclude(relSlash, cfg.Exclude) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > maxSize {
			return nil
		}

		sniff, err := readSniff(path)
		if err != nil {
			return nil
		}
		if IsBinary(sniff) {
			return nil
		}

		files = append(files, FileInfo{
			Path:     path,
			RelPath:  relSlash,
			Size:     info.Size(),
			Language: DetectLanguage(d.Name(), sniff),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walker: traversal: %w", err)
	}

	return files, nil
}

// readSniff reads up to sniffLen leading bytes of a file.
func readSniff(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, sniffLen)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}

// loadGitignore reads a .gitignore file and returns its non-empty,
// non-comment lines as patterns.
func loadGitignore(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var patterns []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns
}

// matchesGitignore checks if a relative path matches any gitignore pattern.
func matchesGitignore(relPath string, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}

	parts := strings.Split(relPath, "/")
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)

		dirOnly := strings.HasSuffix(pattern, "/")
		pattern = strings.TrimSuffix(pattern, "/")

		if !strings.Contains(pattern, "/") {
			// Patterns without a slash match any path component; dir-only
			// patterns only match components that have something below them.
			limit := len(parts)
			if dirOnly {
				limit--
			}
			for _, part := range parts[:limit] {
				if matched, _ := filepath.Match(pattern, part); matched {
					return true
				}
			}
		} else {
			if matched, _ := filepath.Match(pattern, relPath); matched {
				return true
			}
		}
	}
	return false
}

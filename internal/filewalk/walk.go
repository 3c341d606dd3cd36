// Package filewalk enumerates a repository root into a filtered,
// priority-classified file list, grounded on the teacher's secrets scanner
// walk (binary sniff + gitignore-style exclude matching) and on the
// distilled priority rules for code analysis ingestion.
package filewalk

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"ckb/internal/langdetect"
)

// Priority classes, smaller integer = higher priority.
const (
	PriorityEntryPoint = 1
	PriorityExportAPI  = 2
	PriorityRootFile   = 3
	PriorityRegular    = 4
)

// DefaultMaxFileBytes is the §6 MAX_FILE_BYTES default (2 MiB).
const DefaultMaxFileBytes = 2 * 1024 * 1024

// FileDescriptor describes one file accepted into the analysis set.
type FileDescriptor struct {
	Path     string // relative to repo root, forward-slash separated
	AbsPath  string
	Size     int64
	Language string
	Priority int
}

// Options configures a Walk.
type Options struct {
	MaxFileBytes int64
	// ExtraExcludes are additional filepath.Match-style patterns applied
	// against both the basename and the repo-relative path.
	ExtraExcludes []string
}

var exportAPIPattern = regexp.MustCompile(`^exports?\.(js|ts)$`)

// Walk enumerates root and returns FileDescriptors in a deterministic
// order (lexical by relative path) prior to priority sorting — callers
// that need priority order should sort the result with SortByPriority.
func Walk(root string, opts Options) ([]FileDescriptor, error) {
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = DefaultMaxFileBytes
	}
	ignore := newIgnoreSet(root)

	var out []FileDescriptor
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			if rel != "." && (ignore.matches(rel, true) || isVCSDir(info.Name())) {
				return filepath.SkipDir
			}
			return nil
		}

		if ignore.matches(rel, false) || matchesAny(opts.ExtraExcludes, rel, info.Name()) {
			return nil
		}
		if info.Size() > opts.MaxFileBytes {
			return nil
		}

		lang := langdetect.Detect(path)
		if lang == langdetect.Unknown && !langdetect.IsConfigName(info.Name()) {
			return nil
		}
		if isBinary(path) {
			return nil
		}

		out = append(out, FileDescriptor{
			Path:     rel,
			AbsPath:  path,
			Size:     info.Size(),
			Language: lang,
			Priority: classify(rel, root),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SortByPriority orders descriptors per §4.C's key for initial enqueue:
// priority ascending, size ascending, then path as an insertion-order
// stand-in for determinism.
func SortByPriority(files []FileDescriptor) {
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].Priority != files[j].Priority {
			return files[i].Priority < files[j].Priority
		}
		if files[i].Size != files[j].Size {
			return files[i].Size < files[j].Size
		}
		return files[i].Path < files[j].Path
	})
}

func classify(rel string, root string) int {
	base := filepath.Base(rel)
	dir := filepath.Dir(rel)
	parentName := filepath.Base(dir)
	nameNoExt := strings.TrimSuffix(base, filepath.Ext(base))

	if isEntryPoint(base, nameNoExt, parentName) {
		return PriorityEntryPoint
	}
	if exportAPIPattern.MatchString(base) ||
		strings.HasPrefix(base, "public.") ||
		strings.Contains(base, "api") ||
		strings.HasSuffix(base, ".d.ts") {
		return PriorityExportAPI
	}
	if dir == "." {
		return PriorityRootFile
	}
	return PriorityRegular
}

func isEntryPoint(base, nameNoExt, parentName string) bool {
	switch base {
	case "__init__.py", "mod.rs":
		return true
	}
	if strings.HasPrefix(base, "index.") && (strings.HasSuffix(base, ".js") || strings.HasSuffix(base, ".ts")) {
		return true
	}
	if strings.HasPrefix(base, "main.") {
		return true
	}
	return nameNoExt == parentName
}

func isBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return true
	}
	defer f.Close()

	buf := make([]byte, 8192)
	r := bufio.NewReader(f)
	n, _ := r.Read(buf)
	for i := 0; i < n; i++ {
		if buf[i] == 0 {
			return true
		}
	}
	return false
}

func isVCSDir(name string) bool {
	switch name {
	case ".git", ".hg", ".svn":
		return true
	}
	return false
}

func matchesAny(patterns []string, rel, base string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
	}
	return false
}

// Package langdetect maps a file path to a language id using filename,
// extension, and shebang rules, mirroring the classification the walker
// needs before anything is read from disk.
package langdetect

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

const Unknown = "unknown"

// filenames maps an exact base name to a language id. Two of these
// (dunder-init, mod.rs) double as entry-point signals for the walker's
// priority classifier; Dockerfile and package.json are also in configNames.
var filenames = map[string]string{
	"__init__.py":     "python",
	"mod.rs":          "rust",
	"Dockerfile":      "dockerfile",
	"package.json":    "json",
	"go.mod":          "go",
	"Makefile":        "makefile",
	"CMakeLists.txt":  "cmake",
	"Gemfile":         "ruby",
	"Cargo.toml":      "toml",
	"pyproject.toml":  "toml",
	"requirements.txt": "text",
}

// configNames is the subset of filenames treated as Config-kind nodes by
// the mapper even though their detected language may not carry symbols.
var configNames = map[string]bool{
	"Dockerfile":     true,
	"package.json":   true,
	"go.mod":         true,
	"Cargo.toml":     true,
	"pyproject.toml": true,
}

var extensions = map[string]string{
	".py":    "python",
	".pyi":   "python",
	".go":    "go",
	".rs":    "rust",
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".cjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".kt":    "kotlin",
	".c":     "c",
	".h":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".rb":    "ruby",
	".php":   "php",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".md":    "markdown",
	".sh":    "shell",
	".bash":  "shell",
}

var shebangs = map[string]string{
	"python":  "python",
	"python3": "python",
	"node":    "javascript",
	"ruby":    "ruby",
	"bash":    "shell",
	"sh":      "shell",
}

// binaryExtensions are never considered a recognizable language regardless
// of any filename/extension match above; the walker's separate NUL-byte
// sniff is the general-purpose fallback, this table short-circuits it for
// common, unambiguous binary kinds.
var binaryExtensions = map[string]bool{
	".exe": true, ".dll": true, ".so": true, ".dylib": true,
	".zip": true, ".tar": true, ".gz": true, ".rar": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true,
	".pdf": true, ".doc": true, ".docx": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
	".mp3": true, ".mp4": true, ".avi": true, ".mov": true,
	".pyc": true, ".class": true, ".o": true, ".a": true,
}

// Detect returns the language id for path, or Unknown. It never reads the
// file except to sniff a shebang line for extensionless files.
func Detect(path string) string {
	base := filepath.Base(path)
	if lang, ok := filenames[base]; ok {
		return lang
	}

	ext := strings.ToLower(filepath.Ext(base))
	if binaryExtensions[ext] {
		return Unknown
	}
	if lang, ok := extensions[ext]; ok {
		return lang
	}
	if ext != "" {
		return Unknown
	}

	if lang, ok := detectShebang(path); ok {
		return lang
	}
	return Unknown
}

// IsConfigName reports whether base is one of the filenames treated as
// Config-kind regardless of detected language.
func IsConfigName(base string) bool {
	return configNames[base]
}

func detectShebang(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	r := bufio.NewReader(f)
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", false
	}
	if !strings.HasPrefix(line, "#!") {
		return "", false
	}
	line = strings.TrimSpace(line[2:])
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", false
	}
	interp := filepath.Base(fields[0])
	if interp == "env" && len(fields) > 1 {
		interp = fields[1]
	}
	lang, ok := shebangs[interp]
	return lang, ok
}

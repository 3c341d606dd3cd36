package main

import (
	"log/slog"
	"os"

	"ckb/internal/logging"

	"github.com/spf13/cobra"
)

// version is stamped at release time; kept as a plain const since the
// CLI carries no other build-metadata surface worth a dedicated package.
const version = "0.1.0"

var (
	repoRootFlag string
	logFormat    string
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:     "ckb",
	Short:   "CKB - Code Knowledge Backend",
	Long:    "CKB ingests a repository through a language server pool and builds a resumable, checkpointed code knowledge graph, served to clients over the analysis websocket protocol.",
	Version: version,
}

func init() {
	rootCmd.SetVersionTemplate("ckb version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&repoRootFlag, "repo-root", ".", "repository root to analyze")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "human", "log output format: human or json")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
}

func newLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{
		Format: logging.Format(logFormat),
		Level:  logging.LogLevel(logLevel),
	})
}

// wsapiLogger builds the standard-library slog.Logger that internal/wsapi
// accepts directly, grounded on the same per-connection idiom the
// teacher's HTTP surfaces used before internal/secrets was trimmed from
// this tree.
func wsapiLogger() *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if logFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

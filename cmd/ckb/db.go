package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// openGraphDB opens the sqlite file backing the Graph Store Adapter and
// the Checkpoint Manager for one repository, applying WAL journal mode
// and a 5s busy timeout through the driver's _pragma DSN parameters.
func openGraphDB(repoRoot string) (*sql.DB, error) {
	dir := filepath.Join(repoRoot, ".ckb")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create .ckb dir: %w", err)
	}
	dsn := filepath.Join(dir, "graph.db") + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open graph db: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

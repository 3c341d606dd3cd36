// Package checkpoint implements §4.H: durable at-least-once resumption
// state for an analysis job, persisted to the same modernc.org/sqlite
// store as the graph (internal/graphstore), with tables created by
// CREATE TABLE IF NOT EXISTS on open (schemaVersion is not recorded in
// the database). Grounded on
// original_source/backend/utils/checkpoint_manager.py's exact field
// model (processed_files set, failed_files map with retry/position,
// in_progress set cleared on resume, statistics).
package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ckb/internal/codegraph"
)

const schemaVersion = 1

// FileStatus mirrors checkpoint_manager.py's FileStatus enum.
type FileStatus string

const (
	StatusInProgress FileStatus = "in_progress"
	StatusCompleted  FileStatus = "completed"
	StatusFailed     FileStatus = "failed"
)

// Statistics mirrors checkpoint_manager.py's running counters.
type Statistics struct {
	TotalProcessed int
	TotalFailed    int
	RetryCount     int
}

// ResumeState is everything §4.H's resume(job_id) returns.
type ResumeState struct {
	Pass                  codegraph.Pass
	ProcessedFiles        []string
	FailedFiles           map[string]FailedFileInfo
	LastCommittedSequence int64
	Statistics            Statistics
}

// Manager persists and restores checkpoint state for jobs.
type Manager struct {
	db *sql.DB
}

// NewManager opens (creating if needed) the checkpoint schema on db,
// which may be shared with the Graph Store Adapter's connection.
func NewManager(db *sql.DB) (*Manager, error) {
	m := &Manager{db: db}
	if err := m.migrate(context.Background()); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS checkpoint_jobs (
			job_id TEXT PRIMARY KEY,
			pass TEXT NOT NULL,
			last_committed_sequence INTEGER NOT NULL DEFAULT 0,
			total_processed INTEGER NOT NULL DEFAULT 0,
			total_failed INTEGER NOT NULL DEFAULT 0,
			retry_count INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoint_processed_files (
			job_id TEXT NOT NULL,
			path TEXT NOT NULL,
			PRIMARY KEY (job_id, path)
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoint_failed_files (
			job_id TEXT NOT NULL,
			path TEXT NOT NULL,
			info BLOB NOT NULL,
			PRIMARY KEY (job_id, path)
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoint_in_progress (
			job_id TEXT NOT NULL,
			path TEXT NOT NULL,
			PRIMARY KEY (job_id, path)
		)`,
	}
	for _, s := range stmts {
		if _, err := m.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("checkpoint: migrate: %w", err)
		}
	}
	return nil
}

// UpdateFileStatus is the single atomic entrypoint mutating per-file
// checkpoint state, mirroring checkpoint_manager.py's update_file_status.
func (m *Manager) UpdateFileStatus(ctx context.Context, jobID, path string, status FileStatus, errMsg string, lastLine, lastChar int) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO checkpoint_jobs (job_id, pass, updated_at) VALUES (?, ?, ?)`,
		jobID, string(codegraph.PassStructure), time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}

	switch status {
	case StatusInProgress:
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO checkpoint_in_progress (job_id, path) VALUES (?, ?)`, jobID, path); err != nil {
			return err
		}
	case StatusCompleted:
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO checkpoint_processed_files (job_id, path) VALUES (?, ?)`, jobID, path); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM checkpoint_in_progress WHERE job_id = ? AND path = ?`, jobID, path); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM checkpoint_failed_files WHERE job_id = ? AND path = ?`, jobID, path); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE checkpoint_jobs SET total_processed = total_processed + 1, updated_at = ? WHERE job_id = ?`,
			time.Now().UTC().Format(time.RFC3339), jobID); err != nil {
			return err
		}
	case StatusFailed:
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM checkpoint_in_progress WHERE job_id = ? AND path = ?`, jobID, path); err != nil {
			return err
		}
		prev, err := m.getFailedFileTx(ctx, tx, jobID, path)
		if err != nil {
			return err
		}
		info := FailedFileInfo{
			RetryCount: prev.RetryCount + 1,
			LastError:  errMsg,
			LastLine:   lastLine,
			LastChar:   lastChar,
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO checkpoint_failed_files (job_id, path, info) VALUES (?, ?, ?)
			 ON CONFLICT (job_id, path) DO UPDATE SET info = excluded.info`,
			jobID, path, encodeFailedFileInfo(info)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE checkpoint_jobs SET total_failed = total_failed + 1, retry_count = retry_count + 1, updated_at = ? WHERE job_id = ?`,
			time.Now().UTC().Format(time.RFC3339), jobID); err != nil {
			return err
		}
	default:
		return fmt.Errorf("checkpoint: unknown status %q", status)
	}
	return tx.Commit()
}

func (m *Manager) getFailedFileTx(ctx context.Context, tx *sql.Tx, jobID, path string) (FailedFileInfo, error) {
	var blob []byte
	err := tx.QueryRowContext(ctx,
		`SELECT info FROM checkpoint_failed_files WHERE job_id = ? AND path = ?`, jobID, path).Scan(&blob)
	if err == sql.ErrNoRows {
		return FailedFileInfo{}, nil
	}
	if err != nil {
		return FailedFileInfo{}, err
	}
	return decodeFailedFileInfo(blob)
}

// GetFailedInfo returns failure info for path, if it has failed at least once.
func (m *Manager) GetFailedInfo(ctx context.Context, jobID, path string) (FailedFileInfo, bool, error) {
	var blob []byte
	err := m.db.QueryRowContext(ctx,
		`SELECT info FROM checkpoint_failed_files WHERE job_id = ? AND path = ?`, jobID, path).Scan(&blob)
	if err == sql.ErrNoRows {
		return FailedFileInfo{}, false, nil
	}
	if err != nil {
		return FailedFileInfo{}, false, err
	}
	info, err := decodeFailedFileInfo(blob)
	return info, true, err
}

// CommitCheckpoint performs the post-apply durable write required by
// §4.K's apply→checkpoint→publish ordering: advancing pass and
// last_committed_sequence is a single-row UPDATE/INSERT, atomic by
// virtue of sqlite's transaction semantics.
func (m *Manager) CommitCheckpoint(ctx context.Context, jobID string, pass codegraph.Pass, lastCommittedSequence int64) error {
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO checkpoint_jobs (job_id, pass, last_committed_sequence, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (job_id) DO UPDATE SET
		   pass = excluded.pass,
		   last_committed_sequence = excluded.last_committed_sequence,
		   updated_at = excluded.updated_at`,
		jobID, string(pass), lastCommittedSequence, time.Now().UTC().Format(time.RFC3339))
	return err
}

// Resume loads the checkpoint for jobID, clearing any leftover
// in_progress set (crash recovery per checkpoint_manager.py's
// clear_in_progress), and returns an empty ResumeState if none exists.
func (m *Manager) Resume(ctx context.Context, jobID string) (ResumeState, error) {
	state := ResumeState{Pass: codegraph.PassStructure, FailedFiles: map[string]FailedFileInfo{}}

	row := m.db.QueryRowContext(ctx,
		`SELECT pass, last_committed_sequence, total_processed, total_failed, retry_count
		 FROM checkpoint_jobs WHERE job_id = ?`, jobID)
	var pass string
	if err := row.Scan(&pass, &state.LastCommittedSequence, &state.Statistics.TotalProcessed,
		&state.Statistics.TotalFailed, &state.Statistics.RetryCount); err != nil {
		if err == sql.ErrNoRows {
			return state, nil
		}
		return state, err
	}
	state.Pass = codegraph.Pass(pass)

	rows, err := m.db.QueryContext(ctx,
		`SELECT path FROM checkpoint_processed_files WHERE job_id = ?`, jobID)
	if err != nil {
		return state, err
	}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return state, err
		}
		state.ProcessedFiles = append(state.ProcessedFiles, p)
	}
	rows.Close()

	frows, err := m.db.QueryContext(ctx,
		`SELECT path, info FROM checkpoint_failed_files WHERE job_id = ?`, jobID)
	if err != nil {
		return state, err
	}
	for frows.Next() {
		var p string
		var blob []byte
		if err := frows.Scan(&p, &blob); err != nil {
			frows.Close()
			return state, err
		}
		info, err := decodeFailedFileInfo(blob)
		if err != nil {
			frows.Close()
			return state, err
		}
		state.FailedFiles[p] = info
	}
	frows.Close()

	if err := m.ClearInProgress(ctx, jobID); err != nil {
		return state, err
	}
	return state, nil
}

// ClearInProgress wipes the in_progress set, used at resume time.
func (m *Manager) ClearInProgress(ctx context.Context, jobID string) error {
	_, err := m.db.ExecContext(ctx, `DELETE FROM checkpoint_in_progress WHERE job_id = ?`, jobID)
	return err
}

// DeleteJob removes all checkpoint state for a job (e.g. on delete_job).
func (m *Manager) DeleteJob(ctx context.Context, jobID string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, table := range []string{"checkpoint_jobs", "checkpoint_processed_files", "checkpoint_failed_files", "checkpoint_in_progress"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE job_id = ?`, table), jobID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

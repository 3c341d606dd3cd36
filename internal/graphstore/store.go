// Package graphstore implements §4.I: the durable, idempotent store for
// nodes and edges discovered by an analysis job, backed by
// modernc.org/sqlite. Tables are created with CREATE TABLE IF NOT
// EXISTS on open; no schema version is recorded.
// Batches are applied transactionally and are safe to re-apply
// (upsert semantics), which is what makes at-least-once delivery from
// the orchestrator safe across resumes.
package graphstore

import (
	"context"
	"database/sql"
	"fmt"

	"ckb/internal/codegraph"
)

// Per-transaction chunk sizes, independent of SPEC_FULL §6's
// BATCH_NODES/BATCH_EDGES batch thresholds: they keep single sqlite
// transactions bounded regardless of caller batch size.
const (
	maxNodesPerTx = 500
	maxEdgesPerTx = 1000
)

// Store is the Graph Store Adapter.
type Store struct {
	db *sql.DB
}

// Open wraps an already-configured *sql.DB (cmd/ckb's openGraphDB does
// the pragma/connection setup) and ensures the graph schema exists.
func Open(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS graph_nodes (
			project_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			fqn TEXT NOT NULL,
			uri TEXT NOT NULL,
			start_line INTEGER NOT NULL,
			start_char INTEGER NOT NULL,
			end_line INTEGER NOT NULL,
			end_char INTEGER NOT NULL,
			definition_version_id TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (project_id, node_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_graph_nodes_uri ON graph_nodes(project_id, uri)`,
		`CREATE TABLE IF NOT EXISTS graph_edges (
			project_id TEXT NOT NULL,
			source TEXT NOT NULL,
			target TEXT NOT NULL,
			type TEXT NOT NULL,
			PRIMARY KEY (project_id, source, target, type)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_graph_edges_target ON graph_edges(project_id, target)`,
		`CREATE TABLE IF NOT EXISTS graph_jobs (
			project_id TEXT NOT NULL PRIMARY KEY,
			job_id TEXT NOT NULL,
			status TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("graphstore: migrate: %w", err)
		}
	}
	return nil
}

// UpsertNodes inserts or overwrites nodes for projectID, chunking into
// sub-transactions of at most maxNodesPerTx so a single huge batch
// never holds one giant sqlite transaction.
func (s *Store) UpsertNodes(ctx context.Context, projectID string, nodes []codegraph.CodeNode) error {
	for start := 0; start < len(nodes); start += maxNodesPerTx {
		end := start + maxNodesPerTx
		if end > len(nodes) {
			end = len(nodes)
		}
		if err := s.upsertNodesChunk(ctx, projectID, nodes[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) upsertNodesChunk(ctx context.Context, projectID string, nodes []codegraph.CodeNode) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO graph_nodes (project_id, node_id, kind, name, fqn, uri, start_line, start_char, end_line, end_char, definition_version_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id, node_id) DO UPDATE SET
			kind = excluded.kind, name = excluded.name, fqn = excluded.fqn, uri = excluded.uri,
			start_line = excluded.start_line, start_char = excluded.start_char,
			end_line = excluded.end_line, end_char = excluded.end_char,
			definition_version_id = excluded.definition_version_id
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, n := range nodes {
		if _, err := stmt.ExecContext(ctx, projectID, n.ID, string(n.Kind), n.Name, n.FullyQualifiedName, n.URI,
			n.Range.StartLine, n.Range.StartChar, n.Range.EndLine, n.Range.EndChar, n.DefinitionVersionID); err != nil {
			return fmt.Errorf("graphstore: upsert node %s: %w", n.ID, err)
		}
	}
	return tx.Commit()
}

// UpsertEdges inserts or overwrites edges for projectID, chunked the
// same way as UpsertNodes.
func (s *Store) UpsertEdges(ctx context.Context, projectID string, edges []codegraph.Edge) error {
	for start := 0; start < len(edges); start += maxEdgesPerTx {
		end := start + maxEdgesPerTx
		if end > len(edges) {
			end = len(edges)
		}
		if err := s.upsertEdgesChunk(ctx, projectID, edges[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) upsertEdgesChunk(ctx context.Context, projectID string, edges []codegraph.Edge) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO graph_edges (project_id, source, target, type) VALUES (?, ?, ?, ?)
		ON CONFLICT (project_id, source, target, type) DO NOTHING
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range edges {
		if _, err := stmt.ExecContext(ctx, projectID, e.Source, e.Target, string(e.Type)); err != nil {
			return fmt.Errorf("graphstore: upsert edge %s->%s: %w", e.Source, e.Target, err)
		}
	}
	return tx.Commit()
}

// ApplyBatch applies a BatchUpdate's nodes and edges as a single
// logical unit, per §4.K's apply-then-checkpoint-then-publish
// ordering: nodes first (edges may reference nodes from the same
// batch), then edges. Idempotent: re-applying the same batch after a
// crash produces the same end state.
func (s *Store) ApplyBatch(ctx context.Context, projectID string, batch codegraph.BatchUpdate) error {
	if err := s.UpsertNodes(ctx, projectID, batch.Nodes); err != nil {
		return err
	}
	return s.UpsertEdges(ctx, projectID, batch.Edges)
}

// ReadSubgraph returns every node and edge stored for projectID.
// Intended for a query surface, not the hot write path.
func (s *Store) ReadSubgraph(ctx context.Context, projectID string) ([]codegraph.CodeNode, []codegraph.Edge, error) {
	nodeRows, err := s.db.QueryContext(ctx, `
		SELECT node_id, kind, name, fqn, uri, start_line, start_char, end_line, end_char, definition_version_id
		FROM graph_nodes WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, nil, err
	}
	defer nodeRows.Close()

	var nodes []codegraph.CodeNode
	for nodeRows.Next() {
		var n codegraph.CodeNode
		var kind string
		if err := nodeRows.Scan(&n.ID, &kind, &n.Name, &n.FullyQualifiedName, &n.URI,
			&n.Range.StartLine, &n.Range.StartChar, &n.Range.EndLine, &n.Range.EndChar, &n.DefinitionVersionID); err != nil {
			return nil, nil, err
		}
		n.Kind = codegraph.NodeKind(kind)
		nodes = append(nodes, n)
	}
	if err := nodeRows.Err(); err != nil {
		return nil, nil, err
	}

	edgeRows, err := s.db.QueryContext(ctx, `
		SELECT source, target, type FROM graph_edges WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, nil, err
	}
	defer edgeRows.Close()

	var edges []codegraph.Edge
	for edgeRows.Next() {
		var e codegraph.Edge
		var typ string
		if err := edgeRows.Scan(&e.Source, &e.Target, &typ); err != nil {
			return nil, nil, err
		}
		e.Type = codegraph.EdgeType(typ)
		edges = append(edges, e)
	}
	return nodes, edges, edgeRows.Err()
}

// NodesForURI returns nodes in projectID scoped to a single file uri,
// the query shape the Symbol Registry falls back to on cold start
// after a resume (before Pass 2 re-walks the file).
func (s *Store) NodesForURI(ctx context.Context, projectID, uri string) ([]codegraph.CodeNode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, kind, name, fqn, uri, start_line, start_char, end_line, end_char, definition_version_id
		FROM graph_nodes WHERE project_id = ? AND uri = ?`, projectID, uri)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []codegraph.CodeNode
	for rows.Next() {
		var n codegraph.CodeNode
		var kind string
		if err := rows.Scan(&n.ID, &kind, &n.Name, &n.FullyQualifiedName, &n.URI,
			&n.Range.StartLine, &n.Range.StartChar, &n.Range.EndLine, &n.Range.EndChar, &n.DefinitionVersionID); err != nil {
			return nil, err
		}
		n.Kind = codegraph.NodeKind(kind)
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// SetJobStatus records the latest known status for projectID's most
// recent job, queried by status-lookup handlers.
func (s *Store) SetJobStatus(ctx context.Context, projectID, jobID string, status codegraph.JobStatus, updatedAt string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO graph_jobs (project_id, job_id, status, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (project_id) DO UPDATE SET job_id = excluded.job_id, status = excluded.status, updated_at = excluded.updated_at
	`, projectID, jobID, string(status), updatedAt)
	return err
}

// DeleteProject removes all graph state for projectID.
func (s *Store) DeleteProject(ctx context.Context, projectID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, table := range []string{"graph_nodes", "graph_edges", "graph_jobs"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE project_id = ?`, table), projectID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

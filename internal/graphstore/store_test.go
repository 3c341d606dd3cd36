package graphstore

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"ckb/internal/codegraph"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := Open(db)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestUpsertNodesIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	node := codegraph.CodeNode{ID: "n1", Kind: codegraph.KindClass, Name: "A", FullyQualifiedName: "pkg.A", URI: "file:///a.py"}

	if err := s.UpsertNodes(ctx, "proj1", []codegraph.CodeNode{node}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := s.UpsertNodes(ctx, "proj1", []codegraph.CodeNode{node}); err != nil {
		t.Fatalf("second upsert (idempotent replay): %v", err)
	}

	nodes, _, err := s.ReadSubgraph(ctx, "proj1")
	if err != nil {
		t.Fatalf("ReadSubgraph: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("expected exactly 1 node after duplicate apply, got %d", len(nodes))
	}
}

func TestUpsertEdgesDeduped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	edge := codegraph.Edge{Source: "a", Target: "b", Type: codegraph.EdgeReferences}

	if err := s.UpsertEdges(ctx, "proj1", []codegraph.Edge{edge, edge}); err != nil {
		t.Fatalf("upsert edges: %v", err)
	}
	_, edges, err := s.ReadSubgraph(ctx, "proj1")
	if err != nil {
		t.Fatalf("ReadSubgraph: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("expected deduped to 1 edge, got %d", len(edges))
	}
}

func TestApplyBatchIsolatedByProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	batch := codegraph.BatchUpdate{
		Nodes: []codegraph.CodeNode{{ID: "n1", Kind: codegraph.KindFile, URI: "file:///a.py"}},
		Edges: []codegraph.Edge{{Source: "n1", Target: "n2", Type: codegraph.EdgeContains}},
	}
	if err := s.ApplyBatch(ctx, "proj1", batch); err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}
	if err := s.ApplyBatch(ctx, "proj2", codegraph.BatchUpdate{}); err != nil {
		t.Fatalf("ApplyBatch empty: %v", err)
	}

	nodes1, edges1, _ := s.ReadSubgraph(ctx, "proj1")
	nodes2, edges2, _ := s.ReadSubgraph(ctx, "proj2")
	if len(nodes1) != 1 || len(edges1) != 1 {
		t.Fatalf("expected proj1 populated, got nodes=%d edges=%d", len(nodes1), len(edges1))
	}
	if len(nodes2) != 0 || len(edges2) != 0 {
		t.Fatalf("expected proj2 untouched, got nodes=%d edges=%d", len(nodes2), len(edges2))
	}
}

func TestNodesForURI(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	nodes := []codegraph.CodeNode{
		{ID: "n1", URI: "file:///a.py"},
		{ID: "n2", URI: "file:///a.py"},
		{ID: "n3", URI: "file:///b.py"},
	}
	if err := s.UpsertNodes(ctx, "proj1", nodes); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := s.NodesForURI(ctx, "proj1", "file:///a.py")
	if err != nil {
		t.Fatalf("NodesForURI: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 nodes for a.py, got %d", len(got))
	}
}

func TestDeleteProjectClearsEverything(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	batch := codegraph.BatchUpdate{
		Nodes: []codegraph.CodeNode{{ID: "n1", URI: "file:///a.py"}},
		Edges: []codegraph.Edge{{Source: "n1", Target: "n2", Type: codegraph.EdgeContains}},
	}
	if err := s.ApplyBatch(ctx, "proj1", batch); err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}
	if err := s.SetJobStatus(ctx, "proj1", "job1", codegraph.JobCompleted, "2026-01-01T00:00:00Z"); err != nil {
		t.Fatalf("SetJobStatus: %v", err)
	}
	if err := s.DeleteProject(ctx, "proj1"); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	nodes, edges, _ := s.ReadSubgraph(ctx, "proj1")
	if len(nodes) != 0 || len(edges) != 0 {
		t.Fatalf("expected cleared state, got nodes=%d edges=%d", len(nodes), len(edges))
	}
}

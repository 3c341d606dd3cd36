// Package symregistry implements §4.G: an in-memory, job-scoped index of
// discovered symbols keyed by node id and by uri, used in Pass 2 to
// resolve reference targets internal to the project and to dedupe nodes
// across concurrent workers. Discarded at job end.
package symregistry

import (
	"sync"

	"ckb/internal/codegraph"
)

// Registry is safe for concurrent use: reads of the id map take a shared
// lock and writes to it an exclusive one held by all files alike;
// per-uri node-set mutation is exclusive only for that uri's bucket.
type Registry struct {
	nodesMu sync.RWMutex
	nodes   map[string]codegraph.CodeNode

	uriMu  sync.RWMutex // guards creation/removal of per-uri buckets
	byURI  map[string]*uriBucket
}

type uriBucket struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		nodes: map[string]codegraph.CodeNode{},
		byURI: map[string]*uriBucket{},
	}
}

// Add inserts or overwrites a node by id and indexes it under its uri.
// Safe to call concurrently from multiple workers for different files;
// concurrent Add calls for the *same* uri serialize on that uri's bucket.
func (r *Registry) Add(node codegraph.CodeNode) {
	r.nodesMu.Lock()
	r.nodes[node.ID] = node
	r.nodesMu.Unlock()

	b := r.bucketFor(node.URI)
	b.mu.Lock()
	b.ids[node.ID] = struct{}{}
	b.mu.Unlock()
}

// AddAll is a convenience wrapper over Add for a batch of nodes.
func (r *Registry) AddAll(nodes []codegraph.CodeNode) {
	for _, n := range nodes {
		r.Add(n)
	}
}

// Get returns the node for id, if present.
func (r *Registry) Get(id string) (codegraph.CodeNode, bool) {
	r.nodesMu.RLock()
	defer r.nodesMu.RUnlock()
	n, ok := r.nodes[id]
	return n, ok
}

// NodesForURI returns every node registered for uri.
func (r *Registry) NodesForURI(uri string) []codegraph.CodeNode {
	b := r.bucketFor(uri)
	b.mu.Lock()
	ids := make([]string, 0, len(b.ids))
	for id := range b.ids {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	r.nodesMu.RLock()
	defer r.nodesMu.RUnlock()
	out := make([]codegraph.CodeNode, 0, len(ids))
	for _, id := range ids {
		if n, ok := r.nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out
}

// EnclosingNodeID implements symbolmap.ReferenceResolver: it returns the
// most specific (smallest-span) registered node at uri whose range
// contains line, falling back to the file's Module node.
func (r *Registry) EnclosingNodeID(uri string, line int) (string, bool) {
	candidates := r.NodesForURI(uri)
	var best codegraph.CodeNode
	found := false
	bestSpan := -1
	for _, n := range candidates {
		if n.Range.StartLine == 0 && n.Range.EndLine == 0 {
			// Nodes without a populated range (e.g. the synthesized
			// Module node) are only used as a fallback below.
			continue
		}
		if line < n.Range.StartLine || line > n.Range.EndLine {
			continue
		}
		span := n.Range.EndLine - n.Range.StartLine
		if !found || span < bestSpan {
			best, bestSpan, found = n, span, true
		}
	}
	if found {
		return best.ID, true
	}
	// Fall back to the file's Module node, if registered.
	for _, n := range candidates {
		if n.Kind == codegraph.KindModule {
			return n.ID, true
		}
	}
	return "", false
}

// Len returns the total number of registered nodes.
func (r *Registry) Len() int {
	r.nodesMu.RLock()
	defer r.nodesMu.RUnlock()
	return len(r.nodes)
}

func (r *Registry) bucketFor(uri string) *uriBucket {
	r.uriMu.RLock()
	b, ok := r.byURI[uri]
	r.uriMu.RUnlock()
	if ok {
		return b
	}

	r.uriMu.Lock()
	defer r.uriMu.Unlock()
	if b, ok := r.byURI[uri]; ok {
		return b
	}
	b = &uriBucket{ids: map[string]struct{}{}}
	r.byURI[uri] = b
	return b
}

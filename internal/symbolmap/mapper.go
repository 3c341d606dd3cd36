// Package symbolmap implements §4.F: the deterministic transform from LSP
// result sets (documentSymbol, references, implementation) into graph
// CodeNodes and Edges with stable, coordination-free identity.
package symbolmap

import (
	"path/filepath"
	"strings"

	"ckb/internal/codegraph"
)

// Mapper is a pure, stateless transform parameterized by the owning
// project; it holds no per-job mutable state (that lives in the Symbol
// Registry).
type Mapper struct {
	ProjectID   string
	ProjectRoot string // absolute filesystem path, no trailing slash
}

// New returns a Mapper bound to a project.
func New(projectID, projectRoot string) *Mapper {
	return &Mapper{ProjectID: projectID, ProjectRoot: strings.TrimRight(projectRoot, "/")}
}

// FileURI builds the canonical file:// URI for a project-relative path.
func (m *Mapper) FileURI(relPath string) string {
	return "file://" + filepath.ToSlash(filepath.Join(m.ProjectRoot, relPath))
}

// ProjectNodeID is the id of the synthetic Project root node.
func (m *Mapper) ProjectNodeID() string {
	return NodeID(m.ProjectID, codegraph.KindProject, m.ProjectID, "")
}

// ModuleName derives the file's module name per §4.F's language-specific
// rule: Python uses the dotted package path (directories joined with
// `.`, `__init__.py` contributing only its directory); other languages
// use the file basename without extension.
func ModuleName(relPath, language string) string {
	if language != "python" {
		base := filepath.Base(relPath)
		return strings.TrimSuffix(base, filepath.Ext(base))
	}
	dotted := strings.TrimSuffix(relPath, filepath.Ext(relPath))
	dotted = strings.ReplaceAll(dotted, "/", ".")
	dotted = strings.TrimSuffix(dotted, ".__init__")
	return dotted
}

// MapFile produces the File CodeNode for relPath plus the CONTAINS edge
// from the Project root to it.
func (m *Mapper) MapFile(relPath string) (codegraph.CodeNode, codegraph.Edge) {
	uri := m.FileURI(relPath)
	id := NodeID(m.ProjectID, codegraph.KindFile, relPath, uri)
	node := codegraph.CodeNode{
		ID:                 id,
		Kind:               codegraph.KindFile,
		Name:               filepath.Base(relPath),
		FullyQualifiedName: relPath,
		URI:                uri,
	}
	edge := codegraph.Edge{Source: m.ProjectNodeID(), Target: id, Type: codegraph.EdgeContains}
	return node, edge
}

// MapDocumentSymbols recursively maps a flat-or-nested documentSymbol
// response into CodeNodes and CONTAINS edges. The module node (derived
// from ModuleName) is synthesized as the parent of every top-level
// symbol, with a CONTAINS edge from the File node to the Module node.
func (m *Mapper) MapDocumentSymbols(relPath, language, fileNodeID, uri string, symbols []DocumentSymbol) ([]codegraph.CodeNode, []codegraph.Edge) {
	moduleName := ModuleName(relPath, language)
	moduleID := NodeID(m.ProjectID, codegraph.KindModule, moduleName, uri)
	moduleNode := codegraph.CodeNode{
		ID:                 moduleID,
		Kind:               codegraph.KindModule,
		Name:               filepath.Base(moduleName),
		FullyQualifiedName: moduleName,
		URI:                uri,
	}
	nodes := []codegraph.CodeNode{moduleNode}
	edges := []codegraph.Edge{{Source: fileNodeID, Target: moduleID, Type: codegraph.EdgeContains}}

	for _, sym := range symbols {
		n, e := m.mapSymbolTree(sym, moduleName, moduleID, uri)
		nodes = append(nodes, n...)
		edges = append(edges, e...)
	}
	return nodes, edges
}

func (m *Mapper) mapSymbolTree(sym DocumentSymbol, parentFQN, parentID, uri string) ([]codegraph.CodeNode, []codegraph.Edge) {
	kind, ok := lspKindToNodeKind[sym.Kind]
	if !ok {
		// Unmappable symbol kinds (e.g. SKString, SKNumber — literal
		// values nested in hierarchical symbol trees some servers
		// emit) are skipped per §4.F/§7 MapperError policy: skip the
		// symbol, continue the file.
		return nil, nil
	}
	fqn := sym.Name
	if parentFQN != "" {
		fqn = parentFQN + "." + sym.Name
	}
	id := NodeID(m.ProjectID, codegraph.NodeKind(kind), fqn, uri)
	nodeRange := codegraph.Range{
		StartLine: sym.Range.Start.Line,
		StartChar: sym.Range.Start.Character,
		EndLine:   sym.Range.End.Line,
		EndChar:   sym.Range.End.Character,
	}
	node := codegraph.CodeNode{
		ID:                  id,
		Kind:                codegraph.NodeKind(kind),
		Name:                sym.Name,
		FullyQualifiedName:  fqn,
		URI:                 uri,
		Range:               nodeRange,
		DefinitionVersionID: ComputeDefinitionVersionID(codegraph.NodeKind(kind), fqn, uri, nodeRange),
	}
	nodes := []codegraph.CodeNode{node}
	edges := []codegraph.Edge{{Source: parentID, Target: id, Type: codegraph.EdgeContains}}

	for _, child := range sym.Children {
		cn, ce := m.mapSymbolTree(child, fqn, id, uri)
		nodes = append(nodes, cn...)
		edges = append(edges, ce...)
	}
	return nodes, edges
}

// ReferenceResolver resolves a Location to the node id of the entity that
// encloses it — the "referencing" node — so MapReferences can emit a
// Source→Target edge per S1 ("REFERENCES from pkg.b to A"). Backed by
// the Symbol Registry in production; tests may supply a stub.
type ReferenceResolver interface {
	EnclosingNodeID(uri string, line int) (string, bool)
}

// MapReferences maps a references() result for symbolID into REFERENCES
// edges, deduped by (source,target) within this call. References
// outside the project root are suppressed.
func (m *Mapper) MapReferences(symbolID string, locations []Location, resolver ReferenceResolver) []codegraph.Edge {
	var edges []codegraph.Edge
	seen := map[string]bool{}
	for _, loc := range locations {
		if !m.withinProject(loc.URI) {
			continue
		}
		refNodeID, ok := resolver.EnclosingNodeID(loc.URI, loc.Range.Start.Line)
		if !ok || refNodeID == symbolID {
			continue
		}
		key := refNodeID + "\x00" + symbolID
		if seen[key] {
			continue
		}
		seen[key] = true
		edges = append(edges, codegraph.Edge{Source: refNodeID, Target: symbolID, Type: codegraph.EdgeReferences})
	}
	return edges
}

// ImplementationKind is the SymbolKind of a candidate supertype used to
// pick between IMPLEMENTS and INHERITS_FROM.
type ImplementationKind int

const (
	ImplKindUnknown ImplementationKind = iota
	ImplKindInterface
	ImplKindClass
)

// MapImplementation maps one implementation/base target into an edge.
// Interfaces/protocols yield IMPLEMENTS; class bases yield INHERITS_FROM;
// anything not distinguishable defaults to IMPLEMENTS (§9 open question
// (a)).
func MapImplementation(subtypeID, supertypeID string, supertypeKind ImplementationKind) codegraph.Edge {
	t := codegraph.EdgeImplements
	if supertypeKind == ImplKindClass {
		t = codegraph.EdgeInheritsFrom
	}
	return codegraph.Edge{Source: subtypeID, Target: supertypeID, Type: t}
}

// MapImport produces an IMPORTS edge between two module-level nodes.
func MapImport(importingModuleID, importedModuleID string) codegraph.Edge {
	return codegraph.Edge{Source: importingModuleID, Target: importedModuleID, Type: codegraph.EdgeImports}
}

func (m *Mapper) withinProject(uri string) bool {
	const prefix = "file://"
	if !strings.HasPrefix(uri, prefix) {
		return false
	}
	p := strings.TrimPrefix(uri, prefix)
	rel, err := filepath.Rel(m.ProjectRoot, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, "../")
}

package symbolmap

import (
	"testing"

	"ckb/internal/codegraph"
)

func TestNodeIDDeterministic(t *testing.T) {
	a := NodeID("proj1", codegraph.KindClass, "pkg.a.A", "file:///repo/pkg/a.py")
	b := NodeID("proj1", codegraph.KindClass, "pkg.a.A", "file:///repo/pkg/a.py")
	if a != b {
		t.Fatalf("NodeID not deterministic: %s != %s", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("expected 32 hex chars (128 bits), got %d: %s", len(a), a)
	}
}

func TestNodeIDDiffersByField(t *testing.T) {
	base := NodeID("proj1", codegraph.KindClass, "pkg.a.A", "file:///repo/pkg/a.py")
	otherKind := NodeID("proj1", codegraph.KindFunction, "pkg.a.A", "file:///repo/pkg/a.py")
	otherFQN := NodeID("proj1", codegraph.KindClass, "pkg.a.B", "file:///repo/pkg/a.py")
	if base == otherKind || base == otherFQN {
		t.Fatal("expected distinct ids for distinct logical attributes")
	}
}

func TestModuleNamePython(t *testing.T) {
	cases := map[string]string{
		"pkg/__init__.py": "pkg",
		"pkg/a.py":         "pkg.a",
		"pkg/sub/b.py":     "pkg.sub.b",
	}
	for path, want := range cases {
		if got := ModuleName(path, "python"); got != want {
			t.Errorf("ModuleName(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestModuleNameOtherLanguage(t *testing.T) {
	if got := ModuleName("src/util.go", "go"); got != "util" {
		t.Errorf("ModuleName = %q, want util", got)
	}
}

func TestMapFileAndDocumentSymbols(t *testing.T) {
	m := New("proj1", "/repo")
	fileNode, fileEdge := m.MapFile("pkg/a.py")
	if fileNode.Kind != codegraph.KindFile {
		t.Fatalf("expected File kind, got %s", fileNode.Kind)
	}
	if fileEdge.Source != m.ProjectNodeID() || fileEdge.Target != fileNode.ID {
		t.Fatalf("unexpected file CONTAINS edge: %+v", fileEdge)
	}

	symbols := []DocumentSymbol{
		{
			Name: "A",
			Kind: SKClass,
			Children: []DocumentSymbol{
				{Name: "m", Kind: SKMethod},
			},
		},
	}
	nodes, edges := m.MapDocumentSymbols("pkg/a.py", "python", fileNode.ID, fileNode.URI, symbols)

	var moduleID, classID, methodID string
	for _, n := range nodes {
		switch n.FullyQualifiedName {
		case "pkg.a":
			moduleID = n.ID
		case "pkg.a.A":
			classID = n.ID
		case "pkg.a.A.m":
			methodID = n.ID
		}
	}
	if moduleID == "" || classID == "" || methodID == "" {
		t.Fatalf("missing expected nodes: %+v", nodes)
	}

	wantContains := map[[2]string]bool{
		{fileNode.ID, moduleID}: false,
		{moduleID, classID}:     false,
		{classID, methodID}:     false,
	}
	for _, e := range edges {
		if e.Type != codegraph.EdgeContains {
			continue
		}
		key := [2]string{e.Source, e.Target}
		if _, ok := wantContains[key]; ok {
			wantContains[key] = true
		}
	}
	for k, found := range wantContains {
		if !found {
			t.Errorf("missing CONTAINS edge %v", k)
		}
	}
}

func TestMapSymbolTreeSkipsUnmappableKind(t *testing.T) {
	m := New("proj1", "/repo")
	symbols := []DocumentSymbol{{Name: "literal", Kind: SKString}}
	nodes, _ := m.MapDocumentSymbols("a.js", "javascript", "file1", "file:///repo/a.js", symbols)
	for _, n := range nodes {
		if n.Name == "literal" {
			t.Fatal("unmappable symbol kind should be skipped")
		}
	}
}

type fakeResolver struct {
	byURILine map[string]string
}

func (f fakeResolver) EnclosingNodeID(uri string, line int) (string, bool) {
	id, ok := f.byURILine[uri]
	return id, ok
}

func TestMapReferences(t *testing.T) {
	m := New("proj1", "/repo")
	resolver := fakeResolver{byURILine: map[string]string{"file:///repo/pkg/b.py": "moduleB"}}

	locs := []Location{
		{URI: "file:///repo/pkg/b.py", Range: LSPRange{Start: Position{Line: 1}}},
		{URI: "file:///repo/pkg/b.py", Range: LSPRange{Start: Position{Line: 1}}}, // duplicate
		{URI: "file:///outside/x.py", Range: LSPRange{}},                         // outside project
	}
	edges := m.MapReferences("classA", locs, resolver)
	if len(edges) != 1 {
		t.Fatalf("expected 1 deduped, in-project edge, got %d: %+v", len(edges), edges)
	}
	if edges[0].Source != "moduleB" || edges[0].Target != "classA" || edges[0].Type != codegraph.EdgeReferences {
		t.Fatalf("unexpected edge: %+v", edges[0])
	}
}

func TestMapImplementationDefaultsToImplements(t *testing.T) {
	e := MapImplementation("sub", "super", ImplKindUnknown)
	if e.Type != codegraph.EdgeImplements {
		t.Fatalf("expected default IMPLEMENTS, got %s", e.Type)
	}
	e2 := MapImplementation("sub", "super", ImplKindClass)
	if e2.Type != codegraph.EdgeInheritsFrom {
		t.Fatalf("expected INHERITS_FROM for class base, got %s", e2.Type)
	}
}

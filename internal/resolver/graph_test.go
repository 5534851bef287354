package resolver_test

import (
	"testing"

	"github.com/bilusteknoloji/pipg/internal/pypi"
	"github.com/bilusteknoloji/pipg/internal/resolver"
)

func TestGraphIterNodesSortedByName(t *testing.T) {
	g := resolver.NewGraph()

	for _, name := range []string{"zlib", "attrs", "mkdocs"} {
		g.Put(resolver.SolutionNode{Name: name, Version: "1.0"})
	}

	nodes := g.IterNodes()

	want := []string{"attrs", "mkdocs", "zlib"}
	for i, n := range nodes {
		if n.Name != want[i] {
			t.Errorf("nodes[%d].Name = %q, want %q", i, n.Name, want[i])
		}
	}
}

func TestGraphAddEdgeUnionsExtras(t *testing.T) {
	g := resolver.NewGraph()

	g.AddEdge("flask", "jinja2", []string{"async"})
	g.AddEdge("flask", "jinja2", []string{"i18n"})

	edges := g.IterEdges()
	if len(edges) != 1 {
		t.Fatalf("len(edges) = %d, want 1", len(edges))
	}

	want := []string{"async", "i18n"}
	got := edges[0].Extras

	if len(got) != len(want) {
		t.Fatalf("extras = %v, want %v", got, want)
	}

	for i := range want {
		if got[i] != want[i] {
			t.Errorf("extras[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestGraphToLockfileViewIsDeterministic(t *testing.T) {
	g := resolver.NewGraph()

	g.Put(resolver.SolutionNode{
		Name:    "requests",
		Version: "2.31.0",
		SelectedFile: resolver.Candidate{
			File: pypi.URL{URL: "https://example.test/requests-2.31.0.whl", Digests: pypi.Digests{SHA256: "abc"}},
		},
		IncomingEdges: []resolver.ParentEdge{{ParentName: "myapp"}, {ParentName: "otherapp"}},
	})

	view := g.ToLockfileView()
	if len(view) != 1 {
		t.Fatalf("len(view) = %d, want 1", len(view))
	}

	entry := view[0]
	if entry.Name != "requests" || entry.Version != "2.31.0" {
		t.Errorf("entry = %+v, want requests 2.31.0", entry)
	}

	if entry.FileSHA256 != "abc" {
		t.Errorf("FileSHA256 = %q, want abc", entry.FileSHA256)
	}

	if len(entry.RequiredBy) != 2 || entry.RequiredBy[0] != "myapp" || entry.RequiredBy[1] != "otherapp" {
		t.Errorf("RequiredBy = %v, want sorted [myapp otherapp]", entry.RequiredBy)
	}
}

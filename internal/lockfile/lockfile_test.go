package lockfile_test

import (
	"bytes"
	"testing"

	"github.com/bilusteknoloji/pipg/internal/lockfile"
	"github.com/bilusteknoloji/pipg/internal/pypi"
	"github.com/bilusteknoloji/pipg/internal/resolver"
)

func buildGraph() *resolver.Graph {
	g := resolver.NewGraph()

	g.Put(resolver.SolutionNode{
		Name:           "requests",
		Version:        "2.31.0",
		SelectedExtras: []string{"socks"},
		SelectedFile: resolver.Candidate{
			File: pypi.URL{URL: "https://example.test/requests-2.31.0.whl", Digests: pypi.Digests{SHA256: "abc123"}},
		},
		IncomingEdges: []resolver.ParentEdge{{ParentName: "myapp"}},
	})

	g.Put(resolver.SolutionNode{
		Name:    "urllib3",
		Version: "2.0.0",
		SelectedFile: resolver.Candidate{
			File: pypi.URL{URL: "https://example.test/urllib3-2.0.0.whl", Digests: pypi.Digests{SHA256: "def456"}},
		},
		IncomingEdges: []resolver.ParentEdge{{ParentName: "requests"}},
	})

	return g
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	graph := buildGraph()

	var buf bytes.Buffer
	if err := lockfile.Write(&buf, graph); err != nil {
		t.Fatalf("Write: %v", err)
	}

	entries, err := lockfile.Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}

	if entries[0].Name != "requests" || entries[0].Version != "2.31.0" {
		t.Errorf("entries[0] = %+v, want requests 2.31.0", entries[0])
	}

	if len(entries[0].SelectedExtras) != 1 || entries[0].SelectedExtras[0] != "socks" {
		t.Errorf("entries[0].SelectedExtras = %v, want [socks]", entries[0].SelectedExtras)
	}

	if entries[1].Name != "urllib3" || entries[1].FileSHA256 != "def456" {
		t.Errorf("entries[1] = %+v, want urllib3 with sha256 def456", entries[1])
	}

	if len(entries[1].RequiredBy) != 1 || entries[1].RequiredBy[0] != "requests" {
		t.Errorf("entries[1].RequiredBy = %v, want [requests]", entries[1].RequiredBy)
	}
}

func TestWriteIsDeterministicAcrossCalls(t *testing.T) {
	graph := buildGraph()

	var first, second bytes.Buffer

	if err := lockfile.Write(&first, graph); err != nil {
		t.Fatalf("Write (first): %v", err)
	}

	if err := lockfile.Write(&second, graph); err != nil {
		t.Fatalf("Write (second): %v", err)
	}

	if first.String() != second.String() {
		t.Errorf("Write output differs across calls:\n%s\n---\n%s", first.String(), second.String())
	}
}

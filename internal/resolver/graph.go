package resolver

import "sort"

// SolutionNode is one resolved package in the solution graph: the selected
// version, the file chosen for it, the extras that were activated, and the
// edges that caused it to be pulled in (spec.md §3 SolutionNode).
type SolutionNode struct {
	Name           string
	Version        string
	SelectedExtras []string
	SelectedFile   Candidate
	IncomingEdges  []ParentEdge
}

// Edge is a directed dependency edge in the solution graph, from a
// requiring package to the package it pulled in. An edge is identified by
// its (parent, child) pair; Extras is the union of the parent extras seen
// on that pair.
type Edge struct {
	ParentName string
	ChildName  string
	Extras     []string
}

// Graph is the C8 solution graph: an adjacency list of resolved nodes keyed
// by canonical package name, built incrementally as the driver converges
// (spec.md §4.8).
type Graph struct {
	nodes map[string]*SolutionNode
	edges []Edge
}

// NewGraph creates an empty solution graph.
func NewGraph() *Graph {
	return &Graph{nodes: make(map[string]*SolutionNode)}
}

// Put inserts or replaces the node for name. The driver calls this every
// time it expands a pending item, so a name re-expanded in a later round
// replaces its earlier node (spec.md §4.8).
func (g *Graph) Put(node SolutionNode) {
	g.nodes[node.Name] = &node
}

// Get returns the current node for name, if resolved.
func (g *Graph) Get(name string) (SolutionNode, bool) {
	n, ok := g.nodes[name]
	if !ok {
		return SolutionNode{}, false
	}

	return *n, true
}

// AddEdge records a dependency edge from parent to child, deduplicated by
// (parent, child) pair with extras unioned onto the existing edge.
func (g *Graph) AddEdge(parentName, childName string, extras []string) {
	for i, e := range g.edges {
		if e.ParentName == parentName && e.ChildName == childName {
			g.edges[i].Extras = unionStrings(e.Extras, extras)

			return
		}
	}

	g.edges = append(g.edges, Edge{ParentName: parentName, ChildName: childName, Extras: append([]string{}, extras...)})
}

// IterNodes returns every resolved node, sorted by canonical name for
// deterministic iteration (spec.md §8 invariant: determinism).
func (g *Graph) IterNodes() []SolutionNode {
	names := make([]string, 0, len(g.nodes))
	for n := range g.nodes {
		names = append(names, n)
	}

	sort.Strings(names)

	out := make([]SolutionNode, 0, len(names))
	for _, n := range names {
		out = append(out, *g.nodes[n])
	}

	return out
}

// IterEdges returns every dependency edge, sorted by (parent, child) for
// deterministic iteration.
func (g *Graph) IterEdges() []Edge {
	out := append([]Edge{}, g.edges...)

	sort.Slice(out, func(i, j int) bool {
		if out[i].ParentName != out[j].ParentName {
			return out[i].ParentName < out[j].ParentName
		}

		return out[i].ChildName < out[j].ChildName
	})

	return out
}

// LockEntry is one row of the deterministic lockfile projection (spec.md §4
// "Supplemented features" — to_lockfile_view()).
type LockEntry struct {
	Name           string
	Version        string
	SelectedExtras []string
	FileURL        string
	FileSHA256     string
	RequiredBy     []string
}

// ToLockfileView projects the solution graph into a stable-sorted,
// deterministic list suitable for serialization to a lockfile: one entry
// per resolved package, parents listed by canonical name.
func (g *Graph) ToLockfileView() []LockEntry {
	nodes := g.IterNodes()

	entries := make([]LockEntry, 0, len(nodes))

	for _, n := range nodes {
		parents := make([]string, 0, len(n.IncomingEdges))
		for _, e := range n.IncomingEdges {
			parents = append(parents, e.ParentName)
		}

		sort.Strings(parents)

		entries = append(entries, LockEntry{
			Name:           n.Name,
			Version:        n.Version,
			SelectedExtras: append([]string{}, n.SelectedExtras...),
			FileURL:        n.SelectedFile.File.URL,
			FileSHA256:     n.SelectedFile.File.Digests.SHA256,
			RequiredBy:     parents,
		})
	}

	return entries
}

func unionStrings(a, b []string) []string {
	set := make(map[string]bool, len(a)+len(b))
	for _, s := range a {
		set[s] = true
	}

	for _, s := range b {
		set[s] = true
	}

	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}

	sort.Strings(out)

	return out
}

package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bilusteknoloji/pipg/internal/pep"
)

// ParentEdge records who introduced a pending or resolved requirement, used
// to name a failing node's direct parents on error (PathError) and to
// populate a SolutionNode's incoming_edges (spec.md §3).
type ParentEdge struct {
	ParentName   string
	ParentExtras []string
}

// PendingItem is an immutable snapshot of one queue entry's merged state,
// handed to the driver for a round of resolve tasks (spec.md §4.7 step 2).
type PendingItem struct {
	Name      string
	Extras    []string
	Specifier pep.VersionSet
	AllEnvs   bool
	EnvSubset []int // meaningful only when !AllEnvs
	SourceURL string
	Parents   []ParentEdge
}

// queueEntry is the queue's mutable per-name accumulator. DrainPending
// computes fingerprint(e) from the merged state and compares it against the
// fingerprint recorded at the entry's last selection to detect the nodes
// that must be (re-)expanded (spec.md §4.5).
type queueEntry struct {
	name       string
	extras     map[string]bool
	specifier  pep.VersionSet
	allEnvs    bool
	envSubset  map[int]bool
	sourceURL  string
	parents    []ParentEdge
	lastSelectionFingerprint string
}

// Queue is the C5 work set: pending requirements deduped by canonical name,
// merged via commutative/associative set union (extras), specifier
// intersection, and marker-applicability union (spec.md §4.5, §5).
type Queue struct {
	entries map[string]*queueEntry
	order   []string // first-seen order, kept only for stable diagnostics
}

// NewQueue creates an empty requirement queue.
func NewQueue() *Queue {
	return &Queue{entries: make(map[string]*queueEntry)}
}

// Push merges a normalized requirement into the queue under its canonical
// name. applicability is the result of evaluating the requirement's marker
// against the driver's target environments (pep.Evaluate); a None result
// must be filtered out by the caller before Push is called.
func (q *Queue) Push(req pep.Requirement, applicability pep.Result, parent ParentEdge) error {
	e, ok := q.entries[req.Name]
	if !ok {
		e = &queueEntry{
			name:      req.Name,
			extras:    make(map[string]bool),
			specifier: pep.NewVersionSet(),
			envSubset: make(map[int]bool),
		}
		q.entries[req.Name] = e
		q.order = append(q.order, req.Name)
	}

	for _, extra := range req.Extras {
		e.extras[extra] = true
	}

	if req.Specifier != "" {
		merged, err := e.specifier.Intersect(req.Specifier)
		if err != nil {
			return fmt.Errorf("merging specifier for %s: %w", req.Name, err)
		}

		e.specifier = merged
	}

	if req.SourceURL != "" {
		e.sourceURL = req.SourceURL
	}

	switch applicability.Applicability {
	case pep.All:
		e.allEnvs = true
	case pep.Mixed:
		for _, i := range applicability.Subset {
			e.envSubset[i] = true
		}
	}

	if parent.ParentName != "" {
		e.parents = append(e.parents, parent)
	}

	return nil
}

// DrainPending returns every entry whose post-merge state differs from its
// state at the time of its last selection (or which has never been
// selected) — the fixed-point signal from spec.md §4.5. Entries are
// returned in canonical-name order so a round's task scheduling is
// deterministic regardless of map iteration order.
func (q *Queue) DrainPending() []PendingItem {
	names := make([]string, 0, len(q.entries))
	for n := range q.entries {
		names = append(names, n)
	}

	sort.Strings(names)

	var items []PendingItem

	for _, n := range names {
		e := q.entries[n]

		fp := fingerprint(e)
		if fp == e.lastSelectionFingerprint {
			continue
		}

		items = append(items, e.snapshot())
	}

	return items
}

// MarkSelected records the entry's current fingerprint as its
// last-selection state, so an unchanged entry no longer drains. Called by
// the driver for every drained item before that round's tasks run, so a
// merge made during the round drains the entry again.
func (q *Queue) MarkSelected(name string) {
	if e, ok := q.entries[name]; ok {
		e.lastSelectionFingerprint = fingerprint(e)
	}
}

// Get returns the current merged snapshot for a name, if present.
func (q *Queue) Get(name string) (PendingItem, bool) {
	e, ok := q.entries[name]
	if !ok {
		return PendingItem{}, false
	}

	return e.snapshot(), true
}

func (e *queueEntry) snapshot() PendingItem {
	extras := make([]string, 0, len(e.extras))
	for x := range e.extras {
		extras = append(extras, x)
	}

	sort.Strings(extras)

	var subset []int
	if !e.allEnvs {
		for i := range e.envSubset {
			subset = append(subset, i)
		}

		sort.Ints(subset)
	}

	parents := append([]ParentEdge{}, e.parents...)

	return PendingItem{
		Name:      e.name,
		Extras:    extras,
		Specifier: e.specifier,
		AllEnvs:   e.allEnvs,
		EnvSubset: subset,
		SourceURL: e.sourceURL,
		Parents:   parents,
	}
}

// fingerprint is a stable string encoding of an entry's merged state, used
// only to detect change between rounds; it is never parsed back.
func fingerprint(e *queueEntry) string {
	extras := make([]string, 0, len(e.extras))
	for x := range e.extras {
		extras = append(extras, x)
	}

	sort.Strings(extras)

	var b strings.Builder

	b.WriteString(strings.Join(extras, ","))
	b.WriteByte('|')
	b.WriteString(strings.Join(e.specifier.Strings(), ","))
	b.WriteByte('|')
	b.WriteString(e.sourceURL)
	b.WriteByte('|')

	if e.allEnvs {
		b.WriteString("all")
	} else {
		subset := make([]int, 0, len(e.envSubset))
		for i := range e.envSubset {
			subset = append(subset, i)
		}

		sort.Ints(subset)

		for _, i := range subset {
			fmt.Fprintf(&b, "%d,", i)
		}
	}

	return b.String()
}

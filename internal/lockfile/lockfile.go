// Package lockfile projects a resolved dependency graph into a stable,
// deterministic textual form (spec.md §4 "Supplemented features" —
// to_lockfile_view()). Writing an actual lockfile format to disk for a
// package manager to consume later is out of this repo's scope; this
// package only owns the projection and its serialization.
package lockfile

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/bilusteknoloji/pipg/internal/resolver"
)

// header names the columns written by Write, in order.
var header = []string{"name", "version", "extras", "file_url", "sha256", "required_by"}

// Write serializes a resolved graph's lockfile view as CSV, one row per
// package, already sorted by canonical name (Graph.IterNodes' order).
func Write(w io.Writer, graph *resolver.Graph) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing lockfile header: %w", err)
	}

	for _, entry := range graph.ToLockfileView() {
		row := []string{
			entry.Name,
			entry.Version,
			strings.Join(entry.SelectedExtras, ","),
			entry.FileURL,
			entry.FileSHA256,
			strings.Join(entry.RequiredBy, ","),
		}

		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing lockfile row for %s: %w", entry.Name, err)
		}
	}

	cw.Flush()

	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing lockfile: %w", err)
	}

	return nil
}

// Read parses a lockfile written by Write back into LockEntry rows, for
// round-trip verification and future "resolve only what changed" use.
func Read(r io.Reader) ([]resolver.LockEntry, error) {
	cr := csv.NewReader(r)

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading lockfile: %w", err)
	}

	if len(records) == 0 {
		return nil, nil
	}

	entries := make([]resolver.LockEntry, 0, len(records)-1)

	for _, row := range records[1:] { // skip header
		if len(row) != len(header) {
			return nil, fmt.Errorf("malformed lockfile row: %v", row)
		}

		entries = append(entries, resolver.LockEntry{
			Name:           row[0],
			Version:        row[1],
			SelectedExtras: splitNonEmpty(row[2]),
			FileURL:        row[3],
			FileSHA256:     row[4],
			RequiredBy:     splitNonEmpty(row[5]),
		})
	}

	return entries, nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}

	return strings.Split(s, ",")
}

// Package pep implements the PEP 440/508 grammar the resolver core
// consumes as an external collaborator: canonical identifiers, version
// specifiers, requirement strings, and environment markers.
package pep

import "strings"

// CanonicalName normalizes a Python package name per PEP 503: lowercase,
// with runs of "-", "_", "." collapsed to a single "-".
func CanonicalName(name string) string {
	return collapseRuns(name)
}

// CanonicalExtra normalizes an extra name the same way a package name is
// normalized; PEP 685 defines extras using the PEP 503 name rules.
func CanonicalExtra(extra string) string {
	return collapseRuns(extra)
}

func collapseRuns(name string) string {
	name = strings.ToLower(name)

	var b strings.Builder

	prevHyphen := false

	for i := range len(name) {
		switch name[i] {
		case '-', '_', '.':
			if !prevHyphen {
				b.WriteByte('-')
				prevHyphen = true
			}
		default:
			b.WriteByte(name[i])
			prevHyphen = false
		}
	}

	return b.String()
}

// NameTable preserves the original spelling a name was first seen with,
// keyed by its canonical form, for diagnostics only. Equality and hashing
// throughout the resolver always use the canonical form.
type NameTable struct {
	display map[string]string
}

// NewNameTable creates an empty display-name side table.
func NewNameTable() *NameTable {
	return &NameTable{display: make(map[string]string)}
}

// Record remembers the first spelling seen for a canonical name.
func (t *NameTable) Record(original string) string {
	canon := CanonicalName(original)

	if _, ok := t.display[canon]; !ok {
		t.display[canon] = original
	}

	return canon
}

// Display returns the original spelling recorded for a canonical name,
// falling back to the canonical form itself if nothing was recorded.
func (t *NameTable) Display(canon string) string {
	if d, ok := t.display[canon]; ok {
		return d
	}

	return canon
}

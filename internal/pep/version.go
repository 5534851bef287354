package pep

import (
	"fmt"
	"sort"

	pep440 "github.com/aquasecurity/go-pep440-version"
)

// Version is a parsed PEP 440 version, ordered per the PEP 440 algorithm.
type Version struct {
	raw string
	v   pep440.Version
}

// ParseVersion parses a PEP 440 version string.
func ParseVersion(s string) (Version, error) {
	v, err := pep440.Parse(s)
	if err != nil {
		return Version{}, fmt.Errorf("parsing version %q: %w", s, err)
	}

	return Version{raw: s, v: v}, nil
}

// String returns the original, unnormalized version string.
func (v Version) String() string { return v.raw }

// IsPreRelease reports whether the version is a pre-release (alpha, beta,
// release candidate) or dev release.
func (v Version) IsPreRelease() bool { return v.v.IsPreRelease() }

// Compare returns -1, 0, or 1 according to PEP 440 ordering.
func (v Version) Compare(o Version) int { return v.v.Compare(o.v) }

// GreaterThan reports whether v orders after o under PEP 440.
func (v Version) GreaterThan(o Version) bool { return v.v.GreaterThan(o.v) }

// VersionSet is the intersection of every VersionSpecifiers collected for
// a package across all reachable requirements (spec.md §3 VersionSet).
type VersionSet struct {
	specifiers []pep440.Specifiers
	raw        []string
}

// NewVersionSet creates an empty, always-satisfied version set.
func NewVersionSet() VersionSet {
	return VersionSet{}
}

// Intersect folds another specifier string into the set. An empty
// specifier (no constraint) is a no-op. Returns an error only if the
// specifier string fails to parse.
func (vs VersionSet) Intersect(specifier string) (VersionSet, error) {
	if specifier == "" {
		return vs, nil
	}

	ss, err := pep440.NewSpecifiers(specifier)
	if err != nil {
		return vs, fmt.Errorf("parsing specifier %q: %w", specifier, err)
	}

	out := VersionSet{
		specifiers: append(append([]pep440.Specifiers{}, vs.specifiers...), ss),
		raw:        append(append([]string{}, vs.raw...), specifier),
	}

	return out, nil
}

// Empty reports whether no specifiers have been intersected into the set
// (i.e. any published version is admissible).
func (vs VersionSet) Empty() bool { return len(vs.specifiers) == 0 }

// Satisfies reports whether a version satisfies every intersected
// specifier. An empty set satisfies every version.
func (vs VersionSet) Satisfies(v Version) bool {
	for _, ss := range vs.specifiers {
		if !ss.Check(v.v) {
			return false
		}
	}

	return true
}

// HasAnyPreReleaseSpecifier reports whether any intersected specifier is
// itself expressed against a pre-release (e.g. ">=1.0.0a1"), which PEP 440
// treats as explicit pre-release opt-in for that specifier.
func (vs VersionSet) HasAnyPreReleaseSpecifier() bool {
	for _, r := range vs.raw {
		if v, err := pep440.Parse(specifierOperand(r)); err == nil && v.IsPreRelease() {
			return true
		}
	}

	return false
}

// specifierOperand extracts the version operand from a single specifier
// clause like ">=1.0.0a1". Best-effort; used only for pre-release opt-in
// detection, never for comparison.
func specifierOperand(clause string) string {
	i := 0
	for i < len(clause) && (clause[i] == '>' || clause[i] == '<' || clause[i] == '=' || clause[i] == '!' || clause[i] == '~' || clause[i] == ' ') {
		i++
	}

	return clause[i:]
}

// Strings returns the raw specifier clauses that were intersected, for
// diagnostics (VersionConflict error reporting).
func (vs VersionSet) Strings() []string { return vs.raw }

// SortVersionsDescending sorts parsed versions from highest to lowest per
// PEP 440 ordering.
func SortVersionsDescending(versions []Version) []Version {
	out := append([]Version{}, versions...)

	sort.Slice(out, func(i, j int) bool {
		return out[i].GreaterThan(out[j])
	})

	return out
}

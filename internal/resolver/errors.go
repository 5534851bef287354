package resolver

import (
	"fmt"
	"strings"
)

// VersionConflict reports that the intersected specifier set for a package
// has no compatible published version (spec.md §7).
type VersionConflict struct {
	Name        string
	Constraints []string
	Tried       []string
}

func (e *VersionConflict) Error() string {
	return fmt.Sprintf("version conflict for %s: constraints %s admit no published version (tried %s)",
		e.Name, strings.Join(e.Constraints, ", "), strings.Join(e.Tried, ", "))
}

// NoCompatibleVersion reports that every candidate version was excluded by
// requires_python against at least one target environment.
type NoCompatibleVersion struct {
	Name          string
	PythonReasons map[string]string // version -> reason it was rejected
}

func (e *NoCompatibleVersion) Error() string {
	return fmt.Sprintf("no compatible version of %s satisfies requires_python for all target environments (%d candidates rejected)",
		e.Name, len(e.PythonReasons))
}

// TierReason records why a single metadata tier failed for a (name, version).
type TierReason struct {
	Tier   string
	Reason string
}

// MetadataUnavailable reports that every metadata tier failed permanently
// for a (name, version).
type MetadataUnavailable struct {
	Name      string
	Version   string
	PerTier   []TierReason
}

func (e *MetadataUnavailable) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "metadata unavailable for %s %s:", e.Name, e.Version)

	for _, t := range e.PerTier {
		fmt.Fprintf(&b, " [%s: %s]", t.Tier, t.Reason)
	}

	return b.String()
}

// BuildFailure reports that the sdist build tier returned nonzero or the
// PEP 517 backend hook raised.
type BuildFailure struct {
	Name       string
	Version    string
	StderrTail string
	Cause      error
}

func (e *BuildFailure) Error() string {
	return fmt.Sprintf("building %s %s failed: %v", e.Name, e.Version, e.Cause)
}

func (e *BuildFailure) Unwrap() error { return e.Cause }

// networkTransient marks an error as transient (retried internally); it
// should never escape a tier's retry loop except wrapped into the tier's
// permanent reason once retries are exhausted (spec.md §7).
type networkTransient struct {
	err error
}

func (e *networkTransient) Error() string { return e.err.Error() }
func (e *networkTransient) Unwrap() error { return e.err }

// MalformedResponse reports a parse failure from a PEP-grammar collaborator
// (version, requirement, or marker parsing).
type MalformedResponse struct {
	Context string
	Cause   error
}

func (e *MalformedResponse) Error() string {
	return fmt.Sprintf("malformed response (%s): %v", e.Context, e.Cause)
}

func (e *MalformedResponse) Unwrap() error { return e.Cause }

// PathError decorates any resolve error with the failing node's direct
// parents followed by the failing node itself. It does not trace further
// back to a root requirement: a node with no recorded parent has a
// one-element Path, and a node with several parents lists all of them
// before its own name.
type PathError struct {
	Path  []string // direct parents ..., failing node, by canonical name
	Cause error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("resolving %s: %v", strings.Join(e.Path, " -> "), e.Cause)
}

func (e *PathError) Unwrap() error { return e.Cause }

// TierDiagnostic records which metadata tier supplied PackageMetadata for a
// resolved node, for the driver's machine-readable diagnostic log (spec.md
// §6 "Outputs from the core").
type TierDiagnostic struct {
	Name    string
	Version string
	Tier    string // "release-json", "per-file-metadata", "sdist-build"
}

package resolver

import "github.com/bilusteknoloji/pipg/internal/pep"

// TargetEnvironment is the resolver's concrete marker environment: a
// specific interpreter implementation, version, OS, and architecture that
// every selected requirement must satisfy (spec.md §3). Re-exported from
// internal/pep so callers configure the resolver without importing the
// grammar package directly.
type TargetEnvironment = pep.TargetEnvironment

// Applicability is the tri-state result of evaluating a marker against the
// resolver's ordered target environments (spec.md §4.2).
type Applicability = pep.Applicability

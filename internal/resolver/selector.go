package resolver

import (
	"context"
	"strings"

	"github.com/bilusteknoloji/pipg/internal/pep"
	"github.com/bilusteknoloji/pipg/internal/pypi"
)

// Candidate is a selected (version, file) pair along with the metadata
// that justified the selection, returned by Select (spec.md §4.6).
type Candidate struct {
	Version  pep.Version
	Entry    VersionEntry
	File     pypi.URL
	Metadata PackageMetadata
}

// FileSelector picks the preferred release file for a version given the
// resolver's target environments: wheel over sdist, any-platform wheel
// over platform-specific when multiple environments are targeted,
// filename as the final deterministic tie-break (spec.md §4.6).
type FileSelector func(files []pypi.URL, envs []pep.TargetEnvironment) (pypi.URL, bool)

// Select implements C6: given a package's accumulated VersionSet, it
// enumerates published versions highest-first, drops yanked releases
// (unless the specifier pins one exactly), drops pre-releases unless
// allowed or no stable version satisfies the specifier, and returns the
// first version with both a
// requires_python-satisfying file and metadata that re-confirms
// requires_python (spec.md §4.6).
func Select(
	ctx context.Context,
	name string,
	versions []VersionEntry,
	specifier pep.VersionSet,
	envs []pep.TargetEnvironment,
	allowPreRelease bool,
	pickFile FileSelector,
	metadata *Provider,
) (Candidate, error) {
	allowPre := allowPreRelease || specifier.HasAnyPreReleaseSpecifier() || pinsExactVersion(specifier, versions)

	var tried []string

	skippedPre := false
	pythonReasons := make(map[string]string)

	for _, entry := range versions {
		if entry.Yanked && !pinsExactEntry(specifier, entry) {
			continue
		}

		if entry.Version.IsPreRelease() && !allowPre {
			skippedPre = true

			continue
		}

		if !specifier.Satisfies(entry.Version) {
			continue
		}

		tried = append(tried, entry.Version.String())

		file, ok := pickFile(entry.Files, envs)
		if !ok {
			pythonReasons[entry.Version.String()] = "no file satisfies requires_python for every target environment"

			continue
		}

		md, err := metadata.Fetch(ctx, name, entry.Version.String(), entry)
		if err != nil {
			return Candidate{}, err
		}

		if !pythonSatisfiesAll(md.RequiresPython, envs) {
			pythonReasons[entry.Version.String()] = "package requires_python excludes a target environment"

			continue
		}

		return Candidate{Version: entry.Version, Entry: entry, File: file, Metadata: md}, nil
	}

	if len(tried) == 0 && skippedPre {
		return Select(ctx, name, versions, specifier, envs, true, pickFile, metadata)
	}

	if len(tried) == 0 {
		return Candidate{}, &VersionConflict{Name: name, Constraints: specifier.Strings(), Tried: tried}
	}

	return Candidate{}, &NoCompatibleVersion{Name: name, PythonReasons: pythonReasons}
}

// DefaultFileSelector implements the §4.6 tie-break order: among files
// whose requires_python admits every target environment, prefer a wheel
// over an sdist, prefer a platform-independent ("any") wheel over a
// platform-specific one when more than one environment is targeted, and
// break remaining ties by lexicographically lowest filename.
func DefaultFileSelector(files []pypi.URL, envs []pep.TargetEnvironment) (pypi.URL, bool) {
	var candidates []pypi.URL

	for _, f := range files {
		if !fileRequiresPythonSatisfiesAll(f, envs) {
			continue
		}

		candidates = append(candidates, f)
	}

	if len(candidates) == 0 {
		return pypi.URL{}, false
	}

	best := candidates[0]

	for _, f := range candidates[1:] {
		if filePriority(f, len(envs) > 1) < filePriority(best, len(envs) > 1) {
			best = f

			continue
		}

		if filePriority(f, len(envs) > 1) == filePriority(best, len(envs) > 1) && f.Filename < best.Filename {
			best = f
		}
	}

	return best, true
}

// filePriority ranks a file: lower is more preferred. Wheel beats sdist;
// among wheels, an "any" platform tag beats a specific one when targeting
// more than one environment.
func filePriority(f pypi.URL, multiEnv bool) int {
	if f.PackageType != "bdist_wheel" {
		return 2
	}

	if multiEnv && strings.Contains(f.Filename, "-any.whl") {
		return 0
	}

	return 1
}

func fileRequiresPythonSatisfiesAll(f pypi.URL, envs []pep.TargetEnvironment) bool {
	if f.RequiresPython == "" {
		return true
	}

	vs, err := pep.NewVersionSet().Intersect(f.RequiresPython)
	if err != nil {
		return true
	}

	return pythonSatisfiesAll(vs, envs)
}

func pinsExactVersion(vs pep.VersionSet, versions []VersionEntry) bool {
	for _, v := range versions {
		if pinsExactEntry(vs, v) {
			return true
		}
	}

	return false
}

// pinsExactEntry reports whether the specifier is a single "=={version}"
// clause that exactly names entry's version — the one case in which a
// yanked entry remains selectable, and one of the ways a pre-release is
// admitted (spec.md §4.6, §8 invariant 7).
func pinsExactEntry(vs pep.VersionSet, entry VersionEntry) bool {
	raw := vs.Strings()
	if len(raw) != 1 {
		return false
	}

	clause := raw[0]
	if len(clause) < 3 || clause[:2] != "==" {
		return false
	}

	pinned, err := pep.ParseVersion(strings.TrimSpace(clause[2:]))
	if err != nil {
		return false
	}

	return pinned.Compare(entry.Version) == 0
}

func pythonSatisfiesAll(requiresPython pep.VersionSet, envs []pep.TargetEnvironment) bool {
	if requiresPython.Empty() {
		return true
	}

	for _, env := range envs {
		v, err := pep.ParseVersion(env.PythonFullVersion)
		if err != nil {
			v, err = pep.ParseVersion(env.PythonVersion)
			if err != nil {
				return false
			}
		}

		if !requiresPython.Satisfies(v) {
			return false
		}
	}

	return true
}

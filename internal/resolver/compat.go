package resolver

import (
	"sort"

	"github.com/bilusteknoloji/pipg/internal/pep"
	"github.com/bilusteknoloji/pipg/internal/pypi"
)

// NewCompatFileSelector builds a FileSelector around PEP 425 wheel tag
// matching (CompatTag/SelectCompatibleFile) instead of the bare
// wheel-over-sdist heuristic in DefaultFileSelector: compatTags must be
// ordered by priority, most preferred first, the way BuildCompatTags
// produces them for a target environment. Falls back to the best
// requires_python-satisfying sdist when no wheel tag matches, so tier-3
// builds still have a file to work from (spec.md §4.4, §4.6).
func NewCompatFileSelector(compatTags []CompatTag) FileSelector {
	return func(files []pypi.URL, envs []pep.TargetEnvironment) (pypi.URL, bool) {
		var admissible []pypi.URL

		for _, f := range files {
			if fileRequiresPythonSatisfiesAll(f, envs) {
				admissible = append(admissible, f)
			}
		}

		if len(admissible) == 0 {
			return pypi.URL{}, false
		}

		if wheel, err := SelectCompatibleFile(admissible, compatTags); err == nil {
			return wheel, true
		}

		return bestSdist(admissible)
	}
}

func bestSdist(files []pypi.URL) (pypi.URL, bool) {
	var sdists []pypi.URL

	for _, f := range files {
		if f.PackageType == "sdist" {
			sdists = append(sdists, f)
		}
	}

	if len(sdists) == 0 {
		return pypi.URL{}, false
	}

	sort.Slice(sdists, func(i, j int) bool { return sdists[i].Filename < sdists[j].Filename })

	return sdists[0], true
}

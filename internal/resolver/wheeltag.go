package resolver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bilusteknoloji/pipg/internal/pypi"
)

// CompatTag is a PEP 425 compatibility tag: an (interpreter, ABI, platform)
// triple a wheel filename's tag segment must match for the file to be
// installable against a given target environment.
type CompatTag struct {
	Python   string // e.g. "cp312", "py3"
	ABI      string // e.g. "cp312", "none"
	Platform string // e.g. "manylinux_2_17_x86_64", "any"
}

// ParseWheelTag splits a wheel filename into its name, version, and PEP 425
// tag. Format: {name}-{version}[-{build}]-{python}-{abi}-{platform}.whl.
func ParseWheelTag(filename string) (name, version string, tag CompatTag, err error) {
	filename = strings.TrimSuffix(filename, ".whl")

	parts := strings.Split(filename, "-")
	if len(parts) < 5 {
		return "", "", CompatTag{}, fmt.Errorf("invalid wheel filename %q: expected at least 5 parts", filename)
	}

	tag = CompatTag{
		Python:   parts[len(parts)-3],
		ABI:      parts[len(parts)-2],
		Platform: parts[len(parts)-1],
	}

	return parts[0], parts[1], tag, nil
}

// SelectCompatibleFile picks the highest-priority wheel among urls whose
// tag matches one of compatTags (ordered most-preferred first). It never
// falls back to an sdist — callers that want that fallback compose it
// themselves (see bestSdist in compat.go).
func SelectCompatibleFile(urls []pypi.URL, compatTags []CompatTag) (pypi.URL, error) {
	bestPriority := len(compatTags)

	var (
		best  pypi.URL
		found bool
	)

	for _, u := range urls {
		if u.PackageType != "bdist_wheel" {
			continue
		}

		_, _, tag, err := ParseWheelTag(u.Filename)
		if err != nil {
			continue
		}

		for i, ct := range compatTags {
			if i >= bestPriority {
				break
			}

			if compatTagMatches(tag, ct) {
				bestPriority = i
				best = u
				found = true

				break
			}
		}

		if bestPriority == 0 {
			break
		}
	}

	if !found {
		return pypi.URL{}, fmt.Errorf("no compatible wheel found (tried %d URLs)", len(urls))
	}

	return best, nil
}

// compatTagMatches reports whether a wheel's tag satisfies a single
// compatibility tag. Each field may carry compound values joined by "."
// (e.g. "py2.py3"), meaning the wheel supports any of those values.
func compatTagMatches(wheel, compat CompatTag) bool {
	return compatFieldMatches(wheel.Python, compat.Python) &&
		compatFieldMatches(wheel.ABI, compat.ABI) &&
		compatFieldMatches(wheel.Platform, compat.Platform)
}

func compatFieldMatches(wheelField, compatValue string) bool {
	for _, w := range strings.Split(wheelField, ".") {
		if w == compatValue {
			return true
		}
	}

	return false
}

// BuildCompatTags generates the priority-ordered PEP 425 tag list for a
// target environment, from most to least specific: native CPython ABI,
// stable ABI3, no-ABI CPython, pure-Python, and finally any-platform.
func BuildCompatTags(pythonVersion, platformTag string) []CompatTag {
	compact := strings.ReplaceAll(pythonVersion, ".", "")
	cp := "cp" + compact
	pyMajor := "py" + compact[:1]

	platforms := expandCompatPlatforms(platformTag)

	var tags []CompatTag

	for _, plat := range platforms {
		tags = append(tags, CompatTag{Python: cp, ABI: cp, Platform: plat})
	}

	for _, plat := range platforms {
		tags = append(tags, CompatTag{Python: cp, ABI: "abi3", Platform: plat})
	}

	for _, plat := range platforms {
		tags = append(tags, CompatTag{Python: cp, ABI: "none", Platform: plat})
	}

	for _, plat := range platforms {
		tags = append(tags, CompatTag{Python: pyMajor, ABI: "none", Platform: plat})
	}

	tags = append(tags,
		CompatTag{Python: cp, ABI: "none", Platform: "any"},
		CompatTag{Python: pyMajor, ABI: "none", Platform: "any"},
	)

	return tags
}

// expandCompatPlatforms expands a wheel platform tag into a priority-ordered
// list of compatible platform tags: manylinux variants for Linux, and lower
// macOS version variants (plus universal2) for macOS.
func expandCompatPlatforms(platform string) []string {
	platforms := []string{platform}

	if strings.HasPrefix(platform, "linux_") {
		arch := strings.TrimPrefix(platform, "linux_")

		for _, ml := range []string{
			"manylinux_2_35", "manylinux_2_34", "manylinux_2_31",
			"manylinux_2_28", "manylinux_2_17", "manylinux2014",
		} {
			platforms = append(platforms, ml+"_"+arch)
		}

		return platforms
	}

	if strings.HasPrefix(platform, "macosx_") {
		parts := strings.SplitN(platform, "_", 4) // macosx, major, minor, arch
		if len(parts) != 4 {
			return platforms
		}

		arch := parts[3]
		major, _ := strconv.Atoi(parts[1])

		platforms = append(platforms, fmt.Sprintf("macosx_%s_%s_universal2", parts[1], parts[2]))

		minMajor := 10
		if arch == "arm64" {
			minMajor = 11
		}

		for v := major - 1; v >= minMajor; v-- {
			minor := "0"
			if v == 10 {
				minor = "9"
			}

			platforms = append(platforms,
				fmt.Sprintf("macosx_%d_%s_%s", v, minor, arch),
				fmt.Sprintf("macosx_%d_%s_universal2", v, minor),
			)
		}
	}

	return platforms
}

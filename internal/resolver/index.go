package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/bilusteknoloji/pipg/internal/pep"
	"github.com/bilusteknoloji/pipg/internal/pypi"
)

// VersionEntry pairs a parsed version with its yanked status and file
// listing (spec.md §3 ReleaseFile, §4.3).
type VersionEntry struct {
	Version      pep.Version
	Yanked       bool
	YankedReason string
	Files        []pypi.URL
}

// Index is the C3 version index: a per-resolve memoized
// (package) -> ordered published versions, with each package name fetched
// at most once regardless of how many concurrent requirements need it
// (spec.md §4.3, §5 single-flight discipline).
type Index struct {
	client pypi.Client
	logger *slog.Logger
	group  singleflight.Group

	mu    sync.Mutex
	cache map[string][]VersionEntry
}

// NewIndex creates a version index backed by the given registry client.
func NewIndex(client pypi.Client, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}

	return &Index{
		client: client,
		logger: logger,
		cache:  make(map[string][]VersionEntry),
	}
}

// ListVersions returns every published version of name, PEP-440 sorted
// descending, yanked entries retained with their flag (spec.md §4.3).
func (idx *Index) ListVersions(ctx context.Context, name string) ([]VersionEntry, error) {
	if cached, ok := idx.readCache(name); ok {
		return cached, nil
	}

	v, err, _ := idx.group.Do(name, func() (any, error) {
		if cached, ok := idx.readCache(name); ok {
			return cached, nil
		}

		idx.logger.Debug("fetching package index", slog.String("package", name))

		info, err := idx.client.GetPackage(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("listing versions for %s: %w", name, err)
		}

		entries := make([]VersionEntry, 0, len(info.Releases))

		for raw, files := range info.Releases {
			if len(files) == 0 {
				continue
			}

			ver, perr := pep.ParseVersion(raw)
			if perr != nil {
				idx.logger.Debug("skipping unparseable version",
					slog.String("package", name),
					slog.String("version", raw),
				)

				continue
			}

			yanked, reason := releaseYanked(files)

			entries = append(entries, VersionEntry{
				Version:      ver,
				Yanked:       yanked,
				YankedReason: reason,
				Files:        files,
			})
		}

		sort.Slice(entries, func(i, j int) bool {
			return entries[i].Version.GreaterThan(entries[j].Version)
		})

		idx.writeCache(name, entries)

		return entries, nil
	})
	if err != nil {
		return nil, err
	}

	return v.([]VersionEntry), nil
}

func (idx *Index) readCache(name string) ([]VersionEntry, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	v, ok := idx.cache[name]

	return v, ok
}

func (idx *Index) writeCache(name string, entries []VersionEntry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.cache[name] = entries
}

// releaseYanked derives a release-level yanked flag and reason from its
// files. The PyPI JSON API surfaces "yanked" per file; a release counts as
// yanked only if every one of its files is, and carries the first non-empty
// file reason (spec.md §9 tagged-union normalization for yanked: bool|string).
func releaseYanked(files []pypi.URL) (bool, string) {
	reason := ""

	for _, f := range files {
		if !f.Yanked {
			return false, ""
		}

		if reason == "" && f.YankedReason != "" {
			reason = f.YankedReason
		}
	}

	return true, reason
}

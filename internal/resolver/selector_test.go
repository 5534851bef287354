package resolver_test

import (
	"context"
	"errors"
	"testing"

	"github.com/bilusteknoloji/pipg/internal/pep"
	"github.com/bilusteknoloji/pipg/internal/pypi"
	"github.com/bilusteknoloji/pipg/internal/resolver"
)

// fakeClient answers GetPackageVersion from canned per-version RequiresDist,
// so Select can exercise tier-1 metadata without a network round trip.
type fakeClient struct {
	requiresDist map[string][]string
}

func (f *fakeClient) GetPackage(_ context.Context, name string) (*pypi.PackageInfo, error) {
	return nil, nil
}

func (f *fakeClient) GetPackageVersion(_ context.Context, name, version string) (*pypi.PackageInfo, error) {
	return &pypi.PackageInfo{
		Info: pypi.Info{
			Name:         name,
			Version:      version,
			RequiresDist: f.requiresDist[version],
		},
	}, nil
}

func (f *fakeClient) GetFileMetadata(_ context.Context, fileURL string) (string, error) {
	return "", nil
}

func wheelFile(filename, requiresPython string) pypi.URL {
	return pypi.URL{
		Filename:       filename,
		URL:            "https://example.test/" + filename,
		PackageType:    "bdist_wheel",
		RequiresPython: requiresPython,
	}
}

func envFor(pyVersion string) pep.TargetEnvironment {
	return pep.TargetEnvironment{
		Label:             "cpython-" + pyVersion,
		PythonVersion:     pyVersion,
		PythonFullVersion: pyVersion,
		Implementation:    "cpython",
		SysPlatform:       "linux",
		OsName:            "posix",
	}
}

func TestSelectPicksHighestSatisfyingVersion(t *testing.T) {
	client := &fakeClient{requiresDist: map[string][]string{"2.0.0": {"placeholder==0.0.1"}, "1.0.0": {"placeholder==0.0.1"}}}
	provider := resolver.NewProvider(client)

	v2, _ := pep.ParseVersion("2.0.0")
	v1, _ := pep.ParseVersion("1.0.0")

	versions := []resolver.VersionEntry{
		{Version: v2, Files: []pypi.URL{wheelFile("pkg-2.0.0-py3-none-any.whl", "")}},
		{Version: v1, Files: []pypi.URL{wheelFile("pkg-1.0.0-py3-none-any.whl", "")}},
	}

	envs := []pep.TargetEnvironment{envFor("3.11")}

	cand, err := resolver.Select(context.Background(), "pkg", versions, pep.NewVersionSet(), envs, false, resolver.DefaultFileSelector, provider)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	if cand.Version.String() != "2.0.0" {
		t.Errorf("selected version = %s, want 2.0.0", cand.Version.String())
	}
}

func TestSelectSkipsYankedUnlessExactlyPinned(t *testing.T) {
	client := &fakeClient{requiresDist: map[string][]string{"2.0.0": {"placeholder==0.0.1"}, "1.0.0": {"placeholder==0.0.1"}}}
	provider := resolver.NewProvider(client)

	v2, _ := pep.ParseVersion("2.0.0")
	v1, _ := pep.ParseVersion("1.0.0")

	versions := []resolver.VersionEntry{
		{Version: v2, Yanked: true, Files: []pypi.URL{wheelFile("pkg-2.0.0-py3-none-any.whl", "")}},
		{Version: v1, Files: []pypi.URL{wheelFile("pkg-1.0.0-py3-none-any.whl", "")}},
	}

	envs := []pep.TargetEnvironment{envFor("3.11")}

	cand, err := resolver.Select(context.Background(), "pkg", versions, pep.NewVersionSet(), envs, false, resolver.DefaultFileSelector, provider)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	if cand.Version.String() != "1.0.0" {
		t.Errorf("selected version = %s, want 1.0.0 (yanked 2.0.0 skipped)", cand.Version.String())
	}

	pinned, err := pep.NewVersionSet().Intersect("==2.0.0")
	if err != nil {
		t.Fatalf("Intersect: %v", err)
	}

	cand, err = resolver.Select(context.Background(), "pkg", versions, pinned, envs, false, resolver.DefaultFileSelector, provider)
	if err != nil {
		t.Fatalf("Select with exact pin: %v", err)
	}

	if cand.Version.String() != "2.0.0" {
		t.Errorf("selected version = %s, want 2.0.0 (exact pin overrides yanked)", cand.Version.String())
	}
}

func TestSelectSkipsPreReleaseUnlessOptedIn(t *testing.T) {
	client := &fakeClient{requiresDist: map[string][]string{"2.0.0a1": {"placeholder==0.0.1"}, "1.0.0": {"placeholder==0.0.1"}}}
	provider := resolver.NewProvider(client)

	vPre, _ := pep.ParseVersion("2.0.0a1")
	v1, _ := pep.ParseVersion("1.0.0")

	versions := []resolver.VersionEntry{
		{Version: vPre, Files: []pypi.URL{wheelFile("pkg-2.0.0a1-py3-none-any.whl", "")}},
		{Version: v1, Files: []pypi.URL{wheelFile("pkg-1.0.0-py3-none-any.whl", "")}},
	}

	envs := []pep.TargetEnvironment{envFor("3.11")}

	cand, err := resolver.Select(context.Background(), "pkg", versions, pep.NewVersionSet(), envs, false, resolver.DefaultFileSelector, provider)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	if cand.Version.String() != "1.0.0" {
		t.Errorf("selected version = %s, want 1.0.0 (pre-release excluded by default)", cand.Version.String())
	}

	cand, err = resolver.Select(context.Background(), "pkg", versions, pep.NewVersionSet(), envs, true, resolver.DefaultFileSelector, provider)
	if err != nil {
		t.Fatalf("Select with allowPreRelease: %v", err)
	}

	if cand.Version.String() != "2.0.0a1" {
		t.Errorf("selected version = %s, want 2.0.0a1 (pre-release opted in)", cand.Version.String())
	}
}

func TestSelectExcludesVersionFailingRequiresPythonForAnyEnvironment(t *testing.T) {
	client := &fakeClient{requiresDist: map[string][]string{"2.0.0": {"placeholder==0.0.1"}, "1.0.0": {"placeholder==0.0.1"}}}
	provider := resolver.NewProvider(client)

	v2, _ := pep.ParseVersion("2.0.0")
	v1, _ := pep.ParseVersion("1.0.0")

	versions := []resolver.VersionEntry{
		{Version: v2, Files: []pypi.URL{wheelFile("pkg-2.0.0-py3-none-any.whl", ">=3.12")}},
		{Version: v1, Files: []pypi.URL{wheelFile("pkg-1.0.0-py3-none-any.whl", ">=3.8")}},
	}

	envs := []pep.TargetEnvironment{envFor("3.9"), envFor("3.12")}

	cand, err := resolver.Select(context.Background(), "pkg", versions, pep.NewVersionSet(), envs, false, resolver.DefaultFileSelector, provider)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	if cand.Version.String() != "1.0.0" {
		t.Errorf("selected version = %s, want 1.0.0 (2.0.0 excludes the 3.9 environment)", cand.Version.String())
	}
}

func TestSelectReturnsVersionConflictWhenSpecifierAdmitsNothing(t *testing.T) {
	client := &fakeClient{requiresDist: map[string][]string{"1.0.0": {"placeholder==0.0.1"}}}
	provider := resolver.NewProvider(client)

	v1, _ := pep.ParseVersion("1.0.0")

	versions := []resolver.VersionEntry{
		{Version: v1, Files: []pypi.URL{wheelFile("pkg-1.0.0-py3-none-any.whl", "")}},
	}

	specifier, err := pep.NewVersionSet().Intersect(">=2.0.0")
	if err != nil {
		t.Fatalf("Intersect: %v", err)
	}

	envs := []pep.TargetEnvironment{envFor("3.11")}

	_, err = resolver.Select(context.Background(), "pkg", versions, specifier, envs, false, resolver.DefaultFileSelector, provider)

	var conflict *resolver.VersionConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("Select error = %v, want *VersionConflict", err)
	}
}

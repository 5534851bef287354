package resolver_test

import (
	"testing"

	"github.com/bilusteknoloji/pipg/internal/pypi"
	"github.com/bilusteknoloji/pipg/internal/resolver"
)

func TestParseWheelTag(t *testing.T) {
	tests := []struct {
		filename    string
		wantName    string
		wantVersion string
		wantTag     resolver.CompatTag
	}{
		{
			"flask-3.0.0-py3-none-any.whl",
			"flask", "3.0.0",
			resolver.CompatTag{Python: "py3", ABI: "none", Platform: "any"},
		},
		{
			"numpy-1.26.0-cp312-cp312-manylinux_2_17_x86_64.whl",
			"numpy", "1.26.0",
			resolver.CompatTag{Python: "cp312", ABI: "cp312", Platform: "manylinux_2_17_x86_64"},
		},
		{
			"MarkupSafe-2.1.5-cp312-cp312-macosx_10_9_universal2.whl",
			"MarkupSafe", "2.1.5",
			resolver.CompatTag{Python: "cp312", ABI: "cp312", Platform: "macosx_10_9_universal2"},
		},
		{
			"six-1.16.0-py2.py3-none-any.whl",
			"six", "1.16.0",
			resolver.CompatTag{Python: "py2.py3", ABI: "none", Platform: "any"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			name, version, tag, err := resolver.ParseWheelTag(tt.filename)
			if err != nil {
				t.Fatalf("ParseWheelTag(%q) error: %v", tt.filename, err)
			}

			if name != tt.wantName {
				t.Errorf("name = %q, want %q", name, tt.wantName)
			}

			if version != tt.wantVersion {
				t.Errorf("version = %q, want %q", version, tt.wantVersion)
			}

			if tag != tt.wantTag {
				t.Errorf("tag = %+v, want %+v", tag, tt.wantTag)
			}
		})
	}
}

func TestParseWheelTagInvalid(t *testing.T) {
	tests := []string{
		"flask-3.0.0.tar.gz",
		"flask.whl",
		"flask-3.0.0.whl",
		"too-few-parts.whl",
	}

	for _, filename := range tests {
		t.Run(filename, func(t *testing.T) {
			_, _, _, err := resolver.ParseWheelTag(filename)
			if err == nil {
				t.Errorf("ParseWheelTag(%q) expected error, got nil", filename)
			}
		})
	}
}

func TestSelectCompatibleFile(t *testing.T) {
	urls := []pypi.URL{
		{Filename: "pkg-1.0.0-cp312-cp312-manylinux_2_17_x86_64.whl", PackageType: "bdist_wheel", URL: "https://example.com/manylinux.whl"},
		{Filename: "pkg-1.0.0-py3-none-any.whl", PackageType: "bdist_wheel", URL: "https://example.com/pure.whl"},
		{Filename: "pkg-1.0.0.tar.gz", PackageType: "sdist", URL: "https://example.com/sdist.tar.gz"},
	}

	compatTags := []resolver.CompatTag{
		{Python: "cp312", ABI: "cp312", Platform: "manylinux_2_17_x86_64"},
		{Python: "cp312", ABI: "none", Platform: "any"},
		{Python: "py3", ABI: "none", Platform: "any"},
	}

	got, err := resolver.SelectCompatibleFile(urls, compatTags)
	if err != nil {
		t.Fatalf("SelectCompatibleFile() error: %v", err)
	}

	if got.URL != "https://example.com/manylinux.whl" {
		t.Errorf("SelectCompatibleFile() selected %q, want manylinux wheel", got.Filename)
	}
}

func TestSelectCompatibleFilePurePython(t *testing.T) {
	urls := []pypi.URL{
		{Filename: "pkg-1.0.0-py3-none-any.whl", PackageType: "bdist_wheel", URL: "https://example.com/pure.whl"},
	}

	compatTags := []resolver.CompatTag{
		{Python: "cp312", ABI: "cp312", Platform: "manylinux_2_17_x86_64"},
		{Python: "py3", ABI: "none", Platform: "any"},
	}

	got, err := resolver.SelectCompatibleFile(urls, compatTags)
	if err != nil {
		t.Fatalf("SelectCompatibleFile() error: %v", err)
	}

	if got.URL != "https://example.com/pure.whl" {
		t.Errorf("SelectCompatibleFile() selected %q, want pure python wheel", got.Filename)
	}
}

func TestSelectCompatibleFileCompoundTag(t *testing.T) {
	urls := []pypi.URL{
		{Filename: "six-1.16.0-py2.py3-none-any.whl", PackageType: "bdist_wheel", URL: "https://example.com/six.whl"},
	}

	compatTags := []resolver.CompatTag{
		{Python: "py3", ABI: "none", Platform: "any"},
	}

	got, err := resolver.SelectCompatibleFile(urls, compatTags)
	if err != nil {
		t.Fatalf("SelectCompatibleFile() error: %v", err)
	}

	if got.URL != "https://example.com/six.whl" {
		t.Errorf("SelectCompatibleFile() should match compound tag py2.py3 against py3")
	}
}

func TestSelectCompatibleFileNoMatch(t *testing.T) {
	urls := []pypi.URL{
		{Filename: "pkg-1.0.0-cp311-cp311-win_amd64.whl", PackageType: "bdist_wheel"},
		{Filename: "pkg-1.0.0.tar.gz", PackageType: "sdist"},
	}

	compatTags := []resolver.CompatTag{
		{Python: "cp312", ABI: "cp312", Platform: "manylinux_2_17_x86_64"},
		{Python: "py3", ABI: "none", Platform: "any"},
	}

	_, err := resolver.SelectCompatibleFile(urls, compatTags)
	if err == nil {
		t.Fatal("SelectCompatibleFile() expected error for no compatible wheel, got nil")
	}
}

func TestSelectCompatibleFileSkipsSdist(t *testing.T) {
	urls := []pypi.URL{
		{Filename: "pkg-1.0.0.tar.gz", PackageType: "sdist"},
	}

	compatTags := []resolver.CompatTag{
		{Python: "py3", ABI: "none", Platform: "any"},
	}

	_, err := resolver.SelectCompatibleFile(urls, compatTags)
	if err == nil {
		t.Fatal("SelectCompatibleFile() should not select sdist, expected error")
	}
}

func TestBuildCompatTagsOrdersByPriority(t *testing.T) {
	tags := resolver.BuildCompatTags("3.12", "linux_x86_64")

	if len(tags) == 0 {
		t.Fatal("BuildCompatTags() returned no tags")
	}

	if tags[0] != (resolver.CompatTag{Python: "cp312", ABI: "cp312", Platform: "linux_x86_64"}) {
		t.Errorf("tags[0] = %+v, want native cp312/cp312/linux_x86_64", tags[0])
	}

	last := tags[len(tags)-1]
	if last != (resolver.CompatTag{Python: "py3", ABI: "none", Platform: "any"}) {
		t.Errorf("last tag = %+v, want the universal py3/none/any fallback", last)
	}
}

func TestBuildCompatTagsExpandsManylinux(t *testing.T) {
	tags := resolver.BuildCompatTags("3.11", "linux_x86_64")

	var sawManylinux bool

	for _, tag := range tags {
		if tag.Platform == "manylinux_2_17_x86_64" {
			sawManylinux = true
		}
	}

	if !sawManylinux {
		t.Error("BuildCompatTags() did not include a manylinux_2_17_x86_64 variant for linux_x86_64")
	}
}

package pep_test

import (
	"testing"

	"github.com/bilusteknoloji/pipg/internal/pep"
)

func TestCanonicalName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Flask", "flask"},
		{"my_package", "my-package"},
		{"My.Package", "my-package"},
		{"some--name", "some-name"},
		{"a_.b", "a-b"},
		{"requests", "requests"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := pep.CanonicalName(tt.input); got != tt.want {
				t.Errorf("CanonicalName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNameTableDisplay(t *testing.T) {
	table := pep.NewNameTable()

	canon := table.Record("My.Package")
	if canon != "my-package" {
		t.Fatalf("Record() = %q, want my-package", canon)
	}

	if got := table.Display("my-package"); got != "My.Package" {
		t.Errorf("Display() = %q, want My.Package", got)
	}

	// Second spelling for the same canonical name doesn't overwrite the first.
	table.Record("my-package")

	if got := table.Display("my-package"); got != "My.Package" {
		t.Errorf("Display() after re-record = %q, want My.Package", got)
	}

	if got := table.Display("unknown-pkg"); got != "unknown-pkg" {
		t.Errorf("Display() of unseen name = %q, want fallback to canonical", got)
	}
}

package utils

import (
	"path/filepath"
	"testing"

	"github.com/mitchellh/go-homedir"
)

func TestExpandPath(t *testing.T) {
	t.Setenv("NARRATOR_TEST_DIR", "/srv/timelines")
	home, err := homedir.Dir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}

	tests := []struct {
		in   string
		want string
	}{
		{"/abs/path.json", "/abs/path.json"},
		{"$NARRATOR_TEST_DIR/rome.yaml", "/srv/timelines/rome.yaml"},
		{"~/rome.json", filepath.Join(home, "rome.json")},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ExpandPath(tt.in); got != tt.want {
				t.Errorf("ExpandPath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestIsTimelineFile(t *testing.T) {
	tests := map[string]bool{
		"rome.json":      true,
		"rome.YAML":      true,
		"dir/rome.yml":   true,
		"README.md":      false,
		"timeline":       false,
		"timeline.json~": false,
	}
	for name, want := range tests {
		if got := IsTimelineFile(name); got != want {
			t.Errorf("IsTimelineFile(%q) = %v, want %v", name, got, want)
		}
	}
}

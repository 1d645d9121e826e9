package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSplitFrontmatter(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantHeader string
		wantBody   string
	}{
		{
			name:       "with front matter",
			input:      "---\nname: Lunch\n---\n# Special\n",
			wantHeader: "name: Lunch\n",
			wantBody:   "# Special\n",
		},
		{
			name:     "without front matter",
			input:    "# Special\n- Soup",
			wantBody: "# Special\n- Soup",
		},
		{
			name:     "thematic break later in document",
			input:    "# Title\n\n---\n\ntext",
			wantBody: "# Title\n\n---\n\ntext",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header, body := SplitFrontmatter([]byte(tt.input))
			if string(header) != tt.wantHeader {
				t.Errorf("header = %q, want %q", header, tt.wantHeader)
			}
			if string(body) != tt.wantBody {
				t.Errorf("body = %q, want %q", body, tt.wantBody)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	t.Setenv("PRESS_TEST_DIR", "/srv/press")
	if got := ExpandPath("$PRESS_TEST_DIR/cache"); got != "/srv/press/cache" {
		t.Errorf("ExpandPath() = %q", got)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandPath("~/cache"); got != filepath.Join(home, "cache") {
		t.Errorf("ExpandPath(~) = %q", got)
	}
}

func TestIsMarkdownFile(t *testing.T) {
	for name, want := range map[string]bool{
		"menu.md":       true,
		"MENU.MARKDOWN": true,
		"menu.txt":      false,
		"menu":          false,
	} {
		if got := IsMarkdownFile(name); got != want {
			t.Errorf("IsMarkdownFile(%q) = %v, want %v", name, got, want)
		}
	}
}

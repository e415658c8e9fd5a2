package filter

import (
	"errors"
	"strings"
	"testing"

	"github.com/Ning0612/pubsync/internal/domain"
)

func TestFilter_Allow(t *testing.T) {
	f, err := New([]string{"**/*.html;**/*.css", "*.md"}, []string{"drafts/", "**/*.bak"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{"index.html", false, true},
		{"css/site.css", false, true},
		{"README.md", false, true},
		{"docs/guide.md", false, true},
		{"script.js", false, false},
		{"drafts", true, false},
		{"drafts/post.html", false, false},
		{"posts/old.html.bak", false, false},
		{"posts", true, true},
		{"page.pubsync.tmp", false, false},
		{".DS_Store", false, false},
	}

	for _, tt := range tests {
		if got := f.Allow(tt.path, tt.isDir); got != tt.want {
			t.Errorf("Allow(%q, %v) = %v, want %v", tt.path, tt.isDir, got, tt.want)
		}
	}
}

func TestFilter_NoIncludesAllowsEverything(t *testing.T) {
	f, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for _, p := range []string{"a", "a/b/c.txt", ".hidden"} {
		if !f.Allow(p, false) {
			t.Errorf("Allow(%q) = false, want true", p)
		}
	}

	var nilFilter *Filter
	if !nilFilter.Allow("x", false) {
		t.Error("nil filter should allow everything")
	}
}

func TestFilter_InvalidPattern(t *testing.T) {
	_, err := New([]string{"[unclosed"}, nil)
	if !errors.Is(err, domain.ErrConfigInvalid) {
		t.Fatalf("Expected ErrConfigInvalid, got %v", err)
	}
}

func TestFilter_IgnoreLines(t *testing.T) {
	lines, err := ReadIgnoreLines(strings.NewReader("# comment\n\nbuild/\n*.log\n"))
	if err != nil {
		t.Fatalf("ReadIgnoreLines() error = %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %v", lines)
	}

	f, err := New(nil, nil, lines...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if f.Allow("build/out.html", false) {
		t.Error("build/ should be ignored")
	}
	if f.Allow("logs/today.log", false) {
		t.Error("*.log should be ignored")
	}
	if !f.Allow("site/index.html", false) {
		t.Error("index.html should be allowed")
	}
}

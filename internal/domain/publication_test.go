package domain

import (
	"path/filepath"
	"testing"
)

func TestPublication_URIs(t *testing.T) {
	root := filepath.Join(t.TempDir(), "site")
	p := Publication{Name: "blog", LocalRoot: root, Transport: "drive", RemoteRoot: "sites/blog"}

	if got, want := p.LocalURI("posts/a.md"), filepath.Join(root, "posts", "a.md"); got != want {
		t.Errorf("LocalURI() = %q, want %q", got, want)
	}
	if got := p.RemoteURI("posts/a.md"); got != "drive:/sites/blog/posts/a.md" {
		t.Errorf("RemoteURI() = %q", got)
	}
	if got := p.RemoteURI(""); got != "drive:/sites/blog" {
		t.Errorf("RemoteURI(\"\") = %q", got)
	}

	p.RemoteRoot = ""
	if got := p.RemoteURI("a.md"); got != "drive:/a.md" {
		t.Errorf("RemoteURI() with empty root = %q", got)
	}
}

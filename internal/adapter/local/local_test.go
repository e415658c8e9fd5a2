package local

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/Ning0612/pubsync/internal/domain"
)

func newMemAdapter(t *testing.T) (*Adapter, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	if err := fsys.MkdirAll("/site", 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	a, err := NewWithFs(fsys, "/site")
	if err != nil {
		t.Fatalf("NewWithFs() error = %v", err)
	}
	return a, fsys
}

func TestNew_MissingRoot(t *testing.T) {
	_, err := NewWithFs(afero.NewMemMapFs(), "/nope")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestNew_RootIsFile(t *testing.T) {
	fsys := afero.NewMemMapFs()
	_ = afero.WriteFile(fsys, "/file", []byte("x"), 0644)
	_, err := NewWithFs(fsys, "/file")
	if !errors.Is(err, domain.ErrNotDirectory) {
		t.Fatalf("Expected ErrNotDirectory, got %v", err)
	}
}

func TestWriteReadList(t *testing.T) {
	a, _ := newMemAdapter(t)
	ctx := context.Background()

	if err := a.Write(ctx, "docs/index.html", strings.NewReader("<h1>hi</h1>")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	r, err := a.Read(ctx, "docs/index.html")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	data, _ := io.ReadAll(r)
	r.Close()
	if string(data) != "<h1>hi</h1>" {
		t.Errorf("unexpected content %q", data)
	}

	root, err := a.List(ctx, "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(root) != 1 || root[0].Path != "docs" || !root[0].IsDir() {
		t.Fatalf("unexpected root listing: %+v", root)
	}

	docs, err := a.List(ctx, "docs")
	if err != nil {
		t.Fatalf("List(docs) error = %v", err)
	}
	if len(docs) != 1 || docs[0].Path != "docs/index.html" || docs[0].Size != 11 {
		t.Fatalf("unexpected docs listing: %+v", docs)
	}
}

func TestWrite_CancelledLeavesNoTarget(t *testing.T) {
	a, fsys := newMemAdapter(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := a.Write(ctx, "big.bin", strings.NewReader("payload"))
	if err == nil {
		t.Fatal("Expected error for cancelled write")
	}

	exists, _ := afero.Exists(fsys, "/site/big.bin")
	if exists {
		t.Error("target must not exist after cancelled write")
	}
	entries, _ := afero.ReadDir(fsys, "/site")
	if len(entries) != 0 {
		t.Errorf("temporary files left behind: %d", len(entries))
	}
}

func TestResolvePath_Traversal(t *testing.T) {
	a, _ := newMemAdapter(t)
	for _, p := range []string{"../etc/passwd", "a/../../b", "/abs"} {
		if _, err := a.resolvePath(p); !errors.Is(err, domain.ErrPermissionDenied) {
			t.Errorf("resolvePath(%q) expected ErrPermissionDenied, got %v", p, err)
		}
	}
	if _, err := a.resolvePath("..hidden/file"); err != nil {
		t.Errorf("names starting with dots are legal: %v", err)
	}
}

func TestDeleteAll(t *testing.T) {
	a, fsys := newMemAdapter(t)
	ctx := context.Background()
	_ = a.Write(ctx, "dir/a.txt", strings.NewReader("a"))
	_ = a.Write(ctx, "dir/sub/b.txt", strings.NewReader("b"))

	if err := a.DeleteAll(ctx, "dir"); err != nil {
		t.Fatalf("DeleteAll() error = %v", err)
	}
	if exists, _ := afero.DirExists(fsys, "/site/dir"); exists {
		t.Error("directory should be gone")
	}
	if err := a.DeleteAll(ctx, "dir"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second DeleteAll expected ErrNotFound, got %v", err)
	}
	if err := a.DeleteAll(ctx, ""); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Errorf("deleting root expected ErrPermissionDenied, got %v", err)
	}
}

package testutil

import (
	"os"
	"path"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/Ning0612/pubsync/internal/adapter/local"
)

// TempDir creates a temporary directory for testing
// It returns the directory path and a cleanup function
func TempDir(t *testing.T) (string, func()) {
	t.Helper()

	dir, err := os.MkdirTemp("", "pubsync-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	cleanup := func() {
		os.RemoveAll(dir)
	}

	return dir, cleanup
}

// CreateTestFile creates a test file with the given content
func CreateTestFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()

	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatalf("failed to create parent dir: %v", err)
	}
	if err := os.WriteFile(p, content, 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	return p
}

// MemTree is an in-memory tree served through the local adapter
type MemTree struct {
	Fs      afero.Fs
	Root    string
	Adapter *local.Adapter
}

// NewMemTree creates an empty in-memory tree rooted at root
func NewMemTree(t *testing.T, root string) *MemTree {
	t.Helper()

	fsys := afero.NewMemMapFs()
	if err := fsys.MkdirAll(root, 0755); err != nil {
		t.Fatalf("failed to create root: %v", err)
	}
	a, err := local.NewWithFs(fsys, root)
	if err != nil {
		t.Fatalf("failed to create adapter: %v", err)
	}
	return &MemTree{Fs: fsys, Root: root, Adapter: a}
}

// WriteFile creates or replaces a file and sets its mtime
func (m *MemTree) WriteFile(t *testing.T, rel, content string, mtime time.Time) {
	t.Helper()

	full := path.Join(m.Root, rel)
	if err := m.Fs.MkdirAll(path.Dir(full), 0755); err != nil {
		t.Fatalf("failed to create parent of %s: %v", rel, err)
	}
	if err := afero.WriteFile(m.Fs, full, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", rel, err)
	}
	if err := m.Fs.Chtimes(full, mtime, mtime); err != nil {
		t.Fatalf("failed to set mtime of %s: %v", rel, err)
	}
}

// Mkdir creates a directory
func (m *MemTree) Mkdir(t *testing.T, rel string) {
	t.Helper()

	if err := m.Fs.MkdirAll(path.Join(m.Root, rel), 0755); err != nil {
		t.Fatalf("failed to create %s: %v", rel, err)
	}
}

// Remove deletes a path and everything beneath it
func (m *MemTree) Remove(t *testing.T, rel string) {
	t.Helper()

	if err := m.Fs.RemoveAll(path.Join(m.Root, rel)); err != nil {
		t.Fatalf("failed to remove %s: %v", rel, err)
	}
}

// ReadFile returns the content of a file, failing the test if missing
func (m *MemTree) ReadFile(t *testing.T, rel string) string {
	t.Helper()

	data, err := afero.ReadFile(m.Fs, path.Join(m.Root, rel))
	if err != nil {
		t.Fatalf("failed to read %s: %v", rel, err)
	}
	return string(data)
}

// Exists reports whether rel exists
func (m *MemTree) Exists(rel string) bool {
	ok, _ := afero.Exists(m.Fs, path.Join(m.Root, rel))
	return ok
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return true
		}

		if time.Now().After(deadline) {
			return false
		}

		<-ticker.C
	}
}

// AssertEventually asserts that a condition becomes true within timeout
func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msgAndArgs ...interface{}) {
	t.Helper()

	if !WaitForCondition(timeout, condition) {
		if len(msgAndArgs) > 0 {
			t.Fatalf("condition not met within %v: %v", timeout, msgAndArgs[0])
		} else {
			t.Fatalf("condition not met within %v", timeout)
		}
	}
}

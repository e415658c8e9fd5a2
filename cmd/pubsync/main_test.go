package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Ning0612/pubsync/internal/domain"
	"github.com/Ning0612/pubsync/internal/testutil"
)

type env struct {
	config string
	local  string
	remote string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	base := t.TempDir()
	e := &env{
		config: filepath.Join(base, "config.yaml"),
		local:  filepath.Join(base, "site"),
		remote: filepath.Join(base, "mirror"),
	}
	if err := os.MkdirAll(e.local, 0755); err != nil {
		t.Fatal(err)
	}

	yaml := fmt.Sprintf(`
transports:
  - name: disk
    type: local
publications:
  - name: blog
    local_root: %q
    transport: disk
    remote_root: %q
    auto_sync_on_save: true
settings:
  state_dir: %q
  lock_dir: %q
`, e.local, e.remote, filepath.Join(base, "state"), filepath.Join(base, "locks"))
	if err := os.WriteFile(e.config, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	return e
}

func (e *env) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	args = append([]string{"--config", e.config, "--log-level", "error"}, args...)
	err := run(context.Background(), args, strings.NewReader(stdin), &out, &errOut)
	return out.String(), err
}

func TestList(t *testing.T) {
	e := newEnv(t)
	out, err := e.run(t, "", "list")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if !strings.Contains(out, "blog") || !strings.Contains(out, "(auto-sync)") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "disk:/") {
		t.Errorf("expected remote URI in output:\n%s", out)
	}
}

func TestWatchStop_NoWatcher(t *testing.T) {
	e := newEnv(t)
	out, err := e.run(t, "", "watch", "stop")
	if err != nil {
		t.Fatalf("watch stop failed: %v", err)
	}
	if !strings.Contains(out, "No watcher is running.") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestMissingConfig(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), []string{"--config", filepath.Join(t.TempDir(), "none.yaml"), "list"}, nil, &out, &out)
	if !errors.Is(err, domain.ErrConfigNotFound) {
		t.Errorf("expected ErrConfigNotFound, got %v", err)
	}
}

func TestSync(t *testing.T) {
	e := newEnv(t)
	testutil.CreateTestFile(t, e.local, "index.html", []byte("<h1>hi</h1>"))

	t.Run("dry run", func(t *testing.T) {
		out, err := e.run(t, "", "sync", "blog", "--dry-run")
		if err != nil {
			t.Fatalf("sync failed: %v", err)
		}
		if !strings.Contains(out, "index.html") {
			t.Errorf("expected change listing:\n%s", out)
		}
		if _, err := os.Stat(filepath.Join(e.remote, "index.html")); !os.IsNotExist(err) {
			t.Error("dry run must not transfer files")
		}
	})

	t.Run("declined", func(t *testing.T) {
		out, err := e.run(t, "n\n", "sync", "blog")
		if err != nil {
			t.Fatalf("sync failed: %v", err)
		}
		if !strings.Contains(out, "Aborted.") {
			t.Errorf("expected abort message:\n%s", out)
		}
	})

	t.Run("confirmed", func(t *testing.T) {
		out, err := e.run(t, "y\n", "sync", "blog")
		if err != nil {
			t.Fatalf("sync failed: %v", err)
		}
		if !strings.Contains(out, "1 completed, 0 failed") {
			t.Errorf("unexpected summary:\n%s", out)
		}
		data, err := os.ReadFile(filepath.Join(e.remote, "index.html"))
		if err != nil || string(data) != "<h1>hi</h1>" {
			t.Errorf("remote copy = %q, %v", data, err)
		}
	})

	t.Run("history", func(t *testing.T) {
		out, err := e.run(t, "", "history", "blog")
		if err != nil {
			t.Fatalf("history failed: %v", err)
		}
		if !strings.Contains(out, "success") {
			t.Errorf("expected a successful run:\n%s", out)
		}
	})
}

func TestSync_Conflicts(t *testing.T) {
	e := newEnv(t)
	testutil.CreateTestFile(t, e.local, "page.md", []byte("local text"))
	testutil.CreateTestFile(t, e.remote, "page.md", []byte("remote text"))

	_, err := e.run(t, "", "sync", "blog", "--yes")
	if !errors.Is(err, domain.ErrSyncConflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}

	if _, err := e.run(t, "", "sync", "blog", "--yes", "--resolve", "sideways"); err == nil {
		t.Error("expected error for invalid --resolve value")
	}

	if _, err := e.run(t, "", "sync", "blog", "--yes", "--resolve", "remote"); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(e.local, "page.md"))
	if string(data) != "remote text" {
		t.Errorf("local copy = %q, want remote text", data)
	}
}

func TestPushAndDiff(t *testing.T) {
	e := newEnv(t)
	file := testutil.CreateTestFile(t, e.local, "notes/today.md", []byte("draft"))

	out, err := e.run(t, "", "push", file)
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if !strings.Contains(out, "notes/today.md: success") {
		t.Errorf("unexpected output:\n%s", out)
	}

	testutil.CreateTestFile(t, e.local, "notes/today.md", []byte("final"))
	out, err = e.run(t, "", "diff", file)
	if err != nil {
		t.Fatalf("diff failed: %v", err)
	}
	if !strings.Contains(out, "-final") || !strings.Contains(out, "+draft") {
		t.Errorf("unexpected diff:\n%s", out)
	}

	if _, err := e.run(t, "", "push", e.local); err == nil {
		t.Error("expected error pushing the publication root")
	}
}

func TestPrintItems(t *testing.T) {
	change := domain.NewChangeItem("a.txt", domain.RemoteFileModified)
	skipped := domain.NewChangeItem("b.txt", domain.ConflictBothModified)
	skipped.Checked = false

	var buf bytes.Buffer
	printItems(&buf, []domain.Item{change, skipped, domain.NewLogItem(domain.LogWarn, "careful")})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %q", buf.String())
	}
	if !strings.HasPrefix(lines[0], "[x] <~ a.txt") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "[ ] !! b.txt") {
		t.Errorf("line 1 = %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "WARN  careful") {
		t.Errorf("line 2 = %q", lines[2])
	}
}

func TestMarker(t *testing.T) {
	tests := map[domain.SyncType]string{
		domain.RemoteFileAdded:        "<+",
		domain.LocalFileModified:      ">~",
		domain.LocalDirRemoved:        ">-",
		domain.ConflictResolvedUpload: ">~",
		domain.ConflictBothModified:   "!!",
		domain.SyncUnknown:            "  ",
	}
	for st, want := range tests {
		if got := marker(st); got != want {
			t.Errorf("marker(%s) = %q, want %q", st, got, want)
		}
	}
}

package watch

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestPIDFile_ClaimAndRelease(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	p := NewPIDFile(dir)

	if _, err := p.Running(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning before claim, got %v", err)
	}

	if err := p.Claim(); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	pid, err := p.Running()
	if err != nil {
		t.Fatalf("Running failed: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("Expected PID %d, got %d", os.Getpid(), pid)
	}

	if err := p.Claim(); err == nil {
		t.Error("Expected error claiming twice")
	}
	if _, err := p.StopRunning(); err == nil {
		t.Error("Expected refusal to signal the current process")
	}

	if err := p.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(p.Path()); !os.IsNotExist(err) {
		t.Error("PID file still exists after release")
	}
	if err := p.Release(); err != nil {
		t.Errorf("Expected no error releasing twice, got %v", err)
	}
}

func TestPIDFile_StaleFile(t *testing.T) {
	dir := t.TempDir()
	p := NewPIDFile(dir)

	// Far above any default pid_max
	if err := os.WriteFile(p.Path(), []byte(strconv.Itoa(1<<30)+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Running(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected stale file to report ErrNotRunning, got %v", err)
	}
	if err := p.Claim(); err != nil {
		t.Fatalf("Claim over stale file failed: %v", err)
	}
	defer p.Release()

	if pid, _ := p.Read(); pid != os.Getpid() {
		t.Errorf("Expected current PID %d, got %d", os.Getpid(), pid)
	}
}

func TestPIDFile_Invalid(t *testing.T) {
	dir := t.TempDir()
	p := NewPIDFile(dir)
	if err := os.WriteFile(p.Path(), []byte("not-a-pid"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Read(); err == nil || errors.Is(err, ErrNotRunning) {
		t.Errorf("expected invalid PID error, got %v", err)
	}
	// An unreadable file does not block a new watcher
	if err := p.Claim(); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	p.Release()
}

func TestPIDFile_ReleaseForeign(t *testing.T) {
	dir := t.TempDir()
	p := NewPIDFile(dir)
	if err := os.WriteFile(p.Path(), []byte("1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := p.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(p.Path()); err != nil {
		t.Error("Release must not remove a file owned by another process")
	}
}

package watch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PIDFileName is created in the state directory while a watcher runs
const PIDFileName = "watch.pid"

// ErrNotRunning is returned when no live watcher owns the PID file
var ErrNotRunning = errors.New("no watcher is running")

// PIDFile records the process running the watcher so a second one can be
// refused and a running one can be stopped from another terminal
type PIDFile struct {
	path string
}

// NewPIDFile returns the PID file kept in stateDir
func NewPIDFile(stateDir string) *PIDFile {
	return &PIDFile{path: filepath.Join(stateDir, PIDFileName)}
}

// Path returns the file location
func (p *PIDFile) Path() string {
	return p.path
}

// Claim writes the current process ID. A file left by a process that no
// longer exists is replaced.
func (p *PIDFile) Claim() error {
	if pid, err := p.Read(); err == nil {
		if pid != os.Getpid() && isProcessRunning(pid) {
			return fmt.Errorf("watcher already running with PID %d (%s)", pid, p.path)
		}
		if pid == os.Getpid() {
			return fmt.Errorf("watcher already running in this process (%s)", p.path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}
	if err := os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// Read returns the recorded process ID
func (p *PIDFile) Read() (int, error) {
	content, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotRunning
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(content)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID file %s", p.path)
	}
	return pid, nil
}

// Release removes the file if it still belongs to this process
func (p *PIDFile) Release() error {
	if pid, err := p.Read(); err != nil || pid != os.Getpid() {
		return nil
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// Running returns the PID of a live watcher
func (p *PIDFile) Running() (int, error) {
	pid, err := p.Read()
	if err != nil {
		return 0, err
	}
	if !isProcessRunning(pid) {
		return 0, ErrNotRunning
	}
	return pid, nil
}

// StopRunning asks a live watcher to shut down
func (p *PIDFile) StopRunning() (int, error) {
	pid, err := p.Running()
	if err != nil {
		return 0, err
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to signal the current process")
	}
	return pid, terminate(pid)
}

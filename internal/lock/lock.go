package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	// LockFileExt is appended to the publication name
	LockFileExt = ".lock"
	// InfoFileExt holds the JSON description of the current holder
	InfoFileExt = ".info"
	// DefaultRetryDelay is the polling interval of AcquireContext
	DefaultRetryDelay = 200 * time.Millisecond
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// LockInfo contains metadata about the lock holder
type LockInfo struct {
	PID         int       `json:"pid"`
	Hostname    string    `json:"hostname"`
	StartTime   time.Time `json:"start_time"`
	Publication string    `json:"publication"`
	Operation   string    `json:"operation,omitempty"`
}

// FileLock serializes synchronization of one publication across processes.
// The OS releases the lock when the holder exits, so a crashed holder never
// leaves a stale lock behind.
type FileLock struct {
	publication string
	lockPath    string
	infoPath    string

	mu   sync.Mutex
	fl   *flock.Flock
	info *LockInfo
}

// NewFileLock creates a lock for publication under lockDir.
// An empty lockDir selects the user config directory.
func NewFileLock(lockDir, publication string) (*FileLock, error) {
	if publication == "" {
		return nil, errors.New("publication name is required")
	}
	if lockDir == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get config dir: %w", err)
		}
		lockDir = filepath.Join(configDir, "pubsync", "locks")
	}

	if err := os.MkdirAll(lockDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	base := filepath.Join(lockDir, unsafeChars.ReplaceAllString(publication, "_"))
	lockPath := base + LockFileExt
	return &FileLock{
		publication: publication,
		lockPath:    lockPath,
		infoPath:    base + InfoFileExt,
		fl:          flock.New(lockPath),
	}, nil
}

// Path returns the lock file path
func (l *FileLock) Path() string {
	return l.lockPath
}

// Acquire takes the lock without waiting.
// Returns *LockError if another process or instance holds it.
func (l *FileLock) Acquire(operation string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ok, err := l.fl.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", l.lockPath, err)
	}
	if !ok {
		return l.heldError()
	}
	return l.recordHolder(operation)
}

// AcquireContext waits for the lock until ctx is done
func (l *FileLock) AcquireContext(ctx context.Context, operation string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ok, err := l.fl.TryLockContext(ctx, DefaultRetryDelay)
	if err != nil {
		if ctx.Err() != nil {
			return l.heldError()
		}
		return fmt.Errorf("failed to lock %s: %w", l.lockPath, err)
	}
	if !ok {
		return l.heldError()
	}
	return l.recordHolder(operation)
}

// recordHolder writes the info file; l.mu must be held
func (l *FileLock) recordHolder(operation string) error {
	hostname, _ := os.Hostname()
	info := &LockInfo{
		PID:         os.Getpid(),
		Hostname:    hostname,
		StartTime:   time.Now(),
		Publication: l.publication,
		Operation:   operation,
	}
	if l.info != nil {
		info.StartTime = l.info.StartTime
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(l.infoPath, data, 0644); err != nil {
		_ = l.fl.Unlock()
		l.info = nil
		return fmt.Errorf("failed to write lock info: %w", err)
	}
	l.info = info
	return nil
}

// Release releases the lock. Releasing an unheld lock is a no-op.
func (l *FileLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.info == nil {
		return nil
	}
	l.info = nil

	if err := os.Remove(l.infoPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock info: %w", err)
	}
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock %s: %w", l.lockPath, err)
	}
	return nil
}

// Held reports whether this instance holds the lock
func (l *FileLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.info != nil
}

// IsLocked reports whether anyone holds the lock
func (l *FileLock) IsLocked() bool {
	if l.Held() {
		return true
	}
	other := flock.New(l.lockPath)
	ok, err := other.TryLock()
	if err != nil {
		return false
	}
	if ok {
		_ = other.Unlock()
		return false
	}
	return true
}

// GetHolder returns information about the current lock holder
func (l *FileLock) GetHolder() (*LockInfo, error) {
	if !l.IsLocked() {
		return nil, errors.New("lock is not held")
	}
	return l.readInfo()
}

func (l *FileLock) readInfo() (*LockInfo, error) {
	data, err := os.ReadFile(l.infoPath)
	if err != nil {
		return nil, err
	}

	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("invalid lock info format: %w", err)
	}
	return &info, nil
}

func (l *FileLock) heldError() error {
	holder, _ := l.readInfo()
	return &LockError{
		Publication: l.publication,
		Holder:      holder,
		Reason:      "publication is being synchronized by another process",
	}
}

// LockError represents an error when lock cannot be acquired
type LockError struct {
	Publication string
	Holder      *LockInfo
	Reason      string
}

func (e *LockError) Error() string {
	if e.Holder != nil {
		return fmt.Sprintf("cannot lock %s: %s (held by PID %d on %s since %s, %s)",
			e.Publication,
			e.Reason,
			e.Holder.PID,
			e.Holder.Hostname,
			e.Holder.StartTime.Format(time.RFC3339),
			e.Holder.Operation,
		)
	}
	return fmt.Sprintf("cannot lock %s: %s", e.Publication, e.Reason)
}

// IsLockError checks if an error is a LockError
func IsLockError(err error) bool {
	var le *LockError
	return errors.As(err, &le)
}

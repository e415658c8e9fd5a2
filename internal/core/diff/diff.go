package diff

import (
	"time"

	"github.com/Ning0612/pubsync/internal/domain"
)

// DiffResult represents the comparison result between two files
type DiffResult int

const (
	// FilesIdentical indicates files are the same
	FilesIdentical DiffResult = iota
	// FileModified indicates file exists in both but differs
	FileModified
	// FileOnlyInSource indicates file only exists in source
	FileOnlyInSource
	// FileOnlyInTarget indicates file only exists in target
	FileOnlyInTarget
)

// String returns the string representation of the result
func (r DiffResult) String() string {
	switch r {
	case FilesIdentical:
		return "identical"
	case FileModified:
		return "modified"
	case FileOnlyInSource:
		return "only-in-source"
	case FileOnlyInTarget:
		return "only-in-target"
	default:
		return "unknown"
	}
}

// Comparer decides whether a path changed since it was last synchronized
type Comparer interface {
	// Changed reports whether cur differs from the recorded fingerprint
	Changed(base domain.Fingerprint, cur *domain.FileInfo) bool

	// Compare compares the two sides of a path by metadata only
	Compare(src, tgt *domain.FileInfo) DiffResult
}

// DefaultComparer uses version tags first, then checksum, then size + mtime
type DefaultComparer struct {
	// ModTimeTolerance absorbs backends that round timestamps
	ModTimeTolerance time.Duration
}

// NewDefaultComparer creates a new DefaultComparer
func NewDefaultComparer() *DefaultComparer {
	return &DefaultComparer{}
}

// Changed implements the Comparer interface.
// A nil cur is not a modification; absence is handled by the caller.
func (c *DefaultComparer) Changed(base domain.Fingerprint, cur *domain.FileInfo) bool {
	if cur == nil {
		return false
	}

	// Type flip counts as a change
	if base.Type != cur.Type {
		return true
	}

	// Directories are added or removed, never modified
	if cur.IsDir() {
		return false
	}

	if base.ETag != "" && cur.ETag != "" {
		return base.ETag != cur.ETag
	}

	if base.Size != cur.Size {
		return true
	}

	if base.Checksum != "" && cur.Checksum != "" {
		return base.Checksum != cur.Checksum
	}

	return !c.sameTime(base.ModTime, cur.ModTime)
}

// Compare implements the Comparer interface
func (c *DefaultComparer) Compare(src, tgt *domain.FileInfo) DiffResult {
	if src == nil && tgt == nil {
		return FilesIdentical
	}
	if tgt == nil {
		return FileOnlyInSource
	}
	if src == nil {
		return FileOnlyInTarget
	}

	if src.Type != tgt.Type {
		return FileModified
	}
	if src.IsDir() {
		return FilesIdentical
	}

	if src.Size != tgt.Size {
		return FileModified
	}

	if src.Checksum != "" && tgt.Checksum != "" {
		if src.Checksum == tgt.Checksum {
			return FilesIdentical
		}
		return FileModified
	}

	// Size matches; without checksums only an equal mtime proves identity
	if c.sameTime(src.ModTime, tgt.ModTime) {
		return FilesIdentical
	}
	return FileModified
}

func (c *DefaultComparer) sameTime(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= c.ModTimeTolerance
}

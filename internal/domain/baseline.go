package domain

import (
	"strings"
	"time"
)

// Fingerprint is the modification identity of one side of one path
// at the moment it was last synchronized
type Fingerprint struct {
	Type     FileType
	Size     int64
	ModTime  time.Time
	Checksum string
	ETag     string
}

// BaselineEntry records both sides of a path after a successful sync
type BaselineEntry struct {
	Path   string
	Type   FileType
	Local  Fingerprint
	Remote Fingerprint
}

// Baseline is the last-known-synchronized state keyed by relative path
type Baseline map[string]BaselineEntry

// Get returns the entry for path, if recorded
func (b Baseline) Get(path string) (BaselineEntry, bool) {
	if b == nil {
		return BaselineEntry{}, false
	}
	e, ok := b[path]
	return e, ok
}

// Apply merges an update into the baseline in place
func (b Baseline) Apply(u BaselineUpdate) {
	for _, e := range u.Set {
		b[e.Path] = e
	}
	for _, p := range u.Removed {
		delete(b, p)
		prefix := p + "/"
		for k := range b {
			if strings.HasPrefix(k, prefix) {
				delete(b, k)
			}
		}
	}
}

// BaselineUpdate is the change set written back after a batch
type BaselineUpdate struct {
	// Set entries are inserted or replaced
	Set []BaselineEntry

	// Removed paths are dropped, along with anything nested beneath them
	Removed []string
}

// IsEmpty reports whether the update carries no changes
func (u BaselineUpdate) IsEmpty() bool {
	return len(u.Set) == 0 && len(u.Removed) == 0
}

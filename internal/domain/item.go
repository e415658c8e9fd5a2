package domain

import "sync"

// TransferState is the per-item transfer lifecycle
type TransferState int

const (
	TransferPending TransferState = iota
	TransferRunning
	TransferDownloaded // fetched for preview, not yet applied
	TransferCompleted
	TransferFailed
)

// String returns the string representation of the state
func (s TransferState) String() string {
	switch s {
	case TransferPending:
		return "pending"
	case TransferRunning:
		return "running"
	case TransferDownloaded:
		return "downloaded"
	case TransferCompleted:
		return "completed"
	case TransferFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Item is one entry of a session working set.
// The implementations are exactly *ChangeItem, *LoadingItem and *LogItem.
type Item interface {
	Base() *ItemBase
	isItem()
}

// ItemBase holds the fields common to every item
type ItemBase struct {
	RelativePath  string
	Checked       bool
	TransferState TransferState
	StatusMessage string
}

// Base returns the shared fields
func (b *ItemBase) Base() *ItemBase { return b }

// Resolution picks the winning side of a conflict
type Resolution int

const (
	LocalWins Resolution = iota
	RemoteWins
)

// String returns the string representation of the resolution
func (r Resolution) String() string {
	if r == RemoteWins {
		return "remote-wins"
	}
	return "local-wins"
}

// ChangeItem is a classified path that may be reconciled
type ChangeItem struct {
	ItemBase

	SyncType SyncType

	// HadConflictType keeps the original conflict once resolved (SyncUnknown = none)
	HadConflictType SyncType

	// Local and Remote as observed during classification, nil when absent
	Local  *FileInfo
	Remote *FileInfo
}

// NewChangeItem returns a checked, pending item
func NewChangeItem(path string, t SyncType) *ChangeItem {
	return &ChangeItem{
		ItemBase: ItemBase{RelativePath: path, Checked: true},
		SyncType: t,
	}
}

func (*ChangeItem) isItem() {}

// HasConflict reports whether the current type is a conflict
func (c *ChangeItem) HasConflict() bool {
	return c.SyncType.IsConflict()
}

// HadConflict reports whether a conflict was resolved on this item
func (c *ChangeItem) HadConflict() bool {
	return c.HadConflictType != SyncUnknown
}

// ResolveConflict transforms the current conflict into a modification on the winning side
func (c *ChangeItem) ResolveConflict(r Resolution) error {
	if !c.HasConflict() {
		return ErrNoConflict
	}
	c.HadConflictType = c.SyncType
	if r == RemoteWins {
		c.SyncType = RemoteFileModified
	} else {
		c.SyncType = LocalFileModified
	}
	return nil
}

// IsDeletion reports whether reconciling the item removes the destination copy.
// A removal conflict resolved toward the deleting side counts.
func (c *ChangeItem) IsDeletion() bool {
	switch {
	case c.SyncType.IsRemoved():
		return true
	case c.SyncType.IsDownload():
		return c.HadConflictType == ConflictRemovedRemotelyModifiedLocally
	case c.SyncType.IsUpload():
		return c.HadConflictType == ConflictRemovedLocallyModifiedRemotely
	}
	return false
}

// ForceUpload makes the local copy win unconditionally
func (c *ChangeItem) ForceUpload() error {
	if c.SyncType.IsUpload() {
		return ErrAlreadyUpload
	}
	if c.SyncType == RemoteFileAdded || c.SyncType == RemoteDirAdded {
		return ErrNothingToUpload
	}
	if c.HasConflict() {
		if err := c.ResolveConflict(LocalWins); err != nil {
			return err
		}
	}
	c.SyncType = ConflictResolvedUpload
	return nil
}

// ForceDownload makes the remote copy win unconditionally
func (c *ChangeItem) ForceDownload() error {
	if c.SyncType.IsDownload() {
		return ErrAlreadyDownload
	}
	if c.SyncType == LocalFileAdded || c.SyncType == LocalDirAdded {
		return ErrNothingToDownload
	}
	if c.HasConflict() {
		if err := c.ResolveConflict(RemoteWins); err != nil {
			return err
		}
	}
	c.SyncType = ConflictResolvedDownload
	return nil
}

// MarkTransferStarting sets the item running
func (c *ChangeItem) MarkTransferStarting() {
	c.TransferState = TransferRunning
	c.StatusMessage = ""
}

// MarkTransferCompleted sets the final state; zero means TransferCompleted
func (c *ChangeItem) MarkTransferCompleted(state ...TransferState) {
	c.TransferState = TransferCompleted
	if len(state) > 0 && state[0] != TransferPending {
		c.TransferState = state[0]
	}
}

// MarkTransferFailed records a failure message
func (c *ChangeItem) MarkTransferFailed(msg string) {
	c.TransferState = TransferFailed
	c.StatusMessage = msg
}

// Stopper is a cancellable in-flight operation
type Stopper interface {
	Stop()
}

// LoadingItem stands in for a running classification scan
type LoadingItem struct {
	ItemBase

	mu      sync.Mutex
	handle  Stopper
	aborted bool
}

// NewLoadingItem returns a placeholder bound to a scan handle
func NewLoadingItem(label string, handle Stopper) *LoadingItem {
	l := &LoadingItem{handle: handle}
	l.StatusMessage = label
	return l
}

func (*LoadingItem) isItem() {}

// Abort stops the scan once; later calls are no-ops
func (l *LoadingItem) Abort() {
	l.mu.Lock()
	if l.aborted {
		l.mu.Unlock()
		return
	}
	l.aborted = true
	h := l.handle
	l.mu.Unlock()
	if h != nil {
		h.Stop()
	}
}

// Aborted reports whether Abort was called
func (l *LoadingItem) Aborted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.aborted
}

// SetHandle binds the scan handle once the scan has started
func (l *LoadingItem) SetHandle(h Stopper) {
	l.mu.Lock()
	l.handle = h
	stop := l.aborted
	l.mu.Unlock()
	if stop && h != nil {
		h.Stop()
	}
}

// LogLevel is the severity of a LogItem
type LogLevel int

const (
	LogInfo LogLevel = iota
	LogWarn
	LogError
)

// String returns the string representation of the level
func (l LogLevel) String() string {
	switch l {
	case LogWarn:
		return "warn"
	case LogError:
		return "error"
	default:
		return "info"
	}
}

// LogItem annotates the working set; it is never checked or transferred
type LogItem struct {
	ItemBase
	Level LogLevel
}

// NewLogItem returns an annotation with the given message
func NewLogItem(level LogLevel, msg string) *LogItem {
	l := &LogItem{Level: level}
	l.StatusMessage = msg
	return l
}

func (*LogItem) isItem() {}

// Message returns the annotation text
func (l *LogItem) Message() string { return l.StatusMessage }

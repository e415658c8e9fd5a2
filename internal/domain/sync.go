package domain

import "fmt"

// SyncType classifies what a reconciliation needs to do with one path.
// The zero value means no type.
type SyncType int

const (
	SyncUnknown SyncType = iota

	// Remote-origin family
	RemoteDirAdded
	RemoteDirRemoved
	RemoteFileAdded
	RemoteFileModified
	RemoteFileRemoved
	ConflictResolvedDownload

	// Local-origin family
	LocalDirAdded
	LocalDirRemoved
	LocalFileAdded
	LocalFileModified
	LocalFileRemoved
	ConflictResolvedUpload

	// Conflict family
	ConflictBothModified
	ConflictRemovedRemotelyModifiedLocally
	ConflictRemovedLocallyModifiedRemotely
)

// Family groups sync types by the side that drives the action
type Family int

const (
	FamilyNone Family = iota
	FamilyRemote
	FamilyLocal
	FamilyConflict
)

// String returns the string representation of the family
func (f Family) String() string {
	switch f {
	case FamilyRemote:
		return "remote"
	case FamilyLocal:
		return "local"
	case FamilyConflict:
		return "conflict"
	default:
		return "none"
	}
}

var syncTypeNames = map[SyncType]string{
	SyncUnknown:                            "",
	RemoteDirAdded:                         "REMOTE_DIR_ADDED",
	RemoteDirRemoved:                       "REMOTE_DIR_REMOVED",
	RemoteFileAdded:                        "REMOTE_FILE_ADDED",
	RemoteFileModified:                     "REMOTE_FILE_MODIFIED",
	RemoteFileRemoved:                      "REMOTE_FILE_REMOVED",
	ConflictResolvedDownload:               "CONFLICT_RESOLVED_DOWNLOAD",
	LocalDirAdded:                          "LOCAL_DIR_ADDED",
	LocalDirRemoved:                        "LOCAL_DIR_REMOVED",
	LocalFileAdded:                         "LOCAL_FILE_ADDED",
	LocalFileModified:                      "LOCAL_FILE_MODIFIED",
	LocalFileRemoved:                       "LOCAL_FILE_REMOVED",
	ConflictResolvedUpload:                 "CONFLICT_RESOLVED_UPLOAD",
	ConflictBothModified:                   "CONFLICT_BOTH_MODIFIED",
	ConflictRemovedRemotelyModifiedLocally: "CONFLICT_REMOVED_REMOTELY_MODIFIED_LOCALLY",
	ConflictRemovedLocallyModifiedRemotely: "CONFLICT_REMOVED_LOCALLY_MODIFIED_REMOTELY",
}

// String returns the canonical upper-case name
func (t SyncType) String() string {
	if s, ok := syncTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("SyncType(%d)", int(t))
}

// ParseSyncType parses a canonical name back into a SyncType
func ParseSyncType(s string) (SyncType, error) {
	for t, name := range syncTypeNames {
		if name == s && t != SyncUnknown {
			return t, nil
		}
	}
	return SyncUnknown, fmt.Errorf("unknown sync type: %q", s)
}

// Family returns which of the three families the type belongs to
func (t SyncType) Family() Family {
	switch t {
	case RemoteDirAdded, RemoteDirRemoved, RemoteFileAdded, RemoteFileModified,
		RemoteFileRemoved, ConflictResolvedDownload:
		return FamilyRemote
	case LocalDirAdded, LocalDirRemoved, LocalFileAdded, LocalFileModified,
		LocalFileRemoved, ConflictResolvedUpload:
		return FamilyLocal
	case ConflictBothModified, ConflictRemovedRemotelyModifiedLocally,
		ConflictRemovedLocallyModifiedRemotely:
		return FamilyConflict
	default:
		return FamilyNone
	}
}

// IsDownload reports whether the type moves content from remote to local
func (t SyncType) IsDownload() bool { return t.Family() == FamilyRemote }

// IsUpload reports whether the type moves content from local to remote
func (t SyncType) IsUpload() bool { return t.Family() == FamilyLocal }

// IsConflict reports whether the type is one of the conflict values
func (t SyncType) IsConflict() bool { return t.Family() == FamilyConflict }

// IsRemoved reports whether acting on the type means deleting the path
func (t SyncType) IsRemoved() bool {
	switch t {
	case RemoteDirRemoved, RemoteFileRemoved, LocalDirRemoved, LocalFileRemoved:
		return true
	}
	return false
}

// IsAdded reports whether the type creates a path on the receiving side
func (t SyncType) IsAdded() bool {
	switch t {
	case RemoteDirAdded, RemoteFileAdded, LocalDirAdded, LocalFileAdded:
		return true
	}
	return false
}

// IsDir reports whether the type concerns a directory
func (t SyncType) IsDir() bool {
	switch t {
	case RemoteDirAdded, RemoteDirRemoved, LocalDirAdded, LocalDirRemoved:
		return true
	}
	return false
}

// Description returns human readable status text
func (t SyncType) Description() string {
	switch t {
	case RemoteDirAdded:
		return "Remote directory added"
	case RemoteDirRemoved:
		return "Remote directory removed"
	case RemoteFileAdded:
		return "Remote file added"
	case RemoteFileModified:
		return "Remote file modified"
	case RemoteFileRemoved:
		return "Remote file removed"
	case ConflictResolvedDownload:
		return "Forced download"
	case LocalDirAdded:
		return "Local directory added"
	case LocalDirRemoved:
		return "Local directory removed"
	case LocalFileAdded:
		return "Local file added"
	case LocalFileModified:
		return "Local file modified"
	case LocalFileRemoved:
		return "Local file removed"
	case ConflictResolvedUpload:
		return "Forced upload"
	case ConflictBothModified:
		return "Conflict: both modified"
	case ConflictRemovedRemotelyModifiedLocally:
		return "Conflict: removed remotely, modified locally"
	case ConflictRemovedLocallyModifiedRemotely:
		return "Conflict: removed locally, modified remotely"
	default:
		return "No change"
	}
}

// ConflictStrategy defines how conflicts are resolved after classification
type ConflictStrategy string

const (
	// ConflictKeepLocal always keeps the local version
	ConflictKeepLocal ConflictStrategy = "keep_local"

	// ConflictKeepRemote always keeps the remote version
	ConflictKeepRemote ConflictStrategy = "keep_remote"

	// ConflictKeepNewest keeps the version with newer mtime
	ConflictKeepNewest ConflictStrategy = "keep_newest"

	// ConflictManual requires user intervention
	ConflictManual ConflictStrategy = "manual"
)

// IsValid checks if the conflict strategy is a known value
func (s ConflictStrategy) IsValid() bool {
	switch s {
	case ConflictKeepLocal, ConflictKeepRemote, ConflictKeepNewest, ConflictManual:
		return true
	}
	return false
}

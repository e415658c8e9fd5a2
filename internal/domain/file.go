package domain

import "time"

// FileType represents the type of a filesystem entry
type FileType int

const (
	FileTypeRegular FileType = iota
	FileTypeDirectory
	FileTypeSymlink
)

// String returns the string representation of the file type
func (t FileType) String() string {
	switch t {
	case FileTypeRegular:
		return "file"
	case FileTypeDirectory:
		return "dir"
	case FileTypeSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// FileInfo represents metadata about a file or directory
type FileInfo struct {
	// Path is the relative path from the tree root, slash separated
	Path string

	// Type indicates if this is a file, directory, or symlink
	Type FileType

	// Size in bytes (0 for directories)
	Size int64

	// ModTime is the last modification time
	ModTime time.Time

	// Checksum is the hex MD5 of the content (empty when the backend does not provide one)
	Checksum string

	// ETag is the remote version identifier (for cloud adapters)
	ETag string
}

// IsDir returns true if this is a directory
func (f FileInfo) IsDir() bool {
	return f.Type == FileTypeDirectory
}

// Fingerprint returns the identity of this entry as recorded in a baseline
func (f FileInfo) Fingerprint() Fingerprint {
	return Fingerprint{
		Type:     f.Type,
		Size:     f.Size,
		ModTime:  f.ModTime,
		Checksum: f.Checksum,
		ETag:     f.ETag,
	}
}

// Package adapter defines the storage backend contract shared by the local
// tree and every remote transport.
package adapter

import (
	"context"
	"io"

	"github.com/Ning0612/pubsync/internal/domain"
)

// Adapter is one side of a publication, rooted at a directory. Paths are
// slash-separated and relative to that root; "" is the root itself. Errors
// are mapped onto the domain sentinels (ErrNotFound, ErrNotFile,
// ErrNotDirectory, ErrPermissionDenied) so callers never inspect
// backend-specific types.
type Adapter interface {
	// List returns the direct children of a directory
	List(ctx context.Context, path string) ([]domain.FileInfo, error)

	// Read opens a file; the caller closes it
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write replaces a file with the content of r, creating parents. Readers
	// never observe a partially written file.
	Write(ctx context.Context, path string, r io.Reader) error

	// Delete removes a file or an empty directory
	Delete(ctx context.Context, path string) error

	// DeleteAll removes a path and everything beneath it
	DeleteAll(ctx context.Context, path string) error

	Stat(ctx context.Context, path string) (domain.FileInfo, error)

	// Mkdir creates a directory with its parents; existing ones are fine
	Mkdir(ctx context.Context, path string) error

	Close() error
}

// Factory opens adapters for configured transports
type Factory interface {
	// Create returns an adapter for transport rooted at root
	Create(ctx context.Context, transport domain.Transport, root string) (Adapter, error)

	// Supports reports whether Create handles the transport type
	Supports(transportType domain.TransportType) bool
}

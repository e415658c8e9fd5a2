package local

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/Ning0612/pubsync/internal/domain"
)

// Adapter implements the adapter.Adapter interface over an afero filesystem
type Adapter struct {
	fs   afero.Fs
	root string
}

// New creates a local adapter rooted at an existing directory on disk
func New(root string) (*Adapter, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return NewWithFs(afero.NewOsFs(), absRoot)
}

// NewWithFs creates an adapter on any afero filesystem (in-memory for tests)
func NewWithFs(fsys afero.Fs, root string) (*Adapter, error) {
	root = filepath.Clean(root)

	info, err := fsys.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, domain.ErrNotDirectory
	}

	return &Adapter{fs: fsys, root: root}, nil
}

// resolvePath safely resolves a relative path to a path within root
// Returns error if path attempts to escape root directory
func (a *Adapter) resolvePath(relPath string) (string, error) {
	if relPath == "" || relPath == "." {
		return a.root, nil
	}

	relPath = filepath.Clean(filepath.FromSlash(relPath))

	if filepath.IsAbs(relPath) {
		return "", domain.ErrPermissionDenied
	}

	fullPath := filepath.Join(a.root, relPath)

	rel, err := filepath.Rel(a.root, fullPath)
	if err != nil {
		return "", domain.ErrPermissionDenied
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", domain.ErrPermissionDenied
	}

	return fullPath, nil
}

// List returns all files and directories directly under the given path
func (a *Adapter) List(ctx context.Context, path string) ([]domain.FileInfo, error) {
	fullPath, err := a.resolvePath(path)
	if err != nil {
		return nil, err
	}

	info, err := a.fs.Stat(fullPath)
	if err != nil {
		return nil, a.mapError(err)
	}
	if !info.IsDir() {
		return nil, domain.ErrNotDirectory
	}

	entries, err := afero.ReadDir(a.fs, fullPath)
	if err != nil {
		return nil, a.mapError(err)
	}

	result := make([]domain.FileInfo, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if isTempName(entry.Name()) {
			continue
		}
		entryPath := filepath.ToSlash(filepath.Join(filepath.FromSlash(path), entry.Name()))
		result = append(result, a.fileInfoFromOS(entryPath, entry))
	}

	return result, nil
}

// Read opens a file for reading
func (a *Adapter) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	fullPath, err := a.resolvePath(path)
	if err != nil {
		return nil, err
	}

	info, err := a.fs.Stat(fullPath)
	if err != nil {
		return nil, a.mapError(err)
	}
	if info.IsDir() {
		return nil, domain.ErrNotFile
	}

	file, err := a.fs.Open(fullPath)
	if err != nil {
		return nil, a.mapError(err)
	}

	return file, nil
}

// Write creates or overwrites a file via a temporary sibling and rename.
// A cancelled context removes the temporary file and leaves the target untouched.
func (a *Adapter) Write(ctx context.Context, path string, r io.Reader) error {
	fullPath, err := a.resolvePath(path)
	if err != nil {
		return err
	}

	if err := a.fs.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return a.mapError(err)
	}

	tempPath := tempName(fullPath)
	file, err := a.fs.Create(tempPath)
	if err != nil {
		return a.mapError(err)
	}

	_, copyErr := io.Copy(file, ctxReader{ctx: ctx, r: r})
	closeErr := file.Close()

	if copyErr != nil {
		_ = a.fs.Remove(tempPath)
		return copyErr
	}
	if closeErr != nil {
		_ = a.fs.Remove(tempPath)
		return closeErr
	}

	if err := a.fs.Rename(tempPath, fullPath); err != nil {
		_ = a.fs.Remove(tempPath)
		return a.mapError(err)
	}

	return nil
}

// Delete removes a file or empty directory
func (a *Adapter) Delete(ctx context.Context, path string) error {
	fullPath, err := a.resolvePath(path)
	if err != nil {
		return err
	}
	if fullPath == a.root {
		return domain.ErrPermissionDenied
	}

	return a.mapError(a.fs.Remove(fullPath))
}

// DeleteAll removes a file or a whole directory tree
func (a *Adapter) DeleteAll(ctx context.Context, path string) error {
	fullPath, err := a.resolvePath(path)
	if err != nil {
		return err
	}
	if fullPath == a.root {
		return domain.ErrPermissionDenied
	}

	if _, err := a.fs.Stat(fullPath); err != nil {
		return a.mapError(err)
	}
	return a.mapError(a.fs.RemoveAll(fullPath))
}

// Stat returns metadata for a single path
func (a *Adapter) Stat(ctx context.Context, path string) (domain.FileInfo, error) {
	fullPath, err := a.resolvePath(path)
	if err != nil {
		return domain.FileInfo{}, err
	}

	info, err := a.fs.Stat(fullPath)
	if err != nil {
		return domain.FileInfo{}, a.mapError(err)
	}

	return a.fileInfoFromOS(filepath.ToSlash(path), info), nil
}

// Mkdir creates a directory and any necessary parents
func (a *Adapter) Mkdir(ctx context.Context, path string) error {
	fullPath, err := a.resolvePath(path)
	if err != nil {
		return err
	}

	return a.mapError(a.fs.MkdirAll(fullPath, 0755))
}

// Close releases any resources (no-op for local adapter)
func (a *Adapter) Close() error {
	return nil
}

// fileInfoFromOS converts os.FileInfo to domain.FileInfo
func (a *Adapter) fileInfoFromOS(path string, info os.FileInfo) domain.FileInfo {
	fileType := domain.FileTypeRegular
	size := info.Size()
	if info.IsDir() {
		fileType = domain.FileTypeDirectory
		size = 0
	} else if info.Mode()&os.ModeSymlink != 0 {
		fileType = domain.FileTypeSymlink
	}

	return domain.FileInfo{
		Path:    path,
		Type:    fileType,
		Size:    size,
		ModTime: info.ModTime(),
	}
}

// mapError converts OS errors to domain errors
func (a *Adapter) mapError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, fs.ErrNotExist):
		return domain.ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		return domain.ErrPermissionDenied
	case errors.Is(err, fs.ErrExist):
		return domain.ErrAlreadyExists
	}

	// Directory not empty (platform specific)
	var pathErr *os.PathError
	if errors.As(err, &pathErr) && strings.Contains(pathErr.Err.Error(), "not empty") {
		return domain.ErrDirectoryNotEmpty
	}

	return err
}

const tempSuffix = ".pubsync.tmp"

func tempName(fullPath string) string {
	return fullPath + "." + uuid.NewString()[:8] + tempSuffix
}

func isTempName(name string) bool {
	return strings.HasSuffix(name, tempSuffix)
}

// ctxReader aborts a copy once the context is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

package gdrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Ning0612/pubsync/internal/domain"
)

const (
	// MimeTypeFolder is the MIME type of Drive folders
	MimeTypeFolder = "application/vnd.google-apps.folder"
	// PageSize is the number of children fetched per List request
	PageSize = 200
	// UploadChunkSize splits uploads into resumable chunks
	UploadChunkSize = 8 << 20

	fileFields = "id, name, mimeType, size, modifiedTime, md5Checksum, version"
)

// Adapter stores a publication under a folder of the user's Drive
type Adapter struct {
	service *drive.Service
	root    string // slash-rooted folder path, "" for My Drive itself
	ids     *idCache
}

// idCache maps slash-rooted Drive paths to file IDs
type idCache struct {
	mu  sync.RWMutex
	ids map[string]string
}

func newIDCache() *idCache {
	return &idCache{ids: map[string]string{"": "root"}}
}

func (c *idCache) get(p string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.ids[p]
	return id, ok
}

func (c *idCache) set(p, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids[p] = id
}

// deleteTree drops p and every cached descendant
func (c *idCache) deleteTree(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := p + "/"
	for k := range c.ids {
		if k == p || strings.HasPrefix(k, prefix) {
			delete(c.ids, k)
		}
	}
}

// NewFromTransport opens an adapter for a gdrive transport. The transport
// needs client_id and client_secret; token_path is optional.
func NewFromTransport(ctx context.Context, t domain.Transport, root string) (*Adapter, error) {
	clientID := t.Config["client_id"]
	clientSecret := t.Config["client_secret"]
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("%w: gdrive transport %s requires client_id and client_secret",
			domain.ErrConfigInvalid, t.Name)
	}
	return New(ctx, clientID, clientSecret, t.Config["token_path"], root)
}

// New opens an adapter with the token stored by Authenticate
func New(ctx context.Context, clientID, clientSecret, tokenPath, root string) (*Adapter, error) {
	src, err := NewAuthenticator(clientID, clientSecret, tokenPath).TokenSource(ctx)
	if err != nil {
		return nil, err
	}
	return NewWithTokenSource(ctx, src, root)
}

// NewWithTokenSource opens an adapter authorized by src. The root folder is
// created when missing.
func NewWithTokenSource(ctx context.Context, src oauth2.TokenSource, root string) (*Adapter, error) {
	service, err := drive.NewService(ctx, option.WithTokenSource(src))
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive service: %w", err)
	}

	a := &Adapter{service: service, root: normalizeRoot(root), ids: newIDCache()}
	if _, err := a.resolve(ctx, a.root, true); err != nil {
		return nil, fmt.Errorf("failed to resolve root folder %q: %w", a.root, err)
	}
	return a, nil
}

// normalizeRoot returns "" or a path with a leading and no trailing slash
func normalizeRoot(root string) string {
	root = strings.Trim(strings.TrimSpace(root), "/")
	if root == "" {
		return ""
	}
	return "/" + root
}

// joinPath maps a relative path into the root, refusing escapes
func (a *Adapter) joinPath(rel string) (string, error) {
	if rel == "" || rel == "." {
		return a.root, nil
	}
	clean := path.Clean(rel)
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", domain.ErrPermissionDenied
	}
	return a.root + "/" + clean, nil
}

// escapeQueryString quotes a value for a Drive query literal
func escapeQueryString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

// resolve walks full from My Drive one segment at a time and returns its ID.
// With create set, missing segments are created as folders; otherwise a
// missing segment is ErrNotFound.
func (a *Adapter) resolve(ctx context.Context, full string, create bool) (string, error) {
	full = strings.TrimSuffix(full, "/")
	if id, ok := a.ids.get(full); ok {
		return id, nil
	}

	parentID, _ := a.ids.get("")
	walked := ""
	for _, name := range strings.Split(strings.TrimPrefix(full, "/"), "/") {
		walked += "/" + name
		if id, ok := a.ids.get(walked); ok {
			parentID = id
			continue
		}

		q := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false", escapeQueryString(name), parentID)
		if create {
			q += fmt.Sprintf(" and mimeType = '%s'", MimeTypeFolder)
		}
		found, err := a.service.Files.List().Q(q).PageSize(1).Fields("files(id)").Context(ctx).Do()
		if err != nil {
			return "", mapError(err)
		}

		switch {
		case len(found.Files) > 0:
			parentID = found.Files[0].Id
		case !create:
			return "", domain.ErrNotFound
		default:
			folder := &drive.File{Name: name, MimeType: MimeTypeFolder, Parents: []string{parentID}}
			created, err := a.service.Files.Create(folder).Fields("id").Context(ctx).Do()
			if err != nil {
				return "", mapError(err)
			}
			parentID = created.Id
		}
		a.ids.set(walked, parentID)
	}
	return parentID, nil
}

func (a *Adapter) lookup(ctx context.Context, rel string) (full, id string, err error) {
	full, err = a.joinPath(rel)
	if err != nil {
		return "", "", err
	}
	id, err = a.resolve(ctx, full, false)
	return full, id, err
}

// List returns the children of a folder, learning their IDs on the way
func (a *Adapter) List(ctx context.Context, rel string) ([]domain.FileInfo, error) {
	full, folderID, err := a.lookup(ctx, rel)
	if err != nil {
		return nil, err
	}

	var result []domain.FileInfo
	call := a.service.Files.List().
		Q(fmt.Sprintf("'%s' in parents and trashed = false", folderID)).
		PageSize(PageSize).
		Fields(googleapi.Field("nextPageToken, files(" + fileFields + ")"))
	err = call.Pages(ctx, func(page *drive.FileList) error {
		for _, f := range page.Files {
			a.ids.set(full+"/"+f.Name, f.Id)
			result = append(result, fileInfoFromDrive(rel, f))
		}
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return result, nil
}

// Read downloads a file
func (a *Adapter) Read(ctx context.Context, rel string) (io.ReadCloser, error) {
	info, id, err := a.stat(ctx, rel)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, domain.ErrNotFile
	}

	resp, err := a.service.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return nil, mapError(err)
	}
	return resp.Body, nil
}

// Write uploads r in resumable chunks. Drive keeps serving the previous
// revision until the upload completes.
func (a *Adapter) Write(ctx context.Context, rel string, r io.Reader) error {
	full, id, err := a.lookup(ctx, rel)
	if full == a.root && err == nil {
		return domain.ErrNotFile
	}
	media := googleapi.ChunkSize(UploadChunkSize)

	switch {
	case err == nil:
		_, err = a.service.Files.Update(id, &drive.File{}).Media(r, media).Context(ctx).Do()
		return mapError(err)
	case !errors.Is(err, domain.ErrNotFound):
		return err
	}

	parentID, err := a.resolve(ctx, path.Dir(full), true)
	if err != nil {
		return err
	}
	file := &drive.File{Name: path.Base(full), Parents: []string{parentID}}
	created, err := a.service.Files.Create(file).Media(r, media).Fields("id").Context(ctx).Do()
	if err != nil {
		return mapError(err)
	}
	a.ids.set(full, created.Id)
	return nil
}

// Delete removes a file or an empty folder
func (a *Adapter) Delete(ctx context.Context, rel string) error {
	full, id, err := a.lookup(ctx, rel)
	if err != nil {
		return err
	}
	if full == a.root {
		return domain.ErrPermissionDenied
	}

	children, err := a.service.Files.List().
		Q(fmt.Sprintf("'%s' in parents and trashed = false", id)).
		PageSize(1).Fields("files(id)").Context(ctx).Do()
	if err != nil {
		return mapError(err)
	}
	if len(children.Files) > 0 {
		return domain.ErrDirectoryNotEmpty
	}
	return a.remove(ctx, full, id)
}

// DeleteAll removes a file or folder; Drive takes folder contents with it
func (a *Adapter) DeleteAll(ctx context.Context, rel string) error {
	full, id, err := a.lookup(ctx, rel)
	if err != nil {
		return err
	}
	if full == a.root {
		return domain.ErrPermissionDenied
	}
	return a.remove(ctx, full, id)
}

func (a *Adapter) remove(ctx context.Context, full, id string) error {
	if err := a.service.Files.Delete(id).Context(ctx).Do(); err != nil {
		return mapError(err)
	}
	a.ids.deleteTree(full)
	return nil
}

// Stat returns metadata for a single path
func (a *Adapter) Stat(ctx context.Context, rel string) (domain.FileInfo, error) {
	info, _, err := a.stat(ctx, rel)
	return info, err
}

func (a *Adapter) stat(ctx context.Context, rel string) (domain.FileInfo, string, error) {
	_, id, err := a.lookup(ctx, rel)
	if err != nil {
		return domain.FileInfo{}, "", err
	}
	file, err := a.service.Files.Get(id).Fields(googleapi.Field(fileFields)).Context(ctx).Do()
	if err != nil {
		return domain.FileInfo{}, "", mapError(err)
	}
	parent := path.Dir(rel)
	if rel == "" {
		parent = ""
	}
	info := fileInfoFromDrive(parent, file)
	if rel == "" {
		info.Path = ""
	}
	return info, id, nil
}

// Mkdir creates a folder and its parents
func (a *Adapter) Mkdir(ctx context.Context, rel string) error {
	full, err := a.joinPath(rel)
	if err != nil {
		return err
	}
	_, err = a.resolve(ctx, full, true)
	return err
}

// Close is a no-op; the Drive client holds no connections of its own
func (a *Adapter) Close() error {
	return nil
}

// fileInfoFromDrive converts a Drive file found under the relative folder parent
func fileInfoFromDrive(parent string, file *drive.File) domain.FileInfo {
	info := domain.FileInfo{
		Path:     path.Join(parent, file.Name),
		Type:     domain.FileTypeRegular,
		Size:     file.Size,
		Checksum: file.Md5Checksum,
	}
	if parent == "." {
		info.Path = file.Name
	}
	if t, err := time.Parse(time.RFC3339, file.ModifiedTime); err == nil {
		info.ModTime = t
	}
	if file.MimeType == MimeTypeFolder {
		info.Type = domain.FileTypeDirectory
		info.Size = 0
		return info
	}
	if file.Version != 0 {
		info.ETag = strconv.FormatInt(file.Version, 10)
	}
	return info
}

// isRateLimit reports whether a 403 is Drive throttling rather than a denial
func isRateLimit(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		if strings.HasSuffix(item.Reason, "ateLimitExceeded") {
			return true
		}
	}
	return false
}

// mapError converts Google API errors to domain errors
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 404:
			return domain.ErrNotFound
		case apiErr.Code == 429, apiErr.Code == 403 && isRateLimit(apiErr):
			return fmt.Errorf("%w: rate limit exceeded: %w", domain.ErrNetworkError, err)
		case apiErr.Code == 403:
			return domain.ErrPermissionDenied
		case apiErr.Code == 409:
			return domain.ErrAlreadyExists
		case apiErr.Code >= 500:
			return fmt.Errorf("%w: %w", domain.ErrNetworkError, err)
		}
	}

	// Download errors are not always *googleapi.Error
	if strings.Contains(err.Error(), "notFound") {
		return domain.ErrNotFound
	}
	return err
}

package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/Ning0612/pubsync/internal/core/diff"
	"github.com/Ning0612/pubsync/internal/domain"
	"github.com/Ning0612/pubsync/internal/session"
	"github.com/Ning0612/pubsync/internal/transfer"
)

const (
	msgRemoteDeleted = "Conflict: The remote file was deleted"
	msgRemoteChanged = "Conflict: The remote file has changed"
	msgLocalDeleted  = "Conflict: The local file was deleted"
	msgLocalChanged  = "Conflict: The local file has changed"
)

// FileConflictError is returned by PushFile and PullFile when the
// destination changed since the last synchronization
type FileConflictError struct {
	Path     string
	SyncType domain.SyncType
	Message  string
}

func (e *FileConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func (e *FileConflictError) Unwrap() error {
	return domain.ErrSyncConflict
}

// TransferError reports a single-file transfer that did not complete
type TransferError struct {
	Path   string
	Result transfer.Result
}

func (e *TransferError) Error() string {
	msg := e.Result.Message
	if msg == "" {
		msg = e.Result.Status.String()
	}
	return fmt.Sprintf("%s: %s", e.Path, msg)
}

// PushFile opens a publication, uploads one local file and releases the lock
func (s *Service) PushFile(ctx context.Context, name, rel string, force bool, progress func(string, int)) (*transfer.Result, error) {
	w, err := s.Open(ctx, name, "push")
	if err != nil {
		return nil, err
	}
	defer w.Close()
	return w.PushFile(ctx, rel, force, progress)
}

// PullFile opens a publication, downloads one remote file and releases the lock
func (s *Service) PullFile(ctx context.Context, name, rel string, force bool, progress func(string, int)) (*transfer.Result, error) {
	w, err := s.Open(ctx, name, "pull")
	if err != nil {
		return nil, err
	}
	defer w.Close()
	return w.PullFile(ctx, rel, force, progress)
}

// SavedLockWait is how long PushSaved waits for a running synchronization
// of the same publication
const SavedLockWait = 10 * time.Second

// PushSaved pushes a file that was just saved locally. Conflicts are
// reported, never forced.
func (s *Service) PushSaved(ctx context.Context, name, rel string) error {
	w, err := s.openWaiting(ctx, name, "watch", SavedLockWait, nil)
	if err != nil {
		return err
	}
	defer w.Close()
	_, err = w.PushFile(ctx, rel, false, nil)
	return err
}

// PushFile uploads one local file. Unless force is set it refuses when the
// remote copy was deleted or changed since the last synchronization.
func (w *Workspace) PushFile(ctx context.Context, rel string, force bool, progress func(string, int)) (*transfer.Result, error) {
	return w.transferFile(ctx, transfer.Upload, rel, force, progress)
}

// PullFile downloads one remote file. Unless force is set it refuses when the
// local copy was deleted or changed since the last synchronization.
func (w *Workspace) PullFile(ctx context.Context, rel string, force bool, progress func(string, int)) (*transfer.Result, error) {
	return w.transferFile(ctx, transfer.Download, rel, force, progress)
}

func (w *Workspace) transferFile(ctx context.Context, dir transfer.Direction, rel string, force bool, fn func(string, int)) (*transfer.Result, error) {
	switch w.Phase() {
	case session.PhaseFetchingChanges, session.PhaseDownloading, session.PhaseUploading:
		return nil, fmt.Errorf("%w: %s while session is %s", domain.ErrInvalidPhase, dir, w.Phase())
	}

	rel, err := cleanRel(rel)
	if err != nil {
		return nil, err
	}

	src := w.local
	if dir == transfer.Download {
		src = w.remote
	}

	info, err := src.Stat(ctx, rel)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			if dir == transfer.Upload {
				return nil, fmt.Errorf("%s: %w", rel, domain.ErrNothingToUpload)
			}
			return nil, fmt.Errorf("%s: %w", rel, domain.ErrNothingToDownload)
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s: %w", rel, domain.ErrNotFile)
	}

	if !force {
		if err := w.checkBaseline(ctx, dir, rel, &info); err != nil {
			return nil, err
		}
	}

	pair := transfer.Pair{
		Path:      rel,
		LocalURI:  w.pub.LocalURI(rel),
		RemoteURI: w.pub.RemoteURI(rel),
		Size:      info.Size,
	}
	obs := newWaitObserver(fn)
	var op *transfer.Operation
	if dir == transfer.Upload {
		op = w.transfers.Upload(ctx, []transfer.Pair{pair}, obs)
	} else {
		op = w.transfers.Download(ctx, []transfer.Pair{pair}, obs)
	}

	var res transfer.Result
	select {
	case res = <-obs.done:
	case <-ctx.Done():
		op.Stop()
		res = <-obs.done
	}

	if len(res.Entries) > 0 {
		update := domain.BaselineUpdate{Set: res.Entries}
		if err := w.svc.state.PersistBaseline(context.WithoutCancel(ctx), w.pub.Name, update); err != nil {
			w.log.Warn("Could not record transferred file", "path", rel, "error", err)
		}
	}
	if res.Status != transfer.StatusSuccess {
		return &res, &TransferError{Path: rel, Result: res}
	}

	w.log.Info("File transferred", "direction", dir.String(), "path", rel, "forced", force)
	return &res, nil
}

// checkBaseline compares both copies against the baseline. A push of an
// unchanged local file is refused, and so is any transfer whose destination
// changed. Paths never synchronized before have nothing to compare with.
func (w *Workspace) checkBaseline(ctx context.Context, dir transfer.Direction, rel string, src *domain.FileInfo) error {
	baseline, err := w.svc.state.LoadBaseline(ctx, w.pub.Name)
	if err != nil {
		return fmt.Errorf("load baseline: %w", err)
	}
	entry, ok := baseline.Get(rel)
	if !ok {
		return nil
	}

	if dir == transfer.Upload && !diff.NewDefaultComparer().Changed(entry.Local, src) {
		return fmt.Errorf("%s: no changes to push: %w", rel, domain.ErrNothingToUpload)
	}

	dst, recorded := w.remote, entry.Remote
	deleted, changed := msgRemoteDeleted, msgRemoteChanged
	deletedType := domain.ConflictRemovedRemotelyModifiedLocally
	changedType := domain.ConflictBothModified
	if dir == transfer.Download {
		dst, recorded = w.local, entry.Local
		deleted, changed = msgLocalDeleted, msgLocalChanged
		deletedType = domain.ConflictRemovedLocallyModifiedRemotely
	}

	cur, err := dst.Stat(ctx, rel)
	if errors.Is(err, domain.ErrNotFound) {
		return &FileConflictError{Path: rel, SyncType: deletedType, Message: deleted}
	}
	if err != nil {
		return err
	}
	if diff.NewDefaultComparer().Changed(recorded, &cur) {
		return &FileConflictError{Path: rel, SyncType: changedType, Message: changed}
	}
	return nil
}

func cleanRel(rel string) (string, error) {
	rel = strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(rel, "\\", "/")), "/")
	if rel == "" {
		return "", fmt.Errorf("%w: empty path", domain.ErrNotFile)
	}
	return rel, nil
}

// waitObserver turns batch callbacks into a single result
type waitObserver struct {
	progress func(string, int)
	done     chan transfer.Result
}

func newWaitObserver(fn func(string, int)) *waitObserver {
	return &waitObserver{progress: fn, done: make(chan transfer.Result, 1)}
}

func (o *waitObserver) OnProgress(label string, percent int) {
	if o.progress != nil {
		o.progress(label, percent)
	}
}

func (o *waitObserver) OnItemStarting(localURI, remoteURI string)        {}
func (o *waitObserver) OnItemCompleted(localURI, remoteURI string)       {}
func (o *waitObserver) OnItemFailed(localURI, remoteURI, message string) {}
func (o *waitObserver) OnDone(result transfer.Result)                    { o.done <- result }

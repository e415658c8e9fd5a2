package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/Ning0612/pubsync/internal/domain"
)

// MaxPreviewSize caps the content read from each side for a preview
const MaxPreviewSize = 4 << 20

var (
	// ErrPreviewUnavailable is returned for items that have no comparable content
	ErrPreviewUnavailable = errors.New("preview not available")

	// ErrPreviewTooLarge is returned when either side exceeds MaxPreviewSize
	ErrPreviewTooLarge = errors.New("file too large to preview")
)

// FileDiff is a line diff of the local copy against the remote copy
type FileDiff struct {
	Path string

	// Binary content is not diffed
	Binary    bool
	Identical bool

	Diffs []diffmatchpatch.Diff

	// Patch is the diff in patch text form, local to remote
	Patch string
}

// Unified renders the diff as prefixed lines
func (d *FileDiff) Unified() string {
	if d.Binary {
		return "Binary files differ\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "--- local/%s\n+++ remote/%s\n", d.Path, d.Path)
	for _, df := range d.Diffs {
		prefix := " "
		switch df.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		}
		for _, line := range strings.SplitAfter(df.Text, "\n") {
			if line == "" {
				continue
			}
			b.WriteString(prefix)
			b.WriteString(line)
			if !strings.HasSuffix(line, "\n") {
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

// Preview fetches both sides of a file item and diffs them.
// The item is marked TransferDownloaded.
func (s *Session) Preview(ctx context.Context, item *domain.ChangeItem) (*FileDiff, error) {
	if s.deps.Contents == nil {
		return nil, ErrPreviewUnavailable
	}

	var err error
	s.mu.Lock()
	switch {
	case s.phase != PhaseDisplayingChanges && s.phase != PhaseFinished:
		err = invalidPhase("Preview", s.phase)
	case !s.contains(item):
		err = fmt.Errorf("%w: %s", domain.ErrItemNotFound, describe(item))
	case item.SyncType.IsDir() || item.SyncType.IsRemoved() || (item.Local != nil && item.Local.IsDir()) || (item.Remote != nil && item.Remote.IsDir()):
		err = fmt.Errorf("%w: %s is a %s", ErrPreviewUnavailable, item.RelativePath, item.SyncType)
	case item.Local == nil && item.Remote == nil:
		err = fmt.Errorf("%w: %s has no content", ErrPreviewUnavailable, item.RelativePath)
	}
	rel, hasLocal, hasRemote := item.RelativePath, item.Local != nil, item.Remote != nil
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var local, remote []byte
	if hasLocal {
		if local, err = readCapped(ctx, s.deps.Contents.OpenLocal, rel); err != nil {
			return nil, err
		}
	}
	if hasRemote {
		if remote, err = readCapped(ctx, s.deps.Contents.OpenRemote, rel); err != nil {
			return nil, err
		}
	}

	d := diffContent(rel, local, remote)

	s.mutate(func(q *queue) {
		if s.contains(item) {
			item.MarkTransferCompleted(domain.TransferDownloaded)
			q.add(ItemUpdated{Item: item})
		}
	})
	return d, nil
}

func readCapped(ctx context.Context, open func(context.Context, string) (io.ReadCloser, error), rel string) ([]byte, error) {
	rc, err := open(ctx, rel)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("preview %s: %w", rel, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, MaxPreviewSize+1))
	if err != nil {
		return nil, fmt.Errorf("preview %s: %w", rel, err)
	}
	if len(data) > MaxPreviewSize {
		return nil, fmt.Errorf("%w: %s", ErrPreviewTooLarge, rel)
	}
	return data, nil
}

func diffContent(rel string, local, remote []byte) *FileDiff {
	d := &FileDiff{Path: rel, Identical: bytes.Equal(local, remote)}
	if bytes.IndexByte(local, 0) >= 0 || bytes.IndexByte(remote, 0) >= 0 {
		d.Binary = true
		return d
	}

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(string(local), string(remote))
	diffs := dmp.DiffMain(a, b, false)
	d.Diffs = dmp.DiffCharsToLines(diffs, lines)
	d.Patch = dmp.PatchToText(dmp.PatchMake(string(local), d.Diffs))
	return d
}

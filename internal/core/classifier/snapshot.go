package classifier

import (
	"context"
	"errors"
	"strings"

	"github.com/Ning0612/pubsync/internal/adapter"
	"github.com/Ning0612/pubsync/internal/core/filter"
	"github.com/Ning0612/pubsync/internal/domain"
	"github.com/Ning0612/pubsync/internal/logger"
)

// Tree maps relative paths to the entries found beneath a root
type Tree struct {
	Entries map[string]domain.FileInfo

	// Unreadable directories whose contents are unknown
	Unreadable []string
}

// Covers reports whether p lies beneath an unreadable directory
func (t *Tree) Covers(p string) bool {
	for _, dir := range t.Unreadable {
		if strings.HasPrefix(p, dir+"/") {
			return true
		}
	}
	return false
}

// Snapshot lists everything beneath the adapter root that passes the filter.
// A missing root is an empty tree. Subdirectories that fail to list are
// recorded as unreadable and the walk continues.
func Snapshot(ctx context.Context, adp adapter.Adapter, f *filter.Filter) (*Tree, error) {
	tree := &Tree{Entries: map[string]domain.FileInfo{}}

	items, err := adp.List(ctx, "")
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return tree, nil
		}
		return nil, err
	}
	if err := walk(ctx, adp, items, f, tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func walk(ctx context.Context, adp adapter.Adapter, items []domain.FileInfo, f *filter.Filter, tree *Tree) error {
	for _, item := range items {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !f.Allow(item.Path, item.IsDir()) {
			continue
		}

		tree.Entries[item.Path] = item
		if !item.IsDir() {
			continue
		}

		children, err := adp.List(ctx, item.Path)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Get().Warn("Directory could not be listed", "path", item.Path, "error", err)
			tree.Unreadable = append(tree.Unreadable, item.Path)
			continue
		}
		if err := walk(ctx, adp, children, f, tree); err != nil {
			return err
		}
	}
	return nil
}

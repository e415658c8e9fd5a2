package state

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Ning0612/pubsync/internal/domain"
)

// dbBaseline is one row of the baseline table
type dbBaseline struct {
	Publication    string `db:"publication"`
	Path           string `db:"path"`
	Type           int    `db:"type"`
	LocalType      int    `db:"local_type"`
	LocalSize      int64  `db:"local_size"`
	LocalMTime     string `db:"local_mtime"`
	LocalChecksum  string `db:"local_checksum"`
	LocalETag      string `db:"local_etag"`
	RemoteType     int    `db:"remote_type"`
	RemoteSize     int64  `db:"remote_size"`
	RemoteMTime    string `db:"remote_mtime"`
	RemoteChecksum string `db:"remote_checksum"`
	RemoteETag     string `db:"remote_etag"`
}

func toRow(publication string, e domain.BaselineEntry) dbBaseline {
	return dbBaseline{
		Publication:    publication,
		Path:           e.Path,
		Type:           int(e.Type),
		LocalType:      int(e.Local.Type),
		LocalSize:      e.Local.Size,
		LocalMTime:     e.Local.ModTime.UTC().Format(timeLayout),
		LocalChecksum:  e.Local.Checksum,
		LocalETag:      e.Local.ETag,
		RemoteType:     int(e.Remote.Type),
		RemoteSize:     e.Remote.Size,
		RemoteMTime:    e.Remote.ModTime.UTC().Format(timeLayout),
		RemoteChecksum: e.Remote.Checksum,
		RemoteETag:     e.Remote.ETag,
	}
}

func (r dbBaseline) entry() (domain.BaselineEntry, error) {
	lm, err := time.Parse(time.RFC3339Nano, r.LocalMTime)
	if err != nil {
		return domain.BaselineEntry{}, fmt.Errorf("parse local mtime of %s: %w", r.Path, err)
	}
	rm, err := time.Parse(time.RFC3339Nano, r.RemoteMTime)
	if err != nil {
		return domain.BaselineEntry{}, fmt.Errorf("parse remote mtime of %s: %w", r.Path, err)
	}
	return domain.BaselineEntry{
		Path: r.Path,
		Type: domain.FileType(r.Type),
		Local: domain.Fingerprint{
			Type:     domain.FileType(r.LocalType),
			Size:     r.LocalSize,
			ModTime:  lm,
			Checksum: r.LocalChecksum,
			ETag:     r.LocalETag,
		},
		Remote: domain.Fingerprint{
			Type:     domain.FileType(r.RemoteType),
			Size:     r.RemoteSize,
			ModTime:  rm,
			Checksum: r.RemoteChecksum,
			ETag:     r.RemoteETag,
		},
	}, nil
}

// LoadBaseline returns the last synchronized state of a publication
func (m *Manager) LoadBaseline(ctx context.Context, publication string) (domain.Baseline, error) {
	var rows []dbBaseline
	if err := m.db.SelectContext(ctx, &rows, `SELECT * FROM baseline WHERE publication = ?`, publication); err != nil {
		return nil, fmt.Errorf("failed to load baseline: %w", err)
	}

	b := make(domain.Baseline, len(rows))
	for _, r := range rows {
		e, err := r.entry()
		if err != nil {
			// A corrupt row is treated as never synchronized
			continue
		}
		b[e.Path] = e
	}
	return b, nil
}

// PersistBaseline applies an update in one transaction. Removed paths drop
// everything nested beneath them.
func (m *Manager) PersistBaseline(ctx context.Context, publication string, update domain.BaselineUpdate) error {
	if update.IsEmpty() {
		return nil
	}

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin baseline update: %w", err)
	}
	defer tx.Rollback()

	for _, p := range update.Removed {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM baseline WHERE publication = ? AND (path = ? OR path LIKE ? ESCAPE '\')`,
			publication, p, escapeLike(p)+"/%")
		if err != nil {
			return fmt.Errorf("failed to remove baseline of %s: %w", p, err)
		}
	}

	query := `INSERT OR REPLACE INTO baseline (publication, path, type,
	            local_type, local_size, local_mtime, local_checksum, local_etag,
	            remote_type, remote_size, remote_mtime, remote_checksum, remote_etag)
	          VALUES (:publication, :path, :type,
	            :local_type, :local_size, :local_mtime, :local_checksum, :local_etag,
	            :remote_type, :remote_size, :remote_mtime, :remote_checksum, :remote_etag)`
	for _, e := range update.Set {
		if _, err := tx.NamedExecContext(ctx, query, toRow(publication, e)); err != nil {
			return fmt.Errorf("failed to set baseline of %s: %w", e.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit baseline update: %w", err)
	}
	return nil
}

// ClearBaseline forgets every recorded path of a publication
func (m *Manager) ClearBaseline(ctx context.Context, publication string) error {
	if _, err := m.db.ExecContext(ctx, `DELETE FROM baseline WHERE publication = ?`, publication); err != nil {
		return fmt.Errorf("failed to clear baseline: %w", err)
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

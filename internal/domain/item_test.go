package domain

import (
	"errors"
	"testing"
)

func TestChangeItem_NewIsCheckedAndPending(t *testing.T) {
	item := NewChangeItem("a.txt", LocalFileAdded)
	if !item.Checked {
		t.Error("new change item should be checked")
	}
	if item.TransferState != TransferPending {
		t.Errorf("Expected pending, got %v", item.TransferState)
	}
	if item.HasConflict() || item.HadConflict() {
		t.Error("fresh local add must not carry conflict state")
	}
}

func TestChangeItem_ResolveConflict(t *testing.T) {
	conflicts := []SyncType{
		ConflictBothModified,
		ConflictRemovedRemotelyModifiedLocally,
		ConflictRemovedLocallyModifiedRemotely,
	}

	for _, ct := range conflicts {
		for _, r := range []Resolution{LocalWins, RemoteWins} {
			t.Run(ct.String()+"/"+r.String(), func(t *testing.T) {
				item := NewChangeItem("b.txt", ct)
				if !item.HasConflict() {
					t.Fatal("expected conflict before resolution")
				}
				if err := item.ResolveConflict(r); err != nil {
					t.Fatalf("ResolveConflict() error = %v", err)
				}
				if item.HasConflict() {
					t.Error("HasConflict() should be false after resolution")
				}
				if !item.HadConflict() {
					t.Error("HadConflict() should be true after resolution")
				}
				if item.HadConflictType != ct {
					t.Errorf("HadConflictType = %v, want %v", item.HadConflictType, ct)
				}
				want := LocalFileModified
				if r == RemoteWins {
					want = RemoteFileModified
				}
				if item.SyncType != want {
					t.Errorf("SyncType = %v, want %v", item.SyncType, want)
				}
			})
		}
	}
}

func TestChangeItem_ResolveWithoutConflict(t *testing.T) {
	item := NewChangeItem("c.txt", RemoteFileModified)
	err := item.ResolveConflict(LocalWins)
	if !errors.Is(err, ErrNoConflict) {
		t.Fatalf("Expected ErrNoConflict, got %v", err)
	}
	if item.SyncType != RemoteFileModified || item.HadConflict() {
		t.Error("failed resolution must not mutate the item")
	}
}

func TestChangeItem_ForceUploadIdempotent(t *testing.T) {
	item := NewChangeItem("d.txt", ConflictBothModified)

	if err := item.ForceUpload(); err != nil {
		t.Fatalf("first ForceUpload() error = %v", err)
	}
	first := item.SyncType

	err := item.ForceUpload()
	if !errors.Is(err, ErrForceIgnored) || !errors.Is(err, ErrAlreadyUpload) {
		t.Fatalf("second ForceUpload() should report ErrAlreadyUpload, got %v", err)
	}
	if item.SyncType != first {
		t.Errorf("SyncType changed on second call: %v -> %v", first, item.SyncType)
	}
	if first != ConflictResolvedUpload {
		t.Errorf("Expected CONFLICT_RESOLVED_UPLOAD, got %v", first)
	}
	if item.HadConflictType != ConflictBothModified {
		t.Errorf("HadConflictType = %v", item.HadConflictType)
	}
}

func TestChangeItem_ForceGuards(t *testing.T) {
	tests := []struct {
		name     string
		syncType SyncType
		upload   bool
		wantErr  error
	}{
		{"upload on local add", LocalFileAdded, true, ErrAlreadyUpload},
		{"upload on resolved upload", ConflictResolvedUpload, true, ErrAlreadyUpload},
		{"upload on remote file add", RemoteFileAdded, true, ErrNothingToUpload},
		{"upload on remote dir add", RemoteDirAdded, true, ErrNothingToUpload},
		{"download on remote modified", RemoteFileModified, false, ErrAlreadyDownload},
		{"download on local file add", LocalFileAdded, false, ErrNothingToDownload},
		{"download on local dir add", LocalDirAdded, false, ErrNothingToDownload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := NewChangeItem("x", tt.syncType)
			var err error
			if tt.upload {
				err = item.ForceUpload()
			} else {
				err = item.ForceDownload()
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected %v, got %v", tt.wantErr, err)
			}
			if item.SyncType != tt.syncType {
				t.Errorf("ignored force must not change type, got %v", item.SyncType)
			}
		})
	}
}

func TestChangeItem_ForceRoundTrip(t *testing.T) {
	starts := []SyncType{
		ConflictBothModified,
		ConflictRemovedRemotelyModifiedLocally,
		ConflictRemovedLocallyModifiedRemotely,
		LocalFileModified,
		RemoteFileModified,
	}

	for _, st := range starts {
		t.Run(st.String(), func(t *testing.T) {
			item := NewChangeItem("r.txt", st)

			_ = item.ForceDownload()
			if err := item.ForceUpload(); err != nil {
				t.Fatalf("ForceUpload() after download error = %v", err)
			}
			if item.SyncType.Family() != FamilyLocal {
				t.Errorf("Expected local family, got %v", item.SyncType.Family())
			}

			if err := item.ForceDownload(); err != nil {
				t.Fatalf("ForceDownload() after upload error = %v", err)
			}
			if item.SyncType.Family() != FamilyRemote {
				t.Errorf("Expected remote family, got %v", item.SyncType.Family())
			}
		})
	}
}

func TestChangeItem_TransferMarks(t *testing.T) {
	item := NewChangeItem("e.txt", RemoteFileAdded)

	item.MarkTransferStarting()
	if item.TransferState != TransferRunning {
		t.Errorf("Expected running, got %v", item.TransferState)
	}

	item.MarkTransferCompleted()
	if item.TransferState != TransferCompleted {
		t.Errorf("Expected completed, got %v", item.TransferState)
	}

	item.MarkTransferCompleted(TransferDownloaded)
	if item.TransferState != TransferDownloaded {
		t.Errorf("Expected downloaded, got %v", item.TransferState)
	}

	item.MarkTransferFailed("disk full")
	if item.TransferState != TransferFailed || item.StatusMessage != "disk full" {
		t.Errorf("Unexpected failure state: %v %q", item.TransferState, item.StatusMessage)
	}
}

type countingStopper struct{ n int }

func (c *countingStopper) Stop() { c.n++ }

func TestLoadingItem_AbortOnce(t *testing.T) {
	h := &countingStopper{}
	l := NewLoadingItem("Checking", h)

	l.Abort()
	l.Abort()

	if !l.Aborted() {
		t.Error("Aborted() should be true")
	}
	if h.n != 1 {
		t.Errorf("Expected handle stopped once, got %d", h.n)
	}
}

func TestLoadingItem_SetHandleAfterAbort(t *testing.T) {
	l := NewLoadingItem("Checking", nil)
	l.Abort()

	h := &countingStopper{}
	l.SetHandle(h)
	if h.n != 1 {
		t.Errorf("late handle should be stopped immediately, got %d", h.n)
	}
}

func TestItem_ClosedVariant(t *testing.T) {
	items := []Item{
		NewChangeItem("a", LocalFileAdded),
		NewLoadingItem("loading", nil),
		NewLogItem(LogWarn, "aborted"),
	}

	var change, loading, log int
	for _, it := range items {
		switch it.(type) {
		case *ChangeItem:
			change++
		case *LoadingItem:
			loading++
		case *LogItem:
			log++
		}
	}
	if change != 1 || loading != 1 || log != 1 {
		t.Errorf("unexpected dispatch counts: %d %d %d", change, loading, log)
	}
	if items[2].Base().Checked {
		t.Error("log items are never checked")
	}
}

func TestChangeItem_IsDeletion(t *testing.T) {
	tests := []struct {
		name string
		item func() *ChangeItem
		want bool
	}{
		{"remote removal", func() *ChangeItem { return NewChangeItem("a", RemoteFileRemoved) }, true},
		{"local dir removal", func() *ChangeItem { return NewChangeItem("d", LocalDirRemoved) }, true},
		{"modification", func() *ChangeItem { return NewChangeItem("a", LocalFileModified) }, false},
		{"conflict", func() *ChangeItem { return NewChangeItem("a", ConflictBothModified) }, false},
		{
			"remote deletion accepted",
			func() *ChangeItem {
				c := NewChangeItem("a", ConflictRemovedRemotelyModifiedLocally)
				_ = c.ForceDownload()
				return c
			},
			true,
		},
		{
			"local edit kept over remote deletion",
			func() *ChangeItem {
				c := NewChangeItem("a", ConflictRemovedRemotelyModifiedLocally)
				_ = c.ForceUpload()
				return c
			},
			false,
		},
		{
			"local deletion accepted",
			func() *ChangeItem {
				c := NewChangeItem("a", ConflictRemovedLocallyModifiedRemotely)
				_ = c.ResolveConflict(LocalWins)
				return c
			},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.item().IsDeletion(); got != tt.want {
				t.Errorf("IsDeletion() = %v, want %v", got, tt.want)
			}
		})
	}
}

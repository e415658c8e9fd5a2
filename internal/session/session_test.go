package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Ning0612/pubsync/internal/adapter"
	"github.com/Ning0612/pubsync/internal/core/classifier"
	"github.com/Ning0612/pubsync/internal/domain"
	"github.com/Ning0612/pubsync/internal/testutil"
	"github.com/Ning0612/pubsync/internal/transfer"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// memStore is an in-memory BaselineStore that counts persists
type memStore struct {
	mu       sync.Mutex
	baseline domain.Baseline
	persists int
	updates  []domain.BaselineUpdate
}

func newMemStore(b domain.Baseline) *memStore {
	if b == nil {
		b = domain.Baseline{}
	}
	return &memStore{baseline: b}
}

func (m *memStore) LoadBaseline(ctx context.Context, publication string) (domain.Baseline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := domain.Baseline{}
	for k, v := range m.baseline {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) PersistBaseline(ctx context.Context, publication string, update domain.BaselineUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persists++
	m.updates = append(m.updates, update)
	m.baseline.Apply(update)
	return nil
}

func (m *memStore) resetCount() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persists = 0
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persists
}

func (m *memStore) has(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.baseline[path]
	return ok
}

// countingTransfers records batch starts
type countingTransfers struct {
	*transfer.Coordinator
	downloads atomic.Int32
	uploads   atomic.Int32
}

func (c *countingTransfers) Download(ctx context.Context, pairs []transfer.Pair, obs transfer.Observer) *transfer.Operation {
	c.downloads.Add(1)
	return c.Coordinator.Download(ctx, pairs, obs)
}

func (c *countingTransfers) Upload(ctx context.Context, pairs []transfer.Pair, obs transfer.Observer) *transfer.Operation {
	c.uploads.Add(1)
	return c.Coordinator.Upload(ctx, pairs, obs)
}

// eventLog records listener events
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (e *eventLog) listen(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventLog) phases() []Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Phase
	for _, ev := range e.events {
		if pc, ok := ev.(PhaseChanged); ok {
			out = append(out, pc.To)
		}
	}
	return out
}

type harness struct {
	local     *testutil.MemTree
	remote    *testutil.MemTree
	store     *memStore
	transfers *countingTransfers
	events    *eventLog
	session   *Session
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	return newHarnessWith(t, nil, opts...)
}

// newHarnessWith lets a test replace the remote adapter seen by the scanner
func newHarnessWith(t *testing.T, wrapRemote func(adapter.Adapter) adapter.Adapter, opts ...Option) *harness {
	t.Helper()
	return newHarnessConfig(t, harnessConfig{scanRemote: wrapRemote}, opts...)
}

// harnessConfig replaces the remote adapter seen by the scanner or by the
// coordinator
type harnessConfig struct {
	scanRemote     func(adapter.Adapter) adapter.Adapter
	transferRemote func(adapter.Adapter) adapter.Adapter
	concurrency    int
}

func newHarnessConfig(t *testing.T, cfg harnessConfig, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		local:  testutil.NewMemTree(t, "/local"),
		remote: testutil.NewMemTree(t, "/remote"),
		store:  newMemStore(nil),
		events: &eventLog{},
	}
	var scanRemote, transferRemote adapter.Adapter = h.remote.Adapter, h.remote.Adapter
	if cfg.scanRemote != nil {
		scanRemote = cfg.scanRemote(scanRemote)
	}
	if cfg.transferRemote != nil {
		transferRemote = cfg.transferRemote(transferRemote)
	}
	if cfg.concurrency == 0 {
		cfg.concurrency = 2
	}
	h.transfers = &countingTransfers{
		Coordinator: transfer.NewCoordinator(h.local.Adapter, transferRemote, transfer.Options{Concurrency: cfg.concurrency}),
	}
	pub := domain.Publication{Name: "blog", LocalRoot: "/local", Transport: "mem", RemoteRoot: "/remote"}
	deps := Deps{
		Scanner:   classifier.New(h.local.Adapter, scanRemote, classifier.DefaultOptions()),
		Transfers: h.transfers,
		Store:     h.store,
		Contents:  h.transfers,
	}
	h.session = New(pub, deps, append([]Option{WithListener(h.events.listen)}, opts...)...)
	return h
}

// record stores the current state of both trees as the baseline
func (h *harness) record(t *testing.T, paths ...string) {
	t.Helper()
	ctx := context.Background()
	for _, p := range paths {
		l, err := h.local.Adapter.Stat(ctx, p)
		if err != nil {
			t.Fatalf("stat local %s: %v", p, err)
		}
		r, err := h.remote.Adapter.Stat(ctx, p)
		if err != nil {
			t.Fatalf("stat remote %s: %v", p, err)
		}
		h.store.baseline[p] = domain.BaselineEntry{Path: p, Type: l.Type, Local: l.Fingerprint(), Remote: r.Fingerprint()}
	}
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.session.Wait(ctx); err != nil {
		t.Fatalf("session did not settle: %v", err)
	}
}

func (h *harness) reconcile(t *testing.T) {
	t.Helper()
	if err := h.session.StartReconciliation(context.Background()); err != nil {
		t.Fatalf("StartReconciliation() error = %v", err)
	}
	h.wait(t)
}

func (h *harness) synchronize(t *testing.T) {
	t.Helper()
	if err := h.session.Synchronize(context.Background()); err != nil {
		t.Fatalf("Synchronize() error = %v", err)
	}
	h.wait(t)
}

func (h *harness) item(t *testing.T, path string) *domain.ChangeItem {
	t.Helper()
	for _, c := range h.session.ChangeItems() {
		if c.RelativePath == path {
			return c
		}
	}
	t.Fatalf("no item for %s", path)
	return nil
}

func logItems(items []domain.Item) []*domain.LogItem {
	var out []*domain.LogItem
	for _, it := range items {
		if l, ok := it.(*domain.LogItem); ok {
			out = append(out, l)
		}
	}
	return out
}

func TestSession_DownloadThenUpload(t *testing.T) {
	h := newHarness(t)
	h.remote.WriteFile(t, "c.txt", "from remote", t0)
	h.local.WriteFile(t, "d.txt", "from local", t0)

	h.reconcile(t)
	if p := h.session.Phase(); p != PhaseDisplayingChanges {
		t.Fatalf("Expected DISPLAYING_CHANGES, got %s", p)
	}
	if got := h.item(t, "c.txt").SyncType; got != domain.RemoteFileAdded {
		t.Errorf("c.txt: expected REMOTE_FILE_ADDED, got %s", got)
	}
	if got := h.item(t, "d.txt").SyncType; got != domain.LocalFileAdded {
		t.Errorf("d.txt: expected LOCAL_FILE_ADDED, got %s", got)
	}

	h.store.resetCount()
	h.synchronize(t)

	if p := h.session.Phase(); p != PhaseFinished {
		t.Fatalf("Expected FINISHED, got %s", p)
	}
	if h.store.count() != 2 {
		t.Errorf("Expected one persist per batch (2), got %d", h.store.count())
	}
	if h.local.ReadFile(t, "c.txt") != "from remote" {
		t.Error("c.txt was not downloaded")
	}
	if h.remote.ReadFile(t, "d.txt") != "from local" {
		t.Error("d.txt was not uploaded")
	}
	for _, c := range h.session.ChangeItems() {
		if c.TransferState != domain.TransferCompleted {
			t.Errorf("%s: expected completed, got %s", c.RelativePath, c.TransferState)
		}
	}
	if !h.store.has("c.txt") || !h.store.has("d.txt") {
		t.Error("baseline should record both transferred files")
	}

	want := []Phase{PhaseFetchingChanges, PhaseDisplayingChanges, PhaseDownloading, PhaseUploading, PhaseFinished}
	got := h.events.phases()
	if len(got) != len(want) {
		t.Fatalf("Expected phases %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected phases %v, got %v", want, got)
		}
	}

	sum, ok := h.session.LastRun()
	if !ok || sum.Completed != 2 || sum.Failed != 0 || sum.Stopped {
		t.Errorf("unexpected summary %+v", sum)
	}
}

func TestSession_DownloadFailureStillUploads(t *testing.T) {
	h := newHarness(t)
	h.remote.WriteFile(t, "a.txt", "a", t0)
	h.remote.WriteFile(t, "b.txt", "b", t0)
	h.local.WriteFile(t, "u.txt", "u", t0)

	h.reconcile(t)

	// b.txt disappears between the scan and the transfer
	h.remote.Remove(t, "b.txt")
	h.synchronize(t)

	if p := h.session.Phase(); p != PhaseFinished {
		t.Fatalf("Expected FINISHED, got %s", p)
	}
	if h.transfers.uploads.Load() != 1 {
		t.Errorf("upload batch must run after a failed download batch")
	}
	if h.remote.ReadFile(t, "u.txt") != "u" {
		t.Error("u.txt was not uploaded")
	}
	if h.local.ReadFile(t, "a.txt") != "a" {
		t.Error("a.txt should still be downloaded")
	}
	if st := h.item(t, "b.txt").TransferState; st != domain.TransferFailed {
		t.Errorf("b.txt: expected failed, got %s", st)
	}

	logs := logItems(h.session.Items())
	if len(logs) != 1 || logs[0].Level != domain.LogError || !strings.Contains(logs[0].Message(), "1 of 2 items failed") {
		t.Fatalf("Expected one error log about the download, got %+v", logs)
	}
	if !h.store.has("a.txt") {
		t.Error("completed downloads should be recorded even when the batch failed")
	}
}

func TestSession_ConflictBlocksSynchronize(t *testing.T) {
	h := newHarness(t)
	h.local.WriteFile(t, "b.txt", "same", t0)
	h.remote.WriteFile(t, "b.txt", "same", t0)
	h.record(t, "b.txt")
	h.local.WriteFile(t, "b.txt", "local edit", t0.Add(time.Minute))
	h.remote.WriteFile(t, "b.txt", "remote edit!", t0.Add(2*time.Minute))

	h.reconcile(t)
	item := h.item(t, "b.txt")
	if item.SyncType != domain.ConflictBothModified {
		t.Fatalf("Expected CONFLICT_BOTH_MODIFIED, got %s", item.SyncType)
	}

	err := h.session.Synchronize(context.Background())
	if !errors.Is(err, domain.ErrSyncConflict) {
		t.Fatalf("Expected ErrSyncConflict, got %v", err)
	}
	var ce *ConflictError
	if !errors.As(err, &ce) || len(ce.Paths) != 1 || ce.Paths[0] != "b.txt" {
		t.Errorf("Expected conflict on b.txt, got %v", err)
	}
	if p := h.session.Phase(); p != PhaseDisplayingChanges {
		t.Errorf("phase must not change, got %s", p)
	}
	if h.transfers.downloads.Load() != 0 || h.transfers.uploads.Load() != 0 {
		t.Error("no transfer may start while conflicts are unresolved")
	}

	if err := h.session.ResolveConflict(item, domain.LocalWins); err != nil {
		t.Fatalf("ResolveConflict() error = %v", err)
	}
	if item.SyncType != domain.LocalFileModified || !item.HadConflict() {
		t.Errorf("Expected LOCAL_FILE_MODIFIED with conflict history, got %s", item.SyncType)
	}
	h.synchronize(t)

	if h.remote.ReadFile(t, "b.txt") != "local edit" {
		t.Error("local edit should win")
	}
}

func TestSession_UncheckedConflictDoesNotBlock(t *testing.T) {
	h := newHarness(t)
	h.local.WriteFile(t, "b.txt", "same", t0)
	h.remote.WriteFile(t, "b.txt", "same", t0)
	h.record(t, "b.txt")
	h.local.WriteFile(t, "b.txt", "local edit", t0.Add(time.Minute))
	h.remote.WriteFile(t, "b.txt", "remote edit!", t0.Add(2*time.Minute))
	h.local.WriteFile(t, "new.txt", "n", t0)

	h.reconcile(t)
	if err := h.session.SetChecked(h.item(t, "b.txt"), false); err != nil {
		t.Fatalf("SetChecked() error = %v", err)
	}
	h.synchronize(t)

	if h.remote.ReadFile(t, "new.txt") != "n" {
		t.Error("new.txt should be uploaded")
	}
	if h.remote.ReadFile(t, "b.txt") != "remote edit!" {
		t.Error("unchecked conflict must be left alone")
	}
}

func TestSession_NothingToSync(t *testing.T) {
	h := newHarness(t)
	h.reconcile(t)

	if p := h.session.Phase(); p != PhaseFinished {
		t.Fatalf("Expected FINISHED, got %s", p)
	}
	items := h.session.Items()
	if len(items) != 1 {
		t.Fatalf("Expected a single log item, got %d items", len(items))
	}
	if l, ok := items[0].(*domain.LogItem); !ok || l.Level != domain.LogInfo {
		t.Errorf("Expected an info log item, got %#v", items[0])
	}

	// A finished session may be reconciled again
	h.local.WriteFile(t, "late.txt", "x", t0)
	h.reconcile(t)
	if p := h.session.Phase(); p != PhaseDisplayingChanges {
		t.Errorf("Expected DISPLAYING_CHANGES after a new change, got %s", p)
	}
}

func TestSession_IdenticalFilesAdopted(t *testing.T) {
	h := newHarness(t)
	h.local.WriteFile(t, "same.html", "<p>hi</p>", t0)
	h.remote.WriteFile(t, "same.html", "<p>hi</p>", t0.Add(time.Hour))

	h.reconcile(t)

	if p := h.session.Phase(); p != PhaseFinished {
		t.Errorf("Expected FINISHED, got %s", p)
	}
	if !h.store.has("same.html") {
		t.Error("identical file should be adopted into the baseline")
	}
}

func TestSession_Deletions(t *testing.T) {
	h := newHarness(t)
	h.local.WriteFile(t, "old.txt", "old", t0)
	h.remote.WriteFile(t, "old.txt", "old", t0)
	h.local.WriteFile(t, "gone/x.txt", "x", t0)
	h.remote.WriteFile(t, "gone/x.txt", "x", t0)
	h.record(t, "old.txt", "gone", "gone/x.txt")

	h.local.Remove(t, "old.txt")
	h.remote.Remove(t, "gone")

	h.reconcile(t)
	if got := h.item(t, "old.txt").SyncType; got != domain.LocalFileRemoved {
		t.Fatalf("old.txt: expected LOCAL_FILE_REMOVED, got %s", got)
	}
	if got := h.item(t, "gone").SyncType; got != domain.RemoteDirRemoved {
		t.Fatalf("gone: expected REMOTE_DIR_REMOVED, got %s", got)
	}

	h.synchronize(t)

	if h.remote.Exists("old.txt") {
		t.Error("old.txt should be deleted remotely")
	}
	if h.local.Exists("gone") {
		t.Error("gone should be deleted locally")
	}
	if h.transfers.downloads.Load() != 0 || h.transfers.uploads.Load() != 0 {
		t.Error("deletion-only sets should not start coordinator batches")
	}
	for _, p := range []string{"old.txt", "gone", "gone/x.txt"} {
		if h.store.has(p) {
			t.Errorf("%s should be dropped from the baseline", p)
		}
	}
}

func TestSession_AutoResolve(t *testing.T) {
	h := newHarness(t, WithConflictStrategy(domain.ConflictKeepNewest))
	h.local.WriteFile(t, "b.txt", "same", t0)
	h.remote.WriteFile(t, "b.txt", "same", t0)
	h.record(t, "b.txt")
	h.local.WriteFile(t, "b.txt", "local edit", t0.Add(time.Minute))
	h.remote.WriteFile(t, "b.txt", "remote edit!", t0.Add(2*time.Minute))

	h.reconcile(t)

	item := h.item(t, "b.txt")
	if item.SyncType != domain.RemoteFileModified || item.HadConflictType != domain.ConflictBothModified {
		t.Fatalf("Expected remote win, got %s (had %s)", item.SyncType, item.HadConflictType)
	}
	if len(h.session.Conflicts()) != 0 {
		t.Error("no conflicts should remain")
	}
	h.synchronize(t)
	if h.local.ReadFile(t, "b.txt") != "remote edit!" {
		t.Error("newer remote copy should be downloaded")
	}
}

func TestSession_PhaseGuards(t *testing.T) {
	h := newHarness(t)
	s := h.session

	if err := s.Synchronize(context.Background()); !errors.Is(err, domain.ErrInvalidPhase) {
		t.Errorf("Synchronize in INITIAL: expected ErrInvalidPhase, got %v", err)
	}
	if err := s.Abort(); !errors.Is(err, domain.ErrInvalidPhase) {
		t.Errorf("Abort in INITIAL: expected ErrInvalidPhase, got %v", err)
	}
	if err := s.CheckAll(); !errors.Is(err, domain.ErrInvalidPhase) {
		t.Errorf("CheckAll in INITIAL: expected ErrInvalidPhase, got %v", err)
	}

	h.local.WriteFile(t, "a.txt", "a", t0)
	h.reconcile(t)

	stranger := domain.NewChangeItem("a.txt", domain.LocalFileAdded)
	if err := s.ForceUpload(stranger); !errors.Is(err, domain.ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound for a foreign item, got %v", err)
	}
	if err := s.ForceUpload(h.item(t, "a.txt")); !errors.Is(err, domain.ErrForceIgnored) {
		t.Errorf("Expected ErrForceIgnored, got %v", err)
	}

	if err := s.UncheckAll(); err != nil {
		t.Fatalf("UncheckAll() error = %v", err)
	}
	if h.item(t, "a.txt").Checked {
		t.Error("item should be unchecked")
	}
	if err := s.CheckAll(); err != nil {
		t.Fatalf("CheckAll() error = %v", err)
	}
	h.synchronize(t)

	if err := s.SetChecked(h.item(t, "a.txt"), false); err != nil {
		t.Errorf("SetChecked in FINISHED should be allowed, got %v", err)
	}
	if err := s.Synchronize(context.Background()); !errors.Is(err, domain.ErrInvalidPhase) {
		t.Errorf("Synchronize in FINISHED: expected ErrInvalidPhase, got %v", err)
	}
}

// blockingAdapter holds List until the context is cancelled
type blockingAdapter struct {
	adapter.Adapter
	entered chan struct{}
	once    sync.Once
}

func (b *blockingAdapter) List(ctx context.Context, path string) ([]domain.FileInfo, error) {
	b.once.Do(func() { close(b.entered) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSession_AbortScan(t *testing.T) {
	var blocking *blockingAdapter
	h := newHarnessWith(t, func(a adapter.Adapter) adapter.Adapter {
		blocking = &blockingAdapter{Adapter: a, entered: make(chan struct{})}
		return blocking
	})
	h.local.WriteFile(t, "a.txt", "a", t0)

	if err := h.session.StartReconciliation(context.Background()); err != nil {
		t.Fatalf("StartReconciliation() error = %v", err)
	}
	<-blocking.entered

	if p := h.session.Phase(); p != PhaseFetchingChanges {
		t.Fatalf("Expected FETCHING_CHANGES, got %s", p)
	}
	if _, ok := h.session.Items()[0].(*domain.LoadingItem); !ok {
		t.Fatal("Expected a loading placeholder while scanning")
	}

	if err := h.session.Abort(); err != nil {
		t.Fatalf("Abort() error = %v", err)
	}
	h.wait(t)

	if p := h.session.Phase(); p != PhaseDisplayingChanges {
		t.Fatalf("Expected DISPLAYING_CHANGES after abort, got %s", p)
	}
	logs := logItems(h.session.Items())
	if len(logs) != 1 || logs[0].Level != domain.LogWarn {
		t.Errorf("Expected one warning log item, got %+v", logs)
	}
	for _, it := range h.session.Items() {
		if _, ok := it.(*domain.LoadingItem); ok {
			t.Error("placeholder must be removed")
		}
	}
}

func TestSession_AbortFromListener(t *testing.T) {
	var h *harness
	var once sync.Once
	var abortErr error
	h = newHarness(t, WithListener(func(ev Event) {
		if _, ok := ev.(Progress); ok {
			once.Do(func() { abortErr = h.session.Abort() })
		}
	}))
	h.local.WriteFile(t, "a.txt", "a", t0)
	h.remote.WriteFile(t, "b.txt", "b", t0)

	h.reconcile(t)

	if abortErr != nil {
		t.Fatalf("Abort() from listener error = %v", abortErr)
	}
	if p := h.session.Phase(); p != PhaseDisplayingChanges {
		t.Fatalf("Expected DISPLAYING_CHANGES after abort, got %s", p)
	}
	if n := len(h.session.ChangeItems()); n != 0 {
		t.Errorf("Expected no change items after an early abort, got %d", n)
	}
	logs := logItems(h.session.Items())
	if len(logs) != 1 || logs[0].Level != domain.LogWarn {
		t.Errorf("Expected one warning log item, got %+v", logs)
	}
}

// stallingAdapter holds Read of one path until the context is cancelled
type stallingAdapter struct {
	adapter.Adapter
	path    string
	entered chan struct{}
	once    sync.Once
}

func (a *stallingAdapter) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	if path != a.path {
		return a.Adapter.Read(ctx, path)
	}
	a.once.Do(func() { close(a.entered) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSession_AbortDownload(t *testing.T) {
	stalling := &stallingAdapter{path: "b-slow.txt", entered: make(chan struct{})}
	h := newHarnessConfig(t, harnessConfig{
		transferRemote: func(a adapter.Adapter) adapter.Adapter {
			stalling.Adapter = a
			return stalling
		},
		concurrency: 1,
	})
	h.local.WriteFile(t, "gone.txt", "g", t0)
	h.remote.WriteFile(t, "gone.txt", "g", t0)
	h.record(t, "gone.txt")
	h.remote.Remove(t, "gone.txt")
	h.remote.WriteFile(t, "a-fast.txt", "fast", t0)
	h.remote.WriteFile(t, "b-slow.txt", "slow", t0)
	h.local.WriteFile(t, "up.txt", "up", t0)

	h.reconcile(t)
	if got := h.item(t, "gone.txt").SyncType; got != domain.RemoteFileRemoved {
		t.Fatalf("gone.txt: expected REMOTE_FILE_REMOVED, got %s", got)
	}

	if err := h.session.Synchronize(context.Background()); err != nil {
		t.Fatalf("Synchronize() error = %v", err)
	}
	select {
	case <-stalling.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("b-slow.txt download never started")
	}
	if p := h.session.Phase(); p != PhaseDownloading {
		t.Fatalf("Expected DOWNLOADING, got %s", p)
	}
	if err := h.session.Abort(); err != nil {
		t.Fatalf("Abort() error = %v", err)
	}
	h.wait(t)

	if p := h.session.Phase(); p != PhaseFinished {
		t.Fatalf("Expected FINISHED after abort, got %s", p)
	}
	var stopped bool
	for _, l := range logItems(h.session.Items()) {
		if l.Level == domain.LogWarn && l.Message() == "Download stopped." {
			stopped = true
		}
	}
	if !stopped {
		t.Errorf("Expected a warning log item about the stopped download, got %+v", logItems(h.session.Items()))
	}
	if h.transfers.uploads.Load() != 0 {
		t.Error("upload batch must not start after an abort")
	}
	if h.remote.Exists("up.txt") {
		t.Error("up.txt must not be uploaded")
	}

	gone := h.item(t, "gone.txt")
	if !strings.Contains(gone.StatusMessage, "stopped") {
		t.Errorf("gone.txt: expected a skipped-by-stop message, got %q", gone.StatusMessage)
	}
	if !h.local.Exists("gone.txt") {
		t.Error("deletions must be skipped after an abort")
	}

	if !h.store.has("a-fast.txt") {
		t.Error("a file downloaded before the abort should be recorded")
	}
	if h.store.has("b-slow.txt") {
		t.Error("an interrupted download must not be recorded")
	}
	if h.local.ReadFile(t, "a-fast.txt") != "fast" {
		t.Error("a-fast.txt should be downloaded")
	}

	sum, ok := h.session.LastRun()
	if !ok || !sum.Stopped {
		t.Errorf("Expected a stopped summary, got %+v", sum)
	}
}

func TestSession_UploadOnlySkipsDownloading(t *testing.T) {
	h := newHarness(t)
	h.local.WriteFile(t, "d.txt", "from local", t0)

	h.reconcile(t)
	h.synchronize(t)

	if h.transfers.downloads.Load() != 0 {
		t.Error("no download batch should start without downloads")
	}
	if h.remote.ReadFile(t, "d.txt") != "from local" {
		t.Error("d.txt was not uploaded")
	}
	want := []Phase{PhaseFetchingChanges, PhaseDisplayingChanges, PhaseUploading, PhaseFinished}
	got := h.events.phases()
	if len(got) != len(want) {
		t.Fatalf("Expected phases %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected phases %v, got %v", want, got)
		}
	}
}

func TestSession_DirectoryDeletionKeepsChildren(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, h *harness)
		check func(t *testing.T, h *harness)
	}{
		{
			name: "new local file in remotely removed directory",
			setup: func(t *testing.T, h *harness) {
				h.local.WriteFile(t, "sub/new.txt", "new", t0)
			},
			check: func(t *testing.T, h *harness) {
				if h.local.ReadFile(t, "sub/new.txt") != "new" {
					t.Error("local sub/new.txt must survive")
				}
				if h.remote.ReadFile(t, "sub/new.txt") != "new" {
					t.Error("sub/new.txt should be uploaded")
				}
				if h.local.Exists("sub/a.txt") {
					t.Error("sub/a.txt should still be deleted locally")
				}
				if h.store.has("sub/a.txt") {
					t.Error("sub/a.txt should be dropped from the baseline")
				}
				if !strings.Contains(h.item(t, "sub").StatusMessage, "sub/new.txt") {
					t.Errorf("sub: expected the kept path in the message, got %q", h.item(t, "sub").StatusMessage)
				}
			},
		},
		{
			name: "unchecked conflict in remotely removed directory",
			setup: func(t *testing.T, h *harness) {
				h.local.WriteFile(t, "sub/a.txt", "edited locally", t0.Add(time.Minute))
			},
			check: func(t *testing.T, h *harness) {
				if h.local.ReadFile(t, "sub/a.txt") != "edited locally" {
					t.Error("local edit in an unchecked conflict must survive")
				}
				if !h.store.has("sub") {
					t.Error("sub must stay in the baseline")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.local.WriteFile(t, "sub/a.txt", "a", t0)
			h.remote.WriteFile(t, "sub/a.txt", "a", t0)
			h.record(t, "sub", "sub/a.txt")
			h.remote.Remove(t, "sub")
			tt.setup(t, h)

			h.reconcile(t)
			if got := h.item(t, "sub").SyncType; got != domain.RemoteDirRemoved {
				t.Fatalf("sub: expected REMOTE_DIR_REMOVED, got %s", got)
			}
			for _, c := range h.session.Conflicts() {
				if err := h.session.SetChecked(c, false); err != nil {
					t.Fatalf("SetChecked() error = %v", err)
				}
			}
			h.synchronize(t)

			if p := h.session.Phase(); p != PhaseFinished {
				t.Fatalf("Expected FINISHED, got %s", p)
			}
			if !h.local.Exists("sub") {
				t.Fatal("sub must not be deleted while a path beneath it is kept")
			}
			if st := h.item(t, "sub").TransferState; st != domain.TransferFailed {
				t.Errorf("sub: expected failed, got %s", st)
			}
			tt.check(t, h)
		})
	}
}

func TestSession_Close(t *testing.T) {
	h := newHarness(t, WithCloseTimeout(time.Second))
	h.local.WriteFile(t, "a.txt", "a", t0)
	h.reconcile(t)

	h.session.Close()

	if p := h.session.Phase(); p != PhaseInitial {
		t.Errorf("Expected INITIAL after Close, got %s", p)
	}
	if n := len(h.session.Items()); n != 0 {
		t.Errorf("Expected empty working set, got %d items", n)
	}
	h.reconcile(t)
	if p := h.session.Phase(); p != PhaseDisplayingChanges {
		t.Errorf("session should be reusable after Close, got %s", p)
	}
}

func TestSession_ListenerPanicIsContained(t *testing.T) {
	h := newHarness(t, WithListener(func(Event) { panic("boom") }))
	h.local.WriteFile(t, "a.txt", "a", t0)

	h.reconcile(t)
	if p := h.session.Phase(); p != PhaseDisplayingChanges {
		t.Fatalf("Expected DISPLAYING_CHANGES, got %s", p)
	}
	h.synchronize(t)
	if h.remote.ReadFile(t, "a.txt") != "a" {
		t.Error("upload should complete despite a panicking listener")
	}
}

func TestSession_Preview(t *testing.T) {
	h := newHarness(t)
	h.local.WriteFile(t, "b.txt", "same", t0)
	h.remote.WriteFile(t, "b.txt", "same", t0)
	h.record(t, "b.txt")
	h.local.WriteFile(t, "b.txt", "line one\nlocal\n", t0.Add(time.Minute))
	h.remote.WriteFile(t, "b.txt", "line one\nremote\n", t0.Add(2*time.Minute))
	h.local.Mkdir(t, "assets")

	h.reconcile(t)

	item := h.item(t, "b.txt")
	d, err := h.session.Preview(context.Background(), item)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if d.Identical || d.Binary {
		t.Errorf("unexpected flags identical=%v binary=%v", d.Identical, d.Binary)
	}
	unified := d.Unified()
	if !strings.Contains(unified, "-local\n") || !strings.Contains(unified, "+remote\n") || !strings.Contains(unified, " line one\n") {
		t.Errorf("unexpected diff:\n%s", unified)
	}
	if item.TransferState != domain.TransferDownloaded {
		t.Errorf("Expected DOWNLOADED, got %s", item.TransferState)
	}

	if _, err := h.session.Preview(context.Background(), h.item(t, "assets")); !errors.Is(err, ErrPreviewUnavailable) {
		t.Errorf("Expected ErrPreviewUnavailable for a directory, got %v", err)
	}
}

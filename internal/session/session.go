package session

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ning0612/pubsync/internal/core/classifier"
	"github.com/Ning0612/pubsync/internal/core/conflict"
	"github.com/Ning0612/pubsync/internal/domain"
	"github.com/Ning0612/pubsync/internal/logger"
	"github.com/Ning0612/pubsync/internal/transfer"
)

// Phase is the reconciliation state
type Phase int

const (
	PhaseInitial Phase = iota
	PhaseFetchingChanges
	PhaseDisplayingChanges
	PhaseDownloading
	PhaseUploading
	PhaseFinished
)

// String returns the string representation of the phase
func (p Phase) String() string {
	switch p {
	case PhaseInitial:
		return "INITIAL"
	case PhaseFetchingChanges:
		return "FETCHING_CHANGES"
	case PhaseDisplayingChanges:
		return "DISPLAYING_CHANGES"
	case PhaseDownloading:
		return "DOWNLOADING"
	case PhaseUploading:
		return "UPLOADING"
	case PhaseFinished:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}

// Scanner starts classification scans
type Scanner interface {
	Scan(ctx context.Context, baseline domain.Baseline, sink classifier.Sink) *classifier.Scan
}

// Transfers moves batches and deletes paths
type Transfers interface {
	Download(ctx context.Context, pairs []transfer.Pair, obs transfer.Observer) *transfer.Operation
	Upload(ctx context.Context, pairs []transfer.Pair, obs transfer.Observer) *transfer.Operation
	DeleteLocal(ctx context.Context, path string) error
	DeleteRemote(ctx context.Context, path string) error
}

// Contents reads both sides of a path for previews
type Contents interface {
	OpenLocal(ctx context.Context, path string) (io.ReadCloser, error)
	OpenRemote(ctx context.Context, path string) (io.ReadCloser, error)
}

// BaselineStore loads and persists the per-publication baseline
type BaselineStore interface {
	LoadBaseline(ctx context.Context, publication string) (domain.Baseline, error)
	PersistBaseline(ctx context.Context, publication string, update domain.BaselineUpdate) error
}

// Deps are the collaborators of a session
type Deps struct {
	Scanner   Scanner
	Transfers Transfers
	Store     BaselineStore

	// Contents enables Preview; nil disables it
	Contents Contents
}

// Summary describes the last synchronization run
type Summary struct {
	ID        string
	Started   time.Time
	Ended     time.Time
	Completed int
	Failed    int
	Bytes     int64
	Stopped   bool
	Errors    []string
}

// Option configures a Session
type Option func(*Session)

// WithListener subscribes to session events
func WithListener(l Listener) Option {
	return func(s *Session) { s.listener = l }
}

// WithConflictStrategy overrides the publication's conflict strategy
func WithConflictStrategy(strategy domain.ConflictStrategy) Option {
	return func(s *Session) { s.strategy = strategy }
}

// WithCloseTimeout bounds how long Close waits for in-flight work
func WithCloseTimeout(d time.Duration) Option {
	return func(s *Session) { s.closeTimeout = d }
}

// Session reconciles one publication. All methods are safe for concurrent
// use; items returned by Items are shared with the session and are only
// mutated under its lock.
type Session struct {
	pub          domain.Publication
	deps         Deps
	strategy     domain.ConflictStrategy
	resolver     conflict.Resolver
	listener     Listener
	closeTimeout time.Duration
	log          logger.Logger

	mu         sync.Mutex
	phase      Phase
	items      []domain.Item
	loading    *domain.LoadingItem
	active     domain.Stopper
	run        *syncRun
	generation uint64
	last       *Summary

	// outstanding counts asynchronous operations; idle is closed at zero
	outstanding int
	idle        chan struct{}
}

// New creates a session in PhaseInitial
func New(pub domain.Publication, deps Deps, opts ...Option) *Session {
	idle := make(chan struct{})
	close(idle)
	s := &Session{
		pub:          pub,
		deps:         deps,
		strategy:     pub.ConflictStrategy,
		resolver:     conflict.NewDefaultResolver(),
		closeTimeout: 10 * time.Second,
		log:          logger.With("component", "session", "publication", pub.Name),
		idle:         idle,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.strategy == "" {
		s.strategy = domain.ConflictManual
	}
	return s
}

// Publication returns the publication this session reconciles
func (s *Session) Publication() domain.Publication {
	return s.pub
}

// Phase returns the current phase
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Items returns a snapshot of the working set in display order
func (s *Session) Items() []domain.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Item, len(s.items))
	copy(out, s.items)
	return out
}

// ChangeItems returns the change items of the working set
func (s *Session) ChangeItems() []*domain.ChangeItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changeItems()
}

// Conflicts returns the change items still in conflict
func (s *Session) Conflicts() []*domain.ChangeItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.ChangeItem
	for _, c := range s.changeItems() {
		if c.HasConflict() {
			out = append(out, c)
		}
	}
	return out
}

// LastRun returns the summary of the most recent synchronization
func (s *Session) LastRun() (Summary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Summary{}, false
	}
	return *s.last, true
}

// SetChecked selects or deselects an item for synchronization
func (s *Session) SetChecked(item *domain.ChangeItem, checked bool) error {
	return s.editItem("SetChecked", item, func() error {
		item.Checked = checked
		return nil
	})
}

// CheckAll selects every change item
func (s *Session) CheckAll() error {
	return s.checkAll(true)
}

// UncheckAll deselects every change item
func (s *Session) UncheckAll() error {
	return s.checkAll(false)
}

func (s *Session) checkAll(checked bool) error {
	var err error
	s.mutate(func(q *queue) {
		if !s.editable() {
			err = invalidPhase("selection", s.phase)
			return
		}
		for _, c := range s.changeItems() {
			if c.Checked != checked {
				c.Checked = checked
				q.add(ItemUpdated{Item: c})
			}
		}
	})
	return err
}

// ForceUpload makes the local copy of item win
func (s *Session) ForceUpload(item *domain.ChangeItem) error {
	return s.editItem("ForceUpload", item, item.ForceUpload)
}

// ForceDownload makes the remote copy of item win
func (s *Session) ForceDownload(item *domain.ChangeItem) error {
	return s.editItem("ForceDownload", item, item.ForceDownload)
}

// ResolveConflict resolves a conflicting item toward one side
func (s *Session) ResolveConflict(item *domain.ChangeItem, r domain.Resolution) error {
	return s.editItem("ResolveConflict", item, func() error {
		return item.ResolveConflict(r)
	})
}

// editable reports whether items may be changed; s.mu must be held
func (s *Session) editable() bool {
	return s.phase == PhaseDisplayingChanges || s.phase == PhaseFinished
}

// editItem applies fn to a member of the working set
func (s *Session) editItem(op string, item *domain.ChangeItem, fn func() error) error {
	var err error
	s.mutate(func(q *queue) {
		if !s.editable() {
			err = invalidPhase(op, s.phase)
			return
		}
		if !s.contains(item) {
			err = fmt.Errorf("%w: %s", domain.ErrItemNotFound, describe(item))
			return
		}
		before := item.SyncType
		if err = fn(); err != nil {
			return
		}
		if item.SyncType != before {
			item.StatusMessage = item.SyncType.Description()
		}
		q.add(ItemUpdated{Item: item})
	})
	return err
}

// Abort stops the running scan or transfer batch.
// The session reaches its next resting phase asynchronously.
func (s *Session) Abort() error {
	s.mu.Lock()
	switch s.phase {
	case PhaseFetchingChanges, PhaseDownloading, PhaseUploading:
	default:
		p := s.phase
		s.mu.Unlock()
		return invalidPhase("Abort", p)
	}
	loading, active, run := s.loading, s.active, s.run
	s.mu.Unlock()

	// Handles deliver callbacks that take s.mu; stop them unlocked.
	s.stopAll(loading, active, run)
	s.log.Info("Abort requested")
	return nil
}

func (s *Session) stopAll(loading *domain.LoadingItem, active domain.Stopper, run *syncRun) {
	if run != nil {
		run.stop()
	}
	if loading != nil {
		loading.Abort()
	}
	if active != nil {
		active.Stop()
	}
}

// Wait blocks until no scan or batch is running
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops in-flight work, discards late callbacks and returns the session to INITIAL
func (s *Session) Close() {
	s.mu.Lock()
	loading, active, run := s.loading, s.active, s.run
	s.mu.Unlock()
	s.stopAll(loading, active, run)

	ctx, cancel := context.WithTimeout(context.Background(), s.closeTimeout)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		s.log.Warn("Close timed out waiting for in-flight work", "error", err)
	}

	s.mutate(func(q *queue) {
		s.generation++
		s.items = nil
		s.loading = nil
		s.active = nil
		s.run = nil
		q.add(Cleared{})
		s.setPhase(q, PhaseInitial)
	})
}

// op tracks one asynchronous operation for Wait
type op struct {
	gen  uint64
	once sync.Once
}

// acquire registers an asynchronous operation; s.mu must be held
func (s *Session) acquire() *op {
	if s.outstanding == 0 {
		s.idle = make(chan struct{})
	}
	s.outstanding++
	return &op{gen: s.generation}
}

func (s *Session) release(o *op) {
	o.once.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.outstanding--
		if s.outstanding == 0 {
			close(s.idle)
		}
	})
}

// current reports whether o belongs to the live generation; s.mu must be held
func (s *Session) current(o *op) bool {
	return o.gen == s.generation
}

// mutate runs fn under the lock and then delivers the queued events
func (s *Session) mutate(fn func(q *queue)) {
	q := &queue{}
	func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		fn(q)
	}()
	s.emit(q.events)
}

func (s *Session) emit(events []Event) {
	if s.listener == nil {
		return
	}
	for _, e := range events {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("Listener panicked", "event", fmt.Sprintf("%T", e), "panic", r)
				}
			}()
			s.listener(e)
		}()
	}
}

// recoverPanic parks the session after an unexpected panic in a callback
func (s *Session) recoverPanic(o *op, park Phase) {
	r := recover()
	if r == nil {
		return
	}
	s.log.Error("Recovered panic in session callback", "panic", r, "stack", string(debug.Stack()))
	s.mutate(func(q *queue) {
		if !s.current(o) {
			return
		}
		s.active = nil
		s.run = nil
		s.dropLoading(q)
		s.appendLog(q, domain.LogError, fmt.Sprintf("Internal error: %v", r))
		s.setPhase(q, park)
	})
	s.release(o)
}

// The helpers below require s.mu.

func (s *Session) setPhase(q *queue, p Phase) {
	if s.phase == p {
		return
	}
	from := s.phase
	s.phase = p
	s.log.Debug("Phase changed", "from", from.String(), "to", p.String())
	q.add(PhaseChanged{From: from, To: p})
}

func (s *Session) appendItems(q *queue, items ...domain.Item) {
	if len(items) == 0 {
		return
	}
	s.items = append(s.items, items...)
	q.add(ItemsAppended{Items: items})
}

func (s *Session) appendLog(q *queue, level domain.LogLevel, msg string) {
	l := domain.NewLogItem(level, msg)
	s.items = append(s.items, l)
	q.add(Logged{Item: l})
}

func (s *Session) removeItem(q *queue, item domain.Item) {
	for i, it := range s.items {
		if it == item {
			s.items = append(s.items[:i], s.items[i+1:]...)
			q.add(ItemRemoved{Item: item})
			return
		}
	}
}

func (s *Session) dropLoading(q *queue) {
	if s.loading != nil {
		s.removeItem(q, s.loading)
		s.loading = nil
	}
}

func (s *Session) changeItems() []*domain.ChangeItem {
	var out []*domain.ChangeItem
	for _, it := range s.items {
		if c, ok := it.(*domain.ChangeItem); ok {
			out = append(out, c)
		}
	}
	return out
}

func (s *Session) contains(item domain.Item) bool {
	for _, it := range s.items {
		if it == item {
			return true
		}
	}
	return false
}

func describe(item *domain.ChangeItem) string {
	if item == nil {
		return "<nil>"
	}
	return item.RelativePath
}

func newRunID() string {
	return uuid.NewString()
}

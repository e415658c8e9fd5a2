package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/Ning0612/pubsync/internal/adapter"
	"github.com/Ning0612/pubsync/internal/adapter/local"
	"github.com/Ning0612/pubsync/internal/config"
	"github.com/Ning0612/pubsync/internal/core/classifier"
	"github.com/Ning0612/pubsync/internal/core/filter"
	"github.com/Ning0612/pubsync/internal/domain"
	"github.com/Ning0612/pubsync/internal/lock"
	"github.com/Ning0612/pubsync/internal/logger"
	"github.com/Ning0612/pubsync/internal/session"
	"github.com/Ning0612/pubsync/internal/state"
	"github.com/Ning0612/pubsync/internal/transfer"
)

// Service builds workspaces for configured publications and records their history
type Service struct {
	config  *config.Config
	factory adapter.Factory
	state   *state.Manager
	log     logger.Logger
}

// Option configures a Service
type Option func(*Service)

// WithFactory replaces the transport factory
func WithFactory(f adapter.Factory) Option {
	return func(s *Service) { s.factory = f }
}

// New creates a service and opens the state database
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	s := &Service{
		config:  cfg,
		factory: NewTransportFactory(),
		log:     logger.With("component", "service"),
	}
	for _, opt := range opts {
		opt(s)
	}

	stateDir := cfg.Settings.StateDir
	if stateDir == "" {
		stateDir = filepath.Join(config.AppDir(), "state")
	}
	mgr, err := state.NewManager(stateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create state manager: %w", err)
	}
	s.state = mgr
	return s, nil
}

// Config returns the loaded configuration
func (s *Service) Config() *config.Config {
	return s.config
}

// History returns the most recent runs of a publication, or of every
// publication when name is empty
func (s *Service) History(name string, limit int) ([]state.ExecutionRecord, error) {
	if name == "" {
		return s.state.GetAllHistory(limit)
	}
	if _, err := s.config.GetPublication(name); err != nil {
		return nil, err
	}
	return s.state.GetHistory(name, limit)
}

// LastSuccess returns the latest successful run of a publication, or nil
func (s *Service) LastSuccess(name string) (*state.ExecutionRecord, error) {
	if _, err := s.config.GetPublication(name); err != nil {
		return nil, err
	}
	return s.state.GetLastSuccess(name)
}

// ResetBaseline forgets everything recorded about a publication. The next
// reconciliation treats both trees as new.
func (s *Service) ResetBaseline(ctx context.Context, name string) error {
	pub, err := s.config.GetPublication(name)
	if err != nil {
		return err
	}
	fl, err := s.lockPublication(ctx, pub.Name, "reset", 0)
	if err != nil {
		return err
	}
	defer fl.Release()
	return s.state.ClearBaseline(ctx, pub.Name)
}

// Close closes the state database
func (s *Service) Close() error {
	return s.state.Close()
}

// Workspace is an open publication: both adapters, the publication lock
// and a reconciliation session. It holds the lock until Close.
type Workspace struct {
	*session.Session

	svc       *Service
	pub       domain.Publication
	local     adapter.Adapter
	remote    adapter.Adapter
	transfers *transfer.Coordinator
	lock      *lock.FileLock
	log       logger.Logger
}

// Open locks a publication and prepares a session for it. operation is
// recorded in the lock so other processes can report who holds it.
func (s *Service) Open(ctx context.Context, name, operation string, opts ...session.Option) (*Workspace, error) {
	return s.openWaiting(ctx, name, operation, 0, opts)
}

// openWaiting is Open that waits up to wait for another holder of the lock
func (s *Service) openWaiting(ctx context.Context, name, operation string, wait time.Duration, opts []session.Option) (*Workspace, error) {
	pub, err := s.config.GetPublication(name)
	if err != nil {
		return nil, err
	}

	fl, err := s.lockPublication(ctx, pub.Name, operation, wait)
	if err != nil {
		return nil, err
	}

	w, err := s.open(ctx, *pub, fl, opts)
	if err != nil {
		fl.Release()
		return nil, err
	}
	return w, nil
}

func (s *Service) lockPublication(ctx context.Context, name, operation string, wait time.Duration) (*lock.FileLock, error) {
	fl, err := lock.NewFileLock(s.config.Settings.LockDir, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create file lock: %w", err)
	}
	if wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
		err = fl.AcquireContext(ctx, operation)
	} else {
		err = fl.Acquire(operation)
	}
	if err != nil {
		if lock.IsLockError(err) {
			return nil, fmt.Errorf("%w: %w", domain.ErrSyncInProgress, err)
		}
		return nil, err
	}
	return fl, nil
}

func (s *Service) open(ctx context.Context, pub domain.Publication, fl *lock.FileLock, opts []session.Option) (*Workspace, error) {
	transport, err := s.config.GetTransport(pub.Transport)
	if err != nil {
		return nil, fmt.Errorf("publication %s: %w", pub.Name, err)
	}
	if !s.factory.Supports(transport.Type) {
		return nil, fmt.Errorf("unsupported transport type: %s", transport.Type)
	}

	localAdp, err := local.New(pub.LocalRoot)
	if err != nil {
		return nil, fmt.Errorf("local root %s: %w", pub.LocalRoot, err)
	}
	remoteAdp, err := s.factory.Create(ctx, *transport, pub.RemoteRoot)
	if err != nil {
		localAdp.Close()
		return nil, err
	}

	f, err := s.filter(ctx, pub, localAdp)
	if err != nil {
		localAdp.Close()
		remoteAdp.Close()
		return nil, err
	}

	copts := classifier.DefaultOptions()
	copts.Filter = f
	copts.CompareContent = s.config.Settings.CompareContent

	coord := transfer.NewCoordinator(localAdp, remoteAdp, transfer.Options{
		Concurrency: s.config.Settings.Concurrency,
	})

	sess := session.New(pub, session.Deps{
		Scanner:   classifier.New(localAdp, remoteAdp, copts),
		Transfers: coord,
		Store:     s.state,
		Contents:  coord,
	}, opts...)

	return &Workspace{
		Session:   sess,
		svc:       s,
		pub:       pub,
		local:     localAdp,
		remote:    remoteAdp,
		transfers: coord,
		lock:      fl,
		log:       logger.With("component", "workspace", "publication", pub.Name),
	}, nil
}

// filter combines the publication's patterns with the local ignore file
func (s *Service) filter(ctx context.Context, pub domain.Publication, localAdp adapter.Adapter) (*filter.Filter, error) {
	var lines []string
	r, err := localAdp.Read(ctx, filter.IgnoreFileName)
	switch {
	case err == nil:
		lines, err = filter.ReadIgnoreLines(r)
		r.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", filter.IgnoreFileName, err)
		}
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("read %s: %w", filter.IgnoreFileName, err)
	}
	return filter.ForPublication(pub, lines...)
}

// Reconcile runs a status check and waits for it to finish
func (w *Workspace) Reconcile(ctx context.Context) error {
	if err := w.StartReconciliation(ctx); err != nil {
		return err
	}
	return w.Wait(ctx)
}

// Sync applies the checked items, waits for the run and records it in the
// history. It returns a nil summary when nothing required synchronization.
func (w *Workspace) Sync(ctx context.Context) (*session.Summary, error) {
	if w.Phase() == session.PhaseFinished && len(w.ChangeItems()) == 0 {
		return nil, nil
	}
	if err := w.Synchronize(ctx); err != nil {
		return nil, err
	}
	if err := w.Wait(ctx); err != nil {
		if abortErr := w.Abort(); abortErr == nil {
			w.Wait(context.Background())
		}
		return nil, err
	}

	summary, ok := w.LastRun()
	if !ok {
		return nil, fmt.Errorf("synchronization of %s produced no result", w.pub.Name)
	}
	w.record(summary)
	return &summary, nil
}

func (w *Workspace) record(summary session.Summary) {
	rec := state.ExecutionRecord{
		Publication: w.pub.Name,
		StartTime:   summary.Started,
		EndTime:     summary.Ended,
		Status:      runStatus(summary),
		FilesSynced: summary.Completed,
		BytesSynced: summary.Bytes,
		Error:       joinErrors(summary.Errors),
	}
	if err := w.svc.state.SaveExecution(rec); err != nil {
		w.log.Warn("Could not record execution", "error", err)
	}
}

func runStatus(s session.Summary) state.Status {
	switch {
	case s.Failed == 0 && !s.Stopped && len(s.Errors) == 0:
		return state.StatusSuccess
	case s.Completed > 0:
		return state.StatusPartial
	default:
		return state.StatusFailed
	}
}

func joinErrors(errs []string) string {
	switch len(errs) {
	case 0:
		return ""
	case 1:
		return errs[0]
	}
	return fmt.Sprintf("%s (and %d more)", errs[0], len(errs)-1)
}

// Close ends the session, closes both adapters and releases the lock
func (w *Workspace) Close() error {
	w.Session.Close()

	var errs []error
	if err := w.local.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := w.remote.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := w.lock.Release(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

var _ io.Closer = (*Workspace)(nil)

package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Ning0612/pubsync/internal/core/filter"
	"github.com/Ning0612/pubsync/internal/domain"
	"github.com/Ning0612/pubsync/internal/logger"
)

// DefaultDebounce is how long a file must stay quiet before it is pushed
const DefaultDebounce = 500 * time.Millisecond

// Pusher uploads a saved file of a publication
type Pusher interface {
	// PushSaved pushes one file given relative to the publication's local root
	PushSaved(ctx context.Context, publication, rel string) error
}

// Config contains watcher configuration
type Config struct {
	// Publications to watch; only their local roots are observed
	Publications []domain.Publication

	// Debounce coalesces bursts of writes to the same file
	Debounce time.Duration
}

// Status represents the current state of a watcher
type Status struct {
	Running          bool
	WatchedDirs      int
	Pending          int
	LastPushTime     time.Time
	TotalPushes      int
	SuccessfulPushes int
	FailedPushes     int
	SkippedPushes    int
	LastError        string
}

type root struct {
	pub    domain.Publication
	path   string
	filter *filter.Filter
}

// Watcher pushes files of auto-sync publications as soon as they are saved
type Watcher struct {
	config Config
	pusher Pusher
	roots  []root
	log    logger.Logger

	// Runtime state
	mu          sync.RWMutex
	fsw         *fsnotify.Watcher
	running     bool
	stopped     bool
	stopOnce    sync.Once
	closeOnce   sync.Once
	stopChan    chan struct{}
	stoppedChan chan struct{}
	pending     map[string]time.Time
	watched     map[string]bool

	// Statistics
	stats struct {
		lastPushTime     time.Time
		totalPushes      int
		successfulPushes int
		failedPushes     int
		skippedPushes    int
		lastError        string
	}
}

// New creates a watcher for the given publications
func New(config Config, pusher Pusher) (*Watcher, error) {
	if pusher == nil {
		return nil, fmt.Errorf("pusher cannot be nil")
	}
	if len(config.Publications) == 0 {
		return nil, fmt.Errorf("no publications to watch")
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}

	w := &Watcher{
		config:      config,
		pusher:      pusher,
		log:         logger.With("component", "watch"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
		pending:     make(map[string]time.Time),
		watched:     make(map[string]bool),
	}

	for _, pub := range config.Publications {
		abs, err := filepath.Abs(pub.LocalRoot)
		if err != nil {
			return nil, err
		}
		f, err := filter.ForPublication(pub, readIgnoreFile(abs)...)
		if err != nil {
			return nil, fmt.Errorf("publication %s: %w", pub.Name, err)
		}
		w.roots = append(w.roots, root{pub: pub, path: abs, filter: f})
	}
	return w, nil
}

func readIgnoreFile(dir string) []string {
	fh, err := os.Open(filepath.Join(dir, filter.IgnoreFileName))
	if err != nil {
		return nil
	}
	defer fh.Close()
	lines, _ := filter.ReadIgnoreLines(fh)
	return lines
}

// Start adds every directory under the watched roots and begins the event loop
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher is already running")
	}
	if w.stopped {
		return fmt.Errorf("watcher cannot be restarted after stop")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	w.fsw = fsw

	for _, r := range w.roots {
		if err := w.addTree(r, r.path, false); err != nil {
			fsw.Close()
			return fmt.Errorf("watch %s: %w", r.path, err)
		}
	}

	w.running = true
	w.log.Info("Watching for saved files", "publications", len(w.roots), "directories", len(w.watched))

	go w.run(ctx)
	return nil
}

// addTree watches dir and every allowed directory beneath it. Files already
// present are queued when markFiles is set, since they may have been written
// before the watch was added. w.mu must be held.
func (w *Watcher) addTree(r root, dir string, markFiles bool) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			if markFiles {
				if rel, ok := relTo(r.path, p); ok && r.filter.Allow(rel, false) {
					w.pending[p] = time.Now()
				}
			}
			return nil
		}
		if p != r.path {
			rel, ok := relTo(r.path, p)
			if !ok || !r.filter.Allow(rel, true) {
				return filepath.SkipDir
			}
		}
		if w.watched[p] {
			return nil
		}
		if err := w.fsw.Add(p); err != nil {
			return err
		}
		w.watched[p] = true
		return nil
	})
}

// run is the main event loop
func (w *Watcher) run(ctx context.Context) {
	defer w.closeOnce.Do(func() {
		w.mu.Lock()
		w.stopped = true
		w.running = false
		w.fsw.Close()
		w.mu.Unlock()
		close(w.stoppedChan)
	})

	ticker := time.NewTicker(w.config.Debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("File watcher error", "error", err)
		case now := <-ticker.C:
			w.flush(ctx, now)
		}
	}
}

// handle records writes of allowed files and follows new directories
func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return
	}
	r, rel, ok := w.match(ev.Name)
	if !ok {
		return
	}

	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if info.IsDir() {
		if !r.filter.Allow(rel, true) {
			return
		}
		if err := w.addTree(r, ev.Name, true); err != nil {
			w.log.Warn("Cannot watch new directory", "path", ev.Name, "error", err)
		}
		return
	}
	if !r.filter.Allow(rel, false) {
		return
	}
	w.pending[ev.Name] = time.Now()
}

// match finds the publication owning an absolute path; the deepest root wins
func (w *Watcher) match(p string) (root, string, bool) {
	var best root
	var bestRel string
	found := false
	for _, r := range w.roots {
		rel, ok := relTo(r.path, p)
		if !ok || rel == "" {
			continue
		}
		if !found || len(r.path) > len(best.path) {
			best, bestRel, found = r, rel, true
		}
	}
	return best, bestRel, found
}

func relTo(base, p string) (string, bool) {
	rel, err := filepath.Rel(base, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	if rel == "." {
		return "", true
	}
	return filepath.ToSlash(rel), true
}

// flush pushes files that have been quiet for the debounce interval
func (w *Watcher) flush(ctx context.Context, now time.Time) {
	w.mu.Lock()
	var due []string
	for p, t := range w.pending {
		if now.Sub(t) >= w.config.Debounce {
			due = append(due, p)
			delete(w.pending, p)
		}
	}
	w.mu.Unlock()

	for _, p := range due {
		r, rel, ok := w.match(p)
		if !ok {
			continue
		}
		w.push(ctx, r, rel)
	}
}

func (w *Watcher) push(ctx context.Context, r root, rel string) {
	err := w.pusher.PushSaved(ctx, r.pub.Name, rel)

	w.mu.Lock()
	w.stats.lastPushTime = time.Now()
	w.stats.totalPushes++
	switch {
	case err == nil:
		w.stats.successfulPushes++
		w.stats.lastError = ""
	case errors.Is(err, domain.ErrNothingToUpload):
		// saved without changes
		w.stats.skippedPushes++
	default:
		w.stats.failedPushes++
		w.stats.lastError = err.Error()
	}
	w.mu.Unlock()

	switch {
	case err == nil:
		w.log.Info("Pushed saved file", "publication", r.pub.Name, "path", rel)
	case errors.Is(err, domain.ErrNothingToUpload):
		w.log.Debug("Saved file unchanged", "publication", r.pub.Name, "path", rel)
	case errors.Is(err, domain.ErrSyncConflict):
		w.log.Warn("Saved file not pushed", "publication", r.pub.Name, "path", rel, "reason", err)
	default:
		w.log.Error("Push of saved file failed", "publication", r.pub.Name, "path", rel, "error", err)
	}
}

// Stop gracefully stops the watcher
func (w *Watcher) Stop() error {
	w.mu.RLock()
	if !w.running {
		w.mu.RUnlock()
		return fmt.Errorf("watcher is not running")
	}
	w.mu.RUnlock()

	// Use sync.Once to ensure stop channel is closed only once
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})

	// Wait for the loop to exit
	<-w.stoppedChan
	return nil
}

// Done is closed when the event loop has exited
func (w *Watcher) Done() <-chan struct{} {
	return w.stoppedChan
}

// Status returns the current watcher status
func (w *Watcher) Status() *Status {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return &Status{
		Running:          w.running,
		WatchedDirs:      len(w.watched),
		Pending:          len(w.pending),
		LastPushTime:     w.stats.lastPushTime,
		TotalPushes:      w.stats.totalPushes,
		SuccessfulPushes: w.stats.successfulPushes,
		FailedPushes:     w.stats.failedPushes,
		SkippedPushes:    w.stats.skippedPushes,
		LastError:        w.stats.lastError,
	}
}

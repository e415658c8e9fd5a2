package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Ning0612/pubsync/internal/domain"
	"github.com/Ning0612/pubsync/internal/logger"
	"github.com/Ning0612/pubsync/internal/progress"
)

// Endpoint is one side of a transfer
type Endpoint interface {
	Read(ctx context.Context, path string) (io.ReadCloser, error)
	// Write must leave either the complete new content or the previous state
	Write(ctx context.Context, path string, r io.Reader) error
	Mkdir(ctx context.Context, path string) error
	Stat(ctx context.Context, path string) (domain.FileInfo, error)
	DeleteAll(ctx context.Context, path string) error
}

// Direction of a batch
type Direction int

const (
	Download Direction = iota
	Upload
)

// String returns the string representation of the direction
func (d Direction) String() string {
	if d == Upload {
		return "upload"
	}
	return "download"
}

func (d Direction) verb() string {
	if d == Upload {
		return "Uploading"
	}
	return "Downloading"
}

// Status is the terminal outcome of a batch
type Status int

const (
	StatusSuccess Status = iota
	StatusError
	StatusStopped
)

// String returns the string representation of the status
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Pair is one path to transfer. The URIs identify the two sides to observers.
type Pair struct {
	Path      string
	LocalURI  string
	RemoteURI string

	// Dir pairs are created rather than copied
	Dir bool

	// Size weights progress (0 when unknown)
	Size int64
}

// Observer receives batch events. Item methods may be called concurrently
// from worker goroutines; OnItemStarting always precedes the matching
// OnItemCompleted or OnItemFailed.
type Observer interface {
	OnProgress(label string, percent int)
	OnItemStarting(localURI, remoteURI string)
	OnItemCompleted(localURI, remoteURI string)
	OnItemFailed(localURI, remoteURI, message string)
	// OnDone is called exactly once per batch
	OnDone(result Result)
}

// Result is the terminal report of a batch
type Result struct {
	Status  Status
	Message string

	// Entries holds post-transfer fingerprints of every completed pair
	Entries []domain.BaselineEntry

	Completed int
	Failed    int
	Bytes     int64
}

// Options configures a Coordinator
type Options struct {
	// Concurrency bounds parallel file transfers
	Concurrency int

	// ProgressInterval throttles byte progress notifications
	ProgressInterval time.Duration
}

// DefaultOptions returns the recommended options
func DefaultOptions() Options {
	return Options{
		Concurrency:      4,
		ProgressInterval: 100 * time.Millisecond,
	}
}

// Coordinator moves batches of paths between a local and a remote endpoint
type Coordinator struct {
	local  Endpoint
	remote Endpoint
	opts   Options
	log    logger.Logger
}

// NewCoordinator creates a coordinator between two endpoints
func NewCoordinator(local, remote Endpoint, opts Options) *Coordinator {
	def := DefaultOptions()
	if opts.Concurrency <= 0 {
		opts.Concurrency = def.Concurrency
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = def.ProgressInterval
	}
	return &Coordinator{
		local:  local,
		remote: remote,
		opts:   opts,
		log:    logger.With("component", "transfer"),
	}
}

// Operation is a running batch
type Operation struct {
	cancel  context.CancelFunc
	done    chan struct{}
	stopped atomic.Bool
}

// Stop requests cancellation. Safe to call repeatedly and after completion.
func (o *Operation) Stop() {
	o.stopped.Store(true)
	o.cancel()
}

// Done is closed after OnDone returns
func (o *Operation) Done() <-chan struct{} {
	return o.done
}

// Download copies remote content into the local tree
func (c *Coordinator) Download(ctx context.Context, pairs []Pair, obs Observer) *Operation {
	return c.start(ctx, Download, pairs, obs)
}

// Upload copies local content into the remote tree
func (c *Coordinator) Upload(ctx context.Context, pairs []Pair, obs Observer) *Operation {
	return c.start(ctx, Upload, pairs, obs)
}

// DeleteLocal removes a local file or directory tree; a missing path is success
func (c *Coordinator) DeleteLocal(ctx context.Context, path string) error {
	return deleteAll(ctx, c.local, path)
}

// DeleteRemote removes a remote file or directory tree; a missing path is success
func (c *Coordinator) DeleteRemote(ctx context.Context, path string) error {
	return deleteAll(ctx, c.remote, path)
}

// OpenLocal reads a local file
func (c *Coordinator) OpenLocal(ctx context.Context, path string) (io.ReadCloser, error) {
	return c.local.Read(ctx, path)
}

// OpenRemote reads a remote file
func (c *Coordinator) OpenRemote(ctx context.Context, path string) (io.ReadCloser, error) {
	return c.remote.Read(ctx, path)
}

func deleteAll(ctx context.Context, ep Endpoint, path string) error {
	if err := ep.DeleteAll(ctx, path); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

func (c *Coordinator) start(ctx context.Context, dir Direction, pairs []Pair, obs Observer) *Operation {
	ctx, cancel := context.WithCancel(ctx)
	op := &Operation{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(op.done)
		defer cancel()

		res := c.run(ctx, op, dir, pairs, obs)
		c.log.Info("Transfer batch finished",
			"direction", dir.String(),
			"status", res.Status.String(),
			"completed", res.Completed,
			"failed", res.Failed,
			"bytes", progress.FormatBytes(res.Bytes))
		obs.OnDone(res)
	}()
	return op
}

// batch collects per-item outcomes from concurrent workers
type batch struct {
	mu        sync.Mutex
	entries   []domain.BaselineEntry
	completed int
	failed    int
	firstErr  string
	bytes     int64
}

func (b *batch) succeed(entry *domain.BaselineEntry, n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if entry != nil {
		b.entries = append(b.entries, *entry)
	}
	b.completed++
	b.bytes += n
}

func (b *batch) fail(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failed++
	if b.firstErr == "" {
		b.firstErr = msg
	}
}

func (c *Coordinator) run(ctx context.Context, op *Operation, dir Direction, pairs []Pair, obs Observer) Result {
	var dirs, files []Pair
	var totalBytes int64
	for _, p := range pairs {
		if p.Dir {
			dirs = append(dirs, p)
		} else {
			files = append(files, p)
			totalBytes += p.Size
		}
	}

	// Parents before children
	sort.SliceStable(dirs, func(i, j int) bool {
		di, dj := strings.Count(dirs[i].Path, "/"), strings.Count(dirs[j].Path, "/")
		if di != dj {
			return di < dj
		}
		return dirs[i].Path < dirs[j].Path
	})

	tracker := progress.NewTracker(obs.OnProgress, dir.verb(), len(pairs), totalBytes, c.opts.ProgressInterval)
	tracker.Report(fmt.Sprintf("%s %d items (%s)", dir.verb(), len(pairs), progress.FormatBytes(totalBytes)))

	b := &batch{}
	started := 0

	for _, p := range dirs {
		if ctx.Err() != nil {
			break
		}
		started++
		obs.OnItemStarting(p.LocalURI, p.RemoteURI)
		if err := c.destination(dir).Mkdir(ctx, p.Path); err != nil {
			b.fail(fmt.Sprintf("%s: %v", p.Path, err))
			obs.OnItemFailed(p.LocalURI, p.RemoteURI, err.Error())
		} else {
			b.succeed(c.entry(ctx, p.Path), 0)
			obs.OnItemCompleted(p.LocalURI, p.RemoteURI)
		}
		tracker.FileDone(0, 0)
	}

	var g errgroup.Group
	g.SetLimit(c.opts.Concurrency)
	for _, p := range files {
		if ctx.Err() != nil {
			break
		}
		started++
		g.Go(func() error {
			c.transferFile(ctx, dir, p, tracker, b, obs)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{
		Entries:   b.entries,
		Completed: b.completed,
		Failed:    b.failed,
		Bytes:     b.bytes,
	}

	switch {
	case op.stopped.Load() || ctx.Err() != nil:
		res.Status = StatusStopped
		res.Message = fmt.Sprintf("Transfer stopped after %d of %d items", started, len(pairs))
	case b.failed > 0:
		res.Status = StatusError
		res.Message = fmt.Sprintf("%d of %d items failed: %s", b.failed, len(pairs), b.firstErr)
	default:
		res.Status = StatusSuccess
		tracker.Report(fmt.Sprintf("%s finished: %d items (%s)", dir.verb(), len(pairs), progress.FormatBytes(b.bytes)))
	}
	return res
}

func (c *Coordinator) transferFile(ctx context.Context, dir Direction, p Pair, tracker *progress.Tracker, b *batch, obs Observer) {
	obs.OnItemStarting(p.LocalURI, p.RemoteURI)

	n, err := c.copy(ctx, dir, p, tracker)
	tracker.FileDone(p.Size, n)
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("transfer stopped: %w", ctx.Err())
		}
		c.log.Warn("Transfer failed", "path", p.Path, "direction", dir.String(), "error", err)
		b.fail(fmt.Sprintf("%s: %v", p.Path, err))
		obs.OnItemFailed(p.LocalURI, p.RemoteURI, err.Error())
		return
	}

	b.succeed(c.entry(ctx, p.Path), n)
	obs.OnItemCompleted(p.LocalURI, p.RemoteURI)
}

func (c *Coordinator) copy(ctx context.Context, dir Direction, p Pair, tracker *progress.Tracker) (int64, error) {
	rc, err := c.source(dir).Read(ctx, p.Path)
	if err != nil {
		return 0, fmt.Errorf("open source: %w", err)
	}
	defer rc.Close()

	r := progress.NewReader(rc, tracker)
	if err := c.destination(dir).Write(ctx, p.Path, r); err != nil {
		return r.N(), fmt.Errorf("write destination: %w", err)
	}
	return r.N(), nil
}

// entry fingerprints both sides after a transfer; nil if either side cannot be read
func (c *Coordinator) entry(ctx context.Context, path string) *domain.BaselineEntry {
	l, err := c.local.Stat(ctx, path)
	if err != nil {
		c.log.Warn("Cannot fingerprint local copy", "path", path, "error", err)
		return nil
	}
	r, err := c.remote.Stat(ctx, path)
	if err != nil {
		c.log.Warn("Cannot fingerprint remote copy", "path", path, "error", err)
		return nil
	}
	return &domain.BaselineEntry{Path: path, Type: l.Type, Local: l.Fingerprint(), Remote: r.Fingerprint()}
}

func (c *Coordinator) source(dir Direction) Endpoint {
	if dir == Upload {
		return c.local
	}
	return c.remote
}

func (c *Coordinator) destination(dir Direction) Endpoint {
	if dir == Upload {
		return c.remote
	}
	return c.local
}

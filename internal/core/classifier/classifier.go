package classifier

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/Ning0612/pubsync/internal/adapter"
	"github.com/Ning0612/pubsync/internal/core/checksum"
	"github.com/Ning0612/pubsync/internal/core/diff"
	"github.com/Ning0612/pubsync/internal/core/filter"
	"github.com/Ning0612/pubsync/internal/domain"
	"github.com/Ning0612/pubsync/internal/logger"
)

// FinishedLabel is the final progress label of a completed scan
const FinishedLabel = "Status check finished."

// ErrPartialListing reports directories that could not be listed; items
// outside them were still classified
var ErrPartialListing = errors.New("some directories could not be listed")

// Options configures a Classifier
type Options struct {
	// Filter restricts both trees (nil = everything)
	Filter *filter.Filter

	// Comparer decides whether a side changed since the baseline
	Comparer diff.Comparer

	// Checksum streams content for comparisons
	Checksum *checksum.Calculator

	// CompareContent compares content of files present on both sides without a baseline
	CompareContent bool

	// BatchSize is the number of items per OnItems call
	BatchSize int

	// ProgressInterval throttles OnProgress
	ProgressInterval time.Duration
}

// DefaultOptions returns the recommended options
func DefaultOptions() Options {
	return Options{
		Comparer:         diff.NewDefaultComparer(),
		Checksum:         checksum.NewDefaultCalculator(),
		CompareContent:   true,
		BatchSize:        64,
		ProgressInterval: 100 * time.Millisecond,
	}
}

// Sink receives the output of a scan.
// Callbacks run on the scan goroutine and must not call Stop.
type Sink interface {
	OnProgress(label string, percent int)
	OnItems(items []*domain.ChangeItem)
	// OnAdopted reports files found identical on both sides without a baseline record
	OnAdopted(entries []domain.BaselineEntry)
	// OnDone is called exactly once; err is context.Canceled after Stop
	OnDone(err error)
}

// Result is the outcome of a synchronous classification
type Result struct {
	Items   []*domain.ChangeItem
	Adopted []domain.BaselineEntry

	// Stale baseline paths missing on both sides
	Stale []string
}

// Classifier compares a local and a remote tree against a baseline
type Classifier struct {
	local  adapter.Adapter
	remote adapter.Adapter
	opts   Options
	log    logger.Logger
}

// New creates a classifier over the two trees
func New(local, remote adapter.Adapter, opts Options) *Classifier {
	def := DefaultOptions()
	if opts.Comparer == nil {
		opts.Comparer = def.Comparer
	}
	if opts.Checksum == nil {
		opts.Checksum = def.Checksum
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = def.ProgressInterval
	}
	return &Classifier{
		local:  local,
		remote: remote,
		opts:   opts,
		log:    logger.With("component", "classifier"),
	}
}

// Scan is a running classification
type Scan struct {
	cancel  context.CancelFunc
	done    chan struct{}
	stopped atomic.Bool
}

// Stop cancels the scan. No delivery starts once Stop returns. Stop does not
// block, so sink callbacks may call it.
func (s *Scan) Stop() {
	s.stopped.Store(true)
	s.cancel()
}

// Done is closed after OnDone returns
func (s *Scan) Done() <-chan struct{} {
	return s.done
}

// deliver runs fn unless the scan was stopped
func (s *Scan) deliver(fn func()) bool {
	if s.stopped.Load() {
		return false
	}
	fn()
	return true
}

// Scan starts an asynchronous classification
func (c *Classifier) Scan(ctx context.Context, baseline domain.Baseline, sink Sink) *Scan {
	ctx, cancel := context.WithCancel(ctx)
	s := &Scan{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(s.done)
		defer cancel()

		_, err := c.run(ctx, baseline, &scanOutput{scan: s, sink: sink})
		if s.stopped.Load() {
			err = context.Canceled
		}
		if err != nil {
			c.log.Debug("Scan ended", "error", err)
		}
		sink.OnDone(err)
	}()
	return s
}

// Classify runs a classification to completion.
// On ErrPartialListing the result is still returned.
func (c *Classifier) Classify(ctx context.Context, baseline domain.Baseline) (*Result, error) {
	out := &collectOutput{}
	res, err := c.run(ctx, baseline, out)
	if res != nil {
		res.Items = out.collected
		res.Adopted = out.adoptions
	}
	return res, err
}

// output abstracts the asynchronous sink and the synchronous collector
type output interface {
	progress(label string, percent int) bool
	items(batch []*domain.ChangeItem) bool
	adopted(entries []domain.BaselineEntry) bool
}

type scanOutput struct {
	scan *Scan
	sink Sink
}

func (o *scanOutput) progress(label string, percent int) bool {
	return o.scan.deliver(func() { o.sink.OnProgress(label, percent) })
}

func (o *scanOutput) items(batch []*domain.ChangeItem) bool {
	return o.scan.deliver(func() { o.sink.OnItems(batch) })
}

func (o *scanOutput) adopted(entries []domain.BaselineEntry) bool {
	return o.scan.deliver(func() { o.sink.OnAdopted(entries) })
}

type collectOutput struct {
	collected []*domain.ChangeItem
	adoptions []domain.BaselineEntry
}

func (o *collectOutput) progress(string, int) bool { return true }

func (o *collectOutput) items(batch []*domain.ChangeItem) bool {
	o.collected = append(o.collected, batch...)
	return true
}

func (o *collectOutput) adopted(entries []domain.BaselineEntry) bool {
	o.adoptions = append(o.adoptions, entries...)
	return true
}

func (c *Classifier) run(ctx context.Context, baseline domain.Baseline, out output) (*Result, error) {
	prog := &progressThrottle{out: out, interval: c.opts.ProgressInterval}

	prog.force("Listing local files...", 0)
	localTree, err := Snapshot(ctx, c.local, c.opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("list local tree: %w", err)
	}

	prog.force("Listing remote files...", 5)
	remoteTree, err := Snapshot(ctx, c.remote, c.opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("list remote tree: %w", err)
	}
	prog.force("Comparing files...", 10)

	paths := mapset.NewThreadUnsafeSet[string]()
	for p := range localTree.Entries {
		paths.Add(p)
	}
	for p := range remoteTree.Entries {
		paths.Add(p)
	}
	for p, e := range baseline {
		if c.opts.Filter.Allow(p, e.Type == domain.FileTypeDirectory) {
			paths.Add(p)
		}
	}
	sorted := paths.ToSlice()
	sort.Strings(sorted)

	res := &Result{}
	batch := make([]*domain.ChangeItem, 0, c.opts.BatchSize)
	var adopted []domain.BaselineEntry

	flush := func() bool {
		if len(adopted) > 0 {
			if !out.adopted(adopted) {
				return false
			}
			adopted = nil
		}
		if len(batch) > 0 {
			if !out.items(batch) {
				return false
			}
			batch = make([]*domain.ChangeItem, 0, c.opts.BatchSize)
		}
		return true
	}

	total := len(sorted)
	for i, p := range sorted {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Contents of an unreadable directory are unknown on that side
		if localTree.Covers(p) || remoteTree.Covers(p) {
			continue
		}

		var l, r *domain.FileInfo
		if info, ok := localTree.Entries[p]; ok {
			l = &info
		}
		if info, ok := remoteTree.Entries[p]; ok {
			r = &info
		}
		base, hasBase := baseline.Get(p)

		item, adopt, stale := c.classify(ctx, p, l, r, base, hasBase)
		switch {
		case item != nil:
			batch = append(batch, item)
		case adopt != nil:
			adopted = append(adopted, *adopt)
		case stale:
			res.Stale = append(res.Stale, p)
		}

		percent := 10 + 90*(i+1)/total
		if len(batch) >= c.opts.BatchSize {
			if !flush() {
				return nil, context.Canceled
			}
			prog.force(checkedLabel(i+1, total, p), percent)
		} else {
			prog.update(checkedLabel(i+1, total, p), percent)
		}
	}

	if !flush() {
		return nil, context.Canceled
	}
	prog.force(FinishedLabel, 100)

	unreadable := append(append([]string{}, localTree.Unreadable...), remoteTree.Unreadable...)
	if len(unreadable) > 0 {
		return res, fmt.Errorf("%w: %s", ErrPartialListing, strings.Join(unreadable, ", "))
	}
	return res, nil
}

// classify applies the reconciliation table to one path
func (c *Classifier) classify(ctx context.Context, p string, l, r *domain.FileInfo, base domain.BaselineEntry, hasBase bool) (*domain.ChangeItem, *domain.BaselineEntry, bool) {
	newItem := func(t domain.SyncType) *domain.ChangeItem {
		item := domain.NewChangeItem(p, t)
		item.Local = l
		item.Remote = r
		item.StatusMessage = t.Description()
		return item
	}

	if !hasBase {
		switch {
		case l != nil && r == nil:
			return newItem(pick(l.IsDir(), domain.LocalDirAdded, domain.LocalFileAdded)), nil, false
		case l == nil && r != nil:
			return newItem(pick(r.IsDir(), domain.RemoteDirAdded, domain.RemoteFileAdded)), nil, false
		case l != nil && r != nil:
			if l.Type != r.Type {
				return newItem(domain.ConflictBothModified), nil, false
			}
			if l.IsDir() || c.sameContent(ctx, p, l, r) {
				return nil, &domain.BaselineEntry{Path: p, Type: l.Type, Local: l.Fingerprint(), Remote: r.Fingerprint()}, false
			}
			return newItem(domain.ConflictBothModified), nil, false
		}
		return nil, nil, false
	}

	lc := c.opts.Comparer.Changed(base.Local, l)
	rc := c.opts.Comparer.Changed(base.Remote, r)
	dir := base.Type == domain.FileTypeDirectory

	switch {
	case l != nil && r != nil:
		switch {
		case lc && rc:
			return newItem(domain.ConflictBothModified), nil, false
		case lc:
			return newItem(domain.LocalFileModified), nil, false
		case rc:
			return newItem(domain.RemoteFileModified), nil, false
		}
		return nil, nil, false
	case l == nil && r != nil:
		if rc {
			return newItem(domain.ConflictRemovedLocallyModifiedRemotely), nil, false
		}
		return newItem(pick(dir, domain.LocalDirRemoved, domain.LocalFileRemoved)), nil, false
	case l != nil && r == nil:
		if lc {
			return newItem(domain.ConflictRemovedRemotelyModifiedLocally), nil, false
		}
		return newItem(pick(dir, domain.RemoteDirRemoved, domain.RemoteFileRemoved)), nil, false
	}
	return nil, nil, true
}

// sameContent decides whether two unrecorded files already agree
func (c *Classifier) sameContent(ctx context.Context, p string, l, r *domain.FileInfo) bool {
	if l.Size != r.Size {
		return false
	}
	if !c.opts.CompareContent {
		return c.opts.Comparer.Compare(l, r) == diff.FilesIdentical
	}
	if l.Checksum != "" && l.Checksum == r.Checksum {
		return true
	}

	var same bool
	var err error
	if r.Checksum != "" {
		same, err = c.compareDigest(ctx, p, r.Checksum)
	} else {
		same, err = c.compareBoth(ctx, p)
	}
	if err != nil {
		c.log.Warn("Content comparison failed", "path", p, "error", err)
		return false
	}
	return same
}

func (c *Classifier) compareBoth(ctx context.Context, p string) (bool, error) {
	lr, err := c.local.Read(ctx, p)
	if err != nil {
		return false, err
	}
	defer lr.Close()

	rr, err := c.remote.Read(ctx, p)
	if err != nil {
		return false, err
	}
	defer rr.Close()

	return c.opts.Checksum.Equal(ctx, lr, rr)
}

// compareDigest hashes only the local copy against the MD5 the remote reported
func (c *Classifier) compareDigest(ctx context.Context, p, remoteMD5 string) (bool, error) {
	lr, err := c.local.Read(ctx, p)
	if err != nil {
		return false, err
	}
	defer lr.Close()

	return c.opts.Checksum.Matches(ctx, lr, checksum.MD5, remoteMD5)
}

func pick(dir bool, d, f domain.SyncType) domain.SyncType {
	if dir {
		return d
	}
	return f
}

func checkedLabel(n, total int, p string) string {
	return fmt.Sprintf("Checked %d of %d: '%s'", n, total, p)
}

// progressThrottle keeps percentages monotonic and limits notification rate
type progressThrottle struct {
	out      output
	interval time.Duration
	last     time.Time
	percent  int
}

func (t *progressThrottle) update(label string, percent int) {
	if time.Since(t.last) < t.interval {
		return
	}
	t.force(label, percent)
}

func (t *progressThrottle) force(label string, percent int) {
	if percent < t.percent {
		percent = t.percent
	}
	if percent > 100 {
		percent = 100
	}
	t.percent = percent
	t.last = time.Now()
	t.out.progress(label, percent)
}

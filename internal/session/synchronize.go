package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/Ning0612/pubsync/internal/domain"
	"github.com/Ning0612/pubsync/internal/progress"
	"github.com/Ning0612/pubsync/internal/transfer"
)

// syncRun is one pass of Synchronize. Fields other than ctx, cancel and
// the item sets are guarded by the session lock.
type syncRun struct {
	op     *op
	ctx    context.Context
	cancel context.CancelFunc

	downloads []*domain.ChangeItem
	uploads   []*domain.ChangeItem

	byURI   map[string]*domain.ChangeItem
	summary Summary
}

func (r *syncRun) stop() {
	r.cancel()
}

// Synchronize transfers the checked items: downloads first, then uploads.
// It fails with *ConflictError while any checked item is in conflict.
func (s *Session) Synchronize(ctx context.Context) error {
	if s.deps.Transfers == nil || s.deps.Store == nil {
		return errors.New("session has no transfer coordinator or baseline store")
	}

	var run *syncRun
	var err error
	s.mutate(func(q *queue) {
		if s.phase != PhaseDisplayingChanges {
			err = invalidPhase("Synchronize", s.phase)
			return
		}

		var blocked []string
		var downloads, uploads []*domain.ChangeItem
		for _, c := range s.changeItems() {
			if !c.Checked {
				continue
			}
			switch {
			case c.HasConflict():
				blocked = append(blocked, c.RelativePath)
			case c.SyncType.IsDownload():
				downloads = append(downloads, c)
			case c.SyncType.IsUpload():
				uploads = append(uploads, c)
			}
		}
		if len(blocked) > 0 {
			err = &ConflictError{Paths: blocked}
			return
		}

		s.generation++
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		run = &syncRun{
			op:        s.acquire(),
			ctx:       runCtx,
			cancel:    cancel,
			downloads: downloads,
			uploads:   uploads,
			byURI:     make(map[string]*domain.ChangeItem, len(downloads)+len(uploads)),
			summary:   Summary{ID: newRunID(), Started: time.Now()},
		}
		s.run = run
	})
	if err != nil {
		return err
	}

	s.log.Info("Synchronization started",
		"run", run.summary.ID,
		"downloads", len(run.downloads),
		"uploads", len(run.uploads))

	// A run without downloads goes straight to UPLOADING.
	if len(run.downloads) == 0 {
		s.startBatch(run, PhaseUploading, run.uploads)
	} else {
		s.startBatch(run, PhaseDownloading, run.downloads)
	}
	return nil
}

// startBatch enters phase and hands the non-deletion items to the coordinator.
// Deletions wait for the batch to succeed.
func (s *Session) startBatch(run *syncRun, phase Phase, items []*domain.ChangeItem) {
	defer s.recoverPanic(run.op, PhaseFinished)

	download := phase == PhaseDownloading
	b := &batchObserver{s: s, run: run, phase: phase}
	var pairs []transfer.Pair
	live := true
	s.mutate(func(q *queue) {
		if !s.current(run.op) || s.run != run {
			live = false
			return
		}
		s.setPhase(q, phase)
		for _, c := range items {
			if c.IsDeletion() {
				b.deletes = append(b.deletes, c)
				continue
			}
			p := s.pair(c, download)
			run.byURI[p.LocalURI] = c
			pairs = append(pairs, p)
		}
	})
	if !live {
		s.abandon(run)
		return
	}

	if len(pairs) == 0 {
		b.OnDone(transfer.Result{Status: transfer.StatusSuccess})
		return
	}

	var handle *transfer.Operation
	if download {
		handle = s.deps.Transfers.Download(run.ctx, pairs, b)
	} else {
		handle = s.deps.Transfers.Upload(run.ctx, pairs, b)
	}

	s.mu.Lock()
	if s.current(run.op) && s.run == run && s.phase == phase && !b.finished {
		s.active = handle
	}
	s.mu.Unlock()

	// Abort may have run before the handle was published
	if run.ctx.Err() != nil {
		handle.Stop()
	}
}

// batchObserver relays coordinator callbacks into the working set
type batchObserver struct {
	s       *Session
	run     *syncRun
	phase   Phase
	deletes []*domain.ChangeItem

	// finished is guarded by the session lock
	finished bool
}

func (b *batchObserver) OnProgress(label string, percent int) {
	defer b.s.recoverPanic(b.run.op, PhaseFinished)
	b.s.mutate(func(q *queue) {
		if b.live() {
			q.add(Progress{Label: label, Percent: percent})
		}
	})
}

func (b *batchObserver) OnItemStarting(localURI, remoteURI string) {
	defer b.s.recoverPanic(b.run.op, PhaseFinished)
	b.update(localURI, func(c *domain.ChangeItem) { c.MarkTransferStarting() })
}

func (b *batchObserver) OnItemCompleted(localURI, remoteURI string) {
	defer b.s.recoverPanic(b.run.op, PhaseFinished)
	b.update(localURI, func(c *domain.ChangeItem) { c.MarkTransferCompleted() })
}

func (b *batchObserver) OnItemFailed(localURI, remoteURI, message string) {
	defer b.s.recoverPanic(b.run.op, PhaseFinished)
	b.update(localURI, func(c *domain.ChangeItem) { c.MarkTransferFailed(message) })
}

func (b *batchObserver) OnDone(res transfer.Result) {
	defer b.s.recoverPanic(b.run.op, PhaseFinished)
	b.s.finishBatch(b, res)
}

// live reports whether the batch still owns the session; s.mu must be held
func (b *batchObserver) live() bool {
	return b.s.current(b.run.op) && b.s.run == b.run && !b.finished
}

func (b *batchObserver) update(localURI string, fn func(c *domain.ChangeItem)) {
	b.s.mutate(func(q *queue) {
		if !b.live() {
			return
		}
		c, ok := b.run.byURI[localURI]
		if !ok {
			b.s.log.Warn("Transfer event for unknown item", "uri", localURI)
			return
		}
		fn(c)
		q.add(ItemUpdated{Item: c})
	})
}

// finishBatch runs deletions, persists the baseline and advances the run
func (s *Session) finishBatch(b *batchObserver, res transfer.Result) {
	run := b.run
	live := true
	s.mutate(func(q *queue) {
		if !b.live() {
			live = false
			return
		}
		b.finished = true
		s.active = nil
		run.summary.Completed += res.Completed
		run.summary.Failed += res.Failed
		run.summary.Bytes += res.Bytes
	})
	if !live {
		s.abandon(run)
		return
	}

	name := batchName(b.phase)
	update := domain.BaselineUpdate{Set: res.Entries}
	switch res.Status {
	case transfer.StatusSuccess:
		update.Removed = s.runDeletions(b)
	case transfer.StatusError:
		s.noteFailure(run, fmt.Sprintf("%s failed: %s", name, res.Message))
		s.skipDeletions(run, b.deletes, "Skipped: "+name+" failed")
	case transfer.StatusStopped:
		s.skipDeletions(run, b.deletes, "Skipped: "+name+" stopped")
	}

	// Completed items are recorded even when the batch as a whole failed.
	if !update.IsEmpty() {
		s.persist(run, update)
	}

	if res.Status == transfer.StatusStopped || run.ctx.Err() != nil {
		s.log.Warn("Synchronization stopped", "phase", b.phase.String(), "message", res.Message)
		s.finishRun(run, true, name+" stopped.")
		return
	}
	if b.phase == PhaseDownloading {
		s.startBatch(run, PhaseUploading, run.uploads)
		return
	}
	s.finishRun(run, false, "")
}

// runDeletions deletes sequentially, deepest paths first, and returns the
// paths removed. A directory is left in place while anything beneath it is
// kept: unchecked, transferred in the other direction or not deleted.
func (s *Session) runDeletions(b *batchObserver) []string {
	run := b.run
	deletes := append([]*domain.ChangeItem(nil), b.deletes...)
	sort.SliceStable(deletes, func(i, j int) bool {
		return strings.Count(deletes[i].RelativePath, "/") > strings.Count(deletes[j].RelativePath, "/")
	})

	scheduled := mapset.NewThreadUnsafeSet[string]()
	for _, c := range deletes {
		scheduled.Add(c.RelativePath)
	}
	kept := mapset.NewThreadUnsafeSet[string]()
	s.mu.Lock()
	for _, c := range s.changeItems() {
		if !scheduled.Contains(c.RelativePath) {
			kept.Add(c.RelativePath)
		}
	}
	s.mu.Unlock()

	var removed []string
	for i, c := range deletes {
		if run.ctx.Err() != nil {
			s.skipDeletions(run, deletes[i:], "Skipped: stopped")
			break
		}
		if p, ok := keptBeneath(kept, c.RelativePath); ok {
			msg := fmt.Sprintf("Not deleted: %s is kept", p)
			s.markItem(run, c, func(c *domain.ChangeItem) {
				c.MarkTransferFailed(msg)
				run.summary.Failed++
			})
			s.noteFailure(run, fmt.Sprintf("Could not delete %s: %s is kept", c.RelativePath, p))
			kept.Add(c.RelativePath)
			continue
		}
		s.markItem(run, c, func(c *domain.ChangeItem) { c.MarkTransferStarting() })

		var err error
		if b.phase == PhaseDownloading {
			err = s.deps.Transfers.DeleteLocal(run.ctx, c.RelativePath)
		} else {
			err = s.deps.Transfers.DeleteRemote(run.ctx, c.RelativePath)
		}
		if err != nil {
			s.markItem(run, c, func(c *domain.ChangeItem) {
				c.MarkTransferFailed(err.Error())
				run.summary.Failed++
			})
			s.noteFailure(run, fmt.Sprintf("Could not delete %s: %v", c.RelativePath, err))
			kept.Add(c.RelativePath)
			continue
		}
		s.markItem(run, c, func(c *domain.ChangeItem) {
			c.MarkTransferCompleted()
			run.summary.Completed++
		})
		removed = append(removed, c.RelativePath)
	}
	if len(removed) > 0 {
		s.log.Info("Deleted paths", "phase", b.phase.String(), "count", len(removed))
	}
	return removed
}

// keptBeneath returns the first kept path inside dir, in lexical order
func keptBeneath(kept mapset.Set[string], dir string) (string, bool) {
	prefix := dir + "/"
	var found []string
	kept.Each(func(p string) bool {
		if strings.HasPrefix(p, prefix) {
			found = append(found, p)
		}
		return false
	})
	if len(found) == 0 {
		return "", false
	}
	sort.Strings(found)
	return found[0], true
}

func (s *Session) skipDeletions(run *syncRun, items []*domain.ChangeItem, msg string) {
	for _, c := range items {
		s.markItem(run, c, func(c *domain.ChangeItem) { c.StatusMessage = msg })
	}
}

func (s *Session) markItem(run *syncRun, c *domain.ChangeItem, fn func(c *domain.ChangeItem)) {
	s.mutate(func(q *queue) {
		if !s.current(run.op) || s.run != run {
			return
		}
		fn(c)
		q.add(ItemUpdated{Item: c})
	})
}

func (s *Session) persist(run *syncRun, update domain.BaselineUpdate) {
	// Record what was transferred even after an abort.
	ctx := context.WithoutCancel(run.ctx)
	if err := s.deps.Store.PersistBaseline(ctx, s.pub.Name, update); err != nil {
		s.noteFailure(run, fmt.Sprintf("Could not record synchronization state: %v", err))
		return
	}
	s.log.Debug("Baseline updated", "set", len(update.Set), "removed", len(update.Removed))
}

func (s *Session) noteFailure(run *syncRun, msg string) {
	s.log.Error("Synchronization error", "run", run.summary.ID, "error", msg)
	s.mutate(func(q *queue) {
		if !s.current(run.op) || s.run != run {
			return
		}
		run.summary.Errors = append(run.summary.Errors, msg)
		s.appendLog(q, domain.LogError, msg)
	})
}

// finishRun parks the session in FINISHED
func (s *Session) finishRun(run *syncRun, stopped bool, msg string) {
	var sum Summary
	s.mutate(func(q *queue) {
		if !s.current(run.op) || s.run != run {
			return
		}
		run.summary.Ended = time.Now()
		run.summary.Stopped = stopped
		if msg != "" {
			s.appendLog(q, domain.LogWarn, msg)
		}
		sum = run.summary
		s.last = &sum
		s.run = nil
		s.active = nil
		s.setPhase(q, PhaseFinished)
	})
	run.cancel()
	s.release(run.op)

	s.log.Info("Synchronization finished",
		"run", sum.ID,
		"completed", sum.Completed,
		"failed", sum.Failed,
		"bytes", progress.FormatBytes(sum.Bytes),
		"stopped", sum.Stopped,
		"duration", sum.Ended.Sub(sum.Started).Round(time.Millisecond).String())
}

// abandon releases a run whose generation was discarded by Close
func (s *Session) abandon(run *syncRun) {
	run.cancel()
	s.release(run.op)
}

// pair maps an item to coordinator input; s.mu must be held
func (s *Session) pair(c *domain.ChangeItem, download bool) transfer.Pair {
	src := c.Local
	if download {
		src = c.Remote
	}
	p := transfer.Pair{
		Path:      c.RelativePath,
		LocalURI:  s.pub.LocalURI(c.RelativePath),
		RemoteURI: s.pub.RemoteURI(c.RelativePath),
		Dir:       c.SyncType.IsDir(),
	}
	if src != nil {
		p.Dir = p.Dir || src.IsDir()
		p.Size = src.Size
	}
	return p
}

func batchName(p Phase) string {
	if p == PhaseDownloading {
		return "Download"
	}
	return "Upload"
}

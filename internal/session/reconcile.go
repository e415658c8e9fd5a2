package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/Ning0612/pubsync/internal/core/conflict"
	"github.com/Ning0612/pubsync/internal/domain"
)

const (
	checkingLabel    = "Checking for changes..."
	nothingToSync    = "Nothing requires synchronization."
	statusAborted    = "Status check aborted."
	statusCheckError = "Status check failed: %v"
)

// StartReconciliation clears the working set and starts a scan.
// Scan failures are reported as LogItems, not returned.
func (s *Session) StartReconciliation(ctx context.Context) error {
	if s.deps.Scanner == nil || s.deps.Store == nil {
		return errors.New("session has no scanner or baseline store")
	}

	var o *op
	var loading *domain.LoadingItem
	var err error
	s.mutate(func(q *queue) {
		switch s.phase {
		case PhaseInitial, PhaseDisplayingChanges, PhaseFinished:
		default:
			err = invalidPhase("StartReconciliation", s.phase)
			return
		}
		s.generation++
		s.items = nil
		s.run = nil
		q.add(Cleared{})

		loading = domain.NewLoadingItem(checkingLabel, nil)
		s.loading = loading
		s.appendItems(q, loading)
		s.setPhase(q, PhaseFetchingChanges)
		o = s.acquire()
	})
	if err != nil {
		return err
	}

	s.log.Info("Checking for changes", "local", s.pub.LocalRoot, "remote", s.pub.RemoteRoot)

	// The scan outlives the caller's request.
	scanCtx := context.WithoutCancel(ctx)

	baseline, err := s.deps.Store.LoadBaseline(scanCtx, s.pub.Name)
	if err != nil {
		s.finishScan(o, fmt.Errorf("load baseline: %w", err))
		return nil
	}

	scan := s.deps.Scanner.Scan(scanCtx, baseline, &scanSink{s: s, op: o, ctx: scanCtx})
	loading.SetHandle(scan)
	s.mu.Lock()
	if s.current(o) && s.phase == PhaseFetchingChanges {
		s.active = scan
	}
	s.mu.Unlock()
	return nil
}

// scanSink adapts scan callbacks to session state
type scanSink struct {
	s   *Session
	op  *op
	ctx context.Context
}

func (k *scanSink) OnProgress(label string, percent int) {
	defer k.s.recoverPanic(k.op, PhaseDisplayingChanges)
	k.s.mutate(func(q *queue) {
		if !k.live() {
			return
		}
		if k.s.loading != nil {
			k.s.loading.StatusMessage = label
		}
		q.add(Progress{Label: label, Percent: percent})
	})
}

func (k *scanSink) OnItems(batch []*domain.ChangeItem) {
	defer k.s.recoverPanic(k.op, PhaseDisplayingChanges)
	k.s.mutate(func(q *queue) {
		if !k.live() {
			return
		}
		items := make([]domain.Item, len(batch))
		for i, c := range batch {
			items[i] = c
		}
		k.s.appendItems(q, items...)
	})
}

// live reports whether scan callbacks still reach the working set; s.mu must be held
func (k *scanSink) live() bool {
	if !k.s.current(k.op) || k.s.phase != PhaseFetchingChanges {
		return false
	}
	return k.s.loading == nil || !k.s.loading.Aborted()
}

// OnAdopted records paths found identical on both sides
func (k *scanSink) OnAdopted(entries []domain.BaselineEntry) {
	defer k.s.recoverPanic(k.op, PhaseDisplayingChanges)
	err := k.s.deps.Store.PersistBaseline(k.ctx, k.s.pub.Name, domain.BaselineUpdate{Set: entries})
	if err != nil {
		k.s.log.Warn("Could not record identical files", "count", len(entries), "error", err)
		return
	}
	k.s.log.Debug("Adopted identical files", "count", len(entries))
}

func (k *scanSink) OnDone(err error) {
	defer k.s.recoverPanic(k.op, PhaseDisplayingChanges)
	k.s.finishScan(k.op, err)
}

// finishScan moves the session out of FETCHING_CHANGES
func (s *Session) finishScan(o *op, scanErr error) {
	defer s.release(o)

	s.mutate(func(q *queue) {
		if !s.current(o) {
			return
		}
		aborted := errors.Is(scanErr, context.Canceled) || (s.loading != nil && s.loading.Aborted())
		s.active = nil
		s.dropLoading(q)

		changes := s.changeItems()
		if !aborted && len(changes) > 0 {
			s.autoResolve(q, changes)
		}

		switch {
		case aborted:
			s.log.Warn("Status check aborted", "items", len(changes))
			s.appendLog(q, domain.LogWarn, statusAborted)
			s.setPhase(q, PhaseDisplayingChanges)
		case scanErr != nil:
			s.log.Error("Status check failed", "error", scanErr, "items", len(changes))
			s.appendLog(q, domain.LogError, fmt.Sprintf(statusCheckError, scanErr))
			s.setPhase(q, PhaseDisplayingChanges)
		case len(s.items) == 0:
			s.log.Info("Nothing to synchronize")
			s.appendLog(q, domain.LogInfo, nothingToSync)
			s.setPhase(q, PhaseFinished)
		default:
			s.log.Info("Status check finished", "items", len(changes), "conflicts", countConflicts(changes))
			s.setPhase(q, PhaseDisplayingChanges)
		}
	})
}

// autoResolve applies the configured conflict strategy
func (s *Session) autoResolve(q *queue, changes []*domain.ChangeItem) {
	if s.strategy == domain.ConflictManual {
		return
	}
	conflicts := make([]*domain.ChangeItem, 0)
	for _, c := range changes {
		if c.HasConflict() {
			conflicts = append(conflicts, c)
		}
	}
	if len(conflicts) == 0 {
		return
	}
	n := conflict.Apply(s.resolver, s.strategy, conflicts)
	for _, c := range conflicts {
		q.add(ItemUpdated{Item: c})
	}
	if n > 0 {
		s.log.Info("Resolved conflicts automatically", "strategy", string(s.strategy), "resolved", n, "remaining", len(conflicts)-n)
	}
}

func countConflicts(items []*domain.ChangeItem) int {
	n := 0
	for _, c := range items {
		if c.HasConflict() {
			n++
		}
	}
	return n
}

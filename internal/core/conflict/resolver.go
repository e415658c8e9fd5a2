package conflict

import "github.com/Ning0612/pubsync/internal/domain"

// Decision is the outcome of applying a strategy to one conflict
type Decision struct {
	// Resolved is false when the conflict is left for the user
	Resolved bool
	Winner   domain.Resolution
	Reason   string
}

// Resolver decides conflicts according to a strategy
type Resolver interface {
	// Decide determines the resolution for a conflicted item without changing it
	Decide(strategy domain.ConflictStrategy, item *domain.ChangeItem) Decision
}

// DefaultResolver implements standard conflict resolution strategies
type DefaultResolver struct{}

// NewDefaultResolver creates a new DefaultResolver
func NewDefaultResolver() *DefaultResolver {
	return &DefaultResolver{}
}

// Decide implements the Resolver interface
func (r *DefaultResolver) Decide(strategy domain.ConflictStrategy, item *domain.ChangeItem) Decision {
	if item == nil || !item.HasConflict() {
		return Decision{Reason: "no conflict"}
	}

	switch strategy {
	case domain.ConflictKeepLocal:
		// A local deletion cannot win over remote content automatically
		if item.SyncType == domain.ConflictRemovedLocallyModifiedRemotely {
			return Decision{Reason: "manual resolution required: local copy was removed"}
		}
		return Decision{Resolved: true, Winner: domain.LocalWins, Reason: "keeping local version (conflict strategy)"}

	case domain.ConflictKeepRemote:
		if item.SyncType == domain.ConflictRemovedRemotelyModifiedLocally {
			return Decision{Reason: "manual resolution required: remote copy was removed"}
		}
		return Decision{Resolved: true, Winner: domain.RemoteWins, Reason: "using remote version (conflict strategy)"}

	case domain.ConflictKeepNewest:
		switch item.SyncType {
		case domain.ConflictRemovedRemotelyModifiedLocally:
			return Decision{Resolved: true, Winner: domain.LocalWins, Reason: "only the local copy remains"}
		case domain.ConflictRemovedLocallyModifiedRemotely:
			return Decision{Resolved: true, Winner: domain.RemoteWins, Reason: "only the remote copy remains"}
		}

		if item.Local == nil || item.Remote == nil {
			return Decision{Reason: "manual resolution required: missing file info"}
		}
		switch {
		case item.Local.ModTime.After(item.Remote.ModTime):
			return Decision{Resolved: true, Winner: domain.LocalWins, Reason: "local is newer"}
		case item.Remote.ModTime.After(item.Local.ModTime):
			return Decision{Resolved: true, Winner: domain.RemoteWins, Reason: "remote is newer"}
		default:
			return Decision{Reason: "identical modification time"}
		}

	default: // ConflictManual or unknown
		return Decision{Reason: "manual resolution required"}
	}
}

// Apply resolves every conflicted item the strategy can decide and returns
// the number resolved. Items left conflicted carry the reason in StatusMessage.
func Apply(r Resolver, strategy domain.ConflictStrategy, items []*domain.ChangeItem) int {
	resolved := 0
	for _, item := range items {
		if !item.HasConflict() {
			continue
		}
		d := r.Decide(strategy, item)
		if !d.Resolved {
			if strategy != domain.ConflictManual && strategy != "" {
				item.StatusMessage = d.Reason
			}
			continue
		}
		if err := item.ResolveConflict(d.Winner); err != nil {
			continue
		}
		item.StatusMessage = d.Reason
		resolved++
	}
	return resolved
}

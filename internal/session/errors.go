package session

import (
	"fmt"
	"strings"

	"github.com/Ning0612/pubsync/internal/domain"
)

// ConflictError blocks Synchronize while checked items are in conflict
type ConflictError struct {
	Paths []string
}

// Error implements the error interface
func (e *ConflictError) Error() string {
	const shown = 5
	paths := e.Paths
	suffix := ""
	if len(paths) > shown {
		suffix = fmt.Sprintf(" and %d more", len(paths)-shown)
		paths = paths[:shown]
	}
	return fmt.Sprintf("%d unresolved conflict(s): %s%s", len(e.Paths), strings.Join(paths, ", "), suffix)
}

// Unwrap makes errors.Is(err, domain.ErrSyncConflict) hold
func (e *ConflictError) Unwrap() error {
	return domain.ErrSyncConflict
}

func invalidPhase(op string, p Phase) error {
	return fmt.Errorf("%w: %s not allowed while %s", domain.ErrInvalidPhase, op, p)
}

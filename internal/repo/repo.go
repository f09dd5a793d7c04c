// Package repo provides the persistence boundary: injected repositories over
// two document collections, events (string ids) and users (numeric ids).
// Writes are full-document replaces guarded by a revision counter so a lost
// update surfaces as a conflict instead of a silent overwrite.
package repo

import (
	"context"
	"errors"
	"fmt"

	"opkomst/internal/roster"
)

// ErrNotFound is returned when the addressed document does not exist.
var ErrNotFound = errors.New("not found")

// RevisionConflictError signals that a replace presented a stale revision.
// The caller is expected to refetch and retry deliberately, never blindly.
type RevisionConflictError struct {
	ID       string
	Expected int64
	Actual   int64
}

func (e *RevisionConflictError) Error() string {
	return fmt.Sprintf("revision conflict on event %s: have %d, store at %d", e.ID, e.Expected, e.Actual)
}

// IsConflict reports whether err is a revision conflict, unwrapping as needed.
func IsConflict(err error) bool {
	var rc *RevisionConflictError
	return errors.As(err, &rc)
}

// EventRepository persists calendar events as whole documents.
type EventRepository interface {
	List(ctx context.Context) ([]roster.Event, error)
	Get(ctx context.Context, id string) (roster.Event, error)
	// Create assigns the id and revision 1, and returns the stored event.
	Create(ctx context.Context, e roster.Event) (roster.Event, error)
	// Replace swaps the full document if e.Rev matches the stored revision,
	// bumping it by one. A stale revision yields *RevisionConflictError.
	Replace(ctx context.Context, e roster.Event) (roster.Event, error)
	Delete(ctx context.Context, id string) error
}

// UserRepository persists club members.
type UserRepository interface {
	List(ctx context.Context) ([]roster.User, error)
	Get(ctx context.Context, id int64) (roster.User, error)
	GetByEmail(ctx context.Context, email string) (roster.User, error)
	// Save upserts by id; a zero id is assigned by the store.
	Save(ctx context.Context, u roster.User) (roster.User, error)
}

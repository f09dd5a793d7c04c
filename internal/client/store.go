package client

import (
	"context"

	"opkomst/internal/roster"
)

// Store is the server the gateway reconciles against. The HTTP
// implementation lives in httpstore.go; tests plug in fakes.
type Store interface {
	ListEvents(ctx context.Context) ([]roster.Event, error)
	ListUsers(ctx context.Context) ([]roster.UserInfo, error)
	CreateEvent(ctx context.Context, e roster.Event) (roster.Event, error)
	UpdateEvent(ctx context.Context, e roster.Event) (roster.Event, error)
	DeleteEvent(ctx context.Context, id string) error
	SetAttending(ctx context.Context, eventID string, userID int64, attending bool) (roster.Event, error)
	SaveAttendance(ctx context.Context, eventID string, rev int64, ledger map[int64]roster.AttendanceRecord) (roster.Event, error)
}

// Package client is the synchronization library UIs talk to. Every write
// goes through the Gateway's optimistic protocol: snapshot the affected
// cache partition, apply a synthesized result immediately, send the request,
// then either reconcile the cache with the canonical server record or roll
// the partition back to the snapshot. Either way the partition is marked
// stale afterwards, so the next read refetches and corrects whatever an
// optimistic merge may have missed.
package client

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"opkomst/internal/repo"
	"opkomst/internal/roster"
)

// Session is the signed-in member the gateway acts as. The zero value is
// unauthenticated and fails every mutation up front.
type Session struct {
	UserID int64
	Admin  bool
}

func (s Session) valid() bool { return s.UserID != 0 }

const (
	defaultTimeout  = 10 * time.Second
	readAttempts    = 3
	readBackoffBase = 250 * time.Millisecond
	tempIDPrefix    = "tmp-"
)

// Gateway is the optimistic cache plus mutation state machine.
//
// Mutations against the same entity id are serialized in submission order by
// a FIFO ticket chain, so overlapping calls cannot interleave their
// snapshot/rollback windows on one entity. Snapshots still cover the whole
// events partition: a rollback can discard a concurrent mutation's confirmed
// result on a *different* entity. That divergence is short-lived because
// every settlement marks the partition stale and the next read refetches.
//
// Mutations are never retried (a duplicate create is worse than a surfaced
// error); only reads retry, with backoff.
type Gateway struct {
	store   Store
	session Session
	timeout time.Duration
	metrics *Metrics
	now     func() time.Time

	mu          sync.Mutex
	events      map[string]roster.Event
	eventsFresh bool
	users       []roster.UserInfo
	usersFresh  bool
	tails       map[string]chan struct{}
}

// New builds a gateway for one signed-in member. metrics may be nil.
func New(store Store, session Session, metrics *Metrics) *Gateway {
	return &Gateway{
		store:   store,
		session: session,
		timeout: defaultTimeout,
		metrics: metrics,
		now:     time.Now,
		events:  make(map[string]roster.Event),
		tails:   make(map[string]chan struct{}),
	}
}

// WithTimeout overrides the per-call store timeout.
func (g *Gateway) WithTimeout(d time.Duration) *Gateway {
	g.timeout = d
	return g
}

// WithClock overrides the time source, for tests.
func (g *Gateway) WithClock(now func() time.Time) *Gateway {
	g.now = now
	return g
}

// lockEntity takes a FIFO ticket for the entity id and blocks until all
// earlier tickets released. The returned func releases this ticket.
func (g *Gateway) lockEntity(id string) func() {
	g.mu.Lock()
	prev := g.tails[id]
	done := make(chan struct{})
	g.tails[id] = done
	g.mu.Unlock()
	if prev != nil {
		<-prev
	}
	return func() {
		close(done)
		g.mu.Lock()
		if g.tails[id] == done {
			delete(g.tails, id)
		}
		g.mu.Unlock()
	}
}

func cloneEvents(src map[string]roster.Event) map[string]roster.Event {
	out := make(map[string]roster.Event, len(src))
	for id, e := range src {
		out[id] = e.Clone()
	}
	return out
}

// mutate drives one mutation through the state machine:
// snapshot -> optimistic apply -> store call -> confirm or rollback ->
// invalidate. apply synthesizes the optimistic result in place; call talks
// to the store and returns the reconcile step to run on success.
func (g *Gateway) mutate(ctx context.Context, kind, entityID string,
	apply func(events map[string]roster.Event),
	call func(ctx context.Context) (func(events map[string]roster.Event), error)) error {

	unlock := g.lockEntity(entityID)
	defer unlock()

	g.mu.Lock()
	snapshot := cloneEvents(g.events)
	apply(g.events)
	g.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	confirm, err := call(callCtx)
	cancel()

	g.mu.Lock()
	if err != nil {
		g.events = snapshot
		g.metrics.observe(kind, outcomeRolledBack)
	} else {
		confirm(g.events)
		g.metrics.observe(kind, outcomeConfirmed)
	}
	// Settled: stale-mark both derived partitions no matter the outcome.
	g.eventsFresh = false
	g.usersFresh = false
	g.mu.Unlock()
	return err
}

func (g *Gateway) reject(kind string, err error) error {
	g.metrics.observe(kind, outcomeRejected)
	return err
}

// CreateEvent optimistically inserts the event under a temporary id, then
// swaps it for the server record (server-assigned id) on confirmation.
func (g *Gateway) CreateEvent(ctx context.Context, e roster.Event) (roster.Event, error) {
	const kind = "create"
	if !g.session.valid() {
		return roster.Event{}, g.reject(kind, roster.ErrUnauthenticated)
	}
	if !g.session.Admin {
		return roster.Event{}, g.reject(kind, roster.ErrNotAdmin)
	}
	if strings.TrimSpace(e.Title) == "" || e.Start.IsZero() {
		return roster.Event{}, g.reject(kind, roster.ErrMissingField)
	}

	tempID := tempIDPrefix + uuid.NewString()
	var created roster.Event
	err := g.mutate(ctx, kind, tempID,
		func(events map[string]roster.Event) {
			opt := e.Clone()
			opt.ID = tempID
			opt.Normalize()
			events[tempID] = opt
		},
		func(ctx context.Context) (func(map[string]roster.Event), error) {
			got, err := g.store.CreateEvent(ctx, e)
			if err != nil {
				return nil, err
			}
			created = got
			return func(events map[string]roster.Event) {
				delete(events, tempID)
				events[got.ID] = got.Clone()
			}, nil
		})
	if err != nil {
		return roster.Event{}, err
	}
	return created, nil
}

// UpdateEvent optimistically merges the new field values over the cached
// entry, then replaces it with the canonical record.
func (g *Gateway) UpdateEvent(ctx context.Context, e roster.Event) (roster.Event, error) {
	const kind = "update"
	if !g.session.valid() {
		return roster.Event{}, g.reject(kind, roster.ErrUnauthenticated)
	}
	if !g.session.Admin {
		return roster.Event{}, g.reject(kind, roster.ErrNotAdmin)
	}
	if e.ID == "" || strings.TrimSpace(e.Title) == "" || e.Start.IsZero() {
		return roster.Event{}, g.reject(kind, roster.ErrMissingField)
	}

	var updated roster.Event
	err := g.mutate(ctx, kind, e.ID,
		func(events map[string]roster.Event) {
			merged := e.Clone()
			merged.Normalize()
			if cur, ok := events[e.ID]; ok {
				merged.Rev = cur.Rev
				if merged.Participants == nil {
					merged.Participants = cur.Participants
				}
				if merged.Attendance == nil {
					merged.Attendance = cur.Attendance
				}
			}
			events[e.ID] = merged
		},
		func(ctx context.Context) (func(map[string]roster.Event), error) {
			got, err := g.store.UpdateEvent(ctx, e)
			if err != nil {
				return nil, err
			}
			updated = got
			return func(events map[string]roster.Event) {
				events[got.ID] = got.Clone()
			}, nil
		})
	if err != nil {
		return roster.Event{}, err
	}
	return updated, nil
}

// DeleteEvent optimistically removes the entry; a failed delete restores it.
func (g *Gateway) DeleteEvent(ctx context.Context, id string) error {
	const kind = "delete"
	if !g.session.valid() {
		return g.reject(kind, roster.ErrUnauthenticated)
	}
	if !g.session.Admin {
		return g.reject(kind, roster.ErrNotAdmin)
	}
	if id == "" {
		return g.reject(kind, roster.ErrMissingField)
	}
	return g.mutate(ctx, kind, id,
		func(events map[string]roster.Event) {
			delete(events, id)
		},
		func(ctx context.Context) (func(map[string]roster.Event), error) {
			if err := g.store.DeleteEvent(ctx, id); err != nil {
				return nil, err
			}
			return func(events map[string]roster.Event) {
				delete(events, id) // already gone, kept for symmetry
			}, nil
		})
}

// SetAttending flips the member's RSVP membership in the cache, then
// reconciles with the server's updated event. The window rule and identity
// are checked before the cache is touched.
func (g *Gateway) SetAttending(ctx context.Context, eventID string, attending bool) (roster.Event, error) {
	const kind = "rsvp"
	if !g.session.valid() {
		return roster.Event{}, g.reject(kind, roster.ErrUnauthenticated)
	}
	cur, err := g.Event(ctx, eventID)
	if err != nil {
		return roster.Event{}, g.reject(kind, err)
	}
	if !roster.CanChangeAttendance(cur.Start, g.now()) {
		return roster.Event{}, g.reject(kind, roster.ErrWindowClosed)
	}

	userID := g.session.UserID
	var updated roster.Event
	err = g.mutate(ctx, kind, eventID,
		func(events map[string]roster.Event) {
			if e, ok := events[eventID]; ok {
				opt := e.Clone()
				roster.SetParticipant(&opt, userID, attending)
				events[eventID] = opt
			}
		},
		func(ctx context.Context) (func(map[string]roster.Event), error) {
			got, err := g.store.SetAttending(ctx, eventID, userID, attending)
			if err != nil {
				return nil, err
			}
			updated = got
			return func(events map[string]roster.Event) {
				events[got.ID] = got.Clone()
			}, nil
		})
	if err != nil {
		return roster.Event{}, err
	}
	return updated, nil
}

// SaveAttendance replaces the event's attendance ledger wholesale (admin
// bulk-save). The cached revision rides along so a concurrent editor's save
// surfaces as a conflict instead of being overwritten.
func (g *Gateway) SaveAttendance(ctx context.Context, eventID string, ledger map[int64]roster.AttendanceRecord) (roster.Event, error) {
	const kind = "attendance"
	if !g.session.valid() {
		return roster.Event{}, g.reject(kind, roster.ErrUnauthenticated)
	}
	if !g.session.Admin {
		return roster.Event{}, g.reject(kind, roster.ErrNotAdmin)
	}
	cur, err := g.Event(ctx, eventID)
	if err != nil {
		return roster.Event{}, g.reject(kind, err)
	}

	var updated roster.Event
	err = g.mutate(ctx, kind, eventID,
		func(events map[string]roster.Event) {
			if e, ok := events[eventID]; ok {
				opt := e.Clone()
				opt.Attendance = make(map[int64]roster.AttendanceRecord, len(ledger))
				for id, rec := range ledger {
					opt.Attendance[id] = rec
				}
				events[eventID] = opt
			}
		},
		func(ctx context.Context) (func(map[string]roster.Event), error) {
			got, err := g.store.SaveAttendance(ctx, eventID, cur.Rev, ledger)
			if err != nil {
				return nil, err
			}
			updated = got
			return func(events map[string]roster.Event) {
				events[got.ID] = got.Clone()
			}, nil
		})
	if err != nil {
		return roster.Event{}, err
	}
	return updated, nil
}

// Cached returns the current cache contents without touching the network,
// sorted by id. This is the synchronous view a UI binds to: it reflects
// optimistic state the moment a mutation is applied.
func (g *Gateway) Cached() []roster.Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]roster.Event, 0, len(g.events))
	for _, e := range g.events {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Events returns the cached event set, refetching first when the partition
// is stale. Reads retry with backoff; they have no side effects to duplicate.
func (g *Gateway) Events(ctx context.Context) ([]roster.Event, error) {
	g.mu.Lock()
	fresh := g.eventsFresh
	g.mu.Unlock()
	if !fresh {
		if err := g.refreshEvents(ctx); err != nil {
			return nil, err
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]roster.Event, 0, len(g.events))
	for _, e := range g.events {
		out = append(out, e.Clone())
	}
	return out, nil
}

// Event returns one event from the cache, refetching when stale or missing.
func (g *Gateway) Event(ctx context.Context, id string) (roster.Event, error) {
	g.mu.Lock()
	e, ok := g.events[id]
	fresh := g.eventsFresh
	g.mu.Unlock()
	if ok && fresh {
		return e.Clone(), nil
	}
	if err := g.refreshEvents(ctx); err != nil {
		return roster.Event{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok = g.events[id]
	if !ok {
		return roster.Event{}, repo.ErrNotFound
	}
	return e.Clone(), nil
}

// Users returns the member list with server-computed streepjes, refetching
// when stale. Any settled mutation invalidates this partition because
// streepjes are derived from events.
func (g *Gateway) Users(ctx context.Context) ([]roster.UserInfo, error) {
	g.mu.Lock()
	fresh := g.usersFresh
	g.mu.Unlock()
	if !fresh {
		users, err := retryRead(ctx, func(ctx context.Context) ([]roster.UserInfo, error) {
			return g.store.ListUsers(ctx)
		}, g.timeout)
		if err != nil {
			return nil, err
		}
		g.mu.Lock()
		g.users = users
		g.usersFresh = true
		g.mu.Unlock()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]roster.UserInfo, len(g.users))
	copy(out, g.users)
	return out, nil
}

func (g *Gateway) refreshEvents(ctx context.Context) error {
	list, err := retryRead(ctx, func(ctx context.Context) ([]roster.Event, error) {
		return g.store.ListEvents(ctx)
	}, g.timeout)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.events = make(map[string]roster.Event, len(list))
	for _, e := range list {
		g.events[e.ID] = e.Clone()
	}
	g.eventsFresh = true
	g.mu.Unlock()
	return nil
}

// AutoRefresh refetches stale partitions every interval until ctx ends.
// This is the safety net that eventually corrects any optimistic-merge bug.
func (g *Gateway) AutoRefresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.mu.Lock()
			eventsFresh, usersFresh := g.eventsFresh, g.usersFresh
			g.mu.Unlock()
			if !eventsFresh {
				_ = g.refreshEvents(ctx)
			}
			if !usersFresh {
				_, _ = g.Users(ctx)
			}
		}
	}
}

// retryRead runs a read with bounded attempts and exponential backoff.
func retryRead[T any](ctx context.Context, fn func(ctx context.Context) (T, error), timeout time.Duration) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt < readAttempts; attempt++ {
		if attempt > 0 {
			delay := readBackoffBase << (attempt - 1)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		got, err := fn(callCtx)
		cancel()
		if err == nil {
			return got, nil
		}
		lastErr = err
	}
	return zero, lastErr
}

package repo

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"opkomst/internal/roster"
)

// Memory keeps both collections in process memory. It backs tests and the
// dev mode used when Postgres is unreachable, with the same revision-CAS
// semantics as the Postgres store.
type Memory struct {
	mu     sync.Mutex
	events map[string]roster.Event
	users  map[int64]roster.User
	nextID int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		events: make(map[string]roster.Event),
		users:  make(map[int64]roster.User),
		nextID: 1,
	}
}

// Events returns the event repository view.
func (m *Memory) Events() EventRepository { return (*memEvents)(m) }

// Users returns the user repository view.
func (m *Memory) Users() UserRepository { return (*memUsers)(m) }

type memEvents Memory

func (r *memEvents) List(ctx context.Context) ([]roster.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]roster.Event, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

func (r *memEvents) Get(ctx context.Context, id string) (roster.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return roster.Event{}, ErrNotFound
	}
	return e.Clone(), nil
}

func (r *memEvents) Create(ctx context.Context, e roster.Event) (roster.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Rev = 1
	r.events[e.ID] = e.Clone()
	return e, nil
}

func (r *memEvents) Replace(ctx context.Context, e roster.Event) (roster.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.events[e.ID]
	if !ok {
		return roster.Event{}, ErrNotFound
	}
	if cur.Rev != e.Rev {
		return roster.Event{}, &RevisionConflictError{ID: e.ID, Expected: e.Rev, Actual: cur.Rev}
	}
	e.Rev++
	r.events[e.ID] = e.Clone()
	return e, nil
}

func (r *memEvents) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[id]; !ok {
		return ErrNotFound
	}
	delete(r.events, id)
	return nil
}

type memUsers Memory

func (r *memUsers) List(ctx context.Context) ([]roster.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]roster.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memUsers) Get(ctx context.Context, id int64) (roster.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return roster.User{}, ErrNotFound
	}
	return u, nil
}

func (r *memUsers) GetByEmail(ctx context.Context, email string) (roster.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return roster.User{}, ErrNotFound
}

func (r *memUsers) Save(ctx context.Context, u roster.User) (roster.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.ID == 0 {
		u.ID = r.nextID
	}
	if u.ID >= r.nextID {
		r.nextID = u.ID + 1
	}
	r.users[u.ID] = u
	return u, nil
}

package client

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opkomst/internal/roster"
)

// fakeStore is a controllable in-memory Store. Hooks let tests block or
// fail individual calls; every call is recorded in order.
type fakeStore struct {
	mu     sync.Mutex
	events map[string]roster.Event
	users  []roster.UserInfo
	nextID int
	calls  []string

	listErr   error
	createErr error
	updateErr error
	// blockCreate/blockUpdate, when non-nil, are received from before the
	// call returns; entered is signalled once per blocked call.
	blockCreate chan struct{}
	blockUpdate chan struct{}
	entered     chan string
}

func newFakeStore(events ...roster.Event) *fakeStore {
	s := &fakeStore{events: make(map[string]roster.Event), nextID: 1}
	for _, e := range events {
		s.events[e.ID] = e
	}
	return s
}

func (s *fakeStore) record(call string) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
	if s.entered != nil {
		s.entered <- call
	}
}

func (s *fakeStore) callCount(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (s *fakeStore) ListEvents(ctx context.Context) ([]roster.Event, error) {
	s.record("list")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]roster.Event, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Clone())
	}
	return out, nil
}

func (s *fakeStore) ListUsers(ctx context.Context) ([]roster.UserInfo, error) {
	s.record("listUsers")
	return s.users, nil
}

func (s *fakeStore) CreateEvent(ctx context.Context, e roster.Event) (roster.Event, error) {
	s.record("create:" + e.Title)
	if s.blockCreate != nil {
		<-s.blockCreate
	}
	if s.createErr != nil {
		return roster.Event{}, s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = "srv-1"
	e.Rev = 1
	e.Normalize()
	s.events[e.ID] = e.Clone()
	return e, nil
}

func (s *fakeStore) UpdateEvent(ctx context.Context, e roster.Event) (roster.Event, error) {
	s.record("update:" + e.Title)
	if s.blockUpdate != nil {
		<-s.blockUpdate
	}
	if s.updateErr != nil {
		return roster.Event{}, s.updateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e.Rev++
	s.events[e.ID] = e.Clone()
	return e.Clone(), nil
}

func (s *fakeStore) DeleteEvent(ctx context.Context, id string) error {
	s.record("delete:" + id)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, id)
	return nil
}

func (s *fakeStore) SetAttending(ctx context.Context, eventID string, userID int64, attending bool) (roster.Event, error) {
	s.record("rsvp:" + eventID)
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.events[eventID].Clone()
	roster.SetParticipant(&e, userID, attending)
	e.Rev++
	s.events[eventID] = e.Clone()
	return e, nil
}

func (s *fakeStore) SaveAttendance(ctx context.Context, eventID string, rev int64, ledger map[int64]roster.AttendanceRecord) (roster.Event, error) {
	s.record("attendance:" + eventID)
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.events[eventID].Clone()
	e.Attendance = ledger
	e.Rev = rev + 1
	s.events[eventID] = e.Clone()
	return e, nil
}

var (
	adminSession  = Session{UserID: 1, Admin: true}
	memberSession = Session{UserID: 2}
)

func testNow() time.Time {
	return time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)
}

func futureEvent(id string) roster.Event {
	return roster.Event{
		ID:        id,
		Rev:       1,
		Title:     roster.CanonicalTitle,
		Start:     time.Date(2024, time.March, 22, 19, 0, 0, 0, time.UTC),
		End:       time.Date(2024, time.March, 22, 21, 0, 0, 0, time.UTC),
		IsOpkomst: true,
	}
}

func newGateway(store Store, sess Session) *Gateway {
	return New(store, sess, nil).WithClock(testNow).WithTimeout(2 * time.Second)
}

func prime(t *testing.T, g *Gateway) {
	t.Helper()
	_, err := g.Events(context.Background())
	require.NoError(t, err)
}

func TestCreateEvent_OptimisticThenConfirmed(t *testing.T) {
	store := newFakeStore()
	store.blockCreate = make(chan struct{})
	store.entered = make(chan string, 10)
	g := newGateway(store, adminSession)
	prime(t, g)
	<-store.entered // the priming list call

	resultCh := make(chan error, 1)
	go func() {
		_, err := g.CreateEvent(context.Background(), futureEvent(""))
		resultCh <- err
	}()

	// The store call is in flight; the cache must already hold exactly one
	// entry, under a temporary id.
	require.Equal(t, "create:Opkomst", <-store.entered)
	cached := g.Cached()
	require.Len(t, cached, 1)
	assert.True(t, strings.HasPrefix(cached[0].ID, "tmp-"), "optimistic entry uses a temp id, got %q", cached[0].ID)

	close(store.blockCreate)
	require.NoError(t, <-resultCh)

	// Confirmed: exactly one entry, server id, no temp leftover.
	cached = g.Cached()
	require.Len(t, cached, 1)
	assert.Equal(t, "srv-1", cached[0].ID)
	assert.Equal(t, int64(1), cached[0].Rev)
}

func TestCreateEvent_RollbackRestoresSnapshot(t *testing.T) {
	store := newFakeStore(futureEvent("e1"))
	g := newGateway(store, adminSession)
	prime(t, g)

	before, err := json.Marshal(g.Cached())
	require.NoError(t, err)

	store.createErr = errors.New("boom")
	_, err = g.CreateEvent(context.Background(), futureEvent(""))
	require.Error(t, err)

	after, err := json.Marshal(g.Cached())
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after), "cache must be byte-for-byte what it was before the mutation")
}

func TestCreateEvent_ValidationRejectsBeforeCacheWrite(t *testing.T) {
	store := newFakeStore()
	g := newGateway(store, Session{})
	// not primed: the cache is empty and must stay that way

	_, err := g.CreateEvent(context.Background(), futureEvent(""))
	assert.ErrorIs(t, err, roster.ErrUnauthenticated)

	g2 := newGateway(store, memberSession)
	_, err = g2.CreateEvent(context.Background(), futureEvent(""))
	assert.ErrorIs(t, err, roster.ErrNotAdmin)

	g3 := newGateway(store, adminSession)
	blank := futureEvent("")
	blank.Title = ""
	_, err = g3.CreateEvent(context.Background(), blank)
	assert.ErrorIs(t, err, roster.ErrMissingField)

	assert.Zero(t, store.callCount("create"), "store never called for a rejected mutation")
	assert.Empty(t, g.Cached())
}

func TestSetAttending_OptimisticFlip(t *testing.T) {
	store := newFakeStore(futureEvent("e1"))
	g := newGateway(store, memberSession)
	prime(t, g)

	updated, err := g.SetAttending(context.Background(), "e1", true)
	require.NoError(t, err)
	assert.Contains(t, updated.Participants, int64(2))

	cached := g.Cached()
	require.Len(t, cached, 1)
	assert.Contains(t, cached[0].Participants, int64(2))
	assert.Equal(t, int64(2), cached[0].Rev, "canonical server record reconciled into the cache")
}

func TestSetAttending_WindowClosedRejectedUpFront(t *testing.T) {
	past := futureEvent("e1")
	past.Start = time.Date(2024, time.March, 15, 19, 0, 0, 0, time.UTC) // today
	store := newFakeStore(past)
	g := newGateway(store, memberSession)
	prime(t, g)

	before, _ := json.Marshal(g.Cached())
	_, err := g.SetAttending(context.Background(), "e1", true)
	assert.ErrorIs(t, err, roster.ErrWindowClosed)

	after, _ := json.Marshal(g.Cached())
	assert.Equal(t, string(before), string(after))
	assert.Zero(t, store.callCount("rsvp"))
}

func TestSaveAttendance_ReplacesLedgerAndReconciles(t *testing.T) {
	e := futureEvent("e1")
	e.Attendance = map[int64]roster.AttendanceRecord{9: {Present: true}}
	store := newFakeStore(e)
	g := newGateway(store, adminSession)
	prime(t, g)

	ledger := map[int64]roster.AttendanceRecord{1: {Present: true}, 2: {Present: false}}
	updated, err := g.SaveAttendance(context.Background(), "e1", ledger)
	require.NoError(t, err)
	assert.Equal(t, ledger, updated.Attendance, "full replace, old entry for 9 gone")
}

func TestDeleteEvent_RollbackReinstates(t *testing.T) {
	store := newFakeStore(futureEvent("e1"))
	g := newGateway(store, adminSession)
	prime(t, g)

	require.NoError(t, g.DeleteEvent(context.Background(), "e1"))
	assert.Empty(t, g.Cached())
}

func TestMutation_InvalidatesPartitionOnBothOutcomes(t *testing.T) {
	store := newFakeStore(futureEvent("e1"))
	g := newGateway(store, adminSession)
	prime(t, g)
	require.Equal(t, 1, store.callCount("list"))

	// Success settles stale: next read refetches.
	_, err := g.SetAttending(context.Background(), "e1", true)
	require.NoError(t, err)
	_, err = g.Events(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, store.callCount("list"))

	// Failure settles stale too.
	store.updateErr = errors.New("boom")
	upd := futureEvent("e1")
	upd.Title = "Opkomst (verplaatst)"
	_, err = g.UpdateEvent(context.Background(), upd)
	require.Error(t, err)
	store.updateErr = nil
	_, err = g.Events(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, store.callCount("list"))
}

func TestMutations_SerializedPerEntityInSubmissionOrder(t *testing.T) {
	store := newFakeStore(futureEvent("e1"))
	store.blockUpdate = make(chan struct{})
	store.entered = make(chan string, 10)
	g := newGateway(store, adminSession)
	prime(t, g)
	<-store.entered // priming list call

	first := futureEvent("e1")
	first.Title = "Opkomst A"
	second := futureEvent("e1")
	second.Title = "Opkomst B"

	done := make(chan string, 2)
	go func() {
		_, _ = g.UpdateEvent(context.Background(), first)
		done <- "A"
	}()
	require.Equal(t, "update:Opkomst A", <-store.entered, "first mutation reaches the store")

	go func() {
		_, _ = g.UpdateEvent(context.Background(), second)
		done <- "B"
	}()

	// B targets the same entity and must queue behind A.
	select {
	case call := <-store.entered:
		t.Fatalf("second mutation reached the store before the first settled: %s", call)
	case <-time.After(100 * time.Millisecond):
	}

	store.blockUpdate <- struct{}{} // release A
	assert.Equal(t, "A", <-done)
	require.Equal(t, "update:Opkomst B", <-store.entered)
	store.blockUpdate <- struct{}{} // release B
	assert.Equal(t, "B", <-done)

	cached := g.Cached()
	require.Len(t, cached, 1)
	assert.Equal(t, "Opkomst B", cached[0].Title, "last submitted mutation wins")
}

func TestEvents_RetriesReads(t *testing.T) {
	store := newFakeStore(futureEvent("e1"))
	g := newGateway(store, memberSession)

	// First attempts fail; the read retries and succeeds without surfacing
	// the transient error.
	store.listErr = errors.New("flaky")
	go func() {
		time.Sleep(50 * time.Millisecond)
		store.mu.Lock()
		store.listErr = nil
		store.mu.Unlock()
	}()
	events, err := g.Events(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.GreaterOrEqual(t, store.callCount("list"), 2)
}

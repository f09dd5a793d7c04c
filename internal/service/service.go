// Package service implements the server-side operations over the injected
// repositories: event CRUD with revision CAS, the RSVP toggle, the admin
// attendance bulk-save, and the member listing with derived streepjes.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"opkomst/internal/auth"
	"opkomst/internal/notify"
	"opkomst/internal/repo"
	"opkomst/internal/roster"
	"opkomst/internal/streepjes"
)

// Session identifies the caller of an operation. The zero value means
// unauthenticated.
type Session struct {
	UserID int64
	Admin  bool
}

func (s Session) valid() bool { return s.UserID != 0 }

// Service coordinates roster rules, persistence and notifications.
type Service struct {
	events       repo.EventRepository
	users        repo.UserRepository
	dispatcher   *notify.Dispatcher
	opkomstTitle string
	now          func() time.Time
}

// New builds a service. dispatcher may be nil (notifications disabled).
func New(events repo.EventRepository, users repo.UserRepository, dispatcher *notify.Dispatcher, opkomstTitle string) *Service {
	if opkomstTitle == "" {
		opkomstTitle = roster.CanonicalTitle
	}
	return &Service{
		events:       events,
		users:        users,
		dispatcher:   dispatcher,
		opkomstTitle: opkomstTitle,
		now:          time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Authenticate verifies email/password and returns the member.
func (s *Service) Authenticate(ctx context.Context, email, password string) (roster.User, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return roster.User{}, roster.ErrUnauthenticated
		}
		return roster.User{}, err
	}
	if !auth.CheckPassword(u.Password, password) {
		return roster.User{}, roster.ErrUnauthenticated
	}
	return u, nil
}

// ListEvents returns all events, oldest first.
func (s *Service) ListEvents(ctx context.Context, sess Session) ([]roster.Event, error) {
	if !sess.valid() {
		return nil, roster.ErrUnauthenticated
	}
	return s.events.List(ctx)
}

// CreateEvent stores a new event. Canonical opkomsten get their roster
// seeded with the currently active members (snapshot at creation; later
// activation changes never rewrite it).
func (s *Service) CreateEvent(ctx context.Context, sess Session, e roster.Event) (roster.Event, error) {
	if !sess.valid() {
		return roster.Event{}, roster.ErrUnauthenticated
	}
	if !sess.Admin {
		return roster.Event{}, roster.ErrNotAdmin
	}
	if strings.TrimSpace(e.Title) == "" || e.Start.IsZero() {
		return roster.Event{}, roster.ErrMissingField
	}
	e.Normalize()
	if e.IsOpkomst && e.Title == s.opkomstTitle {
		users, err := s.users.List(ctx)
		if err != nil {
			return roster.Event{}, err
		}
		roster.AutoEnroll(&e, s.opkomstTitle, users)
	}
	created, err := s.events.Create(ctx, e)
	if err != nil {
		return roster.Event{}, err
	}
	s.dispatcher.EventChanged(ctx, "created", created)
	return created, nil
}

// UpdateEvent replaces the full event document. The caller must present the
// last revision it saw; a stale revision is a conflict, never a silent
// overwrite.
func (s *Service) UpdateEvent(ctx context.Context, sess Session, e roster.Event) (roster.Event, error) {
	if !sess.valid() {
		return roster.Event{}, roster.ErrUnauthenticated
	}
	if !sess.Admin {
		return roster.Event{}, roster.ErrNotAdmin
	}
	if strings.TrimSpace(e.Title) == "" || e.Start.IsZero() {
		return roster.Event{}, roster.ErrMissingField
	}
	e.Normalize()
	updated, err := s.events.Replace(ctx, e)
	if err != nil {
		return roster.Event{}, err
	}
	s.dispatcher.EventChanged(ctx, "updated", updated)
	return updated, nil
}

// DeleteEvent removes an event.
func (s *Service) DeleteEvent(ctx context.Context, sess Session, id string) error {
	if !sess.valid() {
		return roster.ErrUnauthenticated
	}
	if !sess.Admin {
		return roster.ErrNotAdmin
	}
	e, err := s.events.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.events.Delete(ctx, id); err != nil {
		return err
	}
	s.dispatcher.EventChanged(ctx, "deleted", e)
	return nil
}

// setAttendingRetries bounds the CAS loop for the RSVP toggle. The toggle is
// an idempotent set edit, so re-applying it to a fresh copy is safe; full
// field writes never get this treatment.
const setAttendingRetries = 3

// SetAttending adds or removes a member on an event's RSVP roster. Only
// allowed while the event's start date is still in the future (day
// granularity). Members toggle themselves; admins may toggle anyone.
func (s *Service) SetAttending(ctx context.Context, sess Session, eventID string, userID int64, attending bool) (roster.Event, error) {
	if !sess.valid() {
		return roster.Event{}, roster.ErrUnauthenticated
	}
	if userID != sess.UserID && !sess.Admin {
		return roster.Event{}, roster.ErrNotAdmin
	}
	var lastErr error
	for attempt := 0; attempt < setAttendingRetries; attempt++ {
		e, err := s.events.Get(ctx, eventID)
		if err != nil {
			return roster.Event{}, err
		}
		if !roster.CanChangeAttendance(e.Start, s.now()) {
			return roster.Event{}, roster.ErrWindowClosed
		}
		if !roster.SetParticipant(&e, userID, attending) {
			return e, nil // already in the desired state
		}
		updated, err := s.events.Replace(ctx, e)
		if err == nil {
			return updated, nil
		}
		if !repo.IsConflict(err) {
			return roster.Event{}, err
		}
		lastErr = err
	}
	return roster.Event{}, lastErr
}

// SaveAttendance replaces the event's whole attendance ledger with the given
// map. Admin only. The replace is revision-guarded: rev must be the revision
// the sheet was loaded at.
func (s *Service) SaveAttendance(ctx context.Context, sess Session, eventID string, rev int64, ledger map[int64]roster.AttendanceRecord) (roster.Event, error) {
	if !sess.valid() {
		return roster.Event{}, roster.ErrUnauthenticated
	}
	if !sess.Admin {
		return roster.Event{}, roster.ErrNotAdmin
	}
	e, err := s.events.Get(ctx, eventID)
	if err != nil {
		return roster.Event{}, err
	}
	e.Rev = rev
	e.Attendance = ledger
	updated, err := s.events.Replace(ctx, e)
	if err != nil {
		return roster.Event{}, err
	}
	s.dispatcher.EventChanged(ctx, "updated", updated)
	return updated, nil
}

// SheetEntry is one row of the attendance edit sheet.
type SheetEntry struct {
	UserID      int64                   `json:"userId"`
	Name        string                  `json:"name"`
	Participant bool                    `json:"participant"`
	Record      roster.AttendanceRecord `json:"record"`
}

// AttendanceSheet builds the admin edit view for an event: every member,
// participants first then the rest (case-insensitive name order within each
// group), each with their stored record or the edit-time default
// present-iff-participant. Nothing here is persisted.
func (s *Service) AttendanceSheet(ctx context.Context, sess Session, eventID string) ([]SheetEntry, int64, error) {
	if !sess.valid() {
		return nil, 0, roster.ErrUnauthenticated
	}
	if !sess.Admin {
		return nil, 0, roster.ErrNotAdmin
	}
	e, err := s.events.Get(ctx, eventID)
	if err != nil {
		return nil, 0, err
	}
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, 0, err
	}
	ordered := roster.OrderRoster(&e, users)
	entries := make([]SheetEntry, 0, len(ordered))
	for _, u := range ordered {
		entries = append(entries, SheetEntry{
			UserID:      u.ID,
			Name:        u.Name(),
			Participant: e.HasParticipant(u.ID),
			Record:      roster.DefaultRecord(&e, u.ID),
		})
	}
	return entries, e.Rev, nil
}

// UsersWithStreepjes lists all members with their streepjes, recomputed from
// the current event set on every call.
func (s *Service) UsersWithStreepjes(ctx context.Context, sess Session) ([]roster.UserInfo, error) {
	if !sess.valid() {
		return nil, roster.ErrUnauthenticated
	}
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}
	events, err := s.events.List(ctx)
	if err != nil {
		return nil, err
	}
	counts := streepjes.Compute(users, events)
	out := make([]roster.UserInfo, 0, len(users))
	for _, u := range users {
		if !sess.Admin {
			u.Email = ""
			u.IsAdmin = false
		}
		out = append(out, roster.UserInfo{User: u, Streepjes: counts[u.ID]})
	}
	return out, nil
}

// SelfUpdate is the set of fields a member may change on their own profile.
type SelfUpdate struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Active    *bool   `json:"active"`
}

// UpdateSelf applies a member's edit to their own profile.
func (s *Service) UpdateSelf(ctx context.Context, sess Session, upd SelfUpdate) (roster.User, error) {
	if !sess.valid() {
		return roster.User{}, roster.ErrUnauthenticated
	}
	u, err := s.users.Get(ctx, sess.UserID)
	if err != nil {
		return roster.User{}, err
	}
	if upd.FirstName != nil {
		u.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		u.LastName = *upd.LastName
	}
	if upd.Active != nil {
		u.Active = *upd.Active
	}
	return s.users.Save(ctx, u)
}

package roster

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Validation errors returned before any state is touched.
var (
	ErrUnauthenticated = errors.New("not signed in")
	ErrNotAdmin        = errors.New("admin rights required")
	ErrWindowClosed    = errors.New("attendance can no longer be changed for this event")
	ErrMissingField    = errors.New("required field missing")
)

// AttendanceRecord is the canonical per-member presence entry on an event.
// The store and older clients also produce a legacy {present, absent} pair;
// UnmarshalJSON folds that into the boolean form so the rest of the code
// never sees the pair shape.
type AttendanceRecord struct {
	Present bool `json:"present"`
}

type attendanceRecordWire struct {
	Present *bool `json:"present"`
	Absent  *bool `json:"absent"`
}

// UnmarshalJSON accepts both the canonical {present} form and the legacy
// {present, absent} pair. Present wins when both are set; a lone absent
// flag means present=false.
func (r *AttendanceRecord) UnmarshalJSON(data []byte) error {
	var wire attendanceRecordWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	switch {
	case wire.Present != nil:
		r.Present = *wire.Present
	case wire.Absent != nil:
		r.Present = !*wire.Absent
	default:
		r.Present = false
	}
	return nil
}

// Event is a calendar entry. Opkomsten (IsOpkomst) are the recurring club
// meetings subject to RSVP and attendance tracking.
//
// Participants is the self-service RSVP roster; Attendance is the
// admin-recorded ledger of who actually showed up. The two are independent:
// attendance keys are not required to be participants, and the mismatch
// between them is exactly what the streepjes engine counts.
type Event struct {
	ID            string                     `json:"id"`
	Rev           int64                      `json:"rev"`
	Title         string                     `json:"title"`
	Start         time.Time                  `json:"start"`
	End           time.Time                  `json:"end"`
	AllDay        bool                       `json:"allDay"`
	IsOpkomst     bool                       `json:"isOpkomst"`
	Opkomstmakers string                     `json:"opkomstmakers"`
	Participants  []int64                    `json:"participants"`
	Attendance    map[int64]AttendanceRecord `json:"attendance,omitempty"`
}

// Normalize fills derived defaults: End falls back to Start.
func (e *Event) Normalize() {
	if e.End.IsZero() {
		e.End = e.Start
	}
}

// HasParticipant reports whether userID is on the RSVP roster.
func (e *Event) HasParticipant(userID int64) bool {
	for _, id := range e.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy; mutating the copy never aliases the original's
// participant slice or attendance map.
func (e Event) Clone() Event {
	out := e
	if e.Participants != nil {
		out.Participants = make([]int64, len(e.Participants))
		copy(out.Participants, e.Participants)
	}
	if e.Attendance != nil {
		out.Attendance = make(map[int64]AttendanceRecord, len(e.Attendance))
		for id, rec := range e.Attendance {
			out.Attendance[id] = rec
		}
	}
	return out
}

// User is a club member. Streepjes are intentionally absent here: they are
// derived from events on every read, never stored.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"-"`
	Active    bool   `json:"active"`
	IsAdmin   bool   `json:"isAdmin"`
}

// Name returns the display name.
func (u User) Name() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// UserInfo is the read-model for member listings: profile fields plus the
// freshly computed streepjes count.
type UserInfo struct {
	User
	Streepjes int `json:"streepjes"`
}

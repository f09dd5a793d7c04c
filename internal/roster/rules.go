package roster

import (
	"sort"
	"strings"
	"time"
)

// CanonicalTitle marks the weekly club meeting. Creating an opkomst with
// exactly this title seeds the roster with all active members (AutoEnroll).
const CanonicalTitle = "Opkomst"

// CanChangeAttendance implements the RSVP window: members may change their
// RSVP only while the event's start date is strictly after today, at day
// granularity. The event day itself is already closed.
func CanChangeAttendance(start, now time.Time) bool {
	ey, em, ed := start.Date()
	ny, nm, nd := now.Date()
	eventDay := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
	today := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	return eventDay.After(today)
}

// SetParticipant adds or removes userID on the RSVP roster. It is
// idempotent: asking for a state the roster is already in changes nothing.
// Returns whether the roster changed.
func SetParticipant(e *Event, userID int64, attending bool) bool {
	if attending {
		if e.HasParticipant(userID) {
			return false
		}
		e.Participants = append(e.Participants, userID)
		return true
	}
	for i, id := range e.Participants {
		if id == userID {
			e.Participants = append(e.Participants[:i], e.Participants[i+1:]...)
			return true
		}
	}
	return false
}

// DefaultRecord is the edit-time default for a member with no stored
// attendance entry: present iff they RSVPed. Not persisted until an admin
// saves the sheet.
func DefaultRecord(e *Event, userID int64) AttendanceRecord {
	if rec, ok := e.Attendance[userID]; ok {
		return rec
	}
	return AttendanceRecord{Present: e.HasParticipant(userID)}
}

// OrderRoster sorts members for the attendance sheet: participants first,
// then everyone else, ties broken by case-insensitive name.
func OrderRoster(e *Event, users []User) []User {
	out := make([]User, len(users))
	copy(out, users)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := e.HasParticipant(out[i].ID), e.HasParticipant(out[j].ID)
		if pi != pj {
			return pi
		}
		return strings.ToLower(out[i].Name()) < strings.ToLower(out[j].Name())
	})
	return out
}

// AutoEnroll seeds a new canonical opkomst with a snapshot of the ids of all
// currently active members. The snapshot is taken once, at creation; later
// (de)activations never rewrite an existing roster.
func AutoEnroll(e *Event, canonicalTitle string, users []User) {
	if !e.IsOpkomst || e.Title != canonicalTitle {
		return
	}
	ids := make([]int64, 0, len(users))
	for _, u := range users {
		if u.Active {
			ids = append(ids, u.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	e.Participants = ids
}

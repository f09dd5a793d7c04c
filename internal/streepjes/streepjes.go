// Package streepjes derives penalty counts from RSVP/attendance mismatches.
//
// A streepje is awarded for every opkomst where a member's recorded presence
// disagrees with their RSVP: they signed up and did not show, or showed up
// without signing up. Counts are recomputed from the full event set on every
// read so a late attendance correction is reflected immediately; nothing in
// this package holds state.
package streepjes

import "opkomst/internal/roster"

// Compute returns the streepjes count per user id. Every user starts at 0;
// only opkomsten with a non-empty attendance ledger contribute.
func Compute(users []roster.User, events []roster.Event) map[int64]int {
	counts := make(map[int64]int, len(users))
	for _, u := range users {
		counts[u.ID] = 0
	}
	for i := range events {
		for userID, violated := range Violations(&events[i]) {
			if violated {
				counts[userID]++
			}
		}
	}
	return counts
}

// Violations returns, for a single event, which attendance entries disagree
// with the RSVP roster. Non-opkomsten and events without a saved ledger
// yield nothing. Entries for users outside the roster count too: showing up
// unannounced is as much a violation as not showing up after signing up.
func Violations(e *roster.Event) map[int64]bool {
	if !e.IsOpkomst || len(e.Attendance) == 0 {
		return nil
	}
	out := make(map[int64]bool, len(e.Attendance))
	for userID, rec := range e.Attendance {
		isParticipant := e.HasParticipant(userID)
		out[userID] = isParticipant != rec.Present
	}
	return out
}

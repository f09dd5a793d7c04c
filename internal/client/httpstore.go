package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"opkomst/internal/repo"
	"opkomst/internal/roster"
)

// HTTPStore talks to the opkomst API. It maps the API's error statuses back
// onto the domain errors the gateway and callers match on.
type HTTPStore struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPStore builds a store client for the API at baseURL, authenticating
// with the given bearer token.
func NewHTTPStore(baseURL, token string) *HTTPStore {
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *HTTPStore) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
		Rev   int64  `json:"rev"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return roster.ErrUnauthenticated
	case http.StatusForbidden:
		return roster.ErrNotAdmin
	case http.StatusNotFound:
		return repo.ErrNotFound
	case http.StatusConflict:
		return &repo.RevisionConflictError{Actual: body.Rev}
	}
	if body.Error != "" {
		return fmt.Errorf("api: %s (status %d)", body.Error, resp.StatusCode)
	}
	return fmt.Errorf("api: unexpected status %d", resp.StatusCode)
}

// ListEvents fetches all events.
func (s *HTTPStore) ListEvents(ctx context.Context) ([]roster.Event, error) {
	var out struct {
		Events []roster.Event `json:"events"`
	}
	if err := s.do(ctx, http.MethodGet, "/v1/events", nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// ListUsers fetches members with server-computed streepjes.
func (s *HTTPStore) ListUsers(ctx context.Context) ([]roster.UserInfo, error) {
	var out struct {
		Users []roster.UserInfo `json:"users"`
	}
	if err := s.do(ctx, http.MethodGet, "/v1/users", nil, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

// CreateEvent stores a new event and returns the canonical record.
func (s *HTTPStore) CreateEvent(ctx context.Context, e roster.Event) (roster.Event, error) {
	var out roster.Event
	if err := s.do(ctx, http.MethodPost, "/v1/events", e, &out); err != nil {
		return roster.Event{}, err
	}
	return out, nil
}

// UpdateEvent replaces the full event document.
func (s *HTTPStore) UpdateEvent(ctx context.Context, e roster.Event) (roster.Event, error) {
	var out roster.Event
	if err := s.do(ctx, http.MethodPut, "/v1/events/"+e.ID, e, &out); err != nil {
		return roster.Event{}, err
	}
	return out, nil
}

// DeleteEvent removes an event.
func (s *HTTPStore) DeleteEvent(ctx context.Context, id string) error {
	return s.do(ctx, http.MethodDelete, "/v1/events/"+id, nil, nil)
}

// SetAttending toggles RSVP membership, returning the updated event.
func (s *HTTPStore) SetAttending(ctx context.Context, eventID string, userID int64, attending bool) (roster.Event, error) {
	body := map[string]any{"userId": userID, "attending": attending}
	var out roster.Event
	if err := s.do(ctx, http.MethodPut, "/v1/events/"+eventID+"/attendance", body, &out); err != nil {
		return roster.Event{}, err
	}
	return out, nil
}

// SaveAttendance replaces the event's attendance ledger at the given revision.
func (s *HTTPStore) SaveAttendance(ctx context.Context, eventID string, rev int64, ledger map[int64]roster.AttendanceRecord) (roster.Event, error) {
	cur, err := s.getEvent(ctx, eventID)
	if err != nil {
		return roster.Event{}, err
	}
	cur.Rev = rev
	cur.Attendance = ledger
	return s.UpdateEvent(ctx, cur)
}

func (s *HTTPStore) getEvent(ctx context.Context, id string) (roster.Event, error) {
	events, err := s.ListEvents(ctx)
	if err != nil {
		return roster.Event{}, err
	}
	for _, e := range events {
		if e.ID == id {
			return e, nil
		}
	}
	return roster.Event{}, repo.ErrNotFound
}

package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opkomst/internal/repo"
	"opkomst/internal/roster"
)

func TestHTTPStore_ListEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/events", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"events": []roster.Event{{ID: "e1", Rev: 3, Title: "Opkomst"}},
		})
	}))
	defer srv.Close()

	store := NewHTTPStore(srv.URL, "tok")
	events, err := store.ListEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e1", events[0].ID)
	assert.Equal(t, int64(3), events[0].Rev)
}

func TestHTTPStore_SetAttending_SendsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/v1/events/e1/attendance", r.URL.Path)
		var body struct {
			UserID    int64 `json:"userId"`
			Attending bool  `json:"attending"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(2), body.UserID)
		assert.True(t, body.Attending)
		json.NewEncoder(w).Encode(roster.Event{ID: "e1", Rev: 4, Participants: []int64{2}})
	}))
	defer srv.Close()

	store := NewHTTPStore(srv.URL, "tok")
	e, err := store.SetAttending(context.Background(), "e1", 2, true)
	require.NoError(t, err)
	assert.Equal(t, int64(4), e.Rev)
	assert.Equal(t, []int64{2}, e.Participants)
}

func TestHTTPStore_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			body:   `{"error":"not logged in"}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, roster.ErrUnauthenticated)
			},
		},
		{
			name:   "forbidden",
			status: http.StatusForbidden,
			body:   `{"error":"admin only"}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, roster.ErrNotAdmin)
			},
		},
		{
			name:   "not found",
			status: http.StatusNotFound,
			body:   `{"error":"no such event"}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, repo.ErrNotFound)
			},
		},
		{
			name:   "conflict carries server revision",
			status: http.StatusConflict,
			body:   `{"error":"revision conflict","rev":7}`,
			check: func(t *testing.T, err error) {
				var conflict *repo.RevisionConflictError
				require.ErrorAs(t, err, &conflict)
				assert.Equal(t, int64(7), conflict.Actual)
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			store := NewHTTPStore(srv.URL, "tok")
			_, err := store.ListEvents(context.Background())
			tc.check(t, err)
		})
	}
}

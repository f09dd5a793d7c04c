package repo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opkomst/internal/roster"
)

func TestMemoryEvents_CreateAssignsIDAndRevision(t *testing.T) {
	ctx := context.Background()
	events := NewMemory().Events()

	created, err := events.Create(ctx, roster.Event{Title: "Opkomst", Start: time.Now()})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, int64(1), created.Rev)

	got, err := events.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
}

func TestMemoryEvents_ReplaceIsRevisionGuarded(t *testing.T) {
	ctx := context.Background()
	events := NewMemory().Events()

	created, err := events.Create(ctx, roster.Event{Title: "Opkomst", Start: time.Now()})
	require.NoError(t, err)

	created.Title = "Opkomst (verplaatst)"
	updated, err := events.Replace(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Rev)

	// Replaying the same stale document must conflict, not overwrite.
	_, err = events.Replace(ctx, created)
	require.Error(t, err)
	var conflict *RevisionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(1), conflict.Expected)
	assert.Equal(t, int64(2), conflict.Actual)
	assert.True(t, IsConflict(err))

	got, err := events.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Opkomst (verplaatst)", got.Title)
}

func TestMemoryEvents_NotFound(t *testing.T) {
	ctx := context.Background()
	events := NewMemory().Events()

	_, err := events.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = events.Replace(ctx, roster.Event{ID: "nope", Rev: 1})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, events.Delete(ctx, "nope"), ErrNotFound)
}

func TestMemoryEvents_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	events := NewMemory().Events()

	created, err := events.Create(ctx, roster.Event{Title: "Opkomst", Start: time.Now(), Participants: []int64{1}})
	require.NoError(t, err)

	got, err := events.Get(ctx, created.ID)
	require.NoError(t, err)
	got.Participants[0] = 99

	again, err := events.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, again.Participants)
}

func TestMemoryUsers_SaveAndLookup(t *testing.T) {
	ctx := context.Background()
	users := NewMemory().Users()

	anna, err := users.Save(ctx, roster.User{FirstName: "Anna", Email: "anna@club.nl", Active: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), anna.ID)

	bram, err := users.Save(ctx, roster.User{FirstName: "Bram", Email: "bram@club.nl"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), bram.ID)

	got, err := users.GetByEmail(ctx, "ANNA@club.nl")
	require.NoError(t, err)
	assert.Equal(t, anna.ID, got.ID)

	_, err = users.GetByEmail(ctx, "niemand@club.nl")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := users.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(1), all[0].ID)
}

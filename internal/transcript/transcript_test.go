package transcript

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"job-lifecycle-service/internal/models"
	"job-lifecycle-service/internal/store"
)

func seedChat(t *testing.T) (*store.Memory, models.Chat) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	job, err := st.CreateJob(ctx, store.CreateJobParams{Title: "Move boxes", EmployerID: "emp"})
	require.NoError(t, err)
	app, err := st.CreateApplication(ctx, store.CreateApplicationParams{JobID: job.ID, WorkerID: "wrk"})
	require.NoError(t, err)
	rec, err := st.AcceptApplication(ctx, store.AcceptParams{ApplicationID: app.ID, EmployerID: "emp", Message: "accepted"})
	require.NoError(t, err)
	return st, rec.Chat
}

func TestAppendValidates(t *testing.T) {
	st, chat := seedChat(t)
	svc := NewService(st, 10, 5)
	ctx := context.Background()

	_, err := svc.Append(ctx, AppendParams{ChatID: chat.ID, AuthorID: "wrk", Body: "   "})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = svc.Append(ctx, AppendParams{ChatID: chat.ID, AuthorID: "wrk", Body: strings.Repeat("a", 11)})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	zero := 0
	_, err = svc.Append(ctx, AppendParams{ChatID: chat.ID, AuthorID: "wrk", Payload: &models.Payload{EstimatedArrivalMinutes: &zero}})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = svc.Append(ctx, AppendParams{ChatID: chat.ID, AuthorID: "stranger", Body: "hi"})
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = svc.Append(ctx, AppendParams{ChatID: "missing", AuthorID: "wrk", Body: "hi"})
	assert.ErrorIs(t, err, models.ErrNotFound)

	e, err := svc.Append(ctx, AppendParams{ChatID: chat.ID, AuthorID: "wrk", Body: "  on my way  "})
	require.NoError(t, err)
	assert.Equal(t, "on my way", e.Body)
	assert.Equal(t, models.EntryUser, e.Kind)
	assert.Equal(t, int64(2), e.Sequence)

	ten := 10
	e, err = svc.Append(ctx, AppendParams{ChatID: chat.ID, AuthorID: "wrk", Payload: &models.Payload{EstimatedArrivalMinutes: &ten}})
	require.NoError(t, err)
	require.NotNil(t, e.Payload)
	assert.Equal(t, 10, *e.Payload.EstimatedArrivalMinutes)
}

func TestEntriesPagesInOrderWithoutGaps(t *testing.T) {
	st, chat := seedChat(t)
	svc := NewService(st, 0, 3)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		author := "wrk"
		if i%3 == 0 {
			author = "emp"
		}
		_, err := svc.Append(ctx, AppendParams{ChatID: chat.ID, AuthorID: author, Body: "m"})
		require.NoError(t, err)
	}

	var seqs []int64
	for e, err := range svc.Entries(ctx, chat.ID, 0) {
		require.NoError(t, err)
		seqs = append(seqs, e.Sequence)
	}
	require.Len(t, seqs, 11)
	for i, s := range seqs {
		assert.Equal(t, int64(i+1), s)
	}

	// Restarting from a cursor yields only what follows it.
	var tail []int64
	for e, err := range svc.Entries(ctx, chat.ID, 9) {
		require.NoError(t, err)
		tail = append(tail, e.Sequence)
	}
	assert.Equal(t, []int64{10, 11}, tail)
}

func TestEntriesStopsEarly(t *testing.T) {
	st, chat := seedChat(t)
	svc := NewService(st, 0, 2)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := svc.Append(ctx, AppendParams{ChatID: chat.ID, AuthorID: "wrk", Body: "m"})
		require.NoError(t, err)
	}
	n := 0
	for range svc.Entries(ctx, chat.ID, 0) {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestEntriesSurfacesStoreError(t *testing.T) {
	svc := NewService(store.NewMemory(), 0, 2)
	var got error
	for _, err := range svc.Entries(context.Background(), "missing", 0) {
		got = err
	}
	assert.True(t, errors.Is(got, models.ErrNotFound))
}

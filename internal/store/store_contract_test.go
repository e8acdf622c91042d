package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"job-lifecycle-service/internal/models"
)

type acceptedFixture struct {
	st     Store
	job    models.Job
	app    models.Application
	chat   models.Chat
	worker string
	boss   string
}

// userID returns an id unique to this run so a shared database never mixes fixtures.
func userID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

func newAcceptedFixture(t *testing.T, st Store) acceptedFixture {
	t.Helper()
	ctx := context.Background()
	boss, worker := userID("emp"), userID("wrk")

	job, err := st.CreateJob(ctx, CreateJobParams{Title: "Fix fence", EmployerID: boss})
	require.NoError(t, err)
	app, err := st.CreateApplication(ctx, CreateApplicationParams{JobID: job.ID, WorkerID: worker, Message: "hi"})
	require.NoError(t, err)
	rec, err := st.AcceptApplication(ctx, AcceptParams{
		ApplicationID: app.ID,
		EmployerID:    boss,
		Milestone:     models.MilestoneWorkerAssigned,
		Message:       "accepted",
	})
	require.NoError(t, err)
	return acceptedFixture{st: st, job: rec.Job, app: rec.Application, chat: rec.Chat, worker: worker, boss: boss}
}

// runStoreContract runs the behaviour every Store implementation must share.
func runStoreContract(t *testing.T, st Store) {
	cases := []struct {
		name string
		fn   func(*testing.T, Store)
	}{
		{"DuplicateApplication", testDuplicateApplication},
		{"AcceptApplication", testAcceptApplication},
		{"ApplyTransitionCompareAndSwap", testApplyTransitionCompareAndSwap},
		{"ConcurrentTransitionsOneWins", testConcurrentTransitionsOneWins},
		{"MilestoneSetOnce", testMilestoneSetOnce},
		{"ConcurrentAppendsGetDistinctSequences", testConcurrentAppendsGetDistinctSequences},
		{"AppendGuards", testAppendGuards},
		{"ListEntriesSince", testListEntriesSince},
		{"MarkEntriesReadIsMonotonic", testMarkEntriesReadIsMonotonic},
		{"Notifications", testNotifications},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) { tc.fn(t, st) })
	}
}

func testDuplicateApplication(t *testing.T, st Store) {
	ctx := context.Background()
	job, err := st.CreateJob(ctx, CreateJobParams{Title: "Paint", EmployerID: userID("emp")})
	require.NoError(t, err)

	first, err := st.CreateApplication(ctx, CreateApplicationParams{JobID: job.ID, WorkerID: "wrk-1", Message: "msg"})
	require.NoError(t, err)
	_, err = st.CreateApplication(ctx, CreateApplicationParams{JobID: job.ID, WorkerID: "wrk-1", Message: "msg2"})
	require.ErrorIs(t, err, models.ErrDuplicateApplication)

	got, err := st.GetApplication(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationPending, got.Status)
	assert.Equal(t, "msg", got.Message)

	_, err = st.CreateApplication(ctx, CreateApplicationParams{JobID: userID("missing"), WorkerID: "wrk-1"})
	require.ErrorIs(t, err, models.ErrNotFound)
}

func testAcceptApplication(t *testing.T, st Store) {
	f := newAcceptedFixture(t, st)
	ctx := context.Background()

	assert.Equal(t, models.StateAccepted, f.job.State)
	require.NotNil(t, f.job.AssignedWorkerID)
	assert.Equal(t, f.worker, *f.job.AssignedWorkerID)

	state, err := f.st.GetJobState(ctx, f.job.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.Version)
	assert.NotNil(t, state.WorkerAssignedAt)

	entries, err := f.st.ListEntries(ctx, f.chat.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.EntrySystem, entries[0].Kind)
	assert.Equal(t, int64(1), entries[0].Sequence)

	// A second worker cannot be accepted once the job has one.
	other, err := f.st.CreateApplication(ctx, CreateApplicationParams{JobID: f.job.ID, WorkerID: "wrk-2"})
	require.NoError(t, err)
	_, err = f.st.AcceptApplication(ctx, AcceptParams{ApplicationID: other.ID, EmployerID: f.boss})
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = f.st.AcceptApplication(ctx, AcceptParams{ApplicationID: other.ID, EmployerID: "intruder"})
	require.ErrorIs(t, err, models.ErrForbidden)

	rejected, err := f.st.RejectApplication(ctx, other.ID, f.boss)
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationRejected, rejected.Status)
}

func testApplyTransitionCompareAndSwap(t *testing.T, st Store) {
	f := newAcceptedFixture(t, st)
	ctx := context.Background()

	params := TransitionParams{
		JobID:           f.job.ID,
		ApplicationID:   f.app.ID,
		ChatID:          f.chat.ID,
		ActorID:         f.worker,
		From:            models.StateAccepted,
		To:              models.StateEnRoute,
		ExpectedVersion: 1,
		Message:         "on the way",
	}
	rec, err := f.st.ApplyTransition(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.State.Version)
	assert.Equal(t, models.StateEnRoute, rec.Job.State)
	assert.Equal(t, int64(2), rec.Entry.Sequence)

	// Same request again lost the race.
	_, err = f.st.ApplyTransition(ctx, params)
	require.ErrorIs(t, err, models.ErrStaleState)

	entries, err := f.st.ListEntries(ctx, f.chat.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	changes, err := f.st.ListStateChanges(ctx, f.job.ID)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, models.StateApplied, changes[0].From)
	assert.Equal(t, models.StateEnRoute, changes[1].To)
}

func testConcurrentTransitionsOneWins(t *testing.T, st Store) {
	f := newAcceptedFixture(t, st)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.st.ApplyTransition(ctx, TransitionParams{
				JobID: f.job.ID, ApplicationID: f.app.ID, ChatID: f.chat.ID, ActorID: f.worker,
				From: models.StateAccepted, To: models.StateEnRoute, ExpectedVersion: 1,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	won := 0
	for err := range errs {
		if err == nil {
			won++
			continue
		}
		assert.ErrorIs(t, err, models.ErrStaleState)
	}
	assert.Equal(t, 1, won)

	st2, err := f.st.GetJobState(ctx, f.job.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st2.Version)
	entries, err := f.st.ListEntries(ctx, f.chat.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "only the winning transition writes a system entry")
}

func testMilestoneSetOnce(t *testing.T, st Store) {
	f := newAcceptedFixture(t, st)
	ctx := context.Background()

	before, err := f.st.GetJobState(ctx, f.job.ID)
	require.NoError(t, err)
	assigned := *before.WorkerAssignedAt

	rec, err := f.st.ApplyTransition(ctx, TransitionParams{
		JobID: f.job.ID, ApplicationID: f.app.ID, ChatID: f.chat.ID, ActorID: f.worker,
		From: models.StateAccepted, To: models.StateEnRoute, ExpectedVersion: 1,
		Milestone: models.MilestoneWorkerAssigned,
	})
	require.NoError(t, err)
	assert.True(t, rec.State.WorkerAssignedAt.Equal(assigned))
}

func testConcurrentAppendsGetDistinctSequences(t *testing.T, st Store) {
	f := newAcceptedFixture(t, st)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	seqs := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			author := f.worker
			if i%2 == 0 {
				author = f.boss
			}
			e, err := f.st.AppendEntry(ctx, AppendEntryParams{
				ChatID:   f.chat.ID,
				AuthorID: strPtr(author),
				Kind:     models.EntryUser,
				Body:     fmt.Sprintf("msg %d", i),
			})
			if err != nil {
				t.Errorf("append %d: %v", i, err)
				return
			}
			seqs <- e.Sequence
		}(i)
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int64]bool)
	for s := range seqs {
		assert.False(t, seen[s], "sequence %d assigned twice", s)
		seen[s] = true
	}
	assert.Len(t, seen, n)

	entries, err := f.st.ListEntries(ctx, f.chat.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, n+1)
	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
}

func testAppendGuards(t *testing.T, st Store) {
	f := newAcceptedFixture(t, st)
	ctx := context.Background()

	_, err := f.st.AppendEntry(ctx, AppendEntryParams{ChatID: userID("chat"), AuthorID: strPtr(f.worker), Kind: models.EntryUser, Body: "x"})
	require.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.st.AppendEntry(ctx, AppendEntryParams{ChatID: f.chat.ID, AuthorID: strPtr("stranger"), Kind: models.EntryUser, Body: "x"})
	require.ErrorIs(t, err, models.ErrForbidden)

	// System entries skip the party check.
	_, err = f.st.AppendEntry(ctx, AppendEntryParams{ChatID: f.chat.ID, Kind: models.EntrySystem, Body: "x"})
	require.NoError(t, err)
}

func testListEntriesSince(t *testing.T, st Store) {
	f := newAcceptedFixture(t, st)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := f.st.AppendEntry(ctx, AppendEntryParams{ChatID: f.chat.ID, AuthorID: strPtr(f.worker), Kind: models.EntryUser, Body: "m"})
		require.NoError(t, err)
	}

	page, err := f.st.ListEntries(ctx, f.chat.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(3), page[0].Sequence)
	assert.Equal(t, int64(4), page[1].Sequence)

	tail, err := f.st.ListEntries(ctx, f.chat.ID, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, tail)
}

func testMarkEntriesReadIsMonotonic(t *testing.T, st Store) {
	f := newAcceptedFixture(t, st)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.st.AppendEntry(ctx, AppendEntryParams{ChatID: f.chat.ID, AuthorID: strPtr(f.worker), Kind: models.EntryUser, Body: "m"})
		require.NoError(t, err)
	}
	// seq 1 is the employer-authored acceptance entry, 2..4 are from the worker.
	unread, err := f.st.CountUnreadEntries(ctx, f.chat.ID, f.boss)
	require.NoError(t, err)
	assert.Equal(t, int64(3), unread)

	res, err := f.st.MarkEntriesRead(ctx, f.chat.ID, f.boss, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Cursor)
	assert.Equal(t, int64(2), res.Marked)

	again, err := f.st.MarkEntriesRead(ctx, f.chat.ID, f.boss, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), again.Cursor)
	assert.Zero(t, again.Marked)

	older, err := f.st.MarkEntriesRead(ctx, f.chat.ID, f.boss, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), older.Cursor)

	entries, err := f.st.ListEntries(ctx, f.chat.ID, 0, 0)
	require.NoError(t, err)
	assert.False(t, entries[0].Read, "entries authored by the reader are not flagged")
	assert.True(t, entries[1].Read)
	assert.True(t, entries[2].Read)
	assert.False(t, entries[3].Read)

	// Cursor past the end is clamped.
	res, err = f.st.MarkEntriesRead(ctx, f.chat.ID, f.boss, 99)
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Cursor)

	_, err = f.st.MarkEntriesRead(ctx, f.chat.ID, "stranger", 1)
	require.ErrorIs(t, err, models.ErrForbidden)
}

func testNotifications(t *testing.T, st Store) {
	ctx := context.Background()
	emp := userID("emp")

	var ids []string
	for i := 0; i < 3; i++ {
		n, err := st.CreateNotification(ctx, CreateNotificationParams{
			RecipientID: emp, JobID: "job-1", Type: models.NotificationMessage, Title: "t", Body: fmt.Sprint(i),
		})
		require.NoError(t, err)
		ids = append(ids, n.ID)
	}

	list, err := st.ListNotifications(ctx, emp, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ids[2], list[0].ID)

	_, err = st.MarkNotificationRead(ctx, ids[0], "someone-else")
	require.True(t, errors.Is(err, models.ErrNotFound))

	_, err = st.MarkNotificationRead(ctx, ids[0], emp)
	require.NoError(t, err)
	n, err := st.MarkAllNotificationsRead(ctx, emp)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	n, err = st.MarkAllNotificationsRead(ctx, emp)
	require.NoError(t, err)
	assert.Zero(t, n)

	unread, err := st.CountUnreadNotifications(ctx, emp)
	require.NoError(t, err)
	assert.Zero(t, unread)
}

package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"job-lifecycle-service/internal/models"
	"job-lifecycle-service/internal/store"
)

type fixture struct {
	engine   *Engine
	st       *store.Memory
	job      models.Job
	app      models.Application
	chat     models.Chat
	worker   models.Actor
	employer models.Actor
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	eng := NewEngine(st, slog.New(slog.NewTextHandler(io.Discard, nil)))

	job, err := st.CreateJob(ctx, store.CreateJobParams{Title: "Garden", EmployerID: "emp"})
	require.NoError(t, err)
	app, err := st.CreateApplication(ctx, store.CreateApplicationParams{JobID: job.ID, WorkerID: "wrk", Message: "I can help"})
	require.NoError(t, err)
	rec, err := eng.Accept(ctx, app.ID, "emp")
	require.NoError(t, err)

	return fixture{
		engine:   eng,
		st:       st,
		job:      rec.Job,
		app:      rec.Application,
		chat:     rec.Chat,
		worker:   models.Actor{UserID: "wrk", Role: models.RoleWorker},
		employer: models.Actor{UserID: "emp", Role: models.RoleEmployer},
	}
}

func (f fixture) request(actor models.Actor, target models.State) (TransitionResult, error) {
	return f.engine.RequestTransition(context.Background(), TransitionRequest{
		JobID: f.job.ID, ApplicationID: f.app.ID, Actor: actor, Target: target,
	})
}

func TestAcceptSeedsStateAndEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.st.GetJobState(ctx, f.job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateAccepted, st.State)
	assert.NotNil(t, st.WorkerAssignedAt)

	entries, err := f.st.ListEntries(ctx, f.chat.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Application accepted. The chat is now enabled!", entries[0].Body)
}

func TestEmployerRetryAfterWorkerMovedIsInvalidTransition(t *testing.T) {
	f := newFixture(t)

	res, err := f.request(f.worker, models.StateEnRoute)
	require.NoError(t, err)
	assert.Equal(t, models.StateEnRoute, res.To)
	assert.Equal(t, "The worker is on the way to the job", res.Entry.Body)
	assert.Equal(t, models.EntrySystem, res.Entry.Kind)

	_, err = f.request(f.employer, models.StateEnRoute)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestWrongRoleThenRightRole(t *testing.T) {
	f := newFixture(t)
	_, err := f.request(f.worker, models.StateEnRoute)
	require.NoError(t, err)
	_, err = f.request(f.worker, models.StateInProgress)
	require.NoError(t, err)

	_, err = f.request(f.employer, models.StateCompleted)
	require.ErrorIs(t, err, models.ErrInvalidRole)

	res, err := f.request(f.worker, models.StateCompleted)
	require.NoError(t, err)
	require.NotNil(t, res.State.WorkCompletedAt)
	assert.NotNil(t, res.State.WorkerStartedAt)
	assert.Nil(t, res.State.EmployerApprovedAt)
}

func TestFullLifecycleIsMonotonic(t *testing.T) {
	f := newFixture(t)
	steps := []struct {
		actor models.Actor
		to    models.State
	}{
		{f.worker, models.StateEnRoute},
		{f.worker, models.StateInProgress},
		{f.worker, models.StateCompleted},
		{f.employer, models.StateConfirmed},
	}
	for _, s := range steps {
		_, err := f.request(s.actor, s.to)
		require.NoError(t, err, "to %s", s.to)
	}

	changes, err := f.st.ListStateChanges(context.Background(), f.job.ID)
	require.NoError(t, err)
	require.Len(t, changes, 5)
	for i := 1; i < len(changes); i++ {
		assert.Equal(t, changes[i-1].To, changes[i].From)
		assert.Greater(t, changes[i].To.Rank(), changes[i].From.Rank())
	}

	_, err = f.request(f.worker, models.StateCancelled)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestStrangersAndMismatchedPairsAreNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.request(models.Actor{UserID: "someone", Role: models.RoleWorker}, models.StateEnRoute)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.request(models.Actor{UserID: "wrk", Role: models.RoleEmployer}, models.StateEnRoute)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.engine.RequestTransition(context.Background(), TransitionRequest{
		JobID: "missing", ApplicationID: f.app.ID, Actor: f.worker, Target: models.StateEnRoute,
	})
	assert.ErrorIs(t, err, models.ErrNotFound)

	other, err := f.st.CreateApplication(context.Background(), store.CreateApplicationParams{JobID: f.job.ID, WorkerID: "wrk-2"})
	require.NoError(t, err)
	_, err = f.engine.RequestTransition(context.Background(), TransitionRequest{
		JobID: f.job.ID, ApplicationID: other.ID, Actor: models.Actor{UserID: "wrk-2", Role: models.RoleWorker}, Target: models.StateEnRoute,
	})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCancelSetsMilestoneAndIsTerminal(t *testing.T) {
	f := newFixture(t)
	res, err := f.engine.Cancel(context.Background(), f.job.ID, f.app.ID, f.employer)
	require.NoError(t, err)
	assert.Equal(t, models.StateCancelled, res.To)
	assert.NotNil(t, res.State.CancelledAt)
	assert.Equal(t, "The employer cancelled the job", res.Entry.Body)

	_, err = f.request(f.worker, models.StateEnRoute)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestConcurrentTransitionsOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	const n = 8

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.request(f.worker, models.StateEnRoute)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, models.ErrInvalidTransition)
		var te *TransitionError
		assert.True(t, errors.As(err, &te))
	}
	assert.Equal(t, 1, wins)

	entries, err := f.st.ListEntries(context.Background(), f.chat.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "exactly one system entry per accepted transition")
}

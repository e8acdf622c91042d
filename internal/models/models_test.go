package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStateOrder(t *testing.T) {
	order := []State{StateApplied, StateAccepted, StateEnRoute, StateInProgress, StateCompleted, StateConfirmed}
	for i, s := range order {
		assert.Equal(t, i, s.Rank(), s)
		assert.True(t, s.Valid())
	}
	assert.Equal(t, -1, StateCancelled.Rank())
	assert.True(t, StateCancelled.Valid())
	assert.False(t, State("done").Valid())
	assert.True(t, StateConfirmed.Terminal())
	assert.True(t, StateCancelled.Terminal())
	assert.False(t, StateCompleted.Terminal())
}

func TestErrorCode(t *testing.T) {
	cases := map[error]string{
		nil:                                       "",
		fmt.Errorf("job j1: %w", ErrNotFound):     CodeNotFound,
		ErrStaleState:                             CodeInvalidTransition,
		Unavailable("insert", errors.New("boom")): CodeDependencyUnavailable,
		Invalid("bad %s", "thing"):                CodeInvalidInput,
		ErrRateLimited:                            CodeRateLimited,
		errors.New("surprise"):                    CodeInternal,
	}
	for err, want := range cases {
		assert.Equal(t, want, ErrorCode(err), "%v", err)
	}
	assert.Nil(t, Unavailable("noop", nil))
}

func TestMilestoneSetOnce(t *testing.T) {
	var st JobState
	first := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	st.SetMilestone(MilestoneWorkerStarted, first)
	st.SetMilestone(MilestoneWorkerStarted, first.Add(time.Hour))
	assert.Equal(t, first, *st.MilestoneAt(MilestoneWorkerStarted))
	assert.Nil(t, st.MilestoneAt(MilestoneCancelled))
}

func TestIsParty(t *testing.T) {
	w := "wrk"
	job := Job{EmployerID: "emp", AssignedWorkerID: &w}
	assert.True(t, job.IsParty("emp"))
	assert.True(t, job.IsParty("wrk"))
	assert.False(t, job.IsParty("other"))
	assert.False(t, job.IsParty(""))
	assert.False(t, Job{EmployerID: "emp"}.IsParty("wrk"))
}

package models

import (
	"time"
)

// State enumerates the lifecycle of a job from application to confirmed completion.
type State string

const (
	StateApplied    State = "applied"
	StateAccepted   State = "accepted"
	StateEnRoute    State = "en_route"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateConfirmed  State = "confirmed"
	StateCancelled  State = "cancelled"
)

var stateRank = map[State]int{
	StateApplied:    0,
	StateAccepted:   1,
	StateEnRoute:    2,
	StateInProgress: 3,
	StateCompleted:  4,
	StateConfirmed:  5,
}

// Valid reports whether s is one of the fixed lifecycle states.
func (s State) Valid() bool {
	if s == StateCancelled {
		return true
	}
	_, ok := stateRank[s]
	return ok
}

// Rank returns the position of s in the forward order, or -1 for cancelled and unknown states.
func (s State) Rank() int {
	if r, ok := stateRank[s]; ok {
		return r
	}
	return -1
}

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateCancelled
}

// Role identifies which side of a job an actor is on.
type Role string

const (
	RoleWorker   Role = "worker"
	RoleEmployer Role = "employer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleWorker || r == RoleEmployer
}

// Actor is the authenticated user issuing a request. It is trusted as resolved by the identity layer.
type Actor struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// ApplicationStatus enumerates the decision state of an application.
const (
	ApplicationPending  = "pending"
	ApplicationAccepted = "accepted"
	ApplicationRejected = "rejected"
)

// Job is the unit of work an employer posts and a worker performs.
type Job struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	EmployerID       string    `json:"employer_id"`
	AssignedWorkerID *string   `json:"assigned_worker_id,omitempty"`
	State            State     `json:"state"`
	Version          int64     `json:"version"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// IsParty reports whether userID is the employer or the assigned worker of the job.
func (j Job) IsParty(userID string) bool {
	if userID == "" {
		return false
	}
	if j.EmployerID == userID {
		return true
	}
	return j.AssignedWorkerID != nil && *j.AssignedWorkerID == userID
}

// Application is a worker's request to take a job.
type Application struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id"`
	WorkerID  string    `json:"worker_id"`
	Message   string    `json:"message"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Chat binds one job, its accepted application, and the two parties to a transcript.
type Chat struct {
	ID            string    `json:"id"`
	JobID         string    `json:"job_id"`
	ApplicationID string    `json:"application_id"`
	WorkerID      string    `json:"worker_id"`
	EmployerID    string    `json:"employer_id"`
	LastSequence  int64     `json:"last_sequence"`
	CreatedAt     time.Time `json:"created_at"`
}

// IsParty reports whether userID is the worker or the employer of the chat.
func (c Chat) IsParty(userID string) bool {
	return userID != "" && (c.WorkerID == userID || c.EmployerID == userID)
}

// Milestone names a once-set timestamp on the job state record.
type Milestone string

const (
	MilestoneNone             Milestone = ""
	MilestoneWorkerAssigned   Milestone = "worker_assigned_at"
	MilestoneWorkerStarted    Milestone = "worker_started_at"
	MilestoneWorkCompleted    Milestone = "work_completed_at"
	MilestoneEmployerApproved Milestone = "employer_approved_at"
	MilestoneCancelled        Milestone = "cancelled_at"
)

// JobState holds the current lifecycle value of a job plus its milestone timeline.
// Version increments on every accepted transition and backs the compare-and-swap write.
type JobState struct {
	JobID              string     `json:"job_id"`
	ApplicationID      string     `json:"application_id"`
	State              State      `json:"state"`
	Version            int64      `json:"version"`
	WorkerAssignedAt   *time.Time `json:"worker_assigned_at,omitempty"`
	WorkerStartedAt    *time.Time `json:"worker_started_at,omitempty"`
	WorkCompletedAt    *time.Time `json:"work_completed_at,omitempty"`
	EmployerApprovedAt *time.Time `json:"employer_approved_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// MilestoneAt returns the timestamp recorded for m, if any.
func (s JobState) MilestoneAt(m Milestone) *time.Time {
	switch m {
	case MilestoneWorkerAssigned:
		return s.WorkerAssignedAt
	case MilestoneWorkerStarted:
		return s.WorkerStartedAt
	case MilestoneWorkCompleted:
		return s.WorkCompletedAt
	case MilestoneEmployerApproved:
		return s.EmployerApprovedAt
	case MilestoneCancelled:
		return s.CancelledAt
	}
	return nil
}

// SetMilestone records m at ts unless it was already set.
func (s *JobState) SetMilestone(m Milestone, ts time.Time) {
	set := func(p **time.Time) {
		if *p == nil {
			t := ts
			*p = &t
		}
	}
	switch m {
	case MilestoneWorkerAssigned:
		set(&s.WorkerAssignedAt)
	case MilestoneWorkerStarted:
		set(&s.WorkerStartedAt)
	case MilestoneWorkCompleted:
		set(&s.WorkCompletedAt)
	case MilestoneEmployerApproved:
		set(&s.EmployerApprovedAt)
	case MilestoneCancelled:
		set(&s.CancelledAt)
	}
}

// StateChange is one row of the append-only transition history of a job.
type StateChange struct {
	ID            string    `json:"id"`
	JobID         string    `json:"job_id"`
	ApplicationID string    `json:"application_id"`
	From          State     `json:"from"`
	To            State     `json:"to"`
	ChangedBy     string    `json:"changed_by"`
	Message       string    `json:"message"`
	CreatedAt     time.Time `json:"created_at"`
}

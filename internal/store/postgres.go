package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"job-lifecycle-service/internal/models"
)

var _ Store = (*Postgres)(nil)

// Postgres wraps pgxpool for persistence of the lifecycle tables.
type Postgres struct {
	pool *pgxpool.Pool
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, models.Unavailable("connect postgres", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return models.Unavailable("ping postgres", s.pool.Ping(ctx))
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const (
	jobColumns          = `id, title, employer_id, assigned_worker_id, state, version, created_at, updated_at`
	applicationColumns  = `id, job_id, worker_id, message, status, created_at, updated_at`
	chatColumns         = `id, job_id, application_id, worker_id, employer_id, last_seq, created_at`
	stateColumns        = `job_id, application_id, state, version, worker_assigned_at, worker_started_at, work_completed_at, employer_approved_at, cancelled_at, updated_at`
	changeColumns       = `id, job_id, application_id, from_state, to_state, changed_by, message, created_at`
	entryColumns        = `id, chat_id, job_id, seq, author_id, kind, body, payload, is_read, created_at`
	notificationColumns = `id, recipient_id, job_id, type, title, body, is_read, created_at`
	taskColumns         = `id, chat_id, job_id, author_id, source_key, caption, status, attempts, max_attempts, last_error, created_at, updated_at`
)

// milestoneColumns whitelists the columns a transition may stamp.
var milestoneColumns = map[models.Milestone]string{
	models.MilestoneWorkerAssigned:   "worker_assigned_at",
	models.MilestoneWorkerStarted:    "worker_started_at",
	models.MilestoneWorkCompleted:    "work_completed_at",
	models.MilestoneEmployerApproved: "employer_approved_at",
	models.MilestoneCancelled:        "cancelled_at",
}

// ── Jobs ─────────────────────────────────────────────

// CreateJob inserts a job row in the applied state.
func (s *Postgres) CreateJob(ctx context.Context, p CreateJobParams) (models.Job, error) {
	now := time.Now().UTC()
	job := models.Job{
		ID:         uuid.New().String(),
		Title:      p.Title,
		EmployerID: p.EmployerID,
		State:      models.StateApplied,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, title, employer_id, state, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $5)
	`, job.ID, job.Title, job.EmployerID, string(job.State), now)
	if err != nil {
		return models.Job{}, models.Unavailable("insert job", err)
	}
	return job, nil
}

// GetJob fetches a job by id.
func (s *Postgres) GetJob(ctx context.Context, id string) (models.Job, error) {
	return getJob(ctx, s.pool, id, false)
}

func getJob(ctx context.Context, q querier, id string, forUpdate bool) (models.Job, error) {
	sql := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	job, err := scanJob(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.Job{}, models.Unavailable("scan job", err)
	}
	return job, nil
}

// ── Applications ─────────────────────────────────────

// CreateApplication inserts a pending application; a second one for the same (job, worker) is rejected.
func (s *Postgres) CreateApplication(ctx context.Context, p CreateApplicationParams) (models.Application, error) {
	now := time.Now().UTC()
	app := models.Application{
		ID:        uuid.New().String(),
		JobID:     p.JobID,
		WorkerID:  p.WorkerID,
		Message:   p.Message,
		Status:    models.ApplicationPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO applications (id, job_id, worker_id, message, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, app.ID, app.JobID, app.WorkerID, app.Message, app.Status, now)
	switch {
	case isDuplicateKey(err):
		return models.Application{}, fmt.Errorf("worker %s on job %s: %w", p.WorkerID, p.JobID, models.ErrDuplicateApplication)
	case isForeignKeyViolation(err):
		return models.Application{}, fmt.Errorf("job %s: %w", p.JobID, models.ErrNotFound)
	case err != nil:
		return models.Application{}, models.Unavailable("insert application", err)
	}
	return app, nil
}

func (s *Postgres) GetApplication(ctx context.Context, id string) (models.Application, error) {
	return getApplication(ctx, s.pool, id, false)
}

func getApplication(ctx context.Context, q querier, id string, forUpdate bool) (models.Application, error) {
	sql := `SELECT ` + applicationColumns + ` FROM applications WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	app, err := scanApplication(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Application{}, fmt.Errorf("application %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.Application{}, models.Unavailable("scan application", err)
	}
	return app, nil
}

func (s *Postgres) ListApplications(ctx context.Context, jobID string) ([]models.Application, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+applicationColumns+` FROM applications WHERE job_id = $1 ORDER BY created_at ASC
	`, jobID)
	if err != nil {
		return nil, models.Unavailable("query applications", err)
	}
	apps, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Application, error) {
		return scanApplication(row)
	})
	if err != nil {
		return nil, models.Unavailable("scan applications", err)
	}
	return apps, nil
}

// AcceptApplication accepts a pending application, assigns the worker, opens the chat,
// seeds the job state and appends the first system entry in one transaction.
func (s *Postgres) AcceptApplication(ctx context.Context, p AcceptParams) (AcceptRecord, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return AcceptRecord{}, models.Unavailable("begin tx", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	app, err := getApplication(ctx, tx, p.ApplicationID, true)
	if err != nil {
		return AcceptRecord{}, err
	}
	job, err := getJob(ctx, tx, app.JobID, true)
	if err != nil {
		return AcceptRecord{}, err
	}
	if job.EmployerID != p.EmployerID {
		return AcceptRecord{}, fmt.Errorf("job %s is not owned by %s: %w", job.ID, p.EmployerID, models.ErrForbidden)
	}
	if app.Status != models.ApplicationPending {
		return AcceptRecord{}, fmt.Errorf("application %s is %s: %w", app.ID, app.Status, models.ErrInvalidTransition)
	}
	if job.AssignedWorkerID != nil || job.State != models.StateApplied {
		return AcceptRecord{}, fmt.Errorf("job %s already has a worker: %w", job.ID, models.ErrInvalidTransition)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE applications SET status = $2, updated_at = $3 WHERE id = $1
	`, app.ID, models.ApplicationAccepted, now); err != nil {
		if isDuplicateKey(err) {
			return AcceptRecord{}, fmt.Errorf("job %s already has an accepted application: %w", job.ID, models.ErrInvalidTransition)
		}
		return AcceptRecord{}, models.Unavailable("accept application", err)
	}
	app.Status = models.ApplicationAccepted
	app.UpdatedAt = now

	job, err = scanJob(tx.QueryRow(ctx, `
		UPDATE jobs SET assigned_worker_id = $2, state = $3, version = 1, updated_at = $4
		WHERE id = $1 AND assigned_worker_id IS NULL
		RETURNING `+jobColumns, job.ID, app.WorkerID, string(models.StateAccepted), now))
	if errors.Is(err, pgx.ErrNoRows) {
		return AcceptRecord{}, fmt.Errorf("job %s already has a worker: %w", app.JobID, models.ErrInvalidTransition)
	}
	if err != nil {
		return AcceptRecord{}, models.Unavailable("assign worker", err)
	}

	chat := models.Chat{
		ID:            uuid.New().String(),
		JobID:         job.ID,
		ApplicationID: app.ID,
		WorkerID:      app.WorkerID,
		EmployerID:    job.EmployerID,
		CreatedAt:     now,
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO chats (id, job_id, application_id, worker_id, employer_id, last_seq, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6)
	`, chat.ID, chat.JobID, chat.ApplicationID, chat.WorkerID, chat.EmployerID, now); err != nil {
		return AcceptRecord{}, models.Unavailable("insert chat", err)
	}

	st := models.JobState{JobID: job.ID, ApplicationID: app.ID, State: models.StateAccepted, Version: 1, UpdatedAt: now}
	st.SetMilestone(p.Milestone, now)
	if _, err := tx.Exec(ctx, `
		INSERT INTO job_states (job_id, application_id, state, version, worker_assigned_at, updated_at)
		VALUES ($1, $2, $3, 1, $4, $5)
	`, st.JobID, st.ApplicationID, string(st.State), st.WorkerAssignedAt, now); err != nil {
		if isDuplicateKey(err) {
			return AcceptRecord{}, fmt.Errorf("job %s state already seeded: %w", job.ID, models.ErrInvalidTransition)
		}
		return AcceptRecord{}, models.Unavailable("insert job state", err)
	}

	change, err := insertChange(ctx, tx, job.ID, app.ID, models.StateApplied, models.StateAccepted, p.EmployerID, p.Message, now)
	if err != nil {
		return AcceptRecord{}, err
	}
	entry, err := appendEntryTx(ctx, tx, AppendEntryParams{
		ChatID:   chat.ID,
		AuthorID: strPtr(p.EmployerID),
		Kind:     models.EntrySystem,
		Body:     p.Message,
		Payload: &models.Payload{
			Transition: &models.TransitionInfo{From: models.StateApplied, To: models.StateAccepted, Version: 1},
		},
	}, now)
	if err != nil {
		return AcceptRecord{}, err
	}
	chat.LastSequence = entry.Sequence

	if err := tx.Commit(ctx); err != nil {
		return AcceptRecord{}, models.Unavailable("commit", err)
	}
	return AcceptRecord{Application: app, Job: job, Chat: chat, State: st, Entry: entry, Change: change}, nil
}

// RejectApplication moves a pending application to rejected.
func (s *Postgres) RejectApplication(ctx context.Context, applicationID, employerID string) (models.Application, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Application{}, models.Unavailable("begin tx", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	app, err := getApplication(ctx, tx, applicationID, true)
	if err != nil {
		return models.Application{}, err
	}
	job, err := getJob(ctx, tx, app.JobID, false)
	if err != nil {
		return models.Application{}, err
	}
	if job.EmployerID != employerID {
		return models.Application{}, fmt.Errorf("job %s is not owned by %s: %w", job.ID, employerID, models.ErrForbidden)
	}
	if app.Status != models.ApplicationPending {
		return models.Application{}, fmt.Errorf("application %s is %s: %w", app.ID, app.Status, models.ErrInvalidTransition)
	}
	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE applications SET status = $2, updated_at = $3 WHERE id = $1
	`, app.ID, models.ApplicationRejected, now); err != nil {
		return models.Application{}, models.Unavailable("reject application", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Application{}, models.Unavailable("commit", err)
	}
	app.Status = models.ApplicationRejected
	app.UpdatedAt = now
	return app, nil
}

// ── Chats ────────────────────────────────────────────

func (s *Postgres) GetChat(ctx context.Context, id string) (models.Chat, error) {
	chat, err := scanChat(s.pool.QueryRow(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Chat{}, fmt.Errorf("chat %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.Chat{}, models.Unavailable("scan chat", err)
	}
	return chat, nil
}

func (s *Postgres) GetChatByApplication(ctx context.Context, applicationID string) (models.Chat, error) {
	chat, err := scanChat(s.pool.QueryRow(ctx, `SELECT `+chatColumns+` FROM chats WHERE application_id = $1`, applicationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Chat{}, fmt.Errorf("chat for application %s: %w", applicationID, models.ErrNotFound)
	}
	if err != nil {
		return models.Chat{}, models.Unavailable("scan chat", err)
	}
	return chat, nil
}

func (s *Postgres) ListChatsForUser(ctx context.Context, userID string) ([]models.Chat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+chatColumns+` FROM chats WHERE worker_id = $1 OR employer_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, models.Unavailable("query chats", err)
	}
	chats, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Chat, error) {
		return scanChat(row)
	})
	if err != nil {
		return nil, models.Unavailable("scan chats", err)
	}
	return chats, nil
}

// ── Job state ────────────────────────────────────────

func (s *Postgres) GetJobState(ctx context.Context, jobID string) (models.JobState, error) {
	st, err := scanState(s.pool.QueryRow(ctx, `SELECT `+stateColumns+` FROM job_states WHERE job_id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.JobState{}, fmt.Errorf("state for job %s: %w", jobID, models.ErrNotFound)
	}
	if err != nil {
		return models.JobState{}, models.Unavailable("scan job state", err)
	}
	return st, nil
}

// ApplyTransition compare-and-swaps the job state on (state, version), stamps the milestone once,
// records history and appends the system entry. Losing the swap returns ErrStaleState.
func (s *Postgres) ApplyTransition(ctx context.Context, p TransitionParams) (TransitionRecord, error) {
	set := ""
	if p.Milestone != models.MilestoneNone {
		col, ok := milestoneColumns[p.Milestone]
		if !ok {
			return TransitionRecord{}, fmt.Errorf("unknown milestone %q", p.Milestone)
		}
		set = fmt.Sprintf(", %s = COALESCE(%s, $5)", col, col)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return TransitionRecord{}, models.Unavailable("begin tx", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	now := time.Now().UTC()
	st, err := scanState(tx.QueryRow(ctx, `
		UPDATE job_states
		SET state = $2, version = version + 1, updated_at = $5`+set+`
		WHERE job_id = $1 AND state = $3 AND version = $4
		RETURNING `+stateColumns, p.JobID, string(p.To), string(p.From), p.ExpectedVersion, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return TransitionRecord{}, fmt.Errorf("job %s moved past %s@%d: %w", p.JobID, p.From, p.ExpectedVersion, models.ErrStaleState)
	}
	if err != nil {
		return TransitionRecord{}, models.Unavailable("update job state", err)
	}

	job, err := scanJob(tx.QueryRow(ctx, `
		UPDATE jobs SET state = $2, version = $3, updated_at = $4 WHERE id = $1
		RETURNING `+jobColumns, p.JobID, string(p.To), st.Version, now))
	if err != nil {
		return TransitionRecord{}, models.Unavailable("update job", err)
	}

	change, err := insertChange(ctx, tx, p.JobID, p.ApplicationID, p.From, p.To, p.ActorID, p.Message, now)
	if err != nil {
		return TransitionRecord{}, err
	}
	entry, err := appendEntryTx(ctx, tx, AppendEntryParams{
		ChatID:   p.ChatID,
		AuthorID: strPtr(p.ActorID),
		Kind:     models.EntrySystem,
		Body:     p.Message,
		Payload: &models.Payload{
			Transition: &models.TransitionInfo{From: p.From, To: p.To, Version: st.Version},
		},
	}, now)
	if err != nil {
		return TransitionRecord{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return TransitionRecord{}, models.Unavailable("commit", err)
	}
	return TransitionRecord{Job: job, State: st, Entry: entry, Change: change}, nil
}

func (s *Postgres) ListStateChanges(ctx context.Context, jobID string) ([]models.StateChange, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+changeColumns+` FROM job_state_changes WHERE job_id = $1 ORDER BY created_at ASC
	`, jobID)
	if err != nil {
		return nil, models.Unavailable("query state changes", err)
	}
	changes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.StateChange, error) {
		var c models.StateChange
		var from, to string
		err := row.Scan(&c.ID, &c.JobID, &c.ApplicationID, &from, &to, &c.ChangedBy, &c.Message, &c.CreatedAt)
		c.From, c.To = models.State(from), models.State(to)
		return c, err
	})
	if err != nil {
		return nil, models.Unavailable("scan state changes", err)
	}
	return changes, nil
}

func insertChange(ctx context.Context, q querier, jobID, appID string, from, to models.State, by, msg string, now time.Time) (models.StateChange, error) {
	c := models.StateChange{
		ID:            uuid.New().String(),
		JobID:         jobID,
		ApplicationID: appID,
		From:          from,
		To:            to,
		ChangedBy:     by,
		Message:       msg,
		CreatedAt:     now,
	}
	_, err := q.Exec(ctx, `
		INSERT INTO job_state_changes (`+changeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.ID, c.JobID, c.ApplicationID, string(c.From), string(c.To), c.ChangedBy, c.Message, now)
	if err != nil {
		return models.StateChange{}, models.Unavailable("insert state change", err)
	}
	return c, nil
}

// ── Transcript ───────────────────────────────────────

// AppendEntry appends one entry; the chat row update serializes sequence assignment per chat.
func (s *Postgres) AppendEntry(ctx context.Context, p AppendEntryParams) (models.TranscriptEntry, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.TranscriptEntry{}, models.Unavailable("begin tx", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	entry, err := appendEntryTx(ctx, tx, p, time.Now().UTC())
	if err != nil {
		return models.TranscriptEntry{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.TranscriptEntry{}, models.Unavailable("commit", err)
	}
	return entry, nil
}

func appendEntryTx(ctx context.Context, tx pgx.Tx, p AppendEntryParams, now time.Time) (models.TranscriptEntry, error) {
	var chat models.Chat
	err := tx.QueryRow(ctx, `
		UPDATE chats SET last_seq = last_seq + 1 WHERE id = $1
		RETURNING id, job_id, worker_id, employer_id, last_seq
	`, p.ChatID).Scan(&chat.ID, &chat.JobID, &chat.WorkerID, &chat.EmployerID, &chat.LastSequence)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.TranscriptEntry{}, fmt.Errorf("chat %s: %w", p.ChatID, models.ErrNotFound)
	}
	if err != nil {
		return models.TranscriptEntry{}, models.Unavailable("advance chat sequence", err)
	}
	if p.Kind == models.EntryUser && (p.AuthorID == nil || !chat.IsParty(*p.AuthorID)) {
		return models.TranscriptEntry{}, fmt.Errorf("author is not a party to chat %s: %w", p.ChatID, models.ErrForbidden)
	}

	var payloadJSON []byte
	if !p.Payload.Empty() {
		if payloadJSON, err = json.Marshal(p.Payload); err != nil {
			return models.TranscriptEntry{}, fmt.Errorf("marshal payload: %w", err)
		}
	}
	entry := models.TranscriptEntry{
		ID:        uuid.New().String(),
		ChatID:    chat.ID,
		JobID:     chat.JobID,
		Sequence:  chat.LastSequence,
		AuthorID:  p.AuthorID,
		Kind:      p.Kind,
		Body:      p.Body,
		Payload:   p.Payload,
		CreatedAt: now,
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO messages (id, chat_id, job_id, seq, author_id, kind, body, payload, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9)
	`, entry.ID, entry.ChatID, entry.JobID, entry.Sequence, entry.AuthorID, string(entry.Kind), entry.Body, payloadJSON, now); err != nil {
		return models.TranscriptEntry{}, models.Unavailable("insert message", err)
	}
	return entry, nil
}

func (s *Postgres) ListEntries(ctx context.Context, chatID string, afterSeq int64, limit int) ([]models.TranscriptEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM chats WHERE id = $1)`, chatID).Scan(&exists); err != nil {
		return nil, models.Unavailable("check chat", err)
	}
	if !exists {
		return nil, fmt.Errorf("chat %s: %w", chatID, models.ErrNotFound)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+entryColumns+` FROM messages
		WHERE chat_id = $1 AND seq > $2
		ORDER BY seq ASC
		LIMIT $3
	`, chatID, afterSeq, limit)
	if err != nil {
		return nil, models.Unavailable("query messages", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.TranscriptEntry, error) {
		return scanEntry(row)
	})
	if err != nil {
		return nil, models.Unavailable("scan messages", err)
	}
	return entries, nil
}

// MarkEntriesRead moves the reader's cursor forward (never back) and flags entries written by others.
func (s *Postgres) MarkEntriesRead(ctx context.Context, chatID, readerID string, upto int64) (ReadResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ReadResult{}, models.Unavailable("begin tx", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	var chat models.Chat
	err = tx.QueryRow(ctx, `
		SELECT id, worker_id, employer_id, last_seq FROM chats WHERE id = $1
	`, chatID).Scan(&chat.ID, &chat.WorkerID, &chat.EmployerID, &chat.LastSequence)
	if errors.Is(err, pgx.ErrNoRows) {
		return ReadResult{}, fmt.Errorf("chat %s: %w", chatID, models.ErrNotFound)
	}
	if err != nil {
		return ReadResult{}, models.Unavailable("scan chat", err)
	}
	if !chat.IsParty(readerID) {
		return ReadResult{}, fmt.Errorf("reader is not a party to chat %s: %w", chatID, models.ErrForbidden)
	}
	if upto > chat.LastSequence {
		upto = chat.LastSequence
	}

	var res ReadResult
	if err := tx.QueryRow(ctx, `
		INSERT INTO read_cursors (chat_id, user_id, seq, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (chat_id, user_id)
		DO UPDATE SET seq = GREATEST(read_cursors.seq, EXCLUDED.seq), updated_at = NOW()
		RETURNING seq
	`, chatID, readerID, upto).Scan(&res.Cursor); err != nil {
		return ReadResult{}, models.Unavailable("upsert read cursor", err)
	}
	tag, err := tx.Exec(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE chat_id = $1 AND seq <= $2 AND is_read = FALSE
		  AND (author_id IS NULL OR author_id <> $3)
	`, chatID, res.Cursor, readerID)
	if err != nil {
		return ReadResult{}, models.Unavailable("mark messages read", err)
	}
	res.Marked = tag.RowsAffected()

	if err := tx.Commit(ctx); err != nil {
		return ReadResult{}, models.Unavailable("commit", err)
	}
	return res, nil
}

func (s *Postgres) ReadCursor(ctx context.Context, chatID, userID string) (int64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx, `
		SELECT seq FROM read_cursors WHERE chat_id = $1 AND user_id = $2
	`, chatID, userID).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, models.Unavailable("query read cursor", err)
	}
	return seq, nil
}

func (s *Postgres) CountUnreadEntries(ctx context.Context, chatID, userID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages m
		WHERE m.chat_id = $1
		  AND m.seq > COALESCE((SELECT seq FROM read_cursors WHERE chat_id = $1 AND user_id = $2), 0)
		  AND (m.author_id IS NULL OR m.author_id <> $2)
	`, chatID, userID).Scan(&n)
	if err != nil {
		return 0, models.Unavailable("count unread messages", err)
	}
	return n, nil
}

// ── Notifications ────────────────────────────────────

func (s *Postgres) CreateNotification(ctx context.Context, p CreateNotificationParams) (models.Notification, error) {
	n := models.Notification{
		ID:          uuid.New().String(),
		RecipientID: p.RecipientID,
		JobID:       p.JobID,
		Type:        p.Type,
		Title:       p.Title,
		Body:        p.Body,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
	`, n.ID, n.RecipientID, n.JobID, string(n.Type), n.Title, n.Body, n.CreatedAt)
	if err != nil {
		return models.Notification{}, models.Unavailable("insert notification", err)
	}
	return n, nil
}

func (s *Postgres) ListNotifications(ctx context.Context, recipientID string, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, recipientID, limit)
	if err != nil {
		return nil, models.Unavailable("query notifications", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Notification, error) {
		return scanNotification(row)
	})
	if err != nil {
		return nil, models.Unavailable("scan notifications", err)
	}
	return out, nil
}

func (s *Postgres) MarkNotificationRead(ctx context.Context, id, recipientID string) (models.Notification, error) {
	n, err := scanNotification(s.pool.QueryRow(ctx, `
		UPDATE notifications SET is_read = TRUE
		WHERE id = $1 AND recipient_id = $2
		RETURNING `+notificationColumns, id, recipientID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Notification{}, fmt.Errorf("notification %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.Notification{}, models.Unavailable("mark notification read", err)
	}
	return n, nil
}

func (s *Postgres) MarkAllNotificationsRead(ctx context.Context, recipientID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notifications SET is_read = TRUE WHERE recipient_id = $1 AND is_read = FALSE
	`, recipientID)
	if err != nil {
		return 0, models.Unavailable("mark all notifications read", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Postgres) CountUnreadNotifications(ctx context.Context, recipientID string) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND is_read = FALSE
	`, recipientID).Scan(&n); err != nil {
		return 0, models.Unavailable("count unread notifications", err)
	}
	return n, nil
}

// ── Media tasks ──────────────────────────────────────

func (s *Postgres) CreateMediaTask(ctx context.Context, p CreateMediaTaskParams) (models.MediaTask, error) {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 5
	}
	now := time.Now().UTC()
	task := models.MediaTask{
		ID:          uuid.New().String(),
		ChatID:      p.ChatID,
		JobID:       p.JobID,
		AuthorID:    p.AuthorID,
		SourceKey:   p.SourceKey,
		Caption:     p.Caption,
		Status:      models.TaskQueued,
		MaxAttempts: p.MaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO media_tasks (id, chat_id, job_id, author_id, source_key, caption, status, attempts, max_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $9)
	`, task.ID, task.ChatID, task.JobID, task.AuthorID, task.SourceKey, task.Caption, task.Status, task.MaxAttempts, now)
	if err != nil {
		return models.MediaTask{}, models.Unavailable("insert media task", err)
	}
	return task, nil
}

func (s *Postgres) GetMediaTask(ctx context.Context, id string) (models.MediaTask, error) {
	var t models.MediaTask
	err := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM media_tasks WHERE id = $1`, id).Scan(
		&t.ID, &t.ChatID, &t.JobID, &t.AuthorID, &t.SourceKey, &t.Caption, &t.Status,
		&t.Attempts, &t.MaxAttempts, &t.LastError, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.MediaTask{}, fmt.Errorf("media task %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.MediaTask{}, models.Unavailable("scan media task", err)
	}
	return t, nil
}

// UpdateMediaTask sets status, attempts and last_error atomically.
func (s *Postgres) UpdateMediaTask(ctx context.Context, id, status string, attempts int, lastError *string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE media_tasks
		SET status = $2, attempts = $3, last_error = $4, updated_at = NOW()
		WHERE id = $1
	`, id, status, attempts, lastError)
	return models.Unavailable("update media task", err)
}

// AppendAudit adds an audit row.
func (s *Postgres) AppendAudit(ctx context.Context, taskID, event, detail string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (task_id, event, detail, ts)
		VALUES ($1, $2, $3, NOW())
	`, taskID, event, detail)
	return models.Unavailable("insert audit", err)
}

// ── Scanning ─────────────────────────────────────────

func scanJob(row pgx.Row) (models.Job, error) {
	var j models.Job
	var state string
	err := row.Scan(&j.ID, &j.Title, &j.EmployerID, &j.AssignedWorkerID, &state, &j.Version, &j.CreatedAt, &j.UpdatedAt)
	j.State = models.State(state)
	return j, err
}

func scanApplication(row pgx.Row) (models.Application, error) {
	var a models.Application
	err := row.Scan(&a.ID, &a.JobID, &a.WorkerID, &a.Message, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func scanChat(row pgx.Row) (models.Chat, error) {
	var c models.Chat
	err := row.Scan(&c.ID, &c.JobID, &c.ApplicationID, &c.WorkerID, &c.EmployerID, &c.LastSequence, &c.CreatedAt)
	return c, err
}

func scanState(row pgx.Row) (models.JobState, error) {
	var st models.JobState
	var state string
	err := row.Scan(&st.JobID, &st.ApplicationID, &state, &st.Version,
		&st.WorkerAssignedAt, &st.WorkerStartedAt, &st.WorkCompletedAt, &st.EmployerApprovedAt, &st.CancelledAt,
		&st.UpdatedAt)
	st.State = models.State(state)
	return st, err
}

func scanEntry(row pgx.Row) (models.TranscriptEntry, error) {
	var e models.TranscriptEntry
	var kind string
	var payloadJSON []byte
	if err := row.Scan(&e.ID, &e.ChatID, &e.JobID, &e.Sequence, &e.AuthorID, &kind, &e.Body, &payloadJSON, &e.Read, &e.CreatedAt); err != nil {
		return models.TranscriptEntry{}, err
	}
	e.Kind = models.EntryKind(kind)
	if len(payloadJSON) > 0 {
		e.Payload = &models.Payload{}
		if err := json.Unmarshal(payloadJSON, e.Payload); err != nil {
			return models.TranscriptEntry{}, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	return e, nil
}

func scanNotification(row pgx.Row) (models.Notification, error) {
	var n models.Notification
	var typ string
	err := row.Scan(&n.ID, &n.RecipientID, &n.JobID, &typ, &n.Title, &n.Body, &n.Read, &n.CreatedAt)
	n.Type = models.NotificationType(typ)
	return n, err
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// isForeignKeyViolation checks for foreign_key_violation (23503).
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"job-lifecycle-service/internal/models"
)

var _ Store = (*Memory)(nil)

// Memory is an in-memory Store guarded by a single mutex, so every method is one atomic step.
// Intended for unit tests and local development.
type Memory struct {
	mu sync.RWMutex

	jobs          map[string]*models.Job
	applications  map[string]*models.Application
	appByWorker   map[string]string // jobID/workerID → applicationID
	chats         map[string]*models.Chat
	chatByApp     map[string]string
	states        map[string]*models.JobState
	changes       map[string][]models.StateChange
	entries       map[string][]*models.TranscriptEntry // chatID → entries ordered by sequence
	cursors       map[string]int64                     // chatID/userID → sequence
	notifications map[string]*models.Notification
	notifOrder    map[string][]string // recipientID → ids in creation order
	tasks         map[string]*models.MediaTask
	audits        []models.AuditLog

	now func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:          make(map[string]*models.Job),
		applications:  make(map[string]*models.Application),
		appByWorker:   make(map[string]string),
		chats:         make(map[string]*models.Chat),
		chatByApp:     make(map[string]string),
		states:        make(map[string]*models.JobState),
		changes:       make(map[string][]models.StateChange),
		entries:       make(map[string][]*models.TranscriptEntry),
		cursors:       make(map[string]int64),
		notifications: make(map[string]*models.Notification),
		notifOrder:    make(map[string][]string),
		tasks:         make(map[string]*models.MediaTask),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Ping(_ context.Context) error          { return nil }
func (m *Memory) Close()                                {}
func (m *Memory) RunMigrations(_ context.Context) error { return nil }

// ── Jobs ─────────────────────────────────────────────

func (m *Memory) CreateJob(_ context.Context, p CreateJobParams) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	job := &models.Job{
		ID:         uuid.New().String(),
		Title:      p.Title,
		EmployerID: p.EmployerID,
		State:      models.StateApplied,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.jobs[job.ID] = job
	return *job, nil
}

func (m *Memory) GetJob(_ context.Context, id string) (models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return models.Job{}, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	return *job, nil
}

// ── Applications ─────────────────────────────────────

func (m *Memory) CreateApplication(_ context.Context, p CreateApplicationParams) (models.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[p.JobID]; !ok {
		return models.Application{}, fmt.Errorf("job %s: %w", p.JobID, models.ErrNotFound)
	}
	key := p.JobID + "/" + p.WorkerID
	if _, exists := m.appByWorker[key]; exists {
		return models.Application{}, fmt.Errorf("worker %s on job %s: %w", p.WorkerID, p.JobID, models.ErrDuplicateApplication)
	}
	now := m.now()
	app := &models.Application{
		ID:        uuid.New().String(),
		JobID:     p.JobID,
		WorkerID:  p.WorkerID,
		Message:   p.Message,
		Status:    models.ApplicationPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.applications[app.ID] = app
	m.appByWorker[key] = app.ID
	return *app, nil
}

func (m *Memory) GetApplication(_ context.Context, id string) (models.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	app, ok := m.applications[id]
	if !ok {
		return models.Application{}, fmt.Errorf("application %s: %w", id, models.ErrNotFound)
	}
	return *app, nil
}

func (m *Memory) ListApplications(_ context.Context, jobID string) ([]models.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Application
	for _, app := range m.applications {
		if app.JobID == jobID {
			out = append(out, *app)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) AcceptApplication(_ context.Context, p AcceptParams) (AcceptRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	app, ok := m.applications[p.ApplicationID]
	if !ok {
		return AcceptRecord{}, fmt.Errorf("application %s: %w", p.ApplicationID, models.ErrNotFound)
	}
	job, ok := m.jobs[app.JobID]
	if !ok {
		return AcceptRecord{}, fmt.Errorf("job %s: %w", app.JobID, models.ErrNotFound)
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

	now := m.now()
	app.Status = models.ApplicationAccepted
	app.UpdatedAt = now

	job.AssignedWorkerID = strPtr(app.WorkerID)
	job.State = models.StateAccepted
	job.Version = 1
	job.UpdatedAt = now

	chat := &models.Chat{
		ID:            uuid.New().String(),
		JobID:         job.ID,
		ApplicationID: app.ID,
		WorkerID:      app.WorkerID,
		EmployerID:    job.EmployerID,
		CreatedAt:     now,
	}
	m.chats[chat.ID] = chat
	m.chatByApp[app.ID] = chat.ID

	st := &models.JobState{
		JobID:         job.ID,
		ApplicationID: app.ID,
		State:         models.StateAccepted,
		Version:       1,
		UpdatedAt:     now,
	}
	st.SetMilestone(p.Milestone, now)
	m.states[job.ID] = st

	change := m.recordChange(job.ID, app.ID, models.StateApplied, models.StateAccepted, p.EmployerID, p.Message, now)
	entry := m.appendLocked(chat, strPtr(p.EmployerID), models.EntrySystem, p.Message, &models.Payload{
		Transition: &models.TransitionInfo{From: models.StateApplied, To: models.StateAccepted, Version: 1},
	}, now)

	return AcceptRecord{
		Application: *app,
		Job:         *job,
		Chat:        *chat,
		State:       *st,
		Entry:       *entry,
		Change:      change,
	}, nil
}

func (m *Memory) RejectApplication(_ context.Context, applicationID, employerID string) (models.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	app, ok := m.applications[applicationID]
	if !ok {
		return models.Application{}, fmt.Errorf("application %s: %w", applicationID, models.ErrNotFound)
	}
	job, ok := m.jobs[app.JobID]
	if !ok {
		return models.Application{}, fmt.Errorf("job %s: %w", app.JobID, models.ErrNotFound)
	}
	if job.EmployerID != employerID {
		return models.Application{}, fmt.Errorf("job %s is not owned by %s: %w", job.ID, employerID, models.ErrForbidden)
	}
	if app.Status != models.ApplicationPending {
		return models.Application{}, fmt.Errorf("application %s is %s: %w", app.ID, app.Status, models.ErrInvalidTransition)
	}
	app.Status = models.ApplicationRejected
	app.UpdatedAt = m.now()
	return *app, nil
}

// ── Chats ────────────────────────────────────────────

func (m *Memory) GetChat(_ context.Context, id string) (models.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chat, ok := m.chats[id]
	if !ok {
		return models.Chat{}, fmt.Errorf("chat %s: %w", id, models.ErrNotFound)
	}
	return *chat, nil
}

func (m *Memory) GetChatByApplication(_ context.Context, applicationID string) (models.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.chatByApp[applicationID]
	if !ok {
		return models.Chat{}, fmt.Errorf("chat for application %s: %w", applicationID, models.ErrNotFound)
	}
	return *m.chats[id], nil
}

func (m *Memory) ListChatsForUser(_ context.Context, userID string) ([]models.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Chat
	for _, chat := range m.chats {
		if chat.IsParty(userID) {
			out = append(out, *chat)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ── Job state ────────────────────────────────────────

func (m *Memory) GetJobState(_ context.Context, jobID string) (models.JobState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[jobID]
	if !ok {
		return models.JobState{}, fmt.Errorf("state for job %s: %w", jobID, models.ErrNotFound)
	}
	return *st, nil
}

func (m *Memory) ApplyTransition(_ context.Context, p TransitionParams) (TransitionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[p.JobID]
	if !ok {
		return TransitionRecord{}, fmt.Errorf("job %s: %w", p.JobID, models.ErrNotFound)
	}
	st, ok := m.states[p.JobID]
	if !ok {
		return TransitionRecord{}, fmt.Errorf("state for job %s: %w", p.JobID, models.ErrNotFound)
	}
	chat, ok := m.chats[p.ChatID]
	if !ok {
		return TransitionRecord{}, fmt.Errorf("chat %s: %w", p.ChatID, models.ErrNotFound)
	}
	if st.State != p.From || st.Version != p.ExpectedVersion {
		return TransitionRecord{}, fmt.Errorf("job %s is %s@%d, expected %s@%d: %w",
			p.JobID, st.State, st.Version, p.From, p.ExpectedVersion, models.ErrStaleState)
	}

	now := m.now()
	st.State = p.To
	st.Version++
	st.SetMilestone(p.Milestone, now)
	st.UpdatedAt = now

	job.State = p.To
	job.Version = st.Version
	job.UpdatedAt = now

	change := m.recordChange(p.JobID, p.ApplicationID, p.From, p.To, p.ActorID, p.Message, now)
	entry := m.appendLocked(chat, strPtr(p.ActorID), models.EntrySystem, p.Message, &models.Payload{
		Transition: &models.TransitionInfo{From: p.From, To: p.To, Version: st.Version},
	}, now)

	return TransitionRecord{Job: *job, State: *st, Entry: *entry, Change: change}, nil
}

func (m *Memory) ListStateChanges(_ context.Context, jobID string) ([]models.StateChange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.StateChange, len(m.changes[jobID]))
	copy(out, m.changes[jobID])
	return out, nil
}

func (m *Memory) recordChange(jobID, appID string, from, to models.State, by, msg string, now time.Time) models.StateChange {
	change := models.StateChange{
		ID:            uuid.New().String(),
		JobID:         jobID,
		ApplicationID: appID,
		From:          from,
		To:            to,
		ChangedBy:     by,
		Message:       msg,
		CreatedAt:     now,
	}
	m.changes[jobID] = append(m.changes[jobID], change)
	return change
}

// ── Transcript ───────────────────────────────────────

func (m *Memory) AppendEntry(_ context.Context, p AppendEntryParams) (models.TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	chat, ok := m.chats[p.ChatID]
	if !ok {
		return models.TranscriptEntry{}, fmt.Errorf("chat %s: %w", p.ChatID, models.ErrNotFound)
	}
	if p.Kind == models.EntryUser && (p.AuthorID == nil || !chat.IsParty(*p.AuthorID)) {
		return models.TranscriptEntry{}, fmt.Errorf("author is not a party to chat %s: %w", p.ChatID, models.ErrForbidden)
	}
	return *m.appendLocked(chat, p.AuthorID, p.Kind, p.Body, p.Payload, m.now()), nil
}

// appendLocked assigns the next sequence of chat. Callers hold m.mu.
func (m *Memory) appendLocked(chat *models.Chat, author *string, kind models.EntryKind, body string, payload *models.Payload, now time.Time) *models.TranscriptEntry {
	chat.LastSequence++
	entry := &models.TranscriptEntry{
		ID:        uuid.New().String(),
		ChatID:    chat.ID,
		JobID:     chat.JobID,
		Sequence:  chat.LastSequence,
		AuthorID:  author,
		Kind:      kind,
		Body:      body,
		Payload:   payload,
		CreatedAt: now,
	}
	m.entries[chat.ID] = append(m.entries[chat.ID], entry)
	return entry
}

func (m *Memory) ListEntries(_ context.Context, chatID string, afterSeq int64, limit int) ([]models.TranscriptEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.chats[chatID]; !ok {
		return nil, fmt.Errorf("chat %s: %w", chatID, models.ErrNotFound)
	}
	all := m.entries[chatID]
	// Sequences start at 1 and are gapless, so the slice index is sequence-1.
	start := int(afterSeq)
	if start < 0 {
		start = 0
	}
	if start >= len(all) {
		return []models.TranscriptEntry{}, nil
	}
	end := len(all)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	out := make([]models.TranscriptEntry, 0, end-start)
	for _, e := range all[start:end] {
		out = append(out, *e)
	}
	return out, nil
}

func (m *Memory) MarkEntriesRead(_ context.Context, chatID, readerID string, upto int64) (ReadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	chat, ok := m.chats[chatID]
	if !ok {
		return ReadResult{}, fmt.Errorf("chat %s: %w", chatID, models.ErrNotFound)
	}
	if !chat.IsParty(readerID) {
		return ReadResult{}, fmt.Errorf("reader is not a party to chat %s: %w", chatID, models.ErrForbidden)
	}
	if upto > chat.LastSequence {
		upto = chat.LastSequence
	}
	key := chatID + "/" + readerID
	cursor := m.cursors[key]
	if upto <= cursor {
		return ReadResult{Cursor: cursor}, nil
	}
	var marked int64
	for _, e := range m.entries[chatID] {
		if e.Sequence > upto {
			break
		}
		if !e.Read && !e.AuthoredBy(readerID) {
			e.Read = true
			marked++
		}
	}
	m.cursors[key] = upto
	return ReadResult{Cursor: upto, Marked: marked}, nil
}

func (m *Memory) ReadCursor(_ context.Context, chatID, userID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.chats[chatID]; !ok {
		return 0, fmt.Errorf("chat %s: %w", chatID, models.ErrNotFound)
	}
	return m.cursors[chatID+"/"+userID], nil
}

func (m *Memory) CountUnreadEntries(_ context.Context, chatID, userID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.chats[chatID]; !ok {
		return 0, fmt.Errorf("chat %s: %w", chatID, models.ErrNotFound)
	}
	cursor := m.cursors[chatID+"/"+userID]
	var n int64
	for _, e := range m.entries[chatID] {
		if e.Sequence > cursor && !e.AuthoredBy(userID) {
			n++
		}
	}
	return n, nil
}

// ── Notifications ────────────────────────────────────

func (m *Memory) CreateNotification(_ context.Context, p CreateNotificationParams) (models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := &models.Notification{
		ID:          uuid.New().String(),
		RecipientID: p.RecipientID,
		JobID:       p.JobID,
		Type:        p.Type,
		Title:       p.Title,
		Body:        p.Body,
		CreatedAt:   m.now(),
	}
	m.notifications[n.ID] = n
	m.notifOrder[p.RecipientID] = append(m.notifOrder[p.RecipientID], n.ID)
	return *n, nil
}

func (m *Memory) ListNotifications(_ context.Context, recipientID string, limit int) ([]models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.notifOrder[recipientID]
	out := make([]models.Notification, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, *m.notifications[ids[i]])
	}
	return out, nil
}

func (m *Memory) MarkNotificationRead(_ context.Context, id, recipientID string) (models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok || n.RecipientID != recipientID {
		return models.Notification{}, fmt.Errorf("notification %s: %w", id, models.ErrNotFound)
	}
	n.Read = true
	return *n, nil
}

func (m *Memory) MarkAllNotificationsRead(_ context.Context, recipientID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var marked int64
	for _, id := range m.notifOrder[recipientID] {
		if n := m.notifications[id]; !n.Read {
			n.Read = true
			marked++
		}
	}
	return marked, nil
}

func (m *Memory) CountUnreadNotifications(_ context.Context, recipientID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, id := range m.notifOrder[recipientID] {
		if !m.notifications[id].Read {
			n++
		}
	}
	return n, nil
}

// ── Media tasks ──────────────────────────────────────

func (m *Memory) CreateMediaTask(_ context.Context, p CreateMediaTaskParams) (models.MediaTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 5
	}
	now := m.now()
	task := &models.MediaTask{
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
	m.tasks[task.ID] = task
	return *task, nil
}

func (m *Memory) GetMediaTask(_ context.Context, id string) (models.MediaTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[id]
	if !ok {
		return models.MediaTask{}, fmt.Errorf("media task %s: %w", id, models.ErrNotFound)
	}
	return *task, nil
}

func (m *Memory) UpdateMediaTask(_ context.Context, id, status string, attempts int, lastError *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("media task %s: %w", id, models.ErrNotFound)
	}
	task.Status = status
	task.Attempts = attempts
	task.LastError = lastError
	task.UpdatedAt = m.now()
	return nil
}

func (m *Memory) AppendAudit(_ context.Context, taskID, event, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, models.AuditLog{TaskID: taskID, Event: event, Detail: detail, Recorded: m.now()})
	return nil
}

// Audits returns a copy of the recorded audit rows.
func (m *Memory) Audits() []models.AuditLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.AuditLog, len(m.audits))
	copy(out, m.audits)
	return out
}

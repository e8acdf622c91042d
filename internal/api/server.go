package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"job-lifecycle-service/internal/coordinator"
	"job-lifecycle-service/internal/lifecycle"
	"job-lifecycle-service/internal/models"
	"job-lifecycle-service/internal/realtime"
	"job-lifecycle-service/internal/telemetry"
)

// DLQReader exposes dead-lettered media tasks. queue.RedisQueue satisfies it.
type DLQReader interface {
	DLQPeek(ctx context.Context, count int64) ([]string, error)
}

// Server wires HTTP handlers onto the coordinator.
type Server struct {
	svc           *coordinator.Service
	ws            *realtime.WSHandler
	dlq           DLQReader
	logger        *slog.Logger
	maxPhotoBytes int64
}

// New constructs the API server. ws and dlq may be nil.
func New(svc *coordinator.Service, ws *realtime.WSHandler, dlq DLQReader, logger *slog.Logger, maxPhotoBytes int64) *Server {
	if maxPhotoBytes <= 0 {
		maxPhotoBytes = 10 << 20
	}
	return &Server{svc: svc, ws: ws, dlq: dlq, logger: logger, maxPhotoBytes: maxPhotoBytes}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.identity)

		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs/{id}/timeline", s.handleTimeline)
		r.Post("/jobs/{id}/applications", s.handleApply)
		r.Get("/jobs/{id}/applications", s.handleListApplications)
		r.Post("/jobs/{id}/transitions", s.handleTransition)
		r.Post("/jobs/{id}/cancel", s.handleCancel)

		r.Post("/applications/{id}/accept", s.handleAccept)
		r.Post("/applications/{id}/reject", s.handleReject)

		r.Get("/chats", s.handleListChats)
		r.Get("/chats/{id}/entries", s.handleEntries)
		r.Post("/chats/{id}/messages", s.handleSendMessage)
		r.Post("/chats/{id}/eta", s.handleArrival)
		r.Post("/chats/{id}/location", s.handleLocation)
		r.Post("/chats/{id}/photos", s.handlePhoto)
		r.Post("/chats/{id}/read", s.handleMarkChatRead)

		r.Get("/notifications", s.handleNotifications)
		r.Post("/notifications/read-all", s.handleReadAll)
		r.Post("/notifications/{id}/read", s.handleNotificationRead)
		r.Get("/unread", s.handleUnread)

		r.Get("/ws", s.handleWS)
	})
	return r
}

// AdminRouter serves operator endpoints. It is bound to the metrics listener, never the public port.
func (s *Server) AdminRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())
	r.Get("/dlq", s.handleDLQ)
	return r
}

type createJobRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if !s.decode(w, r, &req) {
		return
	}
	job, err := s.svc.CreateJob(r.Context(), actorFrom(r), req.Title)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	tl, err := s.svc.JobTimeline(r.Context(), chi.URLParam(r, "id"), actorFrom(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tl)
}

type applyRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if !s.decode(w, r, &req) {
		return
	}
	app, err := s.svc.ApplyToJob(r.Context(), chi.URLParam(r, "id"), actorFrom(r), req.Message)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

func (s *Server) handleListApplications(w http.ResponseWriter, r *http.Request) {
	apps, err := s.svc.ListApplications(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": apps})
}

type transitionRequest struct {
	ApplicationID string       `json:"application_id"`
	To            models.State `json:"to"`
}

type transitionResponse struct {
	Job   models.Job             `json:"job"`
	State models.JobState        `json:"state"`
	Entry models.TranscriptEntry `json:"entry"`
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.svc.RequestTransition(r.Context(), lifecycle.TransitionRequest{
		JobID:         chi.URLParam(r, "id"),
		ApplicationID: req.ApplicationID,
		Actor:         actorFrom(r),
		Target:        req.To,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transitionResponse{Job: res.Job, State: res.State, Entry: res.Entry})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.svc.CancelJob(r.Context(), chi.URLParam(r, "id"), req.ApplicationID, actorFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transitionResponse{Job: res.Job, State: res.State, Entry: res.Entry})
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.AcceptApplication(r.Context(), chi.URLParam(r, "id"), actorFrom(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"application": rec.Application,
		"chat":        rec.Chat,
		"state":       rec.State,
	})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	app, err := s.svc.RejectApplication(r.Context(), chi.URLParam(r, "id"), actorFrom(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.svc.ListChats(r.Context(), actorFrom(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": chats})
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	since, err := queryInt(r, "since")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.svc.ListTranscript(r.Context(), chi.URLParam(r, "id"), actorFrom(r).UserID, since, int(limit))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

type messageRequest struct {
	Body    string          `json:"body"`
	Payload *models.Payload `json:"payload,omitempty"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !s.decode(w, r, &req) {
		return
	}
	entry, err := s.svc.SendMessage(r.Context(), coordinator.SendParams{
		ChatID:   chi.URLParam(r, "id"),
		AuthorID: actorFrom(r).UserID,
		Body:     req.Body,
		Payload:  req.Payload,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

type arrivalRequest struct {
	Minutes int `json:"minutes"`
}

func (s *Server) handleArrival(w http.ResponseWriter, r *http.Request) {
	var req arrivalRequest
	if !s.decode(w, r, &req) {
		return
	}
	entry, err := s.svc.ShareArrivalEstimate(r.Context(), chi.URLParam(r, "id"), actorFrom(r), req.Minutes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	var loc models.Location
	if !s.decode(w, r, &loc) {
		return
	}
	entry, err := s.svc.ShareLocation(r.Context(), chi.URLParam(r, "id"), actorFrom(r), loc)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// handlePhoto takes a multipart form with a "photo" file and an optional "caption".
func (s *Server) handlePhoto(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxPhotoBytes+1<<20)
	if err := r.ParseMultipartForm(s.maxPhotoBytes); err != nil {
		s.writeError(w, r, models.Invalid("photo upload: %v", err))
		return
	}
	file, _, err := r.FormFile("photo")
	if err != nil {
		s.writeError(w, r, models.Invalid("photo field is required"))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, s.maxPhotoBytes+1))
	if err != nil {
		s.writeError(w, r, models.Invalid("read photo: %v", err))
		return
	}
	task, err := s.svc.SubmitPhoto(r.Context(), chi.URLParam(r, "id"), actorFrom(r), data, r.FormValue("caption"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}

type readRequest struct {
	Upto int64 `json:"upto"`
}

func (s *Server) handleMarkChatRead(w http.ResponseWriter, r *http.Request) {
	var req readRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.svc.MarkTranscriptRead(r.Context(), chi.URLParam(r, "id"), actorFrom(r).UserID, req.Upto)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"cursor": res.Cursor, "marked": res.Marked})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items, err := s.svc.ListNotifications(r.Context(), actorFrom(r).UserID, int(limit))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleNotificationRead(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.MarkNotificationRead(r.Context(), chi.URLParam(r, "id"), actorFrom(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleReadAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.MarkAllNotificationsRead(r.Context(), actorFrom(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"marked": n})
}

func (s *Server) handleUnread(w http.ResponseWriter, r *http.Request) {
	sum, err := s.svc.UnreadSummary(r.Context(), actorFrom(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.ws == nil {
		http.Error(w, "realtime disabled", http.StatusServiceUnavailable)
		return
	}
	s.ws.Serve(w, r, actorFrom(r).UserID)
}

// handleDLQ returns the dead-lettered media task IDs.
func (s *Server) handleDLQ(w http.ResponseWriter, r *http.Request) {
	if s.dlq == nil {
		writeJSON(w, http.StatusOK, map[string]any{"items": []string{}})
		return
	}
	items, err := s.dlq.DLQPeek(r.Context(), 100)
	if err != nil {
		s.writeError(w, r, models.Unavailable("read dlq", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, r, models.Invalid("invalid json: %v", err))
		return false
	}
	return true
}

func queryInt(r *http.Request, key string) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, models.Invalid("%s must be an integer", key)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

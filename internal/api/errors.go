package api

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"job-lifecycle-service/internal/models"
)

var statusByCode = map[string]int{
	models.CodeNotFound:              http.StatusNotFound,
	models.CodeForbidden:             http.StatusForbidden,
	models.CodeInvalidRole:           http.StatusForbidden,
	models.CodeInvalidTransition:     http.StatusConflict,
	models.CodeDuplicateApplication:  http.StatusConflict,
	models.CodeDependencyUnavailable: http.StatusServiceUnavailable,
	models.CodeInvalidInput:          http.StatusBadRequest,
	models.CodeRateLimited:           http.StatusTooManyRequests,
}

type errorResponse struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

// writeError renders err with its stable code. Unknown errors are logged and hidden.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := models.ErrorCode(err)
	status, ok := statusByCode[code]
	msg := err.Error()
	if !ok {
		status = http.StatusInternalServerError
		msg = "internal error"
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method, "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

package api

import (
	"context"
	"net/http"

	"job-lifecycle-service/internal/models"
)

type actorKey struct{}

// identity reads the actor resolved by the upstream auth layer. Websocket clients that cannot set
// headers may pass user_id and role as query parameters.
func (s *Server) identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := models.Actor{
			UserID: r.Header.Get("X-User-ID"),
			Role:   models.Role(r.Header.Get("X-User-Role")),
		}
		if actor.UserID == "" {
			actor.UserID = r.URL.Query().Get("user_id")
			actor.Role = models.Role(r.URL.Query().Get("role"))
		}
		if actor.UserID == "" || !actor.Role.Valid() {
			http.Error(w, `{"error":"unauthenticated","message":"missing or invalid identity"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

func actorFrom(r *http.Request) models.Actor {
	a, _ := r.Context().Value(actorKey{}).(models.Actor)
	return a
}

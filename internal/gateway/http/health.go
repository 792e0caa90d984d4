package http

import (
	"net/http"
	"time"

	"github.com/statelylabs/sqlgate/pkg/httpx"
)

// HealthHandler reports liveness. It touches no shared state and always
// answers 200 while the process is up; readiness of the database and key
// cache is deliberately not folded in, callers probing those should issue a
// real request.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, HealthResponse{
			Status:    "ok",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

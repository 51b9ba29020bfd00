package handler

import (
	"context"
	"net/http"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Check(ctx context.Context) error
}

// HealthHandler returns a health check endpoint. A nil checker means the
// server runs without a database and is always healthy.
func HealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.Check(r.Context()); err != nil {
				RespondJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
				return
			}
		}
		RespondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}

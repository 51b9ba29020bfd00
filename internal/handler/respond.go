package handler

import (
	"encoding/json"
	"net/http"

	"github.com/crownarena/server/internal/domain"
)

// RespondJSON writes a JSON response with the given status code.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// RespondError writes a JSON error response, detecting domain.AppError for status codes.
func RespondError(w http.ResponseWriter, err error) {
	if appErr, ok := err.(*domain.AppError); ok {
		status := appErr.Status
		if status == 0 {
			status = http.StatusBadRequest
		}
		RespondJSON(w, status, map[string]string{
			"code":    appErr.Code,
			"message": appErr.Message,
		})
		return
	}
	RespondJSON(w, http.StatusInternalServerError, map[string]string{
		"code":    domain.CodeInternal,
		"message": "internal server error",
	})
}

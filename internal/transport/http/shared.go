package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	"keyward/pkg/platform/sentinel"
)

// writeError centralizes sentinel error translation to HTTP responses so every
// handler produces the same JSON error envelope.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal"
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, sentinel.ErrDuplicateMember):
		status, code = http.StatusConflict, "duplicate_member"
	case errors.Is(err, sentinel.ErrAlreadyExists):
		status, code = http.StatusConflict, "already_exists"
	case errors.Is(err, sentinel.ErrInvalidDomain):
		status, code = http.StatusBadRequest, "invalid_domain"
	case errors.Is(err, sentinel.ErrAuthFailure):
		status, code = http.StatusForbidden, "auth_failure"
	case errors.Is(err, sentinel.ErrInteractionNotAllowed):
		status, code = http.StatusForbidden, "interaction_not_allowed"
	case errors.Is(err, sentinel.ErrLocked):
		status, code = http.StatusLocked, "locked"
	case errors.Is(err, sentinel.ErrDataTooLarge):
		status, code = http.StatusRequestEntityTooLarge, "data_too_large"
	case errors.Is(err, sentinel.ErrUnavailable):
		status, code = http.StatusServiceUnavailable, "unavailable"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "bad_request",
		"message": message,
	})
}

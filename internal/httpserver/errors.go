package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"mailtrack/internal/domain"
)

const (
	ErrInvalidJSON     = "invalid json"
	ErrDependency      = "dependency error"
	ErrNotFound        = "Email not found"
	ErrAPIKeyRequired  = "API key required"
	ErrSubjectRequired = "Subject is required"
	ErrAlreadySent     = "email already marked sent"
	ErrTooManyRequests = "too many requests"
	MsgDeleted         = "Email deleted successfully"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeServiceError maps domain sentinels onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error, attrs ...any) {
	switch {
	case errors.Is(err, domain.ErrMissingSubject):
		writeError(w, http.StatusBadRequest, ErrSubjectRequired)
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrNotFound)
	case errors.Is(err, domain.ErrAlreadySent):
		writeError(w, http.StatusConflict, ErrAlreadySent)
	default:
		slog.Error("request failed", append(attrs, "err", err)...)
		writeError(w, http.StatusInternalServerError, ErrDependency)
	}
}

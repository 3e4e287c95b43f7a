package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/atinyakov/tagkeeper/internal/errs"
)

const maxBodyBytes = 64 << 10

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return false
	}
	return true
}

// writeError maps a service error to its status. Authentication failures
// always get the same body whatever the cause.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, errs.ErrAuthenticationFailed):
		http.Error(w, "authentication failed", http.StatusUnauthorized)
	case errors.Is(err, errs.ErrDuplicateName):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, errs.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, errs.ErrInvalidInput), errors.Is(err, errs.ErrDecode):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, errs.ErrProtocolMismatch):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, errs.ErrRateLimited):
		http.Error(w, "too many attempts", http.StatusTooManyRequests)
	default:
		logger.Error("request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

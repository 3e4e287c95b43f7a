// Package http serves the reference server's API: owner enrollment and the
// secret-tag registration, login and management endpoints.
package http

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/atinyakov/tagkeeper/internal/errs"
	"github.com/atinyakov/tagkeeper/internal/models"
)

// EnrollService issues client certificates to new owners.
type EnrollService interface {
	Enroll(ctx context.Context, owner string) (models.EnrollResponse, error)
}

// EnrollHandler handles owner enrollment. It is the only endpoint reachable
// without a client certificate.
type EnrollHandler struct {
	Service EnrollService
	Logger  *zap.Logger
}

// Enroll handles POST /owners/enroll. It answers with the PEM-encoded
// certificate and key for the new owner.
func (h *EnrollHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req models.EnrollRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := h.Service.Enroll(r.Context(), req.Owner)
	if errors.Is(err, errs.ErrDuplicateName) {
		http.Error(w, "owner already exists", http.StatusConflict)
		return
	}
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

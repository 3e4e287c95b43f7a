package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/atinyakov/tagkeeper/internal/errs"
	"github.com/atinyakov/tagkeeper/internal/middleware"
	"github.com/atinyakov/tagkeeper/internal/models"
)

// SecretTagService is the server half of the secret-tag exchanges.
type SecretTagService interface {
	RegisterStart(ctx context.Context, owner string, req models.RegisterStartRequest) (models.RegisterStartResponse, error)
	RegisterFinish(ctx context.Context, owner string, req models.RegisterFinishRequest) (models.Tag, error)
	LoginStart(ctx context.Context, owner string, req models.LoginStartRequest) (models.LoginStartResponse, error)
	LoginFinish(ctx context.Context, owner string, req models.LoginFinishRequest) error
	List(ctx context.Context, owner string) ([]models.Tag, error)
	Delete(ctx context.Context, owner, tagID string) error
}

// SecretTagHandler serves the /secret-tags endpoints for the owner named by
// the client certificate.
type SecretTagHandler struct {
	Service SecretTagService
	// Limiter throttles login starts; nil disables throttling.
	Limiter *LoginLimiter
	Logger  *zap.Logger
}

// RegisterStart handles POST /secret-tags/register/start.
func (h *SecretTagHandler) RegisterStart(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterStartRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := h.Service.RegisterStart(r.Context(), middleware.OwnerFromContext(r.Context()), req)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// RegisterFinish handles POST /secret-tags/register/finish.
func (h *SecretTagHandler) RegisterFinish(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterFinishRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	tag, err := h.Service.RegisterFinish(r.Context(), middleware.OwnerFromContext(r.Context()), req)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, tag)
}

// LoginStart handles POST /secret-tags/login/start.
func (h *SecretTagHandler) LoginStart(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())
	if h.Limiter != nil && !h.Limiter.Allow(owner) {
		writeError(w, h.Logger, errs.ErrRateLimited)
		return
	}
	var req models.LoginStartRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := h.Service.LoginStart(r.Context(), owner, req)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// LoginFinish handles POST /secret-tags/login/finish.
func (h *SecretTagHandler) LoginFinish(w http.ResponseWriter, r *http.Request) {
	var req models.LoginFinishRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.Service.LoginFinish(r.Context(), middleware.OwnerFromContext(r.Context()), req); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// List handles GET /secret-tags.
func (h *SecretTagHandler) List(w http.ResponseWriter, r *http.Request) {
	tags, err := h.Service.List(r.Context(), middleware.OwnerFromContext(r.Context()))
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if tags == nil {
		tags = []models.Tag{}
	}
	writeJSON(w, http.StatusOK, models.TagList{Tags: tags})
}

// Delete handles DELETE /secret-tags/{id}.
func (h *SecretTagHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Service.Delete(r.Context(), middleware.OwnerFromContext(r.Context()), id); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Health handles GET /health.
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

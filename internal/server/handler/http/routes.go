package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/atinyakov/tagkeeper/internal/middleware"
)

// Paths that do not need a client certificate.
const (
	PathEnroll = "/owners/enroll"
	PathHealth = "/health"
)

// NewRouter builds the API handler.
//
// Middleware chain, in order:
//  1. AllowContentType("application/json") rejects bodies of other types
//  2. WithRequestLogging(logger) logs each request
//  3. CertAuth identifies the owner, except on the enroll and health paths
//
// Routes:
//
//	POST   /owners/enroll
//	GET    /health
//	POST   /secret-tags/register/start
//	POST   /secret-tags/register/finish
//	POST   /secret-tags/login/start
//	POST   /secret-tags/login/finish
//	GET    /secret-tags
//	DELETE /secret-tags/{id}
func NewRouter(enroll *EnrollHandler, tags *SecretTagHandler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.AllowContentType("application/json"))
	r.Use(middleware.WithRequestLogging(logger))
	r.Use(middleware.CertAuth(PathEnroll, PathHealth))

	r.Post(PathEnroll, enroll.Enroll)
	r.Get(PathHealth, Health)

	r.Route("/secret-tags", func(r chi.Router) {
		r.Post("/register/start", tags.RegisterStart)
		r.Post("/register/finish", tags.RegisterFinish)
		r.Post("/login/start", tags.LoginStart)
		r.Post("/login/finish", tags.LoginFinish)
		r.Get("/", tags.List)
		r.Delete("/{id}", tags.Delete)
	})

	return r
}

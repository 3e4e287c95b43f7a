// Package middleware provides the HTTP middlewares of the reference server:
// owner identification from client certificates and request logging.
package middleware

import (
	"context"
	"net/http"
)

type ctxKey string

const ownerKey ctxKey = "owner"

// CertAuth identifies the owner by the common name of the verified TLS
// client certificate and stores it in the request context. Requests to the
// public paths pass through without a certificate, so a new owner can
// enroll and obtain one.
func CertAuth(public ...string) func(http.Handler) http.Handler {
	open := make(map[string]struct{}, len(public))
	for _, p := range public {
		open[p] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := open[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
				http.Error(w, "no client certificate provided", http.StatusUnauthorized)
				return
			}
			owner := r.TLS.PeerCertificates[0].Subject.CommonName
			if owner == "" {
				http.Error(w, "client certificate has no common name", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
		})
	}
}

// WithOwner returns a copy of ctx carrying owner.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey, owner)
}

// OwnerFromContext returns the authenticated owner, or "" if none.
func OwnerFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(ownerKey).(string); ok {
		return s
	}
	return ""
}

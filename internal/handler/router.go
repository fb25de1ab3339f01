package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/codementor/integrity/internal/auth"
	"github.com/codementor/integrity/internal/ratelimit"
)

// NewRouter builds the ingestor HTTP surface: /health is public, /v1 requires a bearer
// token and is rate limited per user.
func NewRouter(h *HTTPHandler, verifier *auth.Verifier, limiter *ratelimit.Limiter, allowedOrigin string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CORSMiddleware(allowedOrigin))

	r.Get("/health", HealthCheck)
	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.Middleware(verifier))
		r.Use(limiter.Middleware)
		h.Routes(r)
	})
	return r
}

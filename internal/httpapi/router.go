package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/schoolnotes/authcore/middleware"
)

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	if s.proxied {
		r.Use(chimw.RealIP)
	}
	r.Use(s.requestContextMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(bodySizeLimitMiddleware)

	guard := middleware.Guard(s.engine, middleware.WithLogger(s.logger))
	admin := middleware.RequireAdmin(s.engine, middleware.WithLogger(s.logger))

	r.Get("/healthcheck", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Post("/refresh", s.handleRefresh)

		r.Group(func(r chi.Router) {
			r.Use(guard)
			r.Get("/me", s.handleMe)
			r.Put("/password", s.handleChangePassword)
		})
	})

	r.Route("/accounts", func(r chi.Router) {
		r.With(guard).Get("/", s.handleListAccounts)
		r.With(admin).Post("/", s.handleCreateAccount)

		r.Route("/{id}", func(r chi.Router) {
			r.With(guard).Get("/", s.handleGetAccount)
			r.With(guard).Patch("/", s.handleUpdateProfile)
			r.With(admin).Patch("/status", s.handleSetStatus)
			r.With(admin).Patch("/role", s.handleSetRole)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusNotFound, middleware.Envelope{
			Status:  http.StatusNotFound,
			Message: "route not found",
			Error:   "not_found",
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.ready != nil && !s.ready() {
		middleware.WriteJSON(w, http.StatusServiceUnavailable, middleware.Envelope{
			Status:  http.StatusServiceUnavailable,
			Message: "not ready",
		})
		return
	}

	middleware.WriteData(w, http.StatusOK, "ok", map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

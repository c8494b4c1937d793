// Package httptransport wires the HTTP surface: middleware chain, public
// endpoints, and the authenticated API groups.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"careadmin/internal/audit"
	"careadmin/internal/platform/metrics"
	"careadmin/internal/platform/middleware"
	"careadmin/internal/session"
	"careadmin/internal/transport/http/shared"
)

// Dependencies carries everything the router needs. All fields are required
// unless noted.
type Dependencies struct {
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Recorder *audit.Recorder
	Auth     *AuthHandler
	Audit    *AuditHandler
	Sessions *SessionHandler
	// Validator checks bearer tokens for the protected groups.
	Validator middleware.JWTValidator
	// Tracker gates authenticated requests on inactivity.
	Tracker session.Tracker
}

// NewRouter assembles the full middleware chain and route table. The audit
// recorder wraps Recovery so the 500 written for a panicked handler flows
// through the recorder's capture writer, and sits above authentication so
// denied and expired requests are recorded too.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(deps.Recorder.Middleware)
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.Latency(deps.Metrics))
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", deps.Auth.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(deps.Validator, deps.Tracker, deps.Logger))

			r.Post("/auth/logout", deps.Auth.handleLogout)

			r.Route("/audit-logs", func(r chi.Router) {
				r.Get("/", deps.Audit.handleList)
				r.Get("/stats", deps.Audit.handleStats)
				r.Get("/user/{id}", deps.Audit.handleListBySubject)
			})

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", deps.Sessions.handleList)
				r.Get("/{id}", deps.Sessions.handleInfo)
				r.Delete("/{id}", deps.Sessions.handleEvict)
			})
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	shared.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/canvasadmin/canvasadmin/internal/auth"
	"github.com/canvasadmin/canvasadmin/internal/logging"
	"github.com/canvasadmin/canvasadmin/internal/manage"
	"github.com/canvasadmin/canvasadmin/internal/metrics"
)

// HealthChecker reports whether a backing store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

func (f HealthCheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// PageMounter registers server-rendered pages on the router.
type PageMounter interface {
	Mount(r *mux.Router)
}

// RouterConfig gathers what NewRouter wires together. Metrics, Health and Page
// are optional.
type RouterConfig struct {
	Service *manage.Service
	Auth    auth.Config
	Metrics *metrics.HTTPCollector
	Health  HealthChecker
	Page    PageMounter
	Logger  *slog.Logger
}

// NewRouter builds the HTTP routes of the service.
func NewRouter(cfg RouterConfig) *mux.Router {
	r := mux.NewRouter()
	r.Use(logging.Middleware(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.InstrumentHandler)
		r.Handle("/metrics", cfg.Metrics.Handler()).Methods(http.MethodGet)
	}

	r.HandleFunc("/healthz", healthHandler(cfg.Health, cfg.Logger)).Methods(http.MethodGet)

	authHandler := NewAuthHandler(cfg.Auth, cfg.Logger)
	r.HandleFunc("/api/auth/login", authHandler.Login).Methods(http.MethodPost)

	protected := r.PathPrefix("/api").Subrouter()
	protected.Use(auth.Middleware(cfg.Auth))
	protected.HandleFunc("/auth/validate", authHandler.ValidateToken).Methods(http.MethodGet)

	h := NewManageHandlers(cfg.Service, cfg.Logger)
	m := protected.PathPrefix("/manage").Subrouter()
	m.HandleFunc("/admin/connector/indexing-status", h.IndexingStatus).Methods(http.MethodGet)
	m.HandleFunc("/admin/connector/run-once", h.RunOnce).Methods(http.MethodPost)
	m.HandleFunc("/admin/connector", h.ListConnectors).Methods(http.MethodGet)
	m.HandleFunc("/admin/connector", h.CreateConnector).Methods(http.MethodPost)
	m.HandleFunc("/admin/connector/{id:[0-9]+}", h.UpdateConnector).Methods(http.MethodPatch)
	m.HandleFunc("/admin/connector/{id:[0-9]+}", h.DeleteConnector).Methods(http.MethodDelete)
	m.HandleFunc("/credential", h.ListCredentials).Methods(http.MethodGet)
	m.HandleFunc("/credential", h.CreateCredential).Methods(http.MethodPost)
	m.HandleFunc("/admin/credential/{id:[0-9]+}", h.DeleteCredential).Methods(http.MethodDelete)
	m.HandleFunc("/connector/{connector_id:[0-9]+}/credential/{credential_id:[0-9]+}", h.LinkCredential).Methods(http.MethodPut)
	m.HandleFunc("/connector/{connector_id:[0-9]+}/credential/{credential_id:[0-9]+}", h.UnlinkCredential).Methods(http.MethodDelete)

	if cfg.Page != nil {
		cfg.Page.Mount(r)
	}
	return r
}

func healthHandler(health HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			if err := health.HealthCheck(r.Context()); err != nil {
				logger.Error("health check failed", "error", err)
				writeJSON(w, logger, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, logger, http.StatusOK, map[string]string{"status": "ok"})
	}
}

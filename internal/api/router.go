package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/bcnelson/aws-org-manager/internal/api/handler"
	"github.com/bcnelson/aws-org-manager/internal/api/middleware"
	"github.com/bcnelson/aws-org-manager/internal/domain"
	"github.com/bcnelson/aws-org-manager/internal/metrics"
	"github.com/bcnelson/aws-org-manager/internal/service"
	"github.com/bcnelson/aws-org-manager/internal/storage"
)

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(
	store storage.Storage,
	svc *service.ReconcileService,
	m *metrics.Metrics,
	bootstrapKey string,
	log logrus.FieldLogger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging(log))
	r.Use(m.Instrument(routePattern))

	// Health check (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())

	// API routes (auth required, JSON Content-Type)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.ContentType)
		r.Use(middleware.Auth(store, bootstrapKey, log))

		orgHandler := handler.NewOrganizationHandler(svc)
		runHandler := handler.NewRunHandler(store)
		keyHandler := handler.NewAPIKeyHandler(store)

		// Read scope
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope(domain.ScopeRead))
			r.Get("/inventory", orgHandler.Inventory)
			r.Get("/report", orgHandler.Report)
			r.Get("/plan", orgHandler.Plan)
			r.Get("/runs", runHandler.List)
			r.Get("/runs/latest", runHandler.Latest)
			r.Get("/runs/{id}", runHandler.Get)
		})

		// Execute scope
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope(domain.ScopeExecute))
			r.Post("/reconcile", orgHandler.Reconcile)
			r.Post("/provision", orgHandler.Provision)

			r.Post("/keys", keyHandler.Create)
			r.Get("/keys", keyHandler.List)
			r.Delete("/keys/{id}", keyHandler.Delete)
		})
	})

	return r
}

// routePattern labels metrics with the matched route rather than the raw path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

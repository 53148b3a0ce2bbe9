package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/registerlabs/ledgerflow/internal/config"
	"github.com/registerlabs/ledgerflow/internal/observability"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Handlers     *Handlers
	Authenticate func(http.Handler) http.Handler
	Metrics      *observability.Metrics
	Readiness    observability.ReadinessChecks
	Logger       *zap.Logger
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(Recovery(deps.Logger))
	r.Use(RequestID)
	r.Use(observability.TracingMiddleware)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	// Public routes.
	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled {
		r.Method(http.MethodGet, deps.Config.Observability.Metrics.Path, observability.Handler())
	}

	// Authenticated routes.
	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(deps.Logger))

		h := deps.Handlers
		r.Post("/v1/instances", h.HandleCreateInstance)
		r.Get("/v1/instances/{instanceId}", h.HandleGetInstance)
		r.Get("/v1/instances/{instanceId}/data", h.HandleGetInstanceData)
		r.Post("/v1/instances/{instanceId}/actions/{actionId}/execute", h.HandleExecute)
		r.Post("/v1/instances/{instanceId}/actions/{actionId}/reject", h.HandleReject)
		r.Post("/v1/instances/{instanceId}/actions/{actionId}/files", h.HandleAttachFiles)
		r.Post("/v1/registers/{registerId}/blueprints", h.HandlePublishBlueprint)
		r.Get("/v1/blueprints/{blueprintId}", h.HandleGetBlueprint)
		r.Get("/v1/blueprints/{blueprintId}/actions/{actionId}", h.HandleGetAction)
	})

	return r
}

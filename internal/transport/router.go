package transport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/halcyonix/playbook/internal/config"
	"github.com/halcyonix/playbook/internal/observability"
	"github.com/halcyonix/playbook/model"
)

// ExecutionEngine is the surface the HTTP handlers need from the engine.
// Declared here so handlers can be tested against a fake.
type ExecutionEngine interface {
	Start(ctx context.Context, playbookID string, inputs map[string]any) (model.Execution, error)
	SubmitReview(ctx context.Context, executionID, decision, comment string) (model.Execution, error)
	Cancel(ctx context.Context, executionID string) (model.Execution, error)
	GetExecution(ctx context.Context, executionID string) (model.Execution, error)
	ListStepHistory(ctx context.Context, executionID string) ([]model.StepLogEntry, error)
	ListExecutions(ctx context.Context, f model.ExecutionFilters) ([]model.Execution, int, error)
}

// PlaybookCatalog is the read-only view of loaded playbook definitions.
type PlaybookCatalog interface {
	AllPlaybooks() []model.Playbook
	GetPlaybook(playbookID string) (model.Playbook, bool)
}

// Dependencies holds everything the router needs.
type Dependencies struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Engine  ExecutionEngine
	Catalog PlaybookCatalog

	// Authenticate verifies the request's credentials and stores claims in
	// the context. Usually JWTAuthenticator; tests substitute their own.
	Authenticate func(http.Handler) http.Handler

	Ready observability.ReadinessChecks
}

// NewRouter builds the HTTP router with the full middleware chain and all
// API routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(Recovery(deps.Logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Unauthenticated operational endpoints.
	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Ready))
	if deps.Config.Observability.Metrics.Enabled {
		r.Method(http.MethodGet, deps.Config.Observability.Metrics.Path, observability.Handler())
	}

	h := &handlers{
		engine:  deps.Engine,
		catalog: deps.Catalog,
	}

	r.Group(func(r chi.Router) {
		r.Use(deps.Authenticate)
		r.Use(BuildAuthContext)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(deps.Logger))
		r.Use(deps.Metrics.MetricsMiddleware)
		r.Use(observability.TracingMiddleware)

		r.Get("/v1/playbooks", h.listPlaybooks)
		r.Post("/v1/playbooks/{playbookId}/executions", h.startExecution)
		r.Get("/v1/executions", h.listExecutions)
		r.Get("/v1/executions/{executionId}", h.getExecution)
		r.Get("/v1/executions/{executionId}/history", h.listStepHistory)
		r.Post("/v1/executions/{executionId}/review", h.submitReview)
		r.Post("/v1/executions/{executionId}/cancel", h.cancelExecution)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteNotFound(w, "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, model.NewBadRequestError("Method not allowed"))
	})

	return r
}

type handlers struct {
	engine  ExecutionEngine
	catalog PlaybookCatalog
}

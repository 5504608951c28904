// Package httptransport is the thin HTTP layer over the governance
// services. Handlers decode, validate shape, and delegate; business rules
// stay in the service packages.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tutela/internal/platform/metrics"
	"tutela/internal/platform/middleware"
	"tutela/pkg/platform/httputil"
)

// HealthCheck probes one dependency for /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps carries everything the router wires together. Validator nil runs the
// API without operator auth; actor identity then comes from request bodies.
type Deps struct {
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Validator middleware.TokenValidator

	Classifier ClassifyService
	Redactor   RedactService
	Attester   AttestService
	Policies   PolicyService
	Auditor    AuditService

	Health []HealthCheck
}

// NewRouter wires the full route table with the shared middleware chain.
func NewRouter(deps Deps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.DeviceInfo)
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.ContentTypeJSON)
	r.Use(middleware.LatencyMiddleware(deps.Metrics))

	r.Get("/healthz", handleHealth(deps.Health))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(api chi.Router) {
		if deps.Validator != nil {
			api.Use(middleware.RequireAuth(deps.Validator, deps.Logger))
		}
		NewClassifyHandler(deps.Classifier, deps.Logger).Register(api)
		NewRedactHandler(deps.Redactor, deps.Logger).Register(api)
		NewAttestHandler(deps.Attester, deps.Logger).Register(api)
		NewPolicyHandler(deps.Policies, deps.Logger).Register(api)
		NewAuditHandler(deps.Auditor, deps.Logger).Register(api)
	})

	return r
}

func handleHealth(checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		report := map[string]string{"status": "ok"}
		for _, hc := range checks {
			if err := hc.Check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				report["status"] = "degraded"
				report[hc.Name] = err.Error()
				continue
			}
			report[hc.Name] = "ok"
		}
		httputil.WriteJSON(w, status, report)
	}
}

// actorFrom resolves the acting identity: the authenticated operator when
// present, otherwise the client-supplied fallback.
func actorFrom(ctx context.Context, fallback string) string {
	if claims := middleware.GetOperator(ctx); claims != nil {
		return claims.OperatorID
	}
	return fallback
}

// writeFailure logs and answers one failed operation. Responses the caller
// can act on log as warnings; everything 5xx logs as an error.
func writeFailure(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, op string, err error) {
	if httputil.StatusOf(err) >= http.StatusInternalServerError {
		logError(ctx, logger, op+" failed", "error", err.Error(),
			"request_id", middleware.GetRequestID(ctx))
	} else {
		logWarn(ctx, logger, op+" rejected", "error", err.Error(),
			"request_id", middleware.GetRequestID(ctx))
	}
	httputil.WriteError(w, err)
}

func logInfo(ctx context.Context, logger *slog.Logger, msg string, args ...any) {
	if logger != nil {
		logger.InfoContext(ctx, msg, args...)
	}
}

func logWarn(ctx context.Context, logger *slog.Logger, msg string, args ...any) {
	if logger != nil {
		logger.WarnContext(ctx, msg, args...)
	}
}

func logError(ctx context.Context, logger *slog.Logger, msg string, args ...any) {
	if logger != nil {
		logger.ErrorContext(ctx, msg, args...)
	}
}

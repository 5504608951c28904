package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/asaskevich/govalidator"
	"github.com/go-chi/chi/v5"

	"tutela/internal/platform/middleware"
	"tutela/internal/redact"
	dErrors "tutela/pkg/domain-errors"
	"tutela/pkg/platform/httputil"
)

// RedactService covers rule-driven protection and audited reversal.
type RedactService interface {
	Redact(ctx context.Context, field string, value any, rules []redact.Rule, opCtx redact.OperationContext) (redact.Result, error)
	Transform(ctx context.Context, field string, value any, rules []redact.Rule, opCtx redact.OperationContext) (redact.Result, error)
	Reverse(ctx context.Context, handle, requester, justification string) (any, error)
	RedactBatch(ctx context.Context, items []redact.BatchItem, rules []redact.Rule, opCtx redact.OperationContext, opts redact.BatchOptions) (redact.BatchResult, error)
}

type RedactHandler struct {
	logger  *slog.Logger
	service RedactService
}

func NewRedactHandler(service RedactService, logger *slog.Logger) *RedactHandler {
	return &RedactHandler{logger: logger, service: service}
}

func (h *RedactHandler) Register(r chi.Router) {
	r.Post("/v1/redact", h.handleRedact)
	r.Post("/v1/transform", h.handleTransform)
	r.Post("/v1/transform/reverse", h.handleReverse)
	r.Post("/v1/redact/batch", h.handleBatch)
}

type protectRequest struct {
	Field   string                  `json:"field,omitempty"`
	Value   any                     `json:"value"`
	Rules   []redact.Rule           `json:"rules"`
	Context redact.OperationContext `json:"context"`
}

// opContext stamps the authenticated operator and correlation ID onto the
// client-supplied operation context.
func opContext(ctx context.Context, wire redact.OperationContext) redact.OperationContext {
	wire.Operator = actorFrom(ctx, wire.Operator)
	if wire.RequestID == "" {
		wire.RequestID = middleware.GetRequestID(ctx)
	}
	return wire
}

func (h *RedactHandler) handleRedact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req protectRequest
	if err := httputil.Decode(r, &req); err != nil {
		writeFailure(ctx, h.logger, w, "redact", err)
		return
	}

	res, err := h.service.Redact(ctx, req.Field, req.Value, req.Rules, opContext(ctx, req.Context))
	if err != nil {
		writeFailure(ctx, h.logger, w, "redact", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *RedactHandler) handleTransform(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req protectRequest
	if err := httputil.Decode(r, &req); err != nil {
		writeFailure(ctx, h.logger, w, "transform", err)
		return
	}

	res, err := h.service.Transform(ctx, req.Field, req.Value, req.Rules, opContext(ctx, req.Context))
	if err != nil {
		writeFailure(ctx, h.logger, w, "transform", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

type reverseRequest struct {
	Handle        string `json:"handle"`
	Requester     string `json:"requester,omitempty"`
	Justification string `json:"justification"`
}

func (r reverseRequest) validate() error {
	if r.Handle == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "transformation handle is required")
	}
	if !govalidator.StringLength(r.Justification, "1", "2000") {
		return dErrors.New(dErrors.CodeInvalidInput, "justification must be 1-2000 characters")
	}
	return nil
}

func (h *RedactHandler) handleReverse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req reverseRequest
	if err := httputil.Decode(r, &req); err != nil {
		writeFailure(ctx, h.logger, w, "reverse", err)
		return
	}
	if err := req.validate(); err != nil {
		writeFailure(ctx, h.logger, w, "reverse", err)
		return
	}

	value, err := h.service.Reverse(ctx, req.Handle, actorFrom(ctx, req.Requester), req.Justification)
	if err != nil {
		writeFailure(ctx, h.logger, w, "reverse", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"value": value})
}

type batchRequest struct {
	Items   []redact.BatchItem      `json:"items"`
	Rules   []redact.Rule           `json:"rules"`
	Context redact.OperationContext `json:"context"`
	Options redact.BatchOptions     `json:"options"`
}

type batchItemResponse struct {
	Index  int            `json:"index"`
	Field  string         `json:"field,omitempty"`
	Result *redact.Result `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

type batchResponse struct {
	Results   []batchItemResponse `json:"results"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
}

func (h *RedactHandler) handleBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req batchRequest
	if err := httputil.Decode(r, &req); err != nil {
		writeFailure(ctx, h.logger, w, "redact batch", err)
		return
	}

	res, err := h.service.RedactBatch(ctx, req.Items, req.Rules, opContext(ctx, req.Context), req.Options)
	if err != nil {
		writeFailure(ctx, h.logger, w, "redact batch", err)
		return
	}

	out := batchResponse{
		Results:   make([]batchItemResponse, 0, len(res.Results)),
		Succeeded: res.Succeeded,
		Failed:    res.Failed,
	}
	for _, item := range res.Results {
		wire := batchItemResponse{Index: item.Index, Field: item.Field, Result: item.Result}
		if item.Err != nil {
			wire.Error = item.Err.Error()
		}
		out.Results = append(out.Results, wire)
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

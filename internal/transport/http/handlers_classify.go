package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tutela/internal/classify"
	"tutela/internal/platform/middleware"
	"tutela/internal/redact"
	"tutela/pkg/platform/httputil"
)

// ClassifyService is the audited classification entry point.
type ClassifyService interface {
	Classify(ctx context.Context, value any, opCtx redact.OperationContext) (classify.ClassifiedValue, error)
}

type ClassifyHandler struct {
	logger  *slog.Logger
	service ClassifyService
}

func NewClassifyHandler(service ClassifyService, logger *slog.Logger) *ClassifyHandler {
	return &ClassifyHandler{logger: logger, service: service}
}

func (h *ClassifyHandler) Register(r chi.Router) {
	r.Post("/v1/classify", h.handleClassify)
}

type classifyRequest struct {
	Value    any    `json:"value"`
	Operator string `json:"operator,omitempty"`
	Subject  string `json:"subject,omitempty"`
	Purpose  string `json:"purpose,omitempty"`
}

func (h *ClassifyHandler) handleClassify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req classifyRequest
	if err := httputil.Decode(r, &req); err != nil {
		writeFailure(ctx, h.logger, w, "classify", err)
		return
	}

	cv, err := h.service.Classify(ctx, req.Value, redact.OperationContext{
		Operator:  actorFrom(ctx, req.Operator),
		Subject:   req.Subject,
		Purpose:   req.Purpose,
		RequestID: middleware.GetRequestID(ctx),
	})
	if err != nil {
		writeFailure(ctx, h.logger, w, "classify", err)
		return
	}

	// ClassifiedValue never echoes the raw value back over the wire.
	httputil.WriteJSON(w, http.StatusOK, cv)
}

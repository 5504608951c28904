package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"tutela/internal/audit"
	"tutela/internal/platform/middleware"
	dErrors "tutela/pkg/domain-errors"
	"tutela/pkg/platform/httputil"
)

// AuditService exposes the read side of the hash-chained log: querying,
// integrity validation, and signed export. Appends happen through the
// governance services, never over HTTP.
type AuditService interface {
	Query(ctx context.Context, criteria audit.QueryCriteria) ([]audit.Entry, error)
	ValidateIntegrity(ctx context.Context, chainID string, from, to int64) (audit.IntegrityReport, error)
	Export(ctx context.Context, req audit.ExportRequest) (audit.ExportResult, error)
}

type AuditHandler struct {
	logger  *slog.Logger
	service AuditService
}

func NewAuditHandler(service AuditService, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{logger: logger, service: service}
}

func (h *AuditHandler) Register(r chi.Router) {
	r.Get("/v1/audit", h.handleQuery)
	r.Post("/v1/audit/verify", h.handleVerify)
	r.Post("/v1/audit/export", h.handleExport)
}

func parseQueryCriteria(r *http.Request) (audit.QueryCriteria, error) {
	q := r.URL.Query()
	criteria := audit.QueryCriteria{
		ChainID:   q.Get("chain"),
		SubjectID: q.Get("subject"),
		Actor:     q.Get("actor"),
		Category:  audit.Category(q.Get("category")),
		Framework: q.Get("framework"),
	}
	for _, et := range q["event_type"] {
		criteria.EventTypes = append(criteria.EventTypes, audit.EventType(et))
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return criteria, dErrors.New(dErrors.CodeInvalidInput, "from must be RFC 3339")
		}
		criteria.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return criteria, dErrors.New(dErrors.CodeInvalidInput, "to must be RFC 3339")
		}
		criteria.To = t
	}
	if raw := q.Get("cultural"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return criteria, dErrors.New(dErrors.CodeInvalidInput, "cultural must be a boolean")
		}
		criteria.CulturallySensitive = &b
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return criteria, dErrors.New(dErrors.CodeInvalidInput, "limit must be a non-negative integer")
		}
		criteria.Limit = n
	}
	return criteria, nil
}

func (h *AuditHandler) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	criteria, err := parseQueryCriteria(r)
	if err != nil {
		writeFailure(ctx, h.logger, w, "query audit log", err)
		return
	}
	entries, err := h.service.Query(ctx, criteria)
	if err != nil {
		writeFailure(ctx, h.logger, w, "query audit log", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

type verifyChainRequest struct {
	ChainID string `json:"chain_id,omitempty"`
	From    int64  `json:"from,omitempty"`

	// To nil verifies through the current head.
	To *int64 `json:"to,omitempty"`
}

func (h *AuditHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req verifyChainRequest
	if err := httputil.Decode(r, &req); err != nil {
		writeFailure(ctx, h.logger, w, "verify audit chain", err)
		return
	}
	to := int64(-1)
	if req.To != nil {
		to = *req.To
	}

	report, err := h.service.ValidateIntegrity(ctx, req.ChainID, req.From, to)
	if err != nil {
		writeFailure(ctx, h.logger, w, "verify audit chain", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

type auditCriteria struct {
	ChainID             string     `json:"chain_id,omitempty"`
	SubjectID           string     `json:"subject_id,omitempty"`
	Actor               string     `json:"actor,omitempty"`
	EventTypes          []string   `json:"event_types,omitempty"`
	Category            string     `json:"category,omitempty"`
	From                *time.Time `json:"from,omitempty"`
	To                  *time.Time `json:"to,omitempty"`
	CulturallySensitive *bool      `json:"culturally_sensitive,omitempty"`
	Framework           string     `json:"framework,omitempty"`
	Limit               int        `json:"limit,omitempty"`
}

func (c auditCriteria) toService() audit.QueryCriteria {
	criteria := audit.QueryCriteria{
		ChainID:             c.ChainID,
		SubjectID:           c.SubjectID,
		Actor:               c.Actor,
		Category:            audit.Category(c.Category),
		CulturallySensitive: c.CulturallySensitive,
		Framework:           c.Framework,
		Limit:               c.Limit,
	}
	for _, et := range c.EventTypes {
		criteria.EventTypes = append(criteria.EventTypes, audit.EventType(et))
	}
	if c.From != nil {
		criteria.From = *c.From
	}
	if c.To != nil {
		criteria.To = *c.To
	}
	return criteria
}

type exportRequest struct {
	Criteria        auditCriteria `json:"criteria"`
	Format          string        `json:"format"`
	ExcludeCultural bool          `json:"exclude_cultural,omitempty"`
	ExcludePersonal bool          `json:"exclude_personal,omitempty"`
	RequestedBy     string        `json:"requested_by,omitempty"`
}

func (h *AuditHandler) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req exportRequest
	if err := httputil.Decode(r, &req); err != nil {
		writeFailure(ctx, h.logger, w, "export audit log", err)
		return
	}

	result, err := h.service.Export(ctx, audit.ExportRequest{
		Criteria:        req.Criteria.toService(),
		Format:          audit.ExportFormat(req.Format),
		ExcludeCultural: req.ExcludeCultural,
		ExcludePersonal: req.ExcludePersonal,
		RequestedBy:     actorFrom(ctx, req.RequestedBy),
	})
	if err != nil {
		writeFailure(ctx, h.logger, w, "export audit log", err)
		return
	}
	logInfo(ctx, h.logger, "audit log exported",
		"format", result.Format,
		"entries", result.EntryCount,
		"requested_by", actorFrom(ctx, req.RequestedBy),
		"request_id", middleware.GetRequestID(ctx),
	)
	httputil.WriteJSON(w, http.StatusOK, result)
}

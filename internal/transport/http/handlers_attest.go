package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"tutela/internal/attest"
	"tutela/internal/platform/middleware"
	dErrors "tutela/pkg/domain-errors"
	"tutela/pkg/platform/httputil"
)

// AttestService covers the attestation lifecycle and signing key custody.
type AttestService interface {
	Sign(ctx context.Context, req attest.SignRequest) (attest.SignResult, error)
	Amend(ctx context.Context, req attest.AmendRequest) (attest.SignResult, error)
	Verify(ctx context.Context, req attest.VerifyRequest) (attest.VerificationResult, error)
	Revoke(ctx context.Context, req attest.RevokeRequest) (attest.RevocationResult, error)
	Suspend(ctx context.Context, id uuid.UUID, actor, reason string) (attest.Attestation, error)
	Get(ctx context.Context, id uuid.UUID) (attest.Attestation, error)
	History(ctx context.Context, id uuid.UUID) ([]attest.Attestation, error)
	BySubject(ctx context.Context, subjectID string) ([]attest.Attestation, error)

	GenerateKey(ctx context.Context, req attest.GenerateKeyRequest) (attest.Key, error)
	RotateKey(ctx context.Context, keyID, actor string) (attest.Key, error)
	RevokeKey(ctx context.Context, keyID, actor string) (attest.Key, error)
	GetKey(ctx context.Context, keyID string) (attest.Key, error)
	ListKeys(ctx context.Context, owner string) ([]attest.Key, error)
}

type AttestHandler struct {
	logger  *slog.Logger
	service AttestService
}

func NewAttestHandler(service AttestService, logger *slog.Logger) *AttestHandler {
	return &AttestHandler{logger: logger, service: service}
}

func (h *AttestHandler) Register(r chi.Router) {
	r.Post("/v1/attestations/sign", h.handleSign)
	r.Post("/v1/attestations/verify", h.handleVerify)
	r.Post("/v1/attestations/revoke", h.handleRevoke)
	r.Get("/v1/attestations", h.handleBySubject)
	r.Get("/v1/attestations/{id}", h.handleGet)
	r.Get("/v1/attestations/{id}/history", h.handleHistory)
	r.Post("/v1/attestations/{id}/amend", h.handleAmend)
	r.Post("/v1/attestations/{id}/suspend", h.handleSuspend)

	r.Post("/v1/keys", h.handleGenerateKey)
	r.Get("/v1/keys", h.handleListKeys)
	r.Get("/v1/keys/{id}", h.handleGetKey)
	r.Post("/v1/keys/{id}/rotate", h.handleRotateKey)
	r.Post("/v1/keys/{id}/revoke", h.handleRevokeKey)
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, "invalid "+name)
	}
	return id, nil
}

func linkIDs(raw []string) ([]uuid.UUID, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, dErrors.New(dErrors.CodeBadRequest, "invalid link id "+s)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

type signRequest struct {
	Type        string                    `json:"type"`
	SubjectID   string                    `json:"subject_id"`
	SubjectKind string                    `json:"subject_kind"`
	AttesterID  string                    `json:"attester_id,omitempty"`
	KeyID       string                    `json:"key_id"`
	Claims      map[string]any            `json:"claims"`
	Frameworks  []string                  `json:"frameworks,omitempty"`
	Protocols   []attest.CulturalProtocol `json:"protocols,omitempty"`
	ValidFrom   time.Time                 `json:"valid_from,omitempty"`
	ValidUntil  *time.Time                `json:"valid_until,omitempty"`
	Links       []string                  `json:"links,omitempty"`
}

func (h *AttestHandler) handleSign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req signRequest
	if err := httputil.Decode(r, &req); err != nil {
		writeFailure(ctx, h.logger, w, "sign attestation", err)
		return
	}
	links, err := linkIDs(req.Links)
	if err != nil {
		writeFailure(ctx, h.logger, w, "sign attestation", err)
		return
	}

	result, err := h.service.Sign(ctx, attest.SignRequest{
		Type:        attest.AttestationType(req.Type),
		SubjectID:   req.SubjectID,
		SubjectKind: attest.SubjectKind(req.SubjectKind),
		AttesterID:  actorFrom(ctx, req.AttesterID),
		KeyID:       req.KeyID,
		Claims:      req.Claims,
		Frameworks:  req.Frameworks,
		Protocols:   req.Protocols,
		ValidFrom:   req.ValidFrom,
		ValidUntil:  req.ValidUntil,
		Links:       links,
		RequestID:   middleware.GetRequestID(ctx),
	})
	if err != nil {
		writeFailure(ctx, h.logger, w, "sign attestation", err)
		return
	}

	// A refusal is a decision, not an error: 200 with the refusal body.
	if !result.Signed {
		httputil.WriteJSON(w, http.StatusOK, result)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, result)
}

type amendRequest struct {
	AttesterID string                    `json:"attester_id,omitempty"`
	KeyID      string                    `json:"key_id"`
	Claims     map[string]any            `json:"claims"`
	Frameworks []string                  `json:"frameworks,omitempty"`
	Protocols  []attest.CulturalProtocol `json:"protocols,omitempty"`
	ValidFrom  time.Time                 `json:"valid_from,omitempty"`
	ValidUntil *time.Time                `json:"valid_until,omitempty"`
	Links      []string                  `json:"links,omitempty"`
}

func (h *AttestHandler) handleAmend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathUUID(r, "id")
	if err != nil {
		writeFailure(ctx, h.logger, w, "amend attestation", err)
		return
	}
	var req amendRequest
	if err := httputil.Decode(r, &req); err != nil {
		writeFailure(ctx, h.logger, w, "amend attestation", err)
		return
	}
	links, err := linkIDs(req.Links)
	if err != nil {
		writeFailure(ctx, h.logger, w, "amend attestation", err)
		return
	}

	result, err := h.service.Amend(ctx, attest.AmendRequest{
		AttestationID: id,
		AttesterID:    actorFrom(ctx, req.AttesterID),
		KeyID:         req.KeyID,
		Claims:        req.Claims,
		Frameworks:    req.Frameworks,
		Protocols:     req.Protocols,
		ValidFrom:     req.ValidFrom,
		ValidUntil:    req.ValidUntil,
		Links:         links,
		RequestID:     middleware.GetRequestID(ctx),
	})
	if err != nil {
		writeFailure(ctx, h.logger, w, "amend attestation", err)
		return
	}

	if !result.Signed {
		httputil.WriteJSON(w, http.StatusOK, result)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, result)
}

type verifyRequest struct {
	AttestationID string   `json:"attestation_id"`
	Version       int      `json:"version,omitempty"`
	Checks        []string `json:"checks,omitempty"`
	Verifier      string   `json:"verifier,omitempty"`
}

func (h *AttestHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req verifyRequest
	if err := httputil.Decode(r, &req); err != nil {
		writeFailure(ctx, h.logger, w, "verify attestation", err)
		return
	}
	id, err := uuid.Parse(req.AttestationID)
	if err != nil {
		writeFailure(ctx, h.logger, w, "verify attestation",
			dErrors.New(dErrors.CodeBadRequest, "invalid attestation_id"))
		return
	}

	checks := make([]attest.CheckKind, 0, len(req.Checks))
	for _, c := range req.Checks {
		checks = append(checks, attest.CheckKind(c))
	}

	result, err := h.service.Verify(ctx, attest.VerifyRequest{
		AttestationID: id,
		Version:       req.Version,
		Checks:        checks,
		Verifier:      actorFrom(ctx, req.Verifier),
		RequestID:     middleware.GetRequestID(ctx),
	})
	if err != nil {
		writeFailure(ctx, h.logger, w, "verify attestation", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

type revokeRequest struct {
	AttestationID string `json:"attestation_id"`
	Reason        string `json:"reason"`
	RevokedBy     string `json:"revoked_by,omitempty"`
	Cascade       bool   `json:"cascade,omitempty"`
}

func (h *AttestHandler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req revokeRequest
	if err := httputil.Decode(r, &req); err != nil {
		writeFailure(ctx, h.logger, w, "revoke attestation", err)
		return
	}
	id, err := uuid.Parse(req.AttestationID)
	if err != nil {
		writeFailure(ctx, h.logger, w, "revoke attestation",
			dErrors.New(dErrors.CodeBadRequest, "invalid attestation_id"))
		return
	}

	result, err := h.service.Revoke(ctx, attest.RevokeRequest{
		AttestationID: id,
		Reason:        attest.RevocationReason(req.Reason),
		RevokedBy:     actorFrom(ctx, req.RevokedBy),
		Cascade:       req.Cascade,
		RequestID:     middleware.GetRequestID(ctx),
	})
	if err != nil {
		writeFailure(ctx, h.logger, w, "revoke attestation", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

type suspendRequest struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor,omitempty"`
}

func (h *AttestHandler) handleSuspend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathUUID(r, "id")
	if err != nil {
		writeFailure(ctx, h.logger, w, "suspend attestation", err)
		return
	}
	var req suspendRequest
	if err := httputil.Decode(r, &req); err != nil {
		writeFailure(ctx, h.logger, w, "suspend attestation", err)
		return
	}

	att, err := h.service.Suspend(ctx, id, actorFrom(ctx, req.Actor), req.Reason)
	if err != nil {
		writeFailure(ctx, h.logger, w, "suspend attestation", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, att)
}

func (h *AttestHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathUUID(r, "id")
	if err != nil {
		writeFailure(ctx, h.logger, w, "get attestation", err)
		return
	}
	att, err := h.service.Get(ctx, id)
	if err != nil {
		writeFailure(ctx, h.logger, w, "get attestation", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, att)
}

func (h *AttestHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathUUID(r, "id")
	if err != nil {
		writeFailure(ctx, h.logger, w, "attestation history", err)
		return
	}
	history, err := h.service.History(ctx, id)
	if err != nil {
		writeFailure(ctx, h.logger, w, "attestation history", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"versions": history})
}

func (h *AttestHandler) handleBySubject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subject := r.URL.Query().Get("subject")
	if subject == "" {
		writeFailure(ctx, h.logger, w, "list attestations",
			dErrors.New(dErrors.CodeInvalidInput, "subject query parameter is required"))
		return
	}
	atts, err := h.service.BySubject(ctx, subject)
	if err != nil {
		writeFailure(ctx, h.logger, w, "list attestations", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"attestations": atts})
}

type generateKeyRequest struct {
	Algorithm         string `json:"algorithm"`
	Owner             string `json:"owner"`
	CulturalAuthority string `json:"cultural_authority,omitempty"`
	Actor             string `json:"actor,omitempty"`
}

func (h *AttestHandler) handleGenerateKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req generateKeyRequest
	if err := httputil.Decode(r, &req); err != nil {
		writeFailure(ctx, h.logger, w, "generate key", err)
		return
	}

	key, err := h.service.GenerateKey(ctx, attest.GenerateKeyRequest{
		Algorithm:         attest.Algorithm(req.Algorithm),
		Owner:             req.Owner,
		CulturalAuthority: req.CulturalAuthority,
		Actor:             actorFrom(ctx, req.Actor),
		RequestID:         middleware.GetRequestID(ctx),
	})
	if err != nil {
		writeFailure(ctx, h.logger, w, "generate key", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, key)
}

type keyActionRequest struct {
	Actor string `json:"actor,omitempty"`
}

func (h *AttestHandler) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req keyActionRequest
	if err := httputil.Decode(r, &req); err != nil {
		writeFailure(ctx, h.logger, w, "rotate key", err)
		return
	}
	key, err := h.service.RotateKey(ctx, chi.URLParam(r, "id"), actorFrom(ctx, req.Actor))
	if err != nil {
		writeFailure(ctx, h.logger, w, "rotate key", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, key)
}

func (h *AttestHandler) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req keyActionRequest
	if err := httputil.Decode(r, &req); err != nil {
		writeFailure(ctx, h.logger, w, "revoke key", err)
		return
	}
	key, err := h.service.RevokeKey(ctx, chi.URLParam(r, "id"), actorFrom(ctx, req.Actor))
	if err != nil {
		writeFailure(ctx, h.logger, w, "revoke key", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, key)
}

func (h *AttestHandler) handleGetKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	key, err := h.service.GetKey(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(ctx, h.logger, w, "get key", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, key)
}

func (h *AttestHandler) handleListKeys(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	keys, err := h.service.ListKeys(ctx, r.URL.Query().Get("owner"))
	if err != nil {
		writeFailure(ctx, h.logger, w, "list keys", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

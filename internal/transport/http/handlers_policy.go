package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/asaskevich/govalidator"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"tutela/internal/platform/middleware"
	"tutela/internal/policy"
	dErrors "tutela/pkg/domain-errors"
	"tutela/pkg/platform/httputil"
)

// PolicyService covers the policy lifecycle, deployment pointers, and
// evaluation.
type PolicyService interface {
	Create(ctx context.Context, req policy.CreateRequest) (policy.Policy, error)
	Update(ctx context.Context, id uuid.UUID, req policy.UpdateRequest) (policy.Policy, error)
	Delete(ctx context.Context, id uuid.UUID, actor string) error
	Get(ctx context.Context, id uuid.UUID) (policy.Policy, error)
	List(ctx context.Context, filter policy.ListFilter) ([]policy.Policy, error)
	Versions(ctx context.Context, id uuid.UUID) ([]policy.VersionRecord, error)
	Deployments(ctx context.Context, id uuid.UUID) ([]policy.Deployment, error)

	Validate(ctx context.Context, id uuid.UUID, actor string) (policy.Policy, error)
	RunTests(ctx context.Context, id uuid.UUID, actor string) (policy.TestReport, error)
	Approve(ctx context.Context, id uuid.UUID, actor string) (policy.Policy, error)
	Deploy(ctx context.Context, id uuid.UUID, environment, actor string) (policy.Deployment, error)
	Rollback(ctx context.Context, id uuid.UUID, targetVersion, actor string) (policy.Policy, error)

	Evaluate(ctx context.Context, req policy.EvaluateRequest) (policy.Decision, error)
	EvaluateBundle(ctx context.Context, req policy.BundleRequest) (policy.BundleDecision, error)
}

type PolicyHandler struct {
	logger  *slog.Logger
	service PolicyService
}

func NewPolicyHandler(service PolicyService, logger *slog.Logger) *PolicyHandler {
	return &PolicyHandler{logger: logger, service: service}
}

func (h *PolicyHandler) Register(r chi.Router) {
	r.Post("/v1/policies", h.handleCreate)
	r.Get("/v1/policies", h.handleList)
	r.Post("/v1/policies/evaluate", h.handleEvaluateBundle)
	r.Get("/v1/policies/{id}", h.handleGet)
	r.Put("/v1/policies/{id}", h.handleUpdate)
	r.Delete("/v1/policies/{id}", h.handleDelete)
	r.Get("/v1/policies/{id}/versions", h.handleVersions)
	r.Get("/v1/policies/{id}/deployments", h.handleDeployments)
	r.Post("/v1/policies/{id}/validate", h.handleValidate)
	r.Post("/v1/policies/{id}/approve", h.handleApprove)
	r.Post("/v1/policies/{id}/tests", h.handleTests)
	r.Post("/v1/policies/{id}/deploy", h.handleDeploy)
	r.Post("/v1/policies/{id}/rollback", h.handleRollback)
	r.Post("/v1/policies/{id}/evaluate", h.handleEvaluate)
}

type createPolicyRequest struct {
	Name        string             `json:"name"`
	Body        string             `json:"body"`
	Syntax      string             `json:"syntax"`
	Enforcement string             `json:"enforcement"`
	Scopes      []string           `json:"scopes,omitempty"`
	DependsOn   []string           `json:"depends_on,omitempty"`
	TestCases   []policy.TestCase  `json:"test_cases,omitempty"`
	Compliance  *policy.Compliance `json:"compliance,omitempty"`
	Actor       string             `json:"actor,omitempty"`
}

func (h *PolicyHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createPolicyRequest
	if err := httputil.Decode(r, &req); err != nil {
		writeFailure(ctx, h.logger, w, "create policy", err)
		return
	}
	if !govalidator.StringLength(req.Name, "1", "200") {
		writeFailure(ctx, h.logger, w, "create policy",
			dErrors.New(dErrors.CodeInvalidInput, "policy name must be 1-200 characters"))
		return
	}
	deps, err := linkIDs(req.DependsOn)
	if err != nil {
		writeFailure(ctx, h.logger, w, "create policy", err)
		return
	}

	create := policy.CreateRequest{
		Name:        req.Name,
		Body:        req.Body,
		Syntax:      policy.Syntax(req.Syntax),
		Enforcement: policy.Enforcement(req.Enforcement),
		Scopes:      req.Scopes,
		DependsOn:   deps,
		TestCases:   req.TestCases,
		Actor:       actorFrom(ctx, req.Actor),
	}
	if req.Compliance != nil {
		create.Compliance = *req.Compliance
	}

	p, err := h.service.Create(ctx, create)
	if err != nil {
		writeFailure(ctx, h.logger, w, "create policy", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, p)
}

type updatePolicyRequest struct {
	Body        string             `json:"body"`
	Syntax      string             `json:"syntax,omitempty"`
	Enforcement string             `json:"enforcement,omitempty"`
	Scopes      []string           `json:"scopes,omitempty"`
	DependsOn   []string           `json:"depends_on,omitempty"`
	TestCases   []policy.TestCase  `json:"test_cases,omitempty"`
	Compliance  *policy.Compliance `json:"compliance,omitempty"`
	Actor       string             `json:"actor,omitempty"`
}

func (h *PolicyHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathUUID(r, "id")
	if err != nil {
		writeFailure(ctx, h.logger, w, "update policy", err)
		return
	}
	var req updatePolicyRequest
	if err := httputil.Decode(r, &req); err != nil {
		writeFailure(ctx, h.logger, w, "update policy", err)
		return
	}
	deps, err := linkIDs(req.DependsOn)
	if err != nil {
		writeFailure(ctx, h.logger, w, "update policy", err)
		return
	}

	p, err := h.service.Update(ctx, id, policy.UpdateRequest{
		Body:        req.Body,
		Syntax:      policy.Syntax(req.Syntax),
		Enforcement: policy.Enforcement(req.Enforcement),
		Scopes:      req.Scopes,
		DependsOn:   deps,
		TestCases:   req.TestCases,
		Compliance:  req.Compliance,
		Actor:       actorFrom(ctx, req.Actor),
	})
	if err != nil {
		writeFailure(ctx, h.logger, w, "update policy", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *PolicyHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathUUID(r, "id")
	if err != nil {
		writeFailure(ctx, h.logger, w, "delete policy", err)
		return
	}
	if err := h.service.Delete(ctx, id, actorFrom(ctx, r.URL.Query().Get("actor"))); err != nil {
		writeFailure(ctx, h.logger, w, "delete policy", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PolicyHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathUUID(r, "id")
	if err != nil {
		writeFailure(ctx, h.logger, w, "get policy", err)
		return
	}
	p, err := h.service.Get(ctx, id)
	if err != nil {
		writeFailure(ctx, h.logger, w, "get policy", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *PolicyHandler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	q := r.URL.Query()
	policies, err := h.service.List(ctx, policy.ListFilter{
		Status:      policy.Status(q.Get("status")),
		Enforcement: policy.Enforcement(q.Get("enforcement")),
		Scope:       q.Get("scope"),
		Framework:   q.Get("framework"),
	})
	if err != nil {
		writeFailure(ctx, h.logger, w, "list policies", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"policies": policies})
}

func (h *PolicyHandler) handleVersions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathUUID(r, "id")
	if err != nil {
		writeFailure(ctx, h.logger, w, "policy versions", err)
		return
	}
	versions, err := h.service.Versions(ctx, id)
	if err != nil {
		writeFailure(ctx, h.logger, w, "policy versions", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (h *PolicyHandler) handleDeployments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathUUID(r, "id")
	if err != nil {
		writeFailure(ctx, h.logger, w, "policy deployments", err)
		return
	}
	deployments, err := h.service.Deployments(ctx, id)
	if err != nil {
		writeFailure(ctx, h.logger, w, "policy deployments", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"deployments": deployments})
}

type policyActionRequest struct {
	Actor string `json:"actor,omitempty"`
}

// lifecycleAction factors the validate/approve transitions, which differ
// only in the service call.
func (h *PolicyHandler) lifecycleAction(w http.ResponseWriter, r *http.Request, op string,
	call func(ctx context.Context, id uuid.UUID, actor string) (policy.Policy, error)) {
	ctx := r.Context()

	id, err := pathUUID(r, "id")
	if err != nil {
		writeFailure(ctx, h.logger, w, op, err)
		return
	}
	var req policyActionRequest
	if err := httputil.Decode(r, &req); err != nil {
		writeFailure(ctx, h.logger, w, op, err)
		return
	}
	p, err := call(ctx, id, actorFrom(ctx, req.Actor))
	if err != nil {
		writeFailure(ctx, h.logger, w, op, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *PolicyHandler) handleValidate(w http.ResponseWriter, r *http.Request) {
	h.lifecycleAction(w, r, "validate policy", h.service.Validate)
}

func (h *PolicyHandler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.lifecycleAction(w, r, "approve policy", h.service.Approve)
}

func (h *PolicyHandler) handleTests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathUUID(r, "id")
	if err != nil {
		writeFailure(ctx, h.logger, w, "run policy tests", err)
		return
	}
	var req policyActionRequest
	if err := httputil.Decode(r, &req); err != nil {
		writeFailure(ctx, h.logger, w, "run policy tests", err)
		return
	}
	report, err := h.service.RunTests(ctx, id, actorFrom(ctx, req.Actor))
	if err != nil {
		writeFailure(ctx, h.logger, w, "run policy tests", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

type deployRequest struct {
	Environment string `json:"environment"`
	Actor       string `json:"actor,omitempty"`
}

func (h *PolicyHandler) handleDeploy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathUUID(r, "id")
	if err != nil {
		writeFailure(ctx, h.logger, w, "deploy policy", err)
		return
	}
	var req deployRequest
	if err := httputil.Decode(r, &req); err != nil {
		writeFailure(ctx, h.logger, w, "deploy policy", err)
		return
	}
	if req.Environment == "" {
		writeFailure(ctx, h.logger, w, "deploy policy",
			dErrors.New(dErrors.CodeInvalidInput, "environment is required"))
		return
	}
	d, err := h.service.Deploy(ctx, id, req.Environment, actorFrom(ctx, req.Actor))
	if err != nil {
		writeFailure(ctx, h.logger, w, "deploy policy", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

type rollbackRequest struct {
	TargetVersion string `json:"target_version"`
	Actor         string `json:"actor,omitempty"`
}

func (h *PolicyHandler) handleRollback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathUUID(r, "id")
	if err != nil {
		writeFailure(ctx, h.logger, w, "rollback policy", err)
		return
	}
	var req rollbackRequest
	if err := httputil.Decode(r, &req); err != nil {
		writeFailure(ctx, h.logger, w, "rollback policy", err)
		return
	}
	if req.TargetVersion == "" {
		writeFailure(ctx, h.logger, w, "rollback policy",
			dErrors.New(dErrors.CodeInvalidInput, "target_version is required"))
		return
	}
	p, err := h.service.Rollback(ctx, id, req.TargetVersion, actorFrom(ctx, req.Actor))
	if err != nil {
		writeFailure(ctx, h.logger, w, "rollback policy", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

type evaluateRequest struct {
	Environment string         `json:"environment,omitempty"`
	Input       map[string]any `json:"input"`
	Actor       string         `json:"actor,omitempty"`
}

func (h *PolicyHandler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathUUID(r, "id")
	if err != nil {
		writeFailure(ctx, h.logger, w, "evaluate policy", err)
		return
	}
	var req evaluateRequest
	if err := httputil.Decode(r, &req); err != nil {
		writeFailure(ctx, h.logger, w, "evaluate policy", err)
		return
	}

	decision, err := h.service.Evaluate(ctx, policy.EvaluateRequest{
		PolicyID:    id,
		Environment: req.Environment,
		Input:       req.Input,
		Actor:       actorFrom(ctx, req.Actor),
		RequestID:   middleware.GetRequestID(ctx),
	})
	if err != nil {
		writeFailure(ctx, h.logger, w, "evaluate policy", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, decision)
}

type evaluateBundleRequest struct {
	PolicyIDs   []string       `json:"policy_ids"`
	Environment string         `json:"environment,omitempty"`
	Input       map[string]any `json:"input"`
	Actor       string         `json:"actor,omitempty"`
}

func (h *PolicyHandler) handleEvaluateBundle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req evaluateBundleRequest
	if err := httputil.Decode(r, &req); err != nil {
		writeFailure(ctx, h.logger, w, "evaluate bundle", err)
		return
	}
	ids, err := linkIDs(req.PolicyIDs)
	if err != nil {
		writeFailure(ctx, h.logger, w, "evaluate bundle", err)
		return
	}

	decision, err := h.service.EvaluateBundle(ctx, policy.BundleRequest{
		PolicyIDs:   ids,
		Environment: req.Environment,
		Input:       req.Input,
		Actor:       actorFrom(ctx, req.Actor),
		RequestID:   middleware.GetRequestID(ctx),
	})
	if err != nil {
		writeFailure(ctx, h.logger, w, "evaluate bundle", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, decision)
}

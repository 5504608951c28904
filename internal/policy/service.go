package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"tutela/internal/audit"
	"tutela/internal/policy/decisionpoint"
	dErrors "tutela/pkg/domain-errors"
	"tutela/pkg/platform/sentinel"
	pstrings "tutela/pkg/platform/strings"
)

const defaultCacheTTL = 5 * time.Minute

// Auditor is the slice of the audit log the policy service records through.
type Auditor interface {
	Append(ctx context.Context, rec audit.Record) (audit.Entry, error)
}

// Service owns the policy lifecycle and evaluation. Builtin bodies execute
// in-process; rego bodies go to the external decision point. Deployment
// swaps a per-environment version pointer, so an evaluation that resolved
// its version keeps it for the whole call.
type Service struct {
	store    Store
	auditor  Auditor
	cache    DecisionCache
	decision decisionpoint.Client
	logger   *slog.Logger
	metrics  *Metrics
	tracer   trace.Tracer
	flight   singleflight.Group

	now      func() time.Time
	cacheTTL time.Duration
	autoTest bool
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithCache enables decision caching. Hits still audit every evaluation.
func WithCache(c DecisionCache) Option {
	return func(s *Service) { s.cache = c }
}

func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithDecisionPoint wires the external evaluator for rego bodies. Without
// it, evaluating a rego policy reports unavailable.
func WithDecisionPoint(client decisionpoint.Client) Option {
	return func(s *Service) { s.decision = client }
}

// WithClock overrides timestamping in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithAutomatedTests controls whether production deploys re-run the
// declared test cases. Enabled by default.
func WithAutomatedTests(enabled bool) Option {
	return func(s *Service) { s.autoTest = enabled }
}

// NewService constructs the policy service. The auditor is mandatory: a
// repository that cannot record lifecycle changes is misconfigured.
func NewService(store Store, auditor Auditor, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("policy service requires a store")
	}
	if auditor == nil {
		return nil, fmt.Errorf("policy service requires an auditor")
	}
	s := &Service{
		store:    store,
		auditor:  auditor,
		tracer:   otel.Tracer("tutela/policy"),
		now:      time.Now,
		cacheTTL: defaultCacheTTL,
		autoTest: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create validates and persists a new draft policy at version 1.0.0.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Policy, error) {
	if err := req.validate(); err != nil {
		return Policy{}, err
	}
	if err := validateBody(req.Syntax, req.Body); err != nil {
		return Policy{}, err
	}
	if err := s.checkDependencies(ctx, req.DependsOn); err != nil {
		return Policy{}, err
	}

	now := s.now().UTC()
	p := Policy{
		ID:          uuid.New(),
		Name:        req.Name,
		Version:     initialVersion,
		Body:        req.Body,
		Syntax:      req.Syntax,
		Enforcement: req.Enforcement,
		Scopes:      pstrings.DedupeAndTrim(req.Scopes),
		DependsOn:   req.DependsOn,
		TestCases:   req.TestCases,
		Compliance:  req.Compliance,
		Status:      StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	initial := VersionRecord{
		PolicyID:  p.ID,
		Version:   initialVersion,
		Body:      req.Body,
		Syntax:    req.Syntax,
		CreatedBy: req.Actor,
		CreatedAt: now,
	}
	if err := s.store.Create(ctx, p, initial); err != nil {
		return Policy{}, err
	}

	s.auditBestEffort(ctx, audit.Record{
		EventType:    audit.EventPolicyCreated,
		Actor:        req.Actor,
		ResourceID:   p.ID.String(),
		ResourceKind: "policy",
		Frameworks:   req.Compliance.Frameworks,
		Detail: map[string]any{
			"name":    p.Name,
			"version": p.Version,
			"syntax":  string(p.Syntax),
		},
	})
	return p, nil
}

// Update replaces head fields, grades the change's impact, bumps the
// version accordingly, and resets the lifecycle to draft.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (Policy, error) {
	if req.Actor == "" {
		return Policy{}, dErrors.New(dErrors.CodeInvalidInput, "actor identity is required")
	}
	head, err := s.store.Get(ctx, id)
	if err != nil {
		return Policy{}, err
	}

	newSyntax := head.Syntax
	if req.Syntax != "" {
		if !req.Syntax.Valid() {
			return Policy{}, dErrors.New(dErrors.CodeInvalidInput,
				fmt.Sprintf("unknown syntax %q", req.Syntax))
		}
		newSyntax = req.Syntax
	}
	newBody := head.Body
	if req.Body != "" {
		newBody = req.Body
	}
	if err := validateBody(newSyntax, newBody); err != nil {
		return Policy{}, err
	}

	impact := diffImpact(head.Syntax, newSyntax, head.Body, newBody)

	updated := head
	updated.Body, updated.Syntax = newBody, newSyntax

	if req.Enforcement != "" && req.Enforcement != head.Enforcement {
		if !req.Enforcement.Valid() {
			return Policy{}, dErrors.New(dErrors.CodeInvalidInput,
				fmt.Sprintf("unknown enforcement level %q", req.Enforcement))
		}
		updated.Enforcement = req.Enforcement
		impact = maxImpact(impact, ImpactHigh)
	}
	if req.Scopes != nil {
		if scopes := pstrings.DedupeAndTrim(req.Scopes); !equalStrings(scopes, head.Scopes) {
			updated.Scopes = scopes
			impact = maxImpact(impact, ImpactMedium)
		}
	}
	if req.DependsOn != nil && !equalUUIDs(req.DependsOn, head.DependsOn) {
		if err := s.checkDependencies(ctx, req.DependsOn); err != nil {
			return Policy{}, err
		}
		updated.DependsOn = req.DependsOn
		impact = maxImpact(impact, ImpactMedium)
	}
	if req.TestCases != nil {
		if err := validateTestCases(req.TestCases); err != nil {
			return Policy{}, err
		}
		updated.TestCases = req.TestCases
	}
	if req.Compliance != nil {
		updated.Compliance = *req.Compliance
	}

	newVersion, err := bumpVersion(head.Version, impact)
	if err != nil {
		return Policy{}, err
	}
	now := s.now().UTC()
	updated.Version = newVersion
	updated.Status = StatusDraft
	updated.UpdatedAt = now

	record := VersionRecord{
		PolicyID:    id,
		Version:     newVersion,
		Body:        newBody,
		Syntax:      newSyntax,
		Impact:      impact,
		Predecessor: head.Version,
		CreatedBy:   req.Actor,
		CreatedAt:   now,
	}
	if err := s.store.AddVersion(ctx, updated, record); err != nil {
		return Policy{}, err
	}

	s.auditBestEffort(ctx, audit.Record{
		EventType:    audit.EventPolicyUpdated,
		Actor:        req.Actor,
		ResourceID:   id.String(),
		ResourceKind: "policy",
		Frameworks:   updated.Compliance.Frameworks,
		Detail: map[string]any{
			"name":             updated.Name,
			"impact":           string(impact),
			"previous_version": head.Version,
			"version":          newVersion,
		},
	})
	return updated, nil
}

// Delete removes a policy with its history and non-production deployments.
// Policies deployed to a production environment or depended on by another
// policy stay.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, actor string) error {
	if actor == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "actor identity is required")
	}
	head, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	for env := range head.Deployments {
		if IsProductionEnvironment(env) {
			return fmt.Errorf("policy %s is deployed to %s: %w", head.Name, env, sentinel.ErrInvalidState)
		}
	}
	all, err := s.store.List(ctx, ListFilter{})
	if err != nil {
		return err
	}
	for _, other := range all {
		for _, dep := range other.DependsOn {
			if dep == id {
				return fmt.Errorf("policy %s depends on %s: %w", other.Name, head.Name, sentinel.ErrInvalidState)
			}
		}
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	s.auditBestEffort(ctx, audit.Record{
		EventType:    audit.EventPolicyDeleted,
		Actor:        actor,
		ResourceID:   id.String(),
		ResourceKind: "policy",
		Frameworks:   head.Compliance.Frameworks,
		Detail: map[string]any{
			"name":    head.Name,
			"version": head.Version,
		},
	})
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (Policy, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) GetByName(ctx context.Context, name string) (Policy, error) {
	return s.store.GetByName(ctx, name)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]Policy, error) {
	return s.store.List(ctx, filter)
}

// Versions returns the append-only history, newest first.
func (s *Service) Versions(ctx context.Context, id uuid.UUID) ([]VersionRecord, error) {
	return s.store.Versions(ctx, id)
}

func (s *Service) GetVersion(ctx context.Context, id uuid.UUID, version string) (VersionRecord, error) {
	return s.store.GetVersion(ctx, id, version)
}

func (s *Service) Deployments(ctx context.Context, id uuid.UUID) ([]Deployment, error) {
	return s.store.ListDeployments(ctx, id)
}

// Validate re-checks a draft's body and dependencies and advances it to
// validated.
func (s *Service) Validate(ctx context.Context, id uuid.UUID, actor string) (Policy, error) {
	if actor == "" {
		return Policy{}, dErrors.New(dErrors.CodeInvalidInput, "actor identity is required")
	}
	head, err := s.store.Get(ctx, id)
	if err != nil {
		return Policy{}, err
	}
	if head.Status != StatusDraft {
		return Policy{}, fmt.Errorf("policy %s is %s, only drafts are validated: %w",
			head.Name, head.Status, sentinel.ErrInvalidState)
	}
	if err := validateBody(head.Syntax, head.Body); err != nil {
		return Policy{}, err
	}
	if err := s.checkDependencies(ctx, head.DependsOn); err != nil {
		return Policy{}, err
	}

	head.Status = StatusValidated
	head.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateHead(ctx, head); err != nil {
		return Policy{}, err
	}

	s.auditBestEffort(ctx, audit.Record{
		EventType:    audit.EventPolicyValidated,
		Actor:        actor,
		ResourceID:   id.String(),
		ResourceKind: "policy",
		Detail:       map[string]any{"name": head.Name, "version": head.Version},
	})
	return head, nil
}

// RunTests evaluates every declared test case against the head version.
// A full pass promotes a validated policy to tested; failures never demote.
func (s *Service) RunTests(ctx context.Context, id uuid.UUID, actor string) (TestReport, error) {
	if actor == "" {
		return TestReport{}, dErrors.New(dErrors.CodeInvalidInput, "actor identity is required")
	}
	head, err := s.store.Get(ctx, id)
	if err != nil {
		return TestReport{}, err
	}
	if !head.Status.AtLeast(StatusValidated) {
		return TestReport{}, fmt.Errorf("policy %s must be validated before testing: %w",
			head.Name, sentinel.ErrInvalidState)
	}

	report := s.runTestCases(ctx, head)

	if report.AllPassed && len(head.TestCases) > 0 && head.Status == StatusValidated {
		head.Status = StatusTested
		head.UpdatedAt = s.now().UTC()
		if err := s.store.UpdateHead(ctx, head); err != nil {
			return TestReport{}, err
		}
	}

	result := "passed"
	if !report.AllPassed {
		result = "failed"
	}
	if s.metrics != nil {
		s.metrics.TestRuns.WithLabelValues(result).Inc()
	}
	s.auditBestEffort(ctx, audit.Record{
		EventType:    audit.EventPolicyTested,
		Actor:        actor,
		ResourceID:   id.String(),
		ResourceKind: "policy",
		Detail: map[string]any{
			"name":    head.Name,
			"version": head.Version,
			"passed":  report.Passed,
			"failed":  report.Failed,
		},
	})
	return report, nil
}

// Approve clears a policy for production deployment. Testing is required
// first unless the policy declares no test cases.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, actor string) (Policy, error) {
	if actor == "" {
		return Policy{}, dErrors.New(dErrors.CodeInvalidInput, "actor identity is required")
	}
	head, err := s.store.Get(ctx, id)
	if err != nil {
		return Policy{}, err
	}
	switch {
	case head.Status == StatusTested:
	case head.Status == StatusValidated && len(head.TestCases) == 0:
	default:
		return Policy{}, fmt.Errorf("policy %s is %s; testing is required before approval: %w",
			head.Name, head.Status, sentinel.ErrInvalidState)
	}

	head.Status = StatusApproved
	head.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateHead(ctx, head); err != nil {
		return Policy{}, err
	}

	s.auditBestEffort(ctx, audit.Record{
		EventType:    audit.EventPolicyApproved,
		Actor:        actor,
		ResourceID:   id.String(),
		ResourceKind: "policy",
		Frameworks:   head.Compliance.Frameworks,
		Detail:       map[string]any{"name": head.Name, "version": head.Version},
	})
	return head, nil
}

// Deploy points an environment at the head version. Production-equivalent
// environments require approval and, when automated testing is enabled, a
// passing test suite.
func (s *Service) Deploy(ctx context.Context, id uuid.UUID, environment, actor string) (Deployment, error) {
	if environment == "" {
		return Deployment{}, dErrors.New(dErrors.CodeInvalidInput, "environment is required")
	}
	if actor == "" {
		return Deployment{}, dErrors.New(dErrors.CodeInvalidInput, "actor identity is required")
	}
	head, err := s.store.Get(ctx, id)
	if err != nil {
		return Deployment{}, err
	}

	production := IsProductionEnvironment(environment)
	if production {
		if !head.Status.AtLeast(StatusApproved) {
			return Deployment{}, fmt.Errorf("policy %s must be approved before deploying to %s: %w",
				head.Name, environment, sentinel.ErrInvalidState)
		}
		if s.autoTest && len(head.TestCases) > 0 {
			report := s.runTestCases(ctx, head)
			if !report.AllPassed {
				return Deployment{}, fmt.Errorf("policy %s has %d failing test cases: %w",
					head.Name, report.Failed, sentinel.ErrInvalidState)
			}
		}
	}

	dep := Deployment{
		PolicyID:    id,
		Environment: environment,
		Version:     head.Version,
		DeployedBy:  actor,
		DeployedAt:  s.now().UTC(),
	}
	if err := s.store.SetDeployment(ctx, dep); err != nil {
		return Deployment{}, err
	}
	if production && head.Status != StatusDeployed {
		head.Status = StatusDeployed
		head.UpdatedAt = s.now().UTC()
		if err := s.store.UpdateHead(ctx, head); err != nil {
			return Deployment{}, err
		}
	}

	if s.metrics != nil {
		s.metrics.Deployments.WithLabelValues(environment).Inc()
	}
	s.auditBestEffort(ctx, audit.Record{
		EventType:    audit.EventPolicyDeployed,
		Actor:        actor,
		ResourceID:   id.String(),
		ResourceKind: "policy",
		Frameworks:   head.Compliance.Frameworks,
		Detail: map[string]any{
			"name":        head.Name,
			"version":     dep.Version,
			"environment": environment,
		},
	})
	return dep, nil
}

// Rollback creates a new version whose content equals a prior one. History
// is never rewritten; the rollback is itself a version with the old head as
// predecessor. The result is approved, so redeploying re-runs the gate.
func (s *Service) Rollback(ctx context.Context, id uuid.UUID, targetVersion, actor string) (Policy, error) {
	if targetVersion == "" {
		return Policy{}, dErrors.New(dErrors.CodeInvalidInput, "target version is required")
	}
	if actor == "" {
		return Policy{}, dErrors.New(dErrors.CodeInvalidInput, "actor identity is required")
	}
	head, err := s.store.Get(ctx, id)
	if err != nil {
		return Policy{}, err
	}
	if targetVersion == head.Version {
		return Policy{}, dErrors.New(dErrors.CodeInvalidInput,
			fmt.Sprintf("version %s is already current", targetVersion))
	}
	target, err := s.store.GetVersion(ctx, id, targetVersion)
	if err != nil {
		return Policy{}, err
	}

	impact := diffImpact(head.Syntax, target.Syntax, head.Body, target.Body)
	newVersion, err := bumpVersion(head.Version, impact)
	if err != nil {
		return Policy{}, err
	}

	now := s.now().UTC()
	previous := head.Version
	head.Body, head.Syntax = target.Body, target.Syntax
	head.Version = newVersion
	head.Status = StatusApproved
	head.UpdatedAt = now

	record := VersionRecord{
		PolicyID:    id,
		Version:     newVersion,
		Body:        target.Body,
		Syntax:      target.Syntax,
		Impact:      impact,
		Predecessor: previous,
		CreatedBy:   actor,
		CreatedAt:   now,
	}
	if err := s.store.AddVersion(ctx, head, record); err != nil {
		return Policy{}, err
	}

	if s.metrics != nil {
		s.metrics.Rollbacks.Inc()
	}
	s.auditBestEffort(ctx, audit.Record{
		EventType:    audit.EventPolicyRolledBack,
		Actor:        actor,
		ResourceID:   id.String(),
		ResourceKind: "policy",
		Frameworks:   head.Compliance.Frameworks,
		Detail: map[string]any{
			"name":             head.Name,
			"restored_version": targetVersion,
			"previous_version": previous,
			"version":          newVersion,
			"impact":           string(impact),
		},
	})
	return head, nil
}

// snapshot pins one version's executable content for the duration of an
// evaluation, so a concurrent deployment cannot switch it mid-flight.
type snapshot struct {
	policy  Policy
	version string
	body    string
	syntax  Syntax
}

// Evaluate runs one policy against input. Decisions are cached by (policy,
// version, canonical input); hits and misses alike append an audit entry,
// and an evaluation that cannot be audited fails.
func (s *Service) Evaluate(ctx context.Context, req EvaluateRequest) (Decision, error) {
	ctx, span := s.tracer.Start(ctx, "policy.evaluate")
	defer span.End()
	start := time.Now()

	if err := req.validate(); err != nil {
		return Decision{}, err
	}
	input := req.Input
	if input == nil {
		input = map[string]any{}
	}

	snap, err := s.resolveSnapshot(ctx, req.PolicyID, req.Environment)
	if err != nil {
		return Decision{}, err
	}
	span.SetAttributes(
		attribute.String("policy", snap.policy.Name),
		attribute.String("version", snap.version),
	)

	key, err := cacheKey(req.PolicyID, snap.version, input)
	if err != nil {
		return Decision{}, dErrors.Wrap(dErrors.CodeInvalidInput, "canonicalize evaluation input", err)
	}

	if s.cache != nil {
		cached, cerr := s.cache.Get(ctx, key)
		if cerr == nil {
			cached.Cached = true
			if s.metrics != nil {
				s.metrics.CacheHits.Inc()
			}
			return s.finishEvaluation(ctx, req, snap, cached, start)
		}
		if !errors.Is(cerr, sentinel.ErrNotFound) && s.logger != nil {
			s.logger.WarnContext(ctx, "decision cache read failed", "error", cerr)
		}
		if s.metrics != nil {
			s.metrics.CacheMisses.Inc()
		}
	}

	v, err, _ := s.flight.Do(key, func() (any, error) {
		d, err := s.execute(ctx, snap, input)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if err := s.cache.Put(ctx, key, d, s.cacheTTL); err != nil && s.logger != nil {
				s.logger.WarnContext(ctx, "decision cache write failed", "error", err)
			}
		}
		return d, nil
	})
	if err != nil {
		return Decision{}, err
	}
	return s.finishEvaluation(ctx, req, snap, v.(Decision), start)
}

// EvaluateBundle evaluates policies in order. The first mandatory deny
// short-circuits; otherwise any deny wins, then any conditional with the
// union of conditions, then allow.
func (s *Service) EvaluateBundle(ctx context.Context, req BundleRequest) (BundleDecision, error) {
	ctx, span := s.tracer.Start(ctx, "policy.evaluate_bundle")
	defer span.End()

	if err := req.validate(); err != nil {
		return BundleDecision{}, err
	}

	bundle := BundleDecision{EvaluatedAt: s.now().UTC()}
	for _, id := range req.PolicyIDs {
		d, err := s.Evaluate(ctx, EvaluateRequest{
			PolicyID:    id,
			Environment: req.Environment,
			Input:       req.Input,
			Actor:       req.Actor,
			RequestID:   req.RequestID,
		})
		if err != nil {
			return BundleDecision{}, err
		}
		bundle.Decisions = append(bundle.Decisions, d)

		if d.Outcome == OutcomeDeny && d.Enforcement == EnforcementMandatory {
			bundle.Outcome = OutcomeDeny
			bundle.ShortCircuited = true
			bundle.DecidedBy = d.PolicyID
			return bundle, nil
		}
	}

	anyDeny, anyConditional := false, false
	for _, d := range bundle.Decisions {
		switch d.Outcome {
		case OutcomeDeny:
			anyDeny = true
		case OutcomeConditional:
			anyConditional = true
		}
	}
	switch {
	case anyDeny:
		bundle.Outcome = OutcomeDeny
	case anyConditional:
		bundle.Outcome = OutcomeConditional
		bundle.Conditions = unionConditions(bundle.Decisions)
	default:
		bundle.Outcome = OutcomeAllow
	}
	return bundle, nil
}

// resolveSnapshot picks the version an evaluation runs under: the head, or
// the version deployed to the named environment.
func (s *Service) resolveSnapshot(ctx context.Context, id uuid.UUID, environment string) (snapshot, error) {
	head, err := s.store.Get(ctx, id)
	if err != nil {
		return snapshot{}, err
	}
	snap := snapshot{policy: head, version: head.Version, body: head.Body, syntax: head.Syntax}
	if environment == "" {
		return snap, nil
	}
	dep, err := s.store.GetDeployment(ctx, id, environment)
	if errors.Is(err, sentinel.ErrNotFound) {
		return snapshot{}, fmt.Errorf("policy %s is not deployed to %s: %w",
			head.Name, environment, sentinel.ErrNotFound)
	}
	if err != nil {
		return snapshot{}, err
	}
	if dep.Version == head.Version {
		return snap, nil
	}
	pinned, err := s.store.GetVersion(ctx, id, dep.Version)
	if err != nil {
		return snapshot{}, err
	}
	snap.version, snap.body, snap.syntax = pinned.Version, pinned.Body, pinned.Syntax
	return snap, nil
}

// execute runs one version's body against input. Builtin bodies evaluate
// in-process; rego bodies query the decision point.
func (s *Service) execute(ctx context.Context, snap snapshot, input map[string]any) (Decision, error) {
	now := s.now().UTC()
	d := Decision{
		PolicyID:    snap.policy.ID,
		PolicyName:  snap.policy.Name,
		Version:     snap.version,
		Enforcement: snap.policy.Enforcement,
		EvaluatedAt: now,
	}

	switch snap.syntax {
	case SyntaxYAML:
		doc, err := parseRuleDocument(snap.body)
		if err != nil {
			return Decision{}, err
		}
		outcome, rule, conditions, explanation := evaluateDocument(doc, input, now)
		d.Outcome, d.Rule, d.Conditions, d.Explanation = outcome, rule, conditions, explanation

	case SyntaxRego:
		if s.decision == nil {
			return Decision{}, dErrors.New(dErrors.CodeUnavailable,
				"no decision point configured for rego policies")
		}
		path, err := regoQueryPath(snap.body)
		if err != nil {
			return Decision{}, err
		}
		res, err := s.decision.Evaluate(ctx, path, input)
		if err != nil {
			return Decision{}, err
		}
		outcome := Outcome(res.Outcome)
		if !outcome.Valid() {
			return Decision{}, dErrors.New(dErrors.CodeInternal,
				fmt.Sprintf("decision point returned unknown outcome %q", res.Outcome))
		}
		d.Outcome = outcome
		d.Rule = res.Rule
		d.Conditions = convertConditions(res.Conditions, now)
		d.Explanation = res.Reasons

	default:
		return Decision{}, dErrors.New(dErrors.CodeInternal,
			fmt.Sprintf("unknown syntax %q", snap.syntax))
	}
	return d, nil
}

// finishEvaluation counts and audits one evaluation. The audit entry is
// mandatory: decision completeness in the log outranks serving the caller.
func (s *Service) finishEvaluation(ctx context.Context, req EvaluateRequest, snap snapshot, d Decision, start time.Time) (Decision, error) {
	if s.metrics != nil {
		s.metrics.Evaluations.WithLabelValues(string(d.Outcome)).Inc()
		s.metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	}

	detail := map[string]any{
		"name":    snap.policy.Name,
		"version": d.Version,
		"outcome": string(d.Outcome),
		"cached":  d.Cached,
	}
	if d.Rule != "" {
		detail["rule"] = d.Rule
	}
	if req.Environment != "" {
		detail["environment"] = req.Environment
	}
	if len(d.Conditions) > 0 {
		kinds := make([]string, len(d.Conditions))
		for i, c := range d.Conditions {
			kinds[i] = c.Kind
		}
		detail["conditions"] = kinds
	}

	_, err := s.auditor.Append(ctx, audit.Record{
		EventType:    audit.EventPolicyEvaluated,
		Actor:        req.Actor,
		ResourceID:   snap.policy.ID.String(),
		ResourceKind: "policy",
		Frameworks:   snap.policy.Compliance.Frameworks,
		RequestID:    req.RequestID,
		Detail:       detail,
	})
	if err != nil {
		return Decision{}, dErrors.Wrap(dErrors.CodeInternal, "record policy evaluation", err)
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "policy evaluated",
			"policy", snap.policy.Name, "version", d.Version,
			"outcome", d.Outcome, "cached", d.Cached)
	}
	return d, nil
}

// runTestCases evaluates each declared case with per-case isolation: one
// case's failure or error never blocks the others.
func (s *Service) runTestCases(ctx context.Context, head Policy) TestReport {
	report := TestReport{
		PolicyID: head.ID,
		Version:  head.Version,
		RanAt:    s.now().UTC(),
	}
	snap := snapshot{policy: head, version: head.Version, body: head.Body, syntax: head.Syntax}

	for _, tc := range head.TestCases {
		input := tc.Input
		if input == nil {
			input = map[string]any{}
		}
		result := TestCaseResult{Name: tc.Name, Expected: tc.Expect}

		d, err := s.execute(ctx, snap, input)
		if err != nil {
			result.Err = err.Error()
		} else {
			result.Actual = d.Outcome
			result.Passed = d.Outcome == tc.Expect
			result.Explanation = d.Explanation
		}
		if result.Passed {
			report.Passed++
		} else {
			report.Failed++
		}
		report.Results = append(report.Results, result)
	}
	report.AllPassed = report.Failed == 0
	return report
}

func (s *Service) checkDependencies(ctx context.Context, deps []uuid.UUID) error {
	for _, dep := range deps {
		if _, err := s.store.Get(ctx, dep); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeInvalidInput,
					fmt.Sprintf("dependency %s does not exist", dep))
			}
			return err
		}
	}
	return nil
}

func (s *Service) auditBestEffort(ctx context.Context, rec audit.Record) {
	if _, err := s.auditor.Append(ctx, rec); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "policy audit failed",
			"event", string(rec.EventType), "error", err)
	}
}

// unionConditions merges conditions from conditional decisions by kind,
// keeping the stricter obligation: no expiry beats any expiry, an earlier
// expiry beats a later one.
func unionConditions(decisions []Decision) []Condition {
	byKind := make(map[string]Condition)
	var order []string
	for _, d := range decisions {
		if d.Outcome != OutcomeConditional {
			continue
		}
		for _, c := range d.Conditions {
			existing, seen := byKind[c.Kind]
			if !seen {
				byKind[c.Kind] = c
				order = append(order, c.Kind)
				continue
			}
			if existing.ExpiresAt == nil {
				continue
			}
			if c.ExpiresAt == nil || c.ExpiresAt.Before(*existing.ExpiresAt) {
				byKind[c.Kind] = c
			}
		}
	}
	out := make([]Condition, 0, len(order))
	for _, kind := range order {
		out = append(out, byKind[kind])
	}
	return out
}

func convertConditions(conditions []decisionpoint.Condition, now time.Time) []Condition {
	if len(conditions) == 0 {
		return nil
	}
	out := make([]Condition, 0, len(conditions))
	for _, c := range conditions {
		cond := Condition{Kind: c.Kind}
		if c.TTL != "" {
			if ttl, err := time.ParseDuration(c.TTL); err == nil {
				expires := now.Add(ttl)
				cond.ExpiresAt = &expires
			}
		}
		out = append(out, cond)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalUUIDs(a, b []uuid.UUID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

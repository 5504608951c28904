package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"tutela/internal/audit"
	"tutela/internal/policy/decisionpoint"
	dpmocks "tutela/internal/policy/decisionpoint/mocks"
	dErrors "tutela/pkg/domain-errors"
	"tutela/pkg/platform/sentinel"
)

const exportGateBody = `
rules:
  - name: block-offshore
    when:
      - field: country
        op: not_in
        value: [AU]
    effect: deny
    reason: data stays onshore
default: allow
`

const exportDenyDefaultBody = `
rules:
  - name: block-offshore
    when:
      - field: country
        op: not_in
        value: [AU]
    effect: deny
    reason: data stays onshore
default: deny
`

const reviewLargeBody = `
rules:
  - name: review-large
    when:
      - field: amount
        op: gt
        value: 10000
    effect: conditional
    conditions:
      - kind: approval_required
        ttl: 72h
default: allow
`

func newPolicyService(t *testing.T, opts ...Option) (*Service, *MemoryStore, *audit.Service) {
	t.Helper()
	store := NewMemoryStore()
	auditSvc := audit.NewService(audit.NewMemoryStore())
	svc, err := NewService(store, auditSvc, opts...)
	require.NoError(t, err)
	return svc, store, auditSvc
}

func exportGateRequest(name string) CreateRequest {
	return CreateRequest{
		Name:        name,
		Body:        exportGateBody,
		Syntax:      SyntaxYAML,
		Enforcement: EnforcementMandatory,
		Scopes:      []string{"governance:export"},
		Compliance:  Compliance{Frameworks: []string{"APP"}, Owner: "data-governance"},
		TestCases: []TestCase{
			{Name: "domestic allowed", Input: map[string]any{"country": "AU"}, Expect: OutcomeAllow},
			{Name: "offshore denied", Input: map[string]any{"country": "US"}, Expect: OutcomeDeny},
		},
		Actor: "compliance.officer",
	}
}

func countPolicyEvents(t *testing.T, auditSvc *audit.Service, types ...audit.EventType) int {
	t.Helper()
	entries, err := auditSvc.Query(context.Background(), audit.QueryCriteria{EventTypes: types})
	require.NoError(t, err)
	return len(entries)
}

// approvePolicy walks a policy through validate, test and approve.
func approvePolicy(t *testing.T, svc *Service, id uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	_, err := svc.Validate(ctx, id, "compliance.officer")
	require.NoError(t, err)
	report, err := svc.RunTests(ctx, id, "compliance.officer")
	require.NoError(t, err)
	require.True(t, report.AllPassed)
	_, err = svc.Approve(ctx, id, "compliance.officer")
	require.NoError(t, err)
}

func advancingClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

func TestCreatePolicy(t *testing.T) {
	svc, _, auditSvc := newPolicyService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, exportGateRequest("export-gate"))
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, p.ID)
	assert.Equal(t, "1.0.0", p.Version)
	assert.Equal(t, StatusDraft, p.Status)
	assert.Equal(t, EnforcementMandatory, p.Enforcement)

	versions, err := svc.Versions(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, "1.0.0", versions[0].Version)
	assert.Empty(t, versions[0].Predecessor)
	assert.Equal(t, "compliance.officer", versions[0].CreatedBy)

	assert.Equal(t, 1, countPolicyEvents(t, auditSvc, audit.EventPolicyCreated))
}

func TestCreateRejections(t *testing.T) {
	svc, _, _ := newPolicyService(t)
	ctx := context.Background()

	req := exportGateRequest("")
	_, err := svc.Create(ctx, req)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput), "missing name")

	req = exportGateRequest("no-actor")
	req.Actor = ""
	_, err = svc.Create(ctx, req)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput), "missing actor")

	req = exportGateRequest("bad-body")
	req.Body = "default: allow"
	_, err = svc.Create(ctx, req)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput), "body with no rules")

	req = exportGateRequest("ghost-dependency")
	req.DependsOn = []uuid.UUID{uuid.New()}
	_, err = svc.Create(ctx, req)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	assert.Contains(t, err.Error(), "does not exist")
}

func TestCreateDuplicateNameConflicts(t *testing.T) {
	svc, _, _ := newPolicyService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, exportGateRequest("export-gate"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, exportGateRequest("export-gate"))
	assert.True(t, errors.Is(err, sentinel.ErrConflict))
}

func TestUpdateBumpsVersionByImpact(t *testing.T) {
	svc, _, auditSvc := newPolicyService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, exportGateRequest("export-gate"))
	require.NoError(t, err)

	// Default flip: critical, major bump, lifecycle back to draft.
	updated, err := svc.Update(ctx, p.ID, UpdateRequest{Body: exportDenyDefaultBody, Actor: "compliance.officer"})
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", updated.Version)
	assert.Equal(t, StatusDraft, updated.Status)

	versions, err := svc.Versions(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "1.0.0", versions[len(versions)-1].Version)

	var latest VersionRecord
	for _, v := range versions {
		if v.Version == "2.0.0" {
			latest = v
		}
	}
	assert.Equal(t, ImpactCritical, latest.Impact)
	assert.Equal(t, "1.0.0", latest.Predecessor)

	assert.Equal(t, 1, countPolicyEvents(t, auditSvc, audit.EventPolicyUpdated))
}

func TestUpdateEnforcementChangeBumpsMinor(t *testing.T) {
	svc, _, _ := newPolicyService(t)
	ctx := context.Background()

	req := exportGateRequest("export-gate")
	req.Enforcement = EnforcementAdvisory
	p, err := svc.Create(ctx, req)
	require.NoError(t, err)

	updated, err := svc.Update(ctx, p.ID, UpdateRequest{
		Enforcement: EnforcementMandatory,
		Actor:       "compliance.officer",
	})
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", updated.Version, "enforcement flip is a high-impact change")
	assert.Equal(t, EnforcementMandatory, updated.Enforcement)
}

func TestUpdateValidatedPolicyResetsToDraft(t *testing.T) {
	svc, _, _ := newPolicyService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, exportGateRequest("export-gate"))
	require.NoError(t, err)
	approvePolicy(t, svc, p.ID)

	updated, err := svc.Update(ctx, p.ID, UpdateRequest{
		Scopes: []string{"governance:export", "governance:archive"},
		Actor:  "compliance.officer",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, updated.Status)
	assert.Equal(t, "1.1.0", updated.Version, "scope change is medium impact")
}

func TestLifecycleGates(t *testing.T) {
	svc, _, _ := newPolicyService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, exportGateRequest("export-gate"))
	require.NoError(t, err)

	_, err = svc.Approve(ctx, p.ID, "compliance.officer")
	assert.True(t, errors.Is(err, sentinel.ErrInvalidState), "draft cannot be approved")

	_, err = svc.RunTests(ctx, p.ID, "compliance.officer")
	assert.True(t, errors.Is(err, sentinel.ErrInvalidState), "draft cannot be tested")

	_, err = svc.Validate(ctx, p.ID, "compliance.officer")
	require.NoError(t, err)

	_, err = svc.Validate(ctx, p.ID, "compliance.officer")
	assert.True(t, errors.Is(err, sentinel.ErrInvalidState), "only drafts are validated")
}

func TestLifecyclePromotion(t *testing.T) {
	svc, _, auditSvc := newPolicyService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, exportGateRequest("export-gate"))
	require.NoError(t, err)

	validated, err := svc.Validate(ctx, p.ID, "compliance.officer")
	require.NoError(t, err)
	assert.Equal(t, StatusValidated, validated.Status)

	report, err := svc.RunTests(ctx, p.ID, "compliance.officer")
	require.NoError(t, err)
	assert.True(t, report.AllPassed)
	assert.Equal(t, 2, report.Passed)

	tested, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusTested, tested.Status)

	approved, err := svc.Approve(ctx, p.ID, "governance.lead")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status)

	dep, err := svc.Deploy(ctx, p.ID, "production", "release.bot")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", dep.Version)

	deployed, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDeployed, deployed.Status)
	assert.Equal(t, "1.0.0", deployed.Deployments["production"])

	assert.Equal(t, 1, countPolicyEvents(t, auditSvc, audit.EventPolicyValidated))
	assert.Equal(t, 1, countPolicyEvents(t, auditSvc, audit.EventPolicyTested))
	assert.Equal(t, 1, countPolicyEvents(t, auditSvc, audit.EventPolicyApproved))
	assert.Equal(t, 1, countPolicyEvents(t, auditSvc, audit.EventPolicyDeployed))
}

func TestApproveWithoutTestCases(t *testing.T) {
	svc, _, _ := newPolicyService(t)
	ctx := context.Background()

	req := exportGateRequest("export-gate")
	req.TestCases = nil
	p, err := svc.Create(ctx, req)
	require.NoError(t, err)

	_, err = svc.Validate(ctx, p.ID, "compliance.officer")
	require.NoError(t, err)
	approved, err := svc.Approve(ctx, p.ID, "governance.lead")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status)
}

func TestRunTestsFailureDoesNotPromote(t *testing.T) {
	svc, _, _ := newPolicyService(t)
	ctx := context.Background()

	req := exportGateRequest("export-gate")
	req.TestCases = append(req.TestCases, TestCase{
		Name:   "wrong expectation",
		Input:  map[string]any{"country": "AU"},
		Expect: OutcomeDeny,
	})
	p, err := svc.Create(ctx, req)
	require.NoError(t, err)

	_, err = svc.Validate(ctx, p.ID, "compliance.officer")
	require.NoError(t, err)

	report, err := svc.RunTests(ctx, p.ID, "compliance.officer")
	require.NoError(t, err)
	assert.False(t, report.AllPassed)
	assert.Equal(t, 2, report.Passed)
	assert.Equal(t, 1, report.Failed)

	failed := report.Results[len(report.Results)-1]
	assert.Equal(t, "wrong expectation", failed.Name)
	assert.Equal(t, OutcomeDeny, failed.Expected)
	assert.Equal(t, OutcomeAllow, failed.Actual)

	head, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusValidated, head.Status, "a failing run never promotes")
}

func TestDeployProductionRequiresApproval(t *testing.T) {
	svc, _, _ := newPolicyService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, exportGateRequest("export-gate"))
	require.NoError(t, err)

	for _, env := range []string{"production", "prod", "staging"} {
		_, err := svc.Deploy(ctx, p.ID, env, "release.bot")
		assert.True(t, errors.Is(err, sentinel.ErrInvalidState), env)
	}

	// Non-production environments take drafts.
	dep, err := svc.Deploy(ctx, p.ID, "dev", "release.bot")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", dep.Version)

	head, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, head.Status, "non-production deploys leave the lifecycle alone")
}

func TestDeployProductionRerunsTests(t *testing.T) {
	svc, store, _ := newPolicyService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, exportGateRequest("export-gate"))
	require.NoError(t, err)
	approvePolicy(t, svc, p.ID)

	// Simulate drift: an approved head whose declared cases no longer pass.
	head, err := store.Get(ctx, p.ID)
	require.NoError(t, err)
	head.TestCases = append(head.TestCases, TestCase{
		Name:   "drifted expectation",
		Input:  map[string]any{"country": "AU"},
		Expect: OutcomeDeny,
	})
	require.NoError(t, store.UpdateHead(ctx, head))

	_, err = svc.Deploy(ctx, p.ID, "production", "release.bot")
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel.ErrInvalidState))
	assert.Contains(t, err.Error(), "failing test cases")
}

func TestDeployAutomatedTestsDisabled(t *testing.T) {
	svc, store, _ := newPolicyService(t, WithAutomatedTests(false))
	ctx := context.Background()

	p, err := svc.Create(ctx, exportGateRequest("export-gate"))
	require.NoError(t, err)
	approvePolicy(t, svc, p.ID)

	head, err := store.Get(ctx, p.ID)
	require.NoError(t, err)
	head.TestCases = append(head.TestCases, TestCase{
		Name:   "drifted expectation",
		Input:  map[string]any{"country": "AU"},
		Expect: OutcomeDeny,
	})
	require.NoError(t, store.UpdateHead(ctx, head))

	_, err = svc.Deploy(ctx, p.ID, "production", "release.bot")
	assert.NoError(t, err)
}

func TestRollback(t *testing.T) {
	svc, _, auditSvc := newPolicyService(t,
		WithClock(advancingClock(time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC))))
	ctx := context.Background()

	p, err := svc.Create(ctx, exportGateRequest("export-gate"))
	require.NoError(t, err)
	_, err = svc.Update(ctx, p.ID, UpdateRequest{Body: exportDenyDefaultBody, Actor: "compliance.officer"})
	require.NoError(t, err)

	restored, err := svc.Rollback(ctx, p.ID, "1.0.0", "incident.commander")
	require.NoError(t, err)

	assert.Equal(t, "3.0.0", restored.Version, "rollback is a new version, not a rewind")
	assert.Equal(t, exportGateBody, restored.Body)
	assert.Equal(t, StatusApproved, restored.Status)

	versions, err := svc.Versions(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, "3.0.0", versions[0].Version)
	assert.Equal(t, "2.0.0", versions[0].Predecessor)

	entries, err := auditSvc.Query(ctx, audit.QueryCriteria{
		EventTypes: []audit.EventType{audit.EventPolicyRolledBack},
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "1.0.0", entries[0].Detail["restored_version"])
	assert.Equal(t, "2.0.0", entries[0].Detail["previous_version"])
}

func TestRollbackRejections(t *testing.T) {
	svc, _, _ := newPolicyService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, exportGateRequest("export-gate"))
	require.NoError(t, err)

	_, err = svc.Rollback(ctx, p.ID, "1.0.0", "incident.commander")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput), "already current")

	_, err = svc.Rollback(ctx, p.ID, "0.9.0", "incident.commander")
	assert.True(t, errors.Is(err, sentinel.ErrNotFound), "unknown version")
}

func TestDeleteRefusals(t *testing.T) {
	svc, _, _ := newPolicyService(t)
	ctx := context.Background()

	base, err := svc.Create(ctx, exportGateRequest("export-gate"))
	require.NoError(t, err)

	dependent := exportGateRequest("export-gate-strict")
	dependent.DependsOn = []uuid.UUID{base.ID}
	child, err := svc.Create(ctx, dependent)
	require.NoError(t, err)

	err = svc.Delete(ctx, base.ID, "compliance.officer")
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel.ErrInvalidState))
	assert.Contains(t, err.Error(), "depends on")

	approvePolicy(t, svc, child.ID)
	_, err = svc.Deploy(ctx, child.ID, "production", "release.bot")
	require.NoError(t, err)

	err = svc.Delete(ctx, child.ID, "compliance.officer")
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel.ErrInvalidState))
	assert.Contains(t, err.Error(), "deployed to")
}

func TestDeleteRemovesPolicy(t *testing.T) {
	svc, _, auditSvc := newPolicyService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, exportGateRequest("export-gate"))
	require.NoError(t, err)
	_, err = svc.Deploy(ctx, p.ID, "dev", "release.bot")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, p.ID, "compliance.officer"))

	_, err = svc.Get(ctx, p.ID)
	assert.True(t, errors.Is(err, sentinel.ErrNotFound))
	assert.Equal(t, 1, countPolicyEvents(t, auditSvc, audit.EventPolicyDeleted))
}

func TestEvaluate(t *testing.T) {
	svc, _, auditSvc := newPolicyService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, exportGateRequest("export-gate"))
	require.NoError(t, err)

	d, err := svc.Evaluate(ctx, EvaluateRequest{
		PolicyID: p.ID,
		Input:    map[string]any{"country": "US"},
		Actor:    "svc.export",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeny, d.Outcome)
	assert.Equal(t, "block-offshore", d.Rule)
	assert.Equal(t, "export-gate", d.PolicyName)
	assert.Equal(t, "1.0.0", d.Version)
	assert.Equal(t, EnforcementMandatory, d.Enforcement)
	assert.False(t, d.Cached)
	assert.NotEmpty(t, d.Explanation)

	d, err = svc.Evaluate(ctx, EvaluateRequest{
		PolicyID: p.ID,
		Input:    map[string]any{"country": "AU"},
		Actor:    "svc.export",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAllow, d.Outcome)
	assert.Empty(t, d.Rule, "default outcomes name no rule")

	entries, err := auditSvc.Query(ctx, audit.QueryCriteria{
		EventTypes: []audit.EventType{audit.EventPolicyEvaluated},
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "deny", entries[0].Detail["outcome"])
	assert.Equal(t, "svc.export", entries[0].Actor)
}

func TestEvaluateConditionalOutcome(t *testing.T) {
	fixed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc, _, _ := newPolicyService(t, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	req := exportGateRequest("review-large")
	req.Body = reviewLargeBody
	req.TestCases = nil
	p, err := svc.Create(ctx, req)
	require.NoError(t, err)

	d, err := svc.Evaluate(ctx, EvaluateRequest{
		PolicyID: p.ID,
		Input:    map[string]any{"amount": 50000},
		Actor:    "svc.export",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConditional, d.Outcome)
	require.Len(t, d.Conditions, 1)
	assert.Equal(t, "approval_required", d.Conditions[0].Kind)
	require.NotNil(t, d.Conditions[0].ExpiresAt)
	assert.Equal(t, fixed.Add(72*time.Hour), *d.Conditions[0].ExpiresAt)
}

func TestEvaluateNilInput(t *testing.T) {
	svc, _, _ := newPolicyService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, exportGateRequest("export-gate"))
	require.NoError(t, err)

	d, err := svc.Evaluate(ctx, EvaluateRequest{PolicyID: p.ID, Actor: "svc.export"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAllow, d.Outcome, "absent country falls to the default")
}

func TestEvaluateCacheHitStillAudited(t *testing.T) {
	svc, _, auditSvc := newPolicyService(t, WithCache(NewMemoryCache(16)))
	ctx := context.Background()

	p, err := svc.Create(ctx, exportGateRequest("export-gate"))
	require.NoError(t, err)

	req := EvaluateRequest{
		PolicyID: p.ID,
		Input:    map[string]any{"country": "US"},
		Actor:    "svc.export",
	}
	first, err := svc.Evaluate(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := svc.Evaluate(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Outcome, second.Outcome)

	assert.Equal(t, 2, countPolicyEvents(t, auditSvc, audit.EventPolicyEvaluated),
		"cache hits are still audited")
}

func TestEvaluateCacheKeyedByVersion(t *testing.T) {
	svc, _, _ := newPolicyService(t, WithCache(NewMemoryCache(16)))
	ctx := context.Background()

	p, err := svc.Create(ctx, exportGateRequest("export-gate"))
	require.NoError(t, err)

	req := EvaluateRequest{
		PolicyID: p.ID,
		Input:    map[string]any{"country": "AU", "export_approved": true},
		Actor:    "svc.export",
	}
	first, err := svc.Evaluate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAllow, first.Outcome)

	_, err = svc.Update(ctx, p.ID, UpdateRequest{Body: exportDenyDefaultBody, Actor: "compliance.officer"})
	require.NoError(t, err)

	// Same input, new version: the old cached allow must not resurface.
	second, err := svc.Evaluate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", second.Version)
	assert.False(t, second.Cached)
}

func TestEvaluateEnvironmentPinsDeployedVersion(t *testing.T) {
	svc, _, _ := newPolicyService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, exportGateRequest("export-gate"))
	require.NoError(t, err)
	_, err = svc.Deploy(ctx, p.ID, "dev", "release.bot")
	require.NoError(t, err)
	_, err = svc.Update(ctx, p.ID, UpdateRequest{Body: exportDenyDefaultBody, Actor: "compliance.officer"})
	require.NoError(t, err)

	input := map[string]any{"export_approved": true}

	head, err := svc.Evaluate(ctx, EvaluateRequest{PolicyID: p.ID, Input: input, Actor: "svc.export"})
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", head.Version)
	assert.Equal(t, OutcomeDeny, head.Outcome, "head default is now deny")

	pinned, err := svc.Evaluate(ctx, EvaluateRequest{
		PolicyID:    p.ID,
		Environment: "dev",
		Input:       input,
		Actor:       "svc.export",
	})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", pinned.Version, "dev still runs the deployed version")
	assert.Equal(t, OutcomeAllow, pinned.Outcome)
}

func TestEvaluateUndeployedEnvironment(t *testing.T) {
	svc, _, _ := newPolicyService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, exportGateRequest("export-gate"))
	require.NoError(t, err)

	_, err = svc.Evaluate(ctx, EvaluateRequest{
		PolicyID:    p.ID,
		Environment: "qa",
		Actor:       "svc.export",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel.ErrNotFound))
	assert.Contains(t, err.Error(), "not deployed")
}

func TestEvaluateUnknownPolicy(t *testing.T) {
	svc, _, _ := newPolicyService(t)

	_, err := svc.Evaluate(context.Background(), EvaluateRequest{
		PolicyID: uuid.New(),
		Actor:    "svc.export",
	})
	assert.True(t, errors.Is(err, sentinel.ErrNotFound))
}

type fakeDecisionPoint struct {
	evaluate func(ctx context.Context, path string, input map[string]any) (decisionpoint.Result, error)
}

func (f *fakeDecisionPoint) Evaluate(ctx context.Context, path string, input map[string]any) (decisionpoint.Result, error) {
	return f.evaluate(ctx, path, input)
}

func regoRequest(name string) CreateRequest {
	req := exportGateRequest(name)
	req.Syntax = SyntaxRego
	req.Body = "package governance.export\n\ndefault allow := false\n\nallow if {\n\tinput.country == \"AU\"\n}\n"
	req.TestCases = nil
	return req
}

func TestEvaluateRegoWithoutDecisionPoint(t *testing.T) {
	svc, _, _ := newPolicyService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, regoRequest("rego-export"))
	require.NoError(t, err)

	_, err = svc.Evaluate(ctx, EvaluateRequest{PolicyID: p.ID, Actor: "svc.export"})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func TestEvaluateRegoViaDecisionPoint(t *testing.T) {
	fixed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ctrl := gomock.NewController(t)
	pdp := dpmocks.NewMockClient(ctrl)

	// The query path comes from the body's package declaration.
	pdp.EXPECT().
		Evaluate(gomock.Any(), "governance/export", map[string]any{"country": "SG"}).
		Return(decisionpoint.Result{
			Outcome:    "conditional",
			Rule:       "needs_review",
			Conditions: []decisionpoint.Condition{{Kind: "approval_required", TTL: "1h"}},
			Reasons:    []string{"offshore transfer flagged"},
		}, nil)

	svc, _, auditSvc := newPolicyService(t,
		WithDecisionPoint(pdp),
		WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	p, err := svc.Create(ctx, regoRequest("rego-export"))
	require.NoError(t, err)

	d, err := svc.Evaluate(ctx, EvaluateRequest{
		PolicyID: p.ID,
		Input:    map[string]any{"country": "SG"},
		Actor:    "svc.export",
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeConditional, d.Outcome)
	assert.Equal(t, "needs_review", d.Rule)
	require.Len(t, d.Conditions, 1)
	require.NotNil(t, d.Conditions[0].ExpiresAt)
	assert.Equal(t, fixed.Add(time.Hour), *d.Conditions[0].ExpiresAt)
	assert.Equal(t, []string{"offshore transfer flagged"}, d.Explanation)

	assert.Equal(t, 1, countPolicyEvents(t, auditSvc, audit.EventPolicyEvaluated))
}

func TestEvaluateRegoUnknownOutcome(t *testing.T) {
	fake := &fakeDecisionPoint{
		evaluate: func(context.Context, string, map[string]any) (decisionpoint.Result, error) {
			return decisionpoint.Result{Outcome: "maybe"}, nil
		},
	}
	svc, _, _ := newPolicyService(t, WithDecisionPoint(fake))
	ctx := context.Background()

	p, err := svc.Create(ctx, regoRequest("rego-export"))
	require.NoError(t, err)

	_, err = svc.Evaluate(ctx, EvaluateRequest{PolicyID: p.ID, Actor: "svc.export"})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
}

func TestEvaluateDecisionPointOutageIsAnError(t *testing.T) {
	fake := &fakeDecisionPoint{
		evaluate: func(context.Context, string, map[string]any) (decisionpoint.Result, error) {
			return decisionpoint.Result{}, dErrors.New(dErrors.CodeUnavailable, "decision point unreachable")
		},
	}
	svc, _, auditSvc := newPolicyService(t, WithDecisionPoint(fake))
	ctx := context.Background()

	p, err := svc.Create(ctx, regoRequest("rego-export"))
	require.NoError(t, err)

	_, err = svc.Evaluate(ctx, EvaluateRequest{PolicyID: p.ID, Actor: "svc.export"})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable),
		"an outage surfaces as an error, never as an outcome")
	assert.Equal(t, 0, countPolicyEvents(t, auditSvc, audit.EventPolicyEvaluated))
}

type failingPolicyAuditor struct{}

func (failingPolicyAuditor) Append(context.Context, audit.Record) (audit.Entry, error) {
	return audit.Entry{}, errors.New("audit store down")
}

func TestEvaluateAuditFailureAborts(t *testing.T) {
	store := NewMemoryStore()
	svc, err := NewService(store, failingPolicyAuditor{})
	require.NoError(t, err)
	ctx := context.Background()

	// Lifecycle mutations audit best effort and still go through.
	p, err := svc.Create(ctx, exportGateRequest("export-gate"))
	require.NoError(t, err)

	_, err = svc.Evaluate(ctx, EvaluateRequest{
		PolicyID: p.ID,
		Input:    map[string]any{"country": "AU"},
		Actor:    "svc.export",
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal),
		"an evaluation that cannot be recorded must not serve a decision")
}

func TestEvaluateBundleMandatoryDenyShortCircuits(t *testing.T) {
	svc, _, auditSvc := newPolicyService(t)
	ctx := context.Background()

	blocker, err := svc.Create(ctx, exportGateRequest("export-gate"))
	require.NoError(t, err)
	reviewReq := exportGateRequest("review-large")
	reviewReq.Body = reviewLargeBody
	reviewReq.TestCases = nil
	review, err := svc.Create(ctx, reviewReq)
	require.NoError(t, err)

	bundle, err := svc.EvaluateBundle(ctx, BundleRequest{
		PolicyIDs: []uuid.UUID{blocker.ID, review.ID},
		Input:     map[string]any{"country": "US", "amount": 50000},
		Actor:     "svc.export",
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeDeny, bundle.Outcome)
	assert.True(t, bundle.ShortCircuited)
	assert.Equal(t, blocker.ID, bundle.DecidedBy)
	require.Len(t, bundle.Decisions, 1, "evaluation stops at the mandatory deny")

	assert.Equal(t, 1, countPolicyEvents(t, auditSvc, audit.EventPolicyEvaluated),
		"short-circuited policies are never evaluated or audited")
}

func TestEvaluateBundleOrderMatters(t *testing.T) {
	svc, _, _ := newPolicyService(t)
	ctx := context.Background()

	blocker, err := svc.Create(ctx, exportGateRequest("export-gate"))
	require.NoError(t, err)
	reviewReq := exportGateRequest("review-large")
	reviewReq.Body = reviewLargeBody
	reviewReq.TestCases = nil
	review, err := svc.Create(ctx, reviewReq)
	require.NoError(t, err)

	bundle, err := svc.EvaluateBundle(ctx, BundleRequest{
		PolicyIDs: []uuid.UUID{review.ID, blocker.ID},
		Input:     map[string]any{"country": "US", "amount": 50000},
		Actor:     "svc.export",
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeDeny, bundle.Outcome)
	assert.True(t, bundle.ShortCircuited)
	require.Len(t, bundle.Decisions, 2, "the review policy ran before the deny")
}

func TestEvaluateBundleAdvisoryDenyDoesNotShortCircuit(t *testing.T) {
	svc, _, _ := newPolicyService(t)
	ctx := context.Background()

	advisoryReq := exportGateRequest("export-gate")
	advisoryReq.Enforcement = EnforcementAdvisory
	advisory, err := svc.Create(ctx, advisoryReq)
	require.NoError(t, err)
	reviewReq := exportGateRequest("review-large")
	reviewReq.Body = reviewLargeBody
	reviewReq.TestCases = nil
	review, err := svc.Create(ctx, reviewReq)
	require.NoError(t, err)

	bundle, err := svc.EvaluateBundle(ctx, BundleRequest{
		PolicyIDs: []uuid.UUID{advisory.ID, review.ID},
		Input:     map[string]any{"country": "US", "amount": 100},
		Actor:     "svc.export",
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeDeny, bundle.Outcome, "any deny still wins the aggregate")
	assert.False(t, bundle.ShortCircuited)
	assert.Equal(t, uuid.Nil, bundle.DecidedBy)
	require.Len(t, bundle.Decisions, 2)
}

func TestEvaluateBundleConditionalUnion(t *testing.T) {
	svc, _, _ := newPolicyService(t)
	ctx := context.Background()

	shortReview := exportGateRequest("short-review")
	shortReview.TestCases = nil
	shortReview.Body = `
rules:
  - name: review
    when:
      - field: amount
        op: gt
        value: 100
    effect: conditional
    conditions:
      - kind: approval_required
        ttl: 24h
default: allow
`
	a, err := svc.Create(ctx, shortReview)
	require.NoError(t, err)

	longReview := exportGateRequest("long-review")
	longReview.TestCases = nil
	longReview.Body = `
rules:
  - name: review
    when:
      - field: amount
        op: gt
        value: 100
    effect: conditional
    conditions:
      - kind: approval_required
        ttl: 72h
      - kind: masking_required
default: allow
`
	b, err := svc.Create(ctx, longReview)
	require.NoError(t, err)

	bundle, err := svc.EvaluateBundle(ctx, BundleRequest{
		PolicyIDs: []uuid.UUID{a.ID, b.ID},
		Input:     map[string]any{"amount": 500},
		Actor:     "svc.export",
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeConditional, bundle.Outcome)
	require.Len(t, bundle.Conditions, 2)

	byKind := make(map[string]Condition, len(bundle.Conditions))
	for _, c := range bundle.Conditions {
		byKind[c.Kind] = c
	}
	approval := byKind["approval_required"]
	require.NotNil(t, approval.ExpiresAt)
	masking := byKind["masking_required"]
	assert.Nil(t, masking.ExpiresAt, "an open-ended obligation stays open-ended")

	// The 24h expiry is stricter than the 72h one and must win the merge.
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), *approval.ExpiresAt, time.Minute)
}

func TestEvaluateBundlePropagatesFailures(t *testing.T) {
	svc, _, _ := newPolicyService(t)
	ctx := context.Background()

	yamlPolicy, err := svc.Create(ctx, exportGateRequest("export-gate"))
	require.NoError(t, err)
	regoPolicy, err := svc.Create(ctx, regoRequest("rego-export"))
	require.NoError(t, err)

	_, err = svc.EvaluateBundle(ctx, BundleRequest{
		PolicyIDs: []uuid.UUID{yamlPolicy.ID, regoPolicy.ID},
		Input:     map[string]any{"country": "AU"},
		Actor:     "svc.export",
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func TestListFilters(t *testing.T) {
	svc, _, _ := newPolicyService(t)
	ctx := context.Background()

	gate, err := svc.Create(ctx, exportGateRequest("export-gate"))
	require.NoError(t, err)

	reviewReq := exportGateRequest("review-large")
	reviewReq.Body = reviewLargeBody
	reviewReq.TestCases = nil
	reviewReq.Enforcement = EnforcementAdvisory
	reviewReq.Scopes = []string{"governance:finance"}
	reviewReq.Compliance = Compliance{Frameworks: []string{"SOX"}}
	_, err = svc.Create(ctx, reviewReq)
	require.NoError(t, err)

	approvePolicy(t, svc, gate.ID)

	all, err := svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	approved, err := svc.List(ctx, ListFilter{Status: StatusApproved})
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, "export-gate", approved[0].Name)

	advisory, err := svc.List(ctx, ListFilter{Enforcement: EnforcementAdvisory})
	require.NoError(t, err)
	require.Len(t, advisory, 1)
	assert.Equal(t, "review-large", advisory[0].Name)

	scoped, err := svc.List(ctx, ListFilter{Scope: "governance:export"})
	require.NoError(t, err)
	require.Len(t, scoped, 1)

	framed, err := svc.List(ctx, ListFilter{Framework: "SOX"})
	require.NoError(t, err)
	require.Len(t, framed, 1)
	assert.Equal(t, "review-large", framed[0].Name)
}

func TestGetByName(t *testing.T) {
	svc, _, _ := newPolicyService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, exportGateRequest("export-gate"))
	require.NoError(t, err)

	got, err := svc.GetByName(ctx, "export-gate")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = svc.GetByName(ctx, "missing")
	assert.True(t, errors.Is(err, sentinel.ErrNotFound))
}

func TestPolicyOperationsKeepChainIntact(t *testing.T) {
	svc, _, auditSvc := newPolicyService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, exportGateRequest("export-gate"))
	require.NoError(t, err)
	approvePolicy(t, svc, p.ID)
	_, err = svc.Deploy(ctx, p.ID, "production", "release.bot")
	require.NoError(t, err)
	_, err = svc.Evaluate(ctx, EvaluateRequest{
		PolicyID: p.ID,
		Input:    map[string]any{"country": "US"},
		Actor:    "svc.export",
	})
	require.NoError(t, err)

	report, err := auditSvc.ValidateIntegrity(ctx, audit.DefaultChain, 0, -1)
	require.NoError(t, err)
	assert.True(t, report.Intact)
	assert.Equal(t, 6, report.EntriesChecked)
}

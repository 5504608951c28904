//go:build integration

package policy_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"tutela/internal/audit"
	"tutela/internal/policy"
	"tutela/pkg/platform/sentinel"
	"tutela/pkg/testutil/containers"
)

const storedBody = `
rules:
  - name: block-offshore
    when:
      - field: country
        op: not_in
        value: [AU]
    effect: deny
default: allow
`

type PolicyPostgresSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *policy.PostgresStore
}

func TestPolicyPostgresSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PolicyPostgresSuite))
}

func (s *PolicyPostgresSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = policy.NewPostgresStore(s.postgres.DB)
}

func (s *PolicyPostgresSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx, "policies", "policy_versions", "policy_deployments")
	s.Require().NoError(err)
}

// buildPolicy returns a head and its initial version record. Timestamps are
// truncated to microseconds so equality survives the timestamptz round trip.
func (s *PolicyPostgresSuite) buildPolicy(name string) (policy.Policy, policy.VersionRecord) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	p := policy.Policy{
		ID:          uuid.New(),
		Name:        name,
		Version:     "1.0.0",
		Body:        storedBody,
		Syntax:      policy.SyntaxYAML,
		Enforcement: policy.EnforcementMandatory,
		Scopes:      []string{"governance:export", "governance:archive"},
		DependsOn:   []uuid.UUID{uuid.New()},
		TestCases: []policy.TestCase{
			{Name: "domestic allowed", Input: map[string]any{"country": "AU"}, Expect: policy.OutcomeAllow},
		},
		Compliance: policy.Compliance{Frameworks: []string{"APP", "GDPR"}, Owner: "data-governance"},
		Status:     policy.StatusDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	v := policy.VersionRecord{
		PolicyID:  p.ID,
		Version:   "1.0.0",
		Body:      p.Body,
		Syntax:    p.Syntax,
		CreatedBy: "compliance.officer",
		CreatedAt: now,
	}
	return p, v
}

func (s *PolicyPostgresSuite) TestCreateAndGetRoundTrip() {
	ctx := context.Background()
	p, v := s.buildPolicy("export-gate")

	s.Require().NoError(s.store.Create(ctx, p, v))

	got, err := s.store.Get(ctx, p.ID)
	s.Require().NoError(err)

	s.Equal(p.ID, got.ID)
	s.Equal(p.Name, got.Name)
	s.Equal(p.Version, got.Version)
	s.Equal(p.Body, got.Body)
	s.Equal(p.Syntax, got.Syntax)
	s.Equal(p.Enforcement, got.Enforcement)
	s.Equal(p.Scopes, got.Scopes)
	s.Equal(p.DependsOn, got.DependsOn)
	s.Equal(p.Compliance, got.Compliance)
	s.Equal(p.Status, got.Status)
	s.True(p.CreatedAt.Equal(got.CreatedAt), "created_at should survive exactly")
	s.True(p.UpdatedAt.Equal(got.UpdatedAt))
	s.Require().Len(got.TestCases, 1)
	s.Equal("domestic allowed", got.TestCases[0].Name)
	s.Equal(policy.OutcomeAllow, got.TestCases[0].Expect)

	byName, err := s.store.GetByName(ctx, "export-gate")
	s.Require().NoError(err)
	s.Equal(p.ID, byName.ID)

	_, err = s.store.Get(ctx, uuid.New())
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.GetByName(ctx, "missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PolicyPostgresSuite) TestCreateConflicts() {
	ctx := context.Background()
	p, v := s.buildPolicy("export-gate")
	s.Require().NoError(s.store.Create(ctx, p, v))

	dupName, dv := s.buildPolicy("export-gate")
	s.ErrorIs(s.store.Create(ctx, dupName, dv), sentinel.ErrConflict)

	dupID, dv2 := s.buildPolicy("other-name")
	dupID.ID = p.ID
	dv2.PolicyID = p.ID
	s.ErrorIs(s.store.Create(ctx, dupID, dv2), sentinel.ErrConflict)
}

func (s *PolicyPostgresSuite) TestUpdateHead() {
	ctx := context.Background()
	p, v := s.buildPolicy("export-gate")
	s.Require().NoError(s.store.Create(ctx, p, v))

	p.Status = policy.StatusValidated
	p.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)
	s.Require().NoError(s.store.UpdateHead(ctx, p))

	got, err := s.store.Get(ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(policy.StatusValidated, got.Status)

	missing, _ := s.buildPolicy("ghost")
	s.ErrorIs(s.store.UpdateHead(ctx, missing), sentinel.ErrNotFound)
}

func (s *PolicyPostgresSuite) TestAddVersionAndHistory() {
	ctx := context.Background()
	p, v := s.buildPolicy("export-gate")
	s.Require().NoError(s.store.Create(ctx, p, v))

	next := p
	next.Version = "1.1.0"
	next.Status = policy.StatusDraft
	next.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)
	record := policy.VersionRecord{
		PolicyID:    p.ID,
		Version:     "1.1.0",
		Body:        p.Body,
		Syntax:      p.Syntax,
		Impact:      policy.ImpactMedium,
		Predecessor: "1.0.0",
		CreatedBy:   "compliance.officer",
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond).Add(time.Second),
	}
	s.Require().NoError(s.store.AddVersion(ctx, next, record))

	head, err := s.store.Get(ctx, p.ID)
	s.Require().NoError(err)
	s.Equal("1.1.0", head.Version)

	s.ErrorIs(s.store.AddVersion(ctx, next, record), sentinel.ErrConflict)

	versions, err := s.store.Versions(ctx, p.ID)
	s.Require().NoError(err)
	s.Require().Len(versions, 2)
	s.Equal("1.1.0", versions[0].Version)
	s.Equal("1.0.0", versions[0].Predecessor)
	s.Equal(policy.ImpactMedium, versions[0].Impact)
	s.Empty(versions[1].Predecessor, "the initial version has no predecessor")

	got, err := s.store.GetVersion(ctx, p.ID, "1.0.0")
	s.Require().NoError(err)
	s.Equal("compliance.officer", got.CreatedBy)

	_, err = s.store.GetVersion(ctx, p.ID, "9.9.9")
	s.ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.store.Versions(ctx, uuid.New())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PolicyPostgresSuite) TestDeployments() {
	ctx := context.Background()
	p, v := s.buildPolicy("export-gate")
	s.Require().NoError(s.store.Create(ctx, p, v))

	now := time.Now().UTC().Truncate(time.Microsecond)
	s.Require().NoError(s.store.SetDeployment(ctx, policy.Deployment{
		PolicyID: p.ID, Environment: "dev", Version: "1.0.0",
		DeployedBy: "release.bot", DeployedAt: now,
	}))
	s.Require().NoError(s.store.SetDeployment(ctx, policy.Deployment{
		PolicyID: p.ID, Environment: "production", Version: "1.0.0",
		DeployedBy: "release.bot", DeployedAt: now,
	}))

	// Upsert: redeploying the same environment moves its pointer.
	s.Require().NoError(s.store.SetDeployment(ctx, policy.Deployment{
		PolicyID: p.ID, Environment: "dev", Version: "1.1.0",
		DeployedBy: "release.bot", DeployedAt: now.Add(time.Minute),
	}))

	dep, err := s.store.GetDeployment(ctx, p.ID, "dev")
	s.Require().NoError(err)
	s.Equal("1.1.0", dep.Version)
	s.True(dep.DeployedAt.Equal(now.Add(time.Minute)))

	_, err = s.store.GetDeployment(ctx, p.ID, "qa")
	s.ErrorIs(err, sentinel.ErrNotFound)

	all, err := s.store.ListDeployments(ctx, p.ID)
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal("dev", all[0].Environment)

	head, err := s.store.Get(ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(map[string]string{"dev": "1.1.0", "production": "1.0.0"}, head.Deployments)
}

func (s *PolicyPostgresSuite) TestListFilters() {
	ctx := context.Background()

	gate, gv := s.buildPolicy("export-gate")
	gate.Status = policy.StatusApproved
	s.Require().NoError(s.store.Create(ctx, gate, gv))

	review, rv := s.buildPolicy("review-large")
	review.Enforcement = policy.EnforcementAdvisory
	review.Scopes = []string{"governance:finance"}
	review.Compliance = policy.Compliance{Frameworks: []string{"SOX"}}
	s.Require().NoError(s.store.Create(ctx, review, rv))

	all, err := s.store.List(ctx, policy.ListFilter{})
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal("export-gate", all[0].Name, "ordered by name")

	approved, err := s.store.List(ctx, policy.ListFilter{Status: policy.StatusApproved})
	s.Require().NoError(err)
	s.Require().Len(approved, 1)
	s.Equal("export-gate", approved[0].Name)

	advisory, err := s.store.List(ctx, policy.ListFilter{Enforcement: policy.EnforcementAdvisory})
	s.Require().NoError(err)
	s.Require().Len(advisory, 1)
	s.Equal("review-large", advisory[0].Name)

	scoped, err := s.store.List(ctx, policy.ListFilter{Scope: "governance:archive"})
	s.Require().NoError(err)
	s.Require().Len(scoped, 1)
	s.Equal("export-gate", scoped[0].Name)

	framed, err := s.store.List(ctx, policy.ListFilter{Framework: "SOX"})
	s.Require().NoError(err)
	s.Require().Len(framed, 1)
	s.Equal("review-large", framed[0].Name)

	none, err := s.store.List(ctx, policy.ListFilter{Scope: "governance:unknown"})
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *PolicyPostgresSuite) TestDeleteCascades() {
	ctx := context.Background()
	p, v := s.buildPolicy("export-gate")
	s.Require().NoError(s.store.Create(ctx, p, v))
	s.Require().NoError(s.store.SetDeployment(ctx, policy.Deployment{
		PolicyID: p.ID, Environment: "dev", Version: "1.0.0",
		DeployedBy: "release.bot", DeployedAt: time.Now().UTC(),
	}))

	s.Require().NoError(s.store.Delete(ctx, p.ID))

	_, err := s.store.Get(ctx, p.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.Versions(ctx, p.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	deployments, err := s.store.ListDeployments(ctx, p.ID)
	s.Require().NoError(err)
	s.Empty(deployments)

	s.ErrorIs(s.store.Delete(ctx, uuid.New()), sentinel.ErrNotFound)
}

// TestServiceOverPostgres drives the lifecycle through the service against
// the real store, covering the transactional head+version path.
func (s *PolicyPostgresSuite) TestServiceOverPostgres() {
	ctx := context.Background()

	svc, err := policy.NewService(s.store, audit.NewService(audit.NewMemoryStore()))
	s.Require().NoError(err)

	created, err := svc.Create(ctx, policy.CreateRequest{
		Name:        "export-gate",
		Body:        storedBody,
		Syntax:      policy.SyntaxYAML,
		Enforcement: policy.EnforcementMandatory,
		Actor:       "compliance.officer",
	})
	s.Require().NoError(err)

	_, err = svc.Validate(ctx, created.ID, "compliance.officer")
	s.Require().NoError(err)
	_, err = svc.Approve(ctx, created.ID, "governance.lead")
	s.Require().NoError(err)
	_, err = svc.Deploy(ctx, created.ID, "production", "release.bot")
	s.Require().NoError(err)

	d, err := svc.Evaluate(ctx, policy.EvaluateRequest{
		PolicyID: created.ID,
		Input:    map[string]any{"country": "US"},
		Actor:    "svc.export",
	})
	s.Require().NoError(err)
	s.Equal(policy.OutcomeDeny, d.Outcome)

	head, err := svc.Get(ctx, created.ID)
	s.Require().NoError(err)
	s.Equal(policy.StatusDeployed, head.Status)
	s.Equal("1.0.0", head.Deployments["production"])
}

// Package policy stores versioned declarative rule modules and evaluates
// them against structured input. Bodies in the builtin YAML dialect are
// executed in-process; rego bodies are validated structurally and executed
// through an external decision point.
package policy

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	dErrors "tutela/pkg/domain-errors"
)

// Syntax identifies the rule dialect a policy body is written in.
type Syntax string

const (
	SyntaxYAML Syntax = "yaml"
	SyntaxRego Syntax = "rego"
)

func (s Syntax) Valid() bool {
	return s == SyntaxYAML || s == SyntaxRego
}

// Enforcement separates policies that can block an action from advisory
// ones. Only a mandatory deny short-circuits bundle evaluation.
type Enforcement string

const (
	EnforcementMandatory Enforcement = "mandatory"
	EnforcementAdvisory  Enforcement = "advisory"
)

func (e Enforcement) Valid() bool {
	return e == EnforcementMandatory || e == EnforcementAdvisory
}

// Status is the policy lifecycle position. Heads move draft through
// deployed; superseded marks non-current version records in listings.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusValidated  Status = "validated"
	StatusTested     Status = "tested"
	StatusApproved   Status = "approved"
	StatusDeployed   Status = "deployed"
	StatusSuperseded Status = "superseded"
)

var statusRank = map[Status]int{
	StatusDraft:     0,
	StatusValidated: 1,
	StatusTested:    2,
	StatusApproved:  3,
	StatusDeployed:  4,
}

// AtLeast reports whether s has progressed at least as far as other in the
// draft -> deployed lifecycle.
func (s Status) AtLeast(other Status) bool {
	return statusRank[s] >= statusRank[other]
}

// Impact grades how far an update moves a policy's semantics. It drives the
// semver bump: critical raises major, high and medium raise minor, low
// raises patch.
type Impact string

const (
	ImpactLow      Impact = "low"
	ImpactMedium   Impact = "medium"
	ImpactHigh     Impact = "high"
	ImpactCritical Impact = "critical"
)

var impactRank = map[Impact]int{
	ImpactLow:      0,
	ImpactMedium:   1,
	ImpactHigh:     2,
	ImpactCritical: 3,
}

// maxImpact returns the more severe of two impact grades.
func maxImpact(a, b Impact) Impact {
	if impactRank[b] > impactRank[a] {
		return b
	}
	return a
}

// Outcome is the closed set of evaluation results. Decision point outages
// are errors, never outcomes.
type Outcome string

const (
	OutcomeAllow       Outcome = "allow"
	OutcomeDeny        Outcome = "deny"
	OutcomeConditional Outcome = "conditional"
)

func (o Outcome) Valid() bool {
	return o == OutcomeAllow || o == OutcomeDeny || o == OutcomeConditional
}

// Condition is an obligation attached to a conditional decision.
type Condition struct {
	Kind      string     `json:"kind"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Decision is the outcome of evaluating one policy version against input.
type Decision struct {
	PolicyID    uuid.UUID   `json:"policy_id"`
	PolicyName  string      `json:"policy_name"`
	Version     string      `json:"version"`
	Enforcement Enforcement `json:"enforcement"`
	Outcome     Outcome     `json:"outcome"`
	Rule        string      `json:"rule,omitempty"`
	Conditions  []Condition `json:"conditions,omitempty"`

	// Explanation traces the evaluation rule by rule.
	Explanation []string  `json:"explanation,omitempty"`
	EvaluatedAt time.Time `json:"evaluated_at"`
	Cached      bool      `json:"cached"`
}

// BundleDecision aggregates an ordered bundle evaluation. When a mandatory
// policy denies, evaluation stops there, Decisions holds only the policies
// evaluated up to that point, and DecidedBy names the denier.
type BundleDecision struct {
	Outcome        Outcome     `json:"outcome"`
	Conditions     []Condition `json:"conditions,omitempty"`
	Decisions      []Decision  `json:"decisions"`
	ShortCircuited bool        `json:"short_circuited"`
	DecidedBy      uuid.UUID   `json:"decided_by"`
	EvaluatedAt    time.Time   `json:"evaluated_at"`
}

// TestCase is a declared input/expectation pair evaluated by RunTests and
// by the production deploy gate.
type TestCase struct {
	Name   string         `json:"name"`
	Input  map[string]any `json:"input"`
	Expect Outcome        `json:"expect"`
}

// Compliance carries the regulatory metadata attached to a policy.
type Compliance struct {
	Frameworks []string `json:"frameworks,omitempty"`
	Owner      string   `json:"owner,omitempty"`
}

// Policy is the head record of a versioned rule module. Version history
// lives in VersionRecord rows; Deployments is filled on read from the
// per-environment pointers.
type Policy struct {
	ID          uuid.UUID   `json:"id"`
	Name        string      `json:"name"`
	Version     string      `json:"version"`
	Body        string      `json:"body"`
	Syntax      Syntax      `json:"syntax"`
	Enforcement Enforcement `json:"enforcement"`
	Scopes      []string    `json:"scopes,omitempty"`
	DependsOn   []uuid.UUID `json:"depends_on,omitempty"`
	TestCases   []TestCase  `json:"test_cases,omitempty"`
	Compliance  Compliance  `json:"compliance"`
	Status      Status      `json:"status"`

	Deployments map[string]string `json:"deployments,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VersionRecord is one immutable entry in a policy's version history.
// Predecessor links each version to the one it superseded, so history can
// be walked backwards; a rollback row's content equals some earlier version
// but its predecessor is still the head it replaced.
type VersionRecord struct {
	PolicyID    uuid.UUID `json:"policy_id"`
	Version     string    `json:"version"`
	Body        string    `json:"body"`
	Syntax      Syntax    `json:"syntax"`
	Impact      Impact    `json:"impact,omitempty"`
	Predecessor string    `json:"predecessor,omitempty"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// Deployment is the current-version pointer for one environment.
type Deployment struct {
	PolicyID    uuid.UUID `json:"policy_id"`
	Environment string    `json:"environment"`
	Version     string    `json:"version"`
	DeployedBy  string    `json:"deployed_by"`
	DeployedAt  time.Time `json:"deployed_at"`
}

// productionEnvironments are the deployment targets gated on approval and
// passing tests.
var productionEnvironments = map[string]bool{
	"production": true,
	"prod":       true,
	"staging":    true,
}

// IsProductionEnvironment reports whether env is gated.
func IsProductionEnvironment(env string) bool {
	return productionEnvironments[env]
}

// CreateRequest carries a new policy. The body is validated for the
// declared syntax before acceptance.
type CreateRequest struct {
	Name        string
	Body        string
	Syntax      Syntax
	Enforcement Enforcement
	Scopes      []string
	DependsOn   []uuid.UUID
	TestCases   []TestCase
	Compliance  Compliance
	Actor       string
}

func (r CreateRequest) validate() error {
	if r.Name == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "policy name is required")
	}
	if r.Actor == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "actor identity is required")
	}
	if !r.Syntax.Valid() {
		return dErrors.New(dErrors.CodeInvalidInput,
			fmt.Sprintf("unknown syntax %q", r.Syntax))
	}
	if !r.Enforcement.Valid() {
		return dErrors.New(dErrors.CodeInvalidInput,
			fmt.Sprintf("unknown enforcement level %q", r.Enforcement))
	}
	return validateTestCases(r.TestCases)
}

// UpdateRequest replaces head fields. Zero values keep the current value;
// an empty non-nil slice clears a slice field.
type UpdateRequest struct {
	Body        string
	Syntax      Syntax
	Enforcement Enforcement
	Scopes      []string
	DependsOn   []uuid.UUID
	TestCases   []TestCase
	Compliance  *Compliance
	Actor       string
}

func validateTestCases(cases []TestCase) error {
	for _, tc := range cases {
		if tc.Name == "" {
			return dErrors.New(dErrors.CodeInvalidInput, "test case name is required")
		}
		if !tc.Expect.Valid() {
			return dErrors.New(dErrors.CodeInvalidInput,
				fmt.Sprintf("test case %s: unknown expected outcome %q", tc.Name, tc.Expect))
		}
	}
	return nil
}

// EvaluateRequest asks for one policy evaluation. An empty Environment
// evaluates the head version; naming an environment pins the evaluation to
// the version deployed there.
type EvaluateRequest struct {
	PolicyID    uuid.UUID
	Environment string
	Input       map[string]any
	Actor       string
	RequestID   string
}

func (r EvaluateRequest) validate() error {
	if r.PolicyID == uuid.Nil {
		return dErrors.New(dErrors.CodeInvalidInput, "policy id is required")
	}
	if r.Actor == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "actor identity is required")
	}
	return nil
}

// BundleRequest evaluates an ordered set of policies against one input.
type BundleRequest struct {
	PolicyIDs   []uuid.UUID
	Environment string
	Input       map[string]any
	Actor       string
	RequestID   string
}

func (r BundleRequest) validate() error {
	if len(r.PolicyIDs) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "bundle requires at least one policy")
	}
	if r.Actor == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "actor identity is required")
	}
	return nil
}

// TestCaseResult is the outcome of one declared test case.
type TestCaseResult struct {
	Name        string   `json:"name"`
	Expected    Outcome  `json:"expected"`
	Actual      Outcome  `json:"actual,omitempty"`
	Passed      bool     `json:"passed"`
	Explanation []string `json:"explanation,omitempty"`
	Err         string   `json:"error,omitempty"`
}

// TestReport aggregates a RunTests execution.
type TestReport struct {
	PolicyID  uuid.UUID        `json:"policy_id"`
	Version   string           `json:"version"`
	Results   []TestCaseResult `json:"results"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	AllPassed bool             `json:"all_passed"`
	RanAt     time.Time        `json:"ran_at"`
}

// Package redact applies rule-driven protection to classified values:
// irreversible redaction (mask, hash, remove) and reversible transformation
// (encrypt, tokenize, cultural protection) with audited reversal.
package redact

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"tutela/internal/classify"
	dErrors "tutela/pkg/domain-errors"
)

// Operation is the closed set of protections a rule can apply.
type Operation string

const (
	OperationMask            Operation = "mask"
	OperationHash            Operation = "hash"
	OperationEncrypt         Operation = "encrypt"
	OperationRemove          Operation = "remove"
	OperationTokenize        Operation = "tokenize"
	OperationCulturalProtect Operation = "cultural_protect"
)

// reversibleOps marks which operations may issue transformation handles.
// Mask, hash, and remove destroy information and can never be reversible.
var reversibleOps = map[Operation]bool{
	OperationEncrypt:         true,
	OperationTokenize:        true,
	OperationCulturalProtect: true,
}

// MatcherKind tags the closed set of rule matcher variants.
type MatcherKind string

const (
	MatchFieldPattern MatcherKind = "field_pattern"
	MatchDataTypes    MatcherKind = "data_types"
)

// Matcher selects the values a rule applies to. Exactly one variant is
// populated, chosen by Kind.
type Matcher struct {
	Kind MatcherKind `json:"kind"`

	// FieldPattern is a glob matched case-insensitively against the field
	// name, e.g. "payment_*" or "*_tfn".
	FieldPattern string `json:"field_pattern,omitempty"`

	// DataTypes lists classifier outputs the rule applies to.
	DataTypes []classify.DataType `json:"data_types,omitempty"`
}

// matcherFuncs is the dispatch table over matcher variants.
var matcherFuncs = map[MatcherKind]func(Matcher, string, classify.DataType) bool{
	MatchFieldPattern: matchFieldPattern,
	MatchDataTypes:    matchDataTypes,
}

func matchFieldPattern(m Matcher, field string, _ classify.DataType) bool {
	if field == "" {
		return false
	}
	ok, err := path.Match(strings.ToLower(m.FieldPattern), strings.ToLower(field))
	return err == nil && ok
}

func matchDataTypes(m Matcher, _ string, dataType classify.DataType) bool {
	for _, dt := range m.DataTypes {
		if dt == dataType {
			return true
		}
	}
	return false
}

// Matches reports whether the matcher selects the given field/classification.
func (m Matcher) Matches(field string, dataType classify.DataType) bool {
	fn, ok := matcherFuncs[m.Kind]
	if !ok {
		return false
	}
	return fn(m, field, dataType)
}

// Params carries operation-specific knobs.
type Params struct {
	// ShowFirst and ShowLast bound the revealed character windows for mask.
	ShowFirst int `json:"show_first,omitempty"`
	ShowLast  int `json:"show_last,omitempty"`

	// Scope namespaces tokenize determinism: equal inputs yield equal
	// tokens only within the same scope.
	Scope string `json:"scope,omitempty"`
}

// Rule describes one versioned protection behavior. Rules referenced by past
// audit entries are immutable: the applied rule's ID, name, and version are
// recorded in each entry so the operation stays reproducible; updates must
// create a new version rather than editing in place.
type Rule struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Version  int       `json:"version"`
	Priority int       `json:"priority"` // lower value is evaluated first

	Matcher       Matcher                `json:"matcher"`
	Sensitivities []classify.Sensitivity `json:"sensitivities"`
	Operation     Operation              `json:"operation"`
	Params        Params                 `json:"params"`

	Reversible          bool          `json:"reversible"`
	CulturallySensitive bool          `json:"culturally_sensitive"`
	Frameworks          []string      `json:"frameworks,omitempty"`
	Retention           time.Duration `json:"retention,omitempty"`
	AuditRequired       bool          `json:"audit_required"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Validate checks rule shape and the operation/reversibility contract.
func (r Rule) Validate() error {
	if r.Name == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "rule name is required")
	}
	switch r.Operation {
	case OperationMask, OperationHash, OperationEncrypt,
		OperationRemove, OperationTokenize, OperationCulturalProtect:
	default:
		return dErrors.New(dErrors.CodeInvalidInput,
			fmt.Sprintf("rule %s: unknown operation %q", r.Name, r.Operation))
	}
	if r.Reversible && !reversibleOps[r.Operation] {
		return dErrors.New(dErrors.CodeInvalidInput,
			fmt.Sprintf("rule %s: operation %s cannot be reversible", r.Name, r.Operation))
	}
	if r.Operation == OperationEncrypt && !r.Reversible {
		return dErrors.New(dErrors.CodeInvalidInput,
			fmt.Sprintf("rule %s: encrypt rules must be reversible", r.Name))
	}
	if _, ok := matcherFuncs[r.Matcher.Kind]; !ok {
		return dErrors.New(dErrors.CodeInvalidInput,
			fmt.Sprintf("rule %s: unknown matcher kind %q", r.Name, r.Matcher.Kind))
	}
	if len(r.Sensitivities) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput,
			fmt.Sprintf("rule %s: at least one sensitivity level is required", r.Name))
	}
	for _, lvl := range r.Sensitivities {
		if !lvl.Valid() {
			return dErrors.New(dErrors.CodeInvalidInput,
				fmt.Sprintf("rule %s: unknown sensitivity %q", r.Name, lvl))
		}
	}
	if r.Params.ShowFirst < 0 || r.Params.ShowLast < 0 {
		return dErrors.New(dErrors.CodeInvalidInput,
			fmt.Sprintf("rule %s: mask windows must not be negative", r.Name))
	}
	return nil
}

// appliesTo reports whether the rule covers the given sensitivity level.
func (r Rule) appliesTo(level classify.Sensitivity) bool {
	for _, lvl := range r.Sensitivities {
		if lvl == level {
			return true
		}
	}
	return false
}

// CulturalAuthority records that a recognised authority approved the
// operation on culturally sensitive data.
type CulturalAuthority struct {
	Approved    bool   `json:"approved"`
	AuthorityID string `json:"authority_id"`
	Role        string `json:"role,omitempty"` // elder | community_org
	Reference   string `json:"reference,omitempty"`
}

// OperationContext identifies who is operating, on whose data, and why.
// Every applied operation and every refusal is audited with this identity.
type OperationContext struct {
	Operator   string             `json:"operator"`
	Subject    string             `json:"subject,omitempty"`
	Purpose    string             `json:"purpose,omitempty"`
	ConsentRef string             `json:"consent_ref,omitempty"`
	Authority  *CulturalAuthority `json:"authority,omitempty"`
	RequestID  string             `json:"request_id,omitempty"`
}

// approvedAuthority reports whether the context carries a valid approval.
func (c OperationContext) approvedAuthority() bool {
	return c.Authority != nil && c.Authority.Approved && c.Authority.AuthorityID != ""
}

// Result is the outcome of one protection operation.
type Result struct {
	Value any `json:"value"`

	// Applied is false when no rule in the set covered the value; the
	// original is returned untouched and the pass-through is audited.
	Applied bool `json:"applied"`

	DataType    classify.DataType    `json:"data_type"`
	Sensitivity classify.Sensitivity `json:"sensitivity"`

	Operation   Operation `json:"operation,omitempty"`
	RuleID      uuid.UUID `json:"rule_id,omitempty"`
	RuleName    string    `json:"rule_name,omitempty"`
	RuleVersion int       `json:"rule_version,omitempty"`
	Reversible  bool      `json:"reversible"`

	// Handle is the opaque reversal token, present only for reversible
	// transforms.
	Handle string `json:"handle,omitempty"`

	AppliedAt time.Time `json:"applied_at"`
}

// BatchItem pairs an input value with the field name used for rule matching.
type BatchItem struct {
	Field string `json:"field,omitempty"`
	Value any    `json:"value"`
}

// ItemResult is the per-item outcome of a batch operation. Err is nil on
// success; transports map it to a message.
type ItemResult struct {
	Index  int     `json:"index"`
	Field  string  `json:"field,omitempty"`
	Result *Result `json:"result,omitempty"`
	Err    error   `json:"-"`
}

// BatchResult aggregates per-item outcomes. Unless fail-fast was requested,
// one item's failure never discards the others' results.
type BatchResult struct {
	Results   []ItemResult `json:"results"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
}

// BatchOptions bounds batch execution.
type BatchOptions struct {
	// Parallelism caps concurrent items; zero means the service default.
	Parallelism int `json:"parallelism,omitempty"`

	// FailFast aborts outstanding items after the first failure.
	FailFast bool `json:"fail_fast,omitempty"`
}

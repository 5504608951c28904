package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClauseOperators(t *testing.T) {
	input := map[string]any{
		"amount":  12000,
		"country": "AU",
		"tags":    []any{"pii", "financial"},
		"owner":   map[string]any{"team": "governance"},
	}

	cases := []struct {
		name   string
		clause bodyClause
		want   bool
	}{
		{"eq match", bodyClause{Field: "country", Op: opEq, Value: "AU"}, true},
		{"eq mismatch", bodyClause{Field: "country", Op: opEq, Value: "NZ"}, false},
		{"eq numeric coercion", bodyClause{Field: "amount", Op: opEq, Value: 12000.0}, true},
		{"ne", bodyClause{Field: "country", Op: opNe, Value: "NZ"}, true},
		{"ne absent field", bodyClause{Field: "missing", Op: opNe, Value: "x"}, false},
		{"in", bodyClause{Field: "country", Op: opIn, Value: []any{"AU", "NZ"}}, true},
		{"not_in", bodyClause{Field: "country", Op: opNotIn, Value: []any{"US", "GB"}}, true},
		{"contains string", bodyClause{Field: "country", Op: opContains, Value: "A"}, true},
		{"contains list", bodyClause{Field: "tags", Op: opContains, Value: "pii"}, true},
		{"contains list miss", bodyClause{Field: "tags", Op: opContains, Value: "medical"}, false},
		{"gt", bodyClause{Field: "amount", Op: opGt, Value: 10000}, true},
		{"gte boundary", bodyClause{Field: "amount", Op: opGte, Value: 12000}, true},
		{"lt", bodyClause{Field: "amount", Op: opLt, Value: 10000}, false},
		{"lte string order", bodyClause{Field: "country", Op: opLte, Value: "NZ"}, true},
		{"exists true", bodyClause{Field: "amount", Op: opExists, Value: true}, true},
		{"exists false on absent", bodyClause{Field: "missing", Op: opExists, Value: false}, true},
		{"exists default", bodyClause{Field: "amount", Op: opExists, Value: nil}, true},
		{"matches", bodyClause{Field: "country", Op: opMatches, Value: "^A[UT]$"}, true},
		{"matches miss", bodyClause{Field: "country", Op: opMatches, Value: "^N"}, false},
		{"dotted lookup", bodyClause{Field: "owner.team", Op: opEq, Value: "governance"}, true},
		{"dotted through non-map", bodyClause{Field: "country.code", Op: opExists, Value: true}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			actual, present := lookupField(input, tc.clause.Field)
			got := clauseOps[tc.clause.Op](actual, present, tc.clause.Value)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCompareValuesMixedKindsDoNotOrder(t *testing.T) {
	_, ok := compareValues("abc", 5)
	assert.False(t, ok)

	cmp, ok := compareValues(int64(3), 3.0)
	require.True(t, ok)
	assert.Equal(t, 0, cmp)
}

func TestEvaluateDocumentFirstMatchWins(t *testing.T) {
	doc, err := parseRuleDocument(crossBorderBody)
	require.NoError(t, err)
	now := time.Now().UTC()

	outcome, rule, conditions, trace := evaluateDocument(doc, map[string]any{
		"destination":     map[string]any{"country": "SG"},
		"export_approved": false,
		"amount":          50000,
	}, now)
	assert.Equal(t, OutcomeDeny, outcome)
	assert.Equal(t, "block-unapproved-export", rule)
	assert.Empty(t, conditions)
	require.NotEmpty(t, trace)
	assert.Contains(t, trace[0], "block-unapproved-export matched")
}

func TestEvaluateDocumentConditionalResolvesTTL(t *testing.T) {
	doc, err := parseRuleDocument(crossBorderBody)
	require.NoError(t, err)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	outcome, rule, conditions, _ := evaluateDocument(doc, map[string]any{
		"destination":     map[string]any{"country": "AU"},
		"export_approved": true,
		"amount":          25000,
	}, now)
	assert.Equal(t, OutcomeConditional, outcome)
	assert.Equal(t, "high-value-review", rule)
	require.Len(t, conditions, 1)
	assert.Equal(t, "approval_required", conditions[0].Kind)
	require.NotNil(t, conditions[0].ExpiresAt)
	assert.Equal(t, now.Add(72*time.Hour), *conditions[0].ExpiresAt)
}

func TestEvaluateDocumentDefaultApplies(t *testing.T) {
	doc, err := parseRuleDocument(crossBorderBody)
	require.NoError(t, err)

	outcome, rule, conditions, trace := evaluateDocument(doc, map[string]any{
		"destination":     map[string]any{"country": "AU"},
		"export_approved": true,
		"amount":          100,
	}, time.Now())
	assert.Equal(t, OutcomeAllow, outcome)
	assert.Empty(t, rule)
	assert.Empty(t, conditions)

	// Trace names each rule that did not match and the clause that failed.
	require.Len(t, trace, 3)
	assert.Contains(t, trace[0], "not matched")
	assert.Contains(t, trace[2], "default allow applies")
}

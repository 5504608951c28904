package policy

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Clause operators form a closed set; unknown operators are rejected at
// body validation, so evaluation never sees one.
const (
	opEq       = "eq"
	opNe       = "ne"
	opIn       = "in"
	opNotIn    = "not_in"
	opContains = "contains"
	opGt       = "gt"
	opGte      = "gte"
	opLt       = "lt"
	opLte      = "lte"
	opExists   = "exists"
	opMatches  = "matches"
)

// clauseOps dispatches an operator to its predicate. actual is the value
// looked up from the input document, present reports whether the field
// existed at all.
var clauseOps = map[string]func(actual any, present bool, expected any) bool{
	opEq: func(actual any, present bool, expected any) bool {
		return present && equalValues(actual, expected)
	},
	opNe: func(actual any, present bool, expected any) bool {
		return present && !equalValues(actual, expected)
	},
	opIn: func(actual any, present bool, expected any) bool {
		return present && memberOf(actual, expected)
	},
	opNotIn: func(actual any, present bool, expected any) bool {
		return present && !memberOf(actual, expected)
	},
	opContains: func(actual any, present bool, expected any) bool {
		if !present {
			return false
		}
		switch v := actual.(type) {
		case string:
			return strings.Contains(v, fmt.Sprint(expected))
		case []any:
			for _, item := range v {
				if equalValues(item, expected) {
					return true
				}
			}
		}
		return false
	},
	opGt:  orderedOp(func(cmp int) bool { return cmp > 0 }),
	opGte: orderedOp(func(cmp int) bool { return cmp >= 0 }),
	opLt:  orderedOp(func(cmp int) bool { return cmp < 0 }),
	opLte: orderedOp(func(cmp int) bool { return cmp <= 0 }),
	opExists: func(_ any, present bool, expected any) bool {
		if want, ok := expected.(bool); ok {
			return present == want
		}
		return present
	},
	opMatches: func(actual any, present bool, expected any) bool {
		if !present {
			return false
		}
		pattern, ok := expected.(string)
		if !ok {
			return false
		}
		matched, err := regexp.MatchString(pattern, fmt.Sprint(actual))
		return err == nil && matched
	},
}

func orderedOp(accept func(cmp int) bool) func(any, bool, any) bool {
	return func(actual any, present bool, expected any) bool {
		if !present {
			return false
		}
		cmp, ok := compareValues(actual, expected)
		return ok && accept(cmp)
	}
}

// equalValues compares with numeric coercion so YAML ints match JSON
// floats; everything else falls back to string form.
func equalValues(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	if aok != bok {
		return false
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// compareValues orders two values: numerically when both coerce, lexically
// when both are strings. Mixed kinds do not order.
func compareValues(a, b any) (int, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr && bIsStr {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func memberOf(actual any, expected any) bool {
	items, ok := expected.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if equalValues(actual, item) {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// lookupField resolves a dotted path inside the input document.
func lookupField(input map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = input
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// evaluateDocument runs a parsed builtin body against input. First rule
// whose clauses all hold wins; no match falls to the document default.
// The returned trace lists every rule considered.
func evaluateDocument(doc ruleDocument, input map[string]any, now time.Time) (Outcome, string, []Condition, []string) {
	trace := make([]string, 0, len(doc.Rules)+1)

	for _, rule := range doc.Rules {
		matched, failedClause := ruleMatches(rule, input)
		if matched {
			trace = append(trace, fmt.Sprintf("rule %s matched: %s", rule.Name, ruleSummary(rule)))
			return rule.Effect, rule.Name, obligations(rule.Conditions, now), trace
		}
		trace = append(trace, fmt.Sprintf("rule %s not matched (%s)", rule.Name, failedClause))
	}

	trace = append(trace, fmt.Sprintf("no rule matched, default %s applies", doc.Default))
	return doc.Default, "", nil, trace
}

// ruleMatches ANDs the when clauses; on failure it names the first clause
// that did not hold, for the explanation trace.
func ruleMatches(rule bodyRule, input map[string]any) (bool, string) {
	for _, clause := range rule.When {
		actual, present := lookupField(input, clause.Field)
		if !clauseOps[clause.Op](actual, present, clause.Value) {
			return false, fmt.Sprintf("%s %s %v", clause.Field, clause.Op, clause.Value)
		}
	}
	return true, ""
}

func ruleSummary(rule bodyRule) string {
	if rule.Reason != "" {
		return fmt.Sprintf("%s (%s)", rule.Effect, rule.Reason)
	}
	return string(rule.Effect)
}

// obligations converts body conditions into decision conditions, resolving
// relative TTLs against the evaluation time.
func obligations(obs []bodyObligation, now time.Time) []Condition {
	if len(obs) == 0 {
		return nil
	}
	out := make([]Condition, 0, len(obs))
	for _, ob := range obs {
		cond := Condition{Kind: ob.Kind}
		if ob.TTL != "" {
			if ttl, err := time.ParseDuration(ob.TTL); err == nil {
				expires := now.Add(ttl)
				cond.ExpiresAt = &expires
			}
		}
		out = append(out, cond)
	}
	return out
}

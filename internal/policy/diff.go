package policy

import (
	"fmt"

	"tutela/pkg/platform/canonical"
)

// diffImpact grades how far a body update moves the policy's semantics.
// The grade drives the semver bump, so it errs upward when in doubt:
//
//	critical  syntax change, changed default, removed rule, changed effect
//	high      changed match clauses, new deny rule, opaque (rego) body change
//	medium    new non-deny rule, changed obligations
//	low       identical semantics (reason text, rule order)
func diffImpact(oldSyntax, newSyntax Syntax, oldBody, newBody string) Impact {
	if oldSyntax != newSyntax {
		return ImpactCritical
	}
	if oldBody == newBody {
		return ImpactLow
	}
	if newSyntax != SyntaxYAML {
		return ImpactHigh
	}

	oldDoc, oldErr := parseRuleDocument(oldBody)
	newDoc, newErr := parseRuleDocument(newBody)
	if oldErr != nil || newErr != nil {
		return ImpactHigh
	}

	impact := ImpactLow
	if oldDoc.Default != newDoc.Default {
		impact = ImpactCritical
	}

	oldRules := make(map[string]bodyRule, len(oldDoc.Rules))
	for _, r := range oldDoc.Rules {
		oldRules[r.Name] = r
	}

	for _, newRule := range newDoc.Rules {
		oldRule, existed := oldRules[newRule.Name]
		if !existed {
			if newRule.Effect == OutcomeDeny {
				impact = maxImpact(impact, ImpactHigh)
			} else {
				impact = maxImpact(impact, ImpactMedium)
			}
			continue
		}
		delete(oldRules, newRule.Name)

		if oldRule.Effect != newRule.Effect {
			impact = maxImpact(impact, ImpactCritical)
		}
		if fingerprint(oldRule.When) != fingerprint(newRule.When) {
			impact = maxImpact(impact, ImpactHigh)
		}
		if fingerprint(oldRule.Conditions) != fingerprint(newRule.Conditions) {
			impact = maxImpact(impact, ImpactMedium)
		}
	}

	// Anything left in oldRules was removed.
	if len(oldRules) > 0 {
		impact = maxImpact(impact, ImpactCritical)
	}
	return impact
}

// fingerprint gives a stable comparison form for clause and obligation
// lists, independent of map iteration order inside values.
func fingerprint(v any) string {
	b, err := canonical.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

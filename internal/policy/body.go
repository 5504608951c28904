package policy

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	dErrors "tutela/pkg/domain-errors"
)

// The builtin dialect is a YAML document of ordered rules. Each rule ANDs
// its when-clauses; the first rule whose clauses all hold decides the
// outcome, otherwise the document default applies:
//
//	rules:
//	  - name: high-value-needs-approval
//	    when:
//	      - field: amount
//	        op: gt
//	        value: 10000
//	    effect: conditional
//	    conditions:
//	      - kind: approval_required
//	        ttl: 72h
//	    reason: amounts over 10k need sign-off
//	default: allow

type ruleDocument struct {
	Rules   []bodyRule `yaml:"rules"`
	Default Outcome    `yaml:"default"`
}

type bodyRule struct {
	Name       string           `yaml:"name"`
	When       []bodyClause     `yaml:"when"`
	Effect     Outcome          `yaml:"effect"`
	Conditions []bodyObligation `yaml:"conditions"`
	Reason     string           `yaml:"reason"`
}

type bodyClause struct {
	Field string `yaml:"field"`
	Op    string `yaml:"op"`
	Value any    `yaml:"value"`
}

type bodyObligation struct {
	Kind string `yaml:"kind"`
	TTL  string `yaml:"ttl"`
}

// parseRuleDocument decodes and structurally validates a builtin body.
func parseRuleDocument(body string) (ruleDocument, error) {
	var doc ruleDocument
	if err := yaml.Unmarshal([]byte(body), &doc); err != nil {
		return ruleDocument{}, dErrors.Wrap(dErrors.CodeInvalidInput, "parse policy body", err)
	}
	if len(doc.Rules) == 0 {
		return ruleDocument{}, dErrors.New(dErrors.CodeInvalidInput,
			"policy body declares no rules")
	}
	if doc.Default == "" {
		doc.Default = OutcomeDeny
	}
	if doc.Default != OutcomeAllow && doc.Default != OutcomeDeny {
		return ruleDocument{}, dErrors.New(dErrors.CodeInvalidInput,
			fmt.Sprintf("default outcome must be allow or deny, got %q", doc.Default))
	}

	seen := make(map[string]bool, len(doc.Rules))
	for i, rule := range doc.Rules {
		if rule.Name == "" {
			return ruleDocument{}, dErrors.New(dErrors.CodeInvalidInput,
				fmt.Sprintf("rule %d has no name", i))
		}
		if seen[rule.Name] {
			return ruleDocument{}, dErrors.New(dErrors.CodeInvalidInput,
				fmt.Sprintf("duplicate rule name %q", rule.Name))
		}
		seen[rule.Name] = true

		if !rule.Effect.Valid() {
			return ruleDocument{}, dErrors.New(dErrors.CodeInvalidInput,
				fmt.Sprintf("rule %s: unknown effect %q", rule.Name, rule.Effect))
		}
		if rule.Effect == OutcomeConditional && len(rule.Conditions) == 0 {
			return ruleDocument{}, dErrors.New(dErrors.CodeInvalidInput,
				fmt.Sprintf("rule %s: conditional effect requires conditions", rule.Name))
		}
		if len(rule.When) == 0 {
			return ruleDocument{}, dErrors.New(dErrors.CodeInvalidInput,
				fmt.Sprintf("rule %s: at least one when clause is required", rule.Name))
		}
		for _, clause := range rule.When {
			if err := validateClause(rule.Name, clause); err != nil {
				return ruleDocument{}, err
			}
		}
		for _, ob := range rule.Conditions {
			if ob.Kind == "" {
				return ruleDocument{}, dErrors.New(dErrors.CodeInvalidInput,
					fmt.Sprintf("rule %s: condition kind is required", rule.Name))
			}
			if ob.TTL != "" {
				if _, err := time.ParseDuration(ob.TTL); err != nil {
					return ruleDocument{}, dErrors.New(dErrors.CodeInvalidInput,
						fmt.Sprintf("rule %s: invalid condition ttl %q", rule.Name, ob.TTL))
				}
			}
		}
	}
	return doc, nil
}

func validateClause(ruleName string, clause bodyClause) error {
	if clause.Field == "" {
		return dErrors.New(dErrors.CodeInvalidInput,
			fmt.Sprintf("rule %s: clause field is required", ruleName))
	}
	if _, ok := clauseOps[clause.Op]; !ok {
		return dErrors.New(dErrors.CodeInvalidInput,
			fmt.Sprintf("rule %s: unknown operator %q", ruleName, clause.Op))
	}
	if clause.Op == opMatches {
		pattern, ok := clause.Value.(string)
		if !ok {
			return dErrors.New(dErrors.CodeInvalidInput,
				fmt.Sprintf("rule %s: matches operator requires a string pattern", ruleName))
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return dErrors.New(dErrors.CodeInvalidInput,
				fmt.Sprintf("rule %s: invalid pattern %q", ruleName, pattern))
		}
	}
	return nil
}

var regoPackagePattern = regexp.MustCompile(`(?m)^\s*package\s+([a-zA-Z_][\w.]*)\s*$`)

// regoQueryPath derives the decision point data path from a rego body's
// package declaration: "package governance.cards" queries governance/cards.
func regoQueryPath(body string) (string, error) {
	m := regoPackagePattern.FindStringSubmatch(body)
	if m == nil {
		return "", dErrors.New(dErrors.CodeInvalidInput, "rego body must declare a package")
	}
	return strings.ReplaceAll(m[1], ".", "/"), nil
}

// validateBody checks a body for its declared syntax. Builtin bodies parse
// fully; rego bodies get a structural check only, since they execute
// through the external decision point.
func validateBody(syntax Syntax, body string) error {
	if strings.TrimSpace(body) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "policy body is required")
	}
	switch syntax {
	case SyntaxYAML:
		_, err := parseRuleDocument(body)
		return err
	case SyntaxRego:
		if !regoPackagePattern.MatchString(body) {
			return dErrors.New(dErrors.CodeInvalidInput,
				"rego body must declare a package")
		}
		if strings.Count(body, "{") != strings.Count(body, "}") {
			return dErrors.New(dErrors.CodeInvalidInput,
				"rego body has unbalanced braces")
		}
		return nil
	default:
		return dErrors.New(dErrors.CodeInvalidInput,
			fmt.Sprintf("unknown syntax %q", syntax))
	}
}

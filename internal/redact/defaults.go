package redact

import (
	"github.com/google/uuid"

	"tutela/internal/classify"
)

// defaultRuleNamespace keeps builtin rule IDs stable across processes so
// audit entries referencing them stay reproducible.
var defaultRuleNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("tutela/redact/defaults"))

func defaultRule(name string, priority int, op Operation, r Rule) Rule {
	r.ID = uuid.NewSHA1(defaultRuleNamespace, []byte(name))
	r.Name = name
	r.Version = 1
	r.Priority = priority
	r.Operation = op
	return r
}

// DefaultRules is the builtin protection baseline applied when a caller
// supplies no rule set. Selection still goes through normal priority and
// sensitivity matching, so public and internal values pass through.
func DefaultRules() []Rule {
	return []Rule{
		defaultRule("default-cultural-protection", 10, OperationCulturalProtect, Rule{
			Matcher:             Matcher{Kind: MatchDataTypes, DataTypes: []classify.DataType{classify.TypeCulturalContent}},
			Sensitivities:       []classify.Sensitivity{classify.SensitivityRestricted, classify.SensitivitySacred},
			CulturallySensitive: true,
			Frameworks:          []string{"cultural-protocols"},
			AuditRequired:       true,
		}),
		defaultRule("default-card-mask", 20, OperationMask, Rule{
			Matcher:       Matcher{Kind: MatchDataTypes, DataTypes: []classify.DataType{classify.TypeCreditCard}},
			Sensitivities: []classify.Sensitivity{classify.SensitivityRestricted},
			Params:        Params{ShowFirst: 4, ShowLast: 4},
			Frameworks:    []string{"pci-dss"},
			AuditRequired: true,
		}),
		defaultRule("default-government-id-hash", 30, OperationHash, Rule{
			Matcher: Matcher{Kind: MatchDataTypes, DataTypes: []classify.DataType{
				classify.TypeTaxFileNumber, classify.TypeBankAccount,
			}},
			Sensitivities: []classify.Sensitivity{classify.SensitivityRestricted},
			Frameworks:    []string{"privacy-act-1988"},
			AuditRequired: true,
		}),
		defaultRule("default-contact-mask", 40, OperationMask, Rule{
			Matcher: Matcher{Kind: MatchDataTypes, DataTypes: []classify.DataType{
				classify.TypeEmail, classify.TypePhone, classify.TypePostalAddress,
			}},
			Sensitivities: []classify.Sensitivity{classify.SensitivityConfidential},
			Params:        Params{ShowFirst: 2, ShowLast: 4},
			Frameworks:    []string{"privacy-act-1988"},
			AuditRequired: true,
		}),
		defaultRule("default-identity-tokenize", 50, OperationTokenize, Rule{
			Matcher: Matcher{Kind: MatchDataTypes, DataTypes: []classify.DataType{
				classify.TypePersonName, classify.TypeBusinessNumber,
			}},
			Sensitivities: []classify.Sensitivity{classify.SensitivityConfidential},
			Params:        Params{Scope: "default"},
			AuditRequired: true,
		}),
	}
}

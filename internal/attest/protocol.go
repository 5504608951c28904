package attest

import (
	"fmt"
	"time"

	dErrors "tutela/pkg/domain-errors"
)

// ProtocolKind is the closed set of cultural protocol types.
type ProtocolKind string

const (
	ProtocolConsent      ProtocolKind = "consent"
	ProtocolApproval     ProtocolKind = "approval"
	ProtocolNotification ProtocolKind = "notification"
	ProtocolCeremony     ProtocolKind = "ceremony"
)

func (k ProtocolKind) Valid() bool {
	return k == ProtocolConsent || k == ProtocolApproval ||
		k == ProtocolNotification || k == ProtocolCeremony
}

// AuthorityRole identifies who speaks for a protocol.
type AuthorityRole string

const (
	RoleElder        AuthorityRole = "elder"
	RoleCommunityOrg AuthorityRole = "community_org"
)

// Authority is the responsible party for a cultural protocol.
type Authority struct {
	ID      string        `json:"id"`
	Role    AuthorityRole `json:"role"`
	Contact string        `json:"contact,omitempty"`
}

// RestrictionSeverity grades a seasonal window. Prohibited windows block
// signing outright; restricted windows allow signing but mark the record
// culturally restricted; advisory windows only lower compliance scores.
type RestrictionSeverity string

const (
	SeverityAdvisory   RestrictionSeverity = "advisory"
	SeverityRestricted RestrictionSeverity = "restricted"
	SeverityProhibited RestrictionSeverity = "prohibited"
)

func (s RestrictionSeverity) Valid() bool {
	return s == SeverityAdvisory || s == SeverityRestricted || s == SeverityProhibited
}

// SeasonalRestriction is a day-of-year window. StartDay > EndDay wraps
// through year end, so {330, 20} covers late November to late January.
type SeasonalRestriction struct {
	StartDay int                 `json:"start_day"`
	EndDay   int                 `json:"end_day"`
	Severity RestrictionSeverity `json:"severity"`
	Reason   string              `json:"reason,omitempty"`
}

// ActiveOn reports whether the window covers the given time's day of year.
func (r SeasonalRestriction) ActiveOn(t time.Time) bool {
	day := t.YearDay()
	if r.StartDay <= r.EndDay {
		return day >= r.StartDay && day <= r.EndDay
	}
	return day >= r.StartDay || day <= r.EndDay
}

// Witness declares how many witnesses of a role a protocol requires and
// which identities satisfied it.
type Witness struct {
	Role       string   `json:"role"`
	MinCount   int      `json:"min_count"`
	WitnessIDs []string `json:"witness_ids,omitempty"`
}

// Satisfied reports whether enough witnesses are recorded.
func (w Witness) Satisfied() bool {
	return len(w.WitnessIDs) >= w.MinCount
}

// ElderApproval records an elder's sign-off on a protocol.
type ElderApproval struct {
	Approved   bool       `json:"approved"`
	ApproverID string     `json:"approver_id"`
	ApprovedAt time.Time  `json:"approved_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// ValidAt reports whether the approval holds at the given time.
func (e ElderApproval) ValidAt(t time.Time) bool {
	if !e.Approved || e.ApproverID == "" {
		return false
	}
	if e.ExpiresAt != nil && !e.ExpiresAt.After(t) {
		return false
	}
	return true
}

// CulturalProtocol gates operations on culturally significant claims.
// Approval and ceremony protocols require a currently valid elder
// approval to sign.
type CulturalProtocol struct {
	Territory          string                `json:"territory"`
	Authority          Authority             `json:"authority"`
	Kind               ProtocolKind          `json:"kind"`
	RequiredConditions []string              `json:"required_conditions,omitempty"`
	Seasons            []SeasonalRestriction `json:"seasonal_restrictions,omitempty"`
	Witness            *Witness              `json:"witness,omitempty"`
	ElderApproval      *ElderApproval        `json:"elder_approval,omitempty"`
}

func (p CulturalProtocol) validate() error {
	if !p.Kind.Valid() {
		return dErrors.New(dErrors.CodeInvalidInput, "unknown protocol kind")
	}
	if p.Authority.ID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "protocol authority is required")
	}
	if p.Authority.Role != RoleElder && p.Authority.Role != RoleCommunityOrg {
		return dErrors.New(dErrors.CodeInvalidInput, "unknown authority role")
	}
	for _, s := range p.Seasons {
		if s.StartDay < 1 || s.StartDay > 366 || s.EndDay < 1 || s.EndDay > 366 {
			return dErrors.New(dErrors.CodeInvalidInput,
				fmt.Sprintf("seasonal window days must be in 1..366, got %d..%d", s.StartDay, s.EndDay))
		}
		if !s.Severity.Valid() {
			return dErrors.New(dErrors.CodeInvalidInput, "unknown restriction severity")
		}
	}
	if p.Witness != nil && p.Witness.MinCount < 1 {
		return dErrors.New(dErrors.CodeInvalidInput, "witness minimum must be at least 1")
	}
	return nil
}

// requiresElderApproval reports whether this protocol kind cannot be
// exercised without an elder's sign-off.
func (p CulturalProtocol) requiresElderApproval() bool {
	return p.Kind == ProtocolApproval || p.Kind == ProtocolCeremony
}

// checkProtocolsForSigning enforces every protocol's signing preconditions
// at time now. A violation aborts the whole sign: a prohibited seasonal
// window, a missing or lapsed elder approval, or an unmet witness minimum.
// The returned restricted flag is true when a restricted-severity window is
// active, which marks the record culturally restricted instead of active.
func checkProtocolsForSigning(protocols []CulturalProtocol, now time.Time) (restricted bool, err error) {
	for _, p := range protocols {
		for _, s := range p.Seasons {
			if !s.ActiveOn(now) {
				continue
			}
			switch s.Severity {
			case SeverityProhibited:
				return false, dErrors.New(dErrors.CodeCulturalApproval,
					fmt.Sprintf("prohibited seasonal window active for territory %s (days %d-%d)",
						p.Territory, s.StartDay, s.EndDay))
			case SeverityRestricted:
				restricted = true
			}
		}
		if p.requiresElderApproval() {
			if p.ElderApproval == nil || !p.ElderApproval.ValidAt(now) {
				return false, dErrors.New(dErrors.CodeCulturalApproval,
					fmt.Sprintf("%s protocol for territory %s requires a valid elder approval", p.Kind, p.Territory))
			}
		}
		if p.Witness != nil && !p.Witness.Satisfied() {
			return false, dErrors.New(dErrors.CodeCulturalApproval,
				fmt.Sprintf("protocol for territory %s requires %d %s witnesses, %d recorded",
					p.Territory, p.Witness.MinCount, p.Witness.Role, len(p.Witness.WitnessIDs)))
		}
	}
	return restricted, nil
}

// scoreProtocols grades cultural compliance at verification time on [0,1].
// Each protocol contributes the mean of four components: elder approval
// validity, witness satisfaction, seasonal standing now, and territorial
// completeness. No protocols means nothing to comply with and scores 1.
func scoreProtocols(protocols []CulturalProtocol, now time.Time) float64 {
	if len(protocols) == 0 {
		return 1
	}
	var total float64
	for _, p := range protocols {
		total += scoreProtocol(p, now)
	}
	return total / float64(len(protocols))
}

func scoreProtocol(p CulturalProtocol, now time.Time) float64 {
	approval := 1.0
	if p.requiresElderApproval() {
		approval = 0
		if p.ElderApproval != nil && p.ElderApproval.ValidAt(now) {
			approval = 1
		}
	}

	witness := 1.0
	if p.Witness != nil {
		if !p.Witness.Satisfied() {
			witness = float64(len(p.Witness.WitnessIDs)) / float64(p.Witness.MinCount)
		}
	}

	seasonal := 1.0
	for _, s := range p.Seasons {
		if !s.ActiveOn(now) {
			continue
		}
		switch s.Severity {
		case SeverityProhibited:
			seasonal = 0
		case SeverityRestricted:
			if seasonal > 0.5 {
				seasonal = 0.5
			}
		case SeverityAdvisory:
			if seasonal > 0.8 {
				seasonal = 0.8
			}
		}
	}

	territorial := 1.0
	if p.Territory == "" || p.Authority.ID == "" {
		territorial = 0.5
	}

	return (approval + witness + seasonal + territorial) / 4
}

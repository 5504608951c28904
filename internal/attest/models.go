// Package attest signs, stores, verifies, and revokes durable claims about
// subjects. Signed content is immutable: amendments produce a new version
// linked to its predecessor, and the only in-place mutations are status and
// revocation metadata, which sit outside the signed payload.
package attest

import (
	"time"

	"github.com/google/uuid"

	dErrors "tutela/pkg/domain-errors"
)

// AttestationType is the closed set of claim kinds the service issues.
type AttestationType string

const (
	TypeIdentity            AttestationType = "identity"
	TypeOwnership           AttestationType = "ownership"
	TypeAuthority           AttestationType = "authority"
	TypeCulturalAffiliation AttestationType = "cultural_affiliation"
	TypeCompliance          AttestationType = "compliance"
	TypeConsentRecord       AttestationType = "consent_record"
)

func (t AttestationType) Valid() bool {
	switch t {
	case TypeIdentity, TypeOwnership, TypeAuthority,
		TypeCulturalAffiliation, TypeCompliance, TypeConsentRecord:
		return true
	}
	return false
}

// SubjectKind names what an attestation is about.
type SubjectKind string

const (
	SubjectUser         SubjectKind = "user"
	SubjectOrganisation SubjectKind = "organisation"
	SubjectCommunity    SubjectKind = "community"
)

func (k SubjectKind) Valid() bool {
	return k == SubjectUser || k == SubjectOrganisation || k == SubjectCommunity
}

// Status is the attestation lifecycle position. Pending covers signed
// records whose validity window has not opened; expired and revoked are
// terminal.
type Status string

const (
	StatusPending              Status = "pending"
	StatusActive               Status = "active"
	StatusExpired              Status = "expired"
	StatusRevoked              Status = "revoked"
	StatusSuspended            Status = "suspended"
	StatusCulturallyRestricted Status = "culturally_restricted"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusExpired,
		StatusRevoked, StatusSuspended, StatusCulturallyRestricted:
		return true
	}
	return false
}

// Terminal reports whether no further transition leaves this status.
func (s Status) Terminal() bool {
	return s == StatusExpired || s == StatusRevoked
}

// RevocationReason is the closed enumeration revoke requests must use.
type RevocationReason string

const (
	ReasonConsentWithdrawn  RevocationReason = "consent_withdrawn"
	ReasonSuperseded        RevocationReason = "superseded"
	ReasonError             RevocationReason = "error"
	ReasonCulturalViolation RevocationReason = "cultural_violation"
	ReasonSecurityBreach    RevocationReason = "security_breach"
	ReasonExpiredAuthority  RevocationReason = "expired_authority"
)

func (r RevocationReason) Valid() bool {
	switch r {
	case ReasonConsentWithdrawn, ReasonSuperseded, ReasonError,
		ReasonCulturalViolation, ReasonSecurityBreach, ReasonExpiredAuthority:
		return true
	}
	return false
}

// Signature is the digital signature metadata attached at signing time.
// Value signs the canonical payload bytes joined with the decoded nonce.
type Signature struct {
	Algorithm Algorithm `json:"algorithm"`
	KeyID     string    `json:"key_id"`
	Value     string    `json:"value"`
	Nonce     string    `json:"nonce"`
	SignedAt  time.Time `json:"signed_at"`
}

// ImmutabilityProof pins the signed content. ContentHash covers the
// canonical payload; Root covers content hash, signature, and timestamp
// token together; ProofSignature signs the root with the signing key.
type ImmutabilityProof struct {
	ContentHash    string `json:"content_hash"`
	Root           string `json:"root"`
	ProofSignature string `json:"proof_signature"`
	TimestampToken string `json:"timestamp_token,omitempty"`
}

// RevocationInfo records why and by whom an attestation was revoked.
// CascadedFrom names the ancestor whose cascade reached this record.
type RevocationInfo struct {
	Reason       RevocationReason `json:"reason"`
	RevokedBy    string           `json:"revoked_by"`
	RevokedAt    time.Time        `json:"revoked_at"`
	Cascade      bool             `json:"cascade"`
	CascadedFrom *uuid.UUID       `json:"cascaded_from,omitempty"`
}

// Attestation is one signed version of a claim. The fields covered by the
// signature (everything up to and including Protocols) never change once
// signed; Status and Revocation are lifecycle metadata outside the sealed
// payload.
type Attestation struct {
	ID      uuid.UUID       `json:"id"`
	Version int             `json:"version"`
	Type    AttestationType `json:"type"`

	SubjectID   string      `json:"subject_id"`
	SubjectKind SubjectKind `json:"subject_kind"`
	AttesterID  string      `json:"attester_id"`

	IssuedAt   time.Time  `json:"issued_at"`
	ValidFrom  time.Time  `json:"valid_from"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`

	Status Status `json:"status"`

	Claims     map[string]any     `json:"claims"`
	Frameworks []string           `json:"frameworks,omitempty"`
	Protocols  []CulturalProtocol `json:"protocols,omitempty"`

	Signature Signature         `json:"signature"`
	Proof     ImmutabilityProof `json:"proof"`

	Revocation      *RevocationInfo `json:"revocation,omitempty"`
	Links           []uuid.UUID     `json:"links,omitempty"`
	PreviousVersion *uuid.UUID      `json:"previous_version,omitempty"`
}

// CulturallySensitive reports whether the attestation carries any cultural
// protocol.
func (a Attestation) CulturallySensitive() bool {
	return len(a.Protocols) > 0
}

// SignRequest asks the service to sign and store a new attestation. The
// signing algorithm comes from the named key.
type SignRequest struct {
	Type        AttestationType
	SubjectID   string
	SubjectKind SubjectKind
	AttesterID  string
	KeyID       string

	Claims     map[string]any
	Frameworks []string
	Protocols  []CulturalProtocol

	// ValidFrom zero means valid immediately.
	ValidFrom  time.Time
	ValidUntil *time.Time

	Links     []uuid.UUID
	RequestID string
}

func (r SignRequest) validate() error {
	if !r.Type.Valid() {
		return dErrors.New(dErrors.CodeInvalidInput, "unknown attestation type")
	}
	if r.SubjectID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "subject id is required")
	}
	if !r.SubjectKind.Valid() {
		return dErrors.New(dErrors.CodeInvalidInput, "unknown subject kind")
	}
	if r.AttesterID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "attester identity is required")
	}
	if r.KeyID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "signing key id is required")
	}
	if len(r.Claims) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "claims must not be empty")
	}
	if r.ValidUntil != nil && !r.ValidFrom.IsZero() && !r.ValidUntil.After(r.ValidFrom) {
		return dErrors.New(dErrors.CodeInvalidInput, "valid_until must be after valid_from")
	}
	for _, p := range r.Protocols {
		if err := p.validate(); err != nil {
			return err
		}
	}
	return nil
}

// AmendRequest re-signs an existing attestation with new content as
// version n+1. The superseded version is revoked with reason superseded.
type AmendRequest struct {
	AttestationID uuid.UUID
	AttesterID    string
	KeyID         string

	Claims     map[string]any
	Frameworks []string
	Protocols  []CulturalProtocol

	ValidFrom  time.Time
	ValidUntil *time.Time

	Links     []uuid.UUID
	RequestID string
}

// Refusal describes a compliance denial of a signing request. Refusals are
// decisions, not errors: infrastructure and validation problems surface as
// errors instead.
type Refusal struct {
	Reason string    `json:"reason"`
	Detail string    `json:"detail,omitempty"`
	Policy uuid.UUID `json:"policy,omitempty"`
}

// SignResult is the outcome of a sign or amend call. Exactly one of
// Attestation and Refusal is set.
type SignResult struct {
	Signed      bool         `json:"signed"`
	Attestation *Attestation `json:"attestation,omitempty"`
	Refusal     *Refusal     `json:"refusal,omitempty"`
}

// CheckKind names one verification dimension.
type CheckKind string

const (
	CheckSignature   CheckKind = "signature"
	CheckContentHash CheckKind = "content_hash"
	CheckTimestamp   CheckKind = "timestamp"
	CheckCultural    CheckKind = "cultural_compliance"
)

func (k CheckKind) Valid() bool {
	switch k {
	case CheckSignature, CheckContentHash, CheckTimestamp, CheckCultural:
		return true
	}
	return false
}

// TrustLevel grades the aggregate verification score.
type TrustLevel string

const (
	TrustLow     TrustLevel = "low"
	TrustMedium  TrustLevel = "medium"
	TrustHigh    TrustLevel = "high"
	TrustMaximum TrustLevel = "maximum"
)

// VerifyRequest selects an attestation and the checks to run. An empty
// check list runs signature, content hash, and cultural compliance, plus
// the timestamp check when a token is present.
type VerifyRequest struct {
	AttestationID uuid.UUID

	// Version zero verifies the latest version.
	Version int

	Checks    []CheckKind
	Verifier  string
	RequestID string
}

func (r VerifyRequest) validate() error {
	if r.AttestationID == uuid.Nil {
		return dErrors.New(dErrors.CodeInvalidInput, "attestation id is required")
	}
	if r.Verifier == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "verifier identity is required")
	}
	for _, c := range r.Checks {
		if !c.Valid() {
			return dErrors.New(dErrors.CodeInvalidInput, "unknown verification check")
		}
	}
	return nil
}

// CheckResult reports one verification dimension. Score feeds the weighted
// aggregate; Passed feeds the all-checks-pass gate.
type CheckResult struct {
	Kind   CheckKind `json:"kind"`
	Passed bool      `json:"passed"`
	Score  float64   `json:"score"`
	Detail string    `json:"detail,omitempty"`
}

// VerificationResult is the outcome of a verify call. Valid is true only
// when every performed check passed and the weighted score clears the
// threshold; a revoked or expired attestation is never valid.
type VerificationResult struct {
	AttestationID uuid.UUID     `json:"attestation_id"`
	Version       int           `json:"version"`
	Status        Status        `json:"status"`
	Valid         bool          `json:"valid"`
	TrustLevel    TrustLevel    `json:"trust_level"`
	Score         float64       `json:"score"`
	Checks        []CheckResult `json:"checks"`
	VerifiedAt    time.Time     `json:"verified_at"`
}

// RevokeRequest transitions an attestation to revoked. Cascade extends the
// revocation to every attestation that links the revoked one, transitively.
type RevokeRequest struct {
	AttestationID uuid.UUID
	Reason        RevocationReason
	RevokedBy     string
	Cascade       bool
	RequestID     string
}

func (r RevokeRequest) validate() error {
	if r.AttestationID == uuid.Nil {
		return dErrors.New(dErrors.CodeInvalidInput, "attestation id is required")
	}
	if !r.Reason.Valid() {
		return dErrors.New(dErrors.CodeInvalidInput, "unknown revocation reason")
	}
	if r.RevokedBy == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "revoker identity is required")
	}
	return nil
}

// CascadeItem is the per-item outcome of a cascading revocation. Cascades
// are always partial and enumerable, never all-or-nothing.
type CascadeItem struct {
	AttestationID uuid.UUID `json:"attestation_id"`
	Version       int       `json:"version"`
	Revoked       bool      `json:"revoked"`
	Skipped       bool      `json:"skipped,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// RevocationResult reports the primary revocation plus any cascade items.
type RevocationResult struct {
	AttestationID uuid.UUID     `json:"attestation_id"`
	Revoked       bool          `json:"revoked"`
	Cascade       []CascadeItem `json:"cascade,omitempty"`
	RevokedAt     time.Time     `json:"revoked_at"`
}

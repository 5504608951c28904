package attest

import (
	"context"
	"crypto"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"tutela/internal/attest/timestamp"
	"tutela/internal/audit"
	"tutela/internal/policy"
	"tutela/internal/redact"
	dErrors "tutela/pkg/domain-errors"
	"tutela/pkg/platform/aead"
	"tutela/pkg/platform/canonical"
	"tutela/pkg/platform/sentinel"
)

const (
	purposeKeys = "attest-key-storage"

	// signScope selects the policies consulted before any signing.
	signScope = "attestation:sign"

	initialVersion = 1

	defaultVerifyThreshold = 0.8

	// culturalPassFloor is the minimum protocol compliance score that still
	// counts as a passed cultural check.
	culturalPassFloor = 0.6
)

// checkWeights drives the aggregate verification score. Weights of checks
// that were not performed are redistributed across the ones that were.
var checkWeights = map[CheckKind]float64{
	CheckSignature:   0.4,
	CheckContentHash: 0.3,
	CheckTimestamp:   0.1,
	CheckCultural:    0.2,
}

// Auditor is the slice of the audit log the service records through.
type Auditor interface {
	Append(ctx context.Context, rec audit.Record) (audit.Entry, error)
}

// PolicyGate is the slice of the policy evaluator consulted before signing.
type PolicyGate interface {
	List(ctx context.Context, filter policy.ListFilter) ([]policy.Policy, error)
	EvaluateBundle(ctx context.Context, req policy.BundleRequest) (policy.BundleDecision, error)
}

// Protector is the slice of the redaction engine that shields sensitive
// claim fields before they are sealed into the signed payload.
type Protector interface {
	Redact(ctx context.Context, field string, value any, rules []redact.Rule, opCtx redact.OperationContext) (redact.Result, error)
}

// Service signs, verifies, and revokes attestations and manages their
// signing keys. Signed payloads are immutable: amendments create the next
// version, and only status and revocation metadata ever change in place.
type Service struct {
	store   Store
	keys    KeyStore
	auditor Auditor

	gate       PolicyGate
	gateEnv    string
	protector  Protector
	claimRules []redact.Rule
	tsa        timestamp.Client

	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer

	keySealKey []byte
	now        func() time.Time
	threshold  float64
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides timestamping in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithPolicyGate wires the signing gate. Policies carrying the signing
// scope and deployed to environment are bundled before every sign; an
// empty environment evaluates policy heads instead of pinned deployments.
func WithPolicyGate(gate PolicyGate, environment string) Option {
	return func(s *Service) {
		s.gate = gate
		s.gateEnv = environment
	}
}

// WithProtector runs every scalar claim field through the redaction engine
// before the claims are sealed into the signed payload.
func WithProtector(p Protector) Option {
	return func(s *Service) { s.protector = p }
}

// WithClaimRules overrides the rule set the protector applies to claims.
// Reversible rules are rejected at protection time; claims inside a signed
// payload can never be restored in place.
func WithClaimRules(rules []redact.Rule) Option {
	return func(s *Service) { s.claimRules = append([]redact.Rule{}, rules...) }
}

// WithTimestampAuthority countersigns every content hash with the external
// authority and embeds the token in the immutability proof.
func WithTimestampAuthority(tsa timestamp.Client) Option {
	return func(s *Service) { s.tsa = tsa }
}

// WithVerifyThreshold sets the minimum aggregate score a verification must
// clear to report valid.
func WithVerifyThreshold(t float64) Option {
	return func(s *Service) {
		if t > 0 && t <= 1 {
			s.threshold = t
		}
	}
}

// NewService derives the key-sealing key from secret. Store, key store,
// and auditor are mandatory; the policy gate, protector, and timestamp
// authority are optional collaborators.
func NewService(secret []byte, store Store, keys KeyStore, auditor Auditor, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("attest service requires a store")
	}
	if keys == nil {
		return nil, fmt.Errorf("attest service requires a key store")
	}
	if auditor == nil {
		return nil, fmt.Errorf("attest service requires an auditor")
	}
	sealKey, err := aead.DeriveKey(secret, purposeKeys)
	if err != nil {
		return nil, fmt.Errorf("derive key-sealing key: %w", err)
	}

	s := &Service{
		store:      store,
		keys:       keys,
		auditor:    auditor,
		tracer:     otel.Tracer("tutela/attest"),
		keySealKey: sealKey,
		now:        time.Now,
		threshold:  defaultVerifyThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ---- key lifecycle ----

// GenerateKey creates a fresh key pair for the algorithm. The private key
// is sealed before it reaches storage.
func (s *Service) GenerateKey(ctx context.Context, req GenerateKeyRequest) (Key, error) {
	if err := req.validate(); err != nil {
		return Key{}, err
	}

	signer, err := generateSigner(req.Algorithm)
	if err != nil {
		return Key{}, dErrors.Wrap(dErrors.CodeInternal, "generate key pair", err)
	}
	privDER, err := marshalPrivate(signer)
	if err != nil {
		return Key{}, dErrors.Wrap(dErrors.CodeInternal, "encode private key", err)
	}
	pubDER, err := marshalPublic(signer.Public())
	if err != nil {
		return Key{}, dErrors.Wrap(dErrors.CodeInternal, "encode public key", err)
	}
	sealed, err := aead.Seal(s.keySealKey, privDER)
	if err != nil {
		return Key{}, dErrors.Wrap(dErrors.CodeInternal, "seal private key", err)
	}

	k := Key{
		ID:                uuid.NewString(),
		Algorithm:         req.Algorithm,
		Owner:             req.Owner,
		Status:            KeyActive,
		CulturalAuthority: req.CulturalAuthority,
		Public:            pubDER,
		Private:           sealed,
		CreatedAt:         normalizePayloadTime(s.now()),
	}
	if err := s.keys.Insert(ctx, k); err != nil {
		return Key{}, fmt.Errorf("store key: %w", err)
	}

	if s.metrics != nil {
		s.metrics.KeysGenerated.WithLabelValues(string(k.Algorithm)).Inc()
	}
	s.auditBestEffort(ctx, audit.Record{
		EventType:    audit.EventKeyGenerated,
		Actor:        req.Actor,
		ResourceID:   k.ID,
		ResourceKind: "attestation_key",
		RequestID:    req.RequestID,
		Detail: map[string]any{
			"algorithm": string(k.Algorithm),
			"owner":     k.Owner,
		},
	})
	return k, nil
}

// RotateKey retires the key for signing and activates a replacement with
// the same algorithm and owner. Signatures made under the old key stay
// verifiable; only new signings move to the replacement.
func (s *Service) RotateKey(ctx context.Context, keyID, actor string) (Key, error) {
	if actor == "" {
		return Key{}, dErrors.New(dErrors.CodeInvalidInput, "actor identity is required")
	}
	old, err := s.keys.Get(ctx, keyID)
	if err != nil {
		return Key{}, err
	}
	if old.Status != KeyActive {
		return Key{}, fmt.Errorf("key %s is %s: %w", keyID, old.Status, sentinel.ErrInvalidState)
	}

	fresh, err := s.GenerateKey(ctx, GenerateKeyRequest{
		Algorithm:         old.Algorithm,
		Owner:             old.Owner,
		CulturalAuthority: old.CulturalAuthority,
		Actor:             actor,
	})
	if err != nil {
		return Key{}, err
	}

	rotatedAt := normalizePayloadTime(s.now())
	old.Status = KeyInactive
	old.RotatedAt = &rotatedAt
	old.ReplacedBy = fresh.ID
	if err := s.keys.Update(ctx, old); err != nil {
		return Key{}, fmt.Errorf("retire key: %w", err)
	}

	s.auditBestEffort(ctx, audit.Record{
		EventType:    audit.EventKeyRotated,
		Actor:        actor,
		ResourceID:   old.ID,
		ResourceKind: "attestation_key",
		Detail: map[string]any{
			"algorithm":   string(old.Algorithm),
			"replaced_by": fresh.ID,
		},
	})
	return fresh, nil
}

// RevokeKey voids a key entirely: it can no longer sign, and signatures
// made under it stop verifying.
func (s *Service) RevokeKey(ctx context.Context, keyID, actor string) (Key, error) {
	if actor == "" {
		return Key{}, dErrors.New(dErrors.CodeInvalidInput, "actor identity is required")
	}
	k, err := s.keys.Get(ctx, keyID)
	if err != nil {
		return Key{}, err
	}
	if k.Status == KeyRevoked {
		return Key{}, fmt.Errorf("key %s is already revoked: %w", keyID, sentinel.ErrInvalidState)
	}

	k.Status = KeyRevoked
	if err := s.keys.Update(ctx, k); err != nil {
		return Key{}, fmt.Errorf("revoke key: %w", err)
	}

	s.auditBestEffort(ctx, audit.Record{
		EventType:    audit.EventKeyRevoked,
		Actor:        actor,
		ResourceID:   k.ID,
		ResourceKind: "attestation_key",
		Detail:       map[string]any{"algorithm": string(k.Algorithm)},
	})
	return k, nil
}

func (s *Service) GetKey(ctx context.Context, keyID string) (Key, error) {
	return s.keys.Get(ctx, keyID)
}

func (s *Service) ListKeys(ctx context.Context, owner string) ([]Key, error) {
	return s.keys.List(ctx, owner)
}

// signingKey loads an active key and unseals its private half.
func (s *Service) signingKey(ctx context.Context, keyID string) (Key, crypto.Signer, error) {
	k, err := s.keys.Get(ctx, keyID)
	if err != nil {
		return Key{}, nil, err
	}
	if k.Status != KeyActive {
		return Key{}, nil, fmt.Errorf("key %s is %s and cannot sign: %w", keyID, k.Status, sentinel.ErrInvalidState)
	}
	privDER, err := aead.Open(s.keySealKey, k.Private)
	if err != nil {
		return Key{}, nil, dErrors.Wrap(dErrors.CodeInternal, "unseal private key", err)
	}
	signer, err := parsePrivate(privDER)
	if err != nil {
		return Key{}, nil, dErrors.Wrap(dErrors.CodeInternal, "restore private key", err)
	}
	return k, signer, nil
}

// ---- signing ----

// issueSpec carries the resolved inputs for one signing, shared by Sign
// and Amend.
type issueSpec struct {
	id          uuid.UUID
	version     int
	previous    *uuid.UUID
	amendedFrom int

	typ         AttestationType
	subjectID   string
	subjectKind SubjectKind
	attesterID  string
	keyID       string

	claims     map[string]any
	frameworks []string
	protocols  []CulturalProtocol

	validFrom  time.Time
	validUntil *time.Time
	links      []uuid.UUID
	requestID  string
}

// Sign validates cultural protocols, consults the policy gate, protects
// sensitive claim fields, and signs and stores a new attestation. A policy
// deny is a refusal decision; a protocol violation is an error; neither
// leaves a partial record.
func (s *Service) Sign(ctx context.Context, req SignRequest) (SignResult, error) {
	ctx, span := s.tracer.Start(ctx, "attest.sign",
		trace.WithAttributes(attribute.String("type", string(req.Type))))
	defer span.End()

	return s.signSpec(ctx, issueSpec{
		id:          uuid.New(),
		version:     initialVersion,
		typ:         req.Type,
		subjectID:   req.SubjectID,
		subjectKind: req.SubjectKind,
		attesterID:  req.AttesterID,
		keyID:       req.KeyID,
		claims:      req.Claims,
		frameworks:  req.Frameworks,
		protocols:   req.Protocols,
		validFrom:   req.ValidFrom,
		validUntil:  req.ValidUntil,
		links:       req.Links,
		requestID:   req.RequestID,
	})
}

// Amend re-signs an attestation with new content as the next version and
// revokes the superseded version. Subject and type are fixed for the life
// of an attestation; everything else may change.
func (s *Service) Amend(ctx context.Context, req AmendRequest) (SignResult, error) {
	ctx, span := s.tracer.Start(ctx, "attest.amend")
	defer span.End()

	if req.AttestationID == uuid.Nil {
		return SignResult{}, dErrors.New(dErrors.CodeInvalidInput, "attestation id is required")
	}
	current, err := s.store.Get(ctx, req.AttestationID)
	if err != nil {
		return SignResult{}, err
	}
	if current.Status.Terminal() {
		return SignResult{}, fmt.Errorf("attestation %s is %s and cannot be amended: %w",
			current.ID, current.Status, sentinel.ErrInvalidState)
	}

	spec := issueSpec{
		id:          current.ID,
		version:     current.Version + 1,
		previous:    previousVersionRef(current.ID),
		amendedFrom: current.Version,
		typ:         current.Type,
		subjectID:   current.SubjectID,
		subjectKind: current.SubjectKind,
		attesterID:  req.AttesterID,
		keyID:       req.KeyID,
		claims:      req.Claims,
		frameworks:  req.Frameworks,
		protocols:   req.Protocols,
		validFrom:   req.ValidFrom,
		validUntil:  req.ValidUntil,
		links:       req.Links,
		requestID:   req.RequestID,
	}
	if spec.claims == nil {
		spec.claims = current.Claims
	}
	if spec.frameworks == nil {
		spec.frameworks = current.Frameworks
	}
	if spec.protocols == nil {
		spec.protocols = current.Protocols
	}
	if spec.links == nil {
		spec.links = current.Links
	}

	result, err := s.signSpec(ctx, spec)
	if err != nil || !result.Signed {
		return result, err
	}

	supersededAt := normalizePayloadTime(s.now())
	err = s.store.SetStatus(ctx, current.ID, current.Version, StatusRevoked, &RevocationInfo{
		Reason:    ReasonSuperseded,
		RevokedBy: req.AttesterID,
		RevokedAt: supersededAt,
	})
	if err != nil {
		return result, dErrors.Wrap(dErrors.CodeInternal, "supersede previous version", err)
	}
	return result, nil
}

func (s *Service) signSpec(ctx context.Context, spec issueSpec) (SignResult, error) {
	start := time.Now()

	if err := (SignRequest{
		Type:        spec.typ,
		SubjectID:   spec.subjectID,
		SubjectKind: spec.subjectKind,
		AttesterID:  spec.attesterID,
		KeyID:       spec.keyID,
		Claims:      spec.claims,
		Frameworks:  spec.frameworks,
		Protocols:   spec.protocols,
		ValidFrom:   spec.validFrom,
		ValidUntil:  spec.validUntil,
	}).validate(); err != nil {
		return SignResult{}, err
	}

	restricted, err := checkProtocolsForSigning(spec.protocols, s.now())
	if err != nil {
		s.countSigning("cultural_refusal")
		s.auditBestEffort(ctx, audit.Record{
			EventType:           audit.EventAttestationRefused,
			Actor:               spec.attesterID,
			SubjectID:           spec.subjectID,
			ResourceKind:        "attestation",
			CulturallySensitive: true,
			Frameworks:          spec.frameworks,
			RequestID:           spec.requestID,
			Detail: map[string]any{
				"type":   string(spec.typ),
				"reason": err.Error(),
			},
		})
		return SignResult{}, err
	}

	for _, link := range spec.links {
		if _, err := s.store.Get(ctx, link); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return SignResult{}, dErrors.New(dErrors.CodeInvalidInput,
					fmt.Sprintf("linked attestation %s does not exist", link))
			}
			return SignResult{}, err
		}
	}

	if s.gate != nil {
		decision, gated, err := s.gatekeep(ctx, spec)
		if err != nil {
			return SignResult{}, err
		}
		if gated && decision.Outcome == policy.OutcomeDeny {
			refusal := &Refusal{
				Reason: "policy_denied",
				Policy: decision.DecidedBy,
			}
			if len(decision.Decisions) > 0 {
				last := decision.Decisions[len(decision.Decisions)-1]
				refusal.Detail = fmt.Sprintf("policy %s (%s) denied signing", last.PolicyName, last.Version)
			}
			s.countSigning("policy_refusal")
			s.auditBestEffort(ctx, audit.Record{
				EventType:    audit.EventAttestationRefused,
				Actor:        spec.attesterID,
				SubjectID:    spec.subjectID,
				ResourceKind: "attestation",
				Frameworks:   spec.frameworks,
				RequestID:    spec.requestID,
				Detail: map[string]any{
					"type":   string(spec.typ),
					"reason": "policy_denied",
					"policy": refusal.Policy.String(),
				},
			})
			return SignResult{Refusal: refusal}, nil
		}
	}

	claims := spec.claims
	if s.protector != nil {
		claims, err = s.protectClaims(ctx, spec)
		if err != nil {
			return SignResult{}, err
		}
	}

	att, err := s.issue(ctx, spec, claims, restricted)
	if err != nil {
		return SignResult{}, err
	}

	if err := s.store.Insert(ctx, att); err != nil {
		return SignResult{}, fmt.Errorf("store attestation: %w", err)
	}

	detail := map[string]any{
		"type":      string(att.Type),
		"version":   att.Version,
		"algorithm": string(att.Signature.Algorithm),
		"key_id":    att.Signature.KeyID,
		"status":    string(att.Status),
	}
	if spec.amendedFrom > 0 {
		detail["amended_from_version"] = spec.amendedFrom
	}
	_, err = s.auditor.Append(ctx, audit.Record{
		EventType:           audit.EventAttestationSigned,
		Actor:               att.AttesterID,
		SubjectID:           att.SubjectID,
		ResourceID:          att.ID.String(),
		ResourceKind:        "attestation",
		CulturallySensitive: att.CulturallySensitive(),
		Frameworks:          att.Frameworks,
		RequestID:           spec.requestID,
		Detail:              detail,
	})
	if err != nil {
		return SignResult{}, dErrors.Wrap(dErrors.CodeInternal, "record attestation signing", err)
	}

	s.countSigning("signed")
	if s.metrics != nil {
		s.metrics.SigningDuration.Observe(time.Since(start).Seconds())
	}
	if s.logger != nil {
		s.logger.DebugContext(ctx, "attestation signed",
			"attestation", att.ID, "version", att.Version,
			"type", att.Type, "status", att.Status)
	}
	return SignResult{Signed: true, Attestation: &att}, nil
}

// issue assembles the attestation, signs its canonical payload, and builds
// the immutability proof.
func (s *Service) issue(ctx context.Context, spec issueSpec, claims map[string]any, restricted bool) (Attestation, error) {
	now := normalizePayloadTime(s.now())
	validFrom := spec.validFrom
	if validFrom.IsZero() {
		validFrom = now
	} else {
		validFrom = normalizePayloadTime(validFrom)
	}
	var validUntil *time.Time
	if spec.validUntil != nil {
		t := normalizePayloadTime(*spec.validUntil)
		validUntil = &t
	}

	att := Attestation{
		ID:              spec.id,
		Version:         spec.version,
		Type:            spec.typ,
		SubjectID:       spec.subjectID,
		SubjectKind:     spec.subjectKind,
		AttesterID:      spec.attesterID,
		IssuedAt:        now,
		ValidFrom:       validFrom,
		ValidUntil:      validUntil,
		Status:          statusAtIssue(restricted, validFrom, now),
		Claims:          claims,
		Frameworks:      spec.frameworks,
		Protocols:       spec.protocols,
		Links:           spec.links,
		PreviousVersion: spec.previous,
	}

	payload, err := canonicalPayload(att)
	if err != nil {
		return Attestation{}, dErrors.Wrap(dErrors.CodeInvalidInput, "serialize claims", err)
	}

	key, signer, err := s.signingKey(ctx, spec.keyID)
	if err != nil {
		return Attestation{}, err
	}
	nonce, err := newNonce()
	if err != nil {
		return Attestation{}, dErrors.Wrap(dErrors.CodeInternal, "generate signing nonce", err)
	}
	sigBytes, err := signMessage(key.Algorithm, signer, signingInput(payload, nonce))
	if err != nil {
		return Attestation{}, dErrors.Wrap(dErrors.CodeInternal, "sign attestation", err)
	}
	att.Signature = Signature{
		Algorithm: key.Algorithm,
		KeyID:     key.ID,
		Value:     base64.StdEncoding.EncodeToString(sigBytes),
		Nonce:     hex.EncodeToString(nonce),
		SignedAt:  now,
	}

	contentHash := canonical.HashBytes(payload)
	tsToken := ""
	if s.tsa != nil {
		token, err := s.tsa.Stamp(ctx, contentHash)
		if err != nil {
			return Attestation{}, err
		}
		tsToken = token.Value
	}
	root := proofRoot(contentHash, att.Signature.Value, tsToken)
	proofSig, err := signMessage(key.Algorithm, signer, []byte(root))
	if err != nil {
		return Attestation{}, dErrors.Wrap(dErrors.CodeInternal, "sign immutability proof", err)
	}
	att.Proof = ImmutabilityProof{
		ContentHash:    contentHash,
		Root:           root,
		ProofSignature: base64.StdEncoding.EncodeToString(proofSig),
		TimestampToken: tsToken,
	}
	return att, nil
}

// statusAtIssue places a fresh attestation in the lifecycle. An active
// restricted-severity seasonal window marks the record culturally
// restricted; a future validity window leaves it pending.
func statusAtIssue(restricted bool, validFrom, now time.Time) Status {
	if restricted {
		return StatusCulturallyRestricted
	}
	if validFrom.After(now) {
		return StatusPending
	}
	return StatusActive
}

// gatekeep bundles the deployed signing-scope policies. gated is false
// when no policy carries the scope, which leaves signing ungoverned.
func (s *Service) gatekeep(ctx context.Context, spec issueSpec) (policy.BundleDecision, bool, error) {
	candidates, err := s.gate.List(ctx, policy.ListFilter{Scope: signScope})
	if err != nil {
		return policy.BundleDecision{}, false, dErrors.Wrap(dErrors.CodeInternal, "list signing policies", err)
	}

	var ids []uuid.UUID
	for _, p := range candidates {
		if s.gateEnv != "" && p.Deployments[s.gateEnv] == "" {
			continue
		}
		ids = append(ids, p.ID)
	}
	if len(ids) == 0 {
		return policy.BundleDecision{}, false, nil
	}

	decision, err := s.gate.EvaluateBundle(ctx, policy.BundleRequest{
		PolicyIDs:   ids,
		Environment: s.gateEnv,
		Actor:       spec.attesterID,
		RequestID:   spec.requestID,
		Input: map[string]any{
			"type":                 string(spec.typ),
			"subject_id":           spec.subjectID,
			"subject_kind":         string(spec.subjectKind),
			"attester_id":          spec.attesterID,
			"frameworks":           spec.frameworks,
			"culturally_sensitive": len(spec.protocols) > 0,
		},
	})
	if err != nil {
		return policy.BundleDecision{}, false, err
	}
	return decision, true, nil
}

// protectClaims walks every scalar claim leaf through the redaction
// engine. A valid elder approval on any protocol doubles as the cultural
// authority for approval-gated rules.
func (s *Service) protectClaims(ctx context.Context, spec issueSpec) (map[string]any, error) {
	opCtx := redact.OperationContext{
		Operator:  spec.attesterID,
		Subject:   spec.subjectID,
		Purpose:   "attestation_claims",
		RequestID: spec.requestID,
		Authority: claimAuthority(spec.protocols, s.now()),
	}
	return s.protectMap(ctx, spec.claims, opCtx)
}

func (s *Service) protectMap(ctx context.Context, claims map[string]any, opCtx redact.OperationContext) (map[string]any, error) {
	out := make(map[string]any, len(claims))
	for field, value := range claims {
		protected, err := s.protectValue(ctx, field, value, opCtx)
		if err != nil {
			return nil, err
		}
		out[field] = protected
	}
	return out, nil
}

func (s *Service) protectValue(ctx context.Context, field string, value any, opCtx redact.OperationContext) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return s.protectMap(ctx, v, opCtx)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			protected, err := s.protectValue(ctx, field, item, opCtx)
			if err != nil {
				return nil, err
			}
			out[i] = protected
		}
		return out, nil
	default:
		res, err := s.protector.Redact(ctx, field, v, s.claimRules, opCtx)
		if err != nil {
			return nil, err
		}
		return res.Value, nil
	}
}

func claimAuthority(protocols []CulturalProtocol, now time.Time) *redact.CulturalAuthority {
	for _, p := range protocols {
		if p.ElderApproval != nil && p.ElderApproval.ValidAt(now) {
			return &redact.CulturalAuthority{
				Approved:    true,
				AuthorityID: p.ElderApproval.ApproverID,
				Role:        string(p.Authority.Role),
			}
		}
	}
	return nil
}

// ---- verification ----

// checkFuncs is the dispatch table over verification dimensions. Only the
// timestamp check can fail with an error: an unreachable authority is
// infrastructure, not a verification outcome.
var checkFuncs = map[CheckKind]func(*Service, context.Context, Attestation, time.Time) (CheckResult, error){
	CheckSignature:   (*Service).checkSignature,
	CheckContentHash: (*Service).checkContentHash,
	CheckTimestamp:   (*Service).checkTimestamp,
	CheckCultural:    (*Service).checkCultural,
}

// Verify runs the requested checks and grades the result. Valid requires
// every performed check to pass, the weighted score to clear the
// threshold, and the attestation to be active: revoked and expired records
// never verify.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (VerificationResult, error) {
	ctx, span := s.tracer.Start(ctx, "attest.verify")
	defer span.End()

	if err := req.validate(); err != nil {
		return VerificationResult{}, err
	}

	var att Attestation
	var err error
	if req.Version > 0 {
		att, err = s.store.GetVersion(ctx, req.AttestationID, req.Version)
	} else {
		att, err = s.store.Get(ctx, req.AttestationID)
	}
	if err != nil {
		return VerificationResult{}, err
	}

	now := s.now()
	status := effectiveStatus(att, now)
	if status != att.Status {
		if err := s.store.SetStatus(ctx, att.ID, att.Version, status, att.Revocation); err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "status transition not persisted",
				"attestation", att.ID, "status", status, "error", err)
		}
		att.Status = status
	}

	checks := resolveChecks(req.Checks, att)
	results := make([]CheckResult, 0, len(checks))
	allPassed := true
	var weighted, totalWeight float64
	for _, kind := range checks {
		res, err := checkFuncs[kind](s, ctx, att, now)
		if err != nil {
			return VerificationResult{}, err
		}
		results = append(results, res)
		if !res.Passed {
			allPassed = false
		}
		w := checkWeights[kind]
		weighted += w * res.Score
		totalWeight += w
	}

	score := 0.0
	if totalWeight > 0 {
		score = weighted / totalWeight
	}
	result := VerificationResult{
		AttestationID: att.ID,
		Version:       att.Version,
		Status:        status,
		Valid:         allPassed && score >= s.threshold && status == StatusActive,
		TrustLevel:    trustTier(score),
		Score:         score,
		Checks:        results,
		VerifiedAt:    now,
	}

	if s.metrics != nil {
		s.metrics.Verifications.WithLabelValues(string(result.TrustLevel)).Inc()
	}
	s.auditBestEffort(ctx, audit.Record{
		EventType:           audit.EventAttestationVerified,
		Actor:               req.Verifier,
		SubjectID:           att.SubjectID,
		ResourceID:          att.ID.String(),
		ResourceKind:        "attestation",
		CulturallySensitive: att.CulturallySensitive(),
		RequestID:           req.RequestID,
		Detail: map[string]any{
			"valid":       result.Valid,
			"trust_level": string(result.TrustLevel),
			"score":       result.Score,
			"status":      string(status),
			"checks":      len(results),
		},
	})
	return result, nil
}

// resolveChecks applies the default check set: signature, content hash,
// and cultural compliance, plus the timestamp check when a token exists.
func resolveChecks(requested []CheckKind, att Attestation) []CheckKind {
	if len(requested) > 0 {
		seen := make(map[CheckKind]bool, len(requested))
		out := make([]CheckKind, 0, len(requested))
		for _, c := range requested {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
		return out
	}
	checks := []CheckKind{CheckSignature, CheckContentHash, CheckCultural}
	if att.Proof.TimestampToken != "" {
		checks = append(checks, CheckTimestamp)
	}
	return checks
}

func (s *Service) checkSignature(ctx context.Context, att Attestation, _ time.Time) (CheckResult, error) {
	res := CheckResult{Kind: CheckSignature}

	key, err := s.keys.Get(ctx, att.Signature.KeyID)
	if err != nil {
		res.Detail = "signing key unavailable"
		return res, nil
	}
	if !key.Status.CanVerify() {
		res.Detail = fmt.Sprintf("signing key is %s", key.Status)
		return res, nil
	}
	pub, err := parsePublic(key.Public)
	if err != nil {
		res.Detail = "public key unreadable"
		return res, nil
	}

	payload, err := canonicalPayload(att)
	if err != nil {
		res.Detail = "payload not canonicalizable"
		return res, nil
	}
	nonce, err := hex.DecodeString(att.Signature.Nonce)
	if err != nil {
		res.Detail = "malformed nonce"
		return res, nil
	}
	sig, err := base64.StdEncoding.DecodeString(att.Signature.Value)
	if err != nil {
		res.Detail = "malformed signature"
		return res, nil
	}

	if !verifyMessage(att.Signature.Algorithm, pub, signingInput(payload, nonce), sig) {
		res.Detail = "signature does not verify"
		return res, nil
	}
	res.Passed = true
	res.Score = 1
	return res, nil
}

func (s *Service) checkContentHash(ctx context.Context, att Attestation, _ time.Time) (CheckResult, error) {
	res := CheckResult{Kind: CheckContentHash}

	payload, err := canonicalPayload(att)
	if err != nil {
		res.Detail = "payload not canonicalizable"
		return res, nil
	}
	if canonical.HashBytes(payload) != att.Proof.ContentHash {
		res.Detail = "content hash diverges from stored payload"
		return res, nil
	}
	if proofRoot(att.Proof.ContentHash, att.Signature.Value, att.Proof.TimestampToken) != att.Proof.Root {
		res.Detail = "proof root diverges"
		return res, nil
	}

	key, err := s.keys.Get(ctx, att.Signature.KeyID)
	if err != nil || !key.Status.CanVerify() {
		res.Detail = "signing key unavailable for proof"
		return res, nil
	}
	pub, err := parsePublic(key.Public)
	if err != nil {
		res.Detail = "public key unreadable"
		return res, nil
	}
	proofSig, err := base64.StdEncoding.DecodeString(att.Proof.ProofSignature)
	if err != nil {
		res.Detail = "malformed proof signature"
		return res, nil
	}
	if !verifyMessage(att.Signature.Algorithm, pub, []byte(att.Proof.Root), proofSig) {
		res.Detail = "proof signature does not verify"
		return res, nil
	}
	res.Passed = true
	res.Score = 1
	return res, nil
}

func (s *Service) checkTimestamp(ctx context.Context, att Attestation, _ time.Time) (CheckResult, error) {
	res := CheckResult{Kind: CheckTimestamp}

	if att.Proof.TimestampToken == "" {
		res.Detail = "no timestamp token"
		return res, nil
	}
	if s.tsa == nil {
		res.Passed = true
		res.Score = 1
		res.Detail = "structural check only; no authority configured"
		return res, nil
	}
	valid, err := s.tsa.Check(ctx, att.Proof.TimestampToken, att.Proof.ContentHash)
	if err != nil {
		return CheckResult{}, err
	}
	if !valid {
		res.Detail = "authority rejected the token"
		return res, nil
	}
	res.Passed = true
	res.Score = 1
	return res, nil
}

func (s *Service) checkCultural(_ context.Context, att Attestation, now time.Time) (CheckResult, error) {
	score := scoreProtocols(att.Protocols, now)
	res := CheckResult{
		Kind:   CheckCultural,
		Passed: score >= culturalPassFloor,
		Score:  score,
	}
	if !res.Passed {
		res.Detail = "cultural protocol compliance below floor"
	}
	return res, nil
}

func trustTier(score float64) TrustLevel {
	switch {
	case score >= 0.95:
		return TrustMaximum
	case score >= 0.8:
		return TrustHigh
	case score >= 0.6:
		return TrustMedium
	default:
		return TrustLow
	}
}

// ---- revocation ----

// Revoke transitions the latest version to revoked. With cascade set,
// every attestation linking the revoked one is revoked too, transitively,
// with per-item results; one item's failure never aborts the rest.
func (s *Service) Revoke(ctx context.Context, req RevokeRequest) (RevocationResult, error) {
	ctx, span := s.tracer.Start(ctx, "attest.revoke",
		trace.WithAttributes(attribute.Bool("cascade", req.Cascade)))
	defer span.End()

	if err := req.validate(); err != nil {
		return RevocationResult{}, err
	}
	att, err := s.store.Get(ctx, req.AttestationID)
	if err != nil {
		return RevocationResult{}, err
	}
	if att.Status == StatusRevoked {
		return RevocationResult{}, fmt.Errorf("attestation %s is already revoked: %w", att.ID, sentinel.ErrInvalidState)
	}

	now := normalizePayloadTime(s.now())
	err = s.store.SetStatus(ctx, att.ID, att.Version, StatusRevoked, &RevocationInfo{
		Reason:    req.Reason,
		RevokedBy: req.RevokedBy,
		RevokedAt: now,
		Cascade:   req.Cascade,
	})
	if err != nil {
		return RevocationResult{}, fmt.Errorf("revoke attestation: %w", err)
	}

	if s.metrics != nil {
		s.metrics.Revocations.Inc()
	}
	s.auditBestEffort(ctx, audit.Record{
		EventType:           audit.EventAttestationRevoked,
		Actor:               req.RevokedBy,
		SubjectID:           att.SubjectID,
		ResourceID:          att.ID.String(),
		ResourceKind:        "attestation",
		CulturallySensitive: att.CulturallySensitive(),
		RequestID:           req.RequestID,
		Detail: map[string]any{
			"reason":  string(req.Reason),
			"cascade": req.Cascade,
			"version": att.Version,
		},
	})

	result := RevocationResult{AttestationID: att.ID, Revoked: true, RevokedAt: now}
	if req.Cascade {
		result.Cascade = s.cascade(ctx, att.ID, req, now)
	}
	return result, nil
}

// cascade walks the linking graph breadth-first from the revoked root.
// Already revoked dependents are skipped but still traversed so the
// closure stays transitive.
func (s *Service) cascade(ctx context.Context, root uuid.UUID, req RevokeRequest, now time.Time) []CascadeItem {
	visited := map[uuid.UUID]bool{root: true}
	queue := []uuid.UUID{root}
	var items []CascadeItem

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		dependents, err := s.store.ListLinking(ctx, current)
		if err != nil {
			items = append(items, CascadeItem{
				AttestationID: current,
				Error:         fmt.Sprintf("list dependents: %v", err),
			})
			continue
		}

		for _, dep := range dependents {
			if visited[dep.ID] {
				continue
			}
			visited[dep.ID] = true
			queue = append(queue, dep.ID)

			if dep.Status == StatusRevoked {
				items = append(items, CascadeItem{AttestationID: dep.ID, Version: dep.Version, Skipped: true})
				continue
			}

			from := current
			err := s.store.SetStatus(ctx, dep.ID, dep.Version, StatusRevoked, &RevocationInfo{
				Reason:       req.Reason,
				RevokedBy:    req.RevokedBy,
				RevokedAt:    now,
				Cascade:      true,
				CascadedFrom: &from,
			})
			if err != nil {
				items = append(items, CascadeItem{
					AttestationID: dep.ID,
					Version:       dep.Version,
					Error:         err.Error(),
				})
				continue
			}

			if s.metrics != nil {
				s.metrics.CascadedItems.Inc()
			}
			s.auditBestEffort(ctx, audit.Record{
				EventType:           audit.EventAttestationRevoked,
				Actor:               req.RevokedBy,
				SubjectID:           dep.SubjectID,
				ResourceID:          dep.ID.String(),
				ResourceKind:        "attestation",
				CulturallySensitive: dep.CulturallySensitive(),
				RequestID:           req.RequestID,
				Detail: map[string]any{
					"reason":        string(req.Reason),
					"cascaded_from": from.String(),
					"version":       dep.Version,
				},
			})
			items = append(items, CascadeItem{AttestationID: dep.ID, Version: dep.Version, Revoked: true})
		}
	}
	return items
}

// Suspend takes an attestation out of circulation without the finality of
// revocation.
func (s *Service) Suspend(ctx context.Context, id uuid.UUID, actor, reason string) (Attestation, error) {
	if actor == "" {
		return Attestation{}, dErrors.New(dErrors.CodeInvalidInput, "actor identity is required")
	}
	att, err := s.store.Get(ctx, id)
	if err != nil {
		return Attestation{}, err
	}
	if att.Status != StatusActive && att.Status != StatusCulturallyRestricted {
		return Attestation{}, fmt.Errorf("attestation %s is %s and cannot be suspended: %w",
			id, att.Status, sentinel.ErrInvalidState)
	}

	if err := s.store.SetStatus(ctx, att.ID, att.Version, StatusSuspended, att.Revocation); err != nil {
		return Attestation{}, fmt.Errorf("suspend attestation: %w", err)
	}
	att.Status = StatusSuspended

	s.auditBestEffort(ctx, audit.Record{
		EventType:    audit.EventAttestationSuspended,
		Actor:        actor,
		SubjectID:    att.SubjectID,
		ResourceID:   att.ID.String(),
		ResourceKind: "attestation",
		Detail:       map[string]any{"reason": reason, "version": att.Version},
	})
	return att, nil
}

// ---- reads ----

func (s *Service) Get(ctx context.Context, id uuid.UUID) (Attestation, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) History(ctx context.Context, id uuid.UUID) ([]Attestation, error) {
	return s.store.Versions(ctx, id)
}

func (s *Service) BySubject(ctx context.Context, subjectID string) ([]Attestation, error) {
	return s.store.ListBySubject(ctx, subjectID)
}

func (s *Service) countSigning(result string) {
	if s.metrics != nil {
		s.metrics.Signings.WithLabelValues(result).Inc()
	}
}

func (s *Service) auditBestEffort(ctx context.Context, rec audit.Record) {
	if _, err := s.auditor.Append(ctx, rec); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "audit append failed",
			"event_type", rec.EventType, "error", err)
	}
}

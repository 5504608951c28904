package redact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"tutela/internal/audit"
	"tutela/internal/classify"
	dErrors "tutela/pkg/domain-errors"
	"tutela/pkg/platform/aead"
	"tutela/pkg/platform/sentinel"
)

const (
	defaultHandleTTL        = 24 * time.Hour
	defaultBatchParallelism = 8

	purposeVault   = "redact-vault-encryption"
	purposeHandles = "redact-handle-signing"
	purposeTokens  = "redact-tokenize"
)

// Auditor is the slice of the audit log the engine records through.
type Auditor interface {
	Append(ctx context.Context, rec audit.Record) (audit.Entry, error)
}

type mode int

const (
	modeRedact mode = iota
	modeTransform
)

// Service is the redaction/transformation engine. Redact applies
// irreversible protection; Transform seals the original into the vault and
// issues a handle; Reverse restores it under a separate audit trail.
type Service struct {
	classifier *classify.Classifier
	vault      Vault
	auditor    Auditor
	logger     *slog.Logger
	metrics    *Metrics
	tracer     trace.Tracer

	handles  *handleIssuer
	vaultKey []byte
	secret   []byte

	now              func() time.Time
	handleTTL        time.Duration
	batchParallelism int
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClassifier swaps in a caller-configured classifier.
func WithClassifier(c *classify.Classifier) Option {
	return func(s *Service) { s.classifier = c }
}

// WithClock overrides timestamping in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithHandleTTL bounds how long transformation handles and their vault
// entries stay reversible when the matched rule declares no retention.
func WithHandleTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.handleTTL = ttl
		}
	}
}

// WithBatchParallelism caps concurrent items in batch redaction.
func WithBatchParallelism(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchParallelism = n
		}
	}
}

// NewService derives the engine's vault and handle keys from secret. The
// auditor is mandatory: an engine that cannot record is misconfigured.
func NewService(secret []byte, vault Vault, auditor Auditor, opts ...Option) (*Service, error) {
	if vault == nil {
		return nil, fmt.Errorf("redact service requires a vault")
	}
	if auditor == nil {
		return nil, fmt.Errorf("redact service requires an auditor")
	}

	vaultKey, err := aead.DeriveKey(secret, purposeVault)
	if err != nil {
		return nil, fmt.Errorf("derive vault key: %w", err)
	}
	handleKey, err := aead.DeriveKey(secret, purposeHandles)
	if err != nil {
		return nil, fmt.Errorf("derive handle key: %w", err)
	}

	s := &Service{
		classifier:       classify.New(),
		vault:            vault,
		auditor:          auditor,
		tracer:           otel.Tracer("tutela/redact"),
		handles:          newHandleIssuer(handleKey),
		vaultKey:         vaultKey,
		secret:           secret,
		now:              time.Now,
		handleTTL:        defaultHandleTTL,
		batchParallelism: defaultBatchParallelism,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Classify runs the classifier and records that it happened. The raw value
// never reaches the audit trail.
func (s *Service) Classify(ctx context.Context, value any, opCtx OperationContext) (classify.ClassifiedValue, error) {
	if opCtx.Operator == "" {
		return classify.ClassifiedValue{}, dErrors.New(dErrors.CodeInvalidInput, "operator identity is required")
	}

	cv := s.classifier.Classify(value)

	_, err := s.auditor.Append(ctx, audit.Record{
		EventType:           audit.EventClassificationPerformed,
		Actor:               opCtx.Operator,
		SubjectID:           opCtx.Subject,
		DataType:            string(cv.DataType),
		Sensitivity:         string(cv.Sensitivity),
		CulturallySensitive: cv.CulturallySensitive,
		RequestID:           opCtx.RequestID,
		Detail: map[string]any{
			"confidence": cv.Confidence,
			"matches":    cv.Matches,
			"purpose":    opCtx.Purpose,
		},
	})
	if err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "classification audit failed", "error", err)
	}
	return cv, nil
}

// Redact applies the first matching irreversible rule by priority.
func (s *Service) Redact(ctx context.Context, field string, value any, rules []Rule, opCtx OperationContext) (Result, error) {
	return s.apply(ctx, modeRedact, field, value, rules, opCtx)
}

// Transform applies the first matching reversible rule and returns the
// protected value together with an opaque reversal handle.
func (s *Service) Transform(ctx context.Context, field string, value any, rules []Rule, opCtx OperationContext) (Result, error) {
	return s.apply(ctx, modeTransform, field, value, rules, opCtx)
}

func (s *Service) apply(ctx context.Context, m mode, field string, value any, rules []Rule, opCtx OperationContext) (Result, error) {
	spanName := "redact.redact"
	eventApplied := audit.EventRedactionApplied
	if m == modeTransform {
		spanName = "redact.transform"
		eventApplied = audit.EventTransformationApplied
	}
	ctx, span := s.tracer.Start(ctx, spanName)
	defer span.End()
	start := time.Now()

	if opCtx.Operator == "" {
		return Result{}, dErrors.New(dErrors.CodeInvalidInput, "operator identity is required")
	}

	ruleset := rules
	if len(ruleset) == 0 {
		ruleset = DefaultRules()
	}
	for _, r := range ruleset {
		if err := r.Validate(); err != nil {
			return Result{}, err
		}
	}

	cv := s.classifier.Classify(value)
	span.SetAttributes(
		attribute.String("data_type", string(cv.DataType)),
		attribute.String("sensitivity", string(cv.Sensitivity)),
	)

	rule, matched := selectRule(ruleset, field, cv)
	if !matched {
		result := Result{
			Value:       value,
			Applied:     false,
			DataType:    cv.DataType,
			Sensitivity: cv.Sensitivity,
			AppliedAt:   s.now(),
		}
		s.auditBestEffort(ctx, audit.Record{
			EventType:           eventApplied,
			Actor:               opCtx.Operator,
			SubjectID:           opCtx.Subject,
			DataType:            string(cv.DataType),
			Sensitivity:         string(cv.Sensitivity),
			CulturallySensitive: cv.CulturallySensitive,
			RequestID:           opCtx.RequestID,
			Detail: map[string]any{
				"applied": false,
				"field":   field,
				"purpose": opCtx.Purpose,
			},
		})
		return result, nil
	}

	// A culturally sensitive rule without authority approval is a hard
	// refusal, never a silent pass-through.
	if (rule.CulturallySensitive || rule.Operation == OperationCulturalProtect) && !opCtx.approvedAuthority() {
		if s.metrics != nil {
			s.metrics.Refusals.WithLabelValues("cultural_approval").Inc()
		}
		s.auditBestEffort(ctx, audit.Record{
			EventType:           audit.EventRedactionRefused,
			Actor:               opCtx.Operator,
			SubjectID:           opCtx.Subject,
			ResourceID:          rule.ID.String(),
			ResourceKind:        "redaction_rule",
			DataType:            string(cv.DataType),
			Sensitivity:         string(cv.Sensitivity),
			CulturallySensitive: true,
			Frameworks:          rule.Frameworks,
			RequestID:           opCtx.RequestID,
			Detail: map[string]any{
				"reason":    "cultural_approval_required",
				"rule_name": rule.Name,
				"field":     field,
			},
		})
		return Result{}, dErrors.New(dErrors.CodeCulturalApproval,
			fmt.Sprintf("rule %s requires cultural authority approval", rule.Name))
	}

	if m == modeRedact && rule.Reversible {
		return Result{}, dErrors.New(dErrors.CodeInvalidInput,
			fmt.Sprintf("matched rule %s is reversible; use Transform", rule.Name))
	}
	if m == modeTransform && !rule.Reversible {
		return Result{}, dErrors.New(dErrors.CodeInvalidInput,
			fmt.Sprintf("matched rule %s is not reversible; use Redact", rule.Name))
	}

	out, handle, err := s.dispatch(ctx, rule, value, cv)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		Value:       out,
		Applied:     true,
		DataType:    cv.DataType,
		Sensitivity: cv.Sensitivity,
		Operation:   rule.Operation,
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		RuleVersion: rule.Version,
		Reversible:  rule.Reversible,
		Handle:      handle,
		AppliedAt:   s.now(),
	}

	rec := audit.Record{
		EventType:           eventApplied,
		Actor:               opCtx.Operator,
		SubjectID:           opCtx.Subject,
		ResourceID:          rule.ID.String(),
		ResourceKind:        "redaction_rule",
		DataType:            string(cv.DataType),
		Sensitivity:         string(cv.Sensitivity),
		CulturallySensitive: cv.CulturallySensitive || rule.CulturallySensitive,
		Frameworks:          rule.Frameworks,
		RequestID:           opCtx.RequestID,
		Detail: map[string]any{
			"operation":    string(rule.Operation),
			"rule_name":    rule.Name,
			"rule_version": rule.Version,
			"field":        field,
			"reversible":   rule.Reversible,
			"purpose":      opCtx.Purpose,
			"consent_ref":  opCtx.ConsentRef,
		},
	}
	if _, err := s.auditor.Append(ctx, rec); err != nil {
		if rule.AuditRequired {
			return Result{}, dErrors.Wrap(dErrors.CodeInternal, "record protection operation", err)
		}
		if s.logger != nil {
			s.logger.WarnContext(ctx, "protection audit failed", "rule", rule.Name, "error", err)
		}
	}

	if s.metrics != nil {
		s.metrics.Operations.WithLabelValues(string(rule.Operation)).Inc()
		s.metrics.OperationDuration.Observe(time.Since(start).Seconds())
	}
	if s.logger != nil {
		s.logger.DebugContext(ctx, "protection applied",
			"operation", rule.Operation, "rule", rule.Name,
			"data_type", cv.DataType, "sensitivity", cv.Sensitivity)
	}
	return result, nil
}

// selectRule returns the first rule by ascending priority that matches the
// field/classification and covers the classified sensitivity.
func selectRule(rules []Rule, field string, cv classify.ClassifiedValue) (Rule, bool) {
	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})
	for _, r := range ordered {
		if r.Matcher.Matches(field, cv.DataType) && r.appliesTo(cv.Sensitivity) {
			return r, true
		}
	}
	return Rule{}, false
}

// dispatch executes the matched operation and returns the protected value
// plus a reversal handle when the rule is reversible.
func (s *Service) dispatch(ctx context.Context, rule Rule, value any, cv classify.ClassifiedValue) (any, string, error) {
	switch rule.Operation {
	case OperationMask:
		return maskValue(stringify(value), rule.Params), "", nil

	case OperationHash:
		b, err := payloadBytes(value)
		if err != nil {
			return nil, "", dErrors.Wrap(dErrors.CodeInvalidInput, "hash value", err)
		}
		out, err := hashValue(b)
		if err != nil {
			return nil, "", dErrors.Wrap(dErrors.CodeInternal, "hash value", err)
		}
		return out, "", nil

	case OperationRemove:
		return removedPlaceholder, "", nil

	case OperationTokenize:
		return s.tokenize(ctx, rule, value, cv)

	case OperationEncrypt:
		ct, entry, err := s.sealEntry(rule, value, cv)
		if err != nil {
			return nil, "", err
		}
		if err := s.vault.Put(ctx, entry); err != nil {
			return nil, "", dErrors.Wrap(dErrors.CodeInternal, "store vault entry", err)
		}
		handle, err := s.handles.Issue(entry.ID, rule.Params.Scope, rule.Operation, s.entryTTL(rule))
		if err != nil {
			return nil, "", dErrors.Wrap(dErrors.CodeInternal, "issue handle", err)
		}
		return encodeEnvelope(ct), handle, nil

	case OperationCulturalProtect:
		if !rule.Reversible {
			return culturalPlaceholder, "", nil
		}
		_, entry, err := s.sealEntry(rule, value, cv)
		if err != nil {
			return nil, "", err
		}
		if err := s.vault.Put(ctx, entry); err != nil {
			return nil, "", dErrors.Wrap(dErrors.CodeInternal, "store vault entry", err)
		}
		handle, err := s.handles.Issue(entry.ID, rule.Params.Scope, rule.Operation, s.entryTTL(rule))
		if err != nil {
			return nil, "", dErrors.Wrap(dErrors.CodeInternal, "issue handle", err)
		}
		return culturalPlaceholder, handle, nil

	default:
		return nil, "", dErrors.New(dErrors.CodeInvalidInput,
			fmt.Sprintf("unknown operation %q", rule.Operation))
	}
}

// tokenize derives the deterministic token and, for reversible rules,
// ensures a shared vault entry exists for it.
func (s *Service) tokenize(ctx context.Context, rule Rule, value any, cv classify.ClassifiedValue) (any, string, error) {
	scope := rule.Params.Scope
	if scope == "" {
		scope = "default"
	}
	key, err := aead.DeriveKey(s.secret, purposeTokens+":"+scope)
	if err != nil {
		return nil, "", dErrors.Wrap(dErrors.CodeInternal, "derive token key", err)
	}
	b, err := payloadBytes(value)
	if err != nil {
		return nil, "", dErrors.Wrap(dErrors.CodeInvalidInput, "tokenize value", err)
	}
	token := tokenValue(key, b)

	if !rule.Reversible {
		return token, "", nil
	}

	entry, err := s.vault.GetByToken(ctx, scope, token)
	switch {
	case errors.Is(err, sentinel.ErrNotFound), errors.Is(err, sentinel.ErrExpired):
		_, fresh, sealErr := s.sealEntry(rule, value, cv)
		if sealErr != nil {
			return nil, "", sealErr
		}
		fresh.Scope = scope
		fresh.Token = token
		if putErr := s.vault.Put(ctx, fresh); putErr != nil {
			return nil, "", dErrors.Wrap(dErrors.CodeInternal, "store vault entry", putErr)
		}
		entry = fresh
	case err != nil:
		return nil, "", dErrors.Wrap(dErrors.CodeInternal, "resolve token", err)
	}

	handle, err := s.handles.Issue(entry.ID, scope, rule.Operation, s.entryTTL(rule))
	if err != nil {
		return nil, "", dErrors.Wrap(dErrors.CodeInternal, "issue handle", err)
	}
	return token, handle, nil
}

// sealEntry encrypts the original into a fresh vault entry.
func (s *Service) sealEntry(rule Rule, value any, cv classify.ClassifiedValue) ([]byte, VaultEntry, error) {
	plain, err := sealPayload(value)
	if err != nil {
		return nil, VaultEntry{}, dErrors.Wrap(dErrors.CodeInvalidInput, "encode value", err)
	}
	ct, err := aead.Seal(s.vaultKey, plain)
	if err != nil {
		return nil, VaultEntry{}, dErrors.Wrap(dErrors.CodeInternal, "seal value", err)
	}
	now := s.now()
	return ct, VaultEntry{
		ID:          uuid.New(),
		Scope:       rule.Params.Scope,
		Ciphertext:  ct,
		DataType:    cv.DataType,
		Sensitivity: cv.Sensitivity,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.entryTTL(rule)),
	}, nil
}

// entryTTL is the reversal window: the rule's retention when declared,
// otherwise the service default.
func (s *Service) entryTTL(rule Rule) time.Duration {
	if rule.Retention > 0 {
		return rule.Retention
	}
	return s.handleTTL
}

// Reverse restores the original value behind a transformation handle. The
// reversal is audited separately from the transformation; if it cannot be
// recorded it does not happen.
func (s *Service) Reverse(ctx context.Context, handle, requester, justification string) (any, error) {
	ctx, span := s.tracer.Start(ctx, "redact.reverse")
	defer span.End()

	if requester == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "requester identity is required")
	}
	if justification == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "justification is required")
	}

	claims, err := s.handles.Validate(handle)
	if err != nil {
		s.refuseReversal(ctx, requester, justification, "", err)
		return nil, err
	}

	entryID, err := uuid.Parse(claims.EntryID)
	if err != nil {
		err = dErrors.New(dErrors.CodeUnauthorized, "invalid transformation handle")
		s.refuseReversal(ctx, requester, justification, claims.EntryID, err)
		return nil, err
	}

	entry, err := s.vault.Get(ctx, entryID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		err = dErrors.New(dErrors.CodeNotFound, "transformation no longer reversible")
		s.refuseReversal(ctx, requester, justification, claims.EntryID, err)
		return nil, err
	case errors.Is(err, sentinel.ErrExpired):
		err = dErrors.New(dErrors.CodeExpired, "transformation handle has expired")
		s.refuseReversal(ctx, requester, justification, claims.EntryID, err)
		return nil, err
	case err != nil:
		return nil, dErrors.Wrap(dErrors.CodeInternal, "fetch vault entry", err)
	}

	plain, err := aead.Open(s.vaultKey, entry.Ciphertext)
	if err != nil {
		err = dErrors.Wrap(dErrors.CodeIntegrityViolation, "vault entry failed authentication", err)
		s.refuseReversal(ctx, requester, justification, claims.EntryID, err)
		return nil, err
	}
	value, err := openPayload(plain)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "decode vault payload", err)
	}

	_, err = s.auditor.Append(ctx, audit.Record{
		EventType:    audit.EventTransformationReversed,
		Actor:        requester,
		ResourceID:   entry.ID.String(),
		ResourceKind: "vault_entry",
		DataType:     string(entry.DataType),
		Sensitivity:  string(entry.Sensitivity),
		Detail: map[string]any{
			"justification": justification,
			"operation":     claims.Operation,
			"scope":         claims.Scope,
		},
	})
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "record reversal", err)
	}

	if s.metrics != nil {
		s.metrics.Reversals.Inc()
	}
	return value, nil
}

// refuseReversal records a failed reversal attempt. Best effort: the
// refusal error itself is what the caller gets.
func (s *Service) refuseReversal(ctx context.Context, requester, justification, entryID string, cause error) {
	if s.metrics != nil {
		s.metrics.ReversalRefusals.Inc()
	}
	s.auditBestEffort(ctx, audit.Record{
		EventType:    audit.EventReversalRefused,
		Actor:        requester,
		ResourceID:   entryID,
		ResourceKind: "vault_entry",
		Detail: map[string]any{
			"justification": justification,
			"reason":        cause.Error(),
		},
	})
}

// RedactBatch applies Redact to every item with bounded parallelism.
// Items fail independently unless fail-fast is requested.
func (s *Service) RedactBatch(ctx context.Context, items []BatchItem, rules []Rule, opCtx OperationContext, opts BatchOptions) (BatchResult, error) {
	ctx, span := s.tracer.Start(ctx, "redact.batch",
		trace.WithAttributes(attribute.Int("items", len(items))))
	defer span.End()

	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = s.batchParallelism
	}

	results := make([]ItemResult, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for i, item := range items {
		g.Go(func() error {
			res, err := s.Redact(gctx, item.Field, item.Value, rules, opCtx)
			if err != nil {
				results[i] = ItemResult{Index: i, Field: item.Field, Err: err}
				if opts.FailFast {
					return err
				}
				return nil
			}
			results[i] = ItemResult{Index: i, Field: item.Field, Result: &res}
			return nil
		})
	}
	err := g.Wait()

	batch := BatchResult{Results: results}
	for i := range results {
		switch {
		case results[i].Result != nil:
			batch.Succeeded++
		case results[i].Err != nil:
			batch.Failed++
		}
	}
	if s.metrics != nil {
		s.metrics.BatchItems.Add(float64(len(items)))
	}

	if opts.FailFast && err != nil {
		return batch, err
	}
	return batch, nil
}

func (s *Service) auditBestEffort(ctx context.Context, rec audit.Record) {
	if _, err := s.auditor.Append(ctx, rec); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "audit append failed",
			"event_type", rec.EventType, "error", err)
	}
}

func stringify(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}

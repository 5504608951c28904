package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	dErrors "tutela/pkg/domain-errors"
	"tutela/pkg/platform/sentinel"
)

const defaultAppendRetries = 8

// Service owns the hash chains. Every other component records through
// Append; nothing here depends on them, so the log stays at the bottom of
// the dependency order.
type Service struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
	metrics   *Metrics
	tracer    trace.Tracer

	now           func() time.Time
	appendRetries int
	exportSecret  []byte
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithPublisher mirrors appended entries to a stream. Optional; the chain
// is complete without it.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithClock overrides entry timestamping in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithAppendRetries bounds how often a contended append re-reads the head
// before giving up.
func WithAppendRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.appendRetries = n
		}
	}
}

// WithExportSecret keys export checksum HMACs and export encryption.
func WithExportSecret(secret []byte) Option {
	return func(s *Service) { s.exportSecret = secret }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:         store,
		tracer:        otel.Tracer("tutela/audit"),
		now:           time.Now,
		appendRetries: defaultAppendRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append seals a record into its chain. The previous-hash pointer is the
// serialization point: on conflict the head is re-read and the entry
// re-sealed, up to the retry budget.
func (s *Service) Append(ctx context.Context, rec Record) (Entry, error) {
	ctx, span := s.tracer.Start(ctx, "audit.append")
	defer span.End()

	if rec.EventType == "" {
		return Entry{}, dErrors.New(dErrors.CodeInvalidInput, "audit record requires an event type")
	}
	if rec.Actor == "" {
		return Entry{}, dErrors.New(dErrors.CodeInvalidInput, "audit record requires an actor")
	}
	chainID := rec.ChainID
	if chainID == "" {
		chainID = DefaultChain
	}
	span.SetAttributes(
		attribute.String("audit.chain", chainID),
		attribute.String("audit.event_type", string(rec.EventType)),
	)

	frameworks := rec.Frameworks
	if len(frameworks) == 0 {
		frameworks = nil
	}
	detail := maskDetail(rec.Detail)

	start := time.Now()
	var entry Entry
	for attempt := 0; ; attempt++ {
		seq := int64(0)
		prevHash := GenesisHash
		head, err := s.store.Head(ctx, chainID)
		switch {
		case err == nil:
			seq = head.Sequence + 1
			prevHash = head.ContentHash
		case !errors.Is(err, sentinel.ErrNotFound):
			return Entry{}, fmt.Errorf("read chain head: %w", err)
		}

		entry = Entry{
			ID:                  uuid.New(),
			ChainID:             chainID,
			Sequence:            seq,
			Timestamp:           normalizeTime(s.now()),
			EventType:           rec.EventType,
			Category:            rec.EventType.Category(),
			Actor:               rec.Actor,
			SubjectID:           rec.SubjectID,
			ResourceID:          rec.ResourceID,
			ResourceKind:        rec.ResourceKind,
			DataType:            rec.DataType,
			Sensitivity:         rec.Sensitivity,
			CulturallySensitive: rec.CulturallySensitive,
			Frameworks:          frameworks,
			RequestID:           rec.RequestID,
			Detail:              detail,
			PrevHash:            prevHash,
		}
		hash, err := ComputeHash(entry)
		if err != nil {
			return Entry{}, err
		}
		entry.ContentHash = hash

		err = s.store.Append(ctx, entry)
		if err == nil {
			break
		}
		if !errors.Is(err, sentinel.ErrConflict) {
			return Entry{}, fmt.Errorf("append audit entry: %w", err)
		}
		if s.metrics != nil {
			s.metrics.AppendConflicts.Inc()
		}
		if attempt >= s.appendRetries {
			return Entry{}, dErrors.Wrap(dErrors.CodeConflict, "audit chain contention exhausted retries", err)
		}
	}

	if s.metrics != nil {
		s.metrics.Appended.WithLabelValues(string(entry.Category)).Inc()
		s.metrics.AppendDuration.Observe(time.Since(start).Seconds())
	}
	if s.publisher != nil {
		s.publisher.Publish(entry)
	}
	if s.logger != nil {
		s.logger.DebugContext(ctx, "audit entry appended",
			"chain", chainID, "sequence", entry.Sequence, "event_type", entry.EventType)
	}
	return entry, nil
}

// Query returns entries matching the criteria in stable (chain, sequence)
// order.
func (s *Service) Query(ctx context.Context, criteria QueryCriteria) ([]Entry, error) {
	ctx, span := s.tracer.Start(ctx, "audit.query")
	defer span.End()

	entries, err := s.store.Query(ctx, criteria)
	if err != nil {
		return nil, fmt.Errorf("query audit chain: %w", err)
	}
	return entries, nil
}

// ValidateIntegrity recomputes every hash in the requested range and reports
// divergences. A negative to validates through the current head; from > 0
// anchors on the predecessor entry when one exists.
func (s *Service) ValidateIntegrity(ctx context.Context, chainID string, from, to int64) (IntegrityReport, error) {
	ctx, span := s.tracer.Start(ctx, "audit.validate_integrity")
	defer span.End()

	if chainID == "" {
		chainID = DefaultChain
	}
	if from < 0 {
		from = 0
	}

	expectedPrev := GenesisHash
	startKnown := from == 0
	if from > 0 {
		anchor, err := s.store.Range(ctx, chainID, from-1, from-1)
		if err != nil {
			return IntegrityReport{}, fmt.Errorf("read chain anchor: %w", err)
		}
		if len(anchor) == 1 {
			expectedPrev = anchor[0].ContentHash
			startKnown = true
		} else {
			startKnown = false
		}
	}

	entries, err := s.store.Range(ctx, chainID, from, to)
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("read chain range: %w", err)
	}

	findings := verifyChain(entries, expectedPrev, startKnown)
	report := IntegrityReport{
		ChainID:        chainID,
		EntriesChecked: len(entries),
		Findings:       findings,
		Intact:         len(findings) == 0,
		CheckedAt:      s.now().UTC(),
	}

	if s.metrics != nil {
		s.metrics.IntegrityChecks.Inc()
		for _, f := range findings {
			s.metrics.IntegrityFindings.WithLabelValues(string(f.Severity)).Inc()
		}
	}
	if !report.Intact && s.logger != nil {
		s.logger.ErrorContext(ctx, "audit chain integrity violation",
			"chain", chainID, "findings", len(findings))
	}
	return report, nil
}

// sensitiveDetailKeys are masked wherever they appear in a detail map.
// Callers are expected to pre-sanitize; this is the backstop that keeps raw
// values out of the chain even when they don't.
var sensitiveDetailKeys = map[string]struct{}{
	"value":     {},
	"raw":       {},
	"raw_value": {},
	"original":  {},
	"claim":     {},
	"claims":    {},
	"secret":    {},
	"token":     {},
	"key":       {},
	"password":  {},
}

const maskedDetail = "[protected]"

func maskDetail(detail map[string]any) map[string]any {
	if detail == nil {
		return nil
	}
	out := make(map[string]any, len(detail))
	for k, v := range detail {
		if _, sensitive := sensitiveDetailKeys[k]; sensitive {
			out[k] = maskedDetail
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = maskDetail(nested)
			continue
		}
		out[k] = v
	}
	return out
}

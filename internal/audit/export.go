package audit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	dErrors "tutela/pkg/domain-errors"
	"tutela/pkg/platform/aead"
)

// ExportFormat enumerates the declared serializations. Encrypted exports
// seal the JSON form; the checksum pair always covers the bytes handed to
// the caller.
type ExportFormat string

const (
	FormatJSON      ExportFormat = "json"
	FormatYAML      ExportFormat = "yaml"
	FormatCSV       ExportFormat = "csv"
	FormatEncrypted ExportFormat = "encrypted"
)

const (
	exportEncryptionPurpose = "audit-export-encryption"
	exportIntegrityPurpose  = "audit-export-integrity"
)

// ExportRequest selects, filters, and serializes chain entries for
// compliance review.
type ExportRequest struct {
	Criteria        QueryCriteria
	Format          ExportFormat
	ExcludeCultural bool
	ExcludePersonal bool
	RequestedBy     string
}

// ExportResult carries the serialized entries plus the checksum pair:
// a content hash anyone can recompute and an HMAC only holders of the
// export secret can forge.
type ExportResult struct {
	Format        ExportFormat `json:"format"`
	Data          []byte       `json:"data"`
	ContentHash   string       `json:"content_hash"`
	IntegrityHMAC string       `json:"integrity_hmac"`
	EntryCount    int          `json:"entry_count"`
	GeneratedAt   time.Time    `json:"generated_at"`
}

// personalDataTypes mirrors the classifier's identifier tags for people.
// The log deliberately stores them as plain strings so it depends on
// nothing above it.
var personalDataTypes = map[string]struct{}{
	"credit_card":     {},
	"bank_account":    {},
	"tax_file_number": {},
	"email":           {},
	"phone":           {},
	"postal_address":  {},
	"person_name":     {},
}

// Export serializes matching entries and appends an export_performed entry
// recording that the data left the system.
func (s *Service) Export(ctx context.Context, req ExportRequest) (ExportResult, error) {
	ctx, span := s.tracer.Start(ctx, "audit.export")
	defer span.End()

	if req.RequestedBy == "" {
		return ExportResult{}, dErrors.New(dErrors.CodeInvalidInput, "export requires a requester identity")
	}
	switch req.Format {
	case FormatJSON, FormatYAML, FormatCSV, FormatEncrypted:
	default:
		return ExportResult{}, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown export format %q", req.Format))
	}
	if len(s.exportSecret) == 0 {
		return ExportResult{}, dErrors.New(dErrors.CodeInvalidInput, "export requires a configured export secret")
	}

	entries, err := s.store.Query(ctx, req.Criteria)
	if err != nil {
		return ExportResult{}, fmt.Errorf("query entries for export: %w", err)
	}
	filtered := filterExport(entries, req)

	data, err := s.encodeExport(filtered, req.Format)
	if err != nil {
		return ExportResult{}, err
	}

	sum := sha256.Sum256(data)
	contentHash := hex.EncodeToString(sum[:])
	integrityHMAC, err := s.exportHMAC(data)
	if err != nil {
		return ExportResult{}, err
	}

	result := ExportResult{
		Format:        req.Format,
		Data:          data,
		ContentHash:   contentHash,
		IntegrityHMAC: integrityHMAC,
		EntryCount:    len(filtered),
		GeneratedAt:   s.now().UTC(),
	}

	if _, err := s.Append(ctx, Record{
		ChainID:   req.Criteria.ChainID,
		EventType: EventExportPerformed,
		Actor:     req.RequestedBy,
		Detail: map[string]any{
			"format":           string(req.Format),
			"entries":          len(filtered),
			"export_hash":      contentHash,
			"exclude_cultural": req.ExcludeCultural,
			"exclude_personal": req.ExcludePersonal,
		},
	}); err != nil {
		return ExportResult{}, fmt.Errorf("record export: %w", err)
	}

	if s.metrics != nil {
		s.metrics.Exports.WithLabelValues(string(req.Format)).Inc()
	}
	return result, nil
}

// VerifyExport recomputes the checksum pair over an export's bytes.
func VerifyExport(secret []byte, result ExportResult) error {
	sum := sha256.Sum256(result.Data)
	if hex.EncodeToString(sum[:]) != result.ContentHash {
		return dErrors.New(dErrors.CodeIntegrityViolation, "export content hash mismatch")
	}
	macKey, err := aead.DeriveKey(secret, exportIntegrityPurpose)
	if err != nil {
		return err
	}
	mac := hmac.New(sha256.New, macKey)
	mac.Write(result.Data)
	if !hmac.Equal(mac.Sum(nil), mustHex(result.IntegrityHMAC)) {
		return dErrors.New(dErrors.CodeIntegrityViolation, "export integrity HMAC mismatch")
	}
	return nil
}

// DecryptExport opens an encrypted export produced with the same secret.
func DecryptExport(secret, data []byte) ([]byte, error) {
	key, err := aead.DeriveKey(secret, exportEncryptionPurpose)
	if err != nil {
		return nil, err
	}
	return aead.Open(key, data)
}

func filterExport(entries []Entry, req ExportRequest) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if req.ExcludeCultural && e.CulturallySensitive {
			continue
		}
		if req.ExcludePersonal {
			if _, personal := personalDataTypes[e.DataType]; personal {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

func (s *Service) encodeExport(entries []Entry, format ExportFormat) ([]byte, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode json export: %w", err)
		}
		return data, nil

	case FormatYAML:
		// Round-trip through JSON so the YAML keys match the wire names.
		raw, err := json.Marshal(entries)
		if err != nil {
			return nil, fmt.Errorf("encode export: %w", err)
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return nil, fmt.Errorf("encode export: %w", err)
		}
		data, err := yaml.Marshal(generic)
		if err != nil {
			return nil, fmt.Errorf("encode yaml export: %w", err)
		}
		return data, nil

	case FormatCSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		header := []string{
			"chain_id", "sequence", "timestamp", "event_type", "category",
			"actor", "subject_id", "resource_id", "resource_kind",
			"data_type", "sensitivity", "culturally_sensitive", "frameworks",
			"content_hash", "prev_hash",
		}
		if err := w.Write(header); err != nil {
			return nil, fmt.Errorf("encode csv export: %w", err)
		}
		for _, e := range entries {
			row := []string{
				e.ChainID,
				strconv.FormatInt(e.Sequence, 10),
				e.Timestamp.UTC().Format(time.RFC3339Nano),
				string(e.EventType),
				string(e.Category),
				e.Actor,
				e.SubjectID,
				e.ResourceID,
				e.ResourceKind,
				e.DataType,
				e.Sensitivity,
				strconv.FormatBool(e.CulturallySensitive),
				strings.Join(e.Frameworks, ";"),
				e.ContentHash,
				e.PrevHash,
			}
			if err := w.Write(row); err != nil {
				return nil, fmt.Errorf("encode csv export: %w", err)
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, fmt.Errorf("encode csv export: %w", err)
		}
		return buf.Bytes(), nil

	case FormatEncrypted:
		plain, err := json.Marshal(entries)
		if err != nil {
			return nil, fmt.Errorf("encode export: %w", err)
		}
		key, err := aead.DeriveKey(s.exportSecret, exportEncryptionPurpose)
		if err != nil {
			return nil, err
		}
		sealed, err := aead.Seal(key, plain)
		if err != nil {
			return nil, fmt.Errorf("encrypt export: %w", err)
		}
		return sealed, nil
	}
	return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown export format %q", format))
}

func (s *Service) exportHMAC(data []byte) (string, error) {
	macKey, err := aead.DeriveKey(s.exportSecret, exportIntegrityPurpose)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, macKey)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

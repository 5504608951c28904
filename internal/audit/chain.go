package audit

import (
	"fmt"
	"time"

	"tutela/pkg/platform/canonical"
)

// timestampLayout fixes six fractional digits so the hashed form of a
// timestamp is identical before and after a relational round-trip, which
// stores microseconds.
const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// hashedFields is the exact projection of an Entry that participates in the
// content hash. The canonical serializer sorts keys, so changing this shape
// invalidates every previously stored hash; treat it as frozen.
type hashedFields struct {
	ID                  string         `json:"id"`
	ChainID             string         `json:"chain_id"`
	Sequence            int64          `json:"sequence"`
	Timestamp           string         `json:"timestamp"`
	EventType           string         `json:"event_type"`
	Category            string         `json:"category"`
	Actor               string         `json:"actor"`
	SubjectID           string         `json:"subject_id"`
	ResourceID          string         `json:"resource_id"`
	ResourceKind        string         `json:"resource_kind"`
	DataType            string         `json:"data_type"`
	Sensitivity         string         `json:"sensitivity"`
	CulturallySensitive bool           `json:"culturally_sensitive"`
	Frameworks          []string       `json:"frameworks"`
	RequestID           string         `json:"request_id"`
	Detail              map[string]any `json:"detail"`
	PrevHash            string         `json:"prev_hash"`
}

// ComputeHash derives the content hash over the canonical JSON of every
// entry field except ContentHash itself. PrevHash is included, which is what
// chains the entries: recomputing from sequence zero reproduces every stored
// hash only if nothing was altered.
func ComputeHash(e Entry) (string, error) {
	fields := hashedFields{
		ID:                  e.ID.String(),
		ChainID:             e.ChainID,
		Sequence:            e.Sequence,
		Timestamp:           e.Timestamp.UTC().Format(timestampLayout),
		EventType:           string(e.EventType),
		Category:            string(e.Category),
		Actor:               e.Actor,
		SubjectID:           e.SubjectID,
		ResourceID:          e.ResourceID,
		ResourceKind:        e.ResourceKind,
		DataType:            e.DataType,
		Sensitivity:         e.Sensitivity,
		CulturallySensitive: e.CulturallySensitive,
		Frameworks:          e.Frameworks,
		RequestID:           e.RequestID,
		Detail:              e.Detail,
		PrevHash:            e.PrevHash,
	}
	hash, err := canonical.Hash(fields)
	if err != nil {
		return "", fmt.Errorf("hash audit entry: %w", err)
	}
	return hash, nil
}

// normalizeTime clamps an entry timestamp to the precision the hash layout
// and the relational store agree on.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// verifyChain walks a contiguous slice of entries and reports every
// divergence. The caller supplies the expected previous hash for the first
// element (GenesisHash when the slice starts a chain).
func verifyChain(entries []Entry, expectedPrev string, startKnown bool) []Finding {
	var findings []Finding
	prevHash := expectedPrev
	var prevSeq int64
	for i, e := range entries {
		recomputed, err := ComputeHash(e)
		switch {
		case err != nil:
			findings = append(findings, Finding{
				Sequence:    e.Sequence,
				EntryID:     e.ID,
				Severity:    FindingCritical,
				Description: fmt.Sprintf("entry is unhashable: %v", err),
			})
		case recomputed != e.ContentHash:
			findings = append(findings, Finding{
				Sequence:    e.Sequence,
				EntryID:     e.ID,
				Severity:    FindingCritical,
				Description: "stored content hash diverges from recomputed hash",
			})
		}

		if i > 0 && e.Sequence != prevSeq+1 {
			findings = append(findings, Finding{
				Sequence:    e.Sequence,
				EntryID:     e.ID,
				Severity:    FindingMedium,
				Description: fmt.Sprintf("sequence gap: expected %d", prevSeq+1),
			})
		}

		if (i > 0 || startKnown) && e.PrevHash != prevHash {
			findings = append(findings, Finding{
				Sequence:    e.Sequence,
				EntryID:     e.ID,
				Severity:    FindingHigh,
				Description: "previous-hash link does not match predecessor",
			})
		}

		prevHash = e.ContentHash
		prevSeq = e.Sequence
	}
	return findings
}

package attest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tutela/pkg/platform/canonical"
)

// payloadTimeLayout fixes six fractional digits so the signed form of a
// timestamp is identical before and after a relational round-trip, which
// stores microseconds.
const payloadTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// signedFields is the exact projection of an attestation the signature and
// content hash cover. Status and revocation metadata stay outside so
// lifecycle transitions never break the sealed payload. The canonical
// serializer sorts keys; treat this shape as frozen.
type signedFields struct {
	ID          string             `json:"id"`
	Version     int                `json:"version"`
	Type        string             `json:"type"`
	SubjectID   string             `json:"subject_id"`
	SubjectKind string             `json:"subject_kind"`
	AttesterID  string             `json:"attester_id"`
	IssuedAt    string             `json:"issued_at"`
	ValidFrom   string             `json:"valid_from"`
	ValidUntil  string             `json:"valid_until"`
	Claims      map[string]any     `json:"claims"`
	Frameworks  []string           `json:"frameworks"`
	Protocols   []CulturalProtocol `json:"protocols"`
	Links       []string           `json:"links"`
}

// canonicalPayload derives the byte-exact signing payload from an
// attestation's sealed fields. Re-deriving it from a stored record must
// reproduce the bytes signed at issuance.
func canonicalPayload(a Attestation) ([]byte, error) {
	validUntil := ""
	if a.ValidUntil != nil {
		validUntil = a.ValidUntil.UTC().Format(payloadTimeLayout)
	}
	links := make([]string, len(a.Links))
	for i, l := range a.Links {
		links[i] = l.String()
	}
	fields := signedFields{
		ID:          a.ID.String(),
		Version:     a.Version,
		Type:        string(a.Type),
		SubjectID:   a.SubjectID,
		SubjectKind: string(a.SubjectKind),
		AttesterID:  a.AttesterID,
		IssuedAt:    a.IssuedAt.UTC().Format(payloadTimeLayout),
		ValidFrom:   a.ValidFrom.UTC().Format(payloadTimeLayout),
		ValidUntil:  validUntil,
		Claims:      a.Claims,
		Frameworks:  a.Frameworks,
		Protocols:   a.Protocols,
		Links:       links,
	}
	payload, err := canonical.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("canonicalize attestation payload: %w", err)
	}
	return payload, nil
}

// signingInput joins the canonical payload with the signature nonce. The
// nonce makes re-signing identical content produce distinct signatures.
func signingInput(payload, nonce []byte) []byte {
	input := make([]byte, 0, len(payload)+1+len(nonce))
	input = append(input, payload...)
	input = append(input, 0)
	return append(input, nonce...)
}

// proofRoot hashes content hash, signature value, and timestamp token into
// the single root the proof signature covers. The token slot participates
// even when empty so adding a token later cannot collide with a tokenless
// root.
func proofRoot(contentHash, signatureValue, timestampToken string) string {
	h := sha256.New()
	h.Write([]byte(contentHash))
	h.Write([]byte{0})
	h.Write([]byte(signatureValue))
	h.Write([]byte{0})
	h.Write([]byte(timestampToken))
	return hex.EncodeToString(h.Sum(nil))
}

// normalizePayloadTime clamps a timestamp to the precision the signed
// layout and the relational store agree on.
func normalizePayloadTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// effectiveStatus resolves the status an attestation holds at time now,
// accounting for validity-window transitions the store has not observed
// yet. Terminal and administrative statuses pass through unchanged.
func effectiveStatus(a Attestation, now time.Time) Status {
	switch a.Status {
	case StatusPending:
		if expired(a, now) {
			return StatusExpired
		}
		if !a.ValidFrom.After(now) {
			return StatusActive
		}
	case StatusActive:
		if expired(a, now) {
			return StatusExpired
		}
	}
	return a.Status
}

func expired(a Attestation, now time.Time) bool {
	return a.ValidUntil != nil && !a.ValidUntil.After(now)
}

func previousVersionRef(id uuid.UUID) *uuid.UUID {
	ref := id
	return &ref
}

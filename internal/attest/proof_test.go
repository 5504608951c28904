package attest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAttestation() Attestation {
	until := time.Date(2027, 3, 1, 0, 0, 0, 0, time.UTC)
	return Attestation{
		ID:          uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		Version:     1,
		Type:        TypeIdentity,
		SubjectID:   "user-42",
		SubjectKind: SubjectUser,
		AttesterID:  "registrar",
		IssuedAt:    time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC),
		ValidFrom:   time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC),
		ValidUntil:  &until,
		Status:      StatusActive,
		Claims:      map[string]any{"level": "gold", "age_over": 18},
		Frameworks:  []string{"APP"},
	}
}

func TestCanonicalPayloadDeterministic(t *testing.T) {
	a := sampleAttestation()

	first, err := canonicalPayload(a)
	require.NoError(t, err)
	second, err := canonicalPayload(a)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Rebuilding the claims map in another insertion order changes nothing.
	b := sampleAttestation()
	b.Claims = map[string]any{"age_over": 18, "level": "gold"}
	third, err := canonicalPayload(b)
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestCanonicalPayloadExcludesLifecycle(t *testing.T) {
	a := sampleAttestation()
	base, err := canonicalPayload(a)
	require.NoError(t, err)

	// Status, revocation, signature, and proof sit outside the payload.
	a.Status = StatusRevoked
	a.Revocation = &RevocationInfo{Reason: ReasonError, RevokedBy: "ops", RevokedAt: time.Now()}
	a.Signature = Signature{Algorithm: AlgorithmEd25519, KeyID: "k", Value: "sig", Nonce: "00"}
	a.Proof = ImmutabilityProof{ContentHash: "h", Root: "r", ProofSignature: "p"}
	same, err := canonicalPayload(a)
	require.NoError(t, err)
	assert.Equal(t, base, same)

	// Signed content changes do move the payload.
	a.Claims["level"] = "platinum"
	changed, err := canonicalPayload(a)
	require.NoError(t, err)
	assert.NotEqual(t, base, changed)
}

func TestCanonicalPayloadCoversValidity(t *testing.T) {
	a := sampleAttestation()
	base, err := canonicalPayload(a)
	require.NoError(t, err)

	shifted := sampleAttestation()
	later := shifted.ValidUntil.Add(time.Hour)
	shifted.ValidUntil = &later
	moved, err := canonicalPayload(shifted)
	require.NoError(t, err)
	assert.NotEqual(t, base, moved)

	open := sampleAttestation()
	open.ValidUntil = nil
	unbounded, err := canonicalPayload(open)
	require.NoError(t, err)
	assert.NotEqual(t, base, unbounded)
}

func TestSigningInputSeparatesNonce(t *testing.T) {
	payload := []byte("payload")
	nonce := []byte{0xAA, 0xBB}

	input := signingInput(payload, nonce)
	assert.Equal(t, append(append([]byte("payload"), 0), 0xAA, 0xBB), input)

	// Shifting bytes across the separator changes the input.
	assert.NotEqual(t, signingInput([]byte("payloadA"), []byte{0xBB}), signingInput(payload, []byte{0x41, 0xBB}))
}

func TestProofRootBindsAllParts(t *testing.T) {
	root := proofRoot("hash", "sig", "token")
	assert.Len(t, root, 64)
	assert.Equal(t, root, proofRoot("hash", "sig", "token"))

	assert.NotEqual(t, root, proofRoot("hash2", "sig", "token"))
	assert.NotEqual(t, root, proofRoot("hash", "sig2", "token"))
	assert.NotEqual(t, root, proofRoot("hash", "sig", "token2"))

	// The empty token slot still participates.
	assert.NotEqual(t, proofRoot("hash", "sig", ""), proofRoot("hash", "sig", "t"))
}

func TestNormalizePayloadTime(t *testing.T) {
	sydney, err := time.LoadLocation("Australia/Sydney")
	require.NoError(t, err)
	in := time.Date(2026, 3, 1, 21, 30, 0, 123456789, sydney)

	out := normalizePayloadTime(in)
	assert.Equal(t, time.UTC, out.Location())
	assert.Equal(t, 123456000, out.Nanosecond())
	assert.True(t, out.Equal(in.Truncate(time.Microsecond)))

	// Round-tripping through the payload layout is lossless afterwards.
	parsed, err := time.Parse(payloadTimeLayout, out.Format(payloadTimeLayout))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(out))
}

func TestEffectiveStatus(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	a := sampleAttestation()
	a.Status = StatusPending
	a.ValidFrom = now.Add(-time.Hour)
	assert.Equal(t, StatusActive, effectiveStatus(a, now))

	a.ValidFrom = now.Add(time.Hour)
	assert.Equal(t, StatusPending, effectiveStatus(a, now))

	past := now.Add(-time.Minute)
	a.ValidFrom = now.Add(-time.Hour)
	a.ValidUntil = &past
	assert.Equal(t, StatusExpired, effectiveStatus(a, now))

	a = sampleAttestation()
	a.Status = StatusActive
	a.ValidUntil = &past
	assert.Equal(t, StatusExpired, effectiveStatus(a, now))

	// Revoked and suspended never transition lazily.
	a.Status = StatusRevoked
	assert.Equal(t, StatusRevoked, effectiveStatus(a, now))
	a.Status = StatusSuspended
	assert.Equal(t, StatusSuspended, effectiveStatus(a, now))
}

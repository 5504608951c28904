package attest

import (
	"context"

	"github.com/google/uuid"
)

// Store persists attestation versions. Insert is the only way content
// enters the store and rows are never deleted; SetStatus touches only the
// lifecycle columns outside the signed payload.
//
// Errors: lookups wrap sentinel.ErrNotFound; Insert wraps
// sentinel.ErrConflict on a duplicate (id, version).
type Store interface {
	Insert(ctx context.Context, a Attestation) error

	// Get returns the newest version.
	Get(ctx context.Context, id uuid.UUID) (Attestation, error)
	GetVersion(ctx context.Context, id uuid.UUID, version int) (Attestation, error)

	// Versions returns every version, newest first.
	Versions(ctx context.Context, id uuid.UUID) ([]Attestation, error)

	// ListBySubject returns the newest version of every attestation about
	// the subject, ordered by issuance time.
	ListBySubject(ctx context.Context, subjectID string) ([]Attestation, error)

	// ListLinking returns the newest version of every attestation whose
	// Links contain id. Cascading revocation walks this edge.
	ListLinking(ctx context.Context, id uuid.UUID) ([]Attestation, error)

	// SetStatus updates status and revocation metadata on one version.
	SetStatus(ctx context.Context, id uuid.UUID, version int, status Status, rev *RevocationInfo) error
}

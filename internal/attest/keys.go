package attest

import (
	"context"
	"time"

	dErrors "tutela/pkg/domain-errors"
)

// KeyStatus is the key lifecycle position. Inactive keys no longer sign
// but still verify, so rotation never invalidates old signatures. Revoked
// keys fail verification too.
type KeyStatus string

const (
	KeyActive   KeyStatus = "active"
	KeyInactive KeyStatus = "inactive"
	KeyRevoked  KeyStatus = "revoked"
	KeyExpired  KeyStatus = "expired"
)

// CanVerify reports whether signatures made under this key still check out.
func (s KeyStatus) CanVerify() bool {
	return s == KeyActive || s == KeyInactive || s == KeyExpired
}

// Key is one signing key pair. Private holds the PKCS#8 DER sealed under
// the service secret; it never leaves storage unsealed.
type Key struct {
	ID                string    `json:"id"`
	Algorithm         Algorithm `json:"algorithm"`
	Owner             string    `json:"owner"`
	Status            KeyStatus `json:"status"`
	CulturalAuthority string    `json:"cultural_authority,omitempty"`

	Public  []byte `json:"public"`
	Private []byte `json:"-"`

	CreatedAt  time.Time  `json:"created_at"`
	RotatedAt  *time.Time `json:"rotated_at,omitempty"`
	ReplacedBy string     `json:"replaced_by,omitempty"`
}

// GenerateKeyRequest asks for a new key pair.
type GenerateKeyRequest struct {
	Algorithm         Algorithm
	Owner             string
	CulturalAuthority string
	Actor             string
	RequestID         string
}

func (r GenerateKeyRequest) validate() error {
	if !r.Algorithm.Valid() {
		return dErrors.New(dErrors.CodeInvalidInput, "unknown signing algorithm")
	}
	if r.Owner == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "key owner is required")
	}
	if r.Actor == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "actor identity is required")
	}
	return nil
}

// KeyStore persists key pairs. Writes are whole-row; keys are never
// deleted so retired public keys stay retrievable for verification.
//
// Errors: Get wraps sentinel.ErrNotFound for unknown ids; Insert wraps
// sentinel.ErrConflict for duplicate ids.
type KeyStore interface {
	Insert(ctx context.Context, k Key) error
	Get(ctx context.Context, id string) (Key, error)
	Update(ctx context.Context, k Key) error
	List(ctx context.Context, owner string) ([]Key, error)
}

package redact

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tutela/internal/classify"
)

// VaultEntry holds the sealed original of a reversible transform. The
// plaintext never leaves the service; the vault only ever sees ciphertext.
type VaultEntry struct {
	ID          uuid.UUID            `json:"id"`
	Scope       string               `json:"scope,omitempty"`
	Token       string               `json:"token,omitempty"`
	Ciphertext  []byte               `json:"ciphertext"`
	DataType    classify.DataType    `json:"data_type,omitempty"`
	Sensitivity classify.Sensitivity `json:"sensitivity,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	ExpiresAt   time.Time            `json:"expires_at"`
}

// Vault stores sealed originals for audited reversal. Tokenize entries are
// additionally indexed by (scope, token) so equal inputs share one entry.
type Vault interface {
	Put(ctx context.Context, entry VaultEntry) error
	Get(ctx context.Context, id uuid.UUID) (VaultEntry, error)
	GetByToken(ctx context.Context, scope, token string) (VaultEntry, error)
}

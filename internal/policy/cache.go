package policy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tutela/pkg/platform/canonical"
)

// DecisionCache short-circuits repeat evaluations of the same (policy,
// version, input). Cache hits never skip auditing; the service records
// every evaluation regardless of where the decision came from.
type DecisionCache interface {
	Get(ctx context.Context, key string) (Decision, error)
	Put(ctx context.Context, key string, d Decision, ttl time.Duration) error
}

// cacheKey hashes the policy identity, its version, and the canonical form
// of the input. The version is part of the key so a bumped policy can never
// serve decisions computed under its predecessor.
func cacheKey(policyID uuid.UUID, version string, input map[string]any) (string, error) {
	canon, err := canonical.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("canonicalize evaluation input: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(policyID.String()))
	h.Write([]byte{0})
	h.Write([]byte(version))
	h.Write([]byte{0})
	h.Write(canon)
	return hex.EncodeToString(h.Sum(nil)), nil
}

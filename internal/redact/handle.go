package redact

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "tutela/pkg/domain-errors"
)

const handleIssuerName = "tutela/redact"

// handleClaims binds a transformation handle to its vault entry.
type handleClaims struct {
	EntryID   string `json:"entry_id"`
	Scope     string `json:"scope,omitempty"`
	Operation string `json:"operation"`
	jwt.RegisteredClaims
}

// handleIssuer signs and validates transformation handles: HS256 JWTs that
// are opaque to callers, self-expiring, and bound to one vault entry.
type handleIssuer struct {
	signingKey []byte
}

func newHandleIssuer(signingKey []byte) *handleIssuer {
	return &handleIssuer{signingKey: signingKey}
}

func (h *handleIssuer) Issue(entryID uuid.UUID, scope string, op Operation, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, handleClaims{
		EntryID:   entryID.String(),
		Scope:     scope,
		Operation: string(op),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    handleIssuerName,
			ID:        uuid.NewString(),
		},
	})

	signed, err := token.SignedString(h.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign handle: %w", err)
	}
	return signed, nil
}

func (h *handleIssuer) Validate(handle string) (*handleClaims, error) {
	parsed, err := jwt.ParseWithClaims(handle, &handleClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return h.signingKey, nil
	}, jwt.WithIssuer(handleIssuerName))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeExpired, "transformation handle has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid transformation handle")
	}

	claims, ok := parsed.Claims.(*handleClaims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid transformation handle")
	}
	return claims, nil
}

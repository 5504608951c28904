package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// OperatorClaims identifies the authenticated operator driving a governance
// operation. The audit trail records the operator on every entry.
type OperatorClaims struct {
	OperatorID string
	Roles      []string
}

// TokenValidator validates an operator bearer token.
type TokenValidator interface {
	ValidateToken(tokenString string) (*OperatorClaims, error)
}

type contextKeyOperator struct{}

var operatorKey = contextKeyOperator{}

// GetOperator retrieves the authenticated operator from the context.
func GetOperator(ctx context.Context) *OperatorClaims {
	claims, ok := ctx.Value(operatorKey).(*OperatorClaims)
	if !ok {
		return nil
	}
	return claims
}

// WithOperator stores operator claims in the context. Exported for handler
// tests that bypass the middleware.
func WithOperator(ctx context.Context, claims *OperatorClaims) context.Context {
	return context.WithValue(ctx, operatorKey, claims)
}

// RequireAuth rejects requests without a valid operator bearer token.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			const bearerPrefix = "Bearer "
			token, ok := strings.CutPrefix(authHeader, bearerPrefix)
			if !ok || token == "" {
				unauthorized(w)
				return
			}
			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(r.Context(), "unauthorized access - invalid token",
					"error", err,
					"request_id", GetRequestID(r.Context()),
				)
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), claims)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"Invalid or expired token"}`))
}

// Package domainerrors defines the coded error taxonomy shared by services
// and the HTTP transport. Services create errors with New/Wrap, handlers
// translate them with ToHTTPStatus, and callers branch with HasCode.
//
// Compliance outcomes (policy deny, conditional) are decisions, not errors,
// and never appear here. Integrity violations and missing cultural approvals
// are errors: they abort the operation that detected them.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of domain error.
type Code string

const (
	// CodeInvalidInput covers malformed values, rules, protocols, and
	// policies. Always reported synchronously, never partially applied.
	CodeInvalidInput Code = "invalid_input"

	// CodeBadRequest covers transport-level decode and shape problems.
	CodeBadRequest Code = "bad_request"

	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeExpired      Code = "expired"

	// CodeCulturalApproval marks a refusal to operate on culturally
	// sensitive data without the required authority approval. This is a
	// hard failure, never a silent pass-through.
	CodeCulturalApproval Code = "cultural_approval_required"

	// CodeIntegrityViolation marks hash-chain or signature mismatches.
	// Fatal to the operation and escalated; never silently repaired.
	CodeIntegrityViolation Code = "integrity_violation"

	// CodeUnavailable marks an external dependency (decision point,
	// timestamp authority) that stayed unreachable after bounded retries.
	// Distinguishable from a policy deny.
	CodeUnavailable Code = "unavailable"

	CodeInternal Code = "internal"
)

// Error is a coded domain error. The zero value is not useful; construct
// with New or Wrap.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a cause so the full chain survives errors.Is/As traversal.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error carrying the same code, so
// errors.Is(err, New(CodeNotFound, "...")) works regardless of message.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// HasCode reports whether err (anywhere in its chain) carries the code.
func HasCode(err error, code Code) bool {
	var de *Error
	if !errors.As(err, &de) {
		return false
	}
	return de.Code == code
}

// Is is a readable alias used at handler call sites.
func Is(err error, code Code) bool { return HasCode(err, code) }

// CodeOf returns the code carried by err, or CodeInternal when err is not
// a domain error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a code to the status the transport layer should emit.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput, CodeBadRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden, CodeCulturalApproval:
		return http.StatusForbidden
	case CodeExpired:
		return http.StatusGone
	case CodeIntegrityViolation:
		return http.StatusConflict
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

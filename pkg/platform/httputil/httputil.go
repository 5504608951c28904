// Package httputil holds the JSON helpers shared by every HTTP handler:
// success encoding, the error envelope, and request body decoding.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "tutela/pkg/domain-errors"
	"tutela/pkg/platform/sentinel"
)

// WriteJSON encodes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// errorBody is the wire envelope for failures. The description is omitted
// for internal errors so storage and dependency detail never reaches callers.
type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// sentinelCodes translates storage-level sentinels that reach the transport
// without a service-layer wrap. Checked before CodeOf, which would flatten
// them to internal.
var sentinelCodes = []struct {
	err  error
	code dErrors.Code
}{
	{sentinel.ErrNotFound, dErrors.CodeNotFound},
	{sentinel.ErrConflict, dErrors.CodeConflict},
	{sentinel.ErrInvalidState, dErrors.CodeConflict},
	{sentinel.ErrExpired, dErrors.CodeExpired},
	{sentinel.ErrUnavailable, dErrors.CodeUnavailable},
}

func codeOf(err error) dErrors.Code {
	code := dErrors.CodeOf(err)
	if code == dErrors.CodeInternal {
		for _, sc := range sentinelCodes {
			if errors.Is(err, sc.err) {
				return sc.code
			}
		}
	}
	return code
}

// StatusOf resolves the HTTP status WriteError would emit for err.
func StatusOf(err error) int {
	return dErrors.ToHTTPStatus(codeOf(err))
}

// WriteError maps err onto the JSON error envelope and its HTTP status.
func WriteError(w http.ResponseWriter, err error) {
	code := codeOf(err)
	body := errorBody{Error: string(code)}
	if code != dErrors.CodeInternal {
		body.Description = err.Error()
	}
	WriteJSON(w, dErrors.ToHTTPStatus(code), body)
}

// Decode reads the request body into v, translating failures into
// bad_request so handlers can return the result of Decode directly.
func Decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return dErrors.Wrap(dErrors.CodeBadRequest, "invalid request body", err)
	}
	return nil
}

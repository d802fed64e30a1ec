// Package httputil writes JSON responses and maps domain error codes to HTTP statuses.
package httputil

import (
	"encoding/json"
	"io"
	"net/http"

	dErrors "taskgate/pkg/domain-errors"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// StatusFor maps a domain code to an HTTP status.
func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput, dErrors.CodeValidation, dErrors.CodeInvalidEventType:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden, dErrors.CodeCatalogDenied, dErrors.CodePolicyDenied, dErrors.CodeRoleDenied:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict, dErrors.CodeExecutionInProgress:
		return http.StatusConflict
	case dErrors.CodeInvariantViolation, dErrors.CodeInvalidPlan:
		return http.StatusUnprocessableEntity
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err as {"error": code, "error_description": message}.
// Internal errors omit the description.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := errorBody{Error: string(code)}
	if de, ok := dErrors.As(err); ok && code != dErrors.CodeInternal && code != dErrors.CodeHandlerNotRegistered {
		body.ErrorDescription = de.Message
	}
	WriteJSON(w, StatusFor(code), body)
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// DecodeJSON decodes a bounded request body into v, rejecting unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body")
	}
	return nil
}

package csrf

import (
	"encoding/json"
	"net/http"
)

// Rejection codes
const (
	CodeTokenMissing     = "CSRF_TOKEN_MISSING"
	CodeTokenExpired     = "CSRF_TOKEN_EXPIRED"
	CodeTokenNotProvided = "CSRF_TOKEN_NOT_PROVIDED"
	CodeTokenInvalid     = "CSRF_TOKEN_INVALID"
)

// Error is a validation rejection. It is a result, not a failure of the guard.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

var (
	errMissing = &Error{
		Code:    CodeTokenMissing,
		Message: "No CSRF token has been issued for this session. Request a new token.",
	}
	errExpired = &Error{
		Code:    CodeTokenExpired,
		Message: "CSRF token has expired. Request a new token.",
	}
	errNotProvided = &Error{
		Code:    CodeTokenNotProvided,
		Message: "CSRF token not provided in request header or body.",
	}
	errInvalid = &Error{
		Code:    CodeTokenInvalid,
		Message: "CSRF token is invalid.",
	}
)

// ErrorResponse is the body of a 403 rejection
type ErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func writeError(w http.ResponseWriter, e *Error) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	return json.NewEncoder(w).Encode(ErrorResponse{
		Message: e.Message,
		Error:   "Forbidden",
		Code:    e.Code,
	})
}

// Package apierr defines the typed errors that map onto the wire error
// envelope. Handlers return these; the HTTP layer serializes them.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable error codes.
const (
	CodeInvalidPayload       = "INVALID_PAYLOAD"
	CodeInvalidTag           = "INVALID_TAG"
	CodeUnsupportedClient    = "UNSUPPORTED_CLIENT_VERSION"
	CodeNoBattleAvailable    = "NO_BATTLE_AVAILABLE"
	CodeBattleNotFound       = "BATTLE_NOT_FOUND"
	CodeBattleAlreadyVoted   = "BATTLE_ALREADY_VOTED"
	CodeDuplicateVote        = "DUPLICATE_VOTE_CONFLICT"
	CodeInvalidGeneratorID   = "INVALID_GENERATOR_ID"
	CodeGeneratorIDExists    = "GENERATOR_ID_EXISTS"
	CodeGeneratorNotFound    = "GENERATOR_NOT_FOUND"
	CodeMaxGenerators        = "MAX_GENERATORS_EXCEEDED"
	CodeNotEnoughLevels      = "NOT_ENOUGH_LEVELS"
	CodeTooManyLevels        = "TOO_MANY_LEVELS"
	CodeLevelValidation      = "LEVEL_VALIDATION_FAILED"
	CodeInvalidZip           = "INVALID_ZIP"
	CodeZipTooLarge          = "ZIP_TOO_LARGE"
	CodeNotOwner             = "NOT_OWNER"
	CodeWeakPassword         = "WEAK_PASSWORD"
	CodeInvalidEmail         = "INVALID_EMAIL"
	CodeEmailAlreadyExists   = "EMAIL_ALREADY_EXISTS"
	CodeEmailNotVerified     = "EMAIL_NOT_VERIFIED"
	CodeInvalidCredentials   = "INVALID_CREDENTIALS"
	CodeInvalidToken         = "INVALID_TOKEN"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeNotFound             = "NOT_FOUND"
	CodeRateLimited          = "RATE_LIMITED"
	CodeInternal             = "INTERNAL_ERROR"
)

// Error carries everything the wire envelope needs.
type Error struct {
	Status    int    // HTTP status
	Code      string // stable machine-readable code
	Message   string
	Retryable bool
	Details   any // optional, e.g. level validation specifics
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds an error with an explicit status.
func New(status int, code, message string, retryable bool) *Error {
	return &Error{Status: status, Code: code, Message: message, Retryable: retryable}
}

// WithDetails returns a copy carrying details.
func (e *Error) WithDetails(details any) *Error {
	dup := *e
	dup.Details = details
	return &dup
}

// Invalid is a 400 with the given code.
func Invalid(code, message string) *Error {
	return New(http.StatusBadRequest, code, message, false)
}

// Conflict is a 409 with the given code.
func Conflict(code, message string) *Error {
	return New(http.StatusConflict, code, message, false)
}

// NotFound is a 404 with the given code.
func NotFound(code, message string) *Error {
	return New(http.StatusNotFound, code, message, false)
}

// Unauthorized is a 401 INVALID_CREDENTIALS/UNAUTHORIZED class error.
func Unauthorized(code, message string) *Error {
	return New(http.StatusUnauthorized, code, message, false)
}

// Forbidden is a 403.
func Forbidden(code, message string) *Error {
	return New(http.StatusForbidden, code, message, false)
}

// Unavailable is a 503, retryable.
func Unavailable(code, message string) *Error {
	return New(http.StatusServiceUnavailable, code, message, true)
}

// Internal wraps an unexpected error as a retryable 500. The wrapped
// cause stays server-side; only the generic message goes on the wire.
func Internal(err error) *Error {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &Error{Status: http.StatusInternalServerError, Code: CodeInternal, Message: msg, Retryable: true}
}

// From extracts an *Error from err, or wraps it as INTERNAL_ERROR.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}

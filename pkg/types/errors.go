package types

import "errors"

// Error kinds shared by the socket and REST surfaces. Components wrap these
// with fmt.Errorf("...: %w") and callers classify with errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrNotFound     = errors.New("not found")
	ErrNoOp         = errors.New("nothing new to mark")
	ErrPersistence  = errors.New("persistence failure")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// Wire codes for the error kinds
const (
	CodeValidation   = "validation"
	CodeRateLimited  = "rate_limited"
	CodeNotFound     = "not_found"
	CodeNoOp         = "no_op"
	CodePersistence  = "persistence_failure"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeInternal     = "internal"
)

// ErrorCode maps an error onto its wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrNoOp):
		return CodeNoOp
	case errors.Is(err, ErrPersistence):
		return CodePersistence
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	default:
		return CodeInternal
	}
}

// PublicMessage is the text shown to clients. Persistence and internal
// failures never leak driver detail.
func PublicMessage(err error) string {
	switch ErrorCode(err) {
	case CodePersistence:
		return "message could not be saved"
	case CodeInternal:
		return "internal error"
	default:
		return err.Error()
	}
}

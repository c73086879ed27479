package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates a missing privilege or a wrong operations password.
	ErrForbidden = errors.New("forbidden")
	// ErrValidation indicates bad input rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a state-machine violation.
	ErrConflict = errors.New("conflict")
)

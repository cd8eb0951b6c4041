package apperrors

import "errors"

// Error kinds surfaced by the prescreen core. Callers wrap them with
// fmt.Errorf("%w: ...") and match with errors.Is.
var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidState  = errors.New("invalid state")
	ErrValidation    = errors.New("validation failed")
	ErrAlreadyExists = errors.New("already exists")
	ErrConflict      = errors.New("version conflict")
)

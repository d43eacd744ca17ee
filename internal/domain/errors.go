package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrValidation           = errors.New("validation error")
	ErrConflict             = errors.New("conflict")
	ErrStorage              = errors.New("storage error")
	ErrExternalTool         = errors.New("external tool error")
	ErrNothingToBundle      = errors.New("nothing to bundle")
	ErrConverterUnavailable = errors.New("converter unavailable")
)

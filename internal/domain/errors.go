package domain

import "errors"

var (
	ErrValidation     = errors.New("validation error")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrTransientStore = errors.New("store unavailable")
	ErrRateLimited    = errors.New("rate limited")
)

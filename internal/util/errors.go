package util

import "errors"

// Error taxonomy shared by the core and the transport layer. Callers wrap these
// with context and classify with errors.Is.
var (
	ErrNotFound    = errors.New("not found")
	ErrValidation  = errors.New("validation failed")
	ErrUnavailable = errors.New("embedder unavailable")
	ErrInvariant   = errors.New("invariant violation")
)

package internalerr

import "errors"

// Sentinel errors for common cases
var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMalformedXML  = errors.New("malformed xml")
	ErrUnresolved    = errors.New("unresolved reference")
	ErrFetch         = errors.New("fetch failed")
)

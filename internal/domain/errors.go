package domain

import "errors"

var (
	// ErrNotFound is returned when a document, share or user does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAccessDenied is returned when the caller may not perform an action
	// on a document.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidInput is returned for malformed requests.
	ErrInvalidInput = errors.New("invalid input")
)

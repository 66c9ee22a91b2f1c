// internal/model/core/errors.go
package core

import "errors"

// ErrValidation is returned when a required identifier (nickname, id) is
// missing or empty. Rejected before any mutation; no partial effects.
var ErrValidation = errors.New("validation failed")

// ErrNotFound is returned when an operation targets an unknown record.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when a channel is already busy under a different
// situation. Surfaced to the caller, never silently overwritten.
var ErrConflict = errors.New("conflicting channel binding")

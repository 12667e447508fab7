// Package sberr defines the sentinel errors shared across the sandbox
// orchestrator. Callers classify failures with errors.Is; the concrete
// cause is carried in the wrapping message.
package sberr

import "errors"

var (
	// ErrInvalidConfig marks malformed resource limits or a missing
	// required argument. Not retryable.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrNotFound marks an unknown or already-terminated sandbox, or a
	// missing copy source.
	ErrNotFound = errors.New("not found")

	// ErrResourceExhausted marks a creation refused by the container
	// runtime or the host. Retryable by the caller with backoff.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrExecutionTimeout marks a command that exceeded its deadline.
	// Partial output is still returned alongside it.
	ErrExecutionTimeout = errors.New("execution timeout")

	// ErrConfigConflict marks a structurally unexpected routing document.
	// Requires operator intervention; never silently repaired.
	ErrConfigConflict = errors.New("config conflict")

	// ErrPermissionDenied marks a file copy rejected at either side of
	// the sandbox boundary.
	ErrPermissionDenied = errors.New("permission denied")
)

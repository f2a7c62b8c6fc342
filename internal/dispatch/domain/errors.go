package domain

import "errors"

// Error kinds surfaced to callers. Handlers map these to transport status
// codes; everything else is an internal fault.
var (
	// ErrValidation marks missing or malformed input. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrPrecondition marks a driver without a known location or marked
	// unavailable. The client must fix state before retrying.
	ErrPrecondition = errors.New("precondition failed")

	// ErrNotFound marks a lookup with no matching record in the requested
	// state.
	ErrNotFound = errors.New("booking not found")

	// ErrConflict marks a lost race on a conditional transition. The
	// caller should pick another candidate, not retry the same one.
	ErrConflict = errors.New("booking already transitioned")

	// ErrTimeout marks a watch that saw no matching event in its window.
	ErrTimeout = errors.New("watch timed out")

	// ErrStorage marks a transient infrastructure fault. Safe to retry
	// with backoff; conditional writes are idempotent under the same
	// precondition.
	ErrStorage = errors.New("storage unavailable")
)

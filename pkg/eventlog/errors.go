package eventlog

import (
	"errors"
	"fmt"
)

type (
	// EventStoreError is the base error type for every event-store operation.
	// It embeds the failing operation name and the underlying cause so
	// callers can both log a precise message and errors.As into a more
	// specific variant below.
	EventStoreError struct {
		Op  string
		Err error
	}

	// ValidationError reports a structural problem with an event or query:
	// an empty required field, an unknown enum value, or a malformed
	// payload.
	ValidationError struct {
		EventStoreError
		Field string
		Value string
	}

	// ConcurrencyError is the optimistic-concurrency signal (spec's
	// InvalidVersion): the caller's assumed version didn't match the
	// aggregate's actual next version.
	ConcurrencyError struct {
		EventStoreError
		Expected int64
		Got      int64
	}

	// DuplicateEventError reports that an event with this ID was already
	// appended.
	DuplicateEventError struct {
		EventStoreError
		ID string
	}

	// ResourceError wraps a failure talking to a resource outside the
	// process: the database mirror, a closed store, and similar.
	ResourceError struct {
		EventStoreError
		Resource string
	}
)

func (e EventStoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op
}

func (e EventStoreError) Unwrap() error { return e.Err }

// IsValidationError reports whether err (or any error it wraps) is a
// ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConcurrencyError reports whether err (or any error it wraps) is a
// ConcurrencyError.
func IsConcurrencyError(err error) bool {
	var ce *ConcurrencyError
	return errors.As(err, &ce)
}

// IsDuplicateEventError reports whether err (or any error it wraps) is a
// DuplicateEventError.
func IsDuplicateEventError(err error) bool {
	var de *DuplicateEventError
	return errors.As(err, &de)
}

// IsResourceError reports whether err (or any error it wraps) is a
// ResourceError.
func IsResourceError(err error) bool {
	var re *ResourceError
	return errors.As(err, &re)
}

// Package bserr defines the error taxonomy shared across the stream
// pipeline. Kinds are sentinel values so callers can use errors.Is
// instead of matching on message text.
package bserr

import "errors"

var (
	// ErrInvalidState is returned when an operation is issued outside the
	// lifecycle state that permits it (e.g. add_filter after start()).
	ErrInvalidState = errors.New("bgpstream: invalid state for operation")

	// ErrInvalidFilter is returned when a filter value is malformed or
	// conflicts with an existing predicate.
	ErrInvalidFilter = errors.New("bgpstream: invalid filter")

	// ErrNoInterval is returned by start() when no time interval was
	// ever added to the filter set.
	ErrNoInterval = errors.New("bgpstream: no time interval configured")

	// ErrUnknownBackend is returned by coordinator.NewBackend for an
	// unregistered backend id.
	ErrUnknownBackend = errors.New("bgpstream: unknown data interface backend")

	// ErrUnknownOption is returned by Configure for an option name the
	// backend does not recognize.
	ErrUnknownOption = errors.New("bgpstream: unknown backend option")

	// ErrInvalidOptionValue is returned by Configure when the value for
	// a recognized option cannot be parsed.
	ErrInvalidOptionValue = errors.New("bgpstream: invalid backend option value")

	// ErrBackendStart is returned by Start on backend I/O failure.
	ErrBackendStart = errors.New("bgpstream: data interface failed to start")

	// ErrBackendQuery is returned by Poll on a transient backend I/O or
	// query failure.
	ErrBackendQuery = errors.New("bgpstream: data interface query failed")

	// ErrDecode wraps a reader-scoped MRT decode failure. Non-fatal:
	// the reader transitions to FAILED and is dropped from the merge.
	ErrDecode = errors.New("bgpstream: MRT decode failed")

	// ErrInterrupted is returned by next_record when a cooperative
	// interrupt flag was observed at a backoff tick or reader advance.
	ErrInterrupted = errors.New("bgpstream: interrupted")

	// ErrTooManyBackendFailures is the fatal error surfaced after N
	// consecutive backend ERROR polls (default 3).
	ErrTooManyBackendFailures = errors.New("bgpstream: too many consecutive backend failures")
)

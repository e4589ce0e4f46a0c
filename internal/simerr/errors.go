// Package simerr defines the failure kinds shared by the colony core.
// Callers match them with errors.Is; producers wrap them with fmt.Errorf("...: %w").
package simerr

import "errors"

var (
	// ErrInvalidArgument marks a bad time delta, a malformed sol query, or a bad config value.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound marks a query for an agent or sol that has no data.
	ErrNotFound = errors.New("not found")

	// ErrIOFailure marks a persistence write or read error.
	ErrIOFailure = errors.New("io failure")

	// ErrConcurrentSave is returned when a save is requested while another is pending.
	ErrConcurrentSave = errors.New("concurrent save in progress")

	// ErrInterrupted marks a caller-side wait that was cancelled before a result arrived.
	ErrInterrupted = errors.New("interrupted")

	// ErrSaveTimeout marks a caller that gave up waiting on a save. The save itself
	// may still finish later.
	ErrSaveTimeout = errors.New("save wait timed out")
)

// Reason returns the short reason code used in save events and API responses.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConcurrentSave):
		return "concurrent_save_in_progress"
	case errors.Is(err, ErrIOFailure):
		return "io_failure"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrSaveTimeout):
		return "timeout"
	case errors.Is(err, ErrInterrupted):
		return "interrupted"
	default:
		return "internal"
	}
}

// Package storeerrors defines the error-kind taxonomy shared by every
// component of the storage core. Callers classify a returned error with
// errors.Is against the sentinel values below rather than type-switching
// on a concrete error type.
package storeerrors

import "errors"

var (
	// ErrInvalidArgument indicates a null, empty, or out-of-range input.
	// Never retried by the core.
	ErrInvalidArgument = errors.New("storeerrors: invalid argument")

	// ErrStorage indicates a Redis transport or protocol failure. The
	// caller decides whether to retry.
	ErrStorage = errors.New("storeerrors: storage error")

	// ErrLockTimeout indicates a distributed lock could not be acquired
	// within its deadline, meaning another instance likely holds it.
	ErrLockTimeout = errors.New("storeerrors: lock timeout")

	// ErrJobLoad indicates a stored job record could not be loaded into a
	// usable shape (GetJobData uses it for an unparseable CreatedAt
	// timestamp). Surfaced in JobData.LoadError, not returned directly
	// from the fetch path, so a single bad job never stalls a fetcher.
	ErrJobLoad = errors.New("storeerrors: job load error")

	// ErrCancelled indicates the caller's context was cancelled.
	ErrCancelled = errors.New("storeerrors: cancelled")
)

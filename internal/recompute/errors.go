package recompute

import "errors"

var (
	// ErrComputationTimeout marks a pair that did not finish within its
	// deadline. The previous stored value is kept.
	ErrComputationTimeout = errors.New("computation timed out")
	// ErrStorageUnavailable marks a storage call that still failed after
	// the bounded retries.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrPartialFailure is returned by Process when some keys of an event
	// could not be recomputed.
	ErrPartialFailure = errors.New("recompute partially failed")
)

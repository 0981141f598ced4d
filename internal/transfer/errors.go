package transfer

import "errors"

// Validation errors returned synchronously by registry operations.
// None of them mutate registry state.
var (
	// ErrNoSources - submit called with an empty source list.
	ErrNoSources = errors.New("transfer has no source paths")

	// ErrUnknownTransfer - the given ID is not in the registry.
	ErrUnknownTransfer = errors.New("unknown transfer id")

	// ErrInvalidTransition - the requested action is not valid for the
	// transfer's current status.
	ErrInvalidTransition = errors.New("action not valid for current transfer status")

	// ErrNotQueued - reorder requested for a transfer that is not queued.
	ErrNotQueued = errors.New("transfer is not queued")

	// ErrNotTerminal - dismiss requested for a transfer still in flight.
	ErrNotTerminal = errors.New("transfer has not finished")

	// ErrInvalidConcurrency - max concurrency outside the accepted range.
	ErrInvalidConcurrency = errors.New("max concurrent transfers out of range")

	// ErrInvalidBandwidth - negative bandwidth limit.
	ErrInvalidBandwidth = errors.New("bandwidth limit must not be negative")
)

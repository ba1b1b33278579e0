package jelling

import "github.com/pkg/errors"

// Resource exhaustion.
var (
	ErrNoInstance      = errors.New("no idle advertising instance")
	ErrBufferExhausted = errors.New("fragmented packet exceeds the advertising buffer")
	ErrFilterFull      = errors.New("scanner filter is full")
)

// Malformed wire data and abandoned chains.
var (
	ErrMalformed     = errors.New("malformed frame")
	ErrTruncated     = errors.New("advertising data truncated")
	ErrChainOverflow = errors.New("reassembly buffer overflow")
)

// Lifecycle.
var (
	ErrInitFailed = errors.New("instance configuration failed")
	ErrNotRunning = errors.New("session is not running")
)

// Radio results.
var (
	// ErrRadioBusy is returned by a radio that refuses to cancel an
	// advertisement in flight. The instance stops after its events complete.
	ErrRadioBusy = errors.New("radio busy")

	ErrInvalidInstance = errors.New("invalid advertising instance")
	ErrRadioClosed     = errors.New("radio closed")
)

// Configuration.
var (
	ErrInvalidAddr   = errors.New("invalid address")
	ErrInvalidConfig = errors.New("invalid config")
	ErrInvalidLimits = errors.New("invalid frame limits")
)

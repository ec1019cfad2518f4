package stego

import "errors"

var (
	// ErrCapacityExceeded is returned when header, payload and sentinel do not
	// fit in the carrier's usable channels.
	ErrCapacityExceeded = errors.New("payload exceeds carrier capacity")

	// ErrMalformedFrame is returned when the declared payload length implies a
	// sentinel region past the end of the carrier.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrSentinelMismatch is returned when the decoded trailer differs from the
	// expected sentinel.
	ErrSentinelMismatch = errors.New("sentinel mismatch")

	// ErrInvalidCarrier is returned for buffers that are not whole RGBA pixels.
	ErrInvalidCarrier = errors.New("invalid carrier")
)

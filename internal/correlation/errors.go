package correlation

import "errors"

// Sentinel errors for correlation tracking.
var (
	// ErrRequestPending is returned when a request is issued for a
	// (device, request_type) pair that already has one outstanding.
	ErrRequestPending = errors.New("correlation: request already pending for device")

	// ErrNotFound is returned when a correlation id does not resolve to a
	// pending request; already-terminal requests report the same way.
	ErrNotFound = errors.New("correlation: pending request not found")

	// ErrInvalidRequest is returned for malformed issue parameters.
	ErrInvalidRequest = errors.New("correlation: invalid request")
)

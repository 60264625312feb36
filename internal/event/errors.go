package event

import "errors"

// ErrInvalidEvent is returned when ingress validation rejects an event.
// Rejected events never enter the pipeline.
var ErrInvalidEvent = errors.New("event: invalid")

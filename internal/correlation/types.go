package correlation

import "time"

// RequestStatus is the lifecycle state of a tracked hardware request.
type RequestStatus string

// Request lifecycle states. pending is the only non-terminal state; exactly
// one terminal transition ever happens per request.
const (
	StatusPending   RequestStatus = "pending"
	StatusCompleted RequestStatus = "completed"
	StatusTimedOut  RequestStatus = "timed_out"
)

// Well-known request types issued to CTHz-300 hardware.
const (
	RequestScan      = "scan"
	RequestCalibrate = "calibrate"
)

// PendingRequest tracks one outstanding hardware command awaiting its result.
// This matches the pending_requests table.
type PendingRequest struct {
	CorrelationID string        `json:"correlation_id"`
	DeviceID      string        `json:"device_id"`
	RequestType   string        `json:"request_type"`
	Status        RequestStatus `json:"status"`
	IssuedAt      time.Time     `json:"issued_at"`
	TimeoutAt     time.Time     `json:"timeout_at"`
}

// Expired reports whether the request's timeout window has passed.
func (p PendingRequest) Expired(now time.Time) bool {
	return now.After(p.TimeoutAt)
}

package event

import (
	"fmt"
	"time"
)

// SourceType identifies the kind of entity an event originates from.
type SourceType string

// SourceType constants.
const (
	SourceDevice  SourceType = "device"
	SourceStation SourceType = "station"
	SourceGroup   SourceType = "group"
	SourceSystem  SourceType = "system"
)

// Well-known event types. Devices publish the first block; the core
// synthesizes the second.
const (
	TypeHeartbeat      = "heartbeat"
	TypeThreatDetected = "threat_detected"
	TypeStatusReport   = "status_report"

	TypeStatusChanged    = "status_changed"
	TypeHeartbeatExpired = "heartbeat_expired"
	TypeRequestCompleted = "request_completed"
	TypeRequestTimedOut  = "request_timed_out"
)

// Event is the unit of work flowing through the pipeline. Immutable once
// created: consumers must never modify the payload.
type Event struct {
	SourceType    SourceType     `json:"source_type"`
	SourceID      string         `json:"source_id"`
	Type          string         `json:"type"`
	Payload       map[string]any `json:"payload,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// New creates an event stamped with the current time.
func New(sourceType SourceType, sourceID, eventType string, payload map[string]any) Event {
	return Event{
		SourceType: sourceType,
		SourceID:   sourceID,
		Type:       eventType,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
}

// Validate checks an event at ingress. Malformed events are rejected before
// they enter the pipeline.
func (e Event) Validate() error {
	switch e.SourceType {
	case SourceDevice, SourceStation, SourceGroup, SourceSystem:
	default:
		return fmt.Errorf("%w: unknown source_type %q", ErrInvalidEvent, e.SourceType)
	}
	if e.SourceID == "" {
		return fmt.Errorf("%w: source_id is required", ErrInvalidEvent)
	}
	if e.Type == "" {
		return fmt.Errorf("%w: type is required", ErrInvalidEvent)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: occurred_at is required", ErrInvalidEvent)
	}
	if e.Type == TypeThreatDetected {
		conf, ok := toFloat(e.Payload["confidence"])
		if !ok || conf < 0 || conf > 1 {
			return fmt.Errorf("%w: threat_detected requires confidence in [0,1]", ErrInvalidEvent)
		}
		if _, ok := e.Payload["threat_type"].(string); !ok {
			return fmt.Errorf("%w: threat_detected requires threat_type", ErrInvalidEvent)
		}
	}
	return nil
}

// Context builds the flat evaluation context rule trees resolve variable
// paths against. Policy resolution augments it with entity attributes
// (status, station_id, group_id) before evaluation.
func (e Event) Context() map[string]any {
	ctx := map[string]any{
		"type":        e.Type,
		"source_type": string(e.SourceType),
		"source_id":   e.SourceID,
		"occurred_at": e.OccurredAt.Format(time.RFC3339),
	}
	if e.CorrelationID != "" {
		ctx["correlation_id"] = e.CorrelationID
	}
	if e.Payload != nil {
		payload := make(map[string]any, len(e.Payload))
		for k, v := range e.Payload {
			payload[k] = v
		}
		ctx["payload"] = payload
	}
	return ctx
}

// NewStatusChanged synthesizes the event emitted on every status transition.
// These feed back through the pipeline so policies can react to derived
// states ("station degraded") exactly like raw sensor events.
func NewStatusChanged(sourceType SourceType, sourceID, from, to string) Event {
	return New(sourceType, sourceID, TypeStatusChanged, map[string]any{
		"status":   to,
		"previous": from,
	})
}

// NewHeartbeatExpired synthesizes the timed event the heartbeat monitor
// emits when a device misses its reporting window.
func NewHeartbeatExpired(deviceID string, lastSeen time.Time) Event {
	payload := map[string]any{}
	if !lastSeen.IsZero() {
		payload["last_seen"] = lastSeen.UTC().Format(time.RFC3339)
	}
	return New(SourceDevice, deviceID, TypeHeartbeatExpired, payload)
}

// NewRequestCompleted synthesizes the event for a hardware request result
// matched back to its pending correlation entry.
func NewRequestCompleted(deviceID, requestType, correlationID string, result map[string]any) Event {
	payload := map[string]any{"request_type": requestType}
	for k, v := range result {
		payload[k] = v
	}
	ev := New(SourceDevice, deviceID, TypeRequestCompleted, payload)
	ev.CorrelationID = correlationID
	return ev
}

// NewRequestTimedOut synthesizes the event for a hardware request that never
// returned. Routed through the same pipeline as a real result so policies can
// react to "calibration never returned" identically to a failure result.
func NewRequestTimedOut(deviceID, requestType, correlationID string) Event {
	ev := New(SourceDevice, deviceID, TypeRequestTimedOut, map[string]any{
		"request_type": requestType,
	})
	ev.CorrelationID = correlationID
	return ev
}

// toFloat coerces numeric payload values (JSON numbers arrive as float64,
// Go callers may pass ints).
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

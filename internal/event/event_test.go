package event

import (
	"errors"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	valid := func() Event {
		return New(SourceDevice, "dev-1", TypeHeartbeat, map[string]any{"status": "online"})
	}

	tests := []struct {
		name    string
		mutate  func(*Event)
		wantErr bool
	}{
		{"valid heartbeat", func(*Event) {}, false},
		{"unknown source type", func(e *Event) { e.SourceType = "sensor_pod" }, true},
		{"missing source id", func(e *Event) { e.SourceID = "" }, true},
		{"missing type", func(e *Event) { e.Type = "" }, true},
		{"zero occurred_at", func(e *Event) { e.OccurredAt = time.Time{} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid()
			tt.mutate(&e)
			err := e.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidEvent) {
				t.Errorf("Validate() error = %v, want ErrInvalidEvent", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() error = %v, want nil", err)
			}
		})
	}
}

func TestValidateThreatDetected(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		wantErr bool
	}{
		{"valid", map[string]any{"threat_type": "firearm", "confidence": 0.92}, false},
		{"int confidence", map[string]any{"threat_type": "firearm", "confidence": 1}, false},
		{"missing confidence", map[string]any{"threat_type": "firearm"}, true},
		{"confidence above 1", map[string]any{"threat_type": "firearm", "confidence": 1.5}, true},
		{"negative confidence", map[string]any{"threat_type": "firearm", "confidence": -0.1}, true},
		{"missing threat_type", map[string]any{"confidence": 0.9}, true},
		{"string confidence", map[string]any{"threat_type": "firearm", "confidence": "0.9"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(SourceDevice, "dev-1", TypeThreatDetected, tt.payload)
			err := e.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidEvent) {
				t.Errorf("Validate() error = %v, want ErrInvalidEvent", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() error = %v, want nil", err)
			}
		})
	}
}

func TestContext(t *testing.T) {
	e := New(SourceDevice, "dev-1", TypeThreatDetected, map[string]any{"confidence": 0.9})
	e.CorrelationID = "corr-1"

	ctx := e.Context()
	if ctx["type"] != TypeThreatDetected {
		t.Errorf("type = %v", ctx["type"])
	}
	if ctx["source_type"] != "device" {
		t.Errorf("source_type = %v", ctx["source_type"])
	}
	if ctx["correlation_id"] != "corr-1" {
		t.Errorf("correlation_id = %v", ctx["correlation_id"])
	}

	// The context payload is a copy; mutating it must not leak back.
	payload := ctx["payload"].(map[string]any)
	payload["confidence"] = 0.1
	if e.Payload["confidence"] != 0.9 {
		t.Error("context mutation leaked into event payload")
	}
}

func TestSyntheticConstructors(t *testing.T) {
	sc := NewStatusChanged(SourceStation, "stn-1", "online", "degraded")
	if sc.Type != TypeStatusChanged || sc.Payload["status"] != "degraded" || sc.Payload["previous"] != "online" {
		t.Errorf("NewStatusChanged() = %+v", sc)
	}
	if err := sc.Validate(); err != nil {
		t.Errorf("synthetic status change invalid: %v", err)
	}

	to := NewRequestTimedOut("dev-1", "scan", "corr-9")
	if to.CorrelationID != "corr-9" || to.Payload["request_type"] != "scan" {
		t.Errorf("NewRequestTimedOut() = %+v", to)
	}

	done := NewRequestCompleted("dev-1", "calibration", "corr-2", map[string]any{"outcome": "ok"})
	if done.Payload["outcome"] != "ok" || done.Payload["request_type"] != "calibration" {
		t.Errorf("NewRequestCompleted() = %+v", done)
	}

	hb := NewHeartbeatExpired("dev-1", time.Now())
	if hb.SourceType != SourceDevice || hb.Type != TypeHeartbeatExpired {
		t.Errorf("NewHeartbeatExpired() = %+v", hb)
	}
}

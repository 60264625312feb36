package alert

import (
	"fmt"
	"time"
)

// Severity classifies how urgently an alert needs operator attention.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// severityRank orders severities for dedup merging; higher wins.
var severityRank = map[Severity]int{
	SeverityInfo:     1,
	SeverityWarning:  2,
	SeverityCritical: 3,
}

// worse returns the more urgent of two severities.
func worse(a, b Severity) Severity {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

// Alert is a user-facing notification raised by a policy action. Once
// stored it is append-only except for the one-way acknowledgement
// transition.
type Alert struct {
	ID             string     `json:"id"`
	AlertType      string     `json:"alert_type"`
	Severity       Severity   `json:"severity"`
	Title          string     `json:"title"`
	Message        string     `json:"message"`
	SourceType     string     `json:"source_type"`
	SourceID       string     `json:"source_id"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

var validSourceTypes = map[string]bool{
	"device":  true,
	"station": true,
	"group":   true,
	"system":  true,
}

// Validate checks the fields a caller controls before the alert is stored.
func (a *Alert) Validate() error {
	if a.AlertType == "" {
		return fmt.Errorf("%w: alert_type is required", ErrInvalidAlert)
	}
	if _, ok := severityRank[a.Severity]; !ok {
		return fmt.Errorf("%w: severity must be critical, warning or info, got %q", ErrInvalidAlert, a.Severity)
	}
	if a.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidAlert)
	}
	if !validSourceTypes[a.SourceType] {
		return fmt.Errorf("%w: source_type must be device, station, group or system, got %q", ErrInvalidAlert, a.SourceType)
	}
	if a.SourceID == "" {
		return fmt.Errorf("%w: source_id is required", ErrInvalidAlert)
	}
	return nil
}

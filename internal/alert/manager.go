package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger is the logging surface the manager needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Broadcaster pushes alerts to connected UI clients. Implemented by the API
// layer's websocket hub.
type Broadcaster interface {
	BroadcastAlert(a Alert)
}

// Instruments receives alert lifecycle counters.
type Instruments interface {
	AlertRaised(severity string)
	AlertDeduped()
}

// Manager owns the alert lifecycle: dedup on raise, one-way acknowledgement
// and retrieval. Raising is serialized so two concurrent identical alerts
// collapse into one row rather than racing past the dedup lookup.
type Manager struct {
	repo        Repository
	dedupWindow time.Duration
	broadcaster Broadcaster
	instruments Instruments
	logger      Logger

	mu sync.Mutex
}

// NewManager creates an alert manager. dedupWindow bounds how far back an
// unacknowledged alert can be and still absorb a duplicate.
func NewManager(repo Repository, dedupWindow time.Duration, logger Logger) *Manager {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Manager{
		repo:        repo,
		dedupWindow: dedupWindow,
		logger:      logger,
	}
}

// SetBroadcaster wires the websocket hub. Optional.
func (m *Manager) SetBroadcaster(b Broadcaster) { m.broadcaster = b }

// SetInstruments wires metric counters. Optional.
func (m *Manager) SetInstruments(in Instruments) { m.instruments = in }

// RaiseAlert stores a new alert, or merges it into an existing
// unacknowledged alert with the same (source_type, source_id, alert_type)
// raised within the dedup window. A merge keeps the higher severity,
// adopts the new message and refreshes created_at.
func (m *Manager) RaiseAlert(ctx context.Context, alertType, severity, title, message, sourceType, sourceID string) error {
	a := &Alert{
		ID:         uuid.NewString(),
		AlertType:  alertType,
		Severity:   Severity(severity),
		Title:      title,
		Message:    message,
		SourceType: sourceType,
		SourceID:   sourceID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	since := a.CreatedAt.Add(-m.dedupWindow)
	open, err := m.repo.FindOpen(ctx, sourceType, sourceID, alertType, since)
	if err != nil {
		return fmt.Errorf("alert dedup lookup: %w", err)
	}

	if open != nil {
		open.Severity = worse(open.Severity, a.Severity)
		open.Message = a.Message
		open.CreatedAt = a.CreatedAt
		if err := m.repo.Merge(ctx, open); err != nil {
			return fmt.Errorf("merging alert: %w", err)
		}
		m.logger.Debug("alert deduplicated",
			"alert_id", open.ID, "alert_type", alertType,
			"source_type", sourceType, "source_id", sourceID,
			"severity", open.Severity)
		if m.instruments != nil {
			m.instruments.AlertDeduped()
		}
		m.broadcast(*open)
		return nil
	}

	if err := m.repo.Create(ctx, a); err != nil {
		return fmt.Errorf("creating alert: %w", err)
	}
	m.logger.Info("alert raised",
		"alert_id", a.ID, "alert_type", alertType, "severity", severity,
		"source_type", sourceType, "source_id", sourceID)
	if m.instruments != nil {
		m.instruments.AlertRaised(string(a.Severity))
	}
	m.broadcast(*a)
	return nil
}

// Acknowledge marks the alert acknowledged by actor. Acknowledging an
// already-acknowledged alert is a no-op that still returns the alert.
func (m *Manager) Acknowledge(ctx context.Context, id, actor string) (*Alert, error) {
	if actor == "" {
		return nil, fmt.Errorf("%w: acknowledging actor is required", ErrInvalidAlert)
	}

	transitioned, err := m.repo.Acknowledge(ctx, id, actor, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	a, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if transitioned {
		m.logger.Info("alert acknowledged", "alert_id", id, "actor", actor)
	}
	return a, nil
}

// Get returns a single alert by id.
func (m *Manager) Get(ctx context.Context, id string) (*Alert, error) {
	return m.repo.Get(ctx, id)
}

// List returns alerts matching the filter, newest first.
func (m *Manager) List(ctx context.Context, filter ListFilter) ([]Alert, error) {
	return m.repo.List(ctx, filter)
}

func (m *Manager) broadcast(a Alert) {
	if m.broadcaster != nil {
		m.broadcaster.BroadcastAlert(a)
	}
}

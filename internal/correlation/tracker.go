package correlation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cthz/cthz-core/internal/event"
	"github.com/cthz/cthz-core/internal/fleet"
)

// Logger defines the logging interface the tracker depends on.
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

// Transport delivers a command payload to a device. Implemented over MQTT.
type Transport interface {
	SendCommand(deviceID string, payload []byte) error
}

// Submitter accepts synthesized events into the pipeline.
type Submitter interface {
	Submit(ev event.Event) error
}

// Instruments receives tracker gauge/counter updates. Optional. Each pending
// request produces exactly one of RequestSettled or RequestTimedOut, so either
// hook accounts for the full settle (including any pending-gauge decrement).
type Instruments interface {
	RequestIssued()
	RequestSettled()
	RequestTimedOut()
}

// commandMessage is the wire payload published to cthz/command/{device_id}.
type commandMessage struct {
	CorrelationID string         `json:"correlation_id"`
	Op            string         `json:"op"`
	Params        map[string]any `json:"params,omitempty"`
	TimeoutAt     string         `json:"timeout_at"`
}

// Tracker issues hardware commands and matches their asynchronous results
// back by correlation id.
//
// At most one request may be outstanding per (device, request_type) pair.
// A completion racing the timeout sweep resolves to exactly one terminal
// event: terminal transitions happen under mu and are backed by a guarded
// update that only moves pending rows.
type Tracker struct {
	repo      Repository
	fleet     *fleet.Registry
	transport Transport
	submitter Submitter

	defaultTimeout time.Duration
	sweepInterval  time.Duration

	instruments Instruments
	logger      Logger

	// mu serializes terminal transitions (Complete vs sweep) and the
	// pending check-then-create window in Issue.
	mu sync.Mutex

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewTracker creates a correlation tracker.
//
// Parameters:
//   - repo: pending request persistence
//   - reg: fleet registry for device existence checks and calibration stamps
//   - transport: device command delivery
//   - submitter: pipeline ingress for synthesized timeout events
//   - defaultTimeout: applied when Issue is called with a zero timeout
//   - sweepInterval: how often expired requests are reaped
func NewTracker(repo Repository, reg *fleet.Registry, transport Transport, submitter Submitter,
	defaultTimeout, sweepInterval time.Duration, logger Logger) *Tracker {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Tracker{
		repo:           repo,
		fleet:          reg,
		transport:      transport,
		submitter:      submitter,
		defaultTimeout: defaultTimeout,
		sweepInterval:  sweepInterval,
		logger:         logger,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// SetInstruments attaches metric hooks.
func (t *Tracker) SetInstruments(i Instruments) {
	t.instruments = i
}

// Issue sends a command to a device and registers a pending request for its
// result.
//
// Returns ErrRequestPending if the (device, request_type) pair already has an
// outstanding request: the caller must wait for the result or the timeout
// rather than stacking requests.
func (t *Tracker) Issue(ctx context.Context, deviceID, requestType string, params map[string]any, timeout time.Duration) (string, error) {
	if deviceID == "" || requestType == "" {
		return "", fmt.Errorf("%w: device id and request type are required", ErrInvalidRequest)
	}
	if _, err := t.fleet.GetDevice(ctx, deviceID); err != nil {
		return "", fmt.Errorf("resolving device %s: %w", deviceID, err)
	}
	if timeout <= 0 {
		timeout = t.defaultTimeout
	}

	pr, err := t.register(ctx, deviceID, requestType, timeout)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(commandMessage{
		CorrelationID: pr.CorrelationID,
		Op:            requestType,
		Params:        params,
		TimeoutAt:     pr.TimeoutAt.Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("marshaling command: %w", err)
	}

	if err := t.transport.SendCommand(deviceID, payload); err != nil {
		// The entry would otherwise block the pair until the timeout even
		// though nothing was sent; settle it immediately.
		if markErr := t.repo.MarkTerminal(ctx, pr.CorrelationID, StatusTimedOut); markErr != nil {
			t.logger.Error("settling unsent request failed",
				"correlation_id", pr.CorrelationID, "error", markErr)
		}
		return "", fmt.Errorf("sending %s command to %s: %w", requestType, deviceID, err)
	}

	if t.instruments != nil {
		t.instruments.RequestIssued()
	}
	t.logger.Info("request issued",
		"correlation_id", pr.CorrelationID, "device_id", deviceID,
		"request_type", requestType, "timeout_at", pr.TimeoutAt.Format(time.RFC3339))
	return pr.CorrelationID, nil
}

// register inserts the pending row. The check and insert run under mu so two
// concurrent Issue calls for the same pair cannot both pass the pending check;
// the unique partial index on pending rows backstops the same invariant at the
// schema level.
func (t *Tracker) register(ctx context.Context, deviceID, requestType string, timeout time.Duration) (*PendingRequest, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pending, err := t.repo.HasPending(ctx, deviceID, requestType)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, fmt.Errorf("%w: %s/%s", ErrRequestPending, deviceID, requestType)
	}

	now := time.Now().UTC()
	pr := &PendingRequest{
		CorrelationID: uuid.NewString(),
		DeviceID:      deviceID,
		RequestType:   requestType,
		Status:        StatusPending,
		IssuedAt:      now,
		TimeoutAt:     now.Add(timeout),
	}
	if err := t.repo.Create(ctx, pr); err != nil {
		return nil, err
	}
	return pr, nil
}

// Complete settles a pending request with its device-reported result and
// returns the synthesized completion event for the pipeline.
//
// Returns ErrNotFound if the correlation id is unknown or the request already
// reached a terminal state (including a timeout that won the race).
func (t *Tracker) Complete(ctx context.Context, correlationID string, result map[string]any) (event.Event, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pr, err := t.repo.Get(ctx, correlationID)
	if err != nil {
		return event.Event{}, err
	}

	if err := t.repo.MarkTerminal(ctx, correlationID, StatusCompleted); err != nil {
		return event.Event{}, err
	}
	if t.instruments != nil {
		t.instruments.RequestSettled()
	}

	if pr.RequestType == RequestCalibrate && resultSucceeded(result) {
		if err := t.fleet.TouchDeviceCalibrated(ctx, pr.DeviceID, time.Now().UTC()); err != nil {
			t.logger.Error("recording calibration failed",
				"device_id", pr.DeviceID, "error", err)
		}
	}

	t.logger.Info("request completed",
		"correlation_id", correlationID, "device_id", pr.DeviceID,
		"request_type", pr.RequestType)
	return event.NewRequestCompleted(pr.DeviceID, pr.RequestType, correlationID, result), nil
}

// PendingForDevice lists a device's request history, newest first.
func (t *Tracker) PendingForDevice(ctx context.Context, deviceID string) ([]PendingRequest, error) {
	return t.repo.ListByDevice(ctx, deviceID)
}

// Pending lists all currently outstanding requests.
func (t *Tracker) Pending(ctx context.Context) ([]PendingRequest, error) {
	return t.repo.ListPending(ctx)
}

// Start launches the background timeout sweep. It returns immediately.
func (t *Tracker) Start(ctx context.Context) {
	go t.run(ctx)
}

// Stop halts the sweep loop and waits for it to exit.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
	<-t.done
}

func (t *Tracker) run(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(t.sweepInterval)
	defer ticker.Stop()

	t.logger.Info("correlation sweep started", "interval", t.sweepInterval.String())

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.sweep(ctx)
		}
	}
}

// sweep expires pending requests past their deadline, synthesizing one
// timeout event per expiry.
func (t *Tracker) sweep(ctx context.Context) {
	expired, err := t.repo.ListExpired(ctx, time.Now().UTC())
	if err != nil {
		t.logger.Error("timeout sweep failed", "error", err)
		return
	}

	for _, pr := range expired {
		if !t.expire(ctx, pr) {
			continue
		}

		ev := event.NewRequestTimedOut(pr.DeviceID, pr.RequestType, pr.CorrelationID)
		if err := t.submitter.Submit(ev); err != nil {
			t.logger.Error("submitting timeout event failed",
				"correlation_id", pr.CorrelationID, "error", err)
			continue
		}
		t.logger.Warn("request timed out",
			"correlation_id", pr.CorrelationID, "device_id", pr.DeviceID,
			"request_type", pr.RequestType)
	}
}

// expire attempts the terminal transition for one expired request. Returns
// false if a completion won the race first.
func (t *Tracker) expire(ctx context.Context, pr PendingRequest) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.repo.MarkTerminal(ctx, pr.CorrelationID, StatusTimedOut); err != nil {
		if !errors.Is(err, ErrNotFound) {
			t.logger.Error("expiring request failed",
				"correlation_id", pr.CorrelationID, "error", err)
		}
		return false
	}
	if t.instruments != nil {
		t.instruments.RequestTimedOut()
	}
	return true
}

func resultSucceeded(result map[string]any) bool {
	s, ok := result["status"].(string)
	return ok && s == "success"
}

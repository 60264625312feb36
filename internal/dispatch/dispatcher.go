package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cthz/cthz-core/internal/event"
	"github.com/cthz/cthz-core/internal/policy"
)

// Logger defines the logging interface the dispatcher depends on.
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

// AlertRaiser creates or merges an alert. Implemented by the alert manager.
type AlertRaiser interface {
	RaiseAlert(ctx context.Context, alertType, severity, title, message, sourceType, sourceID string) error
}

// ScanIssuer starts a hardware scan and returns its correlation id.
// Implemented by the correlation tracker.
type ScanIssuer interface {
	IssueScan(ctx context.Context, deviceID string, params map[string]any) (string, error)
}

// OutcomeRecorder receives dispatch outcomes for time-series history.
// Implemented by the InfluxDB client; optional.
type OutcomeRecorder interface {
	WriteDispatchOutcome(policyID, actionType, status string, attempts int, duration time.Duration)
}

// Instruments receives dispatcher metric updates. Optional.
type Instruments interface {
	ActionCompleted(actionType, status string, duration time.Duration)
	ActionRetried()
}

// job is one unit of asynchronous dispatch work.
type job struct {
	policy *policy.Policy
	event  event.Event
}

// Dispatcher executes a policy's actions strictly in declared order.
//
// Each action executes independently: one failure is recorded but does not
// block later actions, except that actions declaring use_scan_correlation are
// skipped after a failed trigger_scan. Deliveries with external side effects
// retry transient failures with bounded backoff; dispatch runs on its own
// worker pool so a slow downstream never stalls the event pipeline.
type Dispatcher struct {
	alerts  AlertRaiser
	scans   ScanIssuer
	sinks   map[policy.ActionType]Deliverer
	results ResultRepository

	retryCfg    RetryConfig
	instruments Instruments
	recorder    OutcomeRecorder
	logger      Logger

	jobs     chan job
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewDispatcher creates an action dispatcher.
//
// Parameters:
//   - alerts: alert manager for ui_alert actions
//   - scans: correlation tracker for trigger_scan actions
//   - external, notify: delivery sinks for external_event and notify actions
//   - results: audit persistence for every action outcome
func NewDispatcher(alerts AlertRaiser, scans ScanIssuer, external, notify Deliverer,
	results ResultRepository, retryCfg RetryConfig, logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{
		alerts: alerts,
		scans:  scans,
		sinks: map[policy.ActionType]Deliverer{
			policy.ActionExternalEvent: external,
			policy.ActionNotify:        notify,
		},
		results:  results,
		retryCfg: retryCfg,
		logger:   logger,
	}
}

// SetInstruments attaches metric hooks.
func (d *Dispatcher) SetInstruments(i Instruments) {
	d.instruments = i
}

// SetRecorder attaches a time-series recorder for dispatch outcomes.
func (d *Dispatcher) SetRecorder(r OutcomeRecorder) {
	d.recorder = r
}

// Start launches the worker pool consuming enqueued dispatch jobs.
func (d *Dispatcher) Start(ctx context.Context, workers int) {
	if workers < 1 {
		workers = 1
	}
	d.jobs = make(chan job, workers*4)

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for j := range d.jobs {
				d.Dispatch(ctx, j.policy, j.event)
			}
		}()
	}
	d.logger.Info("dispatcher started", "workers", workers)
}

// Stop closes the job queue and waits for in-flight dispatches to finish.
// Actions already inside a downstream call are never cancelled mid-flight.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		if d.jobs != nil {
			close(d.jobs)
		}
	})
	d.wg.Wait()
}

// Enqueue hands a matched policy to the worker pool. Blocks only if every
// worker is busy and the buffer is full.
func (d *Dispatcher) Enqueue(p *policy.Policy, ev event.Event) {
	d.jobs <- job{policy: p, event: ev}
}

// Dispatch executes the policy's actions in order and returns the per-action
// results. The result list always has one entry per declared action.
func (d *Dispatcher) Dispatch(ctx context.Context, p *policy.Policy, ev event.Event) []ActionResult {
	results := make([]ActionResult, 0, len(p.Actions))

	scanCorrelationID := ""
	scanFailed := false

	for i, action := range p.Actions {
		res := ActionResult{
			ID:          uuid.NewString(),
			PolicyID:    p.ID,
			EventType:   ev.Type,
			SourceType:  string(ev.SourceType),
			SourceID:    ev.SourceID,
			ActionIndex: i,
			ActionType:  string(action.Type),
			StartedAt:   time.Now().UTC(),
		}

		if scanFailed && action.UsesScanCorrelation() {
			res.Status = ResultSkipped
			res.Attempts = 0
			res.Error = "abandoned: scan correlation id unavailable"
			res.CompletedAt = time.Now().UTC()
			d.finish(ctx, &res)
			results = append(results, res)
			continue
		}

		attempts, corrID, err := d.execute(ctx, action, ev, scanCorrelationID)
		res.Attempts = attempts
		res.CompletedAt = time.Now().UTC()

		if action.Type == policy.ActionTriggerScan {
			if err != nil {
				scanFailed = true
			} else {
				scanCorrelationID = corrID
				res.CorrelationID = corrID
			}
		}

		if err != nil {
			res.Status = ResultFailed
			res.Error = err.Error()
			d.logger.Warn("action failed",
				"policy_id", p.ID, "action_type", action.Type,
				"attempts", attempts, "error", err)
		} else {
			res.Status = ResultSuccess
		}

		d.finish(ctx, &res)
		results = append(results, res)
	}

	return results
}

// execute runs a single action and returns the attempts used and, for
// trigger_scan, the issued correlation id.
func (d *Dispatcher) execute(ctx context.Context, action policy.ActionSpec, ev event.Event, scanCorrelationID string) (attempts int, corrID string, err error) {
	switch action.Type {
	case policy.ActionUIAlert:
		return 1, "", d.raiseAlert(ctx, action, ev)

	case policy.ActionTriggerScan:
		corrID, err = d.triggerScan(ctx, action, ev)
		return 1, corrID, err

	case policy.ActionExternalEvent, policy.ActionNotify:
		sink := d.sinks[action.Type]
		if sink == nil {
			return 1, "", Permanent(fmt.Errorf("no sink wired for %s", action.Type))
		}
		payload, err := deliveryPayload(action, ev, scanCorrelationID)
		if err != nil {
			return 1, "", Permanent(err)
		}
		attempts, err = deliverWithRetry(ctx, d.retryCfg, func() error {
			return sink.Deliver(ctx, payload)
		})
		if d.instruments != nil {
			for r := 1; r < attempts; r++ {
				d.instruments.ActionRetried()
			}
		}
		return attempts, "", err

	default:
		return 1, "", Permanent(fmt.Errorf("unknown action type %q", action.Type))
	}
}

func (d *Dispatcher) raiseAlert(ctx context.Context, action policy.ActionSpec, ev event.Event) error {
	get := func(key string) string {
		s, _ := action.Parameters[key].(string)
		return s
	}
	return d.alerts.RaiseAlert(ctx,
		get("alert_type"), get("severity"), get("title"), get("message"),
		string(ev.SourceType), ev.SourceID)
}

func (d *Dispatcher) triggerScan(ctx context.Context, action policy.ActionSpec, ev event.Event) (string, error) {
	if ev.SourceType != event.SourceDevice {
		return "", Permanent(fmt.Errorf("trigger_scan requires a device event, got %s", ev.SourceType))
	}
	params := map[string]any{}
	if s, ok := action.Parameters["scan_type"].(string); ok && s != "" {
		params["scan_type"] = s
	}
	return d.scans.IssueScan(ctx, ev.SourceID, params)
}

// deliveryPayload builds the JSON document pushed to external sinks: the
// action parameters merged with the triggering event context and, when the
// action asked for it, the freshly issued scan correlation id.
func deliveryPayload(action policy.ActionSpec, ev event.Event, scanCorrelationID string) ([]byte, error) {
	doc := map[string]any{
		"event": ev.Context(),
	}
	for k, v := range action.Parameters {
		if k == policy.ParamUseScanCorrelation {
			continue
		}
		doc[k] = v
	}
	if action.UsesScanCorrelation() && scanCorrelationID != "" {
		doc["scan_correlation_id"] = scanCorrelationID
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshaling delivery payload: %w", err)
	}
	return payload, nil
}

// finish persists and instruments one action result.
func (d *Dispatcher) finish(ctx context.Context, res *ActionResult) {
	if err := d.results.Record(ctx, *res); err != nil {
		d.logger.Error("recording action result failed",
			"result_id", res.ID, "policy_id", res.PolicyID, "error", err)
	}

	duration := res.CompletedAt.Sub(res.StartedAt)
	if d.instruments != nil {
		d.instruments.ActionCompleted(res.ActionType, string(res.Status), duration)
	}
	if d.recorder != nil {
		d.recorder.WriteDispatchOutcome(res.PolicyID, res.ActionType, string(res.Status), res.Attempts, duration)
	}
}

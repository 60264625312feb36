package pipeline

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"

	"github.com/cthz/cthz-core/internal/correlation"
	"github.com/cthz/cthz-core/internal/event"
	"github.com/cthz/cthz-core/internal/fleet"
	"github.com/cthz/cthz-core/internal/policy"
	"github.com/cthz/cthz-core/internal/rules"
)

// ErrStopped is returned by Submit after the pipeline has shut down.
var ErrStopped = errors.New("pipeline: stopped")

// Logger is the logging surface the pipeline needs.
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

// Fleet resolves event sources to entities and their ancestry chain.
// Satisfied by *fleet.Registry.
type Fleet interface {
	Ancestors(ctx context.Context, sourceType, id string) (fleet.Ancestry, error)
	GetDevice(ctx context.Context, id string) (*fleet.Device, error)
	GetStation(ctx context.Context, id string) (*fleet.Station, error)
	GetGroup(ctx context.Context, id string) (*fleet.Group, error)
}

// HealthApplier folds health events into entity status and returns the
// derived status-change events. Satisfied by *status.Aggregator.
type HealthApplier interface {
	Apply(ctx context.Context, ev event.Event) ([]event.Event, error)
}

// Completer settles an outstanding hardware request against its result.
// Satisfied by *correlation.Tracker.
type Completer interface {
	Complete(ctx context.Context, correlationID string, result map[string]any) (event.Event, error)
}

// Resolver selects the policies matching an event. Satisfied by
// *policy.Registry.
type Resolver interface {
	Resolve(evalCtx map[string]any, ancestry fleet.Ancestry, diag rules.Diagnostic) []*policy.Policy
}

// ActionEnqueuer hands a matched policy to the dispatcher's worker pool.
// Satisfied by *dispatch.Dispatcher.
type ActionEnqueuer interface {
	Enqueue(p *policy.Policy, ev event.Event)
}

// Instruments receives pipeline counters.
type Instruments interface {
	EventIngested(eventType string)
	EventRejected(reason string)
	PolicyMatched(policyID string)
	SetQueueDepth(shard string, depth int)
}

type task struct {
	ev       event.Event
	ancestry fleet.Ancestry
}

// Pipeline routes events through correlation completion, status aggregation,
// policy resolution and action dispatch. Events are sharded by the root of
// the source entity's ancestry, so all events touching one group's hierarchy
// are processed serially while unrelated entities run in parallel.
type Pipeline struct {
	fleet       Fleet
	aggregator  HealthApplier
	tracker     Completer
	policies    Resolver
	dispatcher  ActionEnqueuer
	instruments Instruments
	logger      Logger

	shards []chan task

	// mu guards stopped and orders in-flight Submit sends before Stop
	// closes the shard queues.
	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// New creates a pipeline with the given shard count and per-shard queue
// depth. The tracker may be nil when correlation completion is routed
// elsewhere.
func New(fl Fleet, aggregator HealthApplier, tracker Completer, policies Resolver,
	dispatcher ActionEnqueuer, shards, queueDepth int, logger Logger) *Pipeline {
	if logger == nil {
		logger = noopLogger{}
	}
	if shards < 1 {
		shards = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}
	p := &Pipeline{
		fleet:      fl,
		aggregator: aggregator,
		tracker:    tracker,
		policies:   policies,
		dispatcher: dispatcher,
		logger:     logger,
		shards:     make([]chan task, shards),
	}
	for i := range p.shards {
		p.shards[i] = make(chan task, queueDepth)
	}
	return p
}

// SetInstruments wires metric counters. Optional.
func (p *Pipeline) SetInstruments(in Instruments) { p.instruments = in }

// Start launches one worker per shard. Workers stop when Stop closes the
// shard queues; ctx bounds the downstream calls of in-flight work.
func (p *Pipeline) Start(ctx context.Context) {
	for i := range p.shards {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("pipeline started", "shards", len(p.shards), "queue_depth", cap(p.shards[0]))
}

// Stop drains the shard queues and waits for workers to finish.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	for _, ch := range p.shards {
		close(ch)
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("pipeline stopped")
}

// Submit validates an event and enqueues it on its entity shard. Blocks when
// the shard queue is full, providing backpressure to the transport layer.
func (p *Pipeline) Submit(ev event.Event) error {
	if err := ev.Validate(); err != nil {
		p.reject("invalid", ev, err)
		return err
	}

	ctx := context.Background()
	ancestry, err := p.fleet.Ancestors(ctx, string(ev.SourceType), ev.SourceID)
	if err != nil {
		p.reject("unknown_source", ev, err)
		return fmt.Errorf("resolving event source: %w", err)
	}

	p.mu.RLock()
	if p.stopped {
		p.mu.RUnlock()
		return ErrStopped
	}
	shard := p.shardFor(ancestry)
	p.shards[shard] <- task{ev: ev, ancestry: ancestry}
	p.mu.RUnlock()

	if p.instruments != nil {
		p.instruments.EventIngested(ev.Type)
		p.instruments.SetQueueDepth(strconv.Itoa(shard), len(p.shards[shard]))
	}
	return nil
}

func (p *Pipeline) reject(reason string, ev event.Event, err error) {
	p.logger.Warn("event rejected",
		"reason", reason, "event_type", ev.Type,
		"source_type", ev.SourceType, "source_id", ev.SourceID, "error", err)
	if p.instruments != nil {
		p.instruments.EventRejected(reason)
	}
}

func (p *Pipeline) shardFor(ancestry fleet.Ancestry) int {
	h := fnv.New32a()
	h.Write([]byte(ancestry.Root()))
	return int(h.Sum32() % uint32(len(p.shards)))
}

func (p *Pipeline) worker(ctx context.Context, shard int) {
	defer p.wg.Done()
	for t := range p.shards[shard] {
		p.process(ctx, t)
		if p.instruments != nil {
			p.instruments.SetQueueDepth(strconv.Itoa(shard), len(p.shards[shard]))
		}
	}
}

// process runs one event, and any events it derives, through the stages.
// Derived events are handled inline on the same shard so status recomputation
// for one hierarchy never interleaves.
func (p *Pipeline) process(ctx context.Context, t task) {
	queue := []event.Event{t.ev}

	if settled, ok := p.settleCorrelation(ctx, t.ev); ok {
		queue = append(queue, settled)
	}

	for len(queue) > 0 {
		ev := queue[0]
		queue = queue[1:]

		derived, err := p.aggregator.Apply(ctx, ev)
		if err != nil {
			p.logger.Error("status aggregation failed",
				"event_type", ev.Type, "source_id", ev.SourceID, "error", err)
		}
		queue = append(queue, derived...)

		p.resolveAndDispatch(ctx, ev)
	}
}

// settleCorrelation closes the outstanding request a device result refers
// to. A correlation id on an already-settled request (late result after a
// timeout sweep) is logged and the event still flows through the pipeline.
func (p *Pipeline) settleCorrelation(ctx context.Context, ev event.Event) (event.Event, bool) {
	if p.tracker == nil || ev.CorrelationID == "" || ev.SourceType != event.SourceDevice {
		return event.Event{}, false
	}
	switch ev.Type {
	case event.TypeRequestCompleted, event.TypeRequestTimedOut:
		// Already a settlement event.
		return event.Event{}, false
	}

	settled, err := p.tracker.Complete(ctx, ev.CorrelationID, ev.Payload)
	if err != nil {
		if errors.Is(err, correlation.ErrNotFound) {
			p.logger.Warn("result for unknown or settled request",
				"correlation_id", ev.CorrelationID, "device_id", ev.SourceID)
		} else {
			p.logger.Error("completing request failed",
				"correlation_id", ev.CorrelationID, "error", err)
		}
		return event.Event{}, false
	}
	return settled, true
}

func (p *Pipeline) resolveAndDispatch(ctx context.Context, ev event.Event) {
	ancestry, err := p.fleet.Ancestors(ctx, string(ev.SourceType), ev.SourceID)
	if err != nil {
		p.logger.Warn("resolving ancestry for derived event failed",
			"source_type", ev.SourceType, "source_id", ev.SourceID, "error", err)
		return
	}

	evalCtx := ev.Context()
	p.augment(ctx, evalCtx, ev)

	diag := func(msg string) {
		p.logger.Warn("rule evaluation diagnostic", "detail", msg)
	}

	for _, pol := range p.policies.Resolve(evalCtx, ancestry, diag) {
		p.logger.Debug("policy matched",
			"policy_id", pol.ID, "event_type", ev.Type, "source_id", ev.SourceID)
		if p.instruments != nil {
			p.instruments.PolicyMatched(pol.ID)
		}
		p.dispatcher.Enqueue(pol, ev)
	}
}

// augment adds the source entity's current attributes to the evaluation
// context so rules can reference entity state alongside the event payload.
func (p *Pipeline) augment(ctx context.Context, evalCtx map[string]any, ev event.Event) {
	switch ev.SourceType {
	case event.SourceDevice:
		d, err := p.fleet.GetDevice(ctx, ev.SourceID)
		if err != nil {
			return
		}
		evalCtx["status"] = string(d.Status)
		if d.StationID != nil {
			evalCtx["station_id"] = *d.StationID
		}
		evalCtx["group_id"] = d.GroupID
	case event.SourceStation:
		s, err := p.fleet.GetStation(ctx, ev.SourceID)
		if err != nil {
			return
		}
		evalCtx["status"] = string(s.Status)
		evalCtx["group_id"] = s.GroupID
	case event.SourceGroup:
		g, err := p.fleet.GetGroup(ctx, ev.SourceID)
		if err != nil {
			return
		}
		evalCtx["status"] = string(g.Status)
	}
}

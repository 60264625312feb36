package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cthz/cthz-core/internal/correlation"
	"github.com/cthz/cthz-core/internal/event"
	"github.com/cthz/cthz-core/internal/fleet"
	"github.com/cthz/cthz-core/internal/policy"
	"github.com/cthz/cthz-core/internal/rules"
	"github.com/cthz/cthz-core/internal/status"
)

func strPtr(s string) *string { return &s }

// testFleet seeds one group with a managed station (manager + sensor) and a
// standalone device, all online.
func testFleet(t *testing.T) *fleet.Registry {
	t.Helper()
	ctx := context.Background()
	repo := fleet.NewMemoryRepository()

	if err := repo.CreateGroup(ctx, &fleet.Group{
		ID: "grp-1", Name: "North Perimeter", Status: fleet.StatusOnline,
	}); err != nil {
		t.Fatalf("seeding group: %v", err)
	}
	if err := repo.CreateStation(ctx, &fleet.Station{
		ID: "stn-1", GroupID: "grp-1", Name: "Gate A",
		MaxDevices: 3, CoverageAngle: 360,
		ManagerDeviceID: strPtr("dev-mgr"),
		Status:          fleet.StatusOnline,
	}); err != nil {
		t.Fatalf("seeding station: %v", err)
	}
	devices := []*fleet.Device{
		{ID: "dev-mgr", Name: "Gate A Manager", Model: fleet.DefaultModel,
			SerialNumber: "SN-001", GroupID: "grp-1", StationID: strPtr("stn-1"),
			Role: fleet.RoleManager, Status: fleet.StatusOnline},
		{ID: "dev-s1", Name: "Gate A Sensor 1", Model: fleet.DefaultModel,
			SerialNumber: "SN-002", GroupID: "grp-1", StationID: strPtr("stn-1"),
			Role: fleet.RoleSensor, Status: fleet.StatusOnline},
		{ID: "dev-solo", Name: "Lobby Sensor", Model: fleet.DefaultModel,
			SerialNumber: "SN-003", GroupID: "grp-1",
			Role: fleet.RoleSensor, Status: fleet.StatusOnline},
	}
	for _, d := range devices {
		if err := repo.CreateDevice(ctx, d); err != nil {
			t.Fatalf("seeding device %s: %v", d.ID, err)
		}
	}

	reg := fleet.NewRegistry(repo)
	if err := reg.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	return reg
}

// stubResolver returns its fixed policies whenever the match function (or a
// default event-type check) accepts the context.
type stubResolver struct {
	mu       sync.Mutex
	policies []*policy.Policy
	match    func(evalCtx map[string]any) bool
	contexts []map[string]any
}

func (s *stubResolver) Resolve(evalCtx map[string]any, _ fleet.Ancestry, _ rules.Diagnostic) []*policy.Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts = append(s.contexts, evalCtx)
	if s.match != nil && !s.match(evalCtx) {
		return nil
	}
	return s.policies
}

type dispatched struct {
	policyID  string
	eventType string
	sourceID  string
}

type stubEnqueuer struct {
	mu   sync.Mutex
	seen []dispatched
}

func (s *stubEnqueuer) Enqueue(p *policy.Policy, ev event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, dispatched{policyID: p.ID, eventType: ev.Type, sourceID: ev.SourceID})
}

func (s *stubEnqueuer) snapshot() []dispatched {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]dispatched, len(s.seen))
	copy(out, s.seen)
	return out
}

type stubCompleter struct {
	mu        sync.Mutex
	completed []string
	err       error
}

func (s *stubCompleter) Complete(_ context.Context, correlationID string, _ map[string]any) (event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return event.Event{}, s.err
	}
	s.completed = append(s.completed, correlationID)
	return event.NewRequestCompleted("dev-solo", correlation.RequestScan, correlationID, nil), nil
}

func testPolicy(id string) *policy.Policy {
	return &policy.Policy{
		ID: id, Name: id, Priority: 10,
		Scope: policy.Scope{Kind: policy.ScopeAll}, Active: true,
		Actions: []policy.ActionSpec{{
			Type: policy.ActionUIAlert,
			Parameters: map[string]any{
				"alert_type": "threat", "severity": "critical",
				"title": "t", "message": "m",
			},
		}},
	}
}

func newTestPipeline(t *testing.T, resolver Resolver, enqueuer ActionEnqueuer, tracker Completer) (*Pipeline, *fleet.Registry) {
	t.Helper()
	reg := testFleet(t)
	agg := status.NewAggregator(reg, 2, nil)
	p := New(reg, agg, tracker, resolver, enqueuer, 4, 16, nil)
	return p, reg
}

// settle polls until the condition holds or the deadline passes; pipeline
// workers are asynchronous.
func settle(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestSubmitRejectsMalformedEvents(t *testing.T) {
	sink := &stubEnqueuer{}
	p, _ := newTestPipeline(t, &stubResolver{}, sink, nil)
	p.Start(context.Background())
	defer p.Stop()

	bad := event.Event{SourceType: "fleet", SourceID: "x", Type: "heartbeat", OccurredAt: time.Now()}
	if err := p.Submit(bad); !errors.Is(err, event.ErrInvalidEvent) {
		t.Errorf("Submit() error = %v, want ErrInvalidEvent", err)
	}

	noConfidence := event.New(event.SourceDevice, "dev-solo", event.TypeThreatDetected,
		map[string]any{"threat_type": "firearm"})
	if err := p.Submit(noConfidence); !errors.Is(err, event.ErrInvalidEvent) {
		t.Errorf("Submit() error = %v, want ErrInvalidEvent", err)
	}
}

func TestSubmitRejectsUnknownSource(t *testing.T) {
	p, _ := newTestPipeline(t, &stubResolver{}, &stubEnqueuer{}, nil)
	p.Start(context.Background())
	defer p.Stop()

	ev := event.New(event.SourceDevice, "dev-ghost", event.TypeHeartbeat, nil)
	if err := p.Submit(ev); !errors.Is(err, fleet.ErrDeviceNotFound) {
		t.Errorf("Submit() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestThreatEventMatchesAndDispatches(t *testing.T) {
	resolver := &stubResolver{policies: []*policy.Policy{testPolicy("pol-firearm")}}
	sink := &stubEnqueuer{}
	p, _ := newTestPipeline(t, resolver, sink, nil)
	p.Start(context.Background())
	defer p.Stop()

	ev := event.New(event.SourceDevice, "dev-solo", event.TypeThreatDetected,
		map[string]any{"threat_type": "firearm", "confidence": 0.9})
	if err := p.Submit(ev); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	settle(t, func() bool { return len(sink.snapshot()) == 1 })
	got := sink.snapshot()[0]
	if got.policyID != "pol-firearm" || got.eventType != event.TypeThreatDetected {
		t.Errorf("dispatched %+v", got)
	}
}

func TestManagerOfflineCascadeDispatchesDerivedEvents(t *testing.T) {
	// Match only synthesized status-change events so the raw heartbeat
	// does not dispatch.
	resolver := &stubResolver{
		policies: []*policy.Policy{testPolicy("pol-status")},
		match: func(evalCtx map[string]any) bool {
			return evalCtx["type"] == event.TypeStatusChanged
		},
	}
	sink := &stubEnqueuer{}
	p, reg := newTestPipeline(t, resolver, sink, nil)
	p.Start(context.Background())
	defer p.Stop()

	ev := event.New(event.SourceDevice, "dev-mgr", event.TypeHeartbeat,
		map[string]any{"status": "offline"})
	if err := p.Submit(ev); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	// Manager offline demotes the station to error and the group follows:
	// three status-change dispatches, device first.
	settle(t, func() bool { return len(sink.snapshot()) == 3 })
	seen := sink.snapshot()
	wantSources := []string{"dev-mgr", "stn-1", "grp-1"}
	for i, want := range wantSources {
		if seen[i].sourceID != want || seen[i].eventType != event.TypeStatusChanged {
			t.Errorf("dispatch[%d] = %+v, want status_changed from %s", i, seen[i], want)
		}
	}

	st, err := reg.GetStation(context.Background(), "stn-1")
	if err != nil {
		t.Fatalf("GetStation() error = %v", err)
	}
	if st.Status != fleet.StatusError {
		t.Errorf("station status = %s, want error", st.Status)
	}
}

func TestResultEventSettlesCorrelation(t *testing.T) {
	tracker := &stubCompleter{}
	resolver := &stubResolver{}
	sink := &stubEnqueuer{}
	p, _ := newTestPipeline(t, resolver, sink, tracker)
	p.Start(context.Background())
	defer p.Stop()

	ev := event.New(event.SourceDevice, "dev-solo", "scan_result",
		map[string]any{"status": "success"})
	ev.CorrelationID = "corr-1"
	if err := p.Submit(ev); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	settle(t, func() bool {
		tracker.mu.Lock()
		defer tracker.mu.Unlock()
		return len(tracker.completed) == 1
	})

	// Both the raw result and the synthesized completion event reach the
	// resolver.
	settle(t, func() bool {
		resolver.mu.Lock()
		defer resolver.mu.Unlock()
		return len(resolver.contexts) == 2
	})
}

func TestLateResultForSettledRequestStillFlows(t *testing.T) {
	tracker := &stubCompleter{err: correlation.ErrNotFound}
	resolver := &stubResolver{}
	p, _ := newTestPipeline(t, resolver, &stubEnqueuer{}, tracker)
	p.Start(context.Background())
	defer p.Stop()

	ev := event.New(event.SourceDevice, "dev-solo", "scan_result",
		map[string]any{"status": "success"})
	ev.CorrelationID = "corr-stale"
	if err := p.Submit(ev); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	settle(t, func() bool {
		resolver.mu.Lock()
		defer resolver.mu.Unlock()
		return len(resolver.contexts) == 1
	})
}

func TestEvaluationContextCarriesEntityAttributes(t *testing.T) {
	resolver := &stubResolver{}
	p, _ := newTestPipeline(t, resolver, &stubEnqueuer{}, nil)
	p.Start(context.Background())
	defer p.Stop()

	ev := event.New(event.SourceDevice, "dev-s1", event.TypeThreatDetected,
		map[string]any{"threat_type": "knife", "confidence": 0.7})
	if err := p.Submit(ev); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	settle(t, func() bool {
		resolver.mu.Lock()
		defer resolver.mu.Unlock()
		return len(resolver.contexts) == 1
	})

	resolver.mu.Lock()
	evalCtx := resolver.contexts[0]
	resolver.mu.Unlock()
	if evalCtx["station_id"] != "stn-1" || evalCtx["group_id"] != "grp-1" {
		t.Errorf("evalCtx membership = station %v group %v", evalCtx["station_id"], evalCtx["group_id"])
	}
	if evalCtx["status"] != "online" {
		t.Errorf("evalCtx status = %v, want online", evalCtx["status"])
	}
	payload, _ := evalCtx["payload"].(map[string]any)
	if payload["threat_type"] != "knife" {
		t.Errorf("evalCtx payload = %v", payload)
	}
}

func TestSubmitAfterStop(t *testing.T) {
	p, _ := newTestPipeline(t, &stubResolver{}, &stubEnqueuer{}, nil)
	p.Start(context.Background())
	p.Stop()

	ev := event.New(event.SourceDevice, "dev-solo", event.TypeHeartbeat, nil)
	if err := p.Submit(ev); !errors.Is(err, ErrStopped) {
		t.Errorf("Submit() after Stop error = %v, want ErrStopped", err)
	}
}

func TestStopDrainsQueues(t *testing.T) {
	resolver := &stubResolver{policies: []*policy.Policy{testPolicy("pol-1")}}
	sink := &stubEnqueuer{}
	p, _ := newTestPipeline(t, resolver, sink, nil)
	p.Start(context.Background())

	const n = 50
	for i := 0; i < n; i++ {
		ev := event.New(event.SourceDevice, "dev-solo", event.TypeThreatDetected,
			map[string]any{"threat_type": fmt.Sprintf("t-%d", i), "confidence": 0.5})
		if err := p.Submit(ev); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	p.Stop()

	if got := len(sink.snapshot()); got != n {
		t.Errorf("dispatched %d events after Stop(), want %d", got, n)
	}
}

func TestInstrumentsWiring(t *testing.T) {
	in := &countingInstruments{}
	resolver := &stubResolver{policies: []*policy.Policy{testPolicy("pol-1")}}
	p, _ := newTestPipeline(t, resolver, &stubEnqueuer{}, nil)
	p.SetInstruments(in)
	p.Start(context.Background())

	good := event.New(event.SourceDevice, "dev-solo", event.TypeThreatDetected,
		map[string]any{"threat_type": "firearm", "confidence": 0.9})
	if err := p.Submit(good); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	bad := event.Event{SourceType: "fleet", SourceID: "x", Type: "t", OccurredAt: time.Now()}
	_ = p.Submit(bad)

	p.Stop()

	in.mu.Lock()
	defer in.mu.Unlock()
	if in.ingested != 1 || in.rejected != 1 || in.matched != 1 {
		t.Errorf("instruments ingested=%d rejected=%d matched=%d, want 1 each",
			in.ingested, in.rejected, in.matched)
	}
}

type countingInstruments struct {
	mu       sync.Mutex
	ingested int
	rejected int
	matched  int
}

func (c *countingInstruments) EventIngested(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ingested++
}

func (c *countingInstruments) EventRejected(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejected++
}

func (c *countingInstruments) PolicyMatched(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.matched++
}

func (c *countingInstruments) SetQueueDepth(string, int) {}

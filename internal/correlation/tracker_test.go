package correlation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cthz/cthz-core/internal/event"
	"github.com/cthz/cthz-core/internal/fleet"
)

// stubTransport records sent commands and can be made to fail.
type stubTransport struct {
	mu       sync.Mutex
	commands []commandMessage
	fail     error
}

func (s *stubTransport) SendCommand(deviceID string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	var cmd commandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return err
	}
	s.commands = append(s.commands, cmd)
	return nil
}

func (s *stubTransport) sent() []commandMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]commandMessage(nil), s.commands...)
}

// stubSubmitter collects synthesized events.
type stubSubmitter struct {
	mu     sync.Mutex
	events []event.Event
}

func (s *stubSubmitter) Submit(ev event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *stubSubmitter) submitted() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Event(nil), s.events...)
}

func testRegistry(t *testing.T) *fleet.Registry {
	t.Helper()
	ctx := context.Background()
	repo := fleet.NewMemoryRepository()
	if err := repo.CreateGroup(ctx, &fleet.Group{ID: "grp-1", Name: "Perimeter", Status: fleet.StatusOnline}); err != nil {
		t.Fatalf("seeding group: %v", err)
	}
	if err := repo.CreateDevice(ctx, &fleet.Device{
		ID: "dev-1", Name: "Sensor 1", Model: fleet.DefaultModel,
		SerialNumber: "SN-001", GroupID: "grp-1",
		Role: fleet.RoleSensor, Status: fleet.StatusOnline,
	}); err != nil {
		t.Fatalf("seeding device: %v", err)
	}
	reg := fleet.NewRegistry(repo)
	if err := reg.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	return reg
}

func testTracker(t *testing.T) (*Tracker, *stubTransport, *stubSubmitter, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository()
	transport := &stubTransport{}
	submitter := &stubSubmitter{}
	tr := NewTracker(repo, testRegistry(t), transport, submitter,
		30*time.Second, time.Hour, nil)
	return tr, transport, submitter, repo
}

func TestIssueSendsCommand(t *testing.T) {
	ctx := context.Background()
	tr, transport, _, repo := testTracker(t)

	id, err := tr.Issue(ctx, "dev-1", RequestScan, map[string]any{"scan_type": "full"}, 0)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if id == "" {
		t.Fatal("Issue() returned empty correlation id")
	}

	sent := transport.sent()
	if len(sent) != 1 {
		t.Fatalf("transport received %d commands, want 1", len(sent))
	}
	if sent[0].CorrelationID != id {
		t.Errorf("command correlation_id = %s, want %s", sent[0].CorrelationID, id)
	}
	if sent[0].Op != RequestScan {
		t.Errorf("command op = %s, want %s", sent[0].Op, RequestScan)
	}
	if sent[0].Params["scan_type"] != "full" {
		t.Errorf("command params = %v", sent[0].Params)
	}

	pr, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if pr.Status != StatusPending {
		t.Errorf("request status = %s, want pending", pr.Status)
	}
	if !pr.TimeoutAt.After(pr.IssuedAt) {
		t.Error("timeout_at is not after issued_at")
	}
}

func TestIssueSecondRequestConflicts(t *testing.T) {
	ctx := context.Background()
	tr, _, _, _ := testTracker(t)

	if _, err := tr.Issue(ctx, "dev-1", RequestScan, nil, 0); err != nil {
		t.Fatalf("first Issue() error = %v", err)
	}
	if _, err := tr.Issue(ctx, "dev-1", RequestScan, nil, 0); !errors.Is(err, ErrRequestPending) {
		t.Errorf("second Issue() error = %v, want ErrRequestPending", err)
	}

	// A different request type for the same device is allowed.
	if _, err := tr.Issue(ctx, "dev-1", RequestCalibrate, nil, 0); err != nil {
		t.Errorf("Issue(calibrate) error = %v", err)
	}
}

func TestIssueConcurrentSamePairSingleWinner(t *testing.T) {
	ctx := context.Background()
	tr, _, _, repo := testTracker(t)

	// Race many issues for the same (device, request_type); exactly one may
	// win, the rest must conflict, and exactly one pending row may exist.
	const racers = 8
	errs := make([]error, racers)
	var wg sync.WaitGroup
	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = tr.Issue(ctx, "dev-1", RequestScan, nil, 0)
		}(i)
	}
	wg.Wait()

	var won int
	for i, err := range errs {
		switch {
		case err == nil:
			won++
		case !errors.Is(err, ErrRequestPending):
			t.Errorf("Issue() #%d error = %v, want ErrRequestPending", i, err)
		}
	}
	if won != 1 {
		t.Errorf("%d concurrent Issue() calls succeeded, want 1", won)
	}

	pending, err := repo.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("%d pending rows coexist, want 1", len(pending))
	}
}

func TestRepositoryCreateRejectsSecondPending(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	first := &PendingRequest{
		CorrelationID: "corr-1", DeviceID: "dev-1", RequestType: RequestScan,
		Status: StatusPending, IssuedAt: time.Now(), TimeoutAt: time.Now().Add(time.Minute),
	}
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	second := &PendingRequest{
		CorrelationID: "corr-2", DeviceID: "dev-1", RequestType: RequestScan,
		Status: StatusPending, IssuedAt: time.Now(), TimeoutAt: time.Now().Add(time.Minute),
	}
	if err := repo.Create(ctx, second); !errors.Is(err, ErrRequestPending) {
		t.Errorf("Create() error = %v, want ErrRequestPending", err)
	}

	// A terminal row frees the pair.
	if err := repo.MarkTerminal(ctx, "corr-1", StatusCompleted); err != nil {
		t.Fatalf("MarkTerminal() error = %v", err)
	}
	if err := repo.Create(ctx, second); err != nil {
		t.Errorf("Create() after settle error = %v", err)
	}
}

func TestIssueUnknownDevice(t *testing.T) {
	tr, _, _, _ := testTracker(t)
	if _, err := tr.Issue(context.Background(), "dev-ghost", RequestScan, nil, 0); !errors.Is(err, fleet.ErrDeviceNotFound) {
		t.Errorf("Issue() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestIssueTransportFailureSettlesEntry(t *testing.T) {
	ctx := context.Background()
	tr, transport, _, _ := testTracker(t)
	transport.fail = errors.New("broker gone")

	if _, err := tr.Issue(ctx, "dev-1", RequestScan, nil, 0); err == nil {
		t.Fatal("Issue() succeeded despite transport failure")
	}

	// The pair must not stay blocked by the failed send.
	transport.fail = nil
	if _, err := tr.Issue(ctx, "dev-1", RequestScan, nil, 0); err != nil {
		t.Errorf("reissue after transport failure error = %v", err)
	}
}

func TestCompleteSynthesizesEvent(t *testing.T) {
	ctx := context.Background()
	tr, _, _, _ := testTracker(t)

	id, err := tr.Issue(ctx, "dev-1", RequestScan, nil, 0)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	ev, err := tr.Complete(ctx, id, map[string]any{"status": "success", "threats_found": 0.0})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if ev.Type != event.TypeRequestCompleted {
		t.Errorf("event type = %s, want %s", ev.Type, event.TypeRequestCompleted)
	}
	if ev.CorrelationID != id {
		t.Errorf("event correlation_id = %s, want %s", ev.CorrelationID, id)
	}
	if ev.SourceID != "dev-1" {
		t.Errorf("event source_id = %s, want dev-1", ev.SourceID)
	}
	if ev.Payload["request_type"] != RequestScan {
		t.Errorf("event payload request_type = %v, want %s", ev.Payload["request_type"], RequestScan)
	}
}

func TestCompleteUnknownID(t *testing.T) {
	tr, _, _, _ := testTracker(t)
	if _, err := tr.Complete(context.Background(), "no-such-id", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("Complete() error = %v, want ErrNotFound", err)
	}
}

func TestCompleteIsTerminal(t *testing.T) {
	ctx := context.Background()
	tr, _, _, _ := testTracker(t)

	id, _ := tr.Issue(ctx, "dev-1", RequestScan, nil, 0)
	if _, err := tr.Complete(ctx, id, map[string]any{"status": "success"}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if _, err := tr.Complete(ctx, id, map[string]any{"status": "success"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Complete() error = %v, want ErrNotFound", err)
	}
}

func TestCalibrationCompletionStampsDevice(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	reg := testRegistry(t)
	tr := NewTracker(repo, reg, &stubTransport{}, &stubSubmitter{}, 30*time.Second, time.Hour, nil)

	id, err := tr.Issue(ctx, "dev-1", RequestCalibrate, nil, 0)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := tr.Complete(ctx, id, map[string]any{"status": "success"}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	dev, err := reg.GetDevice(ctx, "dev-1")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if dev.LastCalibrated == nil {
		t.Error("successful calibration did not stamp last_calibrated")
	}
}

func TestSweepTimesOutExpired(t *testing.T) {
	ctx := context.Background()
	tr, _, submitter, repo := testTracker(t)

	id, err := tr.Issue(ctx, "dev-1", RequestScan, nil, time.Nanosecond)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	time.Sleep(time.Millisecond)

	tr.sweep(ctx)

	pr, _ := repo.Get(ctx, id)
	if pr.Status != StatusTimedOut {
		t.Errorf("request status = %s, want timed_out", pr.Status)
	}

	events := submitter.submitted()
	if len(events) != 1 {
		t.Fatalf("sweep submitted %d events, want 1", len(events))
	}
	if events[0].Type != event.TypeRequestTimedOut {
		t.Errorf("event type = %s, want %s", events[0].Type, event.TypeRequestTimedOut)
	}
	if events[0].CorrelationID != id {
		t.Errorf("event correlation_id = %s, want %s", events[0].CorrelationID, id)
	}
}

func TestCompleteVersusSweepSingleTerminal(t *testing.T) {
	ctx := context.Background()
	tr, _, submitter, _ := testTracker(t)

	id, err := tr.Issue(ctx, "dev-1", RequestScan, nil, time.Nanosecond)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	time.Sleep(time.Millisecond)

	// Race a completion against the sweep; exactly one terminal outcome may
	// surface regardless of interleaving.
	var wg sync.WaitGroup
	var completeErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, completeErr = tr.Complete(ctx, id, map[string]any{"status": "success"})
	}()
	go func() {
		defer wg.Done()
		tr.sweep(ctx)
	}()
	wg.Wait()

	timeouts := len(submitter.submitted())
	completed := completeErr == nil
	if completed && timeouts != 0 {
		t.Errorf("both completion and timeout surfaced (timeouts=%d)", timeouts)
	}
	if !completed && timeouts != 1 {
		t.Errorf("completion lost but %d timeout events surfaced, want 1", timeouts)
	}
}

// countingInstruments tracks metric hook calls.
type countingInstruments struct {
	mu                        sync.Mutex
	issued, settled, timedOut int
}

func (c *countingInstruments) RequestIssued() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.issued++
}

func (c *countingInstruments) RequestSettled() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settled++
}

func (c *countingInstruments) RequestTimedOut() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timedOut++
}

func TestInstrumentsWiring(t *testing.T) {
	ctx := context.Background()
	tr, _, _, _ := testTracker(t)
	counts := &countingInstruments{}
	tr.SetInstruments(counts)

	id, _ := tr.Issue(ctx, "dev-1", RequestScan, nil, 0)
	if _, err := tr.Complete(ctx, id, map[string]any{"status": "success"}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	counts.mu.Lock()
	defer counts.mu.Unlock()
	if counts.issued != 1 || counts.settled != 1 || counts.timedOut != 0 {
		t.Errorf("instrument counts = issued %d settled %d timedOut %d, want 1/1/0",
			counts.issued, counts.settled, counts.timedOut)
	}
}

func TestTimeoutInstrumentsSettleOnce(t *testing.T) {
	ctx := context.Background()
	tr, _, _, _ := testTracker(t)
	counts := &countingInstruments{}
	tr.SetInstruments(counts)

	if _, err := tr.Issue(ctx, "dev-1", RequestScan, nil, time.Nanosecond); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	time.Sleep(time.Millisecond)

	tr.sweep(ctx)

	// A timeout settles through RequestTimedOut alone; firing RequestSettled
	// as well would double-count the settle.
	counts.mu.Lock()
	defer counts.mu.Unlock()
	if counts.issued != 1 || counts.settled != 0 || counts.timedOut != 1 {
		t.Errorf("instrument counts = issued %d settled %d timedOut %d, want 1/0/1",
			counts.issued, counts.settled, counts.timedOut)
	}
}

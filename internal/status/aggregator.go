package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cthz/cthz-core/internal/event"
	"github.com/cthz/cthz-core/internal/fleet"
)

// Logger defines the logging interface the aggregator depends on.
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

// TransitionRecorder receives every applied status transition for time-series
// history. Implemented by the InfluxDB client; optional.
type TransitionRecorder interface {
	WriteStatusTransition(sourceType, sourceID, from, to string)
}

// Aggregator owns health state transitions for the fleet hierarchy.
//
// Devices transition directly from their heartbeat and status events; station
// and group statuses are recomputed by rollup whenever a member device moves.
// The caller (the pipeline) guarantees events for the same hierarchy are
// applied serially, so Apply never races itself for one entity. Writes are
// still compare-and-swap guarded against out-of-band writers such as the API.
type Aggregator struct {
	fleet    *fleet.Registry
	quorum   int
	recorder TransitionRecorder
	logger   Logger
}

// NewAggregator creates a status aggregator over the fleet registry.
// quorum is the minimum station member count below which a station is inactive.
func NewAggregator(reg *fleet.Registry, quorum int, logger Logger) *Aggregator {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Aggregator{
		fleet:  reg,
		quorum: quorum,
		logger: logger,
	}
}

// SetRecorder attaches a time-series recorder for status transitions.
func (a *Aggregator) SetRecorder(r TransitionRecorder) {
	a.recorder = r
}

// Apply processes a device health event and returns the synthetic
// status-change events produced by the transition and any rollups it caused,
// in hierarchy order: device, then station, then group.
//
// Events that carry no health information return an empty slice and no error.
func (a *Aggregator) Apply(ctx context.Context, ev event.Event) ([]event.Event, error) {
	if ev.SourceType != event.SourceDevice {
		return nil, nil
	}

	var (
		target fleet.Status
		seenAt *time.Time
	)

	switch ev.Type {
	case event.TypeHeartbeat, event.TypeStatusReport:
		target = reportedStatus(ev)
		if target == "" {
			return nil, fmt.Errorf("%w: invalid status in %s payload", event.ErrInvalidEvent, ev.Type)
		}
		at := ev.OccurredAt
		seenAt = &at
	case event.TypeHeartbeatExpired:
		target = fleet.StatusOffline
	default:
		return nil, nil
	}

	dev, err := a.fleet.GetDevice(ctx, ev.SourceID)
	if err != nil {
		return nil, fmt.Errorf("resolving device %s: %w", ev.SourceID, err)
	}

	if dev.Status == fleet.StatusMaintenance && ev.Type == event.TypeHeartbeat {
		// Maintenance is cleared by an explicit status report or the API,
		// never by a heartbeat; liveness is still refreshed.
		if seenAt != nil {
			if err := a.fleet.TouchDeviceSeen(ctx, dev.ID, *seenAt); err != nil {
				return nil, fmt.Errorf("touching device %s: %w", dev.ID, err)
			}
		}
		return nil, nil
	}

	var out []event.Event

	if dev.Status == target {
		// No transition; heartbeats still refresh liveness.
		if seenAt != nil {
			if err := a.fleet.TouchDeviceSeen(ctx, dev.ID, *seenAt); err != nil {
				return nil, fmt.Errorf("touching device %s: %w", dev.ID, err)
			}
		}
		return out, nil
	}

	from := dev.Status
	if err := a.setDeviceStatus(ctx, dev.ID, from, target, seenAt); err != nil {
		return nil, err
	}
	out = append(out, event.NewStatusChanged(event.SourceDevice, dev.ID, string(from), string(target)))
	a.record(string(event.SourceDevice), dev.ID, from, target)
	a.logger.Info("device status changed",
		"device_id", dev.ID, "from", from, "to", target, "trigger", ev.Type)

	// Rollups walk upward from the moved device.
	if dev.StationID != nil {
		stEvents, err := a.recomputeStation(ctx, *dev.StationID)
		if err != nil {
			return out, err
		}
		out = append(out, stEvents...)
	}

	grpEvents, err := a.recomputeGroup(ctx, dev.GroupID)
	if err != nil {
		return out, err
	}
	return append(out, grpEvents...), nil
}

// RecomputeStation re-derives a station's status from its current members and
// returns the synthetic events for the station transition plus the group
// rollup it may cause. Used when membership changes outside the event flow.
func (a *Aggregator) RecomputeStation(ctx context.Context, stationID string) ([]event.Event, error) {
	out, err := a.recomputeStation(ctx, stationID)
	if err != nil {
		return nil, err
	}
	st, err := a.fleet.GetStation(ctx, stationID)
	if err != nil {
		return out, err
	}
	grpEvents, err := a.recomputeGroup(ctx, st.GroupID)
	if err != nil {
		return out, err
	}
	return append(out, grpEvents...), nil
}

func (a *Aggregator) recomputeStation(ctx context.Context, stationID string) ([]event.Event, error) {
	st, err := a.fleet.GetStation(ctx, stationID)
	if err != nil {
		return nil, fmt.Errorf("resolving station %s: %w", stationID, err)
	}
	members, err := a.fleet.StationMembers(ctx, stationID)
	if err != nil {
		return nil, fmt.Errorf("listing members of station %s: %w", stationID, err)
	}

	target := RollupStation(st, members, a.quorum)
	if st.Status == target {
		return nil, nil
	}

	if err := a.setStationStatus(ctx, st.ID, st.Status, target); err != nil {
		return nil, err
	}
	a.record(string(event.SourceStation), st.ID, st.Status, target)
	a.logger.Info("station status changed",
		"station_id", st.ID, "from", st.Status, "to", target)
	return []event.Event{
		event.NewStatusChanged(event.SourceStation, st.ID, string(st.Status), string(target)),
	}, nil
}

func (a *Aggregator) recomputeGroup(ctx context.Context, groupID string) ([]event.Event, error) {
	grp, err := a.fleet.GetGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("resolving group %s: %w", groupID, err)
	}
	stations, err := a.fleet.GroupStations(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("listing stations of group %s: %w", groupID, err)
	}
	standalone, err := a.fleet.GroupStandaloneDevices(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("listing standalone devices of group %s: %w", groupID, err)
	}

	target := RollupGroup(stations, standalone)
	if grp.Status == target {
		return nil, nil
	}

	if err := a.setGroupStatus(ctx, grp.ID, grp.Status, target); err != nil {
		return nil, err
	}
	a.record(string(event.SourceGroup), grp.ID, grp.Status, target)
	a.logger.Info("group status changed",
		"group_id", grp.ID, "from", grp.Status, "to", target)
	return []event.Event{
		event.NewStatusChanged(event.SourceGroup, grp.ID, string(grp.Status), string(target)),
	}, nil
}

// setDeviceStatus applies a CAS-guarded device transition, retrying once with
// a reloaded expectation if an out-of-band writer moved the status first.
func (a *Aggregator) setDeviceStatus(ctx context.Context, id string, from, to fleet.Status, seenAt *time.Time) error {
	err := a.fleet.SetDeviceStatus(ctx, id, from, to, seenAt)
	if !errors.Is(err, fleet.ErrStatusConflict) {
		return err
	}

	dev, getErr := a.fleet.GetDevice(ctx, id)
	if getErr != nil {
		return getErr
	}
	if dev.Status == to {
		return nil
	}
	a.logger.Warn("device status conflict, retrying with reloaded state",
		"device_id", id, "expected", from, "found", dev.Status)
	return a.fleet.SetDeviceStatus(ctx, id, dev.Status, to, seenAt)
}

func (a *Aggregator) setStationStatus(ctx context.Context, id string, from, to fleet.Status) error {
	err := a.fleet.SetStationStatus(ctx, id, from, to)
	if !errors.Is(err, fleet.ErrStatusConflict) {
		return err
	}
	st, getErr := a.fleet.GetStation(ctx, id)
	if getErr != nil {
		return getErr
	}
	if st.Status == to {
		return nil
	}
	return a.fleet.SetStationStatus(ctx, id, st.Status, to)
}

func (a *Aggregator) setGroupStatus(ctx context.Context, id string, from, to fleet.Status) error {
	err := a.fleet.SetGroupStatus(ctx, id, from, to)
	if !errors.Is(err, fleet.ErrStatusConflict) {
		return err
	}
	grp, getErr := a.fleet.GetGroup(ctx, id)
	if getErr != nil {
		return getErr
	}
	if grp.Status == to {
		return nil
	}
	return a.fleet.SetGroupStatus(ctx, id, grp.Status, to)
}

func (a *Aggregator) record(sourceType, sourceID string, from, to fleet.Status) {
	if a.recorder == nil {
		return
	}
	a.recorder.WriteStatusTransition(sourceType, sourceID, string(from), string(to))
}

// reportedStatus extracts the target device status from a heartbeat or status
// report payload. Heartbeats without an explicit status imply online. Returns
// the empty status for values outside the device state machine.
func reportedStatus(ev event.Event) fleet.Status {
	raw, ok := ev.Payload["status"]
	if !ok {
		if ev.Type == event.TypeHeartbeat {
			return fleet.StatusOnline
		}
		return ""
	}
	s, ok := raw.(string)
	if !ok {
		return ""
	}
	for _, valid := range fleet.AllStatuses() {
		if fleet.Status(s) == valid {
			return valid
		}
	}
	return ""
}

package status

import (
	"context"
	"sync"
	"time"

	"github.com/cthz/cthz-core/internal/event"
	"github.com/cthz/cthz-core/internal/fleet"
)

// Submitter accepts synthesized events into the pipeline.
type Submitter interface {
	Submit(ev event.Event) error
}

// Monitor watches device liveness and synthesizes heartbeat-expired events
// for devices that have gone silent. Going offline is therefore an event in
// the same stream as everything else, not a side channel poll result.
type Monitor struct {
	fleet     *fleet.Registry
	submitter Submitter
	expiry    time.Duration
	interval  time.Duration
	logger    Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewMonitor creates a heartbeat monitor.
//
// Parameters:
//   - reg: fleet registry to scan
//   - submitter: pipeline ingress for synthesized expiry events
//   - expiry: silence duration after which a device is considered offline
//   - interval: how often the scan runs
func NewMonitor(reg *fleet.Registry, submitter Submitter, expiry, interval time.Duration, logger Logger) *Monitor {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Monitor{
		fleet:     reg,
		submitter: submitter,
		expiry:    expiry,
		interval:  interval,
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the background sweep loop. It returns immediately.
func (m *Monitor) Start(ctx context.Context) {
	go m.run(ctx)
}

// Stop halts the sweep loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("heartbeat monitor started",
		"expiry", m.expiry.String(), "interval", m.interval.String())

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep scans all devices and submits an expiry event for each one that has
// been silent past the expiry window.
func (m *Monitor) sweep(ctx context.Context) {
	devices, err := m.fleet.ListDevices(ctx)
	if err != nil {
		m.logger.Error("heartbeat sweep failed", "error", err)
		return
	}

	cutoff := time.Now().UTC().Add(-m.expiry)
	for _, d := range devices {
		if !expired(d, cutoff) {
			continue
		}

		lastSeen := d.CreatedAt
		if d.LastSeen != nil {
			lastSeen = *d.LastSeen
		}

		ev := event.NewHeartbeatExpired(d.ID, lastSeen)
		if err := m.submitter.Submit(ev); err != nil {
			m.logger.Error("submitting heartbeat expiry failed",
				"device_id", d.ID, "error", err)
			continue
		}
		m.logger.Warn("device heartbeat expired",
			"device_id", d.ID, "last_seen", lastSeen.Format(time.RFC3339))
	}
}

// expired reports whether a device should be declared offline.
// Devices already offline need no further events; devices in maintenance are
// expected to be silent.
func expired(d fleet.Device, cutoff time.Time) bool {
	if d.Status == fleet.StatusOffline || d.Status == fleet.StatusMaintenance {
		return false
	}
	lastSeen := d.CreatedAt
	if d.LastSeen != nil {
		lastSeen = *d.LastSeen
	}
	return lastSeen.Before(cutoff)
}

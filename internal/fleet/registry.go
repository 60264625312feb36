package fleet

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides fleet management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups,
// and enforces the hierarchy invariants:
//
//   - a station's manager device must be a member of that station
//   - removing a station's manager promotes another member or demotes
//     the station to inactive
//   - station membership never exceeds max_devices
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo Repository

	devices  map[string]*Device
	stations map[string]*Station
	groups   map[string]*Group
	cacheMu  sync.RWMutex

	logger Logger
}

// NewRegistry creates a new fleet registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:     repo,
		devices:  make(map[string]*Device),
		stations: make(map[string]*Station),
		groups:   make(map[string]*Group),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all entities from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}
	stations, err := r.repo.ListStations(ctx)
	if err != nil {
		return fmt.Errorf("loading stations: %w", err)
	}
	groups, err := r.repo.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("loading groups: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.devices = make(map[string]*Device, len(devices))
	for i := range devices {
		d := devices[i]
		r.devices[d.ID] = d.DeepCopy()
	}
	r.stations = make(map[string]*Station, len(stations))
	for i := range stations {
		s := stations[i]
		r.stations[s.ID] = s.DeepCopy()
	}
	r.groups = make(map[string]*Group, len(groups))
	for i := range groups {
		g := groups[i]
		r.groups[g.ID] = g.DeepCopy()
	}

	r.logger.Info("fleet cache refreshed",
		"devices", len(devices),
		"stations", len(stations),
		"groups", len(groups),
	)
	return nil
}

// DeviceCount returns the number of cached devices.
func (r *Registry) DeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.devices)
}

// StationCount returns the number of cached stations.
func (r *Registry) StationCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.stations)
}

// GroupCount returns the number of cached groups.
func (r *Registry) GroupCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.groups)
}

// GetDevice retrieves a device by ID.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.devices[id]
	r.cacheMu.RUnlock()
	if ok {
		return cached.DeepCopy(), nil
	}

	d, err := r.repo.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.devices[id] = d.DeepCopy()
	r.cacheMu.Unlock()
	return d, nil
}

// GetStation retrieves a station by ID.
func (r *Registry) GetStation(ctx context.Context, id string) (*Station, error) {
	r.cacheMu.RLock()
	cached, ok := r.stations[id]
	r.cacheMu.RUnlock()
	if ok {
		return cached.DeepCopy(), nil
	}

	s, err := r.repo.GetStation(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.stations[id] = s.DeepCopy()
	r.cacheMu.Unlock()
	return s, nil
}

// GetGroup retrieves a group by ID.
func (r *Registry) GetGroup(ctx context.Context, id string) (*Group, error) {
	r.cacheMu.RLock()
	cached, ok := r.groups[id]
	r.cacheMu.RUnlock()
	if ok {
		return cached.DeepCopy(), nil
	}

	g, err := r.repo.GetGroup(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.groups[id] = g.DeepCopy()
	r.cacheMu.Unlock()
	return g, nil
}

// ListDevices retrieves all devices, sorted by ID for determinism.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	if len(r.devices) > 0 {
		devices := make([]Device, 0, len(r.devices))
		for _, d := range r.devices {
			devices = append(devices, *d.DeepCopy())
		}
		r.cacheMu.RUnlock()
		sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
		return devices, nil
	}
	r.cacheMu.RUnlock()
	return r.repo.ListDevices(ctx)
}

// ListStations retrieves all stations, sorted by ID.
func (r *Registry) ListStations(ctx context.Context) ([]Station, error) {
	r.cacheMu.RLock()
	if len(r.stations) > 0 {
		stations := make([]Station, 0, len(r.stations))
		for _, s := range r.stations {
			stations = append(stations, *s.DeepCopy())
		}
		r.cacheMu.RUnlock()
		sort.Slice(stations, func(i, j int) bool { return stations[i].ID < stations[j].ID })
		return stations, nil
	}
	r.cacheMu.RUnlock()
	return r.repo.ListStations(ctx)
}

// ListGroups retrieves all groups, sorted by ID.
func (r *Registry) ListGroups(ctx context.Context) ([]Group, error) {
	r.cacheMu.RLock()
	if len(r.groups) > 0 {
		groups := make([]Group, 0, len(r.groups))
		for _, g := range r.groups {
			groups = append(groups, *g.DeepCopy())
		}
		r.cacheMu.RUnlock()
		sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
		return groups, nil
	}
	r.cacheMu.RUnlock()
	return r.repo.ListGroups(ctx)
}

// StationMembers returns the member devices of a station, sorted by ID.
func (r *Registry) StationMembers(ctx context.Context, stationID string) ([]Device, error) {
	devices, err := r.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	var members []Device
	for _, d := range devices {
		if d.StationID != nil && *d.StationID == stationID {
			members = append(members, d)
		}
	}
	return members, nil
}

// GroupStations returns the stations belonging to a group, sorted by ID.
func (r *Registry) GroupStations(ctx context.Context, groupID string) ([]Station, error) {
	stations, err := r.ListStations(ctx)
	if err != nil {
		return nil, err
	}
	var members []Station
	for _, s := range stations {
		if s.GroupID == groupID {
			members = append(members, s)
		}
	}
	return members, nil
}

// GroupStandaloneDevices returns devices that belong to a group directly,
// without station membership.
func (r *Registry) GroupStandaloneDevices(ctx context.Context, groupID string) ([]Device, error) {
	devices, err := r.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	var standalone []Device
	for _, d := range devices {
		if d.GroupID == groupID && d.StationID == nil {
			standalone = append(standalone, d)
		}
	}
	return standalone, nil
}

// Ancestors resolves the hierarchy chain above an entity.
// Returns ErrDeviceNotFound/ErrStationNotFound/ErrGroupNotFound when the
// entity itself does not exist.
func (r *Registry) Ancestors(ctx context.Context, sourceType, id string) (Ancestry, error) {
	switch sourceType {
	case "device":
		d, err := r.GetDevice(ctx, id)
		if err != nil {
			return Ancestry{}, err
		}
		a := Ancestry{GroupID: d.GroupID, DeviceID: d.ID}
		if d.StationID != nil {
			a.StationID = *d.StationID
		}
		return a, nil
	case "station":
		s, err := r.GetStation(ctx, id)
		if err != nil {
			return Ancestry{}, err
		}
		return Ancestry{GroupID: s.GroupID, StationID: s.ID}, nil
	case "group":
		g, err := r.GetGroup(ctx, id)
		if err != nil {
			return Ancestry{}, err
		}
		return Ancestry{GroupID: g.ID}, nil
	default:
		// System events have no hierarchy.
		return Ancestry{DeviceID: id}, nil
	}
}

// CreateDevice validates and persists a new device, enforcing station
// capacity and manager uniqueness.
func (r *Registry) CreateDevice(ctx context.Context, d *Device) error {
	if err := ValidateDevice(d); err != nil {
		return err
	}
	if d.GroupID != "" {
		if _, err := r.GetGroup(ctx, d.GroupID); err != nil {
			return fmt.Errorf("%w: group %s: %w", ErrInvalidDevice, d.GroupID, err)
		}
	}

	if d.StationID != nil {
		if err := r.checkStationAdmission(ctx, *d.StationID, d); err != nil {
			return err
		}
	}

	if err := r.repo.CreateDevice(ctx, d); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.devices[d.ID] = d.DeepCopy()
	r.cacheMu.Unlock()

	// A manager joining a managerless station takes over.
	if d.StationID != nil && d.Role == RoleManager {
		if err := r.assignManager(ctx, *d.StationID, d.ID); err != nil {
			return err
		}
	}

	r.logger.Info("device created", "device_id", d.ID, "group_id", d.GroupID)
	return nil
}

// checkStationAdmission verifies a device may join a station.
func (r *Registry) checkStationAdmission(ctx context.Context, stationID string, d *Device) error {
	station, err := r.GetStation(ctx, stationID)
	if err != nil {
		return fmt.Errorf("%w: station %s: %w", ErrInvalidDevice, stationID, err)
	}

	members, err := r.StationMembers(ctx, stationID)
	if err != nil {
		return err
	}

	count := 0
	for _, m := range members {
		if m.ID != d.ID {
			count++
		}
	}
	if count >= station.MaxDevices {
		return ErrStationFull
	}

	if d.Role == RoleManager && station.ManagerDeviceID != nil && *station.ManagerDeviceID != d.ID {
		return ErrManagerExists
	}
	return nil
}

// assignManager records a device as its station's manager.
func (r *Registry) assignManager(ctx context.Context, stationID, deviceID string) error {
	station, err := r.GetStation(ctx, stationID)
	if err != nil {
		return err
	}
	station.ManagerDeviceID = &deviceID
	return r.saveStation(ctx, station)
}

// UpdateDevice validates and persists device changes, re-checking station
// admission when membership or role changed.
func (r *Registry) UpdateDevice(ctx context.Context, d *Device) error {
	if err := ValidateDevice(d); err != nil {
		return err
	}

	prev, err := r.GetDevice(ctx, d.ID)
	if err != nil {
		return err
	}

	if d.StationID != nil {
		if err := r.checkStationAdmission(ctx, *d.StationID, d); err != nil {
			return err
		}
	}

	if err := r.repo.UpdateDevice(ctx, d); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.devices[d.ID] = d.DeepCopy()
	r.cacheMu.Unlock()

	// Leaving a station, or dropping the manager role, may orphan the
	// station's manager slot.
	if prev.StationID != nil && prev.Role == RoleManager {
		left := d.StationID == nil || *d.StationID != *prev.StationID
		demoted := d.Role != RoleManager
		if left || demoted {
			if err := r.handleManagerRemoval(ctx, *prev.StationID, d.ID); err != nil {
				return err
			}
		}
	}

	if d.StationID != nil && d.Role == RoleManager {
		if err := r.assignManager(ctx, *d.StationID, d.ID); err != nil {
			return err
		}
	}

	return nil
}

// DeleteDevice removes a device. If the device managed a station, another
// member is promoted; with no members left the station is demoted to inactive.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	d, err := r.GetDevice(ctx, id)
	if err != nil {
		return err
	}

	if err := r.repo.DeleteDevice(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.devices, id)
	r.cacheMu.Unlock()

	if d.StationID != nil && d.Role == RoleManager {
		if err := r.handleManagerRemoval(ctx, *d.StationID, id); err != nil {
			return err
		}
	}

	r.logger.Info("device deleted", "device_id", id)
	return nil
}

// handleManagerRemoval keeps the manager-must-be-member invariant after the
// current manager leaves: promote the lowest-ID remaining member, or demote
// the station to inactive when none remain.
func (r *Registry) handleManagerRemoval(ctx context.Context, stationID, removedID string) error {
	station, err := r.GetStation(ctx, stationID)
	if err != nil {
		return err
	}
	if station.ManagerDeviceID == nil || *station.ManagerDeviceID != removedID {
		return nil
	}

	members, err := r.StationMembers(ctx, stationID)
	if err != nil {
		return err
	}

	var successor *Device
	for i := range members {
		if members[i].ID != removedID {
			successor = &members[i]
			break
		}
	}

	if successor == nil {
		station.ManagerDeviceID = nil
		station.Status = StatusInactive
		r.logger.Warn("station demoted to inactive, no manager successor", "station_id", stationID)
		return r.saveStation(ctx, station)
	}

	successor.Role = RoleManager
	if err := r.repo.UpdateDevice(ctx, successor); err != nil {
		return err
	}
	r.cacheMu.Lock()
	r.devices[successor.ID] = successor.DeepCopy()
	r.cacheMu.Unlock()

	station.ManagerDeviceID = &successor.ID
	r.logger.Info("station manager promoted", "station_id", stationID, "device_id", successor.ID)
	return r.saveStation(ctx, station)
}

// CreateStation validates and persists a new station.
func (r *Registry) CreateStation(ctx context.Context, s *Station) error {
	if err := ValidateStation(s); err != nil {
		return err
	}
	if s.GroupID != "" {
		if _, err := r.GetGroup(ctx, s.GroupID); err != nil {
			return fmt.Errorf("%w: group %s: %w", ErrInvalidStation, s.GroupID, err)
		}
	}

	if err := r.repo.CreateStation(ctx, s); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.stations[s.ID] = s.DeepCopy()
	r.cacheMu.Unlock()
	return nil
}

// UpdateStation validates and persists station changes, enforcing that a
// declared manager is a member.
func (r *Registry) UpdateStation(ctx context.Context, s *Station) error {
	if err := ValidateStation(s); err != nil {
		return err
	}

	if s.ManagerDeviceID != nil {
		members, err := r.StationMembers(ctx, s.ID)
		if err != nil {
			return err
		}
		found := false
		for _, m := range members {
			if m.ID == *s.ManagerDeviceID {
				found = true
				break
			}
		}
		if !found {
			return ErrManagerNotMember
		}
	}

	return r.saveStation(ctx, s)
}

// saveStation persists a station and updates the cache.
func (r *Registry) saveStation(ctx context.Context, s *Station) error {
	if err := r.repo.UpdateStation(ctx, s); err != nil {
		return err
	}
	r.cacheMu.Lock()
	r.stations[s.ID] = s.DeepCopy()
	r.cacheMu.Unlock()
	return nil
}

// DeleteStation removes a station. Member devices become standalone.
func (r *Registry) DeleteStation(ctx context.Context, id string) error {
	members, err := r.StationMembers(ctx, id)
	if err != nil {
		return err
	}

	for i := range members {
		members[i].StationID = nil
		if err := r.repo.UpdateDevice(ctx, &members[i]); err != nil {
			return err
		}
		r.cacheMu.Lock()
		r.devices[members[i].ID] = members[i].DeepCopy()
		r.cacheMu.Unlock()
	}

	if err := r.repo.DeleteStation(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.stations, id)
	r.cacheMu.Unlock()
	return nil
}

// CreateGroup validates and persists a new group.
func (r *Registry) CreateGroup(ctx context.Context, g *Group) error {
	if err := ValidateGroup(g); err != nil {
		return err
	}
	if err := r.repo.CreateGroup(ctx, g); err != nil {
		return err
	}
	r.cacheMu.Lock()
	r.groups[g.ID] = g.DeepCopy()
	r.cacheMu.Unlock()
	return nil
}

// UpdateGroup validates and persists group changes.
func (r *Registry) UpdateGroup(ctx context.Context, g *Group) error {
	if err := ValidateGroup(g); err != nil {
		return err
	}
	if err := r.repo.UpdateGroup(ctx, g); err != nil {
		return err
	}
	r.cacheMu.Lock()
	r.groups[g.ID] = g.DeepCopy()
	r.cacheMu.Unlock()
	return nil
}

// DeleteGroup removes a group by ID.
func (r *Registry) DeleteGroup(ctx context.Context, id string) error {
	if err := r.repo.DeleteGroup(ctx, id); err != nil {
		return err
	}
	r.cacheMu.Lock()
	delete(r.groups, id)
	r.cacheMu.Unlock()
	return nil
}

// SetDeviceStatus performs a compare-and-swap status transition and keeps
// the cache in sync. Returns ErrStatusConflict if a concurrent writer won.
func (r *Registry) SetDeviceStatus(ctx context.Context, id string, from, to Status, seenAt *time.Time) error {
	if err := r.repo.UpdateDeviceStatusCAS(ctx, id, from, to, seenAt); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if d, ok := r.devices[id]; ok {
		d.Status = to
		if seenAt != nil {
			t := *seenAt
			d.LastSeen = &t
		}
	}
	r.cacheMu.Unlock()
	return nil
}

// SetStationStatus performs a compare-and-swap station status transition.
func (r *Registry) SetStationStatus(ctx context.Context, id string, from, to Status) error {
	if err := r.repo.UpdateStationStatusCAS(ctx, id, from, to); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if s, ok := r.stations[id]; ok {
		s.Status = to
	}
	r.cacheMu.Unlock()
	return nil
}

// SetGroupStatus performs a compare-and-swap group status transition.
func (r *Registry) SetGroupStatus(ctx context.Context, id string, from, to Status) error {
	if err := r.repo.UpdateGroupStatusCAS(ctx, id, from, to); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if g, ok := r.groups[id]; ok {
		g.Status = to
	}
	r.cacheMu.Unlock()
	return nil
}

// TouchDeviceSeen records a heartbeat that confirmed the current status.
func (r *Registry) TouchDeviceSeen(ctx context.Context, id string, seenAt time.Time) error {
	if err := r.repo.TouchDeviceSeen(ctx, id, seenAt); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if d, ok := r.devices[id]; ok {
		t := seenAt
		d.LastSeen = &t
	}
	r.cacheMu.Unlock()
	return nil
}

// TouchDeviceCalibrated records a completed calibration.
func (r *Registry) TouchDeviceCalibrated(ctx context.Context, id string, at time.Time) error {
	if err := r.repo.TouchDeviceCalibrated(ctx, id, at); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if d, ok := r.devices[id]; ok {
		t := at
		d.LastCalibrated = &t
	}
	r.cacheMu.Unlock()
	return nil
}

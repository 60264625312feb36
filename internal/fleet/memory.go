package fleet

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-memory Repository implementation.
//
// It mirrors the SQLite repository's semantics, including compare-and-swap
// status updates, and is used by tests and by ephemeral development setups
// that do not want a database file.
type MemoryRepository struct {
	mu       sync.Mutex
	devices  map[string]*Device
	stations map[string]*Station
	groups   map[string]*Group
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		devices:  make(map[string]*Device),
		stations: make(map[string]*Station),
		groups:   make(map[string]*Group),
	}
}

func (m *MemoryRepository) GetDevice(_ context.Context, id string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return d.DeepCopy(), nil
}

func (m *MemoryRepository) GetDeviceBySerial(_ context.Context, serial string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if d.SerialNumber == serial {
			return d.DeepCopy(), nil
		}
	}
	return nil, ErrDeviceNotFound
}

func (m *MemoryRepository) ListDevices(_ context.Context) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, *d.DeepCopy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepository) ListDevicesByStation(ctx context.Context, stationID string) ([]Device, error) {
	all, err := m.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	var out []Device
	for _, d := range all {
		if d.StationID != nil && *d.StationID == stationID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *MemoryRepository) ListDevicesByGroup(ctx context.Context, groupID string) ([]Device, error) {
	all, err := m.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	var out []Device
	for _, d := range all {
		if d.GroupID == groupID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *MemoryRepository) CreateDevice(_ context.Context, d *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[d.ID]; ok {
		return ErrDeviceExists
	}
	for _, existing := range m.devices {
		if existing.SerialNumber == d.SerialNumber {
			return ErrDeviceExists
		}
	}
	m.devices[d.ID] = d.DeepCopy()
	return nil
}

func (m *MemoryRepository) UpdateDevice(_ context.Context, d *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[d.ID]; !ok {
		return ErrDeviceNotFound
	}
	m.devices[d.ID] = d.DeepCopy()
	return nil
}

func (m *MemoryRepository) DeleteDevice(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[id]; !ok {
		return ErrDeviceNotFound
	}
	delete(m.devices, id)
	return nil
}

func (m *MemoryRepository) UpdateDeviceStatusCAS(_ context.Context, id string, from, to Status, seenAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return ErrDeviceNotFound
	}
	if d.Status != from {
		return ErrStatusConflict
	}
	d.Status = to
	if seenAt != nil {
		t := *seenAt
		d.LastSeen = &t
	}
	return nil
}

func (m *MemoryRepository) TouchDeviceSeen(_ context.Context, id string, seenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return ErrDeviceNotFound
	}
	d.LastSeen = &seenAt
	return nil
}

func (m *MemoryRepository) TouchDeviceCalibrated(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return ErrDeviceNotFound
	}
	d.LastCalibrated = &at
	return nil
}

func (m *MemoryRepository) GetStation(_ context.Context, id string) (*Station, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stations[id]
	if !ok {
		return nil, ErrStationNotFound
	}
	return s.DeepCopy(), nil
}

func (m *MemoryRepository) ListStations(_ context.Context) ([]Station, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Station, 0, len(m.stations))
	for _, s := range m.stations {
		out = append(out, *s.DeepCopy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepository) ListStationsByGroup(ctx context.Context, groupID string) ([]Station, error) {
	all, err := m.ListStations(ctx)
	if err != nil {
		return nil, err
	}
	var out []Station
	for _, s := range all {
		if s.GroupID == groupID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemoryRepository) CreateStation(_ context.Context, s *Station) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stations[s.ID]; ok {
		return ErrStationExists
	}
	m.stations[s.ID] = s.DeepCopy()
	return nil
}

func (m *MemoryRepository) UpdateStation(_ context.Context, s *Station) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stations[s.ID]; !ok {
		return ErrStationNotFound
	}
	m.stations[s.ID] = s.DeepCopy()
	return nil
}

func (m *MemoryRepository) DeleteStation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stations[id]; !ok {
		return ErrStationNotFound
	}
	delete(m.stations, id)
	return nil
}

func (m *MemoryRepository) UpdateStationStatusCAS(_ context.Context, id string, from, to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stations[id]
	if !ok {
		return ErrStationNotFound
	}
	if s.Status != from {
		return ErrStatusConflict
	}
	s.Status = to
	return nil
}

func (m *MemoryRepository) GetGroup(_ context.Context, id string) (*Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, ErrGroupNotFound
	}
	return g.DeepCopy(), nil
}

func (m *MemoryRepository) ListGroups(_ context.Context) ([]Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Group, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, *g.DeepCopy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepository) CreateGroup(_ context.Context, g *Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[g.ID]; ok {
		return ErrGroupExists
	}
	m.groups[g.ID] = g.DeepCopy()
	return nil
}

func (m *MemoryRepository) UpdateGroup(_ context.Context, g *Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[g.ID]; !ok {
		return ErrGroupNotFound
	}
	m.groups[g.ID] = g.DeepCopy()
	return nil
}

func (m *MemoryRepository) DeleteGroup(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[id]; !ok {
		return ErrGroupNotFound
	}
	delete(m.groups, id)
	return nil
}

func (m *MemoryRepository) UpdateGroupStatusCAS(_ context.Context, id string, from, to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok {
		return ErrGroupNotFound
	}
	if g.Status != from {
		return ErrStatusConflict
	}
	g.Status = to
	return nil
}

package fleet

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

// mockRepository is an in-memory Repository for testing.
type mockRepository struct {
	mu       sync.Mutex
	devices  map[string]*Device
	stations map[string]*Station
	groups   map[string]*Group
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		devices:  make(map[string]*Device),
		stations: make(map[string]*Station),
		groups:   make(map[string]*Group),
	}
}

func (m *mockRepository) GetDevice(_ context.Context, id string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return d.DeepCopy(), nil
}

func (m *mockRepository) GetDeviceBySerial(_ context.Context, serial string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if d.SerialNumber == serial {
			return d.DeepCopy(), nil
		}
	}
	return nil, ErrDeviceNotFound
}

func (m *mockRepository) ListDevices(_ context.Context) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, *d.DeepCopy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockRepository) ListDevicesByStation(ctx context.Context, stationID string) ([]Device, error) {
	all, _ := m.ListDevices(ctx)
	var out []Device
	for _, d := range all {
		if d.StationID != nil && *d.StationID == stationID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockRepository) ListDevicesByGroup(ctx context.Context, groupID string) ([]Device, error) {
	all, _ := m.ListDevices(ctx)
	var out []Device
	for _, d := range all {
		if d.GroupID == groupID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockRepository) CreateDevice(_ context.Context, d *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[d.ID]; ok {
		return ErrDeviceExists
	}
	m.devices[d.ID] = d.DeepCopy()
	return nil
}

func (m *mockRepository) UpdateDevice(_ context.Context, d *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[d.ID]; !ok {
		return ErrDeviceNotFound
	}
	m.devices[d.ID] = d.DeepCopy()
	return nil
}

func (m *mockRepository) DeleteDevice(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[id]; !ok {
		return ErrDeviceNotFound
	}
	delete(m.devices, id)
	return nil
}

func (m *mockRepository) UpdateDeviceStatusCAS(_ context.Context, id string, from, to Status, seenAt *time.Time) error {
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

func (m *mockRepository) TouchDeviceSeen(_ context.Context, id string, seenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return ErrDeviceNotFound
	}
	d.LastSeen = &seenAt
	return nil
}

func (m *mockRepository) TouchDeviceCalibrated(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return ErrDeviceNotFound
	}
	d.LastCalibrated = &at
	return nil
}

func (m *mockRepository) GetStation(_ context.Context, id string) (*Station, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stations[id]
	if !ok {
		return nil, ErrStationNotFound
	}
	return s.DeepCopy(), nil
}

func (m *mockRepository) ListStations(_ context.Context) ([]Station, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Station, 0, len(m.stations))
	for _, s := range m.stations {
		out = append(out, *s.DeepCopy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockRepository) ListStationsByGroup(ctx context.Context, groupID string) ([]Station, error) {
	all, _ := m.ListStations(ctx)
	var out []Station
	for _, s := range all {
		if s.GroupID == groupID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockRepository) CreateStation(_ context.Context, s *Station) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stations[s.ID]; ok {
		return ErrStationExists
	}
	m.stations[s.ID] = s.DeepCopy()
	return nil
}

func (m *mockRepository) UpdateStation(_ context.Context, s *Station) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stations[s.ID]; !ok {
		return ErrStationNotFound
	}
	m.stations[s.ID] = s.DeepCopy()
	return nil
}

func (m *mockRepository) DeleteStation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stations[id]; !ok {
		return ErrStationNotFound
	}
	delete(m.stations, id)
	return nil
}

func (m *mockRepository) UpdateStationStatusCAS(_ context.Context, id string, from, to Status) error {
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

func (m *mockRepository) GetGroup(_ context.Context, id string) (*Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, ErrGroupNotFound
	}
	return g.DeepCopy(), nil
}

func (m *mockRepository) ListGroups(_ context.Context) ([]Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Group, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, *g.DeepCopy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockRepository) CreateGroup(_ context.Context, g *Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[g.ID]; ok {
		return ErrGroupExists
	}
	m.groups[g.ID] = g.DeepCopy()
	return nil
}

func (m *mockRepository) UpdateGroup(_ context.Context, g *Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[g.ID]; !ok {
		return ErrGroupNotFound
	}
	m.groups[g.ID] = g.DeepCopy()
	return nil
}

func (m *mockRepository) DeleteGroup(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[id]; !ok {
		return ErrGroupNotFound
	}
	delete(m.groups, id)
	return nil
}

func (m *mockRepository) UpdateGroupStatusCAS(_ context.Context, id string, from, to Status) error {
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

// testFleet seeds a group with one station (manager + sensor) and one
// standalone device.
func testFleet(t *testing.T) (*Registry, *mockRepository) {
	t.Helper()
	repo := newMockRepository()
	ctx := context.Background()

	station := "stn-1"
	seed := []any{
		&Group{ID: "grp-1", Name: "Lobby", Status: StatusOnline},
		&Station{ID: station, GroupID: "grp-1", Name: "Lobby East", MaxDevices: 3, Status: StatusOnline},
		&Device{ID: "dev-mgr", Name: "Manager", GroupID: "grp-1", StationID: &station, Role: RoleManager, Status: StatusOnline},
		&Device{ID: "dev-s1", Name: "Sensor 1", GroupID: "grp-1", StationID: &station, Role: RoleSensor, Status: StatusOnline},
		&Device{ID: "dev-solo", Name: "Standalone", GroupID: "grp-1", Role: RoleSensor, Status: StatusOnline},
	}
	for _, e := range seed {
		var err error
		switch v := e.(type) {
		case *Group:
			err = repo.CreateGroup(ctx, v)
		case *Station:
			err = repo.CreateStation(ctx, v)
		case *Device:
			err = repo.CreateDevice(ctx, v)
		}
		if err != nil {
			t.Fatalf("seeding: %v", err)
		}
	}

	mgr := "dev-mgr"
	s, _ := repo.GetStation(ctx, station)
	s.ManagerDeviceID = &mgr
	if err := repo.UpdateStation(ctx, s); err != nil {
		t.Fatalf("seeding manager: %v", err)
	}

	reg := NewRegistry(repo)
	if err := reg.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	return reg, repo
}

func TestAncestors(t *testing.T) {
	reg, _ := testFleet(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		sourceType string
		id         string
		want       Ancestry
	}{
		{"station member device", "device", "dev-s1", Ancestry{GroupID: "grp-1", StationID: "stn-1", DeviceID: "dev-s1"}},
		{"standalone device", "device", "dev-solo", Ancestry{GroupID: "grp-1", DeviceID: "dev-solo"}},
		{"station", "station", "stn-1", Ancestry{GroupID: "grp-1", StationID: "stn-1"}},
		{"group", "group", "grp-1", Ancestry{GroupID: "grp-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := reg.Ancestors(ctx, tt.sourceType, tt.id)
			if err != nil {
				t.Fatalf("Ancestors() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Ancestors() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestAncestorsUnknownDevice(t *testing.T) {
	reg, _ := testFleet(t)
	_, err := reg.Ancestors(context.Background(), "device", "dev-nope")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Ancestors() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestAncestryRoot(t *testing.T) {
	tests := []struct {
		a    Ancestry
		want string
	}{
		{Ancestry{GroupID: "g", StationID: "s", DeviceID: "d"}, "g"},
		{Ancestry{StationID: "s", DeviceID: "d"}, "s"},
		{Ancestry{DeviceID: "d"}, "d"},
	}
	for _, tt := range tests {
		if got := tt.a.Root(); got != tt.want {
			t.Errorf("Root(%+v) = %q, want %q", tt.a, got, tt.want)
		}
	}
}

func TestDeleteManagerPromotesSuccessor(t *testing.T) {
	reg, _ := testFleet(t)
	ctx := context.Background()

	if err := reg.DeleteDevice(ctx, "dev-mgr"); err != nil {
		t.Fatalf("DeleteDevice() error = %v", err)
	}

	s, err := reg.GetStation(ctx, "stn-1")
	if err != nil {
		t.Fatalf("GetStation() error = %v", err)
	}
	if s.ManagerDeviceID == nil || *s.ManagerDeviceID != "dev-s1" {
		t.Errorf("manager = %v, want dev-s1", s.ManagerDeviceID)
	}

	promoted, err := reg.GetDevice(ctx, "dev-s1")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if promoted.Role != RoleManager {
		t.Errorf("promoted role = %q, want manager", promoted.Role)
	}
}

func TestDeleteLastManagerDemotesStation(t *testing.T) {
	reg, _ := testFleet(t)
	ctx := context.Background()

	// Remove the sensor first so the manager has no successor.
	if err := reg.DeleteDevice(ctx, "dev-s1"); err != nil {
		t.Fatalf("DeleteDevice() error = %v", err)
	}
	if err := reg.DeleteDevice(ctx, "dev-mgr"); err != nil {
		t.Fatalf("DeleteDevice() error = %v", err)
	}

	s, err := reg.GetStation(ctx, "stn-1")
	if err != nil {
		t.Fatalf("GetStation() error = %v", err)
	}
	if s.ManagerDeviceID != nil {
		t.Errorf("manager = %v, want nil", *s.ManagerDeviceID)
	}
	if s.Status != StatusInactive {
		t.Errorf("station status = %q, want inactive", s.Status)
	}
}

func TestCreateDeviceStationFull(t *testing.T) {
	reg, _ := testFleet(t)
	ctx := context.Background()
	station := "stn-1"

	third := &Device{ID: "dev-s2", Name: "Sensor 2", GroupID: "grp-1", StationID: &station, Role: RoleSensor, Status: StatusOffline}
	if err := reg.CreateDevice(ctx, third); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}

	fourth := &Device{ID: "dev-s3", Name: "Sensor 3", GroupID: "grp-1", StationID: &station, Role: RoleSensor, Status: StatusOffline}
	err := reg.CreateDevice(ctx, fourth)
	if !errors.Is(err, ErrStationFull) {
		t.Errorf("CreateDevice() error = %v, want ErrStationFull", err)
	}
}

func TestCreateSecondManagerRejected(t *testing.T) {
	reg, _ := testFleet(t)
	ctx := context.Background()
	station := "stn-1"

	second := &Device{ID: "dev-m2", Name: "Manager 2", GroupID: "grp-1", StationID: &station, Role: RoleManager, Status: StatusOffline}
	err := reg.CreateDevice(ctx, second)
	if !errors.Is(err, ErrManagerExists) {
		t.Errorf("CreateDevice() error = %v, want ErrManagerExists", err)
	}
}

func TestUpdateStationManagerMustBeMember(t *testing.T) {
	reg, _ := testFleet(t)
	ctx := context.Background()

	s, err := reg.GetStation(ctx, "stn-1")
	if err != nil {
		t.Fatalf("GetStation() error = %v", err)
	}
	outsider := "dev-solo"
	s.ManagerDeviceID = &outsider

	err = reg.UpdateStation(ctx, s)
	if !errors.Is(err, ErrManagerNotMember) {
		t.Errorf("UpdateStation() error = %v, want ErrManagerNotMember", err)
	}
}

func TestSetDeviceStatusCAS(t *testing.T) {
	reg, _ := testFleet(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := reg.SetDeviceStatus(ctx, "dev-s1", StatusOnline, StatusDegraded, &now); err != nil {
		t.Fatalf("SetDeviceStatus() error = %v", err)
	}

	d, err := reg.GetDevice(ctx, "dev-s1")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if d.Status != StatusDegraded {
		t.Errorf("status = %q, want degraded", d.Status)
	}
	if d.LastSeen == nil || !d.LastSeen.Equal(now) {
		t.Errorf("last_seen = %v, want %v", d.LastSeen, now)
	}

	// Stale expected status loses the CAS.
	err = reg.SetDeviceStatus(ctx, "dev-s1", StatusOnline, StatusOffline, nil)
	if !errors.Is(err, ErrStatusConflict) {
		t.Errorf("SetDeviceStatus() error = %v, want ErrStatusConflict", err)
	}
}

func TestCacheIsolation(t *testing.T) {
	reg, _ := testFleet(t)
	ctx := context.Background()

	d1, _ := reg.GetDevice(ctx, "dev-s1")
	d1.Name = "mutated"

	d2, _ := reg.GetDevice(ctx, "dev-s1")
	if d2.Name == "mutated" {
		t.Error("cache returned shared pointer; mutation leaked")
	}
}

func TestDeleteStationDetachesMembers(t *testing.T) {
	reg, _ := testFleet(t)
	ctx := context.Background()

	if err := reg.DeleteStation(ctx, "stn-1"); err != nil {
		t.Fatalf("DeleteStation() error = %v", err)
	}

	d, err := reg.GetDevice(ctx, "dev-s1")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if d.StationID != nil {
		t.Errorf("station_id = %v, want nil", *d.StationID)
	}
}

func TestWorse(t *testing.T) {
	ordered := []Status{StatusOnline, StatusMaintenance, StatusDegraded, StatusOffline, StatusError}
	for i := 1; i < len(ordered); i++ {
		if !Worse(ordered[i], ordered[i-1]) {
			t.Errorf("Worse(%s, %s) = false, want true", ordered[i], ordered[i-1])
		}
		if Worse(ordered[i-1], ordered[i]) {
			t.Errorf("Worse(%s, %s) = true, want false", ordered[i-1], ordered[i])
		}
	}
}

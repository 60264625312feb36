package fleet

import "time"

// Status represents the health state of a fleet entity.
//
// Devices own their status directly, driven by heartbeat and status events.
// Stations and groups never set their own status: it is derived exclusively
// by aggregation over their members.
type Status string

// Status constants.
const (
	StatusOnline      Status = "online"
	StatusDegraded    Status = "degraded"
	StatusOffline     Status = "offline"
	StatusMaintenance Status = "maintenance"
	StatusError       Status = "error"

	// StatusInactive applies only to stations whose member count is below
	// the configured quorum floor.
	StatusInactive Status = "inactive"
)

// AllStatuses returns all valid device-level status values.
func AllStatuses() []Status {
	return []Status{
		StatusOnline, StatusDegraded, StatusOffline, StatusMaintenance, StatusError,
	}
}

// severityRank orders statuses from healthiest to worst for group rollup.
// Ordering: error > offline > degraded > maintenance > online.
var severityRank = map[Status]int{
	StatusOnline:      0,
	StatusMaintenance: 1,
	StatusDegraded:    2,
	StatusOffline:     3,
	StatusError:       4,
}

// Worse reports whether a is a worse status than b under the rollup ordering.
func Worse(a, b Status) bool {
	return severityRank[a] > severityRank[b]
}

// Role identifies a device's function within a station.
type Role string

// Role constants.
const (
	RoleManager Role = "manager"
	RoleSensor  Role = "sensor"
)

// DefaultModel is the hardware model managed by this fleet core.
const DefaultModel = "CTHz-300"

// Device represents a single CTHz sensor unit.
// This matches the devices table in the initial schema migration.
type Device struct {
	// Identity
	ID           string `json:"id"`
	Name         string `json:"name"`
	Model        string `json:"model"`
	SerialNumber string `json:"serial_number"`

	// Hardware details
	FirmwareVersion string `json:"firmware_version,omitempty"`
	IPAddress       string `json:"ip_address,omitempty"`
	MACAddress      string `json:"mac_address,omitempty"`

	// Hierarchy membership. Every device belongs to exactly one group;
	// station membership is optional (standalone devices report straight
	// into their group's rollup).
	GroupID   string  `json:"group_id"`
	StationID *string `json:"station_id,omitempty"`

	Role   Role   `json:"role"`
	Status Status `json:"status"`

	// Health bookkeeping
	LastSeen       *time.Time `json:"last_seen,omitempty"`
	LastCalibrated *time.Time `json:"last_calibrated,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy creates an independent copy of the Device.
// Pointer fields are cloned so modifications to the copy do not affect
// the original. This is essential for cache isolation.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d

	if d.StationID != nil {
		s := *d.StationID
		cpy.StationID = &s
	}
	if d.LastSeen != nil {
		t := *d.LastSeen
		cpy.LastSeen = &t
	}
	if d.LastCalibrated != nil {
		t := *d.LastCalibrated
		cpy.LastCalibrated = &t
	}

	return &cpy
}

// Station represents a cluster of 1-3 devices providing combined angular
// coverage. Exactly one member is designated manager.
type Station struct {
	ID       string `json:"id"`
	GroupID  string `json:"group_id"`
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`

	// MaxDevices caps station membership (hardware limit, default 3).
	MaxDevices    int `json:"max_devices"`
	CoverageAngle int `json:"coverage_angle"`

	// ManagerDeviceID names the member acting as station manager.
	// Empty when the station has no manager (demoted to inactive).
	ManagerDeviceID *string `json:"manager_device_id,omitempty"`

	Status Status `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy creates an independent copy of the Station.
func (s *Station) DeepCopy() *Station {
	if s == nil {
		return nil
	}

	cpy := *s
	if s.ManagerDeviceID != nil {
		m := *s.ManagerDeviceID
		cpy.ManagerDeviceID = &m
	}
	return &cpy
}

// Group represents a deployment area containing stations and standalone devices.
type Group struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`

	Status Status `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy creates an independent copy of the Group.
func (g *Group) DeepCopy() *Group {
	if g == nil {
		return nil
	}
	cpy := *g
	return &cpy
}

// Ancestry describes the hierarchy chain above an entity, outermost first.
// For a device in a station: [group, station, device]. For a standalone
// device: [group, device]. Used for policy scope matching and for keying
// per-entity serialized processing.
type Ancestry struct {
	GroupID   string
	StationID string // empty for standalone devices and group entities
	DeviceID  string // empty for station and group entities
}

// Root returns the outermost entity ID in the chain, falling back to the
// entity itself when it has no group. All events for entities sharing a
// root are processed on the same pipeline shard.
func (a Ancestry) Root() string {
	if a.GroupID != "" {
		return a.GroupID
	}
	if a.StationID != "" {
		return a.StationID
	}
	return a.DeviceID
}

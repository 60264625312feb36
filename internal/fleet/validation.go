package fleet

import "fmt"

const maxNameLength = 100

// ValidateDevice checks structural validity of a device record.
// Hierarchy checks (group/station existence, capacity) are performed by the
// Registry, which has access to the rest of the fleet.
func ValidateDevice(d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: nil device", ErrInvalidDevice)
	}
	if d.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDevice)
	}
	if d.Name == "" || len(d.Name) > maxNameLength {
		return fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidDevice, maxNameLength)
	}
	if d.Role != RoleManager && d.Role != RoleSensor {
		return fmt.Errorf("%w: role must be manager or sensor", ErrInvalidDevice)
	}
	if !validDeviceStatus(d.Status) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidDevice, d.Status)
	}
	if d.StationID != nil && *d.StationID == "" {
		return fmt.Errorf("%w: station_id cannot be empty string", ErrInvalidDevice)
	}
	return nil
}

// ValidateStation checks structural validity of a station record.
func ValidateStation(s *Station) error {
	if s == nil {
		return fmt.Errorf("%w: nil station", ErrInvalidStation)
	}
	if s.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidStation)
	}
	if s.Name == "" || len(s.Name) > maxNameLength {
		return fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidStation, maxNameLength)
	}
	if s.MaxDevices < 1 {
		return fmt.Errorf("%w: max_devices must be at least 1", ErrInvalidStation)
	}
	if s.CoverageAngle < 0 || s.CoverageAngle > 360 {
		return fmt.Errorf("%w: coverage_angle must be 0-360", ErrInvalidStation)
	}
	if s.Status != StatusInactive && !validDeviceStatus(s.Status) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidStation, s.Status)
	}
	return nil
}

// ValidateGroup checks structural validity of a group record.
func ValidateGroup(g *Group) error {
	if g == nil {
		return fmt.Errorf("%w: nil group", ErrInvalidGroup)
	}
	if g.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidGroup)
	}
	if g.Name == "" || len(g.Name) > maxNameLength {
		return fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidGroup, maxNameLength)
	}
	if !validDeviceStatus(g.Status) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidGroup, g.Status)
	}
	return nil
}

func validDeviceStatus(s Status) bool {
	switch s {
	case StatusOnline, StatusDegraded, StatusOffline, StatusMaintenance, StatusError:
		return true
	}
	return false
}

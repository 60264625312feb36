package fleet

import "errors"

// Domain errors for the fleet package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, fleet.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("fleet: device not found")

	// ErrStationNotFound is returned when a station ID does not exist.
	ErrStationNotFound = errors.New("fleet: station not found")

	// ErrGroupNotFound is returned when a group ID does not exist.
	ErrGroupNotFound = errors.New("fleet: group not found")

	// ErrDeviceExists is returned when creating a device whose ID or serial
	// number already exists.
	ErrDeviceExists = errors.New("fleet: device already exists")

	// ErrStationExists is returned when creating a station with an existing ID.
	ErrStationExists = errors.New("fleet: station already exists")

	// ErrGroupExists is returned when creating a group with an existing ID.
	ErrGroupExists = errors.New("fleet: group already exists")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("fleet: invalid device")

	// ErrInvalidStation is returned when station validation fails.
	ErrInvalidStation = errors.New("fleet: invalid station")

	// ErrInvalidGroup is returned when group validation fails.
	ErrInvalidGroup = errors.New("fleet: invalid group")

	// ErrStationFull is returned when adding a device would exceed the
	// station's max_devices limit.
	ErrStationFull = errors.New("fleet: station at capacity")

	// ErrManagerNotMember is returned when a station's manager device is not
	// one of its members.
	ErrManagerNotMember = errors.New("fleet: manager device is not a station member")

	// ErrManagerExists is returned when adding a second manager to a station
	// that already has one.
	ErrManagerExists = errors.New("fleet: station already has a manager")

	// ErrStatusConflict is returned when a compare-and-swap status update
	// loses the race (stored status no longer matches the expected value).
	ErrStatusConflict = errors.New("fleet: status changed concurrently")
)

package fleet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for fleet persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// Devices

	// GetDevice retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetDevice(ctx context.Context, id string) (*Device, error)

	// GetDeviceBySerial retrieves a device by serial number.
	GetDeviceBySerial(ctx context.Context, serial string) (*Device, error)

	// ListDevices retrieves all devices.
	ListDevices(ctx context.Context) ([]Device, error)

	// ListDevicesByStation retrieves all member devices of a station.
	ListDevicesByStation(ctx context.Context, stationID string) ([]Device, error)

	// ListDevicesByGroup retrieves all devices in a group, including
	// station members and standalone devices.
	ListDevicesByGroup(ctx context.Context, groupID string) ([]Device, error)

	// CreateDevice inserts a new device.
	// Returns ErrDeviceExists if the ID or serial number is already taken.
	CreateDevice(ctx context.Context, d *Device) error

	// UpdateDevice modifies an existing device.
	// Returns ErrDeviceNotFound if the device does not exist.
	UpdateDevice(ctx context.Context, d *Device) error

	// DeleteDevice removes a device by ID.
	DeleteDevice(ctx context.Context, id string) error

	// UpdateDeviceStatusCAS atomically transitions a device's status from an
	// expected value. Returns ErrStatusConflict if the stored status no
	// longer matches, so callers can reload and recompute.
	UpdateDeviceStatusCAS(ctx context.Context, id string, from, to Status, seenAt *time.Time) error

	// TouchDeviceSeen updates last_seen without changing status
	// (heartbeats that confirm the current state).
	TouchDeviceSeen(ctx context.Context, id string, seenAt time.Time) error

	// TouchDeviceCalibrated records a completed calibration.
	TouchDeviceCalibrated(ctx context.Context, id string, at time.Time) error

	// Stations

	GetStation(ctx context.Context, id string) (*Station, error)
	ListStations(ctx context.Context) ([]Station, error)
	ListStationsByGroup(ctx context.Context, groupID string) ([]Station, error)
	CreateStation(ctx context.Context, s *Station) error
	UpdateStation(ctx context.Context, s *Station) error
	DeleteStation(ctx context.Context, id string) error

	// UpdateStationStatusCAS atomically transitions a station's derived status.
	UpdateStationStatusCAS(ctx context.Context, id string, from, to Status) error

	// Groups

	GetGroup(ctx context.Context, id string) (*Group, error)
	ListGroups(ctx context.Context) ([]Group, error)
	CreateGroup(ctx context.Context, g *Group) error
	UpdateGroup(ctx context.Context, g *Group) error
	DeleteGroup(ctx context.Context, id string) error

	// UpdateGroupStatusCAS atomically transitions a group's derived status.
	UpdateGroupStatusCAS(ctx context.Context, id string, from, to Status) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `id, name, model, serial_number, firmware_version, ip_address,
	mac_address, group_id, station_id, role, status, last_seen, last_calibrated,
	created_at, updated_at`

// GetDevice retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetDevice(ctx context.Context, id string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return d, nil
}

// GetDeviceBySerial retrieves a device by serial number.
func (r *SQLiteRepository) GetDeviceBySerial(ctx context.Context, serial string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE serial_number = ?`

	row := r.db.QueryRowContext(ctx, query, serial)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by serial: %w", err)
	}
	return d, nil
}

// ListDevices retrieves all devices.
func (r *SQLiteRepository) ListDevices(ctx context.Context) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY name`
	return r.queryDevices(ctx, query)
}

// ListDevicesByStation retrieves all member devices of a station.
func (r *SQLiteRepository) ListDevicesByStation(ctx context.Context, stationID string) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE station_id = ? ORDER BY name`
	return r.queryDevices(ctx, query, stationID)
}

// ListDevicesByGroup retrieves all devices in a group.
func (r *SQLiteRepository) ListDevicesByGroup(ctx context.Context, groupID string) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE group_id = ? ORDER BY name`
	return r.queryDevices(ctx, query, groupID)
}

// CreateDevice inserts a new device.
func (r *SQLiteRepository) CreateDevice(ctx context.Context, d *Device) error {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	if d.Model == "" {
		d.Model = DefaultModel
	}

	query := `
		INSERT INTO devices (
			id, name, model, serial_number, firmware_version, ip_address,
			mac_address, group_id, station_id, role, status, last_seen,
			last_calibrated, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		d.ID,
		d.Name,
		d.Model,
		emptyAsNull(d.SerialNumber),
		emptyAsNull(d.FirmwareVersion),
		emptyAsNull(d.IPAddress),
		emptyAsNull(d.MACAddress),
		emptyAsNull(d.GroupID),
		nullableString(d.StationID),
		string(d.Role),
		string(d.Status),
		nullableTime(d.LastSeen),
		nullableTime(d.LastCalibrated),
		d.CreatedAt.Format(time.RFC3339),
		d.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// UpdateDevice modifies an existing device.
func (r *SQLiteRepository) UpdateDevice(ctx context.Context, d *Device) error {
	d.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE devices SET
			name = ?, model = ?, serial_number = ?, firmware_version = ?,
			ip_address = ?, mac_address = ?, group_id = ?, station_id = ?,
			role = ?, status = ?, last_seen = ?, last_calibrated = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		d.Name,
		d.Model,
		emptyAsNull(d.SerialNumber),
		emptyAsNull(d.FirmwareVersion),
		emptyAsNull(d.IPAddress),
		emptyAsNull(d.MACAddress),
		emptyAsNull(d.GroupID),
		nullableString(d.StationID),
		string(d.Role),
		string(d.Status),
		nullableTime(d.LastSeen),
		nullableTime(d.LastCalibrated),
		d.UpdatedAt.Format(time.RFC3339),
		d.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	return requireRowAffected(result, ErrDeviceNotFound)
}

// DeleteDevice removes a device by ID.
func (r *SQLiteRepository) DeleteDevice(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireRowAffected(result, ErrDeviceNotFound)
}

// UpdateDeviceStatusCAS atomically transitions a device's status.
//
// The WHERE clause guards on the expected current status so concurrent
// recomputations cannot silently overwrite each other's writes; losing
// the race returns ErrStatusConflict.
func (r *SQLiteRepository) UpdateDeviceStatusCAS(ctx context.Context, id string, from, to Status, seenAt *time.Time) error {
	now := time.Now().UTC()
	query := `
		UPDATE devices
		SET status = ?, last_seen = COALESCE(?, last_seen), updated_at = ?
		WHERE id = ? AND status = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(to),
		nullableTime(seenAt),
		now.Format(time.RFC3339),
		id,
		string(from),
	)
	if err != nil {
		return fmt.Errorf("updating device status: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		if _, getErr := r.GetDevice(ctx, id); getErr != nil {
			return getErr
		}
		return ErrStatusConflict
	}
	return nil
}

// TouchDeviceSeen updates last_seen without changing status.
func (r *SQLiteRepository) TouchDeviceSeen(ctx context.Context, id string, seenAt time.Time) error {
	query := `UPDATE devices SET last_seen = ?, updated_at = ? WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query,
		seenAt.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating device last_seen: %w", err)
	}
	return requireRowAffected(result, ErrDeviceNotFound)
}

// TouchDeviceCalibrated records a completed calibration.
func (r *SQLiteRepository) TouchDeviceCalibrated(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE devices SET last_calibrated = ?, updated_at = ? WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query,
		at.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating device last_calibrated: %w", err)
	}
	return requireRowAffected(result, ErrDeviceNotFound)
}

// queryDevices executes a query and returns a slice of devices.
func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// scanner abstracts sql.Row and sql.Rows for shared scanning code.
type scanner interface {
	Scan(dest ...any) error
}

// scanDevice scans a single device row.
func scanDevice(row scanner) (*Device, error) {
	var (
		d              Device
		serial         sql.NullString
		firmware       sql.NullString
		ip             sql.NullString
		mac            sql.NullString
		groupID        sql.NullString
		stationID      sql.NullString
		role           string
		status         string
		lastSeen       sql.NullString
		lastCalibrated sql.NullString
		createdAt      string
		updatedAt      string
	)

	err := row.Scan(
		&d.ID, &d.Name, &d.Model, &serial, &firmware, &ip,
		&mac, &groupID, &stationID, &role, &status, &lastSeen,
		&lastCalibrated, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.SerialNumber = serial.String
	d.FirmwareVersion = firmware.String
	d.IPAddress = ip.String
	d.MACAddress = mac.String
	d.GroupID = groupID.String
	if stationID.Valid {
		d.StationID = &stationID.String
	}
	d.Role = Role(role)
	d.Status = Status(status)

	if d.LastSeen, err = parseNullableTime(lastSeen); err != nil {
		return nil, fmt.Errorf("parsing last_seen: %w", err)
	}
	if d.LastCalibrated, err = parseNullableTime(lastCalibrated); err != nil {
		return nil, fmt.Errorf("parsing last_calibrated: %w", err)
	}
	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &d, nil
}

// Shared persistence helpers.

func nullableString(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func emptyAsNull(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func requireRowAffected(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

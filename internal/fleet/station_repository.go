package fleet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const stationColumns = `id, group_id, name, location, max_devices, coverage_angle,
	manager_device_id, status, created_at, updated_at`

// GetStation retrieves a station by ID.
func (r *SQLiteRepository) GetStation(ctx context.Context, id string) (*Station, error) {
	query := `SELECT ` + stationColumns + ` FROM stations WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	s, err := scanStation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStationNotFound
		}
		return nil, fmt.Errorf("querying station by id: %w", err)
	}
	return s, nil
}

// ListStations retrieves all stations.
func (r *SQLiteRepository) ListStations(ctx context.Context) ([]Station, error) {
	query := `SELECT ` + stationColumns + ` FROM stations ORDER BY name`
	return r.queryStations(ctx, query)
}

// ListStationsByGroup retrieves all stations in a group.
func (r *SQLiteRepository) ListStationsByGroup(ctx context.Context, groupID string) ([]Station, error) {
	query := `SELECT ` + stationColumns + ` FROM stations WHERE group_id = ? ORDER BY name`
	return r.queryStations(ctx, query, groupID)
}

// CreateStation inserts a new station.
func (r *SQLiteRepository) CreateStation(ctx context.Context, s *Station) error {
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	if s.MaxDevices == 0 {
		s.MaxDevices = 3
	}
	if s.Status == "" {
		s.Status = StatusInactive
	}

	query := `
		INSERT INTO stations (
			id, group_id, name, location, max_devices, coverage_angle,
			manager_device_id, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		s.ID,
		emptyAsNull(s.GroupID),
		s.Name,
		emptyAsNull(s.Location),
		s.MaxDevices,
		s.CoverageAngle,
		nullableString(s.ManagerDeviceID),
		string(s.Status),
		s.CreatedAt.Format(time.RFC3339),
		s.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrStationExists
		}
		return fmt.Errorf("inserting station: %w", err)
	}
	return nil
}

// UpdateStation modifies an existing station.
func (r *SQLiteRepository) UpdateStation(ctx context.Context, s *Station) error {
	s.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE stations SET
			group_id = ?, name = ?, location = ?, max_devices = ?,
			coverage_angle = ?, manager_device_id = ?, status = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		emptyAsNull(s.GroupID),
		s.Name,
		emptyAsNull(s.Location),
		s.MaxDevices,
		s.CoverageAngle,
		nullableString(s.ManagerDeviceID),
		string(s.Status),
		s.UpdatedAt.Format(time.RFC3339),
		s.ID,
	)
	if err != nil {
		return fmt.Errorf("updating station: %w", err)
	}
	return requireRowAffected(result, ErrStationNotFound)
}

// DeleteStation removes a station by ID.
func (r *SQLiteRepository) DeleteStation(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM stations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting station: %w", err)
	}
	return requireRowAffected(result, ErrStationNotFound)
}

// UpdateStationStatusCAS atomically transitions a station's derived status.
func (r *SQLiteRepository) UpdateStationStatusCAS(ctx context.Context, id string, from, to Status) error {
	query := `UPDATE stations SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	result, err := r.db.ExecContext(ctx, query,
		string(to),
		time.Now().UTC().Format(time.RFC3339),
		id,
		string(from),
	)
	if err != nil {
		return fmt.Errorf("updating station status: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		if _, getErr := r.GetStation(ctx, id); getErr != nil {
			return getErr
		}
		return ErrStatusConflict
	}
	return nil
}

func (r *SQLiteRepository) queryStations(ctx context.Context, query string, args ...any) ([]Station, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying stations: %w", err)
	}
	defer rows.Close()

	var stations []Station
	for rows.Next() {
		s, err := scanStation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning station: %w", err)
		}
		stations = append(stations, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stations: %w", err)
	}
	return stations, nil
}

func scanStation(row scanner) (*Station, error) {
	var (
		s         Station
		groupID   sql.NullString
		location  sql.NullString
		manager   sql.NullString
		status    string
		createdAt string
		updatedAt string
	)

	err := row.Scan(
		&s.ID, &groupID, &s.Name, &location, &s.MaxDevices, &s.CoverageAngle,
		&manager, &status, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.GroupID = groupID.String
	s.Location = location.String
	if manager.Valid {
		s.ManagerDeviceID = &manager.String
	}
	s.Status = Status(status)

	if s.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if s.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &s, nil
}

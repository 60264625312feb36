package alert

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ListFilter narrows alert listings. Zero values mean "any".
type ListFilter struct {
	Acknowledged *bool
	Severity     Severity
	SourceType   string
	SourceID     string
	Limit        int
}

// Repository defines persistence for alerts.
type Repository interface {
	// Get retrieves an alert by id.
	Get(ctx context.Context, id string) (*Alert, error)

	// Create inserts a new alert.
	Create(ctx context.Context, a *Alert) error

	// Merge rewrites the mutable dedup fields (severity, message,
	// created_at) of an existing alert.
	Merge(ctx context.Context, a *Alert) error

	// Acknowledge flips the alert to acknowledged if it is not already.
	// Returns true when this call performed the transition.
	Acknowledge(ctx context.Context, id, actor string, at time.Time) (bool, error)

	// FindOpen returns the unacknowledged alert matching the dedup key
	// created at or after since, or nil when none exists.
	FindOpen(ctx context.Context, sourceType, sourceID, alertType string, since time.Time) (*Alert, error)

	// List returns alerts matching the filter, newest first.
	List(ctx context.Context, filter ListFilter) ([]Alert, error)
}

// SQLiteRepository implements Repository over the alerts table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository using the provided database handle.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const alertColumns = `id, alert_type, severity, title, message, source_type, source_id,
	acknowledged, acknowledged_by, acknowledged_at, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAlert(row scanner) (*Alert, error) {
	var (
		a         Alert
		ackBy     sql.NullString
		ackAt     sql.NullString
		createdAt string
	)
	err := row.Scan(&a.ID, &a.AlertType, &a.Severity, &a.Title, &a.Message,
		&a.SourceType, &a.SourceID, &a.Acknowledged, &ackBy, &ackAt, &createdAt)
	if err != nil {
		return nil, err
	}
	a.AcknowledgedBy = ackBy.String
	if ackAt.Valid {
		if t, err := time.Parse(time.RFC3339, ackAt.String); err == nil {
			a.AcknowledgedAt = &t
		}
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		a.CreatedAt = t
	}
	return &a, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Alert, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)

	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying alert: %w", err)
	}
	return a, nil
}

func (r *SQLiteRepository) Create(ctx context.Context, a *Alert) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO alerts (`+alertColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.AlertType, a.Severity, a.Title, a.Message,
		a.SourceType, a.SourceID, a.Acknowledged,
		emptyAsNull(a.AcknowledgedBy), timeAsNull(a.AcknowledgedAt),
		a.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting alert: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Merge(ctx context.Context, a *Alert) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE alerts SET severity = ?, message = ?, created_at = ? WHERE id = ?`,
		a.Severity, a.Message, a.CreatedAt.UTC().Format(time.RFC3339), a.ID)
	if err != nil {
		return fmt.Errorf("merging alert: %w", err)
	}
	return requireRowAffected(res, ErrAlertNotFound)
}

func (r *SQLiteRepository) Acknowledge(ctx context.Context, id, actor string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE alerts SET acknowledged = 1, acknowledged_by = ?, acknowledged_at = ?
		 WHERE id = ? AND acknowledged = 0`,
		actor, at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return false, fmt.Errorf("acknowledging alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acknowledging alert: %w", err)
	}
	return n == 1, nil
}

func (r *SQLiteRepository) FindOpen(ctx context.Context, sourceType, sourceID, alertType string, since time.Time) (*Alert, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts
		 WHERE source_type = ? AND source_id = ? AND alert_type = ?
		   AND acknowledged = 0 AND created_at >= ?
		 ORDER BY created_at DESC LIMIT 1`,
		sourceType, sourceID, alertType, since.UTC().Format(time.RFC3339))

	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying open alert: %w", err)
	}
	return a, nil
}

func (r *SQLiteRepository) List(ctx context.Context, filter ListFilter) ([]Alert, error) {
	var (
		where []string
		args  []any
	)
	if filter.Acknowledged != nil {
		where = append(where, "acknowledged = ?")
		args = append(args, *filter.Acknowledged)
	}
	if filter.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, filter.Severity)
	}
	if filter.SourceType != "" {
		where = append(where, "source_type = ?")
		args = append(args, filter.SourceType)
	}
	if filter.SourceID != "" {
		where = append(where, "source_id = ?")
		args = append(args, filter.SourceID)
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, normalizeLimit(filter.Limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}

func emptyAsNull(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func timeAsNull(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func requireRowAffected(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}

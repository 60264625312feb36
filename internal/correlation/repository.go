package correlation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines persistence for pending hardware requests.
type Repository interface {
	// Get retrieves a request by correlation id regardless of status.
	Get(ctx context.Context, correlationID string) (*PendingRequest, error)

	// HasPending reports whether a pending request exists for the pair.
	HasPending(ctx context.Context, deviceID, requestType string) (bool, error)

	// Create inserts a new pending request.
	Create(ctx context.Context, pr *PendingRequest) error

	// MarkTerminal transitions a request from pending to a terminal status.
	// Returns ErrNotFound if the request is absent or no longer pending, so
	// a completion racing the timeout sweep has exactly one winner.
	MarkTerminal(ctx context.Context, correlationID string, to RequestStatus) error

	// ListExpired returns pending requests whose timeout has passed.
	ListExpired(ctx context.Context, now time.Time) ([]PendingRequest, error)

	// ListByDevice returns all requests for a device, newest first.
	ListByDevice(ctx context.Context, deviceID string) ([]PendingRequest, error)

	// ListPending returns all currently pending requests.
	ListPending(ctx context.Context) ([]PendingRequest, error)
}

// SQLiteRepository implements Repository over the pending_requests table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository using the provided database handle.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const requestColumns = `correlation_id, device_id, request_type, status, issued_at, timeout_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*PendingRequest, error) {
	var (
		pr        PendingRequest
		issuedAt  string
		timeoutAt string
	)
	err := row.Scan(&pr.CorrelationID, &pr.DeviceID, &pr.RequestType, &pr.Status, &issuedAt, &timeoutAt)
	if err != nil {
		return nil, err
	}
	if t, err := time.Parse(time.RFC3339, issuedAt); err == nil {
		pr.IssuedAt = t
	}
	if t, err := time.Parse(time.RFC3339, timeoutAt); err == nil {
		pr.TimeoutAt = t
	}
	return &pr, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, correlationID string) (*PendingRequest, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM pending_requests WHERE correlation_id = ?`,
		correlationID)

	pr, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying request %s: %w", correlationID, err)
	}
	return pr, nil
}

func (r *SQLiteRepository) HasPending(ctx context.Context, deviceID, requestType string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_requests
		 WHERE device_id = ? AND request_type = ? AND status = 'pending'`,
		deviceID, requestType).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("counting pending requests for %s/%s: %w", deviceID, requestType, err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) Create(ctx context.Context, pr *PendingRequest) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pending_requests (`+requestColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		pr.CorrelationID, pr.DeviceID, pr.RequestType, pr.Status,
		pr.IssuedAt.UTC().Format(time.RFC3339),
		pr.TimeoutAt.UTC().Format(time.RFC3339),
	)
	if isUniqueConstraintError(err) {
		// The partial index on pending rows fired: a request for this pair
		// slipped in between the caller's check and this insert.
		return fmt.Errorf("%w: %s/%s", ErrRequestPending, pr.DeviceID, pr.RequestType)
	}
	if err != nil {
		return fmt.Errorf("inserting request %s: %w", pr.CorrelationID, err)
	}
	return nil
}

func (r *SQLiteRepository) MarkTerminal(ctx context.Context, correlationID string, to RequestStatus) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE pending_requests SET status = ?
		 WHERE correlation_id = ? AND status = 'pending'`,
		to, correlationID)
	if err != nil {
		return fmt.Errorf("marking request %s %s: %w", correlationID, to, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) ListExpired(ctx context.Context, now time.Time) ([]PendingRequest, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM pending_requests
		 WHERE status = 'pending' AND timeout_at < ?
		 ORDER BY timeout_at`,
		now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("querying expired requests: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

func (r *SQLiteRepository) ListByDevice(ctx context.Context, deviceID string) ([]PendingRequest, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM pending_requests
		 WHERE device_id = ?
		 ORDER BY issued_at DESC`,
		deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying requests for device %s: %w", deviceID, err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

func (r *SQLiteRepository) ListPending(ctx context.Context) ([]PendingRequest, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM pending_requests
		 WHERE status = 'pending'
		 ORDER BY issued_at`)
	if err != nil {
		return nil, fmt.Errorf("querying pending requests: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func collectRequests(rows *sql.Rows) ([]PendingRequest, error) {
	var out []PendingRequest
	for rows.Next() {
		pr, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning request row: %w", err)
		}
		out = append(out, *pr)
	}
	return out, rows.Err()
}

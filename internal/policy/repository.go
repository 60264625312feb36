package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines persistence operations for policies.
type Repository interface {
	GetPolicy(ctx context.Context, id string) (*Policy, error)
	ListPolicies(ctx context.Context) ([]*Policy, error)
	CreatePolicy(ctx context.Context, p *Policy) error
	UpdatePolicy(ctx context.Context, p *Policy) error
	DeletePolicy(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository backed by SQLite. Conditions and
// actions are stored as JSON documents in the policies table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository using the provided database handle.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const policyColumns = `id, name, description, conditions, actions, priority, active, system, scope_kind, target_id, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row scanner) (*Policy, error) {
	var (
		p              Policy
		conditionsJSON string
		actionsJSON    string
		targetID       sql.NullString
		createdAt      string
		updatedAt      string
	)

	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &conditionsJSON, &actionsJSON,
		&p.Priority, &p.Active, &p.System, &p.Scope.Kind, &targetID,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(conditionsJSON), &p.Conditions); err != nil {
		return nil, fmt.Errorf("unmarshaling conditions for policy %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(actionsJSON), &p.Actions); err != nil {
		return nil, fmt.Errorf("unmarshaling actions for policy %s: %w", p.ID, err)
	}
	if targetID.Valid {
		p.Scope.TargetID = targetID.String
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		p.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		p.UpdatedAt = t
	}
	return &p, nil
}

func marshalPolicy(p *Policy) (conditions, actions string, err error) {
	condBytes, err := json.Marshal(p.Conditions)
	if err != nil {
		return "", "", fmt.Errorf("marshaling conditions: %w", err)
	}
	actBytes, err := json.Marshal(p.Actions)
	if err != nil {
		return "", "", fmt.Errorf("marshaling actions: %w", err)
	}
	return string(condBytes), string(actBytes), nil
}

// GetPolicy retrieves a policy by ID. Returns ErrPolicyNotFound if absent.
func (r *SQLiteRepository) GetPolicy(ctx context.Context, id string) (*Policy, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM policies WHERE id = ?`, id)

	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPolicyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying policy %s: %w", id, err)
	}
	return p, nil
}

// ListPolicies retrieves all policies ordered by ID.
func (r *SQLiteRepository) ListPolicies(ctx context.Context) ([]*Policy, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+policyColumns+` FROM policies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying policies: %w", err)
	}
	defer rows.Close()

	var policies []*Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning policy row: %w", err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// CreatePolicy inserts a new policy. Returns ErrPolicyExists on ID collision.
func (r *SQLiteRepository) CreatePolicy(ctx context.Context, p *Policy) error {
	conditions, actions, err := marshalPolicy(p)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO policies (`+policyColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, conditions, actions,
		p.Priority, p.Active, p.System, p.Scope.Kind, emptyAsNull(p.Scope.TargetID),
		now, now,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrPolicyExists
		}
		return fmt.Errorf("inserting policy %s: %w", p.ID, err)
	}
	return nil
}

// UpdatePolicy updates an existing policy. Returns ErrPolicyNotFound if absent.
func (r *SQLiteRepository) UpdatePolicy(ctx context.Context, p *Policy) error {
	conditions, actions, err := marshalPolicy(p)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE policies
		 SET name = ?, description = ?, conditions = ?, actions = ?,
		     priority = ?, active = ?, scope_kind = ?, target_id = ?,
		     updated_at = ?
		 WHERE id = ?`,
		p.Name, p.Description, conditions, actions,
		p.Priority, p.Active, p.Scope.Kind, emptyAsNull(p.Scope.TargetID),
		time.Now().UTC().Format(time.RFC3339),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("updating policy %s: %w", p.ID, err)
	}
	return requireRowAffected(result, ErrPolicyNotFound)
}

// DeletePolicy removes a policy by ID. Returns ErrPolicyNotFound if absent.
func (r *SQLiteRepository) DeletePolicy(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM policies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting policy %s: %w", id, err)
	}
	return requireRowAffected(result, ErrPolicyNotFound)
}

func emptyAsNull(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func requireRowAffected(result sql.Result, notFound error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

package fleet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const groupColumns = `id, name, description, location, status, created_at, updated_at`

// GetGroup retrieves a group by ID.
func (r *SQLiteRepository) GetGroup(ctx context.Context, id string) (*Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	g, err := scanGroup(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("querying group by id: %w", err)
	}
	return g, nil
}

// ListGroups retrieves all groups.
func (r *SQLiteRepository) ListGroups(ctx context.Context) ([]Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying groups: %w", err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning group: %w", err)
		}
		groups = append(groups, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating groups: %w", err)
	}
	return groups, nil
}

// CreateGroup inserts a new group.
func (r *SQLiteRepository) CreateGroup(ctx context.Context, g *Group) error {
	now := time.Now().UTC()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now
	if g.Status == "" {
		g.Status = StatusOnline
	}

	query := `
		INSERT INTO groups (id, name, description, location, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		g.ID,
		g.Name,
		emptyAsNull(g.Description),
		emptyAsNull(g.Location),
		string(g.Status),
		g.CreatedAt.Format(time.RFC3339),
		g.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrGroupExists
		}
		return fmt.Errorf("inserting group: %w", err)
	}
	return nil
}

// UpdateGroup modifies an existing group.
func (r *SQLiteRepository) UpdateGroup(ctx context.Context, g *Group) error {
	g.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE groups SET name = ?, description = ?, location = ?, status = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		g.Name,
		emptyAsNull(g.Description),
		emptyAsNull(g.Location),
		string(g.Status),
		g.UpdatedAt.Format(time.RFC3339),
		g.ID,
	)
	if err != nil {
		return fmt.Errorf("updating group: %w", err)
	}
	return requireRowAffected(result, ErrGroupNotFound)
}

// DeleteGroup removes a group by ID.
func (r *SQLiteRepository) DeleteGroup(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM groups WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting group: %w", err)
	}
	return requireRowAffected(result, ErrGroupNotFound)
}

// UpdateGroupStatusCAS atomically transitions a group's derived status.
func (r *SQLiteRepository) UpdateGroupStatusCAS(ctx context.Context, id string, from, to Status) error {
	query := `UPDATE groups SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	result, err := r.db.ExecContext(ctx, query,
		string(to),
		time.Now().UTC().Format(time.RFC3339),
		id,
		string(from),
	)
	if err != nil {
		return fmt.Errorf("updating group status: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		if _, getErr := r.GetGroup(ctx, id); getErr != nil {
			return getErr
		}
		return ErrStatusConflict
	}
	return nil
}

func scanGroup(row scanner) (*Group, error) {
	var (
		g           Group
		description sql.NullString
		location    sql.NullString
		status      string
		createdAt   string
		updatedAt   string
	)

	err := row.Scan(&g.ID, &g.Name, &description, &location, &status, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	g.Description = description.String
	g.Location = location.String
	g.Status = Status(status)

	if g.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if g.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &g, nil
}

package dispatch

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ResultStatus is the terminal outcome of one action execution.
type ResultStatus string

// Action outcomes.
const (
	ResultSuccess ResultStatus = "success"
	ResultFailed  ResultStatus = "failed"
	// ResultSkipped marks actions abandoned because a trigger_scan they
	// depend on failed to issue.
	ResultSkipped ResultStatus = "skipped"
)

// ActionResult records one action execution for audit.
// This matches the action_results table.
type ActionResult struct {
	ID            string       `json:"id"`
	PolicyID      string       `json:"policy_id"`
	EventType     string       `json:"event_type"`
	SourceType    string       `json:"source_type"`
	SourceID      string       `json:"source_id"`
	ActionIndex   int          `json:"action_index"`
	ActionType    string       `json:"action_type"`
	Status        ResultStatus `json:"status"`
	Attempts      int          `json:"attempts"`
	Error         string       `json:"error,omitempty"`
	CorrelationID string       `json:"correlation_id,omitempty"`
	StartedAt     time.Time    `json:"started_at"`
	CompletedAt   time.Time    `json:"completed_at"`
}

// ResultRepository persists action execution outcomes.
type ResultRepository interface {
	Record(ctx context.Context, res ActionResult) error
	ListByPolicy(ctx context.Context, policyID string, limit int) ([]ActionResult, error)
	ListRecent(ctx context.Context, limit int) ([]ActionResult, error)
}

// SQLiteResultRepository implements ResultRepository over action_results.
type SQLiteResultRepository struct {
	db *sql.DB
}

// NewSQLiteResultRepository creates a repository using the given handle.
func NewSQLiteResultRepository(db *sql.DB) *SQLiteResultRepository {
	return &SQLiteResultRepository{db: db}
}

const resultColumns = `id, policy_id, event_type, source_type, source_id, action_index, action_type, status, attempts, error, correlation_id, started_at, completed_at`

func (r *SQLiteResultRepository) Record(ctx context.Context, res ActionResult) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO action_results (`+resultColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.PolicyID, res.EventType, res.SourceType, res.SourceID,
		res.ActionIndex, res.ActionType, res.Status, res.Attempts,
		nullIfEmpty(res.Error), nullIfEmpty(res.CorrelationID),
		res.StartedAt.UTC().Format(time.RFC3339Nano),
		res.CompletedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("recording action result %s: %w", res.ID, err)
	}
	return nil
}

func (r *SQLiteResultRepository) ListByPolicy(ctx context.Context, policyID string, limit int) ([]ActionResult, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+resultColumns+` FROM action_results
		 WHERE policy_id = ?
		 ORDER BY started_at DESC, action_index
		 LIMIT ?`,
		policyID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying results for policy %s: %w", policyID, err)
	}
	defer rows.Close()
	return collectResults(rows)
}

func (r *SQLiteResultRepository) ListRecent(ctx context.Context, limit int) ([]ActionResult, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+resultColumns+` FROM action_results
		 ORDER BY started_at DESC, action_index
		 LIMIT ?`,
		normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying recent results: %w", err)
	}
	defer rows.Close()
	return collectResults(rows)
}

func collectResults(rows *sql.Rows) ([]ActionResult, error) {
	var out []ActionResult
	for rows.Next() {
		var (
			res           ActionResult
			errText       sql.NullString
			correlationID sql.NullString
			startedAt     string
			completedAt   string
		)
		err := rows.Scan(
			&res.ID, &res.PolicyID, &res.EventType, &res.SourceType, &res.SourceID,
			&res.ActionIndex, &res.ActionType, &res.Status, &res.Attempts,
			&errText, &correlationID, &startedAt, &completedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}
		res.Error = errText.String
		res.CorrelationID = correlationID.String
		if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
			res.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, completedAt); err == nil {
			res.CompletedAt = t
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}

// MemoryResultRepository is an in-memory ResultRepository used by tests.
type MemoryResultRepository struct {
	mu      sync.Mutex
	results []ActionResult
}

var _ ResultRepository = (*MemoryResultRepository)(nil)

// NewMemoryResultRepository creates an empty in-memory repository.
func NewMemoryResultRepository() *MemoryResultRepository {
	return &MemoryResultRepository{}
}

func (m *MemoryResultRepository) Record(_ context.Context, res ActionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, res)
	return nil
}

func (m *MemoryResultRepository) ListByPolicy(_ context.Context, policyID string, limit int) ([]ActionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ActionResult
	for _, r := range m.results {
		if r.PolicyID == policyID {
			out = append(out, r)
		}
	}
	return sortAndCap(out, limit), nil
}

func (m *MemoryResultRepository) ListRecent(_ context.Context, limit int) ([]ActionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]ActionResult(nil), m.results...)
	return sortAndCap(out, limit), nil
}

func sortAndCap(results []ActionResult, limit int) []ActionResult {
	sort.SliceStable(results, func(i, j int) bool {
		if !results[i].StartedAt.Equal(results[j].StartedAt) {
			return results[i].StartedAt.After(results[j].StartedAt)
		}
		return results[i].ActionIndex < results[j].ActionIndex
	})
	limit = normalizeLimit(limit)
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

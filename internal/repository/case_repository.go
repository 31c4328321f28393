package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/safedesk/safety-orchestrator/internal/domain"
)

// ErrUnsupportedGrouping is returned by CountBy for unknown dimensions.
var ErrUnsupportedGrouping = errors.New("unsupported grouping")

// Grouping dimensions accepted by CountBy.
const (
	GroupByStatus   = "status"
	GroupBySeverity = "severity"
)

// DefaultCaseListLimit caps a queue page when the filter sets no limit.
const DefaultCaseListLimit = 100

// CaseFilter captures triage-queue query parameters.
type CaseFilter struct {
	Status     *domain.CaseStatus
	AssignedTo *string
	Limit      int
	Offset     int
}

// CaseMutation edits a locked case in place. Returning an error aborts the
// write.
type CaseMutation func(c *domain.Case) error

// CaseRepository encapsulates case persistence.
type CaseRepository interface {
	Create(ctx context.Context, c *domain.Case) error
	GetByID(ctx context.Context, id string) (*domain.Case, error)
	// Mutate loads, edits and saves a case as one serialized unit.
	Mutate(ctx context.Context, id string, fn CaseMutation) (*domain.Case, error)
	// ListWithFilter orders by sla_breach_at then created_at, ascending.
	ListWithFilter(ctx context.Context, filter CaseFilter) ([]domain.Case, error)
	ListBreached(ctx context.Context, now time.Time) ([]domain.Case, error)
	// MarkBreachNotified reports false when another sweeper already claimed it.
	MarkBreachNotified(ctx context.Context, id string, at time.Time) (bool, error)
	CountBy(ctx context.Context, groupBy string) (map[string]int, error)
}

type caseRepository struct {
	pool *pgxpool.Pool
}

// NewCaseRepository instantiates the Postgres repository.
func NewCaseRepository(pool *pgxpool.Pool) CaseRepository {
	return &caseRepository{pool: pool}
}

const caseColumns = `id, execution_id, user_hash, session_id, status, severity, assigned_to,
               summary_redacted, sla_breach_at, breach_notified_at, close_reason,
               created_at, updated_at, closed_at`

func (r *caseRepository) Create(ctx context.Context, c *domain.Case) error {
	const query = `
        INSERT INTO cases (id, execution_id, user_hash, session_id, status, severity, assigned_to,
            summary_redacted, sla_breach_at, close_reason, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err := r.pool.Exec(ctx, query,
		c.ID,
		c.ExecutionID,
		c.UserHash,
		c.SessionID,
		c.Status,
		c.Severity,
		c.AssignedTo,
		c.SummaryRedacted,
		c.SLABreachAt,
		c.CloseReason,
		c.CreatedAt,
		c.UpdatedAt,
	)
	return err
}

func (r *caseRepository) GetByID(ctx context.Context, id string) (*domain.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases WHERE id=$1`
	return scanCase(r.pool.QueryRow(ctx, query, id))
}

func (r *caseRepository) Mutate(ctx context.Context, id string, fn CaseMutation) (*domain.Case, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `SELECT ` + caseColumns + ` FROM cases WHERE id=$1 FOR UPDATE`
	c, err := scanCase(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if err := fn(c); err != nil {
		return nil, err
	}

	const update = `
        UPDATE cases SET status=$1, assigned_to=$2, close_reason=$3, closed_at=$4,
            breach_notified_at=$5, updated_at=$6
        WHERE id=$7`
	if _, err := tx.Exec(ctx, update,
		c.Status,
		c.AssignedTo,
		c.CloseReason,
		c.ClosedAt,
		c.BreachNotifiedAt,
		c.UpdatedAt,
		c.ID,
	); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *caseRepository) ListWithFilter(ctx context.Context, filter CaseFilter) ([]domain.Case, error) {
	base := `SELECT ` + caseColumns + ` FROM cases`
	clauses := []string{"1=1"}
	args := []any{}

	if filter.Status != nil {
		args = append(args, *filter.Status)
		clauses = append(clauses, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.AssignedTo != nil {
		args = append(args, *filter.AssignedTo)
		clauses = append(clauses, fmt.Sprintf("assigned_to=$%d", len(args)))
	}

	query := base + " WHERE " + strings.Join(clauses, " AND ") + " ORDER BY sla_breach_at ASC, created_at ASC"
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultCaseListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	return r.queryCases(ctx, query, args...)
}

func (r *caseRepository) ListBreached(ctx context.Context, now time.Time) ([]domain.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases
        WHERE status <> 'closed' AND breach_notified_at IS NULL AND sla_breach_at <= $1
        ORDER BY sla_breach_at ASC, created_at ASC`
	return r.queryCases(ctx, query, now)
}

func (r *caseRepository) MarkBreachNotified(ctx context.Context, id string, at time.Time) (bool, error) {
	const query = `
        UPDATE cases SET breach_notified_at=$1
        WHERE id=$2 AND breach_notified_at IS NULL AND status <> 'closed'`
	cmd, err := r.pool.Exec(ctx, query, at, id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *caseRepository) CountBy(ctx context.Context, groupBy string) (map[string]int, error) {
	var column string
	switch groupBy {
	case GroupByStatus:
		column = "status"
	case GroupBySeverity:
		column = "severity"
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedGrouping, groupBy)
	}

	rows, err := r.pool.Query(ctx, `SELECT `+column+`, COUNT(*) FROM cases GROUP BY `+column)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

func (r *caseRepository) queryCases(ctx context.Context, query string, args ...any) ([]domain.Case, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

func scanCase(row pgx.Row) (*domain.Case, error) {
	var c domain.Case
	if err := row.Scan(
		&c.ID,
		&c.ExecutionID,
		&c.UserHash,
		&c.SessionID,
		&c.Status,
		&c.Severity,
		&c.AssignedTo,
		&c.SummaryRedacted,
		&c.SLABreachAt,
		&c.BreachNotifiedAt,
		&c.CloseReason,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.ClosedAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}

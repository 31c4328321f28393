package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/safedesk/safety-orchestrator/internal/domain"
)

// AuditRepository stores persisted copies of bus events.
type AuditRepository interface {
	Create(ctx context.Context, entry *domain.AuditEntry) error
	ListByCase(ctx context.Context, caseID string) ([]domain.AuditEntry, error)
}

type auditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository builds repository.
func NewAuditRepository(pool *pgxpool.Pool) AuditRepository {
	return &auditRepository{pool: pool}
}

func (r *auditRepository) Create(ctx context.Context, entry *domain.AuditEntry) error {
	const query = `
        INSERT INTO audit_log (event_id, event_type, source, case_id, payload, occurred_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at`
	payload := entry.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return r.pool.QueryRow(ctx, query,
		entry.EventID,
		entry.EventType,
		entry.Source,
		entry.CaseID,
		payload,
		entry.OccurredAt,
	).Scan(&entry.ID, &entry.CreatedAt)
}

func (r *auditRepository) ListByCase(ctx context.Context, caseID string) ([]domain.AuditEntry, error) {
	const query = `
        SELECT id, event_id, event_type, source, case_id, payload, occurred_at, created_at
        FROM audit_log WHERE case_id=$1 ORDER BY occurred_at ASC`
	rows, err := r.pool.Query(ctx, query, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.AuditEntry
	for rows.Next() {
		var entry domain.AuditEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.EventID,
			&entry.EventType,
			&entry.Source,
			&entry.CaseID,
			&entry.Payload,
			&entry.OccurredAt,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

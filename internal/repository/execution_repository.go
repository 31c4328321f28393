package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/safedesk/safety-orchestrator/internal/domain"
)

// ExecutionRepository stores orchestration run history.
type ExecutionRepository interface {
	// Save upserts the whole record. Steps only ever grow.
	Save(ctx context.Context, rec *domain.ExecutionRecord) error
	GetByID(ctx context.Context, id string) (*domain.ExecutionRecord, error)
}

type executionRepository struct {
	pool *pgxpool.Pool
}

// NewExecutionRepository builds the Postgres repository.
func NewExecutionRepository(pool *pgxpool.Pool) ExecutionRepository {
	return &executionRepository{pool: pool}
}

func (r *executionRepository) Save(ctx context.Context, rec *domain.ExecutionRecord) error {
	const query = `
        INSERT INTO execution_records (execution_id, session_id, status, steps, errors, started_at, finished_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (execution_id) DO UPDATE
        SET status=EXCLUDED.status, steps=EXCLUDED.steps, errors=EXCLUDED.errors, finished_at=EXCLUDED.finished_at
        WHERE jsonb_array_length(EXCLUDED.steps) >= jsonb_array_length(execution_records.steps)`
	steps := rec.Steps
	if steps == nil {
		steps = []domain.NodeEntry{}
	}
	errs := rec.Errors
	if errs == nil {
		errs = []string{}
	}
	_, err := r.pool.Exec(ctx, query,
		rec.ExecutionID,
		rec.SessionID,
		rec.Status,
		steps,
		errs,
		rec.StartedAt,
		rec.FinishedAt,
	)
	return err
}

func (r *executionRepository) GetByID(ctx context.Context, id string) (*domain.ExecutionRecord, error) {
	const query = `
        SELECT execution_id, session_id, status, steps, errors, started_at, finished_at
        FROM execution_records WHERE execution_id=$1`
	var rec domain.ExecutionRecord
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&rec.ExecutionID,
		&rec.SessionID,
		&rec.Status,
		&rec.Steps,
		&rec.Errors,
		&rec.StartedAt,
		&rec.FinishedAt,
	); err != nil {
		return nil, err
	}
	return &rec, nil
}

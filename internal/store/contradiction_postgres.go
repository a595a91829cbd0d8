package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/substratelabs/arbiter/internal/domain"
)

// PostgresContradictionLog persists the contradiction log in an append-only
// Postgres table.
type PostgresContradictionLog struct {
	db *pgxpool.Pool
}

func NewPostgresContradictionLog(db *pgxpool.Pool) *PostgresContradictionLog {
	return &PostgresContradictionLog{db: db}
}

func (l *PostgresContradictionLog) Append(ctx context.Context, rec *domain.ContradictionRecord) error {
	assertionsJSON, err := json.Marshal(rec.Assertions)
	if err != nil {
		return fmt.Errorf("marshal assertions: %w", err)
	}

	_, err = l.db.Exec(ctx,
		`INSERT INTO contradiction_log (
			id, proposition_id, assertions, resolved,
			resolution_value, resolution_confidence, residual_uncertainty,
			severity, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.PropositionID, assertionsJSON, rec.Resolved,
		int(rec.Resolution.Value), rec.Resolution.Confidence, rec.ResidualUncertainty,
		string(rec.Severity), rec.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("insert contradiction record: %w", err)
	}
	return nil
}

func (l *PostgresContradictionLog) List(ctx context.Context, offset, limit int) ([]domain.ContradictionRecord, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 100
	}

	var total int
	if err := l.db.QueryRow(ctx, `SELECT count(*) FROM contradiction_log`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count contradiction log: %w", err)
	}

	rows, err := l.db.Query(ctx,
		`SELECT id, proposition_id, assertions, resolved,
			resolution_value, resolution_confidence, residual_uncertainty,
			severity, resolved_at
		 FROM contradiction_log
		 ORDER BY resolved_at ASC
		 OFFSET $1 LIMIT $2`,
		offset, limit,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list contradiction log: %w", err)
	}
	defer rows.Close()

	var results []domain.ContradictionRecord
	for rows.Next() {
		var rec domain.ContradictionRecord
		var assertionsJSON []byte
		var value int
		var severity string
		if err := rows.Scan(&rec.ID, &rec.PropositionID, &assertionsJSON, &rec.Resolved,
			&value, &rec.Resolution.Confidence, &rec.ResidualUncertainty,
			&severity, &rec.ResolvedAt); err != nil {
			return nil, 0, fmt.Errorf("scan contradiction record: %w", err)
		}
		rec.Resolution.Value = domain.Trinary(value)
		rec.Severity = domain.Severity(severity)
		if len(assertionsJSON) > 0 {
			_ = json.Unmarshal(assertionsJSON, &rec.Assertions)
		}
		results = append(results, rec)
	}
	return results, total, rows.Err()
}

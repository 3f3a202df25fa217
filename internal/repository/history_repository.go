package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/club-approval-api/internal/models"
)

// HistoryRepository stores re-open snapshots with a per-application sequence.
type HistoryRepository struct {
	db *sqlx.DB
}

// NewHistoryRepository constructs the repository.
func NewHistoryRepository(db *sqlx.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

func (r *HistoryRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Append inserts a snapshot assigning the next sequence number for its application.
func (r *HistoryRepository) Append(ctx context.Context, exec sqlx.ExtContext, history *models.ApplicationHistory) error {
	if history == nil || history.ApplicationID == "" {
		return fmt.Errorf("history application_id is required")
	}
	if history.ID == "" {
		history.ID = uuid.NewString()
	}
	if history.CreatedAt.IsZero() {
		history.CreatedAt = time.Now().UTC()
	}
	target := r.exec(exec)

	const nextSeq = `SELECT COALESCE(MAX(seq), 0) + 1 FROM application_history WHERE application_id = $1`
	if err := sqlx.GetContext(ctx, target, &history.Seq, nextSeq, history.ApplicationID); err != nil {
		return fmt.Errorf("compute next history seq: %w", err)
	}

	const insert = `INSERT INTO application_history (id, application_id, seq, scope, snapshot, reopened_by, created_at)
	VALUES (:id, :application_id, :seq, :scope, :snapshot, :reopened_by, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, target, insert, history); err != nil {
		return fmt.Errorf("insert application history: %w", err)
	}
	return nil
}

// ListByApplication returns snapshots ordered by sequence.
func (r *HistoryRepository) ListByApplication(ctx context.Context, applicationID string) ([]models.ApplicationHistory, error) {
	const query = `SELECT id, application_id, seq, scope, snapshot, reopened_by, created_at
	FROM application_history WHERE application_id = $1 ORDER BY seq`
	var entries []models.ApplicationHistory
	if err := r.db.SelectContext(ctx, &entries, query, applicationID); err != nil {
		return nil, fmt.Errorf("list application history: %w", err)
	}
	return entries, nil
}

package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/club-approval-api/internal/models"
)

// LedgerRepository appends and reads approval ledger entries. Rows are never updated.
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository constructs the repository.
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Append inserts one decision record.
func (r *LedgerRepository) Append(ctx context.Context, entry *models.LedgerEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.DecidedAt.IsZero() {
		entry.DecidedAt = time.Now().UTC()
	}
	const query = `INSERT INTO approval_ledger (id, category, entity_id, application_id, role, status, approver_id, reason, decided_at)
	VALUES (:id, :category, :entity_id, :application_id, :role, :status, :approver_id, :reason, :decided_at)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// LedgerFilter narrows ledger reads.
type LedgerFilter struct {
	ApplicationID string
	EntityID      string
	Category      models.LedgerCategory
}

// List returns entries oldest first.
func (r *LedgerRepository) List(ctx context.Context, filter LedgerFilter) ([]models.LedgerEntry, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 3)
	builder.WriteString(`SELECT id, category, entity_id, application_id, role, status, approver_id, reason, decided_at FROM approval_ledger`)

	conditions := make([]string, 0, 3)
	if filter.ApplicationID != "" {
		args = append(args, filter.ApplicationID)
		conditions = append(conditions, fmt.Sprintf("application_id = $%d", len(args)))
	}
	if filter.EntityID != "" {
		args = append(args, filter.EntityID)
		conditions = append(conditions, fmt.Sprintf("entity_id = $%d", len(args)))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY decided_at, id")

	var entries []models.LedgerEntry
	if err := r.db.SelectContext(ctx, &entries, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	return entries, nil
}

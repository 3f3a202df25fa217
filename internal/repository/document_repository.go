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

const documentColumns = `id, application_id, scope, type, file_path, display_name, mime_type, note,
       advisor_approval, board_approval, uploaded_by, created_at, updated_at`

// DocumentRepository persists primary and additional documents in one table keyed by scope.
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository constructs the repository.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create inserts a document row.
func (r *DocumentRepository) Create(ctx context.Context, doc *models.Document) error {
	return r.insert(ctx, r.db, doc)
}

func (r *DocumentRepository) insert(ctx context.Context, exec sqlx.ExtContext, doc *models.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Scope == "" {
		doc.Scope = models.DocumentScopePrimary
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	const query = `INSERT INTO application_documents
	(id, application_id, scope, type, file_path, display_name, mime_type, note, advisor_approval, board_approval, uploaded_by, created_at, updated_at)
	VALUES (:id, :application_id, :scope, :type, :file_path, :display_name, :mime_type, :note, :advisor_approval, :board_approval, :uploaded_by, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, doc); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetByID fetches one document.
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM application_documents WHERE id = $1`
	var doc models.Document
	if err := r.db.GetContext(ctx, &doc, query, id); err != nil {
		return nil, err
	}
	return &doc, nil
}

// List returns documents matching the filter, oldest first.
func (r *DocumentRepository) List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 3)
	builder.WriteString(`SELECT ` + documentColumns + ` FROM application_documents`)

	conditions := make([]string, 0, 4)
	if filter.ApplicationID != "" {
		args = append(args, filter.ApplicationID)
		conditions = append(conditions, fmt.Sprintf("application_id = $%d", len(args)))
	}
	if filter.Scope != "" {
		args = append(args, filter.Scope)
		conditions = append(conditions, fmt.Sprintf("scope = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.AwaitingBoard {
		conditions = append(conditions, fmt.Sprintf("advisor_approval->>'status' = '%s' AND board_approval IS NULL", models.DecisionApproved))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at, id")

	var docs []models.Document
	if err := r.db.SelectContext(ctx, &docs, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// SetAdvisorDecision overwrites the advisor decision of a document.
func (r *DocumentRepository) SetAdvisorDecision(ctx context.Context, id string, decision *models.ApprovalDecision) error {
	const query = `UPDATE application_documents SET advisor_approval = $2, updated_at = $3 WHERE id = $1`
	return execAffectingOne(ctx, r.db, "set document advisor decision", query, id, decision, time.Now().UTC())
}

// SetBoardDecision overwrites the board decision only while the advisor decision is approved.
// It returns sql.ErrNoRows when the row is missing or the gate is closed.
func (r *DocumentRepository) SetBoardDecision(ctx context.Context, id string, decision *models.ApprovalDecision) error {
	query := fmt.Sprintf(`UPDATE application_documents SET board_approval = $2, updated_at = $3
	WHERE id = $1 AND advisor_approval->>'status' = '%s'`, models.DecisionApproved)
	return execAffectingOne(ctx, r.db, "set document board decision", query, id, decision, time.Now().UTC())
}

// BlobRemover deletes the blobs of replaced rows while their deletion is still uncommitted.
type BlobRemover func(ctx context.Context, paths []string) error

// ReplaceByType deletes every document of doc's scope and type on its application, inserts doc with
// absent decisions and raises the application's revision flag. removeBlobs runs before commit;
// if it fails the transaction is rolled back so the old rows survive.
func (r *DocumentRepository) ReplaceByType(ctx context.Context, doc *models.Document, removeBlobs BlobRemover) ([]models.Document, error) {
	if doc.Scope == "" {
		doc.Scope = models.DocumentScopePrimary
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin replace document: %w", err)
	}
	selectOld := `SELECT ` + documentColumns + ` FROM application_documents
	WHERE application_id = $1 AND scope = $2 AND type = $3 FOR UPDATE`
	var replaced []models.Document
	if err := tx.SelectContext(ctx, &replaced, selectOld, doc.ApplicationID, doc.Scope, doc.Type); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("lock replaced documents: %w", err)
	}
	const deleteOld = `DELETE FROM application_documents WHERE application_id = $1 AND scope = $2 AND type = $3`
	if _, err := tx.ExecContext(ctx, deleteOld, doc.ApplicationID, doc.Scope, doc.Type); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("delete replaced documents: %w", err)
	}
	doc.AdvisorApproval = nil
	doc.BoardApproval = nil
	if err := r.insert(ctx, tx, doc); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, err
	}
	const flag = `UPDATE applications SET revision_flag = TRUE, updated_at = $2 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, flag, doc.ApplicationID, time.Now().UTC()); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("flag application revision: %w", err)
	}
	if removeBlobs != nil && len(replaced) > 0 {
		paths := make([]string, 0, len(replaced))
		for _, old := range replaced {
			if old.FilePath != doc.FilePath {
				paths = append(paths, old.FilePath)
			}
		}
		if err := removeBlobs(ctx, paths); err != nil {
			tx.Rollback() //nolint:errcheck
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit replace document: %w", err)
	}
	return replaced, nil
}

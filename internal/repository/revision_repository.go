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

const revisionColumns = `id, application_id, club_id, selected_facets, description, status, advisor_approval, board_approval,
       image_old_path, image_pending_path, image_final_path, image_file_name, commit_error, commit_step,
       requested_by, created_at, updated_at`

// RevisionRepository persists revision requests, their staged deltas and the commit transaction.
type RevisionRepository struct {
	db *sqlx.DB
}

// NewRevisionRepository constructs the repository.
func NewRevisionRepository(db *sqlx.DB) *RevisionRepository {
	return &RevisionRepository{db: db}
}

// Create inserts a pending revision.
func (r *RevisionRepository) Create(ctx context.Context, rev *models.RevisionRequest) error {
	if rev.ID == "" {
		rev.ID = uuid.NewString()
	}
	if rev.Status == "" {
		rev.Status = models.RevisionStatusPending
	}
	now := time.Now().UTC()
	if rev.CreatedAt.IsZero() {
		rev.CreatedAt = now
	}
	rev.UpdatedAt = now
	const query = `INSERT INTO revision_requests
	(id, application_id, club_id, selected_facets, description, status, requested_by, created_at, updated_at)
	VALUES (:id, :application_id, :club_id, :selected_facets, :description, :status, :requested_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, rev); err != nil {
		return fmt.Errorf("create revision: %w", err)
	}
	return nil
}

// GetByID fetches a revision without its deltas.
func (r *RevisionRepository) GetByID(ctx context.Context, id string) (*models.RevisionRequest, error) {
	query := `SELECT ` + revisionColumns + ` FROM revision_requests WHERE id = $1`
	var rev models.RevisionRequest
	if err := r.db.GetContext(ctx, &rev, query, id); err != nil {
		return nil, err
	}
	return &rev, nil
}

// List returns revisions newest first.
func (r *RevisionRepository) List(ctx context.Context, filter models.RevisionFilter) ([]models.RevisionRequest, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 4)
	builder.WriteString(`SELECT ` + revisionColumns + ` FROM revision_requests`)

	conditions := make([]string, 0, 2)
	if filter.ApplicationID != "" {
		args = append(args, filter.ApplicationID)
		conditions = append(conditions, fmt.Sprintf("application_id = $%d", len(args)))
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC")
	limit, offset := pageBounds(filter.Limit, filter.Offset)
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var revisions []models.RevisionRequest
	if err := r.db.SelectContext(ctx, &revisions, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	return revisions, nil
}

// ListDeltas returns staged deltas in submission order.
func (r *RevisionRepository) ListDeltas(ctx context.Context, revisionID string) ([]models.RevisionDelta, error) {
	const query = `SELECT id, revision_id, facet, seq, op, target_id, fields, created_at
	FROM revision_deltas WHERE revision_id = $1 ORDER BY seq`
	var deltas []models.RevisionDelta
	if err := r.db.SelectContext(ctx, &deltas, query, revisionID); err != nil {
		return nil, fmt.Errorf("list revision deltas: %w", err)
	}
	return deltas, nil
}

// StageImage records the pending upload while the revision is still pending.
func (r *RevisionRepository) StageImage(ctx context.Context, id string, oldPath *string, pendingPath, fileName string) error {
	query := fmt.Sprintf(`UPDATE revision_requests
	SET image_old_path = $2, image_pending_path = $3, image_file_name = $4, updated_at = $5
	WHERE id = $1 AND status = '%s'`, models.RevisionStatusPending)
	return execAffectingOne(ctx, r.db, "stage revision image", query, id, oldPath, pendingPath, fileName, time.Now().UTC())
}

// AppendDeltas stores deltas after the highest existing sequence number.
func (r *RevisionRepository) AppendDeltas(ctx context.Context, revisionID string, deltas []models.RevisionDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append deltas: %w", err)
	}
	var next int
	const nextSeq = `SELECT COALESCE(MAX(seq), 0) + 1 FROM revision_deltas WHERE revision_id = $1`
	if err := tx.GetContext(ctx, &next, nextSeq, revisionID); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("compute next delta seq: %w", err)
	}
	const insert = `INSERT INTO revision_deltas (id, revision_id, facet, seq, op, target_id, fields, created_at)
	VALUES (:id, :revision_id, :facet, :seq, :op, :target_id, :fields, :created_at)`
	now := time.Now().UTC()
	for i := range deltas {
		if deltas[i].ID == "" {
			deltas[i].ID = uuid.NewString()
		}
		deltas[i].RevisionID = revisionID
		deltas[i].Seq = next + i
		deltas[i].CreatedAt = now
		if _, err := tx.NamedExecContext(ctx, insert, deltas[i]); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("insert revision delta: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit revision deltas: %w", err)
	}
	return nil
}

// SetDecision overwrites one role's decision while the revision is pending.
// It returns sql.ErrNoRows when the revision is missing or already terminal.
func (r *RevisionRepository) SetDecision(ctx context.Context, id string, role models.ActorRole, decision *models.ApprovalDecision) error {
	column, err := decisionColumn(role)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE revision_requests SET %s = $2, updated_at = $3 WHERE id = $1 AND status = '%s'`,
		column, models.RevisionStatusPending)
	return execAffectingOne(ctx, r.db, "set revision decision", query, id, decision, time.Now().UTC())
}

// MarkRejected moves a pending revision to REJECTED.
func (r *RevisionRepository) MarkRejected(ctx context.Context, id string) error {
	query := fmt.Sprintf(`UPDATE revision_requests SET status = '%s', updated_at = $2 WHERE id = $1 AND status = '%s'`,
		models.RevisionStatusRejected, models.RevisionStatusPending)
	return execAffectingOne(ctx, r.db, "reject revision", query, id, time.Now().UTC())
}

// MarkImageFinalized records the promoted image path, the idempotency marker for image promotion.
func (r *RevisionRepository) MarkImageFinalized(ctx context.Context, id, finalPath string) error {
	const query = `UPDATE revision_requests SET image_final_path = $2, updated_at = $3 WHERE id = $1`
	return execAffectingOne(ctx, r.db, "mark revision image finalized", query, id, finalPath, time.Now().UTC())
}

// RecordCommitFailure keeps the revision pending and stores the failing step.
func (r *RevisionRepository) RecordCommitFailure(ctx context.Context, id, step, message string) error {
	query := fmt.Sprintf(`UPDATE revision_requests SET commit_error = $2, commit_step = $3, updated_at = $4
	WHERE id = $1 AND status = '%s'`, models.RevisionStatusPending)
	return execAffectingOne(ctx, r.db, "record revision commit failure", query, id, message, step, time.Now().UTC())
}

// ApplyRevision replays the revision onto its application and marks it APPLIED in one transaction.
// The status flip runs first and only matches a pending row whose stored decisions are both
// APPROVED, so it locks the row against a concurrent rejection and returns sql.ErrNoRows when
// one landed first. Adds are keyed by their pre-assigned id and removes are scoped to the
// application, so a replay after a rolled-back attempt converges to the same rows.
func (r *RevisionRepository) ApplyRevision(ctx context.Context, rev *models.RevisionRequest, deltas []models.RevisionDelta) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin apply revision: %w", err)
	}
	now := time.Now().UTC()
	markApplied := fmt.Sprintf(`UPDATE revision_requests SET status = '%s', commit_error = NULL, commit_step = NULL, updated_at = $2
	WHERE id = $1 AND status = '%s' AND advisor_approval->>'status' = '%s' AND board_approval->>'status' = '%s'`,
		models.RevisionStatusApplied, models.RevisionStatusPending, models.DecisionApproved, models.DecisionApproved)
	if err := execAffectingOne(ctx, tx, "mark revision applied", markApplied, rev.ID, now); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if rev.ImageFinalPath != nil {
		const updateImage = `UPDATE applications SET image_path = $2, updated_at = $3 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, updateImage, rev.ApplicationID, *rev.ImageFinalPath, now); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("update application image: %w", err)
		}
	}
	for i, delta := range deltas {
		if err := applyDeltaTx(ctx, tx, rev.ApplicationID, delta, now.Add(time.Duration(i)*time.Microsecond)); err != nil {
			tx.Rollback() //nolint:errcheck
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit apply revision: %w", err)
	}
	return nil
}

func applyDeltaTx(ctx context.Context, tx *sqlx.Tx, applicationID string, delta models.RevisionDelta, at time.Time) error {
	table, err := deltaTable(delta.Facet)
	if err != nil {
		return err
	}
	switch delta.Op {
	case models.DeltaOpAdd:
		if delta.Fields == nil {
			return fmt.Errorf("delta %s has no fields", delta.ID)
		}
		var query string
		var args []interface{}
		if delta.Facet == models.FacetSpeakers {
			query = `INSERT INTO application_speakers (id, application_id, full_name, affiliation, topic, created_at)
			VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`
			args = []interface{}{delta.TargetID, applicationID, delta.Fields.Name, delta.Fields.Affiliation, delta.Fields.Topic, at}
		} else {
			query = `INSERT INTO application_sponsors (id, application_id, name, contribution, created_at)
			VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`
			args = []interface{}{delta.TargetID, applicationID, delta.Fields.Name, delta.Fields.Contribution, at}
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("apply %s add %s: %w", delta.Facet, delta.TargetID, err)
		}
	case models.DeltaOpRemove:
		query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND application_id = $2`, table)
		if _, err := tx.ExecContext(ctx, query, delta.TargetID, applicationID); err != nil {
			return fmt.Errorf("apply %s remove %s: %w", delta.Facet, delta.TargetID, err)
		}
	default:
		return fmt.Errorf("unknown delta op %q", delta.Op)
	}
	return nil
}

func deltaTable(facet models.RevisionFacet) (string, error) {
	switch facet {
	case models.FacetSpeakers:
		return "application_speakers", nil
	case models.FacetSponsors:
		return "application_sponsors", nil
	default:
		return "", fmt.Errorf("facet %q has no delta rows", facet)
	}
}

func decisionColumn(role models.ActorRole) (string, error) {
	switch role {
	case models.RoleAdvisor:
		return "advisor_approval", nil
	case models.RoleBoard:
		return "board_approval", nil
	default:
		return "", fmt.Errorf("role %q cannot decide", role)
	}
}

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/club-approval-api/internal/models"
)

const applicationColumns = `id, club_id, title, event_type, venue, description, time_slots, image_path,
       advisor_approval, board_approval, revision_flag, submitted_by, created_at, updated_at`

// ApplicationRepository persists applications with their speaker and sponsor rows.
type ApplicationRepository struct {
	db      *sqlx.DB
	history *HistoryRepository
}

// NewApplicationRepository constructs the repository.
func NewApplicationRepository(db *sqlx.DB, history *HistoryRepository) *ApplicationRepository {
	if history == nil {
		history = NewHistoryRepository(db)
	}
	return &ApplicationRepository{db: db, history: history}
}

// Create inserts the application and its child rows in one transaction.
func (r *ApplicationRepository) Create(ctx context.Context, app *models.Application) error {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if app.CreatedAt.IsZero() {
		app.CreatedAt = now
	}
	app.UpdatedAt = now
	if app.TimeSlots == nil {
		app.TimeSlots = models.TimeSlots{}
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create application: %w", err)
	}
	const insertApp = `INSERT INTO applications
	(id, club_id, title, event_type, venue, description, time_slots, image_path, advisor_approval, board_approval, revision_flag, submitted_by, created_at, updated_at)
	VALUES (:id, :club_id, :title, :event_type, :venue, :description, :time_slots, :image_path, :advisor_approval, :board_approval, :revision_flag, :submitted_by, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, insertApp, app); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("insert application: %w", err)
	}
	if err := r.insertSpeakersTx(ctx, tx, app.ID, app.Speakers); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := r.insertSponsorsTx(ctx, tx, app.ID, app.Sponsors); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit application: %w", err)
	}
	return nil
}

// GetByID fetches the application row without children.
func (r *ApplicationRepository) GetByID(ctx context.Context, id string) (*models.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE id = $1`
	var app models.Application
	if err := r.db.GetContext(ctx, &app, query, id); err != nil {
		return nil, err
	}
	return &app, nil
}

// Exists reports whether an application id is known.
func (r *ApplicationRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM applications WHERE id = $1)`, id); err != nil {
		return false, fmt.Errorf("check application: %w", err)
	}
	return exists, nil
}

// List returns applications newest first.
func (r *ApplicationRepository) List(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 1)
	builder.WriteString(`SELECT ` + applicationColumns + ` FROM applications`)
	if filter.ClubID != "" {
		args = append(args, filter.ClubID)
		builder.WriteString(fmt.Sprintf(" WHERE club_id = $%d", len(args)))
	}
	builder.WriteString(" ORDER BY created_at DESC")
	limit, offset := pageBounds(filter.Limit, filter.Offset)
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var apps []models.Application
	if err := r.db.SelectContext(ctx, &apps, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	return apps, nil
}

// ListSpeakers returns speakers in insertion order.
func (r *ApplicationRepository) ListSpeakers(ctx context.Context, applicationID string) ([]models.Speaker, error) {
	const query = `SELECT id, application_id, full_name, affiliation, topic, created_at
	FROM application_speakers WHERE application_id = $1 ORDER BY created_at, id`
	var speakers []models.Speaker
	if err := r.db.SelectContext(ctx, &speakers, query, applicationID); err != nil {
		return nil, fmt.Errorf("list speakers: %w", err)
	}
	return speakers, nil
}

// ListSponsors returns sponsors in insertion order.
func (r *ApplicationRepository) ListSponsors(ctx context.Context, applicationID string) ([]models.Sponsor, error) {
	const query = `SELECT id, application_id, name, contribution, created_at
	FROM application_sponsors WHERE application_id = $1 ORDER BY created_at, id`
	var sponsors []models.Sponsor
	if err := r.db.SelectContext(ctx, &sponsors, query, applicationID); err != nil {
		return nil, fmt.Errorf("list sponsors: %w", err)
	}
	return sponsors, nil
}

// SetAdvisorDecision overwrites the advisor decision in a single statement.
func (r *ApplicationRepository) SetAdvisorDecision(ctx context.Context, id string, decision *models.ApprovalDecision) error {
	const query = `UPDATE applications SET advisor_approval = $2, updated_at = $3 WHERE id = $1`
	return execAffectingOne(ctx, r.db, "set application advisor decision", query, id, decision, time.Now().UTC())
}

// SetBoardDecision overwrites the board decision only while the advisor decision is approved.
// It returns sql.ErrNoRows when the row is missing or the gate is closed.
func (r *ApplicationRepository) SetBoardDecision(ctx context.Context, id string, decision *models.ApprovalDecision) error {
	query := fmt.Sprintf(`UPDATE applications SET board_approval = $2, updated_at = $3
	WHERE id = $1 AND advisor_approval->>'status' = '%s'`, models.DecisionApproved)
	return execAffectingOne(ctx, r.db, "set application board decision", query, id, decision, time.Now().UTC())
}

// Reopen snapshots the application into history and optionally clears both decisions.
func (r *ApplicationRepository) Reopen(ctx context.Context, history *models.ApplicationHistory, resetApprovals bool) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reopen: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT id FROM applications WHERE id = $1 FOR UPDATE`, history.ApplicationID); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("lock application: %w", err)
	}
	if err := r.history.Append(ctx, tx, history); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if resetApprovals {
		const clear = `UPDATE applications SET advisor_approval = NULL, board_approval = NULL, updated_at = $2 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, clear, history.ApplicationID, time.Now().UTC()); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("clear application decisions: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reopen: %w", err)
	}
	return nil
}

// UpdateInfo persists edited facts, replaces the speaker and sponsor sets, and raises revision_flag.
func (r *ApplicationRepository) UpdateInfo(ctx context.Context, app *models.Application) error {
	app.UpdatedAt = time.Now().UTC()
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update application: %w", err)
	}
	const update = `UPDATE applications SET title = :title, event_type = :event_type, venue = :venue,
	description = :description, time_slots = :time_slots, image_path = :image_path, revision_flag = TRUE, updated_at = :updated_at
	WHERE id = :id`
	result, err := tx.NamedExecContext(ctx, update, app)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("update application: %w", err)
	}
	if rows, err := result.RowsAffected(); err != nil || rows == 0 {
		tx.Rollback() //nolint:errcheck
		if err != nil {
			return fmt.Errorf("check application update rows: %w", err)
		}
		return sql.ErrNoRows
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM application_speakers WHERE application_id = $1`, app.ID); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("clear speakers: %w", err)
	}
	if err := r.insertSpeakersTx(ctx, tx, app.ID, app.Speakers); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM application_sponsors WHERE application_id = $1`, app.ID); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("clear sponsors: %w", err)
	}
	if err := r.insertSponsorsTx(ctx, tx, app.ID, app.Sponsors); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	app.RevisionFlag = true
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit application update: %w", err)
	}
	return nil
}

// PurgedApplication identifies a deleted application for blob cleanup.
type PurgedApplication struct {
	ID     string `db:"id"`
	ClubID string `db:"club_id"`
}

// PurgeBefore deletes applications created before cutoff; child rows cascade.
func (r *ApplicationRepository) PurgeBefore(ctx context.Context, cutoff time.Time) ([]PurgedApplication, error) {
	const query = `DELETE FROM applications WHERE created_at < $1 RETURNING id, club_id`
	var purged []PurgedApplication
	if err := r.db.SelectContext(ctx, &purged, query, cutoff); err != nil {
		return nil, fmt.Errorf("purge applications: %w", err)
	}
	return purged, nil
}

func (r *ApplicationRepository) insertSpeakersTx(ctx context.Context, tx *sqlx.Tx, applicationID string, speakers []models.Speaker) error {
	const insert = `INSERT INTO application_speakers (id, application_id, full_name, affiliation, topic, created_at)
	VALUES (:id, :application_id, :full_name, :affiliation, :topic, :created_at)`
	base := time.Now().UTC()
	for i := range speakers {
		if speakers[i].ID == "" {
			speakers[i].ID = uuid.NewString()
		}
		speakers[i].ApplicationID = applicationID
		if speakers[i].CreatedAt.IsZero() {
			speakers[i].CreatedAt = base.Add(time.Duration(i) * time.Microsecond)
		}
		if _, err := tx.NamedExecContext(ctx, insert, speakers[i]); err != nil {
			return fmt.Errorf("insert speaker: %w", err)
		}
	}
	return nil
}

func (r *ApplicationRepository) insertSponsorsTx(ctx context.Context, tx *sqlx.Tx, applicationID string, sponsors []models.Sponsor) error {
	const insert = `INSERT INTO application_sponsors (id, application_id, name, contribution, created_at)
	VALUES (:id, :application_id, :name, :contribution, :created_at)`
	base := time.Now().UTC()
	for i := range sponsors {
		if sponsors[i].ID == "" {
			sponsors[i].ID = uuid.NewString()
		}
		sponsors[i].ApplicationID = applicationID
		if sponsors[i].CreatedAt.IsZero() {
			sponsors[i].CreatedAt = base.Add(time.Duration(i) * time.Microsecond)
		}
		if _, err := tx.NamedExecContext(ctx, insert, sponsors[i]); err != nil {
			return fmt.Errorf("insert sponsor: %w", err)
		}
	}
	return nil
}

func execAffectingOne(ctx context.Context, exec sqlx.ExecerContext, op, query string, args ...interface{}) error {
	result, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

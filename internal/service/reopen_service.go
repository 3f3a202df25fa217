package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/club-approval-api/internal/dto"
	"github.com/noah-isme/club-approval-api/internal/models"
	"github.com/noah-isme/club-approval-api/internal/repository"
	appErrors "github.com/noah-isme/club-approval-api/pkg/errors"
	"github.com/noah-isme/club-approval-api/pkg/storage"
)

type reopenApplicationStore interface {
	GetByID(ctx context.Context, id string) (*models.Application, error)
	ListSpeakers(ctx context.Context, applicationID string) ([]models.Speaker, error)
	ListSponsors(ctx context.Context, applicationID string) ([]models.Sponsor, error)
	Reopen(ctx context.Context, history *models.ApplicationHistory, resetApprovals bool) error
	UpdateInfo(ctx context.Context, app *models.Application) error
}

type historyReader interface {
	ListByApplication(ctx context.Context, applicationID string) ([]models.ApplicationHistory, error)
}

type replaceableDocumentStore interface {
	List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, error)
	ReplaceByType(ctx context.Context, doc *models.Document, removeBlobs repository.BlobRemover) ([]models.Document, error)
}

// ReplaceResult reports the substituted document and how many rows it displaced.
type ReplaceResult struct {
	Document models.DocumentView `json:"document"`
	Replaced int                 `json:"replaced"`
}

// ReopenService re-opens applications in place and applies the edits that follow.
type ReopenService struct {
	apps      reopenApplicationStore
	history   historyReader
	documents replaceableDocumentStore
	blobs     storage.BlobStore
	cache     *CacheService
	validator *validator.Validate
	guard     uploadGuard
	logger    *zap.Logger
	now       func() time.Time
}

// NewReopenService constructs the service.
func NewReopenService(apps reopenApplicationStore, history historyReader, documents replaceableDocumentStore, blobs storage.BlobStore, cache *CacheService, policy UploadPolicy, logger *zap.Logger) *ReopenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReopenService{
		apps:      apps,
		history:   history,
		documents: documents,
		blobs:     blobs,
		cache:     cache,
		validator: validator.New(),
		guard:     newUploadGuard(policy),
		logger:    logger,
		now:       time.Now,
	}
}

// Reopen snapshots the application into history and, for info scopes, clears both
// application decisions. revisionFlag is left untouched.
func (s *ReopenService) Reopen(ctx context.Context, applicationID string, req dto.ReopenRequest, actor *models.ActorClaims) (*models.ApplicationView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	app, err := s.loadFull(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if err := requireClubAccess(actor, app.ClubID); err != nil {
		return nil, err
	}

	snapshot, err := json.Marshal(models.NewApplicationView(app))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to snapshot application")
	}
	entry := &models.ApplicationHistory{
		ApplicationID: app.ID,
		Scope:         req.Scope,
		Snapshot:      snapshot,
		ReopenedBy:    actor.UserID,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.apps.Reopen(ctx, entry, req.Scope.ResetsApprovals()); err != nil {
		return nil, appErrors.Persistence(err, "failed to re-open application")
	}
	if req.Scope.ResetsApprovals() {
		app.AdvisorApproval = nil
		app.BoardApproval = nil
	}
	s.logger.Info("application re-opened",
		zap.String("application_id", app.ID),
		zap.String("scope", string(req.Scope)),
		zap.Int("seq", entry.Seq))

	view := models.NewApplicationView(app)
	return &view, nil
}

// Edit applies new facts to an application re-opened for info. Nothing is written
// when the facts match the stored ones.
func (s *ReopenService) Edit(ctx context.Context, applicationID string, req dto.EditApplicationRequest, image *dto.FileUpload, actor *models.ActorClaims) (*dto.EditResult, error) {
	app, err := s.loadFull(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if err := requireClubAccess(actor, app.ClubID); err != nil {
		return nil, err
	}
	if app.AdvisorApproval != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "application is under review; re-open it before editing")
	}
	if err := s.requireScope(ctx, app.ID, models.ReopenInfoOnly, models.ReopenBoth); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req.ApplicationFacts); err != nil {
		return nil, validationError(err)
	}
	if err := validateTimeSlots(req.ApplicationFacts.TimeSlots); err != nil {
		return nil, err
	}

	next := factsToApplication(req.ApplicationFacts)
	changed := diffFacts(app, next)
	if image != nil {
		if _, err := s.guard.check(image, true); err != nil {
			return nil, err
		}
		changed = append(changed, "image")
	}
	if len(changed) == 0 {
		return &dto.EditResult{Application: app, Changed: false, ChangedFields: changed}, nil
	}

	updated := *app
	updated.Title = next.Title
	updated.EventType = next.EventType
	updated.Venue = next.Venue
	updated.Description = next.Description
	updated.TimeSlots = next.TimeSlots
	if !sameSpeakers(app.Speakers, next.Speakers) {
		updated.Speakers = next.Speakers
	}
	if !sameSponsors(app.Sponsors, next.Sponsors) {
		updated.Sponsors = next.Sponsors
	}

	var newImage string
	if image != nil {
		newImage = storage.ObjectPath(app.ClubID, app.ID, storage.FolderImage, uuid.NewString()+"-"+image.FileName)
		if err := s.blobs.Upload(ctx, newImage, image.Reader, image.Size, image.ContentType); err != nil {
			return nil, appErrors.Storage(err, "failed to store event image")
		}
		updated.ImagePath = &newImage
	}
	if err := s.apps.UpdateInfo(ctx, &updated); err != nil {
		if newImage != "" {
			s.deleteBestEffort(ctx, newImage)
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Persistence(err, "failed to update application")
	}
	if newImage != "" && app.ImagePath != nil && *app.ImagePath != newImage {
		s.deleteBestEffort(ctx, *app.ImagePath)
	}
	s.logger.Info("application edited", zap.String("application_id", app.ID), zap.Strings("changed", changed))
	return &dto.EditResult{Application: &updated, Changed: true, ChangedFields: changed}, nil
}

// ReplaceDocument substitutes every document of one type with a fresh upload whose
// decisions are absent. If the old blobs cannot be deleted the old rows are kept and
// the new blob is removed.
func (s *ReopenService) ReplaceDocument(ctx context.Context, applicationID string, req dto.UploadDocumentRequest, file *dto.FileUpload, actor *models.ActorClaims) (*ReplaceResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	if !req.Type.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown document type")
	}
	app, err := s.apps.GetByID(ctx, applicationID)
	if err != nil {
		return nil, lookupError(err, "application")
	}
	if err := requireClubAccess(actor, app.ClubID); err != nil {
		return nil, err
	}
	if err := s.requireScope(ctx, app.ID, models.ReopenDocumentsOnly, models.ReopenBoth); err != nil {
		return nil, err
	}
	mimeType, err := s.guard.check(file, false)
	if err != nil {
		return nil, err
	}

	doc := &models.Document{
		ID:            uuid.NewString(),
		ApplicationID: app.ID,
		Scope:         req.Scope,
		Type:          req.Type,
		DisplayName:   displayName(req.DisplayName, file.FileName),
		MimeType:      mimeType,
		Note:          trimmedOrNil(req.Note),
		UploadedBy:    actor.UserID,
	}
	doc.FilePath = documentPath(app.ClubID, app.ID, doc.ID, file.FileName)
	if err := s.blobs.Upload(ctx, doc.FilePath, file.Reader, file.Size, mimeType); err != nil {
		return nil, appErrors.Storage(err, "failed to store replacement document")
	}

	var blobErr error
	replaced, err := s.documents.ReplaceByType(ctx, doc, func(ctx context.Context, paths []string) error {
		if err := s.blobs.Delete(ctx, paths...); err != nil {
			blobErr = err
			return err
		}
		return nil
	})
	if err != nil {
		s.deleteBestEffort(ctx, doc.FilePath)
		if blobErr != nil {
			return nil, appErrors.Storage(blobErr, "failed to delete replaced document; replacement rolled back")
		}
		return nil, appErrors.Persistence(err, "failed to replace document")
	}
	_ = s.cache.Delete(ctx, worklistKey(app.ID), worklistKey(""))

	s.logger.Info("document replaced",
		zap.String("application_id", app.ID),
		zap.String("type", string(doc.Type)),
		zap.Int("replaced", len(replaced)))
	return &ReplaceResult{Document: models.NewDocumentView(doc), Replaced: len(replaced)}, nil
}

// History lists re-open snapshots by sequence.
func (s *ReopenService) History(ctx context.Context, applicationID string, actor *models.ActorClaims) ([]models.ApplicationHistory, error) {
	app, err := s.apps.GetByID(ctx, applicationID)
	if err != nil {
		return nil, lookupError(err, "application")
	}
	if err := canView(actor, app.ClubID); err != nil {
		return nil, err
	}
	entries, err := s.history.ListByApplication(ctx, applicationID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load history")
	}
	return entries, nil
}

func (s *ReopenService) requireScope(ctx context.Context, applicationID string, allowed ...models.ReopenScope) error {
	entries, err := s.history.ListByApplication(ctx, applicationID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load history")
	}
	if len(entries) == 0 {
		return appErrors.Clone(appErrors.ErrConflict, "application has not been re-opened")
	}
	latest := entries[len(entries)-1].Scope
	for _, scope := range allowed {
		if latest == scope {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrConflict, "application was re-opened with scope "+string(latest))
}

func (s *ReopenService) loadFull(ctx context.Context, id string) (*models.Application, error) {
	app, err := s.apps.GetByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "application")
	}
	if app.Speakers, err = s.apps.ListSpeakers(ctx, id); err != nil {
		return nil, lookupError(err, "speakers")
	}
	if app.Sponsors, err = s.apps.ListSponsors(ctx, id); err != nil {
		return nil, lookupError(err, "sponsors")
	}
	if app.Documents, err = s.documents.List(ctx, models.DocumentFilter{ApplicationID: id}); err != nil {
		return nil, lookupError(err, "documents")
	}
	return app, nil
}

func (s *ReopenService) deleteBestEffort(ctx context.Context, path string) {
	if err := s.blobs.Delete(ctx, path); err != nil {
		s.logger.Warn("failed to delete blob", zap.String("path", path), zap.Error(err))
	}
}

// diffFacts compares structured fields and returns the names of those that differ.
func diffFacts(current, next *models.Application) []string {
	changed := make([]string, 0, 7)
	if current.Title != next.Title {
		changed = append(changed, "title")
	}
	if current.EventType != next.EventType {
		changed = append(changed, "eventType")
	}
	if current.Venue != next.Venue {
		changed = append(changed, "venue")
	}
	if current.Description != next.Description {
		changed = append(changed, "description")
	}
	if !current.TimeSlots.Equal(next.TimeSlots) {
		changed = append(changed, "timeSlots")
	}
	if !sameSpeakers(current.Speakers, next.Speakers) {
		changed = append(changed, "speakers")
	}
	if !sameSponsors(current.Sponsors, next.Sponsors) {
		changed = append(changed, "sponsors")
	}
	return changed
}

func sameSpeakers(a, b []models.Speaker) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].FullName != b[i].FullName || a[i].Affiliation != b[i].Affiliation || a[i].Topic != b[i].Topic {
			return false
		}
	}
	return true
}

func sameSponsors(a, b []models.Sponsor) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Contribution != b[i].Contribution {
			return false
		}
	}
	return true
}

package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/club-approval-api/internal/dto"
	"github.com/noah-isme/club-approval-api/internal/models"
	appErrors "github.com/noah-isme/club-approval-api/pkg/errors"
	"github.com/noah-isme/club-approval-api/pkg/storage"
)

const worklistKeyPrefix = "worklist:board:"

type documentStore interface {
	Create(ctx context.Context, doc *models.Document) error
	GetByID(ctx context.Context, id string) (*models.Document, error)
	List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, error)
	SetAdvisorDecision(ctx context.Context, id string, decision *models.ApprovalDecision) error
	SetBoardDecision(ctx context.Context, id string, decision *models.ApprovalDecision) error
}

type applicationReader interface {
	GetByID(ctx context.Context, id string) (*models.Application, error)
}

// DocumentServiceConfig groups upload and read URL settings.
type DocumentServiceConfig struct {
	Upload       UploadPolicy
	SignedURLTTL time.Duration
	WorklistTTL  time.Duration
}

// DocumentService tracks per-document dual approval.
type DocumentService struct {
	repo      documentStore
	apps      applicationReader
	blobs     storage.BlobStore
	cache     *CacheService
	ledger    ledgerRecorder
	notifier  Notifier
	metrics   *MetricsService
	validator *validator.Validate
	guard     uploadGuard
	logger    *zap.Logger
	cfg       DocumentServiceConfig
	now       func() time.Time
}

// NewDocumentService constructs the service.
func NewDocumentService(repo documentStore, apps applicationReader, blobs storage.BlobStore, cache *CacheService, ledger ledgerRecorder, notifier Notifier, metrics *MetricsService, logger *zap.Logger, cfg DocumentServiceConfig) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = 15 * time.Minute
	}
	if cfg.WorklistTTL <= 0 {
		cfg.WorklistTTL = 2 * time.Minute
	}
	return &DocumentService{
		repo:      repo,
		apps:      apps,
		blobs:     blobs,
		cache:     cache,
		ledger:    ledger,
		notifier:  notifier,
		metrics:   metrics,
		validator: validator.New(),
		guard:     newUploadGuard(cfg.Upload),
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Upload stores a new document blob and row with both decisions absent.
func (s *DocumentService) Upload(ctx context.Context, applicationID string, req dto.UploadDocumentRequest, file *dto.FileUpload, actor *models.ActorClaims) (*models.DocumentView, error) {
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
		return nil, appErrors.Storage(err, "failed to store document")
	}
	if err := s.repo.Create(ctx, doc); err != nil {
		if delErr := s.blobs.Delete(ctx, doc.FilePath); delErr != nil {
			s.logger.Warn("failed to remove orphaned document blob", zap.String("path", doc.FilePath), zap.Error(delErr))
		}
		return nil, appErrors.Persistence(err, "failed to create document")
	}
	view := models.NewDocumentView(doc)
	return &view, nil
}

// Get returns a single document with its derived status.
func (s *DocumentService) Get(ctx context.Context, id string, actor *models.ActorClaims) (*models.DocumentView, error) {
	doc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "document")
	}
	if err := s.ensureVisible(ctx, doc.ApplicationID, actor); err != nil {
		return nil, err
	}
	view := models.NewDocumentView(doc)
	return &view, nil
}

// List returns the documents of one application.
func (s *DocumentService) List(ctx context.Context, applicationID string, actor *models.ActorClaims) ([]models.DocumentView, error) {
	if err := s.ensureVisible(ctx, applicationID, actor); err != nil {
		return nil, err
	}
	docs, err := s.repo.List(ctx, models.DocumentFilter{ApplicationID: applicationID})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list documents")
	}
	return toDocumentViews(docs), nil
}

// Decide records a reviewer decision on one document. Board decisions require a
// standing advisor approval.
func (s *DocumentService) Decide(ctx context.Context, id string, req dto.DecisionRequest, actor *models.ActorClaims) (*models.DocumentView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	decision, err := buildDecision(req, actor, s.now())
	if err != nil {
		return nil, err
	}
	doc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "document")
	}

	switch actor.Role {
	case models.RoleAdvisor:
		err = s.repo.SetAdvisorDecision(ctx, id, decision)
	case models.RoleBoard:
		err = s.repo.SetBoardDecision(ctx, id, decision)
	}
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Persistence(err, "failed to record document decision")
		}
		if actor.Role == models.RoleBoard {
			return nil, appErrors.Clone(appErrors.ErrConflict, "board decision requires advisor approval")
		}
		return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
	}
	s.invalidateWorklist(ctx, doc.ApplicationID)

	recordDecision(ctx, s.ledger, s.metrics, models.LedgerCategoryDocument, doc.ID, doc.ApplicationID, actor.Role, decision)
	publish(ctx, s.notifier, s.logger, decisionEvent(models.LedgerCategoryDocument, doc.ApplicationID, doc.ID, actor.Role, decision))

	updated, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "document")
	}
	view := models.NewDocumentView(updated)
	return &view, nil
}

// BoardWorklist lists documents the advisor approved that still await the board.
// An empty applicationID spans every application. The flag reports a cache hit.
func (s *DocumentService) BoardWorklist(ctx context.Context, applicationID string, actor *models.ActorClaims) ([]models.DocumentView, bool, error) {
	if actor == nil {
		return nil, false, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleBoard && actor.Role != models.RoleAdmin {
		return nil, false, appErrors.Clone(appErrors.ErrForbidden, "worklist is reserved for the board")
	}
	key := worklistKey(applicationID)
	var cached []models.DocumentView
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return cached, true, nil
	}
	docs, err := s.repo.List(ctx, models.DocumentFilter{ApplicationID: applicationID, AwaitingBoard: true})
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load board worklist")
	}
	views := toDocumentViews(docs)
	_ = s.cache.Set(ctx, key, views, s.cfg.WorklistTTL)
	return views, false, nil
}

// URL signs a short-lived read URL for the document blob.
func (s *DocumentService) URL(ctx context.Context, id string, actor *models.ActorClaims) (string, error) {
	doc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", lookupError(err, "document")
	}
	if err := s.ensureVisible(ctx, doc.ApplicationID, actor); err != nil {
		return "", err
	}
	url, err := s.blobs.SignedURL(ctx, doc.FilePath, s.cfg.SignedURLTTL)
	if err != nil {
		return "", appErrors.Storage(err, "failed to sign document url")
	}
	return url, nil
}

func (s *DocumentService) ensureVisible(ctx context.Context, applicationID string, actor *models.ActorClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if actor.Role.IsReviewer() || actor.Role == models.RoleAdmin {
		return nil
	}
	app, err := s.apps.GetByID(ctx, applicationID)
	if err != nil {
		return lookupError(err, "application")
	}
	return canView(actor, app.ClubID)
}

func (s *DocumentService) invalidateWorklist(ctx context.Context, applicationID string) {
	_ = s.cache.Delete(ctx, worklistKey(applicationID), worklistKey(""))
}

func worklistKey(applicationID string) string {
	if applicationID == "" {
		return worklistKeyPrefix + "all"
	}
	return worklistKeyPrefix + applicationID
}

func documentPath(clubID, applicationID, documentID, fileName string) string {
	return storage.ObjectPath(clubID, applicationID, storage.FolderDocuments, documentID+"-"+fileName)
}

func toDocumentViews(docs []models.Document) []models.DocumentView {
	views := make([]models.DocumentView, 0, len(docs))
	for i := range docs {
		views = append(views, models.NewDocumentView(&docs[i]))
	}
	return views
}

func displayName(requested, fileName string) string {
	if name := strings.TrimSpace(requested); name != "" {
		return name
	}
	return fileName
}

func trimmedOrNil(raw string) *string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

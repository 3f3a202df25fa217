package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/club-approval-api/internal/dto"
	"github.com/noah-isme/club-approval-api/internal/models"
	appErrors "github.com/noah-isme/club-approval-api/pkg/errors"
)

type applicationStore interface {
	Create(ctx context.Context, app *models.Application) error
	GetByID(ctx context.Context, id string) (*models.Application, error)
	Exists(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, error)
	ListSpeakers(ctx context.Context, applicationID string) ([]models.Speaker, error)
	ListSponsors(ctx context.Context, applicationID string) ([]models.Sponsor, error)
	SetAdvisorDecision(ctx context.Context, id string, decision *models.ApprovalDecision) error
	SetBoardDecision(ctx context.Context, id string, decision *models.ApprovalDecision) error
}

type documentLister interface {
	List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, error)
}

type blobURLSigner interface {
	SignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, error)
}

// ApplicationServiceConfig carries read URL settings.
type ApplicationServiceConfig struct {
	SignedURLTTL time.Duration
}

// ApplicationService owns submission and the application approval state machine.
type ApplicationService struct {
	repo      applicationStore
	documents documentLister
	blobs     blobURLSigner
	ledger    ledgerRecorder
	notifier  Notifier
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       ApplicationServiceConfig
	now       func() time.Time
}

// NewApplicationService constructs the service.
func NewApplicationService(repo applicationStore, documents documentLister, blobs blobURLSigner, ledger ledgerRecorder, notifier Notifier, metrics *MetricsService, logger *zap.Logger, cfg ApplicationServiceConfig) *ApplicationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = 15 * time.Minute
	}
	return &ApplicationService{
		repo:      repo,
		documents: documents,
		blobs:     blobs,
		ledger:    ledger,
		notifier:  notifier,
		metrics:   metrics,
		validator: validator.New(),
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Submit creates an application for the caller's club with both decisions absent.
func (s *ApplicationService) Submit(ctx context.Context, req dto.SubmitApplicationRequest, actor *models.ActorClaims) (*models.ApplicationView, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleClub || strings.TrimSpace(actor.ClubID) == "" {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only club accounts can submit applications")
	}
	if err := s.validateFacts(req.ApplicationFacts); err != nil {
		return nil, err
	}

	app := factsToApplication(req.ApplicationFacts)
	app.ClubID = actor.ClubID
	app.SubmittedBy = actor.UserID
	if err := s.repo.Create(ctx, app); err != nil {
		return nil, appErrors.Persistence(err, "failed to create application")
	}

	publish(ctx, s.notifier, s.logger, models.NotificationEvent{
		Kind:          models.NotificationSubmitted,
		Category:      models.LedgerCategoryApplication,
		ApplicationID: app.ID,
		EntityID:      app.ID,
		ActorID:       actor.UserID,
		Role:          actor.Role,
		OccurredAt:    app.CreatedAt,
	})
	s.logger.Info("application submitted", zap.String("application_id", app.ID), zap.String("club_id", app.ClubID))

	view := models.NewApplicationView(app)
	return &view, nil
}

// Get loads the full read model of an application.
func (s *ApplicationService) Get(ctx context.Context, id string, actor *models.ActorClaims) (*dto.ApplicationDetail, error) {
	app, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canView(actor, app.ClubID); err != nil {
		return nil, err
	}
	docs, err := s.documents.List(ctx, models.DocumentFilter{ApplicationID: id})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load documents")
	}
	app.Documents = docs

	detail := &dto.ApplicationDetail{
		ApplicationView: models.NewApplicationView(app),
		Documents:       make([]models.DocumentView, 0, len(docs)),
	}
	for i := range docs {
		detail.Documents = append(detail.Documents, models.NewDocumentView(&docs[i]))
	}
	if app.ImagePath != nil && s.blobs != nil {
		url, err := s.blobs.SignedURL(ctx, *app.ImagePath, s.cfg.SignedURLTTL)
		if err != nil {
			s.logger.Warn("failed to sign image url", zap.String("application_id", id), zap.Error(err))
		} else {
			detail.ImageURL = url
		}
	}
	return detail, nil
}

// List returns applications visible to the actor. Club accounts only see their own club.
func (s *ApplicationService) List(ctx context.Context, query dto.ApplicationQuery, actor *models.ActorClaims) ([]models.ApplicationView, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	page := query.Page
	if page <= 0 {
		page = 1
	}
	size := query.Size
	if size <= 0 || size > 200 {
		size = 20
	}
	filter := models.ApplicationFilter{ClubID: query.ClubID, Limit: size, Offset: (page - 1) * size}
	if actor.Role == models.RoleClub {
		filter.ClubID = actor.ClubID
	}
	apps, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list applications")
	}
	views := make([]models.ApplicationView, 0, len(apps))
	for i := range apps {
		views = append(views, models.NewApplicationView(&apps[i]))
	}
	return views, &models.Pagination{Page: page, PageSize: size, TotalCount: len(views)}, nil
}

// Decide records the actor's decision for their review stage. The board stage only
// opens once the advisor has approved; a closed gate is a conflict, not a silent no-op.
func (s *ApplicationService) Decide(ctx context.Context, id string, req dto.DecisionRequest, actor *models.ActorClaims) (*models.ApplicationView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	decision, err := buildDecision(req, actor, s.now())
	if err != nil {
		return nil, err
	}

	switch actor.Role {
	case models.RoleAdvisor:
		err = s.repo.SetAdvisorDecision(ctx, id, decision)
	case models.RoleBoard:
		err = s.repo.SetBoardDecision(ctx, id, decision)
	}
	if err != nil {
		return nil, s.decisionFailure(ctx, id, actor.Role, err)
	}

	recordDecision(ctx, s.ledger, s.metrics, models.LedgerCategoryApplication, id, id, actor.Role, decision)
	publish(ctx, s.notifier, s.logger, decisionEvent(models.LedgerCategoryApplication, id, id, actor.Role, decision))

	app, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	view := models.NewApplicationView(app)
	s.logger.Info("application decision recorded",
		zap.String("application_id", id),
		zap.String("role", string(actor.Role)),
		zap.String("decision", string(decision.Status)),
		zap.String("status", string(view.Status)))
	return &view, nil
}

func (s *ApplicationService) decisionFailure(ctx context.Context, id string, role models.ActorRole, err error) error {
	if !errors.Is(err, sql.ErrNoRows) {
		return appErrors.Persistence(err, "failed to record application decision")
	}
	if role != models.RoleBoard {
		return appErrors.Clone(appErrors.ErrNotFound, "application not found")
	}
	exists, existsErr := s.repo.Exists(ctx, id)
	if existsErr != nil {
		return appErrors.Wrap(existsErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	if !exists {
		return appErrors.Clone(appErrors.ErrNotFound, "application not found")
	}
	return appErrors.Clone(appErrors.ErrConflict, "board decision requires advisor approval")
}

func (s *ApplicationService) load(ctx context.Context, id string) (*models.Application, error) {
	app, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "application")
	}
	if app.Speakers, err = s.repo.ListSpeakers(ctx, id); err != nil {
		return nil, lookupError(err, "speakers")
	}
	if app.Sponsors, err = s.repo.ListSponsors(ctx, id); err != nil {
		return nil, lookupError(err, "sponsors")
	}
	return app, nil
}

func (s *ApplicationService) validateFacts(facts dto.ApplicationFacts) error {
	if err := s.validator.Struct(facts); err != nil {
		return validationError(err)
	}
	return validateTimeSlots(facts.TimeSlots)
}

func validateTimeSlots(slots []models.TimeSlot) error {
	if len(slots) == 0 {
		return appErrors.Clone(appErrors.ErrValidation, "at least one time slot is required")
	}
	for i, slot := range slots {
		if slot.StartsAt.IsZero() || slot.EndsAt.IsZero() {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("time slot %d is incomplete", i+1))
		}
		if !slot.StartsAt.Before(slot.EndsAt) {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("time slot %d must start before it ends", i+1))
		}
	}
	return nil
}

func factsToApplication(facts dto.ApplicationFacts) *models.Application {
	app := &models.Application{
		Title:       strings.TrimSpace(facts.Title),
		EventType:   strings.TrimSpace(facts.EventType),
		Venue:       strings.TrimSpace(facts.Venue),
		Description: strings.TrimSpace(facts.Description),
		TimeSlots:   make(models.TimeSlots, 0, len(facts.TimeSlots)),
		Speakers:    make([]models.Speaker, 0, len(facts.Speakers)),
		Sponsors:    make([]models.Sponsor, 0, len(facts.Sponsors)),
	}
	for _, slot := range facts.TimeSlots {
		app.TimeSlots = append(app.TimeSlots, models.TimeSlot{StartsAt: slot.StartsAt.UTC(), EndsAt: slot.EndsAt.UTC()})
	}
	for _, sp := range facts.Speakers {
		app.Speakers = append(app.Speakers, models.Speaker{
			FullName:    strings.TrimSpace(sp.FullName),
			Affiliation: strings.TrimSpace(sp.Affiliation),
			Topic:       strings.TrimSpace(sp.Topic),
		})
	}
	for _, sp := range facts.Sponsors {
		app.Sponsors = append(app.Sponsors, models.Sponsor{
			Name:         strings.TrimSpace(sp.Name),
			Contribution: strings.TrimSpace(sp.Contribution),
		})
	}
	return app
}

// canView lets reviewers and admins read everything and clubs read their own applications.
func canView(actor *models.ActorClaims, clubID string) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if actor.Role.IsReviewer() {
		return nil
	}
	return requireClubAccess(actor, clubID)
}

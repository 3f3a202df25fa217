package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
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

type revisionStore interface {
	Create(ctx context.Context, rev *models.RevisionRequest) error
	GetByID(ctx context.Context, id string) (*models.RevisionRequest, error)
	List(ctx context.Context, filter models.RevisionFilter) ([]models.RevisionRequest, error)
	ListDeltas(ctx context.Context, revisionID string) ([]models.RevisionDelta, error)
	StageImage(ctx context.Context, id string, oldPath *string, pendingPath, fileName string) error
	AppendDeltas(ctx context.Context, revisionID string, deltas []models.RevisionDelta) error
	SetDecision(ctx context.Context, id string, role models.ActorRole, decision *models.ApprovalDecision) error
	MarkRejected(ctx context.Context, id string) error
	MarkImageFinalized(ctx context.Context, id, finalPath string) error
	RecordCommitFailure(ctx context.Context, id, step, message string) error
	ApplyRevision(ctx context.Context, rev *models.RevisionRequest, deltas []models.RevisionDelta) error
}

type blobCleanupQueue interface {
	EnqueueBlobCleanup(revisionID string, paths []string) error
}

// RevisionService stages facet changes and applies them once both reviewers approve.
type RevisionService struct {
	repo      revisionStore
	apps      applicationReader
	blobs     storage.BlobStore
	cleanup   blobCleanupQueue
	ledger    ledgerRecorder
	notifier  Notifier
	metrics   *MetricsService
	validator *validator.Validate
	guard     uploadGuard
	logger    *zap.Logger
	now       func() time.Time
}

// NewRevisionService constructs the service.
func NewRevisionService(repo revisionStore, apps applicationReader, blobs storage.BlobStore, cleanup blobCleanupQueue, ledger ledgerRecorder, notifier Notifier, metrics *MetricsService, policy UploadPolicy, logger *zap.Logger) *RevisionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RevisionService{
		repo:      repo,
		apps:      apps,
		blobs:     blobs,
		cleanup:   cleanup,
		ledger:    ledger,
		notifier:  notifier,
		metrics:   metrics,
		validator: validator.New(),
		guard:     newUploadGuard(policy),
		logger:    logger,
		now:       time.Now,
	}
}

// Create opens a pending revision over the selected facets.
func (s *RevisionService) Create(ctx context.Context, applicationID string, req dto.CreateRevisionRequest, actor *models.ActorClaims) (*models.RevisionRequest, error) {
	if len(req.Facets) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one facet must be selected")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	app, err := s.apps.GetByID(ctx, applicationID)
	if err != nil {
		return nil, lookupError(err, "application")
	}
	if err := requireClubAccess(actor, app.ClubID); err != nil {
		return nil, err
	}

	seen := make(map[models.RevisionFacet]struct{}, len(req.Facets))
	facets := make([]string, 0, len(req.Facets))
	for _, facet := range req.Facets {
		if !facet.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown facet %q", facet))
		}
		if _, dup := seen[facet]; dup {
			continue
		}
		seen[facet] = struct{}{}
		facets = append(facets, string(facet))
	}

	rev := &models.RevisionRequest{
		ApplicationID:  app.ID,
		ClubID:         app.ClubID,
		SelectedFacets: facets,
		Description:    strings.TrimSpace(req.Description),
		Status:         models.RevisionStatusPending,
		RequestedBy:    actor.UserID,
	}
	if err := s.repo.Create(ctx, rev); err != nil {
		return nil, appErrors.Persistence(err, "failed to create revision")
	}
	s.logger.Info("revision created", zap.String("revision_id", rev.ID), zap.String("application_id", app.ID), zap.Strings("facets", facets))
	return rev, nil
}

// Get returns the revision with its staged deltas.
func (s *RevisionService) Get(ctx context.Context, id string, actor *models.ActorClaims) (*models.RevisionRequest, error) {
	rev, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canView(actor, rev.ClubID); err != nil {
		return nil, err
	}
	return rev, nil
}

// List returns the revisions of an application, newest first.
func (s *RevisionService) List(ctx context.Context, applicationID string, actor *models.ActorClaims) ([]models.RevisionRequest, error) {
	app, err := s.apps.GetByID(ctx, applicationID)
	if err != nil {
		return nil, lookupError(err, "application")
	}
	if err := canView(actor, app.ClubID); err != nil {
		return nil, err
	}
	revisions, err := s.repo.List(ctx, models.RevisionFilter{ApplicationID: applicationID})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list revisions")
	}
	return revisions, nil
}

// StageImage uploads the replacement image under the pending prefix. The live image is untouched.
func (s *RevisionService) StageImage(ctx context.Context, revisionID, applicationID string, file *dto.FileUpload, actor *models.ActorClaims) (*models.RevisionRequest, error) {
	rev, err := s.stageable(ctx, revisionID, applicationID, models.FacetImage, actor)
	if err != nil {
		return nil, err
	}
	if _, err := s.guard.check(file, true); err != nil {
		return nil, err
	}
	app, err := s.apps.GetByID(ctx, applicationID)
	if err != nil {
		return nil, lookupError(err, "application")
	}

	pending := storage.PendingPath(rev.ClubID, rev.ApplicationID, storage.FolderImage, rev.ID, file.FileName)
	if err := s.blobs.Upload(ctx, pending, file.Reader, file.Size, file.ContentType); err != nil {
		return nil, appErrors.Storage(err, "failed to stage image")
	}
	if err := s.repo.StageImage(ctx, rev.ID, app.ImagePath, pending, file.FileName); err != nil {
		s.discardBlobs(ctx, rev.ID, []string{pending})
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "revision is no longer pending")
		}
		return nil, appErrors.Persistence(err, "failed to stage image")
	}
	if rev.ImagePendingPath != nil && *rev.ImagePendingPath != pending {
		s.discardBlobs(ctx, rev.ID, []string{*rev.ImagePendingPath})
	}
	return s.load(ctx, rev.ID)
}

// StageSpeakerDeltas appends ordered speaker operations.
func (s *RevisionService) StageSpeakerDeltas(ctx context.Context, revisionID, applicationID string, req dto.StageDeltasRequest, actor *models.ActorClaims) (*models.RevisionRequest, error) {
	return s.stageDeltas(ctx, revisionID, applicationID, models.FacetSpeakers, req, actor)
}

// StageSponsorDeltas appends ordered sponsor operations.
func (s *RevisionService) StageSponsorDeltas(ctx context.Context, revisionID, applicationID string, req dto.StageDeltasRequest, actor *models.ActorClaims) (*models.RevisionRequest, error) {
	return s.stageDeltas(ctx, revisionID, applicationID, models.FacetSponsors, req, actor)
}

func (s *RevisionService) stageDeltas(ctx context.Context, revisionID, applicationID string, facet models.RevisionFacet, req dto.StageDeltasRequest, actor *models.ActorClaims) (*models.RevisionRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	rev, err := s.stageable(ctx, revisionID, applicationID, facet, actor)
	if err != nil {
		return nil, err
	}
	deltas := make([]models.RevisionDelta, 0, len(req.Ops))
	refs := make(map[string]string)
	for i, op := range req.Ops {
		delta, err := buildDelta(facet, op, refs)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("op %d: %s", i+1, err.Error()))
		}
		deltas = append(deltas, delta)
	}
	if err := s.repo.AppendDeltas(ctx, rev.ID, deltas); err != nil {
		return nil, appErrors.Persistence(err, "failed to stage deltas")
	}
	return s.load(ctx, rev.ID)
}

// buildDelta converts one op. refs maps the batch's add refs to the row ids
// assigned to them.
func buildDelta(facet models.RevisionFacet, op dto.DeltaInput, refs map[string]string) (models.RevisionDelta, error) {
	delta := models.RevisionDelta{Facet: facet, Op: op.Op}
	switch op.Op {
	case models.DeltaOpAdd:
		name := strings.TrimSpace(op.Name)
		if name == "" {
			return delta, errors.New("add requires a name")
		}
		delta.TargetID = uuid.NewString()
		if ref := strings.TrimSpace(op.Ref); ref != "" {
			if _, dup := refs[ref]; dup {
				return delta, fmt.Errorf("ref %q is used twice", ref)
			}
			refs[ref] = delta.TargetID
		}
		fields := &models.DeltaFields{Name: name}
		if facet == models.FacetSpeakers {
			fields.Affiliation = strings.TrimSpace(op.Affiliation)
			fields.Topic = strings.TrimSpace(op.Topic)
		} else {
			fields.Contribution = strings.TrimSpace(op.Contribution)
		}
		delta.Fields = fields
	case models.DeltaOpRemove:
		target := strings.TrimSpace(op.TargetID)
		if ref := strings.TrimSpace(op.TargetRef); ref != "" {
			if target != "" {
				return delta, errors.New("remove takes either targetId or targetRef")
			}
			id, ok := refs[ref]
			if !ok {
				return delta, fmt.Errorf("targetRef %q does not name an earlier add in this batch", ref)
			}
			target = id
		}
		if target == "" {
			return delta, errors.New("remove requires a targetId or targetRef")
		}
		delta.TargetID = target
	default:
		return delta, fmt.Errorf("unknown op %q", op.Op)
	}
	return delta, nil
}

// Decide records the actor's decision and re-evaluates the pair. A rejection discards
// the staged changes; dual approval commits them. Decisions on a closed revision
// return it unchanged.
func (s *RevisionService) Decide(ctx context.Context, revisionID string, req dto.DecisionRequest, actor *models.ActorClaims) (*models.RevisionRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	decision, err := buildDecision(req, actor, s.now())
	if err != nil {
		return nil, err
	}
	rev, err := s.load(ctx, revisionID)
	if err != nil {
		return nil, err
	}
	if rev.Status.Terminal() {
		return rev, nil
	}

	if err := s.repo.SetDecision(ctx, rev.ID, actor.Role, decision); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Persistence(err, "failed to record revision decision")
		}
		return s.load(ctx, rev.ID)
	}
	recordDecision(ctx, s.ledger, s.metrics, models.LedgerCategoryRevision, rev.ID, rev.ApplicationID, actor.Role, decision)
	publish(ctx, s.notifier, s.logger, decisionEvent(models.LedgerCategoryRevision, rev.ApplicationID, rev.ID, actor.Role, decision))

	if rev, err = s.load(ctx, rev.ID); err != nil {
		return nil, err
	}
	switch {
	case rev.AnyRejected():
		return s.reject(ctx, rev)
	case rev.DualApproved():
		if err := s.commit(ctx, rev); err != nil {
			current, loadErr := s.load(ctx, rev.ID)
			if loadErr != nil {
				current = rev
			}
			return current, err
		}
		return s.load(ctx, rev.ID)
	default:
		return rev, nil
	}
}

// Commit retries the commit of a dual-approved revision whose previous attempt failed.
func (s *RevisionService) Commit(ctx context.Context, revisionID string, actor *models.ActorClaims) (*models.RevisionRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin && !actor.Role.IsReviewer() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only reviewers and admins can retry commits")
	}
	rev, err := s.load(ctx, revisionID)
	if err != nil {
		return nil, err
	}
	switch {
	case rev.Status == models.RevisionStatusApplied:
		return rev, nil
	case rev.Status == models.RevisionStatusRejected:
		return nil, appErrors.Clone(appErrors.ErrConflict, "revision was rejected")
	case !rev.DualApproved():
		return nil, appErrors.Clone(appErrors.ErrConflict, "revision is not approved by both advisor and board")
	}
	if err := s.commit(ctx, rev); err != nil {
		current, loadErr := s.load(ctx, rev.ID)
		if loadErr != nil {
			current = rev
		}
		return current, err
	}
	return s.load(ctx, rev.ID)
}

// reject closes the revision and discards every blob it staged, including an image
// promoted by a commit attempt that failed afterwards.
func (s *RevisionService) reject(ctx context.Context, rev *models.RevisionRequest) (*models.RevisionRequest, error) {
	if err := s.repo.MarkRejected(ctx, rev.ID); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Persistence(err, "failed to reject revision")
		}
		current, loadErr := s.load(ctx, rev.ID)
		if loadErr != nil {
			return nil, loadErr
		}
		if current.Status != models.RevisionStatusRejected {
			s.logger.Warn("rejection lost to a concurrent close",
				zap.String("revision_id", rev.ID),
				zap.String("status", string(current.Status)))
			return current, nil
		}
	}

	var stale []string
	if rev.ImagePendingPath != nil {
		stale = append(stale, *rev.ImagePendingPath)
	}
	if rev.ImageFinalPath != nil {
		app, err := s.apps.GetByID(ctx, rev.ApplicationID)
		switch {
		case err != nil:
			s.logger.Warn("cannot check live image, keeping promoted blob",
				zap.String("revision_id", rev.ID), zap.String("path", *rev.ImageFinalPath), zap.Error(err))
		case app.ImagePath == nil || *app.ImagePath != *rev.ImageFinalPath:
			stale = append(stale, *rev.ImageFinalPath)
		}
	}
	s.discardBlobs(ctx, rev.ID, stale)
	s.logger.Info("revision rejected", zap.String("revision_id", rev.ID), zap.String("application_id", rev.ApplicationID))
	return s.load(ctx, rev.ID)
}

// commit promotes the staged image, applies row changes together with the APPLIED
// status in one transaction, then removes the pending and replaced blobs.
func (s *RevisionService) commit(ctx context.Context, rev *models.RevisionRequest) error {
	app, err := s.apps.GetByID(ctx, rev.ApplicationID)
	if err != nil {
		return s.commitFailed(ctx, rev, appErrors.CommitStepLoad, "application", true, appErrors.Persistence(err, "failed to load application"))
	}
	previous := app.ImagePath

	if err := s.finalizeImage(ctx, rev); err != nil {
		return s.commitFailed(ctx, rev, appErrors.CommitStepImagePromote, "image", true, err)
	}

	if err := s.repo.ApplyRevision(ctx, rev, rev.Deltas); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s.lostCommit(ctx, rev)
		}
		return s.commitFailed(ctx, rev, appErrors.CommitStepApplyRows, "rows", true, appErrors.Persistence(err, "failed to apply revision"))
	}
	s.metrics.RecordCommit(true, "")

	var stale []string
	if rev.ImagePendingPath != nil {
		stale = append(stale, *rev.ImagePendingPath)
	}
	if rev.ImageFinalPath != nil && previous != nil && *previous != *rev.ImageFinalPath {
		stale = append(stale, *previous)
	}
	s.discardBlobs(ctx, rev.ID, stale)

	publish(ctx, s.notifier, s.logger, models.NotificationEvent{
		Kind:          models.NotificationApplied,
		Category:      models.LedgerCategoryRevision,
		ApplicationID: rev.ApplicationID,
		EntityID:      rev.ID,
		OccurredAt:    s.now().UTC(),
	})
	s.logger.Info("revision applied",
		zap.String("revision_id", rev.ID),
		zap.String("application_id", rev.ApplicationID),
		zap.Int("deltas", len(rev.Deltas)))
	return nil
}

// finalizeImage copies the pending image to its final path once. A recorded final
// path, or a final blob that already exists, makes the copy a no-op.
func (s *RevisionService) finalizeImage(ctx context.Context, rev *models.RevisionRequest) error {
	if rev.ImagePendingPath == nil {
		return nil
	}
	fileName := ""
	if rev.ImageFileName != nil {
		fileName = *rev.ImageFileName
	}
	final := storage.ObjectPath(rev.ClubID, rev.ApplicationID, storage.FolderImage, rev.ID+"-"+fileName)
	if rev.ImageFinalPath != nil && *rev.ImageFinalPath == final {
		return nil
	}
	exists, err := s.blobs.Exists(ctx, final)
	if err != nil {
		return appErrors.Storage(err, "failed to stat final image")
	}
	if !exists {
		if err := s.blobs.Copy(ctx, *rev.ImagePendingPath, final); err != nil {
			return appErrors.Storage(err, "failed to promote staged image")
		}
	}
	if err := s.repo.MarkImageFinalized(ctx, rev.ID, final); err != nil {
		return appErrors.Persistence(err, "failed to record final image path")
	}
	rev.ImageFinalPath = &final
	return nil
}

// lostCommit handles an apply that matched no pending, dual-approved row. Another
// caller applying it first is success; a decision that changed in between is a conflict.
func (s *RevisionService) lostCommit(ctx context.Context, rev *models.RevisionRequest) error {
	current, err := s.repo.GetByID(ctx, rev.ID)
	if err != nil {
		return lookupError(err, "revision")
	}
	if current.Status == models.RevisionStatusApplied {
		return nil
	}
	s.logger.Warn("revision changed during commit",
		zap.String("revision_id", rev.ID),
		zap.String("status", string(current.Status)))
	return appErrors.Clone(appErrors.ErrConflict, "revision is no longer approved by both advisor and board")
}

func (s *RevisionService) commitFailed(ctx context.Context, rev *models.RevisionRequest, step appErrors.CommitStep, entity string, retryable bool, cause error) error {
	commitErr := &appErrors.CommitError{RevisionID: rev.ID, Step: step, Entity: entity, Retryable: retryable, Err: cause}
	s.metrics.RecordCommit(false, string(step))
	if err := s.repo.RecordCommitFailure(ctx, rev.ID, string(step), cause.Error()); err != nil {
		s.logger.Error("failed to record commit failure", zap.String("revision_id", rev.ID), zap.Error(err))
	}
	s.logger.Error("revision commit failed",
		zap.String("revision_id", rev.ID),
		zap.String("step", string(step)),
		zap.String("entity", entity),
		zap.Error(cause))

	base := appErrors.FromError(cause)
	return appErrors.Wrap(commitErr, base.Code, base.Status, fmt.Sprintf("revision commit failed at %s", step))
}

// discardBlobs deletes blobs that no row references any more, handing failures to
// the cleanup queue.
func (s *RevisionService) discardBlobs(ctx context.Context, revisionID string, paths []string) {
	if len(paths) == 0 {
		return
	}
	err := s.blobs.Delete(ctx, paths...)
	if err == nil {
		return
	}
	s.logger.Warn("blob delete failed, queueing cleanup", zap.String("revision_id", revisionID), zap.Strings("paths", paths), zap.Error(err))
	if s.cleanup == nil {
		return
	}
	if err := s.cleanup.EnqueueBlobCleanup(revisionID, paths); err != nil {
		s.logger.Error("failed to queue blob cleanup", zap.String("revision_id", revisionID), zap.Strings("paths", paths), zap.Error(err))
	}
}

func (s *RevisionService) stageable(ctx context.Context, revisionID, applicationID string, facet models.RevisionFacet, actor *models.ActorClaims) (*models.RevisionRequest, error) {
	rev, err := s.repo.GetByID(ctx, revisionID)
	if err != nil {
		return nil, lookupError(err, "revision")
	}
	if rev.ApplicationID != applicationID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "revision not found")
	}
	if err := requireClubAccess(actor, rev.ClubID); err != nil {
		return nil, err
	}
	if rev.Status != models.RevisionStatusPending {
		return nil, appErrors.Clone(appErrors.ErrConflict, "revision is closed")
	}
	if rev.AdvisorApproval != nil || rev.BoardApproval != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "revision is already under review")
	}
	if !rev.HasFacet(facet) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("facet %s was not selected for this revision", facet))
	}
	return rev, nil
}

func (s *RevisionService) load(ctx context.Context, id string) (*models.RevisionRequest, error) {
	rev, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "revision")
	}
	deltas, err := s.repo.ListDeltas(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load revision deltas")
	}
	rev.Deltas = deltas
	return rev, nil
}

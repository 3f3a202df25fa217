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

// Notifier receives logical events after submissions and decisions.
type Notifier interface {
	Publish(ctx context.Context, event models.NotificationEvent) error
}

type ledgerRecorder interface {
	Record(ctx context.Context, category models.LedgerCategory, entityID, applicationID string, role models.ActorRole, decision *models.ApprovalDecision)
}

// buildDecision turns a request into the decision for the actor's review stage.
func buildDecision(req dto.DecisionRequest, actor *models.ActorClaims, now time.Time) (*models.ApprovalDecision, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.Role.IsReviewer() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only advisors and board members can decide")
	}
	switch req.Decision {
	case models.DecisionApproved:
		return models.Approve(actor.UserID, now), nil
	case models.DecisionRejected:
		reason := strings.TrimSpace(req.Reason)
		if reason == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "reason is required when rejecting")
		}
		return models.Reject(actor.UserID, reason, now), nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "decision must be APPROVED or REJECTED")
	}
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, strings.Join(fields, "; "))
	}
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, appErrors.ErrValidation.Message)
}

func lookupError(err error, entity string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, entity+" not found")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load "+entity)
}

func requireClubAccess(actor *models.ActorClaims, clubID string) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleClub:
		if actor.ClubID == clubID {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrForbidden, "application belongs to another club")
}

func publish(ctx context.Context, notifier Notifier, logger *zap.Logger, event models.NotificationEvent) {
	if notifier == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := notifier.Publish(ctx, event); err != nil {
		logger.Warn("notification publish failed",
			zap.String("kind", string(event.Kind)),
			zap.String("application_id", event.ApplicationID),
			zap.Error(err))
	}
}

func decisionEvent(category models.LedgerCategory, applicationID, entityID string, role models.ActorRole, decision *models.ApprovalDecision) models.NotificationEvent {
	return models.NotificationEvent{
		Kind:          models.NotificationDecision,
		Category:      category,
		ApplicationID: applicationID,
		EntityID:      entityID,
		ActorID:       decision.ApproverID,
		Role:          role,
		Decision:      decision.Status,
		Reason:        decision.Reason,
		OccurredAt:    decision.DecidedAt,
	}
}

func recordDecision(ctx context.Context, ledger ledgerRecorder, metrics *MetricsService, category models.LedgerCategory, entityID, applicationID string, role models.ActorRole, decision *models.ApprovalDecision) {
	if ledger != nil {
		ledger.Record(ctx, category, entityID, applicationID, role, decision)
	}
	metrics.RecordDecision(category, role, decision.Status)
}

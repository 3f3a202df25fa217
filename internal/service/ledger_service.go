package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/club-approval-api/internal/models"
	"github.com/noah-isme/club-approval-api/internal/repository"
	appErrors "github.com/noah-isme/club-approval-api/pkg/errors"
	"github.com/noah-isme/club-approval-api/pkg/export"
)

var ledgerExportHeaders = []string{"decided_at", "category", "entity_id", "role", "status", "approver_id", "reason"}

// LedgerExport is a rendered ledger ready to be served as a download.
type LedgerExport struct {
	FileName    string
	ContentType string
	Content     []byte
}

type ledgerStore interface {
	Append(ctx context.Context, entry *models.LedgerEntry) error
	List(ctx context.Context, filter repository.LedgerFilter) ([]models.LedgerEntry, error)
}

// LedgerService mirrors every decision into the append-only approval ledger.
// Write failures are logged and counted but never returned to the caller.
type LedgerService struct {
	repo    ledgerStore
	metrics *MetricsService
	logger  *zap.Logger
}

// NewLedgerService constructs the service.
func NewLedgerService(repo ledgerStore, metrics *MetricsService, logger *zap.Logger) *LedgerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerService{repo: repo, metrics: metrics, logger: logger}
}

// Record appends one decision.
func (s *LedgerService) Record(ctx context.Context, category models.LedgerCategory, entityID, applicationID string, role models.ActorRole, decision *models.ApprovalDecision) {
	if s == nil || s.repo == nil || decision == nil {
		return
	}
	entry := models.NewLedgerEntry(category, entityID, applicationID, role, decision)
	if err := s.repo.Append(ctx, entry); err != nil {
		s.metrics.RecordLedgerFailure(category)
		s.logger.Warn("failed to append ledger entry",
			zap.String("category", string(category)),
			zap.String("entity_id", entityID),
			zap.String("role", string(role)),
			zap.Error(err))
	}
}

// ListForApplication returns every decision made on an application, its documents and revisions.
func (s *LedgerService) ListForApplication(ctx context.Context, applicationID string) ([]models.LedgerEntry, error) {
	entries, err := s.repo.List(ctx, repository.LedgerFilter{ApplicationID: applicationID})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load ledger")
	}
	return entries, nil
}

// Export renders an application's ledger as CSV or PDF.
func (s *LedgerService) Export(ctx context.Context, applicationID, format string) (*LedgerExport, error) {
	f := export.Format(strings.ToLower(strings.TrimSpace(format)))
	if f == "" {
		f = export.FormatCSV
	}
	if f != export.FormatCSV && f != export.FormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	entries, err := s.ListForApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	data := export.Dataset{
		Title:   fmt.Sprintf("Approval ledger %s", applicationID),
		Headers: ledgerExportHeaders,
		Rows:    make([]map[string]string, 0, len(entries)),
	}
	for _, e := range entries {
		row := map[string]string{
			"decided_at":  e.DecidedAt.UTC().Format(time.RFC3339),
			"category":    string(e.Category),
			"entity_id":   e.EntityID,
			"role":        string(e.Role),
			"status":      string(e.Status),
			"approver_id": e.ApproverID,
		}
		if e.Reason != nil {
			row["reason"] = *e.Reason
		}
		data.Rows = append(data.Rows, row)
	}
	content, err := export.Render(f, data)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render ledger")
	}
	return &LedgerExport{
		FileName:    fmt.Sprintf("ledger-%s.%s", applicationID, f),
		ContentType: f.ContentType(),
		Content:     content,
	}, nil
}

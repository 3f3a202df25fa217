package service

import (
	"context"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/club-approval-api/internal/repository"
	appErrors "github.com/noah-isme/club-approval-api/pkg/errors"
	"github.com/noah-isme/club-approval-api/pkg/storage"
)

type applicationPurger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) ([]repository.PurgedApplication, error)
}

// PurgeReport summarises an administrative purge.
type PurgeReport struct {
	Applications   int      `json:"applications"`
	BlobFailures   []string `json:"blobFailures,omitempty"`
	BlobsSupported bool     `json:"blobsSupported"`
}

// PurgeService removes old applications together with their blobs.
type PurgeService struct {
	repo   applicationPurger
	blobs  storage.BlobStore
	cache  *CacheService
	logger *zap.Logger
}

// NewPurgeService constructs the service.
func NewPurgeService(repo applicationPurger, blobs storage.BlobStore, cache *CacheService, logger *zap.Logger) *PurgeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PurgeService{repo: repo, blobs: blobs, cache: cache, logger: logger}
}

// Purge deletes applications created before cutoff. Child rows cascade in the
// database; blob folders are removed best-effort and failures are reported.
func (s *PurgeService) Purge(ctx context.Context, cutoff time.Time) (*PurgeReport, error) {
	if cutoff.IsZero() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "cutoff is required")
	}
	purged, err := s.repo.PurgeBefore(ctx, cutoff.UTC())
	if err != nil {
		return nil, appErrors.Persistence(err, "failed to purge applications")
	}

	report := &PurgeReport{Applications: len(purged)}
	deleter, ok := s.blobs.(storage.PrefixDeleter)
	report.BlobsSupported = ok
	for _, app := range purged {
		if !ok {
			break
		}
		prefix := storage.ApplicationPrefix(app.ClubID, app.ID)
		for _, p := range []string{prefix, path.Join(storage.PendingPrefix, prefix)} {
			if err := deleter.DeletePrefix(ctx, p); err != nil {
				report.BlobFailures = append(report.BlobFailures, p)
				s.logger.Warn("failed to remove application blobs", zap.String("application_id", app.ID), zap.String("prefix", p), zap.Error(err))
			}
		}
	}
	if len(purged) > 0 {
		_ = s.cache.Invalidate(ctx, worklistKeyPrefix+"*")
	}

	s.logger.Info("applications purged",
		zap.Time("cutoff", cutoff.UTC()),
		zap.Int("applications", report.Applications),
		zap.Int("blob_failures", len(report.BlobFailures)))
	return report, nil
}

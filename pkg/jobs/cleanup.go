package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JobTypeBlobCleanup deletes orphaned blobs left behind by revisions.
const JobTypeBlobCleanup = "blob.cleanup"

// BlobCleanupPayload lists blob paths to remove.
type BlobCleanupPayload struct {
	RevisionID string
	Paths      []string
}

// BlobDeleter is the subset of a blob store the cleanup job needs.
type BlobDeleter interface {
	Delete(ctx context.Context, paths ...string) error
}

// CleanupQueue retries blob deletions in the background.
type CleanupQueue struct {
	queue *Queue
}

// NewCleanupQueue wires a queue whose handler deletes blobs through store.
func NewCleanupQueue(store BlobDeleter, cfg QueueConfig) *CleanupQueue {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	logger := cfg.Logger
	handler := func(ctx context.Context, job Job) error {
		payload, ok := job.Payload.(BlobCleanupPayload)
		if !ok {
			return fmt.Errorf("unexpected payload %T", job.Payload)
		}
		if err := store.Delete(ctx, payload.Paths...); err != nil {
			return err
		}
		logger.Debug("orphaned blobs removed", zap.String("revision_id", payload.RevisionID), zap.Strings("paths", payload.Paths))
		return nil
	}
	return &CleanupQueue{queue: NewQueue("blob-cleanup", handler, cfg)}
}

// Start begins consuming cleanup jobs.
func (c *CleanupQueue) Start(ctx context.Context) { c.queue.Start(ctx) }

// Stop waits for workers to exit.
func (c *CleanupQueue) Stop() { c.queue.Stop() }

// EnqueueBlobCleanup schedules deletion of paths for a revision.
func (c *CleanupQueue) EnqueueBlobCleanup(revisionID string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	return c.queue.Enqueue(Job{
		ID:      uuid.NewString(),
		Type:    JobTypeBlobCleanup,
		Payload: BlobCleanupPayload{RevisionID: revisionID, Paths: paths},
	})
}

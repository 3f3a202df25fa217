package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/noah-isme/club-approval-api/pkg/config"
)

// ErrObjectNotFound is returned when a blob path does not exist.
var ErrObjectNotFound = errors.New("object not found")

// PendingPrefix stages revision uploads before promotion.
const PendingPrefix = "pending"

// BlobStore is the blob surface the approval core consumes.
type BlobStore interface {
	Upload(ctx context.Context, objectPath string, r io.Reader, size int64, contentType string) error
	Copy(ctx context.Context, srcPath, dstPath string) error
	// Delete removes every path; missing paths are not an error.
	Delete(ctx context.Context, paths ...string) error
	Exists(ctx context.Context, objectPath string) (bool, error)
	SignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, error)
}

// PrefixDeleter is implemented by stores able to drop a whole folder.
type PrefixDeleter interface {
	DeletePrefix(ctx context.Context, prefix string) error
}

// Facet folders under an application prefix.
const (
	FolderImage     = "image"
	FolderDocuments = "documents"
)

// ObjectPath builds {clubId}/{applicationId}/{facet}/{filename}.
func ObjectPath(clubID, applicationID, facet, filename string) string {
	return path.Join(sanitizeSegment(clubID), sanitizeSegment(applicationID), facet, sanitizeFilename(filename))
}

// PendingPath builds pending/{clubId}/{applicationId}/{facet}/{revisionId}/{filename}.
func PendingPath(clubID, applicationID, facet, revisionID, filename string) string {
	return path.Join(PendingPrefix, sanitizeSegment(clubID), sanitizeSegment(applicationID), facet, sanitizeSegment(revisionID), sanitizeFilename(filename))
}

// ApplicationPrefix is the folder holding every blob of an application.
func ApplicationPrefix(clubID, applicationID string) string {
	return path.Join(sanitizeSegment(clubID), sanitizeSegment(applicationID))
}

func sanitizeSegment(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.ReplaceAll(raw, "/", "_")
	raw = strings.ReplaceAll(raw, "..", "_")
	if raw == "" {
		return "_"
	}
	return raw
}

func sanitizeFilename(raw string) string {
	base := path.Base(strings.ReplaceAll(raw, "\\", "/"))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	name := strings.TrimLeft(b.String(), ".")
	if name == "" {
		return fmt.Sprintf("file_%d", time.Now().UnixNano())
	}
	return name
}

// New builds the BlobStore selected by cfg.Driver.
func New(ctx context.Context, cfg config.StorageConfig, localURL string) (BlobStore, error) {
	switch cfg.Driver {
	case config.StorageDriverS3:
		store, err := NewS3Storage(cfg.S3)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case config.StorageDriverLocal, "":
		signer := NewSignedURLSigner(cfg.SignedURLSecret, cfg.SignedURLTTL)
		return NewLocalStorage(cfg.LocalDir, signer, localURL)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

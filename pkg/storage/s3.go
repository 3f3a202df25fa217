package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/noah-isme/club-approval-api/pkg/config"
)

// S3Storage keeps blobs in a single MinIO/S3 bucket.
type S3Storage struct {
	client *minio.Client
	bucket string
	region string
}

// NewS3Storage creates a MinIO client from the storage config.
func NewS3Storage(cfg config.S3Config) (*S3Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &S3Storage{client: client, bucket: cfg.Bucket, region: cfg.Region}, nil
}

// EnsureBucket creates the bucket on first use.
func (s *S3Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("make bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Upload streams the object into the bucket.
func (s *S3Storage) Upload(ctx context.Context, objectPath string, r io.Reader, size int64, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, s.bucket, objectPath, r, size, opts); err != nil {
		return fmt.Errorf("upload object %s: %w", objectPath, err)
	}
	return nil
}

// Copy performs a server-side copy inside the bucket.
func (s *S3Storage) Copy(ctx context.Context, srcPath, dstPath string) error {
	src := minio.CopySrcOptions{Bucket: s.bucket, Object: srcPath}
	dst := minio.CopyDestOptions{Bucket: s.bucket, Object: dstPath}
	if _, err := s.client.CopyObject(ctx, dst, src); err != nil {
		return fmt.Errorf("copy object %s -> %s: %w", srcPath, dstPath, err)
	}
	return nil
}

// Delete removes objects; S3 treats missing keys as success.
func (s *S3Storage) Delete(ctx context.Context, paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := s.client.RemoveObject(ctx, s.bucket, p, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove object %s: %w", p, err)
		}
	}
	return nil
}

// DeletePrefix removes every object under prefix.
func (s *S3Storage) DeletePrefix(ctx context.Context, prefix string) error {
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix + "/", Recursive: true})
	for obj := range objects {
		if obj.Err != nil {
			return fmt.Errorf("list prefix %s: %w", prefix, obj.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove object %s: %w", obj.Key, err)
		}
	}
	return nil
}

// Exists stats the object.
func (s *S3Storage) Exists(ctx context.Context, objectPath string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, objectPath, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, fmt.Errorf("stat object %s: %w", objectPath, err)
}

// SignedURL returns a presigned GET URL.
func (s *S3Storage) SignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectPath, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign object %s: %w", objectPath, err)
	}
	return u.String(), nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStorage persists blobs on disk under a base directory.
type LocalStorage struct {
	baseDir string
	signer  *SignedURLSigner
	baseURL string
}

// NewLocalStorage ensures the base directory exists and returns a handle.
// Signed URLs point at baseURL (for example "/api/v1/files") with a token query.
func NewLocalStorage(baseDir string, signer *SignedURLSigner, baseURL string) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = "./uploads"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &LocalStorage{baseDir: baseDir, signer: signer, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Upload copies from reader into the target path.
func (s *LocalStorage) Upload(ctx context.Context, objectPath string, r io.Reader, size int64, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.resolve(objectPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("prepare blob directory: %w", err)
	}
	file, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create blob: %w", err)
	}
	defer file.Close() //nolint:errcheck
	if _, err := io.Copy(file, r); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	return nil
}

// Copy duplicates srcPath to dstPath, overwriting any existing destination.
func (s *LocalStorage) Copy(ctx context.Context, srcPath, dstPath string) error {
	src, err := s.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close() //nolint:errcheck
	return s.Upload(ctx, dstPath, src, -1, "")
}

// Delete removes stored blobs if present.
func (s *LocalStorage) Delete(ctx context.Context, paths ...string) error {
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if strings.TrimSpace(p) == "" {
			continue
		}
		target, err := s.resolve(p)
		if err != nil {
			return err
		}
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete blob %s: %w", p, err)
		}
	}
	return nil
}

// DeletePrefix removes a whole folder such as an application prefix.
func (s *LocalStorage) DeletePrefix(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.resolve(prefix)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("delete prefix %s: %w", prefix, err)
	}
	return nil
}

// Exists reports whether a blob is present.
func (s *LocalStorage) Exists(ctx context.Context, objectPath string) (bool, error) {
	target, err := s.resolve(objectPath)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(target)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat blob: %w", err)
}

// Open returns a read-only handle for the stored blob.
func (s *LocalStorage) Open(objectPath string) (*os.File, error) {
	target, err := s.resolve(objectPath)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", objectPath, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return file, nil
}

// SignedURL returns a download URL carrying an HMAC token for the path.
func (s *LocalStorage) SignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, error) {
	if s.signer == nil {
		return "", errors.New("signed url signer not configured")
	}
	token, _, err := s.signer.Generate("blob", objectPath, ttl)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s?token=%s", s.baseURL, url.QueryEscape(token)), nil
}

// ResolveToken validates a token minted by SignedURL and opens the blob.
func (s *LocalStorage) ResolveToken(token string) (*os.File, string, error) {
	if s.signer == nil {
		return nil, "", errors.New("signed url signer not configured")
	}
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", err
	}
	file, err := s.Open(relPath)
	if err != nil {
		return nil, "", err
	}
	return file, relPath, nil
}

func (s *LocalStorage) resolve(objectPath string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(objectPath, "/")))
	if cleaned == "." || strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("invalid blob path %q", objectPath)
	}
	return filepath.Join(s.baseDir, cleaned), nil
}

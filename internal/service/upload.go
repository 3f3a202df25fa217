package service

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/noah-isme/club-approval-api/internal/dto"
	appErrors "github.com/noah-isme/club-approval-api/pkg/errors"
)

// UploadPolicy bounds accepted files.
type UploadPolicy struct {
	MaxFileSize  int64
	AllowedMIMEs []string
}

type uploadGuard struct {
	maxSize int64
	mimes   map[string]struct{}
}

func newUploadGuard(policy UploadPolicy) uploadGuard {
	if policy.MaxFileSize <= 0 {
		policy.MaxFileSize = 10 * 1024 * 1024
	}
	if len(policy.AllowedMIMEs) == 0 {
		policy.AllowedMIMEs = []string{
			"application/pdf",
			"image/png",
			"image/jpeg",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		}
	}
	set := make(map[string]struct{}, len(policy.AllowedMIMEs))
	for _, mt := range policy.AllowedMIMEs {
		set[strings.ToLower(strings.TrimSpace(mt))] = struct{}{}
	}
	return uploadGuard{maxSize: policy.MaxFileSize, mimes: set}
}

// check validates the upload and returns the effective MIME type. The sniffed
// header is stitched back onto upload.Reader.
func (g uploadGuard) check(upload *dto.FileUpload, imagesOnly bool) (string, error) {
	if upload == nil || upload.Reader == nil {
		return "", appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	if strings.TrimSpace(upload.FileName) == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, "file name is required")
	}
	if upload.Size <= 0 {
		return "", appErrors.Clone(appErrors.ErrValidation, "empty file")
	}
	if upload.Size > g.maxSize {
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes limit", g.maxSize))
	}
	mimeType := strings.ToLower(strings.TrimSpace(strings.SplitN(upload.ContentType, ";", 2)[0]))
	if mimeType == "" || mimeType == "application/octet-stream" {
		header := make([]byte, 512)
		n, err := io.ReadFull(upload.Reader, header)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to inspect file")
		}
		if n == 0 {
			return "", appErrors.Clone(appErrors.ErrValidation, "empty file")
		}
		mimeType = strings.SplitN(http.DetectContentType(header[:n]), ";", 2)[0]
		upload.Reader = io.MultiReader(bytes.NewReader(header[:n]), upload.Reader)
	}
	if imagesOnly && !strings.HasPrefix(mimeType, "image/") {
		return "", appErrors.Clone(appErrors.ErrValidation, "event image must be an image")
	}
	if _, ok := g.mimes[mimeType]; !ok {
		return "", appErrors.Clone(appErrors.ErrValidation, "mime type not allowed")
	}
	upload.ContentType = mimeType
	return mimeType, nil
}

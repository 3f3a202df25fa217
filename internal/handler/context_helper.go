package handler

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/club-approval-api/internal/dto"
	"github.com/noah-isme/club-approval-api/internal/middleware"
	"github.com/noah-isme/club-approval-api/internal/models"
	appErrors "github.com/noah-isme/club-approval-api/pkg/errors"
	"github.com/noah-isme/club-approval-api/pkg/response"
)

func actorFromContext(c *gin.Context) *models.ActorClaims {
	return middleware.Actor(c)
}

// requireActor writes 401 and returns nil when no actor was resolved.
func requireActor(c *gin.Context) *models.ActorClaims {
	actor := actorFromContext(c)
	if actor == nil {
		response.Error(c, appErrors.ErrUnauthorized)
	}
	return actor
}

func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "multipart/form-data")
}

// formUpload reads a multipart file field into memory. A missing optional field
// yields a nil upload.
func formUpload(c *gin.Context, field string, required bool) (*dto.FileUpload, error) {
	header, err := c.FormFile(field)
	if err != nil {
		if !required && (err == http.ErrMissingFile || err == http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, appErrors.Clone(appErrors.ErrValidation, field+" file is required")
	}
	return openUpload(header)
}

func openUpload(header *multipart.FileHeader) (*dto.FileUpload, error) {
	src, err := header.Open()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file")
	}
	defer src.Close()

	buf, err := io.ReadAll(src)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to buffer file")
	}
	return &dto.FileUpload{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        int64(len(buf)),
		Reader:      bytes.NewReader(buf),
	}, nil
}

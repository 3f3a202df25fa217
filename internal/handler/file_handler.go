package handler

import (
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/club-approval-api/pkg/errors"
	"github.com/noah-isme/club-approval-api/pkg/response"
)

type tokenResolver interface {
	ResolveToken(token string) (*os.File, string, error)
}

// FileHandler serves blobs behind signed URLs minted by the local store.
type FileHandler struct {
	resolver tokenResolver
}

// NewFileHandler constructs the handler.
func NewFileHandler(resolver tokenResolver) *FileHandler {
	return &FileHandler{resolver: resolver}
}

// Download godoc
// @Summary Download a blob through a signed token
// @Tags Files
// @Produce octet-stream
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Failure 401 {object} response.Envelope
// @Router /files [get]
func (h *FileHandler) Download(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	file, relPath, err := h.resolver.ResolveToken(token)
	if err != nil {
		if os.IsNotExist(err) {
			response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "file not found"))
			return
		}
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired token"))
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat file"))
		return
	}
	c.Header("Cache-Control", "private, max-age=60")
	c.Header("Content-Disposition", "inline; filename=\""+path.Base(relPath)+"\"")
	http.ServeContent(c.Writer, c.Request, path.Base(relPath), info.ModTime(), file)
}

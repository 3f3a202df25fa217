package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/club-approval-api/internal/dto"
	"github.com/noah-isme/club-approval-api/internal/models"
	"github.com/noah-isme/club-approval-api/internal/service"
	appErrors "github.com/noah-isme/club-approval-api/pkg/errors"
	"github.com/noah-isme/club-approval-api/pkg/response"
)

type reopenService interface {
	Reopen(ctx context.Context, applicationID string, req dto.ReopenRequest, actor *models.ActorClaims) (*models.ApplicationView, error)
	Edit(ctx context.Context, applicationID string, req dto.EditApplicationRequest, image *dto.FileUpload, actor *models.ActorClaims) (*dto.EditResult, error)
	ReplaceDocument(ctx context.Context, applicationID string, req dto.UploadDocumentRequest, file *dto.FileUpload, actor *models.ActorClaims) (*service.ReplaceResult, error)
	History(ctx context.Context, applicationID string, actor *models.ActorClaims) ([]models.ApplicationHistory, error)
}

// ReopenHandler exposes in-place re-open, edit and document replacement.
type ReopenHandler struct {
	service reopenService
}

// NewReopenHandler constructs the handler.
func NewReopenHandler(service reopenService) *ReopenHandler {
	return &ReopenHandler{service: service}
}

// Reopen godoc
// @Summary Re-open an application for edits
// @Tags Re-open
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.ReopenRequest true "Scope"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/reopen [post]
func (h *ReopenHandler) Reopen(c *gin.Context) {
	var req dto.ReopenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid re-open payload"))
		return
	}
	actor := requireActor(c)
	if actor == nil {
		return
	}
	view, err := h.service.Reopen(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// Edit godoc
// @Summary Replace the facts of a re-opened application
// @Description Accepts JSON, or multipart with a "payload" JSON field and an optional "image" file.
// @Tags Re-open
// @Accept json,mpfd
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.EditApplicationRequest true "Application facts"
// @Success 200 {object} response.Envelope
// @Router /applications/{id} [put]
func (h *ReopenHandler) Edit(c *gin.Context) {
	var (
		req   dto.EditApplicationRequest
		image *dto.FileUpload
	)
	if isMultipart(c) {
		if err := json.Unmarshal([]byte(c.PostForm("payload")), &req); err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid application payload"))
			return
		}
		var err error
		if image, err = formUpload(c, "image", false); err != nil {
			response.Error(c, err)
			return
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid application payload"))
		return
	}
	actor := requireActor(c)
	if actor == nil {
		return
	}
	result, err := h.service.Edit(c.Request.Context(), c.Param("id"), req, image, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ReplaceDocument godoc
// @Summary Replace every document of one type
// @Tags Re-open
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Application ID"
// @Param type path string true "Document type"
// @Param scope formData string false "primary or additional"
// @Param file formData file true "Replacement document"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/documents/{type} [put]
func (h *ReopenHandler) ReplaceDocument(c *gin.Context) {
	var req dto.UploadDocumentRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid document payload"))
		return
	}
	req.Type = models.DocumentType(strings.ToUpper(c.Param("type")))
	file, err := formUpload(c, "file", true)
	if err != nil {
		response.Error(c, err)
		return
	}
	actor := requireActor(c)
	if actor == nil {
		return
	}
	result, err := h.service.ReplaceDocument(c.Request.Context(), c.Param("id"), req, file, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// History godoc
// @Summary List re-open snapshots
// @Tags Re-open
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/history [get]
func (h *ReopenHandler) History(c *gin.Context) {
	actor := requireActor(c)
	if actor == nil {
		return
	}
	entries, err := h.service.History(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

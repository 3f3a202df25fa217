package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/club-approval-api/internal/dto"
	"github.com/noah-isme/club-approval-api/internal/middleware"
	"github.com/noah-isme/club-approval-api/internal/models"
	appErrors "github.com/noah-isme/club-approval-api/pkg/errors"
	"github.com/noah-isme/club-approval-api/pkg/response"
)

type documentService interface {
	Upload(ctx context.Context, applicationID string, req dto.UploadDocumentRequest, file *dto.FileUpload, actor *models.ActorClaims) (*models.DocumentView, error)
	Get(ctx context.Context, id string, actor *models.ActorClaims) (*models.DocumentView, error)
	List(ctx context.Context, applicationID string, actor *models.ActorClaims) ([]models.DocumentView, error)
	Decide(ctx context.Context, id string, req dto.DecisionRequest, actor *models.ActorClaims) (*models.DocumentView, error)
	BoardWorklist(ctx context.Context, applicationID string, actor *models.ActorClaims) ([]models.DocumentView, bool, error)
	URL(ctx context.Context, id string, actor *models.ActorClaims) (string, error)
}

// DocumentHandler exposes document upload and the per-document approval tracker.
type DocumentHandler struct {
	service documentService
}

// NewDocumentHandler constructs the handler.
func NewDocumentHandler(service documentService) *DocumentHandler {
	return &DocumentHandler{service: service}
}

// Upload godoc
// @Summary Attach a document to an application
// @Tags Documents
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Application ID"
// @Param type formData string true "Document type"
// @Param scope formData string false "primary or additional"
// @Param displayName formData string false "Display name"
// @Param note formData string false "Note"
// @Param file formData file true "Document"
// @Success 201 {object} response.Envelope
// @Router /applications/{id}/documents [post]
func (h *DocumentHandler) Upload(c *gin.Context) {
	var req dto.UploadDocumentRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid document payload"))
		return
	}
	req.Type = models.DocumentType(strings.ToUpper(strings.TrimSpace(string(req.Type))))
	file, err := formUpload(c, "file", true)
	if err != nil {
		response.Error(c, err)
		return
	}
	actor := requireActor(c)
	if actor == nil {
		return
	}
	view, err := h.service.Upload(c.Request.Context(), c.Param("id"), req, file, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, view)
}

// List godoc
// @Summary List an application's documents with derived status
// @Tags Documents
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/documents [get]
func (h *DocumentHandler) List(c *gin.Context) {
	actor := requireActor(c)
	if actor == nil {
		return
	}
	views, err := h.service.List(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, views, nil)
}

// Get godoc
// @Summary Get one document
// @Tags Documents
// @Produce json
// @Param documentId path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Router /documents/{documentId} [get]
func (h *DocumentHandler) Get(c *gin.Context) {
	actor := requireActor(c)
	if actor == nil {
		return
	}
	view, err := h.service.Get(c.Request.Context(), c.Param("documentId"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// Decide godoc
// @Summary Record the caller's decision on a document
// @Tags Documents
// @Accept json
// @Produce json
// @Param documentId path string true "Document ID"
// @Param payload body dto.DecisionRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /documents/{documentId}/decision [post]
func (h *DocumentHandler) Decide(c *gin.Context) {
	var req dto.DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid decision payload"))
		return
	}
	actor := requireActor(c)
	if actor == nil {
		return
	}
	view, err := h.service.Decide(c.Request.Context(), c.Param("documentId"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// Worklist godoc
// @Summary Documents the advisor approved that await the board
// @Tags Documents
// @Produce json
// @Param applicationId query string false "Restrict to one application"
// @Success 200 {object} response.Envelope
// @Router /documents/worklist [get]
func (h *DocumentHandler) Worklist(c *gin.Context) {
	actor := requireActor(c)
	if actor == nil {
		return
	}
	views, cached, err := h.service.BoardWorklist(c.Request.Context(), strings.TrimSpace(c.Query("applicationId")), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cached)
	response.JSON(c, http.StatusOK, views, nil, middleware.ExtractMeta(c))
}

// URL godoc
// @Summary Short-lived download URL for a document
// @Tags Documents
// @Produce json
// @Param documentId path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Router /documents/{documentId}/url [get]
func (h *DocumentHandler) URL(c *gin.Context) {
	actor := requireActor(c)
	if actor == nil {
		return
	}
	url, err := h.service.URL(c.Request.Context(), c.Param("documentId"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.SignedURLResponse{URL: url}, nil)
}

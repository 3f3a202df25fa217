package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/club-approval-api/internal/dto"
	"github.com/noah-isme/club-approval-api/internal/models"
	"github.com/noah-isme/club-approval-api/internal/service"
	appErrors "github.com/noah-isme/club-approval-api/pkg/errors"
	"github.com/noah-isme/club-approval-api/pkg/response"
)

type applicationService interface {
	Submit(ctx context.Context, req dto.SubmitApplicationRequest, actor *models.ActorClaims) (*models.ApplicationView, error)
	Get(ctx context.Context, id string, actor *models.ActorClaims) (*dto.ApplicationDetail, error)
	List(ctx context.Context, query dto.ApplicationQuery, actor *models.ActorClaims) ([]models.ApplicationView, *models.Pagination, error)
	Decide(ctx context.Context, id string, req dto.DecisionRequest, actor *models.ActorClaims) (*models.ApplicationView, error)
}

type ledgerReader interface {
	ListForApplication(ctx context.Context, applicationID string) ([]models.LedgerEntry, error)
	Export(ctx context.Context, applicationID, format string) (*service.LedgerExport, error)
}

// ApplicationHandler exposes submission and the application approval state machine.
type ApplicationHandler struct {
	service applicationService
	ledger  ledgerReader
}

// NewApplicationHandler constructs the handler.
func NewApplicationHandler(service applicationService, ledger ledgerReader) *ApplicationHandler {
	return &ApplicationHandler{service: service, ledger: ledger}
}

// Submit godoc
// @Summary Submit an event application
// @Tags Applications
// @Accept json
// @Produce json
// @Param payload body dto.SubmitApplicationRequest true "Application facts"
// @Success 201 {object} response.Envelope
// @Router /applications [post]
func (h *ApplicationHandler) Submit(c *gin.Context) {
	var req dto.SubmitApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid application payload"))
		return
	}
	actor := requireActor(c)
	if actor == nil {
		return
	}
	view, err := h.service.Submit(c.Request.Context(), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, view)
}

// List godoc
// @Summary List applications
// @Tags Applications
// @Produce json
// @Param clubId query string false "Club filter (reviewers only)"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /applications [get]
func (h *ApplicationHandler) List(c *gin.Context) {
	var query dto.ApplicationQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid query"))
		return
	}
	actor := requireActor(c)
	if actor == nil {
		return
	}
	views, page, err := h.service.List(c.Request.Context(), query, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, views, page)
}

// Get godoc
// @Summary Get an application with its documents
// @Tags Applications
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /applications/{id} [get]
func (h *ApplicationHandler) Get(c *gin.Context) {
	actor := requireActor(c)
	if actor == nil {
		return
	}
	detail, err := h.service.Get(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Decide godoc
// @Summary Record the caller's advisor or board decision
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.DecisionRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /applications/{id}/decision [post]
func (h *ApplicationHandler) Decide(c *gin.Context) {
	var req dto.DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid decision payload"))
		return
	}
	actor := requireActor(c)
	if actor == nil {
		return
	}
	view, err := h.service.Decide(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// Ledger godoc
// @Summary List every decision recorded for an application
// @Tags Applications
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/ledger [get]
func (h *ApplicationHandler) Ledger(c *gin.Context) {
	if h.ledger == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "ledger not configured"))
		return
	}
	entries, err := h.ledger.ListForApplication(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// ExportLedger godoc
// @Summary Download an application's ledger as CSV or PDF
// @Tags Applications
// @Produce text/csv,application/pdf
// @Param id path string true "Application ID"
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} binary
// @Router /applications/{id}/ledger/export [get]
func (h *ApplicationHandler) ExportLedger(c *gin.Context) {
	if h.ledger == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "ledger not configured"))
		return
	}
	file, err := h.ledger.Export(c.Request.Context(), c.Param("id"), c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.FileName, file.ContentType, file.Content)
}

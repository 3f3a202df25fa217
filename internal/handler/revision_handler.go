package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/club-approval-api/internal/dto"
	"github.com/noah-isme/club-approval-api/internal/models"
	appErrors "github.com/noah-isme/club-approval-api/pkg/errors"
	"github.com/noah-isme/club-approval-api/pkg/response"
)

type revisionService interface {
	Create(ctx context.Context, applicationID string, req dto.CreateRevisionRequest, actor *models.ActorClaims) (*models.RevisionRequest, error)
	Get(ctx context.Context, id string, actor *models.ActorClaims) (*models.RevisionRequest, error)
	List(ctx context.Context, applicationID string, actor *models.ActorClaims) ([]models.RevisionRequest, error)
	StageImage(ctx context.Context, revisionID, applicationID string, file *dto.FileUpload, actor *models.ActorClaims) (*models.RevisionRequest, error)
	StageSpeakerDeltas(ctx context.Context, revisionID, applicationID string, req dto.StageDeltasRequest, actor *models.ActorClaims) (*models.RevisionRequest, error)
	StageSponsorDeltas(ctx context.Context, revisionID, applicationID string, req dto.StageDeltasRequest, actor *models.ActorClaims) (*models.RevisionRequest, error)
	Decide(ctx context.Context, revisionID string, req dto.DecisionRequest, actor *models.ActorClaims) (*models.RevisionRequest, error)
	Commit(ctx context.Context, revisionID string, actor *models.ActorClaims) (*models.RevisionRequest, error)
}

// RevisionHandler exposes the revision engine.
type RevisionHandler struct {
	service revisionService
}

// NewRevisionHandler constructs the handler.
func NewRevisionHandler(service revisionService) *RevisionHandler {
	return &RevisionHandler{service: service}
}

// Create godoc
// @Summary Open a revision over selected facets
// @Tags Revisions
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.CreateRevisionRequest true "Facets"
// @Success 201 {object} response.Envelope
// @Router /applications/{id}/revisions [post]
func (h *RevisionHandler) Create(c *gin.Context) {
	var req dto.CreateRevisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid revision payload"))
		return
	}
	actor := requireActor(c)
	if actor == nil {
		return
	}
	rev, err := h.service.Create(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rev)
}

// List godoc
// @Summary List an application's revisions
// @Tags Revisions
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/revisions [get]
func (h *RevisionHandler) List(c *gin.Context) {
	actor := requireActor(c)
	if actor == nil {
		return
	}
	revisions, err := h.service.List(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, revisions, nil)
}

// Get godoc
// @Summary Get a revision with staged deltas
// @Tags Revisions
// @Produce json
// @Param revisionId path string true "Revision ID"
// @Success 200 {object} response.Envelope
// @Router /revisions/{revisionId} [get]
func (h *RevisionHandler) Get(c *gin.Context) {
	actor := requireActor(c)
	if actor == nil {
		return
	}
	rev, err := h.service.Get(c.Request.Context(), c.Param("revisionId"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rev, nil)
}

// StageImage godoc
// @Summary Stage a replacement event image
// @Tags Revisions
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Application ID"
// @Param revisionId path string true "Revision ID"
// @Param image formData file true "Image"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/revisions/{revisionId}/image [put]
func (h *RevisionHandler) StageImage(c *gin.Context) {
	file, err := formUpload(c, "image", true)
	if err != nil {
		response.Error(c, err)
		return
	}
	actor := requireActor(c)
	if actor == nil {
		return
	}
	rev, err := h.service.StageImage(c.Request.Context(), c.Param("revisionId"), c.Param("id"), file, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rev, nil)
}

// StageSpeakers godoc
// @Summary Append speaker deltas
// @Tags Revisions
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param revisionId path string true "Revision ID"
// @Param payload body dto.StageDeltasRequest true "Ordered operations"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/revisions/{revisionId}/speakers [post]
func (h *RevisionHandler) StageSpeakers(c *gin.Context) {
	h.stageDeltas(c, models.FacetSpeakers)
}

// StageSponsors godoc
// @Summary Append sponsor deltas
// @Tags Revisions
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param revisionId path string true "Revision ID"
// @Param payload body dto.StageDeltasRequest true "Ordered operations"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/revisions/{revisionId}/sponsors [post]
func (h *RevisionHandler) StageSponsors(c *gin.Context) {
	h.stageDeltas(c, models.FacetSponsors)
}

func (h *RevisionHandler) stageDeltas(c *gin.Context, facet models.RevisionFacet) {
	var req dto.StageDeltasRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid delta payload"))
		return
	}
	actor := requireActor(c)
	if actor == nil {
		return
	}
	stage := h.service.StageSpeakerDeltas
	if facet == models.FacetSponsors {
		stage = h.service.StageSponsorDeltas
	}
	rev, err := stage(c.Request.Context(), c.Param("revisionId"), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rev, nil)
}

// Decide godoc
// @Summary Record the caller's decision on a revision
// @Description Dual approval commits the staged changes. A failed commit returns the
// @Description pending revision together with the error and the failed step.
// @Tags Revisions
// @Accept json
// @Produce json
// @Param revisionId path string true "Revision ID"
// @Param payload body dto.DecisionRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Router /revisions/{revisionId}/decision [post]
func (h *RevisionHandler) Decide(c *gin.Context) {
	var req dto.DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid decision payload"))
		return
	}
	actor := requireActor(c)
	if actor == nil {
		return
	}
	rev, err := h.service.Decide(c.Request.Context(), c.Param("revisionId"), req, actor)
	if err != nil {
		commitFailure(c, rev, err)
		return
	}
	response.JSON(c, http.StatusOK, rev, nil)
}

// Commit godoc
// @Summary Retry the commit of a dual-approved revision
// @Tags Revisions
// @Produce json
// @Param revisionId path string true "Revision ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /revisions/{revisionId}/commit [post]
func (h *RevisionHandler) Commit(c *gin.Context) {
	actor := requireActor(c)
	if actor == nil {
		return
	}
	rev, err := h.service.Commit(c.Request.Context(), c.Param("revisionId"), actor)
	if err != nil {
		commitFailure(c, rev, err)
		return
	}
	response.JSON(c, http.StatusOK, rev, nil)
}

// commitFailure reports commit errors with the revision state and failed step.
func commitFailure(c *gin.Context, rev *models.RevisionRequest, err error) {
	commitErr, ok := appErrors.AsCommitError(err)
	if !ok || rev == nil {
		response.Error(c, err)
		return
	}
	response.Partial(c, rev, err, map[string]interface{}{
		"commit_step": commitErr.Step,
		"retryable":   commitErr.Retryable,
	})
}

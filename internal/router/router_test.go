package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/club-approval-api/internal/dto"
	"github.com/noah-isme/club-approval-api/internal/handler"
	"github.com/noah-isme/club-approval-api/internal/models"
	"github.com/noah-isme/club-approval-api/internal/service"
	"github.com/noah-isme/club-approval-api/pkg/config"
)

type applicationStub struct{}

func (applicationStub) Submit(context.Context, dto.SubmitApplicationRequest, *models.ActorClaims) (*models.ApplicationView, error) {
	return &models.ApplicationView{}, nil
}

func (applicationStub) Get(context.Context, string, *models.ActorClaims) (*dto.ApplicationDetail, error) {
	return &dto.ApplicationDetail{}, nil
}

func (applicationStub) List(context.Context, dto.ApplicationQuery, *models.ActorClaims) ([]models.ApplicationView, *models.Pagination, error) {
	return nil, &models.Pagination{Page: 1, PageSize: 20}, nil
}

func (applicationStub) Decide(context.Context, string, dto.DecisionRequest, *models.ActorClaims) (*models.ApplicationView, error) {
	return &models.ApplicationView{}, nil
}

type documentStub struct{}

func (documentStub) Upload(context.Context, string, dto.UploadDocumentRequest, *dto.FileUpload, *models.ActorClaims) (*models.DocumentView, error) {
	return &models.DocumentView{}, nil
}

func (documentStub) Get(_ context.Context, id string, _ *models.ActorClaims) (*models.DocumentView, error) {
	return &models.DocumentView{Document: models.Document{ID: id}}, nil
}

func (documentStub) List(context.Context, string, *models.ActorClaims) ([]models.DocumentView, error) {
	return nil, nil
}

func (documentStub) Decide(context.Context, string, dto.DecisionRequest, *models.ActorClaims) (*models.DocumentView, error) {
	return &models.DocumentView{}, nil
}

func (documentStub) BoardWorklist(context.Context, string, *models.ActorClaims) ([]models.DocumentView, bool, error) {
	return []models.DocumentView{{Document: models.Document{ID: "doc-w"}}}, false, nil
}

func (documentStub) URL(context.Context, string, *models.ActorClaims) (string, error) {
	return "", nil
}

type reopenStub struct{}

func (reopenStub) Reopen(context.Context, string, dto.ReopenRequest, *models.ActorClaims) (*models.ApplicationView, error) {
	return &models.ApplicationView{}, nil
}

func (reopenStub) Edit(context.Context, string, dto.EditApplicationRequest, *dto.FileUpload, *models.ActorClaims) (*dto.EditResult, error) {
	return &dto.EditResult{}, nil
}

func (reopenStub) ReplaceDocument(context.Context, string, dto.UploadDocumentRequest, *dto.FileUpload, *models.ActorClaims) (*service.ReplaceResult, error) {
	return &service.ReplaceResult{}, nil
}

func (reopenStub) History(context.Context, string, *models.ActorClaims) ([]models.ApplicationHistory, error) {
	return nil, nil
}

type revisionStub struct{}

func (revisionStub) Create(context.Context, string, dto.CreateRevisionRequest, *models.ActorClaims) (*models.RevisionRequest, error) {
	return &models.RevisionRequest{}, nil
}

func (revisionStub) Get(context.Context, string, *models.ActorClaims) (*models.RevisionRequest, error) {
	return &models.RevisionRequest{}, nil
}

func (revisionStub) List(context.Context, string, *models.ActorClaims) ([]models.RevisionRequest, error) {
	return nil, nil
}

func (revisionStub) StageImage(context.Context, string, string, *dto.FileUpload, *models.ActorClaims) (*models.RevisionRequest, error) {
	return &models.RevisionRequest{}, nil
}

func (revisionStub) StageSpeakerDeltas(context.Context, string, string, dto.StageDeltasRequest, *models.ActorClaims) (*models.RevisionRequest, error) {
	return &models.RevisionRequest{}, nil
}

func (revisionStub) StageSponsorDeltas(context.Context, string, string, dto.StageDeltasRequest, *models.ActorClaims) (*models.RevisionRequest, error) {
	return &models.RevisionRequest{}, nil
}

func (revisionStub) Decide(context.Context, string, dto.DecisionRequest, *models.ActorClaims) (*models.RevisionRequest, error) {
	return &models.RevisionRequest{}, nil
}

func (revisionStub) Commit(context.Context, string, *models.ActorClaims) (*models.RevisionRequest, error) {
	return &models.RevisionRequest{}, nil
}

func buildTestRouter(t *testing.T) (http.Handler, *service.AuthService, *service.MetricsService) {
	t.Helper()
	auth := service.NewAuthService(zap.NewNop(), service.AuthConfig{AccessTokenSecret: "router-secret"})
	metrics := service.NewMetricsService()
	cfg := &config.Config{Env: "test", APIPrefix: "/api/v1"}
	h := Handlers{
		Application: handler.NewApplicationHandler(applicationStub{}, nil),
		Document:    handler.NewDocumentHandler(documentStub{}),
		Reopen:      handler.NewReopenHandler(reopenStub{}),
		Revision:    handler.NewRevisionHandler(revisionStub{}),
		Metrics:     handler.NewMetricsHandler(metrics),
	}
	return Setup(cfg, h, auth, metrics, zap.NewNop()), auth, metrics
}

func bearer(t *testing.T, auth *service.AuthService, role models.ActorRole, clubID string) string {
	t.Helper()
	token, _, err := auth.IssueToken("user-"+string(role), role, clubID)
	require.NoError(t, err)
	return "Bearer " + token
}

func serve(r http.Handler, method, target, authorization, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRouterHealthIsPublic(t *testing.T) {
	r, _, _ := buildTestRouter(t)
	rec := serve(r, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRouterRequiresToken(t *testing.T) {
	r, _, _ := buildTestRouter(t)
	rec := serve(r, http.MethodGet, "/api/v1/applications", "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouterRoleGates(t *testing.T) {
	r, auth, _ := buildTestRouter(t)
	club := bearer(t, auth, models.RoleClub, "club-1")
	board := bearer(t, auth, models.RoleBoard, "")
	admin := bearer(t, auth, models.RoleAdmin, "")

	rec := serve(r, http.MethodPost, "/api/v1/applications/app-1/decision", club, `{"decision":"APPROVED"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(r, http.MethodPost, "/api/v1/applications/app-1/decision", board, `{"decision":"APPROVED"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(r, http.MethodPost, "/api/v1/applications/app-1/revisions", board, `{"facets":["image"]}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(r, http.MethodPost, "/api/v1/revisions/rev-1/commit", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(r, http.MethodGet, "/api/v1/metrics/summary", board, "")
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRouterWorklistDoesNotShadowDocumentLookup(t *testing.T) {
	r, auth, _ := buildTestRouter(t)
	board := bearer(t, auth, models.RoleBoard, "")

	rec := serve(r, http.MethodGet, "/api/v1/documents/worklist", board, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "doc-w")
	require.Contains(t, rec.Body.String(), `"cache_hit":false`)

	rec = serve(r, http.MethodGet, "/api/v1/documents/doc-7", board, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "doc-7")
}

func TestRouterCountsRequests(t *testing.T) {
	r, _, metrics := buildTestRouter(t)
	serve(r, http.MethodGet, "/health", "", "")
	serve(r, http.MethodGet, "/ready", "", "")
	require.EqualValues(t, 2, metrics.Snapshot().RequestsTotal)
}

func TestRouterSkipsScrapeEndpoint(t *testing.T) {
	r, _, metrics := buildTestRouter(t)
	serve(r, http.MethodGet, "/metrics", "", "")
	serve(r, http.MethodGet, "/health", "", "")
	require.EqualValues(t, 1, metrics.Snapshot().RequestsTotal)
}

package router

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/club-approval-api/internal/handler"
	"github.com/noah-isme/club-approval-api/internal/middleware"
	"github.com/noah-isme/club-approval-api/internal/models"
	"github.com/noah-isme/club-approval-api/internal/service"
	"github.com/noah-isme/club-approval-api/pkg/config"
	"github.com/noah-isme/club-approval-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/club-approval-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/club-approval-api/pkg/middleware/requestid"
)

// FilesPath is where the local blob store's signed URLs resolve.
const FilesPath = "/files"

// Handlers groups every HTTP handler the router mounts.
type Handlers struct {
	Application *handler.ApplicationHandler
	Document    *handler.DocumentHandler
	Reopen      *handler.ReopenHandler
	Revision    *handler.RevisionHandler
	Metrics     *handler.MetricsHandler
	// Files is nil when blobs are served by S3 presigned URLs.
	Files *handler.FileHandler
}

// Setup builds the gin engine.
func Setup(cfg *config.Config, h Handlers, tokens middleware.TokenValidator, metrics *service.MetricsService, logr *zap.Logger) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.WithResponseMeta())
	r.Use(middleware.Metrics(metrics, "/metrics"))

	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	if h.Files != nil {
		api.GET(FilesPath, h.Files.Download)
	}

	club := middleware.RequireRoles(models.RoleClub)
	reviewers := middleware.Reviewers()
	staff := middleware.RequireRoles(models.RoleAdvisor, models.RoleBoard, models.RoleAdmin)

	authorized := api.Group("")
	authorized.Use(middleware.JWT(tokens))
	{
		applications := authorized.Group("/applications")
		{
			applications.POST("", club, h.Application.Submit)
			applications.GET("", h.Application.List)
			applications.GET("/:id", h.Application.Get)
			applications.POST("/:id/decision", reviewers, h.Application.Decide)
			applications.GET("/:id/ledger", staff, h.Application.Ledger)
			applications.GET("/:id/ledger/export", staff, h.Application.ExportLedger)

			applications.POST("/:id/reopen", club, h.Reopen.Reopen)
			applications.PUT("/:id", club, h.Reopen.Edit)
			applications.PUT("/:id/documents/:type", club, h.Reopen.ReplaceDocument)
			applications.GET("/:id/history", h.Reopen.History)

			applications.POST("/:id/documents", club, h.Document.Upload)
			applications.GET("/:id/documents", h.Document.List)

			applications.POST("/:id/revisions", club, h.Revision.Create)
			applications.GET("/:id/revisions", h.Revision.List)
			applications.PUT("/:id/revisions/:revisionId/image", club, h.Revision.StageImage)
			applications.POST("/:id/revisions/:revisionId/speakers", club, h.Revision.StageSpeakers)
			applications.POST("/:id/revisions/:revisionId/sponsors", club, h.Revision.StageSponsors)
		}

		documents := authorized.Group("/documents")
		{
			documents.GET("/worklist", middleware.RequireRoles(models.RoleBoard, models.RoleAdmin), h.Document.Worklist)
			documents.GET("/:documentId", h.Document.Get)
			documents.GET("/:documentId/url", h.Document.URL)
			documents.POST("/:documentId/decision", reviewers, h.Document.Decide)
		}

		revisions := authorized.Group("/revisions")
		{
			revisions.GET("/:revisionId", h.Revision.Get)
			revisions.POST("/:revisionId/decision", reviewers, h.Revision.Decide)
			revisions.POST("/:revisionId/commit", staff, h.Revision.Commit)
		}

		authorized.GET("/metrics/summary", middleware.RequireRoles(models.RoleAdmin), h.Metrics.Summary)
	}

	return r
}

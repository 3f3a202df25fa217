package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	_ "github.com/noah-isme/club-approval-api/api/swagger"
	"github.com/noah-isme/club-approval-api/internal/handler"
	"github.com/noah-isme/club-approval-api/internal/repository"
	"github.com/noah-isme/club-approval-api/internal/router"
	"github.com/noah-isme/club-approval-api/internal/service"
	"github.com/noah-isme/club-approval-api/pkg/cache"
	"github.com/noah-isme/club-approval-api/pkg/config"
	"github.com/noah-isme/club-approval-api/pkg/database"
	"github.com/noah-isme/club-approval-api/pkg/jobs"
	"github.com/noah-isme/club-approval-api/pkg/notify"
	"github.com/noah-isme/club-approval-api/pkg/storage"
)

func newServeCmd() *cobra.Command {
	var migrateFirst bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logr, err := bootstrap()
			if err != nil {
				return err
			}
			defer logr.Sync() //nolint:errcheck
			return serve(cmd.Context(), cfg, logr, migrateFirst)
		},
	}
	cmd.Flags().BoolVar(&migrateFirst, "migrate", false, "Apply schema migrations before serving")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logr *zap.Logger, migrateFirst bool) error {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	if migrateFirst {
		if err := database.Migrate(db.DB, logr); err != nil {
			return err
		}
	}

	metrics := service.NewMetricsService()

	checks := []handler.ReadinessCheck{{Name: "postgres", Ping: db.PingContext}}

	var cacheRepo service.CacheRepository
	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, worklist cache disabled", zap.Error(err))
	} else {
		defer redisClient.Close()
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
		checks = append(checks, handler.ReadinessCheck{Name: "redis", Ping: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Worklist.CacheTTL, logr, cfg.Worklist.CacheEnabled && cacheRepo != nil)

	filesURL := fmt.Sprintf("http://localhost:%d%s%s", cfg.Port, cfg.APIPrefix, router.FilesPath)
	blobs, err := storage.New(ctx, cfg.Storage, filesURL)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	cleanup := jobs.NewCleanupQueue(blobs, jobs.QueueConfig{
		Workers:    cfg.Cleanup.Workers,
		MaxRetries: cfg.Cleanup.Retries,
		RetryDelay: cfg.Cleanup.RetryDelay,
		Logger:     logr,
		OnExhausted: func(job jobs.Job, err error) {
			metrics.RecordCleanupDropped()
		},
	})
	cleanup.Start(ctx)
	defer cleanup.Stop()

	var notifier service.Notifier = notify.Nop{}
	if cfg.Notify.Enabled {
		client := asynq.NewClient(redisOpt(cfg.Redis))
		defer client.Close()
		notifier = notify.NewPublisher(client, notify.Config{Queue: cfg.Notify.Queue}, logr)
	}

	historyRepo := repository.NewHistoryRepository(db)
	appRepo := repository.NewApplicationRepository(db, historyRepo)
	docRepo := repository.NewDocumentRepository(db)
	revisionRepo := repository.NewRevisionRepository(db)
	ledger := service.NewLedgerService(repository.NewLedgerRepository(db), metrics, logr)

	policy := service.UploadPolicy{MaxFileSize: cfg.Uploads.MaxFileSizeBytes, AllowedMIMEs: cfg.Uploads.AllowedMIMEs}
	auth := service.NewAuthService(logr, service.AuthConfig{AccessTokenSecret: cfg.JWT.Secret})
	applications := service.NewApplicationService(appRepo, docRepo, blobs, ledger, notifier, metrics, logr,
		service.ApplicationServiceConfig{SignedURLTTL: cfg.Storage.SignedURLTTL})
	documents := service.NewDocumentService(docRepo, appRepo, blobs, cacheSvc, ledger, notifier, metrics, logr,
		service.DocumentServiceConfig{Upload: policy, SignedURLTTL: cfg.Storage.SignedURLTTL, WorklistTTL: cfg.Worklist.CacheTTL})
	reopen := service.NewReopenService(appRepo, historyRepo, docRepo, blobs, cacheSvc, policy, logr)
	revisions := service.NewRevisionService(revisionRepo, appRepo, blobs, cleanup, ledger, notifier, metrics, policy, logr)

	handlers := router.Handlers{
		Application: handler.NewApplicationHandler(applications, ledger),
		Document:    handler.NewDocumentHandler(documents),
		Reopen:      handler.NewReopenHandler(reopen),
		Revision:    handler.NewRevisionHandler(revisions),
		Metrics:     handler.NewMetricsHandler(metrics, checks...),
	}
	if local, ok := blobs.(*storage.LocalStorage); ok {
		handlers.Files = handler.NewFileHandler(local)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router.Setup(cfg, handlers, auth, metrics, logr),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "storage", cfg.Storage.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func redisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cache.Addr(cfg), Password: cfg.Password, DB: cfg.DB}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	_ "github.com/noah-isme/aits-api/api/swagger"
	"github.com/noah-isme/aits-api/internal/handler"
	"github.com/noah-isme/aits-api/internal/policy"
	"github.com/noah-isme/aits-api/internal/repository"
	"github.com/noah-isme/aits-api/internal/service"
	"github.com/noah-isme/aits-api/migrations"
	"github.com/noah-isme/aits-api/pkg/cache"
	"github.com/noah-isme/aits-api/pkg/config"
	"github.com/noah-isme/aits-api/pkg/database"
	"github.com/noah-isme/aits-api/pkg/logger"
	"github.com/noah-isme/aits-api/pkg/storage"
	"github.com/noah-isme/aits-api/pkg/validation"
)

// @title AITS API
// @version 1.0.0
// @description Academic issue tracking: students raise issues, lecturers and registrars resolve them.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		applied, err := database.Migrate(ctx, db, migrations.Files, logr)
		cancel()
		if err != nil {
			logr.Fatal("failed to apply migrations", zap.Error(err))
		}
		logr.Info("schema up to date", zap.Int("applied", applied))
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, caching disabled", zap.Error(err))
		redisClient = nil
	}

	store, err := storage.NewLocalStorage(cfg.Attachments.StorageDir)
	if err != nil {
		logr.Fatal("failed to prepare attachment storage", zap.Error(err))
	}

	metrics := service.NewMetricsService()
	validate := validation.New()
	engine := policy.New(policy.Scope(cfg.Policy.LecturerScope))

	userRepo := repository.NewUserRepository(db)
	departmentRepo := repository.NewDepartmentRepository(db)
	issueRepo := repository.NewIssueRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Notifications.CacheTTL, logr, cacheRepo.Enabled())
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	registrationSvc := service.NewRegistrationService(userRepo, validate, logr)
	notificationSvc := service.NewNotificationService(notificationRepo, cacheSvc, cfg.Notifications.CacheTTL, logr)
	issueSvc := service.NewIssueService(issueRepo, userRepo, notificationSvc, engine, store,
		storage.NewSignedURLSigner(cfg.Attachments.SignedURLSecret, cfg.Attachments.SignedURLTTL),
		metrics, validate, logr, service.IssueConfig{
			APIPrefix:          cfg.APIPrefix,
			MaxAttachmentBytes: cfg.Attachments.MaxFileSizeBytes,
			AllowedMIMEs:       cfg.Attachments.AllowedMIMEs,
		})
	exportSvc := service.NewExportService(issueRepo, engine, logr)
	directorySvc := service.NewDirectoryService(departmentRepo, userRepo, logr)

	checks := map[string]handler.Pinger{"database": db}
	if cacheRepo.Enabled() {
		checks["redis"] = handler.PingerFunc(cacheRepo.Ping)
	}

	router := newRouter(cfg, logr, routeDeps{
		auth:          authSvc,
		metrics:       metrics,
		authHandler:   handler.NewAuthHandler(authSvc, registrationSvc),
		issues:        handler.NewIssueHandler(issueSvc, exportSvc),
		notifications: handler.NewNotificationHandler(notificationSvc),
		directory:     handler.NewDirectoryHandler(directorySvc),
		health:        handler.NewMetricsHandler(metrics, checks),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		logr.Error("server failed", zap.Error(err))
	case sig := <-signals:
		logr.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

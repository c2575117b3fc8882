package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/aits-api/internal/handler"
	"github.com/noah-isme/aits-api/internal/middleware"
	"github.com/noah-isme/aits-api/internal/models"
	"github.com/noah-isme/aits-api/internal/service"
	"github.com/noah-isme/aits-api/pkg/config"
	"github.com/noah-isme/aits-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/aits-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/aits-api/pkg/middleware/requestid"
)

type routeDeps struct {
	auth          middleware.Authenticator
	metrics       *service.MetricsService
	authHandler   *handler.AuthHandler
	issues        *handler.IssueHandler
	notifications *handler.NotificationHandler
	directory     *handler.DirectoryHandler
	health        *handler.MetricsHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routeDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, "/health", "/metrics"))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.metrics, "/metrics"))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", deps.health.Health)
	r.GET("/ready", deps.health.Ready)
	r.GET("/metrics", deps.health.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	authn := middleware.JWT(deps.auth)

	auth := api.Group("/auth")
	auth.POST("/register", deps.authHandler.Register)
	auth.POST("/login", deps.authHandler.Login)
	auth.POST("/refresh", deps.authHandler.Refresh)
	auth.POST("/logout", authn, deps.authHandler.Logout)
	auth.GET("/me", authn, deps.authHandler.Me)

	// Signed-token download sits outside the bearer guard.
	api.GET("/issues/:id/attachment/download", deps.issues.Download)

	issues := api.Group("/issues", authn)
	issues.GET("", deps.issues.List)
	issues.POST("", middleware.RequireRoles(models.RoleStudent), deps.issues.Create)
	issues.GET("/export", middleware.RequireRoles(models.RoleRegistrar), deps.issues.Export)
	issues.GET("/:id", deps.issues.Get)
	issues.PATCH("/:id", deps.issues.Update)
	issues.DELETE("/:id", deps.issues.Delete)
	issues.PATCH("/:id/status", middleware.RequireRoles(models.RoleLecturer, models.RoleRegistrar), deps.issues.UpdateStatus)
	issues.PATCH("/:id/assign", middleware.RequireRoles(models.RoleRegistrar), deps.issues.Assign)
	issues.POST("/:id/attachment", deps.issues.Attach)
	issues.GET("/:id/attachment/url", deps.issues.AttachmentURL)

	notifications := api.Group("/notifications", authn)
	notifications.GET("", deps.notifications.List)
	notifications.GET("/unread-count", deps.notifications.UnreadCount)
	notifications.PATCH("/read-all", deps.notifications.MarkAllRead)
	notifications.PATCH("/:id/read", deps.notifications.MarkRead)
	notifications.DELETE("", deps.notifications.DeleteAll)
	notifications.DELETE("/:id", deps.notifications.Delete)

	directory := api.Group("", authn)
	directory.GET("/departments", deps.directory.Departments)
	directory.GET("/lecturers", middleware.RequireRoles(models.RoleRegistrar, models.RoleLecturer), deps.directory.Lecturers)

	return r
}

package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/reentry-case-api/api/swagger"
	"github.com/noah-isme/reentry-case-api/internal/handler"
	"github.com/noah-isme/reentry-case-api/internal/middleware"
	"github.com/noah-isme/reentry-case-api/internal/models"
	"github.com/noah-isme/reentry-case-api/internal/service"
	"github.com/noah-isme/reentry-case-api/pkg/config"
	"github.com/noah-isme/reentry-case-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/reentry-case-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/reentry-case-api/pkg/middleware/requestid"
)

type routerDeps struct {
	cfg          *config.Config
	logger       *zap.Logger
	metrics      *service.MetricsService
	auth         middleware.TokenValidator
	participants *handler.ParticipantHandler
	ops          *handler.MetricsHandler
}

func newRouter(d routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(d.logger))
	r.Use(corsmiddleware.New(d.cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(d.metrics))

	r.GET("/health", d.ops.Health)
	r.GET("/ready", d.ops.Ready)
	r.GET("/metrics", d.ops.Prometheus)
	r.GET("/metrics/summary", d.ops.Summary)

	if d.cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(d.cfg.APIPrefix, middleware.JWT(d.auth), middleware.RequireStaff())
	api.GET("/graduation-steps", d.participants.GraduationSteps)

	admin := middleware.RequireRoles(models.RoleAdmin)

	participants := api.Group("/participants")
	participants.POST("", d.participants.Create)
	participants.GET("", d.participants.List)
	participants.GET("/duplicates", d.participants.Duplicates)
	participants.GET("/:id", d.participants.Get)
	participants.DELETE("/:id", admin, d.participants.Delete)
	participants.PATCH("/:id/status", d.participants.UpdateStatus)
	participants.PUT("/:id/assignment", d.participants.Assign)
	participants.POST("/:id/notes", d.participants.AddNote)
	participants.POST("/:id/contact-attempts", d.participants.RecordContactAttempt)
	participants.POST("/:id/weekly-updates", d.participants.RecordWeeklyUpdate)
	participants.POST("/:id/monthly-check-ins", d.participants.RecordMonthlyCheckIn)
	participants.POST("/:id/graduation", admin, d.participants.ApproveGraduation)
	participants.GET("/:id/history/export", d.participants.ExportHistory)

	return r
}

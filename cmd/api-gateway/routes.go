package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-billing-api/internal/middleware"
	"github.com/noah-isme/lms-billing-api/internal/models"
	"github.com/noah-isme/lms-billing-api/pkg/config"
	"github.com/noah-isme/lms-billing-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/lms-billing-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/lms-billing-api/pkg/middleware/requestid"
)

func newRouter(cfg *config.Config, logr *zap.Logger, a *app) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(a.metrics))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", a.ops.Health)
	r.GET("/ready", a.ops.Ready)
	r.GET("/metrics", a.ops.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	admins := []models.UserRole{models.RoleAdmin, models.RoleSuperAdmin}
	everyone := append([]models.UserRole{models.RoleStudent, models.RoleTeacher}, admins...)

	api := r.Group(cfg.APIPrefix)
	api.POST("/payment/notifications", a.payments.Notification)

	secured := api.Group("", middleware.JWT(a.auth))
	secured.GET("/metrics/summary", middleware.RequireRoles(admins...), a.ops.Snapshot)

	courses := secured.Group("/courses/:id")
	courses.GET("/fees", middleware.RequireRoles(everyone...), a.fees.Get)
	courses.POST("/fees", middleware.RequireRoles(admins...), middleware.Audit(a.audit, logr, "fee.record_payment", "course_fee"), a.fees.RecordPayment)
	courses.PUT("/fees", middleware.RequireRoles(models.RoleStudent, models.RoleAdmin, models.RoleSuperAdmin), middleware.Audit(a.audit, logr, "fee.unblock", "course_fee"), a.fees.ChangeUnblock)
	courses.GET("/fees/export", middleware.RequireRoles(admins...), a.fees.Export)
	courses.POST("/enrollments", middleware.RequireRoles(admins...), middleware.Audit(a.audit, logr, "enrollment.create", "enrollment"), a.enrollments.Create)

	payment := secured.Group("/payment", middleware.RequireRoles(models.RoleStudent))
	payment.POST("/create-order", middleware.Audit(a.audit, logr, "payment.create_order", "payment_order"), a.payments.CreateOrder)
	payment.POST("/verify", middleware.Audit(a.audit, logr, "payment.verify", "payment_order"), a.payments.Verify)

	return r
}

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
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	_ "github.com/noah-isme/lms-billing-api/api/swagger"
	"github.com/noah-isme/lms-billing-api/internal/billing"
	"github.com/noah-isme/lms-billing-api/internal/handler"
	"github.com/noah-isme/lms-billing-api/internal/repository"
	"github.com/noah-isme/lms-billing-api/internal/service"
	"github.com/noah-isme/lms-billing-api/pkg/cache"
	"github.com/noah-isme/lms-billing-api/pkg/config"
	"github.com/noah-isme/lms-billing-api/pkg/database"
	"github.com/noah-isme/lms-billing-api/pkg/gateway"
	"github.com/noah-isme/lms-billing-api/pkg/jobs"
	"github.com/noah-isme/lms-billing-api/pkg/logger"
	"github.com/noah-isme/lms-billing-api/pkg/mailer"
)

// @title LMS Billing API
// @version 1.0.0
// @description Course fee ledger, unblock workflow and online checkout for the learning platform.
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

	logr, err := logger.New(cfg, "api-gateway")
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("postgres unavailable", zap.Error(err))
	}
	defer db.Close()

	var mongoClient *mongo.Client
	var mongoDB *mongo.Database
	if cfg.StorageDriver == config.StorageDriverMongo {
		mongoClient, mongoDB, err = database.NewMongo(ctx, cfg.Mongo)
		if err != nil {
			logr.Fatal("mongo unavailable", zap.Error(err))
		}
		defer mongoClient.Disconnect(context.Background()) //nolint:errcheck
	}

	enrollments, err := repository.NewEnrollmentStore(ctx, cfg.StorageDriver, db, mongoDB)
	if err != nil {
		logr.Fatal("enrollment store unavailable", zap.Error(err))
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, fee cache and payment locks disabled", zap.Error(err))
	}

	app := buildApp(cfg, logr, db, redisClient, mongoClient, enrollments)
	// the queue outlives the signal context so Stop can drain it after the
	// last in-flight request has enqueued its notification
	app.queue.Start(context.Background())

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	router := newRouter(cfg, logr, app)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env), zap.String("storage", cfg.StorageDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	app.queue.Stop()
	logr.Info("server stopped")
}

type app struct {
	auth        *service.AuthService
	metrics     *service.MetricsService
	audit       *repository.AuditRepository
	queue       *jobs.Queue
	fees        *handler.FeeHandler
	payments    *handler.PaymentHandler
	enrollments *handler.EnrollmentHandler
	ops         *handler.MetricsHandler
}

func buildApp(cfg *config.Config, logr *zap.Logger, db *sqlx.DB, redisClient *redis.Client, mongoClient *mongo.Client, enrollments repository.EnrollmentStore) *app {
	validate := validator.New()
	metrics := service.NewMetricsService()

	courses := repository.NewCourseRepository(db)
	students := repository.NewStudentRepository(db)
	orders := repository.NewPaymentOrderRepository(db)
	audit := repository.NewAuditRepository(db)

	var mail mailer.Mailer = mailer.NewLogMailer(logr)
	if cfg.Mail.SendGridAPIKey != "" {
		mail = mailer.NewSendGridMailer(cfg.Mail.SendGridAPIKey, cfg.Mail.FromName, cfg.Mail.FromEmail)
	}
	notifications := service.NewNotificationService(students, mail, logr)
	queue := jobs.NewQueue("notifications", notifications.Handle, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
		Logger:     logr,
		OnExhausted: func(job jobs.Job, err error) {
			logr.Error("notification abandoned", zap.String("job_id", job.ID), zap.String("type", job.Type), zap.Error(err))
		},
	})
	notifications.Attach(queue)

	feeCfg := service.FeeConfig{
		Policy:          billing.Policy{GracePeriod: cfg.Billing.GracePeriod, BlockAfter: cfg.Billing.BlockAfter},
		UnblockOverride: cfg.Billing.UnblockOverride,
		EnforceAmount:   cfg.Billing.EnforceAmount,
		MaxMonths:       cfg.Billing.MaxMonths,
		Currency:        cfg.Billing.Currency,
		LockTTL:         cfg.Billing.IdempotencyLockTTL,
		CacheTTL:        cfg.Cache.TTL,
	}

	checks := map[string]handler.ReadinessCheck{
		"postgres": db.PingContext,
	}
	var fees *service.FeeService
	if redisClient != nil {
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.TTL, logr, cfg.Cache.Enabled)
		fees = service.NewFeeService(enrollments, cacheRepo, cacheSvc, metrics, notifications, validate, logr, feeCfg)
		checks["redis"] = cacheRepo.Ping
	} else {
		fees = service.NewFeeService(enrollments, nil, nil, metrics, notifications, validate, logr, feeCfg)
	}
	if mongoClient != nil {
		checks["mongo"] = func(ctx context.Context) error { return mongoClient.Ping(ctx, readpref.Primary()) }
	}

	gw := gateway.NewMidtransGateway(cfg.Gateway.ServerKey, cfg.Gateway.Production)
	payments := service.NewPaymentService(orders, enrollments, courses, students, fees, gw, metrics, validate, logr, service.PaymentConfig{
		Currency:  cfg.Billing.Currency,
		MaxMonths: cfg.Billing.MaxMonths,
	})
	enrollmentSvc := service.NewEnrollmentService(enrollments, courses, students, validate, logr)

	return &app{
		auth:        service.NewAuthService(cfg.JWT.Secret),
		metrics:     metrics,
		audit:       audit,
		queue:       queue,
		fees:        handler.NewFeeHandler(fees),
		payments:    handler.NewPaymentHandler(payments),
		enrollments: handler.NewEnrollmentHandler(enrollmentSvc),
		ops:         handler.NewMetricsHandler(metrics, checks),
	}
}

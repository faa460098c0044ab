package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-billing-api/internal/billing"
	"github.com/noah-isme/lms-billing-api/internal/handler"
	"github.com/noah-isme/lms-billing-api/internal/repository"
	"github.com/noah-isme/lms-billing-api/internal/service"
	"github.com/noah-isme/lms-billing-api/pkg/cache"
	"github.com/noah-isme/lms-billing-api/pkg/config"
	"github.com/noah-isme/lms-billing-api/pkg/database"
	"github.com/noah-isme/lms-billing-api/pkg/jobs"
	"github.com/noah-isme/lms-billing-api/pkg/logger"
	"github.com/noah-isme/lms-billing-api/pkg/mailer"
)

const jobTimeout = 5 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg, "billing-scheduler")
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

	var mongoDB *mongo.Database
	if cfg.StorageDriver == config.StorageDriverMongo {
		client, mdb, err := database.NewMongo(ctx, cfg.Mongo)
		if err != nil {
			logr.Fatal("mongo unavailable", zap.Error(err))
		}
		defer client.Disconnect(context.Background()) //nolint:errcheck
		mongoDB = mdb
	}
	enrollments, err := repository.NewEnrollmentStore(ctx, cfg.StorageDriver, db, mongoDB)
	if err != nil {
		logr.Fatal("enrollment store unavailable", zap.Error(err))
	}

	metrics := service.NewMetricsService()
	checks := map[string]handler.ReadinessCheck{"postgres": db.PingContext}

	var cacheSvc *service.CacheService
	if redisClient, err := cache.NewRedis(cfg.Redis); err != nil {
		logr.Warn("redis unavailable, fee cache will expire on its own", zap.Error(err))
	} else {
		defer redisClient.Close()
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheSvc = service.NewCacheService(cacheRepo, metrics, cfg.Cache.TTL, logr, cfg.Cache.Enabled)
		checks["redis"] = cacheRepo.Ping
	}

	var mail mailer.Mailer = mailer.NewLogMailer(logr)
	if cfg.Mail.SendGridAPIKey != "" {
		mail = mailer.NewSendGridMailer(cfg.Mail.SendGridAPIKey, cfg.Mail.FromName, cfg.Mail.FromEmail)
	}
	notifications := service.NewNotificationService(repository.NewStudentRepository(db), mail, logr)
	queue := jobs.NewQueue("notifications", notifications.Handle, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
		Logger:     logr,
	})
	notifications.Attach(queue)
	queue.Start(context.Background())

	jobsSvc := service.NewBillingJobService(enrollments, cacheSvc, metrics, notifications, logr, service.BillingJobConfig{
		Policy:     billing.Policy{GracePeriod: cfg.Billing.GracePeriod, BlockAfter: cfg.Billing.BlockAfter},
		RequestTTL: cfg.Billing.UnblockRequestTTL,
	})

	c := cron.New(cron.WithSeconds(), cron.WithChain(
		cron.Recover(cron.PrintfLogger(zap.NewStdLog(logr))),
		cron.SkipIfStillRunning(cron.PrintfLogger(zap.NewStdLog(logr))),
	))
	if err := setupCronJobs(ctx, c, cfg.Scheduler, jobsSvc, logr); err != nil {
		logr.Fatal("invalid schedule", zap.Error(err))
	}

	ops := newOpsServer(cfg.Scheduler.MetricsAddr, handler.NewMetricsHandler(metrics, checks))
	if ops != nil {
		go func() {
			logr.Info("scheduler metrics listening", zap.String("addr", ops.Addr))
			if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logr.Error("scheduler metrics server failed", zap.Error(err))
			}
		}()
	}

	c.Start()
	logr.Info("scheduler started", zap.String("block_spec", cfg.Scheduler.BlockSpec), zap.String("expire_spec", cfg.Scheduler.ExpireSpec))

	<-ctx.Done()
	logr.Info("shutting down scheduler")
	<-c.Stop().Done()
	if ops != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ops.Shutdown(shutdownCtx); err != nil {
			logr.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}
	queue.Stop()
	logr.Info("scheduler stopped")
}

// newOpsServer serves the scheduler's Prometheus counters and probes. It
// returns nil when addr is empty.
func newOpsServer(addr string, ops *handler.MetricsHandler) *http.Server {
	if addr == "" {
		return nil
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/metrics", ops.Prometheus)
	r.GET("/health", ops.Health)
	r.GET("/ready", ops.Ready)
	return &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
}

func setupCronJobs(ctx context.Context, c *cron.Cron, cfg config.SchedulerConfig, svc *service.BillingJobService, logr *zap.Logger) error {
	if _, err := c.AddFunc(cfg.BlockSpec, func() {
		runCtx, cancel := context.WithTimeout(ctx, jobTimeout)
		defer cancel()
		if _, err := svc.BlockOverdue(runCtx); err != nil {
			logr.Error("overdue sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	_, err := c.AddFunc(cfg.ExpireSpec, func() {
		runCtx, cancel := context.WithTimeout(ctx, jobTimeout)
		defer cancel()
		if _, err := svc.ExpireUnblockRequests(runCtx); err != nil {
			logr.Error("unblock expiry sweep failed", zap.Error(err))
		}
	})
	return err
}

package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-billing-api/internal/billing"
	"github.com/noah-isme/lms-billing-api/internal/models"
)

type billingJobStore interface {
	ListBlockCandidates(ctx context.Context, cutoff, now time.Time, limit int) ([]models.Enrollment, error)
	SetBlocked(ctx context.Context, id string, at time.Time) (bool, error)
	ExpirePendingUnblocks(ctx context.Context, before, now time.Time) (int64, error)
}

type blockNotifier interface {
	EnrollmentBlocked(e models.Enrollment)
}

// BillingJobConfig configures the periodic billing jobs.
type BillingJobConfig struct {
	Policy     billing.Policy
	RequestTTL time.Duration
	BatchSize  int
}

// BillingJobService runs the scheduled block and unblock-expiry sweeps.
type BillingJobService struct {
	store    billingJobStore
	cache    *CacheService
	metrics  *MetricsService
	notifier blockNotifier
	logger   *zap.Logger
	cfg      BillingJobConfig
	now      func() time.Time
}

// NewBillingJobService constructs BillingJobService.
func NewBillingJobService(store billingJobStore, cache *CacheService, metrics *MetricsService, notifier blockNotifier, logger *zap.Logger, cfg BillingJobConfig) *BillingJobService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &BillingJobService{
		store:    store,
		cache:    cache,
		metrics:  metrics,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// BlockOverdue blocks every enrollment overdue past the block threshold and
// returns how many were blocked by this run.
func (s *BillingJobService) BlockOverdue(ctx context.Context) (int, error) {
	now := s.now()
	candidates, err := s.store.ListBlockCandidates(ctx, billing.BlockCutoff(now, s.cfg.Policy), now, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list block candidates: %w", err)
	}

	blocked := 0
	courses := map[string]struct{}{}
	for _, e := range candidates {
		if err := ctx.Err(); err != nil {
			return blocked, err
		}
		if !billing.ShouldBlock(e, now, s.cfg.Policy) {
			continue
		}
		changed, err := s.store.SetBlocked(ctx, e.ID, now)
		if err != nil {
			s.logger.Warn("block enrollment failed", zap.String("enrollment_id", e.ID), zap.Error(err))
			continue
		}
		if !changed {
			continue
		}
		blocked++
		courses[e.CourseID] = struct{}{}
		blockedAt := now
		e.BlockedAt = &blockedAt
		if s.notifier != nil {
			s.notifier.EnrollmentBlocked(e)
		}
	}

	for courseID := range courses {
		_ = s.cache.Invalidate(ctx, FeeCachePattern(courseID))
	}
	s.metrics.RecordBlocked(blocked)
	s.logger.Info("overdue sweep finished", zap.Int("candidates", len(candidates)), zap.Int("blocked", blocked))
	return blocked, nil
}

// ExpireUnblockRequests reverts pending unblock requests older than the
// configured TTL. A zero TTL keeps requests pending forever.
func (s *BillingJobService) ExpireUnblockRequests(ctx context.Context) (int64, error) {
	if s.cfg.RequestTTL <= 0 {
		return 0, nil
	}
	now := s.now()
	expired, err := s.store.ExpirePendingUnblocks(ctx, now.Add(-s.cfg.RequestTTL), now)
	if err != nil {
		return 0, fmt.Errorf("expire unblock requests: %w", err)
	}
	if expired > 0 {
		_ = s.cache.Invalidate(ctx, FeeCachePattern("*"))
		s.metrics.RecordUnblockExpired(expired)
	}
	s.logger.Info("unblock expiry sweep finished", zap.Int64("expired", expired))
	return expired, nil
}

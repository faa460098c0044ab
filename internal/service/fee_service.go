package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-billing-api/internal/billing"
	"github.com/noah-isme/lms-billing-api/internal/dto"
	"github.com/noah-isme/lms-billing-api/internal/models"
	"github.com/noah-isme/lms-billing-api/internal/repository"
	appErrors "github.com/noah-isme/lms-billing-api/pkg/errors"
	"github.com/noah-isme/lms-billing-api/pkg/export"
)

type feeStore interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindByCourseAndStudent(ctx context.Context, courseID, studentID string) (*models.Enrollment, error)
	ListByCourse(ctx context.Context, courseID string) ([]models.Enrollment, error)
	ListPayments(ctx context.Context, enrollmentID string) ([]models.Transaction, error)
	ListCoursePayments(ctx context.Context, courseID string) ([]models.LedgerEntry, error)
	FindPaymentByKey(ctx context.Context, enrollmentID, key string) (*models.Transaction, error)
	AppendPayment(ctx context.Context, in models.PaymentAppend) error
	UpdateUnblock(ctx context.Context, update models.UnblockUpdate) error
	SetBlocked(ctx context.Context, id string, at time.Time) (bool, error)
}

type paymentLocker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

type feeNotifier interface {
	PaymentRecorded(e models.Enrollment, tx models.Transaction, nextDue time.Time)
	UnblockDecided(e models.Enrollment, decision, note string)
	EnrollmentBlocked(e models.Enrollment)
}

// FeeConfig holds the billing rules applied by FeeService.
type FeeConfig struct {
	Policy          billing.Policy
	UnblockOverride time.Duration
	EnforceAmount   bool
	MaxMonths       int
	Currency        string
	LockTTL         time.Duration
	CacheTTL        time.Duration
}

// RecordPaymentInput is one payment to append to an enrollment ledger. The
// enrollment is addressed either by EnrollmentID or by CourseID and StudentID.
type RecordPaymentInput struct {
	EnrollmentID   string
	CourseID       string               `validate:"required_without=EnrollmentID"`
	StudentID      string               `validate:"required_without=EnrollmentID"`
	Amount         decimal.Decimal      `validate:"-"`
	MonthCount     int                  `validate:"min=1"`
	Method         models.PaymentMethod `validate:"oneof=Cash UPI Bank Other Online"`
	IdempotencyKey string               `validate:"required,max=128"`
	RecordedBy     string
}

// UnblockInput is one action in the unblock workflow.
type UnblockInput struct {
	CourseID  string `validate:"required"`
	StudentID string `validate:"required"`
	Action    string `validate:"required,oneof=request approve reject block"`
	Note      string `validate:"max=500"`
	ActorID   string
	ActorRole models.UserRole
}

// FeeService implements the fee ledger: reads with derived status, payment
// recording and the unblock workflow.
type FeeService struct {
	store     feeStore
	locker    paymentLocker
	cache     *CacheService
	metrics   *MetricsService
	notifier  feeNotifier
	validator *validator.Validate
	logger    *zap.Logger
	cfg       FeeConfig
	now       func() time.Time
}

// NewFeeService constructs a FeeService.
func NewFeeService(store feeStore, locker paymentLocker, cache *CacheService, metrics *MetricsService, notifier feeNotifier, validate *validator.Validate, logger *zap.Logger, cfg FeeConfig) *FeeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.MaxMonths <= 0 {
		cfg.MaxMonths = 12
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "IDR"
	}
	return &FeeService{
		store:     store,
		locker:    locker,
		cache:     cache,
		metrics:   metrics,
		notifier:  notifier,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// StudentFees returns the fee view of one student's enrollment in a course.
func (s *FeeService) StudentFees(ctx context.Context, courseID, studentID string) (*dto.FeeStatusResponse, error) {
	if courseID == "" || studentID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "course and student are required")
	}

	key := FeeCacheKey(courseID, studentID)
	var snapshot models.Enrollment
	if hit, _ := s.cache.Get(ctx, key, &snapshot); hit {
		view := s.view(snapshot, s.now())
		return &view, nil
	}

	enrollment, err := s.loadLedger(ctx, courseID, studentID)
	if err != nil {
		return nil, err
	}
	_ = s.cache.Set(ctx, key, enrollment, s.cfg.CacheTTL)

	view := s.view(*enrollment, s.now())
	return &view, nil
}

// CourseFees returns the fee roster of a course. The status filter is applied
// after derivation so it always agrees with what students see.
func (s *FeeService) CourseFees(ctx context.Context, filter models.EnrollmentFilter) ([]dto.FeeStatusResponse, *models.Pagination, error) {
	if filter.CourseID == "" {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "course is required")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "status must be one of Paid, Pending, Overdue, Blocked")
	}

	enrollments, err := s.store.ListByCourse(ctx, filter.CourseID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	entries, err := s.store.ListCoursePayments(ctx, filter.CourseID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}
	history := make(map[string][]models.Transaction, len(enrollments))
	for _, entry := range entries {
		history[entry.EnrollmentID] = append(history[entry.EnrollmentID], entry.Transaction)
	}

	now := s.now()
	views := make([]dto.FeeStatusResponse, 0, len(enrollments))
	for _, e := range enrollments {
		e.PaymentHistory = history[e.ID]
		view := s.view(e, now)
		if filter.Status != "" && view.Status != filter.Status {
			continue
		}
		views = append(views, view)
	}

	page, size := normalizePage(filter.Page, filter.PageSize)
	total := len(views)
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}
	return views[start:end], &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// RecordPayment appends one payment to an enrollment ledger and advances its
// next due date. A repeated idempotency key returns the stored transaction
// with Replayed set and writes nothing.
func (s *FeeService) RecordPayment(ctx context.Context, in RecordPaymentInput) (*dto.RecordPaymentResponse, error) {
	if err := s.validator.Struct(in); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	if !in.Amount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "amount must be positive")
	}
	if in.MonthCount > s.cfg.MaxMonths {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("monthCount must not exceed %d", s.cfg.MaxMonths))
	}

	enrollment, err := s.resolve(ctx, in)
	if err != nil {
		return nil, err
	}

	lockKey := fmt.Sprintf("fee:lock:%s:%s", enrollment.ID, in.IdempotencyKey)
	token, lockErr := s.acquire(ctx, lockKey)
	if lockErr != nil {
		s.logger.Warn("payment lock unavailable", zap.String("enrollment_id", enrollment.ID), zap.Error(lockErr))
	}
	if token != "" {
		defer s.release(ctx, lockKey, token)
	}
	heldElsewhere := s.locker != nil && lockErr == nil && token == ""

	existing, err := s.store.FindPaymentByKey(ctx, enrollment.ID, in.IdempotencyKey)
	switch {
	case err == nil:
		return s.replay(*enrollment, *existing), nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check idempotency key")
	}
	if heldElsewhere {
		return nil, appErrors.Clone(appErrors.ErrConflict, "payment already in progress")
	}

	if s.cfg.EnforceAmount {
		expected := billing.ExpectedAmount(enrollment.MonthlyFee, in.MonthCount)
		if !in.Amount.Equal(expected) {
			return nil, appErrors.Clone(appErrors.ErrValidation,
				fmt.Sprintf("amount must equal %s for %d month(s)", expected.StringFixed(2), in.MonthCount))
		}
	}

	now := s.now()
	period := billing.NewPeriod(enrollment.NextDue, in.MonthCount)
	tx := models.Transaction{
		ID:             uuid.NewString(),
		EnrollmentID:   enrollment.ID,
		Amount:         in.Amount,
		Method:         in.Method,
		MonthCount:     in.MonthCount,
		Month:          period.Label,
		PeriodStart:    period.Start,
		PeriodEnd:      period.End,
		IdempotencyKey: in.IdempotencyKey,
		PaidAt:         now,
		CreatedAt:      now,
	}
	if in.RecordedBy != "" {
		recordedBy := in.RecordedBy
		tx.RecordedBy = &recordedBy
	}
	clearBlock := period.End.After(now)

	err = s.store.AppendPayment(ctx, models.PaymentAppend{
		EnrollmentID:    enrollment.ID,
		ExpectedNextDue: enrollment.NextDue,
		NewNextDue:      period.End,
		ClearBlock:      clearBlock,
		Transaction:     tx,
		UpdatedAt:       now,
	})
	switch {
	case errors.Is(err, repository.ErrDuplicatePayment):
		stored, lookupErr := s.store.FindPaymentByKey(ctx, enrollment.ID, in.IdempotencyKey)
		if lookupErr != nil {
			return nil, appErrors.Wrap(lookupErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load recorded payment")
		}
		return s.replay(*enrollment, *stored), nil
	case errors.Is(err, repository.ErrStaleWrite):
		s.metrics.RecordPaymentConflict()
		return nil, appErrors.Clone(appErrors.ErrConflict, "fee ledger changed concurrently, reload and retry")
	case err != nil:
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record payment")
	}

	updated := *enrollment
	updated.NextDue = period.End
	if clearBlock {
		updated.BlockedAt = nil
		updated.UnblockStatus = models.UnblockNone
	}

	_ = s.cache.Invalidate(ctx, FeeCachePattern(enrollment.CourseID))
	s.metrics.RecordPayment(tx.Method, s.cfg.Currency, tx.Amount.InexactFloat64())
	if s.notifier != nil {
		s.notifier.PaymentRecorded(updated, tx, period.End)
	}
	s.logger.Info("fee payment recorded",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("transaction_id", tx.ID),
		zap.String("month", tx.Month),
		zap.Time("next_due", period.End),
	)

	return &dto.RecordPaymentResponse{
		NextDue:     period.End,
		Status:      billing.DeriveStatus(updated, now, s.cfg.Policy),
		Transaction: tx,
	}, nil
}

// ChangeUnblock applies one unblock workflow action and returns the new view.
func (s *FeeService) ChangeUnblock(ctx context.Context, in UnblockInput) (*dto.FeeStatusResponse, error) {
	if err := s.validator.Struct(in); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid unblock payload")
	}
	if err := authorizeUnblock(in); err != nil {
		return nil, err
	}

	enrollment, err := s.findEnrollment(ctx, in.CourseID, in.StudentID)
	if err != nil {
		return nil, err
	}
	now := s.now()

	if in.Action == "block" {
		changed, err := s.store.SetBlocked(ctx, enrollment.ID, now)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to block enrollment")
		}
		if !changed {
			return nil, appErrors.Clone(appErrors.ErrConflict, "enrollment is already blocked")
		}
		s.metrics.RecordBlocked(1)
		if s.notifier != nil {
			s.notifier.EnrollmentBlocked(*enrollment)
		}
	} else if err := s.transitionUnblock(ctx, *enrollment, in, now); err != nil {
		return nil, err
	}

	s.metrics.RecordUnblockTransition(in.Action)
	_ = s.cache.Invalidate(ctx, FeeCachePattern(in.CourseID))
	s.logger.Info("unblock workflow changed",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("action", in.Action),
		zap.String("actor_id", in.ActorID),
	)

	fresh, err := s.loadLedger(ctx, in.CourseID, in.StudentID)
	if err != nil {
		return nil, err
	}
	view := s.view(*fresh, now)
	return &view, nil
}

func (s *FeeService) transitionUnblock(ctx context.Context, e models.Enrollment, in UnblockInput, now time.Time) error {
	current := e.UnblockStatus
	if current == "" {
		current = models.UnblockNone
	}
	action := billing.UnblockAction(in.Action)
	next, err := billing.NextUnblockState(current, action, billing.DeriveStatus(e, now, s.cfg.Policy))
	switch {
	case errors.Is(err, billing.ErrNotBlocked):
		return appErrors.Clone(appErrors.ErrValidation, "unblock can only be requested while the enrollment is blocked")
	case errors.Is(err, billing.ErrInvalidTransition):
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, fmt.Sprintf("cannot %s an unblock request in state %s", in.Action, current))
	case err != nil:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to evaluate unblock request")
	}

	update := models.UnblockUpdate{
		EnrollmentID: e.ID,
		From:         current,
		To:           next,
		UpdatedAt:    now,
	}
	if in.Note != "" {
		note := in.Note
		update.Note = &note
	}
	var decision string
	switch action {
	case billing.ActionRequest:
		update.RequestedAt = &now
	case billing.ActionApprove:
		decision = models.UnblockDecisionApproved
		until := now.Add(s.cfg.UnblockOverride)
		update.ClearBlock = true
		update.OverrideUntil = &until
	case billing.ActionReject:
		decision = models.UnblockDecisionRejected
	}
	if decision != "" {
		actor := in.ActorID
		update.DecidedAt = &now
		update.DecidedBy = &actor
		update.Decision = &decision
	}

	if err := s.store.UpdateUnblock(ctx, update); err != nil {
		if errors.Is(err, repository.ErrStaleWrite) {
			return appErrors.Clone(appErrors.ErrConflict, "unblock request changed concurrently, reload and retry")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update unblock request")
	}
	if decision != "" && s.notifier != nil {
		s.notifier.UnblockDecided(e, decision, in.Note)
	}
	return nil
}

// ExportLedger renders every transaction of a course as CSV.
func (s *FeeService) ExportLedger(ctx context.Context, courseID string) ([]byte, error) {
	if courseID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "course is required")
	}
	entries, err := s.store.ListCoursePayments(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}

	dataset := export.Dataset{Headers: ledgerHeaders}
	for _, entry := range entries {
		recordedBy := ""
		if entry.RecordedBy != nil {
			recordedBy = *entry.RecordedBy
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Student ID":     entry.StudentID,
			"Transaction ID": entry.ID,
			"Billing Period": entry.Month,
			"Months":         strconv.Itoa(entry.MonthCount),
			"Amount":         entry.Amount.StringFixed(2),
			"Currency":       s.cfg.Currency,
			"Method":         string(entry.Method),
			"Period Start":   entry.PeriodStart.Format("2006-01-02"),
			"Period End":     entry.PeriodEnd.Format("2006-01-02"),
			"Paid At":        entry.PaidAt.Format(time.RFC3339),
			"Recorded By":    recordedBy,
		})
	}

	content, err := export.NewCSVExporter().Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render ledger")
	}
	return content, nil
}

var ledgerHeaders = []string{"Student ID", "Transaction ID", "Billing Period", "Months", "Amount", "Currency", "Method", "Period Start", "Period End", "Paid At", "Recorded By"}

func (s *FeeService) resolve(ctx context.Context, in RecordPaymentInput) (*models.Enrollment, error) {
	if in.EnrollmentID == "" {
		return s.findEnrollment(ctx, in.CourseID, in.StudentID)
	}
	enrollment, err := s.store.FindByID(ctx, in.EnrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if in.CourseID != "" && enrollment.CourseID != in.CourseID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
	}
	return enrollment, nil
}

func (s *FeeService) findEnrollment(ctx context.Context, courseID, studentID string) (*models.Enrollment, error) {
	enrollment, err := s.store.FindByCourseAndStudent(ctx, courseID, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return enrollment, nil
}

func (s *FeeService) loadLedger(ctx context.Context, courseID, studentID string) (*models.Enrollment, error) {
	enrollment, err := s.findEnrollment(ctx, courseID, studentID)
	if err != nil {
		return nil, err
	}
	history, err := s.store.ListPayments(ctx, enrollment.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment history")
	}
	enrollment.PaymentHistory = history
	return enrollment, nil
}

func (s *FeeService) acquire(ctx context.Context, key string) (string, error) {
	if s.locker == nil {
		return "", nil
	}
	return s.locker.AcquireLock(ctx, key, s.cfg.LockTTL)
}

func (s *FeeService) release(ctx context.Context, key, token string) {
	if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), key, token); err != nil {
		s.logger.Warn("payment lock release failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *FeeService) replay(e models.Enrollment, tx models.Transaction) *dto.RecordPaymentResponse {
	s.metrics.RecordPaymentReplay()
	s.logger.Info("fee payment replayed",
		zap.String("enrollment_id", e.ID),
		zap.String("transaction_id", tx.ID),
	)
	return &dto.RecordPaymentResponse{
		NextDue:     tx.PeriodEnd,
		Status:      billing.DeriveStatus(e, s.now(), s.cfg.Policy),
		Transaction: tx,
		Replayed:    true,
	}
}

func (s *FeeService) view(e models.Enrollment, now time.Time) dto.FeeStatusResponse {
	history := append([]models.Transaction(nil), e.PaymentHistory...)
	sort.SliceStable(history, func(i, j int) bool { return history[i].PeriodStart.Before(history[j].PeriodStart) })
	if history == nil {
		history = []models.Transaction{}
	}

	unblockStatus := e.UnblockStatus
	if unblockStatus == "" {
		unblockStatus = models.UnblockNone
	}
	unblock := dto.UnblockView{
		Status:       unblockStatus,
		RequestedAt:  e.UnblockRequestedAt,
		DecidedAt:    e.UnblockDecidedAt,
		LastDecision: e.UnblockDecision,
		Note:         e.UnblockNote,
	}
	if billing.OverrideActive(e, now) {
		unblock.OverrideUntil = e.BlockOverrideUntil
	}

	return dto.FeeStatusResponse{
		EnrollmentID:   e.ID,
		CourseID:       e.CourseID,
		StudentID:      e.StudentID,
		Status:         billing.DeriveStatus(e, now, s.cfg.Policy),
		NextDue:        e.NextDue,
		MonthlyFee:     e.MonthlyFee,
		NextCycle:      billing.CycleLabel(e.NextDue, 1),
		Unblock:        unblock,
		PaymentHistory: history,
	}
}

func authorizeUnblock(in UnblockInput) error {
	if in.Action == string(billing.ActionRequest) {
		if in.ActorRole != models.RoleStudent || in.ActorID != in.StudentID {
			return appErrors.Clone(appErrors.ErrForbidden, "only the enrolled student can request an unblock")
		}
		return nil
	}
	if !in.ActorRole.CanManageFees() {
		return appErrors.Clone(appErrors.ErrForbidden, "only administrators can decide unblock requests")
	}
	return nil
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return page, size
}

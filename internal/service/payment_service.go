package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-billing-api/internal/billing"
	"github.com/noah-isme/lms-billing-api/internal/dto"
	"github.com/noah-isme/lms-billing-api/internal/models"
	appErrors "github.com/noah-isme/lms-billing-api/pkg/errors"
	"github.com/noah-isme/lms-billing-api/pkg/gateway"
)

type paymentOrderStore interface {
	Create(ctx context.Context, order *models.PaymentOrder) error
	FindByID(ctx context.Context, id string) (*models.PaymentOrder, error)
	MarkPaid(ctx context.Context, id, paymentID string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id string, at time.Time) (bool, error)
}

type paymentEnrollmentReader interface {
	FindByCourseAndStudent(ctx context.Context, courseID, studentID string) (*models.Enrollment, error)
}

type paymentCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type paymentStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type paymentRecorder interface {
	RecordPayment(ctx context.Context, in RecordPaymentInput) (*dto.RecordPaymentResponse, error)
}

// PaymentConfig configures online checkout.
type PaymentConfig struct {
	Currency  string
	MaxMonths int
}

// PaymentService opens gateway orders and turns verified payments into ledger entries.
type PaymentService struct {
	orders      paymentOrderStore
	enrollments paymentEnrollmentReader
	courses     paymentCourseReader
	students    paymentStudentReader
	fees        paymentRecorder
	gateway     gateway.Gateway
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         PaymentConfig
	now         func() time.Time
}

// NewPaymentService constructs a PaymentService.
func NewPaymentService(orders paymentOrderStore, enrollments paymentEnrollmentReader, courses paymentCourseReader, students paymentStudentReader, fees paymentRecorder, gw gateway.Gateway, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg PaymentConfig) *PaymentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.Currency == "" {
		cfg.Currency = "IDR"
	}
	if cfg.MaxMonths <= 0 {
		cfg.MaxMonths = 12
	}
	return &PaymentService{
		orders:      orders,
		enrollments: enrollments,
		courses:     courses,
		students:    students,
		fees:        fees,
		gateway:     gw,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder opens a checkout for the student's next monthCount cycles. The
// amount is always computed from the enrollment fee.
func (s *PaymentService) CreateOrder(ctx context.Context, studentID string, req dto.CreateOrderRequest) (*dto.CreateOrderResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid order payload")
	}
	if req.MonthCount > s.cfg.MaxMonths {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("monthCount must not exceed %d", s.cfg.MaxMonths))
	}

	enrollment, err := s.enrollments.FindByCourseAndStudent(ctx, req.CourseID, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	amount := billing.ExpectedAmount(enrollment.MonthlyFee, req.MonthCount)
	if !amount.Equal(amount.Truncate(0)) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("amount %s cannot be paid online: whole currency units only", amount.String()))
	}
	cycle := billing.CycleLabel(enrollment.NextDue, req.MonthCount)
	orderID := "FEE-" + uuid.NewString()

	order, err := s.gateway.CreateOrder(ctx, gateway.OrderRequest{
		OrderID:     orderID,
		Amount:      amount,
		Currency:    s.cfg.Currency,
		Description: fmt.Sprintf("%s: %s", course.Title, cycle),
		Customer:    s.customer(ctx, studentID),
	})
	if err != nil {
		s.metrics.RecordGatewayOrder(models.OrderStatusFailed)
		s.logger.Warn("gateway order rejected", zap.String("order_id", orderID), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrGateway.Code, appErrors.ErrGateway.Status, err.Error())
	}

	now := s.now()
	record := &models.PaymentOrder{
		ID:           orderID,
		EnrollmentID: enrollment.ID,
		CourseID:     enrollment.CourseID,
		StudentID:    studentID,
		Amount:       amount,
		Currency:     s.cfg.Currency,
		MonthCount:   req.MonthCount,
		Status:       models.OrderStatusCreated,
		GatewayToken: order.Token,
		RedirectURL:  order.RedirectURL,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.orders.Create(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store order")
	}
	s.metrics.RecordGatewayOrder(models.OrderStatusCreated)
	s.logger.Info("gateway order created", zap.String("order_id", orderID), zap.String("enrollment_id", enrollment.ID), zap.String("amount", amount.String()))

	return &dto.CreateOrderResponse{
		OrderID:     orderID,
		Amount:      amount,
		Currency:    s.cfg.Currency,
		Cycle:       cycle,
		Token:       order.Token,
		RedirectURL: order.RedirectURL,
	}, nil
}

// Verify confirms a checkout with the provider before recording it. Only a
// settled (or captured and accepted) transaction whose id and gross amount
// match the order is accepted. Repeating a verified callback replays the
// recorded payment.
func (s *PaymentService) Verify(ctx context.Context, studentID string, req dto.VerifyPaymentRequest) (*dto.VerifyPaymentResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid verification payload")
	}

	order, err := s.findOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order.StudentID != studentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "order belongs to another student")
	}
	if order.Status == models.OrderStatusFailed {
		return nil, appErrors.Clone(appErrors.ErrConflict, "order has already failed")
	}
	if order.Status == models.OrderStatusPaid {
		if order.PaymentID == nil || *order.PaymentID != req.PaymentID {
			return nil, appErrors.WithStatus(appErrors.ErrGateway, http.StatusBadRequest, "payment does not match order")
		}
		return s.verified(ctx, order, req.PaymentID)
	}

	status, err := s.gateway.CheckPayment(ctx, order.ID)
	if err != nil {
		if errors.Is(err, gateway.ErrPaymentNotFound) {
			return nil, appErrors.WithStatus(appErrors.ErrGateway, http.StatusBadRequest, "payment not found at provider")
		}
		s.logger.Warn("payment status lookup failed", zap.String("order_id", order.ID), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrGateway.Code, appErrors.ErrGateway.Status, "failed to confirm payment with provider")
	}
	if status.TransactionID != req.PaymentID {
		s.logger.Warn("payment id mismatch", zap.String("order_id", order.ID), zap.String("payment_id", req.PaymentID))
		return nil, appErrors.WithStatus(appErrors.ErrGateway, http.StatusBadRequest, "payment does not match order")
	}
	if req.Signature != "" && !strings.EqualFold(req.Signature, status.SignatureKey) {
		s.logger.Warn("payment signature mismatch", zap.String("order_id", order.ID))
		return nil, appErrors.WithStatus(appErrors.ErrGateway, http.StatusBadRequest, "invalid payment signature")
	}

	switch gateway.Classify(*status) {
	case gateway.OutcomePaid:
		if !grossMatches(status.GrossAmount, order) {
			return nil, appErrors.WithStatus(appErrors.ErrGateway, http.StatusBadRequest, "gross amount does not match order")
		}
		return s.verified(ctx, order, status.TransactionID)
	case gateway.OutcomeFailed:
		if _, err := s.markFailed(ctx, order, status.TransactionStatus); err != nil {
			return nil, err
		}
		return nil, appErrors.WithStatus(appErrors.ErrGateway, http.StatusBadRequest, "payment was not completed")
	default:
		return nil, appErrors.Clone(appErrors.ErrConflict, "payment is not settled yet")
	}
}

func (s *PaymentService) verified(ctx context.Context, order *models.PaymentOrder, paymentID string) (*dto.VerifyPaymentResponse, error) {
	payment, err := s.settle(ctx, order, paymentID)
	if err != nil {
		return nil, err
	}
	return &dto.VerifyPaymentResponse{OrderID: order.ID, Status: models.OrderStatusPaid, Payment: *payment}, nil
}

// HandleNotification processes an asynchronous provider status callback.
func (s *PaymentService) HandleNotification(ctx context.Context, n gateway.Notification) (*dto.NotificationAck, error) {
	if !s.gateway.VerifyNotification(n) {
		s.logger.Warn("notification signature mismatch", zap.String("order_id", n.OrderID))
		return nil, appErrors.WithStatus(appErrors.ErrGateway, http.StatusBadRequest, "invalid notification signature")
	}
	order, err := s.findOrder(ctx, n.OrderID)
	if err != nil {
		return nil, err
	}

	switch gateway.Classify(n) {
	case gateway.OutcomeFailed:
		status, err := s.markFailed(ctx, order, n.TransactionStatus)
		if err != nil {
			return nil, err
		}
		return &dto.NotificationAck{OrderID: order.ID, Status: status}, nil
	case gateway.OutcomePaid:
		if !grossMatches(n.GrossAmount, order) {
			return nil, appErrors.WithStatus(appErrors.ErrGateway, http.StatusBadRequest, "gross amount does not match order")
		}
		if _, err := s.settle(ctx, order, n.TransactionID); err != nil {
			return nil, err
		}
		return &dto.NotificationAck{OrderID: order.ID, Status: models.OrderStatusPaid}, nil
	default:
		return &dto.NotificationAck{OrderID: order.ID, Status: order.Status, Ignored: true}, nil
	}
}

func (s *PaymentService) markFailed(ctx context.Context, order *models.PaymentOrder, providerStatus string) (models.OrderStatus, error) {
	changed, err := s.orders.MarkFailed(ctx, order.ID, s.now())
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update order")
	}
	if !changed {
		return order.Status, nil
	}
	s.metrics.RecordGatewayOrder(models.OrderStatusFailed)
	s.logger.Info("gateway order failed", zap.String("order_id", order.ID), zap.String("provider_status", providerStatus))
	return models.OrderStatusFailed, nil
}

// grossMatches compares the provider's gross_amount with the stored order.
func grossMatches(gross string, order *models.PaymentOrder) bool {
	amount, err := decimal.NewFromString(gross)
	return err == nil && amount.Equal(order.Amount)
}

func (s *PaymentService) settle(ctx context.Context, order *models.PaymentOrder, paymentID string) (*dto.RecordPaymentResponse, error) {
	if order.Status == models.OrderStatusFailed {
		return nil, appErrors.Clone(appErrors.ErrConflict, "order has already failed")
	}
	if order.Status == models.OrderStatusCreated {
		changed, err := s.orders.MarkPaid(ctx, order.ID, paymentID, s.now())
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update order")
		}
		if changed {
			s.metrics.RecordGatewayOrder(models.OrderStatusPaid)
		} else {
			current, err := s.findOrder(ctx, order.ID)
			if err != nil {
				return nil, err
			}
			if current.Status == models.OrderStatusFailed {
				return nil, appErrors.Clone(appErrors.ErrConflict, "order has already failed")
			}
		}
	}

	return s.fees.RecordPayment(ctx, RecordPaymentInput{
		EnrollmentID:   order.EnrollmentID,
		CourseID:       order.CourseID,
		Amount:         order.Amount,
		MonthCount:     order.MonthCount,
		Method:         models.PaymentMethodOnline,
		IdempotencyKey: order.ID,
	})
}

func (s *PaymentService) findOrder(ctx context.Context, id string) (*models.PaymentOrder, error) {
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "order not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load order")
	}
	return order, nil
}

func (s *PaymentService) customer(ctx context.Context, studentID string) gateway.Customer {
	if s.students == nil {
		return gateway.Customer{}
	}
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		s.logger.Warn("payer lookup failed", zap.String("student_id", studentID), zap.Error(err))
		return gateway.Customer{}
	}
	return gateway.Customer{Name: student.FullName, Email: student.Email}
}

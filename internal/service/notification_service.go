package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-billing-api/internal/models"
	"github.com/noah-isme/lms-billing-api/pkg/jobs"
	"github.com/noah-isme/lms-billing-api/pkg/mailer"
)

// Notification job types.
const (
	JobPaymentRecorded   = "payment_recorded"
	JobUnblockDecided    = "unblock_decided"
	JobEnrollmentBlocked = "enrollment_blocked"
)

type notificationStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type notificationQueue interface {
	TryEnqueue(job jobs.Job) error
}

// PaymentRecordedPayload describes a receipt email.
type PaymentRecordedPayload struct {
	StudentID string
	CourseID  string
	Month     string
	Amount    string
	Method    models.PaymentMethod
	NextDue   time.Time
}

// UnblockDecidedPayload describes the answer to an unblock request.
type UnblockDecidedPayload struct {
	StudentID string
	CourseID  string
	Decision  string
	Note      string
}

// EnrollmentBlockedPayload describes a block notice.
type EnrollmentBlockedPayload struct {
	StudentID string
	CourseID  string
	NextDue   time.Time
}

// NotificationService turns billing events into queued emails.
type NotificationService struct {
	students notificationStudentReader
	mail     mailer.Mailer
	queue    notificationQueue
	logger   *zap.Logger
}

// NewNotificationService constructs the service. The queue is attached later
// because the queue handler is the service itself.
func NewNotificationService(students notificationStudentReader, mail mailer.Mailer, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{students: students, mail: mail, logger: logger}
}

// Attach wires the queue that carries notification jobs.
func (s *NotificationService) Attach(queue notificationQueue) {
	s.queue = queue
}

// PaymentRecorded queues a receipt for a freshly recorded payment.
func (s *NotificationService) PaymentRecorded(e models.Enrollment, tx models.Transaction, nextDue time.Time) {
	s.enqueue(JobPaymentRecorded, PaymentRecordedPayload{
		StudentID: e.StudentID,
		CourseID:  e.CourseID,
		Month:     tx.Month,
		Amount:    tx.Amount.StringFixed(2),
		Method:    tx.Method,
		NextDue:   nextDue,
	})
}

// UnblockDecided queues the outcome of an unblock request.
func (s *NotificationService) UnblockDecided(e models.Enrollment, decision, note string) {
	s.enqueue(JobUnblockDecided, UnblockDecidedPayload{
		StudentID: e.StudentID,
		CourseID:  e.CourseID,
		Decision:  decision,
		Note:      note,
	})
}

// EnrollmentBlocked queues a block notice.
func (s *NotificationService) EnrollmentBlocked(e models.Enrollment) {
	s.enqueue(JobEnrollmentBlocked, EnrollmentBlockedPayload{
		StudentID: e.StudentID,
		CourseID:  e.CourseID,
		NextDue:   e.NextDue,
	})
}

func (s *NotificationService) enqueue(jobType string, payload interface{}) {
	if s == nil {
		return
	}
	if s.queue == nil {
		s.logger.Warn("notification dropped, queue not attached", zap.String("type", jobType))
		return
	}
	job := jobs.Job{ID: uuid.NewString(), Type: jobType, Payload: payload}
	if err := s.queue.TryEnqueue(job); err != nil {
		s.logger.Warn("notification not queued", zap.String("type", jobType), zap.Error(err))
	}
}

// Handle is the queue handler that renders and sends one notification.
func (s *NotificationService) Handle(ctx context.Context, job jobs.Job) error {
	studentID, msg, err := render(job)
	if err != nil {
		s.logger.Error("drop malformed notification", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}

	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("drop notification for unknown student", zap.String("student_id", studentID))
			return nil
		}
		return fmt.Errorf("load student %s: %w", studentID, err)
	}
	if student.Email == "" {
		return nil
	}
	msg.ToName = student.FullName
	msg.ToEmail = student.Email

	if err := s.mail.Send(ctx, msg); err != nil {
		return err
	}
	s.logger.Info("notification sent", zap.String("type", job.Type), zap.String("student_id", studentID))
	return nil
}

func render(job jobs.Job) (string, mailer.Message, error) {
	switch p := job.Payload.(type) {
	case PaymentRecordedPayload:
		return p.StudentID, mailer.Message{
			Subject: "Payment received for " + p.Month,
			Text: fmt.Sprintf("We recorded your %s payment of %s for course %s covering %s. Your next payment is due on %s.",
				p.Method, p.Amount, p.CourseID, p.Month, p.NextDue.Format("2 January 2006")),
		}, nil
	case UnblockDecidedPayload:
		text := fmt.Sprintf("Your unblock request for course %s was %s.", p.CourseID, p.Decision)
		if p.Note != "" {
			text += " Note: " + p.Note
		}
		return p.StudentID, mailer.Message{Subject: "Unblock request " + p.Decision, Text: text}, nil
	case EnrollmentBlockedPayload:
		return p.StudentID, mailer.Message{
			Subject: "Course access blocked",
			Text: fmt.Sprintf("Access to course %s is blocked because the fee due on %s is unpaid. Pay the outstanding fee or request an unblock.",
				p.CourseID, p.NextDue.Format("2 January 2006")),
		}, nil
	default:
		return "", mailer.Message{}, fmt.Errorf("unknown notification %q", job.Type)
	}
}

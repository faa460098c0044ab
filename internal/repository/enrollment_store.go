package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/noah-isme/lms-billing-api/internal/models"
)

// EnrollmentStore is the enrollment ledger contract implemented by both the
// PostgreSQL and the MongoDB backends. STORAGE_DRIVER selects one at startup.
type EnrollmentStore interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindByCourseAndStudent(ctx context.Context, courseID, studentID string) (*models.Enrollment, error)
	ListByCourse(ctx context.Context, courseID string) ([]models.Enrollment, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	ListPayments(ctx context.Context, enrollmentID string) ([]models.Transaction, error)
	ListCoursePayments(ctx context.Context, courseID string) ([]models.LedgerEntry, error)
	FindPaymentByKey(ctx context.Context, enrollmentID, key string) (*models.Transaction, error)
	AppendPayment(ctx context.Context, in models.PaymentAppend) error
	UpdateUnblock(ctx context.Context, update models.UnblockUpdate) error
	SetBlocked(ctx context.Context, id string, at time.Time) (bool, error)
	ListBlockCandidates(ctx context.Context, cutoff, now time.Time, limit int) ([]models.Enrollment, error)
	ExpirePendingUnblocks(ctx context.Context, before, now time.Time) (int64, error)
}

var (
	_ EnrollmentStore = (*EnrollmentRepository)(nil)
	_ EnrollmentStore = (*EnrollmentMongoRepository)(nil)
)

// NewEnrollmentStore returns the backend selected by driver. The MongoDB
// backend gets its unique (course, student) index ensured first.
func NewEnrollmentStore(ctx context.Context, driver string, db *sqlx.DB, mdb *mongo.Database) (EnrollmentStore, error) {
	switch driver {
	case "", "postgres":
		return NewEnrollmentRepository(db), nil
	case "mongo":
		if mdb == nil {
			return nil, fmt.Errorf("mongo storage selected without a database")
		}
		store := NewEnrollmentMongoRepository(mdb)
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

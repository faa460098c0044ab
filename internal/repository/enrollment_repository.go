package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-billing-api/internal/models"
	"github.com/noah-isme/lms-billing-api/pkg/database"
)

const (
	enrollmentColumns  = "id, course_id, student_id, next_due, monthly_fee, blocked_at, block_override_until, unblock_status, unblock_requested_at, unblock_decided_at, unblock_decided_by, unblock_decision, unblock_note, created_at, updated_at"
	transactionColumns = "id, enrollment_id, amount, method, month_count, month, period_start, period_end, idempotency_key, recorded_by, paid_at, created_at"
)

// EnrollmentRepository persists billing enrollments and their fee ledger in PostgreSQL.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// FindByID returns an enrollment without its payment history.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf("SELECT %s FROM enrollments WHERE id = $1", enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	utcEnrollment(&enrollment)
	return &enrollment, nil
}

// FindByCourseAndStudent returns the enrollment linking a student to a course.
func (r *EnrollmentRepository) FindByCourseAndStudent(ctx context.Context, courseID, studentID string) (*models.Enrollment, error) {
	query := fmt.Sprintf("SELECT %s FROM enrollments WHERE course_id = $1 AND student_id = $2", enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, courseID, studentID); err != nil {
		return nil, err
	}
	utcEnrollment(&enrollment)
	return &enrollment, nil
}

// ListByCourse returns every enrollment of a course ordered by student.
func (r *EnrollmentRepository) ListByCourse(ctx context.Context, courseID string) ([]models.Enrollment, error) {
	query := fmt.Sprintf("SELECT %s FROM enrollments WHERE course_id = $1 ORDER BY student_id ASC", enrollmentColumns)
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, courseID); err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	utcEnrollments(enrollments)
	return enrollments, nil
}

// Create inserts a new enrollment.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.UnblockStatus == "" {
		enrollment.UnblockStatus = models.UnblockNone
	}
	const query = `INSERT INTO enrollments (id, course_id, student_id, next_due, monthly_fee, unblock_status, created_at, updated_at)
        VALUES (:id, :course_id, :student_id, :next_due, :monthly_fee, :unblock_status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// ListPayments returns the payment history of an enrollment in chronological order.
func (r *EnrollmentRepository) ListPayments(ctx context.Context, enrollmentID string) ([]models.Transaction, error) {
	query := fmt.Sprintf("SELECT %s FROM fee_transactions WHERE enrollment_id = $1 ORDER BY period_start ASC, created_at ASC", transactionColumns)
	var txs []models.Transaction
	if err := r.db.SelectContext(ctx, &txs, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	for i := range txs {
		utcTransaction(&txs[i])
	}
	return txs, nil
}

// ListCoursePayments returns every transaction of a course joined with its student.
func (r *EnrollmentRepository) ListCoursePayments(ctx context.Context, courseID string) ([]models.LedgerEntry, error) {
	const query = `SELECT t.id, t.enrollment_id, t.amount, t.method, t.month_count, t.month, t.period_start, t.period_end,
        t.idempotency_key, t.recorded_by, t.paid_at, t.created_at, e.student_id
        FROM fee_transactions t
        JOIN enrollments e ON e.id = t.enrollment_id
        WHERE e.course_id = $1
        ORDER BY e.student_id ASC, t.period_start ASC`
	var entries []models.LedgerEntry
	if err := r.db.SelectContext(ctx, &entries, query, courseID); err != nil {
		return nil, fmt.Errorf("list course payments: %w", err)
	}
	for i := range entries {
		utcTransaction(&entries[i].Transaction)
	}
	return entries, nil
}

// FindPaymentByKey returns the transaction recorded under an idempotency key.
func (r *EnrollmentRepository) FindPaymentByKey(ctx context.Context, enrollmentID, key string) (*models.Transaction, error) {
	query := fmt.Sprintf("SELECT %s FROM fee_transactions WHERE enrollment_id = $1 AND idempotency_key = $2", transactionColumns)
	var tx models.Transaction
	if err := r.db.GetContext(ctx, &tx, query, enrollmentID, key); err != nil {
		return nil, err
	}
	utcTransaction(&tx)
	return &tx, nil
}

// AppendPayment advances next_due and inserts the transaction in one database
// transaction. The update only applies while next_due still equals the value the
// caller read; otherwise ErrStaleWrite is returned and nothing is written.
func (r *EnrollmentRepository) AppendPayment(ctx context.Context, in models.PaymentAppend) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		set := "next_due = $3, updated_at = $4"
		if in.ClearBlock {
			set += ", blocked_at = NULL, unblock_status = 'none'"
		}
		query := fmt.Sprintf("UPDATE enrollments SET %s WHERE id = $1 AND next_due = $2", set)
		res, err := tx.ExecContext(ctx, query, in.EnrollmentID, in.ExpectedNextDue, in.NewNextDue, in.UpdatedAt)
		if err != nil {
			return fmt.Errorf("advance next due: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("advance next due rows: %w", err)
		}
		if affected == 0 {
			return ErrStaleWrite
		}

		const insert = `INSERT INTO fee_transactions (id, enrollment_id, amount, method, month_count, month, period_start, period_end, idempotency_key, recorded_by, paid_at, created_at)
            VALUES (:id, :enrollment_id, :amount, :method, :month_count, :month, :period_start, :period_end, :idempotency_key, :recorded_by, :paid_at, :created_at)`
		if _, err := tx.NamedExecContext(ctx, insert, in.Transaction); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicatePayment
			}
			return fmt.Errorf("insert transaction: %w", err)
		}
		return nil
	})
}

// UpdateUnblock moves the unblock state from update.From to update.To.
func (r *EnrollmentRepository) UpdateUnblock(ctx context.Context, update models.UnblockUpdate) error {
	sets := []string{"unblock_status = $3", "updated_at = $4"}
	args := []interface{}{update.EnrollmentID, update.From, update.To, update.UpdatedAt}
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.RequestedAt != nil {
		add("unblock_requested_at", *update.RequestedAt)
	}
	if update.DecidedAt != nil {
		add("unblock_decided_at", *update.DecidedAt)
	}
	if update.DecidedBy != nil {
		add("unblock_decided_by", *update.DecidedBy)
	}
	if update.Decision != nil {
		add("unblock_decision", *update.Decision)
	}
	if update.Note != nil {
		add("unblock_note", *update.Note)
	}
	if update.OverrideUntil != nil {
		add("block_override_until", *update.OverrideUntil)
	}
	if update.ClearBlock {
		sets = append(sets, "blocked_at = NULL")
	}

	query := fmt.Sprintf("UPDATE enrollments SET %s WHERE id = $1 AND unblock_status = $2", strings.Join(sets, ", "))
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update unblock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update unblock rows: %w", err)
	}
	if affected == 0 {
		return ErrStaleWrite
	}
	return nil
}

// SetBlocked stores the block flag when the enrollment is not already blocked.
// It reports whether a row changed.
func (r *EnrollmentRepository) SetBlocked(ctx context.Context, id string, at time.Time) (bool, error) {
	const query = `UPDATE enrollments SET blocked_at = $2, block_override_until = NULL, unblock_status = 'none', updated_at = $2
        WHERE id = $1 AND blocked_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("set blocked: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set blocked rows: %w", err)
	}
	return affected > 0, nil
}

// ListBlockCandidates returns unblocked enrollments due on or before cutoff
// whose approved override, if any, has lapsed at now.
func (r *EnrollmentRepository) ListBlockCandidates(ctx context.Context, cutoff, now time.Time, limit int) ([]models.Enrollment, error) {
	if limit <= 0 {
		limit = 500
	}
	query := fmt.Sprintf(`SELECT %s FROM enrollments
        WHERE blocked_at IS NULL AND next_due <= $1 AND (block_override_until IS NULL OR block_override_until <= $2)
        ORDER BY next_due ASC LIMIT $3`, enrollmentColumns)
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, cutoff, now, limit); err != nil {
		return nil, fmt.Errorf("list block candidates: %w", err)
	}
	utcEnrollments(enrollments)
	return enrollments, nil
}

// ExpirePendingUnblocks reverts pending requests made before the given instant.
func (r *EnrollmentRepository) ExpirePendingUnblocks(ctx context.Context, before, now time.Time) (int64, error) {
	const query = `UPDATE enrollments SET unblock_status = 'none', unblock_decision = $3, unblock_decided_at = $2, updated_at = $2
        WHERE unblock_status = 'pending' AND unblock_requested_at < $1`
	res, err := r.db.ExecContext(ctx, query, before, now, models.UnblockDecisionExpired)
	if err != nil {
		return 0, fmt.Errorf("expire unblock requests: %w", err)
	}
	return res.RowsAffected()
}

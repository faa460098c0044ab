package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-billing-api/internal/billing"
	"github.com/noah-isme/lms-billing-api/internal/models"
)

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var enrollmentRowColumns = []string{"id", "course_id", "student_id", "next_due", "monthly_fee", "blocked_at", "block_override_until", "unblock_status", "unblock_requested_at", "unblock_decided_at", "unblock_decided_by", "unblock_decision", "unblock_note", "created_at", "updated_at"}

func TestEnrollmentRepositoryFindByCourseAndStudent(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	due := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(enrollmentRowColumns).
		AddRow("enr-1", "course-1", "stu-1", due, "500.00", nil, nil, "none", nil, nil, nil, nil, nil, due, due)
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE course_id = $1 AND student_id = $2")).
		WithArgs("course-1", "stu-1").
		WillReturnRows(rows)

	enrollment, err := repo.FindByCourseAndStudent(context.Background(), "course-1", "stu-1")
	require.NoError(t, err)
	assert.Equal(t, "enr-1", enrollment.ID)
	assert.True(t, decimal.NewFromInt(500).Equal(enrollment.MonthlyFee))
	assert.Equal(t, models.UnblockNone, enrollment.UnblockStatus)
	assert.Nil(t, enrollment.BlockedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryScansDatesAsUTC(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	// what a session running at UTC-3 returns for 2025-01-01T00:00Z
	session := time.FixedZone("UTC-3", -3*60*60)
	due := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC).In(session)
	blocked := time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC).In(session)
	rows := sqlmock.NewRows(enrollmentRowColumns).
		AddRow("enr-1", "course-1", "stu-1", due, "500.00", blocked, nil, "none", nil, nil, nil, nil, nil, due, due)
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE id = $1")).
		WithArgs("enr-1").
		WillReturnRows(rows)

	enrollment, err := repo.FindByID(context.Background(), "enr-1")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, enrollment.NextDue.Location())
	assert.Equal(t, time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC), enrollment.NextDue)
	require.NotNil(t, enrollment.BlockedAt)
	assert.Equal(t, time.UTC, enrollment.BlockedAt.Location())
	assert.Equal(t, "January 2025 to March 2025", billing.CycleLabel(enrollment.NextDue, 3))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryScansPaymentPeriodsAsUTC(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	session := time.FixedZone("UTC-3", -3*60*60)
	start := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC).In(session)
	end := time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC).In(session)
	rows := sqlmock.NewRows([]string{"id", "enrollment_id", "amount", "method", "month_count", "month", "period_start", "period_end", "idempotency_key", "recorded_by", "paid_at", "created_at"}).
		AddRow("tx-1", "enr-1", "500.00", "Cash", 1, "March 2025", start, end, "key-1", nil, start, start)
	mock.ExpectQuery(regexp.QuoteMeta("FROM fee_transactions WHERE enrollment_id = $1 AND idempotency_key = $2")).
		WithArgs("enr-1", "key-1").
		WillReturnRows(rows)

	tx, err := repo.FindPaymentByKey(context.Background(), "enr-1", "key-1")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC), tx.PeriodStart)
	assert.Equal(t, time.UTC, tx.PeriodEnd.Location())
	assert.Equal(t, time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC), billing.AddMonths(tx.PeriodStart, 1))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreateDuplicate(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollments")).
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &models.Enrollment{ID: "enr-1", CourseID: "course-1", StudentID: "stu-1"})
	require.ErrorIs(t, err, ErrDuplicateKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func paymentAppend() models.PaymentAppend {
	due := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	next := time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, time.January, 3, 10, 0, 0, 0, time.UTC)
	return models.PaymentAppend{
		EnrollmentID:    "enr-1",
		ExpectedNextDue: due,
		NewNextDue:      next,
		UpdatedAt:       now,
		Transaction: models.Transaction{
			ID:             "tx-1",
			EnrollmentID:   "enr-1",
			Amount:         decimal.NewFromInt(1500),
			Method:         models.PaymentMethodCash,
			MonthCount:     3,
			Month:          "January 2025 to March 2025",
			PeriodStart:    due,
			PeriodEnd:      next,
			IdempotencyKey: "key-1",
			PaidAt:         now,
			CreatedAt:      now,
		},
	}
}

func TestEnrollmentRepositoryAppendPayment(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)
	in := paymentAppend()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET next_due = $3, updated_at = $4 WHERE id = $1 AND next_due = $2")).
		WithArgs(in.EnrollmentID, in.ExpectedNextDue, in.NewNextDue, in.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO fee_transactions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.AppendPayment(context.Background(), in))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryAppendPaymentClearsBlock(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)
	in := paymentAppend()
	in.ClearBlock = true

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("blocked_at = NULL, unblock_status = 'none' WHERE id = $1 AND next_due = $2")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO fee_transactions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.AppendPayment(context.Background(), in))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryAppendPaymentStale(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET next_due")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.AppendPayment(context.Background(), paymentAppend())
	require.ErrorIs(t, err, ErrStaleWrite)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryAppendPaymentDuplicateKey(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET next_due")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO fee_transactions")).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := repo.AppendPayment(context.Background(), paymentAppend())
	require.ErrorIs(t, err, ErrDuplicatePayment)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryUpdateUnblockApprove(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	until := now.Add(7 * 24 * time.Hour)
	admin := "admin-1"
	decision := models.UnblockDecisionApproved

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET unblock_status = $3, updated_at = $4, unblock_decided_at = $5, unblock_decided_by = $6, unblock_decision = $7, block_override_until = $8, blocked_at = NULL WHERE id = $1 AND unblock_status = $2")).
		WithArgs("enr-1", models.UnblockPending, models.UnblockApproved, now, now, admin, decision, until).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateUnblock(context.Background(), models.UnblockUpdate{
		EnrollmentID:  "enr-1",
		From:          models.UnblockPending,
		To:            models.UnblockApproved,
		DecidedAt:     &now,
		DecidedBy:     &admin,
		Decision:      &decision,
		ClearBlock:    true,
		OverrideUntil: &until,
		UpdatedAt:     now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryUpdateUnblockStale(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET unblock_status")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateUnblock(context.Background(), models.UnblockUpdate{
		EnrollmentID: "enr-1",
		From:         models.UnblockNone,
		To:           models.UnblockPending,
		UpdatedAt:    time.Now(),
	})
	require.ErrorIs(t, err, ErrStaleWrite)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositorySetBlocked(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)
	at := time.Date(2025, time.February, 1, 0, 15, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND blocked_at IS NULL")).
		WithArgs("enr-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND blocked_at IS NULL")).
		WithArgs("enr-1", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := repo.SetBlocked(context.Background(), "enr-1", at)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.SetBlocked(context.Background(), "enr-1", at)
	require.NoError(t, err)
	assert.False(t, changed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListBlockCandidates(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	cutoff := time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)
	now := cutoff.Add(30 * 24 * time.Hour)
	due := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(enrollmentRowColumns).
		AddRow("enr-1", "course-1", "stu-1", due, "500", nil, nil, "none", nil, nil, nil, nil, nil, due, due)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE blocked_at IS NULL AND next_due <= $1")).
		WithArgs(cutoff, now, 500).
		WillReturnRows(rows)

	candidates, err := repo.ListBlockCandidates(context.Background(), cutoff, now, 0)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryExpirePendingUnblocks(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)
	before := now.Add(-72 * time.Hour)
	mock.ExpectExec(regexp.QuoteMeta("WHERE unblock_status = 'pending' AND unblock_requested_at < $1")).
		WithArgs(before, now, models.UnblockDecisionExpired).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.ExpirePendingUnblocks(context.Background(), before, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListPayments(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "enrollment_id", "amount", "method", "month_count", "month", "period_start", "period_end", "idempotency_key", "recorded_by", "paid_at", "created_at"}).
		AddRow("tx-1", "enr-1", "1500", "Cash", 3, "January 2025 to March 2025", start, end, "key-1", "admin-1", start, start)
	mock.ExpectQuery(regexp.QuoteMeta("FROM fee_transactions WHERE enrollment_id = $1 ORDER BY period_start ASC")).
		WithArgs("enr-1").
		WillReturnRows(rows)

	txs, err := repo.ListPayments(context.Background(), "enr-1")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, models.PaymentMethodCash, txs[0].Method)
	assert.Equal(t, "January 2025 to March 2025", txs[0].Month)
	require.NotNil(t, txs[0].RecordedBy)
	assert.Equal(t, "admin-1", *txs[0].RecordedBy)
	require.NoError(t, mock.ExpectationsWereMet())
}

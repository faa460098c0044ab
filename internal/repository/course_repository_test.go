package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCourseRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	rows := sqlmock.NewRows([]string{"id", "title", "monthly_fee", "currency", "active", "created_at"}).
		AddRow("course-1", "Go Fundamentals", "299.99", "IDR", true, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, title, monthly_fee, currency, active, created_at FROM courses WHERE id = $1")).
		WithArgs("course-1").
		WillReturnRows(rows)

	course, err := repo.FindByID(context.Background(), "course-1")
	require.NoError(t, err)
	assert.Equal(t, "Go Fundamentals", course.Title)
	assert.True(t, decimal.RequireFromString("299.99").Equal(course.MonthlyFee))
	require.NoError(t, mock.ExpectationsWereMet())
}

package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-billing-api/internal/models"
)

func TestStudentRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, full_name, email FROM students WHERE id = $1")).
		WithArgs("stu-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "full_name", "email"}).AddRow("stu-1", "Siti Rahma", "siti@example.com"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, full_name, email FROM students WHERE id = $1")).
		WithArgs("stu-2").
		WillReturnError(sql.ErrNoRows)

	student, err := repo.FindByID(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.Equal(t, &models.Student{ID: "stu-1", FullName: "Siti Rahma", Email: "siti@example.com"}, student)

	_, err = repo.FindByID(context.Background(), "stu-2")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/parroquia-tech/catequesis-api/internal/models"
)

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestEnrollmentRepositoryExistsActiveForCatechumenInGroup(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM enrollments WHERE catechumen_id = $1 AND group_id = $2 AND status IN ('PENDING', 'ACTIVE') LIMIT 1")).
		WithArgs("cat-1", "grp-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	exists, err := repo.ExistsActiveForCatechumenInGroup(context.Background(), "cat-1", "grp-1")
	require.NoError(t, err)
	require.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryExistsActiveNoRows(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery("SELECT 1 FROM enrollments").
		WithArgs("cat-1", "grp-1").
		WillReturnError(sql.ErrNoRows)

	exists, err := repo.ExistsActiveForCatechumenInGroup(context.Background(), "cat-1", "grp-1")
	require.NoError(t, err)
	require.False(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec("INSERT INTO enrollments").
		WillReturnResult(sqlmock.NewResult(0, 1))

	enrollment := &models.Enrollment{
		CatechumenID: "cat-1",
		GroupID:      "grp-1",
		ParishID:     "par-1",
		Status:       models.EnrollmentStatusPending,
	}
	err := repo.Create(context.Background(), enrollment)
	require.NoError(t, err)
	require.NotEmpty(t, enrollment.ID)
	require.False(t, enrollment.EnrolledAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryUpdateRollup(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec("UPDATE enrollments SET sessions_total").
		WithArgs("enr-1", 8, 7, 87.5).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateRollup(context.Background(), "enr-1", 8, 7, 87.5)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryMarkPaymentPaidNotFound(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec("UPDATE enrollment_payments SET paid = TRUE").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkPaymentPaid(context.Background(), "enr-1", "pay-404", time.Now().UTC(), nil, nil)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListPayments(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "enrollment_id", "concept", "label", "amount", "paid", "paid_at", "method", "receipt", "created_at", "updated_at"}).
		AddRow("pay-1", "enr-1", models.PaymentConceptRegistration, "Registration", 25.0, true, now, nil, nil, now, now).
		AddRow("pay-2", "enr-1", models.PaymentConceptMaterials, "Materials", 15.0, false, nil, nil, nil, now, now)
	mock.ExpectQuery("SELECT id, enrollment_id, concept").
		WithArgs("enr-1").
		WillReturnRows(rows)

	payments, err := repo.ListPayments(context.Background(), "enr-1")
	require.NoError(t, err)
	require.Len(t, payments, 2)

	totals := models.ComputePaymentTotals(payments)
	require.InDelta(t, 40.0, totals.TotalDue, 0.0001)
	require.InDelta(t, 25.0, totals.TotalPaid, 0.0001)
	require.InDelta(t, 15.0, totals.Pending, 0.0001)
	require.False(t, totals.FullyPaid)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryDelete(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM enrollment_payments").WithArgs("enr-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM enrollment_grades").WithArgs("enr-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM enrollment_observations").WithArgs("enr-1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM enrollments").WithArgs("enr-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Delete(context.Background(), "enr-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/parroquia-tech/catequesis-api/internal/models"
)

func newAttendanceRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestAttendanceRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newAttendanceRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectQuery("INSERT INTO attendance").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("att-1"))

	record := &models.Attendance{
		EnrollmentID: "enr-1",
		Date:         time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC),
		Present:      true,
		ClassType:    models.ClassTypeRegular,
		RecordedBy:   "user-1",
	}
	err := repo.Create(context.Background(), record)
	require.NoError(t, err)
	require.NotEmpty(t, record.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryCreateDuplicateDate(t *testing.T) {
	db, mock, cleanup := newAttendanceRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	// ON CONFLICT DO NOTHING returns no rows for an existing (enrollment, day) pair.
	mock.ExpectQuery("INSERT INTO attendance").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	record := &models.Attendance{
		EnrollmentID: "enr-1",
		Date:         time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC),
		Present:      false,
		ClassType:    models.ClassTypeRegular,
		RecordedBy:   "user-1",
	}
	err := repo.Create(context.Background(), record)
	require.ErrorIs(t, err, ErrDuplicateAttendance)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryExistsForDay(t *testing.T) {
	db, mock, cleanup := newAttendanceRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	day := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("enr-1", day).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.ExistsForDay(context.Background(), "enr-1", day)
	require.NoError(t, err)
	require.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositorySummaryForEnrollment(t *testing.T) {
	db, mock, cleanup := newAttendanceRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	rows := sqlmock.NewRows([]string{"total", "present"}).AddRow(8, 7)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) AS total")).
		WithArgs("enr-1").
		WillReturnRows(rows)

	summary, err := repo.SummaryForEnrollment(context.Background(), "enr-1")
	require.NoError(t, err)
	require.Equal(t, 8, summary.Total)
	require.Equal(t, 7, summary.Present)
	require.Equal(t, 1, summary.Absent)
	require.InDelta(t, 87.5, summary.Percent, 0.0001)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositorySummaryEmpty(t *testing.T) {
	db, mock, cleanup := newAttendanceRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	rows := sqlmock.NewRows([]string{"total", "present"}).AddRow(0, 0)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) AS total")).
		WithArgs("enr-1").
		WillReturnRows(rows)

	summary, err := repo.SummaryForEnrollment(context.Background(), "enr-1")
	require.NoError(t, err)
	require.Zero(t, summary.Total)
	require.Zero(t, summary.Percent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryGroupStats(t *testing.T) {
	db, mock, cleanup := newAttendanceRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	rows := sqlmock.NewRows([]string{
		"sessions", "present", "absent", "justified_absences",
		"late_arrivals", "early_departures", "distinct_dates", "distinct_catechumens",
	}).AddRow(40, 30, 10, 4, 3, 1, 8, 5)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) AS sessions").
		WithArgs("grp-1").
		WillReturnRows(rows)

	stats, err := repo.GroupStats(context.Background(), "grp-1", nil, nil)
	require.NoError(t, err)
	require.Equal(t, 40, stats.Sessions)
	require.InDelta(t, 75.0, stats.Percent, 0.0001)
	require.InDelta(t, 3.75, stats.AvgPresentPerDate, 0.0001)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryMarkNotified(t *testing.T) {
	db, mock, cleanup := newAttendanceRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectExec("UPDATE attendance SET absence_notified = TRUE").
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := repo.MarkNotified(context.Background(), []string{"att-1", "att-2"}, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryMarkNotifiedEmpty(t *testing.T) {
	db, mock, cleanup := newAttendanceRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	// No IDs, no round trip.
	err := repo.MarkNotified(context.Background(), nil, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

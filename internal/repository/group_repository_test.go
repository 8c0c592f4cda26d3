package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newGroupRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestGroupRepositoryCountActiveEnrollments(t *testing.T) {
	db, mock, cleanup := newGroupRepoMock(t)
	defer cleanup()
	repo := NewGroupRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments WHERE group_id = $1 AND active = TRUE")).
		WithArgs("grp-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(19))

	count, err := repo.CountActiveEnrollments(context.Background(), "grp-1")
	require.NoError(t, err)
	require.Equal(t, 19, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupRepositoryIsCatechistAssigned(t *testing.T) {
	db, mock, cleanup := newGroupRepoMock(t)
	defer cleanup()
	repo := NewGroupRepository(db)

	mock.ExpectQuery("SELECT 1 FROM group_catechists").
		WithArgs("grp-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	assigned, err := repo.IsCatechistAssigned(context.Background(), "grp-1", "user-1")
	require.NoError(t, err)
	require.True(t, assigned)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupRepositoryIsCatechistAssignedNoRows(t *testing.T) {
	db, mock, cleanup := newGroupRepoMock(t)
	defer cleanup()
	repo := NewGroupRepository(db)

	mock.ExpectQuery("SELECT 1 FROM group_catechists").
		WithArgs("grp-1", "user-2").
		WillReturnError(sql.ErrNoRows)

	assigned, err := repo.IsCatechistAssigned(context.Background(), "grp-1", "user-2")
	require.NoError(t, err)
	require.False(t, assigned)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupRepositoryRefreshStats(t *testing.T) {
	db, mock, cleanup := newGroupRepoMock(t)
	defer cleanup()
	repo := NewGroupRepository(db)

	mock.ExpectExec("UPDATE groups SET").
		WithArgs("grp-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.RefreshStats(context.Background(), "grp-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupRepositoryRemoveCatechistNotFound(t *testing.T) {
	db, mock, cleanup := newGroupRepoMock(t)
	defer cleanup()
	repo := NewGroupRepository(db)

	mock.ExpectExec("UPDATE group_catechists SET active = FALSE").
		WithArgs("grp-1", "user-404").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.RemoveCatechist(context.Background(), "grp-1", "user-404")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

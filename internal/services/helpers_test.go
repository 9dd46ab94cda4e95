package services

import (
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

// expectPointsChange queues the statements ChangeTx issues for a change that
// starts from balance/total and succeeds.
func expectPointsChange(mock sqlmock.Sqlmock, userID int64, balance, total, delta, action int) {
	mock.ExpectExec(`INSERT INTO user_points`).WithArgs(userID).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT points, total_points FROM user_points WHERE user_id = \$1 FOR UPDATE`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"points", "total_points"}).AddRow(balance, total))
	newTotal := total
	if delta > 0 {
		newTotal += delta
	}
	mock.ExpectExec(`UPDATE user_points SET points`).
		WithArgs(userID, balance+delta, newTotal).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO points_records`).
		WithArgs(userID, delta, action, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
}

// expectActionPoints queues the point_actions lookup.
func expectActionPoints(mock sqlmock.Sqlmock, action, points int) {
	mock.ExpectQuery(`SELECT points FROM point_actions WHERE action_code = \$1`).
		WithArgs(action).
		WillReturnRows(sqlmock.NewRows([]string{"points"}).AddRow(points))
}

var testTime = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

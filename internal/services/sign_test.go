package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/flowerwine/filebounty-backend/internal/apperr"
	"github.com/flowerwine/filebounty-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var signToday = time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

func newSignService(t *testing.T) (*SignService, sqlmock.Sqlmock) {
	db, mock := newMockDB(t)
	svc := NewSignService(db, NewPointsService(db))
	svc.now = func() time.Time { return signToday }
	return svc, mock
}

func expectBitmap(mock sqlmock.Sqlmock, bitmap int64) {
	mock.ExpectExec(`INSERT INTO user_sign_records`).WithArgs(int64(1), 2024, 3).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT sign_bitmap FROM user_sign_records .* FOR UPDATE`).WithArgs(int64(1), 2024, 3).
		WillReturnRows(sqlmock.NewRows([]string{"sign_bitmap"}).AddRow(bitmap))
}

func cycleRows(current int, last time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "cycle_start_date", "cycle_length", "current_sign_day", "last_sign_date"}).
		AddRow(7, last.AddDate(0, 0, -(current-1)), 7, current, last)
}

func expectNewCycle(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`INSERT INTO user_sign_cycles`).WithArgs(int64(1), "2024-03-15", 7, models.CycleInProgress).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(8))
}

func expectRewards(mock sqlmock.Sqlmock, day, extra, balance int) {
	expectActionPoints(mock, models.ActionSignIn, 5)
	expectPointsChange(mock, 1, balance, balance, 5, models.ActionSignIn)
	rule := sqlmock.NewRows([]string{"reward_points"})
	if extra > 0 {
		rule.AddRow(extra)
	}
	mock.ExpectQuery(`SELECT reward_points FROM sign_reward_rules`).WithArgs(day).WillReturnRows(rule)
	if extra > 0 {
		expectPointsChange(mock, 1, balance+5, balance+5, extra, models.ActionContinuousSign)
	}
}

func TestSignIn_FirstEver(t *testing.T) {
	svc, mock := newSignService(t)
	mock.ExpectBegin()
	expectBitmap(mock, 0)
	mock.ExpectExec(`UPDATE user_sign_records SET sign_bitmap`).WithArgs(int64(1), 2024, 3, int64(1<<14)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM user_sign_cycles WHERE user_id = \$1 AND status = 1 FOR UPDATE`).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "cycle_start_date", "cycle_length", "current_sign_day", "last_sign_date"}))
	expectNewCycle(mock)
	expectRewards(mock, 1, 0, 0)
	mock.ExpectCommit()

	res, err := svc.SignIn(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ContinuousDays)
	assert.Equal(t, 5, res.EarnedPoints)
	assert.Equal(t, "2024-03-15", res.SignDate)
	assert.False(t, res.CycleCompleted)
}

func TestSignIn_ContinuousWithBonus(t *testing.T) {
	svc, mock := newSignService(t)
	yesterday := time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	expectBitmap(mock, 1<<13)
	mock.ExpectExec(`UPDATE user_sign_records`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM user_sign_cycles`).WithArgs(int64(1)).WillReturnRows(cycleRows(2, yesterday))
	mock.ExpectExec(`UPDATE user_sign_cycles SET current_sign_day`).WithArgs(int64(7), 3, "2024-03-15").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectRewards(mock, 3, 5, 10)
	mock.ExpectCommit()

	res, err := svc.SignIn(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ContinuousDays)
	assert.Equal(t, 10, res.EarnedPoints)
}

func TestSignIn_GapEndsCycle(t *testing.T) {
	svc, mock := newSignService(t)
	threeDaysAgo := time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	expectBitmap(mock, 0)
	mock.ExpectExec(`UPDATE user_sign_records`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM user_sign_cycles`).WithArgs(int64(1)).WillReturnRows(cycleRows(4, threeDaysAgo))
	mock.ExpectExec(`UPDATE user_sign_cycles SET status`).WithArgs(int64(7), models.CycleEnded).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectNewCycle(mock)
	expectRewards(mock, 1, 0, 0)
	mock.ExpectCommit()

	res, err := svc.SignIn(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ContinuousDays)
}

func TestSignIn_FullCycleRestarts(t *testing.T) {
	svc, mock := newSignService(t)
	yesterday := time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	expectBitmap(mock, 0)
	mock.ExpectExec(`UPDATE user_sign_records`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM user_sign_cycles`).WithArgs(int64(1)).WillReturnRows(cycleRows(7, yesterday))
	mock.ExpectExec(`UPDATE user_sign_cycles SET status`).WithArgs(int64(7), models.CycleCompleted).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectNewCycle(mock)
	expectRewards(mock, 1, 0, 0)
	mock.ExpectCommit()

	res, err := svc.SignIn(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ContinuousDays)
}

func TestSignIn_AlreadySigned(t *testing.T) {
	svc, mock := newSignService(t)
	mock.ExpectBegin()
	expectBitmap(mock, 1<<14)
	mock.ExpectRollback()

	_, err := svc.SignIn(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, 400, apperr.StatusOf(err))
}

func TestCalendar(t *testing.T) {
	svc, mock := newSignService(t)
	mock.ExpectQuery(`SELECT sign_bitmap FROM user_sign_records`).WithArgs(int64(1), 2024, 2).
		WillReturnRows(sqlmock.NewRows([]string{"sign_bitmap"}).AddRow(int64(1 | 1<<28)))

	cal, err := svc.Calendar(context.Background(), 1, 2024, 2)
	require.NoError(t, err)
	assert.Len(t, cal.SignDays, 29)
	assert.True(t, cal.SignDays[1])
	assert.False(t, cal.SignDays[2])
	assert.True(t, cal.SignDays[29])
}

func TestCheck_NoRecord(t *testing.T) {
	svc, mock := newSignService(t)
	mock.ExpectQuery(`SELECT sign_bitmap`).WithArgs(int64(1), 2024, 3).
		WillReturnRows(sqlmock.NewRows([]string{"sign_bitmap"}))

	signed, err := svc.Check(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, signed)
}

func TestRewards(t *testing.T) {
	svc, mock := newSignService(t)
	expectActionPoints(mock, models.ActionSignIn, 5)
	mock.ExpectQuery(`SELECT continuous_days, reward_points FROM sign_reward_rules`).
		WillReturnRows(sqlmock.NewRows([]string{"continuous_days", "reward_points"}).AddRow(3, 5).AddRow(5, 10).AddRow(7, 20))

	rewards, err := svc.Rewards(context.Background())
	require.NoError(t, err)
	require.Len(t, rewards, 7)
	assert.Equal(t, models.SignReward{Day: 7, BasePoints: 5, ExtraPoints: 20, TotalPoints: 25}, rewards[6])
	assert.Equal(t, 5, rewards[0].TotalPoints)
}

func TestRewards_Cached(t *testing.T) {
	svc, mock := newSignService(t)
	client, _ := newTestRedis(t)
	svc.WithCache(NewJSONCache(client))

	expectActionPoints(mock, models.ActionSignIn, 5)
	mock.ExpectQuery(`SELECT continuous_days, reward_points FROM sign_reward_rules`).
		WillReturnRows(sqlmock.NewRows([]string{"continuous_days", "reward_points"}).AddRow(3, 5))

	first, err := svc.Rewards(context.Background())
	require.NoError(t, err)
	// second call is served from Redis; sqlmock would fail on an extra query
	second, err := svc.Rewards(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

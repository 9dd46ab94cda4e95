package services

import (
	"context"
	"net/http"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/flowerwine/filebounty-backend/internal/apperr"
	"github.com/flowerwine/filebounty-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var taskCols = []string{"id", "user_id", "username", "avatar", "title", "description", "file_id",
	"is_free", "required_points", "status", "download_count", "view_count", "created_at", "updated_at",
	"original_name", "file_name", "file_path", "file_type", "file_size", "storage", "f_user", "f_created", "purchased"}

func taskRow(id, owner int64, free bool, status int, purchased bool) *sqlmock.Rows {
	return sqlmock.NewRows(taskCols).AddRow(id, owner, "alice", nil, "Slides", "", 44,
		freeFlag(free), map[bool]int{true: 0, false: 30}[free], status, 2, 5, testTime, testTime,
		"slides.pdf", "u.pdf", "files/u.pdf", models.FileTypeDocument, 100, models.StorageLocal, owner, testTime,
		purchased)
}

func lockedTaskRow(owner int64, free bool, points, status int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"user_id", "file_id", "is_free", "required_points", "status", "title"}).
		AddRow(owner, 44, freeFlag(free), points, status, "Slides")
}

func expectFileRow(mock sqlmock.Sqlmock, fileID, owner int64) {
	mock.ExpectQuery(`FROM file_info WHERE id = \$1`).WithArgs(fileID).WillReturnRows(
		sqlmock.NewRows([]string{"id", "original_name", "file_name", "file_path", "file_type", "file_size", "storage", "user_id", "created_at"}).
			AddRow(fileID, "slides.pdf", "u.pdf", "files/u.pdf", models.FileTypeDocument, 100, models.StorageLocal, owner, testTime))
}

func TestTaskFilterWhere(t *testing.T) {
	f := (&taskFilter{}).add("t.user_id = ?", 1).add("(t.title ILIKE ? OR t.description ILIKE ?)", "a", "a")
	assert.Equal(t, " WHERE t.user_id = $2 AND (t.title ILIKE $3 OR t.description ILIKE $4)", f.where(2))
	assert.Equal(t, " WHERE t.user_id = $1 AND (t.title ILIKE $2 OR t.description ILIKE $3)", f.where(1))
	assert.Empty(t, (&taskFilter{}).where(1))
}

func TestVisibleStatuses(t *testing.T) {
	me, other := int64(7), int64(8)
	assert.Nil(t, visibleStatuses(models.ResourceQuery{UserID: &me}, me))
	assert.Equal(t, publicStatuses, visibleStatuses(models.ResourceQuery{UserID: &other}, me))
	assert.Equal(t, publicStatuses, visibleStatuses(models.ResourceQuery{}, me))
	assert.Equal(t, []int64{models.TaskPublished},
		visibleStatuses(models.ResourceQuery{UserID: &other, Statuses: []int{models.TaskReviewing, models.TaskPublished}}, me))
	assert.Equal(t, []int64{models.TaskRejected},
		visibleStatuses(models.ResourceQuery{UserID: &me, Statuses: []int{models.TaskRejected}}, me))
}

func TestResourceCreate_FreeEarnsSubsidy(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewResourceService(db, NewPointsService(db))

	mock.ExpectBegin()
	expectFileRow(mock, 44, 7)
	mock.ExpectQuery(`FROM user_upload_files`).WithArgs(int64(44), int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`INSERT INTO user_file_tasks`).
		WithArgs(int64(7), "Slides", "", int64(44), 1, 0, models.TaskReviewing).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
	expectPointsChange(mock, 7, 10, 10, FreeFileSubsidy, models.ActionFreeFileSubsidy)
	mock.ExpectCommit()
	mock.ExpectQuery(`FROM user_file_tasks t`).WithArgs(int64(7), int64(5)).
		WillReturnRows(taskRow(5, 7, true, models.TaskReviewing, false))

	task, err := svc.Create(context.Background(), 7, models.ResourceTaskRequest{Title: "Slides", FileID: 44, IsFree: true, RequiredPoints: 50})
	require.NoError(t, err)
	assert.Equal(t, "reviewing", task.StatusText)
	assert.True(t, task.HasAccess)
	assert.True(t, task.IsMine)
}

func TestResourceCreate_ForeignFile(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewResourceService(db, NewPointsService(db))

	mock.ExpectBegin()
	expectFileRow(mock, 44, 9)
	mock.ExpectQuery(`FROM user_upload_files`).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err := svc.Create(context.Background(), 7, models.ResourceTaskRequest{Title: "Slides", FileID: 44, RequiredPoints: 5})
	assert.Equal(t, http.StatusForbidden, apperr.StatusOf(err))
}

func TestResourceDetail(t *testing.T) {
	t.Run("stranger cannot see reviewing", func(t *testing.T) {
		db, mock := newMockDB(t)
		svc := NewResourceService(db, NewPointsService(db))
		mock.ExpectQuery(`FROM user_file_tasks t`).WithArgs(int64(8), int64(5)).
			WillReturnRows(taskRow(5, 7, false, models.TaskReviewing, false))

		_, err := svc.Detail(context.Background(), 5, 8)
		assert.Equal(t, http.StatusForbidden, apperr.StatusOf(err))
	})

	t.Run("paid resource is masked until bought", func(t *testing.T) {
		db, mock := newMockDB(t)
		svc := NewResourceService(db, NewPointsService(db))
		mock.ExpectQuery(`FROM user_file_tasks t`).WithArgs(int64(8), int64(5)).
			WillReturnRows(taskRow(5, 7, false, models.TaskPublished, false))
		mock.ExpectExec(`SET view_count = view_count \+ 1`).WithArgs(int64(5)).WillReturnResult(sqlmock.NewResult(0, 1))

		task, err := svc.Detail(context.Background(), 5, 8)
		require.NoError(t, err)
		assert.False(t, task.HasAccess)
		assert.Nil(t, task.FileInfo.FileURL)
		assert.Equal(t, 6, task.ViewCount)
	})

	t.Run("buyer has access", func(t *testing.T) {
		db, mock := newMockDB(t)
		svc := NewResourceService(db, NewPointsService(db))
		mock.ExpectQuery(`FROM user_file_tasks t`).WillReturnRows(taskRow(5, 7, false, models.TaskSuccess, true))
		mock.ExpectExec(`SET view_count`).WillReturnResult(sqlmock.NewResult(0, 1))

		task, err := svc.Detail(context.Background(), 5, 8)
		require.NoError(t, err)
		assert.True(t, task.HasAccess)
	})
}

func TestResourceDownload_ChargesOnce(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewResourceService(db, NewPointsService(db))

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM user_file_tasks WHERE id = \$1 FOR UPDATE`).WithArgs(int64(5)).
		WillReturnRows(lockedTaskRow(7, false, 30, models.TaskPublished))
	mock.ExpectQuery(`FROM resource_purchases`).WithArgs(int64(5), int64(8)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	expectPointsChange(mock, 8, 50, 50, -30, models.ActionDownloadFile)
	expectPointsChange(mock, 7, 0, 100, 30, models.ActionFileDownloadIncome)
	mock.ExpectExec(`INSERT INTO resource_purchases`).WithArgs(int64(5), int64(8), 30).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET download_count = download_count \+ 1`).WithArgs(int64(5)).WillReturnResult(sqlmock.NewResult(0, 1))
	expectFileRow(mock, 44, 7)
	mock.ExpectCommit()

	info, err := svc.Download(context.Background(), 5, 8)
	require.NoError(t, err)
	assert.True(t, info.HasAccess)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(lockedTaskRow(7, false, 30, models.TaskPublished))
	mock.ExpectQuery(`FROM resource_purchases`).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(`SET download_count`).WillReturnResult(sqlmock.NewResult(0, 1))
	expectFileRow(mock, 44, 7)
	mock.ExpectCommit()

	_, err = svc.Download(context.Background(), 5, 8)
	require.NoError(t, err)
}

func TestResourceDownload_Rules(t *testing.T) {
	t.Run("unpublished", func(t *testing.T) {
		db, mock := newMockDB(t)
		svc := NewResourceService(db, NewPointsService(db))
		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(lockedTaskRow(7, true, 0, models.TaskReviewing))
		mock.ExpectRollback()

		_, err := svc.Download(context.Background(), 5, 8)
		assert.Equal(t, http.StatusForbidden, apperr.StatusOf(err))
	})

	t.Run("insufficient points", func(t *testing.T) {
		db, mock := newMockDB(t)
		svc := NewResourceService(db, NewPointsService(db))
		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(lockedTaskRow(7, false, 30, models.TaskPublished))
		mock.ExpectQuery(`FROM resource_purchases`).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec(`INSERT INTO user_points`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT points, total_points`).WillReturnRows(sqlmock.NewRows([]string{"points", "total_points"}).AddRow(5, 5))
		mock.ExpectRollback()

		_, err := svc.Download(context.Background(), 5, 8)
		assert.ErrorIs(t, err, apperr.ErrInsufficientPoints)
	})

	t.Run("owner downloads free of charge", func(t *testing.T) {
		db, mock := newMockDB(t)
		svc := NewResourceService(db, NewPointsService(db))
		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(lockedTaskRow(7, false, 30, models.TaskPublished))
		mock.ExpectExec(`SET download_count`).WillReturnResult(sqlmock.NewResult(0, 1))
		expectFileRow(mock, 44, 7)
		mock.ExpectCommit()

		_, err := svc.Download(context.Background(), 5, 7)
		require.NoError(t, err)
	})
}

func TestResourceUpdate_StatusRules(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewResourceService(db, NewPointsService(db))

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(lockedTaskRow(7, true, 0, models.TaskPublished))
	mock.ExpectRollback()
	_, err := svc.Update(context.Background(), 5, 7, models.ResourceTaskRequest{Title: "x", IsFree: true})
	assert.Equal(t, http.StatusBadRequest, apperr.StatusOf(err))

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(lockedTaskRow(7, true, 0, models.TaskRejected))
	mock.ExpectExec(`UPDATE user_file_tasks`).
		WithArgs(int64(5), "New title", "", int64(44), 1, 0, models.TaskReviewing).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(`FROM user_file_tasks t`).WillReturnRows(taskRow(5, 7, true, models.TaskReviewing, false))
	task, err := svc.Update(context.Background(), 5, 7, models.ResourceTaskRequest{Title: "New title", IsFree: true})
	require.NoError(t, err)
	assert.Equal(t, models.TaskReviewing, task.Status)
}

func TestResourceDelete_NotWhenPublic(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewResourceService(db, NewPointsService(db))

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(lockedTaskRow(7, true, 0, models.TaskSuccess))
	mock.ExpectRollback()
	err := svc.Delete(context.Background(), 5, 7)
	assert.Equal(t, http.StatusBadRequest, apperr.StatusOf(err))

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(lockedTaskRow(7, true, 0, models.TaskRejected))
	mock.ExpectExec(`DELETE FROM user_file_tasks`).WithArgs(int64(5)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	require.NoError(t, svc.Delete(context.Background(), 5, 7))
}

func TestResourceReview(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewResourceService(db, NewPointsService(db))

	_, err := svc.Review(context.Background(), 1, models.ReviewRequest{TaskID: 5, Status: models.TaskReviewing})
	assert.Equal(t, http.StatusBadRequest, apperr.StatusOf(err))

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(lockedTaskRow(7, true, 0, models.TaskPublished))
	mock.ExpectRollback()
	_, err = svc.Review(context.Background(), 1, models.ReviewRequest{TaskID: 5, Status: models.TaskRejected})
	assert.Equal(t, http.StatusBadRequest, apperr.StatusOf(err))

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(lockedTaskRow(7, true, 0, models.TaskReviewing))
	mock.ExpectExec(`UPDATE user_file_tasks SET status`).WithArgs(int64(5), models.TaskPublished).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO file_review_history`).WithArgs(int64(5), int64(1), models.TaskPublished, "ok").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(`FROM user_file_tasks t`).WithArgs(int64(0), int64(5)).WillReturnRows(taskRow(5, 7, true, models.TaskPublished, false))

	task, err := svc.Review(context.Background(), 1, models.ReviewRequest{TaskID: 5, Status: models.TaskPublished, Comment: "ok"})
	require.NoError(t, err)
	assert.True(t, task.HasAccess)
}

func TestResourceAdminDelete_WritesHistory(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewResourceService(db, NewPointsService(db))

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(lockedTaskRow(7, true, 0, models.TaskPublished))
	mock.ExpectExec(`INSERT INTO file_review_history`).WithArgs(int64(5), int64(1), nil, "deleted by admin").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`DELETE FROM user_file_tasks`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, svc.AdminDelete(context.Background(), 1, 5))
}

func TestResourceMine(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewResourceService(db, NewPointsService(db))

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM user_file_tasks t WHERE t.user_id = \$1`).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"c"}).AddRow(1))
	mock.ExpectQuery(`WHERE t.user_id = \$2 ORDER BY t.created_at DESC`).WithArgs(int64(7), int64(7), 10, 0).
		WillReturnRows(taskRow(5, 7, false, models.TaskRejected, false))

	page, err := svc.Mine(context.Background(), 7, models.PageRequest{Size: 10})
	require.NoError(t, err)
	require.Len(t, page.Content, 1)
	assert.Equal(t, "rejected", page.Content[0].StatusText)
	assert.Equal(t, int64(1), page.TotalElements)
}

package services

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/flowerwine/filebounty-backend/internal/apperr"
	"github.com/flowerwine/filebounty-backend/internal/config"
	"github.com/flowerwine/filebounty-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	folder string
	size   int
}

func (f *fakeUploader) UploadImage(ctx context.Context, file io.Reader, folder string) (string, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return "", err
	}
	f.folder, f.size = folder, len(data)
	return "https://cdn.example.com/" + folder + "/a.png", nil
}

func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestAvatars(t *testing.T, cdn ImageUploader) (*AvatarService, sqlmock.Sqlmock, *LocalStorage) {
	t.Helper()
	policy, err := config.LoadUploadPolicy("")
	require.NoError(t, err)
	files, mock, _ := newTestFileService(t)
	public, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	users := &UserService{db: files.db}
	return NewAvatarService(policy, cdn, public, "/uploads/", files, users), mock, public
}

func TestAvatarValidate(t *testing.T) {
	svc, _, _ := newTestAvatars(t, nil)

	mt, err := svc.Validate(pngOf(t, 128, 128))
	require.NoError(t, err)
	assert.Equal(t, "image/png", mt.String())

	_, err = svc.Validate(pngOf(t, 16, 16))
	assert.Equal(t, 400, apperr.StatusOf(err))

	_, err = svc.Validate(pngOf(t, 4096, 64))
	assert.Equal(t, 400, apperr.StatusOf(err))

	_, err = svc.Validate([]byte("plain text pretending to be an image"))
	assert.Equal(t, 400, apperr.StatusOf(err))

	_, err = svc.Validate(nil)
	assert.Equal(t, 400, apperr.StatusOf(err))
}

func TestAvatarUpload_CDN(t *testing.T) {
	cdn := &fakeUploader{}
	svc, mock, _ := newTestAvatars(t, cdn)
	data := pngOf(t, 128, 128)

	expectInsertFile(mock, 7, 30, 2)
	mock.ExpectExec(`INSERT INTO user_profiles`).
		WithArgs(int64(7), "https://cdn.example.com/avatars/a.png").
		WillReturnResult(sqlmock.NewResult(0, 1))

	info, err := svc.Upload(context.Background(), 7, "me.png", bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "avatars", cdn.folder)
	assert.Equal(t, len(data), cdn.size)
	require.NotNil(t, info.FileURL)
	assert.Equal(t, "https://cdn.example.com/avatars/a.png", *info.FileURL)
	assert.Equal(t, models.FileTypeImage, info.FileType)
}

func TestAvatarUpload_LocalFallback(t *testing.T) {
	svc, mock, public := newTestAvatars(t, nil)

	expectInsertFile(mock, 7, 31, 2)
	mock.ExpectExec(`INSERT INTO user_profiles`).
		WithArgs(int64(7), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	info, err := svc.Upload(context.Background(), 7, "me.png", bytes.NewReader(pngOf(t, 64, 64)))
	require.NoError(t, err)
	require.NotNil(t, info.FileURL)
	assert.True(t, strings.HasPrefix(*info.FileURL, "/uploads/avatars/"))
	assert.True(t, strings.HasSuffix(*info.FileURL, ".png"))

	rc, err := public.Open(context.Background(), strings.TrimPrefix(*info.FileURL, "/uploads/"))
	require.NoError(t, err)
	rc.Close()
}

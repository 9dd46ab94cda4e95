package services

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/flowerwine/filebounty-backend/internal/apperr"
	"github.com/flowerwine/filebounty-backend/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tusd "github.com/tus/tusd/v2/pkg/handler"
)

func newTestTus(t *testing.T) *TusService {
	t.Helper()
	policy, err := config.LoadUploadPolicy("")
	require.NoError(t, err)
	files, _, _ := newTestFileService(t)
	rdb, _ := newTestRedis(t)
	resolve := func(ctx context.Context, authorization string) (int64, error) {
		if authorization == "Bearer ok" {
			return 7, nil
		}
		return 0, errors.New("bad token")
	}
	svc, err := NewTusService(t.TempDir(), "/api/files/upload/", policy, rdb, files, resolve)
	require.NoError(t, err)
	return svc
}

// putUpload writes an upload straight into the filestore and returns its id.
func putUpload(t *testing.T, s *TusService, owner, name, body string, size int64) string {
	t.Helper()
	ctx := context.Background()
	up, err := s.store.NewUpload(ctx, tusd.FileInfo{
		Size:     size,
		MetaData: tusd.MetaData{"filename": name, tusOwnerMetaKey: owner},
	})
	require.NoError(t, err)
	_, err = up.WriteChunk(ctx, 0, strings.NewReader(body))
	require.NoError(t, err)
	info, err := up.GetInfo(ctx)
	require.NoError(t, err)
	return info.ID
}

func TestTusBeforeCreate(t *testing.T) {
	svc := newTestTus(t)

	ev := tusd.HookEvent{
		Context:     context.Background(),
		HTTPRequest: tusd.HTTPRequest{Header: http.Header{}},
		Upload:      tusd.FileInfo{MetaData: tusd.MetaData{"filename": "notes.txt"}},
	}
	_, _, err := svc.beforeCreate(ev)
	assert.Error(t, err)

	ev.HTTPRequest.Header.Set("Authorization", "Bearer ok")
	_, changes, err := svc.beforeCreate(ev)
	require.NoError(t, err)
	assert.Equal(t, "7", changes.MetaData[tusOwnerMetaKey])
	assert.Equal(t, "notes.txt", changes.MetaData["filename"])

	ev.Upload.MetaData["filename"] = "run.exe"
	_, _, err = svc.beforeCreate(ev)
	assert.Error(t, err)
}

func TestTusProcess_Rejects(t *testing.T) {
	svc := newTestTus(t)
	ctx := context.Background()

	_, err := svc.Process(ctx, 7, "../etc")
	assert.Equal(t, 400, apperr.StatusOf(err))

	_, err = svc.Process(ctx, 7, "missing")
	assert.Equal(t, 404, apperr.StatusOf(err))

	id := putUpload(t, svc, "7", "notes.txt", "hello world", 11)
	_, err = svc.Process(ctx, 8, id)
	assert.Equal(t, 403, apperr.StatusOf(err))

	partial := putUpload(t, svc, "7", "notes.txt", "hello", 11)
	_, err = svc.Process(ctx, 7, partial)
	assert.Equal(t, 400, apperr.StatusOf(err))
}

func TestTusOwnerFromRedis(t *testing.T) {
	svc := newTestTus(t)
	ctx := context.Background()

	id := putUpload(t, svc, "", "notes.txt", "hello", 5)
	up, err := svc.store.GetUpload(ctx, id)
	require.NoError(t, err)
	info, err := up.GetInfo(ctx)
	require.NoError(t, err)
	assert.Empty(t, svc.ownerOf(ctx, info))

	info.MetaData[tusOwnerMetaKey] = "7"
	svc.onComplete(ctx, info)
	delete(info.MetaData, tusOwnerMetaKey)
	assert.Equal(t, "7", svc.ownerOf(ctx, info))
}

func TestTusProcess_StoresFile(t *testing.T) {
	policy, err := config.LoadUploadPolicy("")
	require.NoError(t, err)
	files, mock, _ := newTestFileService(t)
	dir := t.TempDir()
	svc, err := NewTusService(dir, "/api/files/upload/", policy, nil, files, nil)
	require.NoError(t, err)

	id := putUpload(t, svc, "7", "notes.txt", "hello world", 11)
	expectInsertFile(mock, 7, 41, 2)

	info, err := svc.Process(context.Background(), 7, id)
	require.NoError(t, err)
	assert.Equal(t, int64(41), info.ID)
	assert.Equal(t, "notes.txt", info.OriginalFilename)

	_, statErr := os.Stat(filepath.Join(dir, id+".info"))
	assert.True(t, os.IsNotExist(statErr))
}

package services

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/flowerwine/filebounty-backend/internal/config"
	"github.com/flowerwine/filebounty-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage_RoundTrip(t *testing.T) {
	base := t.TempDir()
	s, err := NewLocalStorage(base)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "files/2024/03/15/a.txt", strings.NewReader("data"), 4, "text/plain"))
	_, err = os.Stat(filepath.Join(base, "files", "2024", "03", "15", "a.txt"))
	require.NoError(t, err)

	rc, err := s.Open(ctx, "files/2024/03/15/a.txt")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "data", string(body))

	target, err := s.RedirectURL(ctx, "files/2024/03/15/a.txt", "a.txt")
	require.NoError(t, err)
	assert.Empty(t, target)

	require.NoError(t, s.Delete(ctx, "files/2024/03/15/a.txt"))
	require.NoError(t, s.Delete(ctx, "files/2024/03/15/a.txt"))
	_, err = s.Open(ctx, "files/2024/03/15/a.txt")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestLocalStorage_KeyStaysInsideBase(t *testing.T) {
	base := t.TempDir()
	s, err := NewLocalStorage(base)
	require.NoError(t, err)

	require.NoError(t, s.Put(context.Background(), "../../escape.txt", strings.NewReader("x"), 1, ""))
	_, err = os.Stat(filepath.Join(base, "escape.txt"))
	assert.NoError(t, err)

	assert.Error(t, s.Put(context.Background(), "/", strings.NewReader("x"), 1, ""))
}

func TestNewStorage_PicksBackend(t *testing.T) {
	cfg := &config.Config{UploadBaseDir: t.TempDir()}
	s, err := NewStorage(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, models.StorageLocal, s.Name())

	cfg.Storage = "ftp"
	_, err = NewStorage(context.Background(), cfg)
	assert.Error(t, err)
}

func TestContentDisposition(t *testing.T) {
	assert.Equal(t, `attachment; filename=report.pdf`, contentDisposition("dir/report.pdf"))
	assert.Contains(t, contentDisposition("报告.pdf"), "filename*=utf-8''")
	assert.NotContains(t, contentDisposition(`a"b.txt`), `a"b`)
}

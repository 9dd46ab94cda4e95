package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unsetEnv clears keys for the duration of the test.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		k := k
		prev, had := os.LookupEnv(k)
		require.NoError(t, os.Unsetenv(k))
		t.Cleanup(func() {
			if had {
				_ = os.Setenv(k, prev)
			} else {
				_ = os.Unsetenv(k)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	unsetEnv(t, "ENV", "PORT", "JWT_EXPIRY", "STORAGE", "ALLOWED_ORIGINS", "FRONTEND_URL",
		"CLOUDINARY_CLOUD_NAME", "CLOUDINARY_API_KEY", "CLOUDINARY_API_SECRET")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 24*time.Hour, cfg.JWTExpiry)
	assert.Equal(t, "local", cfg.Storage)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
	assert.False(t, cfg.IsProduction())
	assert.False(t, cfg.CloudinaryEnabled())
}

func TestLoad_AllowedOriginsDeduplicated(t *testing.T) {
	unsetEnv(t, "ENV", "STORAGE")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,https://A.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoad_ProductionRequiresSecrets(t *testing.T) {
	unsetEnv(t, "JWT_SECRET", "ADMIN_JWT_SECRET", "STORAGE")
	t.Setenv("ENV", "Production")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("JWT_SECRET", "s1")
	t.Setenv("ADMIN_JWT_SECRET", "s2")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}

func TestLoad_S3NeedsBucket(t *testing.T) {
	unsetEnv(t, "S3_BUCKET", "ENV")
	t.Setenv("STORAGE", "S3")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadUploadPolicy_Default(t *testing.T) {
	p, err := LoadUploadPolicy("")
	require.NoError(t, err)

	avatar, ok := p.Types["avatar"]
	require.True(t, ok)
	require.NotNil(t, avatar.Dimensions)
	assert.Equal(t, 2048, avatar.Dimensions.Width)
	assert.Equal(t, int64(5*1024*1024), p.Chunk.MaxChunkSize)
	assert.Equal(t, 24, p.Chunk.ExpirationHours)

	assert.True(t, p.ExtensionForbidden(".EXE"))
	assert.False(t, p.ExtensionForbidden("pdf"))
	assert.True(t, p.TypeForbidden("application/x-msdownload; charset=binary"))
	assert.False(t, p.TypeForbidden("application/pdf"))
}

func TestLoadUploadPolicy_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	body := []byte("chunk:\n  maxChunkSize: 1024\nlargeFile:\n  maxSize: 4096\n  forbiddenExtensions: [.Zip]\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	p, err := LoadUploadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), p.Chunk.MaxChunkSize)
	assert.Equal(t, 24, p.Chunk.ExpirationHours)
	assert.True(t, p.ExtensionForbidden("zip"))
}

func TestLoadUploadPolicy_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chunk:\n  maxChunkSize: 0\n"), 0o600))

	_, err := LoadUploadPolicy(path)
	require.Error(t, err)

	_, err = LoadUploadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

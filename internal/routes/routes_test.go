package routes

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flowerwine/filebounty-backend/internal/auth"
	"github.com/flowerwine/filebounty-backend/internal/handlers"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Handlers are nil: every request below is answered by middleware or by a
// handler that needs no service.
func newRouter(t *testing.T, tus http.Handler) (*chi.Mux, *auth.Manager, string) {
	t.Helper()
	tokens := auth.NewManager("user-secret", "admin-secret", time.Hour, nil)
	dir := t.TempDir()
	r := chi.NewRouter()
	SetupRoutes(r, Deps{
		Tokens:          tokens,
		Messages:        handlers.NewMessageHandler(nil),
		Tus:             tus,
		UploadURLPrefix: "/uploads",
		PublicDir:       dir,
	})
	return r, tokens, dir
}

func serve(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	r, _, _ := newRouter(t, nil)
	rec := serve(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestUserRoutesRequireToken(t *testing.T) {
	r, _, _ := newRouter(t, nil)
	for _, path := range []string{"/api/points/my", "/api/messages/unread", "/api/bounty/bounty", "/api/user-files/my", "/api/sign/check"} {
		assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, path, "").Code, path)
	}
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodPost, "/api/sign/in", "").Code)
}

func TestAdminRoutesRejectUserTokens(t *testing.T) {
	r, tokens, _ := newRouter(t, nil)
	userToken, err := tokens.IssueUser(auth.Identity{UserID: 7, Username: "alice"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/api/admin/user-files/pending", userToken).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodPost, "/api/admin/messages/send", userToken).Code)
}

func TestAdminRouteWithAdminToken(t *testing.T) {
	r, tokens, _ := newRouter(t, nil)
	adminToken, err := tokens.IssueAdmin(1, "root")
	require.NoError(t, err)

	// reaches the handler, which rejects the empty body
	rec := serve(r, http.MethodPost, "/api/admin/messages/send", adminToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTusRequiresTokenExceptPreflight(t *testing.T) {
	var got string
	tus := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})
	r, tokens, _ := newRouter(t, tus)

	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodPatch, "/api/files/upload/abc", "").Code)
	assert.Equal(t, http.StatusNoContent, serve(r, http.MethodOptions, "/api/files/upload/abc", "").Code)

	token, err := tokens.IssueUser(auth.Identity{UserID: 7, Username: "alice"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, serve(r, http.MethodHead, "/api/files/upload/abc", token).Code)
	assert.Equal(t, "abc", got)
}

func TestAvatarFilesServed(t *testing.T) {
	r, _, dir := newRouter(t, nil)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "avatars"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "avatars", "a.png"), []byte("png"), 0o644))

	rec := serve(r, http.MethodGet, "/uploads/avatars/a.png", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png", rec.Body.String())
}

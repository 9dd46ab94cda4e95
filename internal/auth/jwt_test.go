package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewManager("user-secret", "admin-secret", time.Hour, NewRedisDenylist(client)), mr
}

func TestUserToken_RoundTrip(t *testing.T) {
	m, _ := newTestManager(t)

	tok, err := m.IssueUser(Identity{UserID: 42, Username: "alice", Email: "a@example.com"})
	require.NoError(t, err)

	claims, err := m.ParseUser(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.NotEmpty(t, claims.ID)
}

func TestUserToken_Revoked(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	tok, err := m.IssueUser(Identity{UserID: 1, Username: "bob"})
	require.NoError(t, err)
	claims, err := m.ParseUser(ctx, tok)
	require.NoError(t, err)

	require.NoError(t, m.Revoke(ctx, claims))
	assert.True(t, mr.Exists(revokedKeyPrefix+claims.ID))

	_, err = m.ParseUser(ctx, tok)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestUserToken_DisabledAccount(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	disabled := map[int64]bool{2: true}
	m.SetActiveCheck(func(ctx context.Context, userID int64) (bool, error) {
		if userID == 3 {
			return false, errors.New("db down")
		}
		return !disabled[userID], nil
	})

	ok, err := m.IssueUser(Identity{UserID: 1, Username: "alice"})
	require.NoError(t, err)
	_, err = m.ParseUser(ctx, ok)
	require.NoError(t, err)

	off, err := m.IssueUser(Identity{UserID: 2, Username: "bob"})
	require.NoError(t, err)
	_, err = m.ParseUser(ctx, off)
	assert.ErrorIs(t, err, ErrUserDisabled)

	broken, err := m.IssueUser(Identity{UserID: 3, Username: "carol"})
	require.NoError(t, err)
	_, err = m.ParseUser(ctx, broken)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUserDisabled)
}

func TestUserToken_Expired(t *testing.T) {
	m, _ := newTestManager(t)
	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	tok, err := m.IssueUser(Identity{UserID: 1, Username: "bob"})
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.ParseUser(context.Background(), tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestUserToken_WrongSecret(t *testing.T) {
	m, _ := newTestManager(t)
	other := NewManager("other", "admin-secret", time.Hour, nil)

	tok, err := other.IssueUser(Identity{UserID: 1, Username: "bob"})
	require.NoError(t, err)
	_, err = m.ParseUser(context.Background(), tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAdminToken_NotAcceptedAsUser(t *testing.T) {
	m, _ := newTestManager(t)

	tok, err := m.IssueAdmin(7, "root")
	require.NoError(t, err)

	admin, err := m.ParseAdmin(tok)
	require.NoError(t, err)
	assert.Equal(t, int64(7), admin.AdminID)
	assert.Equal(t, RoleAdmin, admin.Role)

	_, err = m.ParseUser(context.Background(), tok)
	assert.Error(t, err)

	userTok, err := m.IssueUser(Identity{UserID: 7, Username: "root"})
	require.NoError(t, err)
	_, err = m.ParseAdmin(userTok)
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc "))
	assert.Equal(t, "", BearerToken("Basic abc"))
	assert.Equal(t, "", BearerToken(""))
}

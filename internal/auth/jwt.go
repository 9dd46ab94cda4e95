// Package auth issues and validates the bearer tokens used by users and admins.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenRevoked = errors.New("token revoked")
	ErrUserDisabled = errors.New("user disabled")
)

const RoleAdmin = "admin"

// Claims are carried by user tokens.
type Claims struct {
	jwt.RegisteredClaims
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// AdminClaims are carried by admin console tokens.
type AdminClaims struct {
	jwt.RegisteredClaims
	AdminID  int64  `json:"adminId"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Identity is what a user token is minted from.
type Identity struct {
	UserID   int64
	Username string
	Email    string
	Avatar   string
}

// Denylist remembers revoked token ids until they would have expired anyway.
type Denylist interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// ActiveCheck reports whether the account behind a token may still act.
type ActiveCheck func(ctx context.Context, userID int64) (bool, error)

type Manager struct {
	userSecret  []byte
	adminSecret []byte
	ttl         time.Duration
	denylist    Denylist
	active      ActiveCheck
	now         func() time.Time
}

// NewManager returns a token manager. denylist may be nil, in which case
// logout is a no-op on the server side.
func NewManager(userSecret, adminSecret string, ttl time.Duration, denylist Denylist) *Manager {
	return &Manager{
		userSecret:  []byte(userSecret),
		adminSecret: []byte(adminSecret),
		ttl:         ttl,
		denylist:    denylist,
		now:         time.Now,
	}
}

// SetActiveCheck makes ParseUser reject tokens of accounts that check
// reports inactive. Call it before serving requests.
func (m *Manager) SetActiveCheck(check ActiveCheck) {
	m.active = check
}

func (m *Manager) registered() jwt.RegisteredClaims {
	now := m.now()
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}
}

// IssueUser signs a user token.
func (m *Manager) IssueUser(id Identity) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: m.registered(),
		UserID:           id.UserID,
		Username:         id.Username,
		Email:            id.Email,
		Avatar:           id.Avatar,
	})
	return token.SignedString(m.userSecret)
}

// ParseUser validates a user token, including the revocation check.
func (m *Manager) ParseUser(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}
	if err := m.parse(tokenString, claims, m.userSecret); err != nil {
		return nil, err
	}
	if claims.UserID <= 0 {
		return nil, ErrInvalidToken
	}
	if m.denylist != nil && claims.ID != "" {
		revoked, err := m.denylist.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, ErrTokenRevoked
		}
	}
	if m.active != nil {
		ok, err := m.active(ctx, claims.UserID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrUserDisabled
		}
	}
	return claims, nil
}

// Revoke puts the token on the denylist for the rest of its lifetime.
func (m *Manager) Revoke(ctx context.Context, claims *Claims) error {
	if m.denylist == nil || claims == nil || claims.ID == "" {
		return nil
	}
	ttl := time.Minute
	if claims.ExpiresAt != nil {
		ttl = claims.ExpiresAt.Sub(m.now())
	}
	if ttl <= 0 {
		return nil
	}
	return m.denylist.Revoke(ctx, claims.ID, ttl)
}

// IssueAdmin signs an admin token with the admin secret.
func (m *Manager) IssueAdmin(adminID int64, username string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, AdminClaims{
		RegisteredClaims: m.registered(),
		AdminID:          adminID,
		Username:         username,
		Role:             RoleAdmin,
	})
	return token.SignedString(m.adminSecret)
}

// ParseAdmin validates an admin token.
func (m *Manager) ParseAdmin(tokenString string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	if err := m.parse(tokenString, claims, m.adminSecret); err != nil {
		return nil, err
	}
	if claims.Role != RoleAdmin || claims.AdminID <= 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (m *Manager) parse(tokenString string, claims jwt.Claims, secret []byte) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil {
		return ErrInvalidToken
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

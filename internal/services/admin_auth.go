package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/flowerwine/filebounty-backend/internal/apperr"
	"github.com/flowerwine/filebounty-backend/internal/auth"
	"github.com/flowerwine/filebounty-backend/internal/models"
	"github.com/flowerwine/filebounty-backend/pkg/utils"
)

// AdminAuthService signs admins into the console. Admin accounts are created
// directly in the database.
type AdminAuthService struct {
	db     *sql.DB
	tokens *auth.Manager
}

func NewAdminAuthService(db *sql.DB, tokens *auth.Manager) *AdminAuthService {
	return &AdminAuthService{db: db, tokens: tokens}
}

func (s *AdminAuthService) Login(ctx context.Context, username, password string) (*models.AdminLoginResponse, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, apperr.Unauthorized("invalid username or password")
	}

	var a models.AdminUser
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password, status FROM admin_users WHERE username = $1
	`, username).Scan(&a.ID, &a.Username, &a.Password, &a.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Unauthorized("invalid username or password")
	}
	if err != nil {
		return nil, fmt.Errorf("load admin: %w", err)
	}
	if ok, err := utils.VerifyPassword(password, a.Password); err != nil || !ok {
		return nil, apperr.Unauthorized("invalid username or password")
	}
	if a.Status != models.UserStatusActive {
		return nil, apperr.Forbidden("admin account is disabled")
	}

	token, err := s.tokens.IssueAdmin(a.ID, a.Username)
	if err != nil {
		return nil, fmt.Errorf("issue admin token: %w", err)
	}
	return &models.AdminLoginResponse{Token: token}, nil
}

// Current reloads the admin behind a token so disabled accounts drop out.
func (s *AdminAuthService) Current(ctx context.Context, adminID int64) (*models.AdminUser, error) {
	var a models.AdminUser
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, status FROM admin_users WHERE id = $1
	`, adminID).Scan(&a.ID, &a.Username, &a.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Unauthorized("admin not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load admin: %w", err)
	}
	if a.Status != models.UserStatusActive {
		return nil, apperr.Forbidden("admin account is disabled")
	}
	return &a, nil
}

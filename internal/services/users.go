package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flowerwine/filebounty-backend/internal/apperr"
	"github.com/flowerwine/filebounty-backend/internal/auth"
	"github.com/flowerwine/filebounty-backend/internal/database"
	"github.com/flowerwine/filebounty-backend/internal/models"
	"github.com/flowerwine/filebounty-backend/pkg/utils"
	"github.com/lib/pq"
)

// CaptchaVerifier checks a captcha answer. Implementations must make each
// id single-use.
type CaptchaVerifier interface {
	Verify(id, answer string) bool
}

type UserService struct {
	db      *sql.DB
	points  *PointsService
	tokens  *auth.Manager
	captcha CaptchaVerifier
}

func NewUserService(db *sql.DB, points *PointsService, tokens *auth.Manager, captcha CaptchaVerifier) *UserService {
	return &UserService{db: db, points: points, tokens: tokens, captcha: captcha}
}

// isUniqueViolation reports a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func validationError(err error) error {
	var ve *utils.ValidationError
	if errors.As(err, &ve) {
		return apperr.BadRequest(ve.Message)
	}
	return err
}

// Register creates the account, its profile and the sign-up bonus.
func (s *UserService) Register(ctx context.Context, req models.RegisterRequest) (*models.RegisterResponse, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)

	if req.CaptchaID == "" || req.Captcha == "" || !s.captcha.Verify(req.CaptchaID, req.Captcha) {
		return nil, apperr.BadRequest("invalid captcha")
	}
	if err := utils.ValidateUsername(req.Username); err != nil {
		return nil, validationError(err)
	}
	if err := utils.ValidatePassword(req.Password); err != nil {
		return nil, validationError(err)
	}
	if err := utils.ValidateEmail(req.Email); err != nil {
		return nil, validationError(err)
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, req.Username).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if exists {
		return nil, apperr.BadRequest("username already exists")
	}
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM user_profiles WHERE LOWER(email) = LOWER($1))`, req.Email).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return nil, apperr.BadRequest("email already registered")
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	resp := &models.RegisterResponse{Username: req.Username, Email: req.Email}
	err = database.WithTx(ctx, s.db, func(ctx context.Context, tx database.DBTX) error {
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO users (username, password, status) VALUES ($1, $2, $3) RETURNING id
		`, req.Username, hash, models.UserStatusActive).Scan(&resp.ID); err != nil {
			if isUniqueViolation(err) {
				return apperr.BadRequest("username already exists")
			}
			return fmt.Errorf("insert user: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_profiles (user_id, email) VALUES ($1, $2)
		`, resp.ID, req.Email); err != nil {
			if isUniqueViolation(err) {
				return apperr.BadRequest("email already registered")
			}
			return fmt.Errorf("insert profile: %w", err)
		}
		bonus, err := s.points.ActionPoints(ctx, tx, models.ActionRegister)
		if err != nil {
			return err
		}
		resp.Points, err = s.points.ChangeTx(ctx, tx, resp.ID, bonus, models.ActionRegister, "registration bonus")
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Active reports whether the user exists and is not disabled. It backs the
// per-request token check.
func (s *UserService) Active(ctx context.Context, userID int64) (bool, error) {
	var status int
	err := s.db.QueryRowContext(ctx, `SELECT status FROM users WHERE id = $1`, userID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load user status: %w", err)
	}
	return status == models.UserStatusActive, nil
}

// Login checks credentials and returns the profile with a fresh token.
func (s *UserService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		return nil, apperr.BadRequest("username and password are required")
	}

	var u models.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password, status FROM users WHERE username = $1
	`, req.Username).Scan(&u.ID, &u.Username, &u.Password, &u.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.BadRequest("invalid username or password")
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	ok, err := utils.VerifyPassword(req.Password, u.Password)
	if err != nil || !ok {
		return nil, apperr.BadRequest("invalid username or password")
	}
	if u.Status != models.UserStatusActive {
		return nil, apperr.Forbidden("account is disabled")
	}

	profile, err := s.Profile(ctx, u.ID, true)
	if err != nil {
		return nil, err
	}

	id := auth.Identity{UserID: u.ID, Username: u.Username}
	if profile.Email != nil {
		id.Email = *profile.Email
	}
	if profile.Avatar != nil {
		id.Avatar = *profile.Avatar
	}
	token, err := s.tokens.IssueUser(id)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &models.LoginResponse{User: profile, Token: token}, nil
}

func (s *UserService) Logout(ctx context.Context, claims *auth.Claims) error {
	return s.tokens.Revoke(ctx, claims)
}

func (s *UserService) ChangePassword(ctx context.Context, userID int64, req models.ChangePasswordRequest) error {
	if req.OldPassword == "" || req.NewPassword == "" {
		return apperr.BadRequest("old and new password are required")
	}
	if err := utils.ValidatePassword(req.NewPassword); err != nil {
		return validationError(err)
	}

	var current string
	err := s.db.QueryRowContext(ctx, `SELECT password FROM users WHERE id = $1`, userID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("user not found")
	}
	if err != nil {
		return fmt.Errorf("load password: %w", err)
	}
	if ok, err := utils.VerifyPassword(req.OldPassword, current); err != nil || !ok {
		return apperr.BadRequest("old password is incorrect")
	}

	hash, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2, updated_at = NOW() WHERE id = $1
	`, userID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// Profile loads a user's profile. Unless full is set, contact details are
// left out.
func (s *UserService) Profile(ctx context.Context, userID int64, full bool) (*models.UserProfile, error) {
	p := &models.UserProfile{}
	var birth sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, p.email, p.phone, p.avatar, p.gender, p.birth_date, p.bio, p.website
		FROM users u LEFT JOIN user_profiles p ON p.user_id = u.id
		WHERE u.id = $1
	`, userID).Scan(&p.UserID, &p.Username, &p.Email, &p.Phone, &p.Avatar, &p.Gender, &birth, &p.Bio, &p.Website)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if birth.Valid {
		d := birth.Time.Format(time.DateOnly)
		p.BirthDate = &d
	}
	if !full {
		p.Email = nil
		p.Phone = nil
	}
	return p, nil
}

// UpdateProfile applies the non-nil fields of upd.
func (s *UserService) UpdateProfile(ctx context.Context, userID int64, upd models.ProfileUpdate) (*models.UserProfile, error) {
	if upd.Email != nil {
		email := strings.TrimSpace(*upd.Email)
		if err := utils.ValidateEmail(email); err != nil {
			return nil, validationError(err)
		}
		var taken bool
		if err := s.db.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM user_profiles WHERE LOWER(email) = LOWER($1) AND user_id <> $2)
		`, email, userID).Scan(&taken); err != nil {
			return nil, fmt.Errorf("check email: %w", err)
		}
		if taken {
			return nil, apperr.BadRequest("email already registered")
		}
		upd.Email = &email
	}
	if upd.BirthDate != nil && *upd.BirthDate != "" {
		if _, err := time.Parse(time.DateOnly, *upd.BirthDate); err != nil {
			return nil, apperr.BadRequest("birthDate must be YYYY-MM-DD")
		}
	} else {
		upd.BirthDate = nil
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, email, phone, avatar, gender, birth_date, bio, website)
		VALUES ($1, $2, $3, $4, $5, $6::date, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			email = COALESCE(EXCLUDED.email, user_profiles.email),
			phone = COALESCE(EXCLUDED.phone, user_profiles.phone),
			avatar = COALESCE(EXCLUDED.avatar, user_profiles.avatar),
			gender = COALESCE(EXCLUDED.gender, user_profiles.gender),
			birth_date = COALESCE(EXCLUDED.birth_date, user_profiles.birth_date),
			bio = COALESCE(EXCLUDED.bio, user_profiles.bio),
			website = COALESCE(EXCLUDED.website, user_profiles.website),
			updated_at = NOW()
	`, userID, upd.Email, upd.Phone, upd.Avatar, upd.Gender, upd.BirthDate, upd.Bio, upd.Website); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return s.Profile(ctx, userID, true)
}

// SetAvatar stores a new avatar URL for the user.
func (s *UserService) SetAvatar(ctx context.Context, userID int64, url string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, avatar) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET avatar = EXCLUDED.avatar, updated_at = NOW()
	`, userID, url)
	if err != nil {
		return fmt.Errorf("update avatar: %w", err)
	}
	return nil
}

// Exists reports whether a user id is known.
func (s *UserService) Exists(ctx context.Context, userID int64) (bool, error) {
	return userExists(ctx, s.db, userID)
}

func userExists(ctx context.Context, q database.DBTX, userID int64) (bool, error) {
	var ok bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check user: %w", err)
	}
	return ok, nil
}

// userBrief returns username and avatar for DTO enrichment.
func userBrief(ctx context.Context, q database.DBTX, userID int64) (string, *string, error) {
	var name string
	var avatar *string
	err := q.QueryRowContext(ctx, `
		SELECT u.username, p.avatar FROM users u LEFT JOIN user_profiles p ON p.user_id = u.id WHERE u.id = $1
	`, userID).Scan(&name, &avatar)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return "", nil, fmt.Errorf("load user: %w", err)
	}
	return name, avatar, nil
}

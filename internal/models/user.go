package models

import "time"

const (
	UserStatusDisabled = 0
	UserStatusActive   = 1
)

// User is a row of the users table.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Status    int       `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UserProfile is the public view of a user plus the optional profile columns.
// Email and Phone are cleared when shown to someone else.
type UserProfile struct {
	UserID    int64   `json:"userId"`
	Username  string  `json:"username"`
	Email     *string `json:"email"`
	Phone     *string `json:"phone"`
	Avatar    *string `json:"avatar"`
	Gender    *int    `json:"gender"`
	BirthDate *string `json:"birthDate"`
	Bio       *string `json:"bio"`
	Website   *string `json:"website"`
}

type RegisterRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Email     string `json:"email"`
	Captcha   string `json:"captcha"`
	CaptchaID string `json:"captchaId"`
}

type RegisterResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Points   int    `json:"points"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	User  *UserProfile `json:"user"`
	Token string       `json:"token"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// ProfileUpdate carries a partial profile update; nil fields are left alone.
type ProfileUpdate struct {
	Email     *string `json:"email"`
	Phone     *string `json:"phone"`
	Avatar    *string `json:"avatar"`
	Gender    *int    `json:"gender"`
	BirthDate *string `json:"birthDate"`
	Bio       *string `json:"bio"`
	Website   *string `json:"website"`
}

// AdminUser is a row of admin_users.
type AdminUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Password string `json:"-"`
	Status   int    `json:"-"`
}

type AdminLoginResponse struct {
	Token string `json:"token"`
}

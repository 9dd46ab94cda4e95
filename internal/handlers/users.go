package handlers

import (
	"net/http"

	"github.com/flowerwine/filebounty-backend/internal/middleware"
	"github.com/flowerwine/filebounty-backend/internal/models"
	"github.com/flowerwine/filebounty-backend/internal/services"
	"go.uber.org/zap"
)

// UserHandler serves registration, login and profile endpoints.
type UserHandler struct {
	users   *services.UserService
	captcha *services.CaptchaService
}

func NewUserHandler(users *services.UserService, captcha *services.CaptchaService) *UserHandler {
	return &UserHandler{users: users, captcha: captcha}
}

// Register handles POST /api/user/register
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.CaptchaID == "" {
		req.CaptchaID = r.Header.Get(captchaHeader)
	}
	resp, err := h.users.Register(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	zap.S().Infof("✅ user registered: %s (id %d)", resp.Username, resp.ID)
	writeJSON(w, http.StatusCreated, resp)
}

// Login handles POST /api/user/login
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := h.users.Login(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Logout handles POST /api/user/logout
func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.User(r.Context())
	if err := h.users.Logout(r.Context(), claims); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, "logged out")
}

// Current handles GET /api/user/current and GET /api/profile/current
func (h *UserHandler) Current(w http.ResponseWriter, r *http.Request) {
	p, err := h.users.Profile(r.Context(), middleware.UserID(r.Context()), true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ChangePassword handles POST /api/user/change-password
func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req models.ChangePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.users.ChangePassword(r.Context(), middleware.UserID(r.Context()), req); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, "password changed")
}

// UpdateProfile handles PUT /api/profile/update
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var upd models.ProfileUpdate
	if err := decodeJSON(r, &upd); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.users.UpdateProfile(r.Context(), middleware.UserID(r.Context()), upd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// PublicProfile handles GET /api/profile/{userId}
func (h *UserHandler) PublicProfile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "userId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	full := id == middleware.UserID(r.Context())
	p, err := h.users.Profile(r.Context(), id, full)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

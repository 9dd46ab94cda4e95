package handlers

import (
	"net/http"

	"github.com/flowerwine/filebounty-backend/internal/middleware"
	"github.com/flowerwine/filebounty-backend/internal/services"
	"go.uber.org/zap"
)

// AdminSigninRequest represents the request to sign in as admin
type AdminSigninRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AdminAuthHandler struct {
	admins *services.AdminAuthService
}

func NewAdminAuthHandler(admins *services.AdminAuthService) *AdminAuthHandler {
	return &AdminAuthHandler{admins: admins}
}

// Login handles POST /api/admin/auth/login
func (h *AdminAuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req AdminSigninRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := h.admins.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	zap.S().Infof("✅ admin signed in: %s", req.Username)
	writeJSON(w, http.StatusOK, resp)
}

// Current handles GET /api/admin/auth/current
func (h *AdminAuthHandler) Current(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.Admin(r.Context())
	a, err := h.admins.Current(r.Context(), claims.AdminID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

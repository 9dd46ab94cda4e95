package handlers

import (
	"net/http"

	"github.com/flowerwine/filebounty-backend/internal/middleware"
	"github.com/flowerwine/filebounty-backend/internal/services"
	"go.uber.org/zap"
)

// PointsHandler serves the points ledger and the daily sign-in.
type PointsHandler struct {
	points *services.PointsService
	sign   *services.SignService
}

func NewPointsHandler(points *services.PointsService, sign *services.SignService) *PointsHandler {
	return &PointsHandler{points: points, sign: sign}
}

// My handles GET /api/points/my
func (h *PointsHandler) My(w http.ResponseWriter, r *http.Request) {
	p, err := h.points.GetUserPoints(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// User handles GET /api/points/user/{userId}
func (h *PointsHandler) User(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "userId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.points.GetUserPoints(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Records handles GET /api/points/records
func (h *PointsHandler) Records(w http.ResponseWriter, r *http.Request) {
	pr, err := pageRequest(r, defaultPageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := h.points.Records(r.Context(), middleware.UserID(r.Context()), pr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// SignIn handles POST /api/sign/in
func (h *PointsHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	res, err := h.sign.SignIn(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	zap.S().Infof("✅ user %d signed in (day %d, +%d)", userID, res.ContinuousDays, res.EarnedPoints)
	writeJSON(w, http.StatusOK, res)
}

// Calendar handles GET /api/sign/calendar?year&month
func (h *PointsHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	year, err := queryInt(r, "year", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	month, err := queryInt(r, "month", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	cal, err := h.sign.Calendar(r.Context(), middleware.UserID(r.Context()), year, month)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cal)
}

// Check handles GET /api/sign/check
func (h *PointsHandler) Check(w http.ResponseWriter, r *http.Request) {
	signed, err := h.sign.Check(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, signed)
}

// Cycle handles GET /api/sign/cycle. The body is null without an active cycle.
func (h *PointsHandler) Cycle(w http.ResponseWriter, r *http.Request) {
	c, err := h.sign.CurrentCycle(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Rewards handles GET /api/sign/rewards
func (h *PointsHandler) Rewards(w http.ResponseWriter, r *http.Request) {
	rewards, err := h.sign.Rewards(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rewards)
}

package handlers

import (
	"bytes"
	"net/http"

	"github.com/flowerwine/filebounty-backend/internal/services"
)

const captchaHeader = "X-Captcha-Id"

type CaptchaHandler struct {
	captcha *services.CaptchaService
}

func NewCaptchaHandler(captcha *services.CaptchaService) *CaptchaHandler {
	return &CaptchaHandler{captcha: captcha}
}

// Generate handles GET /api/captcha/generate. The challenge id travels in
// the X-Captcha-Id response header.
func (h *CaptchaHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	id, err := h.captcha.Generate(&buf)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set(captchaHeader, id)
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

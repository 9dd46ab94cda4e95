package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/flowerwine/filebounty-backend/internal/apperr"
	"github.com/flowerwine/filebounty-backend/internal/models"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	defaultPageSize        = 10
	defaultMessagePageSize = 20
	maxPageSize            = 100
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// MessageResponse is returned by endpoints that only report success.
type MessageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.S().Warnf("write response: %v", err)
	}
}

func writeMessage(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, MessageResponse{Message: msg})
}

func writeFail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Message: msg, Status: status})
}

// writeError maps service errors onto responses. Anything that is not an
// *apperr.Error is logged and hidden behind a 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if e, ok := apperr.As(err); ok {
		writeFail(w, e.Status, e.Message)
		return
	}
	zap.S().Errorf("%s %s: %v", r.Method, r.URL.Path, err)
	writeFail(w, http.StatusInternalServerError, "internal server error")
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return apperr.BadRequest("request body is required")
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.BadRequest("invalid " + name)
	}
	return id, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.BadRequest("invalid " + name)
	}
	return n, nil
}

func queryInt64(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, apperr.BadRequest("invalid " + name)
	}
	return &n, nil
}

// pageRequest reads the 0-based page and size parameters.
func pageRequest(r *http.Request, defSize int) (models.PageRequest, error) {
	page, err := queryInt(r, "page", 0)
	if err != nil {
		return models.PageRequest{}, err
	}
	size, err := queryInt(r, "size", defSize)
	if err != nil {
		return models.PageRequest{}, err
	}
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = defSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return models.PageRequest{Page: page, Size: size}, nil
}

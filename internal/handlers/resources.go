package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/flowerwine/filebounty-backend/internal/apperr"
	"github.com/flowerwine/filebounty-backend/internal/middleware"
	"github.com/flowerwine/filebounty-backend/internal/models"
	"github.com/flowerwine/filebounty-backend/internal/services"
	"go.uber.org/zap"
)

const defaultListLimit = 10

// ResourceHandler serves /api/user-files and its admin counterpart.
type ResourceHandler struct {
	resources *services.ResourceService
}

func NewResourceHandler(resources *services.ResourceService) *ResourceHandler {
	return &ResourceHandler{resources: resources}
}

// Create handles POST /api/user-files/create
func (h *ResourceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.ResourceTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := h.resources.Create(r.Context(), middleware.UserID(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	zap.S().Infof("✅ resource task %d submitted for review by user %d", t.ID, t.UserID)
	writeJSON(w, http.StatusOK, t)
}

// Detail handles GET /api/user-files/{id}
func (h *ResourceHandler) Detail(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, err := h.resources.Detail(r.Context(), id, middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Download handles GET /api/user-files/{id}/download
func (h *ResourceHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	info, err := h.resources.Download(r.Context(), id, middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// Update handles PUT /api/user-files/{id}
func (h *ResourceHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req models.ResourceTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := h.resources.Update(r.Context(), id, middleware.UserID(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Delete handles DELETE /api/user-files/{id}
func (h *ResourceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.resources.Delete(r.Context(), id, middleware.UserID(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, "resource deleted")
}

type pageFunc func(r *http.Request, pr models.PageRequest) (models.Page[models.ResourceTask], error)

func (h *ResourceHandler) servePage(w http.ResponseWriter, r *http.Request, fn pageFunc) {
	pr, err := pageRequest(r, defaultPageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := fn(r, pr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Mine handles GET /api/user-files/my
func (h *ResourceHandler) Mine(w http.ResponseWriter, r *http.Request) {
	h.servePage(w, r, func(r *http.Request, pr models.PageRequest) (models.Page[models.ResourceTask], error) {
		return h.resources.Mine(r.Context(), middleware.UserID(r.Context()), pr)
	})
}

// Public handles GET /api/user-files/public
func (h *ResourceHandler) Public(w http.ResponseWriter, r *http.Request) {
	h.servePage(w, r, func(r *http.Request, pr models.PageRequest) (models.Page[models.ResourceTask], error) {
		return h.resources.Public(r.Context(), middleware.UserID(r.Context()), pr)
	})
}

// Free handles GET /api/user-files/free
func (h *ResourceHandler) Free(w http.ResponseWriter, r *http.Request) {
	h.servePage(w, r, func(r *http.Request, pr models.PageRequest) (models.Page[models.ResourceTask], error) {
		return h.resources.Free(r.Context(), middleware.UserID(r.Context()), pr)
	})
}

// Search handles GET /api/user-files/search?keyword
func (h *ResourceHandler) Search(w http.ResponseWriter, r *http.Request) {
	h.servePage(w, r, func(r *http.Request, pr models.PageRequest) (models.Page[models.ResourceTask], error) {
		return h.resources.Search(r.Context(), middleware.UserID(r.Context()), r.URL.Query().Get("keyword"), pr)
	})
}

// Query handles GET /api/user-files/query?userId&isFree&keyword&status
func (h *ResourceHandler) Query(w http.ResponseWriter, r *http.Request) {
	q, err := parseResourceQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.servePage(w, r, func(r *http.Request, pr models.PageRequest) (models.Page[models.ResourceTask], error) {
		return h.resources.Query(r.Context(), middleware.UserID(r.Context()), q, pr)
	})
}

// parseResourceQuery accepts status both repeated and comma separated.
func parseResourceQuery(r *http.Request) (models.ResourceQuery, error) {
	values := r.URL.Query()
	q := models.ResourceQuery{Keyword: strings.TrimSpace(values.Get("keyword"))}

	userID, err := queryInt64(r, "userId")
	if err != nil {
		return q, err
	}
	q.UserID = userID

	if raw := values.Get("isFree"); raw != "" {
		free, err := strconv.ParseBool(raw)
		if err != nil {
			return q, apperr.BadRequest("invalid isFree")
		}
		q.IsFree = &free
	}

	for _, v := range values["status"] {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			n, err := strconv.Atoi(part)
			if err != nil {
				return q, apperr.BadRequest("invalid status")
			}
			q.Statuses = append(q.Statuses, n)
		}
	}
	return q, nil
}

// Latest handles GET /api/user-files/latest?limit
func (h *ResourceHandler) Latest(w http.ResponseWriter, r *http.Request) {
	h.serveList(w, r, h.resources.Latest)
}

// Hot handles GET /api/user-files/hot?limit
func (h *ResourceHandler) Hot(w http.ResponseWriter, r *http.Request) {
	h.serveList(w, r, h.resources.Hot)
}

func (h *ResourceHandler) serveList(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, viewerID int64, limit int) ([]models.ResourceTask, error)) {
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if limit <= 0 || limit > maxPageSize {
		limit = defaultListLimit
	}
	list, err := fn(r.Context(), middleware.UserID(r.Context()), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Pending handles GET /api/admin/user-files/pending
func (h *ResourceHandler) Pending(w http.ResponseWriter, r *http.Request) {
	h.servePage(w, r, func(r *http.Request, pr models.PageRequest) (models.Page[models.ResourceTask], error) {
		return h.resources.Pending(r.Context(), pr)
	})
}

// All handles GET /api/admin/user-files/all?status
func (h *ResourceHandler) All(w http.ResponseWriter, r *http.Request) {
	var status *int
	if raw := r.URL.Query().Get("status"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, apperr.BadRequest("invalid status"))
			return
		}
		status = &n
	}
	h.servePage(w, r, func(r *http.Request, pr models.PageRequest) (models.Page[models.ResourceTask], error) {
		return h.resources.All(r.Context(), status, pr)
	})
}

// AdminGet handles GET /api/admin/user-files/{id}
func (h *ResourceHandler) AdminGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, err := h.resources.AdminGet(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// AdminDownload handles GET /api/admin/user-files/{id}/download
func (h *ResourceHandler) AdminDownload(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	info, err := h.resources.AdminDownload(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// Review handles POST /api/admin/user-files/review
func (h *ResourceHandler) Review(w http.ResponseWriter, r *http.Request) {
	var req models.ReviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	admin, _ := middleware.Admin(r.Context())
	t, err := h.resources.Review(r.Context(), admin.AdminID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	zap.S().Infof("✅ resource task %d reviewed by admin %s: %s", t.ID, admin.Username, t.StatusText)
	writeJSON(w, http.StatusOK, t)
}

// AdminDelete handles DELETE /api/admin/user-files/{id}
func (h *ResourceHandler) AdminDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	admin, _ := middleware.Admin(r.Context())
	if err := h.resources.AdminDelete(r.Context(), admin.AdminID, id); err != nil {
		writeError(w, r, err)
		return
	}
	zap.S().Infof("✅ resource task %d deleted by admin %s", id, admin.Username)
	writeMessage(w, "resource deleted")
}

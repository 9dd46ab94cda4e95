package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"

	"github.com/flowerwine/filebounty-backend/internal/apperr"
	"github.com/flowerwine/filebounty-backend/internal/middleware"
	"github.com/flowerwine/filebounty-backend/internal/models"
	"github.com/flowerwine/filebounty-backend/internal/services"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// multipart overhead allowed on top of the payload limit
const formOverhead = 1 << 20

// FileHandler serves file metadata, downloads and every upload path.
type FileHandler struct {
	files   *services.FileService
	avatars *services.AvatarService
	chunks  *services.ChunkUploadService
	tus     *services.TusService

	maxChunkSize  int64
	maxAvatarSize int64
}

func NewFileHandler(files *services.FileService, avatars *services.AvatarService, chunks *services.ChunkUploadService, tus *services.TusService, maxChunkSize, maxAvatarSize int64) *FileHandler {
	return &FileHandler{
		files:         files,
		avatars:       avatars,
		chunks:        chunks,
		tus:           tus,
		maxChunkSize:  maxChunkSize,
		maxAvatarSize: maxAvatarSize,
	}
}

// Info handles GET /api/files/{id}
func (h *FileHandler) Info(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	info, err := h.files.FileInfo(r.Context(), id, middleware.UserID(r.Context()), true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// Access handles GET /api/files/{id}/access
func (h *FileHandler) Access(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.files.Get(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	ok, err := h.files.HasAccess(r.Context(), id, middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"hasAccess": ok})
}

// Download handles GET /api/files/download/{id}. Local files are streamed;
// S3 and CDN files are redirected to.
func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	f, err := h.files.PrepareDownload(r.Context(), id, middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	if models.IsURLStorage(f.Storage) {
		http.Redirect(w, r, f.FilePath, http.StatusFound)
		return
	}
	store := h.files.Storage()
	if target, err := store.RedirectURL(r.Context(), f.FilePath, f.OriginalName); err != nil {
		writeError(w, r, err)
		return
	} else if target != "" {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}

	rc, err := store.Open(r.Context(), f.FilePath)
	if errors.Is(err, services.ErrObjectNotFound) {
		writeError(w, r, apperr.NotFound("file content not found"))
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()

	ctype := mime.TypeByExtension(path.Ext(f.FileName))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Length", strconv.FormatInt(f.FileSize, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": f.OriginalName}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		zap.S().Warnf("download %d interrupted: %v", id, err)
	}
}

// UploadAvatar handles POST /api/files/upload/avatar
func (h *FileHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxAvatarSize+formOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, apperr.BadRequest("no file provided"))
		return
	}
	defer file.Close()

	userID := middleware.UserID(r.Context())
	info, err := h.avatars.Upload(r.Context(), userID, header.Filename, file)
	if err != nil {
		writeError(w, r, err)
		return
	}
	zap.S().Infof("✅ avatar updated for user %d", userID)
	writeJSON(w, http.StatusOK, info)
}

// InitChunk handles POST /api/files/chunk/initialize
func (h *FileHandler) InitChunk(w http.ResponseWriter, r *http.Request) {
	var req models.ChunkInitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := h.chunks.Initialize(middleware.UserID(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// CheckChunk handles GET /api/files/chunk/check?identifier&chunkNumber
func (h *FileHandler) CheckChunk(w http.ResponseWriter, r *http.Request) {
	n, err := queryInt(r, "chunkNumber", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	exists, err := h.chunks.Check(middleware.UserID(r.Context()), r.URL.Query().Get("identifier"), n)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

// UploadedChunks handles GET /api/files/chunk/uploaded/{identifier}
func (h *FileHandler) UploadedChunks(w http.ResponseWriter, r *http.Request) {
	list, err := h.chunks.Uploaded(middleware.UserID(r.Context()), chi.URLParam(r, "identifier"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// UploadChunk handles POST /api/files/chunk/upload
func (h *FileHandler) UploadChunk(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxChunkSize+formOverhead)
	file, _, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, apperr.BadRequest(fmt.Sprintf("chunk exceeds %d bytes", h.maxChunkSize)))
			return
		}
		writeError(w, r, apperr.BadRequest("no chunk provided"))
		return
	}
	defer file.Close()

	n, err := strconv.Atoi(r.FormValue("chunkNumber"))
	if err != nil {
		writeError(w, r, apperr.BadRequest("invalid chunkNumber"))
		return
	}
	if err := h.chunks.SaveChunk(middleware.UserID(r.Context()), r.FormValue("identifier"), n, file); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, "chunk uploaded")
}

// MergeChunks handles POST /api/files/chunk/merge
func (h *FileHandler) MergeChunks(w http.ResponseWriter, r *http.Request) {
	var req models.ChunkMergeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	info, err := h.chunks.Merge(r.Context(), middleware.UserID(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	zap.S().Infof("✅ chunked upload %s merged into file %d", req.Identifier, info.ID)
	writeJSON(w, http.StatusOK, info)
}

// ProcessTus handles POST /api/files/process/{uploadId}
func (h *FileHandler) ProcessTus(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadId")
	info, err := h.tus.Process(r.Context(), middleware.UserID(r.Context()), uploadID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	zap.S().Infof("✅ tus upload %s stored as file %d", uploadID, info.ID)
	writeJSON(w, http.StatusOK, info)
}

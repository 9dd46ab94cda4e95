package handlers

import (
	"context"
	"net/http"

	"github.com/flowerwine/filebounty-backend/internal/apperr"
	"github.com/flowerwine/filebounty-backend/internal/middleware"
	"github.com/flowerwine/filebounty-backend/internal/models"
	"github.com/flowerwine/filebounty-backend/internal/services"
	"go.uber.org/zap"
)

type BountyHandler struct {
	bounties *services.BountyService
}

func NewBountyHandler(bounties *services.BountyService) *BountyHandler {
	return &BountyHandler{bounties: bounties}
}

// Publish handles POST /api/bounty/publish
func (h *BountyHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var req models.BountyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := h.bounties.Publish(r.Context(), middleware.UserID(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	zap.S().Infof("✅ bounty %d published by user %d (%d points)", b.ID, b.UserID, b.Points)
	writeJSON(w, http.StatusOK, b)
}

// Detail handles GET /api/bounty/{id}
func (h *BountyHandler) Detail(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	b, err := h.bounties.Detail(r.Context(), id, middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// List handles GET /api/bounty/list
func (h *BountyHandler) List(w http.ResponseWriter, r *http.Request) {
	pr, err := pageRequest(r, defaultPageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := h.bounties.List(r.Context(), middleware.UserID(r.Context()), pr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Mine handles GET /api/bounty/bounty
func (h *BountyHandler) Mine(w http.ResponseWriter, r *http.Request) {
	pr, err := pageRequest(r, defaultPageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := h.bounties.Mine(r.Context(), middleware.UserID(r.Context()), pr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Latest handles GET /api/bounty/latest
func (h *BountyHandler) Latest(w http.ResponseWriter, r *http.Request) {
	list, err := h.bounties.Latest(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Hot handles GET /api/bounty/hot
func (h *BountyHandler) Hot(w http.ResponseWriter, r *http.Request) {
	list, err := h.bounties.Hot(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Search handles GET /api/bounty/search?keyword
func (h *BountyHandler) Search(w http.ResponseWriter, r *http.Request) {
	list, err := h.bounties.Search(r.Context(), middleware.UserID(r.Context()), r.URL.Query().Get("keyword"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Close handles POST /api/bounty/{id}/close
func (h *BountyHandler) Close(w http.ResponseWriter, r *http.Request) {
	h.ownerAction(w, r, h.bounties.Close)
}

// Reopen handles POST /api/bounty/{id}/reopen
func (h *BountyHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	h.ownerAction(w, r, h.bounties.Reopen)
}

func (h *BountyHandler) ownerAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id, userID int64) (*models.Bounty, error)) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	b, err := fn(r.Context(), id, middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// SelectWinner handles POST /api/bounty/{id}/winner/{bidId}
func (h *BountyHandler) SelectWinner(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	bidID, err := pathID(r, "bidId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	b, err := h.bounties.SelectWinner(r.Context(), id, bidID, middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	zap.S().Infof("✅ bounty %d completed, winner bid %d", b.ID, bidID)
	writeJSON(w, http.StatusOK, b)
}

// CreateBid handles POST /api/bounty/{id}/bid
func (h *BountyHandler) CreateBid(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	bid, err := h.bounties.CreateBid(r.Context(), id, middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bid)
}

// Bids handles GET /api/bounty/{id}/bids
func (h *BountyHandler) Bids(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	pr, err := pageRequest(r, defaultPageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := h.bounties.Bids(r.Context(), id, middleware.UserID(r.Context()), pr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// MyBids handles GET /api/bounty/bids
func (h *BountyHandler) MyBids(w http.ResponseWriter, r *http.Request) {
	pr, err := pageRequest(r, defaultPageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := h.bounties.MyBids(r.Context(), middleware.UserID(r.Context()), pr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// UpdateBidFile handles PUT /api/bounty/bid/{bidId}/file?fileId
func (h *BountyHandler) UpdateBidFile(w http.ResponseWriter, r *http.Request) {
	bidID, err := pathID(r, "bidId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	fileID, err := queryInt64(r, "fileId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if fileID == nil || *fileID <= 0 {
		writeError(w, r, apperr.BadRequest("fileId is required"))
		return
	}
	bid, err := h.bounties.UpdateBidFile(r.Context(), bidID, middleware.UserID(r.Context()), *fileID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bid)
}

// DownloadBidFile handles GET /api/bounty/bid/{bidId}/file
func (h *BountyHandler) DownloadBidFile(w http.ResponseWriter, r *http.Request) {
	bidID, err := pathID(r, "bidId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	info, err := h.bounties.DownloadBidFile(r.Context(), bidID, middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// CancelBid handles DELETE /api/bounty/bid/{bidId}
func (h *BountyHandler) CancelBid(w http.ResponseWriter, r *http.Request) {
	bidID, err := pathID(r, "bidId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.bounties.CancelBid(r.Context(), bidID, middleware.UserID(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, "bid cancelled")
}

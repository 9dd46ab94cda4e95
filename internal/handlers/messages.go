package handlers

import (
	"net/http"

	"github.com/flowerwine/filebounty-backend/internal/apperr"
	"github.com/flowerwine/filebounty-backend/internal/middleware"
	"github.com/flowerwine/filebounty-backend/internal/models"
	"github.com/flowerwine/filebounty-backend/internal/services"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type MessageHandler struct {
	messages *services.MessageService
}

func NewMessageHandler(messages *services.MessageService) *MessageHandler {
	return &MessageHandler{messages: messages}
}

// System handles GET /api/messages/system
func (h *MessageHandler) System(w http.ResponseWriter, r *http.Request) {
	pr, err := pageRequest(r, defaultMessagePageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := h.messages.SystemMessages(r.Context(), middleware.UserID(r.Context()), pr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Conversations handles GET /api/messages/conversations
func (h *MessageHandler) Conversations(w http.ResponseWriter, r *http.Request) {
	list, err := h.messages.Conversations(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ConversationMessages handles GET /api/messages/conversations/{conversationId}/messages
func (h *MessageHandler) ConversationMessages(w http.ResponseWriter, r *http.Request) {
	pr, err := pageRequest(r, defaultMessagePageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := h.messages.ConversationMessages(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "conversationId"), pr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Open handles POST /api/messages/conversations/users/{partnerId}
func (h *MessageHandler) Open(w http.ResponseWriter, r *http.Request) {
	partnerID, err := pathID(r, "partnerId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.messages.CreateOrGetConversation(r.Context(), middleware.UserID(r.Context()), partnerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Send handles POST /api/messages/send
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req models.SendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	userID := middleware.UserID(r.Context())
	if req.SenderID != 0 && req.SenderID != userID {
		writeError(w, r, apperr.Forbidden("cannot send as another user"))
		return
	}
	msg, err := h.messages.SendPrivateMessage(r.Context(), userID, req.ReceiverID, req.Content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// Unread handles GET /api/messages/unread
func (h *MessageHandler) Unread(w http.ResponseWriter, r *http.Request) {
	c, err := h.messages.Unread(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// SystemUnread handles GET /api/messages/system/unread-count
func (h *MessageHandler) SystemUnread(w http.ResponseWriter, r *http.Request) {
	c, err := h.messages.Unread(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.SystemMessageCount)
}

// PrivateUnread handles GET /api/messages/conversations/unread-count
func (h *MessageHandler) PrivateUnread(w http.ResponseWriter, r *http.Request) {
	c, err := h.messages.Unread(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.PrivateMessageCount)
}

// SendSystem handles POST /api/admin/messages/send
func (h *MessageHandler) SendSystem(w http.ResponseWriter, r *http.Request) {
	var req models.SystemMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	msg, err := h.messages.SendSystemMessage(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	admin, _ := middleware.Admin(r.Context())
	zap.S().Infof("✅ system message %d broadcast by admin %s", msg.ID, admin.Username)
	writeJSON(w, http.StatusOK, msg)
}

// SystemHistory handles GET /api/admin/messages/history
func (h *MessageHandler) SystemHistory(w http.ResponseWriter, r *http.Request) {
	pr, err := pageRequest(r, defaultMessagePageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := h.messages.SystemHistory(r.Context(), pr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

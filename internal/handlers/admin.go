package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"conversation-service/internal/middleware"
	"conversation-service/internal/models"
	"conversation-service/internal/repositories"
	"conversation-service/internal/telemetry"
	"conversation-service/internal/validation"
	"conversation-service/internal/ws"
)

// AdminHandler serves the support-side view: every conversation, annotated
// with live presence, plus reply and bulk mark-read operations.
type AdminHandler struct {
	store       repositories.MessageStore
	coordinator *ws.Coordinator
	audit       *telemetry.AuditEmitter
}

// NewAdminHandler builds an AdminHandler.
func NewAdminHandler(store repositories.MessageStore, coordinator *ws.Coordinator, audit *telemetry.AuditEmitter) *AdminHandler {
	return &AdminHandler{store: store, coordinator: coordinator, audit: audit}
}

// ListConversations returns one overview row per conversation, most recent
// first, with presence filled in from the live tracker.
func (h *AdminHandler) ListConversations(c *gin.Context) {
	overviews, err := h.store.ConversationOverviews(c.Request.Context())
	if err != nil {
		h.emitAudit(c, "ERROR", "failed to list conversations")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
		return
	}

	presence := h.coordinator.Presence()
	for i := range overviews {
		overviews[i].Online = presence.GetStatus(overviews[i].UserID) == models.PresenceOnline
		if seen, ok := presence.GetLastSeen(overviews[i].UserID); ok {
			overviews[i].LastSeen = &seen
		}
	}

	c.JSON(http.StatusOK, gin.H{"conversations": overviews, "total": len(overviews)})
}

// GetConversation returns one user's full history, oldest first.
func (h *AdminHandler) GetConversation(c *gin.Context) {
	userID := c.Param("user_id")
	limit, offset := pagination(c, 50)

	msgs, err := h.store.GetUserMessages(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversation"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_id": userID, "messages": msgs, "total": len(msgs)})
}

// SendMessage writes an admin reply into a user's conversation and pushes it
// to that user's live connections.
func (h *AdminHandler) SendMessage(c *gin.Context) {
	userID := c.Param("user_id")

	var req struct {
		Message string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.store.CreateMessage(c.Request.Context(), userID, models.SenderAdmin, req.Message)
	if err != nil {
		if errors.Is(err, validation.ErrValidation) {
			h.emitAudit(c, "ERROR", "invalid message content")
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
		return
	}

	sender := c.GetString(middleware.UserIDKey)
	h.coordinator.NotifyMessage(sender, userID, models.MessageWithAttachments{Message: msg, Attachments: []models.Attachment{}})

	h.emitAudit(c, "INFO", "Admin reply sent")
	c.JSON(http.StatusCreated, msg)
}

// MarkConversationRead flips every unread message in a user's conversation.
func (h *AdminHandler) MarkConversationRead(c *gin.Context) {
	userID := c.Param("user_id")

	flipped, err := h.store.MarkConversationRead(c.Request.Context(), userID)
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark conversation read"})
		return
	}

	h.emitAudit(c, "INFO", "Conversation marked read")
	c.JSON(http.StatusOK, gin.H{"message": "messages marked as read", "messages_marked": flipped})
}

// OnlineUsers reports who currently holds at least one live connection.
func (h *AdminHandler) OnlineUsers(c *gin.Context) {
	online := h.coordinator.Registry().OnlineUsers()
	c.JSON(http.StatusOK, gin.H{"online_users": online, "count": len(online)})
}

func (h *AdminHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}

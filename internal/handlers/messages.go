package handlers

import (
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"conversation-service/internal/middleware"
	"conversation-service/internal/models"
	"conversation-service/internal/repositories"
	"conversation-service/internal/storage"
	"conversation-service/internal/validation"
	"conversation-service/internal/ws"
)

// MessageHandler serves the user-facing REST fallback. It reads and writes
// the same store as the live socket path, so a client that lost its socket
// still observes identical state.
type MessageHandler struct {
	store       repositories.MessageStore
	coordinator *ws.Coordinator
	files       storage.AttachmentWriter
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(store repositories.MessageStore, coordinator *ws.Coordinator, files storage.AttachmentWriter) *MessageHandler {
	return &MessageHandler{store: store, coordinator: coordinator, files: files}
}

// ListConversation returns the authed user's history, oldest first.
func (h *MessageHandler) ListConversation(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	limit, offset := pagination(c, 50)

	msgs, err := h.store.GetUserMessages(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs, "total": len(msgs)})
}

// SendMessage stores a message and pushes it to live connections.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	var req struct {
		Message string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString(middleware.UserIDKey)
	msg, err := h.store.CreateMessage(c.Request.Context(), userID, models.SenderUser, req.Message)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, validation.ErrValidation) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	h.coordinator.NotifyMessage(userID, userID, models.MessageWithAttachments{Message: msg, Attachments: []models.Attachment{}})
	c.JSON(http.StatusCreated, msg)
}

// MarkConversationRead bulk-flips the caller's unread messages.
func (h *MessageHandler) MarkConversationRead(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)

	flipped, err := h.store.MarkConversationRead(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark conversation read"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "messages marked as read", "messages_marked": flipped})
}

// UnreadCount reports how many messages await the caller.
func (h *MessageHandler) UnreadCount(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)

	count, err := h.store.GetUnreadCount(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count unread messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"unread_count": count})
}

// SearchMessages substring-searches message content. Regular users are
// always scoped to their own conversation; admins may pass user_id to scope
// or omit it to search everything.
func (h *MessageHandler) SearchMessages(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "search query is required"})
		return
	}
	limit, offset := pagination(c, 20)

	scope := c.GetString(middleware.UserIDKey)
	if c.GetBool(middleware.IsAdminKey) {
		scope = c.Query("user_id")
	}

	msgs, total, err := h.store.SearchMessages(c.Request.Context(), query, scope, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages":    msgs,
		"total_count": total,
		"has_more":    int64(offset+len(msgs)) < total,
	})
}

// DownloadAttachment serves attachment bytes by stored filename. The
// sanitizer leaves nothing a path can be built from, so traversal is
// structurally impossible.
func (h *MessageHandler) DownloadAttachment(c *gin.Context) {
	filename := validation.SanitizeFilename(c.Param("filename"))
	if filename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filename"})
		return
	}

	att, err := h.store.AttachmentByFilename(c.Request.Context(), filename)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrMessageNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "attachment not found"})
		return
	}

	data, err := h.files.Open(c.Request.Context(), att.Filename)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read attachment"})
		return
	}

	c.Header("Cache-Control", "public, max-age=31536000")
	c.Data(http.StatusOK, contentTypeFor(att.Filename), data)
}

func contentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

func pagination(c *gin.Context, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = v
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

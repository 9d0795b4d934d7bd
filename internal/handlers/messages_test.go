package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"conversation-service/internal/middleware"
	"conversation-service/internal/mocks"
	"conversation-service/internal/models"
	"conversation-service/internal/repositories"
	"conversation-service/internal/validation"
	"conversation-service/internal/ws"
)

func newTestCoordinator(store repositories.MessageStore, files *mocks.AttachmentWriterMock) *ws.Coordinator {
	registry := ws.NewRegistry()
	presence := ws.NewPresence(registry)
	return ws.NewCoordinator(registry, presence, store, files, time.Minute, 30*time.Second)
}

func setupMessageRouter(handler *MessageHandler, asAdmin bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, "user-1")
		c.Set(middleware.IsAdminKey, asAdmin)
		c.Next()
	})
	r.GET("/api/conversations", handler.ListConversation)
	r.POST("/api/conversations", handler.SendMessage)
	r.POST("/api/conversations/read", handler.MarkConversationRead)
	r.GET("/api/conversations/unread", handler.UnreadCount)
	r.GET("/api/messages/search", handler.SearchMessages)
	r.GET("/api/attachments/:filename", handler.DownloadAttachment)
	return r
}

func TestListConversationSuccess(t *testing.T) {
	store := new(mocks.MessageStoreMock)
	files := new(mocks.AttachmentWriterMock)
	handler := NewMessageHandler(store, newTestCoordinator(store, files), files)
	router := setupMessageRouter(handler, false)

	msgs := []models.MessageWithAttachments{
		{Message: models.Message{ID: "m-1", UserID: "user-1", Sender: models.SenderUser, Content: "hi"}},
	}
	store.On("GetUserMessages", mock.Anything, "user-1", 50, 0).Return(msgs, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, float64(1), resp["total"])
	store.AssertExpectations(t)
}

func TestListConversationPagination(t *testing.T) {
	store := new(mocks.MessageStoreMock)
	files := new(mocks.AttachmentWriterMock)
	handler := NewMessageHandler(store, newTestCoordinator(store, files), files)
	router := setupMessageRouter(handler, false)

	store.On("GetUserMessages", mock.Anything, "user-1", 10, 20).Return([]models.MessageWithAttachments{}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/api/conversations?limit=10&offset=20", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	store.AssertExpectations(t)
}

func TestSendMessageSuccess(t *testing.T) {
	store := new(mocks.MessageStoreMock)
	files := new(mocks.AttachmentWriterMock)
	handler := NewMessageHandler(store, newTestCoordinator(store, files), files)
	router := setupMessageRouter(handler, false)

	stored := models.Message{ID: "m-1", UserID: "user-1", Sender: models.SenderUser, Content: "hello"}
	store.On("CreateMessage", mock.Anything, "user-1", models.SenderUser, "hello").Return(stored, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/api/conversations", bytes.NewBufferString(`{"message":"hello"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp models.Message
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "m-1", resp.ID)
	store.AssertExpectations(t)
}

func TestSendMessageMissingBody(t *testing.T) {
	store := new(mocks.MessageStoreMock)
	files := new(mocks.AttachmentWriterMock)
	handler := NewMessageHandler(store, newTestCoordinator(store, files), files)
	router := setupMessageRouter(handler, false)

	req := httptest.NewRequest(http.MethodPost, "/api/conversations", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	store.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSendMessageEmptyAfterTrim(t *testing.T) {
	store := new(mocks.MessageStoreMock)
	files := new(mocks.AttachmentWriterMock)
	handler := NewMessageHandler(store, newTestCoordinator(store, files), files)
	router := setupMessageRouter(handler, false)

	store.On("CreateMessage", mock.Anything, "user-1", models.SenderUser, "   ").
		Return(models.Message{}, fmt.Errorf("%w: message cannot be empty", validation.ErrValidation)).Once()

	req := httptest.NewRequest(http.MethodPost, "/api/conversations", bytes.NewBufferString(`{"message":"   "}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	store.AssertExpectations(t)
}

func TestMarkConversationReadReportsCount(t *testing.T) {
	store := new(mocks.MessageStoreMock)
	files := new(mocks.AttachmentWriterMock)
	handler := NewMessageHandler(store, newTestCoordinator(store, files), files)
	router := setupMessageRouter(handler, false)

	store.On("MarkConversationRead", mock.Anything, "user-1").Return(int64(3), nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/api/conversations/read", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, float64(3), resp["messages_marked"])
	store.AssertExpectations(t)
}

func TestSearchRequiresQuery(t *testing.T) {
	store := new(mocks.MessageStoreMock)
	files := new(mocks.AttachmentWriterMock)
	handler := NewMessageHandler(store, newTestCoordinator(store, files), files)
	router := setupMessageRouter(handler, false)

	req := httptest.NewRequest(http.MethodGet, "/api/messages/search", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	store.AssertNotCalled(t, "SearchMessages", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSearchScopedToOwnConversation(t *testing.T) {
	store := new(mocks.MessageStoreMock)
	files := new(mocks.AttachmentWriterMock)
	handler := NewMessageHandler(store, newTestCoordinator(store, files), files)
	router := setupMessageRouter(handler, false)

	store.On("SearchMessages", mock.Anything, "interview", "user-1", 20, 0).
		Return([]models.MessageWithAttachments{}, int64(0), nil).Once()

	// user_id is ignored for non-admin callers
	req := httptest.NewRequest(http.MethodGet, "/api/messages/search?q=interview&user_id=user-9", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	store.AssertExpectations(t)
}

func TestSearchAdminMayScopeAnyUser(t *testing.T) {
	store := new(mocks.MessageStoreMock)
	files := new(mocks.AttachmentWriterMock)
	handler := NewMessageHandler(store, newTestCoordinator(store, files), files)
	router := setupMessageRouter(handler, true)

	store.On("SearchMessages", mock.Anything, "interview", "user-9", 20, 0).
		Return([]models.MessageWithAttachments{}, int64(0), nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/api/messages/search?q=interview&user_id=user-9", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	store.AssertExpectations(t)
}

func TestDownloadAttachmentSuccess(t *testing.T) {
	store := new(mocks.MessageStoreMock)
	files := new(mocks.AttachmentWriterMock)
	handler := NewMessageHandler(store, newTestCoordinator(store, files), files)
	router := setupMessageRouter(handler, false)

	att := models.Attachment{ID: "a-1", Filename: "abc123_report.pdf"}
	store.On("AttachmentByFilename", mock.Anything, "abc123_report.pdf").Return(att, nil).Once()
	files.On("Open", mock.Anything, "abc123_report.pdf").Return([]byte("%PDF-1.4"), nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/api/attachments/abc123_report.pdf", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=31536000", rec.Header().Get("Cache-Control"))
	store.AssertExpectations(t)
	files.AssertExpectations(t)
}

func TestDownloadAttachmentNotFound(t *testing.T) {
	store := new(mocks.MessageStoreMock)
	files := new(mocks.AttachmentWriterMock)
	handler := NewMessageHandler(store, newTestCoordinator(store, files), files)
	router := setupMessageRouter(handler, false)

	store.On("AttachmentByFilename", mock.Anything, "ghost.pdf").
		Return(models.Attachment{}, repositories.ErrMessageNotFound).Once()

	req := httptest.NewRequest(http.MethodGet, "/api/attachments/ghost.pdf", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	files.AssertNotCalled(t, "Open", mock.Anything, mock.Anything)
}

func TestDownloadAttachmentSanitizesLookup(t *testing.T) {
	store := new(mocks.MessageStoreMock)
	files := new(mocks.AttachmentWriterMock)
	handler := NewMessageHandler(store, newTestCoordinator(store, files), files)
	router := setupMessageRouter(handler, false)

	// Illegal characters are stripped before the lookup ever happens.
	store.On("AttachmentByFilename", mock.Anything, "secret.pdf").
		Return(models.Attachment{}, repositories.ErrMessageNotFound).Once()

	req := httptest.NewRequest(http.MethodGet, "/api/attachments/sec**ret.pdf", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	store.AssertExpectations(t)
}

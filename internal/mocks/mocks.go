package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"conversation-service/internal/models"
	"conversation-service/internal/repositories"
)

type MessageStoreMock struct {
	mock.Mock
}

func (m *MessageStoreMock) CreateMessage(ctx context.Context, userID, sender, content string) (models.Message, error) {
	args := m.Called(ctx, userID, sender, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageStoreMock) GetUserMessages(ctx context.Context, userID string, limit, offset int) ([]models.MessageWithAttachments, error) {
	args := m.Called(ctx, userID, limit, offset)
	var list []models.MessageWithAttachments
	if val := args.Get(0); val != nil {
		list = val.([]models.MessageWithAttachments)
	}
	return list, args.Error(1)
}

func (m *MessageStoreMock) GetMessagesSince(ctx context.Context, userID string, since time.Time) ([]models.MessageWithAttachments, error) {
	args := m.Called(ctx, userID, since)
	var list []models.MessageWithAttachments
	if val := args.Get(0); val != nil {
		list = val.([]models.MessageWithAttachments)
	}
	return list, args.Error(1)
}

func (m *MessageStoreMock) GetMessageAttachments(ctx context.Context, messageID string) ([]models.Attachment, error) {
	args := m.Called(ctx, messageID)
	var list []models.Attachment
	if val := args.Get(0); val != nil {
		list = val.([]models.Attachment)
	}
	return list, args.Error(1)
}

func (m *MessageStoreMock) MarkMessageRead(ctx context.Context, messageID, userID string) error {
	args := m.Called(ctx, messageID, userID)
	return args.Error(0)
}

func (m *MessageStoreMock) MarkConversationRead(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MessageStoreMock) SearchMessages(ctx context.Context, query, userID string, limit, offset int) ([]models.MessageWithAttachments, int64, error) {
	args := m.Called(ctx, query, userID, limit, offset)
	var list []models.MessageWithAttachments
	if val := args.Get(0); val != nil {
		list = val.([]models.MessageWithAttachments)
	}
	return list, args.Get(1).(int64), args.Error(2)
}

func (m *MessageStoreMock) SaveAttachment(ctx context.Context, messageID string, upload repositories.AttachmentUpload, filename, filePath string) (models.Attachment, error) {
	args := m.Called(ctx, messageID, upload, filename, filePath)
	var att models.Attachment
	if val := args.Get(0); val != nil {
		att = val.(models.Attachment)
	}
	return att, args.Error(1)
}

func (m *MessageStoreMock) GetUnreadCount(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MessageStoreMock) ConversationOverviews(ctx context.Context) ([]models.ConversationOverview, error) {
	args := m.Called(ctx)
	var list []models.ConversationOverview
	if val := args.Get(0); val != nil {
		list = val.([]models.ConversationOverview)
	}
	return list, args.Error(1)
}

func (m *MessageStoreMock) AttachmentByFilename(ctx context.Context, filename string) (models.Attachment, error) {
	args := m.Called(ctx, filename)
	var att models.Attachment
	if val := args.Get(0); val != nil {
		att = val.(models.Attachment)
	}
	return att, args.Error(1)
}

type AttachmentWriterMock struct {
	mock.Mock
}

func (m *AttachmentWriterMock) Write(ctx context.Context, filename string, data []byte) (string, error) {
	args := m.Called(ctx, filename, data)
	return args.String(0), args.Error(1)
}

func (m *AttachmentWriterMock) Open(ctx context.Context, filename string) ([]byte, error) {
	args := m.Called(ctx, filename)
	var data []byte
	if val := args.Get(0); val != nil {
		data = val.([]byte)
	}
	return data, args.Error(1)
}

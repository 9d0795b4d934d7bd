package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"conversation-service/internal/models"
	"conversation-service/internal/observability"
	"conversation-service/internal/validation"
)

var ErrMessageNotFound = errors.New("message not found")

// AttachmentUpload carries the client-declared metadata for a file being
// attached to a message.
type AttachmentUpload struct {
	OriginalFilename string
	MimeType         string
	Size             int64
}

// MessageStore is the durable conversation history. The live socket path and
// the REST fallback both read through this interface, so the two delivery
// paths always observe the same state.
type MessageStore interface {
	CreateMessage(ctx context.Context, userID, sender, content string) (models.Message, error)
	GetUserMessages(ctx context.Context, userID string, limit, offset int) ([]models.MessageWithAttachments, error)
	GetMessagesSince(ctx context.Context, userID string, since time.Time) ([]models.MessageWithAttachments, error)
	GetMessageAttachments(ctx context.Context, messageID string) ([]models.Attachment, error)
	MarkMessageRead(ctx context.Context, messageID, userID string) error
	MarkConversationRead(ctx context.Context, userID string) (int64, error)
	SearchMessages(ctx context.Context, query string, userID string, limit, offset int) ([]models.MessageWithAttachments, int64, error)
	SaveAttachment(ctx context.Context, messageID string, upload AttachmentUpload, storedFilename, filePath string) (models.Attachment, error)
	GetUnreadCount(ctx context.Context, userID string) (int64, error)
	ConversationOverviews(ctx context.Context) ([]models.ConversationOverview, error)
	AttachmentByFilename(ctx context.Context, filename string) (models.Attachment, error)
}

// MessageRepo is the sqlx-backed MessageStore.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, user_id, sender, content, is_read, created_at`

// CreateMessage validates and stores one message, then reads it back so the
// caller sees exactly what was committed.
func (r *MessageRepo) CreateMessage(ctx context.Context, userID, sender, content string) (models.Message, error) {
	if err := validation.MessageContent(content); err != nil {
		return models.Message{}, err
	}

	messageID := uuid.NewString()
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO conversation_messages (id, user_id, sender, content, is_read) VALUES ($1, $2, $3, $4, FALSE)`,
		messageID, userID, sender, content,
	); err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}

	var msg models.Message
	if err := r.db.GetContext(ctx, &msg,
		`SELECT `+messageColumns+` FROM conversation_messages WHERE id=$1`, messageID,
	); err != nil {
		return models.Message{}, fmt.Errorf("read back message: %w", err)
	}

	observability.IncMessagePersisted(sender)
	log.Info().Str("user_id", userID).Str("message_id", messageID).Str("sender", sender).Msg("message created")
	return msg, nil
}

// GetUserMessages returns one conversation oldest-first with attachments.
func (r *MessageRepo) GetUserMessages(ctx context.Context, userID string, limit, offset int) ([]models.MessageWithAttachments, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT `+messageColumns+` FROM conversation_messages WHERE user_id=$1 ORDER BY created_at ASC LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	return r.withAttachments(ctx, msgs)
}

// GetMessagesSince returns messages strictly newer than since, oldest-first.
// This is the catch-up read that covers the live path's lack of offline
// queueing.
func (r *MessageRepo) GetMessagesSince(ctx context.Context, userID string, since time.Time) ([]models.MessageWithAttachments, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT `+messageColumns+` FROM conversation_messages WHERE user_id=$1 AND created_at > $2 ORDER BY created_at ASC`,
		userID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("select messages since: %w", err)
	}
	return r.withAttachments(ctx, msgs)
}

// GetMessageAttachments lists attachment metadata for one message.
func (r *MessageRepo) GetMessageAttachments(ctx context.Context, messageID string) ([]models.Attachment, error) {
	var atts []models.Attachment
	err := r.db.SelectContext(ctx, &atts,
		`SELECT id, message_id, filename, original_filename, file_size, mime_type, file_path, created_at
         FROM message_attachments WHERE message_id=$1 ORDER BY created_at ASC`,
		messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("select attachments: %w", err)
	}
	return atts, nil
}

// MarkMessageRead flips is_read for a message owned by userID. Idempotent;
// a second call on an already-read message still matches the row.
func (r *MessageRepo) MarkMessageRead(ctx context.Context, messageID, userID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE conversation_messages SET is_read = TRUE WHERE id=$1 AND user_id=$2`,
		messageID, userID,
	)
	if err != nil {
		return fmt.Errorf("mark message read: %w", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// MarkConversationRead flips every currently-unread message in the
// conversation and returns how many it touched.
func (r *MessageRepo) MarkConversationRead(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE conversation_messages SET is_read = TRUE WHERE user_id=$1 AND is_read = FALSE`,
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark conversation read: %w", err)
	}
	flipped, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	log.Info().Str("user_id", userID).Int64("messages_marked", flipped).Msg("conversation marked read")
	return flipped, nil
}

// SearchMessages substring-matches content, optionally scoped to one
// conversation. totalCount uses the identical filter as the page query.
func (r *MessageRepo) SearchMessages(ctx context.Context, query string, userID string, limit, offset int) ([]models.MessageWithAttachments, int64, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	pattern := "%" + query + "%"

	var (
		msgs  []models.Message
		total int64
		err   error
	)
	if userID != "" {
		err = r.db.SelectContext(ctx, &msgs,
			`SELECT `+messageColumns+` FROM conversation_messages WHERE content ILIKE $1 AND user_id=$2 ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
			pattern, userID, limit, offset,
		)
		if err == nil {
			err = r.db.GetContext(ctx, &total,
				`SELECT COUNT(*) FROM conversation_messages WHERE content ILIKE $1 AND user_id=$2`, pattern, userID)
		}
	} else {
		err = r.db.SelectContext(ctx, &msgs,
			`SELECT `+messageColumns+` FROM conversation_messages WHERE content ILIKE $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			pattern, limit, offset,
		)
		if err == nil {
			err = r.db.GetContext(ctx, &total,
				`SELECT COUNT(*) FROM conversation_messages WHERE content ILIKE $1`, pattern)
		}
	}
	if err != nil {
		return nil, 0, fmt.Errorf("search messages: %w", err)
	}

	enriched, err := r.withAttachments(ctx, msgs)
	if err != nil {
		return nil, 0, err
	}
	return enriched, total, nil
}

// SaveAttachment persists metadata for bytes the caller has already durably
// written. Calling this before the bytes exist would leave dangling metadata.
func (r *MessageRepo) SaveAttachment(ctx context.Context, messageID string, upload AttachmentUpload, storedFilename, filePath string) (models.Attachment, error) {
	attachmentID := uuid.NewString()
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO message_attachments (id, message_id, filename, original_filename, file_size, mime_type, file_path)
         VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		attachmentID, messageID, storedFilename, upload.OriginalFilename, upload.Size, upload.MimeType, filePath,
	); err != nil {
		return models.Attachment{}, fmt.Errorf("insert attachment: %w", err)
	}

	var att models.Attachment
	if err := r.db.GetContext(ctx, &att,
		`SELECT id, message_id, filename, original_filename, file_size, mime_type, file_path, created_at
         FROM message_attachments WHERE id=$1`, attachmentID,
	); err != nil {
		return models.Attachment{}, fmt.Errorf("read back attachment: %w", err)
	}

	log.Info().Str("attachment_id", attachmentID).Str("message_id", messageID).Str("filename", upload.OriginalFilename).Msg("attachment saved")
	return att, nil
}

// GetUnreadCount counts unread messages in one conversation.
func (r *MessageRepo) GetUnreadCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM conversation_messages WHERE user_id=$1 AND is_read = FALSE`, userID)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

// ConversationOverviews returns, per conversation, the latest message plus
// the count of unread user-sent messages. Presence annotation is layered on
// by the caller.
func (r *MessageRepo) ConversationOverviews(ctx context.Context) ([]models.ConversationOverview, error) {
	var rows []models.ConversationOverview
	err := r.db.SelectContext(ctx, &rows, `
        SELECT DISTINCT ON (cm.user_id)
            cm.user_id,
            cm.content AS last_message,
            cm.sender AS last_sender,
            cm.created_at AS last_message_at,
            (SELECT COUNT(*) FROM conversation_messages u
             WHERE u.user_id = cm.user_id AND u.sender = 'user' AND u.is_read = FALSE) AS unread_count
        FROM conversation_messages cm
        ORDER BY cm.user_id, cm.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("select conversation overviews: %w", err)
	}
	return rows, nil
}

// AttachmentByFilename resolves a stored (already sanitized) filename to its
// metadata row.
func (r *MessageRepo) AttachmentByFilename(ctx context.Context, filename string) (models.Attachment, error) {
	var att models.Attachment
	err := r.db.GetContext(ctx, &att,
		`SELECT id, message_id, filename, original_filename, file_size, mime_type, file_path, created_at
         FROM message_attachments WHERE filename=$1`, filename)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Attachment{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Attachment{}, fmt.Errorf("select attachment by filename: %w", err)
	}
	return att, nil
}

// withAttachments joins attachment rows onto a page of messages with one
// extra query instead of one per message.
func (r *MessageRepo) withAttachments(ctx context.Context, msgs []models.Message) ([]models.MessageWithAttachments, error) {
	result := make([]models.MessageWithAttachments, 0, len(msgs))
	if len(msgs) == 0 {
		return result, nil
	}

	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}

	query, args, err := sqlx.In(
		`SELECT id, message_id, filename, original_filename, file_size, mime_type, file_path, created_at
         FROM message_attachments WHERE message_id IN (?) ORDER BY created_at ASC`, ids)
	if err != nil {
		return nil, fmt.Errorf("build attachment query: %w", err)
	}

	var atts []models.Attachment
	if err := r.db.SelectContext(ctx, &atts, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("select attachments: %w", err)
	}

	byMessage := make(map[string][]models.Attachment, len(atts))
	for _, att := range atts {
		byMessage[att.MessageID] = append(byMessage[att.MessageID], att)
	}
	for _, m := range msgs {
		attachments := byMessage[m.ID]
		if attachments == nil {
			attachments = []models.Attachment{}
		}
		result = append(result, models.MessageWithAttachments{Message: m, Attachments: attachments})
	}
	return result, nil
}

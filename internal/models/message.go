package models

import "time"

// Sender values stored on conversation messages. A conversation is keyed by
// the non-admin participant; "admin" is the role of the other side, not a
// single account.
const (
	SenderUser  = "user"
	SenderAdmin = "admin"
)

// Message is one durable conversation message. Immutable after creation
// except IsRead, which only ever flips false to true.
type Message struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Sender    string    `db:"sender" json:"sender"`
	Content   string    `db:"content" json:"content"`
	IsRead    bool      `db:"is_read" json:"is_read"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Attachment is durable metadata for a file attached to a message. The bytes
// themselves live with the attachment writer; rows here are created only
// after the bytes are durably written.
type Attachment struct {
	ID               string    `db:"id" json:"id"`
	MessageID        string    `db:"message_id" json:"message_id"`
	Filename         string    `db:"filename" json:"filename"`
	OriginalFilename string    `db:"original_filename" json:"original_filename"`
	FileSize         int64     `db:"file_size" json:"file_size"`
	MimeType         string    `db:"mime_type" json:"mime_type"`
	FilePath         string    `db:"file_path" json:"file_path"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// MessageWithAttachments is the API-facing view of a message, used by both
// the REST history endpoints and the live push path.
type MessageWithAttachments struct {
	Message
	Attachments []Attachment `json:"attachments"`
}

// ConversationOverview is one row of the admin conversation list: the latest
// message per user annotated with unread count and presence.
type ConversationOverview struct {
	UserID        string     `db:"user_id" json:"user_id"`
	LastMessage   string     `db:"last_message" json:"last_message"`
	LastSender    string     `db:"last_sender" json:"last_sender"`
	LastMessageAt time.Time  `db:"last_message_at" json:"last_message_at"`
	UnreadCount   int64      `db:"unread_count" json:"unread_count"`
	Online        bool       `json:"online"`
	LastSeen      *time.Time `json:"last_seen,omitempty"`
}

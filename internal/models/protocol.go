package models

import (
	"encoding/json"
	"fmt"
)

// PresenceStatus is the derived online state of a user.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
)

// Wire frame type discriminators.
const (
	FrameSendMessage        = "send_message"
	FrameUploadFile         = "upload_file"
	FrameTypingStart        = "typing_start"
	FrameTypingStop         = "typing_stop"
	FrameMarkRead           = "mark_read"
	FramePing               = "ping"
	FramePong               = "pong"
	FrameConnected          = "connected"
	FrameMissedMessages     = "missed_messages"
	FrameMessageReceived    = "message_received"
	FrameMessageDelivered   = "message_delivered"
	FrameTypingIndicator    = "typing_indicator"
	FrameReadReceipt        = "read_receipt"
	FramePresenceUpdate     = "presence_update"
	FrameFileUploadComplete = "file_upload_complete"
	FrameError              = "error"
)

// Frame is the closed set of messages exchanged over a conversation socket.
// Frames are never persisted. Adding a variant requires extending DecodeFrame
// and EncodeFrame, keeping dispatch exhaustive.
type Frame interface {
	FrameType() string
}

// Client to server frames.

type SendMessage struct {
	Content string `json:"content"`
	// ConversationID selects the target conversation for admin senders;
	// ignored for regular users, whose conversation is their own.
	ConversationID string `json:"conversation_id,omitempty"`
}

type UploadFile struct {
	Filename       string `json:"filename"`
	MimeType       string `json:"mime_type"`
	Data           []byte `json:"data"` // base64 on the wire
	ConversationID string `json:"conversation_id,omitempty"`
}

type TypingStart struct {
	ConversationID string `json:"conversation_id"`
}

type TypingStop struct {
	ConversationID string `json:"conversation_id"`
}

type MarkRead struct {
	MessageID string `json:"message_id"`
}

type Ping struct{}

// Server to client frames.

type Pong struct{}

type Connected struct {
	UserID string `json:"user_id"`
}

type MissedMessages struct {
	Messages []MessageWithAttachments `json:"messages"`
	Count    int                      `json:"count"`
}

type MessageReceived struct {
	Message MessageWithAttachments `json:"message"`
}

type MessageDelivered struct {
	MessageID   string `json:"message_id"`
	DeliveredAt string `json:"delivered_at"`
}

type TypingIndicator struct {
	UserID         string `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
	ConversationID string `json:"conversation_id"`
}

type ReadReceipt struct {
	MessageID string `json:"message_id"`
	ReadBy    string `json:"read_by"`
	ReadAt    string `json:"read_at"`
}

type PresenceUpdate struct {
	UserID string         `json:"user_id"`
	Status PresenceStatus `json:"status"`
}

type FileUploadComplete struct {
	UploadID   string     `json:"upload_id"`
	FileURL    string     `json:"file_url"`
	Attachment Attachment `json:"attachment"`
}

type ErrorFrame struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (SendMessage) FrameType() string        { return FrameSendMessage }
func (UploadFile) FrameType() string         { return FrameUploadFile }
func (TypingStart) FrameType() string        { return FrameTypingStart }
func (TypingStop) FrameType() string         { return FrameTypingStop }
func (MarkRead) FrameType() string           { return FrameMarkRead }
func (Ping) FrameType() string               { return FramePing }
func (Pong) FrameType() string               { return FramePong }
func (Connected) FrameType() string          { return FrameConnected }
func (MissedMessages) FrameType() string     { return FrameMissedMessages }
func (MessageReceived) FrameType() string    { return FrameMessageReceived }
func (MessageDelivered) FrameType() string   { return FrameMessageDelivered }
func (TypingIndicator) FrameType() string    { return FrameTypingIndicator }
func (ReadReceipt) FrameType() string        { return FrameReadReceipt }
func (PresenceUpdate) FrameType() string     { return FramePresenceUpdate }
func (FileUploadComplete) FrameType() string { return FrameFileUploadComplete }
func (ErrorFrame) FrameType() string         { return FrameError }

type envelope struct {
	Type string `json:"type"`
}

// DecodeFrame parses a wire frame by its type discriminator. Unknown types
// are an error so a client cannot smuggle unrecognized events past dispatch.
func DecodeFrame(data []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode frame envelope: %w", err)
	}

	switch env.Type {
	case FrameSendMessage:
		var f SendMessage
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode %s frame: %w", env.Type, err)
		}
		return f, nil
	case FrameUploadFile:
		var f UploadFile
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode %s frame: %w", env.Type, err)
		}
		return f, nil
	case FrameTypingStart:
		var f TypingStart
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode %s frame: %w", env.Type, err)
		}
		return f, nil
	case FrameTypingStop:
		var f TypingStop
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode %s frame: %w", env.Type, err)
		}
		return f, nil
	case FrameMarkRead:
		var f MarkRead
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode %s frame: %w", env.Type, err)
		}
		return f, nil
	case FramePing:
		return Ping{}, nil
	case FramePong:
		return Pong{}, nil
	case FrameConnected:
		var f Connected
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode %s frame: %w", env.Type, err)
		}
		return f, nil
	case FrameMissedMessages:
		var f MissedMessages
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode %s frame: %w", env.Type, err)
		}
		return f, nil
	case FrameMessageReceived:
		var f MessageReceived
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode %s frame: %w", env.Type, err)
		}
		return f, nil
	case FrameMessageDelivered:
		var f MessageDelivered
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode %s frame: %w", env.Type, err)
		}
		return f, nil
	case FrameTypingIndicator:
		var f TypingIndicator
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode %s frame: %w", env.Type, err)
		}
		return f, nil
	case FrameReadReceipt:
		var f ReadReceipt
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode %s frame: %w", env.Type, err)
		}
		return f, nil
	case FramePresenceUpdate:
		var f PresenceUpdate
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode %s frame: %w", env.Type, err)
		}
		return f, nil
	case FrameFileUploadComplete:
		var f FileUploadComplete
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode %s frame: %w", env.Type, err)
		}
		return f, nil
	case FrameError:
		var f ErrorFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode %s frame: %w", env.Type, err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unknown frame type %q", env.Type)
	}
}

// EncodeFrame serializes a frame with its type tag.
func EncodeFrame(f Frame) ([]byte, error) {
	switch v := f.(type) {
	case SendMessage:
		return json.Marshal(struct {
			Type string `json:"type"`
			SendMessage
		}{FrameSendMessage, v})
	case UploadFile:
		return json.Marshal(struct {
			Type string `json:"type"`
			UploadFile
		}{FrameUploadFile, v})
	case TypingStart:
		return json.Marshal(struct {
			Type string `json:"type"`
			TypingStart
		}{FrameTypingStart, v})
	case TypingStop:
		return json.Marshal(struct {
			Type string `json:"type"`
			TypingStop
		}{FrameTypingStop, v})
	case MarkRead:
		return json.Marshal(struct {
			Type string `json:"type"`
			MarkRead
		}{FrameMarkRead, v})
	case Ping:
		return json.Marshal(envelope{Type: FramePing})
	case Pong:
		return json.Marshal(envelope{Type: FramePong})
	case Connected:
		return json.Marshal(struct {
			Type string `json:"type"`
			Connected
		}{FrameConnected, v})
	case MissedMessages:
		return json.Marshal(struct {
			Type string `json:"type"`
			MissedMessages
		}{FrameMissedMessages, v})
	case MessageReceived:
		return json.Marshal(struct {
			Type string `json:"type"`
			MessageReceived
		}{FrameMessageReceived, v})
	case MessageDelivered:
		return json.Marshal(struct {
			Type string `json:"type"`
			MessageDelivered
		}{FrameMessageDelivered, v})
	case TypingIndicator:
		return json.Marshal(struct {
			Type string `json:"type"`
			TypingIndicator
		}{FrameTypingIndicator, v})
	case ReadReceipt:
		return json.Marshal(struct {
			Type string `json:"type"`
			ReadReceipt
		}{FrameReadReceipt, v})
	case PresenceUpdate:
		return json.Marshal(struct {
			Type string `json:"type"`
			PresenceUpdate
		}{FramePresenceUpdate, v})
	case FileUploadComplete:
		return json.Marshal(struct {
			Type string `json:"type"`
			FileUploadComplete
		}{FrameFileUploadComplete, v})
	case ErrorFrame:
		return json.Marshal(struct {
			Type string `json:"type"`
			ErrorFrame
		}{FrameError, v})
	default:
		return nil, fmt.Errorf("unsupported frame type %T", f)
	}
}

package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"conversation-service/internal/models"
	"conversation-service/internal/repositories"
	"conversation-service/internal/storage"
	"conversation-service/internal/validation"
)

// Coordinator translates inbound protocol events into registry, presence and
// store operations, and owns the periodic stale-connection sweep. Persist
// happens before any live push: the push is best-effort, the store plus the
// reconnect catch-up read is the delivery guarantee.
type Coordinator struct {
	registry *Registry
	presence *Presence
	store    repositories.MessageStore
	files    storage.AttachmentWriter

	heartbeatTimeout time.Duration
	sweepInterval    time.Duration

	cleanupOnce sync.Once

	mu     sync.RWMutex
	admins map[string]struct{} // userIDs seen connecting with the admin role
}

// NewCoordinator wires the delivery glue.
func NewCoordinator(registry *Registry, presence *Presence, store repositories.MessageStore, files storage.AttachmentWriter, heartbeatTimeout, sweepInterval time.Duration) *Coordinator {
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = 60 * time.Second
	}
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}
	return &Coordinator{
		registry:         registry,
		presence:         presence,
		store:            store,
		files:            files,
		heartbeatTimeout: heartbeatTimeout,
		sweepInterval:    sweepInterval,
		admins:           make(map[string]struct{}),
	}
}

// OnConnect registers the connection, replays messages missed since the
// user's last activity, and broadcasts the online transition.
func (c *Coordinator) OnConnect(ctx context.Context, userID string, isAdmin bool, connectionID string, ch chan []byte) {
	if isAdmin {
		c.mu.Lock()
		c.admins[userID] = struct{}{}
		c.mu.Unlock()
	}

	// Last-seen must be captured before MarkOnline refreshes it, or the
	// catch-up window collapses to nothing.
	lastSeen, hasLastSeen := c.presence.GetLastSeen(userID)

	c.registry.Register(userID, connectionID, ch)

	if err := c.registry.SendToConnection(connectionID, models.Connected{UserID: userID}); err != nil {
		log.Warn().Str("connection_id", connectionID).Err(err).Msg("failed to send connected frame")
	}

	if hasLastSeen {
		missed, err := c.store.GetMessagesSince(ctx, userID, lastSeen)
		if err != nil {
			log.Error().Str("user_id", userID).Err(err).Msg("failed to load missed messages")
		} else if len(missed) > 0 {
			if err := c.registry.SendToConnection(connectionID, models.MissedMessages{Messages: missed, Count: len(missed)}); err != nil {
				log.Warn().Str("connection_id", connectionID).Err(err).Msg("failed to send missed messages")
			}
		}
	}

	c.presence.MarkOnline(userID, c.presencePeers(userID))
}

// OnDisconnect resolves the owning user before removal, unregisters, and
// broadcasts offline only once the user's last connection is gone.
func (c *Coordinator) OnDisconnect(connectionID string) {
	userID, ok := c.registry.Owner(connectionID)
	if !ok {
		// Already reaped or evicted; nothing left to settle.
		return
	}
	c.registry.Unregister(connectionID)
	if !c.registry.IsOnline(userID) {
		c.presence.MarkOffline(userID, c.presencePeers(userID))
	}
}

// OnPing refreshes liveness and answers with a pong. Never a conversation
// message.
func (c *Coordinator) OnPing(connectionID string) error {
	c.registry.UpdateHeartbeat(connectionID)
	if userID, ok := c.registry.Owner(connectionID); ok {
		c.presence.UpdateLastSeen(userID)
	}
	return c.registry.SendToConnection(connectionID, models.Pong{})
}

// OnSend persists the message, then fans out live best-effort. A recipient
// with no live connection picks the row up later through the catch-up read;
// the sender is reported success regardless.
func (c *Coordinator) OnSend(ctx context.Context, userID string, isAdmin bool, frame models.SendMessage) (models.Message, error) {
	conversationKey, sender, err := c.resolveConversation(userID, isAdmin, frame.ConversationID)
	if err != nil {
		return models.Message{}, err
	}

	msg, err := c.store.CreateMessage(ctx, conversationKey, sender, frame.Content)
	if err != nil {
		return models.Message{}, err
	}

	c.pushMessage(userID, conversationKey, models.MessageWithAttachments{Message: msg, Attachments: []models.Attachment{}})
	return msg, nil
}

// OnMarkRead flips the flag and echoes a read receipt to the reader's other
// devices.
func (c *Coordinator) OnMarkRead(ctx context.Context, userID, messageID string) error {
	if err := c.store.MarkMessageRead(ctx, messageID, userID); err != nil {
		return err
	}
	receipt := models.ReadReceipt{
		MessageID: messageID,
		ReadBy:    userID,
		ReadAt:    time.Now().UTC().Format(time.RFC3339Nano),
	}
	if _, err := c.registry.SendToUser(userID, receipt); err != nil {
		log.Debug().Str("user_id", userID).Err(err).Msg("read receipt not delivered live")
	}
	return nil
}

// OnUpload validates the file, writes the bytes, then records metadata —
// strictly in that order so a failed write never leaves dangling rows.
func (c *Coordinator) OnUpload(ctx context.Context, userID string, isAdmin bool, frame models.UploadFile) error {
	if err := validation.Attachment(frame.Filename, frame.MimeType, int64(len(frame.Data))); err != nil {
		return err
	}
	if err := validation.FileContent(frame.Data, frame.MimeType); err != nil {
		return err
	}

	conversationKey, sender, err := c.resolveConversation(userID, isAdmin, frame.ConversationID)
	if err != nil {
		return err
	}

	msg, err := c.store.CreateMessage(ctx, conversationKey, sender, fmt.Sprintf("Sent file: %s", frame.Filename))
	if err != nil {
		return err
	}

	uploadID := newUploadID()
	storedFilename := uploadID + "_" + validation.SanitizeFilename(frame.Filename)
	filePath, err := c.files.Write(ctx, storedFilename, frame.Data)
	if err != nil {
		return fmt.Errorf("store attachment bytes: %w", err)
	}

	att, err := c.store.SaveAttachment(ctx, msg.ID, repositories.AttachmentUpload{
		OriginalFilename: frame.Filename,
		MimeType:         frame.MimeType,
		Size:             int64(len(frame.Data)),
	}, storedFilename, filePath)
	if err != nil {
		return err
	}

	complete := models.FileUploadComplete{
		UploadID:   uploadID,
		FileURL:    "/api/attachments/" + storedFilename,
		Attachment: att,
	}
	if _, err := c.registry.SendToUser(userID, complete); err != nil {
		log.Debug().Str("user_id", userID).Err(err).Msg("upload completion not delivered live")
	}

	c.pushMessage(userID, conversationKey, models.MessageWithAttachments{Message: msg, Attachments: []models.Attachment{att}})
	return nil
}

// HandleFrame dispatches one inbound frame. The switch covers every variant
// of the closed union; server-to-client frames arriving from a client are
// logged and dropped.
func (c *Coordinator) HandleFrame(ctx context.Context, userID string, isAdmin bool, connectionID string, frame models.Frame) error {
	switch f := frame.(type) {
	case models.SendMessage:
		_, err := c.OnSend(ctx, userID, isAdmin, f)
		return err
	case models.UploadFile:
		return c.OnUpload(ctx, userID, isAdmin, f)
	case models.MarkRead:
		return c.OnMarkRead(ctx, userID, f.MessageID)
	case models.Ping:
		return c.OnPing(connectionID)
	case models.Pong:
		c.registry.UpdateHeartbeat(connectionID)
		return nil
	case models.TypingStart:
		return c.onTyping(userID, isAdmin, f.ConversationID, true)
	case models.TypingStop:
		return c.onTyping(userID, isAdmin, f.ConversationID, false)
	case models.Connected, models.MissedMessages, models.MessageReceived,
		models.MessageDelivered, models.TypingIndicator, models.ReadReceipt,
		models.PresenceUpdate, models.FileUploadComplete, models.ErrorFrame:
		log.Warn().Str("user_id", userID).Str("frame_type", frame.FrameType()).Msg("client sent server-only frame")
		return nil
	default:
		return fmt.Errorf("unhandled frame type %q", frame.FrameType())
	}
}

// StartCleanupTask spawns the recurring stale sweep, bound to ctx so it stops
// at process shutdown. Safe to call more than once; only the first call
// starts the loop.
func (c *Coordinator) StartCleanupTask(ctx context.Context) {
	c.cleanupOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(c.sweepInterval)
			defer ticker.Stop()
			log.Info().Dur("interval", c.sweepInterval).Dur("timeout", c.heartbeatTimeout).Msg("stale connection sweep started")
			for {
				select {
				case <-ctx.Done():
					log.Info().Msg("stale connection sweep stopped")
					return
				case <-ticker.C:
					reaped := c.registry.ReapStale(c.heartbeatTimeout)
					for _, conn := range reaped {
						if !c.registry.IsOnline(conn.UserID) {
							c.presence.MarkOffline(conn.UserID, c.presencePeers(conn.UserID))
						}
					}
				}
			}
		}()
	})
}

// NotifyMessage fans out a message persisted outside the socket path, so the
// REST fallback reaches live connections exactly like a socket send.
func (c *Coordinator) NotifyMessage(senderID, conversationKey string, msg models.MessageWithAttachments) {
	c.pushMessage(senderID, conversationKey, msg)
}

// Presence returns the tracker, for read-side collaborators such as the
// admin conversation list.
func (c *Coordinator) Presence() *Presence { return c.presence }

// Registry returns the connection registry.
func (c *Coordinator) Registry() *Registry { return c.registry }

// resolveConversation maps the sender identity onto a conversation key. A
// regular user always writes to their own conversation; an admin must say
// which one.
func (c *Coordinator) resolveConversation(userID string, isAdmin bool, conversationID string) (key, sender string, err error) {
	if !isAdmin {
		return userID, models.SenderUser, nil
	}
	if conversationID == "" {
		return "", "", fmt.Errorf("%w: conversation_id required for admin messages", validation.ErrValidation)
	}
	return conversationID, models.SenderAdmin, nil
}

// pushMessage fans a persisted message out: the conversation owner's
// connections, the online admins (when a user wrote), and a delivery receipt
// to the sender. Every leg is best-effort.
func (c *Coordinator) pushMessage(senderID, conversationKey string, msg models.MessageWithAttachments) {
	received := models.MessageReceived{Message: msg}

	if _, err := c.registry.SendToUser(conversationKey, received); err != nil {
		if errors.Is(err, ErrNoActiveConnections) {
			log.Debug().Str("user_id", conversationKey).Msg("recipient offline, message waits for catch-up")
		} else {
			log.Warn().Str("user_id", conversationKey).Err(err).Msg("live push failed")
		}
	}

	if msg.Sender == models.SenderUser {
		if admins := c.onlineAdmins(conversationKey); len(admins) > 0 {
			c.registry.BroadcastToUsers(admins, received)
		}
	}

	delivered := models.MessageDelivered{
		MessageID:   msg.ID,
		DeliveredAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if _, err := c.registry.SendToUser(senderID, delivered); err != nil {
		log.Debug().Str("user_id", senderID).Err(err).Msg("delivery receipt not sent")
	}
}

func (c *Coordinator) onTyping(userID string, isAdmin bool, conversationID string, isTyping bool) error {
	indicator := models.TypingIndicator{
		UserID:         userID,
		IsTyping:       isTyping,
		ConversationID: conversationID,
	}
	if isAdmin {
		if conversationID == "" {
			return fmt.Errorf("%w: conversation_id required for typing indicator", validation.ErrValidation)
		}
		if _, err := c.registry.SendToUser(conversationID, indicator); err != nil {
			log.Debug().Str("user_id", conversationID).Err(err).Msg("typing indicator dropped")
		}
		return nil
	}
	indicator.ConversationID = userID
	c.registry.BroadcastToUsers(c.onlineAdmins(userID), indicator)
	return nil
}

// presencePeers computes who should hear a presence change: admins hear
// about users, everyone else hears about admins.
func (c *Coordinator) presencePeers(userID string) []string {
	c.mu.RLock()
	_, isAdmin := c.admins[userID]
	c.mu.RUnlock()

	if !isAdmin {
		return c.onlineAdmins(userID)
	}

	var peers []string
	for _, online := range c.registry.OnlineUsers() {
		if online != userID {
			peers = append(peers, online)
		}
	}
	return peers
}

// onlineAdmins lists currently-online admin users, excluding exclude.
func (c *Coordinator) onlineAdmins(exclude string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for admin := range c.admins {
		if admin != exclude && c.registry.IsOnline(admin) {
			out = append(out, admin)
		}
	}
	return out
}

package ws

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"conversation-service/internal/models"
)

// Presence derives online state from the registry and keeps per-user
// last-seen timestamps. Last-seen survives disconnects so the UI can show
// "last seen" for offline users. There is no subscription model: callers
// compute the peer set that should hear about a change.
type Presence struct {
	registry *Registry

	mu       sync.RWMutex
	lastSeen map[string]time.Time
}

// NewPresence builds a tracker over the given registry.
func NewPresence(registry *Registry) *Presence {
	return &Presence{
		registry: registry,
		lastSeen: make(map[string]time.Time),
	}
}

// GetStatus is a pure derivation from the registry; nothing is cached.
func (p *Presence) GetStatus(userID string) models.PresenceStatus {
	if p.registry.IsOnline(userID) {
		return models.PresenceOnline
	}
	return models.PresenceOffline
}

// UpdateLastSeen stamps now for the user. Called on connect, disconnect and
// every heartbeat.
func (p *Presence) UpdateLastSeen(userID string) {
	p.mu.Lock()
	p.lastSeen[userID] = time.Now()
	p.mu.Unlock()
}

// GetLastSeen returns the last recorded activity timestamp, if any.
func (p *Presence) GetLastSeen(userID string) (time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ts, ok := p.lastSeen[userID]
	return ts, ok
}

// MarkOnline refreshes last-seen and broadcasts the change to the given peers.
func (p *Presence) MarkOnline(userID string, relevantUserIDs []string) {
	p.UpdateLastSeen(userID)
	log.Info().Str("user_id", userID).Int("peers", len(relevantUserIDs)).Msg("user marked online")
	p.registry.BroadcastToUsers(relevantUserIDs, models.PresenceUpdate{
		UserID: userID,
		Status: models.PresenceOnline,
	})
}

// MarkOffline refreshes last-seen and broadcasts the change to the given peers.
func (p *Presence) MarkOffline(userID string, relevantUserIDs []string) {
	p.UpdateLastSeen(userID)
	log.Info().Str("user_id", userID).Int("peers", len(relevantUserIDs)).Msg("user marked offline")
	p.registry.BroadcastToUsers(relevantUserIDs, models.PresenceUpdate{
		UserID: userID,
		Status: models.PresenceOffline,
	})
}

// GetStatuses batches GetStatus over several users.
func (p *Presence) GetStatuses(userIDs []string) map[string]models.PresenceStatus {
	statuses := make(map[string]models.PresenceStatus, len(userIDs))
	for _, userID := range userIDs {
		statuses[userID] = p.GetStatus(userID)
	}
	return statuses
}

// GetOnlineUsers delegates to the registry.
func (p *Presence) GetOnlineUsers() []string {
	return p.registry.OnlineUsers()
}

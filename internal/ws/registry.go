package ws

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"conversation-service/internal/models"
	"conversation-service/internal/observability"
)

var (
	// ErrConnectionNotFound reports a send to a connection that no longer exists
	// or whose outbound buffer is gone.
	ErrConnectionNotFound = errors.New("connection not found")
	// ErrNoActiveConnections reports a user-level send that reached nobody.
	ErrNoActiveConnections = errors.New("no active connections")
)

// Connection is the bookkeeping record for one live socket.
type Connection struct {
	UserID        string
	ConnectionID  string
	ConnectedAt   time.Time
	LastHeartbeat time.Time
}

// Registry is the authoritative table of live connections. It owns three
// maps — outbound channels, per-user connection sets, and connection info —
// mutated under a single mutex so no reader ever observes them torn.
type Registry struct {
	mu sync.RWMutex
	// connectionID -> outbound channel of encoded frames
	channels map[string]chan []byte
	// userID -> set of connectionIDs; entry removed with the last connection
	userConnections map[string]map[string]struct{}
	// connectionID -> info
	connections map[string]*Connection
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		channels:        make(map[string]chan []byte),
		userConnections: make(map[string]map[string]struct{}),
		connections:     make(map[string]*Connection),
	}
}

// Register adds a connection for a user together with its outbound channel.
// The registry owns the channel from here on and closes it on removal.
// A user may hold several connections at once. Re-registering an existing
// connectionID replaces the previous registration.
func (r *Registry) Register(userID, connectionID string, ch chan []byte) {
	now := time.Now()

	r.mu.Lock()
	if _, exists := r.connections[connectionID]; exists {
		r.removeLocked(connectionID)
	}
	r.channels[connectionID] = ch
	r.connections[connectionID] = &Connection{
		UserID:        userID,
		ConnectionID:  connectionID,
		ConnectedAt:   now,
		LastHeartbeat: now,
	}
	set, ok := r.userConnections[userID]
	if !ok {
		set = make(map[string]struct{})
		r.userConnections[userID] = set
	}
	set[connectionID] = struct{}{}
	r.mu.Unlock()

	observability.IncWSActive()
	log.Info().Str("user_id", userID).Str("connection_id", connectionID).Msg("websocket connection registered")
}

// Unregister removes the connection from all three maps and closes its
// outbound channel. Unknown ids are a no-op; disconnect and reap can race.
func (r *Registry) Unregister(connectionID string) {
	r.mu.Lock()
	info, ok := r.connections[connectionID]
	if ok {
		r.removeLocked(connectionID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	observability.DecWSActive()
	log.Info().Str("user_id", info.UserID).Str("connection_id", connectionID).Msg("websocket connection unregistered")
}

// removeLocked drops one connection from all maps. Caller holds r.mu.
func (r *Registry) removeLocked(connectionID string) {
	info := r.connections[connectionID]
	delete(r.connections, connectionID)
	if ch, ok := r.channels[connectionID]; ok {
		delete(r.channels, connectionID)
		close(ch)
	}
	if info != nil {
		if set, ok := r.userConnections[info.UserID]; ok {
			delete(set, connectionID)
			if len(set) == 0 {
				delete(r.userConnections, info.UserID)
			}
		}
	}
}

// UpdateHeartbeat refreshes the liveness timestamp. No-op on unknown ids.
func (r *Registry) UpdateHeartbeat(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.connections[connectionID]; ok {
		conn.LastHeartbeat = time.Now()
	}
}

// Owner resolves the user that holds a connection.
func (r *Registry) Owner(connectionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[connectionID]
	if !ok {
		return "", false
	}
	return conn.UserID, true
}

// IsOnline reports whether the user has at least one live connection.
// The answer may be stale by the time the caller acts on it.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userConnections[userID]) > 0
}

// OnlineUsers snapshots every user with at least one connection.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]string, 0, len(r.userConnections))
	for userID := range r.userConnections {
		users = append(users, userID)
	}
	return users
}

// ConnectionCount reports the user's live connection count.
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userConnections[userID])
}

// TotalConnections reports the size of the whole table.
func (r *Registry) TotalConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// SendToConnection encodes the frame and queues it on one connection.
// A full outbound buffer fails the send; the caller side read loop is
// assumed stalled and the connection gets evicted.
func (r *Registry) SendToConnection(connectionID string, frame models.Frame) error {
	payload, err := models.EncodeFrame(frame)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", frame.FrameType(), err)
	}

	r.mu.RLock()
	ch, ok := r.channels[connectionID]
	if !ok {
		r.mu.RUnlock()
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, connectionID)
	}
	select {
	case ch <- payload:
		r.mu.RUnlock()
		return nil
	default:
		r.mu.RUnlock()
	}

	// Queue full: slow consumer. Evict rather than block or buffer unboundedly.
	log.Warn().Str("connection_id", connectionID).Msg("outbound queue full, evicting slow connection")
	observability.IncWSEvent("slow_consumer_evicted")
	r.Unregister(connectionID)
	return fmt.Errorf("%w: %s outbound queue full", ErrConnectionNotFound, connectionID)
}

// SendToUser fans a frame out to every live connection of one user and
// returns how many accepted it. Zero deliveries is ErrNoActiveConnections so
// callers can tell "delivered somewhere" from "delivered nowhere".
func (r *Registry) SendToUser(userID string, frame models.Frame) (int, error) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.userConnections[userID]))
	for connectionID := range r.userConnections[userID] {
		ids = append(ids, connectionID)
	}
	r.mu.RUnlock()

	sent := 0
	for _, connectionID := range ids {
		if err := r.SendToConnection(connectionID, frame); err == nil {
			sent++
		}
	}
	if sent == 0 {
		return 0, fmt.Errorf("%w for user %s", ErrNoActiveConnections, userID)
	}
	return sent, nil
}

// BroadcastToUsers delivers best-effort to a set of users. Per-recipient
// failures are logged and never propagated; one offline recipient must not
// block the rest.
func (r *Registry) BroadcastToUsers(userIDs []string, frame models.Frame) {
	for _, userID := range userIDs {
		if _, err := r.SendToUser(userID, frame); err != nil {
			log.Debug().Str("user_id", userID).Err(err).Msg("broadcast skipped recipient")
		}
	}
}

// ReapStale removes every connection whose heartbeat age exceeds timeout and
// returns copies of the removed records so the sweep can settle presence.
func (r *Registry) ReapStale(timeout time.Duration) []Connection {
	now := time.Now()

	r.mu.RLock()
	var stale []Connection
	for _, conn := range r.connections {
		if now.Sub(conn.LastHeartbeat) > timeout {
			stale = append(stale, *conn)
		}
	}
	r.mu.RUnlock()

	for _, conn := range stale {
		log.Warn().Str("connection_id", conn.ConnectionID).Str("user_id", conn.UserID).Msg("removing stale connection")
		observability.IncWSEvent("stale_reaped")
		r.Unregister(conn.ConnectionID)
	}
	return stale
}

package ws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conversation-service/internal/models"
)

func newTestChannel() chan []byte {
	return make(chan []byte, 8)
}

func TestRegisterMultipleConnectionsPerUser(t *testing.T) {
	r := NewRegistry()

	r.Register("user-1", "conn-a", newTestChannel())
	r.Register("user-1", "conn-b", newTestChannel())

	assert.True(t, r.IsOnline("user-1"))
	assert.Equal(t, 2, r.ConnectionCount("user-1"))
	assert.Equal(t, 2, r.TotalConnections())
	assert.Equal(t, []string{"user-1"}, r.OnlineUsers())
}

func TestUnregisterLastConnectionTakesUserOffline(t *testing.T) {
	r := NewRegistry()
	r.Register("user-1", "conn-a", newTestChannel())
	r.Register("user-1", "conn-b", newTestChannel())

	r.Unregister("conn-a")
	assert.True(t, r.IsOnline("user-1"))

	r.Unregister("conn-b")
	assert.False(t, r.IsOnline("user-1"))
	assert.Equal(t, 0, r.TotalConnections())
	assert.Empty(t, r.OnlineUsers())
}

func TestUnregisterUnknownConnectionIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Register("user-1", "conn-a", newTestChannel())

	r.Unregister("never-registered")
	r.Unregister("never-registered")

	assert.Equal(t, 1, r.TotalConnections())
	assert.True(t, r.IsOnline("user-1"))
}

func TestReRegisterReplacesConnection(t *testing.T) {
	r := NewRegistry()
	first := newTestChannel()
	r.Register("user-1", "conn-a", first)
	r.Register("user-1", "conn-a", newTestChannel())

	assert.Equal(t, 1, r.ConnectionCount("user-1"))
	assert.Equal(t, 1, r.TotalConnections())

	// Old channel is closed when replaced.
	_, open := <-first
	assert.False(t, open)
}

func TestOwner(t *testing.T) {
	r := NewRegistry()
	r.Register("user-1", "conn-a", newTestChannel())

	owner, ok := r.Owner("conn-a")
	require.True(t, ok)
	assert.Equal(t, "user-1", owner)

	_, ok = r.Owner("conn-z")
	assert.False(t, ok)
}

func TestSendToConnectionDeliversEncodedFrame(t *testing.T) {
	r := NewRegistry()
	ch := newTestChannel()
	r.Register("user-1", "conn-a", ch)

	require.NoError(t, r.SendToConnection("conn-a", models.Connected{UserID: "user-1"}))

	payload := <-ch
	frame, err := models.DecodeFrame(payload)
	require.NoError(t, err)
	assert.Equal(t, models.Connected{UserID: "user-1"}, frame)
}

func TestSendToConnectionUnknown(t *testing.T) {
	r := NewRegistry()
	err := r.SendToConnection("conn-z", models.Pong{})
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestSendToConnectionEvictsSlowConsumer(t *testing.T) {
	r := NewRegistry()
	ch := make(chan []byte, 1)
	r.Register("user-1", "conn-a", ch)

	require.NoError(t, r.SendToConnection("conn-a", models.Pong{}))

	// Buffer is now full and nobody is draining: the next send must fail
	// and evict the connection instead of blocking.
	err := r.SendToConnection("conn-a", models.Pong{})
	assert.ErrorIs(t, err, ErrConnectionNotFound)
	assert.False(t, r.IsOnline("user-1"))
	assert.Equal(t, 0, r.TotalConnections())
}

func TestSendToUserCountsDeliveries(t *testing.T) {
	r := NewRegistry()
	chA := newTestChannel()
	chB := newTestChannel()
	r.Register("user-1", "conn-a", chA)
	r.Register("user-1", "conn-b", chB)

	sent, err := r.SendToUser("user-1", models.Pong{})
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Len(t, chA, 1)
	assert.Len(t, chB, 1)
}

func TestSendToUserOffline(t *testing.T) {
	r := NewRegistry()
	_, err := r.SendToUser("user-1", models.Pong{})
	assert.ErrorIs(t, err, ErrNoActiveConnections)
}

func TestBroadcastSkipsOfflineRecipients(t *testing.T) {
	r := NewRegistry()
	ch := newTestChannel()
	r.Register("user-1", "conn-a", ch)

	r.BroadcastToUsers([]string{"user-1", "ghost"}, models.Pong{})
	assert.Len(t, ch, 1)
}

func TestReapStaleRemovesOnlyExpired(t *testing.T) {
	r := NewRegistry()
	r.Register("user-1", "conn-stale", newTestChannel())
	r.Register("user-2", "conn-fresh", newTestChannel())

	// Age the first connection past the timeout by hand.
	r.mu.Lock()
	r.connections["conn-stale"].LastHeartbeat = time.Now().Add(-2 * time.Minute)
	r.mu.Unlock()

	reaped := r.ReapStale(time.Minute)
	require.Len(t, reaped, 1)
	assert.Equal(t, "conn-stale", reaped[0].ConnectionID)
	assert.Equal(t, "user-1", reaped[0].UserID)

	assert.False(t, r.IsOnline("user-1"))
	assert.True(t, r.IsOnline("user-2"))
}

func TestHeartbeatKeepsConnectionAlive(t *testing.T) {
	r := NewRegistry()
	r.Register("user-1", "conn-a", newTestChannel())

	r.mu.Lock()
	r.connections["conn-a"].LastHeartbeat = time.Now().Add(-2 * time.Minute)
	r.mu.Unlock()

	r.UpdateHeartbeat("conn-a")

	reaped := r.ReapStale(time.Minute)
	assert.Empty(t, reaped)
	assert.True(t, r.IsOnline("user-1"))
}

package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"conversation-service/internal/auth"
	"conversation-service/internal/models"
	"conversation-service/internal/observability"
)

// Handler terminates the socket upgrade and feeds frames to the coordinator.
type Handler struct {
	coordinator *Coordinator
	verifier    *auth.Verifier
	sendBuffer  int
}

// NewHandler constructs a Handler. sendBuffer sizes each connection's
// outbound queue.
func NewHandler(coordinator *Coordinator, verifier *auth.Verifier, sendBuffer int) *Handler {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Handler{coordinator: coordinator, verifier: verifier, sendBuffer: sendBuffer}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connMeta mirrors what we report about a connection on its amqp events.
type connMeta struct {
	ConnID      string
	UserID      string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// Handle authenticates, upgrades, registers the connection and runs the read
// loop until the socket dies.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("conversation-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.GetHeader("Authorization")
	if token == "" {
		if q := c.Query("token"); q != "" {
			token = "Bearer " + q
		}
	}

	identity, err := h.verifier.FromBearer(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	meta := connMeta{
		ConnID:      newConnectionID(),
		UserID:      identity.UserID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}

	outbound := make(chan []byte, h.sendBuffer)
	h.coordinator.OnConnect(ctx, identity.UserID, identity.IsAdmin, meta.ConnID, outbound)

	observability.IncWSEvent("ws_connect")
	publishConnEvent(ctx, "ws_connect", meta, "")

	// Write pump: drains the outbound queue until the registry closes it.
	go func() {
		for payload := range outbound {
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Warn().Str("connection_id", meta.ConnID).Err(err).Msg("websocket write error")
				h.coordinator.OnDisconnect(meta.ConnID)
				break
			}
		}
		conn.Close()
	}()

	// Transport-level pings refresh liveness same as protocol pings.
	conn.SetPingHandler(func(appData string) error {
		h.coordinator.Registry().UpdateHeartbeat(meta.ConnID)
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	go h.readLoop(ctx, conn, identity, meta)
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, identity auth.Identity, meta connMeta) {
	var closeReason string
	defer func() {
		h.coordinator.OnDisconnect(meta.ConnID)
		observability.IncWSEvent("ws_disconnect")
		publishConnEvent(ctx, "ws_disconnect", meta, closeReason)
		conn.Close()
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
				publishConnEvent(ctx, "ws_error", meta, closeReason)
			}
			return
		}
		if msgType != websocket.TextMessage {
			h.sendError(meta.ConnID, "BAD_FRAME", "binary messages not supported")
			continue
		}

		frame, err := models.DecodeFrame(data)
		if err != nil {
			log.Debug().Str("connection_id", meta.ConnID).Err(err).Msg("undecodable frame")
			h.sendError(meta.ConnID, "BAD_FRAME", err.Error())
			continue
		}

		if err := h.coordinator.HandleFrame(ctx, identity.UserID, identity.IsAdmin, meta.ConnID, frame); err != nil {
			log.Error().
				Str("user_id", identity.UserID).
				Str("connection_id", meta.ConnID).
				Str("frame_type", frame.FrameType()).
				Err(err).
				Msg("error handling frame")
			h.sendError(meta.ConnID, "MESSAGE_ERROR", err.Error())
		}
	}
}

func (h *Handler) sendError(connectionID, code, message string) {
	err := h.coordinator.Registry().SendToConnection(connectionID, models.ErrorFrame{Code: code, Message: message})
	if err != nil {
		log.Debug().Str("connection_id", connectionID).Err(err).Msg("error frame not delivered")
	}
}

func publishConnEvent(ctx context.Context, event string, meta connMeta, reason string) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     meta.ConnID,
			"duration_ms": time.Since(meta.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   meta.UserID,
			"device_id": meta.DeviceID,
			"ip":        meta.IP,
		},
	}
	headers := observability.BuildHeaders(meta.RequestID, meta.TraceID)
	_ = observability.PublishEvent(ctx, "ws_events.conversations", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, headers)
}

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"chat8/realtime-service/config"
	"chat8/realtime-service/middleware"
	"chat8/realtime-service/models"
	"chat8/realtime-service/services"
	"chat8/realtime-service/utils"
)

const heartbeatHintMillis = 30000

// WSHandler owns the realtime endpoint: it upgrades the connection,
// registers it, replays staged messages, and runs the per-connection read
// loop until the transport closes.
type WSHandler struct {
	registry *services.Registry
	tracker  *services.Tracker
	delivery *services.Delivery
	relay    *services.Relay
	cfg      *config.Config
	logger   *utils.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(registry *services.Registry, tracker *services.Tracker, delivery *services.Delivery, relay *services.Relay, cfg *config.Config, logger *utils.Logger) *WSHandler {
	return &WSHandler{
		registry: registry,
		tracker:  tracker,
		delivery: delivery,
		relay:    relay,
		cfg:      cfg,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handle runs one client connection end to end.
func (h *WSHandler) Handle(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}

	// Lifecycle outlives the HTTP request that carried the handshake.
	ctx := context.Background()

	conn := services.NewConn(userID, ws, h.cfg.SendBufferSize)
	h.registry.Register(conn)

	pingInterval := h.cfg.PongTimeout * 9 / 10
	go conn.WritePump(pingInterval, h.cfg.WriteTimeout)

	h.tracker.UserConnected(ctx, userID)

	if err := h.delivery.ReplayStaged(ctx, userID); err != nil {
		h.logger.Error("staged replay failed", "user_id", userID, "error", err)
	}

	h.readLoop(ctx, conn, ws)

	// Transport closed: unregister, then let the tracker decide whether
	// this was the user's last device.
	h.registry.Unregister(conn)
	conn.Close()
	h.tracker.UserDisconnected(ctx, userID)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *services.Conn, ws *websocket.Conn) {
	userID := conn.UserID

	_ = ws.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("websocket read failed", "user_id", userID, "error", err)
			} else {
				h.logger.Debug("websocket closed", "user_id", userID, "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))

		var frame models.InboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			// Malformed frames are dropped; the connection survives.
			h.logger.Warn("malformed frame dropped", "user_id", userID, "error", err)
			continue
		}

		h.dispatch(ctx, conn, frame)
	}
}

func (h *WSHandler) dispatch(ctx context.Context, conn *services.Conn, frame models.InboundFrame) {
	userID := conn.UserID

	switch frame.Type {
	case models.FrameSendMessage:
		if frame.To == "" {
			h.logger.Warn("send_message without recipient dropped", "user_id", userID)
			return
		}
		kind := models.MessageKind(frame.Kind)
		if kind == "" {
			kind = models.KindText
		}
		if err := h.delivery.Send(ctx, userID, frame.To, frame.Payload, kind); err != nil {
			h.logger.Error("send failed", "user_id", userID, "to", frame.To, "error", err)
		}

	case models.FrameHeartbeat:
		h.tracker.Heartbeat(ctx, userID)
		ack, err := json.Marshal(models.HeartbeatAckFrame{
			Type:          models.FrameHeartbeatAck,
			Timestamp:     time.Now().UnixMilli(),
			NextHeartbeat: heartbeatHintMillis,
		})
		if err == nil {
			if err := conn.Send(ack); err != nil {
				h.logger.Debug("heartbeat ack send failed", "user_id", userID, "error", err)
			}
		}

	case models.FrameSignal:
		if frame.To == "" || frame.Kind == "" {
			h.logger.Warn("signal without target or kind dropped", "user_id", userID)
			return
		}
		h.relay.Forward(userID, frame.To, frame.Kind, frame.Payload)

	default:
		h.logger.Warn("unknown frame type dropped", "user_id", userID, "type", frame.Type)
	}
}

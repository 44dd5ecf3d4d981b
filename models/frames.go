package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Frame types exchanged over the realtime connection.
const (
	// Client to server.
	FrameSendMessage = "send_message"
	FrameHeartbeat   = "heartbeat"
	FrameSignal      = "signal"

	// Server to client.
	FrameMessage        = "message"
	FrameHeartbeatAck   = "heartbeat_ack"
	FramePresenceChange = "presence_change"
	FrameBroadcast      = "broadcast"
)

// Signal kinds carried through the relay. These are ephemeral and never
// staged; a stale offer or typing indicator is worthless.
const (
	SignalCallOffer    = "call_offer"
	SignalCallAnswer   = "call_answer"
	SignalCallICE      = "call_ice_candidate"
	SignalCallRejected = "call_rejected"
	SignalCallEnded    = "call_ended"
	SignalTypingStart  = "typing_start"
	SignalTypingStop   = "typing_stop"
)

// InboundFrame is the envelope for every client-to-server frame.
type InboundFrame struct {
	Type    string          `json:"type"`
	To      string          `json:"to,omitempty"`
	Kind    string          `json:"kind,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MessageFrame is the server-to-client push of a chat message.
type MessageFrame struct {
	Type      string          `json:"type"`
	ID        uuid.UUID       `json:"id"`
	From      string          `json:"from"`
	Payload   json.RawMessage `json:"payload"`
	Kind      MessageKind     `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
}

// HeartbeatAckFrame acknowledges a heartbeat and hints the next interval.
type HeartbeatAckFrame struct {
	Type          string `json:"type"`
	Timestamp     int64  `json:"timestamp"`
	NextHeartbeat int64  `json:"next_heartbeat_ms"`
}

// PresenceChangeFrame notifies a friend of a status transition.
type PresenceChangeFrame struct {
	Type     string    `json:"type"`
	User     string    `json:"user"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}

// SignalFrame forwards ephemeral signaling between two connected users.
type SignalFrame struct {
	Type    string          `json:"type"`
	From    string          `json:"from"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// BroadcastFrame carries a system-wide announcement.
type BroadcastFrame struct {
	Type      string    `json:"type"`
	Payload   string    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessageFrame builds the wire form of a message push.
func NewMessageFrame(id uuid.UUID, from string, payload []byte, kind MessageKind, ts time.Time) ([]byte, error) {
	return json.Marshal(MessageFrame{
		Type:      FrameMessage,
		ID:        id,
		From:      from,
		Payload:   payload,
		Kind:      kind,
		Timestamp: ts,
	})
}

// NewPresenceChangeFrame builds the wire form of a presence notification.
func NewPresenceChangeFrame(userID, status string, lastSeen time.Time) ([]byte, error) {
	return json.Marshal(PresenceChangeFrame{
		Type:     FramePresenceChange,
		User:     userID,
		Status:   status,
		LastSeen: lastSeen,
	})
}

// NewSignalFrame builds the wire form of a forwarded signal.
func NewSignalFrame(from, kind string, payload json.RawMessage) ([]byte, error) {
	return json.Marshal(SignalFrame{
		Type:    FrameSignal,
		From:    from,
		Kind:    kind,
		Payload: payload,
	})
}

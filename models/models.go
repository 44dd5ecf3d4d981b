package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageKind classifies an outgoing message payload. The kind decides
// whether staging is mandatory regardless of recipient presence.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindFile  MessageKind = "file"
)

// MustStage reports whether messages of this kind must always be staged.
// File and image payloads reference asynchronously transferred resources,
// so a durable copy has to survive even a briefly online recipient.
func (k MessageKind) MustStage() bool {
	return k == KindImage || k == KindFile
}

// StagedMessage is the single durable copy of a message kept between a
// failed push and the recipient's next connect. The payload is opaque;
// this service never inspects or decrypts it.
type StagedMessage struct {
	ID        uuid.UUID   `json:"id" gorm:"type:uuid;primary_key;default:uuid_generate_v4()"`
	FromID    string      `json:"from_id" gorm:"not null;index"`
	ToID      string      `json:"to_id" gorm:"not null;index"`
	Payload   []byte      `json:"payload" gorm:"type:bytea;not null"`
	Kind      MessageKind `json:"kind" gorm:"not null;default:text"`
	Delivered bool        `json:"delivered" gorm:"default:false"`
	CreatedAt time.Time   `json:"created_at"`
}

func (StagedMessage) TableName() string {
	return "staged_messages"
}

// FriendEdge is one row of the bidirectional friend relation. This
// service only reads it to compute notification fan-out sets.
type FriendEdge struct {
	ID        uint      `json:"id" gorm:"primary_key"`
	UserID    string    `json:"user_id" gorm:"not null;index"`
	FriendID  string    `json:"friend_id" gorm:"not null;index"`
	CreatedAt time.Time `json:"created_at"`
}

func (FriendEdge) TableName() string {
	return "friend_edges"
}

// HistoryEntry is a per-user durable record of a delivered or sent
// message. Appends are fire-and-forget from the delivery path.
type HistoryEntry struct {
	ID        uint      `json:"id" gorm:"primary_key"`
	UserID    string    `json:"user_id" gorm:"not null;index"`
	MessageID uuid.UUID `json:"message_id" gorm:"type:uuid;not null"`
	FromID    string    `json:"from_id" gorm:"not null"`
	ToID      string    `json:"to_id" gorm:"not null"`
	Payload   []byte    `json:"payload" gorm:"type:bytea"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

func (HistoryEntry) TableName() string {
	return "message_history"
}

// Presence status values. The tracker only ever stores online or offline;
// reachability beyond that is derived from the connection registry.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// UserPresence is the durable presence snapshot mirrored to Redis.
type UserPresence struct {
	UserID   string    `json:"user_id"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}

// StatusResponse answers a presence status query.
type StatusResponse struct {
	UserID   string    `json:"user_id"`
	Status   string    `json:"status"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}

// ContactStatus is one row of a batch contacts status query.
type ContactStatus struct {
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	IsOnline  bool      `json:"is_online"`
	LastSeen  time.Time `json:"last_seen"`
	Timestamp time.Time `json:"timestamp"`
}

// OnlineUsersResponse lists users currently in the online set.
type OnlineUsersResponse struct {
	Count int            `json:"count"`
	Users []UserPresence `json:"users"`
}

// SetStatusRequest is the body of a manual status update.
type SetStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=online offline"`
}

// BroadcastRequest carries an opaque payload to push to every connection.
type BroadcastRequest struct {
	Payload string `json:"payload" binding:"required"`
}

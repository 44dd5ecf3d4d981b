package services

import (
	"context"
	"time"

	"chat8/realtime-service/models"
	"chat8/realtime-service/utils"

	"github.com/google/uuid"
)

// StagedStore persists the single durable copy of a message between a
// failed push and the recipient's next connect. Deleting an id that no
// longer exists must be a no-op.
type StagedStore interface {
	Create(ctx context.Context, msg *models.StagedMessage) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListUndelivered(ctx context.Context, toID string) ([]models.StagedMessage, error)
}

// HistoryAppender is the external per-user history store. Appends are
// fire-and-forget; a failure is logged and never blocks delivery.
type HistoryAppender interface {
	AppendToHistory(ctx context.Context, userID string, entry models.HistoryEntry) error
}

// Delivery routes outgoing messages with a push-first, stage-as-fallback
// policy and replays staged messages when a recipient reconnects. A push
// is one synchronous best-effort attempt; there is no retry loop beyond
// "stays staged until next reconnect or next explicit send".
type Delivery struct {
	registry *Registry
	staged   StagedStore
	history  HistoryAppender
	logger   *utils.Logger
}

func NewDelivery(registry *Registry, staged StagedStore, history HistoryAppender, logger *utils.Logger) *Delivery {
	return &Delivery{
		registry: registry,
		staged:   staged,
		history:  history,
		logger:   logger,
	}
}

// Send routes a single message to its recipient. The payload is opaque;
// any encryption happened upstream. The sender's history always receives
// a copy regardless of transport outcome.
func (d *Delivery) Send(ctx context.Context, fromID, toID string, payload []byte, kind models.MessageKind) error {
	msg := &models.StagedMessage{
		ID:        uuid.New(),
		FromID:    fromID,
		ToID:      toID,
		Payload:   payload,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}

	recipientOnline := d.registry.HasConnection(toID)
	staged := false

	if !recipientOnline || kind.MustStage() {
		if err := d.staged.Create(ctx, msg); err != nil {
			// Without a durable copy an offline recipient would lose the
			// message, so this is the one failure Send surfaces.
			d.logger.Error("failed to stage message",
				"message_id", msg.ID, "to", toID, "error", err)
			return err
		}
		staged = true
		d.logger.Debug("message staged",
			"message_id", msg.ID, "to", toID, "kind", kind, "recipient_online", recipientOnline)
	}

	if d.push(ctx, msg) {
		if staged {
			d.retireStaged(ctx, msg.ID)
		}
		d.appendHistory(ctx, toID, msg)
	}

	d.appendHistory(ctx, fromID, msg)
	return nil
}

// ReplayStaged pushes every undelivered message addressed to the user in
// creation order, retiring each staged copy on success. A mid-replay
// failure leaves the remaining rows staged for the next connect; there is
// no retry within a single pass.
func (d *Delivery) ReplayStaged(ctx context.Context, userID string) error {
	msgs, err := d.staged.ListUndelivered(ctx, userID)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	replayed := 0
	for i := range msgs {
		msg := &msgs[i]
		if !d.push(ctx, msg) {
			d.logger.Warn("replay interrupted, remaining messages stay staged",
				"user_id", userID, "replayed", replayed, "pending", len(msgs)-replayed)
			break
		}
		d.retireStaged(ctx, msg.ID)
		d.appendHistory(ctx, userID, msg)
		replayed++
	}

	d.logger.Info("staged replay finished",
		"user_id", userID, "replayed", replayed, "total", len(msgs))
	return nil
}

// push makes one synchronous delivery attempt over any live connection of
// the recipient. A dead or saturated connection counts as absent.
func (d *Delivery) push(ctx context.Context, msg *models.StagedMessage) bool {
	conn := d.registry.Get(msg.ToID)
	if conn == nil {
		return false
	}

	frame, err := models.NewMessageFrame(msg.ID, msg.FromID, msg.Payload, msg.Kind, msg.CreatedAt)
	if err != nil {
		d.logger.Error("failed to encode message frame", "message_id", msg.ID, "error", err)
		return false
	}

	if err := conn.Send(frame); err != nil {
		d.logger.Warn("push failed, treating recipient as unreachable",
			"message_id", msg.ID, "to", msg.ToID, "conn_id", conn.ID, "error", err)
		return false
	}
	return true
}

func (d *Delivery) retireStaged(ctx context.Context, id uuid.UUID) {
	if err := d.staged.Delete(ctx, id); err != nil {
		d.logger.Error("failed to delete staged copy", "message_id", id, "error", err)
	}
}

func (d *Delivery) appendHistory(ctx context.Context, userID string, msg *models.StagedMessage) {
	entry := models.HistoryEntry{
		UserID:    userID,
		MessageID: msg.ID,
		FromID:    msg.FromID,
		ToID:      msg.ToID,
		Payload:   msg.Payload,
		Kind:      string(msg.Kind),
		Timestamp: msg.CreatedAt,
	}
	if err := d.history.AppendToHistory(ctx, userID, entry); err != nil {
		d.logger.Warn("history append failed", "user_id", userID, "message_id", msg.ID, "error", err)
	}
}

package services

import (
	"encoding/json"

	"chat8/realtime-service/models"
	"chat8/realtime-service/utils"
)

// Relay forwards ephemeral signaling (call offer/answer/ICE, typing
// indicators) between connected users. Nothing is persisted: a target
// with no live connection means the signal is silently dropped, because
// these payloads are meaningless once stale.
type Relay struct {
	registry *Registry
	logger   *utils.Logger
}

func NewRelay(registry *Registry, logger *utils.Logger) *Relay {
	return &Relay{registry: registry, logger: logger}
}

// Forward pushes the signal to every device of the target user. It
// reports whether at least one connection accepted the frame, which
// callers may use for diagnostics but never for retries.
func (r *Relay) Forward(fromID, toID, kind string, payload json.RawMessage) bool {
	conns := r.registry.GetAll(toID)
	if len(conns) == 0 {
		r.logger.Debug("signal dropped, target offline",
			"from", fromID, "to", toID, "kind", kind)
		return false
	}

	frame, err := models.NewSignalFrame(fromID, kind, payload)
	if err != nil {
		r.logger.Error("failed to encode signal frame",
			"from", fromID, "kind", kind, "error", err)
		return false
	}

	delivered := false
	for _, conn := range conns {
		if err := conn.Send(frame); err != nil {
			r.logger.Debug("signal send failed",
				"from", fromID, "to", toID, "conn_id", conn.ID, "error", err)
			continue
		}
		delivered = true
	}

	r.logger.Debug("signal forwarded",
		"from", fromID, "to", toID, "kind", kind, "delivered", delivered)
	return delivered
}

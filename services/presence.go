package services

import (
	"context"
	"sync"
	"time"

	"chat8/realtime-service/models"
	"chat8/realtime-service/utils"
)

// FriendProvider supplies the read-only friend set used for presence
// fan-out. This service never writes the friend relation.
type FriendProvider interface {
	GetFriendIDs(ctx context.Context, userID string) ([]string, error)
}

// PresenceStore is the durable mirror of status and last-seen, so a
// status survives a process restart. Heartbeat timestamps stay in memory.
type PresenceStore interface {
	SetPresence(ctx context.Context, presence models.UserPresence) error
	GetPresence(ctx context.Context, userID string) (*models.UserPresence, error)
	GetOnlineUsers(ctx context.Context) ([]models.UserPresence, error)
}

// presenceRecord is the in-memory per-user presence state. One exists per
// user seen since startup; it is never destroyed.
type presenceRecord struct {
	status        string
	lastSeen      time.Time
	lastHeartbeat time.Time
}

// Tracker maintains per-user online/offline state, demotes silent users
// via a periodic sweep, and fans status transitions out to online
// friends. Reachability is always re-derived from the registry at query
// time rather than cached, so presence cannot drift from reality for
// longer than one query.
type Tracker struct {
	registry *Registry
	store    PresenceStore
	friends  FriendProvider
	logger   *utils.Logger

	heartbeatTimeout time.Duration
	sweepInterval    time.Duration

	mu          sync.Mutex
	records     map[string]*presenceRecord
	friendCache map[string][]string
}

func NewTracker(registry *Registry, store PresenceStore, friends FriendProvider, heartbeatTimeout, sweepInterval time.Duration, logger *utils.Logger) *Tracker {
	return &Tracker{
		registry:         registry,
		store:            store,
		friends:          friends,
		logger:           logger,
		heartbeatTimeout: heartbeatTimeout,
		sweepInterval:    sweepInterval,
		records:          make(map[string]*presenceRecord),
		friendCache:      make(map[string][]string),
	}
}

// UserConnected transitions the user to online, loads the friend set and
// notifies every online friend. Called once per websocket accept.
func (t *Tracker) UserConnected(ctx context.Context, userID string) {
	now := time.Now().UTC()

	t.mu.Lock()
	rec := t.record(userID)
	rec.status = models.StatusOnline
	rec.lastSeen = now
	rec.lastHeartbeat = now
	t.mu.Unlock()

	t.persist(ctx, userID, models.StatusOnline, now)
	t.logger.Info("presence transition",
		"user_id", userID, "status", models.StatusOnline, "reason", "connect")

	t.notifyFriends(ctx, userID, models.StatusOnline, now)
}

// UserDisconnected transitions the user to offline only when the registry
// reports no remaining connections; with other devices still attached,
// presence is left untouched. Safe to call repeatedly.
func (t *Tracker) UserDisconnected(ctx context.Context, userID string) {
	if t.registry.HasConnection(userID) {
		t.logger.Debug("disconnect ignored, other devices remain", "user_id", userID)
		return
	}
	t.markOffline(ctx, userID, "disconnect")
}

// Heartbeat stamps the user's heartbeat time. If the user was erroneously
// offline despite heartbeating, it re-promotes to online and re-notifies
// friends; this self-heals races between disconnect and reconnect.
func (t *Tracker) Heartbeat(ctx context.Context, userID string) {
	now := time.Now().UTC()

	t.mu.Lock()
	rec := t.record(userID)
	rec.lastHeartbeat = now
	rec.lastSeen = now
	wasOffline := rec.status == models.StatusOffline
	if wasOffline {
		rec.status = models.StatusOnline
	}
	t.mu.Unlock()

	// Every heartbeat refreshes the durable mirror so its TTL cannot
	// expire an actively heartbeating user.
	t.persist(ctx, userID, models.StatusOnline, now)

	if !wasOffline {
		return
	}

	t.logger.Info("presence transition",
		"user_id", userID, "status", models.StatusOnline, "reason", "heartbeat")
	t.notifyFriends(ctx, userID, models.StatusOnline, now)
}

// SetStatus applies a manually requested status, fanning out to friends
// exactly like a connect or disconnect would.
func (t *Tracker) SetStatus(ctx context.Context, userID, status string) {
	if status == models.StatusOffline {
		t.markOffline(ctx, userID, "manual")
		return
	}

	now := time.Now().UTC()
	t.mu.Lock()
	rec := t.record(userID)
	rec.status = models.StatusOnline
	rec.lastSeen = now
	t.mu.Unlock()

	t.persist(ctx, userID, models.StatusOnline, now)
	t.logger.Info("presence transition",
		"user_id", userID, "status", models.StatusOnline, "reason", "manual")
	t.notifyFriends(ctx, userID, models.StatusOnline, now)
}

// GetStatus reconciles the stored record with a live registry check. The
// bias is optimistic: either a live connection or a fresh heartbeat is
// enough to report online, since a false offline is more user-visible
// than a stale online that self-corrects on the next sweep.
func (t *Tracker) GetStatus(ctx context.Context, userID string) models.StatusResponse {
	hasLive := t.registry.HasConnection(userID)

	t.mu.Lock()
	rec, ok := t.records[userID]
	var lastSeen time.Time
	heartbeatFresh := false
	if ok {
		lastSeen = rec.lastSeen
		heartbeatFresh = !rec.lastHeartbeat.IsZero() &&
			time.Since(rec.lastHeartbeat) < t.heartbeatTimeout
	}
	t.mu.Unlock()

	if !ok {
		// Unknown since startup; fall back to the durable mirror.
		if stored, err := t.store.GetPresence(ctx, userID); err == nil && stored != nil {
			lastSeen = stored.LastSeen
		}
	}

	online := hasLive || heartbeatFresh
	status := models.StatusOffline
	if online {
		status = models.StatusOnline
	}

	return models.StatusResponse{
		UserID:   userID,
		Status:   status,
		IsOnline: online,
		LastSeen: lastSeen,
	}
}

// ContactsStatus resolves a batch of status queries, one row per user.
func (t *Tracker) ContactsStatus(ctx context.Context, userIDs []string) []models.ContactStatus {
	now := time.Now().UTC()
	out := make([]models.ContactStatus, 0, len(userIDs))
	for _, id := range userIDs {
		st := t.GetStatus(ctx, id)
		out = append(out, models.ContactStatus{
			UserID:    st.UserID,
			Status:    st.Status,
			IsOnline:  st.IsOnline,
			LastSeen:  st.LastSeen,
			Timestamp: now,
		})
	}
	return out
}

// CheckTimeouts sweeps every user currently marked online and demotes
// those with neither a live connection nor a fresh heartbeat. This is the
// only mechanism that catches a client that vanished without a close.
func (t *Tracker) CheckTimeouts(ctx context.Context) {
	t.mu.Lock()
	candidates := make([]string, 0, len(t.records))
	for userID, rec := range t.records {
		if rec.status == models.StatusOnline {
			candidates = append(candidates, userID)
		}
	}
	t.mu.Unlock()

	for _, userID := range candidates {
		if t.registry.HasConnection(userID) {
			continue
		}

		t.mu.Lock()
		rec, ok := t.records[userID]
		stale := ok && rec.status == models.StatusOnline &&
			time.Since(rec.lastHeartbeat) >= t.heartbeatTimeout
		t.mu.Unlock()

		if stale {
			t.markOffline(ctx, userID, "heartbeat_timeout")
		}
	}
}

// Run drives the periodic timeout sweep until the context is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.sweepInterval)
	defer ticker.Stop()

	t.logger.Info("presence sweep started",
		"interval", t.sweepInterval, "heartbeat_timeout", t.heartbeatTimeout)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("presence sweep stopped")
			return
		case <-ticker.C:
			t.CheckTimeouts(ctx)
		}
	}
}

func (t *Tracker) markOffline(ctx context.Context, userID, reason string) {
	now := time.Now().UTC()

	t.mu.Lock()
	rec := t.record(userID)
	alreadyOffline := rec.status == models.StatusOffline
	rec.status = models.StatusOffline
	rec.lastSeen = now
	t.mu.Unlock()

	if alreadyOffline {
		// Duplicate disconnects land here; nothing to notify.
		return
	}

	t.persist(ctx, userID, models.StatusOffline, now)
	t.logger.Info("presence transition",
		"user_id", userID, "status", models.StatusOffline, "reason", reason)
	t.notifyFriends(ctx, userID, models.StatusOffline, now)
}

// record returns the user's in-memory state, creating it in the initial
// offline state. Callers must hold t.mu.
func (t *Tracker) record(userID string) *presenceRecord {
	rec, ok := t.records[userID]
	if !ok {
		rec = &presenceRecord{status: models.StatusOffline}
		t.records[userID] = rec
	}
	return rec
}

func (t *Tracker) persist(ctx context.Context, userID, status string, lastSeen time.Time) {
	err := t.store.SetPresence(ctx, models.UserPresence{
		UserID:   userID,
		Status:   status,
		LastSeen: lastSeen,
	})
	if err != nil {
		t.logger.Error("failed to persist presence", "user_id", userID, "error", err)
	}
}

// notifyFriends pushes a presence_change frame to every friend that has a
// live connection. Friends without one are skipped; presence
// notifications are never staged or retried.
func (t *Tracker) notifyFriends(ctx context.Context, userID, status string, lastSeen time.Time) {
	friendIDs, err := t.friendIDs(ctx, userID)
	if err != nil {
		t.logger.Error("failed to load friends for fan-out", "user_id", userID, "error", err)
		return
	}
	if len(friendIDs) == 0 {
		return
	}

	frame, err := models.NewPresenceChangeFrame(userID, status, lastSeen)
	if err != nil {
		t.logger.Error("failed to encode presence frame", "user_id", userID, "error", err)
		return
	}

	notified := 0
	for _, friendID := range friendIDs {
		for _, conn := range t.registry.GetAll(friendID) {
			if err := conn.Send(frame); err != nil {
				t.logger.Warn("presence notify failed",
					"user_id", userID, "friend_id", friendID, "error", err)
				continue
			}
			notified++
		}
	}

	t.logger.Debug("presence fan-out complete",
		"user_id", userID, "status", status, "notified", notified)
}

func (t *Tracker) friendIDs(ctx context.Context, userID string) ([]string, error) {
	t.mu.Lock()
	cached, ok := t.friendCache[userID]
	t.mu.Unlock()
	if ok {
		return cached, nil
	}

	ids, err := t.friends.GetFriendIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.friendCache[userID] = ids
	t.mu.Unlock()
	return ids, nil
}

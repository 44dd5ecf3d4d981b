package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"chat8/realtime-service/models"
	"chat8/realtime-service/utils"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

func testLogger() *utils.Logger {
	return utils.NewLogger("error")
}

// captureTransport records every frame a write pump flushes so tests can
// assert on delivered traffic without a network.
type captureTransport struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (t *captureTransport) WriteMessage(messageType int, data []byte) error {
	if messageType != websocket.TextMessage {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	t.frames = append(t.frames, buf)
	return nil
}

func (t *captureTransport) SetWriteDeadline(time.Time) error { return nil }

func (t *captureTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *captureTransport) frameCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.frames)
}

func (t *captureTransport) frame(i int) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frames[i]
}

// waitFrames polls until the transport has flushed at least n frames.
func (t *captureTransport) waitFrames(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if t.frameCount() >= n {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return t.frameCount() >= n
}

// newTestConn builds a registered-ready connection whose write pump
// flushes into a capture transport.
func newTestConn(userID string) (*Conn, *captureTransport) {
	transport := &captureTransport{}
	conn := NewConn(userID, transport, 16)
	go conn.WritePump(time.Hour, time.Second)
	return conn, transport
}

// memPresenceStore is an in-memory PresenceStore.
type memPresenceStore struct {
	mu      sync.Mutex
	records map[string]models.UserPresence
}

func newMemPresenceStore() *memPresenceStore {
	return &memPresenceStore{records: make(map[string]models.UserPresence)}
}

func (s *memPresenceStore) SetPresence(_ context.Context, presence models.UserPresence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[presence.UserID] = presence
	return nil
}

func (s *memPresenceStore) GetPresence(_ context.Context, userID string) (*models.UserPresence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[userID]; ok {
		return &rec, nil
	}
	return &models.UserPresence{UserID: userID, Status: models.StatusOffline}, nil
}

func (s *memPresenceStore) GetOnlineUsers(context.Context) ([]models.UserPresence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var online []models.UserPresence
	for _, rec := range s.records {
		if rec.Status == models.StatusOnline {
			online = append(online, rec)
		}
	}
	return online, nil
}

func (s *memPresenceStore) status(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[userID].Status
}

// staticFriends serves fixed friend sets.
type staticFriends struct {
	friends map[string][]string
}

func (f *staticFriends) GetFriendIDs(_ context.Context, userID string) ([]string, error) {
	return f.friends[userID], nil
}

// memStagedStore is an in-memory StagedStore preserving creation order.
type memStagedStore struct {
	mu   sync.Mutex
	msgs []models.StagedMessage

	createErr error
}

func newMemStagedStore() *memStagedStore {
	return &memStagedStore{}
}

func (s *memStagedStore) Create(_ context.Context, msg *models.StagedMessage) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, *msg)
	return nil
}

func (s *memStagedStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, msg := range s.msgs {
		if msg.ID == id {
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *memStagedStore) ListUndelivered(_ context.Context, toID string) ([]models.StagedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StagedMessage
	for _, msg := range s.msgs {
		if msg.ToID == toID && !msg.Delivered {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (s *memStagedStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// memHistory records history appends per user.
type memHistory struct {
	mu      sync.Mutex
	entries map[string][]models.HistoryEntry
}

func newMemHistory() *memHistory {
	return &memHistory{entries: make(map[string][]models.HistoryEntry)}
}

func (h *memHistory) AppendToHistory(_ context.Context, userID string, entry models.HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[userID] = append(h.entries[userID], entry)
	return nil
}

func (h *memHistory) countFor(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries[userID])
}

var errStoreDown = errors.New("store unavailable")

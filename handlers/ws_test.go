package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chat8/realtime-service/config"
	"chat8/realtime-service/middleware"
	"chat8/realtime-service/models"
	"chat8/realtime-service/services"
	"chat8/realtime-service/utils"
)

const testSecret = "test-secret"

type fakePresenceStore struct {
	mu      sync.Mutex
	records map[string]models.UserPresence
}

func (s *fakePresenceStore) SetPresence(_ context.Context, p models.UserPresence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[p.UserID] = p
	return nil
}

func (s *fakePresenceStore) GetPresence(_ context.Context, userID string) (*models.UserPresence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.records[userID]
	rec.UserID = userID
	return &rec, nil
}

func (s *fakePresenceStore) GetOnlineUsers(context.Context) ([]models.UserPresence, error) {
	return nil, nil
}

type fakeFriends struct{}

func (fakeFriends) GetFriendIDs(context.Context, string) ([]string, error) { return nil, nil }

type fakeStagedStore struct {
	mu   sync.Mutex
	msgs []models.StagedMessage
}

func (s *fakeStagedStore) Create(_ context.Context, msg *models.StagedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, *msg)
	return nil
}

func (s *fakeStagedStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, msg := range s.msgs {
		if msg.ID == id {
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
			break
		}
	}
	return nil
}

func (s *fakeStagedStore) ListUndelivered(_ context.Context, toID string) ([]models.StagedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StagedMessage
	for _, msg := range s.msgs {
		if msg.ToID == toID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (s *fakeStagedStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

type fakeHistory struct {
	mu      sync.Mutex
	entries map[string]int
}

func (h *fakeHistory) AppendToHistory(_ context.Context, userID string, _ models.HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[userID]++
	return nil
}

func (h *fakeHistory) countFor(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries[userID]
}

type wsTestEnv struct {
	server  *httptest.Server
	staged  *fakeStagedStore
	history *fakeHistory
}

func newWSTestEnv(t *testing.T) *wsTestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		JWTSecret:        testSecret,
		HeartbeatTimeout: time.Minute,
		SweepInterval:    time.Minute,
		SendBufferSize:   16,
		WriteTimeout:     time.Second,
		PongTimeout:      time.Minute,
	}
	logger := utils.NewLogger("error")

	staged := &fakeStagedStore{}
	history := &fakeHistory{entries: make(map[string]int)}
	presenceStore := &fakePresenceStore{records: make(map[string]models.UserPresence)}

	registry := services.NewRegistry(logger)
	tracker := services.NewTracker(registry, presenceStore, fakeFriends{},
		cfg.HeartbeatTimeout, cfg.SweepInterval, logger)
	delivery := services.NewDelivery(registry, staged, history, logger)
	relay := services.NewRelay(registry, logger)

	handler := NewWSHandler(registry, tracker, delivery, relay, cfg, logger)

	router := gin.New()
	router.GET("/ws", middleware.Auth(cfg.JWTSecret), handler.Handle)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &wsTestEnv{server: server, staged: staged, history: history}
}

func signToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": userID})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func (env *wsTestEnv) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?token=" + signToken(t, userID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed for %s: %v", userID, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn, out interface{}) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("failed to decode frame %s: %v", raw, err)
	}
}

// awaitRegistered round-trips a heartbeat so the test knows the server
// side finished registering the connection before traffic is aimed at it.
func awaitRegistered(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	if err := conn.WriteJSON(models.InboundFrame{Type: models.FrameHeartbeat}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	var ack models.HeartbeatAckFrame
	readFrame(t, conn, &ack)
	if ack.Type != models.FrameHeartbeatAck {
		t.Fatalf("expected heartbeat ack, got %+v", ack)
	}
}

func TestHandshakeRequiresToken(t *testing.T) {
	env := newWSTestEnv(t)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial without token should fail")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Fatalf("expected 401 handshake rejection, got %+v", resp)
	}
}

func TestStagedMessagesReplayOnConnect(t *testing.T) {
	env := newWSTestEnv(t)

	// A message was staged for bob while he was away.
	env.staged.msgs = []models.StagedMessage{{
		ID:        uuid.New(),
		FromID:    "alice",
		ToID:      "bob",
		Payload:   []byte(`"stored"`),
		Kind:      models.KindText,
		CreatedAt: time.Now().UTC(),
	}}

	conn := env.dial(t, "bob")

	var frame models.MessageFrame
	readFrame(t, conn, &frame)
	if frame.Type != models.FrameMessage || frame.From != "alice" {
		t.Fatalf("unexpected replayed frame: %+v", frame)
	}
	if string(frame.Payload) != `"stored"` {
		t.Fatalf("payload altered: %s", frame.Payload)
	}

	// The staged copy is retired and bob's history holds one copy.
	deadline := time.Now().Add(time.Second)
	for env.staged.count() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if env.staged.count() != 0 {
		t.Fatal("staged copy should be deleted after replay")
	}
	if env.history.countFor("bob") != 1 {
		t.Fatalf("bob history has %d entries, want 1", env.history.countFor("bob"))
	}
}

func TestHeartbeatAck(t *testing.T) {
	env := newWSTestEnv(t)
	conn := env.dial(t, "alice")

	if err := conn.WriteJSON(models.InboundFrame{Type: models.FrameHeartbeat}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var ack models.HeartbeatAckFrame
	readFrame(t, conn, &ack)
	if ack.Type != models.FrameHeartbeatAck || ack.NextHeartbeat <= 0 {
		t.Fatalf("unexpected ack: %+v", ack)
	}
}

func TestMalformedFrameKeepsConnectionAlive(t *testing.T) {
	env := newWSTestEnv(t)
	conn := env.dial(t, "alice")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// The offending frame is dropped but the connection survives, so a
	// heartbeat still gets acknowledged.
	if err := conn.WriteJSON(models.InboundFrame{Type: models.FrameHeartbeat}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	var ack models.HeartbeatAckFrame
	readFrame(t, conn, &ack)
	if ack.Type != models.FrameHeartbeatAck {
		t.Fatalf("unexpected frame after malformed input: %+v", ack)
	}
}

func TestMessageDeliveryBetweenConnectedUsers(t *testing.T) {
	env := newWSTestEnv(t)
	alice := env.dial(t, "alice")
	bob := env.dial(t, "bob")
	awaitRegistered(t, bob)

	err := alice.WriteJSON(models.InboundFrame{
		Type:    models.FrameSendMessage,
		To:      "bob",
		Kind:    string(models.KindText),
		Payload: json.RawMessage(`"hello"`),
	})
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var frame models.MessageFrame
	readFrame(t, bob, &frame)
	if frame.From != "alice" || string(frame.Payload) != `"hello"` {
		t.Fatalf("unexpected frame: %+v", frame)
	}
	if env.staged.count() != 0 {
		t.Fatal("live text delivery must leave nothing staged")
	}
}

func TestSignalRelayBetweenConnectedUsers(t *testing.T) {
	env := newWSTestEnv(t)
	alice := env.dial(t, "alice")
	bob := env.dial(t, "bob")
	awaitRegistered(t, bob)

	err := alice.WriteJSON(models.InboundFrame{
		Type:    models.FrameSignal,
		To:      "bob",
		Kind:    models.SignalCallOffer,
		Payload: json.RawMessage(`{"sdp":"v=0"}`),
	})
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var frame models.SignalFrame
	readFrame(t, bob, &frame)
	if frame.Type != models.FrameSignal || frame.From != "alice" || frame.Kind != models.SignalCallOffer {
		t.Fatalf("unexpected signal: %+v", frame)
	}
}

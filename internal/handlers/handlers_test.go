package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/parleyhq/parley/config"
	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/handlers"
	"github.com/parleyhq/parley/internal/presence"
	"github.com/parleyhq/parley/internal/registry"
	"github.com/parleyhq/parley/internal/storage"
)

type testEnv struct {
	api    *handlers.API
	router *gin.Engine
	store  *storage.Store
	tokens *auth.TokenIssuer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := storage.Open(filepath.Join(t.TempDir(), "parley.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mirror, err := presence.Connect(config.RedisConfig{})
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	tokens := auth.NewTokenIssuer("test-secret", time.Hour)
	api := handlers.New(store, tokens, registry.New(), mirror, config.RTCConfig{
		STUNServers: []string{"stun:stun.example.com:3478"},
	})

	router := gin.New()
	api.Mount(router)
	return &testEnv{api: api, router: router, store: store, tokens: tokens}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)

	var out map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("response is not JSON: %v (%q)", err, rr.Body.String())
		}
	}
	return rr, out
}

// userToken creates a user directly in storage and returns an access token.
func (e *testEnv) userToken(t *testing.T, email string) (int64, string) {
	t.Helper()
	hash, err := auth.HashPassword("password")
	if err != nil {
		t.Fatalf("HashPassword() error: %v", err)
	}
	user, err := e.store.CreateUser(context.Background(), email, hash, "User")
	if err != nil {
		t.Fatalf("CreateUser() error: %v", err)
	}
	token, err := e.tokens.Issue(user.ID)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	return user.ID, token
}

func TestRegisterLoginMe(t *testing.T) {
	env := newTestEnv(t)

	rr, body := env.do(t, http.MethodPost, "/auth/register", "", gin.H{
		"email": "a@example.com", "password": "hunter2", "display_name": "Alice",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("register status = %d, want %d (%v)", rr.Code, http.StatusOK, body)
	}

	rr, _ = env.do(t, http.MethodPost, "/auth/register", "", gin.H{
		"email": "a@example.com", "password": "other", "display_name": "Alias",
	})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("duplicate register status = %d, want %d", rr.Code, http.StatusBadRequest)
	}

	rr, body = env.do(t, http.MethodPost, "/auth/login", "", gin.H{
		"email": "a@example.com", "password": "hunter2",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d, want %d (%v)", rr.Code, http.StatusOK, body)
	}
	token, _ := body["access_token"].(string)
	if token == "" {
		t.Fatal("login returned no access_token")
	}

	rr, _ = env.do(t, http.MethodPost, "/auth/login", "", gin.H{
		"email": "a@example.com", "password": "wrong",
	})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad-password login status = %d, want %d", rr.Code, http.StatusBadRequest)
	}

	rr, body = env.do(t, http.MethodGet, "/me", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("me status = %d, want %d", rr.Code, http.StatusOK)
	}
	if body["email"] != "a@example.com" || body["display_name"] != "Alice" {
		t.Errorf("me = %v, want the registered user", body)
	}

	rr, _ = env.do(t, http.MethodGet, "/me", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated me status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestRoomEndpoints(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.userToken(t, "a@example.com")
	otherID, otherToken := env.userToken(t, "b@example.com")

	rr, body := env.do(t, http.MethodPost, "/rooms", token, gin.H{"title": "Standup"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create room status = %d, want %d (%v)", rr.Code, http.StatusCreated, body)
	}
	slug, _ := body["slug"].(string)
	if slug == "" {
		t.Fatal("create room returned no slug")
	}

	rr, body = env.do(t, http.MethodGet, "/rooms/"+slug, "", nil)
	if rr.Code != http.StatusOK || body["title"] != "Standup" {
		t.Errorf("get room = %d %v, want 200 with title Standup", rr.Code, body)
	}

	rr, _ = env.do(t, http.MethodGet, "/rooms/nope", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown room status = %d, want %d", rr.Code, http.StatusNotFound)
	}

	rr, _ = env.do(t, http.MethodPost, "/rooms/"+slug+"/join", otherToken, nil)
	if rr.Code != http.StatusOK {
		t.Errorf("join room status = %d, want %d", rr.Code, http.StatusOK)
	}
	// Joining again is idempotent.
	rr, _ = env.do(t, http.MethodPost, "/rooms/"+slug+"/join", otherToken, nil)
	if rr.Code != http.StatusOK {
		t.Errorf("repeat join status = %d, want %d", rr.Code, http.StatusOK)
	}

	rr, body = env.do(t, http.MethodGet, "/rooms/"+slug+"/peers", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("peers status = %d, want %d", rr.Code, http.StatusOK)
	}
	if peers, _ := body["peers"].([]any); len(peers) != 0 {
		t.Errorf("peers with no live connections = %v, want empty", body["peers"])
	}

	// Seed a message and read it back over REST.
	room, err := env.store.RoomBySlug(context.Background(), slug)
	if err != nil {
		t.Fatalf("RoomBySlug() error: %v", err)
	}
	if _, _, err := env.store.StoreMessage(context.Background(), room.ID, otherID, "hi"); err != nil {
		t.Fatalf("StoreMessage() error: %v", err)
	}
	rr, body = env.do(t, http.MethodGet, "/rooms/"+slug+"/messages", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("messages status = %d, want %d", rr.Code, http.StatusOK)
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("messages = %v, want one entry", body["messages"])
	}
	if first := msgs[0].(map[string]any); first["content"] != "hi" {
		t.Errorf("message content = %v, want hi", first["content"])
	}
}

func TestRTCConfig(t *testing.T) {
	env := newTestEnv(t)

	rr, body := env.do(t, http.MethodGet, "/rtc/config", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("rtc config status = %d, want %d", rr.Code, http.StatusOK)
	}
	servers, _ := body["iceServers"].([]any)
	if len(servers) != 1 {
		t.Fatalf("iceServers = %v, want one STUN entry", body["iceServers"])
	}
	if first := servers[0].(map[string]any); first["urls"] != "stun:stun.example.com:3478" {
		t.Errorf("iceServers[0] = %v, want the configured STUN server", first)
	}
}

// --- websocket integration ---

func dialWS(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var out map[string]any
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return out
}

func TestSignalingOverWebSocket(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	idA, tokenA := env.userToken(t, "a@example.com")
	idB, tokenB := env.userToken(t, "b@example.com")

	connA := dialWS(t, srv, "/ws/signaling/room1?token="+tokenA)
	peersA := readFrame(t, connA)
	if peersA["type"] != "peers" {
		t.Fatalf("A's first frame = %v, want peers", peersA)
	}

	connB := dialWS(t, srv, "/ws/signaling/room1?token="+tokenB)

	joined := readFrame(t, connA)
	if joined["type"] != "peer-joined" || int64(joined["user_id"].(float64)) != idB {
		t.Fatalf("A received %v, want peer-joined for B", joined)
	}

	peersB := readFrame(t, connB)
	if peersB["type"] != "peers" {
		t.Fatalf("B's first frame = %v, want peers", peersB)
	}
	list, _ := peersB["peers"].([]any)
	if len(list) != 1 || int64(list[0].(float64)) != idA {
		t.Errorf("B's peer list = %v, want [A]", list)
	}

	if err := connA.WriteJSON(gin.H{"type": "signal", "to": idB, "signal_type": "offer", "data": gin.H{"sdp": "x"}}); err != nil {
		t.Fatalf("write signal: %v", err)
	}
	signal := readFrame(t, connB)
	if signal["type"] != "signal" || signal["signal_type"] != "offer" || int64(signal["from"].(float64)) != idA {
		t.Fatalf("B received %v, want A's offer", signal)
	}

	// B leaves; A hears about it.
	connB.Close()
	left := readFrame(t, connA)
	if left["type"] != "peer-left" || int64(left["user_id"].(float64)) != idB {
		t.Errorf("A received %v, want peer-left for B", left)
	}
}

func TestSignalingRejectsBadToken(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dialWS(t, srv, "/ws/signaling/room1?token=bogus")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("read after bad token = %v, want a close error", err)
	}
	if closeErr.Code != 4401 {
		t.Errorf("close code = %d, want 4401", closeErr.Code)
	}
}

func TestChatOverWebSocket(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	idA, tokenA := env.userToken(t, "a@example.com")
	_, tokenB := env.userToken(t, "b@example.com")

	room, err := env.store.CreateRoom(context.Background(), "room1", "Standup", idA)
	if err != nil {
		t.Fatalf("CreateRoom() error: %v", err)
	}

	connA := dialWS(t, srv, "/ws/chat/room1?token="+tokenA)
	connB := dialWS(t, srv, "/ws/chat/room1?token="+tokenB)

	// Chat has no join handshake frames; give B's registration a moment
	// before A broadcasts.
	deadline := time.Now().Add(2 * time.Second)
	for len(env.api.Registry.Members(registry.Chat, "room1")) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("both chat connections never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := connA.WriteJSON(gin.H{"type": "chat", "content": "hello"}); err != nil {
		t.Fatalf("write chat: %v", err)
	}

	for name, conn := range map[string]*websocket.Conn{"sender": connA, "peer": connB} {
		got := readFrame(t, conn)
		if got["type"] != "chat" || got["content"] != "hello" {
			t.Fatalf("%s received %v, want the chat broadcast", name, got)
		}
		if int64(got["room_id"].(float64)) != room.ID || int64(got["sender_id"].(float64)) != idA {
			t.Errorf("%s envelope = %v, want room %d sender %d", name, got, room.ID, idA)
		}
		if int64(got["id"].(float64)) == 0 {
			t.Errorf("%s envelope has no store-assigned id", name)
		}
	}

	msgs, err := env.store.MessagesByRoom(context.Background(), room.ID, 10)
	if err != nil {
		t.Fatalf("MessagesByRoom() error: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hello" {
		t.Errorf("persisted messages = %+v, want exactly the broadcast one", msgs)
	}
}

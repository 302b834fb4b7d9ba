package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lkj1313/LiveBoard/internal/auth"
	"github.com/lkj1313/LiveBoard/internal/db"
	"github.com/lkj1313/LiveBoard/internal/protocol"
	"github.com/lkj1313/LiveBoard/internal/room"
	"github.com/lkj1313/LiveBoard/internal/router"
	"github.com/lkj1313/LiveBoard/internal/session"
)

func newTestClient(id string, buffer int) *Client {
	return &Client{id: id, send: make(chan []byte, buffer)}
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

// Once the hub has accepted the barrier every earlier plan has been applied.
func flush(t *testing.T, hub *Hub) {
	t.Helper()
	barrier := router.Plan{Deliveries: []router.Delivery{{Scope: router.ScopeRoom, RoomID: "\x00barrier", Event: "noop"}}}
	if !hub.Submit(nil, barrier) {
		t.Fatal("hub stopped")
	}
}

func drain(c *Client) []string {
	var events []string
	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return events
			}
			env, err := protocol.Decode(frame)
			if err == nil {
				events = append(events, env.Event)
			}
		default:
			return events
		}
	}
}

func joinPlan(roomID string) router.Plan {
	return router.Plan{Join: roomID}
}

func TestHubCreation(t *testing.T) {
	hub := NewHub()
	if hub == nil {
		t.Fatal("Hub should not be nil")
	}
	if hub.rooms == nil || hub.clients == nil {
		t.Error("Hub maps should be initialized")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("Expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestHubScopes(t *testing.T) {
	hub := startHub(t)

	alice := newTestClient("alice", 16)
	bob := newTestClient("bob", 16)
	carol := newTestClient("carol", 16)
	for _, c := range []*Client{alice, bob, carol} {
		hub.Register(c)
	}
	hub.Submit(alice, joinPlan("r1"))
	hub.Submit(bob, joinPlan("r1"))
	hub.Submit(carol, joinPlan("r2"))
	flush(t, hub)

	if hub.RoomSize("r1") != 2 || hub.RoomSize("r2") != 1 {
		t.Fatalf("Unexpected room sizes: r1=%d r2=%d", hub.RoomSize("r1"), hub.RoomSize("r2"))
	}

	hub.Submit(alice, router.Plan{Deliveries: []router.Delivery{
		{Scope: router.ScopeOthers, RoomID: "r1", Event: "draw", Payload: room.Stroke{}},
		{Scope: router.ScopeRoom, RoomID: "r1", Event: "chatMessage", Payload: "hi"},
		{Scope: router.ScopeSender, RoomID: "r1", Event: "joined", Payload: nil},
	}})
	flush(t, hub)

	if got := strings.Join(drain(alice), ","); got != "chatMessage,joined" {
		t.Errorf("alice received %q", got)
	}
	if got := strings.Join(drain(bob), ","); got != "draw,chatMessage" {
		t.Errorf("bob received %q", got)
	}
	if got := drain(carol); len(got) != 0 {
		t.Errorf("carol is in another room but received %v", got)
	}
}

func TestHubLeaveAndSwitchRooms(t *testing.T) {
	hub := startHub(t)

	c := newTestClient("c", 16)
	hub.Register(c)
	hub.Submit(c, joinPlan("r1"))
	hub.Submit(c, router.Plan{Leave: "r1", Join: "r2"})
	flush(t, hub)

	if hub.RoomSize("r1") != 0 {
		t.Errorf("Client should have left r1, size %d", hub.RoomSize("r1"))
	}
	if hub.RoomSize("r2") != 1 {
		t.Errorf("Client should be in r2, size %d", hub.RoomSize("r2"))
	}

	hub.Submit(c, router.Plan{Leave: "r2"})
	flush(t, hub)
	if hub.RoomSize("r2") != 0 {
		t.Errorf("Expected r2 empty after leave")
	}
}

func TestHubDropsSlowConsumer(t *testing.T) {
	hub := startHub(t)

	slow := newTestClient("slow", 1)
	sender := newTestClient("sender", 16)
	hub.Register(slow)
	hub.Register(sender)
	hub.Submit(slow, joinPlan("r1"))
	hub.Submit(sender, joinPlan("r1"))

	hub.Submit(sender, router.Plan{Deliveries: []router.Delivery{
		{Scope: router.ScopeOthers, RoomID: "r1", Event: "draw"},
		{Scope: router.ScopeOthers, RoomID: "r1", Event: "draw"},
	}})
	flush(t, hub)

	if hub.ClientCount() != 1 {
		t.Errorf("Slow client should be dropped, %d clients remain", hub.ClientCount())
	}
	<-slow.send
	if _, ok := <-slow.send; ok {
		t.Error("Slow client's send channel should be closed")
	}
}

func TestHubStop(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	c := newTestClient("c", 4)
	hub.Register(c)
	hub.Stop()

	if _, ok := <-c.send; ok {
		t.Error("Stop should close client send channels")
	}
	if hub.Register(newTestClient("late", 1)) {
		t.Error("Register after Stop should fail")
	}
	if hub.Submit(c, joinPlan("r1")) {
		t.Error("Submit after Stop should fail")
	}
	hub.Stop()
}

// End to end over a real socket

type testServer struct {
	url      string
	database *db.Database
	hub      *Hub
	tokens   *auth.JWTManager
}

func setupServer(t *testing.T, settings Settings) *testServer {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "liveboard-ws-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	database, err := db.New(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create database: %v", err)
	}

	hub := NewHub()
	go hub.Run()

	tokens := auth.NewJWTManager("test-secret", time.Hour)
	rt := router.New(database, session.NewRegistry(), router.DefaultOptions())
	srv := httptest.NewServer(NewHandler(hub, rt, tokens, settings))

	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
		database.Close()
		os.RemoveAll(tmpDir)
	})

	return &testServer{
		url:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		database: database,
		hub:      hub,
		tokens:   tokens,
	}
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

// Reads frames until event arrives, skipping anything else.
func expectEvent(t *testing.T, conn *websocket.Conn, event string) protocol.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Waiting for %s: %v", event, err)
		}
		env, err := protocol.Decode(frame)
		if err != nil {
			t.Fatalf("Bad frame %q: %v", frame, err)
		}
		if env.Event == event {
			return env
		}
	}
}

func joinRoom(t *testing.T, conn *websocket.Conn, roomID, name string) protocol.JoinedPayload {
	t.Helper()
	sendEvent(t, conn, protocol.EventJoin, protocol.JoinPayload{RoomID: roomID, DisplayName: name})

	var joined protocol.JoinedPayload
	if err := expectEvent(t, conn, protocol.EventJoined).Bind(&joined); err != nil {
		t.Fatalf("Bad joined payload: %v", err)
	}
	expectEvent(t, conn, protocol.EventLoadChatMessages)
	return joined
}

func TestSocketDrawFanOut(t *testing.T) {
	ts := setupServer(t, DefaultSettings())

	alice := dial(t, ts.url, nil)
	bob := dial(t, ts.url, nil)

	joinRoom(t, alice, "board", "alice")
	joinRoom(t, bob, "board", "bob")

	var joinedName string
	if err := expectEvent(t, alice, protocol.EventUserJoin).Bind(&joinedName); err != nil || joinedName != "bob" {
		t.Fatalf("alice should see bob join, got %q (%v)", joinedName, err)
	}

	sendEvent(t, alice, protocol.EventDraw, protocol.DrawPayload{
		Stroke: room.Stroke{Points: []room.Point{{X: 1, Y: 2}, {X: 3, Y: 4}}},
	})

	var stroke room.Stroke
	if err := expectEvent(t, bob, protocol.EventDraw).Bind(&stroke); err != nil {
		t.Fatalf("Bad draw payload: %v", err)
	}
	if stroke.ID == "" || stroke.Nickname != "alice" || len(stroke.Points) != 2 {
		t.Errorf("Unexpected relayed stroke: %+v", stroke)
	}

	// Chat goes to the whole room, so it doubles as a barrier for alice.
	sendEvent(t, alice, protocol.EventChatMessage, protocol.ChatPayload{Message: "hello"})
	var chat protocol.ChatBroadcast
	if err := expectEvent(t, alice, protocol.EventChatMessage).Bind(&chat); err != nil {
		t.Fatalf("Bad chat payload: %v", err)
	}
	if chat.Message != "hello" || chat.User.Nickname != "alice" {
		t.Errorf("Unexpected chat echo: %+v", chat)
	}

	strokes, err := ts.database.ListStrokes(context.Background(), "board")
	if err != nil || len(strokes) != 1 {
		t.Fatalf("Expected 1 persisted stroke, got %d (%v)", len(strokes), err)
	}
}

func TestSocketLeaveOnClose(t *testing.T) {
	ts := setupServer(t, DefaultSettings())

	alice := dial(t, ts.url, nil)
	bob := dial(t, ts.url, nil)

	joinRoom(t, alice, "board", "alice")
	joinRoom(t, bob, "board", "bob")

	bob.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	bob.Close()

	var left string
	if err := expectEvent(t, alice, protocol.EventUserLeave).Bind(&left); err != nil || left != "bob" {
		t.Fatalf("alice should see bob leave, got %q (%v)", left, err)
	}

	var roster []string
	if err := expectEvent(t, alice, protocol.EventUserList).Bind(&roster); err != nil {
		t.Fatalf("Bad userList: %v", err)
	}
	if len(roster) != 1 || roster[0] != "alice" {
		t.Errorf("Unexpected roster after leave: %v", roster)
	}
}

func TestSocketIgnoresGarbage(t *testing.T) {
	ts := setupServer(t, DefaultSettings())

	conn := dial(t, ts.url, nil)
	conn.WriteMessage(websocket.TextMessage, []byte("not json"))
	conn.WriteMessage(websocket.TextMessage, []byte(`{"data":{}}`))
	sendEvent(t, conn, protocol.EventDraw, protocol.DrawPayload{Stroke: room.Stroke{Points: []room.Point{{X: 1, Y: 1}}}})

	// The connection survives and can still join.
	joinRoom(t, conn, "board", "alice")
}

func TestSocketRequireAuth(t *testing.T) {
	settings := DefaultSettings()
	settings.RequireAuth = true
	ts := setupServer(t, settings)

	_, resp, err := websocket.DefaultDialer.Dial(ts.url, nil)
	if err == nil {
		t.Fatal("Dial without token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Expected 401, got %+v", resp)
	}

	token, err := ts.tokens.GenerateToken("user-42", "kim")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn := dial(t, ts.url, header)

	// The token identity wins over whatever the join payload claims.
	sendEvent(t, conn, protocol.EventJoin, protocol.JoinPayload{RoomID: "board", UserID: "someone-else"})
	env := expectEvent(t, conn, protocol.EventJoined)

	var joined map[string]any
	if err := json.Unmarshal(env.Data, &joined); err != nil {
		t.Fatalf("Bad joined payload: %v", err)
	}
	if joined["userId"] != "user-42" {
		t.Errorf("Expected token identity, got %v", joined["userId"])
	}
}

func TestSocketOriginCheck(t *testing.T) {
	settings := DefaultSettings()
	settings.AllowedOrigins = []string{"https://board.example"}
	ts := setupServer(t, settings)

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	if _, _, err := websocket.DefaultDialer.Dial(ts.url, header); err == nil {
		t.Error("Foreign origin should be refused")
	}

	header.Set("Origin", "https://board.example")
	dial(t, ts.url, header)
}

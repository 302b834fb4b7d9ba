package ws

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/lkj1313/LiveBoard/internal/db"
	"github.com/lkj1313/LiveBoard/internal/protocol"
	"github.com/lkj1313/LiveBoard/internal/room"
	"github.com/lkj1313/LiveBoard/internal/router"
	"github.com/lkj1313/LiveBoard/internal/session"
)

func setupRouted(t *testing.T) (*Hub, *router.Router, *db.Database, *session.Registry) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "liveboard-ordering-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	database, err := db.New(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
		os.RemoveAll(tmpDir)
	})

	registry := session.NewRegistry()
	return startHub(t), router.New(database, registry, router.DefaultOptions()), database, registry
}

func frame(t *testing.T, event string, payload any) protocol.Envelope {
	t.Helper()
	data, err := protocol.Encode(event, payload)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	env, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return env
}

func submitter(hub *Hub, c *Client) router.Publish {
	return func(p router.Plan) bool { return hub.Submit(c, p) }
}

// gated publishes only after release is closed and reports on entered
// that the plan is ready.
func gated(hub *Hub, c *Client, entered chan<- struct{}, release <-chan struct{}) router.Publish {
	return func(p router.Plan) bool {
		close(entered)
		<-release
		return hub.Submit(c, p)
	}
}

func envelopes(c *Client) []protocol.Envelope {
	var out []protocol.Envelope
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return out
			}
			if env, err := protocol.Decode(data); err == nil {
				out = append(out, env)
			}
		default:
			return out
		}
	}
}

func waitOrFail(t *testing.T, done <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

// A draw persisted while a join is between its snapshot read and its
// subscription must still reach the joiner.
func TestJoinSnapshotSeesConcurrentDraw(t *testing.T) {
	hub, rt, database, _ := setupRouted(t)
	ctx := context.Background()

	a := newTestClient("a", 64)
	b := newTestClient("b", 64)
	hub.Register(a)
	hub.Register(b)

	sa := router.NewSession("a")
	rt.Process(ctx, sa, frame(t, protocol.EventJoin, protocol.JoinPayload{RoomID: "board", DisplayName: "alice"}), submitter(hub, a))

	sb := router.NewSession("b")
	entered := make(chan struct{})
	release := make(chan struct{})
	joined := make(chan struct{})
	go func() {
		defer close(joined)
		rt.Process(ctx, sb, frame(t, protocol.EventJoin, protocol.JoinPayload{RoomID: "board", DisplayName: "bob"}), gated(hub, b, entered, release))
	}()
	waitOrFail(t, entered, "bob's join snapshot")

	drew := make(chan struct{})
	go func() {
		defer close(drew)
		rt.Process(ctx, sa, frame(t, protocol.EventDraw, protocol.DrawPayload{
			Stroke: room.Stroke{Points: []room.Point{{X: 1, Y: 1}}},
		}), submitter(hub, a))
	}()

	select {
	case <-drew:
		t.Fatal("draw completed while a join held the room")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	waitOrFail(t, joined, "bob's join")
	waitOrFail(t, drew, "alice's draw")
	flush(t, hub)

	seen := map[string]bool{}
	for _, env := range envelopes(b) {
		switch env.Event {
		case protocol.EventLoadDrawings:
			var strokes []room.Stroke
			if err := env.Bind(&strokes); err != nil {
				t.Fatalf("Bad loadDrawings: %v", err)
			}
			for _, s := range strokes {
				seen[s.ID] = true
			}
		case protocol.EventDraw:
			var s room.Stroke
			if err := env.Bind(&s); err != nil {
				t.Fatalf("Bad draw: %v", err)
			}
			seen[s.ID] = true
		}
	}

	stored, err := database.ListStrokes(ctx, "board")
	if err != nil {
		t.Fatalf("ListStrokes failed: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("Expected 1 stored stroke, got %d", len(stored))
	}
	if !seen[stored[0].ID] {
		t.Errorf("bob never received stroke %s", stored[0].ID)
	}
}

// When a join and a leave race in one room, the last roster every member
// receives matches the registry.
func TestRosterAfterConcurrentJoinAndLeave(t *testing.T) {
	hub, rt, _, registry := setupRouted(t)
	ctx := context.Background()

	x := newTestClient("x", 64)
	y := newTestClient("y", 64)
	z := newTestClient("z", 64)
	for _, c := range []*Client{x, y, z} {
		hub.Register(c)
	}

	sx := router.NewSession("x")
	sy := router.NewSession("y")
	rt.Process(ctx, sx, frame(t, protocol.EventJoin, protocol.JoinPayload{RoomID: "board", DisplayName: "X"}), submitter(hub, x))
	rt.Process(ctx, sy, frame(t, protocol.EventJoin, protocol.JoinPayload{RoomID: "board", DisplayName: "Y"}), submitter(hub, y))

	sz := router.NewSession("z")
	entered := make(chan struct{})
	release := make(chan struct{})
	joined := make(chan struct{})
	go func() {
		defer close(joined)
		rt.Process(ctx, sz, frame(t, protocol.EventJoin, protocol.JoinPayload{RoomID: "board", DisplayName: "Z"}), gated(hub, z, entered, release))
	}()
	waitOrFail(t, entered, "Z's join")

	left := make(chan struct{})
	go func() {
		defer close(left)
		rt.Disconnect(sx, submitter(hub, x))
	}()

	// Give the leave a chance to overtake the join if nothing orders them.
	time.Sleep(50 * time.Millisecond)
	close(release)
	waitOrFail(t, joined, "Z's join")
	waitOrFail(t, left, "X's leave")
	flush(t, hub)

	want := registry.List("board")
	if !reflect.DeepEqual(want, []string{"Y", "Z"}) {
		t.Fatalf("Unexpected registry roster: %v", want)
	}

	for _, c := range []*Client{y, z} {
		var last []string
		for _, env := range envelopes(c) {
			if env.Event != protocol.EventUserList {
				continue
			}
			if err := env.Bind(&last); err != nil {
				t.Fatalf("Bad userList: %v", err)
			}
		}
		if !reflect.DeepEqual(last, want) {
			t.Errorf("%s's last roster = %v, want %v", c.id, last, want)
		}
	}
}

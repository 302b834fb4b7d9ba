package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/lkj1313/LiveBoard/internal/room"
)

// Runs against a real server only when REDIS_ADDR is set.
func setupCache(t *testing.T, maxMessages int) *ChatCache {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	c, err := NewChatCache(Options{Addr: addr, MaxMessages: maxMessages})
	if err != nil {
		t.Skipf("Redis unavailable: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func message(roomID string, i int) room.ChatMessage {
	return room.ChatMessage{
		ID:        fmt.Sprintf("m%d", i),
		RoomID:    roomID,
		User:      room.User{UserID: "u", Nickname: "kim"},
		Message:   fmt.Sprintf("hello %d", i),
		Timestamp: time.Unix(int64(i), 0).UTC(),
	}
}

func TestAppendWithoutFillIsIgnored(t *testing.T) {
	c := setupCache(t, 10)
	ctx := context.Background()
	roomID := fmt.Sprintf("test-%d", time.Now().UnixNano())
	defer c.client.Del(ctx, chatKey(roomID), versionKey(roomID))

	if err := c.Append(ctx, message(roomID, 1)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	msgs, err := c.Recent(ctx, roomID, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("Uncached room should stay empty, got %d", len(msgs))
	}
}

func TestFillAppendRecent(t *testing.T) {
	c := setupCache(t, 3)
	ctx := context.Background()
	roomID := fmt.Sprintf("test-%d", time.Now().UnixNano())
	defer c.client.Del(ctx, chatKey(roomID), versionKey(roomID))

	version, err := c.Version(ctx, roomID)
	if err != nil {
		t.Fatalf("Version failed: %v", err)
	}
	if err := c.Fill(ctx, roomID, version, []room.ChatMessage{message(roomID, 1), message(roomID, 2)}); err != nil {
		t.Fatalf("Fill failed: %v", err)
	}
	for i := 3; i <= 5; i++ {
		if err := c.Append(ctx, message(roomID, i)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	msgs, err := c.Recent(ctx, roomID, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("Expected list trimmed to 3, got %d", len(msgs))
	}
	if msgs[0].ID != "m3" || msgs[2].ID != "m5" {
		t.Errorf("Expected m3..m5, got %s..%s", msgs[0].ID, msgs[2].ID)
	}

	msgs, _ = c.Recent(ctx, roomID, 1)
	if len(msgs) != 1 || msgs[0].ID != "m5" {
		t.Errorf("Expected only m5, got %+v", msgs)
	}
}

// History read before an Append must not be written over the newer state.
func TestFillSkippedAfterAppend(t *testing.T) {
	c := setupCache(t, 10)
	ctx := context.Background()
	roomID := fmt.Sprintf("test-%d", time.Now().UnixNano())
	defer c.client.Del(ctx, chatKey(roomID), versionKey(roomID))

	version, err := c.Version(ctx, roomID)
	if err != nil {
		t.Fatalf("Version failed: %v", err)
	}
	history := []room.ChatMessage{message(roomID, 1)}

	// Saved and appended while the join was reading history
	if err := c.Append(ctx, message(roomID, 2)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if err := c.Fill(ctx, roomID, version, history); !errors.Is(err, ErrStaleFill) {
		t.Fatalf("Expected ErrStaleFill, got %v", err)
	}
	msgs, err := c.Recent(ctx, roomID, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("Stale fill must leave the room uncached, got %d messages", len(msgs))
	}

	version, _ = c.Version(ctx, roomID)
	if err := c.Fill(ctx, roomID, version, []room.ChatMessage{message(roomID, 1), message(roomID, 2)}); err != nil {
		t.Fatalf("Fresh fill failed: %v", err)
	}
	if msgs, _ := c.Recent(ctx, roomID, 10); len(msgs) != 2 || msgs[1].ID != "m2" {
		t.Errorf("Expected m1, m2 after a fresh fill, got %+v", msgs)
	}
}

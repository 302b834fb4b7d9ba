package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lkj1313/LiveBoard/internal/room"
)

const chatTTL = 24 * time.Hour

// ErrStaleFill means a message was appended after the history passed to
// Fill was read, so the cache was left alone.
var ErrStaleFill = errors.New("chat history changed during fill")

type Options struct {
	Addr     string
	Password string
	DB       int
	// Longest list kept per room
	MaxMessages int
}

// ChatCache keeps the newest chat messages of each room in a Redis list.
// A room's list only exists after Fill, so a missing key always means
// "ask the database".
type ChatCache struct {
	client      *redis.Client
	maxMessages int64
}

func NewChatCache(opts Options) (*ChatCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	maxMessages := opts.MaxMessages
	if maxMessages <= 0 {
		maxMessages = 50
	}

	log.Printf("[Redis] Connected to %s", opts.Addr)
	return &ChatCache{client: client, maxMessages: int64(maxMessages)}, nil
}

func chatKey(roomID string) string {
	return "room:" + roomID + ":chat"
}

// Bumped by every Append so a Fill built from an older read can tell.
func versionKey(roomID string) string {
	return "room:" + roomID + ":chat:version"
}

// Append adds msg to its room's list if the list is already cached and
// bumps the room's version either way.
func (c *ChatCache) Append(ctx context.Context, msg room.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	key := chatKey(msg.RoomID)
	version := versionKey(msg.RoomID)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, version)
		pipe.Expire(ctx, version, chatTTL)
		pipe.RPushX(ctx, key, data)
		pipe.LTrim(ctx, key, -c.maxMessages, -1)
		return nil
	})
	if err != nil {
		log.Printf("[Redis] Failed to append chat for room %s: %v", msg.RoomID, err)
	}
	return err
}

// Version returns the room's append counter, zero when none was recorded.
// Read it before loading the history that is later passed to Fill.
func (c *ChatCache) Version(ctx context.Context, roomID string) (int64, error) {
	v, err := c.client.Get(ctx, versionKey(roomID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// Recent returns up to limit of the newest cached messages, oldest first.
func (c *ChatCache) Recent(ctx context.Context, roomID string, limit int) ([]room.ChatMessage, error) {
	if limit <= 0 {
		return []room.ChatMessage{}, nil
	}

	results, err := c.client.LRange(ctx, chatKey(roomID), -int64(limit), -1).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]room.ChatMessage, 0, len(results))
	for _, data := range results {
		var msg room.ChatMessage
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// Fill replaces the room's cached list with msgs, provided no Append ran
// since version was read. A stale fill is skipped and reported as
// ErrStaleFill; the next join reads the database again.
func (c *ChatCache) Fill(ctx context.Context, roomID string, version int64, msgs []room.ChatMessage) error {
	values := make([]interface{}, 0, len(msgs))
	for _, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		values = append(values, data)
	}

	key := chatKey(roomID)
	vkey := versionKey(roomID)

	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, vkey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return ErrStaleFill
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			if len(values) > 0 {
				pipe.RPush(ctx, key, values...)
				pipe.LTrim(ctx, key, -c.maxMessages, -1)
				pipe.Expire(ctx, key, chatTTL)
			}
			return nil
		})
		return err
	}, vkey)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrStaleFill
	}
	return err
}

func (c *ChatCache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *ChatCache) Close() error {
	return c.client.Close()
}

package router

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/lkj1313/LiveBoard/internal/protocol"
	"github.com/lkj1313/LiveBoard/internal/room"
)

const MaxChatRunes = 2000

// Chat is persisted and then delivered to the whole room. The sender sees
// its own message only through this echo.
func (r *Router) handleChat(ctx context.Context, s *Session, env protocol.Envelope) (Plan, error) {
	var p protocol.ChatPayload
	if err := bind(env, &p); err != nil {
		return Plan{}, err
	}
	roomID, err := s.room(p.RoomID)
	if err != nil {
		return Plan{}, err
	}
	if err := s.owns(p.User.UserID); err != nil {
		return Plan{}, err
	}

	text := strings.TrimSpace(p.Message)
	if text == "" {
		return Plan{}, fmt.Errorf("%w: empty chat message", ErrMalformed)
	}
	if runes := []rune(text); len(runes) > MaxChatRunes {
		text = string(runes[:MaxChatRunes])
	}

	nickname := strings.TrimSpace(p.User.Nickname)
	if nickname == "" {
		nickname = s.displayName
	}

	msg := room.ChatMessage{
		ID:        r.newID(),
		RoomID:    roomID,
		User:      room.User{UserID: s.userID, Nickname: nickname},
		Message:   text,
		Timestamp: r.now().UTC(),
	}

	if err := r.store.SaveChatMessage(ctx, msg); err != nil {
		return Plan{}, fmt.Errorf("save chat: %w", err)
	}
	if r.opts.Cache != nil {
		if err := r.opts.Cache.Append(ctx, msg); err != nil {
			log.Printf("[Router] chat cache append failed for room %s: %v", roomID, err)
		}
	}

	var plan Plan
	plan.add(ScopeRoom, roomID, protocol.EventChatMessage, protocol.ChatBroadcast{
		ID:        msg.ID,
		User:      msg.User,
		Message:   msg.Message,
		Timestamp: msg.Timestamp,
	})
	return plan, nil
}

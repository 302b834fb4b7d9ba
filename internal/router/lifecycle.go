package router

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/lkj1313/LiveBoard/internal/protocol"
	"github.com/lkj1313/LiveBoard/internal/room"
	"github.com/lkj1313/LiveBoard/internal/session"
)

func (r *Router) handleJoin(ctx context.Context, s *Session, env protocol.Envelope) (Plan, error) {
	var p protocol.JoinPayload
	if err := bind(env, &p); err != nil {
		return Plan{}, err
	}

	roomID := strings.TrimSpace(p.RoomID)
	if roomID == "" {
		return Plan{}, fmt.Errorf("%w: join without roomId", ErrMalformed)
	}

	userID, displayName := r.identity(s, p)

	// Load everything before touching the session so a store failure
	// leaves the connection where it was.
	strokes, err := r.store.ListStrokes(ctx, roomID)
	if err != nil {
		return Plan{}, fmt.Errorf("load strokes: %w", err)
	}
	images, err := r.store.ListImages(ctx, roomID)
	if err != nil {
		return Plan{}, fmt.Errorf("load images: %w", err)
	}
	history := r.recentChat(ctx, roomID)

	var plan Plan
	if s.state == StateJoined {
		plan.after(r.leave(s))
	}

	s.userID = userID
	s.displayName = displayName
	s.roomID = roomID
	s.state = StateJoined

	r.registry.Register(roomID, session.Participant{
		ConnectionID: s.ConnectionID,
		DisplayName:  displayName,
		UserID:       userID,
	})

	plan.Join = roomID
	plan.add(ScopeOthers, roomID, protocol.EventUserJoin, displayName)
	plan.add(ScopeRoom, roomID, protocol.EventUserList, r.registry.List(roomID))
	plan.add(ScopeSender, roomID, protocol.EventJoined, protocol.JoinedPayload{
		ConnectionID:   s.ConnectionID,
		UserID:         userID,
		RoomID:         roomID,
		EraseThreshold: r.opts.EraseThreshold,
	})
	plan.add(ScopeSender, roomID, protocol.EventLoadDrawings, strokes)
	plan.add(ScopeSender, roomID, protocol.EventLoadCanvasImages, images)
	plan.add(ScopeSender, roomID, protocol.EventLoadChatMessages, history)

	log.Printf("[Router] %s joined room %s as %s (%s)", s.ConnectionID, roomID, displayName, userID)
	return plan, nil
}

// A verified token always wins. Anonymous connections take the userId they
// announce, or their connection id.
func (r *Router) identity(s *Session, p protocol.JoinPayload) (userID, displayName string) {
	switch {
	case s.authUserID != "":
		userID = s.authUserID
	case strings.TrimSpace(p.UserID) != "":
		userID = strings.TrimSpace(p.UserID)
	default:
		userID = s.ConnectionID
	}

	displayName = strings.TrimSpace(p.Name())
	if displayName == "" {
		displayName = s.authNickname
	}
	if displayName == "" {
		displayName = userID
	}
	return userID, displayName
}

// Leave runs the disconnect side effects for s. It is safe to call on a
// connection that never joined.
func (r *Router) Leave(s *Session) Plan {
	var plan Plan
	if s.state == StateJoined {
		plan = r.leave(s)
	}
	s.state = StateDisconnected
	return plan
}

func (r *Router) leave(s *Session) Plan {
	plan := Plan{Leave: s.roomID}

	removal, ok := r.registry.Unregister(s.ConnectionID)
	if ok && !removal.RoomEmpty {
		plan.add(ScopeOthers, removal.RoomID, protocol.EventUserLeave, removal.Participant.DisplayName)
		plan.add(ScopeOthers, removal.RoomID, protocol.EventUserList, removal.Remaining)
	}
	if ok {
		log.Printf("[Router] %s left room %s", s.ConnectionID, removal.RoomID)
	}

	s.roomID = ""
	s.state = StateConnected
	return plan
}

func (r *Router) recentChat(ctx context.Context, roomID string) []room.ChatMessage {
	limit := r.opts.ChatHistoryLimit
	if limit == 0 {
		return []room.ChatMessage{}
	}

	fill := false
	var version int64
	if r.opts.Cache != nil {
		msgs, err := r.opts.Cache.Recent(ctx, roomID, limit)
		if err == nil && len(msgs) > 0 {
			return msgs
		}
		if err != nil {
			log.Printf("[Router] chat cache read failed for room %s: %v", roomID, err)
		} else if version, err = r.opts.Cache.Version(ctx, roomID); err == nil {
			fill = true
		} else {
			log.Printf("[Router] chat cache version failed for room %s: %v", roomID, err)
		}
	}

	msgs, err := r.store.RecentChatMessages(ctx, roomID, limit)
	if err != nil {
		// Chat history is best effort; the drawing snapshot still goes out.
		log.Printf("[Router] chat history failed for room %s: %v", roomID, err)
		return []room.ChatMessage{}
	}

	if fill && len(msgs) > 0 {
		if err := r.opts.Cache.Fill(ctx, roomID, version, msgs); err != nil {
			log.Printf("[Router] chat cache fill skipped for room %s: %v", roomID, err)
		}
	}
	return msgs
}

package router

import (
	"context"
	"fmt"

	"github.com/lkj1313/LiveBoard/internal/protocol"
	"github.com/lkj1313/LiveBoard/internal/room"
)

func (r *Router) handleDraw(ctx context.Context, s *Session, env protocol.Envelope) (Plan, error) {
	var p protocol.DrawPayload
	if err := bind(env, &p); err != nil {
		return Plan{}, err
	}
	roomID, err := s.room(p.RoomID)
	if err != nil {
		return Plan{}, err
	}
	if !p.Stroke.Valid() {
		return Plan{}, fmt.Errorf("%w: stroke has no points", ErrMalformed)
	}
	if err := s.owns(p.Stroke.UserID); err != nil {
		return Plan{}, err
	}

	// A client id already used in the room is rejected, not reassigned.
	stroke := r.ownStroke(s, p.Stroke)
	if err := r.store.AppendStroke(ctx, roomID, stroke); err != nil {
		return Plan{}, fmt.Errorf("append stroke: %w", err)
	}

	var plan Plan
	plan.add(ScopeOthers, roomID, protocol.EventDraw, stroke)
	return plan, nil
}

func (r *Router) handleErase(ctx context.Context, s *Session, env protocol.Envelope) (Plan, error) {
	var p protocol.ErasePayload
	if err := bind(env, &p); err != nil {
		return Plan{}, err
	}
	roomID, err := s.room(p.RoomID)
	if err != nil {
		return Plan{}, err
	}
	if err := s.owns(p.UserID); err != nil {
		return Plan{}, err
	}

	removed, err := r.store.EraseStrokes(ctx, roomID, s.userID, p.X, p.Y, r.opts.EraseThreshold)
	if err != nil {
		return Plan{}, fmt.Errorf("erase strokes: %w", err)
	}

	// Peers apply the same predicate, so the event goes out even when
	// nothing matched on the server.
	var plan Plan
	plan.add(ScopeOthers, roomID, protocol.EventErase, protocol.EraseBroadcast{
		UserID:    s.userID,
		X:         p.X,
		Y:         p.Y,
		StrokeIDs: room.IDs(removed),
	})
	return plan, nil
}

func (r *Router) handleClear(ctx context.Context, s *Session, env protocol.Envelope) (Plan, error) {
	var p protocol.ClearPayload
	if len(env.Data) > 0 {
		if err := bind(env, &p); err != nil {
			return Plan{}, err
		}
	}
	roomID, err := s.room(p.RoomID)
	if err != nil {
		return Plan{}, err
	}
	if err := s.owns(p.UserID); err != nil {
		return Plan{}, err
	}

	if _, err := r.store.ClearStrokes(ctx, roomID, s.userID); err != nil {
		return Plan{}, fmt.Errorf("clear strokes: %w", err)
	}

	var plan Plan
	plan.add(ScopeOthers, roomID, protocol.EventClear, protocol.ClearBroadcast{UserID: s.userID})
	return plan, nil
}

// Undo. The caller's strokes are replaced wholesale and every member,
// sender included, redraws from the merged list.
func (r *Router) handleReplaceStrokes(ctx context.Context, s *Session, env protocol.Envelope) (Plan, error) {
	var p protocol.ReplaceStrokesPayload
	if err := bind(env, &p); err != nil {
		return Plan{}, err
	}
	roomID, err := s.room(p.RoomID)
	if err != nil {
		return Plan{}, err
	}

	replacement := make([]room.Stroke, 0, len(p.Strokes))
	for _, st := range p.Strokes {
		if err := s.owns(st.UserID); err != nil {
			return Plan{}, err
		}
		if !st.Valid() {
			continue
		}
		replacement = append(replacement, r.ownStroke(s, st))
	}

	merged, err := r.store.ReplaceUserStrokes(ctx, roomID, s.userID, replacement)
	if err != nil {
		return Plan{}, fmt.Errorf("replace strokes: %w", err)
	}

	var plan Plan
	plan.add(ScopeRoom, roomID, protocol.EventLoadDrawings, merged)
	return plan, nil
}

// Stamps the session identity onto st and gives it an id if it has none
func (r *Router) ownStroke(s *Session, st room.Stroke) room.Stroke {
	st.UserID = s.userID
	if st.Nickname == "" {
		st.Nickname = s.displayName
	}
	if st.ID == "" {
		st.ID = r.newID()
	}
	return st
}

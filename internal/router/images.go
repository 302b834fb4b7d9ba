package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/lkj1313/LiveBoard/internal/db"
	"github.com/lkj1313/LiveBoard/internal/protocol"
	"github.com/lkj1313/LiveBoard/internal/room"
)

// Images have no owner; any member may add, move or delete any of them.

func (r *Router) handleAddImage(ctx context.Context, s *Session, env protocol.Envelope) (Plan, error) {
	var p protocol.AddImagePayload
	if err := bind(env, &p); err != nil {
		return Plan{}, err
	}
	roomID, err := s.room(p.RoomID)
	if err != nil {
		return Plan{}, err
	}
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.URL) == "" {
		return Plan{}, fmt.Errorf("%w: image needs id and url", ErrMalformed)
	}

	img := room.CanvasImage{ID: p.ID, URL: p.URL, X: p.X, Y: p.Y}
	if err := r.store.UpsertImage(ctx, roomID, img); err != nil {
		return Plan{}, fmt.Errorf("upsert image: %w", err)
	}

	p.RoomID = roomID
	var plan Plan
	plan.add(ScopeOthers, roomID, protocol.EventNewImage, p)
	return plan, nil
}

func (r *Router) handleMoveImage(ctx context.Context, s *Session, env protocol.Envelope) (Plan, error) {
	var p protocol.MoveImagePayload
	if err := bind(env, &p); err != nil {
		return Plan{}, err
	}
	roomID, err := s.room(p.RoomID)
	if err != nil {
		return Plan{}, err
	}
	if p.ImageID == "" {
		return Plan{}, fmt.Errorf("%w: moveImage without imageId", ErrMalformed)
	}

	err = r.store.MoveImage(ctx, roomID, p.ImageID, p.X, p.Y)
	switch {
	case errors.Is(err, db.ErrNotFound):
		// The add may still be in flight on the HTTP path.
		log.Printf("[Router] moveImage for unknown image %s in room %s", p.ImageID, roomID)
	case err != nil:
		return Plan{}, fmt.Errorf("move image: %w", err)
	}

	p.RoomID = roomID
	var plan Plan
	plan.add(ScopeOthers, roomID, protocol.EventMoveImage, p)
	return plan, nil
}

func (r *Router) handleDeleteImage(ctx context.Context, s *Session, env protocol.Envelope) (Plan, error) {
	var p protocol.DeleteImagePayload
	if err := bind(env, &p); err != nil {
		return Plan{}, err
	}
	roomID, err := s.room(p.RoomID)
	if err != nil {
		return Plan{}, err
	}
	if p.ImageID == "" {
		return Plan{}, fmt.Errorf("%w: deleteImage without imageId", ErrMalformed)
	}

	if err := r.store.DeleteImage(ctx, roomID, p.ImageID); err != nil {
		return Plan{}, fmt.Errorf("delete image: %w", err)
	}

	p.RoomID = roomID
	var plan Plan
	plan.add(ScopeOthers, roomID, protocol.EventDeleteImage, p)
	return plan, nil
}

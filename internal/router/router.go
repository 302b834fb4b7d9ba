package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/lkj1313/LiveBoard/internal/protocol"
	"github.com/lkj1313/LiveBoard/internal/room"
	"github.com/lkj1313/LiveBoard/internal/session"
)

var (
	ErrMalformed        = errors.New("malformed event")
	ErrIdentityMismatch = errors.New("userId does not match the joined identity")
	ErrNotJoined        = errors.New("connection has not joined a room")
	ErrWrongRoom        = errors.New("event targets a room the connection has not joined")
)

// Store is the persisted room state the router reads and mutates.
type Store interface {
	AppendStroke(ctx context.Context, roomID string, s room.Stroke) error
	ListStrokes(ctx context.Context, roomID string) ([]room.Stroke, error)
	EraseStrokes(ctx context.Context, roomID, userID string, x, y, threshold float64) ([]room.Stroke, error)
	ClearStrokes(ctx context.Context, roomID, userID string) (int64, error)
	ReplaceUserStrokes(ctx context.Context, roomID, userID string, strokes []room.Stroke) ([]room.Stroke, error)

	UpsertImage(ctx context.Context, roomID string, img room.CanvasImage) error
	MoveImage(ctx context.Context, roomID, imageID string, x, y float64) error
	DeleteImage(ctx context.Context, roomID, imageID string) error
	ListImages(ctx context.Context, roomID string) ([]room.CanvasImage, error)

	SaveChatMessage(ctx context.Context, msg room.ChatMessage) error
	RecentChatMessages(ctx context.Context, roomID string, limit int) ([]room.ChatMessage, error)
}

// ChatCache is an optional read-through cache of recent chat per room.
// Version is read before the store so Fill can refuse history that an
// Append has already overtaken.
type ChatCache interface {
	Append(ctx context.Context, msg room.ChatMessage) error
	Recent(ctx context.Context, roomID string, limit int) ([]room.ChatMessage, error)
	Version(ctx context.Context, roomID string) (int64, error)
	Fill(ctx context.Context, roomID string, version int64, msgs []room.ChatMessage) error
}

type Options struct {
	EraseThreshold   float64
	ChatHistoryLimit int
	Cache            ChatCache
}

func DefaultOptions() Options {
	return Options{
		EraseThreshold:   room.DefaultEraseThreshold,
		ChatHistoryLimit: 50,
	}
}

type handlerFunc func(ctx context.Context, s *Session, env protocol.Envelope) (Plan, error)

// Router applies inbound socket events to the store and the session
// registry and returns the fan-out each one requires. It holds no
// per-room locks; every handler touches one room's rows through the store.
type Router struct {
	store    Store
	registry *session.Registry
	opts     Options
	handlers map[string]handlerFunc
	locks    *roomLocks

	now   func() time.Time
	newID func() string
}

func New(store Store, registry *session.Registry, opts Options) *Router {
	if opts.EraseThreshold <= 0 {
		opts.EraseThreshold = room.DefaultEraseThreshold
	}
	if opts.ChatHistoryLimit < 0 {
		opts.ChatHistoryLimit = 0
	}

	r := &Router{
		store:    store,
		registry: registry,
		opts:     opts,
		locks:    newRoomLocks(),
		now:      time.Now,
		newID:    func() string { return ulid.Make().String() },
	}

	r.handlers = map[string]handlerFunc{
		protocol.EventJoin:           r.handleJoin,
		protocol.EventDraw:           r.handleDraw,
		protocol.EventErase:          r.handleErase,
		protocol.EventClear:          r.handleClear,
		protocol.EventReplaceStrokes: r.handleReplaceStrokes,
		protocol.EventAddImage:       r.handleAddImage,
		protocol.EventMoveImage:      r.handleMoveImage,
		protocol.EventDeleteImage:    r.handleDeleteImage,
		protocol.EventChatMessage:    r.handleChat,
	}

	return r
}

func (r *Router) EraseThreshold() float64 {
	return r.opts.EraseThreshold
}

// Handle runs one inbound event to completion. Failures of any kind are
// logged and the event is dropped; nothing is reported back to the client.
func (r *Router) Handle(ctx context.Context, s *Session, env protocol.Envelope) Plan {
	handler, ok := r.handlers[env.Event]
	if !ok {
		log.Printf("[Router] unknown event %q from %s", env.Event, s.ConnectionID)
		return Plan{}
	}

	if env.Event != protocol.EventJoin && s.state != StateJoined {
		log.Printf("[Router] %s from %s dropped: %v", env.Event, s.ConnectionID, ErrNotJoined)
		return Plan{}
	}

	plan, err := handler(ctx, s, env)
	if err != nil {
		log.Printf("[Router] %s dropped (room=%s conn=%s): %v", env.Event, s.roomID, s.ConnectionID, err)
		return Plan{}
	}
	return plan
}

// Publish hands a plan to the transport in the order it is called. It
// returns false once the transport has shut down.
type Publish func(Plan) bool

// Process handles env and publishes the resulting plan while holding the
// lock of every room the event can touch. Plans for one room therefore
// reach the transport in the same order the store and registry changed,
// so a join snapshot never misses a concurrent draw and the last roster
// delivered is the current one.
func (r *Router) Process(ctx context.Context, s *Session, env protocol.Envelope, publish Publish) bool {
	unlock := r.locks.lock(r.rooms(s, env)...)
	defer unlock()
	return publish(r.Handle(ctx, s, env))
}

// Disconnect runs Leave under the joined room's lock and publishes its plan.
func (r *Router) Disconnect(s *Session, publish Publish) bool {
	unlock := r.locks.lock(s.roomID)
	defer unlock()
	return publish(r.Leave(s))
}

// Rooms an event may read or change: the joined room, plus the target
// room of a join.
func (r *Router) rooms(s *Session, env protocol.Envelope) []string {
	rooms := []string{s.roomID}
	if env.Event == protocol.EventJoin {
		var p protocol.JoinPayload
		if env.Bind(&p) == nil {
			rooms = append(rooms, strings.TrimSpace(p.RoomID))
		}
	}
	return rooms
}

func bind(env protocol.Envelope, v any) error {
	if err := env.Bind(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lkj1313/LiveBoard/internal/room"
)

// Socket event names
const (
	// Session events
	EventJoin      = "join"
	EventJoined    = "joined"
	EventUserJoin  = "userJoin"
	EventUserLeave = "userLeave"
	EventUserList  = "userList"

	// Snapshot replies
	EventLoadDrawings     = "loadDrawings"
	EventLoadCanvasImages = "loadCanvasImages"
	EventLoadChatMessages = "loadChatMessages"

	// Stroke mutations
	EventDraw           = "draw"
	EventErase          = "erase"
	EventClear          = "clear"
	EventReplaceStrokes = "replaceStrokes"

	// Image mutations. addImage is rebroadcast as newImage.
	EventAddImage    = "addImage"
	EventNewImage    = "newImage"
	EventMoveImage   = "moveImage"
	EventDeleteImage = "deleteImage"

	EventChatMessage = "chatMessage"
)

var (
	ErrEmptyFrame   = errors.New("empty frame")
	ErrMissingEvent = errors.New("missing event name")
)

// Envelope is the JSON frame carried by every socket message.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Decode parses a raw socket frame.
func Decode(frame []byte) (Envelope, error) {
	if len(frame) == 0 {
		return Envelope{}, ErrEmptyFrame
	}

	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, ErrMissingEvent
	}
	return env, nil
}

// Encode builds a frame for event with payload marshalled as its data.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// Unmarshals the envelope data into v
func (e Envelope) Bind(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: missing data", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: %w", e.Event, err)
	}
	return nil
}

// Client to server payloads

type JoinPayload struct {
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName,omitempty"`
	Nickname    string `json:"nickname,omitempty"`
	UserID      string `json:"userId,omitempty"`
}

// Name returns the display name, accepting the older nickname field.
func (p JoinPayload) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Nickname
}

type DrawPayload struct {
	RoomID string      `json:"roomId"`
	Stroke room.Stroke `json:"stroke"`
}

type ErasePayload struct {
	RoomID string  `json:"roomId,omitempty"`
	UserID string  `json:"userId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

type ClearPayload struct {
	RoomID string `json:"roomId,omitempty"`
	UserID string `json:"userId"`
}

type ReplaceStrokesPayload struct {
	RoomID  string        `json:"roomId"`
	Strokes []room.Stroke `json:"strokes"`
}

type AddImagePayload struct {
	RoomID string  `json:"roomId"`
	ID     string  `json:"id"`
	URL    string  `json:"url"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

type MoveImagePayload struct {
	RoomID  string  `json:"roomId"`
	ImageID string  `json:"imageId"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

type DeleteImagePayload struct {
	RoomID  string `json:"roomId"`
	ImageID string `json:"imageId"`
}

type ChatPayload struct {
	RoomID  string    `json:"roomId"`
	User    room.User `json:"user"`
	Message string    `json:"message"`
}

// Server to client payloads

type JoinedPayload struct {
	ConnectionID   string  `json:"connectionId"`
	UserID         string  `json:"userId"`
	RoomID         string  `json:"roomId"`
	EraseThreshold float64 `json:"eraseThreshold"`
}

// EraseBroadcast lists the removed stroke ids. Ids are unique per room, so
// peers can match on id alone.
type EraseBroadcast struct {
	UserID    string   `json:"userId"`
	X         float64  `json:"x"`
	Y         float64  `json:"y"`
	StrokeIDs []string `json:"strokeIds"`
}

type ClearBroadcast struct {
	UserID string `json:"userId"`
}

type ChatBroadcast struct {
	ID        string    `json:"id"`
	User      room.User `json:"user"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

package room

import (
	"time"
)

// Fixed render size of a placed image, in logical canvas units.
const ImageSize = 150

// One sample of a pen path
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Stroke is one continuous pen gesture. Point order is the path of the pen.
// ID is unique within a room across all owners.
type Stroke struct {
	ID       string  `json:"id,omitempty"`
	UserID   string  `json:"userId"`
	Nickname string  `json:"nickname,omitempty"`
	Points   []Point `json:"points"`
}

// Reports whether the stroke can be persisted or broadcast
func (s Stroke) Valid() bool {
	return len(s.Points) > 0
}

// An image placed on the canvas; position is the top-left corner
type CanvasImage struct {
	ID  string  `json:"id"`
	URL string  `json:"url"`
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
}

// Author of a chat message
type User struct {
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
}

// ChatMessage is immutable once stored.
type ChatMessage struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	User      User      `json:"user"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Room metadata. Drawing state lives in the stroke and image tables.
type Room struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Image         string    `json:"image,omitempty"`
	BackgroundURL string    `json:"backgroundUrl,omitempty"`
	OwnerID       string    `json:"owner,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

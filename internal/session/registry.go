package session

import (
	"sync"
)

// A live connection joined to a room
type Participant struct {
	ConnectionID string
	DisplayName  string
	UserID       string
}

// Removal describes the outcome of Unregister.
type Removal struct {
	RoomID      string
	Participant Participant
	// Display names still in the room, in join order
	Remaining []string
	// True when the room had no participants left and was dropped
	RoomEmpty bool
}

// Registry tracks, per room, the connections currently joined to it.
// State is process-local and rebuilt from joins after a restart.
type Registry struct {
	rooms map[string][]Participant
	mu    sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string][]Participant),
	}
}

// Appends p to the room's roster
func (r *Registry) Register(roomID string, p Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[roomID] = append(r.rooms[roomID], p)
}

// Unregister removes connectionID from whichever room holds it. Rooms left
// empty are dropped so the map does not grow without bound.
func (r *Registry) Unregister(connectionID string) (Removal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for roomID, participants := range r.rooms {
		idx := -1
		for i, p := range participants {
			if p.ConnectionID == connectionID {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}

		removed := participants[idx]
		updated := make([]Participant, 0, len(participants)-1)
		updated = append(updated, participants[:idx]...)
		updated = append(updated, participants[idx+1:]...)

		removal := Removal{RoomID: roomID, Participant: removed}
		if len(updated) == 0 {
			delete(r.rooms, roomID)
			removal.RoomEmpty = true
		} else {
			r.rooms[roomID] = updated
			removal.Remaining = names(updated)
		}
		return removal, true
	}

	return Removal{}, false
}

// Returns the room's display names in join order
func (r *Registry) List(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return names(r.rooms[roomID])
}

func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *Registry) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, participants := range r.rooms {
		total += len(participants)
	}
	return total
}

// Returns participant counts keyed by room
func (r *Registry) ActiveRooms() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := make(map[string]int, len(r.rooms))
	for roomID, participants := range r.rooms {
		active[roomID] = len(participants)
	}
	return active
}

func names(participants []Participant) []string {
	out := make([]string, len(participants))
	for i, p := range participants {
		out[i] = p.DisplayName
	}
	return out
}

package router

import (
	"fmt"
)

type State int

const (
	StateConnected State = iota
	StateJoined
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Session is the router's view of one connection. It is owned by the
// connection's read loop and must not be shared across goroutines.
type Session struct {
	ConnectionID string

	// Set from a verified token at handshake, empty when anonymous
	authUserID   string
	authNickname string

	userID      string
	displayName string
	roomID      string
	state       State
}

func NewSession(connectionID string) *Session {
	return &Session{ConnectionID: connectionID, state: StateConnected}
}

// Authenticate pins the identity a later join must use.
func (s *Session) Authenticate(userID, nickname string) {
	s.authUserID = userID
	s.authNickname = nickname
}

func (s *Session) Authenticated() bool { return s.authUserID != "" }
func (s *Session) State() State        { return s.state }
func (s *Session) RoomID() string      { return s.roomID }
func (s *Session) UserID() string      { return s.userID }
func (s *Session) DisplayName() string { return s.displayName }

// Resolves the room an event applies to. A missing roomId means the
// joined room.
func (s *Session) room(roomID string) (string, error) {
	if roomID == "" || roomID == s.roomID {
		return s.roomID, nil
	}
	return "", fmt.Errorf("%w: got %s, joined %s", ErrWrongRoom, roomID, s.roomID)
}

// Checks a client-asserted user id against the joined identity
func (s *Session) owns(userID string) error {
	if userID == "" || userID == s.userID {
		return nil
	}
	return fmt.Errorf("%w: got %s, joined as %s", ErrIdentityMismatch, userID, s.userID)
}

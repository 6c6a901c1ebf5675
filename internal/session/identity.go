package session

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid"
)

// PeerID identifies one client to the relay for the lifetime of a Manager.
type PeerID string

// RoomID is the short code listeners type to join a room.
type RoomID string

const (
	RoomIDLength   = 6
	roomIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// NewPeerID returns a random peer identity.
func NewPeerID() PeerID {
	return PeerID(uuid.NewString())
}

// NewRoomID returns a random room code.
func NewRoomID() (RoomID, error) {
	id, err := gonanoid.Generate(roomIDAlphabet, RoomIDLength)
	if err != nil {
		return "", fmt.Errorf("generate room id: %w", err)
	}
	return RoomID(id), nil
}

// ParseRoomID accepts a room code in any case, or a room link ending in
// /r/<code>.
func ParseRoomID(input string) (RoomID, error) {
	s := strings.TrimSpace(input)

	if strings.Contains(s, "/r/") {
		if u, err := url.Parse(s); err == nil && u.Path != "" {
			s = u.Path
		}
		s = strings.TrimRight(s, "/")
		i := strings.LastIndex(s, "/r/")
		if i < 0 {
			return "", fmt.Errorf("%w: %q", ErrInvalidRoomID, input)
		}
		s = s[i+len("/r/"):]
	}

	id := RoomID(strings.ToUpper(s))
	if !id.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRoomID, input)
	}
	return id, nil
}

// Valid reports whether id is a well-formed room code.
func (id RoomID) Valid() bool {
	if len(id) != RoomIDLength {
		return false
	}
	for _, r := range id {
		if !strings.ContainsRune(roomIDAlphabet, r) {
			return false
		}
	}
	return true
}

// Role is the part a client plays in a room.
type Role int

const (
	RoleNone Role = iota
	RoleHost
	RoleListener
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleListener:
		return "listener"
	default:
		return "none"
	}
}

// ParseRole maps a wire role name to a Role.
func ParseRole(s string) (Role, bool) {
	switch s {
	case "host":
		return RoleHost, true
	case "listener":
		return RoleListener, true
	default:
		return RoleNone, false
	}
}

package relay

// Room is the set of clients that joined under one room ID, keyed by the
// sender ID they announced.
type Room struct {
	// ID is the room code chosen by the host.
	ID string

	// Members maps sender IDs to their connections.
	Members map[string]*Client
}

func newRoom(id string) *Room {
	return &Room{ID: id, Members: make(map[string]*Client)}
}

// Size returns the number of members.
func (r *Room) Size() int {
	return len(r.Members)
}

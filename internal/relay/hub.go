package relay

import (
	"log/slog"

	"github.com/BioHazard786/ShareAudio/internal/signaling"
	"github.com/prometheus/client_golang/prometheus"
)

// Hub is the central brain of the relay. It tracks which connection speaks
// for which sender in which room, and fans every envelope out to the rest of
// the room. It never invents envelopes of its own.
type Hub struct {
	// Rooms maps room IDs to Room instances.
	Rooms map[string]*Room

	clients map[*Client]bool

	register chan *Client
	leaving  chan *Client
	inbound  chan *inbound
	done     chan struct{}
	stopped  chan struct{}

	metrics *Metrics
	logger  *slog.Logger
}

// NewHub creates a hub reporting to metrics. A nil metrics gets a private
// registry.
func NewHub(metrics *Metrics) *Hub {
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}
	return &Hub{
		Rooms:    make(map[string]*Room),
		clients:  make(map[*Client]bool),
		register: make(chan *Client),
		leaving:  make(chan *Client),
		inbound:  make(chan *inbound),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		metrics:  metrics,
		logger:   slog.With("component", "relay"),
	}
}

// Register hands a new connection to the hub. It reports false once the hub
// has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.leaving <- c:
	case <-h.done:
	}
}

func (h *Hub) broadcast(in *inbound) bool {
	select {
	case h.inbound <- in:
		return true
	case <-h.done:
		return false
	}
}

// Stop ends Run and closes every client's send channel. It waits for Run to
// return and must be called at most once.
func (h *Hub) Stop() {
	close(h.done)
	<-h.stopped
}

// Run starts the hub's main processing loop.
// This is the single goroutine that safely manages all state (rooms, clients).
func (h *Hub) Run() {
	defer close(h.stopped)

	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.metrics.Connections.Inc()
			h.logger.Debug("client connected", "addr", c.addr)

		case c := <-h.leaving:
			h.logger.Debug("client disconnected", "addr", c.addr, "room", c.RoomID, "peer", c.PeerID)
			h.remove(c)

		case in := <-h.inbound:
			h.route(in)

		case <-h.done:
			for c := range h.clients {
				h.remove(c)
			}
			return
		}
	}
}

// route records membership on join, forwards the frame to every other member
// of the sender's room and forgets the sender on leave.
func (h *Hub) route(in *inbound) {
	c, env := in.client, in.env
	if !h.clients[c] {
		return
	}

	if env.Type == signaling.TypeJoin {
		h.join(c, env.RoomID, env.SenderID)
	}

	room, ok := h.Rooms[c.RoomID]
	if !ok || c.RoomID != env.RoomID || c.PeerID != env.SenderID {
		h.logger.Debug("dropping envelope from non-member",
			"type", env.Type, "room", env.RoomID, "sender", env.SenderID, "addr", c.addr)
		h.metrics.Dropped.WithLabelValues(dropNotJoined).Inc()
		return
	}

	for id, member := range room.Members {
		if member == c {
			continue
		}
		select {
		case member.Send <- in.raw:
			h.metrics.Forwarded.WithLabelValues(env.Type).Inc()
		default:
			h.logger.Warn("dropping slow client", "room", room.ID, "peer", id)
			h.metrics.Dropped.WithLabelValues(dropSlow).Inc()
			h.remove(member)
		}
	}

	if env.Type == signaling.TypeLeave {
		h.leave(c)
	}
}

func (h *Hub) join(c *Client, roomID, peerID string) {
	if c.RoomID == roomID && c.PeerID == peerID {
		return
	}
	h.leave(c)

	room, ok := h.Rooms[roomID]
	if !ok {
		room = newRoom(roomID)
		h.Rooms[roomID] = room
		h.logger.Info("room opened", "room", roomID)
	}

	// A reconnecting peer takes over its sender ID from the stale connection.
	if old, ok := room.Members[peerID]; ok && old != c {
		old.RoomID, old.PeerID = "", ""
		h.metrics.Members.Dec()
	}

	room.Members[peerID] = c
	c.RoomID, c.PeerID = roomID, peerID
	h.metrics.Members.Inc()
	h.metrics.Rooms.Set(float64(len(h.Rooms)))
	h.logger.Info("peer joined", "room", roomID, "peer", peerID, "members", room.Size())
}

// leave drops c from its room and evicts the room once empty.
func (h *Hub) leave(c *Client) {
	if c.RoomID == "" {
		return
	}
	room, ok := h.Rooms[c.RoomID]
	if ok && room.Members[c.PeerID] == c {
		delete(room.Members, c.PeerID)
		h.metrics.Members.Dec()
		h.logger.Info("peer left", "room", room.ID, "peer", c.PeerID, "members", room.Size())

		if room.Size() == 0 {
			delete(h.Rooms, room.ID)
			h.metrics.Rooms.Set(float64(len(h.Rooms)))
			h.logger.Info("room closed", "room", room.ID)
		}
	}
	c.RoomID, c.PeerID = "", ""
}

// remove forgets c entirely and closes its send channel to stop its
// WritePump.
func (h *Hub) remove(c *Client) {
	if !h.clients[c] {
		return
	}
	h.leave(c)
	delete(h.clients, c)
	h.metrics.Connections.Dec()
	close(c.Send)
}

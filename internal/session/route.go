package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BioHazard786/ShareAudio/internal/media"
	"github.com/BioHazard786/ShareAudio/internal/signaling"
)

// receive handles one inbound envelope. Envelopes that arrive before the
// channel is attached are held and replayed in order.
func (m *Manager) receive(gen uint64, env *signaling.Envelope) {
	if gen != m.gen {
		return
	}
	if m.channel == nil {
		m.early = append(m.early, env)
		return
	}
	if err := m.route(env); err != nil {
		m.logDropped(env, err)
	}
}

func (m *Manager) route(env *signaling.Envelope) error {
	sender := PeerID(env.SenderID)
	if sender == m.id {
		return nil
	}
	if RoomID(env.RoomID) != m.Room() {
		return protocolError(env.Type, sender, ErrUnexpectedSender, "room "+env.RoomID)
	}

	switch m.Role() {
	case RoleHost:
		return m.routeHost(env)
	case RoleListener:
		return m.routeListener(env)
	default:
		return nil
	}
}

func (m *Manager) logDropped(env *signaling.Envelope, err error) {
	level := slog.LevelWarn
	if errors.Is(err, ErrNotAddressed) {
		level = slog.LevelDebug
	}
	kind := "unknown"
	var se *Error
	if errors.As(err, &se) {
		kind = se.Kind.String()
	}
	m.logger.Log(context.Background(), level, "dropping envelope",
		"type", env.Type, "sender", env.SenderID, "kind", kind, "err", err)
}

func (m *Manager) routeHost(env *signaling.Envelope) error {
	peer := PeerID(env.SenderID)

	switch env.Type {
	case signaling.TypeJoin:
		d, err := env.Join()
		if err != nil {
			return protocolError("join", peer, err, "")
		}
		if role, ok := ParseRole(d.Role); !ok || role != RoleListener {
			return protocolError("join", peer, ErrUnexpectedSender, "role "+d.Role)
		}
		if old := m.registry.Get(peer); old != nil {
			m.logger.Info("listener rejoined", "peer", peer)
			m.disconnect(old, errReconnect)
		}
		_, err = m.createHostSession(peer)
		return err

	case signaling.TypeOffer:
		d, err := env.Description()
		if err != nil {
			return protocolError("offer", peer, err, "")
		}
		if d.TargetID != "" && PeerID(d.TargetID) != m.id {
			return protocolError("offer", peer, ErrNotAddressed, "")
		}

		s := m.registry.Get(peer)
		if s != nil && s.state != StateNew {
			m.logger.Info("listener renegotiating", "peer", peer, "state", s.state)
			m.disconnect(s, errReconnect)
			s = nil
		}
		if s == nil {
			if s, err = m.createHostSession(peer); err != nil {
				return err
			}
		}
		m.beginAnswer(s, media.SessionDescription{Type: d.Type, SDP: d.SDP})
		return nil

	case signaling.TypeICECandidate:
		c, err := env.Candidate()
		if err != nil {
			return protocolError("ice-candidate", peer, err, "")
		}
		if c.TargetID != "" && PeerID(c.TargetID) != m.id {
			return protocolError("ice-candidate", peer, ErrNotAddressed, "")
		}

		// Listeners trickle candidates only after join and offer, so a
		// candidate without a session belongs to one already torn down.
		s := m.registry.Get(peer)
		if s == nil {
			return protocolError("ice-candidate", peer, ErrOutOfOrder, "no session")
		}
		return m.acceptCandidate(s, toMediaCandidate(c))

	case signaling.TypeLeave:
		s := m.registry.Get(peer)
		if s == nil {
			return protocolError("leave", peer, ErrNotAddressed, "unknown peer")
		}
		m.disconnect(s, errRemoteLeft)
		return nil

	case signaling.TypeAnswer:
		return protocolError("answer", peer, ErrUnexpectedSender, "host does not accept answers")
	}
	return nil
}

func (m *Manager) routeListener(env *signaling.Envelope) error {
	sender := PeerID(env.SenderID)

	switch env.Type {
	case signaling.TypeAnswer:
		d, err := env.Description()
		if err != nil {
			return protocolError("answer", sender, err, "")
		}
		if d.TargetID != "" && PeerID(d.TargetID) != m.id {
			return protocolError("answer", sender, ErrNotAddressed, "")
		}
		if m.hostID != "" && sender != m.hostID {
			return protocolError("answer", sender, ErrUnexpectedSender, "expected "+string(m.hostID))
		}

		s := m.upstream
		if s == nil || s.state != StateNegotiating || !s.localSent || s.remoteSet {
			return protocolError("answer", sender, ErrOutOfOrder, "")
		}
		if m.hostID == "" {
			m.hostID = sender
			s.remote = sender
			m.logger.Info("bound host", "peer", sender)
		}
		m.applyRemote(s, media.SessionDescription{Type: d.Type, SDP: d.SDP})
		return nil

	case signaling.TypeICECandidate:
		c, err := env.Candidate()
		if err != nil {
			return protocolError("ice-candidate", sender, err, "")
		}
		if c.TargetID != "" && PeerID(c.TargetID) != m.id {
			return protocolError("ice-candidate", sender, ErrNotAddressed, "")
		}
		if m.hostID == "" {
			// untargeted candidates come from other listeners
			if c.TargetID == "" {
				return protocolError("ice-candidate", sender, ErrNotAddressed, "")
			}
		} else if sender != m.hostID {
			return protocolError("ice-candidate", sender, ErrUnexpectedSender, "expected "+string(m.hostID))
		}

		if m.upstream == nil {
			return protocolError("ice-candidate", sender, ErrOutOfOrder, "no session")
		}
		return m.acceptCandidate(m.upstream, toMediaCandidate(c))

	case signaling.TypeLeave:
		if m.hostID == "" || sender != m.hostID {
			return protocolError("leave", sender, ErrNotAddressed, "")
		}
		if m.upstream != nil {
			m.disconnect(m.upstream, errRemoteLeft)
		}
		m.hostID = ""
		return nil

	case signaling.TypeJoin:
		d, err := env.Join()
		if err != nil {
			return protocolError("join", sender, err, "")
		}
		if role, ok := ParseRole(d.Role); !ok || role != RoleHost {
			return protocolError("join", sender, ErrNotAddressed, "")
		}
		if m.hostID != "" && sender != m.hostID && m.upstream != nil && m.upstream.state == StateConnected {
			return protocolError("join", sender, ErrUnexpectedSender, "room already has a host")
		}

		// The host arrived or came back; any earlier offer went nowhere.
		m.logger.Info("host joined, renegotiating", "peer", sender)
		if m.upstream != nil {
			m.disconnect(m.upstream, errReconnect)
		}
		m.hostID = ""
		return m.startUpstream()

	case signaling.TypeOffer:
		return protocolError("offer", sender, ErrNotAddressed, "listeners do not answer")
	}
	return nil
}

func toMediaCandidate(c signaling.CandidateData) media.ICECandidate {
	return media.ICECandidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

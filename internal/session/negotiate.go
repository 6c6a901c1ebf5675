package session

import (
	"time"

	"github.com/BioHazard786/ShareAudio/internal/media"
	"github.com/BioHazard786/ShareAudio/internal/signaling"
)

// newSession wraps t in a PeerSession and routes its callbacks through the
// event loop, guarded by the session's sequence number.
func (m *Manager) newSession(remote PeerID, role Role, t media.Transport) *PeerSession {
	m.seq++
	s := newPeerSession(remote, role, m.seq, t)
	peer, seq := remote, s.seq

	t.OnICECandidate(func(c media.ICECandidate) {
		m.guarded(peer, seq, func(s *PeerSession) { m.onLocalCandidate(s, c) })
	})
	t.OnConnectionStateChange(func(st media.ConnectionState) {
		m.guarded(peer, seq, func(s *PeerSession) { m.onTransportState(s, st) })
	})
	t.OnRemoteTrack(func(rt media.RemoteTrack) {
		m.guarded(peer, seq, func(s *PeerSession) { m.onRemoteTrack(s, rt) })
	})
	t.OnControl(func(cm media.ControlMessage) {
		m.guarded(peer, seq, func(s *PeerSession) { m.onControl(s, cm) })
	})

	s.negTimer = time.AfterFunc(m.cfg.NegotiationTimeout, func() {
		m.guarded(peer, seq, m.onNegotiationTimeout)
	})
	return s
}

// createHostSession registers a fresh session for a listener with the shared
// track attached in the current mute state.
func (m *Manager) createHostSession(peer PeerID) (*PeerSession, error) {
	t, err := m.deps.Transports.NewTransport(media.DirectionSend)
	if err != nil {
		return nil, resourceError("create transport", err)
	}

	s := m.newSession(peer, RoleHost, t)
	if err := t.AttachLocalTrack(m.track, !m.muted); err != nil {
		s.close()
		return nil, resourceError("attach track", err)
	}

	if replaced := m.registry.Add(s); replaced != nil {
		m.emitState(replaced.remote, StateClosed)
	}
	m.logger.Info("listener session created", "peer", peer, "seq", s.seq)
	m.emitState(peer, StateNew)
	m.syncCount()
	return s, nil
}

// startUpstream creates the listener's only session and offers.
func (m *Manager) startUpstream() error {
	t, err := m.deps.Transports.NewTransport(media.DirectionReceive)
	if err != nil {
		return resourceError("create transport", err)
	}

	s := m.newSession(m.hostID, RoleListener, t)
	m.upstream = s
	m.emitState(s.remote, StateNew)
	m.beginOffer(s)
	return nil
}

func (m *Manager) beginOffer(s *PeerSession) {
	if err := s.transition(StateNegotiating); err != nil {
		m.logger.Warn("begin offer", "peer", s.remote, "err", err)
		return
	}
	m.emitState(s.remote, StateNegotiating)

	peer, seq, ctx, t := s.remote, s.seq, s.ctx, s.transport
	go func() {
		desc, err := t.CreateOffer(ctx)
		m.guarded(peer, seq, func(s *PeerSession) { m.onOfferCreated(s, desc, err) })
	}()
}

func (m *Manager) onOfferCreated(s *PeerSession, desc media.SessionDescription, err error) {
	if err != nil {
		m.failNegotiation(s, "create offer", err)
		return
	}
	if err := m.send(signaling.TypeOffer, signaling.DescriptionData{Type: desc.Type, SDP: desc.SDP}); err != nil {
		m.logger.Warn("send offer", "err", err)
		return
	}
	m.localDescriptionSent(s)
}

func (m *Manager) beginAnswer(s *PeerSession, offer media.SessionDescription) {
	if err := s.transition(StateNegotiating); err != nil {
		m.logger.Warn("begin answer", "peer", s.remote, "err", err)
		return
	}
	m.emitState(s.remote, StateNegotiating)
	m.applyRemote(s, offer)
}

// applyRemote sets desc on the transport off the loop and resumes with the
// result.
func (m *Manager) applyRemote(s *PeerSession, desc media.SessionDescription) {
	peer, seq, ctx, t := s.remote, s.seq, s.ctx, s.transport
	go func() {
		err := t.SetRemoteDescription(ctx, desc)
		m.guarded(peer, seq, func(s *PeerSession) { m.onRemoteApplied(s, err) })
	}()
}

func (m *Manager) onRemoteApplied(s *PeerSession, err error) {
	if err != nil {
		m.failNegotiation(s, "set remote description", err)
		return
	}
	s.remoteSet = true

	for _, c := range s.takePending() {
		if err := s.transport.AddICECandidate(c); err != nil {
			m.failNegotiation(s, "add ICE candidate", err)
			return
		}
	}

	if s.role != RoleHost {
		return
	}

	peer, seq, ctx, t := s.remote, s.seq, s.ctx, s.transport
	go func() {
		desc, err := t.CreateAnswer(ctx)
		m.guarded(peer, seq, func(s *PeerSession) { m.onAnswerCreated(s, desc, err) })
	}()
}

func (m *Manager) onAnswerCreated(s *PeerSession, desc media.SessionDescription, err error) {
	if err != nil {
		m.failNegotiation(s, "create answer", err)
		return
	}
	err = m.send(signaling.TypeAnswer, signaling.DescriptionData{
		Type:     desc.Type,
		SDP:      desc.SDP,
		TargetID: string(s.remote),
	})
	if err != nil {
		m.logger.Warn("send answer", "peer", s.remote, "err", err)
		return
	}
	m.localDescriptionSent(s)
}

// localDescriptionSent releases local candidates held back until the peer
// could use them.
func (m *Manager) localDescriptionSent(s *PeerSession) {
	s.localSent = true
	for _, c := range s.takeOutbound() {
		m.sendCandidate(s, c)
	}
}

func (m *Manager) onLocalCandidate(s *PeerSession, c media.ICECandidate) {
	if !s.localSent {
		s.outbound = append(s.outbound, c)
		return
	}
	m.sendCandidate(s, c)
}

func (m *Manager) sendCandidate(s *PeerSession, c media.ICECandidate) {
	target := s.remote
	if s.role == RoleListener {
		target = m.hostID
	}
	err := m.send(signaling.TypeICECandidate, signaling.CandidateData{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
		TargetID:         string(target),
	})
	if err != nil {
		m.logger.Debug("send candidate", "peer", s.remote, "err", err)
	}
}

// acceptCandidate applies c now if the remote description is in place and
// buffers it otherwise.
func (m *Manager) acceptCandidate(s *PeerSession, c media.ICECandidate) error {
	if s.remoteSet {
		if err := s.transport.AddICECandidate(c); err != nil {
			m.failNegotiation(s, "add ICE candidate", err)
		}
		return nil
	}
	if err := s.bufferCandidate(c); err != nil {
		return protocolError("ice-candidate", s.remote, err, "")
	}
	return nil
}

func (m *Manager) onTransportState(s *PeerSession, st media.ConnectionState) {
	s.transportState = st

	switch st {
	case media.ConnectionStateConnected:
		s.stopGrace()
		if s.state != StateNegotiating {
			return
		}
		if err := s.transition(StateConnected); err != nil {
			return
		}
		if s.negTimer != nil {
			s.negTimer.Stop()
		}
		m.logger.Info("session connected", "peer", s.remote)
		m.emitState(s.remote, StateConnected)

	case media.ConnectionStateDisconnected:
		if s.graceTimer != nil {
			return
		}
		peer, seq := s.remote, s.seq
		s.graceTimer = time.AfterFunc(m.cfg.DisconnectGrace, func() {
			m.guarded(peer, seq, func(s *PeerSession) {
				s.graceTimer = nil
				if s.transportState != media.ConnectionStateConnected {
					m.disconnect(s, errTransportLost)
				}
			})
		})

	case media.ConnectionStateFailed:
		m.disconnect(s, negotiationError("transport", s.remote, errTransportFailed))

	case media.ConnectionStateClosed:
		m.disconnect(s, errTransportLost)
	}
}

func (m *Manager) onNegotiationTimeout(s *PeerSession) {
	if s.state != StateNew && s.state != StateNegotiating {
		return
	}
	m.disconnect(s, negotiationError("negotiate", s.remote, ErrNegotiationTimeout))
}

func (m *Manager) onRemoteTrack(s *PeerSession, rt media.RemoteTrack) {
	peer := s.remote
	m.logger.Info("remote track", "peer", peer, "codec", rt.Codec())
	m.emit(func(o Observer) { o.RemoteStreamAvailable(peer, rt) })
}

func (m *Manager) onControl(s *PeerSession, cm media.ControlMessage) {
	if cm.Type != media.ControlMute || s.role != RoleListener {
		return
	}
	var p media.MutePayload
	if err := cm.DecodePayload(&p); err != nil {
		m.logger.Warn("decode mute", "peer", s.remote, "err", err)
		return
	}
	m.emit(func(o Observer) { o.HostMuteChanged(p.Muted) })
}

func (m *Manager) failNegotiation(s *PeerSession, op string, err error) {
	m.disconnect(s, negotiationError(op, s.remote, err))
}

// disconnect moves s to Disconnected and tears it down on the same turn, so
// the registry never counts an unreachable peer.
func (m *Manager) disconnect(s *PeerSession, reason error) {
	if !s.state.Live() {
		return
	}
	_ = s.transition(StateDisconnected)
	m.logger.Info("session disconnected", "peer", s.remote, "reason", reason)
	m.emitState(s.remote, StateDisconnected)
	m.teardown(s)
}

func (m *Manager) teardown(s *PeerSession) {
	if s.close() {
		m.emitState(s.remote, StateClosed)
	}

	if m.upstream == s {
		m.upstream = nil
		m.hostID = ""
	}
	if m.registry != nil && m.registry.Get(s.remote) == s {
		m.registry.Remove(s.remote)
		m.syncCount()
	}
}

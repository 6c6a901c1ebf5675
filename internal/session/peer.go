package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BioHazard786/ShareAudio/internal/media"
)

// MaxBufferedCandidates bounds the per-session inbound candidate buffer.
const MaxBufferedCandidates = 64

// PeerSession is one negotiated media connection with a remote peer. All
// fields are owned by the manager's event loop.
type PeerSession struct {
	remote    PeerID
	role      Role
	state     State
	seq       uint64
	transport media.Transport
	created   time.Time

	// inbound candidates waiting for the remote description
	pending   []media.ICECandidate
	remoteSet bool

	// local candidates produced before our description was sent
	outbound  []media.ICECandidate
	localSent bool

	transportState media.ConnectionState

	ctx        context.Context
	cancel     context.CancelFunc
	negTimer   *time.Timer
	graceTimer *time.Timer
}

func newPeerSession(remote PeerID, role Role, seq uint64, t media.Transport) *PeerSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &PeerSession{
		remote:    remote,
		role:      role,
		state:     StateNew,
		seq:       seq,
		transport: t,
		created:   time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *PeerSession) Remote() PeerID { return s.remote }
func (s *PeerSession) State() State   { return s.state }
func (s *PeerSession) Seq() uint64    { return s.seq }

func (s *PeerSession) transition(next State) error {
	if !s.state.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrOutOfOrder, s.state, next)
	}
	s.state = next
	return nil
}

// bufferCandidate queues c until the remote description is applied.
func (s *PeerSession) bufferCandidate(c media.ICECandidate) error {
	if len(s.pending) >= MaxBufferedCandidates {
		return ErrBufferFull
	}
	s.pending = append(s.pending, c)
	return nil
}

func (s *PeerSession) takePending() []media.ICECandidate {
	p := s.pending
	s.pending = nil
	return p
}

func (s *PeerSession) takeOutbound() []media.ICECandidate {
	o := s.outbound
	s.outbound = nil
	return o
}

func (s *PeerSession) stopGrace() {
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
}

// close releases the transport and cancels in-flight negotiation steps. The
// shared local track is never touched. Safe to call repeatedly.
func (s *PeerSession) close() bool {
	if s.state == StateClosed {
		return false
	}
	s.state = StateClosed

	s.cancel()
	if s.negTimer != nil {
		s.negTimer.Stop()
	}
	s.stopGrace()
	s.pending = nil
	s.outbound = nil

	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			slog.Debug("close transport", "peer", s.remote, "err", err)
		}
	}
	return true
}

// SessionInfo is a read-only snapshot of a PeerSession.
type SessionInfo struct {
	Peer    PeerID
	State   State
	Since   time.Time
	Pending int
}

func (s *PeerSession) info() SessionInfo {
	return SessionInfo{Peer: s.remote, State: s.state, Since: s.created, Pending: len(s.pending)}
}

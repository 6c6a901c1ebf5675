package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BioHazard786/ShareAudio/internal/media"
	"github.com/BioHazard786/ShareAudio/internal/signaling"
)

const (
	DefaultNegotiationTimeout = 30 * time.Second
	DefaultDisconnectGrace    = 5 * time.Second

	loopQueueSize = 256
)

var (
	errRemoteLeft      = errors.New("remote peer left")
	errReconnect       = errors.New("replaced by reconnect")
	errTransportFailed = errors.New("transport failed")
	errTransportLost   = errors.New("transport disconnected")
)

// Config tunes a Manager. Zero values select the defaults.
type Config struct {
	NegotiationTimeout time.Duration
	DisconnectGrace    time.Duration
}

// Channel is an open signaling connection.
type Channel interface {
	Send(env *signaling.Envelope) error
	Close() error
}

// Dialer opens signaling channels.
type Dialer interface {
	Dial(ctx context.Context, h signaling.Handler) (Channel, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, h signaling.Handler) (Channel, error)

func (f DialerFunc) Dial(ctx context.Context, h signaling.Handler) (Channel, error) {
	return f(ctx, h)
}

// WebSocketDialer dials the relay at url.
func WebSocketDialer(url string) Dialer {
	return DialerFunc(func(ctx context.Context, h signaling.Handler) (Channel, error) {
		c, err := signaling.Dial(ctx, url, h)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

// Dependencies are the collaborators a Manager drives.
type Dependencies struct {
	Dialer     Dialer
	Transports media.Factory
	Tracks     media.TrackSource
}

// Manager owns a local identity, a room and the peer sessions in it. Every
// mutation runs on a single event loop goroutine; public methods post work to
// it.
type Manager struct {
	cfg    Config
	deps   Dependencies
	id     PeerID
	logger *slog.Logger

	lifecycle sync.Mutex
	started   bool
	stopped   bool

	events   chan func()
	quit     chan struct{}
	loopDone chan struct{}
	dispatch *dispatcher

	room      atomic.Value
	role      atomic.Int32
	count     atomic.Int32
	mutedFlag atomic.Bool

	// Owned by the event loop.
	gen      uint64
	channel  Channel
	early    []*signaling.Envelope
	registry *Registry
	upstream *PeerSession
	hostID   PeerID
	track    *media.LocalTrack
	muted    bool
	seq      uint64
}

// NewManager creates a manager and starts its event loop.
func NewManager(cfg Config, deps Dependencies) *Manager {
	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = DefaultNegotiationTimeout
	}
	if cfg.DisconnectGrace <= 0 {
		cfg.DisconnectGrace = DefaultDisconnectGrace
	}

	id := NewPeerID()
	m := &Manager{
		cfg:      cfg,
		deps:     deps,
		id:       id,
		logger:   slog.With("component", "session", "self", id),
		events:   make(chan func(), loopQueueSize),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
		dispatch: newDispatcher(),
	}
	m.room.Store(RoomID(""))

	go m.run()
	return m
}

func (m *Manager) run() {
	defer close(m.loopDone)
	for {
		select {
		case fn := <-m.events:
			fn()
		case <-m.quit:
			return
		}
	}
}

// post queues fn on the event loop. It reports false once the loop has ended.
func (m *Manager) post(fn func()) bool {
	select {
	case <-m.quit:
		return false
	default:
	}

	select {
	case m.events <- fn:
		return true
	case <-m.quit:
		return false
	}
}

// call runs fn on the event loop and waits for it.
func (m *Manager) call(fn func()) error {
	done := make(chan struct{})
	if !m.post(func() {
		defer close(done)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-done:
		return nil
	case <-m.loopDone:
		return ErrStopped
	}
}

// guarded posts fn for the live session identified by (peer, seq). Results
// for a session that has since closed or been replaced are dropped.
func (m *Manager) guarded(peer PeerID, seq uint64, fn func(*PeerSession)) {
	m.post(func() {
		s := m.live(peer, seq)
		if s == nil {
			m.logger.Debug("dropping stale callback", "peer", peer, "seq", seq)
			return
		}
		fn(s)
	})
}

func (m *Manager) live(peer PeerID, seq uint64) *PeerSession {
	if s := m.upstream; s != nil && s.seq == seq && s.state != StateClosed {
		return s
	}
	if m.registry != nil {
		if s := m.registry.Get(peer); s != nil && s.seq == seq && s.state != StateClosed {
			return s
		}
	}
	return nil
}

// ID returns the local peer identity.
func (m *Manager) ID() PeerID { return m.id }

// Room returns the current room, or "" when idle.
func (m *Manager) Room() RoomID { return m.room.Load().(RoomID) }

// Role returns the local role, or RoleNone when idle.
func (m *Manager) Role() Role { return Role(m.role.Load()) }

// Muted reports the host's local mute state.
func (m *Manager) Muted() bool { return m.mutedFlag.Load() }

// ListenerCount returns the number of listener sessions held by the host.
func (m *Manager) ListenerCount() int { return int(m.count.Load()) }

// SetObserver installs o as the only observer. A nil o removes it.
func (m *Manager) SetObserver(o Observer) {
	m.dispatch.setObserver(o)
}

// Sessions returns a snapshot of the live sessions.
func (m *Manager) Sessions() []SessionInfo {
	var out []SessionInfo
	_ = m.call(func() {
		if m.upstream != nil {
			out = append(out, m.upstream.info())
		}
		if m.registry != nil {
			m.registry.Each(func(s *PeerSession) {
				out = append(out, s.info())
			})
		}
	})
	return out
}

// StartSharing makes this client the host of roomID, generating a code when
// roomID is empty, and waits for listeners to offer.
func (m *Manager) StartSharing(ctx context.Context, roomID RoomID) (RoomID, error) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if err := m.checkIdle(); err != nil {
		return "", err
	}

	if roomID == "" {
		id, err := NewRoomID()
		if err != nil {
			return "", resourceError("generate room", err)
		}
		roomID = id
	} else if !roomID.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRoomID, roomID)
	}

	track, err := m.deps.Tracks.Acquire(ctx)
	if err != nil {
		return "", resourceError("acquire track", err)
	}

	var gen uint64
	if err := m.call(func() {
		gen = m.prepare(RoleHost, roomID)
		m.track = track
		m.registry = NewRegistry()
	}); err != nil {
		track.Release()
		return "", err
	}

	ch, err := m.deps.Dialer.Dial(ctx, channelHandler{m: m, gen: gen})
	if err != nil {
		m.abort(nil)
		return "", channelError("connect", err)
	}

	var joinErr error
	if err := m.call(func() { joinErr = m.attach(ch, gen) }); err != nil {
		joinErr = err
	}
	if joinErr != nil {
		m.abort(ch)
		return "", joinErr
	}

	m.started = true
	m.logger.Info("sharing", "room", roomID)
	return roomID, nil
}

// JoinRoom makes this client a listener in roomID and immediately offers to
// the host.
func (m *Manager) JoinRoom(ctx context.Context, roomID RoomID) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if err := m.checkIdle(); err != nil {
		return err
	}
	if !roomID.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRoomID, roomID)
	}

	var gen uint64
	if err := m.call(func() { gen = m.prepare(RoleListener, roomID) }); err != nil {
		return err
	}

	ch, err := m.deps.Dialer.Dial(ctx, channelHandler{m: m, gen: gen})
	if err != nil {
		m.abort(nil)
		return channelError("connect", err)
	}

	var joinErr error
	if err := m.call(func() {
		if joinErr = m.attach(ch, gen); joinErr != nil {
			return
		}
		if joinErr = m.startUpstream(); joinErr != nil {
			if err := m.send(signaling.TypeLeave, nil); err != nil {
				m.logger.Debug("leave after failed join", "err", err)
			}
		}
	}); err != nil {
		joinErr = err
	}
	if joinErr != nil {
		m.abort(ch)
		return joinErr
	}

	m.started = true
	m.logger.Info("joined", "room", roomID)
	return nil
}

func (m *Manager) checkIdle() error {
	if m.stopped {
		return ErrStopped
	}
	if m.started {
		return ErrAlreadyActive
	}
	return nil
}

// prepare records the identity for a new membership and returns the channel
// generation inbound traffic must carry.
func (m *Manager) prepare(role Role, room RoomID) uint64 {
	m.gen++
	m.role.Store(int32(role))
	m.room.Store(room)
	m.early = nil
	m.hostID = ""
	return m.gen
}

// attach installs ch, announces this client and replays envelopes that
// arrived while dialing.
func (m *Manager) attach(ch Channel, gen uint64) error {
	m.channel = ch
	if err := m.send(signaling.TypeJoin, signaling.JoinData{Role: m.Role().String()}); err != nil {
		m.channel = nil
		return err
	}

	early := m.early
	m.early = nil
	for _, env := range early {
		m.receive(gen, env)
	}
	return nil
}

// abort undoes a failed start. Must not be called on the loop.
func (m *Manager) abort(ch Channel) {
	_ = m.call(func() {
		if m.upstream != nil {
			m.upstream.close()
			m.upstream = nil
		}
		m.channel = nil
		m.early = nil
		m.registry = nil
		if m.track != nil {
			m.track.Release()
			m.track = nil
		}
		m.gen++
		m.role.Store(int32(RoleNone))
		m.room.Store(RoomID(""))
	})
	if ch != nil {
		ch.Close()
	}
}

// ToggleMute enables or disables the local track on every current and future
// session. It returns without waiting.
func (m *Manager) ToggleMute(muted bool) {
	m.post(func() { m.applyMute(muted) })
}

func (m *Manager) applyMute(muted bool) {
	m.muted = muted
	m.mutedFlag.Store(muted)

	if m.registry == nil {
		return
	}
	err := m.registry.Broadcast(func(s *PeerSession) error {
		return s.transport.SetTrackEnabled(!muted)
	})
	if err != nil {
		m.logger.Warn("apply mute", "muted", muted, "err", err)
	}
}

// Stop closes every session, sends one leave and closes the channel. Later
// calls do nothing.
func (m *Manager) Stop() error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.stopped {
		return nil
	}
	m.stopped = true

	var err error
	_ = m.call(func() { err = m.shutdown() })

	close(m.quit)
	<-m.loopDone
	m.dispatch.close()
	return err
}

func (m *Manager) shutdown() error {
	if m.upstream != nil {
		m.disconnect(m.upstream, ErrStopped)
	}
	if m.registry != nil {
		m.registry.Each(func(s *PeerSession) {
			m.disconnect(s, ErrStopped)
		})
	}

	var err error
	if m.channel != nil {
		if sendErr := m.send(signaling.TypeLeave, nil); sendErr != nil {
			m.logger.Warn("send leave", "err", sendErr)
		}
		err = m.channel.Close()
		m.channel = nil
	}

	if m.track != nil {
		m.track.Release()
		m.track = nil
	}
	return err
}

// send publishes an envelope from this client to the room.
func (m *Manager) send(typ string, data any) error {
	if m.channel == nil {
		return channelError("send "+typ, ErrChannelNotOpen)
	}

	env, err := signaling.NewEnvelope(typ, string(m.Room()), string(m.id), data)
	if err != nil {
		return channelError("send "+typ, err)
	}
	if err := m.channel.Send(env); err != nil {
		return channelError("send "+typ, err)
	}
	return nil
}

func (m *Manager) onChannelClosed(gen uint64, err error) {
	if gen != m.gen || m.channel == nil {
		return
	}
	m.channel = nil
	m.logger.Warn("signaling channel closed", "err", err)

	reason := channelError("receive", ErrChannelClosed)
	if m.upstream != nil {
		m.disconnect(m.upstream, reason)
	}
	if m.registry != nil {
		m.registry.Each(func(s *PeerSession) {
			m.disconnect(s, reason)
		})
	}
}

// channelHandler forwards a channel's traffic onto the event loop, tagged
// with the generation it was dialed for.
type channelHandler struct {
	m   *Manager
	gen uint64
}

func (h channelHandler) HandleEnvelope(env *signaling.Envelope) {
	h.m.post(func() { h.m.receive(h.gen, env) })
}

func (h channelHandler) HandleClose(err error) {
	h.m.post(func() { h.m.onChannelClosed(h.gen, err) })
}

func (m *Manager) emit(fn func(Observer)) {
	m.dispatch.emit(fn)
}

func (m *Manager) emitState(peer PeerID, state State) {
	m.emit(func(o Observer) { o.ConnectionStateChanged(peer, state) })
}

func (m *Manager) syncCount() {
	if m.registry == nil {
		return
	}
	n := m.registry.Count()
	if int(m.count.Swap(int32(n))) == n {
		return
	}
	m.emit(func(o Observer) { o.ListenerCountChanged(n) })
}

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/ShareAudio/internal/media"
	"github.com/BioHazard786/ShareAudio/internal/signaling"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeTransport struct {
	dir media.Direction

	mu          sync.Mutex
	remoteDescs []media.SessionDescription
	candidates  []media.ICECandidate
	enabled     []bool
	closed      int
	offers      int
	srdGate     chan struct{}
	offerGate   chan struct{}
	srdErr      error
	addErr      error
	onCandidate func(media.ICECandidate)
	onState     func(media.ConnectionState)
	onTrack     func(media.RemoteTrack)
	onControl   func(media.ControlMessage)
}

func (f *fakeTransport) CreateOffer(ctx context.Context) (media.SessionDescription, error) {
	f.mu.Lock()
	gate := f.offerGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return media.SessionDescription{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers++
	return media.SessionDescription{Type: "offer", SDP: fmt.Sprintf("v=0 offer %d", f.offers)}, nil
}

func (f *fakeTransport) CreateAnswer(ctx context.Context) (media.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return media.SessionDescription{}, err
	}
	return media.SessionDescription{Type: "answer", SDP: "v=0 answer"}, nil
}

func (f *fakeTransport) SetRemoteDescription(ctx context.Context, desc media.SessionDescription) error {
	f.mu.Lock()
	gate, err := f.srdGate, f.srdErr
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteDescs = append(f.remoteDescs, desc)
	return nil
}

func (f *fakeTransport) AddICECandidate(c media.ICECandidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeTransport) OnICECandidate(fn func(media.ICECandidate)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCandidate = fn
}

func (f *fakeTransport) OnConnectionStateChange(fn func(media.ConnectionState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onState = fn
}

func (f *fakeTransport) OnRemoteTrack(fn func(media.RemoteTrack)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onTrack = fn
}

func (f *fakeTransport) OnControl(fn func(media.ControlMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onControl = fn
}

func (f *fakeTransport) AttachLocalTrack(track *media.LocalTrack, enabled bool) error {
	if track == nil {
		return errors.New("nil track")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = append(f.enabled, enabled)
	return nil
}

func (f *fakeTransport) SetTrackEnabled(enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = append(f.enabled, enabled)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeTransport) setState(s media.ConnectionState) {
	f.mu.Lock()
	fn := f.onState
	f.mu.Unlock()
	fn(s)
}

func (f *fakeTransport) emitCandidate(c media.ICECandidate) {
	f.mu.Lock()
	fn := f.onCandidate
	f.mu.Unlock()
	fn(c)
}

func (f *fakeTransport) emitTrack(rt media.RemoteTrack) {
	f.mu.Lock()
	fn := f.onTrack
	f.mu.Unlock()
	fn(rt)
}

func (f *fakeTransport) emitControl(cm media.ControlMessage) {
	f.mu.Lock()
	fn := f.onControl
	f.mu.Unlock()
	fn(cm)
}

func (f *fakeTransport) appliedCandidates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.candidates))
	for _, c := range f.candidates {
		out = append(out, c.Candidate)
	}
	return out
}

func (f *fakeTransport) remoteDescriptions() []media.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]media.SessionDescription(nil), f.remoteDescs...)
}

func (f *fakeTransport) enabledHistory() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.enabled...)
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeFactory struct {
	mu         sync.Mutex
	transports []*fakeTransport
	srdGate    chan struct{}
	offerGate  chan struct{}
	err        error
}

func (f *fakeFactory) NewTransport(dir media.Direction) (media.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	t := &fakeTransport{dir: dir, srdGate: f.srdGate, offerGate: f.offerGate}
	f.transports = append(f.transports, t)
	return t, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transports)
}

func (f *fakeFactory) get(t *testing.T, i int) *fakeTransport {
	t.Helper()
	require.Eventually(t, func() bool { return f.count() > i }, waitFor, tick)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transports[i]
}

type fakeChannel struct {
	mu      sync.Mutex
	sent    []*signaling.Envelope
	closed  int
	handler signaling.Handler
}

func (c *fakeChannel) Send(env *signaling.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed > 0 {
		return &signaling.ChannelError{Op: "send", Err: signaling.ErrChannelNotOpen}
	}
	c.sent = append(c.sent, env)
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeChannel) deliver(env *signaling.Envelope) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	h.HandleEnvelope(env)
}

func (c *fakeChannel) dropConnection(err error) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	h.HandleClose(err)
}

func (c *fakeChannel) sentOfType(typ string) []*signaling.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*signaling.Envelope
	for _, env := range c.sent {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

func (c *fakeChannel) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sent))
	for _, env := range c.sent {
		out = append(out, env.Type)
	}
	return out
}

func (c *fakeChannel) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeDialer struct {
	mu      sync.Mutex
	channel *fakeChannel
	dials   int
	err     error
}

func (d *fakeDialer) Dial(_ context.Context, h signaling.Handler) (Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	d.channel = &fakeChannel{handler: h}
	return d.channel, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type fakeSource struct {
	mu     sync.Mutex
	tracks []*media.LocalTrack
	err    error
}

func (s *fakeSource) Acquire(ctx context.Context) (*media.LocalTrack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	t := media.NewLocalTrack(nil)
	s.tracks = append(s.tracks, t)
	return t, nil
}

type fakeRemoteTrack struct{}

func (fakeRemoteTrack) ID() string    { return "audio" }
func (fakeRemoteTrack) Codec() string { return "audio/opus" }
func (fakeRemoteTrack) ReadRTP() (*rtp.Packet, error) {
	return nil, io.EOF
}

// eventLog records everything an Observer sees.
type eventLog struct {
	mu      sync.Mutex
	states  map[PeerID][]State
	counts  []int
	streams []PeerID
	mutes   []bool
}

func newEventLog() *eventLog {
	return &eventLog{states: make(map[PeerID][]State)}
}

func (l *eventLog) RemoteStreamAvailable(peer PeerID, _ media.RemoteTrack) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.streams = append(l.streams, peer)
}

func (l *eventLog) ConnectionStateChanged(peer PeerID, state State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states[peer] = append(l.states[peer], state)
}

func (l *eventLog) ListenerCountChanged(count int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts = append(l.counts, count)
}

func (l *eventLog) HostMuteChanged(muted bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mutes = append(l.mutes, muted)
}

func (l *eventLog) statesOf(peer PeerID) []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states[peer]...)
}

func (l *eventLog) lastCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.counts) == 0 {
		return -1
	}
	return l.counts[len(l.counts)-1]
}

func (l *eventLog) streamPeers() []PeerID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]PeerID(nil), l.streams...)
}

func (l *eventLog) muteEvents() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool(nil), l.mutes...)
}

func (l *eventLog) reached(peer PeerID, want State) bool {
	for _, s := range l.statesOf(peer) {
		if s == want {
			return true
		}
	}
	return false
}

type harness struct {
	m       *Manager
	factory *fakeFactory
	dialer  *fakeDialer
	source  *fakeSource
	events  *eventLog
	room    RoomID
}

func newHarness(t *testing.T, cfg Config, factory *fakeFactory) *harness {
	t.Helper()
	if factory == nil {
		factory = &fakeFactory{}
	}
	h := &harness{
		factory: factory,
		dialer:  &fakeDialer{},
		source:  &fakeSource{},
		events:  newEventLog(),
	}
	h.m = NewManager(cfg, Dependencies{
		Dialer:     h.dialer,
		Transports: h.factory,
		Tracks:     h.source,
	})
	h.m.SetObserver(h.events)
	t.Cleanup(func() { _ = h.m.Stop() })
	return h
}

// newHost returns a harness already sharing a room.
func newHost(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := newHarness(t, cfg, nil)
	room, err := h.m.StartSharing(context.Background(), "")
	require.NoError(t, err)
	h.room = room
	return h
}

// newListener returns a harness already joined to room ABC123.
func newListener(t *testing.T, cfg Config, factory *fakeFactory) *harness {
	t.Helper()
	h := newHarness(t, cfg, factory)
	h.room = "ABC123"
	require.NoError(t, h.m.JoinRoom(context.Background(), h.room))
	return h
}

func (h *harness) channel() *fakeChannel {
	h.dialer.mu.Lock()
	defer h.dialer.mu.Unlock()
	return h.dialer.channel
}

func (h *harness) deliver(t *testing.T, typ string, sender PeerID, data any) {
	t.Helper()
	env, err := signaling.NewEnvelope(typ, string(h.room), string(sender), data)
	require.NoError(t, err)
	h.channel().deliver(env)
}

func (h *harness) join(t *testing.T, sender PeerID, role string) {
	h.deliver(t, signaling.TypeJoin, sender, signaling.JoinData{Role: role})
}

func (h *harness) offer(t *testing.T, sender PeerID) {
	h.deliver(t, signaling.TypeOffer, sender, signaling.DescriptionData{Type: "offer", SDP: "v=0 from " + string(sender)})
}

func (h *harness) candidate(t *testing.T, sender PeerID, cand string, target PeerID) {
	h.deliver(t, signaling.TypeICECandidate, sender, signaling.CandidateData{Candidate: cand, TargetID: string(target)})
}

func (h *harness) leave(t *testing.T, sender PeerID) {
	h.deliver(t, signaling.TypeLeave, sender, nil)
}

// answersTo returns the answer envelopes sent to target.
func (h *harness) answersTo(target PeerID) int {
	n := 0
	for _, env := range h.channel().sentOfType(signaling.TypeAnswer) {
		d, err := env.Description()
		if err == nil && PeerID(d.TargetID) == target {
			n++
		}
	}
	return n
}

func (h *harness) stateOf(peer PeerID) (State, bool) {
	for _, info := range h.m.Sessions() {
		if info.Peer == peer {
			return info.State, true
		}
	}
	return 0, false
}

package media

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// PionConfig configures transports built by PionFactory.
type PionConfig struct {
	ICEServers []pion.ICEServer
	// RelayOnly restricts ICE to TURN relay candidates.
	RelayOnly bool
	// SettingEngine overrides the default engine, e.g. to run over a virtual
	// network in tests.
	SettingEngine *pion.SettingEngine
}

// PionFactory builds Transports backed by pion PeerConnections.
type PionFactory struct {
	api *pion.API
	cfg PionConfig
}

// NewPionFactory creates a factory with the default codec set.
func NewPionFactory(cfg PionConfig) (*PionFactory, error) {
	mediaEngine := &pion.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, newError("register codecs", err)
	}

	opts := []func(*pion.API){pion.WithMediaEngine(mediaEngine)}
	if cfg.SettingEngine != nil {
		opts = append(opts, pion.WithSettingEngine(*cfg.SettingEngine))
	}

	return &PionFactory{api: pion.NewAPI(opts...), cfg: cfg}, nil
}

// NewTransport creates a PeerConnection set up for dir. Receive transports
// carry a recvonly audio transceiver and open the control data channel.
func (f *PionFactory) NewTransport(dir Direction) (Transport, error) {
	policy := pion.ICETransportPolicyAll
	if f.cfg.RelayOnly {
		policy = pion.ICETransportPolicyRelay
	}

	pc, err := f.api.NewPeerConnection(pion.Configuration{
		ICEServers:         f.cfg.ICEServers,
		ICETransportPolicy: policy,
	})
	if err != nil {
		return nil, newError("create peer connection", err)
	}

	t := &pionTransport{
		pc:      pc,
		dir:     dir,
		enabled: true,
		logger:  slog.With("component", "transport", "direction", dir.String()),
	}

	pc.OnTrack(func(remote *pion.TrackRemote, _ *pion.RTPReceiver) {
		t.mu.Lock()
		fn := t.onTrack
		t.mu.Unlock()
		if fn != nil {
			fn(&pionRemoteTrack{remote: remote})
		}
	})

	switch dir {
	case DirectionReceive:
		if _, err := pc.AddTransceiverFromKind(pion.RTPCodecTypeAudio, pion.RTPTransceiverInit{
			Direction: pion.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			pc.Close()
			return nil, newError("add transceiver", err)
		}

		dc, err := pc.CreateDataChannel(ControlLabel, nil)
		if err != nil {
			pc.Close()
			return nil, newError("create data channel", err)
		}
		t.bindControl(dc)

	case DirectionSend:
		pc.OnDataChannel(func(dc *pion.DataChannel) {
			if dc.Label() != ControlLabel {
				return
			}
			t.bindControl(dc)
			dc.OnOpen(t.announceMute)
		})
	}

	return t, nil
}

type pionTransport struct {
	pc     *pion.PeerConnection
	dir    Direction
	logger *slog.Logger

	mu          sync.Mutex
	enabled     bool
	sink        *pion.TrackLocalStaticSample
	unsubscribe func()
	control     *pion.DataChannel
	onTrack     func(RemoteTrack)
	onControl   func(ControlMessage)
	closed      bool
}

func (t *pionTransport) CreateOffer(ctx context.Context) (SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return SessionDescription{}, err
	}

	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return SessionDescription{}, newError("create offer", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return SessionDescription{}, newError("set local description", err)
	}
	return toDescription(t.pc.LocalDescription()), nil
}

func (t *pionTransport) CreateAnswer(ctx context.Context) (SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return SessionDescription{}, err
	}

	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return SessionDescription{}, newError("create answer", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return SessionDescription{}, newError("set local description", err)
	}
	return toDescription(t.pc.LocalDescription()), nil
}

func (t *pionTransport) SetRemoteDescription(ctx context.Context, desc SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sd := pion.SessionDescription{Type: pion.NewSDPType(desc.Type), SDP: desc.SDP}
	if err := t.pc.SetRemoteDescription(sd); err != nil {
		return newError("set remote description", err)
	}
	return nil
}

func (t *pionTransport) AddICECandidate(c ICECandidate) error {
	err := t.pc.AddICECandidate(pion.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
	if err != nil {
		return newError("add ICE candidate", err)
	}
	return nil
}

func (t *pionTransport) OnICECandidate(fn func(ICECandidate)) {
	t.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			return
		}
		ci := c.ToJSON()
		fn(ICECandidate{
			Candidate:        ci.Candidate,
			SDPMid:           ci.SDPMid,
			SDPMLineIndex:    ci.SDPMLineIndex,
			UsernameFragment: ci.UsernameFragment,
		})
	})
}

func (t *pionTransport) OnConnectionStateChange(fn func(ConnectionState)) {
	t.pc.OnConnectionStateChange(func(s pion.PeerConnectionState) {
		fn(fromPionState(s))
	})
}

func (t *pionTransport) OnRemoteTrack(fn func(RemoteTrack)) {
	t.mu.Lock()
	t.onTrack = fn
	t.mu.Unlock()
}

func (t *pionTransport) OnControl(fn func(ControlMessage)) {
	t.mu.Lock()
	t.onControl = fn
	t.mu.Unlock()
}

func (t *pionTransport) AttachLocalTrack(track *LocalTrack, enabled bool) error {
	sink, err := pion.NewTrackLocalStaticSample(pion.RTPCodecCapability{
		MimeType:  pion.MimeTypeOpus,
		ClockRate: OpusClockRate,
		Channels:  OpusChannels,
	}, "audio", "shareaudio-"+uuid.NewString())
	if err != nil {
		return newError("create local track", err)
	}

	sender, err := t.pc.AddTrack(sink)
	if err != nil {
		return newError("add track", err)
	}

	// RTCP must be drained for interceptors to run.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return newError("attach track", ErrTransportClosed)
	}
	t.sink = sink
	t.enabled = enabled
	t.unsubscribe = track.Subscribe(t.forward)
	return nil
}

// forward writes a published sample to this transport's sender, replacing the
// payload with silence while disabled.
func (t *pionTransport) forward(s pionmedia.Sample) {
	t.mu.Lock()
	sink, enabled := t.sink, t.enabled
	t.mu.Unlock()

	if sink == nil {
		return
	}
	if !enabled {
		s = pionmedia.Sample{Data: opusSilence, Duration: s.Duration}
	}
	if err := sink.WriteSample(s); err != nil {
		t.logger.Debug("write sample", "err", err)
	}
}

func (t *pionTransport) SetTrackEnabled(enabled bool) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return newError("set track enabled", ErrTransportClosed)
	}
	t.enabled = enabled
	t.mu.Unlock()

	t.announceMute()
	return nil
}

// announceMute tells the listener the current mute state over the control
// channel, if it is open.
func (t *pionTransport) announceMute() {
	t.mu.Lock()
	dc, muted := t.control, !t.enabled
	t.mu.Unlock()

	if dc == nil || dc.ReadyState() != pion.DataChannelStateOpen {
		return
	}

	msg, err := NewControlMessage(ControlMute, MutePayload{Muted: muted})
	if err != nil {
		t.logger.Error("encode mute", "err", err)
		return
	}
	data, err := EncodeControl(msg)
	if err != nil {
		t.logger.Error("encode control", "err", err)
		return
	}
	if err := dc.Send(data); err != nil {
		t.logger.Debug("send control", "err", err)
	}
}

func (t *pionTransport) bindControl(dc *pion.DataChannel) {
	t.mu.Lock()
	t.control = dc
	t.mu.Unlock()

	dc.OnMessage(func(msg pion.DataChannelMessage) {
		cm, err := DecodeControl(msg.Data)
		if err != nil {
			t.logger.Warn("dropping control frame", "err", err)
			return
		}

		t.mu.Lock()
		fn := t.onControl
		t.mu.Unlock()
		if fn != nil {
			fn(cm)
		}
	})
}

func (t *pionTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	unsubscribe := t.unsubscribe
	t.sink = nil
	t.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if err := t.pc.Close(); err != nil {
		return newError("close peer connection", err)
	}
	return nil
}

type pionRemoteTrack struct {
	remote *pion.TrackRemote
}

func (r *pionRemoteTrack) ID() string {
	return r.remote.ID()
}

func (r *pionRemoteTrack) Codec() string {
	return r.remote.Codec().MimeType
}

func (r *pionRemoteTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := r.remote.ReadRTP()
	return pkt, err
}

func toDescription(sd *pion.SessionDescription) SessionDescription {
	if sd == nil {
		return SessionDescription{}
	}
	return SessionDescription{Type: sd.Type.String(), SDP: sd.SDP}
}

func fromPionState(s pion.PeerConnectionState) ConnectionState {
	switch s {
	case pion.PeerConnectionStateConnecting:
		return ConnectionStateConnecting
	case pion.PeerConnectionStateConnected:
		return ConnectionStateConnected
	case pion.PeerConnectionStateDisconnected:
		return ConnectionStateDisconnected
	case pion.PeerConnectionStateFailed:
		return ConnectionStateFailed
	case pion.PeerConnectionStateClosed:
		return ConnectionStateClosed
	default:
		return ConnectionStateNew
	}
}

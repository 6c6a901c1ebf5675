package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/rtp"
)

// Direction selects which side of the audio stream a transport carries.
type Direction int

const (
	// DirectionSend is used by the host: it attaches the local track and answers.
	DirectionSend Direction = iota
	// DirectionReceive is used by listeners: it receives audio and offers.
	DirectionReceive
)

func (d Direction) String() string {
	switch d {
	case DirectionSend:
		return "send"
	case DirectionReceive:
		return "receive"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// ConnectionState is the transport-reported connectivity of a session.
type ConnectionState int

const (
	ConnectionStateNew ConnectionState = iota
	ConnectionStateConnecting
	ConnectionStateConnected
	ConnectionStateDisconnected
	ConnectionStateFailed
	ConnectionStateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionStateNew:
		return "new"
	case ConnectionStateConnecting:
		return "connecting"
	case ConnectionStateConnected:
		return "connected"
	case ConnectionStateDisconnected:
		return "disconnected"
	case ConnectionStateFailed:
		return "failed"
	case ConnectionStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionDescription is an offer or answer.
type SessionDescription struct {
	Type string // "offer" or "answer"
	SDP  string
}

// ICECandidate is one trickled connectivity candidate.
type ICECandidate struct {
	Candidate        string
	SDPMid           *string
	SDPMLineIndex    *uint16
	UsernameFragment *string
}

// RemoteTrack is an inbound audio track.
type RemoteTrack interface {
	ID() string
	Codec() string
	ReadRTP() (*rtp.Packet, error)
}

// Transport is one negotiated media connection between two endpoints. The
// caller drives the handshake; the transport reports what it observes through
// the registered callbacks. Callbacks must be registered before negotiation
// starts.
type Transport interface {
	// CreateOffer creates an offer and applies it as the local description.
	CreateOffer(ctx context.Context) (SessionDescription, error)
	// CreateAnswer creates an answer and applies it as the local description.
	CreateAnswer(ctx context.Context) (SessionDescription, error)
	SetRemoteDescription(ctx context.Context, desc SessionDescription) error
	AddICECandidate(c ICECandidate) error

	OnICECandidate(fn func(ICECandidate))
	OnConnectionStateChange(fn func(ConnectionState))
	OnRemoteTrack(fn func(RemoteTrack))
	OnControl(fn func(ControlMessage))

	// AttachLocalTrack starts forwarding the shared track. A disabled
	// transport forwards silence in place of audio.
	AttachLocalTrack(track *LocalTrack, enabled bool) error
	SetTrackEnabled(enabled bool) error

	Close() error
}

// Factory builds transports.
type Factory interface {
	NewTransport(dir Direction) (Transport, error)
}

// ErrTransportClosed is returned by operations on a closed transport.
var ErrTransportClosed = errors.New("transport closed")

// Error describes a failed transport operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

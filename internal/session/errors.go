package session

import (
	"errors"
	"fmt"

	"github.com/BioHazard786/ShareAudio/internal/signaling"
)

var (
	ErrChannelClosed      = signaling.ErrChannelClosed
	ErrChannelNotOpen     = signaling.ErrChannelNotOpen
	ErrMalformedEnvelope  = signaling.ErrMalformedEnvelope
	ErrUnexpectedSender   = errors.New("unexpected sender")
	ErrOutOfOrder         = errors.New("out-of-order message")
	ErrAlreadyActive      = errors.New("manager already active")
	ErrStopped            = errors.New("manager stopped")
	ErrInvalidRoomID      = errors.New("invalid room id")
	ErrNegotiationTimeout = errors.New("negotiation timed out")
	ErrBufferFull         = errors.New("candidate buffer full")
	ErrNotAddressed       = errors.New("envelope not addressed to this peer")
)

// Kind classifies an Error.
type Kind int

const (
	// KindChannel: the signaling transport is unavailable or closed.
	KindChannel Kind = iota + 1
	// KindProtocol: unexpected sender, malformed payload or out-of-order message.
	KindProtocol
	// KindNegotiation: the media stack rejected a description or candidate.
	KindNegotiation
	// KindResource: a local resource such as the audio track was unavailable.
	KindResource
)

func (k Kind) String() string {
	switch k {
	case KindChannel:
		return "channel"
	case KindProtocol:
		return "protocol"
	case KindNegotiation:
		return "negotiation"
	case KindResource:
		return "resource"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind    Kind
	Op      string
	Peer    PeerID
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func channelError(op string, err error) *Error {
	return &Error{Kind: KindChannel, Op: op, Err: err}
}

func protocolError(op string, peer PeerID, err error, details string) *Error {
	return &Error{Kind: KindProtocol, Op: op, Peer: peer, Err: err, Details: details}
}

func negotiationError(op string, peer PeerID, err error) *Error {
	return &Error{Kind: KindNegotiation, Op: op, Peer: peer, Err: err}
}

func resourceError(op string, err error) *Error {
	return &Error{Kind: KindResource, Op: op, Err: err}
}

func isKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

func IsChannelError(err error) bool {
	if isKind(err, KindChannel) {
		return true
	}
	var ce *signaling.ChannelError
	return errors.As(err, &ce)
}

func IsProtocolError(err error) bool    { return isKind(err, KindProtocol) }
func IsNegotiationError(err error) bool { return isKind(err, KindNegotiation) }
func IsResourceError(err error) bool    { return isKind(err, KindResource) }

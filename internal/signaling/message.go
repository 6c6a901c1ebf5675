package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope is the unit exchanged with the relay. The relay forwards it verbatim
// to every other member of RoomID.
type Envelope struct {
	Type     string          `json:"type"`
	RoomID   string          `json:"roomId"`
	SenderID string          `json:"senderId"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Envelope type constants.
const (
	TypeJoin         = "join"
	TypeLeave        = "leave"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
)

// ErrMalformedEnvelope is returned by ParseEnvelope and the payload decoders.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// JoinData is the payload of a join envelope.
type JoinData struct {
	Role string `json:"role"`
}

// DescriptionData carries an offer or answer. TargetID addresses a single
// member; the relay fans out to everyone, so receivers filter on it.
type DescriptionData struct {
	Type     string `json:"type"`
	SDP      string `json:"sdp"`
	TargetID string `json:"targetId,omitempty"`
}

// CandidateData carries one trickled ICE candidate.
type CandidateData struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
	TargetID         string  `json:"targetId,omitempty"`
}

// NewEnvelope builds an envelope, marshalling data when it is non-nil.
func NewEnvelope(typ, roomID, senderID string, data any) (*Envelope, error) {
	env := &Envelope{Type: typ, RoomID: roomID, SenderID: senderID}
	if data == nil {
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s data: %w", typ, err)
	}
	env.Data = raw
	return env, nil
}

// MarshalFrame encodes the envelope as a websocket text frame.
func (e *Envelope) MarshalFrame() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEnvelope decodes and validates a frame received from the relay.
func ParseEnvelope(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// Validate checks the header fields and that the payload is present exactly
// when the type requires one.
func (e *Envelope) Validate() error {
	if e.RoomID == "" {
		return fmt.Errorf("%w: missing roomId", ErrMalformedEnvelope)
	}
	if e.SenderID == "" {
		return fmt.Errorf("%w: missing senderId", ErrMalformedEnvelope)
	}

	switch e.Type {
	case TypeLeave:
		if e.hasData() {
			return fmt.Errorf("%w: leave must not carry data", ErrMalformedEnvelope)
		}
	case TypeJoin, TypeOffer, TypeAnswer, TypeICECandidate:
		if !e.hasData() {
			return fmt.Errorf("%w: %s missing data", ErrMalformedEnvelope, e.Type)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedEnvelope, e.Type)
	}
	return nil
}

func (e *Envelope) hasData() bool {
	d := bytes.TrimSpace(e.Data)
	return len(d) > 0 && !bytes.Equal(d, []byte("null"))
}

// Join decodes the payload of a join envelope.
func (e *Envelope) Join() (JoinData, error) {
	var d JoinData
	if err := e.decode(TypeJoin, &d); err != nil {
		return d, err
	}
	if d.Role == "" {
		return d, fmt.Errorf("%w: join missing role", ErrMalformedEnvelope)
	}
	return d, nil
}

// Description decodes the payload of an offer or answer envelope.
func (e *Envelope) Description() (DescriptionData, error) {
	var d DescriptionData
	if e.Type != TypeOffer && e.Type != TypeAnswer {
		return d, fmt.Errorf("%w: %s carries no session description", ErrMalformedEnvelope, e.Type)
	}
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return d, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if d.Type != e.Type {
		return d, fmt.Errorf("%w: %s envelope has sdp type %q", ErrMalformedEnvelope, e.Type, d.Type)
	}
	if d.SDP == "" {
		return d, fmt.Errorf("%w: empty sdp", ErrMalformedEnvelope)
	}
	return d, nil
}

// Candidate decodes the payload of an ice-candidate envelope.
func (e *Envelope) Candidate() (CandidateData, error) {
	var d CandidateData
	if err := e.decode(TypeICECandidate, &d); err != nil {
		return d, err
	}
	if d.Candidate == "" {
		return d, fmt.Errorf("%w: empty candidate", ErrMalformedEnvelope)
	}
	return d, nil
}

func (e *Envelope) decode(want string, v any) error {
	if e.Type != want {
		return fmt.Errorf("%w: expected %s, got %s", ErrMalformedEnvelope, want, e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return nil
}

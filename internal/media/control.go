package media

import "github.com/vmihailenco/msgpack/v5"

// ControlLabel is the data channel listeners open for host notifications.
const ControlLabel = "control"

// Control message types.
const (
	ControlMute = "mute"
)

// ControlMessage is exchanged over the control data channel.
type ControlMessage struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// MutePayload announces the host's mute state.
type MutePayload struct {
	Muted bool `msgpack:"muted"`
}

// DecodePayload decodes the message payload into v.
func (m ControlMessage) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

// NewControlMessage creates a ControlMessage with the given type and payload.
func NewControlMessage(t string, payload any) (ControlMessage, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return ControlMessage{}, err
	}

	return ControlMessage{
		Type:    t,
		Payload: b,
	}, nil
}

// EncodeControl serializes m for the wire.
func EncodeControl(m ControlMessage) ([]byte, error) {
	return msgpack.Marshal(m)
}

// DecodeControl parses a control frame.
func DecodeControl(data []byte) (ControlMessage, error) {
	var m ControlMessage
	err := msgpack.Unmarshal(data, &m)
	return m, err
}

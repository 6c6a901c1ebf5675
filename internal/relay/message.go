package relay

import "github.com/BioHazard786/ShareAudio/internal/signaling"

// inbound is one envelope read from a client, kept together with the exact
// frame so it can be forwarded untouched.
type inbound struct {
	client *Client
	env    *signaling.Envelope
	raw    []byte
}

// Reasons an envelope is not forwarded, used as the "reason" metric label.
const (
	dropMalformed = "malformed"
	dropNotJoined = "not_joined"
	dropSlow      = "slow_consumer"
)

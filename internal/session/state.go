package session

// State is the lifecycle position of a PeerSession.
type State int

const (
	StateNew State = iota
	StateNegotiating
	StateConnected
	StateDisconnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var transitions = map[State][]State{
	StateNew:          {StateNegotiating, StateDisconnected, StateClosed},
	StateNegotiating:  {StateConnected, StateDisconnected, StateClosed},
	StateConnected:    {StateDisconnected, StateClosed},
	StateDisconnected: {StateClosed},
}

// CanTransition reports whether moving from s to next is allowed.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Live reports whether a session in s still counts as a room member.
func (s State) Live() bool {
	return s != StateDisconnected && s != StateClosed
}

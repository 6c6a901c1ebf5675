package signaling

// Handler receives everything a Client reads from the relay.
type Handler interface {
	// HandleEnvelope is called for every well-formed inbound envelope, in
	// arrival order, from the client's read goroutine.
	HandleEnvelope(env *Envelope)

	// HandleClose is called exactly once when the connection ends. err is nil
	// when the close was requested locally.
	HandleClose(err error)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are ignored.
type HandlerFuncs struct {
	OnEnvelope func(env *Envelope)
	OnClose    func(err error)
}

func (h HandlerFuncs) HandleEnvelope(env *Envelope) {
	if h.OnEnvelope != nil {
		h.OnEnvelope(env)
	}
}

func (h HandlerFuncs) HandleClose(err error) {
	if h.OnClose != nil {
		h.OnClose(err)
	}
}

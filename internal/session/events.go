package session

import (
	"sync"

	"github.com/BioHazard786/ShareAudio/internal/media"
)

// Observer receives lifecycle events from a Manager. Calls are made in order
// from a single goroutine that is not the event loop, so an observer may call
// back into the manager, including Stop.
type Observer interface {
	RemoteStreamAvailable(peer PeerID, track media.RemoteTrack)
	ConnectionStateChanged(peer PeerID, state State)
	ListenerCountChanged(count int)
	HostMuteChanged(muted bool)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are ignored.
type ObserverFuncs struct {
	OnRemoteStream    func(peer PeerID, track media.RemoteTrack)
	OnConnectionState func(peer PeerID, state State)
	OnListenerCount   func(count int)
	OnHostMute        func(muted bool)
}

func (o ObserverFuncs) RemoteStreamAvailable(peer PeerID, track media.RemoteTrack) {
	if o.OnRemoteStream != nil {
		o.OnRemoteStream(peer, track)
	}
}

func (o ObserverFuncs) ConnectionStateChanged(peer PeerID, state State) {
	if o.OnConnectionState != nil {
		o.OnConnectionState(peer, state)
	}
}

func (o ObserverFuncs) ListenerCountChanged(count int) {
	if o.OnListenerCount != nil {
		o.OnListenerCount(count)
	}
}

func (o ObserverFuncs) HostMuteChanged(muted bool) {
	if o.OnHostMute != nil {
		o.OnHostMute(muted)
	}
}

// Observers fans every event out to each non-nil observer in order.
type Observers []Observer

func (obs Observers) RemoteStreamAvailable(peer PeerID, track media.RemoteTrack) {
	for _, o := range obs {
		if o != nil {
			o.RemoteStreamAvailable(peer, track)
		}
	}
}

func (obs Observers) ConnectionStateChanged(peer PeerID, state State) {
	for _, o := range obs {
		if o != nil {
			o.ConnectionStateChanged(peer, state)
		}
	}
}

func (obs Observers) ListenerCountChanged(count int) {
	for _, o := range obs {
		if o != nil {
			o.ListenerCountChanged(count)
		}
	}
}

func (obs Observers) HostMuteChanged(muted bool) {
	for _, o := range obs {
		if o != nil {
			o.HostMuteChanged(muted)
		}
	}
}

// dispatcher delivers events in order on its own goroutine. The queue is
// unbounded so the event loop never waits on a slow observer.
type dispatcher struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []func(Observer)
	observer Observer
	closed   bool
}

func newDispatcher() *dispatcher {
	d := &dispatcher{}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

// setObserver replaces the active observer. Events already queued go to
// whichever observer is active when they are delivered.
func (d *dispatcher) setObserver(o Observer) {
	d.mu.Lock()
	d.observer = o
	d.mu.Unlock()
}

func (d *dispatcher) emit(fn func(Observer)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.queue = append(d.queue, fn)
	d.cond.Signal()
}

// close stops accepting events. Queued events are still delivered.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.cond.Signal()
	d.mu.Unlock()
}

func (d *dispatcher) run() {
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 && d.closed {
			d.mu.Unlock()
			return
		}
		fn := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		o := d.observer
		d.mu.Unlock()

		if o != nil {
			fn(o)
		}
	}
}

package session

import (
	"errors"
	"sort"
)

// Registry maps remote peers to their sessions on the host. It is not safe
// for concurrent use; the manager's event loop owns it.
type Registry struct {
	sessions map[PeerID]*PeerSession
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[PeerID]*PeerSession)}
}

// Add registers s under its remote peer. A session already registered for
// that peer is closed and returned so the caller can report it.
func (r *Registry) Add(s *PeerSession) *PeerSession {
	old := r.sessions[s.remote]
	if old == s {
		return nil
	}
	if old != nil {
		old.close()
	}
	r.sessions[s.remote] = s
	return old
}

// Remove drops the session for id, if any.
func (r *Registry) Remove(id PeerID) *PeerSession {
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	delete(r.sessions, id)
	return s
}

func (r *Registry) Get(id PeerID) *PeerSession {
	return r.sessions[id]
}

func (r *Registry) Count() int {
	return len(r.sessions)
}

// Each calls fn for every session, oldest first.
func (r *Registry) Each(fn func(*PeerSession)) {
	for _, s := range r.snapshot() {
		fn(s)
	}
}

// Broadcast applies fn to every session and joins the errors.
func (r *Registry) Broadcast(fn func(*PeerSession) error) error {
	var errs []error
	for _, s := range r.snapshot() {
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) snapshot() []*PeerSession {
	out := make([]*PeerSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

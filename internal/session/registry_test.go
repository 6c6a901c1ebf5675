package session

import (
	"errors"
	"fmt"
	"testing"

	"github.com/BioHazard786/ShareAudio/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAddReplaces(t *testing.T) {
	r := NewRegistry()
	t1, t2 := &fakeTransport{}, &fakeTransport{}
	first := newPeerSession("a", RoleHost, 1, t1)
	second := newPeerSession("a", RoleHost, 2, t2)

	assert.Nil(t, r.Add(first))
	assert.Nil(t, r.Add(first))
	assert.Same(t, first, r.Add(second))

	assert.Equal(t, 1, r.Count())
	assert.Same(t, second, r.Get("a"))
	assert.Equal(t, StateClosed, first.State())
	assert.Equal(t, 1, t1.closeCount())
	assert.Zero(t, t2.closeCount())

	assert.Same(t, second, r.Remove("a"))
	assert.Nil(t, r.Remove("a"))
	assert.Zero(t, r.Count())
}

func TestRegistryEachIsOrdered(t *testing.T) {
	r := NewRegistry()
	for i := 10; i > 0; i-- {
		r.Add(newPeerSession(PeerID(fmt.Sprintf("peer-%d", i)), RoleHost, uint64(i), &fakeTransport{}))
	}

	var seqs []uint64
	r.Each(func(s *PeerSession) {
		seqs = append(seqs, s.Seq())
		// removal while iterating is allowed
		r.Remove(s.Remote())
	})
	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, seqs)
	assert.Zero(t, r.Count())
}

func TestRegistryBroadcastJoinsErrors(t *testing.T) {
	r := NewRegistry()
	r.Add(newPeerSession("a", RoleHost, 1, &fakeTransport{}))
	r.Add(newPeerSession("b", RoleHost, 2, &fakeTransport{}))
	r.Add(newPeerSession("c", RoleHost, 3, &fakeTransport{}))

	errA := errors.New("a failed")
	errC := errors.New("c failed")
	var visited []PeerID
	err := r.Broadcast(func(s *PeerSession) error {
		visited = append(visited, s.Remote())
		switch s.Remote() {
		case "a":
			return errA
		case "c":
			return errC
		}
		return nil
	})

	assert.Equal(t, []PeerID{"a", "b", "c"}, visited)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errC)

	assert.NoError(t, r.Broadcast(func(*PeerSession) error { return nil }))
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateNew, StateNegotiating, true},
		{StateNew, StateConnected, false},
		{StateNegotiating, StateConnected, true},
		{StateNegotiating, StateNew, false},
		{StateConnected, StateDisconnected, true},
		{StateConnected, StateNegotiating, false},
		{StateDisconnected, StateClosed, true},
		{StateDisconnected, StateConnected, false},
		{StateClosed, StateNew, false},
		{StateClosed, StateClosed, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
		})
	}

	assert.True(t, StateConnected.Live())
	assert.False(t, StateDisconnected.Live())
	assert.False(t, StateClosed.Live())
}

func TestPeerSessionCandidateBuffer(t *testing.T) {
	s := newPeerSession("a", RoleHost, 1, &fakeTransport{})

	for i := 0; i < MaxBufferedCandidates; i++ {
		require.NoError(t, s.bufferCandidate(media.ICECandidate{Candidate: fmt.Sprint(i)}))
	}
	assert.ErrorIs(t, s.bufferCandidate(media.ICECandidate{Candidate: "overflow"}), ErrBufferFull)

	pending := s.takePending()
	require.Len(t, pending, MaxBufferedCandidates)
	assert.Equal(t, "0", pending[0].Candidate)
	assert.Equal(t, fmt.Sprint(MaxBufferedCandidates-1), pending[len(pending)-1].Candidate)
	assert.Empty(t, s.takePending())
}

func TestPeerSessionClose(t *testing.T) {
	tr := &fakeTransport{}
	s := newPeerSession("a", RoleHost, 1, tr)
	require.NoError(t, s.transition(StateNegotiating))
	assert.ErrorIs(t, s.transition(StateNew), ErrOutOfOrder)

	assert.True(t, s.close())
	assert.False(t, s.close())
	assert.Equal(t, 1, tr.closeCount())
	assert.Error(t, s.ctx.Err())
	assert.Equal(t, StateClosed, s.info().State)
}

func TestObserversFanOut(t *testing.T) {
	var got []string
	record := func(tag string) Observer {
		return ObserverFuncs{
			OnListenerCount: func(n int) { got = append(got, fmt.Sprintf("%s:%d", tag, n)) },
			OnHostMute:      func(m bool) { got = append(got, fmt.Sprintf("%s:%v", tag, m)) },
		}
	}

	obs := Observers{record("a"), nil, record("b")}
	obs.ListenerCountChanged(3)
	obs.HostMuteChanged(true)
	obs.ConnectionStateChanged("p", StateNew)
	obs.RemoteStreamAvailable("p", nil)

	assert.Equal(t, []string{"a:3", "b:3", "a:true", "b:true"}, got)
}

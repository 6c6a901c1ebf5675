package signaling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRelay accepts one websocket connection and exposes it to the test.
type fakeRelay struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	r := &fakeRelay{conns: make(chan *websocket.Conn, 1)}
	upgrader := websocket.Upgrader{}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		r.conns <- conn
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *fakeRelay) url() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http") + "/ws"
}

func (r *fakeRelay) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-r.conns:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("relay never saw a connection")
		return nil
	}
}

type recorder struct {
	mu        sync.Mutex
	envelopes []*Envelope
	closes    []error
}

func (r *recorder) HandleEnvelope(env *Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envelopes = append(r.envelopes, env)
}

func (r *recorder) HandleClose(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes = append(r.closes, err)
}

func (r *recorder) snapshot() ([]*Envelope, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Envelope(nil), r.envelopes...), append([]error(nil), r.closes...)
}

func TestClientDeliversInOrderAndDropsMalformed(t *testing.T) {
	relay := newFakeRelay(t)
	rec := &recorder{}

	client, err := Dial(context.Background(), relay.url(), rec)
	require.NoError(t, err)
	defer client.Close()

	conn := relay.accept(t)
	frames := []string{
		`{"type":"join","roomId":"R00001","senderId":"a","data":{"role":"listener"}}`,
		`garbage`,
		`{"type":"offer","roomId":"R00001","senderId":"a","data":{"type":"offer","sdp":"v=0"}}`,
		`{"type":"leave","roomId":"R00001","senderId":"a"}`,
	}
	for _, f := range frames {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(f)))
	}

	require.Eventually(t, func() bool {
		envs, _ := rec.snapshot()
		return len(envs) == 3
	}, 2*time.Second, 10*time.Millisecond)

	envs, _ := rec.snapshot()
	assert.Equal(t, TypeJoin, envs[0].Type)
	assert.Equal(t, TypeOffer, envs[1].Type)
	assert.Equal(t, TypeLeave, envs[2].Type)
}

func TestClientSend(t *testing.T) {
	relay := newFakeRelay(t)
	client, err := Dial(context.Background(), relay.url(), &recorder{})
	require.NoError(t, err)
	defer client.Close()

	conn := relay.accept(t)

	env, err := NewEnvelope(TypeJoin, "R00001", "me", JoinData{Role: "listener"})
	require.NoError(t, err)
	require.NoError(t, client.Send(env))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"join","roomId":"R00001","senderId":"me","data":{"role":"listener"}}`, string(frame))
}

func TestClientRemoteCloseReportedOnce(t *testing.T) {
	relay := newFakeRelay(t)
	rec := &recorder{}
	client, err := Dial(context.Background(), relay.url(), rec)
	require.NoError(t, err)

	conn := relay.accept(t)
	conn.Close()

	require.Eventually(t, func() bool {
		_, closes := rec.snapshot()
		return len(closes) == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, closes := rec.snapshot()
	assert.ErrorIs(t, closes[0], ErrChannelClosed)

	env, err := NewEnvelope(TypeLeave, "R00001", "me", nil)
	require.NoError(t, err)
	err = client.Send(env)
	assert.ErrorIs(t, err, ErrChannelNotOpen)

	var chErr *ChannelError
	require.ErrorAs(t, err, &chErr)
	assert.Equal(t, "send", chErr.Op)

	require.NoError(t, client.Close())
	time.Sleep(50 * time.Millisecond)
	_, closes = rec.snapshot()
	assert.Len(t, closes, 1)
}

func TestClientLocalCloseFlushesQueuedFrames(t *testing.T) {
	relay := newFakeRelay(t)
	rec := &recorder{}
	client, err := Dial(context.Background(), relay.url(), rec)
	require.NoError(t, err)

	conn := relay.accept(t)

	env, err := NewEnvelope(TypeLeave, "R00001", "me", nil)
	require.NoError(t, err)
	require.NoError(t, client.Send(env))
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(frame), `"leave"`)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))

	require.Eventually(t, func() bool {
		_, closes := rec.snapshot()
		return len(closes) == 1
	}, 2*time.Second, 10*time.Millisecond)
	_, closes := rec.snapshot()
	assert.NoError(t, closes[0])
}

func TestDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := Dial(ctx, "ws://127.0.0.1:1/ws", &recorder{})
	var chErr *ChannelError
	require.ErrorAs(t, err, &chErr)
	assert.Equal(t, "dial", chErr.Op)
}

func TestClientSendRacingCloseNeverLosesAcceptedFrames(t *testing.T) {
	relay := newFakeRelay(t)
	client, err := Dial(context.Background(), relay.url(), &recorder{})
	require.NoError(t, err)
	conn := relay.accept(t)

	env, err := NewEnvelope(TypeICECandidate, "R00001", "me", CandidateData{Candidate: "c"})
	require.NoError(t, err)

	const senders = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	start := make(chan struct{})
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if client.Send(env) == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, client.Send(env), ErrChannelNotOpen)
			}
		}()
	}
	close(start)
	require.NoError(t, client.Close())
	wg.Wait()

	received := 0
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected read error: %v", err)
			break
		}
		received++
	}
	assert.Equal(t, accepted, received)
}

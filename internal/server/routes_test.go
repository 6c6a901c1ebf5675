package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/ShareAudio/internal/relay"
	"github.com/BioHazard786/ShareAudio/internal/signaling"
)

type inbox struct {
	mu        sync.Mutex
	envelopes []*signaling.Envelope
}

func (b *inbox) HandleEnvelope(env *signaling.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.envelopes = append(b.envelopes, env)
}

func (b *inbox) HandleClose(error) {}

func (b *inbox) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, env := range b.envelopes {
		out = append(out, env.Type+":"+env.SenderID)
	}
	return out
}

func newRelayServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	reg := prometheus.NewRegistry()
	hub := relay.NewHub(relay.NewMetrics(reg))
	go hub.Run()

	srv := httptest.NewServer(NewRouter(hub, reg))
	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
	})
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) (*signaling.Client, *inbox) {
	t.Helper()
	in := &inbox{}
	c, err := signaling.Dial(context.Background(), url, in)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, in
}

func mustSend(t *testing.T, c *signaling.Client, typ, room, sender string, data any) {
	t.Helper()
	env, err := signaling.NewEnvelope(typ, room, sender, data)
	require.NoError(t, err)
	require.NoError(t, c.Send(env))
}

func get(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestHealth(t *testing.T) {
	srv, _ := newRelayServer(t)
	assert.Contains(t, get(t, srv.URL+"/health"), "healthy")
}

func TestRelayRoundTrip(t *testing.T) {
	srv, url := newRelayServer(t)

	host, hostIn := dial(t, url)
	listener, listenerIn := dial(t, url)

	mustSend(t, host, signaling.TypeJoin, "ROOM01", "host", signaling.JoinData{Role: "host"})
	require.Eventually(t, func() bool {
		return strings.Contains(get(t, srv.URL+"/metrics"), "shareaudio_relay_members 1")
	}, 2*time.Second, 10*time.Millisecond)

	mustSend(t, listener, signaling.TypeJoin, "ROOM01", "l1", signaling.JoinData{Role: "listener"})
	mustSend(t, listener, signaling.TypeOffer, "ROOM01", "l1", signaling.DescriptionData{Type: "offer", SDP: "v=0"})

	require.Eventually(t, func() bool { return len(hostIn.types()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"join:l1", "offer:l1"}, hostIn.types())

	mustSend(t, host, signaling.TypeAnswer, "ROOM01", "host", signaling.DescriptionData{Type: "answer", SDP: "v=0", TargetID: "l1"})
	require.Eventually(t, func() bool { return len(listenerIn.types()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"answer:host"}, listenerIn.types())

	metrics := get(t, srv.URL+"/metrics")
	assert.Contains(t, metrics, "shareaudio_relay_rooms 1")
	assert.Contains(t, metrics, `shareaudio_relay_envelopes_forwarded_total{type="offer"} 1`)

	require.NoError(t, listener.Close())
	require.Eventually(t, func() bool {
		return strings.Contains(get(t, srv.URL+"/metrics"), "shareaudio_relay_members 1")
	}, 2*time.Second, 10*time.Millisecond)
}

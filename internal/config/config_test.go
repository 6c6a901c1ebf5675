package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range envKeys {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, DefaultDomain, cfg.Domain)
	assert.Equal(t, "wss://"+DefaultDomain+"/ws", cfg.WebSocketURL)
	assert.Equal(t, DefaultSTUN, cfg.STUNServer)
	assert.Equal(t, DefaultNegotiationTimeout, cfg.NegotiationTimeout)
	assert.Equal(t, DefaultDisconnectGrace, cfg.DisconnectGrace)
	assert.Equal(t, DefaultRelayAddr, cfg.RelayAddr)
	assert.False(t, cfg.ForceRelay)
	assert.Equal(t, "https://"+DefaultDomain+"/r/ABC123", cfg.GetRoomLink("ABC123"))
}

func TestLoadPriority(t *testing.T) {
	clearEnv(t)

	file := filepath.Join(t.TempDir(), "shareaudio.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
domain: file.example
stun_server: stun:file.example:3478
negotiation_timeout: 12s
relay_addr: ":9000"
`), 0o644))

	t.Setenv("DOMAIN", "env.example")
	t.Setenv("DISCONNECT_GRACE", "2s")

	cfg, err := Load(Options{ConfigFile: file, STUNServer: "stun:flag.example:3478"})
	require.NoError(t, err)

	assert.Equal(t, "env.example", cfg.Domain)
	assert.Equal(t, "stun:flag.example:3478", cfg.STUNServer)
	assert.Equal(t, 12*time.Second, cfg.NegotiationTimeout)
	assert.Equal(t, 2*time.Second, cfg.DisconnectGrace)
	assert.Equal(t, ":9000", cfg.RelayAddr)

	cfg, err = Load(Options{ConfigFile: file, Domain: "flag.example"})
	require.NoError(t, err)
	assert.Equal(t, "flag.example", cfg.Domain)
}

func TestLoadSignalingURLOverride(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(Options{SignalingURL: "ws://127.0.0.1:8080/ws"})
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:8080/ws", cfg.WebSocketURL)
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)

	_, err := Load(Options{ConfigFile: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)

	t.Setenv("NEGOTIATION_TIMEOUT", "0s")
	_, err = Load(Options{})
	assert.Error(t, err)
}

func TestICEServers(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(Options{TURNServer: "turn:relay.example", TURNUser: "u", TURNPass: "p"})
	require.NoError(t, err)

	servers := cfg.ICEServers()
	require.Len(t, servers, 2)
	assert.Equal(t, []string{DefaultSTUN}, servers[0].URLs)
	assert.Equal(t, []string{
		"turn:relay.example:3478?transport=udp",
		"turn:relay.example:3478?transport=tcp",
		"turns:relay.example:5349?transport=tcp",
	}, servers[1].URLs)
	assert.Equal(t, "u", servers[1].Username)
	assert.Equal(t, "p", servers[1].Credential)

	cfg.ForceRelay = true
	assert.True(t, cfg.RelayOnly())

	cfg.TURNServer = ""
	assert.False(t, cfg.RelayOnly())
	assert.Len(t, cfg.ICEServers(), 1)
}

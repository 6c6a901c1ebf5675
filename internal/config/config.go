package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BioHazard786/ShareAudio/internal/utils"
	pion "github.com/pion/webrtc/v4"
	"github.com/spf13/viper"
)

// Default configuration values (production)
const (
	DefaultDomain   = "shareaudio.qzz.io"
	DefaultSTUN     = "stun:stun.l.google.com:19302"
	DefaultTURN     = "turn:shareaudio.qzz.io"
	DefaultTURNUser = "shareaudio"
	DefaultTURNPass = "shareaudio-secret"

	DefaultNegotiationTimeout = 30 * time.Second
	DefaultDisconnectGrace    = 5 * time.Second
	DefaultRelayAddr          = ":8080"
)

// Config holds application configuration
type Config struct {
	// Domain is the backend server domain
	Domain string `mapstructure:"domain"`

	// SignalingURL overrides the websocket URL derived from Domain
	SignalingURL string `mapstructure:"signaling_url"`

	// WebSocketURL is SignalingURL, or constructed from domain
	WebSocketURL string `mapstructure:"-"`

	// ICE servers for WebRTC
	STUNServer string `mapstructure:"stun_server"`
	TURNServer string `mapstructure:"turn_server"`
	TURNUser   string `mapstructure:"turn_username"`
	TURNPass   string `mapstructure:"turn_password"`

	// ForceRelay restricts ICE to TURN candidates
	ForceRelay bool `mapstructure:"relay_only"`

	// Session timing
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
	DisconnectGrace    time.Duration `mapstructure:"disconnect_grace"`

	// RelayAddr is the listen address of the relay server
	RelayAddr string `mapstructure:"relay_addr"`
}

// Options for loading config with CLI flag overrides
type Options struct {
	ConfigFile   string
	Domain       string
	SignalingURL string
	STUNServer   string
	TURNServer   string
	TURNUser     string
	TURNPass     string
	ForceRelay   bool
	RelayAddr    string
}

// env names per key, kept short for container use
var envKeys = map[string]string{
	"domain":              "DOMAIN",
	"signaling_url":       "SIGNALING_URL",
	"stun_server":         "STUN_SERVER",
	"turn_server":         "TURN_SERVER",
	"turn_username":       "TURN_USERNAME",
	"turn_password":       "TURN_PASSWORD",
	"relay_only":          "RELAY_ONLY",
	"negotiation_timeout": "NEGOTIATION_TIMEOUT",
	"disconnect_grace":    "DISCONNECT_GRACE",
	"relay_addr":          "RELAY_ADDR",
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Config file (Options.ConfigFile), if given
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	v := viper.New()

	v.SetDefault("domain", DefaultDomain)
	v.SetDefault("signaling_url", "")
	v.SetDefault("stun_server", DefaultSTUN)
	v.SetDefault("turn_server", DefaultTURN)
	v.SetDefault("turn_username", DefaultTURNUser)
	v.SetDefault("turn_password", DefaultTURNPass)
	v.SetDefault("relay_only", false)
	v.SetDefault("negotiation_timeout", DefaultNegotiationTimeout)
	v.SetDefault("disconnect_grace", DefaultDisconnectGrace)
	v.SetDefault("relay_addr", DefaultRelayAddr)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", opts.ConfigFile, err)
		}
	}

	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	overrides := map[string]string{
		"domain":        opts.Domain,
		"signaling_url": opts.SignalingURL,
		"stun_server":   opts.STUNServer,
		"turn_server":   opts.TURNServer,
		"turn_username": opts.TURNUser,
		"turn_password": opts.TURNPass,
		"relay_addr":    opts.RelayAddr,
	}
	for key, val := range overrides {
		if val != "" {
			v.Set(key, val)
		}
	}
	if opts.ForceRelay {
		v.Set("relay_only", true)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.NegotiationTimeout <= 0 {
		return nil, fmt.Errorf("negotiation_timeout must be positive, got %s", cfg.NegotiationTimeout)
	}
	if cfg.DisconnectGrace <= 0 {
		return nil, fmt.Errorf("disconnect_grace must be positive, got %s", cfg.DisconnectGrace)
	}

	// Construct WebSocket URL
	cfg.WebSocketURL = cfg.SignalingURL
	if cfg.WebSocketURL == "" {
		cfg.WebSocketURL = fmt.Sprintf("wss://%s/ws", cfg.Domain)
	}

	return &cfg, nil
}

// GetRoomLink returns the webapp URL for a room ID
func (c *Config) GetRoomLink(roomID string) string {
	return fmt.Sprintf("https://%s/r/%s", c.Domain, roomID)
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(c.TURNServer, "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

// ICEServers returns the STUN and TURN servers in pion form.
func (c *Config) ICEServers() []pion.ICEServer {
	var servers []pion.ICEServer
	if stun := c.GetSTUNServers(); stun != nil {
		servers = append(servers, pion.ICEServer{URLs: stun})
	}

	if turn := c.GetTURNServers(); turn != nil {
		username, password := c.GetTURNCredentials()
		servers = append(servers, pion.ICEServer{
			URLs:       turn,
			Username:   username,
			Credential: password,
		})
	}
	return servers
}

// RelayOnly reports whether ICE should use TURN candidates only. It applies
// when asked for explicitly or when the network looks like a VPN or CGNAT, and
// only if a TURN server is configured.
func (c *Config) RelayOnly() bool {
	if c.GetTURNServers() == nil {
		return false
	}
	return c.ForceRelay || utils.ShouldForceRelay()
}

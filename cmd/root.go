package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/BioHazard786/ShareAudio/internal/config"
	"github.com/BioHazard786/ShareAudio/internal/logging"
	"github.com/BioHazard786/ShareAudio/internal/media"
	"github.com/BioHazard786/ShareAudio/internal/session"
	"github.com/BioHazard786/ShareAudio/internal/ui"
	"github.com/BioHazard786/ShareAudio/internal/version"
	pionlog "github.com/pion/logging"
	pion "github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"
)

var (
	flagConfig       string
	flagLogLevel     string
	flagDomain       string
	flagSignalingURL string
	flagSTUN         string
	flagTURN         string
	flagTURNUser     string
	flagTURNPass     string
	flagRelayOnly    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "shareaudio",
	Short: "Live audio sharing between peers using WebRTC",
	Long: `ShareAudio streams audio from one host to any number of listeners in a room.
Peers find each other through a signaling relay and then talk directly over WebRTC,
falling back to TURN when a direct path is not possible.`,
	Version: version.Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(flagLogLevel)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		ui.PrintError(describe(err))
		os.Exit(1)
	}
}

// describe turns session errors into something a user can act on.
func describe(err error) string {
	var sessErr *session.Error
	if !errors.As(err, &sessErr) {
		return err.Error()
	}
	switch sessErr.Kind {
	case session.KindChannel:
		return fmt.Sprintf("cannot reach the signaling server: %v", err)
	case session.KindResource:
		return fmt.Sprintf("audio source unavailable: %v", err)
	case session.KindNegotiation:
		return fmt.Sprintf("peer connection failed: %v", err)
	default:
		return err.Error()
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		ConfigFile:   flagConfig,
		Domain:       flagDomain,
		SignalingURL: flagSignalingURL,
		STUNServer:   flagSTUN,
		TURNServer:   flagTURN,
		TURNUser:     flagTURNUser,
		TURNPass:     flagTURNPass,
		ForceRelay:   flagRelayOnly,
		RelayAddr:    flagRelayAddr,
	})
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}
	return cfg, nil
}

// newManager wires a session manager to the relay and pion transports
// described by cfg.
func newManager(cfg *config.Config, tracks media.TrackSource) (*session.Manager, error) {
	factory, err := media.NewPionFactory(media.PionConfig{
		ICEServers:    cfg.ICEServers(),
		RelayOnly:     cfg.RelayOnly(),
		SettingEngine: pionSettings(),
	})
	if err != nil {
		return nil, err
	}

	if cfg.RelayOnly() {
		slog.Info("restricting ICE to TURN relay candidates")
	}

	return session.NewManager(
		session.Config{
			NegotiationTimeout: cfg.NegotiationTimeout,
			DisconnectGrace:    cfg.DisconnectGrace,
		},
		session.Dependencies{
			Dialer:     session.WebSocketDialer(cfg.WebSocketURL),
			Transports: factory,
			Tracks:     tracks,
		},
	), nil
}

// pionSettings surfaces pion's own logs when debug logging is on.
func pionSettings() *pion.SettingEngine {
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return nil
	}
	factory := pionlog.NewDefaultLoggerFactory()
	factory.DefaultLogLevel = pionlog.LogLevelDebug
	return &pion.SettingEngine{LoggerFactory: factory}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagConfig, "config", "", "Config file (yaml, json or toml)")
	flags.StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVarP(&flagDomain, "domain", "d", "", "Custom domain")
	flags.StringVar(&flagSignalingURL, "signaling-url", "", "Signaling server WebSocket URL")
	flags.StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	flags.StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	flags.StringVarP(&flagTURNUser, "turn-user", "u", "", "TURN username")
	flags.StringVarP(&flagTURNPass, "turn-pass", "p", "", "TURN password")
	flags.BoolVarP(&flagRelayOnly, "relay-only", "r", false, "Force relay mode")
}

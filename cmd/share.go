package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BioHazard786/ShareAudio/internal/files"
	"github.com/BioHazard786/ShareAudio/internal/media"
	"github.com/BioHazard786/ShareAudio/internal/session"
	"github.com/BioHazard786/ShareAudio/internal/ui"
	"github.com/BioHazard786/ShareAudio/internal/utils"
	"github.com/spf13/cobra"
)

var (
	flagFile string
	flagRoom string
)

var shareCmd = &cobra.Command{
	Use:     "share",
	Aliases: []string{"host"},
	Short:   "Host a room and stream audio to its listeners",
	Long: `Host a room and stream audio to everyone who joins it.

Examples:
  shareaudio share --file song.opus
  shareaudio share --file podcast.ogg --room ABC123
  shareaudio share --relay-only --file song.opus`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return shareAudio(cmd.Context())
	},
}

func shareAudio(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var source media.TrackSource = media.SilenceSource{}
	if flagFile != "" {
		info, err := files.ValidateAudioFile(flagFile)
		if err != nil {
			return err
		}
		ui.PrintInfof("Streaming %s (%s)", info.Name, utils.FormatSize(info.Size))
		source = media.OggFileSource{Path: info.Path}
	} else {
		ui.PrintWarning("No --file given, listeners will hear silence")
	}

	var requested session.RoomID
	if flagRoom != "" {
		if requested, err = session.ParseRoomID(flagRoom); err != nil {
			return err
		}
	}

	manager, err := newManager(cfg, source)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println()
	sp := ui.NewConnectionSpinner(os.Stdout, "Connecting to server...").Start()
	roomID, err := manager.StartSharing(ctx, requested)
	if err != nil {
		sp.Error("Could not open the room")
		manager.Stop()
		return err
	}
	sp.Stop()

	link := cfg.GetRoomLink(string(roomID))
	fmt.Println(ui.NewRoomInfo(roomID, link).View())
	fmt.Println()

	roomUI := ui.NewRoomUI(ui.RoomOptions{
		Role:         session.RoleHost,
		RoomID:       roomID,
		RoomLink:     link,
		OnToggleMute: manager.ToggleMute,
	})
	manager.SetObserver(roomUI)
	roomUI.Start()

	select {
	case <-roomUI.Done():
	case <-ctx.Done():
	}
	roomUI.Stop()
	stopErr := manager.Stop()

	stats := roomUI.Stats()
	ui.RenderSessionSummary(os.Stdout, ui.SessionSummary{
		Role:           session.RoleHost,
		RoomID:         roomID,
		Duration:       time.Since(stats.Started),
		PeakListeners:  stats.PeakListeners,
		TotalListeners: stats.TotalConnected,
		MuteToggles:    stats.MuteToggles,
	})
	return stopErr
}

func init() {
	rootCmd.AddCommand(shareCmd)

	shareCmd.Flags().StringVarP(&flagFile, "file", "f", "", "Ogg/Opus file to stream")
	shareCmd.Flags().StringVar(&flagRoom, "room", "", "Room code to host instead of a random one")
}

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/BioHazard786/ShareAudio/internal/media"
	"github.com/BioHazard786/ShareAudio/internal/session"
	"github.com/BioHazard786/ShareAudio/internal/ui"
	"github.com/BioHazard786/ShareAudio/internal/utils"
	"github.com/spf13/cobra"
)

var flagOut string

var listenCmd = &cobra.Command{
	Use:     "listen <ROOM_CODE|LINK>",
	Aliases: []string{"l", "join"},
	Short:   "Join a room and listen to its host",
	Long: `Join a room by code or link and receive the host's audio.

Examples:
  shareaudio listen ABC123
  shareaudio listen https://shareaudio.qzz.io/r/ABC123
  shareaudio listen ABC123 --out recording.ogg`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, err := session.ParseRoomID(args[0])
		if err != nil {
			return err
		}
		return listen(cmd.Context(), roomID)
	},
}

// recording saves the first remote stream to disk.
type recording struct {
	path string

	mu       sync.Mutex
	recorder *media.OggRecorder
	wg       sync.WaitGroup
}

func (r *recording) start(peer session.PeerID, track media.RemoteTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recorder != nil {
		return
	}

	rec, err := media.NewOggRecorder(utils.GetUniqueFilename(r.path))
	if err != nil {
		slog.Error("cannot start recording", "err", err)
		return
	}
	r.recorder = rec

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := rec.Record(track); err != nil {
			slog.Warn("recording stopped", "peer", peer, "err", err)
		}
	}()
}

// finish closes the file once the track has ended and reports what was
// written. It is called after the manager has stopped.
func (r *recording) finish() (string, int64) {
	r.mu.Lock()
	rec := r.recorder
	r.mu.Unlock()
	if rec == nil {
		return "", 0
	}
	r.wg.Wait()
	if err := rec.Close(); err != nil {
		slog.Warn("finalize recording", "path", rec.Path(), "err", err)
	}
	return rec.Path(), rec.Packets()
}

func listen(ctx context.Context, roomID session.RoomID) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	manager, err := newManager(cfg, media.SilenceSource{})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println()
	sp := ui.NewConnectionSpinner(os.Stdout, "Joining room...").Start()
	roomUI := ui.NewRoomUI(ui.RoomOptions{
		Role:     session.RoleListener,
		RoomID:   roomID,
		RoomLink: cfg.GetRoomLink(string(roomID)),
	})

	observers := session.Observers{roomUI}
	var rec *recording
	if flagOut != "" {
		rec = &recording{path: flagOut}
		observers = append(observers, session.ObserverFuncs{OnRemoteStream: rec.start})
	}
	manager.SetObserver(observers)

	started := time.Now()
	if err := manager.JoinRoom(ctx, roomID); err != nil {
		sp.Error("Could not join room " + string(roomID))
		manager.Stop()
		return err
	}
	sp.Stop()
	roomUI.Start()

	select {
	case <-roomUI.Done():
	case <-ctx.Done():
	}
	roomUI.Stop()
	stopErr := manager.Stop()

	summary := ui.SessionSummary{
		Role:     session.RoleListener,
		RoomID:   roomID,
		Duration: time.Since(started),
	}
	if rec != nil {
		summary.Recording, summary.Packets = rec.finish()
	}
	ui.RenderSessionSummary(os.Stdout, summary)
	return stopErr
}

func init() {
	rootCmd.AddCommand(listenCmd)

	listenCmd.Flags().StringVarP(&flagOut, "out", "o", "", "Record the stream to this Ogg file")
}

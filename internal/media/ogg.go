package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

// OggFileSource streams an Ogg/Opus file into the local track, starting over
// at the end of the file until the track is released.
type OggFileSource struct {
	Path string
}

func (s OggFileSource) Acquire(ctx context.Context) (*LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.Path)
	if err != nil {
		return nil, newError("open audio", err)
	}

	reader, header, err := oggreader.NewWith(f)
	if err != nil {
		f.Close()
		return nil, newError("read ogg header", err)
	}
	if header.SampleRate != 0 && header.SampleRate != OpusClockRate {
		slog.Debug("ogg input is not 48kHz, opus decoders resample", "rate", header.SampleRate)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	track := NewLocalTrack(cancel)

	go func() {
		defer f.Close()
		pumpOgg(pumpCtx, f, reader, track)
	}()

	return track, nil
}

// pumpOgg publishes one page per frame tick, pacing by granule position.
func pumpOgg(ctx context.Context, f *os.File, reader *oggreader.OggReader, track *LocalTrack) {
	ticker := time.NewTicker(OpusFrameLength)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		page, pageHeader, err := reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				slog.Error("rewind audio file", "err", err)
				return
			}
			if reader, _, err = oggreader.NewWith(f); err != nil {
				slog.Error("reopen audio file", "err", err)
				return
			}
			lastGranule = 0
			continue
		}
		if err != nil {
			slog.Error("read ogg page", "err", err)
			return
		}

		duration := OpusFrameLength
		if pageHeader.GranulePosition > lastGranule && lastGranule != 0 {
			samples := pageHeader.GranulePosition - lastGranule
			duration = time.Duration(samples) * time.Second / OpusClockRate
		}
		lastGranule = pageHeader.GranulePosition

		track.Publish(pionmedia.Sample{Data: page, Duration: duration})
	}
}

// OggRecorder writes a remote audio track to an Ogg/Opus file.
type OggRecorder struct {
	path    string
	writer  *oggwriter.OggWriter
	packets atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

// NewOggRecorder creates (or truncates) path.
func NewOggRecorder(path string) (*OggRecorder, error) {
	w, err := oggwriter.New(path, OpusClockRate, OpusChannels)
	if err != nil {
		return nil, newError("create recording", err)
	}
	return &OggRecorder{path: path, writer: w}, nil
}

// Record copies packets from track until it ends. A track ending with io.EOF
// is not an error.
func (r *OggRecorder) Record(track RemoteTrack) error {
	for {
		pkt, err := track.ReadRTP()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return newError("read rtp", err)
		}

		if err := r.writer.WriteRTP(pkt); err != nil {
			return newError("write recording", fmt.Errorf("%s: %w", r.path, err))
		}
		r.packets.Add(1)
	}
}

// Packets reports how many RTP packets have been written.
func (r *OggRecorder) Packets() int64 {
	return r.packets.Load()
}

// Path returns the output file path.
func (r *OggRecorder) Path() string {
	return r.path
}

// Close finalizes the file. It is idempotent.
func (r *OggRecorder) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.writer.Close()
	})
	return r.closeErr
}

package media

import (
	"context"
	"sync"
	"time"

	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// Opus parameters shared by every outbound track.
const (
	OpusClockRate   = 48000
	OpusChannels    = 2
	OpusFrameLength = 20 * time.Millisecond
)

// opusSilence is a single 20ms Opus frame that decodes to silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// TrackSource acquires the local audio track.
type TrackSource interface {
	Acquire(ctx context.Context) (*LocalTrack, error)
}

// LocalTrack is the host's outbound audio. A single source publishes samples;
// every attached transport subscribes and forwards them to its own sender, so
// muting one session never affects the shared source.
type LocalTrack struct {
	mu       sync.RWMutex
	subs     map[int]func(pionmedia.Sample)
	nextID   int
	released bool
	stop     func()
}

// NewLocalTrack returns a track with no running source. stop, if non-nil, is
// called once on Release.
func NewLocalTrack(stop func()) *LocalTrack {
	return &LocalTrack{
		subs: make(map[int]func(pionmedia.Sample)),
		stop: stop,
	}
}

// Subscribe registers fn for every published sample and returns a function
// that removes it.
func (t *LocalTrack) Subscribe(fn func(pionmedia.Sample)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	t.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
		})
	}
}

// Subscribers reports how many transports are attached.
func (t *LocalTrack) Subscribers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Publish fans s out to every subscriber. It is a no-op after Release.
func (t *LocalTrack) Publish(s pionmedia.Sample) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.released {
		return
	}
	for _, fn := range t.subs {
		fn(s)
	}
}

// Release stops the source and detaches all subscribers. It is idempotent.
func (t *LocalTrack) Release() {
	t.mu.Lock()
	if t.released {
		t.mu.Unlock()
		return
	}
	t.released = true
	t.subs = make(map[int]func(pionmedia.Sample))
	stop := t.stop
	t.mu.Unlock()

	if stop != nil {
		stop()
	}
}

// Released reports whether Release has been called.
func (t *LocalTrack) Released() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.released
}

// SilenceSource publishes Opus silence at the normal frame rate. It is used
// when no input file is given so listeners still receive a live stream.
type SilenceSource struct{}

func (SilenceSource) Acquire(ctx context.Context) (*LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	track := NewLocalTrack(cancel)

	go func() {
		ticker := time.NewTicker(OpusFrameLength)
		defer ticker.Stop()
		for {
			select {
			case <-pumpCtx.Done():
				return
			case <-ticker.C:
				track.Publish(pionmedia.Sample{Data: opusSilence, Duration: OpusFrameLength})
			}
		}
	}()

	return track, nil
}

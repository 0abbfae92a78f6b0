package media

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrTrackClosed is returned by ReadFrame once a track has been closed.
var ErrTrackClosed = errors.New("media: track closed")

// TrackKind distinguishes live microphone audio from the silent placeholder.
type TrackKind string

// Track kinds.
const (
	TrackMicrophone TrackKind = "microphone"
	TrackSilent     TrackKind = "silent"
)

// Track is an outgoing audio source attached to a transport's sender.
// Close must unblock a pending ReadFrame and release any device the track holds.
type Track interface {
	ID() string
	Kind() TrackKind
	Format() Format
	ReadFrame(ctx context.Context) (Frame, error)
	Close() error
}

// SilentTrack produces zero-valued frames at the format's frame rate.
// It holds no device and never touches the microphone.
type SilentTrack struct {
	id     string
	format Format

	once   sync.Once
	done   chan struct{}
	ticker *time.Ticker
}

// NewSilentTrack creates a silent track for format.
func NewSilentTrack(format Format) *SilentTrack {
	period := format.FrameDuration()
	if period <= 0 {
		format = DefaultFormat
		period = format.FrameDuration()
	}
	return &SilentTrack{
		id:     "silent-" + uuid.NewString(),
		format: format,
		done:   make(chan struct{}),
		ticker: time.NewTicker(period),
	}
}

// ID returns the track identifier.
func (t *SilentTrack) ID() string { return t.id }

// Kind returns TrackSilent.
func (t *SilentTrack) Kind() TrackKind { return TrackSilent }

// Format returns the track's audio format.
func (t *SilentTrack) Format() Format { return t.format }

// ReadFrame waits one frame period and returns a frame of zeros.
func (t *SilentTrack) ReadFrame(ctx context.Context) (Frame, error) {
	select {
	case <-t.done:
		return Frame{}, ErrTrackClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-t.ticker.C:
		return Frame{
			Samples:    make([]int16, t.format.FrameSamples*t.format.Channels),
			SampleRate: t.format.SampleRate,
		}, nil
	}
}

// Close stops the track. It is safe to call more than once.
func (t *SilentTrack) Close() error {
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
	})
	return nil
}

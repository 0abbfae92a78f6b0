package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/AltairaLabs/rtsession/runtime/logger"
	"github.com/AltairaLabs/rtsession/runtime/media"
)

// FrameWriter consumes outbound frames.
type FrameWriter func(ctx context.Context, track media.Track, frame media.Frame) error

// TrackPump copies frames from the current outbound track to a FrameWriter.
// The track can be replaced at any time; a closed track parks the pump until
// the next replacement.
type TrackPump struct {
	write FrameWriter

	mu      sync.Mutex
	track   media.Track
	changed chan struct{}
}

// NewTrackPump creates a pump with an initial track, which may be nil.
func NewTrackPump(track media.Track, write FrameWriter) *TrackPump {
	return &TrackPump{write: write, track: track, changed: make(chan struct{}, 1)}
}

// Replace swaps the current track and returns the previous one.
func (p *TrackPump) Replace(track media.Track) media.Track {
	p.mu.Lock()
	old := p.track
	p.track = track
	p.mu.Unlock()
	select {
	case p.changed <- struct{}{}:
	default:
	}
	return old
}

// Current returns the current track.
func (p *TrackPump) Current() media.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.track
}

// Run pumps until ctx is done.
func (p *TrackPump) Run(ctx context.Context) {
	for {
		track := p.Current()
		if track == nil {
			if !p.wait(ctx) {
				return
			}
			continue
		}

		frame, err := track.ReadFrame(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, media.ErrTrackClosed):
			if p.Current() == track && !p.wait(ctx) {
				return
			}
			continue
		case err != nil:
			logger.Debug("transport: track read failed", "track", track.ID(), "error", err)
			if p.Current() == track && !p.wait(ctx) {
				return
			}
			continue
		}

		if err := p.write(ctx, track, frame); err != nil && ctx.Err() == nil {
			logger.Debug("transport: frame write failed", "track", track.ID(), "error", err)
		}
	}
}

func (p *TrackPump) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-p.changed:
		return true
	}
}

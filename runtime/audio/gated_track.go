package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/AltairaLabs/rtsession/runtime/capture"
	"github.com/AltairaLabs/rtsession/runtime/media"
)

// GatedTrack is the outbound microphone track. Every frame read from the
// capture source is metered, then passed through each attenuation stage in order.
type GatedTrack struct {
	id     string
	src    capture.Source
	format media.Format
	meter  *SignalMeter
	stages []Attenuator

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewGatedTrack wraps src. meter receives the pre-gate signal.
func NewGatedTrack(src capture.Source, format media.Format, meter *SignalMeter, stages ...Attenuator) *GatedTrack {
	return &GatedTrack{
		id:     "mic-" + uuid.NewString(),
		src:    src,
		format: format,
		meter:  meter,
		stages: stages,
	}
}

// ID returns the track identifier.
func (t *GatedTrack) ID() string { return t.id }

// Kind returns media.TrackMicrophone.
func (t *GatedTrack) Kind() media.TrackKind { return media.TrackMicrophone }

// Format returns the capture format.
func (t *GatedTrack) Format() media.Format { return t.format }

// ReadFrame reads, meters and gates one frame.
func (t *GatedTrack) ReadFrame(ctx context.Context) (media.Frame, error) {
	if t.closed.Load() {
		return media.Frame{}, media.ErrTrackClosed
	}
	frame, err := t.src.Read(ctx)
	if err != nil {
		if t.closed.Load() || errors.Is(err, capture.ErrClosed) {
			return media.Frame{}, media.ErrTrackClosed
		}
		return media.Frame{}, err
	}
	if t.closed.Load() {
		return media.Frame{}, media.ErrTrackClosed
	}
	if t.meter != nil {
		t.meter.ObservePCM(frame.Samples)
	}
	for _, s := range t.stages {
		frame.Samples = s.Apply(frame.Samples)
	}
	return frame, nil
}

// Close releases the capture source. Further reads fail with media.ErrTrackClosed.
func (t *GatedTrack) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		for _, s := range t.stages {
			s.SetGain(0)
		}
		if t.meter != nil {
			t.meter.Reset()
		}
		t.closeErr = t.src.Close()
	})
	return t.closeErr
}

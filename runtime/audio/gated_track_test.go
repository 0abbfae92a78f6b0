package audio

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/rtsession/runtime/capture"
	"github.com/AltairaLabs/rtsession/runtime/media"
)

type toneSource struct {
	reads  atomic.Int32
	closed atomic.Bool
}

func (s *toneSource) Read(ctx context.Context) (media.Frame, error) {
	if err := ctx.Err(); err != nil {
		return media.Frame{}, err
	}
	if s.closed.Load() {
		return media.Frame{}, capture.ErrClosed
	}
	s.reads.Add(1)
	samples := make([]int16, 480)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 8000
		} else {
			samples[i] = -8000
		}
	}
	return media.Frame{Samples: samples, SampleRate: media.SampleRate48kHz}, nil
}

func (s *toneSource) Close() error {
	s.closed.Store(true)
	return nil
}

func TestGatedTrackAppliesStagesInSeries(t *testing.T) {
	src := &toneSource{}
	meter := NewSignalMeter(0)
	s1, s2 := NewGainStage(), NewGainStage()
	track := NewGatedTrack(src, media.DefaultFormat, meter, s1, s2)

	assert.Equal(t, media.TrackMicrophone, track.Kind())
	assert.NotEmpty(t, track.ID())

	// Closed gate: silence out, but the meter still sees the real signal.
	frame, err := track.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int16(0), frame.Samples[0])
	assert.Greater(t, meter.LevelDB(), -20.0)

	// One open stage is not enough.
	s1.SetGain(1)
	frame, err = track.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int16(0), frame.Samples[0])

	s2.SetGain(1)
	frame, err = track.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int16(8000), frame.Samples[0])
}

func TestGatedTrackCloseReleasesMicrophone(t *testing.T) {
	src := &toneSource{}
	meter := NewSignalMeter(0)
	track := NewGatedTrack(src, media.DefaultFormat, meter, NewGainStage())

	_, err := track.ReadFrame(context.Background())
	require.NoError(t, err)
	require.NoError(t, track.Close())
	require.NoError(t, track.Close())

	assert.True(t, src.closed.Load())
	reads := src.reads.Load()

	_, err = track.ReadFrame(context.Background())
	assert.ErrorIs(t, err, media.ErrTrackClosed)
	assert.Equal(t, reads, src.reads.Load(), "no samples read after close")
	assert.Equal(t, FloorDB, meter.LevelDB())
}

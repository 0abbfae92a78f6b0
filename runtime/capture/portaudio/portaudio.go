//go:build portaudio

// Package portaudio provides microphone capture and speaker playback through PortAudio.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/AltairaLabs/rtsession/runtime/capture"
	"github.com/AltairaLabs/rtsession/runtime/logger"
	"github.com/AltairaLabs/rtsession/runtime/media"
)

// Initialize starts PortAudio. Call the returned function on shutdown.
func Initialize() (func(), error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return func() { _ = portaudio.Terminate() }, nil
}

// Device opens the default input device.
type Device struct{}

// Open starts a blocking input stream delivering format.FrameSamples per Read.
func (Device) Open(_ context.Context, format media.Format) (capture.Source, error) {
	in := make([]int16, format.FrameSamples*format.Channels)
	stream, err := portaudio.OpenDefaultStream(format.Channels, 0, float64(format.SampleRate), format.FrameSamples, in)
	if err != nil {
		return nil, &capture.Error{Op: "open", Err: classify(err)}
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, &capture.Error{Op: "start", Err: classify(err)}
	}
	logger.Debug("Microphone stream opened", "sample_rate", format.SampleRate, "frame_samples", format.FrameSamples)
	return &source{stream: stream, buf: in, format: format}, nil
}

func classify(err error) error {
	var paErr portaudio.Error
	if errors.As(err, &paErr) {
		switch paErr {
		case portaudio.DeviceUnavailable:
			return fmt.Errorf("%w: %v", capture.ErrPermissionDenied, err)
		case portaudio.InvalidDevice:
			return fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
		}
	}
	return err
}

type source struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
	format media.Format
	closed bool
}

// Read blocks until PortAudio fills one buffer. Input overflow is not fatal.
func (s *source) Read(ctx context.Context) (media.Frame, error) {
	if err := ctx.Err(); err != nil {
		return media.Frame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return media.Frame{}, capture.ErrClosed
	}
	if err := s.stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		return media.Frame{}, &capture.Error{Op: "read", Err: err}
	}
	return media.Frame{
		Samples:    append([]int16(nil), s.buf...),
		SampleRate: s.format.SampleRate,
	}, nil
}

// Close stops and releases the stream.
func (s *source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Join(s.stream.Stop(), s.stream.Close())
}

// Speaker plays remote audio on the default output device.
type Speaker struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	out    []int16
	rate   int
	queue  chan []int16
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewSpeaker opens an output stream at sampleRate.
func NewSpeaker(sampleRate, framesPerBuffer int) (*Speaker, error) {
	out := make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), framesPerBuffer, out)
	if err != nil {
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("failed to start output stream: %w", err)
	}
	sp := &Speaker{
		stream: stream,
		out:    out,
		rate:   sampleRate,
		queue:  make(chan []int16, 256),
		done:   make(chan struct{}),
	}
	sp.wg.Add(1)
	go sp.loop()
	return sp, nil
}

// Write queues a frame. Frames are resampled to the speaker rate and dropped if the queue is full.
func (sp *Speaker) Write(frame media.Frame) error {
	samples := frame.Samples
	if frame.SampleRate != sp.rate && frame.SampleRate > 0 {
		var err error
		if samples, err = media.Resample(samples, frame.SampleRate, sp.rate); err != nil {
			return err
		}
	}
	select {
	case sp.queue <- samples:
	case <-sp.done:
		return capture.ErrClosed
	default:
		logger.Debug("Speaker queue full, dropping frame")
	}
	return nil
}

func (sp *Speaker) loop() {
	defer sp.wg.Done()
	var pending []int16
	for {
		for len(pending) < len(sp.out) {
			select {
			case <-sp.done:
				return
			case s := <-sp.queue:
				pending = append(pending, s...)
			}
		}
		n := copy(sp.out, pending)
		pending = pending[n:]
		if err := sp.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			logger.Warn("Speaker write failed", "error", err)
		}
	}
}

// Close stops playback.
func (sp *Speaker) Close() error {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	select {
	case <-sp.done:
		return nil
	default:
	}
	close(sp.done)
	sp.wg.Wait()
	return errors.Join(sp.stream.Stop(), sp.stream.Close())
}

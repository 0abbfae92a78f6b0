// Package media defines the audio frames, tracks, and codecs exchanged between
// capture, the gate, and the transports.
package media

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Standard sample rates.
const (
	SampleRate48kHz = 48000 // Opus over WebRTC
	SampleRate24kHz = 24000 // PCM16 over the realtime websocket
	SampleRate16kHz = 16000
)

const (
	bytesPerSample = 2
	maxAmplitude   = 32768.0
)

// Format describes mono PCM16 audio delivered in fixed-size frames.
type Format struct {
	SampleRate   int
	Channels     int
	FrameSamples int
}

// DefaultFormat is 20 ms mono frames at 48 kHz.
var DefaultFormat = Format{SampleRate: SampleRate48kHz, Channels: 1, FrameSamples: 960}

// FrameDuration returns the wall-clock length of one frame.
func (f Format) FrameDuration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.FrameSamples) * time.Second / time.Duration(f.SampleRate)
}

// Validate reports whether the format is usable.
func (f Format) Validate() error {
	if f.SampleRate <= 0 || f.Channels <= 0 || f.FrameSamples <= 0 {
		return fmt.Errorf("invalid audio format %+v", f)
	}
	return nil
}

// Frame is one block of interleaved PCM16 samples.
type Frame struct {
	Samples    []int16
	SampleRate int
}

// Duration returns the frame's length assuming mono audio.
func (fr Frame) Duration() time.Duration {
	if fr.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(fr.Samples)) * time.Second / time.Duration(fr.SampleRate)
}

// Float32 returns the samples normalized to [-1, 1).
func (fr Frame) Float32() []float32 {
	out := make([]float32, len(fr.Samples))
	for i, s := range fr.Samples {
		out[i] = float32(float64(s) / maxAmplitude)
	}
	return out
}

// Bytes returns the samples as little-endian PCM16.
func (fr Frame) Bytes() []byte {
	return Int16ToBytes(fr.Samples)
}

// Int16ToBytes encodes samples as little-endian PCM16.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(s)) //nolint:gosec // PCM16 reinterpretation
	}
	return out
}

// BytesToInt16 decodes little-endian PCM16. A trailing odd byte is an error.
func BytesToInt16(data []byte) ([]int16, error) {
	if len(data)%bytesPerSample != 0 {
		return nil, fmt.Errorf("pcm16 length %d is not a multiple of %d", len(data), bytesPerSample)
	}
	out := make([]int16, len(data)/bytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*bytesPerSample:])) //nolint:gosec // PCM16 reinterpretation
	}
	return out, nil
}

// Resample converts mono samples between rates with linear interpolation.
func Resample(samples []int16, fromRate, toRate int) ([]int16, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates: from=%d, to=%d", fromRate, toRate)
	}
	if fromRate == toRate {
		return append([]int16(nil), samples...), nil
	}
	n := len(samples)
	outLen := int(int64(n) * int64(toRate) / int64(fromRate))
	out := make([]int16, outLen)
	if n == 0 {
		return out, nil
	}
	ratio := float64(fromRate) / float64(toRate)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= n-1 {
			out[i] = samples[n-1]
			continue
		}
		frac := pos - float64(idx)
		s0, s1 := float64(samples[idx]), float64(samples[idx+1])
		out[i] = int16(s0 + frac*(s1-s0))
	}
	return out, nil
}

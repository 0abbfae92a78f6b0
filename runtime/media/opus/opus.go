// Package opus implements media.Codec with libopus through github.com/hraban/opus.
package opus

import (
	"fmt"

	libopus "github.com/hraban/opus"

	"github.com/AltairaLabs/rtsession/runtime/media"
)

const (
	// maxPacketBytes bounds one encoded packet.
	maxPacketBytes = 4000
	// maxFrameSamples is 120 ms at 48 kHz, the longest Opus frame.
	maxFrameSamples = 5760
)

// Codec is the Opus media.Codec used by the WebRTC transport.
type Codec struct {
	// Bitrate in bits per second. Zero keeps the libopus default.
	Bitrate int
}

// Name returns "opus".
func (Codec) Name() string { return "opus" }

// NewEncoder creates a VoIP-tuned encoder for format.
func (c Codec) NewEncoder(format media.Format) (media.Encoder, error) {
	enc, err := libopus.NewEncoder(format.SampleRate, format.Channels, libopus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	if c.Bitrate > 0 {
		if err := enc.SetBitrate(c.Bitrate); err != nil {
			return nil, fmt.Errorf("opus bitrate: %w", err)
		}
	}
	return &encoder{enc: enc, buf: make([]byte, maxPacketBytes)}, nil
}

// NewDecoder creates a decoder for format.
func (Codec) NewDecoder(format media.Format) (media.Decoder, error) {
	dec, err := libopus.NewDecoder(format.SampleRate, format.Channels)
	if err != nil {
		return nil, fmt.Errorf("opus decoder: %w", err)
	}
	return &decoder{dec: dec, pcm: make([]int16, maxFrameSamples*format.Channels)}, nil
}

type encoder struct {
	enc *libopus.Encoder
	buf []byte
}

func (e *encoder) Encode(samples []int16) ([]byte, error) {
	n, err := e.enc.Encode(samples, e.buf)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), e.buf[:n]...), nil
}

type decoder struct {
	dec *libopus.Decoder
	pcm []int16
}

func (d *decoder) Decode(packet []byte) ([]int16, error) {
	n, err := d.dec.Decode(packet, d.pcm)
	if err != nil {
		return nil, err
	}
	return append([]int16(nil), d.pcm[:n]...), nil
}

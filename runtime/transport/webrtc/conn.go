package webrtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/AltairaLabs/rtsession/runtime/logger"
	"github.com/AltairaLabs/rtsession/runtime/media"
	"github.com/AltairaLabs/rtsession/runtime/transport"
)

const (
	messageBuffer = 64
	rtcpBuffer    = 1500
)

// conn is a negotiated peer connection.
type conn struct {
	pc     *webrtc.PeerConnection
	codec  media.Codec
	format media.Format

	local   *webrtc.TrackLocalStaticSample
	encoder media.Encoder
	pump    *transport.TrackPump
	dc      *webrtc.DataChannel

	states   *transport.StateFeed
	messages chan []byte
	opened   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	onRemote  transport.RemoteAudioHandler
	inMu      sync.Mutex
	openOnce  sync.Once
	closeOnce sync.Once
}

var _ transport.Conn = (*conn)(nil)

func newConn(pc *webrtc.PeerConnection, codec media.Codec, format media.Format) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{
		pc:       pc,
		codec:    codec,
		format:   format,
		states:   transport.NewStateFeed(),
		messages: make(chan []byte, messageBuffer),
		opened:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	pc.OnConnectionStateChange(c.onConnectionState)
	pc.OnTrack(c.onTrack)
	return c
}

func (c *conn) attachAudio(track media.Track) error {
	enc, err := c.codec.NewEncoder(c.format)
	if err != nil {
		return err
	}
	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: uint32(c.format.SampleRate), Channels: uint16(c.format.Channels)},
		"audio", "rtsession",
	)
	if err != nil {
		return err
	}
	sender, err := c.pc.AddTrack(local)
	if err != nil {
		return err
	}
	c.local = local
	c.encoder = enc
	c.pump = transport.NewTrackPump(track, c.writeFrame)

	// RTCP must be drained for interceptors to run.
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		buf := make([]byte, rtcpBuffer)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (c *conn) openControlChannel() error {
	dc, err := c.pc.CreateDataChannel(ControlChannelLabel, nil)
	if err != nil {
		return err
	}
	dc.OnOpen(func() {
		c.openOnce.Do(func() { close(c.opened) })
		logger.Debug("webrtc: control channel open", "label", dc.Label())
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.inMu.Lock()
		defer c.inMu.Unlock()
		if c.ctx.Err() != nil {
			return
		}
		select {
		case c.messages <- msg.Data:
		case <-c.ctx.Done():
		}
	})
	dc.OnClose(func() {
		logger.Debug("webrtc: control channel closed", "label", dc.Label())
	})
	c.dc = dc
	return nil
}

// start begins pumping outbound audio once the answer is applied.
func (c *conn) start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.pump.Run(c.ctx)
	}()
}

func (c *conn) writeFrame(_ context.Context, _ media.Track, frame media.Frame) error {
	samples := frame.Samples
	if frame.SampleRate != 0 && frame.SampleRate != c.format.SampleRate {
		var err error
		if samples, err = media.Resample(samples, frame.SampleRate, c.format.SampleRate); err != nil {
			return err
		}
	}
	packet, err := c.encoder.Encode(samples)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return c.local.WriteSample(pionmedia.Sample{Data: packet, Duration: c.format.FrameDuration()})
}

func (c *conn) onConnectionState(s webrtc.PeerConnectionState) {
	logger.Debug("webrtc: peer connection state", "state", s.String())
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		c.states.Set(transport.StateChecking)
	case webrtc.PeerConnectionStateConnected:
		c.states.Set(transport.StateConnected)
	case webrtc.PeerConnectionStateDisconnected:
		c.states.Set(transport.StateDisconnected)
	case webrtc.PeerConnectionStateFailed:
		c.states.Set(transport.StateFailed)
	case webrtc.PeerConnectionStateClosed:
		c.states.Set(transport.StateClosed)
	}
}

func (c *conn) onTrack(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	if remote.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	dec, err := c.codec.NewDecoder(c.format)
	if err != nil {
		logger.Warn("webrtc: cannot decode remote audio", "error", err)
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()
	go func() {
		defer c.wg.Done()
		for {
			pkt, _, err := remote.ReadRTP()
			if err != nil {
				if !errors.Is(err, io.EOF) && c.ctx.Err() == nil {
					logger.Debug("webrtc: remote track ended", "error", err)
				}
				return
			}
			if len(pkt.Payload) == 0 {
				continue
			}
			samples, err := dec.Decode(pkt.Payload)
			if err != nil {
				continue
			}
			c.mu.Lock()
			h := c.onRemote
			c.mu.Unlock()
			if h != nil {
				h(media.Frame{Samples: samples, SampleRate: c.format.SampleRate})
			}
		}
	}()
}

// Send writes one message to the control channel.
func (c *conn) Send(_ context.Context, payload []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return transport.ErrConnClosed
	}
	if c.dc == nil || c.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return transport.ErrChannelClosed
	}
	return c.dc.SendText(string(payload))
}

func (c *conn) Messages() <-chan []byte { return c.messages }

func (c *conn) States() <-chan transport.ConnState { return c.states.C() }

func (c *conn) ChannelOpened() <-chan struct{} { return c.opened }

// ReplaceTrack swaps the outbound source feeding the Opus track. The RTP
// sender and SSRC are unchanged, so no renegotiation happens.
func (c *conn) ReplaceTrack(track media.Track) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return transport.ErrConnClosed
	}
	c.pump.Replace(track)
	return nil
}

func (c *conn) SetRemoteAudioHandler(h transport.RemoteAudioHandler) {
	c.mu.Lock()
	c.onRemote = h
	c.mu.Unlock()
}

// Close stops the pump, closes the peer connection and ends both channels.
// It does not close the outbound track; the caller owns it.
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		if c.dc != nil {
			err = errors.Join(err, c.dc.Close())
		}
		err = errors.Join(err, c.pc.Close())
		c.wg.Wait()
		c.states.Close()

		c.inMu.Lock()
		close(c.messages)
		c.inMu.Unlock()
	})
	return err
}

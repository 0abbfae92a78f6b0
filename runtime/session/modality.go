package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/AltairaLabs/rtsession/runtime/audio"
	"github.com/AltairaLabs/rtsession/runtime/capture"
	"github.com/AltairaLabs/rtsession/runtime/logger"
	"github.com/AltairaLabs/rtsession/runtime/media"
)

// errStale reports that the generation a caller worked for has been superseded.
var errStale = errors.New("session: attempt superseded")

// Status lines for capture failures.
const (
	statusMicDenied      = "Microphone access was denied. Allow microphone access, then switch to voice again."
	statusMicUnavailable = "Microphone unavailable, staying in text mode."
)

// SwitchModality moves the session between text and voice.
//
// When a session is active the outbound track is replaced first, then the old
// track is released, then the remote service is told about the new modality,
// and only then does Modality report the new value. A microphone that cannot be
// opened aborts the switch with a capture error and leaves the modality as it was.
// With no active session only the preferred modality is recorded.
func (c *Controller) SwitchModality(ctx context.Context, to Modality) error {
	if !to.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidModality, to)
	}

	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	c.mu.Lock()
	from := c.modality
	hasTrack := c.track != nil
	runCtx := c.runCtx
	c.mu.Unlock()
	if from == to {
		return nil
	}

	if !hasTrack {
		c.mu.Lock()
		c.modality = to
		c.mu.Unlock()
		c.emitter.ModalityChanged(string(from), string(to))
		return nil
	}

	next, err := c.buildTrack(ctx, to)
	if err != nil {
		c.reportCaptureFailure(ctx, err)
		return err
	}

	c.mu.Lock()
	if c.track == nil {
		// Stopped while the microphone was opening.
		c.mu.Unlock()
		_ = next.Close()
		c.mu.Lock()
		c.modality = to
		c.mu.Unlock()
		c.emitter.ModalityChanged(string(from), string(to))
		return nil
	}
	prev := c.track
	c.track = next
	l := c.link
	if to.Voice() {
		c.startGateLocked()
	}
	c.mu.Unlock()

	if l != nil {
		if err := l.conn.ReplaceTrack(next); err != nil {
			logger.WarnContext(ctx, "Track replacement failed", "session_id", c.id, "error", err)
		}
	}
	if err := prev.Close(); err != nil {
		logger.DebugContext(ctx, "Previous track close failed", "session_id", c.id, "error", err)
	}
	if !to.Voice() {
		c.stopGate()
	}

	sent := false
	if l != nil && l.channelOpen.Load() {
		sent = c.configure(l, to)
	}

	c.mu.Lock()
	if !sent {
		c.pendingConfig = true
	}
	c.modality = to
	pending := c.pendingConfig
	l = c.link
	c.mu.Unlock()

	// The channel may have opened between the send attempt and the modality update.
	if pending && l != nil && l.channelOpen.Load() {
		if c.configure(l, to) {
			c.mu.Lock()
			c.pendingConfig = false
			c.mu.Unlock()
		}
	}

	c.emitter.ModalityChanged(string(from), string(to))
	logger.InfoContext(ctx, "Modality switched", "session_id", c.id, "from", from, "to", to)

	if runCtx != nil {
		go c.prefetchToken(runCtx, to)
	}
	return nil
}

// ensureTrack returns the outbound track, building it for the current modality
// on first use. Voice mode falls back to text when the microphone cannot be opened.
func (c *Controller) ensureTrack(ctx context.Context, gen uint64) (media.Track, error) {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	c.mu.Lock()
	track := c.track
	modality := c.modality
	c.mu.Unlock()
	if track != nil {
		return track, nil
	}

	track, err := c.buildTrack(ctx, modality)
	fellBack := false
	if err != nil {
		c.reportCaptureFailure(ctx, err)
		track = media.NewSilentTrack(c.cfg.CaptureFormat)
		fellBack = true
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		_ = track.Close()
		return nil, errStale
	}
	c.track = track
	if fellBack {
		c.modality = ModalityText
	} else if modality.Voice() {
		c.startGateLocked()
	}
	c.mu.Unlock()

	if fellBack && modality != ModalityText {
		c.emitter.ModalityChanged(string(modality), string(ModalityText))
	}
	return track, nil
}

// buildTrack returns a gated microphone track for voice and a silent track for text.
func (c *Controller) buildTrack(ctx context.Context, modality Modality) (media.Track, error) {
	if !modality.Voice() {
		return media.NewSilentTrack(c.cfg.CaptureFormat), nil
	}
	device := c.device
	if device == nil {
		device = capture.Unavailable
	}
	src, err := device.Open(ctx, c.cfg.CaptureFormat)
	if err != nil {
		var ce *capture.Error
		if !errors.As(err, &ce) {
			err = &capture.Error{Op: "open", Err: err}
		}
		return nil, err
	}
	return audio.NewGatedTrack(src, c.cfg.CaptureFormat, c.micMeter, c.stages...), nil
}

func (c *Controller) reportCaptureFailure(ctx context.Context, err error) {
	msg := statusMicUnavailable
	if errors.Is(err, capture.ErrPermissionDenied) {
		msg = statusMicDenied
	}
	logger.WarnContext(ctx, "Microphone capture failed", "session_id", c.id, "error", err)
	c.mu.Lock()
	c.setStatusLocked(msg)
	c.mu.Unlock()
}

// startGateLocked starts the gate loop if it is not running.
func (c *Controller) startGateLocked() {
	if c.gateCancel != nil || c.runCtx == nil {
		return
	}
	ctx, cancel := context.WithCancel(c.runCtx)
	c.gateCancel = cancel
	go c.gate.Run(ctx, c.cfg.GateTick)
}

// stopGate stops the gate loop and closes the attenuators.
func (c *Controller) stopGate() {
	c.mu.Lock()
	cancel := c.gateCancel
	c.gateCancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.gate.Reset()
	c.micMeter.Reset()
}

// prefetchToken warms the credential cache for the next negotiation in modality.
func (c *Controller) prefetchToken(ctx context.Context, modality Modality) {
	if _, err := c.creds.GetToken(ctx, string(modality)); err != nil {
		logger.DebugContext(ctx, "Credential prefetch failed", "modality", modality, "error", err)
	}
}

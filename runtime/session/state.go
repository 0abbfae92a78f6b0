package session

import (
	"fmt"
	"strings"
)

// State is the lifecycle state of a session.
type State string

// Session states.
const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateDisconnected State = "disconnected"
	StateFailed       State = "failed"
)

// Active reports whether s owns transport resources or has an attempt pending.
func (s State) Active() bool {
	return s == StateConnecting || s == StateConnected || s == StateReconnecting
}

// Modality selects what the session carries.
type Modality string

// Modalities.
const (
	ModalityText         Modality = "text"
	ModalityTextAndAudio Modality = "text_and_audio"
)

// Voice reports whether m carries live microphone audio.
func (m Modality) Voice() bool { return m == ModalityTextAndAudio }

// Valid reports whether m is a known modality.
func (m Modality) Valid() bool {
	return m == ModalityText || m == ModalityTextAndAudio
}

// ParseModality accepts "text", "text_and_audio" and the shorthands "voice" and "audio".
func ParseModality(s string) (Modality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(ModalityText):
		return ModalityText, nil
	case string(ModalityTextAndAudio), "voice", "audio":
		return ModalityTextAndAudio, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidModality, s)
}

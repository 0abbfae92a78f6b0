//go:build !portaudio

package main

import (
	"errors"

	"github.com/AltairaLabs/rtsession/runtime/media"
)

// openAudio reports that the binary was built without audio device support.
// Build with -tags portaudio to enable the microphone and speaker.
func openAudio(media.Format) (audioDevices, error) {
	return audioDevices{}, errors.New("built without portaudio support")
}

//go:build portaudio

package main

import (
	"fmt"

	"github.com/AltairaLabs/rtsession/runtime/capture/portaudio"
	"github.com/AltairaLabs/rtsession/runtime/media"
)

// openAudio opens the default microphone and speaker through PortAudio.
func openAudio(media.Format) (audioDevices, error) {
	terminate, err := portaudio.Initialize()
	if err != nil {
		return audioDevices{}, err
	}
	speaker, err := portaudio.NewSpeaker(media.SampleRate24kHz, media.SampleRate24kHz/50)
	if err != nil {
		terminate()
		return audioDevices{}, fmt.Errorf("speaker: %w", err)
	}
	return audioDevices{
		capture: portaudio.Device{},
		speaker: speaker,
		close: func() {
			_ = speaker.Close()
			terminate()
		},
	}, nil
}

// Package audio implements the microphone metering and noise-gate pipeline.
//
// Captured frames flow through a GatedTrack:
//
//	capture.Source -> SignalMeter (mic) -> GainStage -> GainStage -> transport
//
// A GateController runs on a fixed tick, independent of frame arrival. Each
// tick it reads the mic and remote SignalMeters, smooths the mic level with
// LevelMeter ballistics, decides whether the gate is open, and sets the same
// binary gain on every stage. Remote-party audio feeds the remote meter so the
// gate stays closed while the remote side is talking.
package audio

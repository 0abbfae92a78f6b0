package audio

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/AltairaLabs/rtsession/runtime/logger"
)

const (
	// DefaultMarginDB is added to non-negative mic thresholds.
	DefaultMarginDB = 10.0
	// DefaultTickInterval runs the control loop at 20 Hz.
	DefaultTickInterval = 50 * time.Millisecond
	// DefaultMicThresholdDB and DefaultRemoteThresholdDB are the initial thresholds.
	DefaultMicThresholdDB    = -45.0
	DefaultRemoteThresholdDB = -50.0

	diagnosticInterval = time.Second
)

// GateConfig holds the user-adjustable gate settings.
type GateConfig struct {
	// Enabled turns gating on. A disabled gate passes all audio.
	Enabled bool
	// MicThresholdDB is the level the smoothed mic signal must exceed.
	MicThresholdDB float64
	// RemoteThresholdDB is the level above which the remote party counts as speaking.
	RemoteThresholdDB float64
	// MarginDB is added to MicThresholdDB when it is >= 0. Zero uses DefaultMarginDB.
	MarginDB float64
}

// DefaultGateConfig returns an enabled gate with the default thresholds.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		Enabled:           true,
		MicThresholdDB:    DefaultMicThresholdDB,
		RemoteThresholdDB: DefaultRemoteThresholdDB,
		MarginDB:          DefaultMarginDB,
	}
}

// EffectiveThreshold applies the high-threshold margin: thresholds at or above
// 0 dB are raised by margin, negative thresholds are used as is.
func EffectiveThreshold(threshold, margin float64) float64 {
	if threshold >= 0 {
		return threshold + margin
	}
	return threshold
}

// EffectiveMicThreshold returns the mic threshold after the margin correction.
func (c GateConfig) EffectiveMicThreshold() float64 {
	margin := c.MarginDB
	if margin == 0 {
		margin = DefaultMarginDB
	}
	return EffectiveThreshold(c.MicThresholdDB, margin)
}

// Decide reports whether the gate is open for the given levels.
// Both comparisons are strict, so a level exactly at a threshold counts as
// below it for the mic and not speaking for the remote party.
func Decide(micDB, remoteDB float64, cfg GateConfig) bool {
	if !cfg.Enabled {
		return true
	}
	remoteSpeaking := remoteDB > cfg.RemoteThresholdDB
	return micDB > cfg.EffectiveMicThreshold() && !remoteSpeaking
}

// GateState is one evaluation of the gate.
type GateState struct {
	MicLevelDB        float64
	DisplayLevelDB    float64
	RemoteLevelDB     float64
	MicThresholdDB    float64
	RemoteThresholdDB float64
	Enabled           bool
	Open              bool
	Gain              float64
}

// Attenuator is one stage on the capture path.
type Attenuator interface {
	SetGain(gain float64)
	Gain() float64
	Apply(samples []int16) []int16
}

// GainStage multiplies samples by a gain that can be changed from any goroutine.
// A new stage starts closed.
type GainStage struct {
	bits atomic.Uint64
}

// NewGainStage creates a stage with gain 0.
func NewGainStage() *GainStage {
	return &GainStage{}
}

// SetGain sets the multiplier. Values outside [0, 1] are clamped.
func (s *GainStage) SetGain(gain float64) {
	switch {
	case gain < 0 || math.IsNaN(gain):
		gain = 0
	case gain > 1:
		gain = 1
	}
	s.bits.Store(math.Float64bits(gain))
}

// Gain returns the current multiplier.
func (s *GainStage) Gain() float64 {
	return math.Float64frombits(s.bits.Load())
}

// Apply scales samples in place and returns them.
func (s *GainStage) Apply(samples []int16) []int16 {
	g := s.Gain()
	switch g {
	case 1:
		return samples
	case 0:
		clear(samples)
		return samples
	}
	for i, v := range samples {
		samples[i] = int16(float64(v) * g)
	}
	return samples
}

// GateController runs the gate decision and drives the attenuation stages.
type GateController struct {
	mic    LevelSource
	remote LevelSource
	stages []Attenuator

	display LevelMeter

	mu       sync.Mutex
	cfg      GateConfig
	state    GateState
	onUpdate func(GateState)

	diag rate.Sometimes
}

// NewGateController creates a controller reading mic and remote levels and
// driving stages. All stages start closed.
func NewGateController(mic, remote LevelSource, cfg GateConfig, stages ...Attenuator) *GateController {
	g := &GateController{
		mic:    mic,
		remote: remote,
		stages: stages,
		cfg:    cfg,
		diag:   rate.Sometimes{Interval: diagnosticInterval},
	}
	g.state = GateState{
		MicLevelDB:        FloorDB,
		DisplayLevelDB:    FloorDB,
		RemoteLevelDB:     FloorDB,
		MicThresholdDB:    cfg.MicThresholdDB,
		RemoteThresholdDB: cfg.RemoteThresholdDB,
		Enabled:           cfg.Enabled,
	}
	g.apply(0)
	return g
}

// OnUpdate registers fn to receive every tick's state. It replaces any earlier callback.
func (g *GateController) OnUpdate(fn func(GateState)) {
	g.mu.Lock()
	g.onUpdate = fn
	g.mu.Unlock()
}

// SetThresholds changes both thresholds. The next tick uses them.
func (g *GateController) SetThresholds(micDB, remoteDB float64) {
	g.mu.Lock()
	g.cfg.MicThresholdDB = micDB
	g.cfg.RemoteThresholdDB = remoteDB
	g.mu.Unlock()
}

// SetEnabled turns gating on or off.
func (g *GateController) SetEnabled(enabled bool) {
	g.mu.Lock()
	g.cfg.Enabled = enabled
	g.mu.Unlock()
}

// Config returns the current settings.
func (g *GateController) Config() GateConfig {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg
}

// State returns the latest evaluation.
func (g *GateController) State() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Tick evaluates the gate once and applies the gain to every stage.
// A panic while evaluating closes the gate.
func (g *GateController) Tick() (state GateState) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Gate evaluation failed, muting microphone", "panic", r)
			g.apply(0)
			g.mu.Lock()
			g.state.Open = false
			g.state.Gain = 0
			state = g.state
			g.mu.Unlock()
		}
	}()

	cfg := g.Config()
	micDB := g.mic.LevelDB()
	remoteDB := g.remote.LevelDB()
	displayDB := g.display.Update(micDB)

	open := Decide(displayDB, remoteDB, cfg)
	gain := 0.0
	if open {
		gain = 1
	}
	g.apply(gain)

	state = GateState{
		MicLevelDB:        micDB,
		DisplayLevelDB:    displayDB,
		RemoteLevelDB:     remoteDB,
		MicThresholdDB:    cfg.MicThresholdDB,
		RemoteThresholdDB: cfg.RemoteThresholdDB,
		Enabled:           cfg.Enabled,
		Open:              open,
		Gain:              gain,
	}
	g.mu.Lock()
	g.state = state
	onUpdate := g.onUpdate
	g.mu.Unlock()

	g.diag.Do(func() {
		logger.Debug("Gate",
			"mic_db", micDB,
			"display_db", displayDB,
			"remote_db", remoteDB,
			"effective_threshold_db", cfg.EffectiveMicThreshold(),
			"open", open)
	})

	if onUpdate != nil {
		onUpdate(state)
	}
	return state
}

// Run ticks every interval until ctx is cancelled, then closes the gate.
func (g *GateController) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer g.apply(0)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Tick()
		}
	}
}

// Reset clears the display ballistics and closes the gate.
func (g *GateController) Reset() {
	g.display.Reset()
	g.apply(0)
	g.mu.Lock()
	g.state.Open = false
	g.state.Gain = 0
	g.state.DisplayLevelDB = FloorDB
	g.mu.Unlock()
}

func (g *GateController) apply(gain float64) {
	for _, s := range g.stages {
		s.SetGain(gain)
	}
}

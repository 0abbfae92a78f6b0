package audio

import (
	"math"
	"sync"
	"time"
)

const (
	// FloorDB is the lowest level any meter reports.
	FloorDB = -100.0

	// levelEpsilon keeps log10 finite for digital silence.
	levelEpsilon = 1e-5

	attackWeight  = 0.7
	releaseWeight = 0.1

	// DefaultStaleAfter is how long a SignalMeter keeps its last reading without new audio.
	DefaultStaleAfter = 250 * time.Millisecond
)

// RMS returns the root mean square of samples in [-1, 1].
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// LevelDB converts samples to dBFS, clamped to FloorDB.
func LevelDB(samples []float32) float64 {
	return RMSToDB(RMS(samples))
}

// RMSToDB converts a linear RMS value to dBFS, clamped to FloorDB.
func RMSToDB(rms float64) float64 {
	db := 20 * math.Log10(math.Max(rms, levelEpsilon))
	if db < FloorDB || math.IsNaN(db) {
		return FloorDB
	}
	return db
}

// LevelMeter smooths raw dB readings with fast attack and slow release.
// The zero value starts at FloorDB.
type LevelMeter struct {
	mu      sync.Mutex
	display float64
	primed  bool
}

// Update folds raw into the display value and returns it.
// Rising readings blend 70/30 toward raw, falling readings 10/90.
func (m *LevelMeter) Update(raw float64) float64 {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		raw = FloorDB
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.primed {
		m.display = FloorDB
		m.primed = true
	}
	if raw > m.display {
		m.display = attackWeight*raw + (1-attackWeight)*m.display
	} else {
		m.display = releaseWeight*raw + (1-releaseWeight)*m.display
	}
	return m.display
}

// Display returns the current smoothed value.
func (m *LevelMeter) Display() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.primed {
		return FloorDB
	}
	return m.display
}

// Reset returns the meter to FloorDB.
func (m *LevelMeter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.display = FloorDB
	m.primed = true
}

// LevelSource reports a current level in dBFS.
type LevelSource interface {
	LevelDB() float64
}

// SignalMeter records the level of the most recent frame of a stream.
// A reading older than its staleness window reports FloorDB, so a stream that
// stops delivering audio reads as silence.
type SignalMeter struct {
	mu         sync.Mutex
	rms        float64
	lastSeen   time.Time
	staleAfter time.Duration
	now        func() time.Time
}

// NewSignalMeter creates a meter. staleAfter <= 0 uses DefaultStaleAfter.
func NewSignalMeter(staleAfter time.Duration) *SignalMeter {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &SignalMeter{staleAfter: staleAfter, now: time.Now}
}

// Observe records samples in [-1, 1].
func (m *SignalMeter) Observe(samples []float32) {
	rms := RMS(samples)
	m.mu.Lock()
	m.rms = rms
	m.lastSeen = m.now()
	m.mu.Unlock()
}

// ObservePCM records PCM16 samples.
func (m *SignalMeter) ObservePCM(samples []int16) {
	if len(samples) == 0 {
		return
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	m.mu.Lock()
	m.rms = rms
	m.lastSeen = m.now()
	m.mu.Unlock()
}

// RMS returns the latest linear RMS, or 0 once stale.
func (m *SignalMeter) RMS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastSeen.IsZero() || m.now().Sub(m.lastSeen) > m.staleAfter {
		return 0
	}
	return m.rms
}

// LevelDB returns the latest level in dBFS, or FloorDB once stale.
func (m *SignalMeter) LevelDB() float64 {
	return RMSToDB(m.RMS())
}

// Reset forgets the last reading.
func (m *SignalMeter) Reset() {
	m.mu.Lock()
	m.rms = 0
	m.lastSeen = time.Time{}
	m.mu.Unlock()
}

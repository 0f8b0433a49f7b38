package stt

import "github.com/fleetdeck/fleetdeck/pkg/audio"

// GainConfig tunes the adaptive input gain. After the system plays its own
// audio, echo cancellation on the capture device can suppress the live
// microphone below the backend's recognition threshold; gain compensation
// recovers intelligibility without over-amplifying background noise.
type GainConfig struct {
	// TargetRMS is the RMS energy level the gain steers toward.
	TargetRMS float64

	// Smoothing is the exponential filter factor per frame.
	Smoothing float64

	// MaxGain caps amplification.
	MaxGain float64

	// ApplyThreshold is the gain below which frames pass through
	// unmodified, avoiding an unnecessary copy.
	ApplyThreshold float64
}

// DefaultGainConfig returns the tuned gain parameters.
func DefaultGainConfig() GainConfig {
	return GainConfig{
		TargetRMS:      0.08,
		Smoothing:      0.15,
		MaxGain:        8.0,
		ApplyThreshold: 1.2,
	}
}

// GainController smooths a per-frame gain estimate and applies it to
// outgoing audio. Not safe for concurrent use.
type GainController struct {
	cfg     GainConfig
	current float64
}

// NewGainController creates a controller at unity gain.
func NewGainController(cfg GainConfig) *GainController {
	if cfg.TargetRMS <= 0 {
		cfg = DefaultGainConfig()
	}
	return &GainController{cfg: cfg, current: 1.0}
}

// Process updates the gain estimate from the frame's measured energy and
// returns the frame with gain applied when it exceeds the threshold.
func (g *GainController) Process(frame []byte) []byte {
	rms := audio.RMSEnergy(frame)
	if rms > 0 {
		desired := g.cfg.TargetRMS / rms
		if desired < 1.0 {
			desired = 1.0
		}
		if desired > g.cfg.MaxGain {
			desired = g.cfg.MaxGain
		}
		g.current += g.cfg.Smoothing * (desired - g.current)
		if g.current < 1.0 {
			g.current = 1.0
		}
		if g.current > g.cfg.MaxGain {
			g.current = g.cfg.MaxGain
		}
	}
	if g.current > g.cfg.ApplyThreshold {
		return audio.ApplyGain(frame, g.current)
	}
	return frame
}

// Current returns the present gain estimate.
func (g *GainController) Current() float64 {
	return g.current
}

// Reset returns the controller to unity gain for a new utterance.
func (g *GainController) Reset() {
	g.current = 1.0
}

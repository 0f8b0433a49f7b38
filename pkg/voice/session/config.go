package session

import (
	"time"

	"go.uber.org/zap"

	"github.com/fleetdeck/fleetdeck/pkg/agent"
	"github.com/fleetdeck/fleetdeck/pkg/dispatch"
	"github.com/fleetdeck/fleetdeck/pkg/voice/filler"
	"github.com/fleetdeck/fleetdeck/pkg/voice/stt"
	"github.com/fleetdeck/fleetdeck/pkg/voice/tts"
)

// Config carries the session's timing knobs. Every duration here drives a
// loop-owned timer slot; tests shrink them to keep runs fast.
type Config struct {
	// PostSpeechPauseMin and PostSpeechPauseMax bound the randomized
	// natural pause between the end of playback and re-opening the mic.
	PostSpeechPauseMin time.Duration
	PostSpeechPauseMax time.Duration

	// WatchdogTimeout bounds thinking and dispatching; on expiry the
	// session force-recovers to listening.
	WatchdogTimeout time.Duration

	// FirstNudgeAfter is the listening silence before the first "still
	// here" prompt; SecondNudgeAfter is the additional silence before the
	// second and last one.
	FirstNudgeAfter  time.Duration
	SecondNudgeAfter time.Duration

	// ContinuationFillerAfter and PatienceFillerAfter schedule filler
	// escalation, both measured from the start of the turn.
	ContinuationFillerAfter time.Duration
	PatienceFillerAfter     time.Duration

	// EmptyTranscriptLimit is how many consecutive empty recognition
	// results trigger the mic-suppression hint.
	EmptyTranscriptLimit int

	// EventBuffer sizes the outward event channel.
	EventBuffer int

	// Streamer configures per-turn sentence synthesis.
	Streamer tts.StreamerConfig

	// Preamble personalizes the system message opening every agent call.
	Preamble agent.PreambleContext
}

// DefaultConfig returns the standard session configuration.
func DefaultConfig() Config {
	return Config{
		PostSpeechPauseMin:      200 * time.Millisecond,
		PostSpeechPauseMax:      500 * time.Millisecond,
		WatchdogTimeout:         45 * time.Second,
		FirstNudgeAfter:         20 * time.Second,
		SecondNudgeAfter:        25 * time.Second,
		ContinuationFillerAfter: 3 * time.Second,
		PatienceFillerAfter:     6 * time.Second,
		EmptyTranscriptLimit:    2,
		EventBuffer:             64,
		Streamer:                tts.DefaultStreamerConfig(),
	}
}

// Dependencies are the collaborators a session needs. All are injected;
// the session owns the recognizer's lifecycle, the rest are shared.
type Dependencies struct {
	Agent      agent.Agent
	Recognizer *stt.Manager
	Synth      tts.Synthesizer
	Fillers    *filler.Service
	Dispatch   *dispatch.Bridge
	Logger     *zap.Logger
}

// Package tts turns the agent's streamed response text into synthesized
// speech, one sentence at a time.
package tts

import "context"

// Synthesizer converts one unit of text to audio. Implementations must
// honor context cancellation promptly; a cancelled synthesis returns the
// context error.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Options configures the voice used for synthesis.
type Options struct {
	// Voice is the backend voice identity.
	Voice string

	// SampleRate of the returned PCM audio. Default: 24000.
	SampleRate int

	// Speed multiplier. Zero means backend default.
	Speed float64

	// Language code. Empty means backend default.
	Language string
}

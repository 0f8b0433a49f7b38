package session

import (
	"time"

	"github.com/fleetdeck/fleetdeck/pkg/actions"
	"github.com/fleetdeck/fleetdeck/pkg/dispatch"
)

// EventType discriminates the session's outward event stream.
type EventType int

const (
	// EventStateChanged reports a state transition.
	EventStateChanged EventType = iota
	// EventTranscript reports an appended transcript entry.
	EventTranscript
	// EventAudio carries one synthesized sentence of the response.
	EventAudio
	// EventFiller carries a latency-masking filler phrase.
	EventFiller
	// EventNudge carries a "still here" prompt after prolonged silence.
	EventNudge
	// EventAction reports a UI-highlight intent.
	EventAction
	// EventDispatch relays a dispatch-call progress event unchanged.
	EventDispatch
	// EventMicSuppressed hints that the microphone signal appears
	// suppressed, e.g. by echo cancellation after playback.
	EventMicSuppressed
	// EventError reports a recoverable failure; the session stays usable.
	EventError
)

// String returns a human-readable event type name.
func (t EventType) String() string {
	switch t {
	case EventStateChanged:
		return "state_changed"
	case EventTranscript:
		return "transcript"
	case EventAudio:
		return "audio"
	case EventFiller:
		return "filler"
	case EventNudge:
		return "nudge"
	case EventAction:
		return "action"
	case EventDispatch:
		return "dispatch"
	case EventMicSuppressed:
		return "mic_suppressed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// TranscriptEntry is one immutable line of the session transcript.
type TranscriptEntry struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is one unit of the session's outward stream. Exactly the fields
// implied by Type are set.
type Event struct {
	Type EventType

	// State is set for EventStateChanged.
	State State

	// Entry is set for EventTranscript.
	Entry TranscriptEntry

	// Text and Audio are set for EventAudio, EventFiller, and
	// EventNudge. Audio may be nil when synthesis was unavailable.
	Text  string
	Audio []byte

	// Action is set for EventAction.
	Action *actions.Item

	// Dispatch is set for EventDispatch.
	Dispatch *dispatch.Event

	// Err is set for EventError.
	Err error
}

package session

// State is the current phase of a voice session.
type State int

const (
	// StateIdle is before start and after end.
	StateIdle State = iota
	// StateListening is when the session is capturing user speech.
	StateListening
	// StateThinking is when the agent is generating a response.
	StateThinking
	// StateSpeaking is when synthesized audio is being played.
	StateSpeaking
	// StateDispatching is while an AI-to-human dispatch call is live.
	StateDispatching
	// StateDispatchReporting is while the call outcome is summarized.
	StateDispatchReporting
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	case StateDispatching:
		return "dispatching"
	case StateDispatchReporting:
		return "dispatch_reporting"
	default:
		return "unknown"
	}
}

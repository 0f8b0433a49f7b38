package agent

import (
	"fmt"
	"strings"
)

// PreambleContext carries the personalization fields woven into the system
// message that opens every reconstructed conversation history.
type PreambleContext struct {
	// OperatorName is the name the agent should address the user by.
	OperatorName string

	// Persona describes the assistant's voice and manner.
	Persona string

	// RiskTone adjusts urgency based on the fleet's current risk posture,
	// e.g. "calm", "elevated", "urgent".
	RiskTone string

	// TaskContext summarizes what the user is currently working on.
	TaskContext string
}

const defaultPersona = "a concise, professional fleet operations assistant"

// BuildPreamble synthesizes the system message that precedes the
// conversation history on every agent call.
func BuildPreamble(pc PreambleContext) Message {
	persona := strings.TrimSpace(pc.Persona)
	if persona == "" {
		persona = defaultPersona
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s speaking with a fleet operator over a live voice channel. ", persona)
	b.WriteString("Keep responses short and speakable; the user hears them, not reads them.")
	if name := strings.TrimSpace(pc.OperatorName); name != "" {
		fmt.Fprintf(&b, " The operator's name is %s.", name)
	}
	if tone := strings.TrimSpace(pc.RiskTone); tone != "" {
		fmt.Fprintf(&b, " Current fleet risk tone: %s; match your urgency to it.", tone)
	}
	if task := strings.TrimSpace(pc.TaskContext); task != "" {
		fmt.Fprintf(&b, " The operator is currently working on: %s.", task)
	}

	return Message{Role: RoleSystem, Content: b.String()}
}

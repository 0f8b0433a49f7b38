// Package agent defines the boundary to the conversational agent. The
// agent itself is an external collaborator; the voice pipeline consumes it
// as a black-box producer of incremental response chunks.
package agent

import (
	"context"
	"encoding/json"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation history handed to the agent.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ChunkType discriminates the three kinds of response stream units.
type ChunkType int

const (
	// ChunkText is an incremental text delta of the spoken response.
	ChunkText ChunkType = iota
	// ChunkToolCall announces that the agent started a tool invocation.
	ChunkToolCall
	// ChunkToolResult carries the result of a completed tool invocation.
	ChunkToolResult
)

// String returns a human-readable chunk type name.
func (t ChunkType) String() string {
	switch t {
	case ChunkText:
		return "text"
	case ChunkToolCall:
		return "tool_call"
	case ChunkToolResult:
		return "tool_result"
	default:
		return "unknown"
	}
}

// Chunk is one unit of the agent's streamed response.
type Chunk struct {
	Type ChunkType

	// Text is set for ChunkText.
	Text string

	// ToolName is set for ChunkToolCall and ChunkToolResult.
	ToolName string

	// ToolArgs is set for ChunkToolCall and ChunkToolResult.
	ToolArgs json.RawMessage

	// ToolResult is set for ChunkToolResult.
	ToolResult json.RawMessage
}

// Stream delivers one agent response incrementally. Recv returns io.EOF
// when the response is complete. Implementations must honor cancellation
// of the context passed to Respond: after cancel, Recv returns promptly
// with the context error.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Agent produces a streamed response for a conversation history.
type Agent interface {
	Respond(ctx context.Context, history []Message) (Stream, error)
}

package session

import (
	"context"
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/fleetdeck/fleetdeck/pkg/actions"
	"github.com/fleetdeck/fleetdeck/pkg/agent"
	"github.com/fleetdeck/fleetdeck/pkg/voice/tts"
)

// ErrWatchdogExpired is reported when a turn or dispatch call exceeded the
// watchdog timeout and the session was force-recovered to listening.
var ErrWatchdogExpired = errors.New("turn watchdog expired")

type turnEventKind int

const (
	turnToolCall turnEventKind = iota
	turnAction
	turnDispatchStarted
	turnFailed
	turnFinished
)

type turnEvent struct {
	kind turnEventKind
	tool string
	item *actions.Item
	text string
	err  error
}

// runTurn consumes one agent response stream: text deltas flow straight
// into the sentence streamer, tool activity is reported back to the loop.
// Runs in its own goroutine; cancellation of ctx abandons the turn
// silently.
func (s *Session) runTurn(ctx context.Context, history []agent.Message, streamer *tts.SentenceStreamer, out chan<- turnEvent) {
	send := func(ev turnEvent) {
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	}
	fail := func(err error) {
		streamer.Abort()
		if ctx.Err() != nil {
			return
		}
		send(turnEvent{kind: turnFailed, err: err})
	}

	stream, err := s.deps.Agent.Respond(ctx, history)
	if err != nil {
		fail(err)
		return
	}
	defer stream.Close()

	var full strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fail(err)
			return
		}

		switch chunk.Type {
		case agent.ChunkText:
			full.WriteString(chunk.Text)
			streamer.FeedText(chunk.Text)

		case agent.ChunkToolCall:
			s.logger.Debug("tool call started", zap.String("tool", chunk.ToolName))
			send(turnEvent{kind: turnToolCall, tool: chunk.ToolName})

		case agent.ChunkToolResult:
			if item := actions.Interpret(chunk.ToolName, chunk.ToolArgs, chunk.ToolResult); item != nil {
				send(turnEvent{kind: turnAction, item: item})
			}
			if chunk.ToolName == "start_dispatch_call" {
				send(turnEvent{kind: turnDispatchStarted})
			}
		}
	}

	streamer.Finish()

	// Keyword fallback: topics the response mentions without having
	// called a tool for them still get a low-priority highlight.
	for _, item := range actions.ScanText(full.String()) {
		it := item
		send(turnEvent{kind: turnAction, item: &it})
	}

	send(turnEvent{kind: turnFinished, text: full.String()})
}

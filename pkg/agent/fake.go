package agent

import (
	"context"
	"io"
	"sync"
	"time"
)

// ScriptedAgent replays a fixed chunk sequence. It exists for tests and
// local development without a live agent backend.
type ScriptedAgent struct {
	// Chunks is the response replayed for every Respond call.
	Chunks []Chunk

	// PerChunkDelay, if set, is waited before delivering each chunk.
	PerChunkDelay time.Duration

	mu    sync.Mutex
	calls [][]Message
}

// Respond returns a stream that replays the scripted chunks.
func (a *ScriptedAgent) Respond(ctx context.Context, history []Message) (Stream, error) {
	a.mu.Lock()
	cp := make([]Message, len(history))
	copy(cp, history)
	a.calls = append(a.calls, cp)
	chunks := make([]Chunk, len(a.Chunks))
	copy(chunks, a.Chunks)
	a.mu.Unlock()

	return &scriptedStream{
		ctx:    ctx,
		chunks: chunks,
		delay:  a.PerChunkDelay,
	}, nil
}

// Calls returns the histories passed to Respond so far.
func (a *ScriptedAgent) Calls() [][]Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([][]Message, len(a.calls))
	copy(out, a.calls)
	return out
}

type scriptedStream struct {
	ctx    context.Context
	chunks []Chunk
	delay  time.Duration
	pos    int
}

func (s *scriptedStream) Recv() (Chunk, error) {
	if err := s.ctx.Err(); err != nil {
		return Chunk{}, err
	}
	if s.pos >= len(s.chunks) {
		return Chunk{}, io.EOF
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-s.ctx.Done():
			return Chunk{}, s.ctx.Err()
		}
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

func (s *scriptedStream) Close() error { return nil }

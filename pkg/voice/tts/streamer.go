package tts

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Chunk is one synthesized sentence. Audio is nil when synthesis of that
// sentence failed; the text still flows so the caller can display it.
type Chunk struct {
	Text  string
	Audio []byte
}

// StreamerConfig configures a SentenceStreamer.
type StreamerConfig struct {
	// MaxPipeline bounds how many sentences may synthesize concurrently.
	// Emission order stays strict sentence order regardless.
	MaxPipeline int

	// SplitSpoken enables the spoken/detail tag split.
	SplitSpoken bool

	// Split is consulted when SplitSpoken is set.
	Split SplitConfig
}

// DefaultStreamerConfig returns the standard streamer configuration.
func DefaultStreamerConfig() StreamerConfig {
	return StreamerConfig{
		MaxPipeline: 2,
		SplitSpoken: true,
		Split:       DefaultSplitConfig(),
	}
}

type feedMsg struct {
	text   string
	finish bool
}

// SentenceStreamer consumes incremental response text, segments it into
// sentences, and synthesizes each sentence as soon as it completes.
// Sentence N+1 may synthesize while N's audio is being played; chunks are
// delivered on Chunks in strict sentence order. Abort discards all
// pending and in-flight work immediately.
type SentenceStreamer struct {
	synth  Synthesizer
	cfg    StreamerConfig
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	in       chan feedMsg
	out      chan Chunk
	finished atomic.Bool

	mu     sync.Mutex
	detail strings.Builder
	err    error
}

// NewSentenceStreamer starts a streamer for one response turn.
func NewSentenceStreamer(ctx context.Context, synth Synthesizer, cfg StreamerConfig, logger *zap.Logger) *SentenceStreamer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxPipeline <= 0 {
		cfg.MaxPipeline = 2
	}
	sctx, cancel := context.WithCancel(ctx)
	s := &SentenceStreamer{
		synth:  synth,
		cfg:    cfg,
		logger: logger,
		ctx:    sctx,
		cancel: cancel,
		in:     make(chan feedMsg, 64),
		out:    make(chan Chunk, 16),
	}
	go s.run()
	return s
}

// FeedText accepts an incremental text delta. No-op after Finish or Abort.
func (s *SentenceStreamer) FeedText(delta string) {
	if s.finished.Load() || delta == "" {
		return
	}
	select {
	case s.in <- feedMsg{text: delta}:
	case <-s.ctx.Done():
	}
}

// Finish signals that no more text is coming. Any trailing partial
// sentence is flushed as a final sentence. Chunks closes once all audio
// has been emitted.
func (s *SentenceStreamer) Finish() {
	if s.finished.Swap(true) {
		return
	}
	select {
	case s.in <- feedMsg{finish: true}:
	case <-s.ctx.Done():
	}
}

// Abort immediately discards pending and in-flight synthesis work.
func (s *SentenceStreamer) Abort() {
	s.finished.Store(true)
	s.cancel()
}

// Chunks returns the ordered stream of synthesized sentences. The channel
// closes when the turn's audio is fully emitted or the streamer aborts.
func (s *SentenceStreamer) Chunks() <-chan Chunk {
	return s.out
}

// Detail returns the accumulated detail-only text of the turn.
func (s *SentenceStreamer) Detail() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detail.String()
}

// Err returns the first synthesis failure, if any. Cancellation is not an
// error.
func (s *SentenceStreamer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *SentenceStreamer) run() {
	results := make(chan chan Chunk, 128)
	emitterDone := make(chan struct{})
	go s.emit(results, emitterDone)

	defer func() {
		close(results)
		<-emitterDone
		s.cancel()
		close(s.out)
	}()

	buf := NewSentenceBuffer()
	var splitter *SpokenSplitter
	if s.cfg.SplitSpoken {
		splitter = NewSpokenSplitter(s.cfg.Split)
	}
	sem := make(chan struct{}, s.cfg.MaxPipeline)

	feedSpoken := func(text string) {
		for _, sentence := range buf.Add(text) {
			s.dispatch(results, sem, sentence)
		}
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.in:
			if msg.finish {
				if splitter != nil {
					spoken, detail := splitter.Finish()
					s.addDetail(detail)
					feedSpoken(spoken)
				}
				if tail := buf.Flush(); tail != "" {
					s.dispatch(results, sem, tail)
				}
				return
			}
			text := msg.text
			if splitter != nil {
				spoken, detail := splitter.Feed(text)
				s.addDetail(detail)
				text = spoken
			}
			feedSpoken(text)
		}
	}
}

// dispatch queues one sentence for synthesis, preserving order through
// the results queue while the synthesis itself runs pipelined.
func (s *SentenceStreamer) dispatch(results chan chan Chunk, sem chan struct{}, sentence string) {
	sentence = strings.TrimSpace(sentence)
	if sentence == "" {
		return
	}

	rc := make(chan Chunk, 1)
	select {
	case results <- rc:
	case <-s.ctx.Done():
		return
	}
	select {
	case sem <- struct{}{}:
	case <-s.ctx.Done():
		close(rc)
		return
	}

	go func() {
		defer func() { <-sem }()
		audio, err := s.synth.Synthesize(s.ctx, sentence)
		if err != nil {
			if s.ctx.Err() == nil && !errors.Is(err, context.Canceled) {
				s.setErr(err)
				s.logger.Warn("sentence synthesis failed", zap.Error(err))
			}
			rc <- Chunk{Text: sentence}
			return
		}
		rc <- Chunk{Text: sentence, Audio: audio}
	}()
}

func (s *SentenceStreamer) emit(results chan chan Chunk, done chan struct{}) {
	defer close(done)
	for rc := range results {
		select {
		case chunk, ok := <-rc:
			if !ok || s.ctx.Err() != nil {
				continue
			}
			select {
			case s.out <- chunk:
			case <-s.ctx.Done():
			}
		case <-s.ctx.Done():
			// Aborted: stop waiting on in-flight syntheses.
		}
	}
}

func (s *SentenceStreamer) addDetail(text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	s.detail.WriteString(text)
	s.mu.Unlock()
}

func (s *SentenceStreamer) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

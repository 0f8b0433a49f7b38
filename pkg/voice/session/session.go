// Package session orchestrates one realtime voice interaction: speech
// capture, recognition, agent turns, sentence-streamed synthesis, filler
// phrases, silence nudges, and dispatch-call relay, all driven by a single
// select loop that owns every timer and state transition.
package session

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fleetdeck/fleetdeck/pkg/actions"
	"github.com/fleetdeck/fleetdeck/pkg/agent"
	"github.com/fleetdeck/fleetdeck/pkg/dispatch"
	"github.com/fleetdeck/fleetdeck/pkg/voice/filler"
	"github.com/fleetdeck/fleetdeck/pkg/voice/stt"
	"github.com/fleetdeck/fleetdeck/pkg/voice/tts"
)

type inboundKind int

const (
	inAudio inboundKind = iota
	inSpeechStart
	inSpeechEnd
	inInterrupt
)

type inbound struct {
	kind  inboundKind
	frame []byte
}

// utteranceResult delivers one finalized transcript from the recognizer
// goroutine back into the loop.
type utteranceResult struct {
	seq  int
	text string
}

// Session is one voice interaction. All mutable state is owned by the Run
// loop; the exported accessors read snapshots under a mutex.
type Session struct {
	id     string
	cfg    Config
	deps   Dependencies
	logger *zap.Logger

	in     chan inbound
	events chan Event
	end    chan struct{}
	endOne sync.Once

	rng *rand.Rand

	mu         sync.Mutex
	state      State
	transcript []TranscriptEntry
	items      []actions.Item
	startedAt  time.Time
	endedAt    time.Time
}

// New creates a session in the idle state. Run starts it.
func New(cfg Config, deps Dependencies) *Session {
	if cfg.WatchdogTimeout == 0 {
		cfg = DefaultConfig()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Session{
		id:     id,
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(zap.String("session_id", id)),
		in:     make(chan inbound, 256),
		events: make(chan Event, cfg.EventBuffer),
		end:    make(chan struct{}),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript returns a copy of the transcript so far.
func (s *Session) Transcript() []TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TranscriptEntry, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Actions returns a copy of the UI-highlight items produced so far.
func (s *Session) Actions() []actions.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]actions.Item, len(s.items))
	copy(out, s.items)
	return out
}

// Events returns the outward event stream. It closes when the session
// ends.
func (s *Session) Events() <-chan Event { return s.events }

// PushAudio forwards one captured PCM frame into the session.
func (s *Session) PushAudio(frame []byte) { s.send(inbound{kind: inAudio, frame: frame}) }

// SpeechStart marks the start of a user utterance.
func (s *Session) SpeechStart() { s.send(inbound{kind: inSpeechStart}) }

// SpeechEnd marks the end of a user utterance.
func (s *Session) SpeechEnd() { s.send(inbound{kind: inSpeechEnd}) }

// Interrupt requests barge-in: the current response is abandoned and the
// session returns to listening. Ignored while a dispatch call is live.
func (s *Session) Interrupt() { s.send(inbound{kind: inInterrupt}) }

// End terminates the session from any state. Idempotent.
func (s *Session) End() {
	s.endOne.Do(func() { close(s.end) })
}

func (s *Session) send(msg inbound) {
	select {
	case s.in <- msg:
	case <-s.end:
	}
}

// Run drives the session until End, context cancellation, or an
// unrecoverable setup failure. It must be called exactly once.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()

	var (
		nudge      timerSlot
		watchdog   timerSlot
		fillerNext timerSlot
		pause      timerSlot
	)

	// Turn-scoped state, valid between startTurn and finishTurn.
	var (
		turnCancel    context.CancelFunc
		streamer      *tts.SentenceStreamer
		turnEvents    chan turnEvent
		chunks        <-chan tts.Chunk
		turnDone      bool
		chunksDone    bool
		pendingText   string
		fillerSent    bool
		fillerStage   filler.Stage
		fillerTopic   string
		captureSeq    int
		capturing     bool
		emptyStreak   int
		suppressed    bool
		nudgeCount    int
		utteranceCh   = make(chan utteranceResult, 1)
		dispatchCh    <-chan dispatch.Event
	)

	if s.deps.Dispatch != nil {
		dispatchCh = s.deps.Dispatch.Subscribe(s.id)
		defer s.deps.Dispatch.Unsubscribe(s.id)
	}

	defer func() {
		if turnCancel != nil {
			turnCancel()
		}
		if streamer != nil {
			streamer.Abort()
		}
		nudge.Stop()
		watchdog.Stop()
		fillerNext.Stop()
		pause.Stop()
		if s.deps.Recognizer != nil {
			s.deps.Recognizer.Close()
		}
		s.mu.Lock()
		s.endedAt = time.Now()
		s.mu.Unlock()
		s.setState(StateIdle)
		close(s.events)
		s.logger.Info("session ended")
	}()

	s.setState(StateListening)
	if s.deps.Recognizer != nil {
		s.deps.Recognizer.Prewarm(ctx)
	}
	nudge.Reset(s.cfg.FirstNudgeAfter)

	playFiller := func(topic string, stage filler.Stage) {
		if s.deps.Fillers == nil {
			return
		}
		p := s.deps.Fillers.Get(topic, stage)
		s.emit(Event{Type: EventFiller, Text: p.Text, Audio: p.Audio})
	}

	toListening := func() {
		watchdog.Stop()
		fillerNext.Stop()
		pause.Stop()
		nudgeCount = 0
		nudge.Reset(s.cfg.FirstNudgeAfter)
		s.setState(StateListening)
	}

	abortTurn := func() {
		if turnCancel != nil {
			turnCancel()
			turnCancel = nil
		}
		if streamer != nil {
			streamer.Abort()
			streamer = nil
		}
		chunks = nil
		turnEvents = nil
		turnDone, chunksDone = false, false
		pendingText = ""
	}

	startTurn := func(history []agent.Message, st State) {
		tctx, cancel := context.WithCancel(ctx)
		turnCancel = cancel
		streamer = tts.NewSentenceStreamer(tctx, s.deps.Synth, s.cfg.Streamer, s.logger)
		chunks = streamer.Chunks()
		turnEvents = make(chan turnEvent, 16)
		turnDone, chunksDone = false, false
		pendingText = ""
		fillerSent = false
		fillerStage = filler.StageContinuation
		fillerTopic = filler.CategoryGeneral
		nudge.Stop()
		watchdog.Reset(s.cfg.WatchdogTimeout)
		fillerNext.Reset(s.cfg.ContinuationFillerAfter)
		s.setState(st)
		go s.runTurn(tctx, history, streamer, turnEvents)
	}

	// finishTurn runs once both the agent stream and the audio emission
	// have drained. Records the assistant transcript, then either waits
	// out the natural pause or keeps holding for a dispatch outcome.
	finishTurn := func() {
		text := stripSpokenTags(pendingText, s.cfg.Streamer.Split)
		if streamer != nil {
			if detail := strings.TrimSpace(streamer.Detail()); detail != "" {
				if text != "" {
					text += " "
				}
				text += detail
			}
		}
		if text != "" {
			s.appendTranscript("assistant", text)
		}
		turnCancel = nil
		streamer = nil
		chunks = nil
		turnEvents = nil
		turnDone, chunksDone = false, false
		pendingText = ""
		fillerNext.Stop()

		switch s.State() {
		case StateDispatching:
			// The call is live; hold until the outcome event arrives.
			watchdog.Reset(s.cfg.WatchdogTimeout)
		case StateSpeaking:
			watchdog.Stop()
			pause.Reset(s.pauseDuration())
		default:
			// Response produced no audio at all.
			toListening()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-s.end:
			return nil

		case msg := <-s.in:
			switch msg.kind {
			case inAudio:
				nudgeCount = 0
				if s.State() == StateListening {
					nudge.Reset(s.cfg.FirstNudgeAfter)
				}
				if capturing && s.deps.Recognizer != nil {
					s.deps.Recognizer.SendAudio(msg.frame)
				}

			case inSpeechStart:
				st := s.State()
				if st == StateDispatching {
					s.logger.Debug("speech start ignored during dispatch call")
					continue
				}
				if st != StateListening {
					// Barge-in without an explicit interrupt message.
					abortTurn()
					toListening()
				}
				capturing = true
				captureSeq++
				nudgeCount = 0
				nudge.Reset(s.cfg.FirstNudgeAfter)
				if s.deps.Recognizer != nil {
					s.deps.Recognizer.ResetUtterance()
					// Claim the connecting state before yielding so frames
					// that beat the dial goroutine are buffered, not dropped.
					if s.deps.Recognizer.BeginConnect() {
						go func() {
							err := s.deps.Recognizer.Connect(ctx)
							if err == nil || errors.Is(err, stt.ErrSuperseded) {
								return
							}
							s.logger.Warn("recognition connect failed", zap.Error(err))
							s.emit(Event{Type: EventError, Err: err})
						}()
					}
				}

			case inSpeechEnd:
				if !capturing {
					continue
				}
				capturing = false
				if s.deps.Recognizer == nil {
					continue
				}
				seq := captureSeq
				go func() {
					text, _ := s.deps.Recognizer.EndUtterance(ctx)
					select {
					case utteranceCh <- utteranceResult{seq: seq, text: text}:
					case <-ctx.Done():
					}
				}()

			case inInterrupt:
				switch s.State() {
				case StateDispatching:
					s.logger.Debug("interrupt ignored during dispatch call")
				case StateThinking, StateSpeaking, StateDispatchReporting:
					s.logger.Info("barge-in, abandoning response")
					abortTurn()
					if capturing && s.deps.Recognizer != nil {
						s.deps.Recognizer.CancelUtterance()
						capturing = false
					}
					toListening()
				}
			}

		case res := <-utteranceCh:
			if res.seq != captureSeq || capturing || s.State() != StateListening {
				continue
			}
			text := strings.TrimSpace(res.text)
			if text == "" {
				emptyStreak++
				s.logger.Debug("empty recognition result", zap.Int("streak", emptyStreak))
				if emptyStreak >= s.cfg.EmptyTranscriptLimit && !suppressed {
					suppressed = true
					s.emit(Event{Type: EventMicSuppressed})
				}
				nudge.Reset(s.cfg.FirstNudgeAfter)
				continue
			}
			emptyStreak = 0
			suppressed = false
			s.appendTranscript("user", text)
			startTurn(s.history(""), StateThinking)

		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				chunksDone = true
				if turnDone {
					finishTurn()
				}
				continue
			}
			switch s.State() {
			case StateThinking, StateDispatchReporting:
				s.setState(StateSpeaking)
				fillerNext.Stop()
			}
			// Each emitted chunk is progress; only a stalled turn should
			// trip forced recovery.
			watchdog.Reset(s.cfg.WatchdogTimeout)
			s.emit(Event{Type: EventAudio, Text: chunk.Text, Audio: chunk.Audio})

		case ev := <-turnEvents:
			switch ev.kind {
			case turnToolCall:
				if !fillerSent {
					fillerSent = true
					fillerTopic = topicForTool(ev.tool)
					playFiller(fillerTopic, filler.StageInitial)
				}
			case turnAction:
				s.recordAction(*ev.item)
			case turnDispatchStarted:
				s.setState(StateDispatching)
				watchdog.Reset(s.cfg.WatchdogTimeout)
			case turnFailed:
				s.logger.Warn("agent turn failed", zap.Error(ev.err))
				s.emit(Event{Type: EventError, Err: ev.err})
				abortTurn()
				toListening()
			case turnFinished:
				turnDone = true
				pendingText = ev.text
				if chunksDone {
					finishTurn()
				}
			}

		case ev, ok := <-dispatchCh:
			if !ok {
				dispatchCh = nil
				continue
			}
			s.emit(Event{Type: EventDispatch, Dispatch: &ev})
			if s.State() != StateDispatching {
				continue
			}
			watchdog.Reset(s.cfg.WatchdogTimeout)
			if ev.Type == dispatch.EventOutcome {
				abortTurn()
				report := "The dispatch call has ended. Outcome: " + ev.Summary +
					" Briefly summarize this for the operator."
				startTurn(s.history(report), StateDispatchReporting)
			}

		case <-nudge.C():
			nudge.active = false
			if s.State() != StateListening {
				continue
			}
			nudgeCount++
			text := "Still here if you need anything."
			if nudgeCount > 1 {
				text = "I'll stay on the line. Just speak when you're ready."
			}
			s.speakNudge(ctx, text)
			if nudgeCount < 2 {
				nudge.Reset(s.cfg.SecondNudgeAfter)
			}

		case <-fillerNext.C():
			fillerNext.active = false
			st := s.State()
			if st != StateThinking && st != StateDispatchReporting {
				continue
			}
			playFiller(fillerTopic, fillerStage)
			fillerSent = true
			if fillerStage == filler.StageContinuation {
				fillerStage = filler.StagePatience
				fillerNext.Reset(s.cfg.PatienceFillerAfter - s.cfg.ContinuationFillerAfter)
			}

		case <-watchdog.C():
			watchdog.active = false
			st := s.State()
			if st != StateThinking && st != StateSpeaking &&
				st != StateDispatching && st != StateDispatchReporting {
				continue
			}
			s.logger.Error("turn watchdog expired, forcing recovery",
				zap.String("state", st.String()))
			s.emit(Event{Type: EventError, Err: ErrWatchdogExpired})
			abortTurn()
			toListening()

		case <-pause.C():
			pause.active = false
			if s.State() == StateSpeaking {
				toListening()
			}
		}
	}
}

// history reconstructs the agent conversation: preamble, transcript, and
// an optional trailing user message not shown in the visible transcript.
func (s *Session) history(extra string) []agent.Message {
	s.mu.Lock()
	entries := make([]TranscriptEntry, len(s.transcript))
	copy(entries, s.transcript)
	s.mu.Unlock()

	msgs := make([]agent.Message, 0, len(entries)+2)
	msgs = append(msgs, agent.BuildPreamble(s.cfg.Preamble))
	for _, e := range entries {
		role := agent.RoleUser
		if e.Role == "assistant" {
			role = agent.RoleAssistant
		}
		msgs = append(msgs, agent.Message{Role: role, Content: e.Text, Timestamp: e.Timestamp})
	}
	if extra != "" {
		msgs = append(msgs, agent.Message{Role: agent.RoleUser, Content: extra, Timestamp: time.Now()})
	}
	return msgs
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	prev := s.state
	if prev == next {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.mu.Unlock()
	s.logger.Info("state transition",
		zap.String("from", prev.String()),
		zap.String("to", next.String()))
	s.emit(Event{Type: EventStateChanged, State: next})
}

func (s *Session) appendTranscript(role, text string) {
	entry := TranscriptEntry{Role: role, Text: text, Timestamp: time.Now()}
	s.mu.Lock()
	s.transcript = append(s.transcript, entry)
	s.mu.Unlock()
	s.emit(Event{Type: EventTranscript, Entry: entry})
}

func (s *Session) recordAction(item actions.Item) {
	s.mu.Lock()
	s.items = append(s.items, item)
	s.mu.Unlock()
	s.emit(Event{Type: EventAction, Action: &item})
}

// speakNudge synthesizes a silence nudge off the loop; playback-quality
// latency does not matter here and the loop must not block on synthesis.
func (s *Session) speakNudge(ctx context.Context, text string) {
	if s.deps.Synth == nil {
		s.emit(Event{Type: EventNudge, Text: text})
		return
	}
	go func() {
		audio, err := s.deps.Synth.Synthesize(ctx, text)
		if err != nil {
			s.logger.Debug("nudge synthesis failed", zap.Error(err))
		}
		s.emit(Event{Type: EventNudge, Text: text, Audio: audio})
	}()
}

func (s *Session) pauseDuration() time.Duration {
	min, max := s.cfg.PostSpeechPauseMin, s.cfg.PostSpeechPauseMax
	if max <= min {
		return min
	}
	return min + time.Duration(s.rng.Int63n(int64(max-min)))
}

// emit delivers an event without ever blocking the loop; a backlogged
// consumer loses events rather than stalling the session.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("session event dropped", zap.String("type", ev.Type.String()))
	}
}

func topicForTool(tool string) string {
	switch tool {
	case "lookup_vehicle", "schedule_maintenance":
		return "vehicle"
	case "start_dispatch_call":
		return "dispatch"
	case "route_risk":
		return "route"
	default:
		return filler.CategoryGeneral
	}
}

func stripSpokenTags(text string, split tts.SplitConfig) string {
	openTag, closeTag := split.OpenTag, split.CloseTag
	if openTag == "" {
		openTag = "<speak>"
	}
	if closeTag == "" {
		closeTag = "</speak>"
	}
	text = strings.ReplaceAll(text, openTag, " ")
	text = strings.ReplaceAll(text, closeTag, " ")
	return strings.Join(strings.Fields(text), " ")
}

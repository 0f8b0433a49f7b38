// Package server hosts the voice gateway: a websocket endpoint that
// bridges dashboard clients to voice sessions, plus health and metrics.
package server

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fleetdeck/fleetdeck/pkg/agent"
	"github.com/fleetdeck/fleetdeck/pkg/audio"
	"github.com/fleetdeck/fleetdeck/pkg/dispatch"
	"github.com/fleetdeck/fleetdeck/pkg/gateway/config"
	"github.com/fleetdeck/fleetdeck/pkg/gateway/metrics"
	"github.com/fleetdeck/fleetdeck/pkg/gateway/protocol"
	"github.com/fleetdeck/fleetdeck/pkg/voice/filler"
	"github.com/fleetdeck/fleetdeck/pkg/voice/session"
	"github.com/fleetdeck/fleetdeck/pkg/voice/stt"
	"github.com/fleetdeck/fleetdeck/pkg/voice/tts"
)

// Dependencies are the collaborators shared across sessions. Nil entries
// are built from the config; tests inject fakes.
type Dependencies struct {
	Agent     agent.Agent
	STTDialer stt.Dialer
	Synth     tts.Synthesizer
	Fillers   *filler.Service
	Bridge    *dispatch.Bridge

	// SessionConfig overrides the per-session timing defaults.
	SessionConfig *session.Config
}

type Server struct {
	cfg      config.Config
	deps     Dependencies
	metrics  *metrics.Metrics
	logger   *zap.Logger
	registry *Registry
	mux      *http.ServeMux
	upgrader websocket.Upgrader
}

func New(cfg config.Config, deps Dependencies, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	if deps.Agent == nil {
		deps.Agent = agent.NewHTTPAgent(cfg.Agent.Endpoint, cfg.Agent.APIKey, logger)
	}
	if deps.STTDialer == nil {
		deps.STTDialer = stt.NewClient(stt.ClientConfig{
			Endpoint:   cfg.STT.Endpoint,
			APIKey:     cfg.STT.APIKey,
			SampleRate: audio.MicFormat().SampleRate,
			Language:   cfg.STT.Language,
			Model:      cfg.STT.Model,
		}, logger)
	}
	if deps.Synth == nil {
		deps.Synth = tts.NewClient(cfg.TTS.Endpoint, cfg.TTS.APIKey, tts.Options{
			Voice:      cfg.TTS.Voice,
			SampleRate: audio.SpeakerFormat().SampleRate,
			Speed:      cfg.TTS.Speed,
		}, logger)
	}
	if deps.Fillers == nil {
		deps.Fillers = filler.NewService(deps.Synth, logger)
	}
	if deps.Bridge == nil {
		deps.Bridge = dispatch.NewBridge(logger)
	}

	s := &Server{
		cfg:      cfg,
		deps:     deps,
		metrics:  m,
		logger:   logger,
		registry: NewRegistry(cfg.MaxSessions),
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	s.mux.Handle("/metrics", s.metrics.Handler())
	s.mux.HandleFunc("/v1/voice", s.handleVoice)
}

// Handler returns the gateway's HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

// Bridge returns the dispatch bridge so the dispatch collaborator can
// publish call events into live sessions.
func (s *Server) Bridge() *dispatch.Bridge { return s.deps.Bridge }

// Registry exposes the session registry for shutdown draining.
func (s *Server) Registry() *Registry { return s.registry }

// WarmFillers pre-synthesizes the filler catalogue.
func (s *Server) WarmFillers(ctx context.Context) {
	s.deps.Fillers.Warm(ctx)
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	hello, err := s.readHello(conn)
	if err != nil {
		writeDirectError(conn, err)
		return
	}
	s.logger.Info("client hello", zap.Any("hello", hello.RedactedForLog()))

	sessCfg := session.DefaultConfig()
	if s.deps.SessionConfig != nil {
		sessCfg = *s.deps.SessionConfig
	}
	sessCfg.Preamble = agent.PreambleContext{
		OperatorName: hello.Operator.Name,
		Persona:      hello.Operator.Persona,
		RiskTone:     hello.Operator.RiskTone,
		TaskContext:  hello.Operator.TaskContext,
	}

	sess := session.New(sessCfg, session.Dependencies{
		Agent:      s.deps.Agent,
		Recognizer: stt.NewManager(s.deps.STTDialer, stt.DefaultConfig(), s.logger),
		Synth:      s.deps.Synth,
		Fillers:    s.deps.Fillers,
		Dispatch:   s.deps.Bridge,
		Logger:     s.logger,
	})

	writer := newWSWriter(conn, s.cfg.WriteTimeout, s.cfg.PingInterval, s.logger)
	defer writer.Stop()

	unregister, err := s.registry.Register(sess.ID(), Handle{
		Cancel: sess.End,
		Warn: func(code, message string) error {
			writer.SendControl(protocol.ServerWarning{Type: "warning", Code: code, Message: message})
			return nil
		},
	})
	if err != nil {
		s.metrics.SessionsRefused.Inc()
		writer.SendControl(protocol.ServerError{
			Type: "error", Code: "capacity", Message: "session capacity reached", Close: true,
		})
		time.Sleep(100 * time.Millisecond)
		return
	}
	defer unregister()

	s.metrics.SessionsTotal.Inc()
	s.metrics.SessionsActive.Inc()
	defer s.metrics.SessionsActive.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go sess.Run(ctx)
	defer sess.End()

	writer.SendControl(protocol.ServerHelloAck{
		Type:            "hello_ack",
		ProtocolVersion: protocol.ProtocolVersion1,
		SessionID:       sess.ID(),
		AudioIn:         hello.AudioIn,
		AudioOut:        hello.AudioOut,
		MaxFrameBytes:   s.cfg.MaxFrameBytes,
	})

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		s.pumpEvents(sess, writer, hello.AudioOut)
	}()

	s.readLoop(conn, sess, writer, hello.AudioIn)

	sess.End()
	<-pumpDone
}

func (s *Server) readHello(conn *websocket.Conn) (protocol.ClientHello, error) {
	conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		return protocol.ClientHello{}, &protocol.DecodeError{Code: "handshake_timeout", Message: "no hello received"}
	}
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		return protocol.ClientHello{}, err
	}
	hello, ok := msg.(protocol.ClientHello)
	if !ok {
		return protocol.ClientHello{}, &protocol.DecodeError{Code: "bad_request", Message: "first message must be hello"}
	}
	return hello, nil
}

// readLoop consumes client messages until the connection drops or the
// client ends the session.
func (s *Server) readLoop(conn *websocket.Conn, sess *session.Session, writer *wsWriter, in protocol.AudioFormat) {
	limiter := rate.NewLimiter(rate.Limit(s.cfg.InboundFramesPerSecond), s.cfg.InboundBurst)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.logger.Debug("client read ended", zap.Error(err))
			return
		}

		msg, err := protocol.DecodeClientMessage(data)
		if err != nil {
			var de *protocol.DecodeError
			code := "bad_request"
			if errors.As(err, &de) {
				code = de.Code
			}
			writer.SendControl(protocol.ServerError{Type: "error", Code: code, Message: err.Error()})
			continue
		}

		switch m := msg.(type) {
		case protocol.ClientAudioFrame:
			if !limiter.Allow() {
				s.metrics.AudioFramesDropped.Inc()
				continue
			}
			frame, err := base64.StdEncoding.DecodeString(m.DataB64)
			if err != nil {
				writer.SendControl(protocol.ServerError{Type: "error", Code: "bad_request", Message: "invalid audio_frame base64"})
				continue
			}
			if len(frame) > s.cfg.MaxFrameBytes {
				writer.SendControl(protocol.ServerError{Type: "error", Code: "frame_too_large", Message: "audio frame exceeds limit"})
				continue
			}
			s.metrics.AudioFramesIn.Inc()
			sess.PushAudio(toMicPCM(frame, in))

		case protocol.ClientControl:
			switch m.Op {
			case protocol.OpSpeechStart:
				sess.SpeechStart()
			case protocol.OpSpeechEnd:
				sess.SpeechEnd()
			case protocol.OpInterrupt:
				s.metrics.Interrupts.Inc()
				sess.Interrupt()
			case protocol.OpEndSession:
				return
			}

		case protocol.ClientHello:
			writer.SendControl(protocol.ServerError{Type: "error", Code: "bad_request", Message: "duplicate hello"})
		}
	}
}

// pumpEvents translates the session's event stream into protocol messages
// until the session ends.
func (s *Server) pumpEvents(sess *session.Session, writer *wsWriter, out protocol.AudioFormat) {
	var audioSeq int64
	sendAudio := func(kind, text string, pcm []byte) {
		audioSeq++
		msg := protocol.ServerAudio{Type: "audio", Kind: kind, Seq: audioSeq, Text: text}
		if len(pcm) > 0 {
			msg.AudioB64 = base64.StdEncoding.EncodeToString(toClientAudio(pcm, out))
		}
		writer.SendAudio(msg)
	}

	for ev := range sess.Events() {
		switch ev.Type {
		case session.EventStateChanged:
			if ev.State == session.StateThinking {
				s.metrics.TurnsTotal.Inc()
			}
			writer.SendControl(protocol.ServerState{Type: "state", State: ev.State.String()})

		case session.EventTranscript:
			writer.SendControl(protocol.ServerTranscript{
				Type:        "transcript",
				Role:        ev.Entry.Role,
				Text:        ev.Entry.Text,
				TimestampMS: ev.Entry.Timestamp.UnixMilli(),
			})

		case session.EventAudio:
			sendAudio(protocol.AudioKindResponse, ev.Text, ev.Audio)

		case session.EventFiller:
			sendAudio(protocol.AudioKindFiller, ev.Text, ev.Audio)

		case session.EventNudge:
			sendAudio(protocol.AudioKindNudge, ev.Text, ev.Audio)

		case session.EventAction:
			writer.SendControl(protocol.ServerAction{
				Type:        "action",
				Kind:        ev.Action.Kind,
				Title:       ev.Action.Title,
				Description: ev.Action.Description,
				Priority:    string(ev.Action.Priority),
				Payload:     ev.Action.Payload,
			})

		case session.EventDispatch:
			s.metrics.DispatchEvents.Inc()
			writer.SendControl(protocol.ServerDispatch{
				Type:    "dispatch",
				Event:   string(ev.Dispatch.Type),
				Phase:   ev.Dispatch.Phase,
				Role:    ev.Dispatch.Role,
				Text:    ev.Dispatch.Text,
				Summary: ev.Dispatch.Summary,
			})

		case session.EventMicSuppressed:
			writer.SendControl(protocol.ServerWarning{
				Type:    "warning",
				Code:    "mic_suppressed",
				Message: "We can't hear you; your microphone may be suppressed during playback.",
			})

		case session.EventError:
			if errors.Is(ev.Err, session.ErrWatchdogExpired) {
				s.metrics.WatchdogRecoveries.Inc()
			}
			writer.SendControl(protocol.ServerWarning{
				Type:    "warning",
				Code:    "recoverable_error",
				Message: ev.Err.Error(),
			})
		}
	}
}

// toMicPCM converts one client frame to the 16 kHz PCM the recognizer
// expects.
func toMicPCM(frame []byte, in protocol.AudioFormat) []byte {
	pcm := frame
	if in.Encoding == "mulaw" {
		pcm = audio.DecodeMulaw(frame)
	}
	mic := audio.MicFormat().SampleRate
	if in.SampleRateHz != mic {
		pcm = audio.Resample(pcm, in.SampleRateHz, mic)
	}
	return pcm
}

// toClientAudio converts 24 kHz synthesized PCM to the client's requested
// egress format.
func toClientAudio(pcm []byte, out protocol.AudioFormat) []byte {
	speaker := audio.SpeakerFormat().SampleRate
	if out.SampleRateHz != speaker {
		pcm = audio.Resample(pcm, speaker, out.SampleRateHz)
	}
	if out.Encoding == "mulaw" {
		pcm = audio.EncodeMulaw(pcm)
	}
	return pcm
}

func writeDirectError(conn *websocket.Conn, err error) {
	var de *protocol.DecodeError
	code := "bad_request"
	if errors.As(err, &de) {
		code = de.Code
	}
	msg := protocol.ServerError{Type: "error", Code: code, Message: err.Error(), Close: true}
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	conn.WriteJSON(msg)
}

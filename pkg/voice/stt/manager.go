package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrSuperseded reports that a dial resolved after the utterance it was
// opened for had already ended, or after the manager was closed. It is
// an expected teardown outcome, not a failure.
var ErrSuperseded = errors.New("recognition connection superseded")

// State is the connection state of a Manager.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Config tunes the connection manager. The finalize waits are defaults
// tuned against one backend's behavior, not protocol guarantees.
type Config struct {
	// ConnectTimeout bounds one dial attempt.
	ConnectTimeout time.Duration

	// FinalizeWaitWarm is the terminal-response wait when the backend
	// has already responded at least once this utterance.
	FinalizeWaitWarm time.Duration

	// FinalizeWaitCold is the wait when it has not.
	FinalizeWaitCold time.Duration

	// IdleTimeout force-disconnects a connection that has received no
	// audio, bounding resource usage for abandoned sessions.
	IdleTimeout time.Duration

	// MaxCancelReuse caps consecutive cheap-cancel reuses of one
	// connection before a full reconnect is forced.
	MaxCancelReuse int

	// Gain configures the adaptive input gain.
	Gain GainConfig
}

// DefaultConfig returns the standard manager configuration.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:   5 * time.Second,
		FinalizeWaitWarm: 300 * time.Millisecond,
		FinalizeWaitCold: 800 * time.Millisecond,
		IdleTimeout:      30 * time.Second,
		MaxCancelReuse:   15,
		Gain:             DefaultGainConfig(),
	}
}

// utterance is the turn-scoped recognition state. Reset at the start of
// each turn, discarded at turn end or forced cancellation.
type utterance struct {
	finalText  strings.Builder
	interim    string
	framesSent int
	gotAny     bool
	gotLast    bool
}

// Manager owns at most one recognition connection at a time and runs the
// per-utterance lifecycle on top of it: ordered frame forwarding while a
// dial is pending, adaptive gain, bounded finalization, cheap cancel for
// spurious noise bursts, idle teardown, and background pre-warming.
type Manager struct {
	dialer Dialer
	cfg    Config
	logger *zap.Logger

	mu           sync.Mutex
	state        State
	conn         Conn
	gen          int
	pending      [][]byte
	utt          utterance
	lastFinalCh  chan struct{}
	gain         *GainController
	cancelReuses int
	prewarmed    Conn
	prewarming   bool
	idleTimer    *time.Timer
	lastAudio    time.Time
	closed       bool
}

// NewManager creates a manager in the disconnected state.
func NewManager(dialer Dialer, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConnectTimeout == 0 {
		cfg = DefaultConfig()
	}
	return &Manager{
		dialer:      dialer,
		cfg:         cfg,
		logger:      logger,
		lastFinalCh: make(chan struct{}),
		gain:        NewGainController(cfg.Gain),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// GainValue returns the current adaptive gain estimate.
func (m *Manager) GainValue() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gain.Current()
}

// BeginConnect synchronously claims the connecting state so frames
// arriving before the dial resolves are buffered rather than dropped,
// adopting a pre-warmed connection when one is ready. It returns true
// when a dial is still needed; the caller then runs Connect, typically
// off its own goroutine.
func (m *Manager) BeginConnect() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.state != StateDisconnected {
		return false
	}
	return m.beginConnectLocked()
}

func (m *Manager) beginConnectLocked() bool {
	if m.prewarmed != nil {
		conn := m.prewarmed
		m.prewarmed = nil
		m.adoptLocked(conn)
		return false
	}
	m.state = StateConnecting
	m.pending = nil
	return true
}

// Connect ensures a live recognition connection, performing the dial
// claimed by BeginConnect (or claiming one itself). It resolves once the
// connection is ready or fails within the configured timeout, returning
// ErrSuperseded when the utterance ended before the dial resolved.
// Connect calls must not overlap.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrSuperseded
	}
	if m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	if m.state == StateDisconnected && !m.beginConnectLocked() {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()
	conn, err := m.dialer.Dial(dctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	superseded := m.closed || m.state != StateConnecting
	if err != nil {
		if m.state == StateConnecting {
			m.state = StateDisconnected
			m.pending = nil
		}
		if superseded {
			return ErrSuperseded
		}
		return fmt.Errorf("recognition connect: %w", err)
	}
	if superseded {
		// Torn down while the dial was in flight.
		conn.Close()
		return ErrSuperseded
	}
	m.adoptLocked(conn)
	return nil
}

// adoptLocked installs a live connection, flushes frames buffered during
// the dial in arrival order, and starts result consumption.
func (m *Manager) adoptLocked(conn Conn) {
	m.gen++
	m.conn = conn
	m.state = StateConnected
	m.cancelReuses = 0
	m.touchIdleLocked()
	go m.consumeResults(conn, m.gen)

	for _, frame := range m.pending {
		m.utt.framesSent++
		if err := conn.SendAudio(frame); err != nil {
			m.logger.Warn("flush buffered frame", zap.Error(err))
			break
		}
	}
	m.pending = nil
}

func (m *Manager) consumeResults(conn Conn, gen int) {
	for r := range conn.Results() {
		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			return
		}
		if r.LastFinal && m.utt.gotLast {
			// Duplicate terminal message; suppress.
			m.logger.Debug("duplicate last-final suppressed")
			m.mu.Unlock()
			continue
		}
		m.utt.gotAny = true
		if r.Final {
			if m.utt.finalText.Len() > 0 {
				m.utt.finalText.WriteByte(' ')
			}
			m.utt.finalText.WriteString(strings.TrimSpace(r.Text))
			m.utt.interim = ""
		} else {
			m.utt.interim = r.Text
		}
		if r.LastFinal {
			m.utt.gotLast = true
			close(m.lastFinalCh)
		}
		m.mu.Unlock()
	}
}

// ResetUtterance clears turn-scoped counters at the start of a turn.
func (m *Manager) ResetUtterance() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetUtteranceLocked()
}

func (m *Manager) resetUtteranceLocked() {
	m.utt = utterance{}
	m.lastFinalCh = make(chan struct{})
	m.gain.Reset()
}

// SendAudio forwards one PCM frame with adaptive gain applied. Frames
// arriving while the connection is still being established are buffered
// in arrival order and flushed once it is ready. No-op when disconnected.
func (m *Manager) SendAudio(frame []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateDisconnected {
		return
	}
	processed := m.gain.Process(frame)
	m.touchIdleLocked()
	switch m.state {
	case StateConnecting:
		m.pending = append(m.pending, processed)
	case StateConnected:
		m.utt.framesSent++
		if err := m.conn.SendAudio(processed); err != nil {
			m.logger.Warn("send audio frame", zap.Error(err))
		}
	}
}

// EndUtterance signals end-of-turn, waits briefly for the terminal
// response, and returns the best available transcript: the accumulated
// finalized text, falling back to the latest interim. The connection is
// always torn down afterwards (the backend requires a fresh connection
// per utterance) and a replacement is pre-warmed in the background.
func (m *Manager) EndUtterance(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.state != StateConnected {
		best := m.bestTranscriptLocked()
		m.pending = nil
		m.resetUtteranceLocked()
		if m.state == StateConnecting {
			// A dial resolving later is superseded and closed.
			m.state = StateDisconnected
		}
		m.mu.Unlock()
		return best, nil
	}
	conn := m.conn
	gotLast := m.utt.gotLast
	wait := m.cfg.FinalizeWaitCold
	if m.utt.gotAny {
		wait = m.cfg.FinalizeWaitWarm
	}
	lastFinal := m.lastFinalCh
	m.mu.Unlock()

	if !gotLast {
		if err := conn.Finalize(); err != nil {
			m.logger.Debug("finalize utterance", zap.Error(err))
		}
		timer := time.NewTimer(wait)
		select {
		case <-lastFinal:
		case <-conn.Done():
		case <-timer.C:
		case <-ctx.Done():
		}
		timer.Stop()
	}

	m.mu.Lock()
	best := m.bestTranscriptLocked()
	m.disconnectLocked()
	m.resetUtteranceLocked()
	closed := m.closed
	m.mu.Unlock()

	if !closed {
		m.Prewarm(context.Background())
	}
	return best, nil
}

// CancelUtterance discards the turn without the cost of a reconnect when
// the backend has produced no response yet and the connection is healthy.
// Reuse is capped; past the cap, and in every other case, the connection
// is torn down. Returns whether the connection was kept.
func (m *Manager) CancelUtterance() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateConnected && !m.utt.gotAny && m.cancelReuses < m.cfg.MaxCancelReuse {
		select {
		case <-m.conn.Done():
			// Connection died underneath us; fall through to teardown.
		default:
			m.cancelReuses++
			m.resetUtteranceLocked()
			return true
		}
	}

	m.disconnectLocked()
	m.resetUtteranceLocked()
	return false
}

// Prewarm opens a replacement connection in the background so the next
// turn has near-zero connect latency.
func (m *Manager) Prewarm(ctx context.Context) {
	m.mu.Lock()
	if m.closed || m.prewarming || m.prewarmed != nil || m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.prewarming = true
	m.mu.Unlock()

	go func() {
		dctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		defer cancel()
		conn, err := m.dialer.Dial(dctx)

		m.mu.Lock()
		defer m.mu.Unlock()
		m.prewarming = false
		if err != nil {
			m.logger.Debug("prewarm dial", zap.Error(err))
			return
		}
		if m.closed || m.state != StateDisconnected || m.prewarmed != nil {
			conn.Close()
			return
		}
		m.prewarmed = conn
	}()
}

// Close tears down the live and pre-warmed connections. The manager is
// unusable afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.disconnectLocked()
	if m.prewarmed != nil {
		m.prewarmed.Close()
		m.prewarmed = nil
	}
	return nil
}

func (m *Manager) bestTranscriptLocked() string {
	if s := strings.TrimSpace(m.utt.finalText.String()); s != "" {
		return s
	}
	return strings.TrimSpace(m.utt.interim)
}

func (m *Manager) disconnectLocked() {
	if m.conn != nil {
		conn := m.conn
		go conn.Close()
		m.conn = nil
	}
	m.gen++
	m.state = StateDisconnected
	m.pending = nil
	m.cancelReuses = 0
	if m.idleTimer != nil {
		m.idleTimer.Stop()
		m.idleTimer = nil
	}
}

func (m *Manager) touchIdleLocked() {
	m.lastAudio = time.Now()
	if m.cfg.IdleTimeout <= 0 {
		return
	}
	if m.idleTimer == nil {
		m.idleTimer = time.AfterFunc(m.cfg.IdleTimeout, m.idleCheck)
		return
	}
	m.idleTimer.Reset(m.cfg.IdleTimeout)
}

func (m *Manager) idleCheck() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected {
		return
	}
	if time.Since(m.lastAudio) < m.cfg.IdleTimeout {
		return
	}
	m.logger.Info("recognition connection idle, tearing down")
	m.disconnectLocked()
}

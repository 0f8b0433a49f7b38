package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsWriter owns all writes to one client connection. State, transcript,
// and error messages go through the control lane and always preempt the
// audio lane; audio is droppable when the client falls behind, control is
// not.
type wsWriter struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	pingInterval time.Duration
	logger       *zap.Logger

	control chan []byte
	audio   chan []byte
	done    chan struct{}
	once    sync.Once
	stopped chan struct{}
}

func newWSWriter(conn *websocket.Conn, writeTimeout, pingInterval time.Duration, logger *zap.Logger) *wsWriter {
	w := &wsWriter{
		conn:         conn,
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		logger:       logger,
		control:      make(chan []byte, 64),
		audio:        make(chan []byte, 64),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	go w.run()
	return w
}

// SendControl queues a must-deliver message. Blocks briefly rather than
// drop; gives up when the writer is stopping.
func (w *wsWriter) SendControl(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		w.logger.Warn("encode control message", zap.Error(err))
		return
	}
	select {
	case w.control <- payload:
	case <-w.done:
	}
}

// SendAudio queues an audio message, dropping it when the lane is full.
func (w *wsWriter) SendAudio(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		w.logger.Warn("encode audio message", zap.Error(err))
		return
	}
	select {
	case w.audio <- payload:
	case <-w.done:
	default:
		w.logger.Warn("outbound audio dropped, client backlogged")
	}
}

// Stop shuts the writer down. Queued messages may be discarded.
func (w *wsWriter) Stop() {
	w.once.Do(func() { close(w.done) })
	<-w.stopped
}

func (w *wsWriter) run() {
	defer close(w.stopped)
	ticker := time.NewTicker(w.pingInterval)
	defer ticker.Stop()

	write := func(messageType int, payload []byte) bool {
		w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
		if err := w.conn.WriteMessage(messageType, payload); err != nil {
			w.logger.Debug("client write failed", zap.Error(err))
			return false
		}
		return true
	}

	for {
		// Drain the control lane before touching audio.
		select {
		case payload := <-w.control:
			if !write(websocket.TextMessage, payload) {
				return
			}
			continue
		default:
		}

		select {
		case <-w.done:
			return
		case payload := <-w.control:
			if !write(websocket.TextMessage, payload) {
				return
			}
		case payload := <-w.audio:
			if !write(websocket.TextMessage, payload) {
				return
			}
		case <-ticker.C:
			if !write(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

// Package stt manages speech recognition over the backend's
// one-connection-per-utterance websocket protocol.
package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Result is one recognition message from the backend. Interim results
// carry the running hypothesis; final results are stable. LastFinal marks
// the terminal message of the utterance, after which the backend closes
// the connection.
type Result struct {
	Text      string `json:"text"`
	Final     bool   `json:"final"`
	LastFinal bool   `json:"last_final"`
}

// Conn is one physical recognition connection.
type Conn interface {
	// SendAudio forwards one binary PCM frame.
	SendAudio(frame []byte) error

	// Finalize sends the end-of-utterance control message.
	Finalize() error

	// Results delivers recognition messages. Closed when the
	// connection ends.
	Results() <-chan Result

	// Done is closed when the connection ends for any reason.
	Done() <-chan struct{}

	Close() error
}

// Dialer opens recognition connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// ClientConfig configures the backend websocket client.
type ClientConfig struct {
	// Endpoint is the backend websocket URL,
	// e.g. "wss://speech.example.com/stt".
	Endpoint string

	// APIKey authenticates the connection.
	APIKey string

	// SampleRate of the submitted PCM audio. Default: 16000.
	SampleRate int

	// Language code. Default: "en".
	Language string

	// Model selects the recognition model. Empty means backend default.
	Model string
}

// Client dials the speech-recognition backend. It implements Dialer.
type Client struct {
	cfg    ClientConfig
	logger *zap.Logger
}

// NewClient creates a recognition client.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	return &Client{cfg: cfg, logger: logger}
}

// Dial opens one recognition connection. The backend requires a fresh
// connection per utterance.
func (c *Client) Dial(ctx context.Context) (Conn, error) {
	u, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse recognition URL: %w", err)
	}
	q := u.Query()
	q.Set("encoding", "pcm_s16le")
	q.Set("sample_rate", strconv.Itoa(c.cfg.SampleRate))
	q.Set("language", c.cfg.Language)
	if c.cfg.Model != "" {
		q.Set("model", c.cfg.Model)
	}
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.cfg.APIKey)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("recognition connect (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("recognition connect: %w", err)
	}

	wc := &wsConn{
		conn:    conn,
		logger:  c.logger,
		results: make(chan Result, 100),
		done:    make(chan struct{}),
	}
	go wc.readLoop()
	return wc, nil
}

type sttMessage struct {
	Type      string `json:"type"` // "transcript", "done", "error"
	Text      string `json:"text"`
	Final     bool   `json:"final"`
	LastFinal bool   `json:"last_final"`
	Error     string `json:"error"`
}

type wsConn struct {
	conn    *websocket.Conn
	logger  *zap.Logger
	results chan Result
	done    chan struct{}
	closed  atomic.Bool
	writeMu sync.Mutex
}

func (c *wsConn) readLoop() {
	defer func() {
		close(c.results)
		close(c.done)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() &&
				!websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("recognition read ended", zap.Error(err))
			}
			return
		}

		var msg sttMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "transcript":
			select {
			case c.results <- Result{Text: msg.Text, Final: msg.Final, LastFinal: msg.LastFinal}:
			case <-c.done:
				return
			}

		case "done":
			return

		case "error":
			c.logger.Warn("recognition backend error", zap.String("error", msg.Error))
			return
		}
	}
}

func (c *wsConn) SendAudio(frame []byte) error {
	if c.closed.Load() {
		return fmt.Errorf("recognition connection closed")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *wsConn) Finalize() error {
	if c.closed.Load() {
		return fmt.Errorf("recognition connection closed")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, []byte("finalize"))
}

func (c *wsConn) Results() <-chan Result { return c.results }

func (c *wsConn) Done() <-chan struct{} { return c.done }

func (c *wsConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.writeMu.Lock()
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}

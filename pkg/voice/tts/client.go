package tts

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client is a websocket client for the speech-synthesis backend. Each
// Synthesize call runs one request over a fresh connection: the text unit
// is submitted once and audio chunks stream back until the backend
// reports completion.
type Client struct {
	endpoint string
	apiKey   string
	opts     Options
	logger   *zap.Logger
}

// NewClient creates a synthesis client. endpoint is the backend websocket
// URL, e.g. "wss://speech.example.com/tts".
func NewClient(endpoint, apiKey string, opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SampleRate == 0 {
		opts.SampleRate = 24000
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		opts:     opts,
		logger:   logger,
	}
}

type synthesisRequest struct {
	Text       string  `json:"text"`
	Voice      string  `json:"voice"`
	SampleRate int     `json:"sample_rate"`
	Encoding   string  `json:"encoding"`
	Speed      float64 `json:"speed,omitempty"`
	Language   string  `json:"language,omitempty"`
}

type synthesisResponse struct {
	Type  string `json:"type"` // "chunk", "done", "error"
	Data  string `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Synthesize submits one text unit and collects the streamed audio.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse synthesis URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.apiKey)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("synthesis connect (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("synthesis connect: %w", err)
	}
	defer conn.Close()

	// Close the connection when the context ends so blocked reads unwind.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	req := synthesisRequest{
		Text:       text,
		Voice:      c.opts.Voice,
		SampleRate: c.opts.SampleRate,
		Encoding:   "pcm_s16le",
		Speed:      c.opts.Speed,
		Language:   c.opts.Language,
	}
	if err := conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("send synthesis request: %w", err)
	}

	var audio []byte
	for {
		var msg synthesisResponse
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return audio, nil
			}
			return nil, fmt.Errorf("read synthesis response: %w", err)
		}

		switch msg.Type {
		case "chunk":
			data, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				return nil, fmt.Errorf("decode audio chunk: %w", err)
			}
			audio = append(audio, data...)

		case "done":
			return audio, nil

		case "error":
			return nil, fmt.Errorf("synthesis backend: %s", msg.Error)
		}
	}
}

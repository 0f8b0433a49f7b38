package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// HTTPAgent talks to the external agent service: the conversation history
// is POSTed once and the response streams back as newline-delimited JSON
// chunks.
type HTTPAgent struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPAgent creates a client for the agent service endpoint.
func NewHTTPAgent(endpoint, apiKey string, logger *zap.Logger) *HTTPAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPAgent{
		endpoint: endpoint,
		apiKey:   apiKey,
		client: &http.Client{
			Transport: &http.Transport{
				ForceAttemptHTTP2:   true,
				MaxIdleConns:        16,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		logger: logger,
	}
}

type respondRequest struct {
	Messages []Message `json:"messages"`
}

// wireChunk is the service's stream line format.
type wireChunk struct {
	Type       string          `json:"type"` // "text", "tool_call", "tool_result"
	Text       string          `json:"text,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolArgs   json.RawMessage `json:"tool_args,omitempty"`
	ToolResult json.RawMessage `json:"tool_result,omitempty"`
}

// Respond implements Agent.
func (a *HTTPAgent) Respond(ctx context.Context, history []Message) (Stream, error) {
	body, err := json.Marshal(respondRequest{Messages: history})
	if err != nil {
		return nil, fmt.Errorf("encode agent request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build agent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("agent responded %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &httpStream{ctx: ctx, body: resp.Body, scanner: scanner}, nil
}

type httpStream struct {
	ctx     context.Context
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func (s *httpStream) Recv() (Chunk, error) {
	for {
		if err := s.ctx.Err(); err != nil {
			return Chunk{}, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				if s.ctx.Err() != nil {
					return Chunk{}, s.ctx.Err()
				}
				return Chunk{}, fmt.Errorf("read agent stream: %w", err)
			}
			return Chunk{}, io.EOF
		}
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}

		var wc wireChunk
		if err := json.Unmarshal([]byte(line), &wc); err != nil {
			return Chunk{}, fmt.Errorf("decode agent chunk: %w", err)
		}
		switch wc.Type {
		case "text":
			return Chunk{Type: ChunkText, Text: wc.Text}, nil
		case "tool_call":
			return Chunk{Type: ChunkToolCall, ToolName: wc.ToolName, ToolArgs: wc.ToolArgs}, nil
		case "tool_result":
			return Chunk{Type: ChunkToolResult, ToolName: wc.ToolName, ToolArgs: wc.ToolArgs, ToolResult: wc.ToolResult}, nil
		default:
			// Forward-compatible: skip unknown chunk kinds.
			continue
		}
	}
}

func (s *httpStream) Close() error {
	return s.body.Close()
}

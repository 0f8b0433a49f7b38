package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func drainStream(t *testing.T, s Stream) []Chunk {
	t.Helper()
	var out []Chunk
	for {
		c, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, c)
	}
}

func TestHTTPAgentStreamsChunks(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req respondRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.Messages)

		w.Header().Set("Content-Type", "application/x-ndjson")
		io.WriteString(w, `{"type":"text","text":"Checking. "}`+"\n")
		io.WriteString(w, "\n")
		io.WriteString(w, `{"type":"tool_call","tool_name":"lookup_vehicle","tool_args":{"id":"12"}}`+"\n")
		io.WriteString(w, `{"type":"heartbeat"}`+"\n")
		io.WriteString(w, `{"type":"tool_result","tool_name":"lookup_vehicle","tool_result":{"status":"ok"}}`+"\n")
		io.WriteString(w, `{"type":"text","text":"All good."}`+"\n")
	}))
	defer ts.Close()

	a := NewHTTPAgent(ts.URL, "test-key", nil)
	stream, err := a.Respond(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.NoError(t, err)
	defer stream.Close()

	chunks := drainStream(t, stream)
	require.Len(t, chunks, 4)
	require.Equal(t, ChunkText, chunks[0].Type)
	require.Equal(t, ChunkToolCall, chunks[1].Type)
	require.Equal(t, "lookup_vehicle", chunks[1].ToolName)
	require.Equal(t, ChunkToolResult, chunks[2].Type)
	require.Equal(t, "All good.", chunks[3].Text)
}

func TestHTTPAgentNonOKStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	}))
	defer ts.Close()

	a := NewHTTPAgent(ts.URL, "", nil)
	_, err := a.Respond(context.Background(), nil)
	require.ErrorContains(t, err, "502")
}

func TestHTTPAgentHonorsCancellation(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"type":"text","text":"first"}`+"\n")
		w.(http.Flusher).Flush()
		<-release
	}))
	defer ts.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	a := NewHTTPAgent(ts.URL, "", nil)
	stream, err := a.Respond(ctx, nil)
	require.NoError(t, err)
	defer stream.Close()

	c, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, "first", c.Text)

	cancel()
	done := make(chan error, 1)
	go func() {
		_, err := stream.Recv()
		done <- err
	}()
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Recv did not unwind after cancel")
	}
}

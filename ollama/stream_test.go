// Copyright (c) 2025 KactLabs
// SPDX-License-Identifier: MIT

package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeChunk emits one NDJSON line and flushes it to the client.
func writeChunk(t *testing.T, w http.ResponseWriter, content string, done bool) {
	t.Helper()
	line := map[string]any{
		"model":   "test-model",
		"message": map[string]string{"role": "assistant", "content": content},
		"done":    done,
	}
	if done {
		line["done_reason"] = "stop"
		line["prompt_eval_count"] = 5
		line["eval_count"] = 9
		line["eval_duration"] = int64(time.Second)
	}
	require.NoError(t, json.NewEncoder(w).Encode(line))
	w.(http.Flusher).Flush()
}

func streamingServer(t *testing.T, parts ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, p := range parts {
			writeChunk(t, w, p, false)
		}
		writeChunk(t, w, "", true)
	}))
}

// =============================================================================
// STREAMING
// =============================================================================

func TestStream_DeliversChunksInOrder(t *testing.T) {
	server := streamingServer(t, "Hel", "lo", " world")
	defer server.Close()

	client := newTestChat(t, server.URL)
	stream, err := client.Stream(context.Background(), []Message{NewUserMessage("hi")})
	require.NoError(t, err)
	defer stream.Close()

	var contents []string
	var finals int
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if chunk.Done {
			finals++
			assert.Equal(t, "stop", chunk.DoneReason)
			assert.Equal(t, 9, chunk.CompletionTokens)
		} else {
			contents = append(contents, chunk.Content)
		}
	}

	assert.Equal(t, []string{"Hel", "lo", " world"}, contents)
	assert.Equal(t, 1, finals, "exactly one terminal chunk")
	assert.Equal(t, "Hello world", stream.Content())

	// After the terminal chunk the stream stays at EOF.
	_, err = stream.Recv()
	assert.Equal(t, io.EOF, err)
}

func TestStream_MatchesInvokeContent(t *testing.T) {
	const full = "streaming and blocking agree"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if !req.Stream {
			chatReply(w, full)
			return
		}
		writeChunk(t, w, "streaming and ", false)
		writeChunk(t, w, "blocking agree", false)
		writeChunk(t, w, "", true)
	}))
	defer server.Close()

	client := newTestChat(t, server.URL)
	ctx := context.Background()

	resp, err := client.Invoke(ctx, []Message{NewUserMessage("hi")})
	require.NoError(t, err)

	stream, err := client.Stream(ctx, []Message{NewUserMessage("hi")})
	require.NoError(t, err)
	for {
		if _, err := stream.Recv(); err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("recv: %v", err)
		}
	}

	assert.Equal(t, resp.Content, stream.Content())
}

func TestStream_EmptyMessages(t *testing.T) {
	client := newTestChat(t, "http://localhost:1")
	_, err := client.Stream(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, IsEmptyInput(err))
}

func TestStream_CloseReleasesConnection(t *testing.T) {
	released := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeChunk(t, w, "first", false)
		select {
		case <-r.Context().Done():
			close(released)
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	client := newTestChat(t, server.URL)
	stream, err := client.Stream(context.Background(), []Message{NewUserMessage("hi")})
	require.NoError(t, err)

	chunk, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "first", chunk.Content)

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close(), "close is idempotent")

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("server never observed the abandoned stream")
	}
}

// =============================================================================
// STREAM FAILURE MODES
// =============================================================================

func TestStream_StallWatchdog(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeChunk(t, w, "slow", false)
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	client := newTestChat(t, server.URL, func(b *ChatClientBuilder) {
		b.StreamGap(50 * time.Millisecond)
	})
	stream, err := client.Stream(context.Background(), []Message{NewUserMessage("hi")})
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Recv()
	require.NoError(t, err)

	start := time.Now()
	_, err = stream.Recv()
	require.Error(t, err)
	assert.True(t, IsTimeout(err), "silent server should surface as timeout, got %v", err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestStream_StallBeforeHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Accept the connection but never write headers.
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	client := newTestChat(t, server.URL, func(b *ChatClientBuilder) {
		b.StreamGap(100 * time.Millisecond).MaxRetries(0)
	})

	start := time.Now()
	_, err := client.Stream(context.Background(), []Message{NewUserMessage("hi")})
	require.Error(t, err)
	assert.True(t, IsTimeout(err), "header-phase stall should surface as timeout, got %v", err)
	assert.Less(t, time.Since(start), 2*time.Second, "stream open must not hang past the gap")
}

func TestStream_TruncatedBeforeFinalChunk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeChunk(t, w, "partial", false)
	}))
	defer server.Close()

	client := newTestChat(t, server.URL)
	stream, err := client.Stream(context.Background(), []Message{NewUserMessage("hi")})
	require.NoError(t, err)
	defer stream.Close()

	chunk, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "partial", chunk.Content)

	_, err = stream.Recv()
	require.Error(t, err)
	assert.True(t, IsNetwork(err), "truncation is a network failure, got %v", err)
	assert.Contains(t, err.Error(), "before final chunk")
}

func TestStream_MalformedChunk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "this is not json")
		w.(http.Flusher).Flush()
	}))
	defer server.Close()

	client := newTestChat(t, server.URL)
	stream, err := client.Stream(context.Background(), []Message{NewUserMessage("hi")})
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Recv()
	require.Error(t, err)
	assert.True(t, IsDecode(err), "garbage line should be a decode failure, got %v", err)
}

func TestStream_ServerErrorBeforeStreaming(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model not found"}`))
	}))
	defer server.Close()

	client := newTestChat(t, server.URL)
	_, err := client.Stream(context.Background(), []Message{NewUserMessage("hi")})
	require.Error(t, err)
	assert.True(t, IsServer(err))
	assert.Contains(t, err.Error(), "model not found")
}

// =============================================================================
// CHANNEL ADAPTER AND ACCUMULATOR
// =============================================================================

func TestStream_Chan(t *testing.T) {
	server := streamingServer(t, "a", "b", "c")
	defer server.Close()

	client := newTestChat(t, server.URL)
	stream, err := client.Stream(context.Background(), []Message{NewUserMessage("hi")})
	require.NoError(t, err)

	var acc StreamAccumulator
	for chunk := range stream.Chan(context.Background()) {
		require.NoError(t, chunk.Err)
		acc.Add(chunk)
	}

	assert.Equal(t, "abc", acc.Content())
	assert.True(t, acc.Done())
	assert.Equal(t, "stop", acc.Final().DoneReason)
}

func TestStream_ChanDeliversError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeChunk(t, w, "ok", false)
		fmt.Fprintln(w, "{broken")
		w.(http.Flusher).Flush()
	}))
	defer server.Close()

	client := newTestChat(t, server.URL)
	stream, err := client.Stream(context.Background(), []Message{NewUserMessage("hi")})
	require.NoError(t, err)

	var last StreamChunk
	for chunk := range stream.Chan(context.Background()) {
		last = chunk
	}

	require.Error(t, last.Err)
	assert.True(t, IsDecode(last.Err))
}

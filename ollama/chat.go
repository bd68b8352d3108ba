// Copyright (c) 2025 KactLabs
// SPDX-License-Identifier: MIT

package ollama

import (
	"context"
	"net/url"
	"os"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// CHAT CLIENT
// =============================================================================

// ChatClient issues chat-completion requests against one model. It holds no
// mutable state after construction and is safe for concurrent use.
type ChatClient struct {
	model       string
	temperature float64
	maxTokens   int
	tr          *transport
}

// NewChat starts a builder for a chat client talking to the given model.
func NewChat(model string) *ChatClientBuilder {
	return &ChatClientBuilder{
		model:       model,
		temperature: 0.0,
		timeout:     DefaultTimeout,
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
	}
}

// Invoke sends the conversation and returns the complete response.
//
// Transient failures (Network, Timeout kinds) are retried up to the
// configured budget with linear backoff; Server and Decode failures surface
// immediately. The messages slice must be non-empty.
func (c *ChatClient) Invoke(ctx context.Context, messages []Message) (*ChatResponse, error) {
	const op = "chat.invoke"

	if len(messages) == 0 {
		return nil, &ClientError{Kind: ErrKindEmptyInput, Op: op, Message: "no messages supplied"}
	}

	req := chatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
		Options: chatOptions{
			Temperature: c.temperature,
			NumPredict:  c.maxTokens,
		},
	}

	var wire chatResponse
	if err := c.tr.postJSON(ctx, op, "/api/chat", req, &wire); err != nil {
		return nil, err
	}

	return &ChatResponse{
		Content:          wire.Message.Content,
		Model:            wire.Model,
		DoneReason:       wire.DoneReason,
		PromptTokens:     wire.PromptEvalCount,
		CompletionTokens: wire.EvalCount,
		TotalDuration:    time.Duration(wire.TotalDuration),
		EvalDuration:     time.Duration(wire.EvalDuration),
	}, nil
}

// Stream opens a streaming chat request and returns the chunk sequence. The
// returned Stream owns the connection: the caller must exhaust it or call
// Close. Each call opens a fresh connection; a Stream is not restartable.
func (c *ChatClient) Stream(ctx context.Context, messages []Message) (*Stream, error) {
	const op = "chat.stream"

	if len(messages) == 0 {
		return nil, &ClientError{Kind: ErrKindEmptyInput, Op: op, Message: "no messages supplied"}
	}

	req := chatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
		Options: chatOptions{
			Temperature: c.temperature,
			NumPredict:  c.maxTokens,
		},
	}

	// The stream outlives this call, so it gets its own cancelable context
	// layered over the caller's.
	streamCtx, cancel := context.WithCancel(ctx)
	resp, requestID, err := c.tr.postStream(streamCtx, op, "/api/chat", req)
	if err != nil {
		cancel()
		return nil, err
	}

	return newStream(resp.Body, cancel, op, requestID, c.tr.gap), nil
}

// Ping reports whether the server is reachable.
func (c *ChatClient) Ping(ctx context.Context) error {
	return c.tr.ping(ctx)
}

// Model returns the model this client was built for.
func (c *ChatClient) Model() string {
	return c.model
}

// =============================================================================
// BUILDER
// =============================================================================

// ChatClientBuilder accumulates configuration for a ChatClient. Build
// validates every field before a client exists, so a constructed client is
// always usable and never mutated afterwards.
type ChatClientBuilder struct {
	model       string
	host        string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	maxRetries  int
	retryDelay  time.Duration
	streamGap   time.Duration
	limiter     *rate.Limiter
	verbose     bool
}

// Host overrides the server base URL. Default: OLLAMA_HOST environment
// variable, then http://localhost:11434.
func (b *ChatClientBuilder) Host(host string) *ChatClientBuilder {
	b.host = host
	return b
}

// Temperature sets the sampling temperature in [0, 1]. Default 0.
func (b *ChatClientBuilder) Temperature(t float64) *ChatClientBuilder {
	b.temperature = t
	return b
}

// MaxTokens bounds the completion length. Default 0: unbounded.
func (b *ChatClientBuilder) MaxTokens(n int) *ChatClientBuilder {
	b.maxTokens = n
	return b
}

// Timeout bounds the full roundtrip of each attempt. Default 60s.
func (b *ChatClientBuilder) Timeout(d time.Duration) *ChatClientBuilder {
	b.timeout = d
	return b
}

// MaxRetries sets the retry budget for transient failures. Default 2.
func (b *ChatClientBuilder) MaxRetries(n int) *ChatClientBuilder {
	b.maxRetries = n
	return b
}

// RetryDelay sets the base delay of the linear backoff. Default 500ms.
func (b *ChatClientBuilder) RetryDelay(d time.Duration) *ChatClientBuilder {
	b.retryDelay = d
	return b
}

// StreamGap sets the stall watchdog: the longest the client waits between
// stream chunks before failing the stream with a Timeout error. Default:
// the configured Timeout.
func (b *ChatClientBuilder) StreamGap(d time.Duration) *ChatClientBuilder {
	b.streamGap = d
	return b
}

// RateLimit installs a client-side request rate limiter.
func (b *ChatClientBuilder) RateLimit(rps float64, burst int) *ChatClientBuilder {
	b.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return b
}

// Verbose enables one-line request/response logging via the standard logger.
func (b *ChatClientBuilder) Verbose(v bool) *ChatClientBuilder {
	b.verbose = v
	return b
}

// Build validates the configuration and returns the client.
func (b *ChatClientBuilder) Build() (*ChatClient, error) {
	host := hostOrEnv(b.host, os.Getenv)
	if err := validateClientConfig("chat", b.model, host, b.temperature, b.timeout, b.maxRetries); err != nil {
		return nil, err
	}

	tr := newTransport(host, b.timeout, b.maxRetries, b.retryDelay, b.limiter, b.verbose)
	gap := b.streamGap
	if gap <= 0 {
		gap = b.timeout
	}
	tr.setStreamGap(gap)
	return &ChatClient{
		model:       b.model,
		temperature: b.temperature,
		maxTokens:   b.maxTokens,
		tr:          tr,
	}, nil
}

// validateClientConfig applies the shared builder validation rules.
func validateClientConfig(op, model, host string, temperature float64, timeout time.Duration, maxRetries int) error {
	op += ".build"
	if model == "" {
		return &ClientError{Kind: ErrKindConfig, Op: op, Message: "model is required"}
	}
	if u, err := url.Parse(host); err != nil || u.Scheme == "" || u.Host == "" {
		return &ClientError{Kind: ErrKindConfig, Op: op, Message: "invalid host URL: " + host, Cause: err}
	}
	if temperature < 0 || temperature > 1 {
		return &ClientError{Kind: ErrKindConfig, Op: op, Message: "temperature must be in [0, 1]"}
	}
	if timeout <= 0 {
		return &ClientError{Kind: ErrKindConfig, Op: op, Message: "timeout must be positive"}
	}
	if maxRetries < 0 {
		return &ClientError{Kind: ErrKindConfig, Op: op, Message: "max retries cannot be negative"}
	}
	return nil
}

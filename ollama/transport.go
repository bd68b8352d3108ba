// Copyright (c) 2025 KactLabs
// SPDX-License-Identifier: MIT

package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Configuration defaults shared by both clients.
const (
	// DefaultHost is the Ollama server base URL, overridable through the
	// OLLAMA_HOST environment variable or the builders.
	DefaultHost = "http://localhost:11434"

	// DefaultTimeout bounds the full roundtrip of one attempt.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the retry budget for transient failures.
	DefaultMaxRetries = 2

	// DefaultRetryDelay is the base delay of the linear backoff between
	// attempts: delay × attempt number.
	DefaultRetryDelay = 500 * time.Millisecond

	// maxErrorBody caps how much of an error reply is kept for the caller.
	maxErrorBody = 32 * 1024
)

// transport is the shared request helper composed into both clients. It owns
// the HTTP plumbing: serialization, retry policy, rate limiting, request
// tagging and error classification.
type transport struct {
	host       string
	maxRetries int
	retryDelay time.Duration
	limiter    *rate.Limiter
	verbose    bool

	// gap is the stall watchdog interval handed to streams.
	gap time.Duration

	// httpClient enforces the per-call timeout for non-streaming requests.
	// streamClient has no whole-request timeout: streaming lifetime is
	// controlled by the caller's context and the stall watchdog, with the
	// header phase bounded separately via setStreamGap.
	httpClient   *http.Client
	streamClient *http.Client
}

func newTransport(host string, timeout time.Duration, maxRetries int, retryDelay time.Duration, limiter *rate.Limiter, verbose bool) *transport {
	return &transport{
		host:         strings.TrimSuffix(host, "/"),
		maxRetries:   maxRetries,
		retryDelay:   retryDelay,
		limiter:      limiter,
		verbose:      verbose,
		httpClient:   &http.Client{Timeout: timeout},
		streamClient: &http.Client{},
	}
}

// setStreamGap fixes the stall watchdog interval. The same budget bounds the
// wait for response headers, so a server that accepts the connection but
// never answers cannot block a stream open indefinitely.
func (t *transport) setStreamGap(gap time.Duration) {
	t.gap = gap
	t.streamClient.Transport = &http.Transport{ResponseHeaderTimeout: gap}
}

// postJSON POSTs body to path, decodes a 2xx reply into out, and applies the
// retry policy to transient failures. The last transient error is surfaced
// verbatim once the attempt budget is spent.
func (t *transport) postJSON(ctx context.Context, op, path string, body, out any) error {
	requestID := uuid.New().String()

	payload, err := json.Marshal(body)
	if err != nil {
		return &ClientError{Kind: ErrKindDecode, Op: op, Message: "failed to marshal request", Cause: err, RequestID: requestID}
	}

	var lastErr *ClientError
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			if err := t.backoff(ctx, attempt); err != nil {
				return lastErr
			}
		}

		data, cerr := t.doOnce(ctx, op, path, requestID, payload, t.httpClient)
		if cerr == nil {
			if err := json.Unmarshal(data, out); err != nil {
				return &ClientError{Kind: ErrKindDecode, Op: op, Message: "failed to decode response", Cause: err, RequestID: requestID}
			}
			return nil
		}
		if !cerr.retryable() {
			return cerr
		}
		lastErr = cerr
	}
	return lastErr
}

// postStream opens a streaming POST and hands the open body to the caller.
// Connection establishment goes through the same retry policy as postJSON;
// once the body is open, failures belong to the Stream.
func (t *transport) postStream(ctx context.Context, op, path string, body any) (*http.Response, string, error) {
	requestID := uuid.New().String()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, requestID, &ClientError{Kind: ErrKindDecode, Op: op, Message: "failed to marshal request", Cause: err, RequestID: requestID}
	}

	var lastErr *ClientError
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			if err := t.backoff(ctx, attempt); err != nil {
				return nil, requestID, lastErr
			}
		}

		resp, cerr := t.open(ctx, op, path, requestID, payload, t.streamClient)
		if cerr == nil {
			return resp, requestID, nil
		}
		if !cerr.retryable() {
			return nil, requestID, cerr
		}
		lastErr = cerr
	}
	return nil, requestID, lastErr
}

// doOnce performs a single non-streaming attempt and reads the full reply.
func (t *transport) doOnce(ctx context.Context, op, path, requestID string, payload []byte, client *http.Client) ([]byte, *ClientError) {
	resp, cerr := t.open(ctx, op, path, requestID, payload, client)
	if cerr != nil {
		return nil, cerr
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(op, requestID, err)
	}
	return data, nil
}

// open issues one POST attempt and returns the response with a 2xx status,
// or a classified error. Non-2xx replies are drained and closed here.
func (t *transport) open(ctx context.Context, op, path, requestID string, payload []byte, client *http.Client) (*http.Response, *ClientError) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, classifyTransport(op, requestID, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.host+path, bytes.NewReader(payload))
	if err != nil {
		return nil, &ClientError{Kind: ErrKindNetwork, Op: op, Message: "failed to create request", Cause: err, RequestID: requestID}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		if t.verbose {
			log.Printf("ollama: %s %s request_id=%s error=%v", op, path, requestID, err)
		}
		return nil, classifyTransport(op, requestID, err)
	}
	if t.verbose {
		log.Printf("ollama: %s %s request_id=%s status=%d duration=%v", op, path, requestID, resp.StatusCode, time.Since(start))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, serverErrorFrom(op, requestID, resp.StatusCode, body)
	}
	return resp, nil
}

// serverErrorFrom builds an ErrKindServer error, preferring the message the
// server put in its JSON error body.
func serverErrorFrom(op, requestID string, status int, body []byte) *ClientError {
	msg := "server returned " + http.StatusText(status)
	var se serverError
	if err := json.Unmarshal(body, &se); err == nil && se.Error != "" {
		msg = se.Error
	}
	return &ClientError{
		Kind:      ErrKindServer,
		Op:        op,
		Message:   msg,
		Status:    status,
		Body:      string(body),
		RequestID: requestID,
	}
}

// backoff waits before retry number attempt. Linear: delay × attempt.
func (t *transport) backoff(ctx context.Context, attempt int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(t.retryDelay * time.Duration(attempt)):
		return nil
	}
}

// ping checks that the server is reachable. Ollama answers GET / with 200.
func (t *transport) ping(ctx context.Context) error {
	const op = "ping"
	requestID := uuid.New().String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.host, nil)
	if err != nil {
		return &ClientError{Kind: ErrKindNetwork, Op: op, Message: "failed to create request", Cause: err, RequestID: requestID}
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return classifyTransport(op, requestID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &ClientError{
			Kind:      ErrKindServer,
			Op:        op,
			Message:   "unexpected status: " + resp.Status,
			Status:    resp.StatusCode,
			RequestID: requestID,
		}
	}
	return nil
}

// hostOrEnv resolves the effective host: explicit value, then OLLAMA_HOST,
// then the default.
func hostOrEnv(host string, getenv func(string) string) string {
	if host != "" {
		return host
	}
	if env := getenv("OLLAMA_HOST"); env != "" {
		return env
	}
	return DefaultHost
}
